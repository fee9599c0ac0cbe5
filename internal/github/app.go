package github

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v81/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	jwtBackdate       = 60 * time.Second
	jwtLifetime       = 10 * time.Minute
	tokenRefreshEarly = time.Minute
	tokenFetchTimeout = 30 * time.Second
)

// App authenticates as a GitHub App and hands out per-installation clients.
type App struct {
	id   int64
	key  *rsa.PrivateKey
	now  func() time.Time
	opts []Option

	// apps is authenticated with the App JWT; it only mints installation tokens.
	apps *Client

	mu      sync.Mutex
	clients map[int64]*Client
	group   singleflight.Group
}

// NewApp parses a PKCS#1 or PKCS#8 RSA key. opts apply to every client the
// App creates.
func NewApp(ctx context.Context, appID int64, privateKeyPEM []byte, opts ...Option) (*App, error) {
	if appID <= 0 {
		return nil, fmt.Errorf("github app: invalid app id %d", appID)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(privateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("github app: parse private key: %w", err)
	}

	a := &App{
		id:      appID,
		key:     key,
		now:     time.Now,
		opts:    opts,
		clients: make(map[int64]*Client),
	}
	jwtSource := oauth2.ReuseTokenSource(nil, appTokenSource{app: a})
	apps, err := NewClient(ctx, "", append(append([]Option{}, opts...), WithTokenSource(jwtSource))...)
	if err != nil {
		return nil, err
	}
	a.apps = apps
	return a, nil
}

func (a *App) ID() int64 { return a.id }

// JWT returns a freshly signed App token.
func (a *App) JWT() (string, error) {
	now := a.now()
	claims := jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now.Add(-jwtBackdate)),
		ExpiresAt: jwt.NewNumericDate(now.Add(jwtLifetime)),
		Issuer:    strconv.FormatInt(a.id, 10),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(a.key)
	if err != nil {
		return "", fmt.Errorf("github app: sign jwt: %w", err)
	}
	return signed, nil
}

// AppClient returns the JWT-authenticated client (GET /app and token exchange).
func (a *App) AppClient() *Client { return a.apps }

// InstallationClient returns a cached client acting as the given installation.
// The first call per installation mints a token; concurrent callers share it.
func (a *App) InstallationClient(ctx context.Context, installationID int64) (*Client, error) {
	if installationID <= 0 {
		return nil, fmt.Errorf("github app: invalid installation id %d", installationID)
	}

	a.mu.Lock()
	if c, ok := a.clients[installationID]; ok {
		a.mu.Unlock()
		return c, nil
	}
	a.mu.Unlock()

	v, err, _ := a.group.Do(strconv.FormatInt(installationID, 10), func() (interface{}, error) {
		a.mu.Lock()
		if c, ok := a.clients[installationID]; ok {
			a.mu.Unlock()
			return c, nil
		}
		a.mu.Unlock()

		src := &installationTokenSource{app: a, installationID: installationID}
		first, err := src.fetch(ctx)
		if err != nil {
			return nil, err
		}
		opts := append(append([]Option{}, a.opts...),
			WithBudget(NewRequestBudget()),
			WithTokenSource(oauth2.ReuseTokenSource(first, src)),
		)
		c, err := NewClient(ctx, "", opts...)
		if err != nil {
			return nil, err
		}

		a.mu.Lock()
		a.clients[installationID] = c
		a.mu.Unlock()
		return c, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

type AppInfo struct {
	Slug          string
	Name          string
	Installations int
}

// Describe fetches the App's identity and counts its installations. It is a
// cheap end-to-end check of the App id and private key.
func (a *App) Describe(ctx context.Context) (AppInfo, error) {
	app, _, err := a.apps.Client.Apps.Get(ctx, "")
	if err != nil {
		return AppInfo{}, fmt.Errorf("github app: get app: %w", err)
	}
	info := AppInfo{Slug: app.GetSlug(), Name: app.GetName()}

	opts := &github.ListOptions{PerPage: 100}
	for {
		list, resp, err := a.apps.Client.Apps.ListInstallations(ctx, opts)
		if err != nil {
			return AppInfo{}, fmt.Errorf("github app: list installations: %w", err)
		}
		info.Installations += len(list)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return info, nil
}

type appTokenSource struct {
	app *App
}

func (s appTokenSource) Token() (*oauth2.Token, error) {
	signed, err := s.app.JWT()
	if err != nil {
		return nil, err
	}
	// Reissue a minute before GitHub would reject it.
	return &oauth2.Token{
		AccessToken: signed,
		TokenType:   "Bearer",
		Expiry:      s.app.now().Add(jwtLifetime - tokenRefreshEarly),
	}, nil
}

type installationTokenSource struct {
	app            *App
	installationID int64
}

func (s *installationTokenSource) Token() (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tokenFetchTimeout)
	defer cancel()
	return s.fetch(ctx)
}

func (s *installationTokenSource) fetch(ctx context.Context) (*oauth2.Token, error) {
	tok, _, err := s.app.apps.Client.Apps.CreateInstallationToken(ctx, s.installationID, nil)
	if err != nil {
		return nil, fmt.Errorf("github app: installation %d token: %w", s.installationID, err)
	}
	if tok.GetToken() == "" {
		return nil, errors.New("github app: token exchange returned empty token")
	}
	expiry := tok.GetExpiresAt().Time
	if !expiry.IsZero() {
		expiry = expiry.Add(-tokenRefreshEarly)
	}
	return &oauth2.Token{AccessToken: tok.GetToken(), TokenType: "Bearer", Expiry: expiry}, nil
}
