package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v81/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

type Client struct {
	Client *github.Client
	HTTP   *http.Client
	// Download fetches redirect targets (log archives) without GitHub
	// credentials; the signed URLs reject an Authorization header.
	Download *http.Client

	logger *zap.Logger
}

type options struct {
	logger    *zap.Logger
	verbose   bool
	baseURL   string
	budget    *RequestBudget
	transport http.RoundTripper
	source    oauth2.TokenSource
}

type Option func(*options)

// WithVerbose logs one debug line per API request and response.
func WithVerbose(logger *zap.Logger) Option {
	return func(o *options) {
		o.verbose = true
		o.logger = logger
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithBaseURL points the client at a GitHub Enterprise or test server.
func WithBaseURL(raw string) Option {
	return func(o *options) {
		o.baseURL = raw
	}
}

func WithBudget(b *RequestBudget) Option {
	return func(o *options) {
		o.budget = b
	}
}

// WithTransport replaces http.DefaultTransport as the innermost transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithTokenSource authenticates with tokens from ts instead of a static token.
func WithTokenSource(ts oauth2.TokenSource) Option {
	return func(o *options) {
		o.source = ts
	}
}

// loggingRoundTripper emits one debug entry per request and one per response.
type loggingRoundTripper struct {
	base   http.RoundTripper
	logger *zap.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	t.logger.Debug("github api request", zap.String("method", req.Method), zap.String("url", redactURL(req.URL)))
	resp, err := t.base.RoundTrip(req)
	dur := time.Since(start).Truncate(time.Millisecond)
	if err != nil {
		t.logger.Debug("github api error", zap.Duration("duration", dur), zap.Error(err))
	} else {
		t.logger.Debug("github api response", zap.Int("status", resp.StatusCode), zap.Duration("duration", dur))
	}
	return resp, err
}

// redactURL drops query strings; signed download URLs carry credentials there.
func redactURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	c := *u
	c.RawQuery = ""
	return c.String()
}

func NewClient(ctx context.Context, token string, opts ...Option) (*Client, error) {
	if ctx == nil {
		return nil, fmt.Errorf("github client: ctx is nil")
	}

	o := &options{}
	for _, apply := range opts {
		if apply != nil {
			apply(o)
		}
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.source == nil && token != "" {
		o.source = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	}

	base := o.transport
	if base == nil {
		base = http.DefaultTransport
	}
	if o.verbose {
		base = &loggingRoundTripper{base: base, logger: o.logger.Named("http")}
	}
	download := &http.Client{Transport: base}

	transport := base
	if o.budget != nil {
		transport = &budgetRoundTripper{base: transport, budget: o.budget}
	}
	if o.source != nil {
		transport = &oauth2.Transport{Source: o.source, Base: transport}
	}
	tc := &http.Client{Transport: transport}

	gh := github.NewClient(tc)
	if o.baseURL != "" {
		u, err := parseBaseURL(o.baseURL)
		if err != nil {
			return nil, fmt.Errorf("github client: %w", err)
		}
		gh.BaseURL = u
	}

	return &Client{
		Client:   gh,
		HTTP:     tc,
		Download: download,
		logger:   o.logger,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", raw, err)
	}
	return u, nil
}

// SplitRepository splits "owner/repo" into its parts.
func SplitRepository(fullName string) (owner, repo string, err error) {
	parts := strings.Split(strings.TrimSpace(fullName), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository %q: expected owner/repo", fullName)
	}
	return parts[0], parts[1], nil
}
