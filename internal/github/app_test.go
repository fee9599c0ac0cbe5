package github

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func testKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, pemBytes
}

func TestApp_JWTClaims(t *testing.T) {
	key, pemBytes := testKey(t)
	app, err := NewApp(context.Background(), 321, pemBytes)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	app.now = func() time.Time { return fixed }

	signed, err := app.JWT()
	if err != nil {
		t.Fatalf("JWT: %v", err)
	}

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(tok *jwt.Token) (interface{}, error) {
		if tok.Method.Alg() != "RS256" {
			t.Fatalf("alg = %s", tok.Method.Alg())
		}
		return &key.PublicKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return fixed }))
	if err != nil {
		t.Fatalf("ParseWithClaims: %v", err)
	}
	if claims.Issuer != "321" {
		t.Fatalf("iss = %q", claims.Issuer)
	}
	if !claims.IssuedAt.Time.Equal(fixed.Add(-60 * time.Second)) {
		t.Fatalf("iat = %v", claims.IssuedAt.Time)
	}
	if !claims.ExpiresAt.Time.Equal(fixed.Add(10 * time.Minute)) {
		t.Fatalf("exp = %v", claims.ExpiresAt.Time)
	}
}

func TestNewApp_RejectsBadInput(t *testing.T) {
	_, pemBytes := testKey(t)
	if _, err := NewApp(context.Background(), 0, pemBytes); err == nil {
		t.Fatalf("expected error for zero app id")
	}
	if _, err := NewApp(context.Background(), 1, []byte("not a key")); err == nil {
		t.Fatalf("expected error for invalid key")
	}
}

func TestApp_InstallationClient_ExchangesOnceAndAuthenticates(t *testing.T) {
	_, pemBytes := testKey(t)

	var exchanges atomic.Int32
	var mu sync.Mutex
	var apiAuth []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/app/installations/99/access_tokens":
			exchanges.Add(1)
			if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ey") {
				t.Errorf("token exchange should use the app JWT, got %q", r.Header.Get("Authorization"))
			}
			// Slow enough for concurrent callers to pile up.
			time.Sleep(20 * time.Millisecond)
			writeJSON(t, w, http.StatusCreated, map[string]any{
				"token":      "ghs_installation",
				"expires_at": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
			})
		case r.URL.Path == "/rate_limit":
			mu.Lock()
			apiAuth = append(apiAuth, r.Header.Get("Authorization"))
			mu.Unlock()
			_, _ = w.Write([]byte("{}"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)

	app, err := NewApp(context.Background(), 5, pemBytes, WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}

	var wg sync.WaitGroup
	clients := make([]*Client, 5)
	for i := range clients {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := app.InstallationClient(context.Background(), 99)
			if err != nil {
				t.Errorf("InstallationClient: %v", err)
				return
			}
			clients[i] = c
		}(i)
	}
	wg.Wait()

	if got := exchanges.Load(); got != 1 {
		t.Fatalf("token exchanges = %d, want 1", got)
	}
	for i := 1; i < len(clients); i++ {
		if clients[i] != clients[0] {
			t.Fatalf("expected a shared cached client")
		}
	}

	req, err := clients[0].Client.NewRequest(http.MethodGet, "rate_limit", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if _, err := clients[0].Client.Do(context.Background(), req, nil); err != nil {
		t.Fatalf("Do: %v", err)
	}
	if len(apiAuth) != 1 || apiAuth[0] != "Bearer ghs_installation" {
		t.Fatalf("installation auth = %v", apiAuth)
	}
}

func TestApp_InstallationClient_ExchangeFailure(t *testing.T) {
	_, pemBytes := testKey(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, map[string]any{"message": "Bad credentials"})
	}))
	t.Cleanup(server.Close)

	app, err := NewApp(context.Background(), 5, pemBytes, WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	if _, err := app.InstallationClient(context.Background(), 99); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := app.InstallationClient(context.Background(), 0); err == nil {
		t.Fatalf("expected error for zero installation id")
	}
}

func TestResolvePrivateKey(t *testing.T) {
	t.Run("inline key wins and unescapes newlines", func(t *testing.T) {
		pemBytes, src, err := ResolvePrivateKey(`-----BEGIN KEY-----\nabc\n-----END KEY-----`, "/does/not/exist")
		if err != nil {
			t.Fatalf("ResolvePrivateKey: %v", err)
		}
		if src != KeySourceEnv {
			t.Fatalf("source = %q", src)
		}
		if string(pemBytes) != "-----BEGIN KEY-----\nabc\n-----END KEY-----" {
			t.Fatalf("key = %q", pemBytes)
		}
	})

	t.Run("file used when inline empty", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.pem")
		if err := os.WriteFile(path, []byte("pem-data\n"), 0o600); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		pemBytes, src, err := ResolvePrivateKey("  ", path)
		if err != nil {
			t.Fatalf("ResolvePrivateKey: %v", err)
		}
		if src != KeySourceFile || string(pemBytes) != "pem-data\n" {
			t.Fatalf("got %q from %q", pemBytes, src)
		}
	})

	t.Run("nothing configured", func(t *testing.T) {
		pemBytes, src, err := ResolvePrivateKey("", "")
		if err != nil || pemBytes != nil || src != KeySourceNone {
			t.Fatalf("got %q, %q, %v", pemBytes, src, err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, _, err := ResolvePrivateKey("", filepath.Join(t.TempDir(), "missing.pem")); err == nil {
			t.Fatalf("expected error")
		}
	})
}

func TestApp_Describe(t *testing.T) {
	_, pemBytes := testKey(t)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /app", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("missing app jwt")
		}
		writeJSON(t, w, http.StatusOK, map[string]any{"slug": "ci-sage", "name": "CI Sage"})
	})
	mux.HandleFunc("GET /app/installations", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, []map[string]any{{"id": 1}, {"id": 2}})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	app, err := NewApp(context.Background(), 5, pemBytes, WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	info, err := app.Describe(context.Background())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if info != (AppInfo{Slug: "ci-sage", Name: "CI Sage", Installations: 2}) {
		t.Fatalf("info = %+v", info)
	}
}
