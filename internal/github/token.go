package github

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

type TokenSource string

const (
	TokenSourceFlag TokenSource = "flag"
	TokenSourceEnv  TokenSource = "env:GITHUB_TOKEN"
	TokenSourceGH   TokenSource = "gh"
)

// ResolveUserToken finds a personal token for commands run outside the App
// (analyze without --installation-id).
//
// Precedence:
//  1. provided (if non-empty)
//  2. GITHUB_TOKEN env var
//  3. GitHub CLI: `gh auth token`
//
// An empty token with a nil error means nothing was found.
func ResolveUserToken(ctx context.Context, provided string) (string, TokenSource, error) {
	if tok := strings.TrimSpace(provided); tok != "" {
		return tok, TokenSourceFlag, nil
	}
	if tok := strings.TrimSpace(os.Getenv("GITHUB_TOKEN")); tok != "" {
		return tok, TokenSourceEnv, nil
	}
	tok, err := ghAuthToken(ctx)
	if err != nil || tok == "" {
		return "", "", err
	}
	return tok, TokenSourceGH, nil
}

func ghAuthToken(ctx context.Context) (string, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "gh", "auth", "token")
	cmd.Env = append(os.Environ(), "GH_PAGER=cat")
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// Not logged in: no token, not an error. gh output is not surfaced.
		return "", nil
	}

	tok := strings.TrimSpace(string(out))
	if strings.ContainsAny(tok, " \t\n\r") {
		return "", errors.New("invalid token returned by gh: contains whitespace")
	}
	return tok, nil
}
