package github

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

type KeySource string

const (
	KeySourceNone KeySource = ""
	KeySourceEnv  KeySource = "env:GITHUB_PRIVATE_KEY"
	KeySourceFile KeySource = "file"
)

// ResolvePrivateKey resolves the GitHub App private key.
//
// Precedence:
//  1. inline (if non-empty); escaped "\n" sequences become newlines
//  2. the file at path
//
// It never logs the key.
func ResolvePrivateKey(inline, path string) (pem []byte, source KeySource, err error) {
	if key := strings.TrimSpace(inline); key != "" {
		return []byte(strings.ReplaceAll(key, `\n`, "\n")), KeySourceEnv, nil
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return nil, KeySourceNone, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, KeySourceNone, fmt.Errorf("read private key: %w", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil, KeySourceNone, errors.New("read private key: file is empty")
	}
	return b, KeySourceFile, nil
}
