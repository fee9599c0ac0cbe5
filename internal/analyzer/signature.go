package analyzer

import (
	"crypto/sha256"
	"encoding/hex"
)

const signatureLogChars = 1000

// Signature fingerprints a failure: the first 1000 characters of the logs
// followed by the failure pattern, hashed with SHA-256.
func Signature(logs, pattern string) string {
	prefix := logs
	if r := []rune(logs); len(r) > signatureLogChars {
		prefix = string(r[:signatureLogChars])
	}
	sum := sha256.Sum256([]byte(prefix + pattern))
	return hex.EncodeToString(sum[:])
}
