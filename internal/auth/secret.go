package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// HashKey returns the SHA-256 hex digest of an API key.
func HashKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// Fingerprint is a log-safe identifier for a key: the first 12 hex digits of
// its hash.
func Fingerprint(key string) string {
	if key == "" {
		return ""
	}
	return HashKey(key)[:12]
}

// secretMatches compares digests so the comparison time does not depend on
// where, or whether, the lengths differ.
func secretMatches(want, got string) bool {
	w := sha256.Sum256([]byte(want))
	g := sha256.Sum256([]byte(got))
	return subtle.ConstantTimeCompare(w[:], g[:]) == 1
}
