// Package keys handles bearer API keys and the cipher protecting
// user-supplied model credentials at rest.
package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// NewAPIKey returns a fresh random bearer token.
func NewAPIKey() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

// HashAPIKey derives the stored lookup hash for a bearer token. The
// pepper keeps raw database dumps unusable on their own.
func HashAPIKey(pepper, apiKey string) string {
	sum := sha256.Sum256([]byte(pepper + ":" + apiKey))
	return hex.EncodeToString(sum[:])
}
