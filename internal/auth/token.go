package auth

import (
	"crypto/rand"
	"encoding/base64"
)

// NewOpaqueToken returns a random bearer token. Tokens carry no claims;
// the stored copy on the user record is the single source of validity.
func NewOpaqueToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
