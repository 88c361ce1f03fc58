// Package signature authenticates inbound webhook bodies against the channel secret.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// Sign returns the base64 HMAC-SHA256 of body keyed by secret, as sent in x-line-signature.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided is the signature of body under secret.
// The encoded forms are compared in constant time, so non-canonical or
// malformed base64 simply fails verification.
func Verify(secret, body []byte, provided string) bool {
	if provided == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(provided))
}
