package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// Authenticate computes the HMAC-SHA256 authenticator of message under key.
func Authenticate(key, message []byte) [AuthenticatorSize]byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	var result [AuthenticatorSize]byte
	copy(result[:], h.Sum(nil))
	return result
}

// AuthenticatorEqual compares two authenticators in constant time.
func AuthenticatorEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
