package crypto

import (
	"crypto/rand"
	"io"
)

// NewNonce draws a fresh 24-byte message nonce from r (crypto/rand if nil).
// A nonce must never repeat under the same key.
func NewNonce(r io.Reader) ([NonceSize]byte, error) {
	var n [NonceSize]byte
	if r == nil {
		r = rand.Reader
	}
	_, err := io.ReadFull(r, n[:])
	return n, err
}

// RandomBytes returns n bytes read from r (crypto/rand if nil).
func RandomBytes(r io.Reader, n int) ([]byte, error) {
	if r == nil {
		r = rand.Reader
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
