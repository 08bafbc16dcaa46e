package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"io"

	"golang.org/x/crypto/curve25519"
)

// KeyPair is the long-lived Curve25519 identity of the client.
// It is created once and persisted alongside the application identity.
type KeyPair struct {
	PublicKey  [KeySize]byte
	PrivateKey [KeySize]byte
}

// GenerateKeyPair creates a new key pair from r. If r is nil, crypto/rand is used.
func GenerateKeyPair(r io.Reader) (*KeyPair, error) {
	if r == nil {
		r = rand.Reader
	}

	var private [KeySize]byte
	if _, err := io.ReadFull(r, private[:]); err != nil {
		return nil, err
	}
	return NewKeyPair(private[:])
}

// NewKeyPair restores a key pair from a stored private key.
func NewKeyPair(private []byte) (*KeyPair, error) {
	if len(private) != KeySize {
		return nil, ErrInvalidKeySize
	}

	// Clamp the scalar so the stored key matches what X25519 actually uses.
	kp := &KeyPair{}
	copy(kp.PrivateKey[:], private)
	kp.PrivateKey[0] &= 248
	kp.PrivateKey[31] &= 127
	kp.PrivateKey[31] |= 64

	pub, err := curve25519.X25519(kp.PrivateKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

// String returns the public key in hex. The private key is never printed.
func (kp *KeyPair) String() string {
	return hex.EncodeToString(kp.PublicKey[:])
}

// DeriveSharedSecret computes the raw X25519 shared key S.
//
// The handshake must abort if this fails: an all-zero result means the remote
// public key is a low-order point.
func DeriveSharedSecret(localPrivate, remotePublic []byte) ([KeySize]byte, error) {
	var s [KeySize]byte
	if len(localPrivate) != KeySize || len(remotePublic) != KeySize {
		return s, ErrInvalidKeySize
	}

	out, err := curve25519.X25519(localPrivate, remotePublic)
	if err != nil {
		return s, ErrWeakPublicKey
	}
	copy(s[:], out)
	return s, nil
}
