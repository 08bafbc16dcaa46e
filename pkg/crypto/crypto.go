// Package crypto implements the cryptographic primitives of the Nuki
// pairing and command protocol.
//
// Key agreement is X25519. The long-term symmetric key is derived from the
// Diffie-Hellman output with HSalsa20, the same construction NaCl uses for
// crypto_box_beforenm. Authenticators are HMAC-SHA256 and the command channel
// is sealed with XSalsa20-Poly1305 (NaCl secretbox).
package crypto

import "errors"

// Sizes used throughout the protocol.
const (
	// KeySize is the size of Curve25519 keys and of the derived secret key.
	KeySize = 32

	// NonceSize is the secretbox nonce length.
	NonceSize = 24

	// Overhead is the authentication tag added by Encrypt.
	Overhead = 16

	// AuthenticatorSize is the HMAC-SHA256 output length.
	AuthenticatorSize = 32
)

// Errors.
var (
	ErrInvalidKeySize   = errors.New("crypto: invalid key size, must be 32 bytes")
	ErrWeakPublicKey    = errors.New("crypto: remote public key yields all-zero shared secret")
	ErrEncryptionFailed = errors.New("crypto: encryption failed")
	ErrDecryptionFailed = errors.New("crypto: decryption/authentication failed")
)
