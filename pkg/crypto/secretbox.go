package crypto

import "golang.org/x/crypto/nacl/secretbox"

// Encrypt seals plaintext with XSalsa20-Poly1305.
// The result is Overhead bytes longer than plaintext, tag first, which is the
// layout of libsodium's crypto_secretbox_easy.
func Encrypt(plaintext []byte, nonce *[NonceSize]byte, key *[KeySize]byte) ([]byte, error) {
	if nonce == nil || key == nil {
		return nil, ErrEncryptionFailed
	}
	out := secretbox.Seal(make([]byte, 0, len(plaintext)+Overhead), plaintext, nonce, key)
	if len(out) != len(plaintext)+Overhead {
		return nil, ErrEncryptionFailed
	}
	return out, nil
}

// Decrypt opens ciphertext produced by Encrypt.
// It returns ErrDecryptionFailed and no data if the tag does not verify.
func Decrypt(ciphertext []byte, nonce *[NonceSize]byte, key *[KeySize]byte) ([]byte, error) {
	if nonce == nil || key == nil || len(ciphertext) < Overhead {
		return nil, ErrDecryptionFailed
	}
	out, ok := secretbox.Open(make([]byte, 0, len(ciphertext)-Overhead), ciphertext, nonce, key)
	if !ok {
		return nil, ErrDecryptionFailed
	}
	return out, nil
}
