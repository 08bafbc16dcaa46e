package crypto

import "golang.org/x/crypto/salsa20/salsa"

// zeroBlock is the 16-byte HSalsa20 input used for key derivation.
var zeroBlock [16]byte

// DeriveSessionKey derives the long-term secret key K from the shared key S.
//
//	K = HSalsa20(key = S, in = 0^16, const = "expand 32-byte k")
//
// This is the NaCl box precomputation, so K equals box.Precompute for the
// same key pair.
func DeriveSessionKey(sharedKeyS [KeySize]byte) [KeySize]byte {
	var k [KeySize]byte
	salsa.HSalsa20(&k, &zeroBlock, &sharedKeyS, &salsa.Sigma)
	return k
}
