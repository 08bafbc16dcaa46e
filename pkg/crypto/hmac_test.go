package crypto

import (
	"bytes"
	"encoding/hex"
	"testing"
)

// RFC 4231 HMAC-SHA-256 vectors.
var authenticatorVectors = []struct {
	name     string
	key      string
	data     string
	expected string
}{
	{
		name:     "RFC4231_TC1",
		key:      "0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b0b",
		data:     "4869205468657265", // "Hi There"
		expected: "b0344c61d8db38535ca8afceaf0bf12b881dc200c9833da726e9376c2e32cff7",
	},
	{
		name:     "RFC4231_TC2",
		key:      "4a656665",                                                 // "Jefe"
		data:     "7768617420646f2079612077616e7420666f72206e6f7468696e673f", // "what do ya want for nothing?"
		expected: "5bdcc146bf60754e6a042426089575c75a003f089d2739839dec58b964ec3843",
	},
	{
		name:     "RFC4231_TC4",
		key:      "0102030405060708090a0b0c0d0e0f10111213141516171819",
		data:     "cdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcdcd",
		expected: "82558a389a443c0ea4cc819899f2083a85f0faa3e578f8077a2e3ff46729665b",
	},
}

func TestAuthenticate(t *testing.T) {
	for _, tc := range authenticatorVectors {
		t.Run(tc.name, func(t *testing.T) {
			key, _ := hex.DecodeString(tc.key)
			data, _ := hex.DecodeString(tc.data)
			expected, _ := hex.DecodeString(tc.expected)

			result := Authenticate(key, data)
			if !bytes.Equal(result[:], expected) {
				t.Errorf("authenticator mismatch\ngot:  %x\nwant: %x", result[:], expected)
			}
		})
	}
}

func TestAuthenticateConcatenation(t *testing.T) {
	// The first pairing authenticator covers localPub || remotePub || challenge.
	key := bytes.Repeat([]byte{0x42}, KeySize)
	local := bytes.Repeat([]byte{0x01}, 32)
	remote := bytes.Repeat([]byte{0x02}, 32)
	challenge := bytes.Repeat([]byte{0x03}, 32)

	var r []byte
	r = append(r, local...)
	r = append(r, remote...)
	r = append(r, challenge...)

	a := Authenticate(key, r)
	b := Authenticate(key, r)
	if a != b {
		t.Error("Authenticate is not deterministic")
	}

	// Order matters.
	swapped := append(append(append([]byte{}, remote...), local...), challenge...)
	c := Authenticate(key, swapped)
	if a == c {
		t.Error("authenticator did not change when key order changed")
	}
}

func TestAuthenticatorEqual(t *testing.T) {
	mac1 := bytes.Repeat([]byte{7}, AuthenticatorSize)
	mac2 := bytes.Repeat([]byte{7}, AuthenticatorSize)
	mac3 := append(bytes.Repeat([]byte{7}, AuthenticatorSize-1), 8)

	if !AuthenticatorEqual(mac1, mac2) {
		t.Error("AuthenticatorEqual returned false for equal authenticators")
	}
	if AuthenticatorEqual(mac1, mac3) {
		t.Error("AuthenticatorEqual returned true for different authenticators")
	}
	if AuthenticatorEqual(mac1, mac1[:31]) {
		t.Error("AuthenticatorEqual returned true for different lengths")
	}
}
