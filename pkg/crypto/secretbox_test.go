package crypto

import (
	"bytes"
	"testing"
)

func testKeyNonce(t *testing.T) (*[KeySize]byte, *[NonceSize]byte) {
	t.Helper()
	var key [KeySize]byte
	copy(key[:], bytes.Repeat([]byte{0x11}, KeySize))
	nonce, err := NewNonce(nil)
	if err != nil {
		t.Fatalf("NewNonce failed: %v", err)
	}
	return &key, &nonce
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, nonce := testKeyNonce(t)

	for _, size := range []int{0, 1, 8, 100, 204} {
		msg := bytes.Repeat([]byte{byte(size)}, size)

		ct, err := Encrypt(msg, nonce, key)
		if err != nil {
			t.Fatalf("Encrypt(%d) failed: %v", size, err)
		}
		if len(ct) != size+Overhead {
			t.Errorf("ciphertext length = %d, want %d", len(ct), size+Overhead)
		}

		pt, err := Decrypt(ct, nonce, key)
		if err != nil {
			t.Fatalf("Decrypt(%d) failed: %v", size, err)
		}
		if !bytes.Equal(pt, msg) {
			t.Errorf("round trip mismatch for size %d", size)
		}
	}
}

func TestDecryptWrongKey(t *testing.T) {
	key, nonce := testKeyNonce(t)
	ct, _ := Encrypt([]byte("unlock"), nonce, key)

	var other [KeySize]byte
	copy(other[:], bytes.Repeat([]byte{0x22}, KeySize))

	pt, err := Decrypt(ct, nonce, &other)
	if err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
	if pt != nil {
		t.Error("Decrypt returned data on failure")
	}
}

func TestDecryptTampered(t *testing.T) {
	key, nonce := testKeyNonce(t)
	ct, _ := Encrypt([]byte("keyturner states"), nonce, key)

	for i := range ct {
		tampered := append([]byte{}, ct...)
		tampered[i] ^= 0x01
		if pt, err := Decrypt(tampered, nonce, key); err != ErrDecryptionFailed || pt != nil {
			t.Fatalf("tampered byte %d: got (%x, %v)", i, pt, err)
		}
	}
}

func TestDecryptShort(t *testing.T) {
	key, nonce := testKeyNonce(t)
	if _, err := Decrypt(make([]byte, Overhead-1), nonce, key); err != ErrDecryptionFailed {
		t.Errorf("expected ErrDecryptionFailed, got %v", err)
	}
}

func TestNewNonceFresh(t *testing.T) {
	seen := make(map[[NonceSize]byte]bool)
	for i := 0; i < 64; i++ {
		n, err := NewNonce(nil)
		if err != nil {
			t.Fatalf("NewNonce failed: %v", err)
		}
		if seen[n] {
			t.Fatal("nonce repeated")
		}
		seen[n] = true
	}
}

func TestRandomBytes(t *testing.T) {
	b, err := RandomBytes(bytes.NewReader([]byte{1, 2, 3, 4}), 4)
	if err != nil {
		t.Fatalf("RandomBytes failed: %v", err)
	}
	if !bytes.Equal(b, []byte{1, 2, 3, 4}) {
		t.Errorf("RandomBytes = %v", b)
	}
	if _, err := RandomBytes(bytes.NewReader([]byte{1}), 4); err == nil {
		t.Error("expected error on short source")
	}
}
