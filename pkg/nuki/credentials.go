package nuki

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/backkem/nukible/pkg/crypto"
	"github.com/backkem/nukible/pkg/pairing"
	"github.com/backkem/nukible/pkg/store"
)

// Store keys.
const (
	KeySecretKeyK      = "secretKeyK"
	KeySharedKeyS      = "sharedKeyS"
	KeyAuthorizationID = "authorizationId"
	KeyLockID          = "lockId"
	KeyPrivateKey      = "privateKey"
)

// SaveCredentials persists c.
func SaveCredentials(s store.Store, c *pairing.Credentials) error {
	if err := s.Put(KeySecretKeyK, c.SecretKeyK[:]); err != nil {
		return err
	}
	if err := s.Put(KeySharedKeyS, c.SharedKeyS[:]); err != nil {
		return err
	}
	if err := s.Put(KeyLockID, c.LockID[:]); err != nil {
		return err
	}
	// Written last: its presence marks a complete record.
	return s.Put(KeyAuthorizationID, binary.LittleEndian.AppendUint32(nil, c.AuthorizationID))
}

// LoadCredentials reads stored credentials. Missing or malformed entries
// yield ErrNoCredentials. The lock id is optional.
func LoadCredentials(s store.Store) (*pairing.Credentials, error) {
	var c pairing.Credentials

	if err := loadFixed(s, KeySecretKeyK, c.SecretKeyK[:]); err != nil {
		return nil, err
	}
	if err := loadFixed(s, KeySharedKeyS, c.SharedKeyS[:]); err != nil {
		return nil, err
	}
	var id [4]byte
	if err := loadFixed(s, KeyAuthorizationID, id[:]); err != nil {
		return nil, err
	}
	c.AuthorizationID = binary.LittleEndian.Uint32(id[:])

	if err := loadFixed(s, KeyLockID, c.LockID[:]); err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if !c.Valid() {
		return nil, fmt.Errorf("%w: empty secret key", ErrNoCredentials)
	}
	return &c, nil
}

func loadFixed(s store.Store, key string, dst []byte) error {
	v, err := s.Get(key)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s missing: %w", ErrNoCredentials, key, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNoCredentials, key, err)
	}
	if len(v) != len(dst) {
		return fmt.Errorf("%w: %s has %d bytes, want %d", ErrNoCredentials, key, len(v), len(dst))
	}
	copy(dst, v)
	return nil
}

// DeleteCredentials removes stored credentials. The key pair is kept.
func DeleteCredentials(s store.Store) error {
	var errs []error
	for _, k := range []string{KeyAuthorizationID, KeySecretKeyK, KeySharedKeyS, KeyLockID} {
		if err := s.Delete(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LoadOrCreateKeyPair returns the stored key pair, generating and storing a
// new one on first use.
func LoadOrCreateKeyPair(s store.Store, r io.Reader) (*crypto.KeyPair, error) {
	v, err := s.Get(KeyPrivateKey)
	if err == nil && len(v) == crypto.KeySize {
		return crypto.NewKeyPair(v)
	}

	kp, err := crypto.GenerateKeyPair(r)
	if err != nil {
		return nil, err
	}
	if err := s.Put(KeyPrivateKey, kp.PrivateKey[:]); err != nil {
		return kp, fmt.Errorf("nuki: store key pair: %w", err)
	}
	return kp, nil
}
