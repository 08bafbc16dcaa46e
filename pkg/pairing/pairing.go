// Package pairing implements the client side of the Nuki pairing handshake.
//
// Pairing runs in the clear on the pairing characteristic and ends with an
// authorization id and a long-term secret key shared with the lock.
//
// # Protocol Flow
//
//	Client                                   Lock
//	------                                   ----
//	requestData(publicKey)      ------>
//	                            <------      publicKey(PK)
//	publicKey(CL)               ------>
//	S = X25519(cl, PK), K = HSalsa20(S)
//	                            <------      challenge(NK1)
//	authorizationAuthenticator(
//	  HMAC(K, CL|PK|NK1))       ------>
//	                            <------      challenge(NK2)
//	authorizationData(
//	  HMAC(K, data|NK2) | data) ------>
//	                            <------      authorizationId(auth|id|lockId|NK3)
//	authorizationIdConfirmation(
//	  HMAC(K, id|NK3) | id)     ------>
//	                            <------      status(COMPLETE)
//
// # Usage
//
// The Session is driven by a single goroutine. Inbound events are fed with
// HandleEvent and Advance is called periodically; it returns at most one
// frame to write on the pairing channel per call.
//
//	session, err := pairing.NewSession(config)
//	session.HandleEvent(ev)            // for every inbound event
//	frame, err := session.Advance(now) // on every tick
//	// write frame if non-nil, stop on error or StateSuccess
//	creds, err := session.Credentials()
package pairing

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/backkem/nukible/pkg/crypto"
)

// Pairing errors.
var (
	// ErrTimeout is returned when the lock does not answer a step in time.
	ErrTimeout = errors.New("pairing: timeout")

	// ErrRejected is returned when the lock refuses the pairing.
	ErrRejected = errors.New("pairing: rejected by lock")

	// ErrInvalidState is returned for operations not valid in the current state.
	ErrInvalidState = errors.New("pairing: invalid state")

	// ErrInvalidConfig is returned by NewSession for unusable configuration.
	ErrInvalidConfig = errors.New("pairing: invalid configuration")
)

// Error reports the step a session failed in.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("pairing failed in %s: %v", e.State, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IDType is the class of client being authorized.
type IDType uint8

const (
	IDTypeApp    IDType = 0
	IDTypeBridge IDType = 1
	IDTypeFob    IDType = 2
	IDTypeKeypad IDType = 3
)

func (t IDType) String() string {
	switch t {
	case IDTypeApp:
		return "App"
	case IDTypeBridge:
		return "Bridge"
	case IDTypeFob:
		return "Fob"
	case IDTypeKeypad:
		return "Keypad"
	default:
		return fmt.Sprintf("IDType(%d)", uint8(t))
	}
}

// Payload layout constants.
const (
	// NameSize is the fixed, zero-padded size of the client name.
	NameSize = 32

	// NonceSize is the size of challenge and client nonces.
	NonceSize = 32

	// AuthorizationDataSize is idType(1) | id(4) | name(32) | nonce(32).
	AuthorizationDataSize = 1 + 4 + NameSize + NonceSize
)

// Credentials is the outcome of a successful pairing.
type Credentials struct {
	SecretKeyK      [crypto.KeySize]byte
	SharedKeyS      [crypto.KeySize]byte
	AuthorizationID uint32
	LockID          uuid.UUID
}

// Valid reports whether the credentials hold a usable key.
func (c *Credentials) Valid() bool {
	return c != nil && c.SecretKeyK != [crypto.KeySize]byte{}
}

func (c *Credentials) String() string {
	return fmt.Sprintf("authorization %d, lock %s", c.AuthorizationID, c.LockID)
}
