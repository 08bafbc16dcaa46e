// Package dispatch turns inbound lock notifications into typed events.
//
// Notifications arrive on the transport's receive goroutine. The Dispatcher
// validates and decodes them there, then posts the result on a bounded
// channel consumed by the client's driver loop. Invalid frames are dropped.
package dispatch

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"

	"github.com/backkem/nukible/pkg/crypto"
	"github.com/backkem/nukible/pkg/message"
)

// Payload sizes of the pairing responses.
const (
	PublicKeySize = crypto.KeySize
	ChallengeSize = 32

	// AuthorizationIDPayloadSize is authenticator(32) | authId(4) | lockId(16) | nonce(32).
	AuthorizationIDPayloadSize = crypto.AuthenticatorSize + 4 + 16 + 32
)

// Event is a decoded inbound message. The set of events is closed.
type Event interface {
	// Command returns the command the event was decoded from.
	Command() message.Command
	isEvent()
}

// PublicKeyEvent carries the lock's public key.
type PublicKeyEvent struct {
	Key [PublicKeySize]byte
}

// ChallengeEvent carries a challenge nonce.
type ChallengeEvent struct {
	Nonce [ChallengeSize]byte
}

// AuthorizationIDEvent carries the authorization issued at the end of pairing.
type AuthorizationIDEvent struct {
	Authenticator   [crypto.AuthenticatorSize]byte
	AuthorizationID uint32
	LockID          uuid.UUID
	Nonce           [32]byte
}

// StatusEvent carries a command completion status.
type StatusEvent struct {
	Status message.Status
}

// ErrorEvent carries an error report from the lock.
type ErrorEvent struct {
	Err *message.LockError
}

// ResponseEvent carries any other command, undecoded.
type ResponseEvent struct {
	Cmd     message.Command
	Payload []byte
}

func (PublicKeyEvent) Command() message.Command       { return message.CommandPublicKey }
func (ChallengeEvent) Command() message.Command       { return message.CommandChallenge }
func (AuthorizationIDEvent) Command() message.Command { return message.CommandAuthorizationID }
func (StatusEvent) Command() message.Command          { return message.CommandStatus }
func (ErrorEvent) Command() message.Command           { return message.CommandErrorReport }
func (e ResponseEvent) Command() message.Command      { return e.Cmd }

func (PublicKeyEvent) isEvent()       {}
func (ChallengeEvent) isEvent()       {}
func (AuthorizationIDEvent) isEvent() {}
func (StatusEvent) isEvent()          {}
func (ErrorEvent) isEvent()           {}
func (ResponseEvent) isEvent()        {}

// IsZero reports whether the challenge is all zero bytes, which the lock
// never sends as a real challenge.
func (e ChallengeEvent) IsZero() bool {
	return e.Nonce == [ChallengeSize]byte{}
}

// Decode builds the event for cmd and payload.
func Decode(cmd message.Command, payload []byte) (Event, error) {
	switch cmd {
	case message.CommandPublicKey:
		if len(payload) < PublicKeySize {
			return nil, fmt.Errorf("%w: public key %d bytes", message.ErrBadLength, len(payload))
		}
		var ev PublicKeyEvent
		copy(ev.Key[:], payload)
		return ev, nil

	case message.CommandChallenge:
		if len(payload) < ChallengeSize {
			return nil, fmt.Errorf("%w: challenge %d bytes", message.ErrBadLength, len(payload))
		}
		var ev ChallengeEvent
		copy(ev.Nonce[:], payload)
		return ev, nil

	case message.CommandAuthorizationID:
		if len(payload) < AuthorizationIDPayloadSize {
			return nil, fmt.Errorf("%w: authorization id %d bytes", message.ErrBadLength, len(payload))
		}
		var ev AuthorizationIDEvent
		copy(ev.Authenticator[:], payload[:32])
		ev.AuthorizationID = binary.LittleEndian.Uint32(payload[32:36])
		copy(ev.LockID[:], payload[36:52])
		copy(ev.Nonce[:], payload[52:84])
		return ev, nil

	case message.CommandStatus:
		s, err := message.DecodeStatus(payload)
		if err != nil {
			return nil, err
		}
		return StatusEvent{Status: s}, nil

	case message.CommandErrorReport:
		le, err := message.DecodeErrorReport(payload)
		if err != nil {
			return nil, err
		}
		return ErrorEvent{Err: le}, nil

	default:
		p := make([]byte, len(payload))
		copy(p, payload)
		return ResponseEvent{Cmd: cmd, Payload: p}, nil
	}
}

// EncodeAuthorizationID builds an authorization id payload.
func EncodeAuthorizationID(ev AuthorizationIDEvent) []byte {
	out := make([]byte, 0, AuthorizationIDPayloadSize)
	out = append(out, ev.Authenticator[:]...)
	out = binary.LittleEndian.AppendUint32(out, ev.AuthorizationID)
	out = append(out, ev.LockID[:]...)
	return append(out, ev.Nonce[:]...)
}
