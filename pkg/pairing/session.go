package pairing

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/nukible/pkg/crypto"
	"github.com/backkem/nukible/pkg/dispatch"
	"github.com/backkem/nukible/pkg/message"
)

// State represents the pairing state machine.
type State int

const (
	StateInit State = iota
	StateRequestRemotePublicKey
	StateAwaitRemotePublicKey
	StateSendLocalPublicKey
	StateDeriveSessionKey
	StateAwaitChallenge1
	StateSendAuthenticator
	StateAwaitChallenge2
	StateAwaitAuthorizationID
	StateAwaitStatus
	StateSuccess
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateRequestRemotePublicKey:
		return "RequestRemotePublicKey"
	case StateAwaitRemotePublicKey:
		return "AwaitRemotePublicKey"
	case StateSendLocalPublicKey:
		return "SendLocalPublicKey"
	case StateDeriveSessionKey:
		return "DeriveSessionKey"
	case StateAwaitChallenge1:
		return "AwaitChallenge1"
	case StateSendAuthenticator:
		return "SendAuthenticator"
	case StateAwaitChallenge2:
		return "AwaitChallenge2"
	case StateAwaitAuthorizationID:
		return "AwaitAuthorizationID"
	case StateAwaitStatus:
		return "AwaitStatus"
	case StateSuccess:
		return "Success"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// IsWaiting reports whether the state waits for the lock.
func (s State) IsWaiting() bool {
	switch s {
	case StateAwaitRemotePublicKey, StateAwaitChallenge1, StateAwaitChallenge2,
		StateAwaitAuthorizationID, StateAwaitStatus:
		return true
	}
	return false
}

// Config configures a pairing Session.
type Config struct {
	// KeyPair is the client's long-term key pair. Required.
	KeyPair *crypto.KeyPair

	// IDType is the client class announced to the lock. Default: IDTypeBridge
	IDType IDType

	// DeviceID identifies this client to the lock.
	DeviceID uint32

	// Name is shown in the lock's user list. Truncated to 32 bytes.
	Name string

	// StepTimeout bounds each wait for the lock. Default: 10s
	StepTimeout time.Duration

	// Timeout bounds the whole handshake. Default: 60s
	Timeout time.Duration

	// Random is the nonce source. Default: crypto/rand
	Random io.Reader

	LoggerFactory logging.LoggerFactory
}

// Defaults.
const (
	DefaultStepTimeout = 10 * time.Second
	DefaultTimeout     = 60 * time.Second
)

// Session is one pairing attempt. A failed session cannot be resumed.
type Session struct {
	config Config
	state  State

	started   time.Time
	stepStart time.Time

	remotePublicKey *[crypto.KeySize]byte
	sharedKeyS      [crypto.KeySize]byte
	secretKeyK      [crypto.KeySize]byte

	// pending inbound data
	challenge      *[NonceSize]byte
	usedChallenges [][NonceSize]byte
	authorization  *dispatch.AuthorizationIDEvent
	lastStatus     *message.Status
	statusComplete bool

	authenticator [crypto.AuthenticatorSize]byte
	credentials   *Credentials
	err           error

	mu  sync.Mutex
	log logging.LeveledLogger
}

// NewSession creates a session in StateInit.
func NewSession(config Config) (*Session, error) {
	if config.KeyPair == nil {
		return nil, fmt.Errorf("%w: key pair required", ErrInvalidConfig)
	}
	if config.IDType > IDTypeKeypad {
		return nil, fmt.Errorf("%w: id type %d", ErrInvalidConfig, config.IDType)
	}
	if config.StepTimeout == 0 {
		config.StepTimeout = DefaultStepTimeout
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	s := &Session{
		config: config,
		state:  StateInit,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("pairing")
	}
	return s, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Credentials returns the pairing result once the session succeeded.
func (s *Session) Credentials() (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateSuccess {
		return nil, ErrInvalidState
	}
	c := *s.credentials
	return &c, nil
}

// HandleEvent stores data received from the lock. Events that do not fit
// the current step are kept until the step that consumes them, or ignored.
func (s *Session) HandleEvent(ev dispatch.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateSuccess || s.state == StateFailed {
		return
	}

	switch e := ev.(type) {
	case dispatch.PublicKeyEvent:
		if s.remotePublicKey == nil {
			key := e.Key
			s.remotePublicKey = &key
		}
	case dispatch.ChallengeEvent:
		if e.IsZero() {
			return
		}
		for _, used := range s.usedChallenges {
			if used == e.Nonce {
				if s.log != nil {
					s.log.Debugf("ignoring replayed challenge in %s", s.state)
				}
				return
			}
		}
		nonce := e.Nonce
		s.challenge = &nonce
	case dispatch.AuthorizationIDEvent:
		a := e
		s.authorization = &a
	case dispatch.StatusEvent:
		st := e.Status
		s.lastStatus = &st
		if st == message.StatusComplete {
			s.statusComplete = true
		}
	case dispatch.ErrorEvent:
		s.fail(fmt.Errorf("%w: %w", ErrRejected, e.Err))
	default:
		if s.log != nil {
			s.log.Debugf("ignoring %s during pairing", ev.Command())
		}
	}
}

// Advance runs the state machine at time now. It returns the next frame to
// write on the pairing channel, nil when waiting, or the failure once the
// session has failed.
func (s *Session) Advance(now time.Time) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.state == StateFailed {
			return nil, s.err
		}
		if s.state == StateSuccess {
			return nil, nil
		}
		if s.state != StateInit && now.Sub(s.started) > s.config.Timeout {
			s.fail(ErrTimeout)
			continue
		}

		frame, waiting, err := s.step(now)
		if err != nil {
			s.fail(err)
			continue
		}
		if frame != nil || waiting {
			return frame, nil
		}
	}
}

// step performs one transition. It returns a frame to send, or waiting=true
// when nothing can happen until more input arrives.
func (s *Session) step(now time.Time) (frame []byte, waiting bool, err error) {
	switch s.state {
	case StateInit:
		s.started = now
		s.remotePublicKey = nil
		s.challenge = nil
		s.usedChallenges = nil
		s.authorization = nil
		s.lastStatus = nil
		s.statusComplete = false
		s.setState(StateRequestRemotePublicKey, now)

	case StateRequestRemotePublicKey:
		frame, err = message.EncodePlain(message.CommandRequestData,
			binary.LittleEndian.AppendUint16(nil, uint16(message.CommandPublicKey)))
		if err != nil {
			return nil, false, err
		}
		s.setState(StateAwaitRemotePublicKey, now)
		return frame, false, nil

	case StateAwaitRemotePublicKey:
		if s.remotePublicKey == nil {
			return nil, true, s.checkStepTimeout(now)
		}
		s.setState(StateSendLocalPublicKey, now)

	case StateSendLocalPublicKey:
		frame, err = message.EncodePlain(message.CommandPublicKey, s.config.KeyPair.PublicKey[:])
		if err != nil {
			return nil, false, err
		}
		s.setState(StateDeriveSessionKey, now)
		return frame, false, nil

	case StateDeriveSessionKey:
		shared, err := crypto.DeriveSharedSecret(s.config.KeyPair.PrivateKey[:], s.remotePublicKey[:])
		if err != nil {
			return nil, false, err
		}
		s.sharedKeyS = shared
		s.secretKeyK = crypto.DeriveSessionKey(shared)
		if s.log != nil {
			s.log.Tracef("derived secret key %x...", s.secretKeyK[:4])
		}
		s.setState(StateAwaitChallenge1, now)

	case StateAwaitChallenge1:
		nonce, ok := s.takeChallenge()
		if !ok {
			return nil, true, s.checkStepTimeout(now)
		}
		msg := make([]byte, 0, 2*crypto.KeySize+NonceSize)
		msg = append(msg, s.config.KeyPair.PublicKey[:]...)
		msg = append(msg, s.remotePublicKey[:]...)
		msg = append(msg, nonce[:]...)
		s.authenticator = crypto.Authenticate(s.secretKeyK[:], msg)
		s.setState(StateSendAuthenticator, now)

	case StateSendAuthenticator:
		frame, err = message.EncodePlain(message.CommandAuthorizationAuthenticator, s.authenticator[:])
		if err != nil {
			return nil, false, err
		}
		s.setState(StateAwaitChallenge2, now)
		return frame, false, nil

	case StateAwaitChallenge2:
		nonce, ok := s.takeChallenge()
		if !ok {
			return nil, true, s.checkStepTimeout(now)
		}
		frame, err = s.authorizationDataFrame(nonce)
		if err != nil {
			return nil, false, err
		}
		s.setState(StateAwaitAuthorizationID, now)
		return frame, false, nil

	case StateAwaitAuthorizationID:
		if s.authorization == nil {
			return nil, true, s.checkStepTimeout(now)
		}
		a := s.authorization
		msg := binary.LittleEndian.AppendUint32(make([]byte, 0, 4+NonceSize), a.AuthorizationID)
		msg = append(msg, a.Nonce[:]...)
		confirm := crypto.Authenticate(s.secretKeyK[:], msg)

		payload := binary.LittleEndian.AppendUint32(confirm[:], a.AuthorizationID)
		frame, err = message.EncodePlain(message.CommandAuthorizationIDConfirmation, payload)
		if err != nil {
			return nil, false, err
		}
		s.credentials = &Credentials{
			SecretKeyK:      s.secretKeyK,
			SharedKeyS:      s.sharedKeyS,
			AuthorizationID: a.AuthorizationID,
			LockID:          a.LockID,
		}
		s.lastStatus = nil
		s.statusComplete = false
		s.setState(StateAwaitStatus, now)
		return frame, false, nil

	case StateAwaitStatus:
		if s.statusComplete {
			s.setState(StateSuccess, now)
			if s.log != nil {
				s.log.Infof("paired: %s", s.credentials)
			}
			return nil, true, nil
		}
		if now.Sub(s.stepStart) > s.config.StepTimeout {
			if s.lastStatus != nil {
				return nil, false, fmt.Errorf("%w: status %s", ErrRejected, *s.lastStatus)
			}
			return nil, false, ErrTimeout
		}
		return nil, true, nil

	default:
		return nil, false, ErrInvalidState
	}
	return nil, false, nil
}

func (s *Session) authorizationDataFrame(challenge [NonceSize]byte) ([]byte, error) {
	nonce, err := crypto.RandomBytes(s.config.Random, NonceSize)
	if err != nil {
		return nil, fmt.Errorf("pairing: nonce: %w", err)
	}

	var name [NameSize]byte
	copy(name[:], s.config.Name)

	data := make([]byte, 0, AuthorizationDataSize)
	data = append(data, byte(s.config.IDType))
	data = binary.LittleEndian.AppendUint32(data, s.config.DeviceID)
	data = append(data, name[:]...)
	data = append(data, nonce...)

	auth := crypto.Authenticate(s.secretKeyK[:], append(append([]byte{}, data...), challenge[:]...))

	payload := make([]byte, 0, crypto.AuthenticatorSize+AuthorizationDataSize)
	payload = append(payload, auth[:]...)
	payload = append(payload, data...)
	return message.EncodePlain(message.CommandAuthorizationData, payload)
}

// takeChallenge consumes the pending challenge.
func (s *Session) takeChallenge() ([NonceSize]byte, bool) {
	if s.challenge == nil {
		return [NonceSize]byte{}, false
	}
	nonce := *s.challenge
	s.challenge = nil
	s.usedChallenges = append(s.usedChallenges, nonce)
	return nonce, true
}

func (s *Session) checkStepTimeout(now time.Time) error {
	if now.Sub(s.stepStart) > s.config.StepTimeout {
		return ErrTimeout
	}
	return nil
}

func (s *Session) setState(next State, now time.Time) {
	if s.log != nil {
		s.log.Debugf("%s -> %s", s.state, next)
	}
	s.state = next
	s.stepStart = now
}

func (s *Session) fail(err error) {
	if s.state == StateFailed {
		return
	}
	s.err = &Error{State: s.state, Err: err}
	if s.log != nil {
		s.log.Warnf("%v", s.err)
	}
	s.state = StateFailed
}
