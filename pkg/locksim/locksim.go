// Package locksim simulates a Nuki Smart Lock on the peripheral side of a
// transport.Pipe. It implements the lock's half of pairing and answers
// encrypted requests with canned payloads.
package locksim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/backkem/nukible/pkg/crypto"
	"github.com/backkem/nukible/pkg/message"
	"github.com/backkem/nukible/pkg/transport"
)

// DefaultKeyturnerStates is answered to requestData(keyturnerStates) when no
// response is configured.
var DefaultKeyturnerStates = []byte{
	0x02,             // nuki state: door mode
	0x01,             // lock state: locked
	0x01,             // trigger: manual
	0xEA, 0x07,       // year 2026
	0x0A, 0x11,       // month, day
	0x0C, 0x00, 0x00, // hour, minute, second
	0x00, 0x00,       // timezone offset
	0x00,             // critical battery state
}

// Config configures a simulated lock.
type Config struct {
	// KeyPair is the lock's key pair. Generated when nil.
	KeyPair *crypto.KeyPair

	// AuthorizationID is the first id handed out. Default: 1
	AuthorizationID uint32

	// LockID is the lock's identifier. Random when zero.
	LockID uuid.UUID

	// Silent makes the lock ignore everything it receives.
	Silent bool

	// RejectPairing makes the lock answer pairing with P_ERROR_NOT_PAIRING.
	RejectPairing bool

	// Responses maps a requested command to its response payload.
	Responses map[message.Command][]byte

	// Unanswered lists requested commands the lock never replies to.
	Unanswered []message.Command

	// ResponseOnly omits the status that follows a requestData response.
	ResponseOnly bool

	// Random is the nonce source. Default: crypto/rand
	Random io.Reader

	LoggerFactory logging.LoggerFactory
}

// Lock is a simulated Smart Lock.
type Lock struct {
	endpoint *transport.Endpoint
	config   Config

	mu             sync.Mutex
	pairing        pairingState
	nextAuthID     uint32
	authorizations map[uint32]*Authorization
	requests       []message.Command

	log logging.LeveledLogger
}

// Authorization is a client the lock has paired with.
type Authorization struct {
	ID        uint32
	Name      string
	IDType    uint8
	DeviceID  uint32
	SecretKey [crypto.KeySize]byte
	codec     *message.EncryptedCodec
}

type pairingState struct {
	clientPublicKey *[crypto.KeySize]byte
	sharedKey       [crypto.KeySize]byte
	secretKey       [crypto.KeySize]byte
	challenge       [32]byte
	pending         *Authorization
	nonce           [32]byte
}

// New attaches a simulated lock to endpoint.
func New(endpoint *transport.Endpoint, config Config) (*Lock, error) {
	if endpoint == nil {
		return nil, errors.New("locksim: endpoint required")
	}
	if config.KeyPair == nil {
		kp, err := crypto.GenerateKeyPair(config.Random)
		if err != nil {
			return nil, fmt.Errorf("locksim: key pair: %w", err)
		}
		config.KeyPair = kp
	}
	if config.AuthorizationID == 0 {
		config.AuthorizationID = 1
	}
	if config.LockID == uuid.Nil {
		config.LockID = uuid.New()
	}

	l := &Lock{
		endpoint:       endpoint,
		config:         config,
		nextAuthID:     config.AuthorizationID,
		authorizations: make(map[uint32]*Authorization),
	}
	if config.LoggerFactory != nil {
		l.log = config.LoggerFactory.NewLogger("locksim")
	}

	endpoint.OnConnect(func(string) {
		l.mu.Lock()
		l.pairing = pairingState{}
		l.mu.Unlock()
	})
	if err := endpoint.Subscribe(transport.ChannelPairing, l.handlePairing); err != nil {
		return nil, err
	}
	if err := endpoint.Subscribe(transport.ChannelCommand, l.handleCommand); err != nil {
		return nil, err
	}
	return l, nil
}

// PublicKey returns the lock's public key.
func (l *Lock) PublicKey() [crypto.KeySize]byte {
	return l.config.KeyPair.PublicKey
}

// LockID returns the lock's identifier.
func (l *Lock) LockID() uuid.UUID {
	return l.config.LockID
}

// Authorization returns the paired client with id.
func (l *Lock) Authorization(id uint32) (*Authorization, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a, ok := l.authorizations[id]
	if !ok {
		return nil, false
	}
	c := *a
	return &c, true
}

// Authorize installs a paired client without running the handshake.
func (l *Lock) Authorize(id uint32, secretKey [crypto.KeySize]byte) error {
	codec, err := message.NewEncryptedCodec(secretKey[:], id)
	if err != nil {
		return err
	}
	codec.SetRandom(l.config.Random)
	l.mu.Lock()
	l.authorizations[id] = &Authorization{ID: id, SecretKey: secretKey, codec: codec}
	l.mu.Unlock()
	return nil
}

// Revoke removes a paired client.
func (l *Lock) Revoke(id uint32) {
	l.mu.Lock()
	delete(l.authorizations, id)
	l.mu.Unlock()
}

// Requests returns the commands received on the encrypted channel.
func (l *Lock) Requests() []message.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]message.Command(nil), l.requests...)
}

func (l *Lock) handlePairing(data []byte) {
	if l.config.Silent {
		return
	}
	frame, err := message.DecodePlain(data)
	if err != nil {
		if l.log != nil {
			l.log.Warnf("bad pairing frame: %v", err)
		}
		l.sendPlain(message.CommandErrorReport, message.EncodeErrorReport(frameErrorCode(err), 0))
		return
	}

	l.mu.Lock()
	cmd, payload, err := l.pairingStep(frame)
	l.mu.Unlock()
	if err != nil {
		if l.log != nil {
			l.log.Warnf("pairing %s: %v", frame.Command, err)
		}
		return
	}
	if cmd != 0 {
		l.sendPlain(cmd, payload)
	}
}

// pairingStep handles one pairing frame and returns the reply.
func (l *Lock) pairingStep(frame *message.Frame) (message.Command, []byte, error) {
	p := &l.pairing
	reject := func(code message.ErrorCode) (message.Command, []byte, error) {
		return message.CommandErrorReport, message.EncodeErrorReport(code, frame.Command), nil
	}

	switch frame.Command {
	case message.CommandRequestData:
		if len(frame.Payload) < 2 {
			return reject(message.ErrorBadLength)
		}
		if message.Command(binary.LittleEndian.Uint16(frame.Payload)) != message.CommandPublicKey {
			return reject(message.PErrorBadParameter)
		}
		if l.config.RejectPairing {
			return reject(message.PErrorNotPairing)
		}
		return message.CommandPublicKey, l.config.KeyPair.PublicKey[:], nil

	case message.CommandPublicKey:
		if len(frame.Payload) != crypto.KeySize {
			return reject(message.ErrorBadLength)
		}
		shared, err := crypto.DeriveSharedSecret(l.config.KeyPair.PrivateKey[:], frame.Payload)
		if err != nil {
			return reject(message.PErrorBadParameter)
		}
		var pub [crypto.KeySize]byte
		copy(pub[:], frame.Payload)
		p.clientPublicKey = &pub
		p.sharedKey = shared
		p.secretKey = crypto.DeriveSessionKey(shared)
		return l.newChallenge()

	case message.CommandAuthorizationAuthenticator:
		if p.clientPublicKey == nil {
			return reject(message.PErrorNotPairing)
		}
		msg := append(append(append([]byte{}, p.clientPublicKey[:]...), l.config.KeyPair.PublicKey[:]...), p.challenge[:]...)
		want := crypto.Authenticate(p.secretKey[:], msg)
		if !crypto.AuthenticatorEqual(frame.Payload, want[:]) {
			return reject(message.PErrorBadAuthenticator)
		}
		return l.newChallenge()

	case message.CommandAuthorizationData:
		if p.clientPublicKey == nil {
			return reject(message.PErrorNotPairing)
		}
		if len(frame.Payload) != crypto.AuthenticatorSize+69 {
			return reject(message.ErrorBadLength)
		}
		data := frame.Payload[crypto.AuthenticatorSize:]
		want := crypto.Authenticate(p.secretKey[:], append(append([]byte{}, data...), p.challenge[:]...))
		if !crypto.AuthenticatorEqual(frame.Payload[:crypto.AuthenticatorSize], want[:]) {
			return reject(message.PErrorBadAuthenticator)
		}
		if len(l.authorizations) >= 100 {
			return reject(message.PErrorMaxUser)
		}
		name := string(trimZero(data[5:37]))
		auth := &Authorization{
			ID:        l.nextAuthID,
			Name:      name,
			IDType:    data[0],
			DeviceID:  binary.LittleEndian.Uint32(data[1:5]),
			SecretKey: p.secretKey,
		}
		copy(p.nonce[:], data[37:69])
		p.pending = auth

		nonce, err := crypto.RandomBytes(l.config.Random, 32)
		if err != nil {
			return 0, nil, err
		}
		copy(p.challenge[:], nonce)

		out := make([]byte, 0, 84)
		body := binary.LittleEndian.AppendUint32(nil, auth.ID)
		body = append(body, l.config.LockID[:]...)
		body = append(body, p.challenge[:]...)
		mac := crypto.Authenticate(p.secretKey[:], append(append([]byte{}, body...), p.nonce[:]...))
		out = append(out, mac[:]...)
		out = append(out, body...)
		return message.CommandAuthorizationID, out, nil

	case message.CommandAuthorizationIDConfirmation:
		if p.pending == nil {
			return reject(message.PErrorNotPairing)
		}
		if len(frame.Payload) != crypto.AuthenticatorSize+4 {
			return reject(message.ErrorBadLength)
		}
		id := binary.LittleEndian.Uint32(frame.Payload[crypto.AuthenticatorSize:])
		if id != p.pending.ID {
			return reject(message.PErrorBadParameter)
		}
		msg := append(binary.LittleEndian.AppendUint32(nil, id), p.challenge[:]...)
		want := crypto.Authenticate(p.secretKey[:], msg)
		if !crypto.AuthenticatorEqual(frame.Payload[:crypto.AuthenticatorSize], want[:]) {
			return reject(message.PErrorBadAuthenticator)
		}
		codec, err := message.NewEncryptedCodec(p.secretKey[:], id)
		if err != nil {
			return 0, nil, err
		}
		codec.SetRandom(l.config.Random)
		p.pending.codec = codec
		l.authorizations[id] = p.pending
		l.nextAuthID++
		if l.log != nil {
			l.log.Infof("paired %q as authorization %d", p.pending.Name, id)
		}
		l.pairing = pairingState{}
		return message.CommandStatus, []byte{byte(message.StatusComplete)}, nil

	default:
		return reject(message.PErrorBadParameter)
	}
}

func (l *Lock) newChallenge() (message.Command, []byte, error) {
	nonce, err := crypto.RandomBytes(l.config.Random, 32)
	if err != nil {
		return 0, nil, err
	}
	copy(l.pairing.challenge[:], nonce)
	return message.CommandChallenge, nonce, nil
}

func (l *Lock) handleCommand(data []byte) {
	if l.config.Silent {
		return
	}
	if len(data) < message.EncryptedHeaderSize {
		return
	}
	id := binary.LittleEndian.Uint32(data[crypto.NonceSize:])

	l.mu.Lock()
	auth, ok := l.authorizations[id]
	l.mu.Unlock()
	if !ok {
		if l.log != nil {
			l.log.Warnf("command from unknown authorization %d", id)
		}
		return
	}

	frame, err := auth.codec.Decode(data)
	if err != nil {
		if l.log != nil {
			l.log.Warnf("bad command frame: %v", err)
		}
		if errors.Is(err, message.ErrBadCRC) || errors.Is(err, message.ErrBadLength) {
			l.sendEncrypted(auth, message.CommandErrorReport, message.EncodeErrorReport(frameErrorCode(err), 0))
		}
		return
	}

	l.mu.Lock()
	l.requests = append(l.requests, frame.Command)
	l.mu.Unlock()

	switch frame.Command {
	case message.CommandRequestData:
		if len(frame.Payload) < 2 {
			l.sendEncrypted(auth, message.CommandErrorReport, message.EncodeErrorReport(message.ErrorBadLength, frame.Command))
			return
		}
		want := message.Command(binary.LittleEndian.Uint16(frame.Payload))
		if slices.Contains(l.config.Unanswered, want) {
			return
		}
		payload, ok := l.config.Responses[want]
		if !ok && want == message.CommandKeyturnerStates {
			payload, ok = DefaultKeyturnerStates, true
		}
		if !ok {
			l.sendEncrypted(auth, message.CommandErrorReport, message.EncodeErrorReport(message.KErrorBadParameter, frame.Command))
			return
		}
		l.sendEncrypted(auth, want, payload)
		if !l.config.ResponseOnly {
			l.sendEncrypted(auth, message.CommandStatus, []byte{byte(message.StatusComplete)})
		}
	case message.CommandRemoveUserAuthorization:
		l.sendEncrypted(auth, message.CommandStatus, []byte{byte(message.StatusComplete)})
		l.Revoke(auth.ID)
	default:
		l.sendEncrypted(auth, message.CommandStatus, []byte{byte(message.StatusAccepted)})
		l.sendEncrypted(auth, message.CommandStatus, []byte{byte(message.StatusComplete)})
	}
}

func (l *Lock) sendPlain(cmd message.Command, payload []byte) {
	frame, err := message.EncodePlain(cmd, payload)
	if err == nil {
		err = l.endpoint.Write(transport.ChannelPairing, frame)
	}
	if err != nil && l.log != nil {
		l.log.Warnf("send %s: %v", cmd, err)
	}
}

func (l *Lock) sendEncrypted(auth *Authorization, cmd message.Command, payload []byte) {
	frame, err := auth.codec.Encode(cmd, payload)
	if err == nil {
		err = l.endpoint.Write(transport.ChannelCommand, frame)
	}
	if err != nil && l.log != nil {
		l.log.Warnf("send %s: %v", cmd, err)
	}
}

func frameErrorCode(err error) message.ErrorCode {
	switch {
	case errors.Is(err, message.ErrBadCRC):
		return message.ErrorBadCRC
	case errors.Is(err, message.ErrBadLength):
		return message.ErrorBadLength
	default:
		return message.ErrorUnknown
	}
}

func trimZero(b []byte) []byte {
	for i, c := range b {
		if c == 0 {
			return b[:i]
		}
	}
	return b
}
