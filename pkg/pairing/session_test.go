package pairing

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/backkem/nukible/pkg/crypto"
	"github.com/backkem/nukible/pkg/dispatch"
	"github.com/backkem/nukible/pkg/message"
)

const (
	clientPrivateHex = "77076d0a7318a57d3c16c17251b26645df4c2f87ebc0992ab177fba51db92c2a"
	lockPrivateHex   = "5dab087e624a8a4b79e17f8b83800ee66f3bb1292618b6fd1c2f8b27ff88e0eb"
)

func mustKeyPair(t *testing.T, h string) *crypto.KeyPair {
	t.Helper()
	b, err := hex.DecodeString(h)
	if err != nil {
		t.Fatalf("bad hex: %v", err)
	}
	kp, err := crypto.NewKeyPair(b)
	if err != nil {
		t.Fatalf("NewKeyPair failed: %v", err)
	}
	return kp
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(Config{
		KeyPair:     mustKeyPair(t, clientPrivateHex),
		IDType:      IDTypeBridge,
		DeviceID:    0x2A,
		Name:        "nukible",
		StepTimeout: time.Second,
		Timeout:     10 * time.Second,
		Random:      bytes.NewReader(bytes.Repeat([]byte{0x5A}, 64)),
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s
}

func decodeFrame(t *testing.T, frame []byte, want message.Command) []byte {
	t.Helper()
	if frame == nil {
		t.Fatalf("expected %s frame, got none", want)
	}
	f, err := message.DecodePlain(frame)
	if err != nil {
		t.Fatalf("DecodePlain failed: %v", err)
	}
	if f.Command != want {
		t.Fatalf("command = %s, want %s", f.Command, want)
	}
	return f.Payload
}

func challenge(b byte) dispatch.ChallengeEvent {
	var ev dispatch.ChallengeEvent
	for i := range ev.Nonce {
		ev.Nonce[i] = b
	}
	return ev
}

func TestPairingHandshakeSuccess(t *testing.T) {
	s := newTestSession(t)
	lock := mustKeyPair(t, lockPrivateHex)
	client := mustKeyPair(t, clientPrivateHex)
	now := time.Unix(1000, 0)

	// Step 1: request the lock's public key
	frame, err := s.Advance(now)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if !bytes.Equal(frame, []byte{0x01, 0x00, 0x03, 0x00, 0x27, 0xA7}) {
		t.Errorf("request frame = %X", frame)
	}
	if s.State() != StateAwaitRemotePublicKey {
		t.Errorf("Expected state AwaitRemotePublicKey, got %v", s.State())
	}

	// Waiting produces nothing
	if frame, err := s.Advance(now); frame != nil || err != nil {
		t.Errorf("Advance while waiting = %X, %v", frame, err)
	}

	// Step 2: lock answers with its public key, client sends its own
	s.HandleEvent(dispatch.PublicKeyEvent{Key: lock.PublicKey})
	frame, err = s.Advance(now)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if p := decodeFrame(t, frame, message.CommandPublicKey); !bytes.Equal(p, client.PublicKey[:]) {
		t.Errorf("public key payload = %X", p)
	}

	// Lock derives the same key
	lockShared, err := crypto.DeriveSharedSecret(lock.PrivateKey[:], client.PublicKey[:])
	if err != nil {
		t.Fatalf("DeriveSharedSecret failed: %v", err)
	}
	lockK := crypto.DeriveSessionKey(lockShared)

	// Step 3: first challenge, client answers with authenticator
	nk1 := challenge(0x11)
	s.HandleEvent(nk1)
	frame, err = s.Advance(now)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if s.State() != StateAwaitChallenge2 {
		t.Errorf("Expected state AwaitChallenge2, got %v", s.State())
	}
	auth := decodeFrame(t, frame, message.CommandAuthorizationAuthenticator)
	want := crypto.Authenticate(lockK[:], bytes.Join([][]byte{client.PublicKey[:], lock.PublicKey[:], nk1.Nonce[:]}, nil))
	if !bytes.Equal(auth, want[:]) {
		t.Errorf("authenticator = %X, want %X", auth, want)
	}

	// The consumed challenge is not accepted again
	s.HandleEvent(nk1)
	if frame, _ := s.Advance(now); frame != nil {
		t.Fatal("replayed challenge was consumed")
	}

	// Step 4: second challenge, client sends authorization data
	nk2 := challenge(0x22)
	s.HandleEvent(nk2)
	frame, err = s.Advance(now)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	p := decodeFrame(t, frame, message.CommandAuthorizationData)
	if len(p) != 101 {
		t.Fatalf("authorization data length = %d, want 101", len(p))
	}
	data := p[32:]
	if data[0] != byte(IDTypeBridge) || binary.LittleEndian.Uint32(data[1:5]) != 0x2A {
		t.Errorf("id type / device id = %X", data[:5])
	}
	if string(bytes.TrimRight(data[5:37], "\x00")) != "nukible" {
		t.Errorf("name = %q", data[5:37])
	}
	if !bytes.Equal(data[37:69], bytes.Repeat([]byte{0x5A}, 32)) {
		t.Errorf("nonce = %X", data[37:69])
	}
	want = crypto.Authenticate(lockK[:], append(append([]byte{}, data...), nk2.Nonce[:]...))
	if !bytes.Equal(p[:32], want[:]) {
		t.Errorf("authorization data authenticator mismatch")
	}

	// Step 5: authorization id, client confirms
	lockID := uuid.MustParse("0a0b0c0d-0102-0304-0506-070809101112")
	authEv := dispatch.AuthorizationIDEvent{AuthorizationID: 7, LockID: lockID}
	for i := range authEv.Nonce {
		authEv.Nonce[i] = 0x33
	}
	s.HandleEvent(authEv)
	frame, err = s.Advance(now)
	if err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	p = decodeFrame(t, frame, message.CommandAuthorizationIDConfirmation)
	if len(p) != 36 {
		t.Fatalf("confirmation length = %d", len(p))
	}
	want = crypto.Authenticate(lockK[:], append([]byte{7, 0, 0, 0}, authEv.Nonce[:]...))
	if !bytes.Equal(p[:32], want[:]) || binary.LittleEndian.Uint32(p[32:]) != 7 {
		t.Errorf("confirmation = %X", p)
	}

	if _, err := s.Credentials(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Credentials before status = %v, want ErrInvalidState", err)
	}

	// Step 6: status complete
	s.HandleEvent(dispatch.StatusEvent{Status: message.StatusComplete})
	if frame, err := s.Advance(now); frame != nil || err != nil {
		t.Fatalf("final Advance = %X, %v", frame, err)
	}
	if s.State() != StateSuccess {
		t.Fatalf("Expected state Success, got %v", s.State())
	}

	creds, err := s.Credentials()
	if err != nil {
		t.Fatalf("Credentials failed: %v", err)
	}
	if creds.SecretKeyK != lockK || creds.SharedKeyS != lockShared {
		t.Error("keys differ from the lock's")
	}
	if creds.AuthorizationID != 7 || creds.LockID != lockID {
		t.Errorf("credentials = %s", creds)
	}
	if !creds.Valid() {
		t.Error("credentials not valid")
	}
}

func TestPairingStepTimeout(t *testing.T) {
	s := newTestSession(t)
	now := time.Unix(1000, 0)

	if _, err := s.Advance(now); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}
	if _, err := s.Advance(now.Add(500 * time.Millisecond)); err != nil {
		t.Fatalf("Advance before timeout failed: %v", err)
	}

	_, err := s.Advance(now.Add(2 * time.Second))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.State != StateAwaitRemotePublicKey {
		t.Errorf("failed state = %v", pe)
	}
	if s.State() != StateFailed {
		t.Errorf("state = %v", s.State())
	}

	// A failed session stays failed.
	s.HandleEvent(dispatch.PublicKeyEvent{Key: mustKeyPair(t, lockPrivateHex).PublicKey})
	if _, err := s.Advance(now.Add(3 * time.Second)); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestPairingOverallTimeout(t *testing.T) {
	s, err := NewSession(Config{
		KeyPair:     mustKeyPair(t, clientPrivateHex),
		StepTimeout: 10 * time.Second,
		Timeout:     3 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	now := time.Unix(0, 0)
	s.Advance(now)
	s.HandleEvent(dispatch.PublicKeyEvent{Key: mustKeyPair(t, lockPrivateHex).PublicKey})
	s.Advance(now.Add(time.Second))
	s.Advance(now.Add(2 * time.Second))
	if s.State() != StateAwaitChallenge1 {
		t.Fatalf("state = %v", s.State())
	}
	if _, err := s.Advance(now.Add(4 * time.Second)); !errors.Is(err, ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestPairingZeroChallengeIgnored(t *testing.T) {
	s := newTestSession(t)
	now := time.Unix(0, 0)
	s.Advance(now)
	s.HandleEvent(dispatch.PublicKeyEvent{Key: mustKeyPair(t, lockPrivateHex).PublicKey})
	s.Advance(now)

	s.HandleEvent(dispatch.ChallengeEvent{})
	if frame, err := s.Advance(now); frame != nil || err != nil {
		t.Fatalf("zero challenge consumed: %X, %v", frame, err)
	}
	if s.State() != StateAwaitChallenge1 {
		t.Errorf("state = %v", s.State())
	}
}

func TestPairingRejectedByErrorReport(t *testing.T) {
	s := newTestSession(t)
	now := time.Unix(0, 0)
	s.Advance(now)

	s.HandleEvent(dispatch.ErrorEvent{Err: &message.LockError{Code: message.PErrorNotPairing}})
	_, err := s.Advance(now)
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	var le *message.LockError
	if !errors.As(err, &le) || le.Code != message.PErrorNotPairing {
		t.Errorf("lock error = %v", le)
	}
}

func TestPairingNonCompleteStatusRejected(t *testing.T) {
	s := newTestSession(t)
	now := time.Unix(0, 0)
	s.Advance(now)
	s.HandleEvent(dispatch.PublicKeyEvent{Key: mustKeyPair(t, lockPrivateHex).PublicKey})
	s.Advance(now)
	s.HandleEvent(challenge(1))
	s.Advance(now)
	s.HandleEvent(challenge(2))
	s.Advance(now)
	s.HandleEvent(dispatch.AuthorizationIDEvent{AuthorizationID: 3})
	s.Advance(now)
	if s.State() != StateAwaitStatus {
		t.Fatalf("state = %v", s.State())
	}

	s.HandleEvent(dispatch.StatusEvent{Status: message.StatusAccepted})
	if _, err := s.Advance(now.Add(500 * time.Millisecond)); err != nil {
		t.Fatalf("Advance failed early: %v", err)
	}
	if _, err := s.Advance(now.Add(2 * time.Second)); !errors.Is(err, ErrRejected) {
		t.Errorf("err = %v, want ErrRejected", err)
	}
}

func TestPairingWeakRemoteKey(t *testing.T) {
	s := newTestSession(t)
	now := time.Unix(0, 0)
	s.Advance(now)
	s.HandleEvent(dispatch.PublicKeyEvent{})
	s.Advance(now)
	_, err := s.Advance(now)
	if !errors.Is(err, crypto.ErrWeakPublicKey) {
		t.Errorf("err = %v, want ErrWeakPublicKey", err)
	}
}

func TestNewSessionInvalidConfig(t *testing.T) {
	if _, err := NewSession(Config{}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
	if _, err := NewSession(Config{KeyPair: mustKeyPair(t, clientPrivateHex), IDType: 9}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestStateString(t *testing.T) {
	if StateAwaitChallenge2.String() != "AwaitChallenge2" || State(99).String() != "Unknown" {
		t.Error("unexpected state names")
	}
	if !StateAwaitStatus.IsWaiting() || StateSendAuthenticator.IsWaiting() {
		t.Error("IsWaiting mismatch")
	}
	if IDTypeBridge.String() != "Bridge" {
		t.Error("IDType name")
	}
}
