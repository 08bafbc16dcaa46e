package locksim

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backkem/nukible/pkg/crypto"
	"github.com/backkem/nukible/pkg/dispatch"
	"github.com/backkem/nukible/pkg/message"
	"github.com/backkem/nukible/pkg/pairing"
	"github.com/backkem/nukible/pkg/transport"
)

type harness struct {
	pipe *transport.Pipe
	lock *Lock
	disp *dispatch.Dispatcher
}

func newHarness(t *testing.T, config Config) *harness {
	t.Helper()
	p := transport.NewPipe()
	t.Cleanup(func() { p.Close() })

	lock, err := New(p.Peripheral(), config)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	central := p.Central()
	if err := central.Connect(context.Background(), "sim"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	d := dispatch.New(dispatch.Config{})
	central.Subscribe(transport.ChannelPairing, d.Handler(transport.ChannelPairing))
	central.Subscribe(transport.ChannelCommand, d.Handler(transport.ChannelCommand))
	return &harness{pipe: p, lock: lock, disp: d}
}

// runPairing drives a pairing session against the simulated lock in real time.
func (h *harness) runPairing(t *testing.T, s *pairing.Session) error {
	t.Helper()
	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		frame, err := s.Advance(time.Now())
		if err != nil {
			return err
		}
		if s.State() == pairing.StateSuccess {
			return nil
		}
		if frame != nil {
			if err := h.pipe.Central().Write(transport.ChannelPairing, frame); err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			continue
		}
		select {
		case in := <-h.disp.Events():
			s.HandleEvent(in.Event)
		case <-ticker.C:
		case <-deadline:
			t.Fatalf("pairing stuck in %s", s.State())
		}
	}
}

func newSession(t *testing.T, stepTimeout time.Duration) (*pairing.Session, *crypto.KeyPair) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair(nil)
	if err != nil {
		t.Fatalf("GenerateKeyPair failed: %v", err)
	}
	s, err := pairing.NewSession(pairing.Config{
		KeyPair:     kp,
		IDType:      pairing.IDTypeBridge,
		DeviceID:    99,
		Name:        "test bridge",
		StepTimeout: stepTimeout,
		Timeout:     5 * stepTimeout,
	})
	if err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	return s, kp
}

func TestPairingAgainstSimulatedLock(t *testing.T) {
	h := newHarness(t, Config{AuthorizationID: 12})
	s, kp := newSession(t, time.Second)

	if err := h.runPairing(t, s); err != nil {
		t.Fatalf("pairing failed: %v", err)
	}
	creds, err := s.Credentials()
	if err != nil {
		t.Fatalf("Credentials failed: %v", err)
	}
	if creds.AuthorizationID != 12 {
		t.Errorf("AuthorizationID = %d, want 12", creds.AuthorizationID)
	}
	if creds.LockID != h.lock.LockID() {
		t.Errorf("LockID = %s, want %s", creds.LockID, h.lock.LockID())
	}

	auth, ok := h.lock.Authorization(12)
	if !ok {
		t.Fatal("lock has no authorization 12")
	}
	if auth.SecretKey != creds.SecretKeyK {
		t.Error("lock and client derived different keys")
	}
	if auth.Name != "test bridge" || auth.DeviceID != 99 || auth.IDType != byte(pairing.IDTypeBridge) {
		t.Errorf("authorization = %+v", auth)
	}

	lockPub := h.lock.PublicKey()
	shared, _ := crypto.DeriveSharedSecret(kp.PrivateKey[:], lockPub[:])
	if creds.SharedKeyS != shared {
		t.Error("shared key mismatch")
	}
}

// TestPairingWithDuplicatedNotifications delivers every lock notification
// twice. The copy of the first challenge must not be taken for the second.
func TestPairingWithDuplicatedNotifications(t *testing.T) {
	h := newHarness(t, Config{AuthorizationID: 3})
	h.pipe.Peripheral().SetCondition(transport.NetworkCondition{
		DuplicateRate: 1.0,
		DelayMin:      time.Millisecond,
		DelayMax:      3 * time.Millisecond,
	})
	s, _ := newSession(t, time.Second)

	if err := h.runPairing(t, s); err != nil {
		t.Fatalf("pairing failed: %v", err)
	}
	creds, err := s.Credentials()
	if err != nil {
		t.Fatalf("Credentials failed: %v", err)
	}
	auth, ok := h.lock.Authorization(3)
	if !ok {
		t.Fatal("lock has no authorization 3")
	}
	if auth.SecretKey != creds.SecretKeyK {
		t.Error("lock and client derived different keys")
	}
}

func TestSilentLockTimesOut(t *testing.T) {
	h := newHarness(t, Config{Silent: true})
	s, _ := newSession(t, 50*time.Millisecond)

	err := h.runPairing(t, s)
	if !errors.Is(err, pairing.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestRejectPairing(t *testing.T) {
	h := newHarness(t, Config{RejectPairing: true})
	s, _ := newSession(t, time.Second)

	err := h.runPairing(t, s)
	if !errors.Is(err, pairing.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	var le *message.LockError
	if !errors.As(err, &le) || le.Code != message.PErrorNotPairing {
		t.Errorf("lock error = %v", le)
	}
}

func TestBadAuthenticatorRejected(t *testing.T) {
	h := newHarness(t, Config{})
	kp, _ := crypto.GenerateKeyPair(nil)

	send := func(cmd message.Command, payload []byte) {
		frame, _ := message.EncodePlain(cmd, payload)
		h.pipe.Central().Write(transport.ChannelPairing, frame)
	}
	next := func() dispatch.Event {
		select {
		case in := <-h.disp.Events():
			return in.Event
		case <-time.After(time.Second):
			t.Fatal("no reply from lock")
			return nil
		}
	}

	send(message.CommandRequestData, []byte{0x03, 0x00})
	if _, ok := next().(dispatch.PublicKeyEvent); !ok {
		t.Fatal("expected public key")
	}
	send(message.CommandPublicKey, kp.PublicKey[:])
	if _, ok := next().(dispatch.ChallengeEvent); !ok {
		t.Fatal("expected challenge")
	}
	send(message.CommandAuthorizationAuthenticator, make([]byte, 32))
	ev, ok := next().(dispatch.ErrorEvent)
	if !ok || ev.Err.Code != message.PErrorBadAuthenticator {
		t.Fatalf("expected P_ERROR_BAD_AUTHENTICATOR, got %#v", ev)
	}
	if ev.Err.Command != message.CommandAuthorizationAuthenticator {
		t.Errorf("error command = %s", ev.Err.Command)
	}
}

func TestEncryptedRequest(t *testing.T) {
	h := newHarness(t, Config{
		Responses: map[message.Command][]byte{
			message.CommandBatteryReport: {0x01, 0x02},
		},
	})
	var key [32]byte
	copy(key[:], bytes.Repeat([]byte{0x3C}, 32))
	if err := h.lock.Authorize(5, key); err != nil {
		t.Fatalf("Authorize failed: %v", err)
	}
	codec, _ := message.NewEncryptedCodec(key[:], 5)
	h.disp.SetCodec(codec)

	request := func(cmd message.Command) {
		r := message.RequestData(cmd)
		frame, err := codec.Encode(r.Command, r.Payload)
		if err != nil {
			t.Fatalf("Encode failed: %v", err)
		}
		if err := h.pipe.Central().Write(transport.ChannelCommand, frame); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	next := func() dispatch.Event {
		select {
		case in := <-h.disp.Events():
			if in.Channel != transport.ChannelCommand {
				t.Errorf("channel = %s", in.Channel)
			}
			return in.Event
		case <-time.After(time.Second):
			t.Fatal("no reply from lock")
			return nil
		}
	}

	request(message.CommandKeyturnerStates)
	re, ok := next().(dispatch.ResponseEvent)
	if !ok || re.Command() != message.CommandKeyturnerStates || !bytes.Equal(re.Payload, DefaultKeyturnerStates) {
		t.Fatalf("response = %#v", re)
	}
	if se, ok := next().(dispatch.StatusEvent); !ok || se.Status != message.StatusComplete {
		t.Fatalf("status = %#v", se)
	}

	request(message.CommandBatteryReport)
	re, ok = next().(dispatch.ResponseEvent)
	if !ok || !bytes.Equal(re.Payload, []byte{0x01, 0x02}) {
		t.Fatalf("response = %#v", re)
	}
	next()

	request(message.CommandConfig)
	ee, ok := next().(dispatch.ErrorEvent)
	if !ok || ee.Err.Code != message.KErrorBadParameter {
		t.Fatalf("error = %#v", ee)
	}

	want := []message.Command{message.CommandRequestData, message.CommandRequestData, message.CommandRequestData}
	if got := h.lock.Requests(); len(got) != len(want) {
		t.Errorf("requests = %v", got)
	}
}
