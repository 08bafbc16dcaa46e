package nuki

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pion/logging"

	"github.com/backkem/nukible/pkg/crypto"
	"github.com/backkem/nukible/pkg/dispatch"
	"github.com/backkem/nukible/pkg/message"
	"github.com/backkem/nukible/pkg/pairing"
	"github.com/backkem/nukible/pkg/transport"
)

// Client manages the connection to one lock.
type Client struct {
	config  ClientConfig
	keyPair *crypto.KeyPair

	disp        *dispatch.Dispatcher
	queue       chan *message.Request
	events      chan Event
	disconnects chan error
	resets      chan struct{}

	mu          sync.RWMutex
	state       State
	credentials *pairing.Credentials
	lastStatus  *message.Status
	running     bool

	// Owned by the Run goroutine.
	session   *pairing.Session
	codec     *message.EncryptedCodec
	notBefore time.Time
	backoff   *backoff.ExponentialBackOff
	inflight  *inflight

	log logging.LeveledLogger
}

// inflight is the request awaiting its answer.
type inflight struct {
	request  *message.Request
	expect   message.Command // response to a requestData, else 0
	answered bool            // expect arrived; waiting for the trailing status
	deadline time.Time
}

// NewClient creates a Client. The key pair is loaded from the store, or
// generated and stored on first use.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	c := &Client{
		config:      config,
		queue:       make(chan *message.Request, config.QueueCapacity),
		events:      make(chan Event, config.EventBuffer),
		disconnects: make(chan error, 1),
		resets:      make(chan struct{}, 1),
		state:       StateStartUp,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("nuki")
	}
	c.disp = dispatch.New(dispatch.Config{
		BufferSize:    config.EventBuffer,
		LoggerFactory: config.LoggerFactory,
	})

	c.keyPair = config.KeyPair
	if c.keyPair == nil {
		kp, err := LoadOrCreateKeyPair(config.Store, config.Random)
		if kp == nil {
			return nil, err
		}
		if err != nil && c.log != nil {
			c.log.Warnf("key pair not persisted: %v", err)
		}
		c.keyPair = kp
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = config.ConnectBackoffInitial
	b.MaxInterval = config.ConnectBackoffMax
	b.MaxElapsedTime = 0
	b.Reset()
	c.backoff = b

	config.Transport.OnDisconnect(c.onDisconnect)
	return c, nil
}

// Events returns the application event channel.
func (c *Client) Events() <-chan Event {
	return c.events
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// PublicKey returns the client's public key.
func (c *Client) PublicKey() [crypto.KeySize]byte {
	return c.keyPair.PublicKey
}

// Credentials returns the active credentials, loading them from the store
// if the client has not connected yet.
func (c *Client) Credentials() (*pairing.Credentials, error) {
	c.mu.RLock()
	creds := c.credentials
	c.mu.RUnlock()
	if creds != nil {
		cp := *creds
		return &cp, nil
	}
	return LoadCredentials(c.config.Store)
}

// DeleteCredentials removes stored credentials. A running client drops the
// link and pairs again.
func (c *Client) DeleteCredentials() error {
	c.mu.Lock()
	c.credentials = nil
	c.mu.Unlock()

	err := DeleteCredentials(c.config.Store)
	select {
	case c.resets <- struct{}{}:
	default:
	}
	return err
}

// LastStatus returns the most recent status received from the lock.
func (c *Client) LastStatus() (message.Status, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastStatus == nil {
		return 0, false
	}
	return *c.lastStatus, true
}

// Enqueue queues a command for the lock. It waits at most the enqueue
// timeout for space and returns ErrQueueFull otherwise.
func (c *Client) Enqueue(cmd message.Command, payload []byte) error {
	r, err := message.NewRequest(cmd, payload)
	if err != nil {
		return err
	}
	return c.enqueue(r)
}

// RequestData asks the lock to send cmd, e.g. its keyturner states.
func (c *Client) RequestData(cmd message.Command) error {
	return c.enqueue(message.RequestData(cmd))
}

func (c *Client) enqueue(r *message.Request) error {
	select {
	case c.queue <- r:
		return nil
	default:
	}
	timer := time.NewTimer(c.config.EnqueueTimeout)
	defer timer.Stop()
	select {
	case c.queue <- r:
		return nil
	case <-timer.C:
		if c.log != nil {
			c.log.Warnf("request queue full, rejecting %s", r.Command)
		}
		return ErrQueueFull
	}
}

// Run drives the client until ctx is cancelled. It returns ctx.Err().
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	defer func() {
		_ = c.config.Transport.Close()
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	ticker := time.NewTicker(c.config.TickInterval)
	defer ticker.Stop()

	c.step(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.step(ctx, time.Now())
		case in := <-c.disp.Events():
			c.handleInbound(in, time.Now())
			c.step(ctx, time.Now())
		case reason := <-c.disconnects:
			c.handleDisconnect(reason, time.Now())
		case <-c.resets:
			c.reset(time.Now())
			c.step(ctx, time.Now())
		}
	}
}

// step runs state transitions until the client has to wait.
func (c *Client) step(ctx context.Context, now time.Time) {
	for {
		if now.Before(c.notBefore) {
			return
		}
		switch c.State() {
		case StateStartUp:
			if err := c.connect(ctx); err != nil {
				delay := c.backoff.NextBackOff()
				if c.log != nil {
					c.log.Warnf("connect to %s failed, retrying in %s: %v", c.config.Address, delay, err)
				}
				_ = c.config.Transport.Close()
				c.notBefore = now.Add(delay)
				return
			}
			c.backoff.Reset()
			c.setState(StateCheckPaired)

		case StateCheckPaired:
			creds, err := LoadCredentials(c.config.Store)
			if err != nil {
				if c.log != nil {
					c.log.Infof("not paired (%v), pairing in %s", err, c.config.PairingSettleDelay)
				}
				c.notBefore = now.Add(c.config.PairingSettleDelay)
				c.setState(StateStartPairingDelay)
				return
			}
			if err := c.useCredentials(creds); err != nil {
				if c.log != nil {
					c.log.Errorf("stored credentials unusable: %v", err)
				}
				c.notBefore = now.Add(c.config.PairingSettleDelay)
				c.setState(StateStartPairingDelay)
				return
			}
			c.setState(StateConnected)

		case StateStartPairingDelay:
			c.disp.Drain()
			session, err := pairing.NewSession(pairing.Config{
				KeyPair:       c.keyPair,
				IDType:        c.config.IDType,
				DeviceID:      c.config.DeviceID,
				Name:          c.config.DeviceName,
				StepTimeout:   c.config.PairingStepTimeout,
				Timeout:       c.config.PairingTimeout,
				Random:        c.config.Random,
				LoggerFactory: c.config.LoggerFactory,
			})
			if err != nil {
				c.pairingFailed(err, now)
				return
			}
			c.session = session
			c.setState(StatePairing)

		case StatePairing:
			if !c.advancePairing(now) {
				return
			}

		case StateConnected:
			c.pump(now)
			return

		default:
			return
		}
	}
}

// connect brings the link up and subscribes to both channels.
func (c *Client) connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	t := c.config.Transport
	if err := t.Connect(ctx, c.config.Address); err != nil {
		return err
	}
	for _, ch := range []transport.Channel{transport.ChannelPairing, transport.ChannelCommand} {
		if err := t.Subscribe(ch, c.disp.Handler(ch)); err != nil {
			return fmt.Errorf("subscribe %s: %w", ch, err)
		}
	}
	if c.log != nil {
		c.log.Infof("connected to %s", c.config.Address)
	}
	return nil
}

// advancePairing drives the pairing session. It returns true when the
// client left StatePairing.
func (c *Client) advancePairing(now time.Time) bool {
	for {
		frame, err := c.session.Advance(now)
		if err != nil {
			c.pairingFailed(err, now)
			return false
		}
		if frame == nil {
			break
		}
		if err := c.config.Transport.Write(transport.ChannelPairing, frame); err != nil {
			c.pairingFailed(err, now)
			return false
		}
	}

	if c.session.State() != pairing.StateSuccess {
		return false
	}

	creds, err := c.session.Credentials()
	if err != nil {
		c.pairingFailed(err, now)
		return false
	}
	c.session = nil
	if err := SaveCredentials(c.config.Store, creds); err != nil && c.log != nil {
		c.log.Errorf("credentials not persisted: %v", err)
	}
	if err := c.useCredentials(creds); err != nil {
		c.pairingFailed(err, now)
		return false
	}
	c.emit(PairingSucceeded{Credentials: *creds})
	c.setState(StateConnected)
	return true
}

func (c *Client) pairingFailed(err error, now time.Time) {
	if c.log != nil {
		c.log.Warnf("pairing failed: %v", err)
	}
	c.session = nil
	c.emit(PairingFailed{Err: err})
	_ = c.config.Transport.Close()
	c.notBefore = now.Add(c.backoff.NextBackOff())
	c.setState(StateStartUp)
}

func (c *Client) useCredentials(creds *pairing.Credentials) error {
	codec, err := message.NewEncryptedCodec(creds.SecretKeyK[:], creds.AuthorizationID)
	if err != nil {
		return err
	}
	codec.SetRandom(c.config.Random)
	c.codec = codec
	c.disp.SetCodec(codec)

	c.mu.Lock()
	c.credentials = creds
	c.mu.Unlock()
	if c.log != nil {
		c.log.Debugf("using %s", creds)
	}
	return nil
}

// pump sends the next queued request when none is in flight.
func (c *Client) pump(now time.Time) {
	if c.inflight != nil {
		if now.Before(c.inflight.deadline) {
			return
		}
		if !c.inflight.answered {
			if c.log != nil {
				c.log.Warnf("no answer to %s", c.inflight.request.Command)
			}
			c.emit(ResponseTimeout{Command: c.inflight.request.Command})
		}
		c.inflight = nil
	}
	if c.codec == nil {
		return
	}

	var r *message.Request
	select {
	case r = <-c.queue:
	default:
		return
	}

	frame, err := c.codec.Encode(r.Command, r.Payload)
	if err != nil {
		if c.log != nil {
			c.log.Errorf("encode %s: %v", r.Command, err)
		}
		c.emit(RequestFailed{Command: r.Command, Err: err})
		return
	}
	if err := c.config.Transport.Write(transport.ChannelCommand, frame); err != nil {
		delay := c.backoff.NextBackOff()
		if c.log != nil {
			c.log.Warnf("write %s failed, reconnecting in %s: %v", r.Command, delay, err)
		}
		c.emit(RequestFailed{Command: r.Command, Err: err})
		_ = c.config.Transport.Close()
		c.dropLink(now)
		c.notBefore = now.Add(delay)
		return
	}

	f := &inflight{request: r, deadline: now.Add(c.config.ResponseTimeout)}
	if r.Command == message.CommandRequestData && len(r.Payload) >= 2 {
		f.expect = message.Command(binary.LittleEndian.Uint16(r.Payload))
	}
	c.inflight = f
	if c.log != nil {
		c.log.Debugf("sent %s", r.Command)
	}
}

func (c *Client) handleInbound(in dispatch.Inbound, now time.Time) {
	state := c.State()

	if in.Channel == transport.ChannelPairing {
		if state == StatePairing && c.session != nil {
			c.session.HandleEvent(in.Event)
			return
		}
		if ev, ok := in.Event.(dispatch.ErrorEvent); ok {
			c.emit(ErrorReported{Err: ev.Err})
			return
		}
		if c.log != nil {
			c.log.Debugf("ignoring %s on pairing channel in %s", in.Event.Command(), state)
		}
		return
	}

	switch ev := in.Event.(type) {
	case dispatch.StatusEvent:
		st := ev.Status
		c.mu.Lock()
		c.lastStatus = &st
		c.mu.Unlock()
		c.emit(StatusReceived{Status: st})
		if c.inflight != nil {
			if st == message.StatusComplete {
				c.inflight = nil
			} else {
				c.inflight.deadline = now.Add(c.config.ResponseTimeout)
			}
		}
	case dispatch.ErrorEvent:
		c.emit(ErrorReported{Err: ev.Err})
		c.inflight = nil
	case dispatch.ResponseEvent:
		c.emit(ResponseReceived{Command: ev.Cmd, Payload: ev.Payload})
		// Statuses name no command. Keep the slot until the status that may
		// follow, so it cannot complete the next request.
		if f := c.inflight; f != nil && f.expect == ev.Cmd && !f.answered {
			f.answered = true
			f.deadline = now.Add(c.config.StatusTimeout)
		}
	default:
		if c.log != nil {
			c.log.Debugf("ignoring %s on command channel", in.Event.Command())
		}
	}
}

// onDisconnect runs on the transport's goroutine.
func (c *Client) onDisconnect(reason error) {
	select {
	case c.disconnects <- reason:
	default:
	}
}

func (c *Client) handleDisconnect(reason error, now time.Time) {
	if c.State() == StateStartUp {
		return
	}
	if c.log != nil {
		c.log.Warnf("disconnected: %v", reason)
	}
	c.emit(Disconnected{Reason: reason})
	c.dropLink(now)
}

// reset drops the link after the credentials were deleted.
func (c *Client) reset(now time.Time) {
	if c.State() == StateStartUp {
		return
	}
	_ = c.config.Transport.Close()
	c.dropLink(now)
}

func (c *Client) dropLink(now time.Time) {
	c.session = nil
	c.inflight = nil
	c.codec = nil
	c.disp.SetCodec(nil)
	c.disp.Drain()
	c.notBefore = now
	c.setState(StateStartUp)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	prev := c.state
	c.state = s
	c.mu.Unlock()
	if prev == s {
		return
	}
	if c.log != nil {
		c.log.Debugf("%s -> %s", prev, s)
	}
	c.emit(StateChanged{State: s})
}

// emit delivers an application event without blocking the driver.
func (c *Client) emit(ev Event) {
	select {
	case c.events <- ev:
	default:
		if c.log != nil {
			c.log.Warnf("application event queue full, dropping %T", ev)
		}
	}
}

// IsPairingTimeout reports whether err is a pairing timeout.
func IsPairingTimeout(err error) bool {
	return errors.Is(err, pairing.ErrTimeout)
}
