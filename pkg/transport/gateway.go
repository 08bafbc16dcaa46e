package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/logging"
)

// LinkDialer opens a link to a BLE gateway.
type LinkDialer func(ctx context.Context) (Link, error)

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	// Dial opens the gateway link. Required.
	Dial LinkDialer

	// ConnectTimeout bounds the wait for the gateway's reply to a connect
	// or subscribe request.
	// Default: 10s
	ConnectTimeout time.Duration

	LoggerFactory logging.LoggerFactory
}

// Gateway is a Transport that relays GATT operations through a remote BLE
// radio. Each Connect dials a fresh link; the gateway answers connect and
// subscribe requests, then streams notifications. An error the gateway
// reports outside a request (a failed write) drops the link.
type Gateway struct {
	config GatewayConfig

	reqMu sync.Mutex // one request awaiting a reply

	mu           sync.Mutex
	link         Link
	connected    bool
	handlers     map[Channel]NotifyHandler
	onDisconnect func(reason error)
	pending      chan *Envelope

	log logging.LeveledLogger
}

var _ Transport = (*Gateway)(nil)

// NewGateway creates a gateway transport.
func NewGateway(config GatewayConfig) (*Gateway, error) {
	if config.Dial == nil {
		return nil, fmt.Errorf("transport: gateway dialer is required")
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	g := &Gateway{
		config:   config,
		handlers: make(map[Channel]NotifyHandler),
	}
	if config.LoggerFactory != nil {
		g.log = config.LoggerFactory.NewLogger("transport-gateway")
	}
	return g, nil
}

// Connect dials the gateway and asks it to connect to the lock at address.
// After Close, Connect dials again.
func (g *Gateway) Connect(ctx context.Context, address string) error {
	if address == "" {
		return ErrInvalidAddress
	}
	g.mu.Lock()
	if g.link != nil {
		g.mu.Unlock()
		return nil
	}
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, g.config.ConnectTimeout)
	defer cancel()

	link, err := g.config.Dial(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	g.mu.Lock()
	g.link = link
	g.mu.Unlock()
	go g.readLoop(link)

	reply, err := g.request(ctx, &Envelope{Op: OpConnect, Address: address})
	if err == nil {
		err = expectReply(reply, OpConnected)
	}
	if err != nil {
		g.teardown(link)
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}

	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
	if g.log != nil {
		g.log.Infof("connected to %s via gateway", address)
	}
	return nil
}

// Subscribe enables notifications on ch and waits for the gateway to
// confirm.
func (g *Gateway) Subscribe(ch Channel, handler NotifyHandler) error {
	if !ch.IsValid() {
		return ErrInvalidChannel
	}
	g.mu.Lock()
	if !g.connected {
		g.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, ErrNotConnected)
	}
	g.handlers[ch] = handler
	g.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), g.config.ConnectTimeout)
	defer cancel()
	reply, err := g.request(ctx, &Envelope{Op: OpSubscribe, Channel: ch})
	if err == nil {
		err = expectReply(reply, OpSubscribed)
	}
	if err != nil {
		g.mu.Lock()
		delete(g.handlers, ch)
		g.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}
	return nil
}

// Write sends data to ch. A write the radio rejects is reported later as
// link loss.
func (g *Gateway) Write(ch Channel, data []byte) error {
	if !ch.IsValid() {
		return ErrInvalidChannel
	}
	g.mu.Lock()
	connected := g.connected
	g.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}
	return g.send(&Envelope{Op: OpWrite, Channel: ch, Data: data})
}

// OnDisconnect registers a callback invoked when the link drops.
func (g *Gateway) OnDisconnect(fn func(reason error)) {
	g.mu.Lock()
	g.onDisconnect = fn
	g.mu.Unlock()
}

// Close asks the gateway to disconnect and closes the link.
func (g *Gateway) Close() error {
	g.mu.Lock()
	link := g.link
	g.mu.Unlock()
	if link == nil {
		return nil
	}
	_ = g.send(&Envelope{Op: OpDisconnect})
	g.teardown(link)
	return nil
}

// request sends env and waits for the gateway's reply.
func (g *Gateway) request(ctx context.Context, env *Envelope) (*Envelope, error) {
	g.reqMu.Lock()
	defer g.reqMu.Unlock()

	replies := make(chan *Envelope, 1)
	g.mu.Lock()
	if g.link == nil {
		g.mu.Unlock()
		return nil, ErrNotConnected
	}
	g.pending = replies
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		if g.pending == replies {
			g.pending = nil
		}
		g.mu.Unlock()
	}()

	if err := g.send(env); err != nil {
		return nil, err
	}
	select {
	case reply := <-replies:
		return reply, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func expectReply(reply *Envelope, op Op) error {
	switch reply.Op {
	case op:
		return nil
	case OpError:
		return fmt.Errorf("gateway: %s", reply.Reason)
	default:
		return fmt.Errorf("gateway: unexpected %s reply", reply.Op)
	}
}

func (g *Gateway) send(env *Envelope) error {
	g.mu.Lock()
	link := g.link
	g.mu.Unlock()
	if link == nil {
		return ErrNotConnected
	}
	data, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	if err := link.Send(data); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// teardown forgets link if it is current. It reports whether the gateway
// was connected.
func (g *Gateway) teardown(link Link) bool {
	g.mu.Lock()
	if g.link != link {
		g.mu.Unlock()
		return false
	}
	wasConnected := g.connected
	g.link = nil
	g.connected = false
	g.pending = nil
	g.handlers = make(map[Channel]NotifyHandler)
	g.mu.Unlock()
	_ = link.Close()
	return wasConnected
}

func (g *Gateway) linkLost(link Link, reason error) {
	g.mu.Lock()
	pending := g.pending
	g.mu.Unlock()
	if pending != nil {
		select {
		case pending <- &Envelope{Op: OpError, Reason: reason.Error()}:
		default:
		}
	}
	if !g.teardown(link) {
		return
	}
	g.mu.Lock()
	fn := g.onDisconnect
	g.mu.Unlock()
	if g.log != nil {
		g.log.Warnf("gateway link lost: %v", reason)
	}
	if fn != nil {
		fn(reason)
	}
}

func (g *Gateway) readLoop(link Link) {
	for {
		msg, err := link.Receive()
		if err != nil {
			g.linkLost(link, fmt.Errorf("%w: %v", ErrLinkLost, err))
			return
		}
		env, err := UnmarshalEnvelope(msg)
		if err != nil {
			if g.log != nil {
				g.log.Warnf("dropping gateway message: %v", err)
			}
			continue
		}

		switch env.Op {
		case OpConnected, OpSubscribed, OpError:
			g.mu.Lock()
			pending := g.pending
			g.mu.Unlock()
			if pending != nil {
				select {
				case pending <- env:
				default:
				}
				continue
			}
			if env.Op == OpError {
				g.linkLost(link, fmt.Errorf("%w: gateway: %s", ErrWriteFailed, env.Reason))
				return
			}
			if g.log != nil {
				g.log.Debugf("unsolicited %s from gateway", env.Op)
			}
		case OpNotify:
			g.mu.Lock()
			h := g.handlers[env.Channel]
			g.mu.Unlock()
			if h == nil {
				if g.log != nil {
					g.log.Tracef("no handler for %s notification", env.Channel)
				}
				continue
			}
			h(env.Data)
		case OpDisconnect:
			reason := ErrLinkLost
			if env.Reason != "" {
				reason = fmt.Errorf("%w: %s", ErrLinkLost, env.Reason)
			}
			g.linkLost(link, reason)
			return
		default:
			if g.log != nil {
				g.log.Debugf("ignoring gateway op %s", env.Op)
			}
		}
	}
}

// IsLinkLost reports whether err describes a dropped link.
func IsLinkLost(err error) bool {
	return errors.Is(err, ErrLinkLost)
}
