package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
)

// MaxPacketSize bounds a single write on a Pipe endpoint.
const MaxPacketSize = 512

// Pipe packet kinds. Data packets use the Channel value as kind.
const (
	kindConnect    byte = 0x80
	kindDisconnect byte = 0x81
)

var errPeripheralConnect = errors.New("transport: peripheral cannot initiate a connection")

// NetworkCondition configures link behavior simulation.
// Conditions apply to data packets. Pipe.SetCondition covers both
// directions; Endpoint.SetCondition overrides it for one sender.
type NetworkCondition struct {
	// DropRate is the probability of dropping a packet (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay to add to each packet.
	DelayMin time.Duration

	// DelayMax is the maximum delay to add to each packet.
	// Actual delay is uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration

	// DuplicateRate is the probability of duplicating a packet (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic packet delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers packets.
	// Default: 1ms
	ProcessInterval time.Duration

	LoggerFactory logging.LoggerFactory
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe is an in-memory radio link between a central (the client) and a
// peripheral (a simulated lock). It wraps pion's test.Bridge and multiplexes
// both lock characteristics over it.
//
// By default, Pipe delivers packets in a background goroutine.
// Use SetAutoProcess(false) and Tick/Process for manual control.
type Pipe struct {
	bridge *test.Bridge

	central    *Endpoint
	peripheral *Endpoint

	mu              sync.RWMutex
	condition       NetworkCondition
	reachable       bool
	closed          bool
	rng             *rand.Rand
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup // auto-processor
	readers         sync.WaitGroup

	log logging.LeveledLogger
}

// NewPipe creates a new pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a new pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:          test.NewBridge(),
		reachable:       true,
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("transport-pipe")
	}

	if config.ProcessInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	p.central = newEndpoint(p, "central", p.bridge.GetConn0())
	p.peripheral = newEndpoint(p, "peripheral", p.bridge.GetConn1())
	p.peripheral.isPeripheral = true

	p.readers.Add(2)
	go p.central.readLoop()
	go p.peripheral.readLoop()

	if p.autoProcess {
		p.startAutoProcess()
	}

	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	stopCh := p.stopCh
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetAutoProcess enables or disables automatic packet delivery.
// When disabled, you must call Tick() or Process() manually; nothing is
// delivered automatically once it returns.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}
	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// SetCondition configures link condition simulation.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current link condition configuration.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

// SetReachable controls whether Connect on the central succeeds.
func (p *Pipe) SetReachable(reachable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reachable = reachable
}

// Central returns the client side of the pipe.
func (p *Pipe) Central() *Endpoint {
	return p.central
}

// Peripheral returns the lock side of the pipe.
func (p *Pipe) Peripheral() *Endpoint {
	return p.peripheral
}

// Disconnect simulates link loss. Both endpoints observe ErrLinkLost.
func (p *Pipe) Disconnect() {
	p.central.linkDown(ErrLinkLost)
	p.peripheral.linkDown(ErrLinkLost)
}

// Tick delivers one packet in each direction (if available).
// Returns the number of packets delivered (0, 1, or 2).
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued packets.
// Returns the number of packets delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// Close closes both endpoints of the pipe and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	var errs []error
	if err := p.bridge.GetConn0().Close(); err != nil {
		errs = append(errs, err)
	}
	if err := p.bridge.GetConn1().Close(); err != nil {
		errs = append(errs, err)
	}

	// The bridge ends a closed conn's reads on a later Tick, once the
	// packets queued towards it are delivered.
	readersDone := make(chan struct{})
	go func() {
		p.readers.Wait()
		close(readersDone)
	}()
	ticker := time.NewTicker(p.processInterval)
	defer ticker.Stop()
	for drained := false; !drained; {
		p.bridge.Tick()
		select {
		case <-readersDone:
			drained = true
		case <-ticker.C:
		}
	}

	p.mu.Lock()
	if p.autoProcess {
		p.autoProcess = false
		close(p.stopCh)
	}
	p.mu.Unlock()
	p.wg.Wait()

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

func (p *Pipe) isClosed() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.closed
}

// Endpoint is one side of a Pipe. The central endpoint is a Transport for
// the client; the peripheral endpoint serves a simulated lock, whose
// Subscribe registers write handlers and whose Write sends notifications.
type Endpoint struct {
	pipe         *Pipe
	name         string
	conn         net.Conn
	isPeripheral bool

	mu           sync.Mutex
	connected    bool
	address      string
	handlers     map[Channel]NotifyHandler
	onDisconnect func(reason error)
	onConnect    func(address string)
	condition    *NetworkCondition
}

var _ Transport = (*Endpoint)(nil)

func newEndpoint(p *Pipe, name string, conn net.Conn) *Endpoint {
	return &Endpoint{
		pipe:     p,
		name:     name,
		conn:     conn,
		handlers: make(map[Channel]NotifyHandler),
	}
}

// Connect establishes the link. Only the central may connect.
func (e *Endpoint) Connect(ctx context.Context, address string) error {
	if e.isPeripheral {
		return errPeripheralConnect
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if address == "" {
		return ErrInvalidAddress
	}
	if e.pipe.isClosed() {
		return ErrClosed
	}
	e.pipe.mu.RLock()
	reachable := e.pipe.reachable
	e.pipe.mu.RUnlock()
	if !reachable {
		return fmt.Errorf("%w: %s", ErrUnreachable, address)
	}

	e.mu.Lock()
	e.connected = true
	e.address = address
	e.mu.Unlock()

	if _, err := e.conn.Write(append([]byte{kindConnect}, address...)); err != nil {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	if e.pipe.log != nil {
		e.pipe.log.Debugf("%s connected to %s", e.name, address)
	}
	return nil
}

// Subscribe registers handler for notifications (central) or writes
// (peripheral) on ch.
func (e *Endpoint) Subscribe(ch Channel, handler NotifyHandler) error {
	if !ch.IsValid() {
		return ErrInvalidChannel
	}
	if e.pipe.isClosed() {
		return ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.isPeripheral && !e.connected {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, ErrNotConnected)
	}
	e.handlers[ch] = handler
	return nil
}

// Write sends data on ch to the other endpoint.
func (e *Endpoint) Write(ch Channel, data []byte) error {
	if !ch.IsValid() {
		return ErrInvalidChannel
	}
	if len(data)+1 > MaxPacketSize {
		return ErrMessageTooLarge
	}
	if e.pipe.isClosed() {
		return ErrClosed
	}
	e.mu.Lock()
	connected := e.connected
	e.mu.Unlock()
	if !connected {
		return ErrNotConnected
	}

	cond := e.Condition()
	e.pipe.mu.Lock()
	drop := cond.DropRate > 0 && e.pipe.rng.Float64() < cond.DropRate
	duplicate := cond.DuplicateRate > 0 && e.pipe.rng.Float64() < cond.DuplicateRate
	var delay time.Duration
	if cond.DelayMax > cond.DelayMin {
		delay = cond.DelayMin + time.Duration(e.pipe.rng.Int63n(int64(cond.DelayMax-cond.DelayMin)))
	} else {
		delay = cond.DelayMin
	}
	e.pipe.mu.Unlock()

	if drop {
		if e.pipe.log != nil {
			e.pipe.log.Tracef("%s dropped %d bytes on %s", e.name, len(data), ch)
		}
		return nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	packet := append([]byte{byte(ch)}, data...)
	if duplicate {
		if _, err := e.conn.Write(packet); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}
	if _, err := e.conn.Write(packet); err != nil {
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	return nil
}

// SetCondition applies cond to data this endpoint sends, in place of the
// pipe's condition.
func (e *Endpoint) SetCondition(cond NetworkCondition) {
	e.mu.Lock()
	e.condition = &cond
	e.mu.Unlock()
}

// Condition returns the condition applied to data this endpoint sends.
func (e *Endpoint) Condition() NetworkCondition {
	e.mu.Lock()
	cond := e.condition
	e.mu.Unlock()
	if cond != nil {
		return *cond
	}
	return e.pipe.Condition()
}

// OnDisconnect registers a callback invoked when the link drops.
func (e *Endpoint) OnDisconnect(fn func(reason error)) {
	e.mu.Lock()
	e.onDisconnect = fn
	e.mu.Unlock()
}

// OnConnect registers a callback invoked on the peripheral when the
// central connects.
func (e *Endpoint) OnConnect(fn func(address string)) {
	e.mu.Lock()
	e.onConnect = fn
	e.mu.Unlock()
}

// Connected reports whether the endpoint currently has a link.
func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// Close tears down the link from this side. The pipe stays usable and the
// central may connect again.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	wasConnected := e.connected
	e.connected = false
	if !e.isPeripheral {
		e.handlers = make(map[Channel]NotifyHandler)
	}
	e.mu.Unlock()

	if wasConnected && !e.pipe.isClosed() {
		if _, err := e.conn.Write([]byte{kindDisconnect}); err != nil {
			return fmt.Errorf("%w: %v", ErrWriteFailed, err)
		}
	}
	return nil
}

// linkDown marks the link as lost and notifies the disconnect callback.
func (e *Endpoint) linkDown(reason error) {
	e.mu.Lock()
	if !e.connected {
		e.mu.Unlock()
		return
	}
	e.connected = false
	if !e.isPeripheral {
		e.handlers = make(map[Channel]NotifyHandler)
	}
	fn := e.onDisconnect
	e.mu.Unlock()

	if e.pipe.log != nil {
		e.pipe.log.Debugf("%s link down: %v", e.name, reason)
	}
	if fn != nil {
		fn(reason)
	}
}

func (e *Endpoint) readLoop() {
	defer e.pipe.readers.Done()
	buf := make([]byte, MaxPacketSize)
	for {
		n, err := e.conn.Read(buf)
		if err != nil {
			return
		}
		if n == 0 {
			continue
		}
		kind := buf[0]
		data := make([]byte, n-1)
		copy(data, buf[1:n])

		switch kind {
		case kindConnect:
			e.mu.Lock()
			e.connected = true
			e.address = string(data)
			fn := e.onConnect
			e.mu.Unlock()
			if fn != nil {
				fn(string(data))
			}
		case kindDisconnect:
			e.linkDown(ErrClosed)
		default:
			ch := Channel(kind)
			e.mu.Lock()
			h := e.handlers[ch]
			connected := e.connected
			e.mu.Unlock()
			if h == nil || !connected {
				if e.pipe.log != nil {
					e.pipe.log.Tracef("%s: no handler for %s, dropping %d bytes", e.name, ch, len(data))
				}
				continue
			}
			h(data)
		}
	}
}
