package dispatch

import (
	"sync"

	"github.com/pion/logging"

	"github.com/backkem/nukible/pkg/message"
	"github.com/backkem/nukible/pkg/transport"
)

// DefaultBufferSize is the default capacity of the event channel.
const DefaultBufferSize = 32

// Inbound is an event tagged with the channel it arrived on.
type Inbound struct {
	Channel transport.Channel
	Event   Event
}

// Config configures a Dispatcher.
type Config struct {
	// BufferSize is the event channel capacity. Default: 32
	BufferSize int

	LoggerFactory logging.LoggerFactory
}

// Dispatcher decodes notifications and posts events for a single consumer.
// Its handlers never block.
type Dispatcher struct {
	events chan Inbound

	mu      sync.Mutex
	codec   *message.EncryptedCodec
	dropped uint64

	log logging.LeveledLogger
}

// New creates a Dispatcher.
func New(config Config) *Dispatcher {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBufferSize
	}
	d := &Dispatcher{
		events: make(chan Inbound, config.BufferSize),
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("dispatch")
	}
	return d
}

// Events returns the channel events are posted on.
func (d *Dispatcher) Events() <-chan Inbound {
	return d.events
}

// SetCodec installs the codec used for the command channel. Nil removes it,
// after which command notifications are dropped.
func (d *Dispatcher) SetCodec(codec *message.EncryptedCodec) {
	d.mu.Lock()
	d.codec = codec
	d.mu.Unlock()
}

// Dropped returns the number of events discarded because the channel was full.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Handler returns the notification handler for ch.
func (d *Dispatcher) Handler(ch transport.Channel) transport.NotifyHandler {
	switch ch {
	case transport.ChannelPairing:
		return d.HandlePairing
	case transport.ChannelCommand:
		return d.HandleCommand
	default:
		return func(data []byte) {
			if d.log != nil {
				d.log.Warnf("notification on unknown channel %s dropped", ch)
			}
		}
	}
}

// HandlePairing decodes a plain frame from the pairing channel.
func (d *Dispatcher) HandlePairing(data []byte) {
	frame, err := message.DecodePlain(data)
	if err != nil {
		if d.log != nil {
			d.log.Warnf("invalid pairing frame (%d bytes): %v", len(data), err)
		}
		return
	}
	d.dispatch(transport.ChannelPairing, frame.Command, frame.Payload)
}

// HandleCommand decodes an encrypted frame from the command channel.
func (d *Dispatcher) HandleCommand(data []byte) {
	d.mu.Lock()
	codec := d.codec
	d.mu.Unlock()
	if codec == nil {
		if d.log != nil {
			d.log.Warnf("command notification without credentials dropped")
		}
		return
	}
	frame, err := codec.Decode(data)
	if err != nil {
		if d.log != nil {
			d.log.Warnf("invalid command frame (%d bytes): %v", len(data), err)
		}
		return
	}
	d.dispatch(transport.ChannelCommand, frame.Command, frame.Payload)
}

func (d *Dispatcher) dispatch(ch transport.Channel, cmd message.Command, payload []byte) {
	ev, err := Decode(cmd, payload)
	if err != nil {
		if d.log != nil {
			d.log.Warnf("cannot decode %s on %s: %v", cmd, ch, err)
		}
		return
	}
	if d.log != nil {
		d.log.Tracef("%s: %s", ch, cmd)
	}
	d.post(Inbound{Channel: ch, Event: ev})
}

func (d *Dispatcher) post(in Inbound) {
	select {
	case d.events <- in:
	default:
		d.mu.Lock()
		d.dropped++
		d.mu.Unlock()
		if d.log != nil {
			d.log.Warnf("event queue full, dropping %s", in.Event.Command())
		}
	}
}

// Drain discards all pending events and returns how many were discarded.
func (d *Dispatcher) Drain() int {
	n := 0
	for {
		select {
		case <-d.events:
			n++
		default:
			return n
		}
	}
}
