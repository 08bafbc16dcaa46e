package nuki

import (
	"io"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/nukible/pkg/crypto"
	"github.com/backkem/nukible/pkg/pairing"
	"github.com/backkem/nukible/pkg/store"
	"github.com/backkem/nukible/pkg/transport"
)

// MaxDeviceNameLength is the size of the name field sent during pairing.
const MaxDeviceNameLength = pairing.NameSize

// ClientConfig holds all configuration for a Client.
type ClientConfig struct {
	// Lock - Required
	Address   string              // Lock address understood by the transport
	Transport transport.Transport // Link to the lock
	Store     store.Store         // Credential persistence

	// Identity - Optional
	IDType     pairing.IDType  // Client class announced when pairing
	DeviceID   uint32          // Client identifier announced when pairing
	DeviceName string          // Name shown on the lock (max 32 bytes)
	KeyPair    *crypto.KeyPair // Loaded from Store or generated when nil

	// Timing - Optional (uses defaults if zero)
	TickInterval          time.Duration // Driver period (default: 500ms)
	ConnectTimeout        time.Duration // Bound on one Connect (default: 10s)
	ConnectBackoffInitial time.Duration // First reconnect delay (default: 1s)
	ConnectBackoffMax     time.Duration // Longest reconnect delay (default: 30s)
	PairingSettleDelay    time.Duration // Wait before pairing (default: 5s)
	PairingStepTimeout    time.Duration // Per pairing step (default: 10s)
	PairingTimeout        time.Duration // Whole pairing attempt (default: 60s)
	ResponseTimeout       time.Duration // Wait for a command answer (default: 3s)
	StatusTimeout         time.Duration // Wait for the status after a requestData response (default: 500ms)

	// Queues - Optional
	QueueCapacity  int           // Outbound requests (default: 10)
	EnqueueTimeout time.Duration // Bound on Enqueue (default: 500ms)
	EventBuffer    int           // Application events and inbound events (default: 32)

	// Random is the source for keys and nonces (default: crypto/rand).
	Random io.Reader

	LoggerFactory logging.LoggerFactory
}

// DefaultClientConfig returns a configuration with every optional field set
// to its default. Callers fill in the required fields.
func DefaultClientConfig() ClientConfig {
	c := ClientConfig{
		IDType:     pairing.IDTypeBridge,
		DeviceName: "nukible",
	}
	c.applyDefaults()
	return c
}

// Validate checks the configuration for errors.
func (c *ClientConfig) Validate() error {
	if c.Transport == nil {
		return ErrTransportRequired
	}
	if c.Store == nil {
		return ErrStoreRequired
	}
	if c.Address == "" {
		return ErrAddressRequired
	}
	if c.IDType > pairing.IDTypeKeypad {
		return ErrInvalidIDType
	}
	if c.QueueCapacity < 0 {
		return ErrInvalidQueueSize
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *ClientConfig) applyDefaults() {
	if c.TickInterval == 0 {
		c.TickInterval = 500 * time.Millisecond
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.ConnectBackoffInitial == 0 {
		c.ConnectBackoffInitial = 1 * time.Second
	}
	if c.ConnectBackoffMax == 0 {
		c.ConnectBackoffMax = 30 * time.Second
	}
	if c.PairingSettleDelay == 0 {
		c.PairingSettleDelay = 5 * time.Second
	}
	if c.PairingStepTimeout == 0 {
		c.PairingStepTimeout = pairing.DefaultStepTimeout
	}
	if c.PairingTimeout == 0 {
		c.PairingTimeout = pairing.DefaultTimeout
	}
	if c.ResponseTimeout == 0 {
		c.ResponseTimeout = 3 * time.Second
	}
	if c.StatusTimeout == 0 {
		c.StatusTimeout = 500 * time.Millisecond
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = 10
	}
	if c.EnqueueTimeout == 0 {
		c.EnqueueTimeout = 500 * time.Millisecond
	}
	if c.EventBuffer == 0 {
		c.EventBuffer = 32
	}

	if len(c.DeviceName) > MaxDeviceNameLength {
		c.DeviceName = c.DeviceName[:MaxDeviceNameLength]
	}
}
