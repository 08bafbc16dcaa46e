// Package transport provides the byte links between the client and a lock.
//
// A lock exposes two GATT characteristics: the pairing characteristic (GDIO)
// used for the clear-text handshake, and the user-specific characteristic
// (USDIO) used for encrypted commands. A Transport hides how they are reached:
// Pipe connects two in-process endpoints, Gateway relays through a remote BLE
// radio over websocket or serial.
package transport

import (
	"context"

	"github.com/google/uuid"
)

// Channel identifies one of the lock's data characteristics.
type Channel uint8

const (
	// ChannelUnknown is the zero value.
	ChannelUnknown Channel = iota
	// ChannelPairing is the pairing service GDIO characteristic.
	ChannelPairing
	// ChannelCommand is the keyturner service USDIO characteristic.
	ChannelCommand
)

// GATT identifiers.
var (
	PairingServiceUUID        = uuid.MustParse("a92ee100-5501-11e4-916c-0800200c9a66")
	PairingCharacteristicUUID = uuid.MustParse("a92ee101-5501-11e4-916c-0800200c9a66")
	CommandServiceUUID        = uuid.MustParse("a92ee200-5501-11e4-916c-0800200c9a66")
	CommandCharacteristicUUID = uuid.MustParse("a92ee202-5501-11e4-916c-0800200c9a66")
)

// String returns the string representation of the channel.
func (c Channel) String() string {
	switch c {
	case ChannelPairing:
		return "Pairing"
	case ChannelCommand:
		return "Command"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the channel is a known channel.
func (c Channel) IsValid() bool {
	return c == ChannelPairing || c == ChannelCommand
}

// Service returns the GATT service UUID of the channel.
func (c Channel) Service() uuid.UUID {
	switch c {
	case ChannelPairing:
		return PairingServiceUUID
	case ChannelCommand:
		return CommandServiceUUID
	default:
		return uuid.Nil
	}
}

// Characteristic returns the GATT characteristic UUID of the channel.
func (c Channel) Characteristic() uuid.UUID {
	switch c {
	case ChannelPairing:
		return PairingCharacteristicUUID
	case ChannelCommand:
		return CommandCharacteristicUUID
	default:
		return uuid.Nil
	}
}

// NotifyHandler receives one notification. It is called from the transport's
// receive goroutine and must not block.
type NotifyHandler func(data []byte)

// Transport is a connection to one lock.
type Transport interface {
	// Connect establishes the link to the lock at address.
	Connect(ctx context.Context, address string) error

	// Subscribe enables notifications on ch. A later call replaces the handler.
	Subscribe(ch Channel, handler NotifyHandler) error

	// Write sends data to ch. It returns once the data has been handed to the link.
	Write(ch Channel, data []byte) error

	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(fn func(reason error))

	// Close tears the link down. The transport may be connected again.
	Close() error
}
