package transport

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Op is a gateway envelope operation.
type Op uint8

// Gateway operations. Requests flow client to gateway, events flow back.
const (
	OpUnknown Op = iota
	OpConnect
	OpConnected
	OpSubscribe
	OpWrite
	OpNotify
	OpDisconnect
	OpError
	OpSubscribed
)

func (o Op) String() string {
	switch o {
	case OpConnect:
		return "connect"
	case OpConnected:
		return "connected"
	case OpSubscribe:
		return "subscribe"
	case OpWrite:
		return "write"
	case OpNotify:
		return "notify"
	case OpDisconnect:
		return "disconnect"
	case OpError:
		return "error"
	case OpSubscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("Op(%d)", uint8(o))
	}
}

// Envelope is one message exchanged with a BLE gateway, encoded as a CBOR
// map with small integer keys.
type Envelope struct {
	Op      Op      `cbor:"1,keyasint"`
	Channel Channel `cbor:"2,keyasint,omitempty"`
	Address string  `cbor:"3,keyasint,omitempty"`
	Data    []byte  `cbor:"4,keyasint,omitempty"`
	Reason  string  `cbor:"5,keyasint,omitempty"`
}

// Marshal encodes the envelope.
func (e *Envelope) Marshal() ([]byte, error) {
	return cbor.Marshal(e)
}

// UnmarshalEnvelope decodes an envelope.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("transport: empty envelope")
	}
	var e Envelope
	if err := cbor.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("transport: decode envelope: %w", err)
	}
	if e.Op == OpUnknown {
		return nil, fmt.Errorf("transport: envelope without op")
	}
	return &e, nil
}
