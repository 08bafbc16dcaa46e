package message

import "encoding/binary"

// Request is an outbound command waiting to be sent on the encrypted channel.
type Request struct {
	Command Command
	Payload []byte
}

// NewRequest copies payload into a new Request.
func NewRequest(cmd Command, payload []byte) (*Request, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	p := make([]byte, len(payload))
	copy(p, payload)
	return &Request{Command: cmd, Payload: p}, nil
}

// RequestData builds a requestData request asking the lock for cmd.
func RequestData(cmd Command) *Request {
	return &Request{
		Command: CommandRequestData,
		Payload: binary.LittleEndian.AppendUint16(nil, uint16(cmd)),
	}
}
