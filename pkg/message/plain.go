package message

import (
	"encoding/binary"
	"fmt"

	"github.com/backkem/nukible/pkg/crc"
)

// Frame is a decoded command and its payload.
type Frame struct {
	Command Command
	Payload []byte
}

func (f *Frame) String() string {
	return fmt.Sprintf("%s[%d]", f.Command, len(f.Payload))
}

// EncodePlain builds an unencrypted frame.
func EncodePlain(cmd Command, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, 0, CommandSize+len(payload)+crc.Size)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(cmd))
	buf = append(buf, payload...)
	return crc.Append(buf), nil
}

// DecodePlain parses and verifies an unencrypted frame.
func DecodePlain(data []byte) (*Frame, error) {
	if len(data) < MinPlainFrameSize {
		return nil, ErrBadLength
	}
	if len(data)-MinPlainFrameSize > MaxPayloadSize {
		return nil, ErrBadLength
	}
	if !crc.Verify(data) {
		return nil, ErrBadCRC
	}
	payload := make([]byte, len(data)-MinPlainFrameSize)
	copy(payload, data[CommandSize:len(data)-crc.Size])
	return &Frame{
		Command: Command(binary.LittleEndian.Uint16(data[:CommandSize])),
		Payload: payload,
	}, nil
}
