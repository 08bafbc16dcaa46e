package message

import "fmt"

// Status is the one-byte command completion status.
type Status uint8

const (
	StatusComplete Status = 0x00
	StatusAccepted Status = 0x01
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "COMPLETE"
	case StatusAccepted:
		return "ACCEPTED"
	default:
		return fmt.Sprintf("Status(0x%02X)", uint8(s))
	}
}

// DecodeStatus parses a status payload.
func DecodeStatus(payload []byte) (Status, error) {
	if len(payload) < 1 {
		return 0, ErrBadLength
	}
	return Status(payload[0]), nil
}
