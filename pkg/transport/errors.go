package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNotConnected is returned when writing or subscribing without a link.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrInvalidAddress is returned when an invalid peer address is provided.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrInvalidChannel is returned for a channel outside the known set.
	ErrInvalidChannel = errors.New("transport: invalid channel")

	// ErrWriteFailed is returned when sending data to the peer fails.
	ErrWriteFailed = errors.New("transport: write failed")

	// ErrSubscribeFailed is returned when enabling notifications fails.
	ErrSubscribeFailed = errors.New("transport: subscribe failed")

	// ErrUnreachable is returned by Connect when the peer cannot be reached.
	ErrUnreachable = errors.New("transport: peer unreachable")

	// ErrLinkLost is the disconnect reason when the link drops.
	ErrLinkLost = errors.New("transport: link lost")

	// ErrMessageTooLarge is returned when a message exceeds the maximum size.
	ErrMessageTooLarge = errors.New("transport: message too large")
)
