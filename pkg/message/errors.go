package message

import "errors"

// Message layer errors.
var (
	// Frame errors. A frame failing any of these checks is discarded.
	ErrBadCRC                = errors.New("message: bad CRC")
	ErrBadLength             = errors.New("message: bad length")
	ErrPayloadTooLarge       = errors.New("message: payload exceeds maximum size")
	ErrAuthorizationMismatch = errors.New("message: authorization id mismatch between header and payload")

	// Security errors
	ErrDecryptionFailed = errors.New("message: decryption/authentication failed")
	ErrInvalidKey       = errors.New("message: invalid secret key")
)

// Frame format constants.
const (
	// CommandSize is the size of the little-endian command identifier.
	CommandSize = 2

	// MaxPayloadSize bounds the payload of any frame we build or accept.
	MaxPayloadSize = 196

	// MinPlainFrameSize is command + CRC with an empty payload.
	MinPlainFrameSize = CommandSize + 2

	// AuthorizationIDSize is the size of the authorization id.
	AuthorizationIDSize = 4

	// LengthSize is the size of the ciphertext length field.
	LengthSize = 2

	// EncryptedHeaderSize is nonce(24) + authorization id(4) + length(2).
	EncryptedHeaderSize = 24 + AuthorizationIDSize + LengthSize

	// minEncryptedPlaintextSize is authorization id + command + CRC.
	minEncryptedPlaintextSize = AuthorizationIDSize + CommandSize + 2
)
