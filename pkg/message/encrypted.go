package message

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/backkem/nukible/pkg/crc"
	"github.com/backkem/nukible/pkg/crypto"
)

// EncryptedFrame is a decoded command received on the encrypted channel.
type EncryptedFrame struct {
	Frame
	Nonce           [crypto.NonceSize]byte
	AuthorizationID uint32
}

// EncryptedCodec seals and opens frames for one authorization.
// The same secret key is used in both directions.
type EncryptedCodec struct {
	mu     sync.Mutex
	key    [crypto.KeySize]byte
	authID uint32
	rand   io.Reader
}

// NewEncryptedCodec creates a codec for secretKeyK and authID.
func NewEncryptedCodec(secretKeyK []byte, authID uint32) (*EncryptedCodec, error) {
	if len(secretKeyK) != crypto.KeySize {
		return nil, ErrInvalidKey
	}
	c := &EncryptedCodec{authID: authID}
	copy(c.key[:], secretKeyK)
	return c, nil
}

// SetRandom replaces the nonce source. A nil reader restores crypto/rand.
func (c *EncryptedCodec) SetRandom(r io.Reader) {
	c.mu.Lock()
	c.rand = r
	c.mu.Unlock()
}

// AuthorizationID returns the authorization id frames are sent under.
func (c *EncryptedCodec) AuthorizationID() uint32 {
	return c.authID
}

// Encode builds an encrypted frame with a fresh nonce.
func (c *EncryptedCodec) Encode(cmd Command, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	c.mu.Lock()
	nonce, err := crypto.NewNonce(c.rand)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("message: nonce: %w", err)
	}

	plain := make([]byte, 0, minEncryptedPlaintextSize+len(payload))
	plain = binary.LittleEndian.AppendUint32(plain, c.authID)
	plain = binary.LittleEndian.AppendUint16(plain, uint16(cmd))
	plain = append(plain, payload...)
	plain = crc.Append(plain)

	sealed, err := crypto.Encrypt(plain, &nonce, &c.key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, EncryptedHeaderSize+len(sealed))
	out = append(out, nonce[:]...)
	out = binary.LittleEndian.AppendUint32(out, c.authID)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(sealed)))
	return append(out, sealed...), nil
}

// Decode opens and verifies an encrypted frame. Nothing is returned unless
// every check passes.
func (c *EncryptedCodec) Decode(data []byte) (*EncryptedFrame, error) {
	if len(data) < EncryptedHeaderSize {
		return nil, ErrBadLength
	}
	var nonce [crypto.NonceSize]byte
	copy(nonce[:], data[:crypto.NonceSize])
	headerAuthID := binary.LittleEndian.Uint32(data[crypto.NonceSize:])
	length := int(binary.LittleEndian.Uint16(data[crypto.NonceSize+AuthorizationIDSize:]))

	body := data[EncryptedHeaderSize:]
	if length != len(body) || length < minEncryptedPlaintextSize+crypto.Overhead {
		return nil, ErrBadLength
	}
	if length-crypto.Overhead-minEncryptedPlaintextSize > MaxPayloadSize {
		return nil, ErrBadLength
	}

	plain, err := crypto.Decrypt(body, &nonce, &c.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	if !crc.Verify(plain) {
		return nil, ErrBadCRC
	}
	innerAuthID := binary.LittleEndian.Uint32(plain)
	if innerAuthID != headerAuthID {
		return nil, ErrAuthorizationMismatch
	}

	payload := make([]byte, len(plain)-minEncryptedPlaintextSize)
	copy(payload, plain[AuthorizationIDSize+CommandSize:len(plain)-crc.Size])
	return &EncryptedFrame{
		Frame: Frame{
			Command: Command(binary.LittleEndian.Uint16(plain[AuthorizationIDSize:])),
			Payload: payload,
		},
		Nonce:           nonce,
		AuthorizationID: innerAuthID,
	}, nil
}
