package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.bug.st/serial"

	"github.com/backkem/nukible/pkg/crc"
)

// Link carries whole gateway messages.
type Link interface {
	// Send writes one message.
	Send(msg []byte) error
	// Receive blocks until the next message arrives.
	Receive() ([]byte, error)
	Close() error
}

// WebSocketLink carries one message per binary websocket frame.
type WebSocketLink struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

// WebSocketOptions configures DialWebSocket.
type WebSocketOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
	// HandshakeTimeout defaults to 10s.
	HandshakeTimeout time.Duration
}

// DialWebSocket connects to a gateway at wsURL with optional HTTP Basic auth.
func DialWebSocket(ctx context.Context, wsURL string, opts WebSocketOptions) (*WebSocketLink, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q (use ws:// or wss://)", ErrInvalidAddress, u.Scheme)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: opts.SkipSSLVerify} //nolint:gosec
	}

	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: websocket handshake failed (HTTP %d): %v", ErrUnreachable, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: websocket: %v", ErrUnreachable, err)
	}
	return NewWebSocketLink(conn), nil
}

// NewWebSocketLink wraps an established websocket connection.
func NewWebSocketLink(conn *websocket.Conn) *WebSocketLink {
	return &WebSocketLink{conn: conn}
}

// Send writes msg as one binary frame.
func (l *WebSocketLink) Send(msg []byte) error {
	l.wmu.Lock()
	defer l.wmu.Unlock()
	return l.conn.WriteMessage(websocket.BinaryMessage, msg)
}

// Receive returns the next binary frame, skipping text frames.
func (l *WebSocketLink) Receive() ([]byte, error) {
	for {
		mt, data, err := l.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

// Close closes the websocket.
func (l *WebSocketLink) Close() error {
	return l.conn.Close()
}

// maxStreamMessage bounds a framed message on a stream link.
const maxStreamMessage = 4096

// StreamLink frames messages on a byte stream as
//
//	length(2 LE) | message | crc16(2 LE)
//
// where the CRC covers length and message.
type StreamLink struct {
	rw  io.ReadWriteCloser
	r   *bufio.Reader
	wmu sync.Mutex
}

// NewStreamLink frames messages over rw.
func NewStreamLink(rw io.ReadWriteCloser) *StreamLink {
	return &StreamLink{rw: rw, r: bufio.NewReader(rw)}
}

// OpenSerial opens a serial port to a gateway (8N1).
func OpenSerial(portName string, baudRate int) (*StreamLink, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("%w: serial port %s: %v", ErrUnreachable, portName, err)
	}
	return NewStreamLink(port), nil
}

// Send writes one framed message.
func (l *StreamLink) Send(msg []byte) error {
	if len(msg) > maxStreamMessage {
		return ErrMessageTooLarge
	}
	frame := binary.LittleEndian.AppendUint16(make([]byte, 0, len(msg)+4), uint16(len(msg)))
	frame = crc.Append(append(frame, msg...))

	l.wmu.Lock()
	defer l.wmu.Unlock()
	_, err := l.rw.Write(frame)
	return err
}

// Receive reads the next framed message. Frames failing the CRC are skipped.
func (l *StreamLink) Receive() ([]byte, error) {
	for {
		var hdr [2]byte
		if _, err := io.ReadFull(l.r, hdr[:]); err != nil {
			return nil, err
		}
		n := int(binary.LittleEndian.Uint16(hdr[:]))
		if n > maxStreamMessage {
			continue
		}
		rest := make([]byte, n+crc.Size)
		if _, err := io.ReadFull(l.r, rest); err != nil {
			return nil, err
		}
		frame := append(hdr[:], rest...)
		if !crc.Verify(frame) {
			continue
		}
		return rest[:n], nil
	}
}

// Close closes the underlying stream.
func (l *StreamLink) Close() error {
	return l.rw.Close()
}
