package nuki

import (
	"github.com/backkem/nukible/pkg/message"
	"github.com/backkem/nukible/pkg/pairing"
)

// Event is delivered to the application on Client.Events.
type Event interface {
	isClientEvent()
}

// PairingSucceeded is emitted once new credentials are stored.
type PairingSucceeded struct {
	Credentials pairing.Credentials
}

// PairingFailed is emitted when a pairing attempt fails. The client starts
// over from StartUp.
type PairingFailed struct {
	Err error
}

// ResponseReceived carries a command received from the lock.
type ResponseReceived struct {
	Command message.Command
	Payload []byte
}

// StatusReceived carries a command completion status.
type StatusReceived struct {
	Status message.Status
}

// ErrorReported carries an error report from the lock.
type ErrorReported struct {
	Err *message.LockError
}

// ResponseTimeout is emitted when a request got no answer in time.
type ResponseTimeout struct {
	Command message.Command
}

// RequestFailed is emitted when a request could not be sent. A failed write
// also takes the link down; the request is not retried.
type RequestFailed struct {
	Command message.Command
	Err     error
}

// Disconnected is emitted when the link to the lock drops.
type Disconnected struct {
	Reason error
}

// StateChanged is emitted on every connection state transition.
type StateChanged struct {
	State State
}

func (PairingSucceeded) isClientEvent() {}
func (PairingFailed) isClientEvent()    {}
func (ResponseReceived) isClientEvent() {}
func (StatusReceived) isClientEvent()   {}
func (ErrorReported) isClientEvent()    {}
func (ResponseTimeout) isClientEvent()  {}
func (RequestFailed) isClientEvent()    {}
func (Disconnected) isClientEvent()     {}
func (StateChanged) isClientEvent()     {}
