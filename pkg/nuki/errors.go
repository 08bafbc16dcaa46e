package nuki

import "errors"

// Configuration errors.
var (
	ErrTransportRequired = errors.New("nuki: transport is required")
	ErrStoreRequired     = errors.New("nuki: store is required")
	ErrAddressRequired   = errors.New("nuki: lock address is required")
	ErrInvalidIDType     = errors.New("nuki: invalid id type")
	ErrInvalidQueueSize  = errors.New("nuki: queue capacity must be positive")
)

// Runtime errors.
var (
	// ErrQueueFull is returned by Enqueue when the request queue stays full
	// for the enqueue timeout.
	ErrQueueFull = errors.New("nuki: request queue full")

	// ErrNoCredentials is returned when no valid credentials are stored.
	ErrNoCredentials = errors.New("nuki: no credentials")

	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("nuki: client already running")
)
