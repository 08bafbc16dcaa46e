package nuki

// State is the connection state of a Client.
type State int

const (
	// StateStartUp connects the transport and subscribes to both channels.
	StateStartUp State = iota

	// StateCheckPaired looks for stored credentials.
	StateCheckPaired

	// StateStartPairingDelay gives the lock time to enter pairing mode.
	StateStartPairingDelay

	// StatePairing runs the pairing handshake.
	StatePairing

	// StateConnected exchanges encrypted commands.
	StateConnected
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateStartUp:
		return "StartUp"
	case StateCheckPaired:
		return "CheckPaired"
	case StateStartPairingDelay:
		return "StartPairingDelay"
	case StatePairing:
		return "Pairing"
	case StateConnected:
		return "Connected"
	default:
		return "Unknown"
	}
}
