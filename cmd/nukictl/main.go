// nukictl pairs with and controls Nuki Smart Locks through a BLE gateway.
//
// Usage:
//
//	nukictl [--config nukible.yaml] [--verbose] <command>
//
// Commands:
//
//	pair                    pair with the lock and store the credentials
//	request <command> [hex] send a command, e.g. "request KeyturnerStates"
//	unpair                  forget the stored credentials
//	discover                list gateways on the local network
//	decode-error <byte>     explain an error code reported by a lock
//	simulate                serve a simulated lock as a gateway
//
// Example:
//
//	nukictl --url ws://gateway.local:8733/ws --lock 54:D2:72:AB:CD:EF pair
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
