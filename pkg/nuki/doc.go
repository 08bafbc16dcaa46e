// Package nuki is a client for Nuki Smart Locks.
//
// A Client owns the connection to one lock. It connects through a
// transport.Transport, pairs on first use, persists the resulting
// credentials in a store.Store, and then exchanges encrypted commands.
//
// # Lifecycle
//
//	StartUp ──connect ok──> CheckPaired ──credentials──> Connected
//	   ^                        │                           │
//	   │                        └──none──> StartPairingDelay │
//	   │                                        │            │
//	   │                                        v            │
//	   └──────failure / disconnect─────────── Pairing ───────┘
//
// All protocol state is owned by the goroutine running Client.Run.
// Transport callbacks only decode notifications and post events to it.
//
// # Usage
//
//	config := nuki.DefaultClientConfig()
//	config.Address = "54:D2:72:AA:BB:CC"
//	config.Transport = gateway
//	config.Store = db
//	client, err := nuki.NewClient(config)
//	go client.Run(ctx)
//
//	client.RequestData(message.CommandKeyturnerStates)
//	for ev := range client.Events() {
//		switch e := ev.(type) {
//		case nuki.ResponseReceived:
//			// e.Payload
//		}
//	}
package nuki
