// Package beacon runs the broadcast side of an Eddystone beacon.
//
// It owns the shared beacon state, picks the next slot to advertise and
// drives the advertising timing state machine that calls the radio.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                             beacon                               │
//	│                                                                  │
//	│  ┌───────────────┐   ┌───────────────┐   ┌───────────────────┐   │
//	│  │    Machine    │──▶│   Selector    │──▶│    slot.Store     │   │
//	│  │ (machine.go)  │   │ (selector.go) │   │  (tag-addressed)  │   │
//	│  │               │   │               │   └───────────────────┘   │
//	│  │ • grace timer │   │ • round robin │   ┌───────────────────┐   │
//	│  │ • window timer│   │ • eligibility │──▶│     eddystone     │   │
//	│  │ • uptime tick │   └───────────────┘   │   (frame codec)   │   │
//	│  └───────┬───────┘                       └───────────────────┘   │
//	│          │           ┌───────────────┐   ┌───────────────────┐   │
//	│          │           │ Configurator  │──▶│      State        │   │
//	│          │           │ (writes/reads)│   │ (active, lock, …) │   │
//	│          │           └───────────────┘   └───────────────────┘   │
//	└──────────│───────────────────────────────────────────────────────┘
//	           ▼
//	    Radio (BlueZ or log)
//
// # Phases
//
//	PowerOnAdvertising ──grace expiry──▶ NormalAdvertising ◀──window──┐
//	                                           │                      │
//	                                       connect                    │
//	                                           ▼                      │
//	                                       Connected ──disconnect─────┘
//
// A disconnect only clears the connected flag; the machine returns to
// NormalAdvertising at the next connectable-window expiry.
//
// # Thread Safety
//
// State, Machine and Configurator are safe for concurrent use. Observers
// are called synchronously, some while the machine lock is held, and must
// hand events off without blocking.
package beacon
