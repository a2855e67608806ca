package beacon

import (
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
)

// EventKind identifies what an Event reports.
type EventKind string

// Event kinds.
const (
	EventAdvertisingStarted EventKind = "advertising.started"
	EventAdvertisingStopped EventKind = "advertising.stopped"
	EventStateChanged       EventKind = "state.changed"
	EventConnection         EventKind = "connection.changed"
	EventConfigChanged      EventKind = "config.changed"
)

// Event is delivered to observers after the machine or the configurator
// changes something visible.
type Event struct {
	Kind EventKind
	Time time.Time

	// Set for EventAdvertisingStarted and EventConfigChanged; -1 when a
	// configuration write is not bound to a slot.
	Slot        int
	Descriptor  eddystone.Descriptor
	Connectable bool

	// Set for EventConnection.
	Connected bool

	// Set for EventConfigChanged.
	Characteristic string

	// Phase is set by the machine. Snapshot is set for every kind except
	// the advertising events.
	Phase    Phase
	Snapshot Snapshot
}

// Telemetry returns the TLM readings carried by an advertising event.
func (e Event) Telemetry() (eddystone.Telemetry, bool) {
	if f, ok := e.Descriptor.Frame.(*eddystone.TLMFrame); ok {
		return f.Telemetry, true
	}
	return eddystone.Telemetry{}, false
}

// Observer receives events synchronously. It must not block and must not
// call back into the Machine.
type Observer func(Event)

// Events fans events out to observers. The zero value is ready to use and
// a nil *Events drops everything.
type Events struct {
	mu        sync.RWMutex
	observers []Observer
}

// Subscribe registers an observer.
func (e *Events) Subscribe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

func (e *Events) publish(ev Event) {
	if e == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, o := range e.observers {
		o(ev)
	}
}
