package beacon

import (
	"context"
	"errors"

	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
	"github.com/nerrad567/gray-logic-beacon/internal/slot"
)

// Selection is the slot chosen for the next advertisement.
type Selection struct {
	Slot       int
	Record     slot.Record
	Descriptor eddystone.Descriptor
}

// Selector picks the next eligible slot round-robin, starting after the
// active slot and wrapping around.
type Selector struct {
	store  *slot.Store
	state  *State
	tlm    eddystone.TelemetrySource
	logger Logger
}

// NewSelector creates a selector. tlm supplies readings for TLM slots and
// may be nil.
func NewSelector(store *slot.Store, state *State, tlm eddystone.TelemetrySource) *Selector {
	return &Selector{
		store:  store,
		state:  state,
		tlm:    tlm,
		logger: noopLogger{},
	}
}

// SetLogger sets the logger.
func (s *Selector) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	s.logger = logger
}

// Next scans the slots after the active one and returns the first eligible
// slot as an encoded advertisement, making it the active slot.
//
// ok is false when no slot is eligible; that is not an error. A slot that
// was never written or whose record is corrupt counts as ineligible. Any
// other storage failure is returned.
func (s *Selector) Next(ctx context.Context) (Selection, bool, error) {
	n := s.store.Slots()
	start := s.state.ActiveSlot()

	for k := range n {
		idx := (start + 1 + k) % n

		rec, err := s.store.Get(ctx, idx)
		switch {
		case errors.Is(err, slot.ErrNotFound):
			continue
		case errors.Is(err, slot.ErrCorruptRecord):
			s.logger.Debug("skipping corrupt slot", "slot", idx, "error", err)
			continue
		case err != nil:
			return Selection{}, false, err
		}
		if !rec.Eligible() {
			continue
		}

		frame, err := eddystone.NewFrame(rec.FrameType, rec.AdvTxPower, rec.Payload, s.tlm)
		if err != nil {
			s.logger.Debug("skipping unencodable slot", "slot", idx, "error", err)
			continue
		}
		desc, err := eddystone.Describe(frame, s.state.RemainConnectable(), s.state.AdvIntervalMS(), rec.RadioTxPower)
		if err != nil {
			s.logger.Debug("skipping unencodable slot", "slot", idx, "error", err)
			continue
		}

		s.state.SetActiveSlot(idx)
		return Selection{Slot: idx, Record: rec, Descriptor: desc}, true, nil
	}

	return Selection{}, false, nil
}
