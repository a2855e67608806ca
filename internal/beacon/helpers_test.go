package beacon

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
	"github.com/nerrad567/gray-logic-beacon/internal/slot"
)

var testLevels = []int8{-30, -20, -16, -12, -8, -4, 0, 4}

func newTestState(t *testing.T, slots int) *State {
	t.Helper()
	st, err := NewState(Settings{
		Slots:         slots,
		AdvIntervalMS: 1000,
		RadioTxPower:  0,
		AdvTxPower:    -20,
		TxPowerLevels: testLevels,
		LockState:     Unlocked,
	})
	if err != nil {
		t.Fatalf("NewState() error = %v", err)
	}
	return st
}

func newTestStore(t *testing.T, slots int) (*slot.Store, *faultyBackend) {
	t.Helper()
	backend := &faultyBackend{MemoryBackend: slot.NewMemoryBackend()}
	store, err := slot.NewStore(backend, slots, 5)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	return store, backend
}

// faultyBackend wraps MemoryBackend and fails Get for selected tags.
type faultyBackend struct {
	*slot.MemoryBackend

	mu      sync.Mutex
	failGet map[uint16]error
}

func (f *faultyBackend) failOn(tag uint16, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failGet == nil {
		f.failGet = make(map[uint16]error)
	}
	f.failGet[tag] = err
}

func (f *faultyBackend) Get(ctx context.Context, tag uint16) ([]byte, error) {
	f.mu.Lock()
	err := f.failGet[tag]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return f.MemoryBackend.Get(ctx, tag)
}

func urlConfig(t *testing.T, rawURL string) slot.Config {
	t.Helper()
	payload, err := eddystone.EncodeURL(rawURL)
	if err != nil {
		t.Fatalf("EncodeURL(%q) error = %v", rawURL, err)
	}
	return slot.Config{
		FrameType:    eddystone.FrameURL,
		Payload:      payload,
		RadioTxPower: 0,
		AdvTxPower:   -20,
		AdvInterval:  1000,
	}
}

func uidConfig() slot.Config {
	payload := make([]byte, eddystone.UIDPayloadLength)
	for i := range payload {
		payload[i] = byte(i + 1)
	}
	return slot.Config{
		FrameType:  eddystone.FrameUID,
		Payload:    payload,
		AdvTxPower: -18,
	}
}

func tlmConfig() slot.Config {
	return slot.Config{FrameType: eddystone.FrameTLM, TLMVersion: eddystone.TLMVersionPlain}
}

func mustSet(t *testing.T, store *slot.Store, index int, cfg slot.Config) {
	t.Helper()
	if err := store.Set(context.Background(), index, cfg); err != nil {
		t.Fatalf("Set(%d) error = %v", index, err)
	}
}

type radioStart struct {
	desc        eddystone.Descriptor
	connectable bool
}

// fakeRadio records calls from the machine.
type fakeRadio struct {
	mu       sync.Mutex
	starts   []radioStart
	stops    int
	startErr error
}

func (r *fakeRadio) Start(desc eddystone.Descriptor, connectable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.starts = append(r.starts, radioStart{desc: desc, connectable: connectable})
	return nil
}

func (r *fakeRadio) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRadio) startCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.starts)
}

func (r *fakeRadio) stopCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops
}

func (r *fakeRadio) last() radioStart {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.starts) == 0 {
		return radioStart{}
	}
	return r.starts[len(r.starts)-1]
}

// fixedSensor returns constant readings.
type fixedSensor struct {
	mv   uint16
	temp int16
}

func (s fixedSensor) BatteryVoltage() uint16 { return s.mv }
func (s fixedSensor) Temperature() int16     { return s.temp }

var errDisk = errors.New("disk on fire")
