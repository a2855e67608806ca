package beacon

import (
	"fmt"
	"sync"
)

// Advertising interval bounds in milliseconds.
const (
	MinAdvIntervalMS = 100
	MaxAdvIntervalMS = 10240
)

// LockState is the configuration lock state.
type LockState uint8

// Lock states as exposed on the lock state characteristic.
const (
	Locked           LockState = 0x00
	Unlocked         LockState = 0x01
	UnlockedNoRelock LockState = 0x02
)

// String returns the config file spelling of l.
func (l LockState) String() string {
	switch l {
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	case UnlockedNoRelock:
		return "unlocked_no_relock"
	default:
		return fmt.Sprintf("lock_state(%d)", uint8(l))
	}
}

// IsUnlocked reports whether configuration writes are allowed.
func (l LockState) IsUnlocked() bool {
	return l == Unlocked || l == UnlockedNoRelock
}

// ParseLockState parses the config file spelling of a lock state.
func ParseLockState(s string) (LockState, error) {
	switch s {
	case "locked":
		return Locked, nil
	case "unlocked":
		return Unlocked, nil
	case "unlocked_no_relock":
		return UnlockedNoRelock, nil
	default:
		return 0, fmt.Errorf("%w: lock state %q", ErrInvalidValue, s)
	}
}

// Settings seeds a State.
type Settings struct {
	Slots             int
	AdvIntervalMS     int
	RadioTxPower      int
	AdvTxPower        int8
	TxPowerLevels     []int8
	RemainConnectable bool
	LockState         LockState
}

// State is the process-wide beacon context: the active slot, the lock
// state, the remain-connectable flag, the per-slot radio power table,
// the advertised power and the advertising interval.
//
// One State is created at startup and passed to every component.
// All accessors are safe for concurrent use and clamp on write.
type State struct {
	mu                sync.RWMutex
	slots             int
	active            int
	lock              LockState
	remainConnectable bool
	radioTx           []int8
	advTx             int8
	intervalMS        uint16
	levels            []int8
}

// NewState validates s and returns the initial state.
func NewState(s Settings) (*State, error) {
	if s.Slots < 1 {
		return nil, fmt.Errorf("%w: %d slots", ErrInvalidValue, s.Slots)
	}
	if len(s.TxPowerLevels) == 0 {
		return nil, fmt.Errorf("%w: no tx power levels", ErrInvalidValue)
	}
	for i := 1; i < len(s.TxPowerLevels); i++ {
		if s.TxPowerLevels[i] <= s.TxPowerLevels[i-1] {
			return nil, fmt.Errorf("%w: tx power levels must ascend", ErrInvalidValue)
		}
	}

	st := &State{
		slots:             s.Slots,
		lock:              s.LockState,
		remainConnectable: s.RemainConnectable,
		radioTx:           make([]int8, s.Slots),
		advTx:             s.AdvTxPower,
		intervalMS:        clampInterval(s.AdvIntervalMS),
		levels:            append([]int8(nil), s.TxPowerLevels...),
	}
	initial := st.snapTxPower(s.RadioTxPower)
	for i := range st.radioTx {
		st.radioTx[i] = initial
	}
	return st, nil
}

// Slots returns the number of slots.
func (s *State) Slots() int {
	return s.slots
}

// ActiveSlot returns the active slot index.
func (s *State) ActiveSlot() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// SetActiveSlot sets the active slot, clamping out-of-range indices to the
// last slot, and returns the index actually stored.
func (s *State) SetActiveSlot(index int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = s.clamp(index)
	return s.active
}

// AdvIntervalMS returns the global advertising interval.
func (s *State) AdvIntervalMS() uint16 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.intervalMS
}

// SetAdvIntervalMS clamps ms to [MinAdvIntervalMS, MaxAdvIntervalMS] and
// returns the stored value.
func (s *State) SetAdvIntervalMS(ms int) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intervalMS = clampInterval(ms)
	return s.intervalMS
}

// RadioTxPower returns the radio power of a slot.
func (s *State) RadioTxPower(index int) int8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.radioTx[s.clamp(index)]
}

// SetRadioTxPower snaps dbm to the nearest supported level, stores it for
// the slot and returns the stored level.
func (s *State) SetRadioTxPower(index int, dbm int) int8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	lvl := s.snapTxPower(dbm)
	s.radioTx[s.clamp(index)] = lvl
	return lvl
}

// AdvTxPower returns the advertised power at 0 m.
func (s *State) AdvTxPower() int8 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.advTx
}

// SetAdvTxPower sets the advertised power at 0 m.
func (s *State) SetAdvTxPower(dbm int8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advTx = dbm
}

// LockState returns the lock state.
func (s *State) LockState() LockState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lock
}

// SetLockState sets the lock state.
func (s *State) SetLockState(l LockState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lock = l
}

// Relock locks the beacon if it is unlocked with auto-relock enabled.
// It reports whether the state changed.
func (s *State) Relock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock != Unlocked {
		return false
	}
	s.lock = Locked
	return true
}

// RemainConnectable reports whether every advertisement is connectable.
func (s *State) RemainConnectable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.remainConnectable
}

// SetRemainConnectable sets the remain-connectable flag.
func (s *State) SetRemainConnectable(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remainConnectable = v
}

// TxPowerLevels returns a copy of the supported radio power levels.
func (s *State) TxPowerLevels() []int8 {
	return append([]int8(nil), s.levels...)
}

// Snapshot is a consistent copy of State for status reporting.
type Snapshot struct {
	ActiveSlot        int       `json:"active_slot"`
	LockState         LockState `json:"lock_state"`
	RemainConnectable bool      `json:"remain_connectable"`
	AdvIntervalMS     uint16    `json:"adv_interval_ms"`
	AdvTxPower        int8      `json:"adv_tx_power"`
	RadioTxPower      []int8    `json:"radio_tx_power"`
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		ActiveSlot:        s.active,
		LockState:         s.lock,
		RemainConnectable: s.remainConnectable,
		AdvIntervalMS:     s.intervalMS,
		AdvTxPower:        s.advTx,
		RadioTxPower:      append([]int8(nil), s.radioTx...),
	}
}

func (s *State) clamp(index int) int {
	if index < 0 || index >= s.slots {
		return s.slots - 1
	}
	return index
}

// snapTxPower returns the supported level nearest to dbm; ties go to the
// lower level.
func (s *State) snapTxPower(dbm int) int8 {
	best := s.levels[0]
	for _, lvl := range s.levels[1:] {
		if abs(int(lvl)-dbm) < abs(int(best)-dbm) {
			best = lvl
		}
	}
	return best
}

func clampInterval(ms int) uint16 {
	return uint16(max(MinAdvIntervalMS, min(ms, MaxAdvIntervalMS)))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
