package beacon

import (
	"errors"
	"testing"
)

func TestNewState_Validation(t *testing.T) {
	tests := []struct {
		name     string
		settings Settings
	}{
		{"no slots", Settings{Slots: 0, TxPowerLevels: testLevels}},
		{"no levels", Settings{Slots: 5}},
		{"unsorted levels", Settings{Slots: 5, TxPowerLevels: []int8{0, -4}}},
		{"duplicate levels", Settings{Slots: 5, TxPowerLevels: []int8{-4, -4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewState(tt.settings)
			if !errors.Is(err, ErrInvalidValue) {
				t.Errorf("NewState() error = %v, want ErrInvalidValue", err)
			}
		})
	}
}

func TestState_AdvIntervalClamped(t *testing.T) {
	st := newTestState(t, 5)

	tests := []struct {
		in   int
		want uint16
	}{
		{0, MinAdvIntervalMS},
		{99, MinAdvIntervalMS},
		{100, 100},
		{1500, 1500},
		{10240, 10240},
		{65535, MaxAdvIntervalMS},
	}

	for _, tt := range tests {
		if got := st.SetAdvIntervalMS(tt.in); got != tt.want {
			t.Errorf("SetAdvIntervalMS(%d) = %d, want %d", tt.in, got, tt.want)
		}
		if got := st.AdvIntervalMS(); got != tt.want {
			t.Errorf("AdvIntervalMS() after %d = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestState_RadioTxPowerSnapsToLevels(t *testing.T) {
	st := newTestState(t, 5)

	tests := []struct {
		in   int
		want int8
	}{
		{-100, -30},
		{-30, -30},
		{-25, -30}, // tie goes to the lower level
		{-24, -20},
		{-13, -12},
		{-2, -4},
		{3, 4},
		{20, 4},
	}

	for _, tt := range tests {
		if got := st.SetRadioTxPower(2, tt.in); got != tt.want {
			t.Errorf("SetRadioTxPower(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}

	if got := st.RadioTxPower(0); got != 0 {
		t.Errorf("slot 0 power = %d, want untouched 0", got)
	}
}

func TestState_ActiveSlotClamped(t *testing.T) {
	st := newTestState(t, 5)

	if got := st.SetActiveSlot(3); got != 3 {
		t.Errorf("SetActiveSlot(3) = %d", got)
	}
	if got := st.SetActiveSlot(9); got != 4 {
		t.Errorf("SetActiveSlot(9) = %d, want last slot 4", got)
	}
	if got := st.SetActiveSlot(-1); got != 4 {
		t.Errorf("SetActiveSlot(-1) = %d, want last slot 4", got)
	}
}

func TestState_Relock(t *testing.T) {
	tests := []struct {
		from    LockState
		want    LockState
		changed bool
	}{
		{Unlocked, Locked, true},
		{UnlockedNoRelock, UnlockedNoRelock, false},
		{Locked, Locked, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String(), func(t *testing.T) {
			st := newTestState(t, 5)
			st.SetLockState(tt.from)

			if got := st.Relock(); got != tt.changed {
				t.Errorf("Relock() = %v, want %v", got, tt.changed)
			}
			if got := st.LockState(); got != tt.want {
				t.Errorf("LockState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLockState(t *testing.T) {
	for _, l := range []LockState{Locked, Unlocked, UnlockedNoRelock} {
		got, err := ParseLockState(l.String())
		if err != nil || got != l {
			t.Errorf("ParseLockState(%q) = %v, %v", l.String(), got, err)
		}
	}
	if _, err := ParseLockState("open"); !errors.Is(err, ErrInvalidValue) {
		t.Errorf("ParseLockState(open) error = %v", err)
	}
}

func TestState_Snapshot(t *testing.T) {
	st := newTestState(t, 3)
	st.SetActiveSlot(1)
	st.SetRemainConnectable(true)

	snap := st.Snapshot()
	if snap.ActiveSlot != 1 || !snap.RemainConnectable || snap.AdvIntervalMS != 1000 {
		t.Errorf("Snapshot() = %+v", snap)
	}

	snap.RadioTxPower[0] = 99
	if st.RadioTxPower(0) == 99 {
		t.Error("Snapshot shares the radio power table")
	}
}
