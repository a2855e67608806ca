package timer

import (
	"sync"
	"time"
)

// Manual is a Service driven by Advance instead of the wall clock.
// Callbacks run synchronously inside Advance, in expiry order.
type Manual struct {
	mu     sync.Mutex
	now    time.Duration
	next   uint64
	timers map[uint64]*manualTimer
}

type manualTimer struct {
	due       time.Duration
	period    time.Duration
	repeating bool
	fn        Func
}

// NewManual returns a clock at time zero.
func NewManual() *Manual {
	return &Manual{timers: make(map[uint64]*manualTimer)}
}

// Start implements Service.
func (m *Manual) Start(period time.Duration, repeating bool, fn Func) Handle {
	if period <= 0 {
		period = time.Nanosecond
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	m.timers[m.next] = &manualTimer{
		due:       m.now + period,
		period:    period,
		repeating: repeating,
		fn:        fn,
	}
	return Handle{gen: m.next}
}

// Stop implements Service.
func (m *Manual) Stop(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.timers, h.gen)
}

// Advance moves the clock forward by d, firing every timer that falls due.
// Timers started by callbacks fire too if they fall due within d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d

	for {
		gen, t := m.earliest()
		if t == nil || t.due > target {
			break
		}

		m.now = t.due
		if t.repeating {
			t.due += t.period
		} else {
			delete(m.timers, gen)
		}

		m.mu.Unlock()
		t.fn(Handle{gen: gen})
		m.mu.Lock()
	}

	m.now = target
	m.mu.Unlock()
}

// Now returns the elapsed manual time.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Active reports whether h is still scheduled.
func (m *Manual) Active(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.timers[h.gen]
	return ok
}

// Period returns the period h was started with.
func (m *Manual) Period(h Handle) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[h.gen]
	if !ok {
		return 0, false
	}
	return t.period, true
}

// Pending returns how many timers are scheduled.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// earliest returns the next timer to fire; ties go to the older timer.
// Caller holds m.mu.
func (m *Manual) earliest() (uint64, *manualTimer) {
	var (
		bestGen uint64
		best    *manualTimer
	)
	for gen, t := range m.timers {
		if best == nil || t.due < best.due || (t.due == best.due && gen < bestGen) {
			bestGen, best = gen, t
		}
	}
	return bestGen, best
}
