// Package timer provides the one-shot and repeating timers that drive the
// advertising state machine.
//
// Every Start returns a fresh Handle whose generation is never reused.
// Callbacks receive the handle they were started with, so a callback that
// was already in flight when its timer was stopped or replaced can tell it
// is stale by comparing against the handle its owner currently holds.
package timer

import (
	"sync"
	"time"
)

// Handle identifies one started timer. The zero Handle refers to no timer.
type Handle struct {
	gen uint64
}

// IsZero reports whether h refers to no timer.
func (h Handle) IsZero() bool { return h.gen == 0 }

// Generation returns the monotonically increasing generation of h.
func (h Handle) Generation() uint64 { return h.gen }

// Func is called when a timer expires.
type Func func(h Handle)

// Service starts and stops timers. Stop on the zero handle or an
// already-stopped handle does nothing.
type Service interface {
	Start(period time.Duration, repeating bool, fn Func) Handle
	Stop(h Handle)
}

// Scheduler is the wall-clock Service built on time.AfterFunc.
// Callbacks run on their own goroutines.
type Scheduler struct {
	mu     sync.Mutex
	next   uint64
	timers map[uint64]*scheduled
	closed bool
}

type scheduled struct {
	t         *time.Timer
	period    time.Duration
	repeating bool
	fn        Func
}

// NewScheduler returns a running scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{timers: make(map[uint64]*scheduled)}
}

// Start implements Service.
func (s *Scheduler) Start(period time.Duration, repeating bool, fn Func) Handle {
	if period <= 0 {
		period = time.Nanosecond
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Handle{}
	}

	s.next++
	gen := s.next
	entry := &scheduled{period: period, repeating: repeating, fn: fn}
	entry.t = time.AfterFunc(period, func() { s.fire(gen) })
	s.timers[gen] = entry
	return Handle{gen: gen}
}

// Stop implements Service.
func (s *Scheduler) Stop(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.timers[h.gen]; ok {
		entry.t.Stop()
		delete(s.timers, h.gen)
	}
}

// Close stops every timer. Later Starts return the zero handle.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for gen, entry := range s.timers {
		entry.t.Stop()
		delete(s.timers, gen)
	}
	s.closed = true
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	entry, ok := s.timers[gen]
	if !ok {
		s.mu.Unlock()
		return
	}
	if entry.repeating {
		entry.t.Reset(entry.period)
	} else {
		delete(s.timers, gen)
	}
	s.mu.Unlock()

	entry.fn(Handle{gen: gen})
}
