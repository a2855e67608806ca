package slot

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Backend is a tag-addressed non-volatile key-value store.
//
// Get returns ErrNotFound when the tag has never been written.
// Implementations must make each Put independently durable.
type Backend interface {
	Put(ctx context.Context, tag uint16, value []byte) error
	Get(ctx context.Context, tag uint16) ([]byte, error)
}

// Store persists up to N slot records and the lock key.
//
// Slot i lives at tag base+i and the lock key at base+N.
// Operations are synchronous; one mutex keeps a factory reset from
// interleaving with individual writes.
type Store struct {
	mu      sync.Mutex
	backend Backend
	slots   int
	baseTag uint16
}

// NewStore creates a store for the given number of slots.
func NewStore(backend Backend, slots int, baseTag uint16) (*Store, error) {
	if backend == nil {
		return nil, fmt.Errorf("slot: nil backend")
	}
	if slots < 1 || int(baseTag)+slots > 0xFFFF {
		return nil, fmt.Errorf("slot: invalid layout: %d slots at base tag %d", slots, baseTag)
	}
	return &Store{backend: backend, slots: slots, baseTag: baseTag}, nil
}

// Slots returns the number of slots.
func (s *Store) Slots() int {
	return s.slots
}

// Clamp maps an out-of-range index to the last slot.
func (s *Store) Clamp(index int) int {
	if index < 0 || index >= s.slots {
		return s.slots - 1
	}
	return index
}

// Tag returns the storage tag for a slot index after clamping.
func (s *Store) Tag(index int) uint16 {
	return s.baseTag + uint16(s.Clamp(index))
}

// LockKeyTag returns the storage tag of the lock key.
func (s *Store) LockKeyTag() uint16 {
	return s.baseTag + uint16(s.slots)
}

// Get reads the record for a slot. Out-of-range indices read the last slot.
func (s *Store) Get(ctx context.Context, index int) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.get(ctx, s.Tag(index))
	if err != nil {
		return Record{}, err
	}
	return unmarshal(raw)
}

// Set stamps cfg with the storage marker and writes it.
// Out-of-range indices write the last slot.
func (s *Store) Set(ctx context.Context, index int, cfg Config) error {
	buf, err := marshal(cfg)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, s.Tag(index), buf)
}

// Clear overwrites a slot with 0xFF so it is no longer valid.
func (s *Store) Clear(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, s.Tag(index), clearedRecord())
}

// FactoryReset clears every slot in index order, then the lock key.
// The first failure stops the reset; writes before it remain applied.
func (s *Store) FactoryReset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i < s.slots; i++ {
		if err := s.put(ctx, s.baseTag+uint16(i), clearedRecord()); err != nil {
			return fmt.Errorf("clearing slot %d: %w", i, err)
		}
	}
	if err := s.put(ctx, s.LockKeyTag(), ClearedLockKey[:]); err != nil {
		return fmt.Errorf("clearing lock key: %w", err)
	}
	return nil
}

// SetLockKey persists the lock key.
func (s *Store) SetLockKey(ctx context.Context, key LockKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.put(ctx, s.LockKeyTag(), key[:])
}

// LockKey reads the persisted lock key.
func (s *Store) LockKey(ctx context.Context) (LockKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var key LockKey
	raw, err := s.get(ctx, s.LockKeyTag())
	if err != nil {
		return key, err
	}
	if len(raw) != LockKeyLength {
		return key, fmt.Errorf("%w: lock key is %d bytes", ErrCorruptRecord, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

func (s *Store) put(ctx context.Context, tag uint16, value []byte) error {
	if err := s.backend.Put(ctx, tag, value); err != nil {
		return fmt.Errorf("%w: put tag %d: %w", ErrBackend, tag, err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, tag uint16) ([]byte, error) {
	raw, err := s.backend.Get(ctx, tag)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get tag %d: %w", ErrBackend, tag, err)
	}
	return raw, nil
}
