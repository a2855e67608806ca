package slot

import (
	"context"
	"sync"
)

// MemoryBackend keeps tags in process memory. Values do not survive a restart.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[uint16][]byte
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[uint16][]byte)}
}

// Put implements Backend.
func (m *MemoryBackend) Put(ctx context.Context, tag uint16, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[tag] = append([]byte(nil), value...)
	return nil
}

// Get implements Backend.
func (m *MemoryBackend) Get(ctx context.Context, tag uint16) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[tag]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}
