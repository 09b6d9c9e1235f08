package cache

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryBackend keeps entries in process memory. Entries are copied on the
// way in and out so callers never share bar slices with the cache.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[Key]Entry
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[Key]Entry)}
}

func (m *MemoryBackend) Load(_ context.Context, key Key) (*Entry, error) {
	m.mu.RLock()
	e, ok := m.items[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	e.Series = e.Series.Clone()
	return &e, nil
}

func (m *MemoryBackend) Save(_ context.Context, e *Entry, _ time.Duration) error {
	cp := *e
	cp.Series = e.Series.Clone()
	m.mu.Lock()
	m.items[e.Key()] = cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Close() error { return nil }
