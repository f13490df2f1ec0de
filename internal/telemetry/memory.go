package telemetry

import (
	"context"
	"sync"
)

// MemoryStore keeps readings in process. Nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	readings map[Facility]Reading
	hub      *Hub
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		readings: make(map[Facility]Reading),
		hub:      NewHub(),
	}
}

func (m *MemoryStore) Update(ctx context.Context, f Facility, r Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.readings[f] = r
	m.hub.Publish(f, r)
	return nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, f Facility) (<-chan Reading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current, ok := m.readings[f]
	if !ok {
		return m.hub.Subscribe(ctx, f, nil), nil
	}
	return m.hub.Subscribe(ctx, f, &current), nil
}

func (m *MemoryStore) Get(f Facility) (Reading, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readings[f]
	return r, ok
}

func (m *MemoryStore) Close() error {
	m.hub.Close()
	return nil
}

var _ Store = (*MemoryStore)(nil)
