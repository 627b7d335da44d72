package profile

import (
	"context"
	"sync"
)

// MemoryPersistence keeps the profile id in process memory.
type MemoryPersistence struct {
	mu    sync.RWMutex
	id    string
	saves int
}

// NewMemoryPersistence returns a store preloaded with id (may be empty).
func NewMemoryPersistence(id string) *MemoryPersistence {
	return &MemoryPersistence{id: id}
}

func (m *MemoryPersistence) Load(_ context.Context) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.id == "" {
		return "", ErrNoProfile
	}

	return m.id, nil
}

func (m *MemoryPersistence) Save(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.id = id
	m.saves++

	return nil
}

// Saves reports how many times Save was called.
func (m *MemoryPersistence) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.saves
}
