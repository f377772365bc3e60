package directory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ehr/ipd/pkg/apperr"
)

// Memory is a map-backed directory used by unit tests and local tooling.
// One instance can stand in for all three registries.
type Memory struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*Entry
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[uuid.UUID]*Entry)}
}

// Add registers an entry and returns its id.
func (m *Memory) Add(name string, active bool) uuid.UUID {
	id := uuid.New()
	m.mu.Lock()
	m.entries[id] = &Entry{ID: id, Name: name, Active: active}
	m.mu.Unlock()
	return id
}

func (m *Memory) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok, nil
}

func (m *Memory) Get(_ context.Context, id uuid.UUID) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil, apperr.NotFound("entry %s not found", id)
	}
	cp := *e
	return &cp, nil
}
