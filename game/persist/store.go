package persist

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
)

var ErrNotFound = errors.New("persisted session not found")

// SessionStore is the durable backend the workers write to.
type SessionStore interface {
	Save(ctx context.Context, sessionID string, data []byte) error
}

// Loader reads back what a SessionStore saved.
type Loader interface {
	Load(ctx context.Context, sessionID string) ([]byte, error)
	List(ctx context.Context) ([]string, error)
}

// Deleter removes what a SessionStore saved. Deleting an unknown id returns
// ErrNotFound.
type Deleter interface {
	Delete(ctx context.Context, sessionID string) error
}

// MemoryStore is an in-process SessionStore and Loader.
type MemoryStore struct {
	blobs map[string][]byte
	saves map[string]int
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blobs: make(map[string][]byte),
		saves: make(map[string]int),
	}
}

func (m *MemoryStore) Save(ctx context.Context, sessionID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[sessionID] = slices.Clone(data)
	m.saves[sessionID]++
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return slices.Clone(data), nil
}

func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	ids := make([]string, 0, len(m.blobs))
	for id := range m.blobs {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	sort.Strings(ids)
	return ids, nil
}

// Saves returns how many times sessionID has been saved.
func (m *MemoryStore) Saves(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[sessionID]
}

// Delete forgets a session.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blobs[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.blobs, sessionID)
	delete(m.saves, sessionID)
	return nil
}
