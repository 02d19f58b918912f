package storage

import (
	"context"
	"sync"
)

// MemoryStore keeps slots in process memory.
type MemoryStore struct {
	slots map[string]string
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, slot string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.slots[slot]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, slot, value string) error {
	s.mu.Lock()
	s.slots[slot] = value
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, slot string) error {
	s.mu.Lock()
	delete(s.slots, slot)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Close() error { return nil }
