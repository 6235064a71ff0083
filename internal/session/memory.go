package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryStore keeps sessions in process memory. States are stored
// serialized, so callers never share mutable structure with the store
// and every Get exercises the same round-trip as a durable backend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key Key) (*State, error) {
	s.mu.RLock()
	data, ok := s.sessions[key.String()]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("corrupt session %s: %w", key, err)
	}
	return &st, nil
}

func (s *MemoryStore) Put(_ context.Context, key Key, st *State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", key, err)
	}
	s.mu.Lock()
	s.sessions[key.String()] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) error {
	s.mu.Lock()
	delete(s.sessions, key.String())
	s.mu.Unlock()
	return nil
}
