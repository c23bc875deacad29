package session

import (
	"bytes"
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
	cursors map[string]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
		cursors: make(map[string]string),
	}
}

// Upsert implements Store.
func (s *MemoryStore) Upsert(_ context.Context, rec Record) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.records[rec.SourceID]; ok && !rec.Newer(cur) {
		return false, nil
	}
	rec.Payload = bytes.Clone(rec.Payload)
	s.records[rec.SourceID] = rec
	return true, nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, sourceID string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[sourceID]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrNotFound, sourceID)
	}
	return rec, nil
}

// Count implements Store.
func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// ReadCursor implements Store.
func (s *MemoryStore) ReadCursor(_ context.Context, stream string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursors[stream], nil
}

// WriteCursor implements Store.
func (s *MemoryStore) WriteCursor(_ context.Context, stream, cursor string) error {
	s.mu.Lock()
	s.cursors[stream] = cursor
	s.mu.Unlock()
	return nil
}
