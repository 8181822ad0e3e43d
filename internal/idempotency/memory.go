package idempotency

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	result    []byte
	done      bool
	expiresAt time.Time
}

// MemoryStore is a process-local Store for tests and single-instance development.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Reserve(_ context.Context, key string, lease time.Duration) (bool, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if e, ok := s.entries[key]; ok && now.Before(e.expiresAt) {
		if !e.done {
			return false, nil, ErrInProgress
		}
		return false, e.result, nil
	}
	s.entries[key] = memoryEntry{expiresAt: now.Add(lease)}
	return true, nil, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, result []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{result: result, done: true, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
