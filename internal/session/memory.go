package session

import (
	"context"
	"sync"
	"time"

	"user_console/internal/observability"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore keeps sessions in process. Used when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.entries, id)
		s.report()
		return nil, nil
	}

	data := make([]byte, len(e.data))
	copy(data, e.data)
	return data, nil
}

func (s *MemoryStore) Set(_ context.Context, id string, data []byte) error {
	if id == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
		}
	}

	stored := make([]byte, len(data))
	copy(stored, data)
	s.entries[id] = memoryEntry{data: stored, expiresAt: now.Add(s.ttl)}
	s.report()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)
	s.report()
	return nil
}

// Len returns the number of sessions held, expired ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *MemoryStore) report() {
	observability.GlobalMetrics.SessionsActive.Set(float64(len(s.entries)))
}
