package store

import (
	"context"
	"sync"
	"time"

	"tagconsent/pkg/platform/sentinel"
)

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// InMemoryStore keeps consent records in process memory. Used for tests and
// single-instance deployments without a persistent backend.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]memoryEntry
	now     func() time.Time
}

// MemoryOption configures an InMemoryStore.
type MemoryOption func(*InMemoryStore)

// WithMemoryClock overrides the clock used for expiry checks.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		s.now = now
	}
}

// NewInMemory constructs an empty in-memory backend.
func NewInMemory(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		records: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *InMemoryStore) Get(_ context.Context, visitorID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.records[visitorID]
	if !ok || !s.now().Before(entry.expiresAt) {
		return nil, sentinel.ErrNotFound
	}
	out := make([]byte, len(entry.payload))
	copy(out, entry.payload)
	return out, nil
}

func (s *InMemoryStore) Put(_ context.Context, visitorID string, payload []byte, ttl time.Duration) error {
	stored := make([]byte, len(payload))
	copy(stored, payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[visitorID] = memoryEntry{payload: stored, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, visitorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, visitorID)
	return nil
}
