package audit

import (
	"context"
	"sync"
)

// InMemoryStore keeps audit events in process memory for tests and dev.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[string][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[string][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.VisitorID] = append(s.events[event.VisitorID], event)
	return nil
}

func (s *InMemoryStore) ListByVisitor(_ context.Context, visitorID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events[visitorID]))
	copy(out, s.events[visitorID])
	return out, nil
}
