package provenance

import (
	"context"
	"sync"

	"capstate/pkg/domain"
)

// InMemoryStore keeps the evidence log in process memory. Tests and
// single-shot batch runs use it; everything else should use postgres.
type InMemoryStore struct {
	mu     sync.RWMutex
	events map[domain.CapsuleID][]Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[domain.CapsuleID][]Event)}
}

func (s *InMemoryStore) Append(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.CapsuleID] = append(s.events[event.CapsuleID], event)
	return nil
}

func (s *InMemoryStore) ListByCapsule(_ context.Context, capsuleID domain.CapsuleID) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Event{}, s.events[capsuleID]...), nil
}
