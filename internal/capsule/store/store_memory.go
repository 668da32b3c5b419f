package store

import (
	"context"
	"sync"

	"capstate/internal/capsule/models"
	"capstate/pkg/domain"
	"capstate/pkg/platform/sentinel"
)

// InMemoryStore keeps state documents in process memory. Documents are
// deep-copied on both Load and Save so callers can never mutate the stored
// document outside the Save contract.
type InMemoryStore struct {
	mu     sync.RWMutex
	states map[domain.CapsuleID]*models.CapsuleState
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{states: make(map[domain.CapsuleID]*models.CapsuleState)}
}

func (s *InMemoryStore) Load(_ context.Context, capsuleID domain.CapsuleID) (*models.CapsuleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[capsuleID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return state.Clone(), nil
}

func (s *InMemoryStore) Save(_ context.Context, state *models.CapsuleState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	// UpdatedAt is the service's to stamp: an idempotent re-run that changes
	// nothing must not drift the document.
	stored := state.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.CapsuleID] = stored
	return nil
}
