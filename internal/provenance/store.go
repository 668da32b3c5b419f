package provenance

import (
	"context"
	"time"

	"github.com/google/uuid"

	"capstate/pkg/domain"
)

// Store persists evidence-log entries. Append-only by contract: no
// implementation exposes update or delete.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByCapsule(ctx context.Context, capsuleID domain.CapsuleID) ([]Event, error)
}

// Publisher stamps and appends evidence events. It is the single write path
// into the log so ID and timestamp handling stay consistent across engines.
type Publisher struct {
	store Store
}

func NewPublisher(store Store) *Publisher {
	return &Publisher{store: store}
}

func (p *Publisher) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return p.store.Append(ctx, event)
}

// Tee fans every append out to all sinks, in order. Used to pair a durable
// store with the Kafka sink without the engines knowing about either.
type Tee []Store

func (t Tee) Append(ctx context.Context, event Event) error {
	for _, s := range t {
		if err := s.Append(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (t Tee) ListByCapsule(ctx context.Context, capsuleID domain.CapsuleID) ([]Event, error) {
	if len(t) == 0 {
		return nil, nil
	}
	return t[0].ListByCapsule(ctx, capsuleID)
}
