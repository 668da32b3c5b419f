package provenance

import (
	"context"
	"fmt"

	"capstate/pkg/domain"
)

// Inbox adapts a channel to the Store interface so a slow sink can sit behind
// a Worker instead of on the request path. Write-only.
type Inbox chan Event

func (i Inbox) Append(ctx context.Context, event Event) error {
	select {
	case i <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i Inbox) ListByCapsule(context.Context, domain.CapsuleID) ([]Event, error) {
	return nil, fmt.Errorf("inbox is write-only")
}

// Worker consumes evidence events from a channel and persists them. It keeps
// background publishing off the engines' critical path: the service emits
// into the inbox and the worker owns the sink round-trips.
type Worker struct {
	store Store
	inbox <-chan Event
}

func NewWorker(store Store, inbox <-chan Event) *Worker {
	return &Worker{store: store, inbox: inbox}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				return err
			}
		}
	}
}
