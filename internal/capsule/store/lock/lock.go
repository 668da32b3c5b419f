// Package lock provides the per-capsule exclusive lock. Every unit of work
// acquires the capsule's lock before Load and releases it after Save,
// including on error paths; concurrent mutation of the same capsule document
// is never permitted.
package lock

import (
	"context"

	"capstate/pkg/domain"
)

// Release undoes an acquisition. Safe to call exactly once.
type Release func(ctx context.Context) error

// Locker grants exclusive access to one capsule's document for the duration
// of a load-compute-save cycle.
type Locker interface {
	// Acquire blocks until the capsule lock is held or ctx is done.
	Acquire(ctx context.Context, capsuleID domain.CapsuleID) (Release, error)
}
