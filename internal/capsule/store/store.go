// Package store persists capsule state documents. Saves are atomic whole-
// document replaces: a crash mid-save must leave the prior valid document
// intact, and no reader may ever observe a half-written document.
package store

import (
	"context"

	"capstate/internal/capsule/models"
	"capstate/pkg/domain"
)

// Store is the load/save contract for capsule state documents. Implementations
// validate the schema version on Load and refuse to operate on anything they
// do not recognize. Callers must not hold a loaded document open across
// long-running external calls; read, compute, and write back in one bounded
// unit of work.
type Store interface {
	// Load returns the state document for a capsule, or sentinel.ErrNotFound.
	Load(ctx context.Context, capsuleID domain.CapsuleID) (*models.CapsuleState, error)

	// Save atomically replaces the capsule's document.
	Save(ctx context.Context, state *models.CapsuleState) error
}
