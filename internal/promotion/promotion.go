// Package promotion encodes the lifecycle ladder and transition legality.
// Transitions are validated explicitly; callers never compare stage strings
// themselves.
package promotion

import (
	"fmt"
	"time"

	"capstate/internal/capsule/models"
	"capstate/pkg/platform/sentinel"
)

// Result reports what Advance did.
type Result string

const (
	// Advanced: the record moved to the target stage.
	Advanced Result = "advanced"
	// NoOp: the record was already at the target stage. Idempotent re-runs
	// hit this path; nothing is mutated, timestamps included.
	NoOp Result = "noop"
)

// CanAdvance reports whether a transition from current to target is legal,
// ignoring the lock. Legal means target is the immediate next rung, or
// current already equals target (idempotent no-op).
func CanAdvance(current, target models.Stage) error {
	ci, ti := current.Index(), target.Index()
	if ci < 0 {
		return fmt.Errorf("unknown current stage %q: %w", current, sentinel.ErrOutOfOrder)
	}
	if ti < 0 {
		return fmt.Errorf("unknown target stage %q: %w", target, sentinel.ErrOutOfOrder)
	}
	if ci == ti {
		return nil
	}
	if ti != ci+1 {
		return fmt.Errorf("transition %s -> %s skips the ladder: %w", current, target, sentinel.ErrOutOfOrder)
	}
	return nil
}

// Advance moves rec to target if the transition is legal. The record is
// mutated if and only if a real transition happens; illegal transitions and
// no-ops never touch timestamps.
func Advance(rec *models.ProductRecord, target models.Stage, now time.Time) (Result, error) {
	if rec.Promotion.Locked {
		return "", fmt.Errorf("advance to %s: %w", target, sentinel.ErrLocked)
	}
	if err := CanAdvance(rec.Promotion.Stage, target); err != nil {
		return "", err
	}
	if rec.Promotion.Stage == target {
		return NoOp, nil
	}
	t := now.UTC()
	rec.Promotion.Stage = target
	rec.Promotion.LastTransitionAt = &t
	return Advanced, nil
}
