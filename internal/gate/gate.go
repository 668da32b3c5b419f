// Package gate is the read-only authorization evaluator. It answers exactly
// one question: "is this action allowed for this product right now?"
//
// It never mutates state, never infers outcomes, and never promotes or
// demotes products. The decision is allowed_actions[action] and nothing
// else; every other field is exposed only as diagnostic context.
package gate

import (
	"fmt"

	"capstate/internal/capsule/models"
	"capstate/pkg/domain"
	"capstate/pkg/platform/sentinel"
)

// Snapshot carries diagnostic context alongside a decision. It explains, it
// never decides.
type Snapshot struct {
	Stage           models.Stage           `json:"stage"`
	PreflightStatus models.PreflightStatus `json:"preflight_status"`
	ImageState      string                 `json:"image_state,omitempty"`
}

// Decision is the gate's answer.
type Decision struct {
	Allowed  bool     `json:"allowed"`
	Reason   string   `json:"reason,omitempty"`
	Snapshot Snapshot `json:"snapshot"`
}

// CanPerform evaluates whether action is allowed for the product identified
// by handle. Unknown actions and unknown products fail loudly; defaulting to
// a silent deny would hide caller bugs.
func CanPerform(state *models.CapsuleState, handle domain.Handle, action models.Action) (Decision, error) {
	if !action.IsValid() {
		return Decision{}, fmt.Errorf("action %q: %w", action, sentinel.ErrUnknownAction)
	}
	rec, ok := state.Products[handle]
	if !ok {
		return Decision{}, fmt.Errorf("product %q: %w", handle, sentinel.ErrNotFound)
	}

	snapshot := Snapshot{
		Stage:           rec.Promotion.Stage,
		PreflightStatus: rec.Preflight.Status,
		ImageState:      rec.Preflight.ImageState,
	}

	if rec.AllowedActions == nil {
		return Decision{
			Allowed:  false,
			Reason:   "allowed_actions_missing",
			Snapshot: snapshot,
		}, nil
	}

	// The authoritative rule. Nothing below this line may change Allowed.
	allowed := rec.AllowedActions[action]

	decision := Decision{Allowed: allowed, Snapshot: snapshot}
	if !allowed {
		decision.Reason = denialReason(rec, action)
	}
	return decision, nil
}

// denialReason derives a human-readable explanation for a denial. It is
// explanatory only and must not affect the decision.
func denialReason(rec *models.ProductRecord, action models.Action) string {
	if rec.Overrides.SourcingExcluded {
		return "sourcing_excluded=true"
	}
	if rec.Preflight.Status != "" && rec.Preflight.Status != models.PreflightGo {
		return fmt.Sprintf("preflight_status=%s", rec.Preflight.Status)
	}
	if action == models.ActionImageUpsert && rec.Preflight.ImageState != "" {
		return fmt.Sprintf("image_state=%s", rec.Preflight.ImageState)
	}
	return fmt.Sprintf("allowed_actions.%s=false", action)
}
