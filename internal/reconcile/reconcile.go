// Package reconcile compares locally recorded belief against externally
// observed reality and folds unambiguous facts back into state with full
// provenance. It never fetches anything itself: the observed snapshot
// arrives pre-assembled from an excluded collaborator.
//
// Every discrepancy lands in exactly one bucket: adopt (a deterministic rule
// picked one candidate), escalate (ambiguous, queued for a human, zero
// mutation), or ignore (observation already matches belief).
package reconcile

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"capstate/internal/capsule/models"
	"capstate/internal/provenance"
	"capstate/pkg/domain"
)

const operation = "reconcile"

// LookImageSlot is the asset slot reconciliation currently resolves.
const LookImageSlot = "look_image"

// Observation is one product's observed external reality.
type Observation struct {
	CPI        domain.CPI  `json:"cpi"`
	MediaCount int         `json:"media_count"`
	Candidates []Candidate `json:"candidates"`
}

// Snapshot is the full observed-reality input for one pass.
type Snapshot struct {
	// Source names where the snapshot came from (recorded as provenance).
	Source       string                        `json:"source"`
	Observations map[domain.CPI]Observation    `json:"observations"`
	// Scope, when non-empty, restricts the pass to the listed CPIs.
	Scope map[domain.CPI]struct{} `json:"-"`
}

// Escalation is one ambiguous discrepancy queued for human review.
type Escalation struct {
	ID         string        `json:"id"`
	CPI        domain.CPI    `json:"cpi"`
	Handle     domain.Handle `json:"handle"`
	Reason     string        `json:"reason"`
	Candidates []Candidate   `json:"candidates,omitempty"`
}

// Result reports one reconciliation pass.
type Result struct {
	Adopted         int          `json:"adopted"`
	Escalated       int          `json:"escalated"`
	Ignored         int          `json:"ignored"`
	LockedSkipped   int          `json:"locked_skipped"`
	CapabilityFlips int          `json:"capability_flips"`
	Escalations     []Escalation `json:"escalations,omitempty"`

	// Events carries provenance for every adoption, escalation, and skip.
	Events []provenance.Event `json:"-"`
}

// Apply runs one reconciliation pass, mutating adopted records in place.
// Adoption without provenance is a contract violation, so every adoption
// produces its event in the same step that mutates the record. Reconciliation
// writes belief, not permission — the single audited exception is the
// metafield capability flip on a filename-rule hero adoption, which carries
// its own provenance entry.
func Apply(state *models.CapsuleState, snap Snapshot, now time.Time) (*Result, error) {
	res := &Result{}

	for handle, rec := range state.Products {
		cpi := rec.Identity.CPI
		if cpi.IsNil() {
			continue
		}
		obs, ok := snap.Observations[cpi]
		if !ok {
			continue
		}
		if len(snap.Scope) > 0 {
			if _, scoped := snap.Scope[cpi]; !scoped {
				continue
			}
		}

		if rec.Promotion.Locked {
			res.LockedSkipped++
			res.Events = append(res.Events, provenance.Event{
				CapsuleID: state.CapsuleID,
				Handle:    handle,
				CPI:       cpi,
				Kind:      provenance.KindSkip,
				Operation: operation,
				Reason:    "locked",
			})
			continue
		}

		reconcileRecord(state.CapsuleID, handle, rec, obs, snap.Source, now, res)
	}
	return res, nil
}

func reconcileRecord(capsuleID domain.CapsuleID, handle domain.Handle, rec *models.ProductRecord,
	obs Observation, source string, now time.Time, res *Result) {

	existing, hasBelief := rec.Assets[LookImageSlot]

	if len(obs.Candidates) == 0 {
		if !hasBelief {
			// Neither side has anything; drift the other way (we believe,
			// remote lacks) still needs a human.
			escalate(capsuleID, handle, rec, obs, "no_candidates_observed", res)
			return
		}
		escalate(capsuleID, handle, rec, obs, "belief_has_asset_observation_empty", res)
		return
	}

	for _, r := range rules {
		candidate, verdict := r.resolve(capsuleID, rec.Identity.CPI, obs.Candidates)
		switch verdict {
		case matched:
			if hasBelief && existing.MediaID == candidate.MediaID {
				res.Ignored++
				return
			}
			adopt(capsuleID, handle, rec, candidate, r.name, source, now, res)
			return
		case ambiguous:
			escalate(capsuleID, handle, rec, obs,
				fmt.Sprintf("multiple_candidates_%s", r.name), res)
			return
		}
	}

	escalate(capsuleID, handle, rec, obs, "no_deterministic_rule", res)
}

func adopt(capsuleID domain.CapsuleID, handle domain.Handle, rec *models.ProductRecord,
	candidate Candidate, ruleName, source string, now time.Time, res *Result) {

	if rec.Assets == nil {
		rec.Assets = make(map[string]models.AdoptedAsset)
	}
	rec.Assets[LookImageSlot] = models.AdoptedAsset{
		MediaID:   candidate.MediaID,
		Filename:  candidate.Filename,
		Position:  candidate.Position,
		Source:    source,
		Rule:      ruleName,
		AdoptedAt: now.UTC(),
	}
	res.Adopted++
	res.Events = append(res.Events, provenance.Event{
		CapsuleID: capsuleID,
		Handle:    handle,
		CPI:       rec.Identity.CPI,
		Kind:      provenance.KindAdoption,
		Operation: operation,
		Rule:      ruleName,
		Source:    source,
		Reason:    fmt.Sprintf("adopted %s as %s", candidate.MediaID, LookImageSlot),
		Timestamp: now.UTC(),
	})

	// Capability flip: only the filename rule is deterministic enough to
	// grant anything, and the grant gets its own provenance entry.
	if ruleName == RuleFilenameMatch && !rec.AllowedActions[models.ActionMetafieldWrite] {
		if rec.AllowedActions == nil {
			rec.AllowedActions = make(map[models.Action]bool)
		}
		rec.AllowedActions[models.ActionMetafieldWrite] = true
		res.CapabilityFlips++
		res.Events = append(res.Events, provenance.Event{
			CapsuleID: capsuleID,
			Handle:    handle,
			CPI:       rec.Identity.CPI,
			Kind:      provenance.KindMutation,
			Operation: operation,
			Action:    models.ActionMetafieldWrite.String(),
			Rule:      ruleName,
			Source:    source,
			Reason:    "metafield_write enabled by adopted look image",
			Timestamp: now.UTC(),
		})
	}
}

func escalate(capsuleID domain.CapsuleID, handle domain.Handle, rec *models.ProductRecord,
	obs Observation, reason string, res *Result) {

	esc := Escalation{
		ID:         uuid.NewString(),
		CPI:        rec.Identity.CPI,
		Handle:     handle,
		Reason:     reason,
		Candidates: obs.Candidates,
	}
	res.Escalated++
	res.Escalations = append(res.Escalations, esc)
	res.Events = append(res.Events, provenance.Event{
		ID:        esc.ID,
		CapsuleID: capsuleID,
		Handle:    handle,
		CPI:       rec.Identity.CPI,
		Kind:      provenance.KindEscalation,
		Operation: operation,
		Reason:    reason,
	})
}
