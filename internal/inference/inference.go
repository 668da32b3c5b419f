// Package inference derives IMPORTED transitions from externally supplied
// evidence: manifest membership and anomaly acceptance. It performs no
// external verification calls and never invents facts the evidence does not
// prove.
package inference

import (
	"fmt"
	"time"

	"capstate/internal/capsule/models"
	"capstate/internal/promotion"
	"capstate/internal/provenance"
	"capstate/pkg/domain"
	dErrors "capstate/pkg/domain-errors"
)

const operation = "post_import_inference"

// Evidence is the input set for one inference pass. Handles absent from both
// sets are left completely untouched; that is an expected outcome, not a
// failure.
type Evidence struct {
	// ImportedHandles come from the authoritative combined import manifest.
	ImportedHandles map[domain.Handle]struct{}
	// AnomalyHandles are only considered when IncludeAnomalies is set. They
	// record an explicit human approval to ship despite preflight issues.
	AnomalyHandles   map[domain.Handle]struct{}
	IncludeAnomalies bool
	// ImageObservations are copied into state verbatim when present; they are
	// observations from the evidence rows, never validated against anything.
	ImageObservations map[domain.Handle]models.ImageExpectation
	// Scope, when non-empty, restricts the pass to the listed handles.
	Scope map[domain.Handle]struct{}
}

// HandleSet builds a membership set from a slice of handles.
func HandleSet(handles []domain.Handle) map[domain.Handle]struct{} {
	set := make(map[domain.Handle]struct{}, len(handles))
	for _, h := range handles {
		set[h] = struct{}{}
	}
	return set
}

// RecordError is a per-record failure during a pass. It is recorded and the
// remaining records proceed; a single bad record never aborts the batch.
type RecordError struct {
	Handle domain.Handle `json:"handle"`
	Err    string        `json:"error"`
}

// Result reports what a pass did, with one count per reason so no skip is
// ever silent.
type Result struct {
	Updated              int             `json:"updated"`
	ImportedViaManifest  int             `json:"imported_via_manifest"`
	ImportedViaAnomalies int             `json:"imported_via_anomalies"`
	AnomalyAccepted      int             `json:"anomaly_accepted"`
	AlreadyImported      int             `json:"already_imported"`
	IneligibleSkipped    int             `json:"ineligible_skipped"`
	LockedSkipped        int             `json:"locked_skipped"`
	RecordErrors         []RecordError   `json:"record_errors,omitempty"`

	// Events is the provenance of the pass; the caller publishes it when the
	// delta commits. Not part of the reported counts.
	Events []provenance.Event `json:"-"`
}

// Apply runs one inference pass over state, mutating matched records in
// place. The caller owns persistence: Apply computes the full delta, the
// caller commits it (or discards it for a dry run). Events carry the
// provenance of every mutation and every reasoned skip; the caller publishes
// them only when the delta commits.
func Apply(state *models.CapsuleState, ev Evidence, now time.Time) (*Result, error) {
	if ev.IncludeAnomalies && ev.AnomalyHandles == nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput,
			"include_anomalies set but no anomaly handle set supplied")
	}

	res := &Result{}
	for handle, rec := range state.Products {
		if len(ev.Scope) > 0 {
			if _, ok := ev.Scope[handle]; !ok {
				continue
			}
		}

		inManifest := contains(ev.ImportedHandles, handle)
		inAnomalies := ev.IncludeAnomalies && contains(ev.AnomalyHandles, handle)
		if !inManifest && !inAnomalies {
			continue
		}

		// Eligibility gate: ineligible records are skipped entirely
		// regardless of manifest membership.
		if !rec.Import.Eligible {
			res.IneligibleSkipped++
			res.Events = append(res.Events, skipEvent(state.CapsuleID, rec, "ineligible"))
			continue
		}

		// Idempotency: imported is terminal, timestamps immutable once set.
		if rec.Import.Imported {
			res.AlreadyImported++
			res.Events = append(res.Events, skipEvent(state.CapsuleID, rec, "already_imported"))
			continue
		}

		// Lock blocks all mutation, inference included.
		if rec.Promotion.Locked {
			res.LockedSkipped++
			res.Events = append(res.Events, skipEvent(state.CapsuleID, rec, "locked"))
			continue
		}

		source := models.SourceManifest
		if !inManifest {
			source = models.SourceAnomalyManifest
		}

		if err := importRecord(rec, source, now); err != nil {
			res.RecordErrors = append(res.RecordErrors, RecordError{Handle: handle, Err: err.Error()})
			continue
		}
		res.Updated++
		if source == models.SourceManifest {
			res.ImportedViaManifest++
		} else {
			res.ImportedViaAnomalies++
		}

		// Anomaly acceptance records approval-to-ship-despite-issues, not a
		// claim the issues were resolved. All three conditions must hold:
		// anomaly-manifest match, explicit opt-in, failing preflight verdict.
		if source == models.SourceAnomalyManifest && rec.Preflight.Status.Failing() {
			rec.Import.AnomalyAccepted = true
			res.AnomalyAccepted++
		}

		if obs, ok := ev.ImageObservations[handle]; ok {
			rec.Images = obs
		}

		res.Events = append(res.Events, provenance.Event{
			CapsuleID: state.CapsuleID,
			Handle:    handle,
			CPI:       rec.Identity.CPI,
			Kind:      provenance.KindMutation,
			Operation: operation,
			Source:    string(source),
			Reason:    fmt.Sprintf("imported via %s", source),
			Timestamp: now.UTC(),
		})
	}
	return res, nil
}

// importRecord marks the record imported and climbs the ladder to IMPORTED
// one legal step at a time. The manifest is proof the intermediate rungs
// (enrichment, import readiness) completed externally, so the climb is the
// recorded catch-up of facts, not a skip.
func importRecord(rec *models.ProductRecord, source models.ImportSource, now time.Time) error {
	if rec.Promotion.Stage.Index() > models.StageImported.Index() {
		return fmt.Errorf("record at %s is past IMPORTED but not marked imported", rec.Promotion.Stage)
	}
	if err := rec.MarkImported(now, source); err != nil {
		return err
	}
	for rec.Promotion.Stage != models.StageImported {
		next := models.Ladder()[rec.Promotion.Stage.Index()+1]
		if _, err := promotion.Advance(rec, next, now); err != nil {
			return err
		}
	}
	return nil
}

func skipEvent(capsuleID domain.CapsuleID, rec *models.ProductRecord, reason string) provenance.Event {
	return provenance.Event{
		CapsuleID: capsuleID,
		Handle:    rec.Identity.Handle,
		CPI:       rec.Identity.CPI,
		Kind:      provenance.KindSkip,
		Operation: operation,
		Reason:    reason,
	}
}

func contains(set map[domain.Handle]struct{}, h domain.Handle) bool {
	_, ok := set[h]
	return ok
}
