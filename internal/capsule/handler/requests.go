package handler

import (
	"capstate/internal/capsule/models"
	"capstate/internal/inference"
	"capstate/internal/reconcile"
	"capstate/internal/seeding"
	"capstate/pkg/domain"
	dErrors "capstate/pkg/domain-errors"
)

// SeedRequest carries a preflight report to seed a capsule from.
type SeedRequest struct {
	Products []seeding.PreflightProduct `json:"products"`
}

func (r SeedRequest) ToReport() seeding.PreflightReport {
	return seeding.PreflightReport{Products: r.Products}
}

// InferRequest carries the evidence for a post-import inference pass.
type InferRequest struct {
	ImportedHandles  []string `json:"imported_handles"`
	AnomalyHandles   []string `json:"anomaly_handles,omitempty"`
	IncludeAnomalies bool     `json:"include_anomalies,omitempty"`
	// ImageObservations is keyed by handle.
	ImageObservations map[string]ImageObservation `json:"image_observations,omitempty"`
	Scope             []string                    `json:"scope,omitempty"`
}

// ImageObservation mirrors the evidence rows' image columns.
type ImageObservation struct {
	ExpectedCount       int `json:"expected_count,omitempty"`
	ExpectedMaxPosition int `json:"expected_max_position,omitempty"`
}

func (r InferRequest) ToEvidence() (inference.Evidence, error) {
	ev := inference.Evidence{IncludeAnomalies: r.IncludeAnomalies}

	imported, err := parseHandles(r.ImportedHandles)
	if err != nil {
		return inference.Evidence{}, err
	}
	ev.ImportedHandles = inference.HandleSet(imported)

	if r.AnomalyHandles != nil {
		anomalies, err := parseHandles(r.AnomalyHandles)
		if err != nil {
			return inference.Evidence{}, err
		}
		ev.AnomalyHandles = inference.HandleSet(anomalies)
	}
	if len(r.Scope) > 0 {
		scope, err := parseHandles(r.Scope)
		if err != nil {
			return inference.Evidence{}, err
		}
		ev.Scope = inference.HandleSet(scope)
	}
	if len(r.ImageObservations) > 0 {
		ev.ImageObservations = make(map[domain.Handle]models.ImageExpectation, len(r.ImageObservations))
		for raw, obs := range r.ImageObservations {
			h, err := domain.ParseHandle(raw)
			if err != nil {
				return inference.Evidence{}, dErrors.Wrap(dErrors.CodeInvalidInput, "image_observations", err)
			}
			ev.ImageObservations[h] = models.ImageExpectation{
				ExpectedCount:       obs.ExpectedCount,
				ExpectedMaxPosition: obs.ExpectedMaxPosition,
			}
		}
	}
	return ev, nil
}

func parseHandles(raw []string) ([]domain.Handle, error) {
	handles := make([]domain.Handle, 0, len(raw))
	for _, s := range raw {
		h, err := domain.ParseHandle(s)
		if err != nil {
			return nil, dErrors.Wrap(dErrors.CodeInvalidInput, "handle list", err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// ReconcileRequest carries an observed-reality snapshot.
type ReconcileRequest struct {
	Source       string               `json:"source"`
	Observations []ObservationRequest `json:"observations"`
	Scope        []string             `json:"scope,omitempty"`
}

// ObservationRequest is one product's observed candidates.
type ObservationRequest struct {
	CPI        string                `json:"cpi"`
	MediaCount int                   `json:"media_count,omitempty"`
	Candidates []reconcile.Candidate `json:"candidates"`
}

func (r ReconcileRequest) ToSnapshot() (reconcile.Snapshot, error) {
	if r.Source == "" {
		return reconcile.Snapshot{}, dErrors.New(dErrors.CodeInvalidInput, "source is required")
	}
	snap := reconcile.Snapshot{
		Source:       r.Source,
		Observations: make(map[domain.CPI]reconcile.Observation, len(r.Observations)),
	}
	for _, o := range r.Observations {
		cpi, err := domain.ParseCPI(o.CPI)
		if err != nil {
			return reconcile.Snapshot{}, dErrors.Wrap(dErrors.CodeInvalidInput, "observations", err)
		}
		snap.Observations[cpi] = reconcile.Observation{
			CPI:        cpi,
			MediaCount: o.MediaCount,
			Candidates: o.Candidates,
		}
	}
	if len(r.Scope) > 0 {
		snap.Scope = make(map[domain.CPI]struct{}, len(r.Scope))
		for _, s := range r.Scope {
			cpi, err := domain.ParseCPI(s)
			if err != nil {
				return reconcile.Snapshot{}, dErrors.Wrap(dErrors.CodeInvalidInput, "scope", err)
			}
			snap.Scope[cpi] = struct{}{}
		}
	}
	return snap, nil
}

// PromoteStaticRequest optionally restricts a static-action promotion pass.
type PromoteStaticRequest struct {
	Scope []string `json:"scope,omitempty"`
}

func (r PromoteStaticRequest) ParsedScope() (map[domain.Handle]struct{}, error) {
	if len(r.Scope) == 0 {
		return nil, nil
	}
	handles, err := parseHandles(r.Scope)
	if err != nil {
		return nil, err
	}
	return inference.HandleSet(handles), nil
}

// AdvanceRequest names the target stage for a promotion.
type AdvanceRequest struct {
	Target string `json:"target"`
}

func (r AdvanceRequest) ParsedTarget() (models.Stage, error) {
	return models.ParseStage(r.Target)
}
