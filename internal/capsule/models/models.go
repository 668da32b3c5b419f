package models

import (
	"time"

	"capstate/pkg/domain"
	dErrors "capstate/pkg/domain-errors"
)

// SchemaVersion is the only persisted document version this engine operates
// on. Anything else requires an explicit migration; Load refuses to guess.
const SchemaVersion = "1.0"

// PreflightStatus is the verdict recorded by the preflight run.
type PreflightStatus string

const (
	PreflightGo   PreflightStatus = "GO"
	PreflightNoGo PreflightStatus = "NO-GO"
	PreflightSkip PreflightStatus = "SKIP"
)

// IsValid checks if the preflight status is one of the supported enum values.
func (s PreflightStatus) IsValid() bool {
	switch s {
	case PreflightGo, PreflightNoGo, PreflightSkip:
		return true
	}
	return false
}

// Failing reports whether the verdict blocks a normal import. Only NO-GO
// counts: SKIP products are excluded, not failing.
func (s PreflightStatus) Failing() bool {
	return s == PreflightNoGo
}

// ProductType distinguishes ready-to-wear from accessories.
type ProductType string

const (
	ProductTypeRTW       ProductType = "RTW"
	ProductTypeAccessory ProductType = "ACCESSORY"
)

// ImportSource tags which evidence set justified an imported fact.
type ImportSource string

const (
	// SourceManifest: handle appeared in the combined import manifest.
	SourceManifest ImportSource = "manifest"
	// SourceAnomalyManifest: handle appeared only in the anomaly manifest and
	// the operator explicitly opted in to counting those as imported.
	SourceAnomalyManifest ImportSource = "anomaly_manifest"
)

// Identity is write-once after creation. Engines read it, never rewrite it.
type Identity struct {
	Handle      domain.Handle `json:"handle"`
	ExternalID  string        `json:"external_id,omitempty"`
	CPI         domain.CPI    `json:"cpi"`
	ProductType ProductType   `json:"product_type"`
	Accessory   bool          `json:"accessory"`
}

// Preflight is the seeded snapshot of the preflight run. Write-once: it is a
// record of what preflight said, not a live assessment.
type Preflight struct {
	Status     PreflightStatus `json:"status"`
	ImageState string          `json:"image_state,omitempty"`
	Errors     []string        `json:"errors,omitempty"`
	Warnings   []string        `json:"warnings,omitempty"`
}

// ImportState tracks the import sub-lifecycle. Imported is a terminal fact:
// once true, it and its timestamp and source tag are immutable.
type ImportState struct {
	Eligible        bool         `json:"eligible"`
	Imported        bool         `json:"imported"`
	ImportedAt      *time.Time   `json:"imported_at,omitempty"`
	Source          ImportSource `json:"import_source,omitempty"`
	AnomalyAccepted bool         `json:"anomaly_accepted,omitempty"`
}

// ImageExpectation records what the evidence said about images. It is an
// observation copied from evidence rows, never verified against anything.
type ImageExpectation struct {
	ExpectedCount       int `json:"expected_count,omitempty"`
	ExpectedMaxPosition int `json:"expected_max_position,omitempty"`
}

// Promotion tracks the product's position on the lifecycle ladder.
type Promotion struct {
	Stage            Stage      `json:"stage"`
	Locked           bool       `json:"locked"`
	LastTransitionAt *time.Time `json:"last_transition_at,omitempty"`
}

// Overrides are human-set flags. No automated component sets or clears them.
type Overrides struct {
	// SourcingExcluded marks a product sourced through a channel that never
	// ships via this pipeline (the reason a record becomes ineligible).
	SourcingExcluded bool   `json:"sourcing_excluded,omitempty"`
	Note             string `json:"note,omitempty"`
}

// AdoptedAsset is an externally observed asset the reconciliation engine
// adopted into local belief, with the media identifier that proves it.
type AdoptedAsset struct {
	MediaID   string    `json:"media_id"`
	Filename  string    `json:"filename,omitempty"`
	Position  int       `json:"position,omitempty"`
	Source    string    `json:"source"`
	Rule      string    `json:"rule"`
	AdoptedAt time.Time `json:"adopted_at"`
}

// ProductRecord is one catalog item's full lifecycle record. Records are
// created once during seeding and never deleted, only advanced or locked.
type ProductRecord struct {
	Identity       Identity                `json:"identity"`
	Preflight      Preflight               `json:"preflight"`
	Import         ImportState             `json:"import"`
	Images         ImageExpectation        `json:"images,omitempty"`
	Promotion      Promotion               `json:"promotion"`
	AllowedActions map[Action]bool         `json:"allowed_actions"`
	Overrides      Overrides               `json:"overrides,omitempty"`
	Assets         map[string]AdoptedAsset `json:"assets,omitempty"`
}

// Mutable reports whether any field-level write may proceed. Locked freezes
// the entire record.
func (r *ProductRecord) Mutable() bool {
	return !r.Promotion.Locked
}

// MarkImported records the terminal imported fact. It does not touch the
// promotion stage; the caller advances that through the state machine so the
// ladder rule is enforced in exactly one place.
func (r *ProductRecord) MarkImported(now time.Time, source ImportSource) error {
	if r.Promotion.Locked {
		return dErrors.New(dErrors.CodeLocked, "record is locked")
	}
	if r.Import.Imported {
		return dErrors.New(dErrors.CodeImmutable, "imported is terminal once set")
	}
	t := now.UTC()
	r.Import.Imported = true
	r.Import.ImportedAt = &t
	r.Import.Source = source
	return nil
}

// Clone returns a deep copy of the record.
func (r *ProductRecord) Clone() *ProductRecord {
	out := *r
	if r.Preflight.Errors != nil {
		out.Preflight.Errors = append([]string(nil), r.Preflight.Errors...)
	}
	if r.Preflight.Warnings != nil {
		out.Preflight.Warnings = append([]string(nil), r.Preflight.Warnings...)
	}
	if r.Import.ImportedAt != nil {
		t := *r.Import.ImportedAt
		out.Import.ImportedAt = &t
	}
	if r.Promotion.LastTransitionAt != nil {
		t := *r.Promotion.LastTransitionAt
		out.Promotion.LastTransitionAt = &t
	}
	if r.AllowedActions != nil {
		out.AllowedActions = make(map[Action]bool, len(r.AllowedActions))
		for k, v := range r.AllowedActions {
			out.AllowedActions[k] = v
		}
	}
	if r.Assets != nil {
		out.Assets = make(map[string]AdoptedAsset, len(r.Assets))
		for k, v := range r.Assets {
			out.Assets[k] = v
		}
	}
	return &out
}

// CapsuleState is the root aggregate: one document per capsule.
type CapsuleState struct {
	CapsuleID     domain.CapsuleID                 `json:"capsule"`
	SchemaVersion string                           `json:"schema_version"`
	UpdatedAt     time.Time                        `json:"updated_at"`
	Products      map[domain.Handle]*ProductRecord `json:"products"`
}

// NewCapsuleState creates an empty state document at the current schema.
func NewCapsuleState(capsuleID domain.CapsuleID, now time.Time) *CapsuleState {
	return &CapsuleState{
		CapsuleID:     capsuleID,
		SchemaVersion: SchemaVersion,
		UpdatedAt:     now.UTC(),
		Products:      make(map[domain.Handle]*ProductRecord),
	}
}

// Validate checks the aggregate's structural invariants. A schema version
// mismatch is a hard failure, never silently coerced.
func (s *CapsuleState) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return dErrors.Newf(dErrors.CodeSchemaVersion,
			"unsupported schema_version %q (engine speaks %q)", s.SchemaVersion, SchemaVersion)
	}
	if s.CapsuleID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "state document missing capsule id")
	}
	if s.Products == nil {
		return dErrors.New(dErrors.CodeInvalidInput, "state document missing products map")
	}
	for handle, rec := range s.Products {
		if rec == nil {
			return dErrors.Newf(dErrors.CodeInvalidInput, "nil record for handle %q", handle)
		}
		if !rec.Promotion.Stage.IsValid() {
			return dErrors.Newf(dErrors.CodeInvalidInput,
				"record %q has unknown stage %q", handle, rec.Promotion.Stage)
		}
	}
	return nil
}

// Clone returns a deep copy of the state document. Dry-run computation and
// the in-memory store both rely on this for isolation.
func (s *CapsuleState) Clone() *CapsuleState {
	out := &CapsuleState{
		CapsuleID:     s.CapsuleID,
		SchemaVersion: s.SchemaVersion,
		UpdatedAt:     s.UpdatedAt,
		Products:      make(map[domain.Handle]*ProductRecord, len(s.Products)),
	}
	for handle, rec := range s.Products {
		out.Products[handle] = rec.Clone()
	}
	return out
}
