// Package seeding builds a fresh capsule state document from a preflight
// report. It is intentionally simple and deterministic: a one-way transform
// with no enrichment and no validation re-computation. Records it creates
// are the write-once baseline every other engine builds on.
package seeding

import (
	"time"

	"capstate/internal/capsule/models"
	"capstate/internal/provenance"
	"capstate/pkg/domain"
	dErrors "capstate/pkg/domain-errors"
)

// PreflightProduct is one row of the preflight report, as handed over by the
// preflight collaborator.
type PreflightProduct struct {
	Handle               domain.Handle `json:"handle"`
	CPI                  domain.CPI    `json:"cpi"`
	ExternalID           string        `json:"external_id,omitempty"`
	IsAccessory          bool          `json:"is_accessory"`
	Status               string        `json:"status"`
	ImageStatus          string        `json:"image_status,omitempty"`
	Errors               []string      `json:"errors,omitempty"`
	Warnings             []string      `json:"warnings,omitempty"`
	SourcingExcluded     bool          `json:"sourcing_excluded"`
	ClientRecommendation string        `json:"client_recommendation,omitempty"`
}

// PreflightReport is the full preflight output for one capsule.
type PreflightReport struct {
	Products []PreflightProduct `json:"products"`
}

// Image states that make a product safe to push images for.
const (
	imageReady   = "IMAGE_READY"
	imageMinimal = "IMAGE_MINIMAL"
)

// Seed builds a new state document from a preflight report. Duplicate
// handles in the report are a hard failure: silently keeping the last row
// would hide a preflight bug.
func Seed(report PreflightReport, capsuleID domain.CapsuleID, now time.Time) (*models.CapsuleState, error) {
	state := models.NewCapsuleState(capsuleID, now)

	for _, p := range report.Products {
		if p.Handle.IsNil() {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "preflight row missing handle")
		}
		if _, exists := state.Products[p.Handle]; exists {
			return nil, dErrors.Newf(dErrors.CodeConflict, "duplicate handle in preflight report: %s", p.Handle)
		}
		status := models.PreflightStatus(p.Status)
		if !status.IsValid() {
			return nil, dErrors.Newf(dErrors.CodeInvalidInput,
				"preflight row %s has unknown status %q", p.Handle, p.Status)
		}

		productType := models.ProductTypeRTW
		if p.IsAccessory {
			productType = models.ProductTypeAccessory
		}

		state.Products[p.Handle] = &models.ProductRecord{
			Identity: models.Identity{
				Handle:      p.Handle,
				ExternalID:  p.ExternalID,
				CPI:         p.CPI,
				ProductType: productType,
				Accessory:   p.IsAccessory,
			},
			Preflight: models.Preflight{
				Status:     status,
				ImageState: p.ImageStatus,
				Errors:     append([]string(nil), p.Errors...),
				Warnings:   append([]string(nil), p.Warnings...),
			},
			Import: models.ImportState{
				Eligible: !p.SourcingExcluded,
			},
			Promotion: models.Promotion{
				Stage: models.StagePreFlight,
			},
			AllowedActions: deriveAllowedActions(p),
			Overrides: models.Overrides{
				SourcingExcluded: p.SourcingExcluded,
			},
		}
	}
	return state, nil
}

// deriveAllowedActions determines allowed actions strictly from preflight
// findings. Client overrides are applied later by editing the record, never
// here.
func deriveAllowedActions(p PreflightProduct) map[models.Action]bool {
	include := !p.SourcingExcluded
	return map[models.Action]bool{
		models.ActionIncludeInImportCSV: include,
		models.ActionImageUpsert:        include && (p.ImageStatus == imageReady || p.ImageStatus == imageMinimal),
		models.ActionMetafieldWrite:     include,
		models.ActionCollectionWrite:    include,
		models.ActionSizeGuideWrite:     false,
	}
}

// PromoteResult reports a static-action promotion pass.
type PromoteResult struct {
	Promoted int `json:"promoted"`

	Events []provenance.Event `json:"-"`
}

// staticActions never need gating once a product exists in state.
var staticActions = []models.Action{
	models.ActionCollectionWrite,
	models.ActionSizeGuideWrite,
}

// PromoteStaticActions retroactively enables actions that should never be
// gated. Repeat-safe: records already aligned are untouched. SKIP and locked
// products are left alone so intentional exclusions survive. A non-empty
// scope restricts the pass to the listed handles.
func PromoteStaticActions(state *models.CapsuleState, scope map[domain.Handle]struct{}, now time.Time) *PromoteResult {
	res := &PromoteResult{}

	for handle, rec := range state.Products {
		if len(scope) > 0 {
			if _, ok := scope[handle]; !ok {
				continue
			}
		}
		if rec.Preflight.Status == models.PreflightSkip || rec.Promotion.Locked {
			continue
		}

		changed := false
		for _, action := range staticActions {
			if !rec.AllowedActions[action] {
				if rec.AllowedActions == nil {
					rec.AllowedActions = make(map[models.Action]bool)
				}
				rec.AllowedActions[action] = true
				changed = true
			}
		}
		if !changed {
			continue
		}
		res.Promoted++
		res.Events = append(res.Events, provenance.Event{
			CapsuleID: state.CapsuleID,
			Handle:    handle,
			CPI:       rec.Identity.CPI,
			Kind:      provenance.KindMutation,
			Operation: "promote_static_actions",
			Reason:    "static allowed_actions promoted",
			Timestamp: now.UTC(),
		})
	}
	return res
}
