package handler

import (
	"capstate/internal/capsule/models"
	"capstate/internal/promotion"
)

// SeedResponse summarizes a seeding run.
type SeedResponse struct {
	Capsule  string `json:"capsule"`
	Products int    `json:"products"`
	DryRun   bool   `json:"dry_run,omitempty"`
}

// AdvanceResponse reports a promotion outcome.
type AdvanceResponse struct {
	Outcome string       `json:"outcome"`
	Stage   models.Stage `json:"stage"`
}

func NewAdvanceResponse(outcome promotion.Result, stage models.Stage) AdvanceResponse {
	return AdvanceResponse{Outcome: string(outcome), Stage: stage}
}
