package provenance

import (
	"time"

	"capstate/pkg/domain"
)

// Kind classifies an evidence-log entry.
type Kind string

const (
	// KindAdoption: reconciliation adopted an externally observed fact.
	KindAdoption Kind = "adoption"
	// KindEscalation: ambiguous drift queued for human review, no mutation.
	KindEscalation Kind = "escalation"
	// KindMutation: an engine mutated a record (import marked, stage advanced,
	// capability flipped).
	KindMutation Kind = "mutation"
	// KindSkip: an engine deliberately left a record untouched. Skips are
	// never silent; the reason travels with the entry.
	KindSkip Kind = "skip"
)

// Event is one append-only evidence-log entry. Adoption events must carry
// Source, Rule, and Timestamp; adoption without provenance is a contract
// violation. The log is write-only from the engines' point of view and is
// never read back as an authorization input.
type Event struct {
	ID        string           `json:"id"`
	CapsuleID domain.CapsuleID `json:"capsule"`
	Handle    domain.Handle    `json:"handle,omitempty"`
	CPI       domain.CPI       `json:"cpi,omitempty"`
	Kind      Kind             `json:"kind"`
	Operation string           `json:"operation"`
	Action    string           `json:"action,omitempty"`
	Rule      string           `json:"rule,omitempty"`
	Source    string           `json:"source,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}
