package reconcile

import (
	"strings"

	"capstate/pkg/domain"
)

// Candidate is one externally observed asset that might fill a product's
// look-image slot.
type Candidate struct {
	MediaID  string `json:"media_id"`
	Filename string `json:"filename,omitempty"`
	Position int    `json:"position,omitempty"`
}

// resolution is a rule's verdict on an observation.
type resolution int

const (
	// noMatch: the rule does not apply; fall through to the next rule.
	noMatch resolution = iota
	// matched: exactly one candidate satisfies the rule; adopt it.
	matched
	// ambiguous: the rule applies but cannot pick a single candidate; stop
	// the chain and escalate. Guessing here is forbidden.
	ambiguous
)

// rule is one pure predicate/resolver pair. Rules are evaluated in order,
// stopping at the first confident match, so the tie-break policy stays
// auditable in isolation from I/O.
type rule struct {
	name    string
	resolve func(capsuleID domain.CapsuleID, cpi domain.CPI, candidates []Candidate) (Candidate, resolution)
}

// rules is the deterministic decision chain: filename match first, then
// positional fallback.
var rules = []rule{
	{name: RuleFilenameMatch, resolve: resolveByFilename},
	{name: RulePositionalFallback, resolve: resolveByPosition},
}

// Rule names recorded in provenance entries.
const (
	RuleFilenameMatch      = "filename_match"
	RulePositionalFallback = "positional_fallback"
)

// resolveByFilename matches candidates whose filename carries the capsule
// code plus the CPI's style and color as exact whole tokens. Substring hits
// do not count: style "220" must not match "2201". Multiple matches are
// ambiguous by definition and force manual resolution.
func resolveByFilename(capsuleID domain.CapsuleID, cpi domain.CPI, candidates []Candidate) (Candidate, resolution) {
	style := strings.ToLower(cpi.Style())
	color := strings.ToLower(cpi.Color())
	capsule := strings.ToLower(capsuleID.String())

	var matches []Candidate
	for _, c := range candidates {
		if c.Filename == "" {
			continue
		}
		name := strings.ToLower(c.Filename)
		if !strings.Contains(name, capsule) {
			continue
		}
		tokens := tokenize(name)
		if tokens[style] && tokens[color] {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return Candidate{}, noMatch
	case 1:
		return matches[0], matched
	default:
		return Candidate{}, ambiguous
	}
}

// resolveByPosition adopts the candidate at position 1 when it is the only
// one there. Anything else is not deterministic enough to act on.
func resolveByPosition(_ domain.CapsuleID, _ domain.CPI, candidates []Candidate) (Candidate, resolution) {
	var first []Candidate
	for _, c := range candidates {
		if c.Position == 1 {
			first = append(first, c)
		}
	}
	switch len(first) {
	case 0:
		return Candidate{}, noMatch
	case 1:
		return first[0], matched
	default:
		return Candidate{}, ambiguous
	}
}

// tokenize splits a filename stem into lowercase whole tokens on every
// non-alphanumeric boundary.
func tokenize(name string) map[string]bool {
	if i := strings.LastIndex(name, "."); i > 0 {
		name = name[:i]
	}
	tokens := strings.FieldsFunc(name, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	return set
}
