package models

import dErrors "capstate/pkg/domain-errors"

// Stage is a rung on the promotion ladder. The ladder is a total order; the
// transition rules live in internal/promotion.
type Stage string

const (
	StagePreFlight          Stage = "PRE_FLIGHT"
	StageEnriched           Stage = "ENRICHED"
	StageImportReady        Stage = "IMPORT_READY"
	StageImported           Stage = "IMPORTED"
	StageMediaAttached      Stage = "MEDIA_ATTACHED"
	StageMetafieldsWritten  Stage = "METAFIELDS_WRITTEN"
	StageCollectionsCreated Stage = "COLLECTIONS_CREATED"
	StageLive               Stage = "LIVE"
)

// stageOrder defines the ladder. Higher index means further along.
var stageOrder = map[Stage]int{
	StagePreFlight:          0,
	StageEnriched:           1,
	StageImportReady:        2,
	StageImported:           3,
	StageMediaAttached:      4,
	StageMetafieldsWritten:  5,
	StageCollectionsCreated: 6,
	StageLive:               7,
}

// ParseStage validates and returns a Stage.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if !st.IsValid() {
		return "", dErrors.Newf(dErrors.CodeInvalidInput, "unknown stage: %q", s)
	}
	return st, nil
}

// IsValid checks if the stage is one of the ladder rungs.
func (s Stage) IsValid() bool {
	_, ok := stageOrder[s]
	return ok
}

// Index returns the stage's position on the ladder. Unknown stages sort
// below everything so a corrupted value can never look "further along".
func (s Stage) Index() int {
	if i, ok := stageOrder[s]; ok {
		return i
	}
	return -1
}

func (s Stage) String() string {
	return string(s)
}

// Ladder returns all stages in promotion order.
func Ladder() []Stage {
	return []Stage{
		StagePreFlight,
		StageEnriched,
		StageImportReady,
		StageImported,
		StageMediaAttached,
		StageMetafieldsWritten,
		StageCollectionsCreated,
		StageLive,
	}
}
