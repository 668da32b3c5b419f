package models

import dErrors "capstate/pkg/domain-errors"

// Action names an external mutation a collaborator may ask permission for.
// The set is closed: the gate fails loudly on anything else rather than
// defaulting to a silent deny.
type Action string

const (
	ActionIncludeInImportCSV Action = "include_in_import_csv"
	ActionImageUpsert        Action = "image_upsert"
	ActionMetafieldWrite     Action = "metafield_write"
	ActionCollectionWrite    Action = "collection_write"
	ActionSizeGuideWrite     Action = "size_guide_write"
)

// SupportedActions returns the closed action set in a stable order.
func SupportedActions() []Action {
	return []Action{
		ActionIncludeInImportCSV,
		ActionImageUpsert,
		ActionMetafieldWrite,
		ActionCollectionWrite,
		ActionSizeGuideWrite,
	}
}

// IsValid checks if the action is one of the supported set.
func (a Action) IsValid() bool {
	switch a {
	case ActionIncludeInImportCSV, ActionImageUpsert, ActionMetafieldWrite,
		ActionCollectionWrite, ActionSizeGuideWrite:
		return true
	}
	return false
}

// ParseAction validates and returns an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", dErrors.Newf(dErrors.CodeUnknownAction, "unsupported action %q", s)
	}
	return a, nil
}

func (a Action) String() string {
	return string(a)
}
