package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and engines return these
// (optionally wrapped) so services can translate them into domain errors.
//
// These represent factual states about resources, not validation failures:
// - ErrNotFound: capsule or product does not exist in the store
// - ErrConflict: concurrent writer detected for the same capsule
// - ErrLocked: product record is locked, all mutation rejected
// - ErrSchemaVersion: persisted document has an unrecognized schema version
// - ErrImmutable: write attempted against a write-once or terminal field
// - ErrOutOfOrder: promotion transition skips ahead of the ladder
// - ErrUnknownAction: action outside the closed gate action set
//
// For validation errors (bad input, missing fields), use pkg/domain-errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrLocked        = errors.New("product locked")
	ErrSchemaVersion = errors.New("schema version mismatch")
	ErrImmutable     = errors.New("immutable field")
	ErrOutOfOrder    = errors.New("out of order transition")
	ErrUnknownAction = errors.New("unknown action")
)
