package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"capstate/internal/capsule/models"
	"capstate/pkg/domain"
	"capstate/pkg/platform/sentinel"
)

// PostgresStore keeps each capsule document as a single JSONB row, replaced
// in one UPSERT per save. Postgres makes the whole-document swap atomic; no
// reader can observe a partial write.
//
// Schema:
//
//	CREATE TABLE capsule_states (
//	    capsule_id     TEXT PRIMARY KEY,
//	    schema_version TEXT NOT NULL,
//	    document       JSONB NOT NULL,
//	    updated_at     TIMESTAMPTZ NOT NULL
//	);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Load(ctx context.Context, capsuleID domain.CapsuleID) (*models.CapsuleState, error) {
	query := `
		SELECT schema_version, document
		FROM capsule_states
		WHERE capsule_id = $1
	`
	var (
		version  string
		document []byte
	)
	err := s.db.QueryRowContext(ctx, query, capsuleID.String()).Scan(&version, &document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load capsule state: %w", err)
	}
	// Check the column before decoding: an unrecognized version must fail
	// before anyone interprets the document body.
	if version != models.SchemaVersion {
		return nil, fmt.Errorf("capsule %s persisted at schema %q: %w",
			capsuleID, version, sentinel.ErrSchemaVersion)
	}

	var state models.CapsuleState
	if err := json.Unmarshal(document, &state); err != nil {
		return nil, fmt.Errorf("decode capsule state %s: %w", capsuleID, err)
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *PostgresStore) Save(ctx context.Context, state *models.CapsuleState) error {
	if err := state.Validate(); err != nil {
		return err
	}
	document, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode capsule state: %w", err)
	}

	query := `
		INSERT INTO capsule_states (capsule_id, schema_version, document, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (capsule_id) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		state.CapsuleID.String(),
		state.SchemaVersion,
		document,
		state.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save capsule state: %w", err)
	}
	return nil
}
