package provenance

import (
	"context"
	"database/sql"
	"fmt"

	"capstate/pkg/domain"
)

// PostgresStore persists evidence events to an insert-only table. Duplicate
// event IDs are ignored so replayed batches cannot double-log.
//
// Schema:
//
//	CREATE TABLE provenance_events (
//	    id         UUID PRIMARY KEY,
//	    capsule_id TEXT NOT NULL,
//	    handle     TEXT,
//	    cpi        TEXT,
//	    kind       TEXT NOT NULL,
//	    operation  TEXT NOT NULL,
//	    action     TEXT,
//	    rule       TEXT,
//	    source     TEXT,
//	    reason     TEXT,
//	    timestamp  TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX provenance_events_capsule_idx ON provenance_events (capsule_id, timestamp);
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO provenance_events (
			id, capsule_id, handle, cpi, kind, operation, action, rule, source, reason, timestamp
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.CapsuleID.String(),
		nullable(event.Handle.String()),
		nullable(event.CPI.String()),
		string(event.Kind),
		event.Operation,
		nullable(event.Action),
		nullable(event.Rule),
		nullable(event.Source),
		nullable(event.Reason),
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert provenance event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByCapsule(ctx context.Context, capsuleID domain.CapsuleID) ([]Event, error) {
	query := `
		SELECT id, capsule_id, handle, cpi, kind, operation, action, rule, source, reason, timestamp
		FROM provenance_events
		WHERE capsule_id = $1
		ORDER BY timestamp, id
	`
	rows, err := s.db.QueryContext(ctx, query, capsuleID.String())
	if err != nil {
		return nil, fmt.Errorf("query provenance events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e                                    Event
			capsule                              string
			handle, cpi, action, rule, src, rsn  sql.NullString
			kind                                 string
		)
		if err := rows.Scan(&e.ID, &capsule, &handle, &cpi, &kind, &e.Operation,
			&action, &rule, &src, &rsn, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan provenance event: %w", err)
		}
		e.CapsuleID = domain.CapsuleID(capsule)
		e.Handle = domain.Handle(handle.String)
		e.CPI = domain.CPI(cpi.String)
		e.Kind = Kind(kind)
		e.Action = action.String
		e.Rule = rule.String
		e.Source = src.String
		e.Reason = rsn.String
		events = append(events, e)
	}
	return events, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
