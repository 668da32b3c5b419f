//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capstate/internal/capsule/models"
	"capstate/pkg/platform/sentinel"
	"capstate/pkg/testutil/containers"
)

const capsuleStatesDDL = `
CREATE TABLE IF NOT EXISTS capsule_states (
    capsule_id     TEXT PRIMARY KEY,
    schema_version TEXT NOT NULL,
    document       JSONB NOT NULL,
    updated_at     TIMESTAMPTZ NOT NULL
)`

func newPostgresStore(t *testing.T) (*PostgresStore, *containers.PostgresContainer) {
	t.Helper()
	pg := containers.NewPostgresContainer(t)
	pg.MustExec(t, capsuleStatesDDL)
	return NewPostgres(pg.DB), pg
}

func seededState(now time.Time) *models.CapsuleState {
	state := models.NewCapsuleState("S226", now)
	state.Products["wool-coat-camel"] = &models.ProductRecord{
		Identity:  models.Identity{Handle: "wool-coat-camel", CPI: "2203-210", ProductType: models.ProductTypeRTW},
		Preflight: models.Preflight{Status: models.PreflightGo, ImageState: "IMAGE_READY"},
		Import:    models.ImportState{Eligible: true},
		Promotion: models.Promotion{Stage: models.StagePreFlight},
		AllowedActions: map[models.Action]bool{
			models.ActionIncludeInImportCSV: true,
			models.ActionImageUpsert:        true,
		},
	}
	return state
}

func TestPostgresStore_RoundTrip(t *testing.T) {
	st, _ := newPostgresStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	state := seededState(now)
	require.NoError(t, st.Save(ctx, state))

	loaded, err := st.Load(ctx, "S226")
	require.NoError(t, err)
	assert.Equal(t, state.CapsuleID, loaded.CapsuleID)
	assert.Equal(t, models.SchemaVersion, loaded.SchemaVersion)
	assert.True(t, loaded.UpdatedAt.Equal(state.UpdatedAt))
	require.Contains(t, loaded.Products, state.Products["wool-coat-camel"].Identity.Handle)
	rec := loaded.Products["wool-coat-camel"]
	assert.Equal(t, models.StagePreFlight, rec.Promotion.Stage)
	assert.True(t, rec.AllowedActions[models.ActionImageUpsert])
}

func TestPostgresStore_MissingCapsule(t *testing.T) {
	st, _ := newPostgresStore(t)

	_, err := st.Load(context.Background(), "S999")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestPostgresStore_SaveReplacesWholeDocument(t *testing.T) {
	st, _ := newPostgresStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	state := seededState(now)
	require.NoError(t, st.Save(ctx, state))

	// Drop the product and save again: the stored document must follow.
	next := state.Clone()
	delete(next.Products, "wool-coat-camel")
	next.UpdatedAt = now.Add(time.Hour)
	require.NoError(t, st.Save(ctx, next))

	loaded, err := st.Load(ctx, "S226")
	require.NoError(t, err)
	assert.Empty(t, loaded.Products)
	assert.True(t, loaded.UpdatedAt.Equal(next.UpdatedAt))
}

func TestPostgresStore_SchemaVersionMismatchRejected(t *testing.T) {
	st, pg := newPostgresStore(t)
	ctx := context.Background()

	pg.MustExec(t, `
		INSERT INTO capsule_states (capsule_id, schema_version, document, updated_at)
		VALUES ('S300', '0.9', '{"capsule":"S300","schema_version":"0.9","products":{}}', now())
	`)

	_, err := st.Load(ctx, "S300")
	assert.ErrorIs(t, err, sentinel.ErrSchemaVersion)
}
