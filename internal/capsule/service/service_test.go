package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"capstate/internal/capsule/models"
	"capstate/internal/capsule/store"
	"capstate/internal/capsule/store/lock"
	"capstate/internal/inference"
	"capstate/internal/promotion"
	"capstate/internal/provenance"
	"capstate/internal/reconcile"
	"capstate/internal/seeding"
	"capstate/pkg/domain"
	dErrors "capstate/pkg/domain-errors"
	"capstate/pkg/platform/sentinel"
)

const capsuleID = domain.CapsuleID("S226")

type fixture struct {
	svc   *Service
	store *store.InMemoryStore
	log   *provenance.InMemoryStore
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: store.NewInMemoryStore(),
		log:   provenance.NewInMemoryStore(),
		now:   time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC),
	}
	f.svc = New(f.store, lock.NewLocalLocker(), f.log, nil,
		WithClock(func() time.Time { return f.now }))
	return f
}

func sampleReport() seeding.PreflightReport {
	return seeding.PreflightReport{Products: []seeding.PreflightProduct{
		{Handle: "silk-blouse-black", CPI: "2201-410", Status: "GO", ImageStatus: "IMAGE_READY"},
		{Handle: "velvet-dress-red", CPI: "2202-650", Status: "NO-GO", ImageStatus: "IMAGE_MISSING"},
		{Handle: "showroom-sample-coat", CPI: "2209-100", Status: "GO", SourcingExcluded: true},
	}}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	_, err := f.svc.Seed(context.Background(), capsuleID, sampleReport(), false)
	require.NoError(t, err)
}

func TestSeed_PersistsAndLogs(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	state, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)
	assert.Len(t, state.Products, 3)
	assert.Equal(t, f.now, state.UpdatedAt)

	events, err := f.svc.History(context.Background(), capsuleID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "seed", events[0].Operation)
	assert.NotEmpty(t, events[0].ID, "publisher must stamp event ids")
}

func TestSeed_ExistingCapsuleRejected(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	_, err := f.svc.Seed(context.Background(), capsuleID, sampleReport(), false)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))
}

func TestSeed_DryRunDoesNotPersist(t *testing.T) {
	f := newFixture(t)

	state, err := f.svc.Seed(context.Background(), capsuleID, sampleReport(), true)
	require.NoError(t, err)
	assert.Len(t, state.Products, 3)

	_, err = f.svc.GetState(context.Background(), capsuleID)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	events, err := f.svc.History(context.Background(), capsuleID)
	require.NoError(t, err)
	assert.Empty(t, events, "dry run must not publish evidence")
}

func TestInferPostImport_CommitsDelta(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.now = f.now.Add(time.Hour)

	res, err := f.svc.InferPostImport(context.Background(), capsuleID, inference.Evidence{
		ImportedHandles: inference.HandleSet([]domain.Handle{"silk-blouse-black"}),
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)

	state, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)
	rec := state.Products["silk-blouse-black"]
	assert.True(t, rec.Import.Imported)
	assert.Equal(t, models.StageImported, rec.Promotion.Stage)
	assert.Equal(t, f.now, state.UpdatedAt, "commit must stamp UpdatedAt")

	events, err := f.svc.History(context.Background(), capsuleID)
	require.NoError(t, err)
	assert.Greater(t, len(events), 1)
}

func TestInferPostImport_IdempotentRerunLeavesDocumentUntouched(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.now = f.now.Add(time.Hour)

	ev := inference.Evidence{
		ImportedHandles: inference.HandleSet([]domain.Handle{"silk-blouse-black"}),
	}
	_, err := f.svc.InferPostImport(context.Background(), capsuleID, ev, false)
	require.NoError(t, err)
	first, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)

	// Re-run later: the skip is recorded as evidence, but the document must
	// not drift, UpdatedAt included.
	f.now = f.now.Add(24 * time.Hour)
	res, err := f.svc.InferPostImport(context.Background(), capsuleID, ev, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Updated)
	assert.Equal(t, 1, res.AlreadyImported)

	second, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestInferPostImport_DryRun(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	before, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)
	logBefore, err := f.svc.History(context.Background(), capsuleID)
	require.NoError(t, err)

	res, err := f.svc.InferPostImport(context.Background(), capsuleID, inference.Evidence{
		ImportedHandles: inference.HandleSet([]domain.Handle{"silk-blouse-black"}),
	}, true)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated, "dry run reports the full would-be delta")

	after, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	logAfter, err := f.svc.History(context.Background(), capsuleID)
	require.NoError(t, err)
	assert.Equal(t, logBefore, logAfter)
}

func TestReconcile_AdoptsAndLogs(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res, err := f.svc.Reconcile(context.Background(), capsuleID, reconcile.Snapshot{
		Source: "inspection",
		Observations: map[domain.CPI]reconcile.Observation{
			"2201-410": {CPI: "2201-410", Candidates: []reconcile.Candidate{
				{MediaID: "gid://media/1", Filename: "S226_2201_410_look.jpg", Position: 2},
			}},
		},
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Adopted)

	state, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)
	asset := state.Products["silk-blouse-black"].Assets[reconcile.LookImageSlot]
	assert.Equal(t, "gid://media/1", asset.MediaID)

	events, err := f.svc.History(context.Background(), capsuleID)
	require.NoError(t, err)
	var adoptions int
	for _, e := range events {
		if e.Kind == provenance.KindAdoption {
			adoptions++
		}
	}
	assert.Equal(t, 1, adoptions)
}

func TestPromoteStaticActions_RepeatSafe(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	res, err := f.svc.PromoteStaticActions(context.Background(), capsuleID, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Promoted)

	first, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)

	f.now = f.now.Add(time.Hour)
	res, err = f.svc.PromoteStaticActions(context.Background(), capsuleID, nil, false)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Promoted)

	second, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAdvance_SingleStep(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.now = f.now.Add(time.Minute)

	outcome, err := f.svc.Advance(context.Background(), capsuleID, "silk-blouse-black", models.StageEnriched, false)
	require.NoError(t, err)
	assert.Equal(t, promotion.Advanced, outcome)

	state, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)
	rec := state.Products["silk-blouse-black"]
	assert.Equal(t, models.StageEnriched, rec.Promotion.Stage)
	require.NotNil(t, rec.Promotion.LastTransitionAt)
	assert.Equal(t, f.now, *rec.Promotion.LastTransitionAt)
}

func TestAdvance_SkipRejectedAndNothingPersisted(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	before, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)

	_, err = f.svc.Advance(context.Background(), capsuleID, "silk-blouse-black", models.StageImported, false)
	assert.ErrorIs(t, err, sentinel.ErrOutOfOrder)

	after, err := f.svc.GetState(context.Background(), capsuleID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestAdvance_UnknownProduct(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	_, err := f.svc.Advance(context.Background(), capsuleID, "no-such-product", models.StageEnriched, false)
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}

func TestEvaluate(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	decision, err := f.svc.Evaluate(context.Background(), capsuleID, "silk-blouse-black", models.ActionImageUpsert)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	decision, err = f.svc.Evaluate(context.Background(), capsuleID, "showroom-sample-coat", models.ActionImageUpsert)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "sourcing_excluded=true", decision.Reason)

	_, err = f.svc.Evaluate(context.Background(), capsuleID, "silk-blouse-black", models.Action("drop_table"))
	assert.ErrorIs(t, err, sentinel.ErrUnknownAction)
}

func TestGetProduct(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	rec, err := f.svc.GetProduct(context.Background(), capsuleID, "velvet-dress-red")
	require.NoError(t, err)
	assert.Equal(t, models.PreflightNoGo, rec.Preflight.Status)

	_, err = f.svc.GetProduct(context.Background(), capsuleID, "missing")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
