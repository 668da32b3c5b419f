// Package service orchestrates every capsule state operation: acquire the
// capsule lock, load the document, run the pure engine, persist the delta,
// publish its provenance. Engines never touch storage; storage never makes
// decisions.
package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"capstate/internal/capsule/metrics"
	"capstate/internal/capsule/models"
	"capstate/internal/capsule/store"
	"capstate/internal/capsule/store/lock"
	"capstate/internal/gate"
	"capstate/internal/inference"
	"capstate/internal/promotion"
	"capstate/internal/provenance"
	"capstate/internal/reconcile"
	"capstate/internal/seeding"
	"capstate/pkg/domain"
	dErrors "capstate/pkg/domain-errors"
	"capstate/pkg/platform/sentinel"
)

// Service is the single entry point for capsule state operations.
type Service struct {
	store   store.Store
	locker  lock.Locker
	log     *provenance.Publisher
	history provenance.Store
	metrics *metrics.Metrics
	tracer  trace.Tracer
	clock   func() time.Time
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithClock overrides the service clock. Tests pin time with this.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithTracer attaches a real tracer; the default is a no-op.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) { s.tracer = tracer }
}

// New wires a service. evidenceLog receives every published event and serves
// history reads; metrics may be nil.
func New(st store.Store, locker lock.Locker, evidenceLog provenance.Store, m *metrics.Metrics, opts ...Option) *Service {
	s := &Service{
		store:   st,
		locker:  locker,
		log:     provenance.NewPublisher(evidenceLog),
		history: evidenceLog,
		metrics: m,
		tracer:  noop.NewTracerProvider().Tracer("capstate"),
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// computeFn runs one engine pass against the working copy and returns the
// provenance of what it did.
type computeFn func(working *models.CapsuleState, now time.Time) ([]provenance.Event, error)

// mutate is the one load-compute-save cycle every mutating operation goes
// through. Engines run against a clone; the original is kept for delta
// detection so an idempotent re-run leaves the stored document byte-identical
// (UpdatedAt included). Dry runs compute the full delta and then discard it:
// no save, no published events.
func (s *Service) mutate(ctx context.Context, capsuleID domain.CapsuleID, op string, dryRun bool, compute computeFn) (*models.CapsuleState, error) {
	ctx, span := s.tracer.Start(ctx, "capsule."+op, trace.WithAttributes(
		attribute.String("capsule.id", capsuleID.String()),
		attribute.Bool("dry_run", dryRun),
	))
	defer span.End()
	start := time.Now()
	defer func() { s.metrics.ObserveOperation(op, time.Since(start)) }()

	release, err := s.locker.Acquire(ctx, capsuleID)
	if err != nil {
		return nil, fmt.Errorf("acquire capsule lock: %w", err)
	}
	defer func() { _ = release(ctx) }()

	current, err := s.store.Load(ctx, capsuleID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	working := current.Clone()
	events, err := compute(working, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if dryRun {
		return working, nil
	}

	if !reflect.DeepEqual(current, working) {
		working.UpdatedAt = now.UTC()
		if err := s.store.Save(ctx, working); err != nil {
			return nil, fmt.Errorf("save capsule state: %w", err)
		}
	}
	// Skips are evidence too: the pass happened and chose not to act. They
	// are published even when the document itself did not change.
	for _, e := range events {
		if err := s.log.Emit(ctx, e); err != nil {
			return nil, fmt.Errorf("append evidence log: %w", err)
		}
	}
	return working, nil
}

// Seed creates a capsule's baseline document from a preflight report. A
// capsule that already has a document is never overwritten.
func (s *Service) Seed(ctx context.Context, capsuleID domain.CapsuleID, report seeding.PreflightReport, dryRun bool) (*models.CapsuleState, error) {
	ctx, span := s.tracer.Start(ctx, "capsule.seed", trace.WithAttributes(
		attribute.String("capsule.id", capsuleID.String()),
		attribute.Bool("dry_run", dryRun),
	))
	defer span.End()

	release, err := s.locker.Acquire(ctx, capsuleID)
	if err != nil {
		return nil, fmt.Errorf("acquire capsule lock: %w", err)
	}
	defer func() { _ = release(ctx) }()

	if _, err := s.store.Load(ctx, capsuleID); err == nil {
		return nil, dErrors.Newf(dErrors.CodeConflict, "capsule %s is already seeded", capsuleID)
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, err
	}

	now := s.clock()
	state, err := seeding.Seed(report, capsuleID, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if dryRun {
		return state, nil
	}
	if err := s.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("save capsule state: %w", err)
	}
	err = s.log.Emit(ctx, provenance.Event{
		CapsuleID: capsuleID,
		Kind:      provenance.KindMutation,
		Operation: "seed",
		Source:    "preflight_report",
		Reason:    fmt.Sprintf("seeded %d products", len(state.Products)),
		Timestamp: now.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("append evidence log: %w", err)
	}
	return state, nil
}

// InferPostImport derives imported facts from manifest evidence.
func (s *Service) InferPostImport(ctx context.Context, capsuleID domain.CapsuleID, ev inference.Evidence, dryRun bool) (*inference.Result, error) {
	var res *inference.Result
	_, err := s.mutate(ctx, capsuleID, "infer_post_import", dryRun,
		func(working *models.CapsuleState, now time.Time) ([]provenance.Event, error) {
			var err error
			res, err = inference.Apply(working, ev, now)
			if err != nil {
				return nil, err
			}
			return res.Events, nil
		})
	if err != nil {
		return nil, err
	}
	s.metrics.AddSkips("locked", res.LockedSkipped)
	s.metrics.AddSkips("ineligible", res.IneligibleSkipped)
	s.metrics.AddSkips("already_imported", res.AlreadyImported)
	return res, nil
}

// Reconcile folds an observed-reality snapshot back into state.
func (s *Service) Reconcile(ctx context.Context, capsuleID domain.CapsuleID, snap reconcile.Snapshot, dryRun bool) (*reconcile.Result, error) {
	var res *reconcile.Result
	_, err := s.mutate(ctx, capsuleID, "reconcile", dryRun,
		func(working *models.CapsuleState, now time.Time) ([]provenance.Event, error) {
			var err error
			res, err = reconcile.Apply(working, snap, now)
			if err != nil {
				return nil, err
			}
			return res.Events, nil
		})
	if err != nil {
		return nil, err
	}
	s.metrics.AddSkips("locked", res.LockedSkipped)
	s.metrics.AddEscalations(res.Escalated)
	return res, nil
}

// PromoteStaticActions enables the never-gated actions across the capsule,
// or across the scoped handles when scope is non-empty.
func (s *Service) PromoteStaticActions(ctx context.Context, capsuleID domain.CapsuleID, scope map[domain.Handle]struct{}, dryRun bool) (*seeding.PromoteResult, error) {
	var res *seeding.PromoteResult
	_, err := s.mutate(ctx, capsuleID, "promote_static_actions", dryRun,
		func(working *models.CapsuleState, now time.Time) ([]provenance.Event, error) {
			res = seeding.PromoteStaticActions(working, scope, now)
			return res.Events, nil
		})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Advance moves one product to the target stage through the state machine.
func (s *Service) Advance(ctx context.Context, capsuleID domain.CapsuleID, handle domain.Handle, target models.Stage, dryRun bool) (promotion.Result, error) {
	var outcome promotion.Result
	_, err := s.mutate(ctx, capsuleID, "advance", dryRun,
		func(working *models.CapsuleState, now time.Time) ([]provenance.Event, error) {
			rec, ok := working.Products[handle]
			if !ok {
				return nil, fmt.Errorf("product %q: %w", handle, sentinel.ErrNotFound)
			}
			var err error
			outcome, err = promotion.Advance(rec, target, now)
			if err != nil {
				return nil, err
			}
			if outcome == promotion.NoOp {
				return nil, nil
			}
			return []provenance.Event{{
				CapsuleID: capsuleID,
				Handle:    handle,
				CPI:       rec.Identity.CPI,
				Kind:      provenance.KindMutation,
				Operation: "advance",
				Reason:    fmt.Sprintf("stage advanced to %s", target),
				Timestamp: now.UTC(),
			}}, nil
		})
	if err != nil {
		return "", err
	}
	if outcome == promotion.Advanced && !dryRun {
		s.metrics.IncrementTransition(target.String())
	}
	return outcome, nil
}

// Evaluate answers whether an action is allowed for a product right now.
// Read-only; it takes no lock and never mutates.
func (s *Service) Evaluate(ctx context.Context, capsuleID domain.CapsuleID, handle domain.Handle, action models.Action) (gate.Decision, error) {
	state, err := s.store.Load(ctx, capsuleID)
	if err != nil {
		return gate.Decision{}, err
	}
	decision, err := gate.CanPerform(state, handle, action)
	if err != nil {
		return gate.Decision{}, err
	}
	s.metrics.IncrementGateDecision(action.String(), decision.Allowed)
	return decision, nil
}

// GetState returns the capsule's full state document.
func (s *Service) GetState(ctx context.Context, capsuleID domain.CapsuleID) (*models.CapsuleState, error) {
	return s.store.Load(ctx, capsuleID)
}

// GetProduct returns one product record.
func (s *Service) GetProduct(ctx context.Context, capsuleID domain.CapsuleID, handle domain.Handle) (*models.ProductRecord, error) {
	state, err := s.store.Load(ctx, capsuleID)
	if err != nil {
		return nil, err
	}
	rec, ok := state.Products[handle]
	if !ok {
		return nil, fmt.Errorf("product %q: %w", handle, sentinel.ErrNotFound)
	}
	return rec, nil
}

// History returns the capsule's evidence log, oldest first.
func (s *Service) History(ctx context.Context, capsuleID domain.CapsuleID) ([]provenance.Event, error) {
	return s.history.ListByCapsule(ctx, capsuleID)
}
