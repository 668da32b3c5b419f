// Package handler wires the capsule lifecycle endpoints to the service. It
// parses and validates transport input, delegates every decision to the
// service, and maps errors through httputil.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"capstate/internal/capsule/models"
	"capstate/internal/gate"
	"capstate/internal/inference"
	"capstate/internal/promotion"
	"capstate/internal/provenance"
	"capstate/internal/reconcile"
	"capstate/internal/seeding"
	"capstate/pkg/domain"
	dErrors "capstate/pkg/domain-errors"
	"capstate/pkg/platform/httputil"
)

// Service defines the capsule operations the handler depends on.
type Service interface {
	Seed(ctx context.Context, capsuleID domain.CapsuleID, report seeding.PreflightReport, dryRun bool) (*models.CapsuleState, error)
	InferPostImport(ctx context.Context, capsuleID domain.CapsuleID, ev inference.Evidence, dryRun bool) (*inference.Result, error)
	Reconcile(ctx context.Context, capsuleID domain.CapsuleID, snap reconcile.Snapshot, dryRun bool) (*reconcile.Result, error)
	PromoteStaticActions(ctx context.Context, capsuleID domain.CapsuleID, scope map[domain.Handle]struct{}, dryRun bool) (*seeding.PromoteResult, error)
	Advance(ctx context.Context, capsuleID domain.CapsuleID, handle domain.Handle, target models.Stage, dryRun bool) (promotion.Result, error)
	Evaluate(ctx context.Context, capsuleID domain.CapsuleID, handle domain.Handle, action models.Action) (gate.Decision, error)
	GetState(ctx context.Context, capsuleID domain.CapsuleID) (*models.CapsuleState, error)
	GetProduct(ctx context.Context, capsuleID domain.CapsuleID, handle domain.Handle) (*models.ProductRecord, error)
	History(ctx context.Context, capsuleID domain.CapsuleID) ([]provenance.Event, error)
}

// Handler exposes capsule state operations over HTTP.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs a capsule handler with its dependencies.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts capsule endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Route("/capsules/{capsuleID}", func(r chi.Router) {
		r.Post("/seed", h.HandleSeed)
		r.Post("/infer", h.HandleInfer)
		r.Post("/reconcile", h.HandleReconcile)
		r.Post("/actions/promote-static", h.HandlePromoteStatic)
		r.Get("/state", h.HandleGetState)
		r.Get("/history", h.HandleHistory)
		r.Route("/products/{handle}", func(r chi.Router) {
			r.Get("/", h.HandleGetProduct)
			r.Post("/advance", h.HandleAdvance)
			r.Get("/can/{action}", h.HandleEvaluate)
		})
	})
}

func capsuleID(w http.ResponseWriter, r *http.Request) (domain.CapsuleID, bool) {
	id, err := domain.ParseCapsuleID(chi.URLParam(r, "capsuleID"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "capsule id", err))
		return "", false
	}
	return id, true
}

func handleParam(w http.ResponseWriter, r *http.Request) (domain.Handle, bool) {
	h, err := domain.ParseHandle(chi.URLParam(r, "handle"))
	if err != nil {
		httputil.WriteError(w, dErrors.Wrap(dErrors.CodeInvalidInput, "handle", err))
		return "", false
	}
	return h, true
}

// dryRun reads the dry_run query flag. Absent means a real run.
func dryRun(r *http.Request) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	return err == nil && v
}

// HandleSeed handles POST /capsules/{capsuleID}/seed.
func (h *Handler) HandleSeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := capsuleID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[SeedRequest](w, r)
	if !ok {
		return
	}
	dry := dryRun(r)
	start := time.Now()

	state, err := h.service.Seed(ctx, id, req.ToReport(), dry)
	if err != nil {
		h.logger.ErrorContext(ctx, "seed failed", "capsule", id, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "capsule seeded",
		"capsule", id,
		"products", len(state.Products),
		"dry_run", dry,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusCreated, SeedResponse{
		Capsule:  id.String(),
		Products: len(state.Products),
		DryRun:   dry,
	})
}

// HandleInfer handles POST /capsules/{capsuleID}/infer.
func (h *Handler) HandleInfer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := capsuleID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[InferRequest](w, r)
	if !ok {
		return
	}
	ev, err := req.ToEvidence()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	dry := dryRun(r)
	start := time.Now()

	res, err := h.service.InferPostImport(ctx, id, ev, dry)
	if err != nil {
		h.logger.ErrorContext(ctx, "post-import inference failed", "capsule", id, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "post-import inference completed",
		"capsule", id,
		"updated", res.Updated,
		"already_imported", res.AlreadyImported,
		"locked_skipped", res.LockedSkipped,
		"dry_run", dry,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleReconcile handles POST /capsules/{capsuleID}/reconcile.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := capsuleID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[ReconcileRequest](w, r)
	if !ok {
		return
	}
	snap, err := req.ToSnapshot()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	dry := dryRun(r)
	start := time.Now()

	res, err := h.service.Reconcile(ctx, id, snap, dry)
	if err != nil {
		h.logger.ErrorContext(ctx, "reconciliation failed", "capsule", id, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "reconciliation completed",
		"capsule", id,
		"adopted", res.Adopted,
		"escalated", res.Escalated,
		"ignored", res.Ignored,
		"dry_run", dry,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandlePromoteStatic handles POST /capsules/{capsuleID}/actions/promote-static.
func (h *Handler) HandlePromoteStatic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := capsuleID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeOptional[PromoteStaticRequest](w, r)
	if !ok {
		return
	}
	scope, err := req.ParsedScope()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	dry := dryRun(r)

	res, err := h.service.PromoteStaticActions(ctx, id, scope, dry)
	if err != nil {
		h.logger.ErrorContext(ctx, "static action promotion failed", "capsule", id, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "static actions promoted",
		"capsule", id,
		"promoted", res.Promoted,
		"dry_run", dry,
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleAdvance handles POST /capsules/{capsuleID}/products/{handle}/advance.
func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := capsuleID(w, r)
	if !ok {
		return
	}
	handle, ok := handleParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.Decode[AdvanceRequest](w, r)
	if !ok {
		return
	}
	target, err := req.ParsedTarget()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	dry := dryRun(r)

	outcome, err := h.service.Advance(ctx, id, handle, target, dry)
	if err != nil {
		h.logger.WarnContext(ctx, "advance rejected",
			"capsule", id, "handle", handle, "target", target, "error", err)
		httputil.WriteError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "product advanced",
		"capsule", id,
		"handle", handle,
		"target", target,
		"outcome", outcome,
		"dry_run", dry,
	)
	httputil.WriteJSON(w, http.StatusOK, NewAdvanceResponse(outcome, target))
}

// HandleEvaluate handles GET /capsules/{capsuleID}/products/{handle}/can/{action}.
func (h *Handler) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := capsuleID(w, r)
	if !ok {
		return
	}
	handle, ok := handleParam(w, r)
	if !ok {
		return
	}
	action, err := models.ParseAction(chi.URLParam(r, "action"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	decision, err := h.service.Evaluate(ctx, id, handle, action)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, decision)
}

// HandleGetState handles GET /capsules/{capsuleID}/state.
func (h *Handler) HandleGetState(w http.ResponseWriter, r *http.Request) {
	id, ok := capsuleID(w, r)
	if !ok {
		return
	}
	state, err := h.service.GetState(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, state)
}

// HandleGetProduct handles GET /capsules/{capsuleID}/products/{handle}.
func (h *Handler) HandleGetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := capsuleID(w, r)
	if !ok {
		return
	}
	handle, ok := handleParam(w, r)
	if !ok {
		return
	}
	rec, err := h.service.GetProduct(r.Context(), id, handle)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rec)
}

// HandleHistory handles GET /capsules/{capsuleID}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := capsuleID(w, r)
	if !ok {
		return
	}
	events, err := h.service.History(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, events)
}
