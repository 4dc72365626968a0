// Package handler contains the JSON HTTP handlers for the Camber API.
//
// This file implements the orchestration endpoints: chain advancement and
// reconciliation sweeps.
//
// Routes:
//   - POST /orchestrator/advance -> HandleAdvance
//   - POST /reconcile/poll       -> HandleReconcile
//
// Both are internal operational endpoints. Advance exists so a lost
// in-process advance can be replayed by hand; the reconciler calls the same
// code on its ticker, and an external scheduler can drive /reconcile/poll
// instead of or in addition to the ticker.
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/orchestrator"
)

// advancer is the slice of the sequencer the handler needs.
type advancer interface {
	Advance(ctx context.Context, inspectionID uuid.UUID, afterSequence int32) error
}

// sweeper runs one reconciliation pass. Satisfied by *orchestrator.Reconciler.
type sweeper interface {
	Run(ctx context.Context) (orchestrator.Summary, error)
}

// OrchestratorHandler handles chain advancement and reconciliation requests.
type OrchestratorHandler struct {
	sequencer  advancer
	reconciler sweeper
	logger     *slog.Logger
}

// NewOrchestratorHandler creates a new OrchestratorHandler.
func NewOrchestratorHandler(sequencer advancer, reconciler sweeper, logger *slog.Logger) *OrchestratorHandler {
	return &OrchestratorHandler{
		sequencer:  sequencer,
		reconciler: reconciler,
		logger:     logger,
	}
}

// RegisterRoutes registers orchestration routes on the provided mux.
func (h *OrchestratorHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /orchestrator/advance", h.HandleAdvance)
	mux.HandleFunc("POST /reconcile/poll", h.HandleReconcile)
}

// advanceRequest identifies the chain position to advance from.
type advanceRequest struct {
	InspectionID      uuid.UUID `json:"inspection_id"`
	CompletedSequence int32     `json:"completed_sequence"`
}

// HandleAdvance moves an inspection's chain past the given sequence: the next
// pending job is dispatched, or the inspection is finalized when none remain.
// Replaying an advance is harmless; every downstream transition is
// conditional.
func (h *OrchestratorHandler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	const op = "handler.advance"

	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
		return
	}
	if req.InspectionID == uuid.Nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "inspection_id is required"))
		return
	}
	if req.CompletedSequence < 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "completed_sequence must not be negative"))
		return
	}

	if err := h.sequencer.Advance(r.Context(), req.InspectionID, req.CompletedSequence); err != nil {
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"inspection_id":      req.InspectionID,
		"completed_sequence": req.CompletedSequence,
	})
}

// HandleReconcile runs one reconciliation sweep and returns its summary.
func (h *OrchestratorHandler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reconciler.Run(r.Context())
	if err != nil {
		InternalErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}
