// Package handler contains the JSON HTTP handlers for the Camber API.
//
// This file implements the job execution endpoints the dispatcher posts to.
//
// Routes:
//   - POST /jobs/chunk-analysis           -> chunk analysis execution
//   - POST /jobs/ownership-cost-forecast  -> delegated workflow launch
//   - POST /jobs/fair-market-value        -> delegated workflow launch
//   - POST /jobs/expert-advice            -> delegated workflow launch
//
// These routes are internal: the service dispatches to itself and the body
// carries only ledger IDs. Each endpoint claims the job with a conditional
// start, schedules the actual execution in the background, and returns 202.
// A duplicate dispatch loses the start claim and is acknowledged without
// re-running anything.
package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/jobs"
	"github.com/hartfield/camber/internal/orchestrator"
	"github.com/hartfield/camber/internal/repository"
)

// jobLedger is the slice of the repository the job endpoints need.
type jobLedger interface {
	GetJobByID(ctx context.Context, id uuid.UUID) (repository.ProcessingJob, error)
	StartJob(ctx context.Context, id uuid.UUID) (int64, error)
}

// taskRunner schedules fire-and-forget background work.
// Satisfied by *orchestrator.TaskRunner.
type taskRunner interface {
	Go(name string, task func(ctx context.Context) error)
}

// JobHandler handles job execution trigger requests.
type JobHandler struct {
	ledger    jobLedger
	executors map[domain.JobType]jobs.Executor
	tasks     taskRunner
	logger    *slog.Logger
}

// NewJobHandler creates a new JobHandler. The executors map binds each job
// type to the code that runs it.
func NewJobHandler(ledger jobLedger, executors map[domain.JobType]jobs.Executor, tasks taskRunner, logger *slog.Logger) *JobHandler {
	return &JobHandler{
		ledger:    ledger,
		executors: executors,
		tasks:     tasks,
		logger:    logger,
	}
}

// RegisterRoutes registers job execution routes on the provided mux.
func (h *JobHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /jobs/chunk-analysis", h.trigger(domain.JobTypeChunkAnalysis))
	mux.HandleFunc("POST /jobs/ownership-cost-forecast", h.trigger(domain.JobTypeOwnershipCostForecast))
	mux.HandleFunc("POST /jobs/fair-market-value", h.trigger(domain.JobTypeFairMarketValue))
	mux.HandleFunc("POST /jobs/expert-advice", h.trigger(domain.JobTypeExpertAdvice))
}

// triggerResponse acknowledges a dispatch. Started is false when the job had
// already been claimed and nothing was scheduled.
type triggerResponse struct {
	JobID   uuid.UUID `json:"job_id"`
	Started bool      `json:"started"`
}

// trigger returns the handler for one job type's execution endpoint.
func (h *JobHandler) trigger(jobType domain.JobType) http.HandlerFunc {
	op := fmt.Sprintf("handler.trigger_%s", jobType)

	return func(w http.ResponseWriter, r *http.Request) {
		var req orchestrator.TriggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
			return
		}
		if req.JobID == uuid.Nil || req.InspectionID == uuid.Nil {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "inspection_id and job_id are required"))
			return
		}

		job, err := h.ledger.GetJobByID(r.Context(), req.JobID)
		if errors.Is(err, sql.ErrNoRows) {
			ErrorResponse(w, r, h.logger, domain.NotFound(op, "job", req.JobID.String()))
			return
		}
		if err != nil {
			InternalErrorResponse(w, r, h.logger, err)
			return
		}

		if job.InspectionID != req.InspectionID {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "job does not belong to the given inspection"))
			return
		}
		if domain.JobType(job.JobType) != jobType {
			ErrorResponse(w, r, h.logger, domain.Errorf(domain.EINVALID, op, "job %s has type %q, not %q", job.ID, job.JobType, jobType))
			return
		}

		executor, ok := h.executors[jobType]
		if !ok {
			InternalErrorResponse(w, r, h.logger, fmt.Errorf("no executor registered for job type %q", jobType))
			return
		}

		affected, err := h.ledger.StartJob(r.Context(), job.ID)
		if err != nil {
			InternalErrorResponse(w, r, h.logger, err)
			return
		}
		if affected == 0 {
			// Duplicate dispatch or an already-settled job. Acknowledge
			// without re-running.
			h.logger.Info("job already claimed, skipping execution",
				"job_id", job.ID,
				"job_type", job.JobType,
				"status", job.Status,
			)
			writeJSON(w, http.StatusAccepted, triggerResponse{JobID: job.ID, Started: false})
			return
		}

		h.tasks.Go("execute_"+string(jobType), func(ctx context.Context) error {
			return executor.Execute(ctx, job)
		})

		writeJSON(w, http.StatusAccepted, triggerResponse{JobID: job.ID, Started: true})
	}
}
