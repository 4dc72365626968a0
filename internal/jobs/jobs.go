// Package jobs contains the executors behind the pipeline's trigger
// endpoints. Each executor runs one already-started job: chunk analysis is
// performed in-process against the AI provider, while the supplemental
// analyses are launched on the external workflow engine and settled later by
// the reconciliation poller.
package jobs

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/metrics"
	"github.com/hartfield/camber/internal/notify"
	"github.com/hartfield/camber/internal/repository"
)

// Executor runs one started job. Implementations are responsible for driving
// the job to a terminal state, except for delegated analyses where the
// terminal transition belongs to the reconciler.
type Executor interface {
	Execute(ctx context.Context, job repository.ProcessingJob) error
}

// Ledger is the slice of the repository the executors need.
type Ledger interface {
	GetInspectionByID(ctx context.Context, id uuid.UUID) (repository.Inspection, error)
	FailInspection(ctx context.Context, arg repository.FailInspectionParams) (int64, error)
	ListPhotosByIDs(ctx context.Context, ids []uuid.UUID) ([]repository.Photo, error)
	UpdatePhotoCategory(ctx context.Context, arg repository.UpdatePhotoCategoryParams) error
	CompleteJob(ctx context.Context, arg repository.CompleteJobParams) (int64, error)
	FailJob(ctx context.Context, arg repository.FailJobParams) (int64, error)
	ListCompletedJobsByInspectionID(ctx context.Context, inspectionID uuid.UUID) ([]repository.ProcessingJob, error)
}

// Advancer moves an inspection's job chain forward after a completion.
// Satisfied by *orchestrator.Sequencer.
type Advancer interface {
	Advance(ctx context.Context, inspectionID uuid.UUID, afterSequence int32) error
}

// failJobAndInspection marks the job failed and fails the whole inspection.
// A failed job is unrecoverable here because the chain has no re-execution
// path; the inspection's other pending jobs simply never run.
func failJobAndInspection(ctx context.Context, ledger Ledger, notifier notify.Notifier, logger *slog.Logger, job repository.ProcessingJob, reason string) {
	message := sql.NullString{String: reason, Valid: true}

	if _, err := ledger.FailJob(ctx, repository.FailJobParams{
		ID:           job.ID,
		ErrorMessage: message,
	}); err != nil {
		logger.Error("failed to mark job failed",
			"job_id", job.ID,
			"error", err,
		)
	}
	if _, err := ledger.FailInspection(ctx, repository.FailInspectionParams{
		ID:           job.InspectionID,
		ErrorMessage: message,
	}); err != nil {
		logger.Error("failed to mark inspection failed",
			"inspection_id", job.InspectionID,
			"error", err,
		)
	}

	if notifier != nil {
		if inspection, err := ledger.GetInspectionByID(ctx, job.InspectionID); err == nil {
			_ = notifier.InspectionFailed(ctx, inspection.ID, inspection.Vin, reason)
		}
	}

	metrics.JobsTotal.WithLabelValues(job.JobType, "failed").Inc()
	metrics.InspectionsFailed.Inc()
	logger.Error("job failed",
		"job_id", job.ID,
		"inspection_id", job.InspectionID,
		"job_type", job.JobType,
		"reason", reason,
	)
}
