package orchestrator

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/repository"
)

// Ledger is the slice of the repository the orchestrator drives state
// transitions through. *repository.Queries satisfies it; tests substitute an
// in-memory fake.
type Ledger interface {
	GetInspectionByID(ctx context.Context, id uuid.UUID) (repository.Inspection, error)
	CompleteInspection(ctx context.Context, arg repository.CompleteInspectionParams) (int64, error)
	FailInspection(ctx context.Context, arg repository.FailInspectionParams) (int64, error)
	TouchInspection(ctx context.Context, id uuid.UUID) (int64, error)
	ListProcessingInspectionsSince(ctx context.Context, since time.Time) ([]repository.Inspection, error)

	NextPendingJob(ctx context.Context, arg repository.NextPendingJobParams) (repository.ProcessingJob, error)
	GetProcessingJob(ctx context.Context, inspectionID uuid.UUID) (repository.ProcessingJob, error)
	ListJobsByInspectionID(ctx context.Context, inspectionID uuid.UUID) ([]repository.ProcessingJob, error)
	ListCompletedJobsByInspectionID(ctx context.Context, inspectionID uuid.UUID) ([]repository.ProcessingJob, error)
	CompleteJob(ctx context.Context, arg repository.CompleteJobParams) (int64, error)
	FailJob(ctx context.Context, arg repository.FailJobParams) (int64, error)
}
