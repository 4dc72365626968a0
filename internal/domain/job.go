package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Job Type
// =============================================================================

// JobType identifies what a processing job does.
type JobType string

const (
	// JobTypeChunkAnalysis analyzes one size-bounded group of photos.
	JobTypeChunkAnalysis JobType = "chunk_analysis"

	// JobTypeOwnershipCostForecast estimates long-term ownership costs.
	JobTypeOwnershipCostForecast JobType = "ownership_cost_forecast"

	// JobTypeFairMarketValue estimates a fair purchase price.
	JobTypeFairMarketValue JobType = "fair_market_value"

	// JobTypeExpertAdvice produces buying advice from the accumulated findings.
	JobTypeExpertAdvice JobType = "expert_advice"
)

// SupplementalJobTypes lists the analyses that can be requested in addition
// to chunk analysis, in the order they are appended to the job chain.
var SupplementalJobTypes = []JobType{
	JobTypeOwnershipCostForecast,
	JobTypeFairMarketValue,
	JobTypeExpertAdvice,
}

// IsValid returns true if the job type is a recognized value.
func (t JobType) IsValid() bool {
	if t == JobTypeChunkAnalysis {
		return true
	}
	for _, known := range SupplementalJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Delegated returns true for job types whose execution is handed to the
// external workflow engine; their completion is only observable through the
// reconciliation poller.
func (t JobType) Delegated() bool {
	for _, known := range SupplementalJobTypes {
		if t == known {
			return true
		}
	}
	return false
}

// =============================================================================
// Job Status
// =============================================================================

// JobStatus represents the lifecycle state of a processing job.
//
// Legal transitions are pending -> processing -> completed and
// pending -> processing -> failed. A job in completed or failed is immutable.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// String returns the string representation of the status.
func (s JobStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true once the job can no longer change state.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// CanTransitionTo checks whether the job may advance to the target status.
func (s JobStatus) CanTransitionTo(target JobStatus) bool {
	switch s {
	case JobStatusPending:
		return target == JobStatusProcessing
	case JobStatusProcessing:
		return target == JobStatusCompleted || target == JobStatusFailed
	}
	return false
}

// =============================================================================
// ProcessingJob Domain Type
// =============================================================================

// ProcessingJob is one unit of pipeline work. sequence_order values are
// unique within an inspection and define a total execution order; at most
// one job per inspection is in processing at a time.
type ProcessingJob struct {
	ID            uuid.UUID
	InspectionID  uuid.UUID
	JobType       JobType
	SequenceOrder int32     // Strictly increasing per inspection, starting at 1
	Status        JobStatus
	Payload       []byte    // Input blob (e.g., the chunk for chunk_analysis)
	Result        []byte    // Output blob, written by the job's own execution
	CostCents     int32
	InputTokens   int32
	OutputTokens  int32
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

// ChunkPayload is the materialized form of a planned chunk, stored as the
// payload of a chunk_analysis job.
type ChunkPayload struct {
	Category  PhotoCategory `json:"category"`
	PhotoIDs  []uuid.UUID   `json:"photo_ids"`
	SizeBytes int64         `json:"size_bytes"`
	Oversized bool          `json:"oversized,omitempty"`
}
