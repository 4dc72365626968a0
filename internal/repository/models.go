package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Inspection mirrors the inspections table.
type Inspection struct {
	ID             uuid.UUID
	Vin            string
	Mileage        int32
	SubmissionType string
	Status         string
	Obd2Codes      pq.StringArray
	ErrorMessage   sql.NullString
	Report         pqtype.NullRawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Photo mirrors the photos table.
type Photo struct {
	ID           uuid.UUID
	InspectionID uuid.UUID
	StorageKey   string
	ThumbnailKey sql.NullString
	Category     sql.NullString
	SizeBytes    int64
	CreatedAt    time.Time
}

// ProcessingJob mirrors the processing_jobs table.
type ProcessingJob struct {
	ID            uuid.UUID
	InspectionID  uuid.UUID
	JobType       string
	SequenceOrder int32
	Status        string
	Payload       pqtype.NullRawMessage
	Result        pqtype.NullRawMessage
	CostCents     int32
	InputTokens   int32
	OutputTokens  int32
	ErrorMessage  sql.NullString
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     sql.NullTime
	CompletedAt   sql.NullTime
}

// AiUsage mirrors the ai_usage table.
type AiUsage struct {
	ID           uuid.UUID
	InspectionID uuid.NullUUID
	Model        string
	InputTokens  int32
	OutputTokens int32
	CostCents    int32
	RequestType  string
	CreatedAt    time.Time
}
