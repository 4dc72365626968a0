package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

const jobColumns = `id, inspection_id, job_type, sequence_order, status, payload, result,
cost_cents, input_tokens, output_tokens, error_message, created_at, updated_at, started_at, completed_at`

const createProcessingJob = `
INSERT INTO processing_jobs (inspection_id, job_type, sequence_order, status, payload)
VALUES ($1, $2, $3, $4, $5)
RETURNING ` + jobColumns

// CreateProcessingJobParams holds one planned job row.
type CreateProcessingJobParams struct {
	InspectionID  uuid.UUID
	JobType       string
	SequenceOrder int32
	Status        string
	Payload       pqtype.NullRawMessage
}

// CreateProcessingJob inserts one job row. The sequencer inserts the whole
// chain inside a transaction so a plan is all-or-nothing.
func (q *Queries) CreateProcessingJob(ctx context.Context, arg CreateProcessingJobParams) (ProcessingJob, error) {
	row := q.db.QueryRowContext(ctx, createProcessingJob,
		arg.InspectionID,
		arg.JobType,
		arg.SequenceOrder,
		arg.Status,
		arg.Payload,
	)
	return scanJobRow(row)
}

const getJobByID = `
SELECT ` + jobColumns + `
FROM processing_jobs
WHERE id = $1
`

// GetJobByID fetches a single job.
func (q *Queries) GetJobByID(ctx context.Context, id uuid.UUID) (ProcessingJob, error) {
	return scanJobRow(q.db.QueryRowContext(ctx, getJobByID, id))
}

const startJob = `
WITH started AS (
    UPDATE processing_jobs
    SET status = 'processing', started_at = now(), updated_at = now()
    WHERE id = $1 AND status = 'pending'
    RETURNING inspection_id
)
UPDATE inspections
SET updated_at = now()
FROM started
WHERE inspections.id = started.inspection_id
`

// StartJob transitions pending -> processing. Returns 0 rows affected when
// the job has already been started or reached a terminal state, which lets
// the trigger endpoint stay idempotent under duplicate dispatch. Every job
// transition also touches the owning inspection's updated_at; the
// reconciliation sweep reads it as "time of last pipeline activity", and a
// chain that outlives the scan window would otherwise become invisible to it.
func (q *Queries) StartJob(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, startJob, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const completeJob = `
WITH completed AS (
    UPDATE processing_jobs
    SET status = 'completed', result = $2, cost_cents = $3, input_tokens = $4,
        output_tokens = $5, completed_at = now(), updated_at = now()
    WHERE id = $1 AND status = 'processing'
    RETURNING inspection_id
)
UPDATE inspections
SET updated_at = now()
FROM completed
WHERE inspections.id = completed.inspection_id
`

// CompleteJobParams carries a job's result and usage accounting.
type CompleteJobParams struct {
	ID           uuid.UUID
	Result       pqtype.NullRawMessage
	CostCents    int32
	InputTokens  int32
	OutputTokens int32
}

// CompleteJob transitions processing -> completed and refreshes the owning
// inspection's liveness. Exactly one writer wins; a second completion attempt
// affects 0 rows.
func (q *Queries) CompleteJob(ctx context.Context, arg CompleteJobParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, completeJob,
		arg.ID,
		arg.Result,
		arg.CostCents,
		arg.InputTokens,
		arg.OutputTokens,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const failJob = `
WITH failed AS (
    UPDATE processing_jobs
    SET status = 'failed', error_message = $2, completed_at = now(), updated_at = now()
    WHERE id = $1 AND status = 'processing'
    RETURNING inspection_id
)
UPDATE inspections
SET updated_at = now()
FROM failed
WHERE inspections.id = failed.inspection_id
`

// FailJobParams carries the failure reason.
type FailJobParams struct {
	ID           uuid.UUID
	ErrorMessage sql.NullString
}

// FailJob transitions processing -> failed under the same conditional-update
// discipline as CompleteJob.
func (q *Queries) FailJob(ctx context.Context, arg FailJobParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, failJob, arg.ID, arg.ErrorMessage)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const nextPendingJob = `
SELECT ` + jobColumns + `
FROM processing_jobs
WHERE inspection_id = $1 AND status = 'pending' AND sequence_order > $2
ORDER BY sequence_order ASC
LIMIT 1
`

// NextPendingJobParams identifies the position in the chain to advance from.
type NextPendingJobParams struct {
	InspectionID  uuid.UUID
	AfterSequence int32
}

// NextPendingJob returns the smallest pending sequence greater than the
// just-completed one, or sql.ErrNoRows when the chain is exhausted.
func (q *Queries) NextPendingJob(ctx context.Context, arg NextPendingJobParams) (ProcessingJob, error) {
	return scanJobRow(q.db.QueryRowContext(ctx, nextPendingJob, arg.InspectionID, arg.AfterSequence))
}

const getProcessingJob = `
SELECT ` + jobColumns + `
FROM processing_jobs
WHERE inspection_id = $1 AND status = 'processing'
ORDER BY sequence_order ASC
LIMIT 1
`

// GetProcessingJob returns the inspection's single in-flight job, or
// sql.ErrNoRows when none is processing.
func (q *Queries) GetProcessingJob(ctx context.Context, inspectionID uuid.UUID) (ProcessingJob, error) {
	return scanJobRow(q.db.QueryRowContext(ctx, getProcessingJob, inspectionID))
}

const listJobsByInspectionID = `
SELECT ` + jobColumns + `
FROM processing_jobs
WHERE inspection_id = $1
ORDER BY sequence_order ASC
`

// ListJobsByInspectionID returns the whole chain in sequence order.
func (q *Queries) ListJobsByInspectionID(ctx context.Context, inspectionID uuid.UUID) ([]ProcessingJob, error) {
	rows, err := q.db.QueryContext(ctx, listJobsByInspectionID, inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

const listCompletedJobsByInspectionID = `
SELECT ` + jobColumns + `
FROM processing_jobs
WHERE inspection_id = $1 AND status = 'completed'
ORDER BY sequence_order ASC
`

// ListCompletedJobsByInspectionID returns completed jobs in sequence order,
// the input to report assembly.
func (q *Queries) ListCompletedJobsByInspectionID(ctx context.Context, inspectionID uuid.UUID) ([]ProcessingJob, error) {
	rows, err := q.db.QueryContext(ctx, listCompletedJobsByInspectionID, inspectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanJobs(rows)
}

func scanJobRow(row *sql.Row) (ProcessingJob, error) {
	var j ProcessingJob
	err := row.Scan(
		&j.ID,
		&j.InspectionID,
		&j.JobType,
		&j.SequenceOrder,
		&j.Status,
		&j.Payload,
		&j.Result,
		&j.CostCents,
		&j.InputTokens,
		&j.OutputTokens,
		&j.ErrorMessage,
		&j.CreatedAt,
		&j.UpdatedAt,
		&j.StartedAt,
		&j.CompletedAt,
	)
	return j, err
}

func scanJobs(rows *sql.Rows) ([]ProcessingJob, error) {
	var items []ProcessingJob
	for rows.Next() {
		var j ProcessingJob
		if err := rows.Scan(
			&j.ID,
			&j.InspectionID,
			&j.JobType,
			&j.SequenceOrder,
			&j.Status,
			&j.Payload,
			&j.Result,
			&j.CostCents,
			&j.InputTokens,
			&j.OutputTokens,
			&j.ErrorMessage,
			&j.CreatedAt,
			&j.UpdatedAt,
			&j.StartedAt,
			&j.CompletedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, j)
	}
	return items, rows.Err()
}
