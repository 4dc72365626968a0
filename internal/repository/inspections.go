package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const createInspection = `
INSERT INTO inspections (vin, mileage, submission_type, status, obd2_codes)
VALUES ($1, $2, $3, 'pending', $4)
RETURNING id, vin, mileage, submission_type, status, obd2_codes, error_message, report, created_at, updated_at
`

// CreateInspectionParams holds the attributes of a new submission.
type CreateInspectionParams struct {
	Vin            string
	Mileage        int32
	SubmissionType string
	Obd2Codes      []string
}

// CreateInspection inserts a new inspection in status 'pending'.
func (q *Queries) CreateInspection(ctx context.Context, arg CreateInspectionParams) (Inspection, error) {
	row := q.db.QueryRowContext(ctx, createInspection,
		arg.Vin,
		arg.Mileage,
		arg.SubmissionType,
		pq.Array(arg.Obd2Codes),
	)
	var i Inspection
	err := row.Scan(
		&i.ID,
		&i.Vin,
		&i.Mileage,
		&i.SubmissionType,
		&i.Status,
		&i.Obd2Codes,
		&i.ErrorMessage,
		&i.Report,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const getInspectionByID = `
SELECT id, vin, mileage, submission_type, status, obd2_codes, error_message, report, created_at, updated_at
FROM inspections
WHERE id = $1
`

// GetInspectionByID fetches a single inspection.
func (q *Queries) GetInspectionByID(ctx context.Context, id uuid.UUID) (Inspection, error) {
	row := q.db.QueryRowContext(ctx, getInspectionByID, id)
	var i Inspection
	err := row.Scan(
		&i.ID,
		&i.Vin,
		&i.Mileage,
		&i.SubmissionType,
		&i.Status,
		&i.Obd2Codes,
		&i.ErrorMessage,
		&i.Report,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	return i, err
}

const markInspectionProcessing = `
UPDATE inspections
SET status = 'processing', updated_at = now()
WHERE id = $1 AND status = 'pending'
`

// MarkInspectionProcessing advances a pending inspection to processing.
// Returns the number of rows affected (0 if the inspection was not pending).
func (q *Queries) MarkInspectionProcessing(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, markInspectionProcessing, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const touchInspection = `
UPDATE inspections
SET updated_at = now()
WHERE id = $1 AND status = 'processing'
`

// TouchInspection refreshes an in-flight inspection's updated_at without
// changing anything else. The reconciler calls it when the engine reports a
// delegated execution still running, so a long workflow keeps the inspection
// inside the scan window instead of aging out of it.
func (q *Queries) TouchInspection(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.ExecContext(ctx, touchInspection, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const completeInspection = `
UPDATE inspections
SET status = 'done', report = $2, updated_at = now()
WHERE id = $1 AND status = 'processing'
`

// CompleteInspectionParams carries the consolidated report.
type CompleteInspectionParams struct {
	ID     uuid.UUID
	Report pqtype.NullRawMessage
}

// CompleteInspection transitions processing -> done and stores the report.
// The conditional update makes re-applying completion a no-op.
func (q *Queries) CompleteInspection(ctx context.Context, arg CompleteInspectionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, completeInspection, arg.ID, arg.Report)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const failInspection = `
UPDATE inspections
SET status = 'failed', error_message = $2, updated_at = now()
WHERE id = $1 AND status IN ('pending', 'processing')
`

// FailInspectionParams carries the failure reason.
type FailInspectionParams struct {
	ID           uuid.UUID
	ErrorMessage sql.NullString
}

// FailInspection transitions a non-terminal inspection to failed.
// Inspections already done or failed are left untouched (0 rows affected).
func (q *Queries) FailInspection(ctx context.Context, arg FailInspectionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, failInspection, arg.ID, arg.ErrorMessage)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const listProcessingInspectionsSince = `
SELECT id, vin, mileage, submission_type, status, obd2_codes, error_message, report, created_at, updated_at
FROM inspections
WHERE status = 'processing' AND updated_at >= $1
ORDER BY updated_at ASC
`

// ListProcessingInspectionsSince returns in-flight inspections whose last
// update falls inside the reconciliation window. Bounding the window keeps
// the poller from rescanning long-dead rows.
func (q *Queries) ListProcessingInspectionsSince(ctx context.Context, since time.Time) ([]Inspection, error) {
	rows, err := q.db.QueryContext(ctx, listProcessingInspectionsSince, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Inspection
	for rows.Next() {
		var i Inspection
		if err := rows.Scan(
			&i.ID,
			&i.Vin,
			&i.Mileage,
			&i.SubmissionType,
			&i.Status,
			&i.Obd2Codes,
			&i.ErrorMessage,
			&i.Report,
			&i.CreatedAt,
			&i.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}
