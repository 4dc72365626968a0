package repository

import (
	"context"

	"github.com/google/uuid"
)

const createAIUsage = `
INSERT INTO ai_usage (inspection_id, model, input_tokens, output_tokens, cost_cents, request_type)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, inspection_id, model, input_tokens, output_tokens, cost_cents, request_type, created_at
`

// CreateAIUsageParams records one AI API call's token and cost accounting.
type CreateAIUsageParams struct {
	InspectionID uuid.NullUUID
	Model        string
	InputTokens  int32
	OutputTokens int32
	CostCents    int32
	RequestType  string
}

// CreateAIUsage inserts a usage row for monitoring and cost tracking.
func (q *Queries) CreateAIUsage(ctx context.Context, arg CreateAIUsageParams) (AiUsage, error) {
	row := q.db.QueryRowContext(ctx, createAIUsage,
		arg.InspectionID,
		arg.Model,
		arg.InputTokens,
		arg.OutputTokens,
		arg.CostCents,
		arg.RequestType,
	)
	var u AiUsage
	err := row.Scan(
		&u.ID,
		&u.InspectionID,
		&u.Model,
		&u.InputTokens,
		&u.OutputTokens,
		&u.CostCents,
		&u.RequestType,
		&u.CreatedAt,
	)
	return u, err
}
