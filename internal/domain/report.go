package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Report is the consolidated output of an inspection: the results of every
// completed job, in sequence order, plus aggregate usage totals.
type Report struct {
	InspectionID uuid.UUID       `json:"inspection_id"`
	VIN          string          `json:"vin"`
	Mileage      int32           `json:"mileage"`
	GeneratedAt  time.Time       `json:"generated_at"`
	Sections     []ReportSection `json:"sections"`
	Usage        ReportUsage     `json:"usage"`
}

// ReportSection holds one job's result blob.
type ReportSection struct {
	JobType       JobType         `json:"job_type"`
	SequenceOrder int32           `json:"sequence_order"`
	Result        json.RawMessage `json:"result"`
}

// ReportUsage aggregates token and cost accounting across the whole chain.
type ReportUsage struct {
	InputTokens  int32 `json:"input_tokens"`
	OutputTokens int32 `json:"output_tokens"`
	CostCents    int32 `json:"cost_cents"`
}
