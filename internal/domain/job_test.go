package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name   string
		from   JobStatus
		to     JobStatus
		expect bool
	}{
		{"pending to processing", JobStatusPending, JobStatusProcessing, true},
		{"pending to completed skips processing", JobStatusPending, JobStatusCompleted, false},
		{"pending to failed skips processing", JobStatusPending, JobStatusFailed, false},
		{"processing to completed", JobStatusProcessing, JobStatusCompleted, true},
		{"processing to failed", JobStatusProcessing, JobStatusFailed, true},
		{"processing back to pending", JobStatusProcessing, JobStatusPending, false},
		{"completed is immutable", JobStatusCompleted, JobStatusProcessing, false},
		{"completed cannot fail", JobStatusCompleted, JobStatusFailed, false},
		{"failed is immutable", JobStatusFailed, JobStatusProcessing, false},
		{"failed cannot complete", JobStatusFailed, JobStatusCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusPending.IsTerminal())
	assert.False(t, JobStatusProcessing.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusFailed.IsTerminal())
}

func TestJobType_Delegated(t *testing.T) {
	assert.False(t, JobTypeChunkAnalysis.Delegated())
	assert.True(t, JobTypeOwnershipCostForecast.Delegated())
	assert.True(t, JobTypeFairMarketValue.Delegated())
	assert.True(t, JobTypeExpertAdvice.Delegated())
}

func TestJobType_IsValid(t *testing.T) {
	assert.True(t, JobTypeChunkAnalysis.IsValid())
	assert.True(t, JobTypeExpertAdvice.IsValid())
	assert.False(t, JobType("report_render").IsValid())
	assert.False(t, JobType("").IsValid())
}
