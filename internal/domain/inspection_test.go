package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInspectionStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name   string
		from   InspectionStatus
		to     InspectionStatus
		expect bool
	}{
		{"pending to processing", InspectionStatusPending, InspectionStatusProcessing, true},
		{"pending to failed", InspectionStatusPending, InspectionStatusFailed, true},
		{"pending straight to done", InspectionStatusPending, InspectionStatusDone, false},
		{"processing to done", InspectionStatusProcessing, InspectionStatusDone, true},
		{"processing to failed", InspectionStatusProcessing, InspectionStatusFailed, true},
		{"processing back to pending", InspectionStatusProcessing, InspectionStatusPending, false},
		{"done is terminal", InspectionStatusDone, InspectionStatusProcessing, false},
		{"failed is terminal", InspectionStatusFailed, InspectionStatusProcessing, false},
		{"failed cannot become done", InspectionStatusFailed, InspectionStatusDone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestSubmissionType_IsValid(t *testing.T) {
	assert.True(t, SubmissionDirectUpload.IsValid())
	assert.True(t, SubmissionURLScrape.IsValid())
	assert.True(t, SubmissionExtension.IsValid())
	assert.False(t, SubmissionType("email").IsValid())
}

func TestPhotoCategory_IsValid(t *testing.T) {
	for _, c := range CategoryPriority {
		assert.True(t, c.IsValid(), "category %s", c)
	}
	assert.False(t, PhotoCategory("wheels").IsValid())
	assert.False(t, PhotoCategory("").IsValid())
}
