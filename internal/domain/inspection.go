// Package domain contains core business types and interfaces.
//
// This file defines the Inspection domain type: one end-to-end vehicle
// analysis request submitted by a user.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Inspection Status
// =============================================================================

// InspectionStatus represents the lifecycle state of an inspection.
type InspectionStatus string

const (
	// InspectionStatusPending indicates the submission has been recorded but
	// the analysis pipeline has not started yet.
	InspectionStatusPending InspectionStatus = "pending"

	// InspectionStatusProcessing indicates the job chain is running. The
	// inspection stays in this state until the final job completes or any
	// step fails irrecoverably.
	InspectionStatusProcessing InspectionStatus = "processing"

	// InspectionStatusDone indicates all jobs completed and the consolidated
	// report has been written.
	InspectionStatusDone InspectionStatus = "done"

	// InspectionStatusFailed indicates the pipeline stopped; ErrorMessage
	// carries the reason.
	InspectionStatusFailed InspectionStatus = "failed"
)

// String returns the string representation of the status.
func (s InspectionStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a recognized value.
func (s InspectionStatus) IsValid() bool {
	switch s {
	case InspectionStatusPending, InspectionStatusProcessing,
		InspectionStatusDone, InspectionStatusFailed:
		return true
	}
	return false
}

// IsTerminal returns true once the inspection can no longer change state.
func (s InspectionStatus) IsTerminal() bool {
	return s == InspectionStatusDone || s == InspectionStatusFailed
}

// CanTransitionTo checks if the inspection can advance to the target status.
// The lifecycle is strictly monotonic: pending -> processing -> {done|failed}.
func (s InspectionStatus) CanTransitionTo(target InspectionStatus) bool {
	switch s {
	case InspectionStatusPending:
		return target == InspectionStatusProcessing || target == InspectionStatusFailed
	case InspectionStatusProcessing:
		return target == InspectionStatusDone || target == InspectionStatusFailed
	}
	return false
}

// =============================================================================
// Submission Type
// =============================================================================

// SubmissionType identifies how the inspection photos reached us.
type SubmissionType string

const (
	SubmissionDirectUpload SubmissionType = "direct-upload"
	SubmissionURLScrape    SubmissionType = "url-scrape"
	SubmissionExtension    SubmissionType = "extension"
)

// IsValid returns true if the submission type is a recognized value.
func (t SubmissionType) IsValid() bool {
	switch t {
	case SubmissionDirectUpload, SubmissionURLScrape, SubmissionExtension:
		return true
	}
	return false
}

// =============================================================================
// Inspection Domain Type
// =============================================================================

// Inspection represents one vehicle-inspection submission.
//
// Status is mutated exclusively by the orchestrator and the reconciliation
// poller; inspections are never deleted by this subsystem.
type Inspection struct {
	ID             uuid.UUID        // Unique identifier
	VIN            string           // Vehicle identification number
	Mileage        int32            // Odometer reading at submission
	SubmissionType SubmissionType   // How the photos were submitted
	Status         InspectionStatus // Current lifecycle state
	OBD2Codes      []string         // Diagnostic trouble codes supplied with the submission
	ErrorMessage   string           // Populated when Status is failed
	Report         []byte           // Consolidated report JSON, present when done
	CreatedAt      time.Time
	UpdatedAt      time.Time

	// Computed fields (populated by queries/services, not stored directly)
	PhotoCount int
	JobCount   int
}

// HasReport returns true once the consolidated report has been written.
func (i *Inspection) HasReport() bool {
	return len(i.Report) > 0
}
