package domain

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Photo Category
// =============================================================================

// PhotoCategory classifies what part of the vehicle a photo shows.
// A photo is uncategorized (empty category) until the categorization call
// succeeds or the submitter tagged it up front.
type PhotoCategory string

const (
	CategoryExterior      PhotoCategory = "exterior"
	CategoryInterior      PhotoCategory = "interior"
	CategoryDashboard     PhotoCategory = "dashboard"
	CategoryPaint         PhotoCategory = "paint"
	CategoryRust          PhotoCategory = "rust"
	CategoryEngine        PhotoCategory = "engine"
	CategoryUndercarriage PhotoCategory = "undercarriage"
	CategoryOBD           PhotoCategory = "obd"
	CategoryTitle         PhotoCategory = "title"
	CategoryRecords       PhotoCategory = "records"
)

// CategoryPriority is the fixed order in which categories are planned into
// chunks. Highest-priority categories are analyzed first so a pipeline that
// fails partway still surfaces the most valuable findings.
var CategoryPriority = []PhotoCategory{
	CategoryExterior,
	CategoryInterior,
	CategoryDashboard,
	CategoryPaint,
	CategoryRust,
	CategoryEngine,
	CategoryUndercarriage,
	CategoryOBD,
	CategoryTitle,
	CategoryRecords,
}

// IsValid returns true if the category is a recognized value.
func (c PhotoCategory) IsValid() bool {
	for _, known := range CategoryPriority {
		if c == known {
			return true
		}
	}
	return false
}

// =============================================================================
// Photo Domain Type
// =============================================================================

// Photo is one image belonging to an inspection. The orchestrator treats
// photos as read-only except for category and analysis annotation writes.
type Photo struct {
	ID           uuid.UUID
	InspectionID uuid.UUID
	StorageKey   string        // Object storage key for the original image
	ThumbnailKey string        // Object storage key for the thumbnail, if generated
	Category     PhotoCategory // Empty until categorized
	SizeBytes    int64
	CreatedAt    time.Time
}

// Categorized returns true once the photo has a category assigned.
func (p *Photo) Categorized() bool {
	return p.Category != ""
}
