package orchestrator

import (
	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/domain"
)

// Chunk is an ephemeral, in-memory grouping of photos produced by the
// planner. It is never persisted as its own entity; the sequencer
// materializes each chunk as the payload of one chunk_analysis job.
type Chunk struct {
	Category  domain.PhotoCategory
	Photos    []domain.Photo
	SizeBytes int64
	Oversized bool
}

// PhotoIDs returns the ids of the chunk's members.
func (c Chunk) PhotoIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Photos))
	for _, p := range c.Photos {
		ids = append(ids, p.ID)
	}
	return ids
}

// Planner partitions an inspection's photos into size- and category-bounded
// chunks. It is a pure function over already-fetched data; fetching photos
// and format conversion are collaborator concerns.
type Planner struct {
	// MaxChunkBytes is the byte budget per chunk. A photo that alone exceeds
	// the budget becomes its own oversized chunk rather than being dropped.
	MaxChunkBytes int64
}

// NewPlanner creates a Planner with the given byte budget.
func NewPlanner(maxChunkBytes int64) *Planner {
	return &Planner{MaxChunkBytes: maxChunkBytes}
}

// Plan groups photos into chunks. Every photo appears in exactly one chunk,
// no chunk exceeds the byte budget except oversized singletons, and chunks
// are filled in category-priority order so the highest-value categories are
// analyzed first. Photos with no category are planned after all prioritized
// categories.
func (p *Planner) Plan(photos []domain.Photo) []Chunk {
	byCategory := make(map[domain.PhotoCategory][]domain.Photo, len(domain.CategoryPriority)+1)
	for _, photo := range photos {
		byCategory[photo.Category] = append(byCategory[photo.Category], photo)
	}

	order := make([]domain.PhotoCategory, 0, len(domain.CategoryPriority)+1)
	order = append(order, domain.CategoryPriority...)
	order = append(order, "") // uncategorized last

	var chunks []Chunk
	for _, category := range order {
		chunks = append(chunks, p.planCategory(category, byCategory[category])...)
	}
	return chunks
}

// planCategory greedily packs one category's photos. The current chunk is
// closed as soon as the next photo would push it past the budget.
func (p *Planner) planCategory(category domain.PhotoCategory, photos []domain.Photo) []Chunk {
	var chunks []Chunk
	var current Chunk

	flush := func() {
		if len(current.Photos) > 0 {
			chunks = append(chunks, current)
		}
		current = Chunk{Category: category}
	}
	current = Chunk{Category: category}

	for _, photo := range photos {
		if photo.SizeBytes > p.MaxChunkBytes {
			// Oversized photos are never dropped; they ride alone.
			flush()
			chunks = append(chunks, Chunk{
				Category:  category,
				Photos:    []domain.Photo{photo},
				SizeBytes: photo.SizeBytes,
				Oversized: true,
			})
			continue
		}
		if current.SizeBytes+photo.SizeBytes > p.MaxChunkBytes {
			flush()
		}
		current.Photos = append(current.Photos, photo)
		current.SizeBytes += photo.SizeBytes
	}
	flush()

	return chunks
}
