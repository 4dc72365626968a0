package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/hartfield/camber/internal/ai"
	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/metrics"
	"github.com/hartfield/camber/internal/notify"
	"github.com/hartfield/camber/internal/orchestrator"
	"github.com/hartfield/camber/internal/repository"
	"github.com/hartfield/camber/internal/storage"
)

// maxConcurrentCategorize bounds parallel categorization calls so a large
// chunk does not burn through the provider's rate limit in one burst.
const maxConcurrentCategorize = 3

// ChunkAnalysisExecutor runs a chunk_analysis job: it downloads the chunk's
// photos, categorizes any photo still missing a category, sends the group to
// the AI provider for condition analysis, and records the result on the job
// before advancing the chain.
//
// Categorization failures degrade gracefully: the photo stays uncategorized
// and the analysis proceeds with the chunk's planned category. A failed
// analysis, by contrast, fails the job and the inspection with it.
type ChunkAnalysisExecutor struct {
	ledger     Ledger
	aiProvider ai.AIProvider
	storage    storage.Storage
	retryer    *orchestrator.Retryer
	sequencer  Advancer
	logger     *slog.Logger

	// Notifier, when set, announces failed inspections. Best effort.
	Notifier notify.Notifier
}

// NewChunkAnalysisExecutor creates a ChunkAnalysisExecutor. AI calls are
// retried per the orchestrator config; only errors ai.IsRetryable classifies
// as transient get another attempt.
func NewChunkAnalysisExecutor(
	ledger Ledger,
	aiProvider ai.AIProvider,
	store storage.Storage,
	cfg orchestrator.Config,
	sequencer Advancer,
	logger *slog.Logger,
) *ChunkAnalysisExecutor {
	retryer := orchestrator.NewRetryer(cfg, logger)
	retryer.Retryable = ai.IsRetryable

	return &ChunkAnalysisExecutor{
		ledger:     ledger,
		aiProvider: aiProvider,
		storage:    store,
		retryer:    retryer,
		sequencer:  sequencer,
		logger:     logger,
	}
}

// chunkResult is the stored shape of a chunk analysis outcome.
type chunkResult struct {
	Category          domain.PhotoCategory `json:"category"`
	Findings          []resultFinding      `json:"findings"`
	Summary           string               `json:"summary"`
	ImageQualityNotes string               `json:"image_quality_notes,omitempty"`
	PhotosAnalyzed    int                  `json:"photos_analyzed"`
}

type resultFinding struct {
	Description string        `json:"description"`
	Component   string        `json:"component"`
	PhotoIDs    []string      `json:"photo_ids,omitempty"`
	Confidence  ai.Confidence `json:"confidence"`
	Severity    ai.Severity   `json:"severity"`
	RepairHint  string        `json:"repair_hint,omitempty"`
}

// Execute runs the job to a terminal state. The job must already be in
// processing; on any unrecoverable error both the job and its inspection are
// failed and the original cause is returned for logging.
func (e *ChunkAnalysisExecutor) Execute(ctx context.Context, job repository.ProcessingJob) error {
	started := time.Now()

	if !job.Payload.Valid {
		return e.fail(ctx, job, errors.New("chunk job has no payload"))
	}
	var payload domain.ChunkPayload
	if err := json.Unmarshal(job.Payload.RawMessage, &payload); err != nil {
		return e.fail(ctx, job, fmt.Errorf("unmarshal chunk payload: %w", err))
	}
	if len(payload.PhotoIDs) == 0 {
		return e.fail(ctx, job, errors.New("chunk payload has no photos"))
	}

	inspection, err := e.ledger.GetInspectionByID(ctx, job.InspectionID)
	if err != nil {
		return e.fail(ctx, job, fmt.Errorf("load inspection: %w", err))
	}

	photos, err := e.ledger.ListPhotosByIDs(ctx, payload.PhotoIDs)
	if err != nil {
		return e.fail(ctx, job, fmt.Errorf("load chunk photos: %w", err))
	}
	if len(photos) != len(payload.PhotoIDs) {
		return e.fail(ctx, job, fmt.Errorf("chunk references %d photos, found %d", len(payload.PhotoIDs), len(photos)))
	}

	images, byID, err := e.downloadPhotos(ctx, payload.PhotoIDs, photos)
	if err != nil {
		return e.fail(ctx, job, err)
	}

	e.categorizePending(ctx, job.InspectionID, photos, byID)

	var analysis *ai.ChunkAnalysisResult
	err = e.retryer.Do(ctx, "analyze_chunk", func(ctx context.Context) error {
		var callErr error
		analysis, callErr = e.aiProvider.AnalyzeChunk(ctx, ai.AnalyzeChunkParams{
			Category:     payload.Category,
			Images:       images,
			VIN:          inspection.Vin,
			Mileage:      inspection.Mileage,
			OBD2Codes:    inspection.Obd2Codes,
			InspectionID: job.InspectionID,
		})
		return callErr
	})
	if err != nil {
		return e.fail(ctx, job, ai.WrapError("chunk analysis", err))
	}

	result := chunkResult{
		Category:          payload.Category,
		Summary:           analysis.Summary,
		ImageQualityNotes: analysis.ImageQualityNotes,
		PhotosAnalyzed:    len(images),
	}
	for _, finding := range analysis.Findings {
		result.Findings = append(result.Findings, resultFinding{
			Description: finding.Description,
			Component:   finding.Component,
			PhotoIDs:    finding.PhotoIDs,
			Confidence:  finding.Confidence,
			Severity:    finding.Severity,
			RepairHint:  finding.RepairHint,
		})
	}

	blob, err := json.Marshal(result)
	if err != nil {
		return e.fail(ctx, job, fmt.Errorf("marshal chunk result: %w", err))
	}

	// A completion write failure leaves the job in processing for the
	// reconciler's deadline sweep instead of double-failing it here.
	affected, err := e.ledger.CompleteJob(ctx, repository.CompleteJobParams{
		ID:           job.ID,
		Result:       pqtype.NullRawMessage{RawMessage: blob, Valid: true},
		CostCents:    int32(analysis.Usage.CostCents),
		InputTokens:  int32(analysis.Usage.InputTokens),
		OutputTokens: int32(analysis.Usage.OutputTokens),
	})
	if err != nil {
		return fmt.Errorf("complete chunk job %s: %w", job.ID, err)
	}
	if affected == 0 {
		e.logger.Info("job already settled, skipping advance", "job_id", job.ID)
		return nil
	}

	metrics.JobsTotal.WithLabelValues(job.JobType, "completed").Inc()
	metrics.JobDuration.WithLabelValues(job.JobType).Observe(time.Since(started).Seconds())
	e.logger.Info("chunk analysis completed",
		"job_id", job.ID,
		"inspection_id", job.InspectionID,
		"category", payload.Category,
		"findings", len(result.Findings),
		"cost_cents", analysis.Usage.CostCents,
	)

	return e.sequencer.Advance(ctx, job.InspectionID, job.SequenceOrder)
}

// downloadPhotos fetches every chunk member from object storage, preserving
// the planner's ordering of the photo IDs.
func (e *ChunkAnalysisExecutor) downloadPhotos(
	ctx context.Context,
	order []uuid.UUID,
	photos []repository.Photo,
) ([]ai.ChunkImage, map[uuid.UUID]ai.ChunkImage, error) {
	rows := make(map[uuid.UUID]repository.Photo, len(photos))
	for _, photo := range photos {
		rows[photo.ID] = photo
	}

	images := make([]ai.ChunkImage, 0, len(order))
	byID := make(map[uuid.UUID]ai.ChunkImage, len(order))

	for _, photoID := range order {
		photo, ok := rows[photoID]
		if !ok {
			return nil, nil, fmt.Errorf("photo %s not found for chunk", photoID)
		}

		reader, info, err := e.storage.Get(ctx, photo.StorageKey)
		if err != nil {
			return nil, nil, fmt.Errorf("download photo %s: %w", photoID, err)
		}
		data, err := io.ReadAll(reader)
		reader.Close()
		if err != nil {
			return nil, nil, fmt.Errorf("read photo %s: %w", photoID, err)
		}

		contentType := info.ContentType
		if contentType == "" {
			contentType = storage.DetectContentType("", photo.StorageKey, nil)
		}

		image := ai.ChunkImage{
			PhotoID:     photoID,
			ImageData:   data,
			ContentType: contentType,
		}
		images = append(images, image)
		byID[photoID] = image
	}

	return images, byID, nil
}

// categorizePending assigns categories to photos that still lack one, a few
// at a time. Failures are logged and counted but never abort the job; an
// uncategorized photo is analyzed under the chunk's planned category anyway.
func (e *ChunkAnalysisExecutor) categorizePending(
	ctx context.Context,
	inspectionID uuid.UUID,
	photos []repository.Photo,
	images map[uuid.UUID]ai.ChunkImage,
) {
	sem := make(chan struct{}, maxConcurrentCategorize)
	var wg sync.WaitGroup
	var categorized, degraded atomic.Int32

	for _, photo := range photos {
		if photo.Category.Valid {
			continue
		}
		image, ok := images[photo.ID]
		if !ok {
			continue
		}

		wg.Add(1)
		go func(photo repository.Photo, image ai.ChunkImage) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			var result *ai.CategorizationResult
			err := e.retryer.Do(ctx, "categorize_photo", func(ctx context.Context) error {
				var callErr error
				result, callErr = e.aiProvider.CategorizePhoto(ctx, ai.CategorizePhotoParams{
					ImageData:    image.ImageData,
					ContentType:  image.ContentType,
					PhotoID:      photo.ID,
					InspectionID: inspectionID,
				})
				return callErr
			})
			if err != nil {
				metrics.PhotosCategorized.WithLabelValues("failed").Inc()
				degraded.Add(1)
				e.logger.Warn("photo categorization failed, continuing uncategorized",
					"photo_id", photo.ID,
					"inspection_id", inspectionID,
					"error", err,
				)
				return
			}

			if err := e.ledger.UpdatePhotoCategory(ctx, repository.UpdatePhotoCategoryParams{
				ID:       photo.ID,
				Category: sql.NullString{String: string(result.Category), Valid: true},
			}); err != nil {
				e.logger.Error("failed to store photo category",
					"photo_id", photo.ID,
					"error", err,
				)
			}
			metrics.PhotosCategorized.WithLabelValues("ok").Inc()
			categorized.Add(1)
		}(photo, image)
	}

	wg.Wait()

	if categorized.Load() > 0 || degraded.Load() > 0 {
		e.logger.Info("photo categorization pass finished",
			"inspection_id", inspectionID,
			"categorized", categorized.Load(),
			"degraded", degraded.Load(),
		)
	}
}

func (e *ChunkAnalysisExecutor) fail(ctx context.Context, job repository.ProcessingJob, cause error) error {
	failJobAndInspection(ctx, e.ledger, e.Notifier, e.logger, job, cause.Error())
	return cause
}
