// Package service contains the business logic layer.
//
// This file implements inspection intake: recording a submission, storing its
// photos, planning the analysis chain, and kicking off the first job.
package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/metrics"
	"github.com/hartfield/camber/internal/orchestrator"
	"github.com/hartfield/camber/internal/repository"
	"github.com/hartfield/camber/internal/storage"
)

const (
	// maxPhotosPerInspection caps one submission. The planner handles any
	// count, but unbounded intake is an abuse vector.
	maxPhotosPerInspection = 100

	// maxPhotoSizeBytes caps a single photo. Larger than the chunk budget on
	// purpose: an oversized photo still gets analyzed as its own chunk.
	maxPhotoSizeBytes = 50 * 1024 * 1024

	maxVINLength = 17
)

// =============================================================================
// Interface Definition
// =============================================================================

// InspectionService defines the interface for inspection intake and retrieval.
type InspectionService interface {
	// Intake records a new submission, stores its photos, plans the job
	// chain, and starts the pipeline. Returns domain.EINVALID for validation
	// errors.
	Intake(ctx context.Context, params IntakeParams) (*domain.Inspection, error)

	// Get retrieves an inspection with photo and job counts.
	// Returns domain.ENOTFOUND if the inspection does not exist.
	Get(ctx context.Context, id uuid.UUID) (*domain.Inspection, error)
}

// PhotoUpload is one submitted image.
type PhotoUpload struct {
	Data        []byte
	ContentType string               // Optional; detected when empty
	Filename    string               // Optional; used for key generation
	Category    domain.PhotoCategory // Optional pre-tag from the submitter
}

// IntakeParams describes a new inspection submission.
type IntakeParams struct {
	VIN            string
	Mileage        int32
	SubmissionType domain.SubmissionType
	OBD2Codes      []string
	Photos         []PhotoUpload
	Supplementals  []domain.JobType // Requested analyses beyond chunk analysis
}

// Ledger is the slice of the repository the service needs.
type Ledger interface {
	CreateInspection(ctx context.Context, arg repository.CreateInspectionParams) (repository.Inspection, error)
	GetInspectionByID(ctx context.Context, id uuid.UUID) (repository.Inspection, error)
	MarkInspectionProcessing(ctx context.Context, id uuid.UUID) (int64, error)
	FailInspection(ctx context.Context, arg repository.FailInspectionParams) (int64, error)
	CreatePhoto(ctx context.Context, arg repository.CreatePhotoParams) (repository.Photo, error)
	UpdatePhotoThumbnail(ctx context.Context, arg repository.UpdatePhotoThumbnailParams) error
	ListPhotosByInspectionID(ctx context.Context, inspectionID uuid.UUID) ([]repository.Photo, error)
	ListJobsByInspectionID(ctx context.Context, inspectionID uuid.UUID) ([]repository.ProcessingJob, error)
}

// chainPlanner is the slice of the sequencer the service needs.
// Satisfied by *orchestrator.Sequencer.
type chainPlanner interface {
	Plan(ctx context.Context, inspectionID uuid.UUID, chunks []orchestrator.Chunk, supplementals []domain.JobType) ([]repository.ProcessingJob, error)
	Advance(ctx context.Context, inspectionID uuid.UUID, afterSequence int32) error
}

// taskRunner schedules fire-and-forget background work.
// Satisfied by *orchestrator.TaskRunner.
type taskRunner interface {
	Go(name string, task func(ctx context.Context) error)
}

// =============================================================================
// Implementation
// =============================================================================

// inspectionService implements the InspectionService interface.
type inspectionService struct {
	ledger     Ledger
	store      storage.Storage
	planner    *orchestrator.Planner
	chain      chainPlanner
	tasks      taskRunner
	thumbnails ThumbnailProcessor
	logger     *slog.Logger
}

// NewInspectionService creates a new InspectionService.
func NewInspectionService(
	ledger Ledger,
	store storage.Storage,
	planner *orchestrator.Planner,
	chain chainPlanner,
	tasks taskRunner,
	thumbnails ThumbnailProcessor,
	logger *slog.Logger,
) InspectionService {
	return &inspectionService{
		ledger:     ledger,
		store:      store,
		planner:    planner,
		chain:      chain,
		tasks:      tasks,
		thumbnails: thumbnails,
		logger:     logger,
	}
}

// =============================================================================
// Intake
// =============================================================================

// Intake records a new submission and starts the pipeline.
func (s *inspectionService) Intake(ctx context.Context, params IntakeParams) (*domain.Inspection, error) {
	const op = "inspection.intake"

	if err := s.validateIntakeParams(op, &params); err != nil {
		return nil, err
	}

	row, err := s.ledger.CreateInspection(ctx, repository.CreateInspectionParams{
		Vin:            params.VIN,
		Mileage:        params.Mileage,
		SubmissionType: string(params.SubmissionType),
		Obd2Codes:      params.OBD2Codes,
	})
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create inspection")
	}
	metrics.InspectionsCreated.Inc()

	storedPhotos, err := s.storePhotos(ctx, row.ID, params.Photos)
	if err != nil {
		s.abortIntake(ctx, row.ID, err)
		return nil, domain.Internal(err, op, "failed to store photos")
	}

	domainPhotos := make([]domain.Photo, len(storedPhotos))
	for i, stored := range storedPhotos {
		domainPhotos[i] = domain.Photo{
			ID:         stored.row.ID,
			Category:   domain.PhotoCategory(stored.row.Category.String),
			SizeBytes:  stored.row.SizeBytes,
			StorageKey: stored.row.StorageKey,
		}
	}
	chunks := s.planner.Plan(domainPhotos)

	if _, err := s.chain.Plan(ctx, row.ID, chunks, params.Supplementals); err != nil {
		s.abortIntake(ctx, row.ID, err)
		return nil, domain.Internal(err, op, "failed to plan job chain")
	}

	affected, err := s.ledger.MarkInspectionProcessing(ctx, row.ID)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to start inspection")
	}
	if affected == 0 {
		return nil, domain.Conflict(op, "inspection is no longer pending")
	}

	s.tasks.Go("generate_thumbnails", func(ctx context.Context) error {
		s.generateThumbnails(ctx, row.ID, storedPhotos)
		return nil
	})
	s.tasks.Go("start_chain", func(ctx context.Context) error {
		return s.chain.Advance(ctx, row.ID, 0)
	})

	s.logger.Info("inspection intake complete",
		"inspection_id", row.ID,
		"vin", params.VIN,
		"photos", len(storedPhotos),
		"chunks", len(chunks),
		"supplementals", len(params.Supplementals),
	)

	inspection := rowToInspection(row)
	inspection.Status = domain.InspectionStatusProcessing
	inspection.PhotoCount = len(storedPhotos)
	return inspection, nil
}

// validateIntakeParams normalizes and validates the submission in place.
func (s *inspectionService) validateIntakeParams(op string, params *IntakeParams) error {
	params.VIN = strings.ToUpper(strings.TrimSpace(params.VIN))
	if params.VIN == "" {
		return domain.Invalid(op, "VIN is required")
	}
	if len(params.VIN) > maxVINLength {
		return domain.Invalid(op, fmt.Sprintf("VIN must be at most %d characters", maxVINLength))
	}
	if params.Mileage < 0 {
		return domain.Invalid(op, "mileage cannot be negative")
	}
	if !params.SubmissionType.IsValid() {
		return domain.Invalid(op, fmt.Sprintf("unknown submission type %q", params.SubmissionType))
	}
	if len(params.Photos) == 0 {
		return domain.Invalid(op, "at least one photo is required")
	}
	if len(params.Photos) > maxPhotosPerInspection {
		return domain.Invalid(op, fmt.Sprintf("at most %d photos per inspection", maxPhotosPerInspection))
	}

	for i := range params.Photos {
		photo := &params.Photos[i]
		if len(photo.Data) == 0 {
			return domain.Invalid(op, fmt.Sprintf("photo %d is empty", i+1))
		}
		if int64(len(photo.Data)) > maxPhotoSizeBytes {
			return domain.Errorf(domain.ETOOLARGE, op, "photo %d exceeds the %d byte limit", i+1, maxPhotoSizeBytes)
		}
		photo.ContentType = storage.DetectContentType(photo.ContentType, photo.Filename, bytes.NewReader(photo.Data))
		if !storage.IsAllowedPhotoType(photo.ContentType) {
			return domain.Invalid(op, fmt.Sprintf("photo %d has unsupported type %q", i+1, photo.ContentType))
		}
		if photo.Category != "" && !photo.Category.IsValid() {
			return domain.Invalid(op, fmt.Sprintf("photo %d has unknown category %q", i+1, photo.Category))
		}
	}

	seen := make(map[domain.JobType]bool, len(params.Supplementals))
	for _, jobType := range params.Supplementals {
		if !jobType.Delegated() {
			return domain.Invalid(op, fmt.Sprintf("%q is not a supplemental analysis", jobType))
		}
		if seen[jobType] {
			return domain.Invalid(op, fmt.Sprintf("supplemental analysis %q requested twice", jobType))
		}
		seen[jobType] = true
	}
	return nil
}

// storedPhoto pairs a photo row with the uploaded bytes so thumbnail
// generation can run without re-downloading.
type storedPhoto struct {
	row  repository.Photo
	data []byte
}

// storePhotos uploads every photo and records its row.
func (s *inspectionService) storePhotos(ctx context.Context, inspectionID uuid.UUID, uploads []PhotoUpload) ([]storedPhoto, error) {
	stored := make([]storedPhoto, 0, len(uploads))
	for i, upload := range uploads {
		filename := upload.Filename
		if filename == "" {
			filename = storage.FilenameForContentType(upload.ContentType)
		}
		key := storage.PhotoKey(inspectionID, filename)

		err := s.store.Put(ctx, key, bytes.NewReader(upload.Data), storage.PutOptions{
			ContentType: upload.ContentType,
			MaxSize:     maxPhotoSizeBytes,
		})
		if err != nil {
			return nil, fmt.Errorf("store photo %d: %w", i+1, err)
		}

		category := sql.NullString{}
		if upload.Category != "" {
			category = sql.NullString{String: string(upload.Category), Valid: true}
		}
		row, err := s.ledger.CreatePhoto(ctx, repository.CreatePhotoParams{
			InspectionID: inspectionID,
			StorageKey:   key,
			Category:     category,
			SizeBytes:    int64(len(upload.Data)),
		})
		if err != nil {
			return nil, fmt.Errorf("record photo %d: %w", i+1, err)
		}
		stored = append(stored, storedPhoto{row: row, data: upload.Data})
	}
	return stored, nil
}

// abortIntake fails an inspection that broke during intake.
func (s *inspectionService) abortIntake(ctx context.Context, inspectionID uuid.UUID, cause error) {
	s.logger.Error("inspection intake aborted",
		"inspection_id", inspectionID,
		"error", cause,
	)
	if _, err := s.ledger.FailInspection(ctx, repository.FailInspectionParams{
		ID:           inspectionID,
		ErrorMessage: sql.NullString{String: cause.Error(), Valid: true},
	}); err != nil {
		s.logger.Error("failed to mark inspection as failed",
			"inspection_id", inspectionID,
			"error", err,
		)
	}
	metrics.InspectionsFailed.Inc()
}

// generateThumbnails renders and stores a thumbnail per photo. Thumbnails are
// cosmetic; failures are logged and never touch the pipeline.
func (s *inspectionService) generateThumbnails(ctx context.Context, inspectionID uuid.UUID, photos []storedPhoto) {
	for _, photo := range photos {
		thumb, _, _, err := s.thumbnails.GenerateThumbnail(bytes.NewReader(photo.data), ThumbnailMaxWidth, ThumbnailMaxHeight)
		if err != nil {
			s.logger.Warn("thumbnail generation failed",
				"photo_id", photo.row.ID,
				"error", err,
			)
			continue
		}

		key := storage.ThumbnailKey(inspectionID, photo.row.ID)
		err = s.store.Put(ctx, key, bytes.NewReader(thumb), storage.PutOptions{
			ContentType: "image/jpeg",
		})
		if err != nil {
			s.logger.Warn("thumbnail upload failed",
				"photo_id", photo.row.ID,
				"error", err,
			)
			continue
		}

		if err := s.ledger.UpdatePhotoThumbnail(ctx, repository.UpdatePhotoThumbnailParams{
			ID:           photo.row.ID,
			ThumbnailKey: sql.NullString{String: key, Valid: true},
		}); err != nil {
			s.logger.Warn("thumbnail record failed",
				"photo_id", photo.row.ID,
				"error", err,
			)
		}
	}
}

// =============================================================================
// Get
// =============================================================================

// Get retrieves an inspection with photo and job counts.
func (s *inspectionService) Get(ctx context.Context, id uuid.UUID) (*domain.Inspection, error) {
	const op = "inspection.get"

	row, err := s.ledger.GetInspectionByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "inspection", id.String())
		}
		return nil, domain.Internal(err, op, "failed to load inspection")
	}
	inspection := rowToInspection(row)

	photos, err := s.ledger.ListPhotosByInspectionID(ctx, id)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to count photos")
	}
	inspection.PhotoCount = len(photos)

	jobs, err := s.ledger.ListJobsByInspectionID(ctx, id)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to count jobs")
	}
	inspection.JobCount = len(jobs)

	return inspection, nil
}

// rowToInspection converts a repository row to the domain type.
func rowToInspection(row repository.Inspection) *domain.Inspection {
	inspection := &domain.Inspection{
		ID:             row.ID,
		VIN:            row.Vin,
		Mileage:        row.Mileage,
		SubmissionType: domain.SubmissionType(row.SubmissionType),
		Status:         domain.InspectionStatus(row.Status),
		OBD2Codes:      row.Obd2Codes,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}
	if row.ErrorMessage.Valid {
		inspection.ErrorMessage = row.ErrorMessage.String
	}
	if row.Report.Valid {
		inspection.Report = row.Report.RawMessage
	}
	return inspection
}
