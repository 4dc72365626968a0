package orchestrator

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/metrics"
	"github.com/hartfield/camber/internal/notify"
	"github.com/hartfield/camber/internal/repository"
	"github.com/hartfield/camber/internal/storage"
)

// Sequencer owns the job chain of an inspection: it materializes the planned
// chunks and requested supplemental analyses as ledger rows, and it advances
// the chain one job at a time as completions land.
//
// Advance is the single convergence point for both completion paths, the
// in-process one and the reconciliation poller, so chain progression stays
// strictly sequential no matter which path observed the completion.
type Sequencer struct {
	db         *sql.DB
	queries    *repository.Queries
	ledger     Ledger
	dispatcher *Dispatcher
	logger     *slog.Logger

	// Notifier, when set, announces completed inspections. Delivery is best
	// effort and never blocks the chain.
	Notifier notify.Notifier

	// Archive, when set, writes a copy of the consolidated report to object
	// storage. Best effort; the ledger row stays the source of truth.
	Archive storage.Storage
}

// NewSequencer creates a Sequencer. The concrete queries handle is needed for
// transactional planning; all other access goes through the Ledger.
func NewSequencer(db *sql.DB, queries *repository.Queries, dispatcher *Dispatcher, logger *slog.Logger) *Sequencer {
	return &Sequencer{
		db:         db,
		queries:    queries,
		ledger:     queries,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Plan writes the full job chain for an inspection in one transaction:
// one chunk_analysis job per chunk, in planner order, followed by the
// requested supplemental analyses. Sequence numbers start at 1 and every job
// is created pending. A partial chain is never visible.
func (s *Sequencer) Plan(ctx context.Context, inspectionID uuid.UUID, chunks []Chunk, supplementals []domain.JobType) ([]repository.ProcessingJob, error) {
	if len(chunks) == 0 && len(supplementals) == 0 {
		return nil, fmt.Errorf("plan for inspection %s has no jobs", inspectionID)
	}
	for _, jobType := range supplementals {
		if !jobType.Delegated() {
			return nil, fmt.Errorf("job type %q is not a supplemental analysis", jobType)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin plan transaction: %w", err)
	}
	defer tx.Rollback()

	qtx := s.queries.WithTx(tx)
	var jobs []repository.ProcessingJob
	seq := int32(0)

	for _, chunk := range chunks {
		seq++
		payload, err := json.Marshal(domain.ChunkPayload{
			Category:  chunk.Category,
			PhotoIDs:  chunk.PhotoIDs(),
			SizeBytes: chunk.SizeBytes,
			Oversized: chunk.Oversized,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal chunk payload: %w", err)
		}

		job, err := qtx.CreateProcessingJob(ctx, repository.CreateProcessingJobParams{
			InspectionID:  inspectionID,
			JobType:       string(domain.JobTypeChunkAnalysis),
			SequenceOrder: seq,
			Status:        string(domain.JobStatusPending),
			Payload:       pqtype.NullRawMessage{RawMessage: payload, Valid: true},
		})
		if err != nil {
			return nil, fmt.Errorf("create chunk job %d: %w", seq, err)
		}
		jobs = append(jobs, job)
	}

	for _, jobType := range supplementals {
		seq++
		job, err := qtx.CreateProcessingJob(ctx, repository.CreateProcessingJobParams{
			InspectionID:  inspectionID,
			JobType:       string(jobType),
			SequenceOrder: seq,
			Status:        string(domain.JobStatusPending),
		})
		if err != nil {
			return nil, fmt.Errorf("create %s job: %w", jobType, err)
		}
		jobs = append(jobs, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit plan transaction: %w", err)
	}

	metrics.JobsPlanned.Add(float64(len(jobs)))
	metrics.ChunksPerInspection.Observe(float64(len(chunks)))
	s.logger.Info("job chain planned",
		"inspection_id", inspectionID,
		"chunks", len(chunks),
		"supplementals", len(supplementals),
		"jobs", len(jobs),
	)
	return jobs, nil
}

// Advance moves the chain past the job at afterSequence: it triggers the next
// pending job, or finalizes the inspection when no pending job remains.
// Calling Advance twice for the same completion is harmless; the duplicate
// either re-triggers a job whose start CAS already won (a no-op downstream)
// or hits the conditional completion update and affects nothing.
func (s *Sequencer) Advance(ctx context.Context, inspectionID uuid.UUID, afterSequence int32) error {
	next, err := s.ledger.NextPendingJob(ctx, repository.NextPendingJobParams{
		InspectionID:  inspectionID,
		AfterSequence: afterSequence,
	})
	if errors.Is(err, sql.ErrNoRows) {
		return s.finalize(ctx, inspectionID)
	}
	if err != nil {
		return fmt.Errorf("next pending job for inspection %s: %w", inspectionID, err)
	}

	return s.dispatcher.Trigger(ctx, next)
}

// finalize assembles the consolidated report from every completed job and
// closes the inspection. If any job failed, the chain cannot have reached
// this point through Advance, but the conditional update still protects us:
// an inspection no longer in processing absorbs the write as a no-op.
func (s *Sequencer) finalize(ctx context.Context, inspectionID uuid.UUID) error {
	inspection, err := s.ledger.GetInspectionByID(ctx, inspectionID)
	if err != nil {
		return fmt.Errorf("load inspection %s for report: %w", inspectionID, err)
	}

	completed, err := s.ledger.ListCompletedJobsByInspectionID(ctx, inspectionID)
	if err != nil {
		return fmt.Errorf("list completed jobs for inspection %s: %w", inspectionID, err)
	}
	if len(completed) == 0 {
		return fmt.Errorf("inspection %s has no completed jobs to report", inspectionID)
	}

	report := domain.Report{
		InspectionID: inspectionID,
		VIN:          inspection.Vin,
		Mileage:      inspection.Mileage,
		GeneratedAt:  time.Now().UTC(),
	}
	for _, job := range completed {
		section := domain.ReportSection{
			JobType:       domain.JobType(job.JobType),
			SequenceOrder: job.SequenceOrder,
		}
		if job.Result.Valid {
			section.Result = json.RawMessage(job.Result.RawMessage)
		}
		report.Sections = append(report.Sections, section)
		report.Usage.InputTokens += job.InputTokens
		report.Usage.OutputTokens += job.OutputTokens
		report.Usage.CostCents += job.CostCents
	}

	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report for inspection %s: %w", inspectionID, err)
	}

	affected, err := s.ledger.CompleteInspection(ctx, repository.CompleteInspectionParams{
		ID:     inspectionID,
		Report: pqtype.NullRawMessage{RawMessage: blob, Valid: true},
	})
	if err != nil {
		return fmt.Errorf("complete inspection %s: %w", inspectionID, err)
	}
	if affected == 0 {
		s.logger.Info("inspection already finalized", "inspection_id", inspectionID)
		return nil
	}

	metrics.InspectionsCompleted.Inc()
	s.logger.Info("inspection completed",
		"inspection_id", inspectionID,
		"sections", len(report.Sections),
		"cost_cents", report.Usage.CostCents,
	)
	if s.Archive != nil {
		key := storage.ReportKey(inspectionID)
		if err := s.Archive.Put(ctx, key, bytes.NewReader(blob), storage.PutOptions{ContentType: "application/json"}); err != nil {
			s.logger.Warn("report archive write failed", "inspection_id", inspectionID, "key", key, "error", err)
		}
	}
	if s.Notifier != nil {
		// The notifier logs its own failures.
		_ = s.Notifier.InspectionCompleted(ctx, inspectionID, inspection.Vin, report.Usage.CostCents)
	}
	return nil
}
