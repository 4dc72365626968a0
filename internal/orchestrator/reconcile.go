package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sqlc-dev/pqtype"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/engine"
	"github.com/hartfield/camber/internal/metrics"
	"github.com/hartfield/camber/internal/notify"
	"github.com/hartfield/camber/internal/repository"
)

// ExecutionSource is the slice of the workflow engine the reconciler needs.
type ExecutionSource interface {
	ListRecentExecutions(ctx context.Context, since time.Time) ([]engine.Execution, error)
}

// Summary reports what one reconciliation sweep did.
type Summary struct {
	Scanned   int      `json:"scanned"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	TimedOut  int      `json:"timed_out"`
	Advanced  int      `json:"advanced"`
	Errors    int      `json:"errors"`
	Details   []string `json:"details,omitempty"`
}

// Reconciler is the safety net for inspections whose progress signal got
// lost: delegated jobs whose completion is only visible engine-side, chains
// stalled by a crashed advance, and jobs stuck past the processing deadline.
//
// It works inspection-first: the set of in-flight inspections drives the
// sweep, and engine executions are fetched once per run and matched against
// them. Sweeping nothing costs nothing; a run with no in-window inspections
// never calls the engine.
type Reconciler struct {
	ledger    Ledger
	engine    ExecutionSource
	sequencer *Sequencer
	window    time.Duration
	timeout   time.Duration
	logger    *slog.Logger

	// Notifier, when set, announces inspections the sweep fails. Delivery is
	// best effort.
	Notifier notify.Notifier

	// now is swapped in tests to pin the clock.
	now func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(ledger Ledger, source ExecutionSource, sequencer *Sequencer, cfg Config, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		ledger:    ledger,
		engine:    source,
		sequencer: sequencer,
		window:    cfg.ReconcileWindow,
		timeout:   cfg.ReconcileTimeout,
		logger:    logger,
		now:       time.Now,
	}
}

// Run performs one reconciliation sweep. A failure to fetch executions aborts
// the whole run since nothing can be matched without them; a failure on one
// inspection is recorded in the summary and the sweep moves on.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	now := r.now().UTC()
	since := now.Add(-r.window)

	var summary Summary
	inspections, err := r.ledger.ListProcessingInspectionsSince(ctx, since)
	if err != nil {
		return summary, fmt.Errorf("list in-flight inspections: %w", err)
	}
	summary.Scanned = len(inspections)
	if len(inspections) == 0 {
		return summary, nil
	}

	executions, err := r.engine.ListRecentExecutions(ctx, since)
	if err != nil {
		return summary, fmt.Errorf("fetch engine executions: %w", err)
	}
	byKey := indexExecutions(executions)

	for _, inspection := range inspections {
		outcome, err := r.reconcileInspection(ctx, now, inspection, byKey)
		if err != nil {
			summary.Errors++
			summary.Details = append(summary.Details, fmt.Sprintf("inspection %s: %v", inspection.ID, err))
			r.logger.Error("reconcile inspection failed", "inspection_id", inspection.ID, "error", err)
			continue
		}
		switch outcome {
		case outcomeCompleted:
			summary.Completed++
		case outcomeFailed:
			summary.Failed++
		case outcomeTimedOut:
			summary.TimedOut++
		case outcomeAdvanced:
			summary.Advanced++
		}
	}

	metrics.ReconcileRunsTotal.Inc()
	metrics.ReconcileInspectionsScanned.Add(float64(summary.Scanned))
	metrics.ReconcileTimeoutsTotal.Add(float64(summary.TimedOut))
	metrics.ReconcileErrorsTotal.Add(float64(summary.Errors))
	r.logger.Info("reconciliation sweep finished",
		"scanned", summary.Scanned,
		"completed", summary.Completed,
		"failed", summary.Failed,
		"timed_out", summary.TimedOut,
		"advanced", summary.Advanced,
		"errors", summary.Errors,
	)
	return summary, nil
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeTimedOut
	outcomeAdvanced
)

func (r *Reconciler) reconcileInspection(ctx context.Context, now time.Time, inspection repository.Inspection, executions map[string]engine.Execution) (outcome, error) {
	job, err := r.ledger.GetProcessingJob(ctx, inspection.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return r.restartStalledChain(ctx, inspection)
	}
	if err != nil {
		return outcomeNone, fmt.Errorf("load in-flight job: %w", err)
	}

	jobType := domain.JobType(job.JobType)
	if jobType.Delegated() {
		workflow, err := engine.WorkflowKey(jobType)
		if err != nil {
			return outcomeNone, err
		}
		if execution, ok := executions[executionKey(inspection.ID.String(), workflow)]; ok {
			switch execution.Status {
			case engine.ExecutionStatusSuccess:
				return r.completeDelegatedJob(ctx, job, execution)
			case engine.ExecutionStatusFailed:
				return r.failJob(ctx, job, fmt.Sprintf("engine execution %s failed: %s", execution.ExecutionID, execution.Error), outcomeFailed)
			}
			// The engine is still working this one. It is not subject to the
			// processing deadline, which exists for jobs with no observable
			// execution. Refresh the inspection's liveness so a workflow
			// longer than the scan window is not lost by later sweeps.
			if _, err := r.ledger.TouchInspection(ctx, inspection.ID); err != nil {
				return outcomeNone, fmt.Errorf("refresh inspection %s: %w", inspection.ID, err)
			}
			return outcomeNone, nil
		}
	}

	startedAt := inspection.UpdatedAt
	if job.StartedAt.Valid {
		startedAt = job.StartedAt.Time
	}
	if now.Sub(startedAt) > r.timeout {
		return r.failJob(ctx, job, fmt.Sprintf("job exceeded processing deadline of %s", r.timeout), outcomeTimedOut)
	}
	return outcomeNone, nil
}

// restartStalledChain handles an inspection that is processing with no job in
// flight: a completion landed but the advance that should have followed was
// lost. Re-advancing from the last terminal sequence is safe because every
// downstream transition is a conditional update.
func (r *Reconciler) restartStalledChain(ctx context.Context, inspection repository.Inspection) (outcome, error) {
	jobs, err := r.ledger.ListJobsByInspectionID(ctx, inspection.ID)
	if err != nil {
		return outcomeNone, fmt.Errorf("load job chain: %w", err)
	}

	var lastDone int32
	for _, job := range jobs {
		switch domain.JobStatus(job.Status) {
		case domain.JobStatusFailed:
			// A failed job means the inspection should already be failed;
			// converge it now.
			_, err := r.ledger.FailInspection(ctx, repository.FailInspectionParams{
				ID:           inspection.ID,
				ErrorMessage: sql.NullString{String: nullableString(job.ErrorMessage, "job failed"), Valid: true},
			})
			if err != nil {
				return outcomeNone, fmt.Errorf("fail inspection with failed job: %w", err)
			}
			return outcomeFailed, nil
		case domain.JobStatusCompleted:
			if job.SequenceOrder > lastDone {
				lastDone = job.SequenceOrder
			}
		}
	}

	if err := r.sequencer.Advance(ctx, inspection.ID, lastDone); err != nil {
		return outcomeNone, fmt.Errorf("restart chain after sequence %d: %w", lastDone, err)
	}
	r.logger.Info("restarted stalled chain", "inspection_id", inspection.ID, "after_sequence", lastDone)
	return outcomeAdvanced, nil
}

func (r *Reconciler) completeDelegatedJob(ctx context.Context, job repository.ProcessingJob, execution engine.Execution) (outcome, error) {
	affected, err := r.ledger.CompleteJob(ctx, repository.CompleteJobParams{
		ID:     job.ID,
		Result: pqtype.NullRawMessage{RawMessage: execution.Result, Valid: len(execution.Result) > 0},
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("complete delegated job %s: %w", job.ID, err)
	}
	if affected == 0 {
		// Another writer already settled this job.
		return outcomeNone, nil
	}

	metrics.JobsTotal.WithLabelValues(job.JobType, "completed").Inc()
	if err := r.sequencer.Advance(ctx, job.InspectionID, job.SequenceOrder); err != nil {
		return outcomeNone, fmt.Errorf("advance after delegated job %s: %w", job.ID, err)
	}
	return outcomeCompleted, nil
}

func (r *Reconciler) failJob(ctx context.Context, job repository.ProcessingJob, reason string, result outcome) (outcome, error) {
	affected, err := r.ledger.FailJob(ctx, repository.FailJobParams{
		ID:           job.ID,
		ErrorMessage: sql.NullString{String: reason, Valid: true},
	})
	if err != nil {
		return outcomeNone, fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if affected == 0 {
		return outcomeNone, nil
	}

	metrics.JobsTotal.WithLabelValues(job.JobType, "failed").Inc()
	metrics.InspectionsFailed.Inc()
	if _, err := r.ledger.FailInspection(ctx, repository.FailInspectionParams{
		ID:           job.InspectionID,
		ErrorMessage: sql.NullString{String: reason, Valid: true},
	}); err != nil {
		return outcomeNone, fmt.Errorf("fail inspection %s: %w", job.InspectionID, err)
	}
	if r.Notifier != nil {
		if inspection, err := r.ledger.GetInspectionByID(ctx, job.InspectionID); err == nil {
			_ = r.Notifier.InspectionFailed(ctx, inspection.ID, inspection.Vin, reason)
		}
	}
	return result, nil
}

func indexExecutions(executions []engine.Execution) map[string]engine.Execution {
	byKey := make(map[string]engine.Execution, len(executions))
	for _, execution := range executions {
		key := executionKey(execution.AppraisalID.String(), execution.Workflow)
		// Prefer settled executions over still-running retries of the same
		// workflow.
		if existing, ok := byKey[key]; ok && existing.Status != engine.ExecutionStatusRunning {
			continue
		}
		byKey[key] = execution
	}
	return byKey
}

func executionKey(appraisalID, workflow string) string {
	return appraisalID + "/" + workflow
}

func nullableString(s sql.NullString, fallback string) string {
	if s.Valid && s.String != "" {
		return s.String
	}
	return fallback
}
