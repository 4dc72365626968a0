package orchestrator

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/metrics"
	"github.com/hartfield/camber/internal/notify"
	"github.com/hartfield/camber/internal/repository"
)

// jobRoutes maps a job type to the endpoint that executes it.
var jobRoutes = map[domain.JobType]string{
	domain.JobTypeChunkAnalysis:         "/jobs/chunk-analysis",
	domain.JobTypeOwnershipCostForecast: "/jobs/ownership-cost-forecast",
	domain.JobTypeFairMarketValue:       "/jobs/fair-market-value",
	domain.JobTypeExpertAdvice:          "/jobs/expert-advice",
}

// TriggerRequest is the body POSTed to a job execution endpoint.
type TriggerRequest struct {
	InspectionID uuid.UUID `json:"inspection_id"`
	JobID        uuid.UUID `json:"job_id"`
}

// Dispatcher fires the out-of-process call that starts a job's background
// execution. It waits only for acknowledgement (any 2xx), never for the job
// itself.
//
// Dispatch is deliberately fail-fast and never retried: if the remote side
// does not acknowledge, no completion signal will ever arrive for the job,
// so the owning inspection is marked failed on the spot.
type Dispatcher struct {
	ledger  Ledger
	client  *http.Client
	baseURL string
	logger  *slog.Logger

	// Notifier, when set, announces inspections failed by a dispatch error.
	// Delivery is best effort.
	Notifier notify.Notifier
}

// NewDispatcher creates a Dispatcher posting to cfg.TriggerBaseURL.
func NewDispatcher(ledger Ledger, cfg Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		ledger:  ledger,
		client:  &http.Client{Timeout: cfg.TriggerTimeout},
		baseURL: cfg.TriggerBaseURL,
		logger:  logger,
	}
}

// Trigger dispatches the job to its execution endpoint. On any dispatch
// failure the owning inspection is failed immediately and the job is left
// untouched in pending.
func (d *Dispatcher) Trigger(ctx context.Context, job repository.ProcessingJob) error {
	path, ok := jobRoutes[domain.JobType(job.JobType)]
	if !ok {
		err := fmt.Errorf("no route for job type %q", job.JobType)
		d.failInspection(ctx, job, err)
		return err
	}

	body, err := json.Marshal(TriggerRequest{
		InspectionID: job.InspectionID,
		JobID:        job.ID,
	})
	if err != nil {
		return fmt.Errorf("marshal trigger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create trigger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		dispatchErr := fmt.Errorf("trigger dispatch for job %s: %w", job.ID, err)
		d.failInspection(ctx, job, dispatchErr)
		metrics.TriggerDispatchesTotal.WithLabelValues(job.JobType, "error").Inc()
		return dispatchErr
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		dispatchErr := fmt.Errorf("trigger dispatch for job %s rejected with status %d", job.ID, resp.StatusCode)
		d.failInspection(ctx, job, dispatchErr)
		metrics.TriggerDispatchesTotal.WithLabelValues(job.JobType, "rejected").Inc()
		return dispatchErr
	}

	metrics.TriggerDispatchesTotal.WithLabelValues(job.JobType, "ok").Inc()
	d.logger.Info("job triggered",
		"job_id", job.ID,
		"job_type", job.JobType,
		"inspection_id", job.InspectionID,
		"sequence", job.SequenceOrder,
	)
	return nil
}

// failInspection records that the chain can make no further progress.
func (d *Dispatcher) failInspection(ctx context.Context, job repository.ProcessingJob, dispatchErr error) {
	d.logger.Error("trigger dispatch failed, failing inspection",
		"job_id", job.ID,
		"inspection_id", job.InspectionID,
		"error", dispatchErr,
	)

	_, err := d.ledger.FailInspection(ctx, repository.FailInspectionParams{
		ID:           job.InspectionID,
		ErrorMessage: sql.NullString{String: dispatchErr.Error(), Valid: true},
	})
	if err != nil {
		d.logger.Error("failed to mark inspection as failed",
			"inspection_id", job.InspectionID,
			"error", err,
		)
		return
	}

	if d.Notifier != nil {
		if inspection, err := d.ledger.GetInspectionByID(ctx, job.InspectionID); err == nil {
			_ = d.Notifier.InspectionFailed(ctx, inspection.ID, inspection.Vin, dispatchErr.Error())
		}
	}
}
