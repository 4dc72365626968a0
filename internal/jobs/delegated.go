package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/engine"
	"github.com/hartfield/camber/internal/metrics"
	"github.com/hartfield/camber/internal/notify"
	"github.com/hartfield/camber/internal/orchestrator"
	"github.com/hartfield/camber/internal/repository"
)

// Launcher starts workflow executions. Satisfied by *engine.Client.
type Launcher interface {
	StartExecution(ctx context.Context, params engine.StartExecutionParams) (engine.Execution, error)
}

// DelegatedExecutor launches a supplemental analysis on the workflow engine.
// The job stays in processing after a successful launch; the reconciliation
// poller observes the execution's outcome and performs the terminal
// transition. Launches carry the job ID as an idempotency key so a duplicate
// trigger collapses into the original execution.
type DelegatedExecutor struct {
	ledger  Ledger
	engine  Launcher
	retryer *orchestrator.Retryer
	logger  *slog.Logger

	// Notifier, when set, announces failed inspections. Best effort.
	Notifier notify.Notifier
}

// NewDelegatedExecutor creates a DelegatedExecutor. Engine launches are
// retried per the orchestrator config; the idempotency key makes that safe.
func NewDelegatedExecutor(ledger Ledger, launcher Launcher, cfg orchestrator.Config, logger *slog.Logger) *DelegatedExecutor {
	return &DelegatedExecutor{
		ledger:  ledger,
		engine:  launcher,
		retryer: orchestrator.NewRetryer(cfg, logger),
		logger:  logger,
	}
}

// executionInput is the wire shape handed to the engine. Earlier results are
// included so workflows like expert advice can build on the accumulated
// findings.
type executionInput struct {
	VIN       string             `json:"vin"`
	Mileage   int32              `json:"mileage"`
	OBD2Codes []string           `json:"obd2Codes,omitempty"`
	Sections  []executionSection `json:"sections,omitempty"`
}

type executionSection struct {
	JobType string          `json:"jobType"`
	Result  json.RawMessage `json:"result"`
}

// Execute launches the job's workflow. A launch failure fails the job and the
// inspection; a successful launch leaves the job in processing.
func (e *DelegatedExecutor) Execute(ctx context.Context, job repository.ProcessingJob) error {
	workflow, err := engine.WorkflowKey(domain.JobType(job.JobType))
	if err != nil {
		return e.fail(ctx, job, err)
	}

	inspection, err := e.ledger.GetInspectionByID(ctx, job.InspectionID)
	if err != nil {
		return e.fail(ctx, job, fmt.Errorf("load inspection: %w", err))
	}

	input, err := e.buildInput(ctx, inspection)
	if err != nil {
		return e.fail(ctx, job, err)
	}

	var execution engine.Execution
	err = e.retryer.Do(ctx, "start_"+workflow, func(ctx context.Context) error {
		var callErr error
		execution, callErr = e.engine.StartExecution(ctx, engine.StartExecutionParams{
			Workflow:       workflow,
			AppraisalID:    job.InspectionID,
			IdempotencyKey: job.ID.String(),
			Input:          input,
		})
		var apiErr *engine.APIError
		if errors.As(callErr, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
			// The engine rejected the request; retrying the same launch
			// cannot change the answer.
			return orchestrator.NewPermanentError(callErr)
		}
		return callErr
	})
	if err != nil {
		return e.fail(ctx, job, fmt.Errorf("launch %s workflow: %w", workflow, err))
	}

	metrics.EngineExecutionsStarted.WithLabelValues(workflow).Inc()
	e.logger.Info("delegated analysis launched",
		"job_id", job.ID,
		"inspection_id", job.InspectionID,
		"workflow", workflow,
		"execution_id", execution.ExecutionID,
	)
	return nil
}

// buildInput assembles the vehicle data and every completed result so far.
func (e *DelegatedExecutor) buildInput(ctx context.Context, inspection repository.Inspection) (json.RawMessage, error) {
	completed, err := e.ledger.ListCompletedJobsByInspectionID(ctx, inspection.ID)
	if err != nil {
		return nil, fmt.Errorf("list completed jobs: %w", err)
	}

	input := executionInput{
		VIN:       inspection.Vin,
		Mileage:   inspection.Mileage,
		OBD2Codes: inspection.Obd2Codes,
	}
	for _, job := range completed {
		if !job.Result.Valid {
			continue
		}
		input.Sections = append(input.Sections, executionSection{
			JobType: job.JobType,
			Result:  json.RawMessage(job.Result.RawMessage),
		})
	}

	blob, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("marshal execution input: %w", err)
	}
	return blob, nil
}

func (e *DelegatedExecutor) fail(ctx context.Context, job repository.ProcessingJob, cause error) error {
	failJobAndInspection(ctx, e.ledger, e.Notifier, e.logger, job, cause.Error())
	return cause
}
