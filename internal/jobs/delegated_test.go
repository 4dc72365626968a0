package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/sqlc-dev/pqtype"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/engine"
)

type fakeLauncher struct {
	mu       sync.Mutex
	params   []engine.StartExecutionParams
	failures int
	err      error
}

func (l *fakeLauncher) StartExecution(ctx context.Context, params engine.StartExecutionParams) (engine.Execution, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.params = append(l.params, params)
	if l.err != nil && (l.failures == 0 || len(l.params) <= l.failures) {
		return engine.Execution{}, l.err
	}
	return engine.Execution{
		ExecutionID: "exec-" + params.IdempotencyKey,
		AppraisalID: params.AppraisalID,
		Workflow:    params.Workflow,
		Status:      engine.ExecutionStatusRunning,
	}, nil
}

func (l *fakeLauncher) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.params)
}

func (l *fakeLauncher) lastParams(t *testing.T) engine.StartExecutionParams {
	t.Helper()
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.params) == 0 {
		t.Fatal("no executions were launched")
	}
	return l.params[len(l.params)-1]
}

func TestDelegatedExecutor_LaunchesWorkflow(t *testing.T) {
	ledger := newFakeLedger()
	launcher := &fakeLauncher{}
	executor := NewDelegatedExecutor(ledger, launcher, testRetryConfig(), discardLogger())

	inspectionID := ledger.addInspection(string(domain.InspectionStatusProcessing))
	chunkJob := ledger.addJob(inspectionID, string(domain.JobTypeChunkAnalysis), 1, string(domain.JobStatusCompleted), nil)
	ledger.mu.Lock()
	ledger.jobs[chunkJob.ID].Result = pqtype.NullRawMessage{RawMessage: []byte(`{"summary":"clean"}`), Valid: true}
	ledger.mu.Unlock()

	job := ledger.addJob(inspectionID, string(domain.JobTypeOwnershipCostForecast), 2, string(domain.JobStatusProcessing), nil)

	if err := executor.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	params := launcher.lastParams(t)
	if params.Workflow != "ownership-cost-forecast" {
		t.Errorf("workflow = %q, want ownership-cost-forecast", params.Workflow)
	}
	if params.AppraisalID != inspectionID {
		t.Errorf("appraisal id = %s, want %s", params.AppraisalID, inspectionID)
	}
	if params.IdempotencyKey != job.ID.String() {
		t.Errorf("idempotency key = %q, want job id", params.IdempotencyKey)
	}

	var input struct {
		VIN      string `json:"vin"`
		Mileage  int32  `json:"mileage"`
		Sections []struct {
			JobType string          `json:"jobType"`
			Result  json.RawMessage `json:"result"`
		} `json:"sections"`
	}
	if err := json.Unmarshal(params.Input, &input); err != nil {
		t.Fatalf("unmarshal input: %v", err)
	}
	if input.VIN != "1HGCM82633A004352" {
		t.Errorf("input vin = %q", input.VIN)
	}
	if len(input.Sections) != 1 || input.Sections[0].JobType != string(domain.JobTypeChunkAnalysis) {
		t.Errorf("input sections = %+v, want the completed chunk result", input.Sections)
	}

	// The reconciler owns the terminal transition.
	if got := ledger.job(t, job.ID).Status; got != string(domain.JobStatusProcessing) {
		t.Errorf("job status = %q, want processing", got)
	}
}

func TestDelegatedExecutor_RetriesLaunch(t *testing.T) {
	ledger := newFakeLedger()
	launcher := &fakeLauncher{err: errors.New("engine returned status 503"), failures: 1}
	executor := NewDelegatedExecutor(ledger, launcher, testRetryConfig(), discardLogger())

	inspectionID := ledger.addInspection(string(domain.InspectionStatusProcessing))
	job := ledger.addJob(inspectionID, string(domain.JobTypeFairMarketValue), 1, string(domain.JobStatusProcessing), nil)

	if err := executor.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if launcher.callCount() != 2 {
		t.Errorf("StartExecution calls = %d, want 2", launcher.callCount())
	}
	if got := ledger.job(t, job.ID).Status; got != string(domain.JobStatusProcessing) {
		t.Errorf("job status = %q, want processing", got)
	}
}

func TestDelegatedExecutor_LaunchFailureFailsInspection(t *testing.T) {
	ledger := newFakeLedger()
	launcher := &fakeLauncher{err: errors.New("engine returned status 500")}
	executor := NewDelegatedExecutor(ledger, launcher, testRetryConfig(), discardLogger())

	inspectionID := ledger.addInspection(string(domain.InspectionStatusProcessing))
	job := ledger.addJob(inspectionID, string(domain.JobTypeExpertAdvice), 1, string(domain.JobStatusProcessing), nil)

	if err := executor.Execute(context.Background(), job); err == nil {
		t.Fatal("Execute() = nil, want error")
	}
	if launcher.callCount() != 3 {
		t.Errorf("StartExecution calls = %d, want every attempt consumed", launcher.callCount())
	}
	if got := ledger.job(t, job.ID).Status; got != string(domain.JobStatusFailed) {
		t.Errorf("job status = %q, want failed", got)
	}
	if got := ledger.inspectionStatus(t, inspectionID); got != string(domain.InspectionStatusFailed) {
		t.Errorf("inspection status = %q, want failed", got)
	}
}

func TestDelegatedExecutor_EngineRejectionIsNotRetried(t *testing.T) {
	ledger := newFakeLedger()
	launcher := &fakeLauncher{err: &engine.APIError{StatusCode: 422, Body: `{"error":"unknown workflow"}`}}
	executor := NewDelegatedExecutor(ledger, launcher, testRetryConfig(), discardLogger())

	inspectionID := ledger.addInspection(string(domain.InspectionStatusProcessing))
	job := ledger.addJob(inspectionID, string(domain.JobTypeExpertAdvice), 1, string(domain.JobStatusProcessing), nil)

	if err := executor.Execute(context.Background(), job); err == nil {
		t.Fatal("Execute() = nil, want error")
	}
	if launcher.callCount() != 1 {
		t.Errorf("StartExecution calls = %d, want 1 (no retry on rejection)", launcher.callCount())
	}
	if got := ledger.inspectionStatus(t, inspectionID); got != string(domain.InspectionStatusFailed) {
		t.Errorf("inspection status = %q, want failed", got)
	}
}

func TestDelegatedExecutor_RejectsNonDelegatedJobType(t *testing.T) {
	ledger := newFakeLedger()
	launcher := &fakeLauncher{}
	executor := NewDelegatedExecutor(ledger, launcher, testRetryConfig(), discardLogger())

	inspectionID := ledger.addInspection(string(domain.InspectionStatusProcessing))
	job := ledger.addJob(inspectionID, string(domain.JobTypeChunkAnalysis), 1, string(domain.JobStatusProcessing), nil)

	if err := executor.Execute(context.Background(), job); err == nil {
		t.Fatal("Execute() = nil, want error")
	}
	if launcher.callCount() != 0 {
		t.Errorf("StartExecution calls = %d, want 0", launcher.callCount())
	}
	if got := ledger.inspectionStatus(t, inspectionID); got != string(domain.InspectionStatusFailed) {
		t.Errorf("inspection status = %q, want failed", got)
	}
}
