package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/repository"
)

func newTestSequencer(ledger Ledger, dispatcher *Dispatcher) *Sequencer {
	return &Sequencer{
		ledger:     ledger,
		dispatcher: dispatcher,
		logger:     discardLogger(),
	}
}

func TestSequencer_Plan_RejectsEmptyPlan(t *testing.T) {
	s := newTestSequencer(newFakeLedger(), nil)

	_, err := s.Plan(context.Background(), uuid.New(), nil, nil)
	require.Error(t, err)
}

func TestSequencer_Plan_RejectsNonSupplementalJobType(t *testing.T) {
	s := newTestSequencer(newFakeLedger(), nil)

	_, err := s.Plan(context.Background(), uuid.New(), nil, []domain.JobType{domain.JobTypeChunkAnalysis})
	require.Error(t, err)
}

func TestSequencer_Advance_TriggersNextPendingJob(t *testing.T) {
	ledger := newFakeLedger()
	inspectionID := ledger.addInspection(domain.InspectionStatusProcessing, time.Now())
	ledger.addJob(inspectionID, domain.JobTypeChunkAnalysis, 1, domain.JobStatusCompleted, time.Time{})
	nextID := ledger.addJob(inspectionID, domain.JobTypeChunkAnalysis, 2, domain.JobStatusPending, time.Time{})
	ledger.addJob(inspectionID, domain.JobTypeExpertAdvice, 3, domain.JobStatusPending, time.Time{})

	var dispatched atomic.Int32
	var gotBody TriggerRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dispatched.Add(1)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := NewDispatcher(ledger, dispatcherConfig(server.URL), discardLogger())
	s := newTestSequencer(ledger, d)

	require.NoError(t, s.Advance(context.Background(), inspectionID, 1))

	assert.Equal(t, int32(1), dispatched.Load(), "exactly the next job is dispatched")
	assert.Equal(t, nextID, gotBody.JobID)
	assert.Equal(t, string(domain.InspectionStatusProcessing), ledger.inspectionStatus(t, inspectionID))
}

func TestSequencer_Advance_FinalizesExhaustedChain(t *testing.T) {
	ledger := newFakeLedger()
	inspectionID := ledger.addInspection(domain.InspectionStatusProcessing, time.Now())

	first := ledger.addJob(inspectionID, domain.JobTypeChunkAnalysis, 1, domain.JobStatusProcessing, time.Time{})
	_, err := ledger.CompleteJob(context.Background(), repository.CompleteJobParams{
		ID:           first,
		Result:       pqtype.NullRawMessage{RawMessage: json.RawMessage(`{"findings":["rust on rocker panel"]}`), Valid: true},
		CostCents:    12,
		InputTokens:  1000,
		OutputTokens: 400,
	})
	require.NoError(t, err)

	second := ledger.addJob(inspectionID, domain.JobTypeFairMarketValue, 2, domain.JobStatusProcessing, time.Time{})
	_, err = ledger.CompleteJob(context.Background(), repository.CompleteJobParams{
		ID:           second,
		Result:       pqtype.NullRawMessage{RawMessage: json.RawMessage(`{"fair_value_cents":1250000}`), Valid: true},
		CostCents:    3,
		InputTokens:  200,
		OutputTokens: 150,
	})
	require.NoError(t, err)

	s := newTestSequencer(ledger, nil)
	require.NoError(t, s.Advance(context.Background(), inspectionID, 2))

	assert.Equal(t, string(domain.InspectionStatusDone), ledger.inspectionStatus(t, inspectionID))

	inspection, err := ledger.GetInspectionByID(context.Background(), inspectionID)
	require.NoError(t, err)
	require.True(t, inspection.Report.Valid)

	var report domain.Report
	require.NoError(t, json.Unmarshal(inspection.Report.RawMessage, &report))
	assert.Equal(t, inspectionID, report.InspectionID)
	require.Len(t, report.Sections, 2)
	assert.Equal(t, domain.JobTypeChunkAnalysis, report.Sections[0].JobType)
	assert.Equal(t, domain.JobTypeFairMarketValue, report.Sections[1].JobType)
	assert.Equal(t, int32(15), report.Usage.CostCents)
	assert.Equal(t, int32(1200), report.Usage.InputTokens)
	assert.Equal(t, int32(550), report.Usage.OutputTokens)
}

func TestSequencer_Advance_FinalizeIsIdempotent(t *testing.T) {
	ledger := newFakeLedger()
	inspectionID := ledger.addInspection(domain.InspectionStatusProcessing, time.Now())

	jobID := ledger.addJob(inspectionID, domain.JobTypeChunkAnalysis, 1, domain.JobStatusProcessing, time.Time{})
	_, err := ledger.CompleteJob(context.Background(), repository.CompleteJobParams{
		ID:     jobID,
		Result: pqtype.NullRawMessage{RawMessage: json.RawMessage(`{}`), Valid: true},
	})
	require.NoError(t, err)

	s := newTestSequencer(ledger, nil)
	require.NoError(t, s.Advance(context.Background(), inspectionID, 1))
	require.NoError(t, s.Advance(context.Background(), inspectionID, 1))

	assert.Equal(t, string(domain.InspectionStatusDone), ledger.inspectionStatus(t, inspectionID))
}

func TestSequencer_Advance_NoCompletedJobsIsAnError(t *testing.T) {
	ledger := newFakeLedger()
	inspectionID := ledger.addInspection(domain.InspectionStatusProcessing, time.Now())

	s := newTestSequencer(ledger, nil)
	require.Error(t, s.Advance(context.Background(), inspectionID, 0))
}
