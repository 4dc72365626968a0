package orchestrator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/repository"
)

func dispatcherConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.TriggerBaseURL = baseURL
	cfg.TriggerTimeout = 2 * time.Second
	return cfg
}

func TestDispatcher_Trigger_AckLeavesInspectionAlone(t *testing.T) {
	ledger := newFakeLedger()
	inspectionID := ledger.addInspection(domain.InspectionStatusProcessing, time.Now())
	jobID := ledger.addJob(inspectionID, domain.JobTypeChunkAnalysis, 1, domain.JobStatusPending, time.Time{})

	var gotPath string
	var gotBody TriggerRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := NewDispatcher(ledger, dispatcherConfig(server.URL), discardLogger())
	job, err := ledger.NextPendingJob(context.Background(), repository.NextPendingJobParams{InspectionID: inspectionID})
	require.NoError(t, err)

	require.NoError(t, d.Trigger(context.Background(), job))

	assert.Equal(t, "/jobs/chunk-analysis", gotPath)
	assert.Equal(t, inspectionID, gotBody.InspectionID)
	assert.Equal(t, jobID, gotBody.JobID)
	assert.Equal(t, string(domain.InspectionStatusProcessing), ledger.inspectionStatus(t, inspectionID))
	assert.Equal(t, string(domain.JobStatusPending), ledger.jobStatus(t, jobID))
}

func TestDispatcher_Trigger_RejectionFailsInspection(t *testing.T) {
	ledger := newFakeLedger()
	inspectionID := ledger.addInspection(domain.InspectionStatusProcessing, time.Now())
	jobID := ledger.addJob(inspectionID, domain.JobTypeChunkAnalysis, 2, domain.JobStatusPending, time.Time{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	d := NewDispatcher(ledger, dispatcherConfig(server.URL), discardLogger())
	job, err := ledger.NextPendingJob(context.Background(), repository.NextPendingJobParams{InspectionID: inspectionID})
	require.NoError(t, err)

	err = d.Trigger(context.Background(), job)
	require.Error(t, err)

	// Fail-fast: the inspection dies, the job itself is never started.
	assert.Equal(t, string(domain.InspectionStatusFailed), ledger.inspectionStatus(t, inspectionID))
	assert.Equal(t, string(domain.JobStatusPending), ledger.jobStatus(t, jobID))
}

func TestDispatcher_Trigger_TransportErrorFailsInspection(t *testing.T) {
	ledger := newFakeLedger()
	inspectionID := ledger.addInspection(domain.InspectionStatusProcessing, time.Now())
	ledger.addJob(inspectionID, domain.JobTypeFairMarketValue, 1, domain.JobStatusPending, time.Time{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	d := NewDispatcher(ledger, dispatcherConfig(server.URL), discardLogger())
	job, err := ledger.NextPendingJob(context.Background(), repository.NextPendingJobParams{InspectionID: inspectionID})
	require.NoError(t, err)

	require.Error(t, d.Trigger(context.Background(), job))
	assert.Equal(t, string(domain.InspectionStatusFailed), ledger.inspectionStatus(t, inspectionID))
}

func TestDispatcher_Trigger_UnknownJobType(t *testing.T) {
	ledger := newFakeLedger()
	inspectionID := ledger.addInspection(domain.InspectionStatusProcessing, time.Now())

	d := NewDispatcher(ledger, dispatcherConfig("http://localhost:0"), discardLogger())
	err := d.Trigger(context.Background(), repository.ProcessingJob{
		InspectionID: inspectionID,
		JobType:      "mystery",
	})

	require.Error(t, err)
	assert.Equal(t, string(domain.InspectionStatusFailed), ledger.inspectionStatus(t, inspectionID))
}
