package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/orchestrator"
)

type fakeAdvancer struct {
	calls []advanceCall
	err   error
}

type advanceCall struct {
	inspectionID  uuid.UUID
	afterSequence int32
}

func (f *fakeAdvancer) Advance(ctx context.Context, inspectionID uuid.UUID, afterSequence int32) error {
	f.calls = append(f.calls, advanceCall{inspectionID, afterSequence})
	return f.err
}

type fakeSweeper struct {
	summary orchestrator.Summary
	err     error
	runs    int
}

func (f *fakeSweeper) Run(ctx context.Context) (orchestrator.Summary, error) {
	f.runs++
	return f.summary, f.err
}

func newOrchestratorTestMux(seq *fakeAdvancer, rec *fakeSweeper) *http.ServeMux {
	h := NewOrchestratorHandler(seq, rec, testLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func TestHandleAdvance_CallsSequencer(t *testing.T) {
	seq := &fakeAdvancer{}
	mux := newOrchestratorTestMux(seq, &fakeSweeper{})

	inspectionID := uuid.New()
	body, _ := json.Marshal(map[string]interface{}{
		"inspection_id":      inspectionID,
		"completed_sequence": 2,
	})

	req := httptest.NewRequest("POST", "/orchestrator/advance", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", rec.Code, rec.Body.String())
	}
	if len(seq.calls) != 1 {
		t.Fatalf("sequencer called %d times, want 1", len(seq.calls))
	}
	if seq.calls[0].inspectionID != inspectionID || seq.calls[0].afterSequence != 2 {
		t.Errorf("advance call = %+v", seq.calls[0])
	}
}

func TestHandleAdvance_MissingInspectionReturns400(t *testing.T) {
	seq := &fakeAdvancer{}
	mux := newOrchestratorTestMux(seq, &fakeSweeper{})

	req := httptest.NewRequest("POST", "/orchestrator/advance", bytes.NewReader([]byte(`{"completed_sequence":1}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if len(seq.calls) != 0 {
		t.Error("sequencer should not be called on invalid input")
	}
}

func TestHandleAdvance_SequencerErrorReturns500(t *testing.T) {
	seq := &fakeAdvancer{err: errors.New("dispatch refused")}
	mux := newOrchestratorTestMux(seq, &fakeSweeper{})

	body, _ := json.Marshal(map[string]interface{}{
		"inspection_id":      uuid.New(),
		"completed_sequence": 0,
	})
	req := httptest.NewRequest("POST", "/orchestrator/advance", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500; body: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleReconcile_ReturnsSummary(t *testing.T) {
	sweeper := &fakeSweeper{
		summary: orchestrator.Summary{Scanned: 5, Completed: 2, TimedOut: 1},
	}
	mux := newOrchestratorTestMux(&fakeAdvancer{}, sweeper)

	req := httptest.NewRequest("POST", "/reconcile/poll", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if sweeper.runs != 1 {
		t.Fatalf("sweeper ran %d times, want 1", sweeper.runs)
	}

	var summary orchestrator.Summary
	if err := json.Unmarshal(rec.Body.Bytes(), &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Scanned != 5 || summary.Completed != 2 || summary.TimedOut != 1 {
		t.Errorf("summary = %+v", summary)
	}
}

func TestHandleReconcile_RunErrorReturns500(t *testing.T) {
	sweeper := &fakeSweeper{err: errors.New("engine unreachable")}
	mux := newOrchestratorTestMux(&fakeAdvancer{}, sweeper)

	req := httptest.NewRequest("POST", "/reconcile/poll", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500; body: %s", rec.Code, rec.Body.String())
	}
}
