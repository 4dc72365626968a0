package jobs

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/hartfield/camber/internal/ai"
	"github.com/hartfield/camber/internal/ai/mock"
	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/orchestrator"
	"github.com/hartfield/camber/internal/repository"
	"github.com/hartfield/camber/internal/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRetryConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	cfg.RetryMaxAttempts = 3
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 5 * time.Millisecond
	cfg.RetryMultiplier = 2
	return cfg
}

// =============================================================================
// Fakes
// =============================================================================

type fakeLedger struct {
	mu          sync.Mutex
	inspections map[uuid.UUID]*repository.Inspection
	photos      map[uuid.UUID]*repository.Photo
	jobs        map[uuid.UUID]*repository.ProcessingJob
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		inspections: make(map[uuid.UUID]*repository.Inspection),
		photos:      make(map[uuid.UUID]*repository.Photo),
		jobs:        make(map[uuid.UUID]*repository.ProcessingJob),
	}
}

func (f *fakeLedger) addInspection(status string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.inspections[id] = &repository.Inspection{
		ID:        id,
		Vin:       "1HGCM82633A004352",
		Mileage:   87000,
		Status:    status,
		Obd2Codes: []string{"P0420"},
	}
	return id
}

func (f *fakeLedger) addPhoto(inspectionID uuid.UUID, category string) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	photo := &repository.Photo{
		ID:           id,
		InspectionID: inspectionID,
		StorageKey:   "inspections/" + inspectionID.String() + "/photos/" + id.String() + ".jpg",
	}
	if category != "" {
		photo.Category = sql.NullString{String: category, Valid: true}
	}
	f.photos[id] = photo
	return id
}

func (f *fakeLedger) addJob(inspectionID uuid.UUID, jobType string, seq int32, status string, payload []byte) repository.ProcessingJob {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	job := &repository.ProcessingJob{
		ID:            id,
		InspectionID:  inspectionID,
		JobType:       jobType,
		SequenceOrder: seq,
		Status:        status,
	}
	if payload != nil {
		job.Payload = pqtype.NullRawMessage{RawMessage: payload, Valid: true}
	}
	f.jobs[id] = job
	return *job
}

func (f *fakeLedger) GetInspectionByID(ctx context.Context, id uuid.UUID) (repository.Inspection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inspection, ok := f.inspections[id]
	if !ok {
		return repository.Inspection{}, sql.ErrNoRows
	}
	return *inspection, nil
}

func (f *fakeLedger) FailInspection(ctx context.Context, arg repository.FailInspectionParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inspection, ok := f.inspections[arg.ID]
	if !ok {
		return 0, nil
	}
	if inspection.Status != string(domain.InspectionStatusPending) &&
		inspection.Status != string(domain.InspectionStatusProcessing) {
		return 0, nil
	}
	inspection.Status = string(domain.InspectionStatusFailed)
	inspection.ErrorMessage = arg.ErrorMessage
	return 1, nil
}

func (f *fakeLedger) ListPhotosByIDs(ctx context.Context, ids []uuid.UUID) ([]repository.Photo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var photos []repository.Photo
	for _, id := range ids {
		if photo, ok := f.photos[id]; ok {
			photos = append(photos, *photo)
		}
	}
	return photos, nil
}

func (f *fakeLedger) UpdatePhotoCategory(ctx context.Context, arg repository.UpdatePhotoCategoryParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if photo, ok := f.photos[arg.ID]; ok {
		photo.Category = arg.Category
	}
	return nil
}

func (f *fakeLedger) CompleteJob(ctx context.Context, arg repository.CompleteJobParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[arg.ID]
	if !ok || job.Status != string(domain.JobStatusProcessing) {
		return 0, nil
	}
	job.Status = string(domain.JobStatusCompleted)
	job.Result = arg.Result
	job.CostCents = arg.CostCents
	job.InputTokens = arg.InputTokens
	job.OutputTokens = arg.OutputTokens
	return 1, nil
}

func (f *fakeLedger) FailJob(ctx context.Context, arg repository.FailJobParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[arg.ID]
	if !ok || job.Status != string(domain.JobStatusProcessing) {
		return 0, nil
	}
	job.Status = string(domain.JobStatusFailed)
	job.ErrorMessage = arg.ErrorMessage
	return 1, nil
}

func (f *fakeLedger) ListCompletedJobsByInspectionID(ctx context.Context, inspectionID uuid.UUID) ([]repository.ProcessingJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var completed []repository.ProcessingJob
	for _, job := range f.jobs {
		if job.InspectionID == inspectionID && job.Status == string(domain.JobStatusCompleted) {
			completed = append(completed, *job)
		}
	}
	return completed, nil
}

func (f *fakeLedger) inspectionStatus(t *testing.T, id uuid.UUID) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	inspection, ok := f.inspections[id]
	if !ok {
		t.Fatalf("inspection %s not found", id)
	}
	return inspection.Status
}

func (f *fakeLedger) job(t *testing.T, id uuid.UUID) repository.ProcessingJob {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		t.Fatalf("job %s not found", id)
	}
	return *job
}

func (f *fakeLedger) photoCategory(t *testing.T, id uuid.UUID) sql.NullString {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	photo, ok := f.photos[id]
	if !ok {
		t.Fatalf("photo %s not found", id)
	}
	return photo.Category
}

// memStorage is an in-memory Storage for tests.
type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) put(key string, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
}

func (s *memStorage) Put(ctx context.Context, key string, data io.Reader, opts storage.PutOptions) error {
	blob, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.put(key, blob)
	return nil
}

func (s *memStorage) Get(ctx context.Context, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.objects[key]
	if !ok {
		return nil, storage.ObjectInfo{}, &storage.StorageError{Op: "Get", Key: key, Err: storage.ErrNotFound}
	}
	info := storage.ObjectInfo{Key: key, Size: int64(len(blob)), ContentType: "image/jpeg"}
	return io.NopCloser(bytes.NewReader(blob)), info, nil
}

func (s *memStorage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStorage) URL(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "http://storage.test/" + key, nil
}

func (s *memStorage) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

type fakeAdvancer struct {
	mu    sync.Mutex
	calls []int32
}

func (a *fakeAdvancer) Advance(ctx context.Context, inspectionID uuid.UUID, afterSequence int32) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, afterSequence)
	return nil
}

func (a *fakeAdvancer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// flakyProvider fails the first n AnalyzeChunk calls, then delegates.
type flakyProvider struct {
	inner    ai.AIProvider
	failures int
	err      error
	calls    int
}

func (p *flakyProvider) CategorizePhoto(ctx context.Context, params ai.CategorizePhotoParams) (*ai.CategorizationResult, error) {
	return p.inner.CategorizePhoto(ctx, params)
}

func (p *flakyProvider) AnalyzeChunk(ctx context.Context, params ai.AnalyzeChunkParams) (*ai.ChunkAnalysisResult, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, p.err
	}
	return p.inner.AnalyzeChunk(ctx, params)
}

// =============================================================================
// Test setup
// =============================================================================

type chunkFixture struct {
	ledger    *fakeLedger
	store     *memStorage
	provider  *mock.Provider
	advancer  *fakeAdvancer
	executor  *ChunkAnalysisExecutor
	inspectID uuid.UUID
}

func newChunkFixture(t *testing.T) *chunkFixture {
	t.Helper()
	ledger := newFakeLedger()
	store := newMemStorage()
	provider := mock.New(discardLogger())
	advancer := &fakeAdvancer{}
	executor := NewChunkAnalysisExecutor(ledger, provider, store, testRetryConfig(), advancer, discardLogger())

	return &chunkFixture{
		ledger:    ledger,
		store:     store,
		provider:  provider,
		advancer:  advancer,
		executor:  executor,
		inspectID: ledger.addInspection(string(domain.InspectionStatusProcessing)),
	}
}

// addStoredPhoto registers a photo row and the matching object.
func (fx *chunkFixture) addStoredPhoto(category string) uuid.UUID {
	photoID := fx.ledger.addPhoto(fx.inspectID, category)
	fx.ledger.mu.Lock()
	key := fx.ledger.photos[photoID].StorageKey
	fx.ledger.mu.Unlock()
	fx.store.put(key, []byte("jpeg-bytes"))
	return photoID
}

func chunkPayloadJSON(t *testing.T, category domain.PhotoCategory, photoIDs ...uuid.UUID) []byte {
	t.Helper()
	blob, err := json.Marshal(domain.ChunkPayload{
		Category:  category,
		PhotoIDs:  photoIDs,
		SizeBytes: int64(len(photoIDs)) * 1024,
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return blob
}

// =============================================================================
// Tests
// =============================================================================

func TestChunkAnalysisExecutor_CompletesJobAndAdvances(t *testing.T) {
	fx := newChunkFixture(t)

	categorized := fx.addStoredPhoto(string(domain.CategoryExterior))
	uncategorized := fx.addStoredPhoto("")
	payload := chunkPayloadJSON(t, domain.CategoryExterior, categorized, uncategorized)
	job := fx.ledger.addJob(fx.inspectID, string(domain.JobTypeChunkAnalysis), 1, string(domain.JobStatusProcessing), payload)

	if err := fx.executor.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	stored := fx.ledger.job(t, job.ID)
	if stored.Status != string(domain.JobStatusCompleted) {
		t.Fatalf("job status = %q, want completed", stored.Status)
	}
	if !stored.Result.Valid {
		t.Fatal("completed job has no result")
	}

	var result struct {
		Findings       []json.RawMessage `json:"findings"`
		Summary        string            `json:"summary"`
		PhotosAnalyzed int               `json:"photos_analyzed"`
	}
	if err := json.Unmarshal(stored.Result.RawMessage, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Findings) != 3 {
		t.Errorf("findings = %d, want 3", len(result.Findings))
	}
	if result.PhotosAnalyzed != 2 {
		t.Errorf("photos_analyzed = %d, want 2", result.PhotosAnalyzed)
	}
	if stored.CostCents != 5 || stored.InputTokens != 1250 || stored.OutputTokens != 850 {
		t.Errorf("usage = (%d, %d, %d), want (5, 1250, 850)",
			stored.CostCents, stored.InputTokens, stored.OutputTokens)
	}

	if category := fx.ledger.photoCategory(t, uncategorized); !category.Valid {
		t.Error("uncategorized photo was not assigned a category")
	}
	if fx.provider.CategorizePhotoCalls != 1 {
		t.Errorf("CategorizePhoto calls = %d, want 1 (already-categorized photo skipped)", fx.provider.CategorizePhotoCalls)
	}

	if fx.advancer.callCount() != 1 {
		t.Fatalf("Advance calls = %d, want 1", fx.advancer.callCount())
	}
	if got := fx.ledger.inspectionStatus(t, fx.inspectID); got != string(domain.InspectionStatusProcessing) {
		t.Errorf("inspection status = %q, want processing", got)
	}
}

func TestChunkAnalysisExecutor_BadPayloadFailsInspection(t *testing.T) {
	fx := newChunkFixture(t)
	job := fx.ledger.addJob(fx.inspectID, string(domain.JobTypeChunkAnalysis), 1,
		string(domain.JobStatusProcessing), []byte(`{"photo_ids": "not-an-array"}`))

	if err := fx.executor.Execute(context.Background(), job); err == nil {
		t.Fatal("Execute() = nil, want error")
	}

	if got := fx.ledger.job(t, job.ID).Status; got != string(domain.JobStatusFailed) {
		t.Errorf("job status = %q, want failed", got)
	}
	if got := fx.ledger.inspectionStatus(t, fx.inspectID); got != string(domain.InspectionStatusFailed) {
		t.Errorf("inspection status = %q, want failed", got)
	}
	if fx.provider.AnalyzeChunkCalls != 0 {
		t.Errorf("AnalyzeChunk calls = %d, want 0", fx.provider.AnalyzeChunkCalls)
	}
}

func TestChunkAnalysisExecutor_MissingPhotoFailsInspection(t *testing.T) {
	fx := newChunkFixture(t)
	payload := chunkPayloadJSON(t, domain.CategoryExterior, uuid.New())
	job := fx.ledger.addJob(fx.inspectID, string(domain.JobTypeChunkAnalysis), 1, string(domain.JobStatusProcessing), payload)

	if err := fx.executor.Execute(context.Background(), job); err == nil {
		t.Fatal("Execute() = nil, want error")
	}
	if got := fx.ledger.inspectionStatus(t, fx.inspectID); got != string(domain.InspectionStatusFailed) {
		t.Errorf("inspection status = %q, want failed", got)
	}
}

func TestChunkAnalysisExecutor_AnalysisErrorFailsInspection(t *testing.T) {
	fx := newChunkFixture(t)
	fx.provider.AnalyzeChunkError = ai.EAIInvalidImage

	photoID := fx.addStoredPhoto(string(domain.CategoryExterior))
	payload := chunkPayloadJSON(t, domain.CategoryExterior, photoID)
	job := fx.ledger.addJob(fx.inspectID, string(domain.JobTypeChunkAnalysis), 1, string(domain.JobStatusProcessing), payload)

	if err := fx.executor.Execute(context.Background(), job); err == nil {
		t.Fatal("Execute() = nil, want error")
	}

	// Invalid image is not transient, so no retry happens.
	if fx.provider.AnalyzeChunkCalls != 1 {
		t.Errorf("AnalyzeChunk calls = %d, want 1", fx.provider.AnalyzeChunkCalls)
	}
	if got := fx.ledger.job(t, job.ID).Status; got != string(domain.JobStatusFailed) {
		t.Errorf("job status = %q, want failed", got)
	}
	if got := fx.ledger.inspectionStatus(t, fx.inspectID); got != string(domain.InspectionStatusFailed) {
		t.Errorf("inspection status = %q, want failed", got)
	}
}

func TestChunkAnalysisExecutor_RetriesTransientAnalysisError(t *testing.T) {
	fx := newChunkFixture(t)
	flaky := &flakyProvider{inner: fx.provider, failures: 2, err: ai.EAIUnavailable}
	fx.executor.aiProvider = flaky

	photoID := fx.addStoredPhoto(string(domain.CategoryExterior))
	payload := chunkPayloadJSON(t, domain.CategoryExterior, photoID)
	job := fx.ledger.addJob(fx.inspectID, string(domain.JobTypeChunkAnalysis), 1, string(domain.JobStatusProcessing), payload)

	if err := fx.executor.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if flaky.calls != 3 {
		t.Errorf("AnalyzeChunk calls = %d, want 3", flaky.calls)
	}
	if got := fx.ledger.job(t, job.ID).Status; got != string(domain.JobStatusCompleted) {
		t.Errorf("job status = %q, want completed", got)
	}
}

func TestChunkAnalysisExecutor_CategorizationFailureDegrades(t *testing.T) {
	fx := newChunkFixture(t)
	fx.provider.CategorizePhotoError = ai.EAIInvalidImage

	uncategorized := fx.addStoredPhoto("")
	payload := chunkPayloadJSON(t, domain.CategoryExterior, uncategorized)
	job := fx.ledger.addJob(fx.inspectID, string(domain.JobTypeChunkAnalysis), 1, string(domain.JobStatusProcessing), payload)

	if err := fx.executor.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() error = %v, want graceful degradation", err)
	}

	if got := fx.ledger.job(t, job.ID).Status; got != string(domain.JobStatusCompleted) {
		t.Errorf("job status = %q, want completed", got)
	}
	if category := fx.ledger.photoCategory(t, uncategorized); category.Valid {
		t.Errorf("photo category = %q, want unset", category.String)
	}
	if fx.provider.AnalyzeChunkCalls != 1 {
		t.Errorf("AnalyzeChunk calls = %d, want 1", fx.provider.AnalyzeChunkCalls)
	}
}

func TestChunkAnalysisExecutor_DuplicateCompletionSkipsAdvance(t *testing.T) {
	fx := newChunkFixture(t)

	photoID := fx.addStoredPhoto(string(domain.CategoryExterior))
	payload := chunkPayloadJSON(t, domain.CategoryExterior, photoID)
	job := fx.ledger.addJob(fx.inspectID, string(domain.JobTypeChunkAnalysis), 1, string(domain.JobStatusProcessing), payload)

	// Another writer settles the job while this execution is in flight.
	fx.ledger.mu.Lock()
	fx.ledger.jobs[job.ID].Status = string(domain.JobStatusCompleted)
	fx.ledger.mu.Unlock()

	if err := fx.executor.Execute(context.Background(), job); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if fx.advancer.callCount() != 0 {
		t.Errorf("Advance calls = %d, want 0", fx.advancer.callCount())
	}
}
