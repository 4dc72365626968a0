package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/service"
)

// fakeInspectionService records intake params and serves canned inspections.
type fakeInspectionService struct {
	intakeParams *service.IntakeParams
	intakeResult *domain.Inspection
	intakeErr    error
	inspections  map[uuid.UUID]*domain.Inspection
}

func newFakeInspectionService() *fakeInspectionService {
	return &fakeInspectionService{inspections: make(map[uuid.UUID]*domain.Inspection)}
}

func (f *fakeInspectionService) Intake(ctx context.Context, params service.IntakeParams) (*domain.Inspection, error) {
	f.intakeParams = &params
	if f.intakeErr != nil {
		return nil, f.intakeErr
	}
	return f.intakeResult, nil
}

func (f *fakeInspectionService) Get(ctx context.Context, id uuid.UUID) (*domain.Inspection, error) {
	inspection, ok := f.inspections[id]
	if !ok {
		return nil, domain.NotFound("service.get", "inspection", id.String())
	}
	return inspection, nil
}

func newInspectionTestMux(svc *fakeInspectionService) *http.ServeMux {
	h := NewInspectionHandler(svc, testLogger())
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return mux
}

func buildIntakeRequest(t *testing.T, fields map[string]string, photos map[string][]byte) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := writer.WriteField(name, value); err != nil {
			t.Fatalf("write field %s: %v", name, err)
		}
	}
	for filename, data := range photos {
		part, err := writer.CreateFormFile("photos", filename)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(data); err != nil {
			t.Fatalf("write photo data: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest("POST", "/inspections", &buf)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func TestHandleIntake_PassesParsedParamsToService(t *testing.T) {
	svc := newFakeInspectionService()
	svc.intakeResult = &domain.Inspection{
		ID:             uuid.New(),
		VIN:            "1HGCM82633A004352",
		Mileage:        88000,
		SubmissionType: domain.SubmissionDirectUpload,
		Status:         domain.InspectionStatusProcessing,
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	mux := newInspectionTestMux(svc)

	req := buildIntakeRequest(t,
		map[string]string{
			"vin":        "1hgcm82633a004352",
			"mileage":    "88000",
			"obd2_codes": "P0420,P0171",
			"analyses":   "fair_market_value",
		},
		map[string][]byte{
			"front.jpg": []byte("jpeg-bytes"),
			"rear.jpg":  []byte("more-jpeg-bytes"),
		},
	)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body: %s", rec.Code, rec.Body.String())
	}

	params := svc.intakeParams
	if params == nil {
		t.Fatal("service never received intake params")
	}
	if params.VIN != "1hgcm82633a004352" {
		t.Errorf("vin = %q", params.VIN)
	}
	if params.Mileage != 88000 {
		t.Errorf("mileage = %d, want 88000", params.Mileage)
	}
	if params.SubmissionType != domain.SubmissionDirectUpload {
		t.Errorf("submission type = %q, want direct-upload default", params.SubmissionType)
	}
	if len(params.OBD2Codes) != 2 {
		t.Errorf("obd2 codes = %v, want 2 entries", params.OBD2Codes)
	}
	if len(params.Supplementals) != 1 || params.Supplementals[0] != domain.JobTypeFairMarketValue {
		t.Errorf("supplementals = %v", params.Supplementals)
	}
	if len(params.Photos) != 2 {
		t.Fatalf("photos = %d, want 2", len(params.Photos))
	}

	var resp inspectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != svc.intakeResult.ID {
		t.Errorf("response id = %s, want %s", resp.ID, svc.intakeResult.ID)
	}
	if resp.Status != string(domain.InspectionStatusProcessing) {
		t.Errorf("response status = %q", resp.Status)
	}
}

func TestHandleIntake_ValidationErrorReturns400(t *testing.T) {
	svc := newFakeInspectionService()
	svc.intakeErr = domain.Invalid("inspection.intake", "VIN is required")
	mux := newInspectionTestMux(svc)

	req := buildIntakeRequest(t, map[string]string{"mileage": "1000"}, map[string][]byte{"a.jpg": []byte("x")})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleIntake_BadMileageReturns400(t *testing.T) {
	svc := newFakeInspectionService()
	mux := newInspectionTestMux(svc)

	req := buildIntakeRequest(t, map[string]string{"vin": "x", "mileage": "not-a-number"}, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400; body: %s", rec.Code, rec.Body.String())
	}
	if svc.intakeParams != nil {
		t.Error("service should not be called when the form is malformed")
	}
}

func TestHandleGet_ReturnsInspection(t *testing.T) {
	svc := newFakeInspectionService()
	id := uuid.New()
	svc.inspections[id] = &domain.Inspection{
		ID:         id,
		VIN:        "WVWZZZ3CZEE087943",
		Status:     domain.InspectionStatusDone,
		Report:     []byte(`{"sections":[]}`),
		PhotoCount: 4,
		JobCount:   3,
	}
	mux := newInspectionTestMux(svc)

	req := httptest.NewRequest("GET", "/inspections/"+id.String(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}

	var resp inspectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.PhotoCount != 4 || resp.JobCount != 3 {
		t.Errorf("counts = %d/%d, want 4/3", resp.PhotoCount, resp.JobCount)
	}
	if !resp.ReportAvailable {
		t.Error("report_available = false, want true")
	}
}

func TestHandleGet_BadIDReturns400(t *testing.T) {
	mux := newInspectionTestMux(newFakeInspectionService())

	req := httptest.NewRequest("GET", "/inspections/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleGet_UnknownReturns404(t *testing.T) {
	mux := newInspectionTestMux(newFakeInspectionService())

	req := httptest.NewRequest("GET", "/inspections/"+uuid.NewString(), nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleGetReport_ReturnsRawReport(t *testing.T) {
	svc := newFakeInspectionService()
	id := uuid.New()
	report := []byte(`{"inspection_id":"` + id.String() + `","sections":[{"job_type":"chunk_analysis"}]}`)
	svc.inspections[id] = &domain.Inspection{
		ID:     id,
		Status: domain.InspectionStatusDone,
		Report: report,
	}
	mux := newInspectionTestMux(svc)

	req := httptest.NewRequest("GET", "/inspections/"+id.String()+"/report", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body: %s", rec.Code, rec.Body.String())
	}
	if !bytes.Equal(rec.Body.Bytes(), report) {
		t.Errorf("body = %s, want raw report", rec.Body.String())
	}
}

func TestHandleGetReport_NotReadyReturns409(t *testing.T) {
	svc := newFakeInspectionService()
	id := uuid.New()
	svc.inspections[id] = &domain.Inspection{
		ID:     id,
		Status: domain.InspectionStatusProcessing,
	}
	mux := newInspectionTestMux(svc)

	req := httptest.NewRequest("GET", "/inspections/"+id.String()+"/report", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409; body: %s", rec.Code, rec.Body.String())
	}
}
