// Package handler contains the JSON HTTP handlers for the Camber API.
//
// This file implements inspection intake and retrieval.
//
// Routes:
//   - POST /inspections               -> HandleIntake
//   - GET  /inspections/{id}          -> HandleGet
//   - GET  /inspections/{id}/report   -> HandleGetReport
package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hartfield/camber/internal/domain"
	"github.com/hartfield/camber/internal/service"
)

// maxIntakeMemory bounds how much of a multipart submission is buffered in
// memory before spilling to temp files.
const maxIntakeMemory = 32 << 20

// InspectionHandler handles inspection intake and retrieval requests.
type InspectionHandler struct {
	service service.InspectionService
	logger  *slog.Logger
}

// NewInspectionHandler creates a new InspectionHandler.
func NewInspectionHandler(svc service.InspectionService, logger *slog.Logger) *InspectionHandler {
	return &InspectionHandler{
		service: svc,
		logger:  logger,
	}
}

// RegisterRoutes registers inspection routes on the provided mux.
func (h *InspectionHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /inspections", h.HandleIntake)
	mux.HandleFunc("GET /inspections/{id}", h.HandleGet)
	mux.HandleFunc("GET /inspections/{id}/report", h.HandleGetReport)
}

// inspectionResponse is the JSON shape of an inspection.
type inspectionResponse struct {
	ID              uuid.UUID `json:"id"`
	VIN             string    `json:"vin"`
	Mileage         int32     `json:"mileage"`
	SubmissionType  string    `json:"submission_type"`
	Status          string    `json:"status"`
	OBD2Codes       []string  `json:"obd2_codes,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	PhotoCount      int       `json:"photo_count"`
	JobCount        int       `json:"job_count"`
	ReportAvailable bool      `json:"report_available"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toInspectionResponse(inspection *domain.Inspection) inspectionResponse {
	return inspectionResponse{
		ID:              inspection.ID,
		VIN:             inspection.VIN,
		Mileage:         inspection.Mileage,
		SubmissionType:  string(inspection.SubmissionType),
		Status:          string(inspection.Status),
		OBD2Codes:       inspection.OBD2Codes,
		ErrorMessage:    inspection.ErrorMessage,
		PhotoCount:      inspection.PhotoCount,
		JobCount:        inspection.JobCount,
		ReportAvailable: inspection.HasReport(),
		CreatedAt:       inspection.CreatedAt,
		UpdatedAt:       inspection.UpdatedAt,
	}
}

// HandleIntake accepts a multipart submission: form fields vin, mileage,
// submission_type, obd2_codes, analyses, and one or more photo files under
// "photos". Returns 202 with the created inspection; the pipeline runs in the
// background.
func (h *InspectionHandler) HandleIntake(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxIntakeMemory); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.intake", "request must be multipart/form-data"))
		return
	}

	params, err := h.parseIntakeForm(r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	inspection, err := h.service.Intake(r.Context(), params)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusAccepted, toInspectionResponse(inspection))
}

// parseIntakeForm converts the multipart form into service intake params.
// Structural problems (unreadable files, bad numbers) are rejected here;
// semantic validation belongs to the service.
func (h *InspectionHandler) parseIntakeForm(r *http.Request) (service.IntakeParams, error) {
	const op = "handler.intake"
	var params service.IntakeParams

	params.VIN = r.FormValue("vin")
	params.SubmissionType = domain.SubmissionType(r.FormValue("submission_type"))
	if params.SubmissionType == "" {
		params.SubmissionType = domain.SubmissionDirectUpload
	}

	if raw := r.FormValue("mileage"); raw != "" {
		mileage, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return params, domain.Invalid(op, "mileage must be an integer")
		}
		params.Mileage = int32(mileage)
	}

	params.OBD2Codes = splitValues(r.Form["obd2_codes"])
	for _, raw := range splitValues(r.Form["analyses"]) {
		params.Supplementals = append(params.Supplementals, domain.JobType(raw))
	}

	files := r.MultipartForm.File["photos"]
	for _, header := range files {
		file, err := header.Open()
		if err != nil {
			return params, domain.Errorf(domain.EINVALID, op, "photo %q could not be read", header.Filename)
		}
		data, err := io.ReadAll(file)
		file.Close()
		if err != nil {
			return params, domain.Errorf(domain.EINVALID, op, "photo %q could not be read", header.Filename)
		}

		params.Photos = append(params.Photos, service.PhotoUpload{
			Data:        data,
			ContentType: header.Header.Get("Content-Type"),
			Filename:    header.Filename,
		})
	}

	return params, nil
}

// splitValues flattens repeated form values, splitting any comma-separated
// entries, so both obd2_codes=P0420&obd2_codes=P0171 and obd2_codes=P0420,P0171
// are accepted.
func splitValues(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// HandleGet returns an inspection with photo and job counts.
func (h *InspectionHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid("handler.get_inspection", "invalid inspection ID"))
		return
	}

	inspection, err := h.service.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, toInspectionResponse(inspection))
}

// HandleGetReport returns the consolidated report JSON for a completed
// inspection. 409 until the pipeline has finished.
func (h *InspectionHandler) HandleGetReport(w http.ResponseWriter, r *http.Request) {
	const op = "handler.get_report"

	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid inspection ID"))
		return
	}

	inspection, err := h.service.Get(r.Context(), id)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if !inspection.HasReport() {
		if inspection.Status == domain.InspectionStatusFailed {
			ErrorResponse(w, r, h.logger, domain.Conflict(op, "inspection failed and produced no report"))
			return
		}
		ErrorResponse(w, r, h.logger, domain.Conflict(op, "report is not ready yet"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(inspection.Report)
}
