package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentinelstack/fusion-engine/internal/models"
	"github.com/sentinelstack/fusion-engine/internal/services"
	"github.com/sentinelstack/fusion-engine/internal/storage"
	"github.com/sentinelstack/fusion-engine/internal/utils"
)

type handlers struct {
	service *services.FusionService
	logger  *slog.Logger
}

func newHandlers(service *services.FusionService, logger *slog.Logger) *handlers {
	return &handlers{service: service, logger: logger}
}

// batchRequest is the wire shape for batch submission. The deadline arrives
// in milliseconds; zero selects the configured default.
type batchRequest struct {
	BatchID    string             `json:"batch_id,omitempty"`
	DeadlineMS int64              `json:"deadline_ms,omitempty"`
	Records    []models.RawRecord `json:"records"`
}

type batchAccepted struct {
	BatchID string `json:"batch_id"`
}

type feedbackRequest struct {
	AssessmentID string `json:"assessment_id"`
	Correct      bool   `json:"correct"`
	Notes        string `json:"notes,omitempty"`
}

type statusResponse struct {
	models.StatusReport
	Latency utils.LatencySummary `json:"latency"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) submitBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	batch := models.Batch{
		BatchID:  req.BatchID,
		Records:  req.Records,
		Deadline: time.Duration(req.DeadlineMS) * time.Millisecond,
	}
	batchID, err := h.service.SubmitBatch(r.Context(), batch)
	if err != nil {
		if utils.IsCode(err, utils.CodeCapacityExceeded) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{
				Error: err.Error(),
				Code:  string(utils.CodeCapacityExceeded),
			})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, batchAccepted{BatchID: batchID})
}

func (h *handlers) submitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	fb := models.Feedback{
		AssessmentID: req.AssessmentID,
		Correct:      req.Correct,
		Notes:        req.Notes,
		SubmittedAt:  time.Now().UTC(),
	}
	if err := h.service.SubmitFeedback(r.Context(), fb); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"assessment_id": fb.AssessmentID})
}

func (h *handlers) tunerSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.service.TunerSnapshot())
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		StatusReport: h.service.Status(),
		Latency:      h.service.LatencySummary(),
	})
}

func (h *handlers) getAssessment(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "assessmentID")
	assessment, err := h.service.GetAssessment(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "assessment not found"})
			return
		}
		h.logger.Error("get assessment failed", slog.String("assessment_id", id), slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load assessment"})
		return
	}
	writeJSON(w, http.StatusOK, assessment)
}

func (h *handlers) listIntelligence(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := h.service.ListIntelligence(limit)
	if err != nil {
		h.logger.Error("list intelligence failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to list intelligence records"})
		return
	}
	if records == nil {
		records = []models.IntelligenceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
