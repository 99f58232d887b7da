package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/services"
)

// ExtractionHandler exposes the background extraction job: start and poll.
type ExtractionHandler struct {
	runner       *services.JobRunner
	pollInterval time.Duration
	pollTimeout  time.Duration
	logger       *zap.Logger
}

// NewExtractionHandler creates a new extraction handler. pollInterval and
// pollTimeout are advertised to clients so the poll budget lives in server
// config rather than hardcoded in every frontend.
func NewExtractionHandler(runner *services.JobRunner, pollInterval, pollTimeout time.Duration, logger *zap.Logger) *ExtractionHandler {
	return &ExtractionHandler{
		runner:       runner,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
		logger:       logger,
	}
}

// RegisterRoutes registers the extraction handler's routes on the given mux.
func (h *ExtractionHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/projects/{pid}/sessions/{sid}/extraction"

	mux.HandleFunc("POST "+base, h.StartExtraction)
	mux.HandleFunc("GET "+base+"/status", h.GetStatus)
}

type startExtractionResponse struct {
	SessionID           string          `json:"session_id"`
	Stage               models.JobStage `json:"document_extraction_status"`
	PollIntervalSeconds int64           `json:"poll_interval_seconds"`
	PollTimeoutSeconds  int64           `json:"poll_timeout_seconds"`
}

// StartExtraction handles POST /api/projects/{pid}/sessions/{sid}/extraction
//
// Kicks off the background job and returns immediately; a second start while
// the job is running or after it completed maps to 409 job_already_running.
func (h *ExtractionHandler) StartExtraction(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseProjectID(w, r, h.logger); !ok {
		return
	}
	sessionID, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.runner.Start(r.Context(), sessionID); err != nil {
		h.logger.Warn("Failed to start extraction job",
			zap.String("session_id", sessionID.String()),
			zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusAccepted, ApiResponse{Success: true, Data: startExtractionResponse{
		SessionID:           sessionID.String(),
		Stage:               models.JobStageUploading,
		PollIntervalSeconds: int64(h.pollInterval.Seconds()),
		PollTimeoutSeconds:  int64(h.pollTimeout.Seconds()),
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type jobStatusResponse struct {
	*models.JobStatus
	PollIntervalSeconds int64 `json:"poll_interval_seconds"`
}

// GetStatus handles GET /api/projects/{pid}/sessions/{sid}/extraction/status
func (h *ExtractionHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseProjectID(w, r, h.logger); !ok {
		return
	}
	sessionID, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	status, err := h.runner.Status(r.Context(), sessionID)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: jobStatusResponse{
		JobStatus:           status,
		PollIntervalSeconds: int64(h.pollInterval.Seconds()),
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
