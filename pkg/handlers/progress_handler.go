package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
	"github.com/extractly-ai/extractly-engine/pkg/services"
)

// ProgressHandler serves verification progress rollups for sessions and
// projects.
type ProgressHandler struct {
	sessions    repositories.SessionRepository
	validations repositories.ValidationRepository
	logger      *zap.Logger
}

// NewProgressHandler creates a new progress handler.
func NewProgressHandler(
	sessions repositories.SessionRepository,
	validations repositories.ValidationRepository,
	logger *zap.Logger,
) *ProgressHandler {
	return &ProgressHandler{
		sessions:    sessions,
		validations: validations,
		logger:      logger,
	}
}

// RegisterRoutes registers the progress handler's routes on the given mux.
func (h *ProgressHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/projects/{pid}/progress", h.GetProjectProgress)
	mux.HandleFunc("GET /api/projects/{pid}/sessions/{sid}/progress", h.GetSessionProgress)
}

type sessionProgressResponse struct {
	services.SessionProgress
	VerificationStatus models.SessionStatus `json:"verification_status"`
}

// GetSessionProgress handles GET /api/projects/{pid}/sessions/{sid}/progress
func (h *ProgressHandler) GetSessionProgress(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	sessionID, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return
	}

	session, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if session.ProjectID != projectID {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Session not found in project"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rows, err := h.validations.ListBySession(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("Failed to list validations", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: sessionProgressResponse{
		SessionProgress:    services.ComputeSessionProgress(rows),
		VerificationStatus: services.ComputeVerificationStatus(rows),
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetProjectProgress handles GET /api/projects/{pid}/progress
func (h *ProgressHandler) GetProjectProgress(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	sessions, err := h.sessions.ListByProject(r.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to list sessions", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	sessionPtrs := make([]*models.ExtractionSession, len(sessions))
	validationsBySession := make(map[string][]models.FieldValidation, len(sessions))
	for i := range sessions {
		sessionPtrs[i] = &sessions[i]
		rows, err := h.validations.ListBySession(r.Context(), sessions[i].ID)
		if err != nil {
			h.logger.Error("Failed to list validations",
				zap.String("session_id", sessions[i].ID.String()),
				zap.Error(err))
			if err := ServiceError(w, err); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		validationsBySession[sessions[i].ID.String()] = rows
	}

	progress := services.ComputeProjectProgress(sessionPtrs, validationsBySession)

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: progress}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
