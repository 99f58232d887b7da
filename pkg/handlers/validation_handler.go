package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
	"github.com/extractly-ai/extractly-engine/pkg/services"
)

// ValidationHandler handles field validation review requests: listing a
// session's extracted values, manual corrections, and re-scoring after
// threshold changes.
type ValidationHandler struct {
	validations repositories.ValidationRepository
	schemas     repositories.SchemaRepository
	sessions    repositories.SessionRepository
	service     services.ValidationService
	logger      *zap.Logger
}

// NewValidationHandler creates a new validation handler.
func NewValidationHandler(
	validations repositories.ValidationRepository,
	schemas repositories.SchemaRepository,
	sessions repositories.SessionRepository,
	service services.ValidationService,
	logger *zap.Logger,
) *ValidationHandler {
	return &ValidationHandler{
		validations: validations,
		schemas:     schemas,
		sessions:    sessions,
		service:     service,
		logger:      logger,
	}
}

// RegisterRoutes registers the validation handler's routes on the given mux.
func (h *ValidationHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/projects/{pid}/sessions/{sid}/validations"

	mux.HandleFunc("GET "+base, h.ListValidations)
	mux.HandleFunc("PUT "+base+"/{vid}", h.ManualEdit)
	mux.HandleFunc("POST "+base+"/reevaluate", h.Reevaluate)
}

// ListValidations handles GET /api/projects/{pid}/sessions/{sid}/validations
func (h *ValidationHandler) ListValidations(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	rows, err := h.validations.ListBySession(r.Context(), session.ID)
	if err != nil {
		h.logger.Error("Failed to list validations", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if rows == nil {
		rows = make([]models.FieldValidation, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rows}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type manualEditRequest struct {
	ExtractedValue *string `json:"extracted_value"`
}

// ManualEdit handles PUT /api/projects/{pid}/sessions/{sid}/validations/{vid}
//
// Applies a reviewer correction: the row becomes manually verified with full
// confidence regardless of what the model originally scored.
func (h *ValidationHandler) ManualEdit(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	validationID, ok := parseUUID(w, r, "vid", h.logger)
	if !ok {
		return
	}

	existing, err := h.validations.Get(r.Context(), validationID)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if existing.SessionID != session.ID {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Validation not found in session"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req manualEditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	updated, err := h.service.ApplyManualEdit(r.Context(), validationID, req.ExtractedValue)
	if err != nil {
		h.logger.Error("Failed to apply manual edit",
			zap.String("validation_id", validationID.String()),
			zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.refreshSessionStatus(r.Context(), session)

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: updated}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Reevaluate handles POST /api/projects/{pid}/sessions/{sid}/validations/reevaluate
//
// Re-scores every non-manual row against the project's current schema
// thresholds. Used after an admin tightens or loosens auto-verification
// confidence on a field.
func (h *ValidationHandler) Reevaluate(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	schema, err := h.schemas.GetProjectSchema(r.Context(), session.ProjectID)
	if err != nil {
		h.logger.Error("Failed to load project schema", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rows, err := h.service.ReevaluateSession(r.Context(), session.ID, schema)
	if err != nil {
		h.logger.Error("Failed to reevaluate session",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	h.refreshSessionStatus(r.Context(), session)

	if rows == nil {
		rows = make([]models.FieldValidation, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rows}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// refreshSessionStatus mirrors the review state onto the session after its
// rows change: a completed session whose rows are all verified is promoted to
// verified, and a later correction can demote it back. Sessions still moving
// through the pipeline keep their job-derived status.
func (h *ValidationHandler) refreshSessionStatus(ctx context.Context, session *models.ExtractionSession) {
	if session.Status != models.SessionStatusCompleted && session.Status != models.SessionStatusVerified {
		return
	}

	rows, err := h.validations.ListBySession(ctx, session.ID)
	if err != nil {
		h.logger.Warn("Failed to refresh session status",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		return
	}

	status := models.SessionStatusCompleted
	if services.ComputeVerificationStatus(rows) == models.SessionStatusVerified {
		status = models.SessionStatusVerified
	}
	if status == session.Status {
		return
	}

	if err := h.sessions.UpdateStatus(ctx, session.ID, status); err != nil {
		h.logger.Warn("Failed to refresh session status",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
	}
}

func (h *ValidationHandler) sessionFromPath(w http.ResponseWriter, r *http.Request) (*models.ExtractionSession, bool) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return nil, false
	}
	sessionID, ok := ParseSessionID(w, r, h.logger)
	if !ok {
		return nil, false
	}

	session, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	if session.ProjectID != projectID {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Session not found in project"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return nil, false
	}
	return session, true
}
