package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
)

// ProjectHandler handles project HTTP requests.
type ProjectHandler struct {
	projects repositories.ProjectRepository
	logger   *zap.Logger
}

// NewProjectHandler creates a new project handler.
func NewProjectHandler(projects repositories.ProjectRepository, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{
		projects: projects,
		logger:   logger,
	}
}

// RegisterRoutes registers the project handler's routes on the given mux.
func (h *ProjectHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/projects", h.CreateProject)
	mux.HandleFunc("GET /api/projects", h.ListProjects)
	mux.HandleFunc("GET /api/projects/{pid}", h.GetProject)
	mux.HandleFunc("DELETE /api/projects/{pid}", h.DeleteProject)
}

type createProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// CreateProject handles POST /api/projects
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.Name == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_name", "Project name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	project := &models.Project{
		Name:        req.Name,
		Description: req.Description,
	}
	if err := h.projects.Create(r.Context(), project); err != nil {
		h.logger.Error("Failed to create project", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: project}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListProjects handles GET /api/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.projects.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list projects", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if projects == nil {
		projects = make([]models.Project, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: projects}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetProject handles GET /api/projects/{pid}
func (h *ProjectHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	project, err := h.projects.Get(r.Context(), projectID)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: project}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteProject handles DELETE /api/projects/{pid}
func (h *ProjectHandler) DeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	if err := h.projects.Delete(r.Context(), projectID); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Project deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
