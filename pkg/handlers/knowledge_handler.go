package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
)

// KnowledgeHandler handles knowledge documents and extraction rules, the two
// kinds of reference material injected into extraction prompts.
type KnowledgeHandler struct {
	knowledge repositories.KnowledgeRepository
	logger    *zap.Logger
}

// NewKnowledgeHandler creates a new knowledge handler.
func NewKnowledgeHandler(knowledge repositories.KnowledgeRepository, logger *zap.Logger) *KnowledgeHandler {
	return &KnowledgeHandler{
		knowledge: knowledge,
		logger:    logger,
	}
}

// RegisterRoutes registers the knowledge handler's routes on the given mux.
func (h *KnowledgeHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/projects/{pid}/knowledge", h.CreateDocument)
	mux.HandleFunc("GET /api/projects/{pid}/knowledge", h.ListDocuments)
	mux.HandleFunc("DELETE /api/projects/{pid}/knowledge/{doc_id}", h.DeleteDocument)

	mux.HandleFunc("POST /api/projects/{pid}/rules", h.CreateRule)
	mux.HandleFunc("GET /api/projects/{pid}/rules", h.ListRules)
	mux.HandleFunc("PUT /api/projects/{pid}/rules/{rule_id}", h.UpdateRule)
	mux.HandleFunc("DELETE /api/projects/{pid}/rules/{rule_id}", h.DeleteRule)
}

type createKnowledgeDocumentRequest struct {
	DisplayName string `json:"display_name"`
	Content     string `json:"content"`
}

// CreateDocument handles POST /api/projects/{pid}/knowledge
func (h *KnowledgeHandler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req createKnowledgeDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.DisplayName == "" || req.Content == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "display_name and content are required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	doc := &models.KnowledgeDocument{
		ProjectID:   projectID,
		DisplayName: req.DisplayName,
		Content:     req.Content,
	}
	if err := h.knowledge.CreateDocument(r.Context(), doc); err != nil {
		h.logger.Error("Failed to create knowledge document", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: doc}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListDocuments handles GET /api/projects/{pid}/knowledge
func (h *KnowledgeHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	docs, err := h.knowledge.ListDocuments(r.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to list knowledge documents", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if docs == nil {
		docs = make([]models.KnowledgeDocument, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: docs}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteDocument handles DELETE /api/projects/{pid}/knowledge/{doc_id}
func (h *KnowledgeHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseProjectID(w, r, h.logger); !ok {
		return
	}
	docID, ok := parseUUID(w, r, "doc_id", h.logger)
	if !ok {
		return
	}

	if err := h.knowledge.DeleteDocument(r.Context(), docID); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Knowledge document deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// CreateRule handles POST /api/projects/{pid}/rules
func (h *KnowledgeHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var rule models.ExtractionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if rule.RuleName == "" || rule.RuleContent == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "rule_name and rule_content are required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	rule.ProjectID = projectID

	if err := h.knowledge.CreateRule(r.Context(), &rule); err != nil {
		h.logger.Error("Failed to create extraction rule", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: rule}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListRules handles GET /api/projects/{pid}/rules
func (h *KnowledgeHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	rules, err := h.knowledge.ListRules(r.Context(), projectID)
	if err != nil {
		h.logger.Error("Failed to list extraction rules", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if rules == nil {
		rules = make([]models.ExtractionRule, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rules}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UpdateRule handles PUT /api/projects/{pid}/rules/{rule_id}
func (h *KnowledgeHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}
	ruleID, ok := parseUUID(w, r, "rule_id", h.logger)
	if !ok {
		return
	}

	var rule models.ExtractionRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	rule.ID = ruleID
	rule.ProjectID = projectID

	if err := h.knowledge.UpdateRule(r.Context(), &rule); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rule}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteRule handles DELETE /api/projects/{pid}/rules/{rule_id}
func (h *KnowledgeHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if _, ok := ParseProjectID(w, r, h.logger); !ok {
		return
	}
	ruleID, ok := parseUUID(w, r, "rule_id", h.logger)
	if !ok {
		return
	}

	if err := h.knowledge.DeleteRule(r.Context(), ruleID); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Rule deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}
