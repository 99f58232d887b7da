package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/docext"
	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/prompts"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
	"github.com/extractly-ai/extractly-engine/pkg/services"
)

// PipelineHandler exposes the extraction pipeline stages as synchronous
// endpoints: text extraction, AI extraction, and validation persistence. The
// background job runner chains the same stages; these routes let a client
// drive them one at a time.
type PipelineHandler struct {
	sessions   repositories.SessionRepository
	schemas    repositories.SchemaRepository
	knowledge  repositories.KnowledgeRepository
	extractor  *docext.Extractor
	extraction services.ExtractionService
	validation services.ValidationService
	logger     *zap.Logger
}

// NewPipelineHandler creates a new pipeline handler.
func NewPipelineHandler(
	sessions repositories.SessionRepository,
	schemas repositories.SchemaRepository,
	knowledge repositories.KnowledgeRepository,
	extractor *docext.Extractor,
	extraction services.ExtractionService,
	validation services.ValidationService,
	logger *zap.Logger,
) *PipelineHandler {
	return &PipelineHandler{
		sessions:   sessions,
		schemas:    schemas,
		knowledge:  knowledge,
		extractor:  extractor,
		extraction: extraction,
		validation: validation,
		logger:     logger,
	}
}

// RegisterRoutes registers the pipeline handler's routes on the given mux.
func (h *PipelineHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/projects/{pid}/sessions/{sid}"

	mux.HandleFunc("POST "+base+"/extract-text", h.ExtractText)
	mux.HandleFunc("POST "+base+"/ai-extraction", h.AIExtraction)
	mux.HandleFunc("POST "+base+"/save-validations", h.SaveValidations)
}

type extractTextFile struct {
	FileName      string `json:"file_name"`
	ContentBase64 string `json:"content_base64"`
}

type extractTextRequest struct {
	Files []extractTextFile `json:"files"`
}

// ExtractText handles POST /api/projects/{pid}/sessions/{sid}/extract-text
//
// Converts the posted files to text in one shot and stores the batch result
// on the session, mirroring what the text_extraction job stage does.
func (h *PipelineHandler) ExtractText(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	var req extractTextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(req.Files) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_files", "At least one file is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	files := make([]docext.File, 0, len(req.Files))
	for _, f := range req.Files {
		data, err := base64.StdEncoding.DecodeString(f.ContentBase64)
		if err != nil {
			if err := ErrorResponse(w, http.StatusBadRequest, "invalid_content",
				"File "+f.FileName+" is not valid base64"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		files = append(files, docext.File{
			Name:  f.FileName,
			Size:  int64(len(data)),
			Bytes: data,
		})
	}

	batch, err := h.extractor.ExtractBatch(r.Context(), files)
	if err != nil {
		h.logger.Error("Text extraction failed", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	batchJSON, err := json.Marshal(batch)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if err := h.sessions.SetExtractedData(r.Context(), session.ID, batchJSON); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: batch}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type aiExtractionRequest struct {
	ExtractedText string `json:"extracted_text"`
	DocumentCount int    `json:"document_count"`
}

type aiExtractionResponse struct {
	FieldValidations []models.FieldValidationDraft `json:"field_validations"`
}

// AIExtraction handles POST /api/projects/{pid}/sessions/{sid}/ai-extraction
//
// Compiles the prompt from the project's current schema, rules and knowledge
// documents, calls the provider once, and returns the parsed drafts without
// persisting them. Pair with save-validations to commit.
func (h *PipelineHandler) AIExtraction(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	var req aiExtractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	extractedText := req.ExtractedText
	if extractedText == "" {
		// Fall back to what extract-text stored on the session.
		var batch docext.BatchResult
		if len(session.ExtractedData) > 0 {
			if err := json.Unmarshal(session.ExtractedData, &batch); err == nil {
				extractedText = batch.ExtractedText
			}
		}
	}
	if extractedText == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_extracted_text",
			"No extracted text provided and none stored on the session"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	schema, err := h.schemas.GetProjectSchema(r.Context(), session.ProjectID)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(schema.Fields) == 0 && len(schema.Collections) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "empty_schema",
			"Project has no schema to extract against"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	knowledgeDocs, err := h.knowledge.ListDocuments(r.Context(), session.ProjectID)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	rules, err := h.knowledge.ListRules(r.Context(), session.ProjectID)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	documentCount := req.DocumentCount
	if documentCount <= 0 {
		documentCount = session.DocumentCount
	}
	if documentCount <= 0 {
		documentCount = 1
	}

	prompt := prompts.BuildExtractionPrompt(schema, extractedText, knowledgeDocs, rules, documentCount)

	drafts, err := h.extraction.Extract(r.Context(), schema, prompt)
	if err != nil {
		h.logger.Error("AI extraction failed",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: aiExtractionResponse{
		FieldValidations: drafts,
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type saveValidationsRequest struct {
	FieldValidations []models.FieldValidationDraft `json:"field_validations"`
}

// SaveValidations handles POST /api/projects/{pid}/sessions/{sid}/save-validations
//
// Scores the drafts against the project's current thresholds and replaces the
// session's validation rows transactionally.
func (h *PipelineHandler) SaveValidations(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	var req saveValidationsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(req.FieldValidations) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_field_validations",
			"field_validations is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	schema, err := h.schemas.GetProjectSchema(r.Context(), session.ProjectID)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	rows, err := h.validation.ValidateAndPersist(r.Context(), session.ID, schema, req.FieldValidations)
	if err != nil {
		h.logger.Error("Failed to persist validations",
			zap.String("session_id", session.ID.String()),
			zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: rows}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

func (h *PipelineHandler) sessionFromPath(w http.ResponseWriter, r *http.Request) (*models.ExtractionSession, bool) {
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
