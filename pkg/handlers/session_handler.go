package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
	"github.com/extractly-ai/extractly-engine/pkg/docext"
	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
	"github.com/extractly-ai/extractly-engine/pkg/storage"
)

// SessionHandler handles extraction session and document upload requests.
type SessionHandler struct {
	sessions     repositories.SessionRepository
	projects     repositories.ProjectRepository
	blobs        storage.BlobStore
	maxFileSize  int64
	signedURLTTL time.Duration
	logger       *zap.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(
	sessions repositories.SessionRepository,
	projects repositories.ProjectRepository,
	blobs storage.BlobStore,
	maxFileSize int64,
	signedURLTTL time.Duration,
	logger *zap.Logger,
) *SessionHandler {
	return &SessionHandler{
		sessions:     sessions,
		projects:     projects,
		blobs:        blobs,
		maxFileSize:  maxFileSize,
		signedURLTTL: signedURLTTL,
		logger:       logger,
	}
}

// RegisterRoutes registers the session handler's routes on the given mux.
func (h *SessionHandler) RegisterRoutes(mux *http.ServeMux) {
	base := "/api/projects/{pid}/sessions"

	mux.HandleFunc("POST "+base, h.CreateSession)
	mux.HandleFunc("GET "+base, h.ListSessions)
	mux.HandleFunc("GET "+base+"/{sid}", h.GetSession)
	mux.HandleFunc("DELETE "+base+"/{sid}", h.DeleteSession)
	mux.HandleFunc("POST "+base+"/{sid}/documents", h.UploadDocument)
	mux.HandleFunc("POST "+base+"/{sid}/documents/upload-url", h.CreateUploadURL)
	mux.HandleFunc("GET "+base+"/{sid}/documents", h.ListDocuments)
	mux.HandleFunc("GET "+base+"/{sid}/documents/{doc_id}/download-url", h.CreateDownloadURL)
}

type createSessionRequest struct {
	SessionName string `json:"session_name"`
	Description string `json:"description"`
}

// CreateSession handles POST /api/projects/{pid}/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	projectID, ok := ParseProjectID(w, r, h.logger)
	if !ok {
		return
	}

	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.SessionName == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_session_name", "Session name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if _, err := h.projects.Get(r.Context(), projectID); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	session := &models.ExtractionSession{
		ProjectID:   projectID,
		SessionName: req.SessionName,
		Description: req.Description,
		Status:      models.SessionStatusPending,
		JobStage:    models.JobStagePending,
	}
	if err := h.sessions.Create(r.Context(), session); err != nil {
		h.logger.Error("Failed to create session", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: session}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListSessions handles GET /api/projects/{pid}/sessions
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
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

	if sessions == nil {
		sessions = make([]models.ExtractionSession, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: sessions}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// GetSession handles GET /api/projects/{pid}/sessions/{sid}
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: session}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// DeleteSession handles DELETE /api/projects/{pid}/sessions/{sid}
func (h *SessionHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	if err := h.sessions.Delete(r.Context(), session.ID); err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Message: "Session deleted"}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// UploadDocument handles POST /api/projects/{pid}/sessions/{sid}/documents
//
// Accepts a single multipart file field named "file", stores the bytes in the
// blob store and records the document metadata on the session. Unsupported
// extensions and oversize files are rejected before anything is written.
func (h *SessionHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	// Reject restart-after-start uploads: documents are fixed once the job runs.
	if session.JobStage != models.JobStagePending {
		if err := ErrorResponse(w, http.StatusConflict, "session_started",
			"Documents cannot be added after extraction has started"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize+1024*1024)
	file, header, err := r.FormFile("file")
	if err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_upload", "Expected multipart field 'file'"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	defer file.Close()

	if !docext.Supported(header.Filename) {
		err := fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFileType, path.Ext(header.Filename))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if header.Size > h.maxFileSize {
		err := fmt.Errorf("%w: %s is %d bytes (limit %d)",
			apperrors.ErrFileTooLarge, header.Filename, header.Size, h.maxFileSize)
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		h.logger.Error("Failed to read upload", zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_upload", "Failed to read uploaded file"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := &models.SessionDocument{
		ID:        uuid.New(),
		SessionID: session.ID,
		FileName:  header.Filename,
		FileSize:  int64(len(data)),
		MIMEType:  contentType,
	}
	doc.StorageKey = documentStorageKey(session.ID, doc.ID, header.Filename)

	if err := h.blobs.Upload(r.Context(), doc.StorageKey, data, contentType); err != nil {
		h.logger.Error("Failed to store document",
			zap.String("session_id", session.ID.String()),
			zap.String("file_name", header.Filename),
			zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.sessions.AddDocument(r.Context(), doc); err != nil {
		h.logger.Error("Failed to record document", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: doc}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type uploadURLRequest struct {
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

type uploadURLResponse struct {
	Document  *models.SessionDocument `json:"document"`
	UploadURL string                  `json:"upload_url"`
	ExpiresIn int64                   `json:"expires_in_seconds"`
}

// CreateUploadURL handles POST /api/projects/{pid}/sessions/{sid}/documents/upload-url
//
// Registers the document and returns a signed URL the client PUTs the bytes
// to directly, bypassing the engine for large files.
func (h *SessionHandler) CreateUploadURL(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	if session.JobStage != models.JobStagePending {
		if err := ErrorResponse(w, http.StatusConflict, "session_started",
			"Documents cannot be added after extraction has started"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var req uploadURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if req.FileName == "" {
		if err := ErrorResponse(w, http.StatusBadRequest, "missing_file_name", "file_name is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if !docext.Supported(req.FileName) {
		err := fmt.Errorf("%w: %s", apperrors.ErrUnsupportedFileType, path.Ext(req.FileName))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if req.FileSize > h.maxFileSize {
		err := fmt.Errorf("%w: %s is %d bytes (limit %d)",
			apperrors.ErrFileTooLarge, req.FileName, req.FileSize, h.maxFileSize)
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc := &models.SessionDocument{
		ID:        uuid.New(),
		SessionID: session.ID,
		FileName:  req.FileName,
		FileSize:  req.FileSize,
		MIMEType:  contentType,
	}
	doc.StorageKey = documentStorageKey(session.ID, doc.ID, req.FileName)

	uploadURL, err := h.blobs.UploadURL(r.Context(), doc.StorageKey, contentType, h.signedURLTTL)
	if err != nil {
		h.logger.Error("Failed to create upload URL", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := h.sessions.AddDocument(r.Context(), doc); err != nil {
		h.logger.Error("Failed to record document", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusCreated, ApiResponse{Success: true, Data: uploadURLResponse{
		Document:  doc,
		UploadURL: uploadURL,
		ExpiresIn: int64(h.signedURLTTL.Seconds()),
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// ListDocuments handles GET /api/projects/{pid}/sessions/{sid}/documents
func (h *SessionHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	docs, err := h.sessions.ListDocuments(r.Context(), session.ID)
	if err != nil {
		h.logger.Error("Failed to list documents", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if docs == nil {
		docs = make([]models.SessionDocument, 0)
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: docs}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

type downloadURLResponse struct {
	DownloadURL string `json:"download_url"`
	ExpiresIn   int64  `json:"expires_in_seconds"`
}

// CreateDownloadURL handles GET /api/projects/{pid}/sessions/{sid}/documents/{doc_id}/download-url
func (h *SessionHandler) CreateDownloadURL(w http.ResponseWriter, r *http.Request) {
	session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	docID, ok := parseUUID(w, r, "doc_id", h.logger)
	if !ok {
		return
	}

	docs, err := h.sessions.ListDocuments(r.Context(), session.ID)
	if err != nil {
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	var doc *models.SessionDocument
	for i := range docs {
		if docs[i].ID == docID {
			doc = &docs[i]
			break
		}
	}
	if doc == nil {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Document not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	downloadURL, err := h.blobs.SignedDownloadURL(r.Context(), doc.StorageKey, h.signedURLTTL)
	if err != nil {
		h.logger.Error("Failed to create download URL", zap.Error(err))
		if err := ServiceError(w, err); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	if err := WriteJSON(w, http.StatusOK, ApiResponse{Success: true, Data: downloadURLResponse{
		DownloadURL: downloadURL,
		ExpiresIn:   int64(h.signedURLTTL.Seconds()),
	}}); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// sessionFromPath loads the session addressed by {pid}/{sid}, enforcing that
// the session actually belongs to the addressed project.
func (h *SessionHandler) sessionFromPath(w http.ResponseWriter, r *http.Request) (*models.ExtractionSession, bool) {
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

func documentStorageKey(sessionID, docID uuid.UUID, fileName string) string {
	return fmt.Sprintf("sessions/%s/%s/%s", sessionID, docID, path.Base(fileName))
}
