package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
)

// ApiResponse is the standard envelope for JSON responses.
type ApiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ServiceError maps a service-layer error onto the HTTP error taxonomy and
// writes the response.
func ServiceError(w http.ResponseWriter, err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return ErrorResponse(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		return ErrorResponse(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, apperrors.ErrJobAlreadyRunning):
		return ErrorResponse(w, http.StatusConflict, "job_already_running", err.Error())
	case errors.Is(err, apperrors.ErrUnsupportedFileType):
		return ErrorResponse(w, http.StatusUnsupportedMediaType, "unsupported_file_type", err.Error())
	case errors.Is(err, apperrors.ErrFileTooLarge):
		return ErrorResponse(w, http.StatusRequestEntityTooLarge, "file_too_large", err.Error())
	case errors.Is(err, apperrors.ErrStorageUnavailable):
		return ErrorResponse(w, http.StatusBadGateway, "storage_unavailable", err.Error())
	default:
		return ErrorResponse(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
