package apperrors

import "errors"

var (
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrUnsupportedFileType   = errors.New("unsupported file type")
	ErrFileTooLarge          = errors.New("file too large")
	ErrExtractionParse       = errors.New("malformed AI extraction response")
	ErrEmptyExtractionResult = errors.New("AI response contained no field validations")
	ErrSchemaMismatch        = errors.New("extraction references a field not in the schema")
	ErrJobAlreadyRunning     = errors.New("extraction job already running for session")
	// ErrJobTimeout marks a client-side poll budget running out. The server
	// never cancels a job for it; the job keeps running to a terminal stage.
	ErrJobTimeout         = errors.New("extraction job poll budget exceeded")
	ErrStorageUnavailable = errors.New("object storage unavailable")
)
