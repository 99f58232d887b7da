package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus is the lifecycle status of an extraction session. It mirrors
// the job runner's current stage so pollers never need to re-derive state from
// validation rows.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusInProgress SessionStatus = "in_progress"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusVerified   SessionStatus = "verified"
	SessionStatusFailed     SessionStatus = "failed"
)

// ExtractionSession is one extraction run over a batch of uploaded documents
// against a project's schema. Stored in engine_extraction_sessions.
type ExtractionSession struct {
	ID            uuid.UUID       `json:"id"`
	ProjectID     uuid.UUID       `json:"project_id"`
	SessionName   string          `json:"session_name"`
	Description   string          `json:"description"`
	DocumentCount int             `json:"document_count"`
	Status        SessionStatus   `json:"status"`
	ExtractedData json.RawMessage `json:"extracted_data,omitempty"`

	// Job runner bookkeeping. JobStage tracks the pipeline stage; on failure
	// FailedStage names the stage that broke and FailureReason carries the
	// user-facing message.
	JobStage      JobStage  `json:"job_stage"`
	FailedStage   *JobStage `json:"failed_stage,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SessionDocument is one uploaded file attached to a session. The bytes live
// in object storage under StorageKey; only metadata is persisted here.
type SessionDocument struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	FileName   string    `json:"file_name"`
	FileSize   int64     `json:"file_size"`
	MIMEType   string    `json:"mime_type"`
	StorageKey string    `json:"storage_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// JobStage is a stage of the background extraction pipeline.
type JobStage string

const (
	JobStagePending         JobStage = "pending"
	JobStageUploading       JobStage = "uploading"
	JobStageTextExtraction  JobStage = "text_extraction"
	JobStageAIExtraction    JobStage = "ai_extraction"
	JobStageFieldValidation JobStage = "field_validation"
	JobStageComplete        JobStage = "complete"
	JobStageFailed          JobStage = "failed"
)

// Terminal reports whether the stage is absorbing: no further transitions.
func (s JobStage) Terminal() bool {
	return s == JobStageComplete || s == JobStageFailed
}

// JobStatus is the pollable view of a session's extraction job.
type JobStatus struct {
	SessionID     uuid.UUID `json:"session_id"`
	Stage         JobStage  `json:"document_extraction_status"`
	FailedStage   *JobStage `json:"failed_stage,omitempty"`
	FailureReason *string   `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}
