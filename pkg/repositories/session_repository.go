package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
	"github.com/extractly-ai/extractly-engine/pkg/database"
	"github.com/extractly-ai/extractly-engine/pkg/models"
)

// SessionRepository defines data access for extraction sessions and the
// documents attached to them.
type SessionRepository interface {
	Create(ctx context.Context, session *models.ExtractionSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.ExtractionSession, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.ExtractionSession, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// UpdateStage advances the job stage and mirrors it onto the session
	// status for cheap polling.
	UpdateStage(ctx context.Context, id uuid.UUID, stage models.JobStage) error

	// MarkFailed records the failing stage and reason and moves the session
	// to the failed terminal state.
	MarkFailed(ctx context.Context, id uuid.UUID, failedStage models.JobStage, reason string) error

	UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error
	SetExtractedData(ctx context.Context, id uuid.UUID, data []byte) error

	AddDocument(ctx context.Context, doc *models.SessionDocument) error
	ListDocuments(ctx context.Context, sessionID uuid.UUID) ([]models.SessionDocument, error)
}

type sessionRepository struct {
	db *database.DB
}

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepository{db: db}
}

const sessionColumns = `id, project_id, session_name, description, document_count,
	status, extracted_data, job_stage, failed_stage, failure_reason, created_at, updated_at`

func (r *sessionRepository) Create(ctx context.Context, session *models.ExtractionSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	now := time.Now()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Status == "" {
		session.Status = models.SessionStatusPending
	}
	if session.JobStage == "" {
		session.JobStage = models.JobStagePending
	}

	query := `
		INSERT INTO engine_extraction_sessions
			(id, project_id, session_name, description, document_count, status,
			 extracted_data, job_stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		session.ID, session.ProjectID, session.SessionName, session.Description,
		session.DocumentCount, session.Status, []byte(session.ExtractedData),
		session.JobStage, session.CreatedAt, session.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *sessionRepository) Get(ctx context.Context, id uuid.UUID) (*models.ExtractionSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM engine_extraction_sessions
		WHERE id = $1`

	s, err := scanSession(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

func (r *sessionRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.ExtractionSession, error) {
	query := `SELECT ` + sessionColumns + `
		FROM engine_extraction_sessions
		WHERE project_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []models.ExtractionSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

func scanSession(row pgx.Row) (*models.ExtractionSession, error) {
	var s models.ExtractionSession
	var extracted []byte
	err := row.Scan(&s.ID, &s.ProjectID, &s.SessionName, &s.Description,
		&s.DocumentCount, &s.Status, &extracted, &s.JobStage,
		&s.FailedStage, &s.FailureReason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	s.ExtractedData = extracted
	return &s, nil
}

func (r *sessionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM engine_extraction_sessions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sessionRepository) UpdateStage(ctx context.Context, id uuid.UUID, stage models.JobStage) error {
	status := stageToStatus(stage)
	query := `
		UPDATE engine_extraction_sessions
		SET job_stage = $2, status = $3, updated_at = now()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, stage, status)
	if err != nil {
		return fmt.Errorf("failed to update session stage: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sessionRepository) MarkFailed(ctx context.Context, id uuid.UUID, failedStage models.JobStage, reason string) error {
	query := `
		UPDATE engine_extraction_sessions
		SET job_stage = 'failed', status = 'failed', failed_stage = $2,
		    failure_reason = $3, updated_at = now()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, failedStage, reason)
	if err != nil {
		return fmt.Errorf("failed to mark session failed: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sessionRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error {
	query := `
		UPDATE engine_extraction_sessions
		SET status = $2, updated_at = now()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, status)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sessionRepository) SetExtractedData(ctx context.Context, id uuid.UUID, data []byte) error {
	query := `
		UPDATE engine_extraction_sessions
		SET extracted_data = $2, updated_at = now()
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, data)
	if err != nil {
		return fmt.Errorf("failed to set extracted data: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *sessionRepository) AddDocument(ctx context.Context, doc *models.SessionDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.CreatedAt = time.Now()

	query := `
		INSERT INTO engine_session_documents
			(id, session_id, file_name, file_size, mime_type, storage_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		doc.ID, doc.SessionID, doc.FileName, doc.FileSize, doc.MIMEType,
		doc.StorageKey, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to add session document: %w", err)
	}

	_, err = r.db.Exec(ctx, `
		UPDATE engine_extraction_sessions
		SET document_count = document_count + 1, updated_at = now()
		WHERE id = $1`, doc.SessionID)
	if err != nil {
		return fmt.Errorf("failed to bump document count: %w", err)
	}
	return nil
}

func (r *sessionRepository) ListDocuments(ctx context.Context, sessionID uuid.UUID) ([]models.SessionDocument, error) {
	query := `
		SELECT id, session_id, file_name, file_size, mime_type, storage_key, created_at
		FROM engine_session_documents
		WHERE session_id = $1
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list session documents: %w", err)
	}
	defer rows.Close()

	var docs []models.SessionDocument
	for rows.Next() {
		var d models.SessionDocument
		err := rows.Scan(&d.ID, &d.SessionID, &d.FileName, &d.FileSize,
			&d.MIMEType, &d.StorageKey, &d.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// stageToStatus mirrors a pipeline stage onto the coarse session status.
func stageToStatus(stage models.JobStage) models.SessionStatus {
	switch stage {
	case models.JobStagePending:
		return models.SessionStatusPending
	case models.JobStageComplete:
		return models.SessionStatusCompleted
	case models.JobStageFailed:
		return models.SessionStatusFailed
	default:
		return models.SessionStatusProcessing
	}
}

var _ SessionRepository = (*sessionRepository)(nil)
