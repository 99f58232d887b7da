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

// ValidationRepository defines data access for field validation rows, the
// durable output of the extraction pipeline.
type ValidationRepository interface {
	// ReplaceForSession deletes all existing rows for the session and inserts
	// the given set in a single transaction. Re-running an extraction is
	// therefore idempotent and a crash mid-write never leaves a session
	// half-populated.
	ReplaceForSession(ctx context.Context, sessionID uuid.UUID, validations []models.FieldValidation) error

	Get(ctx context.Context, id uuid.UUID) (*models.FieldValidation, error)
	ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.FieldValidation, error)

	// Update persists status/value changes on a single row.
	Update(ctx context.Context, v *models.FieldValidation) error
}

type validationRepository struct {
	db *database.DB
}

// NewValidationRepository creates a new validation repository.
func NewValidationRepository(db *database.DB) ValidationRepository {
	return &validationRepository{db: db}
}

const validationColumns = `id, session_id, field_type, field_id, field_name,
	collection_name, record_index, extracted_value, confidence_score,
	ai_reasoning, document_source, validation_status, manually_verified,
	created_at, updated_at`

func (r *validationRepository) ReplaceForSession(ctx context.Context, sessionID uuid.UUID, validations []models.FieldValidation) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM engine_field_validations WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to clear existing validations: %w", err)
	}

	now := time.Now()
	for i := range validations {
		v := &validations[i]
		if v.ID == uuid.Nil {
			v.ID = uuid.New()
		}
		v.SessionID = sessionID
		v.CreatedAt = now
		v.UpdatedAt = now

		_, err := tx.Exec(ctx, `
			INSERT INTO engine_field_validations
				(id, session_id, field_type, field_id, field_name, collection_name,
				 record_index, extracted_value, confidence_score, ai_reasoning,
				 document_source, validation_status, manually_verified, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
			v.ID, v.SessionID, v.FieldType, v.FieldID, v.FieldName, v.CollectionName,
			v.RecordIndex, v.ExtractedValue, v.ConfidenceScore, v.AIReasoning,
			v.DocumentSource, v.ValidationStatus, v.ManuallyVerified, v.CreatedAt, v.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert validation for field %s: %w", v.FieldID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit validations: %w", err)
	}
	return nil
}

func (r *validationRepository) Get(ctx context.Context, id uuid.UUID) (*models.FieldValidation, error) {
	query := `SELECT ` + validationColumns + `
		FROM engine_field_validations
		WHERE id = $1`

	v, err := scanValidation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get validation: %w", err)
	}
	return v, nil
}

func (r *validationRepository) ListBySession(ctx context.Context, sessionID uuid.UUID) ([]models.FieldValidation, error) {
	query := `SELECT ` + validationColumns + `
		FROM engine_field_validations
		WHERE session_id = $1
		ORDER BY field_type, collection_name NULLS FIRST, record_index, field_name`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list validations: %w", err)
	}
	defer rows.Close()

	var validations []models.FieldValidation
	for rows.Next() {
		v, err := scanValidation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan validation: %w", err)
		}
		validations = append(validations, *v)
	}
	return validations, rows.Err()
}

func scanValidation(row pgx.Row) (*models.FieldValidation, error) {
	var v models.FieldValidation
	err := row.Scan(&v.ID, &v.SessionID, &v.FieldType, &v.FieldID, &v.FieldName,
		&v.CollectionName, &v.RecordIndex, &v.ExtractedValue, &v.ConfidenceScore,
		&v.AIReasoning, &v.DocumentSource, &v.ValidationStatus, &v.ManuallyVerified,
		&v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *validationRepository) Update(ctx context.Context, v *models.FieldValidation) error {
	v.UpdatedAt = time.Now()

	query := `
		UPDATE engine_field_validations
		SET extracted_value = $2, confidence_score = $3, ai_reasoning = $4,
		    validation_status = $5, manually_verified = $6, updated_at = $7
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		v.ID, v.ExtractedValue, v.ConfidenceScore, v.AIReasoning,
		v.ValidationStatus, v.ManuallyVerified, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update validation: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

var _ ValidationRepository = (*validationRepository)(nil)
