package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
	"github.com/extractly-ai/extractly-engine/pkg/database"
	"github.com/extractly-ai/extractly-engine/pkg/models"
)

// KnowledgeRepository defines data access for knowledge documents and
// extraction rules, the auxiliary inputs to prompt compilation.
type KnowledgeRepository interface {
	CreateDocument(ctx context.Context, doc *models.KnowledgeDocument) error
	DeleteDocument(ctx context.Context, id uuid.UUID) error
	ListDocuments(ctx context.Context, projectID uuid.UUID) ([]models.KnowledgeDocument, error)

	CreateRule(ctx context.Context, rule *models.ExtractionRule) error
	UpdateRule(ctx context.Context, rule *models.ExtractionRule) error
	DeleteRule(ctx context.Context, id uuid.UUID) error
	ListRules(ctx context.Context, projectID uuid.UUID) ([]models.ExtractionRule, error)
}

type knowledgeRepository struct {
	db *database.DB
}

// NewKnowledgeRepository creates a new knowledge repository.
func NewKnowledgeRepository(db *database.DB) KnowledgeRepository {
	return &knowledgeRepository{db: db}
}

func (r *knowledgeRepository) CreateDocument(ctx context.Context, doc *models.KnowledgeDocument) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	now := time.Now()
	doc.CreatedAt = now
	doc.UpdatedAt = now

	query := `
		INSERT INTO engine_knowledge_documents
			(id, project_id, display_name, content, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := r.db.Exec(ctx, query,
		doc.ID, doc.ProjectID, doc.DisplayName, doc.Content, doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create knowledge document: %w", err)
	}
	return nil
}

func (r *knowledgeRepository) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM engine_knowledge_documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete knowledge document: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *knowledgeRepository) ListDocuments(ctx context.Context, projectID uuid.UUID) ([]models.KnowledgeDocument, error) {
	query := `
		SELECT id, project_id, display_name, content, created_at, updated_at
		FROM engine_knowledge_documents
		WHERE project_id = $1
		ORDER BY display_name`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list knowledge documents: %w", err)
	}
	defer rows.Close()

	var docs []models.KnowledgeDocument
	for rows.Next() {
		var d models.KnowledgeDocument
		err := rows.Scan(&d.ID, &d.ProjectID, &d.DisplayName, &d.Content, &d.CreatedAt, &d.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan knowledge document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *knowledgeRepository) CreateRule(ctx context.Context, rule *models.ExtractionRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	targets, err := marshalTargets(rule.TargetPropertyIDs)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_extraction_rules
			(id, project_id, rule_name, rule_content, target_property_ids,
			 is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		rule.ID, rule.ProjectID, rule.RuleName, rule.RuleContent, targets,
		rule.IsActive, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create extraction rule: %w", err)
	}
	return nil
}

func (r *knowledgeRepository) UpdateRule(ctx context.Context, rule *models.ExtractionRule) error {
	rule.UpdatedAt = time.Now()

	targets, err := marshalTargets(rule.TargetPropertyIDs)
	if err != nil {
		return err
	}

	query := `
		UPDATE engine_extraction_rules
		SET rule_name = $2, rule_content = $3, target_property_ids = $4,
		    is_active = $5, updated_at = $6
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		rule.ID, rule.RuleName, rule.RuleContent, targets, rule.IsActive, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update extraction rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *knowledgeRepository) DeleteRule(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM engine_extraction_rules WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete extraction rule: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *knowledgeRepository) ListRules(ctx context.Context, projectID uuid.UUID) ([]models.ExtractionRule, error) {
	query := `
		SELECT id, project_id, rule_name, rule_content, target_property_ids,
		       is_active, created_at, updated_at
		FROM engine_extraction_rules
		WHERE project_id = $1
		ORDER BY rule_name`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list extraction rules: %w", err)
	}
	defer rows.Close()

	var rules []models.ExtractionRule
	for rows.Next() {
		var rule models.ExtractionRule
		var targets []byte
		err := rows.Scan(&rule.ID, &rule.ProjectID, &rule.RuleName, &rule.RuleContent,
			&targets, &rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan extraction rule: %w", err)
		}
		if len(targets) > 0 {
			if err := json.Unmarshal(targets, &rule.TargetPropertyIDs); err != nil {
				return nil, fmt.Errorf("failed to unmarshal rule targets: %w", err)
			}
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func marshalTargets(ids []uuid.UUID) ([]byte, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rule targets: %w", err)
	}
	return data, nil
}

var _ KnowledgeRepository = (*knowledgeRepository)(nil)
