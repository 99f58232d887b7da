package models

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionRule is an organization-authored instruction injected into the
// extraction prompt. A rule with no target property IDs is global; otherwise
// it applies only to the listed fields/properties.
// Stored in engine_extraction_rules.
type ExtractionRule struct {
	ID                uuid.UUID   `json:"id"`
	ProjectID         uuid.UUID   `json:"project_id"`
	RuleName          string      `json:"rule_name"`
	RuleContent       string      `json:"rule_content"`
	TargetPropertyIDs []uuid.UUID `json:"target_property_ids,omitempty"`
	IsActive          bool        `json:"is_active"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// AppliesTo reports whether the rule targets the given field or property ID.
// Empty target list means the rule is global.
func (r *ExtractionRule) AppliesTo(id uuid.UUID) bool {
	if !r.IsActive {
		return false
	}
	if len(r.TargetPropertyIDs) == 0 {
		return true
	}
	for _, t := range r.TargetPropertyIDs {
		if t == id {
			return true
		}
	}
	return false
}

// KnowledgeDocument is reference material given to the model alongside the
// documents under extraction. Stored in engine_knowledge_documents.
type KnowledgeDocument struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"project_id"`
	DisplayName string    `json:"display_name"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Project is the owning scope for schemas, sessions and rules.
type Project struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
