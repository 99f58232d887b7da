package models

import (
	"time"

	"github.com/google/uuid"
)

// ValidationStatus is the per-field outcome of extraction.
type ValidationStatus string

const (
	ValidationStatusPending  ValidationStatus = "pending"
	ValidationStatusValid    ValidationStatus = "valid"
	ValidationStatusInvalid  ValidationStatus = "invalid"
	ValidationStatusManual   ValidationStatus = "manual"
	// ValidationStatusVerified is a legacy alias still produced by older
	// sessions; the aggregator treats it the same as valid.
	ValidationStatusVerified ValidationStatus = "verified"
)

// ValidationFieldType discriminates which schema entity a validation row
// references.
type ValidationFieldType string

const (
	FieldRefSchemaField        ValidationFieldType = "schema_field"
	FieldRefCollectionProperty ValidationFieldType = "collection_property"
)

// ManualEditReasoning is recorded on rows overwritten by a human.
const ManualEditReasoning = "Manually updated by user"

// FieldValidation is the durable record of extracting one field (or one
// collection-row cell) for one session. Stored in engine_field_validations.
type FieldValidation struct {
	ID        uuid.UUID           `json:"id"`
	SessionID uuid.UUID           `json:"session_id"`
	FieldType ValidationFieldType `json:"field_type"`
	FieldID   uuid.UUID           `json:"field_id"`
	FieldName string              `json:"field_name"`

	// CollectionName and RecordIndex are set for collection_property rows.
	// RecordIndex is the 0-based position within the collection; 0 for
	// scalar fields.
	CollectionName *string `json:"collection_name,omitempty"`
	RecordIndex    int     `json:"record_index"`

	ExtractedValue   *string          `json:"extracted_value"`
	ConfidenceScore  int              `json:"confidence_score"`
	AIReasoning      string           `json:"ai_reasoning"`
	DocumentSource   string           `json:"document_source"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ManuallyVerified bool             `json:"manually_verified"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CountsAsVerified reports whether this row contributes to the "verified"
// side of progress aggregation. Manual overrides count: a human already
// looked at the value.
func (v *FieldValidation) CountsAsVerified() bool {
	switch v.ValidationStatus {
	case ValidationStatusValid, ValidationStatusVerified, ValidationStatusManual:
		return true
	}
	return false
}

// FieldValidationDraft is the loosely-typed extraction result as parsed from
// the AI response, before the validation engine checks it against the live
// schema and assigns a status. Never trusted directly.
type FieldValidationDraft struct {
	FieldType       ValidationFieldType `json:"field_type"`
	FieldID         uuid.UUID           `json:"field_id"`
	FieldName       string              `json:"field_name"`
	CollectionName  string              `json:"collection_name,omitempty"`
	RecordIndex     int                 `json:"record_index"`
	ExtractedValue  *string             `json:"extracted_value"`
	ConfidenceScore int                 `json:"confidence_score"`
	AIReasoning     string              `json:"ai_reasoning"`
	DocumentSource  string              `json:"document_source"`

	// Malformed is set when the draft could not be fully parsed (bad
	// confidence, unknown field id). The row is persisted as pending with
	// ParseError as the reasoning instead of being dropped.
	Malformed  bool   `json:"-"`
	ParseError string `json:"-"`
}

// HasValue reports whether the draft carries a non-empty extracted value.
func (d *FieldValidationDraft) HasValue() bool {
	return d.ExtractedValue != nil && *d.ExtractedValue != ""
}
