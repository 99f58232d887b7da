package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FieldType enumerates the data types a schema field or collection property
// can declare.
type FieldType string

const (
	FieldTypeText     FieldType = "TEXT"
	FieldTypeNumber   FieldType = "NUMBER"
	FieldTypeDate     FieldType = "DATE"
	FieldTypeBoolean  FieldType = "BOOLEAN"
	FieldTypeTextarea FieldType = "TEXTAREA"
	FieldTypeChoice   FieldType = "CHOICE"
)

// DefaultAutoVerificationConfidence is applied when a field does not declare
// its own threshold.
const DefaultAutoVerificationConfidence = 80

// validFieldTypes is the closed set accepted by Validate.
var validFieldTypes = map[FieldType]bool{
	FieldTypeText:     true,
	FieldTypeNumber:   true,
	FieldTypeDate:     true,
	FieldTypeBoolean:  true,
	FieldTypeTextarea: true,
	FieldTypeChoice:   true,
}

// SchemaField is a flat, non-repeating field of a project's extraction schema.
// Stored in engine_schema_fields.
type SchemaField struct {
	ID                         uuid.UUID `json:"id"`
	ProjectID                  uuid.UUID `json:"project_id"`
	FieldName                  string    `json:"field_name"`
	FieldType                  FieldType `json:"field_type"`
	Description                string    `json:"description"`
	ChoiceOptions              []string  `json:"choice_options,omitempty"`
	AutoVerificationConfidence int       `json:"auto_verification_confidence"`
	OrderIndex                 int       `json:"order_index"`
	CreatedAt                  time.Time `json:"created_at"`
	UpdatedAt                  time.Time `json:"updated_at"`
}

// Validate checks structural invariants of the field definition.
func (f *SchemaField) Validate() error {
	if f.FieldName == "" {
		return fmt.Errorf("field_name is required")
	}
	if !validFieldTypes[f.FieldType] {
		return fmt.Errorf("invalid field_type %q", f.FieldType)
	}
	if f.FieldType == FieldTypeChoice && len(f.ChoiceOptions) == 0 {
		return fmt.Errorf("CHOICE field %q requires choice_options", f.FieldName)
	}
	if f.AutoVerificationConfidence < 0 || f.AutoVerificationConfidence > 100 {
		return fmt.Errorf("auto_verification_confidence must be 0-100, got %d", f.AutoVerificationConfidence)
	}
	return nil
}

// Collection is a repeating record type (e.g. "Risks"); its properties are
// the columns of each record. Stored in engine_collections.
type Collection struct {
	ID             uuid.UUID  `json:"id"`
	ProjectID      uuid.UUID  `json:"project_id"`
	CollectionName string     `json:"collection_name"`
	Description    string     `json:"description"`
	OrderIndex     int        `json:"order_index"`
	Properties     []Property `json:"properties"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Validate checks the collection and all owned properties.
func (c *Collection) Validate() error {
	if c.CollectionName == "" {
		return fmt.Errorf("collection_name is required")
	}
	for i := range c.Properties {
		if err := c.Properties[i].Validate(); err != nil {
			return fmt.Errorf("property %d: %w", i, err)
		}
	}
	return nil
}

// Property is one column of a collection record.
// Stored in engine_collection_properties.
type Property struct {
	ID                         uuid.UUID `json:"id"`
	CollectionID               uuid.UUID `json:"collection_id"`
	PropertyName               string    `json:"property_name"`
	PropertyType               FieldType `json:"property_type"`
	Description                string    `json:"description"`
	ChoiceOptions              []string  `json:"choice_options,omitempty"`
	AutoVerificationConfidence int       `json:"auto_verification_confidence"`
	OrderIndex                 int       `json:"order_index"`
}

// Validate checks structural invariants of the property definition.
func (p *Property) Validate() error {
	if p.PropertyName == "" {
		return fmt.Errorf("property_name is required")
	}
	if !validFieldTypes[p.PropertyType] {
		return fmt.Errorf("invalid property_type %q", p.PropertyType)
	}
	if p.PropertyType == FieldTypeChoice && len(p.ChoiceOptions) == 0 {
		return fmt.Errorf("CHOICE property %q requires choice_options", p.PropertyName)
	}
	if p.AutoVerificationConfidence < 0 || p.AutoVerificationConfidence > 100 {
		return fmt.Errorf("auto_verification_confidence must be 0-100, got %d", p.AutoVerificationConfidence)
	}
	return nil
}

// ProjectSchema bundles everything the prompt compiler and validation engine
// need to know about a project's extraction schema.
type ProjectSchema struct {
	Fields      []SchemaField `json:"fields"`
	Collections []Collection  `json:"collections"`
}

// FieldByID looks up a flat schema field.
func (s *ProjectSchema) FieldByID(id uuid.UUID) (*SchemaField, bool) {
	for i := range s.Fields {
		if s.Fields[i].ID == id {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// PropertyByID looks up a collection property and its owning collection.
func (s *ProjectSchema) PropertyByID(id uuid.UUID) (*Property, *Collection, bool) {
	for i := range s.Collections {
		for j := range s.Collections[i].Properties {
			if s.Collections[i].Properties[j].ID == id {
				return &s.Collections[i].Properties[j], &s.Collections[i], true
			}
		}
	}
	return nil, nil, false
}
