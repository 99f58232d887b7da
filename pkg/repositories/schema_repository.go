package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
	"github.com/extractly-ai/extractly-engine/pkg/database"
	"github.com/extractly-ai/extractly-engine/pkg/models"
)

// SchemaRepository defines data access for schema fields, collections and
// collection properties.
type SchemaRepository interface {
	CreateField(ctx context.Context, field *models.SchemaField) error
	UpdateField(ctx context.Context, field *models.SchemaField) error
	DeleteField(ctx context.Context, id uuid.UUID) error
	ListFields(ctx context.Context, projectID uuid.UUID) ([]models.SchemaField, error)

	CreateCollection(ctx context.Context, collection *models.Collection) error
	DeleteCollection(ctx context.Context, id uuid.UUID) error
	ListCollections(ctx context.Context, projectID uuid.UUID) ([]models.Collection, error)

	CreateProperty(ctx context.Context, property *models.Property) error
	UpdateProperty(ctx context.Context, property *models.Property) error
	DeleteProperty(ctx context.Context, id uuid.UUID) error

	// GetProjectSchema loads the full schema (fields + collections with
	// properties) in one shot for prompt compilation and validation.
	GetProjectSchema(ctx context.Context, projectID uuid.UUID) (*models.ProjectSchema, error)
}

type schemaRepository struct {
	db *database.DB
}

// NewSchemaRepository creates a new schema repository.
func NewSchemaRepository(db *database.DB) SchemaRepository {
	return &schemaRepository{db: db}
}

func (r *schemaRepository) CreateField(ctx context.Context, field *models.SchemaField) error {
	if err := field.Validate(); err != nil {
		return err
	}
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	now := time.Now()
	field.CreatedAt = now
	field.UpdatedAt = now

	choices, err := marshalChoices(field.ChoiceOptions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_schema_fields
			(id, project_id, field_name, field_type, description, choice_options,
			 auto_verification_confidence, order_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err = r.db.Exec(ctx, query,
		field.ID, field.ProjectID, field.FieldName, field.FieldType, field.Description,
		choices, field.AutoVerificationConfidence, field.OrderIndex,
		field.CreatedAt, field.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create schema field: %w", err)
	}
	return nil
}

func (r *schemaRepository) UpdateField(ctx context.Context, field *models.SchemaField) error {
	if err := field.Validate(); err != nil {
		return err
	}
	field.UpdatedAt = time.Now()

	choices, err := marshalChoices(field.ChoiceOptions)
	if err != nil {
		return err
	}

	query := `
		UPDATE engine_schema_fields
		SET field_name = $2, field_type = $3, description = $4, choice_options = $5,
		    auto_verification_confidence = $6, order_index = $7, updated_at = $8
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		field.ID, field.FieldName, field.FieldType, field.Description,
		choices, field.AutoVerificationConfidence, field.OrderIndex, field.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update schema field: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *schemaRepository) DeleteField(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM engine_schema_fields WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete schema field: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *schemaRepository) ListFields(ctx context.Context, projectID uuid.UUID) ([]models.SchemaField, error) {
	query := `
		SELECT id, project_id, field_name, field_type, description, choice_options,
		       auto_verification_confidence, order_index, created_at, updated_at
		FROM engine_schema_fields
		WHERE project_id = $1
		ORDER BY order_index, field_name`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list schema fields: %w", err)
	}
	defer rows.Close()

	var fields []models.SchemaField
	for rows.Next() {
		f, err := scanSchemaField(rows)
		if err != nil {
			return nil, err
		}
		fields = append(fields, *f)
	}
	return fields, rows.Err()
}

func scanSchemaField(row pgx.Row) (*models.SchemaField, error) {
	var f models.SchemaField
	var choices []byte
	err := row.Scan(&f.ID, &f.ProjectID, &f.FieldName, &f.FieldType, &f.Description,
		&choices, &f.AutoVerificationConfidence, &f.OrderIndex, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan schema field: %w", err)
	}
	if err := unmarshalChoices(choices, &f.ChoiceOptions); err != nil {
		return nil, err
	}
	return &f, nil
}

func (r *schemaRepository) CreateCollection(ctx context.Context, collection *models.Collection) error {
	if err := collection.Validate(); err != nil {
		return err
	}
	if collection.ID == uuid.Nil {
		collection.ID = uuid.New()
	}
	now := time.Now()
	collection.CreatedAt = now
	collection.UpdatedAt = now

	query := `
		INSERT INTO engine_collections
			(id, project_id, collection_name, description, order_index, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		collection.ID, collection.ProjectID, collection.CollectionName,
		collection.Description, collection.OrderIndex, collection.CreatedAt, collection.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	for i := range collection.Properties {
		collection.Properties[i].CollectionID = collection.ID
		if err := r.CreateProperty(ctx, &collection.Properties[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *schemaRepository) DeleteCollection(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM engine_collections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *schemaRepository) ListCollections(ctx context.Context, projectID uuid.UUID) ([]models.Collection, error) {
	query := `
		SELECT id, project_id, collection_name, description, order_index, created_at, updated_at
		FROM engine_collections
		WHERE project_id = $1
		ORDER BY order_index, collection_name`

	rows, err := r.db.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var collections []models.Collection
	for rows.Next() {
		var c models.Collection
		err := rows.Scan(&c.ID, &c.ProjectID, &c.CollectionName, &c.Description,
			&c.OrderIndex, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range collections {
		props, err := r.listProperties(ctx, collections[i].ID)
		if err != nil {
			return nil, err
		}
		collections[i].Properties = props
	}
	return collections, nil
}

func (r *schemaRepository) CreateProperty(ctx context.Context, property *models.Property) error {
	if err := property.Validate(); err != nil {
		return err
	}
	if property.ID == uuid.Nil {
		property.ID = uuid.New()
	}

	choices, err := marshalChoices(property.ChoiceOptions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO engine_collection_properties
			(id, collection_id, property_name, property_type, description,
			 choice_options, auto_verification_confidence, order_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = r.db.Exec(ctx, query,
		property.ID, property.CollectionID, property.PropertyName, property.PropertyType,
		property.Description, choices, property.AutoVerificationConfidence, property.OrderIndex)
	if err != nil {
		return fmt.Errorf("failed to create collection property: %w", err)
	}
	return nil
}

func (r *schemaRepository) UpdateProperty(ctx context.Context, property *models.Property) error {
	if err := property.Validate(); err != nil {
		return err
	}

	choices, err := marshalChoices(property.ChoiceOptions)
	if err != nil {
		return err
	}

	query := `
		UPDATE engine_collection_properties
		SET property_name = $2, property_type = $3, description = $4,
		    choice_options = $5, auto_verification_confidence = $6, order_index = $7
		WHERE id = $1`

	result, err := r.db.Exec(ctx, query,
		property.ID, property.PropertyName, property.PropertyType, property.Description,
		choices, property.AutoVerificationConfidence, property.OrderIndex)
	if err != nil {
		return fmt.Errorf("failed to update collection property: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *schemaRepository) DeleteProperty(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.Exec(ctx, `DELETE FROM engine_collection_properties WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete collection property: %w", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *schemaRepository) listProperties(ctx context.Context, collectionID uuid.UUID) ([]models.Property, error) {
	query := `
		SELECT id, collection_id, property_name, property_type, description,
		       choice_options, auto_verification_confidence, order_index
		FROM engine_collection_properties
		WHERE collection_id = $1
		ORDER BY order_index, property_name`

	rows, err := r.db.Query(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collection properties: %w", err)
	}
	defer rows.Close()

	var props []models.Property
	for rows.Next() {
		var p models.Property
		var choices []byte
		err := rows.Scan(&p.ID, &p.CollectionID, &p.PropertyName, &p.PropertyType,
			&p.Description, &choices, &p.AutoVerificationConfidence, &p.OrderIndex)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection property: %w", err)
		}
		if err := unmarshalChoices(choices, &p.ChoiceOptions); err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, rows.Err()
}

func (r *schemaRepository) GetProjectSchema(ctx context.Context, projectID uuid.UUID) (*models.ProjectSchema, error) {
	fields, err := r.ListFields(ctx, projectID)
	if err != nil {
		return nil, err
	}
	collections, err := r.ListCollections(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &models.ProjectSchema{Fields: fields, Collections: collections}, nil
}

func marshalChoices(choices []string) ([]byte, error) {
	if len(choices) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(choices)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal choice options: %w", err)
	}
	return data, nil
}

func unmarshalChoices(data []byte, dst *[]string) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to unmarshal choice options: %w", err)
	}
	return nil
}

var _ SchemaRepository = (*schemaRepository)(nil)
