package services

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
)

// ValidationService assigns validation statuses to extraction drafts against
// per-field confidence thresholds, persists them, and handles manual edits
// and threshold re-evaluation.
type ValidationService interface {
	// ValidateAndPersist converts drafts into FieldValidation rows and
	// replaces the session's validation set transactionally.
	ValidateAndPersist(ctx context.Context, sessionID uuid.UUID, schema *models.ProjectSchema, drafts []models.FieldValidationDraft) ([]models.FieldValidation, error)

	// ApplyManualEdit overwrites a validation's value with a human-supplied
	// one. Manual edits are always accepted.
	ApplyManualEdit(ctx context.Context, validationID uuid.UUID, value *string) (*models.FieldValidation, error)

	// ReevaluateSession re-runs status assignment against current thresholds
	// without calling the AI. Manually edited rows are left untouched.
	ReevaluateSession(ctx context.Context, sessionID uuid.UUID, schema *models.ProjectSchema) ([]models.FieldValidation, error)
}

type validationService struct {
	repo   repositories.ValidationRepository
	logger *zap.Logger
}

// NewValidationService creates a new validation service.
func NewValidationService(repo repositories.ValidationRepository, logger *zap.Logger) ValidationService {
	return &validationService{
		repo:   repo,
		logger: logger.Named("validation-service"),
	}
}

var _ ValidationService = (*validationService)(nil)

// AssignStatus determines the validation status for a draft given the field's
// auto-verification threshold. An empty value is always pending regardless of
// score; otherwise the score meets the threshold or it doesn't.
func AssignStatus(draft *models.FieldValidationDraft, threshold int) models.ValidationStatus {
	if !draft.HasValue() {
		return models.ValidationStatusPending
	}
	if draft.ConfidenceScore >= threshold {
		return models.ValidationStatusValid
	}
	return models.ValidationStatusInvalid
}

// schemaRef is the schema-side identity of a draft's target field. The live
// schema, not the wire, decides whether an ID names a flat field or a
// collection property, and what its threshold is.
type schemaRef struct {
	threshold      int
	fieldType      models.ValidationFieldType
	fieldName      string
	collectionName string
}

// resolveSchemaRef looks a draft's field_id up in the live schema at
// evaluation time, so admin threshold edits take effect without
// re-extraction.
func resolveSchemaRef(schema *models.ProjectSchema, fieldID uuid.UUID) (schemaRef, bool) {
	if f, ok := schema.FieldByID(fieldID); ok {
		return schemaRef{
			threshold: f.AutoVerificationConfidence,
			fieldType: models.FieldRefSchemaField,
			fieldName: f.FieldName,
		}, true
	}
	if p, c, ok := schema.PropertyByID(fieldID); ok {
		return schemaRef{
			threshold:      p.AutoVerificationConfidence,
			fieldType:      models.FieldRefCollectionProperty,
			fieldName:      p.PropertyName,
			collectionName: c.CollectionName,
		}, true
	}
	return schemaRef{}, false
}

func thresholdFor(schema *models.ProjectSchema, fieldID uuid.UUID) (int, bool) {
	ref, ok := resolveSchemaRef(schema, fieldID)
	if !ok {
		return models.DefaultAutoVerificationConfidence, false
	}
	return ref.threshold, true
}

func (s *validationService) ValidateAndPersist(ctx context.Context, sessionID uuid.UUID, schema *models.ProjectSchema, drafts []models.FieldValidationDraft) ([]models.FieldValidation, error) {
	normalizeRecordIndexes(drafts)

	validations := make([]models.FieldValidation, 0, len(drafts))
	for i := range drafts {
		validations = append(validations, s.toValidation(sessionID, schema, &drafts[i]))
	}
	validations = s.dedupeValidations(validations)

	if err := s.repo.ReplaceForSession(ctx, sessionID, validations); err != nil {
		return nil, fmt.Errorf("persist validations: %w", err)
	}

	s.logger.Info("session validations persisted",
		zap.String("session_id", sessionID.String()),
		zap.Int("count", len(validations)))
	return validations, nil
}

// toValidation builds the durable row for one draft. Malformed drafts are
// parked as pending with the parse error recorded as reasoning; they must
// surface to a human rather than silently disappear.
func (s *validationService) toValidation(sessionID uuid.UUID, schema *models.ProjectSchema, draft *models.FieldValidationDraft) models.FieldValidation {
	v := models.FieldValidation{
		SessionID:       sessionID,
		FieldType:       draft.FieldType,
		FieldID:         draft.FieldID,
		FieldName:       draft.FieldName,
		RecordIndex:     draft.RecordIndex,
		ExtractedValue:  draft.ExtractedValue,
		ConfidenceScore: draft.ConfidenceScore,
		AIReasoning:     draft.AIReasoning,
		DocumentSource:  draft.DocumentSource,
	}
	if draft.CollectionName != "" {
		name := draft.CollectionName
		v.CollectionName = &name
	}

	if draft.Malformed {
		v.ValidationStatus = models.ValidationStatusPending
		v.AIReasoning = draft.ParseError
		v.ConfidenceScore = 0
		return v
	}

	ref, known := resolveSchemaRef(schema, draft.FieldID)
	if !known {
		// Dangling field_id: the schema changed since extraction, or the
		// caller supplied an ID that never existed. Park the row for a human
		// instead of scoring it against a threshold that isn't there.
		v.ValidationStatus = models.ValidationStatusPending
		v.AIReasoning = fmt.Sprintf("%v: field %s not in schema", apperrors.ErrSchemaMismatch, draft.FieldID)
		v.ConfidenceScore = 0
		return v
	}

	// The schema is authoritative for the reference shape; the draft only
	// contributes the extracted value.
	v.FieldType = ref.fieldType
	v.FieldName = ref.fieldName
	v.CollectionName = nil
	if ref.collectionName != "" {
		name := ref.collectionName
		v.CollectionName = &name
	}

	v.ValidationStatus = AssignStatus(draft, ref.threshold)
	return v
}

type validationKey struct {
	fieldType   models.ValidationFieldType
	fieldID     uuid.UUID
	recordIndex int
}

// dedupeValidations drops repeated (field_type, field_id, record_index) rows,
// keeping the highest-confidence one. Models repeat scalar fields often
// enough that one duplicate must not abort the whole batch against the
// storage uniqueness constraint.
func (s *validationService) dedupeValidations(rows []models.FieldValidation) []models.FieldValidation {
	seen := make(map[validationKey]int, len(rows))
	out := make([]models.FieldValidation, 0, len(rows))
	dropped := 0
	for _, row := range rows {
		k := validationKey{row.FieldType, row.FieldID, row.RecordIndex}
		if i, ok := seen[k]; ok {
			if row.ConfidenceScore > out[i].ConfidenceScore {
				out[i] = row
			}
			dropped++
			continue
		}
		seen[k] = len(out)
		out = append(out, row)
	}
	if dropped > 0 {
		s.logger.Warn("duplicate validation rows dropped",
			zap.Int("dropped", dropped))
	}
	return out
}

// normalizeRecordIndexes compacts each collection's record indexes to a
// contiguous 0-based run, preserving relative order. Models occasionally skip
// indexes; downstream grids assume density.
func normalizeRecordIndexes(drafts []models.FieldValidationDraft) {
	byCollection := make(map[string][]int)
	for i := range drafts {
		if drafts[i].FieldType != models.FieldRefCollectionProperty {
			continue
		}
		byCollection[drafts[i].CollectionName] = append(byCollection[drafts[i].CollectionName], drafts[i].RecordIndex)
	}

	for collection, indexes := range byCollection {
		sort.Ints(indexes)
		remap := make(map[int]int, len(indexes))
		next := 0
		for _, idx := range indexes {
			if _, seen := remap[idx]; !seen {
				remap[idx] = next
				next++
			}
		}
		for i := range drafts {
			if drafts[i].FieldType == models.FieldRefCollectionProperty &&
				drafts[i].CollectionName == collection {
				drafts[i].RecordIndex = remap[drafts[i].RecordIndex]
			}
		}
	}
}

func (s *validationService) ApplyManualEdit(ctx context.Context, validationID uuid.UUID, value *string) (*models.FieldValidation, error) {
	v, err := s.repo.Get(ctx, validationID)
	if err != nil {
		return nil, err
	}

	v.ExtractedValue = value
	v.ValidationStatus = models.ValidationStatusManual
	v.ManuallyVerified = true
	v.ConfidenceScore = 100
	v.AIReasoning = models.ManualEditReasoning

	if err := s.repo.Update(ctx, v); err != nil {
		return nil, fmt.Errorf("apply manual edit: %w", err)
	}

	s.logger.Info("manual edit applied",
		zap.String("validation_id", validationID.String()),
		zap.String("field_name", v.FieldName))
	return v, nil
}

func (s *validationService) ReevaluateSession(ctx context.Context, sessionID uuid.UUID, schema *models.ProjectSchema) ([]models.FieldValidation, error) {
	validations, err := s.repo.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	changed := 0
	for i := range validations {
		v := &validations[i]
		// A human already decided; thresholds don't override people.
		if v.ManuallyVerified || v.ValidationStatus == models.ValidationStatusManual {
			continue
		}

		draft := models.FieldValidationDraft{
			ExtractedValue:  v.ExtractedValue,
			ConfidenceScore: v.ConfidenceScore,
		}
		threshold, known := thresholdFor(schema, v.FieldID)
		if !known {
			// Field was deleted from the schema since extraction; leave
			// the row as-is.
			continue
		}

		newStatus := AssignStatus(&draft, threshold)
		if newStatus == v.ValidationStatus {
			continue
		}

		v.ValidationStatus = newStatus
		if err := s.repo.Update(ctx, v); err != nil {
			return nil, fmt.Errorf("update validation %s: %w", v.ID, err)
		}
		changed++
	}

	s.logger.Info("session re-evaluated",
		zap.String("session_id", sessionID.String()),
		zap.Int("changed", changed))
	return validations, nil
}
