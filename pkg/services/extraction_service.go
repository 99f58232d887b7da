package services

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
	"github.com/extractly-ai/extractly-engine/pkg/jsonutil"
	"github.com/extractly-ai/extractly-engine/pkg/llm"
	"github.com/extractly-ai/extractly-engine/pkg/logging"
	"github.com/extractly-ai/extractly-engine/pkg/models"
)

// ExtractionService sends a compiled prompt to the AI provider and turns the
// raw response into field validation drafts.
type ExtractionService interface {
	Extract(ctx context.Context, schema *models.ProjectSchema, prompt string) ([]models.FieldValidationDraft, error)
}

type extractionService struct {
	client      llm.LLMClient
	temperature float64
	logger      *zap.Logger
}

// NewExtractionService creates a new extraction service.
func NewExtractionService(client llm.LLMClient, temperature float64, logger *zap.Logger) ExtractionService {
	return &extractionService{
		client:      client,
		temperature: temperature,
		logger:      logger.Named("extraction-service"),
	}
}

var _ ExtractionService = (*extractionService)(nil)

const extractionSystemMessage = "You extract structured data from documents. Respond with JSON only."

// extractionResponse is the wire shape produced by the model. Values and
// confidence are RawMessage because models routinely return numbers as
// strings and vice versa.
type extractionResponse struct {
	FieldValidations []wireValidation `json:"field_validations"`
}

type wireValidation struct {
	FieldID        string          `json:"field_id"`
	FieldName      string          `json:"field_name"`
	ExtractedValue json.RawMessage `json:"extracted_value"`
	Confidence     json.RawMessage `json:"confidence"`
	Reasoning      string          `json:"reasoning"`
	DocumentSource string          `json:"document_source"`
	CollectionName string          `json:"collection_name"`
	RecordIndex    json.RawMessage `json:"collection_record_index"`
}

func (s *extractionService) Extract(ctx context.Context, schema *models.ProjectSchema, prompt string) ([]models.FieldValidationDraft, error) {
	raw, err := s.client.GenerateResponse(ctx, prompt, extractionSystemMessage, s.temperature)
	if err != nil {
		// Provider error bodies can echo credentials; never log them raw.
		s.logger.Error("ai extraction call failed",
			zap.String("error", logging.SanitizeError(err)))
		return nil, fmt.Errorf("ai extraction call: %w", err)
	}

	jsonText, err := llm.ExtractJSON(raw)
	if err != nil {
		s.logger.Warn("response contained no parseable JSON",
			zap.Int("response_len", len(raw)),
			zap.String("excerpt", logging.TruncateString(raw, logging.MaxPromptLogLength)))
		return nil, fmt.Errorf("%w: %v", apperrors.ErrExtractionParse, err)
	}

	var resp extractionResponse
	if err := json.Unmarshal([]byte(jsonText), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrExtractionParse, err)
	}

	// No field_validations array is an error, never an empty success: the
	// job runner must not record a completed extraction with zero output.
	if len(resp.FieldValidations) == 0 {
		return nil, apperrors.ErrEmptyExtractionResult
	}

	drafts := make([]models.FieldValidationDraft, 0, len(resp.FieldValidations))
	for i := range resp.FieldValidations {
		drafts = append(drafts, s.toDraft(schema, &resp.FieldValidations[i]))
	}

	s.logger.Info("extraction response parsed",
		zap.Int("drafts", len(drafts)))
	return drafts, nil
}

// toDraft resolves a wire validation against the live schema and coerces the
// loosely-typed values. Problems are recorded on the draft instead of being
// dropped, so a single bad row never loses the rest of the batch.
func (s *extractionService) toDraft(schema *models.ProjectSchema, w *wireValidation) models.FieldValidationDraft {
	draft := models.FieldValidationDraft{
		FieldName:      w.FieldName,
		AIReasoning:    w.Reasoning,
		DocumentSource: w.DocumentSource,
	}

	if val := jsonutil.FlexibleStringValue(w.ExtractedValue); val != "" {
		draft.ExtractedValue = &val
	}

	if idx, ok := jsonutil.FlexibleIntValue(w.RecordIndex); ok && idx >= 0 {
		draft.RecordIndex = idx
	}

	score, ok := jsonutil.FlexibleIntValue(w.Confidence)
	switch {
	case !ok:
		draft.Malformed = true
		draft.ParseError = "confidence missing or not numeric"
	case score < 0 || score > 100:
		// Out-of-range confidence means the model did not follow the
		// contract; flag rather than silently clamp.
		draft.Malformed = true
		draft.ParseError = fmt.Sprintf("confidence %d outside 0-100", score)
		s.logger.Warn("confidence out of range",
			zap.String("field_name", w.FieldName),
			zap.Int("confidence", score))
	default:
		draft.ConfidenceScore = score
	}

	fieldID, err := uuid.Parse(w.FieldID)
	if err != nil {
		draft.Malformed = true
		draft.ParseError = fmt.Sprintf("invalid field_id %q", w.FieldID)
		return draft
	}
	draft.FieldID = fieldID

	if _, ok := schema.FieldByID(fieldID); ok {
		draft.FieldType = models.FieldRefSchemaField
		return draft
	}
	if _, coll, ok := schema.PropertyByID(fieldID); ok {
		draft.FieldType = models.FieldRefCollectionProperty
		draft.CollectionName = coll.CollectionName
		return draft
	}

	// The model invented a field ID. Keep the row as a mismatch so a human
	// can see what happened; the validation engine will park it as pending.
	draft.Malformed = true
	draft.ParseError = fmt.Sprintf("%v: field %s not in schema", apperrors.ErrSchemaMismatch, fieldID)
	s.logger.Warn("draft references unknown field",
		zap.String("field_id", fieldID.String()),
		zap.String("field_name", w.FieldName))
	return draft
}
