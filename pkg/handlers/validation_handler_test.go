package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/services"
)

type validationTestEnv struct {
	mux         *http.ServeMux
	projects    *fakeProjectRepo
	sessions    *fakeSessionRepo
	validations *fakeValidationRepo
	schemas     *fakeSchemaRepo
}

func newValidationEnv(t *testing.T) *validationTestEnv {
	t.Helper()
	env := &validationTestEnv{
		mux:         http.NewServeMux(),
		projects:    newFakeProjectRepo(),
		sessions:    newFakeSessionRepo(),
		validations: newFakeValidationRepo(),
		schemas:     &fakeSchemaRepo{},
	}
	service := services.NewValidationService(env.validations, zap.NewNop())
	NewValidationHandler(env.validations, env.schemas, env.sessions, service, zap.NewNop()).RegisterRoutes(env.mux)
	return env
}

func seedValidationRow(t *testing.T, env *validationTestEnv, sessionID uuid.UUID, fieldID uuid.UUID, status models.ValidationStatus, confidence int) uuid.UUID {
	t.Helper()
	value := "ACME Corp"
	row := models.FieldValidation{
		SessionID:        sessionID,
		FieldType:        models.FieldRefSchemaField,
		FieldID:          fieldID,
		FieldName:        "company_name",
		ExtractedValue:   &value,
		ConfidenceScore:  confidence,
		ValidationStatus: status,
	}
	require.NoError(t, env.validations.ReplaceForSession(context.Background(), sessionID, []models.FieldValidation{row}))
	rows, err := env.validations.ListBySession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	return rows[0].ID
}

func TestValidationHandler_ListValidations(t *testing.T) {
	env := newValidationEnv(t)
	projectID := seedProject(t, env.projects)
	sessionID := seedSession(t, env.sessions, projectID, models.JobStageComplete)
	seedValidationRow(t, env, sessionID, uuid.New(), models.ValidationStatusValid, 92)

	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/api/projects/"+projectID.String()+"/sessions/"+sessionID.String()+"/validations", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var rows []models.FieldValidation
	decodeEnvelope(t, rec, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "company_name", rows[0].FieldName)
}

func TestValidationHandler_ManualEdit(t *testing.T) {
	env := newValidationEnv(t)
	projectID := seedProject(t, env.projects)
	sessionID := seedSession(t, env.sessions, projectID, models.JobStageComplete)
	rowID := seedValidationRow(t, env, sessionID, uuid.New(), models.ValidationStatusInvalid, 40)

	body := bytes.NewBufferString(`{"extracted_value":"Initech LLC"}`)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut,
		"/api/projects/"+projectID.String()+"/sessions/"+sessionID.String()+"/validations/"+rowID.String(), body))

	require.Equal(t, http.StatusOK, rec.Code)

	var updated models.FieldValidation
	decodeEnvelope(t, rec, &updated)
	require.NotNil(t, updated.ExtractedValue)
	assert.Equal(t, "Initech LLC", *updated.ExtractedValue)
	assert.Equal(t, models.ValidationStatusManual, updated.ValidationStatus)
	assert.True(t, updated.ManuallyVerified)
	assert.Equal(t, 100, updated.ConfidenceScore)
	assert.Equal(t, models.ManualEditReasoning, updated.AIReasoning)
}

func TestValidationHandler_ManualEditPromotesSessionToVerified(t *testing.T) {
	env := newValidationEnv(t)
	projectID := seedProject(t, env.projects)
	sessionID := seedSession(t, env.sessions, projectID, models.JobStageComplete)
	require.NoError(t, env.sessions.UpdateStatus(context.Background(), sessionID, models.SessionStatusCompleted))

	// The one unresolved row; correcting it completes the review.
	rowID := seedValidationRow(t, env, sessionID, uuid.New(), models.ValidationStatusInvalid, 40)

	body := bytes.NewBufferString(`{"extracted_value":"Initech LLC"}`)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut,
		"/api/projects/"+projectID.String()+"/sessions/"+sessionID.String()+"/validations/"+rowID.String(), body))

	require.Equal(t, http.StatusOK, rec.Code)

	session, err := env.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusVerified, session.Status)
}

func TestValidationHandler_ReevaluateKeepsUnverifiedSessionCompleted(t *testing.T) {
	env := newValidationEnv(t)
	projectID := seedProject(t, env.projects)
	sessionID := seedSession(t, env.sessions, projectID, models.JobStageComplete)
	require.NoError(t, env.sessions.UpdateStatus(context.Background(), sessionID, models.SessionStatusCompleted))

	// Threshold above the row's confidence: the row stays invalid, so the
	// session must not be promoted.
	field := models.SchemaField{
		ProjectID:                  projectID,
		FieldName:                  "company_name",
		FieldType:                  models.FieldTypeText,
		AutoVerificationConfidence: 90,
	}
	require.NoError(t, env.schemas.CreateField(context.Background(), &field))
	seedValidationRow(t, env, sessionID, field.ID, models.ValidationStatusInvalid, 75)

	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/projects/"+projectID.String()+"/sessions/"+sessionID.String()+"/validations/reevaluate", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	session, err := env.sessions.Get(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
}

func TestValidationHandler_ManualEditWrongSession(t *testing.T) {
	env := newValidationEnv(t)
	projectID := seedProject(t, env.projects)
	sessionID := seedSession(t, env.sessions, projectID, models.JobStageComplete)
	otherSession := seedSession(t, env.sessions, projectID, models.JobStageComplete)
	rowID := seedValidationRow(t, env, otherSession, uuid.New(), models.ValidationStatusValid, 95)

	body := bytes.NewBufferString(`{"extracted_value":"x"}`)
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut,
		"/api/projects/"+projectID.String()+"/sessions/"+sessionID.String()+"/validations/"+rowID.String(), body))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidationHandler_Reevaluate(t *testing.T) {
	env := newValidationEnv(t)
	projectID := seedProject(t, env.projects)
	sessionID := seedSession(t, env.sessions, projectID, models.JobStageComplete)

	// Schema field with a threshold below the row's confidence: invalid
	// becomes valid after re-scoring.
	field := models.SchemaField{
		ProjectID:                  projectID,
		FieldName:                  "company_name",
		FieldType:                  models.FieldTypeText,
		AutoVerificationConfidence: 60,
	}
	require.NoError(t, env.schemas.CreateField(context.Background(), &field))
	seedValidationRow(t, env, sessionID, field.ID, models.ValidationStatusInvalid, 75)

	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost,
		"/api/projects/"+projectID.String()+"/sessions/"+sessionID.String()+"/validations/reevaluate", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var rows []models.FieldValidation
	decodeEnvelope(t, rec, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ValidationStatusValid, rows[0].ValidationStatus)
}
