package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
	"github.com/extractly-ai/extractly-engine/pkg/docext"
	"github.com/extractly-ai/extractly-engine/pkg/llm"
	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
	"github.com/extractly-ai/extractly-engine/pkg/services/workqueue"
	"github.com/extractly-ai/extractly-engine/pkg/storage"
)

// fakeSessionRepo is an in-memory SessionRepository.
type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.ExtractionSession
	docs     map[uuid.UUID][]models.SessionDocument
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[uuid.UUID]*models.ExtractionSession),
		docs:     make(map[uuid.UUID][]models.SessionDocument),
	}
}

func (f *fakeSessionRepo) Create(ctx context.Context, s *models.ExtractionSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Status == "" {
		s.Status = models.SessionStatusPending
	}
	if s.JobStage == "" {
		s.JobStage = models.JobStagePending
	}
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f *fakeSessionRepo) Get(ctx context.Context, id uuid.UUID) (*models.ExtractionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.ExtractionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ExtractionSession
	for _, s := range f.sessions {
		if s.ProjectID == projectID {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (f *fakeSessionRepo) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, id)
	return nil
}

func (f *fakeSessionRepo) UpdateStage(ctx context.Context, id uuid.UUID, stage models.JobStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.JobStage = stage
	// Mirror the stage onto the status the way the SQL implementation does.
	switch stage {
	case models.JobStagePending:
		s.Status = models.SessionStatusPending
	case models.JobStageComplete:
		s.Status = models.SessionStatusCompleted
	case models.JobStageFailed:
		s.Status = models.SessionStatusFailed
	default:
		s.Status = models.SessionStatusProcessing
	}
	s.UpdatedAt = time.Now()
	return nil
}

func (f *fakeSessionRepo) MarkFailed(ctx context.Context, id uuid.UUID, failedStage models.JobStage, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.JobStage = models.JobStageFailed
	s.Status = models.SessionStatusFailed
	s.FailedStage = &failedStage
	s.FailureReason = &reason
	return nil
}

func (f *fakeSessionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.Status = status
	return nil
}

func (f *fakeSessionRepo) SetExtractedData(ctx context.Context, id uuid.UUID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	s.ExtractedData = data
	return nil
}

func (f *fakeSessionRepo) AddDocument(ctx context.Context, doc *models.SessionDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	f.docs[doc.SessionID] = append(f.docs[doc.SessionID], *doc)
	return nil
}

func (f *fakeSessionRepo) ListDocuments(ctx context.Context, sessionID uuid.UUID) ([]models.SessionDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SessionDocument(nil), f.docs[sessionID]...), nil
}

var _ repositories.SessionRepository = (*fakeSessionRepo)(nil)

// fakeSchemaRepo serves a fixed schema; mutation methods are unused by the
// job runner.
type fakeSchemaRepo struct {
	schema *models.ProjectSchema
}

func (f *fakeSchemaRepo) CreateField(ctx context.Context, field *models.SchemaField) error { return nil }
func (f *fakeSchemaRepo) UpdateField(ctx context.Context, field *models.SchemaField) error { return nil }
func (f *fakeSchemaRepo) DeleteField(ctx context.Context, id uuid.UUID) error              { return nil }
func (f *fakeSchemaRepo) ListFields(ctx context.Context, projectID uuid.UUID) ([]models.SchemaField, error) {
	return f.schema.Fields, nil
}
func (f *fakeSchemaRepo) CreateCollection(ctx context.Context, c *models.Collection) error { return nil }
func (f *fakeSchemaRepo) DeleteCollection(ctx context.Context, id uuid.UUID) error         { return nil }
func (f *fakeSchemaRepo) ListCollections(ctx context.Context, projectID uuid.UUID) ([]models.Collection, error) {
	return f.schema.Collections, nil
}
func (f *fakeSchemaRepo) CreateProperty(ctx context.Context, p *models.Property) error { return nil }
func (f *fakeSchemaRepo) UpdateProperty(ctx context.Context, p *models.Property) error { return nil }
func (f *fakeSchemaRepo) DeleteProperty(ctx context.Context, id uuid.UUID) error       { return nil }
func (f *fakeSchemaRepo) GetProjectSchema(ctx context.Context, projectID uuid.UUID) (*models.ProjectSchema, error) {
	return f.schema, nil
}

var _ repositories.SchemaRepository = (*fakeSchemaRepo)(nil)

// fakeKnowledgeRepo serves fixed knowledge docs and rules.
type fakeKnowledgeRepo struct {
	docs  []models.KnowledgeDocument
	rules []models.ExtractionRule
}

func (f *fakeKnowledgeRepo) CreateDocument(ctx context.Context, d *models.KnowledgeDocument) error {
	return nil
}
func (f *fakeKnowledgeRepo) DeleteDocument(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeKnowledgeRepo) ListDocuments(ctx context.Context, projectID uuid.UUID) ([]models.KnowledgeDocument, error) {
	return f.docs, nil
}
func (f *fakeKnowledgeRepo) CreateRule(ctx context.Context, r *models.ExtractionRule) error {
	return nil
}
func (f *fakeKnowledgeRepo) UpdateRule(ctx context.Context, r *models.ExtractionRule) error {
	return nil
}
func (f *fakeKnowledgeRepo) DeleteRule(ctx context.Context, id uuid.UUID) error { return nil }
func (f *fakeKnowledgeRepo) ListRules(ctx context.Context, projectID uuid.UUID) ([]models.ExtractionRule, error) {
	return f.rules, nil
}

var _ repositories.KnowledgeRepository = (*fakeKnowledgeRepo)(nil)

// jobFixture wires a runner with in-memory collaborators and one session
// holding a single plain-text document.
type jobFixture struct {
	runner    *JobRunner
	sessions  *fakeSessionRepo
	vals      *fakeValidationRepo
	blobs     *storage.MemoryStore
	client    *llm.MockLLMClient
	sessionID uuid.UUID
}

func newJobFixture(t *testing.T, aiResponse string) *jobFixture {
	t.Helper()

	sessions := newFakeSessionRepo()
	vals := newFakeValidationRepo()
	blobs := storage.NewMemoryStore()
	client := mockClient(aiResponse)
	logger := zap.NewNop()

	session := &models.ExtractionSession{ProjectID: uuid.New(), SessionName: "batch 1"}
	require.NoError(t, sessions.Create(context.Background(), session))

	key := "sessions/" + session.ID.String() + "/contract.txt"
	require.NoError(t, blobs.Upload(context.Background(), key, []byte("Agreement between Acme Corp and Initech."), "text/plain"))
	require.NoError(t, sessions.AddDocument(context.Background(), &models.SessionDocument{
		SessionID:  session.ID,
		FileName:   "contract.txt",
		StorageKey: key,
	}))

	queue := workqueue.New(logger, workqueue.WithRetryConfig(workqueue.RetryConfig{MaxRetries: 0}))
	runner := NewJobRunner(JobRunnerDeps{
		Sessions:   sessions,
		Schemas:    &fakeSchemaRepo{schema: extractionTestSchema()},
		Knowledge:  &fakeKnowledgeRepo{},
		Extractor:  docext.New(0, logger),
		Extraction: NewExtractionService(client, 0.1, logger),
		Validation: NewValidationService(vals, logger),
		Blobs:      blobs,
		Queue:      queue,
	}, logger)

	return &jobFixture{
		runner:    runner,
		sessions:  sessions,
		vals:      vals,
		blobs:     blobs,
		client:    client,
		sessionID: session.ID,
	}
}

func waitForTerminalStage(t *testing.T, fx *jobFixture) models.JobStage {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatal("job never reached a terminal stage")
		case <-time.After(5 * time.Millisecond):
		}
		status, err := fx.runner.Status(context.Background(), fx.sessionID)
		require.NoError(t, err)
		if status.Stage.Terminal() {
			return status.Stage
		}
	}
}

func goodAIResponse() string {
	return fmt.Sprintf(`{"field_validations":[{"field_id":%q,"field_name":"Company Name","extracted_value":"Acme Corp","confidence":92,"reasoning":"stated in opening line","document_source":"contract.txt"}]}`, testFieldID)
}

func TestJobRunner_FullPipeline(t *testing.T) {
	fx := newJobFixture(t, goodAIResponse())

	require.NoError(t, fx.runner.Start(context.Background(), fx.sessionID))
	stage := waitForTerminalStage(t, fx)
	assert.Equal(t, models.JobStageComplete, stage)

	session, err := fx.sessions.Get(context.Background(), fx.sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.NotEmpty(t, session.ExtractedData, "text extraction output must be persisted")
	assert.Nil(t, session.FailedStage)

	rows, err := fx.vals.ListBySession(context.Background(), fx.sessionID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.ValidationStatusValid, rows[0].ValidationStatus)
	assert.Equal(t, "Acme Corp", *rows[0].ExtractedValue)

	// The compiled prompt really carried the document text.
	assert.Contains(t, fx.client.LastPrompt, "Acme Corp and Initech")
}

func TestJobRunner_RejectsConcurrentStart(t *testing.T) {
	fx := newJobFixture(t, "")

	release := make(chan struct{})
	fx.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		<-release
		return goodAIResponse(), nil
	}

	require.NoError(t, fx.runner.Start(context.Background(), fx.sessionID))

	// Second start while the first is blocked inside the AI call.
	var second error
	require.Eventually(t, func() bool {
		second = fx.runner.Start(context.Background(), fx.sessionID)
		return second != nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, second, apperrors.ErrJobAlreadyRunning)

	close(release)
	assert.Equal(t, models.JobStageComplete, waitForTerminalStage(t, fx))
}

func TestJobRunner_RestartAfterCompletion(t *testing.T) {
	fx := newJobFixture(t, goodAIResponse())

	require.NoError(t, fx.runner.Start(context.Background(), fx.sessionID))
	require.Equal(t, models.JobStageComplete, waitForTerminalStage(t, fx))

	// Re-extraction of a completed session is allowed and idempotent.
	require.NoError(t, fx.runner.Start(context.Background(), fx.sessionID))
	assert.Equal(t, models.JobStageComplete, waitForTerminalStage(t, fx))

	rows, err := fx.vals.ListBySession(context.Background(), fx.sessionID)
	require.NoError(t, err)
	assert.Len(t, rows, 1, "replace-not-append on re-extraction")
}

func TestJobRunner_FailsAtUploadingWhenBlobMissing(t *testing.T) {
	fx := newJobFixture(t, goodAIResponse())

	// Simulate a client that registered a document but never uploaded it.
	require.NoError(t, fx.sessions.AddDocument(context.Background(), &models.SessionDocument{
		SessionID:  fx.sessionID,
		FileName:   "ghost.pdf",
		StorageKey: "sessions/" + fx.sessionID.String() + "/ghost.pdf",
	}))

	require.NoError(t, fx.runner.Start(context.Background(), fx.sessionID))
	assert.Equal(t, models.JobStageFailed, waitForTerminalStage(t, fx))

	status, err := fx.runner.Status(context.Background(), fx.sessionID)
	require.NoError(t, err)
	require.NotNil(t, status.FailedStage)
	assert.Equal(t, models.JobStageUploading, *status.FailedStage)
	require.NotNil(t, status.FailureReason)
	assert.Contains(t, *status.FailureReason, "ghost.pdf")
}

func TestJobRunner_FailsAtAIExtractionOnGarbage(t *testing.T) {
	fx := newJobFixture(t, "the model refuses to answer with JSON")

	require.NoError(t, fx.runner.Start(context.Background(), fx.sessionID))
	assert.Equal(t, models.JobStageFailed, waitForTerminalStage(t, fx))

	status, err := fx.runner.Status(context.Background(), fx.sessionID)
	require.NoError(t, err)
	require.NotNil(t, status.FailedStage)
	assert.Equal(t, models.JobStageAIExtraction, *status.FailedStage)
}

func TestJobRunner_SlowJobRunsToCompletion(t *testing.T) {
	fx := newJobFixture(t, "")

	// The provider call outlasts any plausible client poll budget. The job
	// must not be cancelled server-side; abandoned polls leave it running to
	// its terminal stage.
	fx.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(150 * time.Millisecond):
			return goodAIResponse(), nil
		}
	}

	require.NoError(t, fx.runner.Start(context.Background(), fx.sessionID))
	assert.Equal(t, models.JobStageComplete, waitForTerminalStage(t, fx))

	session, err := fx.sessions.Get(context.Background(), fx.sessionID)
	require.NoError(t, err)
	assert.Nil(t, session.FailureReason)
}

func TestJobRunner_RetriesTransientProviderError(t *testing.T) {
	fx := newJobFixture(t, "")
	fx.runner.retryConfig.InitialDelay = time.Millisecond
	fx.runner.retryConfig.MaxDelay = 2 * time.Millisecond

	calls := 0
	fx.client.GenerateResponseFunc = func(ctx context.Context, prompt, system string, temperature float64) (string, error) {
		calls++
		if calls == 1 {
			return "", llm.NewError(llm.ErrorTypeRateLimit, "rate limited", true, nil)
		}
		return goodAIResponse(), nil
	}

	require.NoError(t, fx.runner.Start(context.Background(), fx.sessionID))
	assert.Equal(t, models.JobStageComplete, waitForTerminalStage(t, fx))
	assert.Equal(t, 2, calls)
}

func TestJobRunner_StatusUnknownSession(t *testing.T) {
	fx := newJobFixture(t, "")
	_, err := fx.runner.Status(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
