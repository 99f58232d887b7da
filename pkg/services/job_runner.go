package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
	"github.com/extractly-ai/extractly-engine/pkg/docext"
	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/prompts"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
	"github.com/extractly-ai/extractly-engine/pkg/retry"
	"github.com/extractly-ai/extractly-engine/pkg/services/workqueue"
	"github.com/extractly-ai/extractly-engine/pkg/storage"
)

// JobRunner orchestrates the background extraction pipeline for a session:
// uploading -> text_extraction -> ai_extraction -> field_validation ->
// complete, with failed absorbing from any stage. Each stage commits to the
// session row before the next starts so pollers always see durable state.
type JobRunner struct {
	sessions    repositories.SessionRepository
	schemas     repositories.SchemaRepository
	knowledge   repositories.KnowledgeRepository
	extractor   *docext.Extractor
	extraction  ExtractionService
	validation  ValidationService
	blobs       storage.BlobStore
	queue       *workqueue.Queue
	retryConfig *retry.Config
	logger      *zap.Logger

	// running guards against double-starting a session's pipeline without a
	// DB round trip.
	mu      sync.Mutex
	running map[uuid.UUID]struct{}
}

// JobRunnerDeps bundles the runner's collaborators.
type JobRunnerDeps struct {
	Sessions   repositories.SessionRepository
	Schemas    repositories.SchemaRepository
	Knowledge  repositories.KnowledgeRepository
	Extractor  *docext.Extractor
	Extraction ExtractionService
	Validation ValidationService
	Blobs      storage.BlobStore
	Queue      *workqueue.Queue
}

// NewJobRunner creates a job runner.
func NewJobRunner(deps JobRunnerDeps, logger *zap.Logger) *JobRunner {
	return &JobRunner{
		sessions:    deps.Sessions,
		schemas:     deps.Schemas,
		knowledge:   deps.Knowledge,
		extractor:   deps.Extractor,
		extraction:  deps.Extraction,
		validation:  deps.Validation,
		blobs:       deps.Blobs,
		queue:       deps.Queue,
		retryConfig: retry.DefaultConfig(),
		logger:      logger.Named("job-runner"),
		running:     make(map[uuid.UUID]struct{}),
	}
}

// extractionJobTask runs one session's pipeline on the work queue. It is an
// AI task: the queue's strategy serializes provider calls across sessions.
type extractionJobTask struct {
	workqueue.BaseTask
	runner    *JobRunner
	sessionID uuid.UUID
}

func (t *extractionJobTask) Execute(ctx context.Context, _ workqueue.TaskEnqueuer) error {
	return t.runner.run(ctx, t.sessionID)
}

// Start launches the extraction pipeline for a session. It returns
// ErrJobAlreadyRunning if the session's pipeline is already in flight, either
// in this process or per the persisted job stage. Completed and failed
// sessions may be re-run; re-extraction replaces their validations.
func (r *JobRunner) Start(ctx context.Context, sessionID uuid.UUID) error {
	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if _, inFlight := r.running[sessionID]; inFlight {
		r.mu.Unlock()
		return apperrors.ErrJobAlreadyRunning
	}
	if session.JobStage != models.JobStagePending && !session.JobStage.Terminal() {
		// Another process owns this job; its stage is still advancing.
		r.mu.Unlock()
		return apperrors.ErrJobAlreadyRunning
	}
	r.running[sessionID] = struct{}{}
	r.mu.Unlock()

	r.logger.Info("extraction job starting",
		zap.String("session_id", sessionID.String()),
		zap.String("project_id", session.ProjectID.String()))

	r.queue.Enqueue(&extractionJobTask{
		BaseTask:  workqueue.NewBaseTask("extract-session-"+sessionID.String(), true),
		runner:    r,
		sessionID: sessionID,
	})
	return nil
}

// Status returns the pollable job status for a session. Pure read.
func (r *JobRunner) Status(ctx context.Context, sessionID uuid.UUID) (*models.JobStatus, error) {
	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &models.JobStatus{
		SessionID:     session.ID,
		Stage:         session.JobStage,
		FailedStage:   session.FailedStage,
		FailureReason: session.FailureReason,
		UpdatedAt:     session.UpdatedAt,
	}, nil
}

// run executes the pipeline stages. It always ends in a terminal stage:
// complete on success, failed with the breaking stage recorded otherwise.
// The job carries no deadline of its own: a client that stops polling leaves
// it running to its terminal stage, and only process shutdown cancels it.
func (r *JobRunner) run(ctx context.Context, sessionID uuid.UUID) error {
	defer func() {
		r.mu.Lock()
		delete(r.running, sessionID)
		r.mu.Unlock()
	}()

	session, err := r.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	stage := models.JobStagePending
	fail := func(err error) error {
		reason := fmt.Sprintf("extraction failed during %s: %v", stage, err)
		if markErr := r.sessions.MarkFailed(context.WithoutCancel(ctx), sessionID, stage, reason); markErr != nil {
			r.logger.Error("failed to record job failure",
				zap.String("session_id", sessionID.String()),
				zap.Error(markErr))
		}
		r.logger.Error("extraction job failed",
			zap.String("session_id", sessionID.String()),
			zap.String("stage", string(stage)),
			zap.Error(err))
		return err
	}

	// Stage: uploading. Confirm every attached document is durably stored.
	stage = models.JobStageUploading
	if err := r.sessions.UpdateStage(ctx, sessionID, stage); err != nil {
		return fail(err)
	}
	docs, err := r.sessions.ListDocuments(ctx, sessionID)
	if err != nil {
		return fail(err)
	}
	if len(docs) == 0 {
		return fail(fmt.Errorf("session has no documents"))
	}
	for _, doc := range docs {
		ok, err := r.blobs.Exists(ctx, doc.StorageKey)
		if err != nil {
			return fail(err)
		}
		if !ok {
			return fail(fmt.Errorf("document %s missing from storage", doc.FileName))
		}
	}

	// Stage: text_extraction. Download and convert every document to text.
	stage = models.JobStageTextExtraction
	if err := r.sessions.UpdateStage(ctx, sessionID, stage); err != nil {
		return fail(err)
	}
	files := make([]docext.File, 0, len(docs))
	for _, doc := range docs {
		data, err := r.blobs.Download(ctx, doc.StorageKey)
		if err != nil {
			return fail(err)
		}
		files = append(files, docext.File{
			Name:     doc.FileName,
			Size:     doc.FileSize,
			MIMEType: doc.MIMEType,
			Bytes:    data,
		})
	}
	batch, err := r.extractor.ExtractBatch(ctx, files)
	if err != nil {
		return fail(err)
	}
	if batch.ExtractedText == "" {
		return fail(fmt.Errorf("no text could be extracted from any document"))
	}
	batchJSON, err := json.Marshal(batch)
	if err != nil {
		return fail(err)
	}
	if err := r.sessions.SetExtractedData(ctx, sessionID, batchJSON); err != nil {
		return fail(err)
	}

	// Stage: ai_extraction. Compile the prompt and call the provider, with
	// backoff on transient provider errors only.
	stage = models.JobStageAIExtraction
	if err := r.sessions.UpdateStage(ctx, sessionID, stage); err != nil {
		return fail(err)
	}
	schema, err := r.schemas.GetProjectSchema(ctx, session.ProjectID)
	if err != nil {
		return fail(err)
	}
	if len(schema.Fields) == 0 && len(schema.Collections) == 0 {
		return fail(fmt.Errorf("project has no schema to extract against"))
	}
	knowledgeDocs, err := r.knowledge.ListDocuments(ctx, session.ProjectID)
	if err != nil {
		return fail(err)
	}
	rules, err := r.knowledge.ListRules(ctx, session.ProjectID)
	if err != nil {
		return fail(err)
	}

	prompt := prompts.BuildExtractionPrompt(schema, batch.ExtractedText, knowledgeDocs, rules, len(docs))

	drafts, err := retry.DoWithResult(ctx, r.retryConfig, func() ([]models.FieldValidationDraft, error) {
		return r.extraction.Extract(ctx, schema, prompt)
	})
	if err != nil {
		return fail(err)
	}

	// Stage: field_validation. Score and persist transactionally.
	stage = models.JobStageFieldValidation
	if err := r.sessions.UpdateStage(ctx, sessionID, stage); err != nil {
		return fail(err)
	}
	if _, err := r.validation.ValidateAndPersist(ctx, sessionID, schema, drafts); err != nil {
		return fail(err)
	}

	stage = models.JobStageComplete
	if err := r.sessions.UpdateStage(ctx, sessionID, stage); err != nil {
		return fail(err)
	}

	r.logger.Info("extraction job complete",
		zap.String("session_id", sessionID.String()),
		zap.Int("drafts", len(drafts)))
	return nil
}
