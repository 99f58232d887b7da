package handlers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
	"github.com/extractly-ai/extractly-engine/pkg/models"
	"github.com/extractly-ai/extractly-engine/pkg/repositories"
)

// In-memory repository fakes shared by the handler tests.

type fakeProjectRepo struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project
}

var _ repositories.ProjectRepository = (*fakeProjectRepo)(nil)

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{projects: make(map[uuid.UUID]*models.Project)}
}

func (f *fakeProjectRepo) Create(_ context.Context, project *models.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	project.CreatedAt = time.Now()
	project.UpdatedAt = project.CreatedAt
	cp := *project
	f.projects[project.ID] = &cp
	return nil
}

func (f *fakeProjectRepo) Get(_ context.Context, id uuid.UUID) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project %s", apperrors.ErrNotFound, id)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeProjectRepo) List(_ context.Context) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Project, 0, len(f.projects))
	for _, p := range f.projects {
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeProjectRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return fmt.Errorf("%w: project %s", apperrors.ErrNotFound, id)
	}
	delete(f.projects, id)
	return nil
}

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.ExtractionSession
	docs     map[uuid.UUID][]models.SessionDocument
}

var _ repositories.SessionRepository = (*fakeSessionRepo)(nil)

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{
		sessions: make(map[uuid.UUID]*models.ExtractionSession),
		docs:     make(map[uuid.UUID][]models.SessionDocument),
	}
}

func (f *fakeSessionRepo) Create(_ context.Context, session *models.ExtractionSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	session.CreatedAt = time.Now()
	session.UpdatedAt = session.CreatedAt
	cp := *session
	f.sessions[session.ID] = &cp
	return nil
}

func (f *fakeSessionRepo) Get(_ context.Context, id uuid.UUID) (*models.ExtractionSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSessionRepo) ListByProject(_ context.Context, projectID uuid.UUID) ([]models.ExtractionSession, error) {
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

func (f *fakeSessionRepo) Delete(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[id]; !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	delete(f.sessions, id)
	delete(f.docs, id)
	return nil
}

func (f *fakeSessionRepo) UpdateStage(_ context.Context, id uuid.UUID, stage models.JobStage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	s.JobStage = stage
	s.UpdatedAt = time.Now()
	return nil
}

func (f *fakeSessionRepo) MarkFailed(_ context.Context, id uuid.UUID, failedStage models.JobStage, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	s.JobStage = models.JobStageFailed
	s.Status = models.SessionStatusFailed
	s.FailedStage = &failedStage
	s.FailureReason = &reason
	return nil
}

func (f *fakeSessionRepo) UpdateStatus(_ context.Context, id uuid.UUID, status models.SessionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	s.Status = status
	return nil
}

func (f *fakeSessionRepo) SetExtractedData(_ context.Context, id uuid.UUID, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, id)
	}
	s.ExtractedData = data
	return nil
}

func (f *fakeSessionRepo) AddDocument(_ context.Context, doc *models.SessionDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[doc.SessionID]
	if !ok {
		return fmt.Errorf("%w: session %s", apperrors.ErrNotFound, doc.SessionID)
	}
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	doc.CreatedAt = time.Now()
	f.docs[doc.SessionID] = append(f.docs[doc.SessionID], *doc)
	s.DocumentCount = len(f.docs[doc.SessionID])
	return nil
}

func (f *fakeSessionRepo) ListDocuments(_ context.Context, sessionID uuid.UUID) ([]models.SessionDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SessionDocument(nil), f.docs[sessionID]...), nil
}

type fakeValidationRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID][]models.FieldValidation
}

var _ repositories.ValidationRepository = (*fakeValidationRepo)(nil)

func newFakeValidationRepo() *fakeValidationRepo {
	return &fakeValidationRepo{rows: make(map[uuid.UUID][]models.FieldValidation)}
}

func (f *fakeValidationRepo) ReplaceForSession(_ context.Context, sessionID uuid.UUID, validations []models.FieldValidation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range validations {
		if validations[i].ID == uuid.Nil {
			validations[i].ID = uuid.New()
		}
	}
	f.rows[sessionID] = append([]models.FieldValidation(nil), validations...)
	return nil
}

func (f *fakeValidationRepo) Get(_ context.Context, id uuid.UUID) (*models.FieldValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rows := range f.rows {
		for i := range rows {
			if rows[i].ID == id {
				cp := rows[i]
				return &cp, nil
			}
		}
	}
	return nil, fmt.Errorf("%w: validation %s", apperrors.ErrNotFound, id)
}

func (f *fakeValidationRepo) ListBySession(_ context.Context, sessionID uuid.UUID) ([]models.FieldValidation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.FieldValidation(nil), f.rows[sessionID]...), nil
}

func (f *fakeValidationRepo) Update(_ context.Context, v *models.FieldValidation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sid, rows := range f.rows {
		for i := range rows {
			if rows[i].ID == v.ID {
				f.rows[sid][i] = *v
				return nil
			}
		}
	}
	return fmt.Errorf("%w: validation %s", apperrors.ErrNotFound, v.ID)
}

type fakeSchemaRepo struct {
	mu     sync.Mutex
	schema models.ProjectSchema
}

var _ repositories.SchemaRepository = (*fakeSchemaRepo)(nil)

func (f *fakeSchemaRepo) CreateField(_ context.Context, field *models.SchemaField) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if field.ID == uuid.Nil {
		field.ID = uuid.New()
	}
	f.schema.Fields = append(f.schema.Fields, *field)
	return nil
}

func (f *fakeSchemaRepo) UpdateField(_ context.Context, field *models.SchemaField) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.schema.Fields {
		if f.schema.Fields[i].ID == field.ID {
			f.schema.Fields[i] = *field
			return nil
		}
	}
	return fmt.Errorf("%w: field %s", apperrors.ErrNotFound, field.ID)
}

func (f *fakeSchemaRepo) DeleteField(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.schema.Fields {
		if f.schema.Fields[i].ID == id {
			f.schema.Fields = append(f.schema.Fields[:i], f.schema.Fields[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: field %s", apperrors.ErrNotFound, id)
}

func (f *fakeSchemaRepo) ListFields(_ context.Context, _ uuid.UUID) ([]models.SchemaField, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.SchemaField(nil), f.schema.Fields...), nil
}

func (f *fakeSchemaRepo) CreateCollection(_ context.Context, collection *models.Collection) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if collection.ID == uuid.Nil {
		collection.ID = uuid.New()
	}
	for i := range collection.Properties {
		if collection.Properties[i].ID == uuid.Nil {
			collection.Properties[i].ID = uuid.New()
		}
		collection.Properties[i].CollectionID = collection.ID
	}
	f.schema.Collections = append(f.schema.Collections, *collection)
	return nil
}

func (f *fakeSchemaRepo) DeleteCollection(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.schema.Collections {
		if f.schema.Collections[i].ID == id {
			f.schema.Collections = append(f.schema.Collections[:i], f.schema.Collections[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: collection %s", apperrors.ErrNotFound, id)
}

func (f *fakeSchemaRepo) ListCollections(_ context.Context, _ uuid.UUID) ([]models.Collection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Collection(nil), f.schema.Collections...), nil
}

func (f *fakeSchemaRepo) CreateProperty(_ context.Context, property *models.Property) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if property.ID == uuid.Nil {
		property.ID = uuid.New()
	}
	for i := range f.schema.Collections {
		if f.schema.Collections[i].ID == property.CollectionID {
			f.schema.Collections[i].Properties = append(f.schema.Collections[i].Properties, *property)
			return nil
		}
	}
	return fmt.Errorf("%w: collection %s", apperrors.ErrNotFound, property.CollectionID)
}

func (f *fakeSchemaRepo) UpdateProperty(_ context.Context, property *models.Property) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.schema.Collections {
		props := f.schema.Collections[i].Properties
		for j := range props {
			if props[j].ID == property.ID {
				props[j] = *property
				return nil
			}
		}
	}
	return fmt.Errorf("%w: property %s", apperrors.ErrNotFound, property.ID)
}

func (f *fakeSchemaRepo) DeleteProperty(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.schema.Collections {
		props := f.schema.Collections[i].Properties
		for j := range props {
			if props[j].ID == id {
				f.schema.Collections[i].Properties = append(props[:j], props[j+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: property %s", apperrors.ErrNotFound, id)
}

func (f *fakeSchemaRepo) GetProjectSchema(_ context.Context, _ uuid.UUID) (*models.ProjectSchema, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := models.ProjectSchema{
		Fields:      append([]models.SchemaField(nil), f.schema.Fields...),
		Collections: append([]models.Collection(nil), f.schema.Collections...),
	}
	return &cp, nil
}

type fakeKnowledgeRepo struct {
	mu    sync.Mutex
	docs  []models.KnowledgeDocument
	rules []models.ExtractionRule
}

var _ repositories.KnowledgeRepository = (*fakeKnowledgeRepo)(nil)

func (f *fakeKnowledgeRepo) CreateDocument(_ context.Context, doc *models.KnowledgeDocument) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	f.docs = append(f.docs, *doc)
	return nil
}

func (f *fakeKnowledgeRepo) DeleteDocument(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.docs {
		if f.docs[i].ID == id {
			f.docs = append(f.docs[:i], f.docs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: knowledge document %s", apperrors.ErrNotFound, id)
}

func (f *fakeKnowledgeRepo) ListDocuments(_ context.Context, projectID uuid.UUID) ([]models.KnowledgeDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.KnowledgeDocument
	for _, d := range f.docs {
		if d.ProjectID == projectID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeKnowledgeRepo) CreateRule(_ context.Context, rule *models.ExtractionRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	f.rules = append(f.rules, *rule)
	return nil
}

func (f *fakeKnowledgeRepo) UpdateRule(_ context.Context, rule *models.ExtractionRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == rule.ID {
			f.rules[i] = *rule
			return nil
		}
	}
	return fmt.Errorf("%w: rule %s", apperrors.ErrNotFound, rule.ID)
}

func (f *fakeKnowledgeRepo) DeleteRule(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.rules {
		if f.rules[i].ID == id {
			f.rules = append(f.rules[:i], f.rules[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: rule %s", apperrors.ErrNotFound, id)
}

func (f *fakeKnowledgeRepo) ListRules(_ context.Context, projectID uuid.UUID) ([]models.ExtractionRule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ExtractionRule
	for _, r := range f.rules {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}
