package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
)

// MemoryStore is an in-process BlobStore for tests and local development.
// Signed URLs are synthetic and not dereferenceable.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
}

type memoryObject struct {
	data        []byte
	contentType string
}

var _ BlobStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]memoryObject)}
}

func (s *MemoryStore) UploadURL(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("memory://upload/%s?ttl=%ds", key, int(ttl.Seconds())), nil
}

func (s *MemoryStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = memoryObject{data: cp, contentType: contentType}
	return nil
}

func (s *MemoryStore) Download(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: object %s", apperrors.ErrNotFound, key)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}

func (s *MemoryStore) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("%w: object %s", apperrors.ErrNotFound, key)
	}
	return fmt.Sprintf("memory://download/%s?ttl=%ds", key, int(ttl.Seconds())), nil
}

func (s *MemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok, nil
}
