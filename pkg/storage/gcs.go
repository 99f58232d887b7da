package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/extractly-ai/extractly-engine/pkg/apperrors"
)

// GCSStore is the Google Cloud Storage driver.
type GCSStore struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
	logger *zap.Logger
}

var _ BlobStore = (*GCSStore)(nil)

// NewGCSStore connects to GCS using ambient credentials.
func NewGCSStore(ctx context.Context, bucketName string, logger *zap.Logger) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: gcs client: %v", apperrors.ErrStorageUnavailable, err)
	}
	return &GCSStore{
		client: client,
		bucket: client.Bucket(bucketName),
		name:   bucketName,
		logger: logger,
	}, nil
}

func (s *GCSStore) UploadURL(ctx context.Context, key string, contentType string, ttl time.Duration) (string, error) {
	url, err := s.bucket.SignedURL(key, &gcs.SignedURLOptions{
		Method:      http.MethodPut,
		Expires:     time.Now().Add(ttl),
		ContentType: contentType,
		Scheme:      gcs.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("%w: sign upload url for %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
	return url, nil
}

func (s *GCSStore) Upload(ctx context.Context, key string, data []byte, contentType string) error {
	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("%w: write %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: finalize %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
	s.logger.Debug("object uploaded",
		zap.String("bucket", s.name),
		zap.String("key", key),
		zap.Int("bytes", len(data)))
	return nil
}

func (s *GCSStore) Download(ctx context.Context, key string) ([]byte, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: object %s", apperrors.ErrNotFound, key)
		}
		return nil, fmt.Errorf("%w: open %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
	return data, nil
}

func (s *GCSStore) SignedDownloadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	url, err := s.bucket.SignedURL(key, &gcs.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(ttl),
		Scheme:  gcs.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("%w: sign download url for %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
	return url, nil
}

func (s *GCSStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.bucket.Object(key).Attrs(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gcs.ErrObjectNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("%w: stat %s: %v", apperrors.ErrStorageUnavailable, key, err)
	}
}

// Close releases the underlying client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
