package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Compile-time check that MinIOStorage implements ObjectStore.
var _ ObjectStore = (*MinIOStorage)(nil)

// ErrMinIOEndpointRequired is returned when no MinIO endpoint is configured.
var ErrMinIOEndpointRequired = errors.New("minio endpoint is required")

// MinIOConfig holds the configuration for MinIO storage.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// MinIOStorage wraps LocalStorage and stores objects in a MinIO bucket.
type MinIOStorage struct {
	*LocalStorage
	client   *miniogo.Client
	bucket   string
	endpoint string
	useSSL   bool
}

// NewMinIOStorage creates a new MinIOStorage instance. No network calls are
// made; call EnsureBucket to create the bucket on startup.
func NewMinIOStorage(tempDir string, cfg MinIOConfig) (*MinIOStorage, error) {
	if cfg.Endpoint == "" {
		return nil, ErrMinIOEndpointRequired
	}

	local, err := NewLocalStorage(tempDir)
	if err != nil {
		return nil, err
	}

	client, err := miniogo.New(cfg.Endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	return &MinIOStorage{
		LocalStorage: local,
		client:       client,
		bucket:       cfg.Bucket,
		endpoint:     cfg.Endpoint,
		useSSL:       cfg.UseSSL,
	}, nil
}

// EnsureBucket creates the configured bucket if it does not exist.
func (s *MinIOStorage) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, miniogo.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("create bucket %s: %w", s.bucket, err)
		}
	}
	return nil
}

// Put uploads data to the bucket and returns the object URL.
func (s *MinIOStorage) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, data, size, miniogo.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload to minio: %w", err)
	}
	return s.objectURL(key), nil
}

// Open returns a reader for the object stored under key.
func (s *MinIOStorage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get minio object: %w", err)
	}
	// GetObject is lazy; Stat surfaces missing keys before the first read.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if miniogo.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("stat minio object: %w", err)
	}
	return obj, nil
}

// Download writes the object stored under key to destPath.
func (s *MinIOStorage) Download(ctx context.Context, key, destPath string) error {
	if err := s.client.FGetObject(ctx, s.bucket, key, destPath, miniogo.GetObjectOptions{}); err != nil {
		if miniogo.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return fmt.Errorf("download minio object: %w", err)
	}
	return nil
}

// Delete removes the objects stored under keys.
func (s *MinIOStorage) Delete(ctx context.Context, keys []string) error {
	var firstErr error
	for _, key := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, key, miniogo.RemoveObjectOptions{}); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete minio object %s: %w", key, err)
		}
	}
	return firstErr
}

// objectURL returns the URL of key on the configured endpoint.
func (s *MinIOStorage) objectURL(key string) string {
	scheme := "http"
	if s.useSSL {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", scheme, s.endpoint, s.bucket, key)
}
