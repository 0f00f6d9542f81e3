package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Compile-time check that S3Storage implements ObjectStore.
var _ ObjectStore = (*S3Storage)(nil)

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Storage wraps LocalStorage and stores objects in S3.
// It uses LocalStorage for temporary file operations.
type S3Storage struct {
	*LocalStorage
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
}

// NewS3Storage creates a new S3Storage instance.
// The tempDir parameter specifies where temporary files are stored.
// The cfg parameter contains S3 configuration.
func NewS3Storage(tempDir string, cfg S3Config) (*S3Storage, error) {
	local, err := NewLocalStorage(tempDir)
	if err != nil {
		return nil, err
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Storage{
		LocalStorage: local,
		client:       s3.NewFromConfig(awsCfg, clientOpts...),
		bucket:       cfg.Bucket,
		region:       cfg.Region,
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
	}, nil
}

// Put uploads data to S3 and returns the object URL.
func (s *S3Storage) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) (string, error) {
	if key == "" {
		return "", ErrInvalidKey
	}

	// Plain-HTTP endpoints need a seekable body to compute the payload
	// checksum, so other readers are spooled to a temporary file first.
	if _, ok := data.(io.ReadSeeker); !ok {
		spooled, cleanup, err := s.spool(ctx, key, data)
		if err != nil {
			return "", err
		}
		defer cleanup()
		data = spooled
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   data,
	}
	if size >= 0 {
		input.ContentLength = aws.Int64(size)
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("upload to S3: %w", err)
	}

	return s.objectURL(key), nil
}

// spool copies data into a temporary file and reopens it for reading.
// The returned cleanup closes and removes the file.
func (s *S3Storage) spool(ctx context.Context, key string, data io.Reader) (io.ReadSeeker, func(), error) {
	tmpPath, err := s.SaveTemp(ctx, path.Base(key), data)
	if err != nil {
		return nil, nil, fmt.Errorf("spool upload body: %w", err)
	}
	cleanup := func() { _ = s.CleanupTemp(context.Background(), []string{tmpPath}) }

	rc, err := s.LoadTemp(ctx, tmpPath)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("spool upload body: %w", err)
	}
	rs, ok := rc.(io.ReadSeeker)
	if !ok {
		_ = rc.Close()
		cleanup()
		return nil, nil, fmt.Errorf("spool upload body: temp file %s is not seekable", tmpPath)
	}
	return rs, func() {
		_ = rc.Close()
		cleanup()
	}, nil
}

// Open returns the body of the object stored under key.
func (s *S3Storage) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("get S3 object: %w", err)
	}
	return out.Body, nil
}

// Download writes the object stored under key to destPath.
func (s *S3Storage) Download(ctx context.Context, key, destPath string) error {
	body, err := s.Open(ctx, key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()
	return writeFile(ctx, destPath, body)
}

// Delete removes the objects stored under keys.
func (s *S3Storage) Delete(ctx context.Context, keys []string) error {
	var firstErr error
	for _, key := range keys {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("delete S3 object %s: %w", key, err)
		}
	}
	return firstErr
}

// objectURL returns the public URL of key.
func (s *S3Storage) objectURL(key string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, key)
}
