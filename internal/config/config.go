// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Storage backends accepted by STORAGE_BACKEND.
const (
	StorageLocal = "local"
	StorageS3    = "s3"
	StorageMinIO = "minio"
)

// Static errors for configuration validation.
var (
	// ErrUnknownStorageBackend is returned when STORAGE_BACKEND is not local, s3 or minio.
	ErrUnknownStorageBackend = errors.New("config: STORAGE_BACKEND must be local, s3 or minio")
	// ErrS3BucketRequired is returned when the s3 backend is selected without S3_BUCKET and S3_REGION.
	ErrS3BucketRequired = errors.New("config: S3_BUCKET and S3_REGION are required for the s3 backend")
	// ErrMinIOEndpointRequired is returned when the minio backend is selected without MINIO_ENDPOINT.
	ErrMinIOEndpointRequired = errors.New("config: MINIO_ENDPOINT and MINIO_BUCKET are required for the minio backend")
	// ErrUnknownSamplingMode is returned when SAMPLING_MODE is not recognised.
	ErrUnknownSamplingMode = errors.New("config: SAMPLING_MODE must be fixed_count, fixed_interval or scene_change")
	// ErrIntervalRequired is returned when fixed_interval sampling has no positive SCREENSHOT_INTERVAL.
	ErrIntervalRequired = errors.New("config: SCREENSHOT_INTERVAL must be positive for fixed_interval sampling")
	// ErrUnknownFormat is returned when SCREENSHOT_FORMAT is not png or jpg.
	ErrUnknownFormat = errors.New("config: SCREENSHOT_FORMAT must be png or jpg")
	// ErrInvalidCount is returned when SCREENSHOT_COUNT or MAX_SCREENSHOTS is not positive.
	ErrInvalidCount = errors.New("config: SCREENSHOT_COUNT and MAX_SCREENSHOTS must be positive")
	// ErrExtractorNeedsObjectStore is returned when EXTRACTOR_URL is set with the local backend,
	// whose file:// upload URLs a remote service cannot fetch.
	ErrExtractorNeedsObjectStore = errors.New("config: EXTRACTOR_URL requires STORAGE_BACKEND s3 or minio")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int   `env:"PORT, default=8080" json:"port"`
	MaxUploadBytes int64 `env:"MAX_UPLOAD_BYTES, default=2147483648" json:"max_upload_bytes"`

	// Storage settings
	TempDir        string `env:"TEMP_DIR, default=/tmp/screenshot-api" json:"temp_dir"`
	StorageBackend string `env:"STORAGE_BACKEND, default=local" json:"storage_backend"`

	// S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// MinIO settings
	MinIOEndpoint  string `env:"MINIO_ENDPOINT" json:"minio_endpoint,omitempty"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY" json:"-"` // Masked in JSON
	MinIOSecretKey string `env:"MINIO_SECRET_KEY" json:"-"` // Masked in JSON
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL, default=false" json:"minio_use_ssl"`
	MinIOBucket    string `env:"MINIO_BUCKET, default=screenshots" json:"minio_bucket"`

	// Media tools
	FFmpegPath  string `env:"FFMPEG_PATH, default=ffmpeg" json:"ffmpeg_path"`
	FFprobePath string `env:"FFPROBE_PATH, default=ffprobe" json:"ffprobe_path"`

	// Sampling settings
	SamplingMode       string        `env:"SAMPLING_MODE, default=fixed_count" json:"sampling_mode"`
	ScreenshotCount    int           `env:"SCREENSHOT_COUNT, default=4" json:"screenshot_count"`
	ScreenshotInterval time.Duration `env:"SCREENSHOT_INTERVAL, default=10s" json:"screenshot_interval"`
	SceneThreshold     float64       `env:"SCENE_THRESHOLD, default=0.3" json:"scene_threshold"`
	MaxScreenshots     int           `env:"MAX_SCREENSHOTS, default=100" json:"max_screenshots"`
	ScreenshotFormat   string        `env:"SCREENSHOT_FORMAT, default=png" json:"screenshot_format"`

	// Optional remote extraction service
	ExtractorURL          string        `env:"EXTRACTOR_URL" json:"extractor_url,omitempty"`
	ExtractorAPIKey       string        `env:"EXTRACTOR_API_KEY" json:"-"` // Masked in JSON
	ExtractorPollInterval time.Duration `env:"EXTRACTOR_POLL_INTERVAL, default=2s" json:"extractor_poll_interval"`

	// Timeouts; zero disables the limit
	ProbeTimeout      time.Duration `env:"PROBE_TIMEOUT, default=30s" json:"probe_timeout"`
	UploadTimeout     time.Duration `env:"UPLOAD_TIMEOUT, default=10m" json:"upload_timeout"`
	ProcessingTimeout time.Duration `env:"PROCESSING_TIMEOUT, default=15m" json:"processing_timeout"`
	SessionTTL        time.Duration `env:"SESSION_TTL, default=1h" json:"session_ttl"`

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// ExtractorEnabled returns true if a remote extraction service is configured.
func (c *Config) ExtractorEnabled() bool {
	return c.ExtractorURL != ""
}

// Load reads configuration from environment variables using go-envconfig
// and validates it.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the selected backend and sampling settings are complete.
func (c *Config) Validate() error {
	switch strings.ToLower(c.StorageBackend) {
	case StorageLocal:
		if c.ExtractorEnabled() {
			return ErrExtractorNeedsObjectStore
		}
	case StorageS3:
		if c.S3Bucket == "" || c.S3Region == "" {
			return ErrS3BucketRequired
		}
	case StorageMinIO:
		if c.MinIOEndpoint == "" || c.MinIOBucket == "" {
			return ErrMinIOEndpointRequired
		}
	default:
		return ErrUnknownStorageBackend
	}

	switch c.SamplingMode {
	case "", "fixed_count", "scene_change":
	case "fixed_interval":
		if c.ScreenshotInterval <= 0 {
			return ErrIntervalRequired
		}
	default:
		return ErrUnknownSamplingMode
	}

	if c.ScreenshotCount <= 0 || c.MaxScreenshots <= 0 {
		return ErrInvalidCount
	}

	switch strings.ToLower(c.ScreenshotFormat) {
	case "png", "jpg", "jpeg":
	default:
		return ErrUnknownFormat
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, TempDir: %s, StorageBackend: %s, S3Bucket: %s, S3Region: %s, MinIOEndpoint: %s, MinIOBucket: %s, SamplingMode: %s, ScreenshotCount: %d, ScreenshotFormat: %s, ExtractorURL: %s, SessionTTL: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.TempDir,
		c.StorageBackend,
		c.S3Bucket,
		c.S3Region,
		c.MinIOEndpoint,
		c.MinIOBucket,
		c.SamplingMode,
		c.ScreenshotCount,
		c.ScreenshotFormat,
		c.ExtractorURL,
		c.SessionTTL,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
