// Package bootstrap provides dependency initialization for the screenshot API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/maauso/screenshot-api/internal/config"
	"github.com/maauso/screenshot-api/internal/extract"
	"github.com/maauso/screenshot-api/internal/extractsvc"
	"github.com/maauso/screenshot-api/internal/media"
	"github.com/maauso/screenshot-api/internal/metrics"
	"github.com/maauso/screenshot-api/internal/pipeline"
	"github.com/maauso/screenshot-api/internal/session"
	"github.com/maauso/screenshot-api/internal/stage"
	"github.com/maauso/screenshot-api/internal/storage"
)

// Store is a storage backend: temporary files for selections plus the
// object store uploads and screenshots go to.
type Store interface {
	storage.Storage
	storage.ObjectStore
}

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Sessions *session.Manager
	Store    Store
	Metrics  *metrics.Recorder
}

// NewDependencies creates and initializes all dependencies for the application.
// Collectors are registered with reg.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (*Dependencies, error) {
	store, err := initStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	service, err := initExtraction(cfg, store, logger)
	if err != nil {
		return nil, err
	}

	recorder := metrics.NewRecorder(reg)
	prober := media.NewFFprobe(cfg.FFprobePath)
	uploader := stage.NewUpload(store, cfg.UploadTimeout, logger)
	processor := stage.NewProcessing(service, cfg.ProcessingTimeout, logger)

	factory := func(sessionID string) *pipeline.Controller {
		return pipeline.NewController(
			prober,
			uploader,
			processor,
			logger.With(slog.String("session_id", sessionID)),
			pipeline.WithObserver(recorder),
			pipeline.WithProbeTimeout(cfg.ProbeTimeout),
			pipeline.WithListener(completionCounter(recorder)),
		)
	}

	sessions := session.NewManager(factory, store, cfg.SessionTTL, logger, session.WithHooks(recorder))

	return &Dependencies{
		Sessions: sessions,
		Store:    store,
		Metrics:  recorder,
	}, nil
}

// completionCounter returns a listener that counts screenshots each time a
// controller enters COMPLETE. The listener runs under the controller's lock,
// so the phase it remembers is never accessed concurrently.
func completionCounter(recorder *metrics.Recorder) func(pipeline.State) {
	var last pipeline.Phase
	return func(st pipeline.State) {
		if st.Phase == pipeline.PhaseComplete && last != pipeline.PhaseComplete {
			recorder.ScreenshotsGenerated(len(st.Screenshots))
		}
		last = st.Phase
	}
}

// initStorage creates the storage backend selected by STORAGE_BACKEND.
func initStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch strings.ToLower(cfg.StorageBackend) {
	case config.StorageS3:
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.TempDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil

	case config.StorageMinIO:
		minioStore, err := storage.NewMinIOStorage(cfg.TempDir, storage.MinIOConfig{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			UseSSL:    cfg.MinIOUseSSL,
			Bucket:    cfg.MinIOBucket,
			Region:    cfg.S3Region,
		})
		if err != nil {
			return nil, fmt.Errorf("create MinIO storage: %w", err)
		}

		ensureCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := minioStore.EnsureBucket(ensureCtx); err != nil {
			return nil, fmt.Errorf("prepare MinIO bucket: %w", err)
		}
		logger.Info("MinIO storage configured",
			slog.String("endpoint", cfg.MinIOEndpoint),
			slog.String("bucket", cfg.MinIOBucket),
		)
		return minioStore, nil

	default:
		localStore, err := storage.NewLocalStorage(cfg.TempDir)
		if err != nil {
			return nil, fmt.Errorf("create local storage: %w", err)
		}
		logger.Info("local storage configured",
			slog.String("temp_dir", localStore.TempDir()),
		)
		return localStore, nil
	}
}

// initExtraction builds the screenshot extraction service: a remote
// extraction service when EXTRACTOR_URL is set, local ffmpeg otherwise.
func initExtraction(cfg *config.Config, store Store, logger *slog.Logger) (extract.Service, error) {
	sampler, err := extract.ParseSampler(extract.SamplingConfig{
		Mode:           cfg.SamplingMode,
		Count:          cfg.ScreenshotCount,
		Interval:       cfg.ScreenshotInterval,
		SceneThreshold: cfg.SceneThreshold,
		MaxFrames:      cfg.MaxScreenshots,
	})
	if err != nil {
		return nil, fmt.Errorf("configure sampling: %w", err)
	}

	if cfg.ExtractorEnabled() {
		client, err := extractsvc.NewClient(cfg.ExtractorURL, extractsvc.WithAPIKey(cfg.ExtractorAPIKey))
		if err != nil {
			return nil, fmt.Errorf("create extractor client: %w", err)
		}
		logger.Info("remote extraction configured",
			slog.String("extractor_url", cfg.ExtractorURL),
			slog.String("sampling_mode", cfg.SamplingMode),
		)
		return extract.NewRemoteService(client, sampler,
			extract.WithPollInterval(cfg.ExtractorPollInterval),
			extract.WithRemoteFormat(cfg.ScreenshotFormat),
			extract.WithRemoteLogger(logger),
		), nil
	}

	logger.Info("local extraction configured",
		slog.String("ffmpeg", cfg.FFmpegPath),
		slog.String("sampling_mode", cfg.SamplingMode),
		slog.String("format", cfg.ScreenshotFormat),
	)
	return extract.NewFFmpegService(store,
		media.NewFFprobe(cfg.FFprobePath),
		media.NewFFmpeg(cfg.FFmpegPath),
		sampler,
		extract.WithWorkDir(cfg.TempDir),
		extract.WithFormat(cfg.ScreenshotFormat),
		extract.WithLogger(logger),
	), nil
}
