package extract

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/maauso/screenshot-api/internal/extractsvc"
	"github.com/maauso/screenshot-api/internal/progress"
	"github.com/maauso/screenshot-api/internal/video"
)

const cancelTimeout = 5 * time.Second

// Compile-time check that RemoteService implements Service.
var _ Service = (*RemoteService)(nil)

// RemoteService adapts the extraction service client to the Service
// interface. It submits the upload URL, polls until the job is terminal and
// cancels the remote job when the context is cancelled.
type RemoteService struct {
	client       extractsvc.Client
	sampler      Sampler
	format       string
	pollInterval time.Duration
	logger       *slog.Logger
}

// RemoteOption configures a RemoteService.
type RemoteOption func(*RemoteService)

// WithPollInterval sets how often job status is polled.
func WithPollInterval(d time.Duration) RemoteOption {
	return func(s *RemoteService) {
		s.pollInterval = d
	}
}

// WithRemoteFormat sets the requested image format.
func WithRemoteFormat(format string) RemoteOption {
	return func(s *RemoteService) {
		s.format = format
	}
}

// WithRemoteLogger sets the logger.
func WithRemoteLogger(logger *slog.Logger) RemoteOption {
	return func(s *RemoteService) {
		s.logger = logger
	}
}

// NewRemoteService creates a RemoteService. A nil sampler selects
// FixedCount with the default count.
func NewRemoteService(client extractsvc.Client, sampler Sampler, opts ...RemoteOption) *RemoteService {
	if sampler == nil {
		sampler = FixedCount{Count: DefaultCount}
	}
	s := &RemoteService{
		client:       client,
		sampler:      sampler,
		format:       "png",
		pollInterval: 2 * time.Second,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extract implements Service.
func (s *RemoteService) Extract(ctx context.Context, handle video.UploadHandle, onProgress progress.Func) ([]video.Screenshot, error) {
	if handle.URL == "" {
		return nil, ErrEmptyHandle
	}
	report(onProgress, 0)

	req := submitRequest(s.sampler)
	req.VideoURL = handle.URL
	req.Format = s.format

	jobID, err := s.client.Submit(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("remote extract submit: %w", err)
	}
	log := s.logger.With(slog.String("remote_job_id", jobID))
	log.Info("remote extraction submitted", slog.String("mode", req.Mode))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cancel(ctx, log, jobID)
			return nil, fmt.Errorf("remote extract: %w", ctx.Err())
		case <-ticker.C:
		}

		result, err := s.client.Poll(ctx, jobID)
		if err != nil {
			if ctx.Err() != nil {
				s.cancel(ctx, log, jobID)
			}
			return nil, fmt.Errorf("remote extract poll: %w", err)
		}

		if result.Progress > 0 {
			report(onProgress, result.Progress)
		}

		if !result.Status.IsTerminal() {
			continue
		}
		if result.Status != extractsvc.StatusCompleted {
			msg := result.Error
			if msg == "" {
				msg = string(result.Status)
			}
			return nil, fmt.Errorf("%w: %s", ErrRemoteJobFailed, msg)
		}
		if len(result.Images) == 0 {
			return nil, ErrNoFrames
		}

		log.Info("remote extraction completed", slog.Int("count", len(result.Images)))
		return toScreenshots(result.Images), nil
	}
}

// cancel asks the service to drop jobID. It runs detached from ctx, which
// is already done.
func (s *RemoteService) cancel(ctx context.Context, log *slog.Logger, jobID string) {
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelTimeout)
	defer cancel()
	if err := s.client.Cancel(cctx, jobID); err != nil {
		log.Warn("failed to cancel remote extraction", slog.String("error", err.Error()))
	}
}

func submitRequest(sampler Sampler) extractsvc.SubmitRequest {
	switch v := sampler.(type) {
	case FixedInterval:
		return extractsvc.SubmitRequest{
			Mode:            extractsvc.ModeFixedInterval,
			IntervalSeconds: v.Every.Seconds(),
			MaxFrames:       v.Max,
		}
	case SceneChange:
		return extractsvc.SubmitRequest{
			Mode:           extractsvc.ModeSceneChange,
			SceneThreshold: v.Threshold,
			MaxFrames:      v.Max,
		}
	case FixedCount:
		return extractsvc.SubmitRequest{Mode: extractsvc.ModeFixedCount, Count: v.Count}
	default:
		return extractsvc.SubmitRequest{Mode: extractsvc.ModeFixedCount, Count: DefaultCount}
	}
}

func toScreenshots(images []extractsvc.Image) []video.Screenshot {
	sorted := make([]extractsvc.Image, len(images))
	copy(sorted, images)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimestampSeconds < sorted[j].TimestampSeconds
	})

	shots := make([]video.Screenshot, len(sorted))
	for i, img := range sorted {
		shots[i] = video.Screenshot{
			Ordinal:          i + 1,
			URL:              img.URL,
			TimestampSeconds: img.TimestampSeconds,
		}
	}
	return shots
}
