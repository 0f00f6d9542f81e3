package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/maauso/screenshot-api/internal/media"
	"github.com/maauso/screenshot-api/internal/progress"
	"github.com/maauso/screenshot-api/internal/storage"
	"github.com/maauso/screenshot-api/internal/video"
)

// Share of progress spent fetching the uploaded object; frame capture
// covers the rest.
const downloadShare = 10

// Compile-time check that FFmpegService implements Service.
var _ Service = (*FFmpegService)(nil)

// FFmpegService extracts screenshots locally: it downloads the uploaded
// object, samples timestamps, grabs one frame per timestamp and stores every
// image back in the object store.
type FFmpegService struct {
	store   storage.ObjectStore
	prober  media.Prober
	frames  media.FrameExtractor
	sampler Sampler
	workDir string
	format  string
	logger  *slog.Logger
}

// FFmpegOption configures an FFmpegService.
type FFmpegOption func(*FFmpegService)

// WithWorkDir sets the directory scratch files are created in.
func WithWorkDir(dir string) FFmpegOption {
	return func(s *FFmpegService) {
		s.workDir = dir
	}
}

// WithFormat sets the screenshot image format ("png" or "jpg").
func WithFormat(format string) FFmpegOption {
	return func(s *FFmpegService) {
		s.format = strings.ToLower(strings.TrimPrefix(format, "."))
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) FFmpegOption {
	return func(s *FFmpegService) {
		s.logger = logger
	}
}

// NewFFmpegService creates an FFmpegService. A nil sampler selects
// FixedCount with the default count.
func NewFFmpegService(store storage.ObjectStore, prober media.Prober, frames media.FrameExtractor, sampler Sampler, opts ...FFmpegOption) *FFmpegService {
	if sampler == nil {
		sampler = FixedCount{Count: DefaultCount}
	}
	s := &FFmpegService{
		store:   store,
		prober:  prober,
		frames:  frames,
		sampler: sampler,
		workDir: os.TempDir(),
		format:  "png",
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Extract implements Service.
func (s *FFmpegService) Extract(ctx context.Context, handle video.UploadHandle, onProgress progress.Func) ([]video.Screenshot, error) {
	if handle.Key == "" {
		return nil, ErrEmptyHandle
	}
	report(onProgress, 0)

	dir, err := os.MkdirTemp(s.workDir, "extract_*")
	if err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(dir) }()

	input := filepath.Join(dir, "source"+path.Ext(handle.Key))
	if err := s.store.Download(ctx, handle.Key, input); err != nil {
		return nil, fmt.Errorf("download %s: %w", handle.Key, err)
	}
	report(onProgress, downloadShare)

	times, err := s.sampler.Sample(ctx, &fileSource{path: input, prober: s.prober, frames: s.frames})
	if err != nil {
		return nil, fmt.Errorf("sample timestamps: %w", err)
	}
	if len(times) == 0 {
		return nil, ErrNoFrames
	}

	prefix := path.Join("screenshots", uuid.NewString())
	shots := make([]video.Screenshot, 0, len(times))
	for i, at := range times {
		shot, err := s.capture(ctx, dir, input, prefix, i+1, at)
		if err != nil {
			s.discard(shots)
			return nil, err
		}
		shots = append(shots, shot)
		report(onProgress, downloadShare+(100-downloadShare)*(i+1)/len(times))
	}

	s.logger.Info("screenshots extracted",
		slog.String("key", handle.Key),
		slog.Int("count", len(shots)),
	)
	return shots, nil
}

func (s *FFmpegService) capture(ctx context.Context, dir, input, prefix string, ordinal int, at float64) (video.Screenshot, error) {
	name := fmt.Sprintf("shot_%02d.%s", ordinal, s.format)
	output := filepath.Join(dir, name)
	if err := s.frames.ExtractFrameAt(ctx, input, at, output); err != nil {
		return video.Screenshot{}, fmt.Errorf("extract frame %d at %.3fs: %w", ordinal, at, err)
	}

	f, err := os.Open(output) // #nosec G304 - path is inside our work dir
	if err != nil {
		return video.Screenshot{}, fmt.Errorf("open frame %d: %w", ordinal, err)
	}
	defer func() { _ = f.Close() }()

	size := int64(-1)
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	key := path.Join(prefix, name)
	url, err := s.store.Put(ctx, key, f, size, contentType(s.format))
	if err != nil {
		return video.Screenshot{}, fmt.Errorf("store frame %d: %w", ordinal, err)
	}

	return video.Screenshot{Ordinal: ordinal, URL: url, Key: key, TimestampSeconds: at}, nil
}

// discard removes already stored frames of an abandoned extraction.
func (s *FFmpegService) discard(shots []video.Screenshot) {
	if len(shots) == 0 {
		return
	}
	keys := make([]string, len(shots))
	for i, shot := range shots {
		keys[i] = shot.Key
	}
	if err := s.store.Delete(context.Background(), keys); err != nil {
		s.logger.Warn("failed to discard partial screenshots",
			slog.Int("count", len(keys)),
			slog.String("error", err.Error()),
		)
	}
}

func contentType(format string) string {
	switch format {
	case "jpg", "jpeg":
		return "image/jpeg"
	default:
		return "image/" + format
	}
}

// fileSource adapts a local video file to FrameSource.
type fileSource struct {
	path   string
	prober media.Prober
	frames media.FrameExtractor
}

func (f *fileSource) Duration(ctx context.Context) (float64, error) {
	return f.prober.Duration(ctx, f.path)
}

func (f *fileSource) SceneCuts(ctx context.Context, threshold float64) ([]float64, error) {
	return f.frames.DetectScenes(ctx, f.path, threshold)
}
