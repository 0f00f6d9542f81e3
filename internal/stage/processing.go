package stage

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/maauso/screenshot-api/internal/extract"
	"github.com/maauso/screenshot-api/internal/progress"
	"github.com/maauso/screenshot-api/internal/video"
)

// Processing turns an uploaded video into screenshots through an
// extraction service.
type Processing struct {
	service extract.Service
	timeout time.Duration
	logger  *slog.Logger
}

// NewProcessing creates a processing stage. A zero timeout disables the
// stage deadline.
func NewProcessing(service extract.Service, timeout time.Duration, logger *slog.Logger) *Processing {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processing{service: service, timeout: timeout, logger: logger}
}

// Process extracts screenshots for handle. The result is ordered by media
// time with ordinals 1..n.
func (p *Processing) Process(ctx context.Context, handle video.UploadHandle, onProgress progress.Func) ([]video.Screenshot, error) {
	tracker := progress.NewTracker(onProgress)
	defer tracker.Stop()
	tracker.Report(0)

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	start := time.Now()
	shots, err := p.service.Extract(ctx, handle, tracker.Report)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, err)
	}
	if len(shots) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrProcessingFailed, ErrNoScreenshots)
	}

	shots = normalize(shots)
	p.logger.Info("processing finished",
		slog.String("key", handle.Key),
		slog.Int("screenshots", len(shots)),
		slog.Duration("elapsed", time.Since(start)),
	)

	tracker.Finish()
	return shots, nil
}

// normalize returns a copy of shots sorted by media time, then by the
// service's ordinal, renumbered 1..n.
func normalize(shots []video.Screenshot) []video.Screenshot {
	out := make([]video.Screenshot, len(shots))
	copy(out, shots)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TimestampSeconds != out[j].TimestampSeconds {
			return out[i].TimestampSeconds < out[j].TimestampSeconds
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	for i := range out {
		out[i].Ordinal = i + 1
	}
	return out
}
