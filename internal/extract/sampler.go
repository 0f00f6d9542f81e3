package extract

import (
	"context"
	"fmt"
	"time"
)

// Sampling mode names accepted by ParseSampler.
const (
	ModeFixedCount    = "fixed_count"
	ModeFixedInterval = "fixed_interval"
	ModeSceneChange   = "scene_change"
)

// Defaults applied when a sampler field is not positive.
const (
	DefaultCount          = 4
	DefaultMaxFrames      = 100
	DefaultSceneThreshold = 0.3
)

// Sampler chooses the media times (seconds) at which frames are captured.
// Returned timestamps are ascending and lie inside [0, duration).
type Sampler interface {
	Sample(ctx context.Context, src FrameSource) ([]float64, error)
}

// SamplingConfig selects and parameterises a Sampler.
type SamplingConfig struct {
	Mode           string
	Count          int
	Interval       time.Duration
	SceneThreshold float64
	MaxFrames      int
}

// ParseSampler builds the Sampler described by cfg. An empty mode selects
// FixedCount.
func ParseSampler(cfg SamplingConfig) (Sampler, error) {
	switch cfg.Mode {
	case "", ModeFixedCount:
		return FixedCount{Count: cfg.Count}, nil
	case ModeFixedInterval:
		if cfg.Interval <= 0 {
			return nil, fmt.Errorf("%w: %s requires a positive interval", ErrInvalidSampling, cfg.Mode)
		}
		return FixedInterval{Every: cfg.Interval, Max: cfg.MaxFrames}, nil
	case ModeSceneChange:
		return SceneChange{Threshold: cfg.SceneThreshold, Max: cfg.MaxFrames}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSampling, cfg.Mode)
	}
}

// FixedCount splits the video into Count equal segments and takes the
// midpoint of each, so a 12s clip with Count 4 yields 1.5, 4.5, 7.5, 10.5.
type FixedCount struct {
	Count int
}

// Sample implements Sampler.
func (s FixedCount) Sample(ctx context.Context, src FrameSource) ([]float64, error) {
	duration, err := positiveDuration(ctx, src)
	if err != nil {
		return nil, err
	}
	count := s.Count
	if count <= 0 {
		count = DefaultCount
	}

	times := make([]float64, count)
	for i := range times {
		times[i] = duration * float64(2*i+1) / float64(2*count)
	}
	return times, nil
}

// FixedInterval takes a frame every Every, starting one interval in.
// Videos shorter than one interval yield their midpoint.
type FixedInterval struct {
	Every time.Duration
	Max   int
}

// Sample implements Sampler.
func (s FixedInterval) Sample(ctx context.Context, src FrameSource) ([]float64, error) {
	duration, err := positiveDuration(ctx, src)
	if err != nil {
		return nil, err
	}
	step := s.Every.Seconds()
	if step <= 0 {
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidSampling)
	}
	limit := maxOrDefault(s.Max)

	var times []float64
	for k := 1; len(times) < limit; k++ {
		t := step * float64(k)
		if t >= duration {
			break
		}
		times = append(times, t)
	}
	if len(times) == 0 {
		times = append(times, duration/2)
	}
	return times, nil
}

// SceneChange takes a frame at each detected scene cut, up to Max.
// Videos without cuts yield their midpoint.
type SceneChange struct {
	Threshold float64
	Max       int
}

// Sample implements Sampler.
func (s SceneChange) Sample(ctx context.Context, src FrameSource) ([]float64, error) {
	duration, err := positiveDuration(ctx, src)
	if err != nil {
		return nil, err
	}
	threshold := s.Threshold
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultSceneThreshold
	}

	cuts, err := src.SceneCuts(ctx, threshold)
	if err != nil {
		return nil, fmt.Errorf("detect scenes: %w", err)
	}

	limit := maxOrDefault(s.Max)
	times := make([]float64, 0, len(cuts))
	for _, t := range cuts {
		if t < 0 || t >= duration {
			continue
		}
		if len(times) == limit {
			break
		}
		times = append(times, t)
	}
	if len(times) == 0 {
		times = append(times, duration/2)
	}
	return times, nil
}

func positiveDuration(ctx context.Context, src FrameSource) (float64, error) {
	duration, err := src.Duration(ctx)
	if err != nil {
		return 0, fmt.Errorf("read duration: %w", err)
	}
	if duration <= 0 {
		return 0, ErrNoDuration
	}
	return duration, nil
}

func maxOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxFrames
	}
	return n
}
