package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/maauso/screenshot-api/internal/video"
)

// Static errors for probe operations.
var (
	// ErrFFprobeExecution is returned when the ffprobe command fails.
	ErrFFprobeExecution = errors.New("ffprobe execution failed")
	// ErrNoVideoStream is returned when the container has no video stream.
	ErrNoVideoStream = errors.New("no video stream found")
	// ErrInvalidDuration is returned when the container duration is missing or negative.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrEmptyPath is returned when no input path is provided.
	ErrEmptyPath = errors.New("empty input path")
)

// probeResult is the subset of ffprobe's JSON output the prober reads.
type probeResult struct {
	Streams []probeStream `json:"streams"`
	Format  probeFormat   `json:"format"`
}

type probeStream struct {
	Index     int    `json:"index"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Duration  string `json:"duration"`
}

type probeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// FFprobe implements Prober using the ffprobe CLI.
type FFprobe struct {
	// ffprobePath is the path to the ffprobe binary. Defaults to "ffprobe".
	ffprobePath string
}

// Compile-time check that FFprobe implements Prober.
var _ Prober = (*FFprobe)(nil)

// NewFFprobe creates a new FFprobe.
// If ffprobePath is empty, it defaults to "ffprobe" (found via PATH).
func NewFFprobe(ffprobePath string) *FFprobe {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobe{ffprobePath: ffprobePath}
}

// Probe implements Prober.Probe.
func (p *FFprobe) Probe(ctx context.Context, src video.Source) (video.Metadata, error) {
	out, err := p.inspect(ctx, src.Path)
	if err != nil {
		return video.Metadata{}, err
	}
	return parseProbeOutput(out)
}

// Duration implements Prober.Duration.
func (p *FFprobe) Duration(ctx context.Context, path string) (float64, error) {
	out, err := p.inspect(ctx, path)
	if err != nil {
		return 0, err
	}
	var result probeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return containerDuration(result)
}

// inspect runs ffprobe and returns its raw JSON output.
func (p *FFprobe) inspect(ctx context.Context, path string) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrEmptyPath
	}

	// #nosec G204 - ffprobePath is set by the application, not user input
	cmd := exec.CommandContext(ctx, p.ffprobePath,
		"-v", "error",
		"-hide_banner",
		"-show_format",
		"-show_streams",
		"-of", "json",
		"--", path,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("ffprobe cancelled: %w", ctx.Err())
		}
		return nil, fmt.Errorf("%w: %w, stderr: %s", ErrFFprobeExecution, err, strings.TrimSpace(stderr.String()))
	}

	return stdout.Bytes(), nil
}

// parseProbeOutput converts ffprobe JSON into video metadata.
func parseProbeOutput(data []byte) (video.Metadata, error) {
	var result probeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return video.Metadata{}, fmt.Errorf("parse ffprobe output: %w", err)
	}

	var stream *probeStream
	for i := range result.Streams {
		if strings.EqualFold(result.Streams[i].CodecType, "video") {
			stream = &result.Streams[i]
			break
		}
	}
	if stream == nil {
		return video.Metadata{}, ErrNoVideoStream
	}

	ratio, err := video.ReduceAspectRatio(stream.Width, stream.Height)
	if err != nil {
		return video.Metadata{}, err
	}

	duration, err := containerDuration(result)
	if err != nil {
		// Some containers only report duration on the stream.
		duration, err = parseSeconds(stream.Duration)
		if err != nil {
			return video.Metadata{}, err
		}
	}

	return video.Metadata{
		DurationSeconds: duration,
		Width:           stream.Width,
		Height:          stream.Height,
		AspectRatio:     ratio,
	}, nil
}

func containerDuration(result probeResult) (float64, error) {
	return parseSeconds(result.Format.Duration)
}

func parseSeconds(value string) (float64, error) {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" || cleaned == "N/A" {
		return 0, fmt.Errorf("%w: not reported", ErrInvalidDuration)
	}
	d, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	if d < 0 || math.IsNaN(d) || math.IsInf(d, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, value)
	}
	return d, nil
}
