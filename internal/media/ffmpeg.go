package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
)

// Static errors for ffmpeg operations.
var (
	// ErrInvalidTimestamp is returned when a negative media time is requested.
	ErrInvalidTimestamp = errors.New("invalid timestamp: must not be negative")
	// ErrInvalidThreshold is returned when a scene threshold is outside (0, 1).
	ErrInvalidThreshold = errors.New("invalid scene threshold: must be between 0 and 1")
)

// ptsTimePattern matches the presentation time printed by the showinfo filter.
var ptsTimePattern = regexp.MustCompile(`pts_time:\s*([0-9]+(?:\.[0-9]+)?)`)

// FFmpeg implements FrameExtractor using the ffmpeg CLI.
type FFmpeg struct {
	// ffmpegPath is the path to the ffmpeg binary. Defaults to "ffmpeg".
	ffmpegPath string
}

// Compile-time check that FFmpeg implements FrameExtractor.
var _ FrameExtractor = (*FFmpeg)(nil)

// NewFFmpeg creates a new FFmpeg.
// If ffmpegPath is empty, it defaults to "ffmpeg" (found via PATH).
func NewFFmpeg(ffmpegPath string) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpeg{ffmpegPath: ffmpegPath}
}

// ExtractFrameAt writes a single frame taken at the given media time.
func (f *FFmpeg) ExtractFrameAt(ctx context.Context, input string, at float64, output string) error {
	if at < 0 {
		return fmt.Errorf("%w: got %.3f", ErrInvalidTimestamp, at)
	}

	args := []string{
		"-y",
		// Seeking before -i uses the demuxer's fast keyframe seek.
		"-ss", fmt.Sprintf("%.3f", at),
		"-i", input,
		"-frames:v", "1",
		"-q:v", "2",
		output,
	}

	_, err := f.runFFmpeg(ctx, args)
	return err
}

// DetectScenes runs the scene detection filter and returns the media times
// of the detected cuts.
func (f *FFmpeg) DetectScenes(ctx context.Context, input string, threshold float64) ([]float64, error) {
	if threshold <= 0 || threshold >= 1 {
		return nil, fmt.Errorf("%w: got %.2f", ErrInvalidThreshold, threshold)
	}

	args := []string{
		"-hide_banner",
		"-i", input,
		"-vf", fmt.Sprintf("select='gt(scene,%.2f)',showinfo", threshold),
		"-an",
		"-f", "null",
		"-",
	}

	stderr, err := f.runFFmpeg(ctx, args)
	if err != nil {
		return nil, err
	}
	return parseSceneTimes(stderr), nil
}

// parseSceneTimes extracts the pts_time values printed by showinfo.
func parseSceneTimes(output string) []float64 {
	matches := ptsTimePattern.FindAllStringSubmatch(output, -1)
	times := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		times = append(times, v)
	}
	sort.Float64s(times)
	return times
}

// runFFmpeg executes ffmpeg with the given arguments. It returns the stderr
// output on success and an FFmpegError containing it on failure.
func (f *FFmpeg) runFFmpeg(ctx context.Context, args []string) (string, error) {
	// #nosec G204 - ffmpegPath is set by the application, not user input
	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("ffmpeg cancelled: %w", ctx.Err())
		}
		return "", &FFmpegError{
			Args:   args,
			Stderr: stderr.String(),
			Err:    err,
		}
	}

	return stderr.String(), nil
}

// FFmpegError represents an error from running ffmpeg, including the stderr output.
type FFmpegError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *FFmpegError) Error() string {
	return fmt.Sprintf("ffmpeg error: %v\nargs: %v\nstderr: %s", e.Err, e.Args, e.Stderr)
}

func (e *FFmpegError) Unwrap() error {
	return e.Err
}
