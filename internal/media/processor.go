// Package media provides video probing and frame extraction capabilities
// backed by the ffprobe and ffmpeg command-line tools.
package media

import (
	"context"

	"github.com/maauso/screenshot-api/internal/video"
)

// Prober derives metadata from a video file without decoding all frames.
type Prober interface {
	// Probe reads the container duration and the native dimensions of the
	// first video stream of src, and reduces the dimensions to an aspect ratio.
	Probe(ctx context.Context, src video.Source) (video.Metadata, error)

	// Duration returns the container duration of the file at path in seconds.
	Duration(ctx context.Context, path string) (float64, error)
}

// FrameExtractor grabs still images from a video file.
type FrameExtractor interface {
	// ExtractFrameAt writes the frame at the given media time (seconds) of
	// input to output. The image format follows the output extension.
	ExtractFrameAt(ctx context.Context, input string, at float64, output string) error

	// DetectScenes returns the media times (seconds) at which the scene score
	// exceeds threshold (0..1), in ascending order.
	DetectScenes(ctx context.Context, input string, threshold float64) ([]float64, error)
}
