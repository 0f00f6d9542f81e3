// Package extract turns an uploaded video into an ordered set of screenshots.
// The Service interface hides whether frames are grabbed locally with ffmpeg
// or by a remote extraction service; a Sampler decides which media times are
// captured.
package extract

import (
	"context"
	"errors"

	"github.com/maauso/screenshot-api/internal/progress"
	"github.com/maauso/screenshot-api/internal/video"
)

// Static errors for extraction.
var (
	// ErrEmptyHandle is returned when the upload handle has neither key nor URL.
	ErrEmptyHandle = errors.New("extract: upload handle is empty")
	// ErrNoFrames is returned when sampling yields no timestamps or the
	// service returns no images.
	ErrNoFrames = errors.New("extract: no frames extracted")
	// ErrNoDuration is returned when the video has no positive duration.
	ErrNoDuration = errors.New("extract: video has no duration")
	// ErrRemoteJobFailed is returned when the remote job ends unsuccessfully.
	ErrRemoteJobFailed = errors.New("extract: remote job failed")
	// ErrInvalidSampling is returned for unsupported modes or parameters.
	ErrInvalidSampling = errors.New("extract: invalid sampling configuration")
)

// Service extracts screenshots from an uploaded video.
type Service interface {
	// Extract produces screenshots for the video behind handle, reporting
	// progress in 0..100 through onProgress (which may be nil).
	Extract(ctx context.Context, handle video.UploadHandle, onProgress progress.Func) ([]video.Screenshot, error)
}

// FrameSource exposes the properties a Sampler needs from a video.
type FrameSource interface {
	// Duration returns the video duration in seconds.
	Duration(ctx context.Context) (float64, error)

	// SceneCuts returns the media times of scene changes scoring above
	// threshold, in ascending order.
	SceneCuts(ctx context.Context, threshold float64) ([]float64, error)
}

func report(fn progress.Func, percent int) {
	if fn != nil {
		fn(percent)
	}
}
