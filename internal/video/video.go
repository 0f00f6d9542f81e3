// Package video provides the domain types shared by the screenshot pipeline:
// the selected source file, its derived metadata, upload handles and the
// generated screenshot references.
package video

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// MIMEPrefix is the media type prefix every selectable source must carry.
const MIMEPrefix = "video/"

// ErrInvalidDimensions is returned when a probed stream reports a zero or
// negative width or height.
var ErrInvalidDimensions = errors.New("invalid dimensions: width and height must be positive")

// Source is a user-selected video file. It is immutable once selected and is
// replaced wholesale when the user picks another file.
type Source struct {
	// Name is the original file name as chosen by the user.
	Name string
	// Size is the file size in bytes.
	Size int64
	// MIMEType is the declared media type, e.g. "video/mp4".
	MIMEType string
	// Path is the local file holding the selected bytes.
	Path string
}

// IsVideo reports whether the declared media type starts with "video/".
func (s Source) IsVideo() bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(s.MIMEType)), MIMEPrefix)
}

// Extension returns the text after the last dot of the file name, without
// the dot. It returns an empty string when the name has no extension.
func (s Source) Extension() string {
	return strings.TrimPrefix(filepath.Ext(s.Name), ".")
}

// HumanSize returns the size in human-readable SI units (e.g. "12 MB").
func (s Source) HumanSize() string {
	if s.Size < 0 {
		return humanize.Bytes(0)
	}
	return humanize.Bytes(uint64(s.Size))
}

// AspectRatio is a width:height pair reduced to lowest terms.
type AspectRatio struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String formats the ratio as "W:H".
func (a AspectRatio) String() string {
	return fmt.Sprintf("%d:%d", a.Width, a.Height)
}

// GCD returns the greatest common divisor of a and b using Euclid's algorithm.
func GCD(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// ReduceAspectRatio reduces width:height to lowest terms.
// It returns ErrInvalidDimensions when either side is not positive.
func ReduceAspectRatio(width, height int) (AspectRatio, error) {
	if width <= 0 || height <= 0 {
		return AspectRatio{}, fmt.Errorf("%w: width=%d, height=%d", ErrInvalidDimensions, width, height)
	}
	d := GCD(width, height)
	return AspectRatio{Width: width / d, Height: height / d}, nil
}

// Metadata holds the attributes derived from a Source by the probe.
type Metadata struct {
	// DurationSeconds is the container duration in seconds.
	DurationSeconds float64
	// Width and Height are the native pixel dimensions of the video stream.
	Width  int
	Height int
	// AspectRatio is Width:Height in lowest terms.
	AspectRatio AspectRatio
}

// FormatDuration renders the duration with two decimals, e.g. "12.50s".
func (m Metadata) FormatDuration() string {
	return fmt.Sprintf("%.2fs", m.DurationSeconds)
}

// UploadHandle identifies an uploaded source in the object store.
type UploadHandle struct {
	// Key is the object key the source was stored under.
	Key string
	// URL is the location reported by the object store.
	URL string
	// Source is the file that was uploaded.
	Source Source
}

// Screenshot references one generated image.
type Screenshot struct {
	// Ordinal is the 1-based display position.
	Ordinal int `json:"ordinal"`
	// URL is the location of the image.
	URL string `json:"url"`
	// Key is the object key of the image, used for downloads.
	Key string `json:"-"`
	// TimestampSeconds is the media time the frame was taken at, when known.
	TimestampSeconds float64 `json:"timestamp_seconds"`
}
