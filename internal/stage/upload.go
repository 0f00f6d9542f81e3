// Package stage implements the two asynchronous pipeline stages: uploading
// the selected video to the object store and turning the uploaded video into
// screenshots. Both stages follow the same progress contract: values never
// decrease, 100 is reported once right before success, and nothing is
// reported after failure or cancellation.
package stage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/maauso/screenshot-api/internal/progress"
	"github.com/maauso/screenshot-api/internal/storage"
	"github.com/maauso/screenshot-api/internal/video"
)

// Static errors for the pipeline stages.
var (
	// ErrUploadFailed wraps every failure of the upload stage.
	ErrUploadFailed = errors.New("upload failed")
	// ErrProcessingFailed wraps every failure of the processing stage.
	ErrProcessingFailed = errors.New("processing failed")
	// ErrNoScreenshots is returned when extraction yields no images.
	ErrNoScreenshots = errors.New("no screenshots produced")
)

// Upload transmits a selected source file to the object store.
type Upload struct {
	store   storage.ObjectStore
	timeout time.Duration
	logger  *slog.Logger
}

// NewUpload creates an upload stage. A zero timeout disables the stage
// deadline.
func NewUpload(store storage.ObjectStore, timeout time.Duration, logger *slog.Logger) *Upload {
	if logger == nil {
		logger = slog.Default()
	}
	return &Upload{store: store, timeout: timeout, logger: logger}
}

// Upload streams src into the object store under uploads/<uuid>/<name>.
// Progress follows the bytes read from the source file.
func (u *Upload) Upload(ctx context.Context, src video.Source, onProgress progress.Func) (video.UploadHandle, error) {
	tracker := progress.NewTracker(onProgress)
	defer tracker.Stop()
	tracker.Report(0)

	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}

	f, err := os.Open(src.Path) // #nosec G304 - path comes from our temp storage
	if err != nil {
		return video.UploadHandle{}, fmt.Errorf("%w: open source: %v", ErrUploadFailed, err)
	}
	defer func() { _ = f.Close() }()

	size := src.Size
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	reader := &progressReader{ctx: ctx, r: f, total: size, tracker: tracker}
	key := path.Join("uploads", uuid.NewString(), filepath.Base(src.Name))

	start := time.Now()
	url, err := u.store.Put(ctx, key, reader, size, src.MIMEType)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return video.UploadHandle{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	u.logger.Info("upload finished",
		slog.String("key", key),
		slog.Int64("bytes", reader.read.Load()),
		slog.Duration("elapsed", time.Since(start)),
	)

	tracker.Finish()
	return video.UploadHandle{Key: key, URL: url, Source: src}, nil
}

// progressReader reports the share of bytes read and aborts once ctx is
// done. It stays seekable so object stores can rewind the body to compute
// checksums before sending it.
type progressReader struct {
	ctx     context.Context
	r       io.ReadSeeker
	total   int64
	read    atomic.Int64
	tracker *progress.Tracker
}

var _ io.ReadSeeker = (*progressReader)(nil)

func (p *progressReader) Read(buf []byte) (int, error) {
	if err := p.ctx.Err(); err != nil {
		return 0, err
	}
	n, err := p.r.Read(buf)
	if n > 0 {
		done := p.read.Add(int64(n))
		p.tracker.Report(progress.Fraction(done, p.total))
	}
	return n, err
}

// Seek moves the underlying file and resets the byte count to the new
// offset. Progress already reported is kept since the tracker never goes
// backwards.
func (p *progressReader) Seek(offset int64, whence int) (int64, error) {
	pos, err := p.r.Seek(offset, whence)
	if err != nil {
		return pos, err
	}
	p.read.Store(pos)
	return pos, nil
}
