package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/maauso/screenshot-api/internal/progress"
	"github.com/maauso/screenshot-api/internal/video"
)

// Prober derives metadata from a selected source.
type Prober interface {
	Probe(ctx context.Context, src video.Source) (video.Metadata, error)
}

// UploadStage transmits a source to the remote target.
type UploadStage interface {
	Upload(ctx context.Context, src video.Source, onProgress progress.Func) (video.UploadHandle, error)
}

// ProcessingStage turns an uploaded video into screenshots.
type ProcessingStage interface {
	Process(ctx context.Context, handle video.UploadHandle, onProgress progress.Func) ([]video.Screenshot, error)
}

// Stage names reported to an Observer.
type Stage string

const (
	StageUpload     Stage = "upload"
	StageProcessing Stage = "processing"
)

// Observer is notified about stage and probe outcomes. Calls are made from
// the goroutine running the work and must not block.
type Observer interface {
	StageStarted(stage Stage)
	StageFinished(stage Stage, elapsed time.Duration, err error)
	ProbeFinished(elapsed time.Duration, err error)
}

type nopObserver struct{}

func (nopObserver) StageStarted(Stage)                        {}
func (nopObserver) StageFinished(Stage, time.Duration, error) {}
func (nopObserver) ProbeFinished(time.Duration, error)        {}

// Controller owns one pipeline State and sequences the probe and the
// stages against it. All methods are safe for concurrent use.
type Controller struct {
	prober    Prober
	uploader  UploadStage
	processor ProcessingStage
	observer  Observer
	listener  func(State)
	logger    *slog.Logger
	sampler   *progress.Sampler

	probeTimeout time.Duration

	mu          sync.Mutex
	state       State
	run         uint64
	closed      bool
	cancelRun   context.CancelFunc
	cancelProbe context.CancelFunc
	wg          sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithObserver sets the stage observer.
func WithObserver(o Observer) Option {
	return func(c *Controller) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithListener sets a function receiving a snapshot after every state
// change. It is called with the controller lock held and must not call
// back into the Controller.
func WithListener(fn func(State)) Option {
	return func(c *Controller) {
		c.listener = fn
	}
}

// WithProbeTimeout bounds each metadata probe. Zero means no bound.
func WithProbeTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.probeTimeout = d
	}
}

// NewController creates a Controller in the IDLE phase.
func NewController(prober Prober, uploader UploadStage, processor ProcessingStage, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		prober:    prober,
		uploader:  uploader,
		processor: processor,
		observer:  nopObserver{},
		logger:    logger,
		sampler:   progress.NewSampler(25),
		state:     State{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns a snapshot of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// SelectFile selects src. A non-video source records INVALID_FILE and
// returns ErrInvalidFile without touching phase or source. A video cancels
// any running stage and probe, enters SELECTED and starts probing.
func (c *Controller) SelectFile(src video.Source) (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state.Clone(), ErrClosed
	}

	next, err := applySelect(c.state, src)
	if err != nil {
		c.logger.Warn("rejected file selection",
			slog.String("name", src.Name),
			slog.String("mime_type", src.MIMEType),
		)
		c.setState(next)
		return c.state.Clone(), err
	}

	c.cancelActive()
	c.setState(next)
	c.sampler.Reset()

	c.logger.Info("file selected",
		slog.String("name", src.Name),
		slog.String("size", src.HumanSize()),
		slog.Uint64("generation", next.Generation),
	)

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.probeTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.probeTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	c.cancelProbe = cancel
	c.wg.Add(1)
	go c.probe(ctx, cancel, next.Generation, src)

	return c.state.Clone(), nil
}

// Start runs upload then processing for the selected source. It is
// allowed in SELECTED and, as a restart, in FAILED; otherwise it returns
// ErrStartNotAllowed.
func (c *Controller) Start() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return c.state.Clone(), ErrClosed
	}

	next, err := applyStart(c.state)
	if err != nil {
		return c.state.Clone(), err
	}

	c.setState(next)
	c.run++
	c.sampler.Reset()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelRun = cancel
	c.wg.Add(1)
	go c.execute(ctx, next.Generation, c.run, *next.Source)

	c.logger.Info("pipeline started",
		slog.String("name", next.Source.Name),
		slog.Uint64("generation", next.Generation),
	)
	return c.state.Clone(), nil
}

// Screenshot returns the screenshot with the given 1-based ordinal.
func (c *Controller) Screenshot(ordinal int) (video.Screenshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseComplete {
		return video.Screenshot{}, ErrNotComplete
	}
	for _, shot := range c.state.Screenshots {
		if shot.Ordinal == ordinal {
			return shot, nil
		}
	}
	return video.Screenshot{}, ErrScreenshotNotFound
}

// Close cancels in-flight work and waits for it to return. Results of the
// cancelled work are dropped and later commands return ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.cancelActive()
	c.mu.Unlock()

	c.wg.Wait()
}

// cancelActive cancels the running stage and probe. Caller holds mu.
func (c *Controller) cancelActive() {
	if c.cancelRun != nil {
		c.cancelRun()
		c.cancelRun = nil
	}
	if c.cancelProbe != nil {
		c.cancelProbe()
		c.cancelProbe = nil
	}
}

// setState replaces the state and notifies the listener. Caller holds mu.
func (c *Controller) setState(next State) {
	c.state = next
	if c.listener != nil {
		c.listener(next.Clone())
	}
}

// execute runs the stages of one start. Every merge is keyed on the
// generation and run it was launched for.
func (c *Controller) execute(ctx context.Context, gen, run uint64, src video.Source) {
	defer c.wg.Done()

	c.observer.StageStarted(StageUpload)
	start := time.Now()
	handle, err := c.uploader.Upload(ctx, src, c.progressFunc(gen, run, PhaseUploading))
	c.observer.StageFinished(StageUpload, time.Since(start), err)
	if err != nil {
		c.fail(gen, run, KindUploadFailed, err)
		return
	}
	if !c.merge(gen, run, applyUploadDone) {
		return
	}

	c.observer.StageStarted(StageProcessing)
	start = time.Now()
	shots, err := c.processor.Process(ctx, handle, c.progressFunc(gen, run, PhaseProcessing))
	c.observer.StageFinished(StageProcessing, time.Since(start), err)
	if err != nil {
		c.fail(gen, run, KindProcessingFailed, err)
		return
	}
	c.merge(gen, run, func(s State) (State, error) {
		return applyProcessingDone(s, shots)
	})
}

func (c *Controller) fail(gen, run uint64, kind ErrorKind, err error) {
	applied := c.merge(gen, run, func(s State) (State, error) {
		return applyFailure(s, kind, err.Error())
	})
	if applied {
		c.logger.Error("pipeline failed",
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
			slog.Uint64("generation", gen),
		)
	}
}

func (c *Controller) progressFunc(gen, run uint64, phase Phase) progress.Func {
	return func(percent int) {
		var logIt bool
		applied := c.merge(gen, run, func(s State) (State, error) {
			next, err := applyProgress(s, phase, percent)
			if err == nil {
				// The sampler is reset under the same lock on selection and start.
				logIt = c.sampler.ShouldLog(string(phase), percent)
			}
			return next, err
		})
		if applied && logIt {
			c.logger.Info("stage progress",
				slog.String("phase", string(phase)),
				slog.Int("progress", percent),
			)
		}
	}
}

// merge applies fn if gen and run still identify the current work.
// A zero run matches any run of the generation.
func (c *Controller) merge(gen, run uint64, fn func(State) (State, error)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || gen != c.state.Generation || (run != 0 && run != c.run) {
		c.logger.Debug("dropping stale result",
			slog.Uint64("generation", gen),
			slog.Uint64("current_generation", c.state.Generation),
		)
		return false
	}

	next, err := fn(c.state)
	if err != nil {
		c.logger.Warn("transition rejected", slog.String("error", err.Error()))
		return false
	}
	c.setState(next)
	return true
}

// probe reads metadata for src. cancel is released when it returns;
// cancelProbe only exists to invalidate a probe that is still running.
func (c *Controller) probe(ctx context.Context, cancel context.CancelFunc, gen uint64, src video.Source) {
	defer c.wg.Done()
	defer cancel()

	start := time.Now()
	md, err := c.prober.Probe(ctx, src)
	if errors.Is(ctx.Err(), context.Canceled) {
		return
	}
	c.observer.ProbeFinished(time.Since(start), err)

	if err != nil {
		if c.merge(gen, 0, func(s State) (State, error) { return applyProbeFailure(s, err.Error()) }) {
			c.logger.Warn("metadata probe failed",
				slog.String("name", src.Name),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if c.merge(gen, 0, func(s State) (State, error) { return applyMetadata(s, md) }) {
		c.logger.Info("metadata probed",
			slog.String("name", src.Name),
			slog.String("duration", md.FormatDuration()),
			slog.String("aspect_ratio", md.AspectRatio.String()),
		)
	}
}
