// Package pipeline provides the screenshot pipeline state machine.
// State is a plain value changed only through the apply* transition
// functions; Controller owns one State and runs the metadata probe and the
// upload and processing stages against it, dropping results that belong to
// an abandoned selection or run.
package pipeline

import (
	"errors"
	"fmt"

	"github.com/maauso/screenshot-api/internal/video"
)

// Phase is a discrete stage of the pipeline lifecycle.
type Phase string

const (
	// PhaseIdle indicates no file has been selected yet.
	PhaseIdle Phase = "IDLE"
	// PhaseSelected indicates a valid video is selected and waiting for start.
	PhaseSelected Phase = "SELECTED"
	// PhaseUploading indicates the source is being sent to the object store.
	PhaseUploading Phase = "UPLOADING"
	// PhaseProcessing indicates screenshots are being extracted.
	PhaseProcessing Phase = "PROCESSING"
	// PhaseComplete indicates screenshots are available.
	PhaseComplete Phase = "COMPLETE"
	// PhaseFailed indicates the upload or processing stage failed.
	PhaseFailed Phase = "FAILED"
)

// IsActive returns true while a stage is running.
func (p Phase) IsActive() bool {
	return p == PhaseUploading || p == PhaseProcessing
}

// validTransitions defines which phase changes are allowed.
var validTransitions = map[Phase][]Phase{
	PhaseIdle:       {PhaseSelected},
	PhaseSelected:   {PhaseSelected, PhaseUploading, PhaseFailed},
	PhaseUploading:  {PhaseSelected, PhaseProcessing, PhaseFailed},
	PhaseProcessing: {PhaseSelected, PhaseComplete, PhaseFailed},
	PhaseComplete:   {PhaseSelected},
	PhaseFailed:     {PhaseSelected, PhaseUploading},
}

// canTransition checks if a transition from one phase to another is valid.
func canTransition(from, to Phase) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, p := range allowed {
		if p == to {
			return true
		}
	}
	return false
}

// ErrorKind classifies pipeline errors.
type ErrorKind string

const (
	// KindInvalidFile indicates the selected file is not a video.
	KindInvalidFile ErrorKind = "INVALID_FILE"
	// KindProbeError indicates metadata could not be derived.
	KindProbeError ErrorKind = "PROBE_ERROR"
	// KindUploadFailed indicates the upload stage failed.
	KindUploadFailed ErrorKind = "UPLOAD_FAILED"
	// KindProcessingFailed indicates the processing stage failed.
	KindProcessingFailed ErrorKind = "PROCESSING_FAILED"
)

// ErrorInfo is a user-visible error.
type ErrorInfo struct {
	Kind    ErrorKind
	Message string
}

// Static errors returned by transitions and the Controller.
var (
	// ErrInvalidFile is returned when a selected file is not a video.
	ErrInvalidFile = errors.New("select a valid video file")
	// ErrStartNotAllowed is returned when start is requested outside
	// SELECTED or FAILED.
	ErrStartNotAllowed = errors.New("start is only allowed after a file is selected")
	// ErrInvalidTransition is returned when a phase change is not allowed.
	ErrInvalidTransition = errors.New("invalid phase transition")
	// ErrInvalidState is returned by Validate when an invariant is broken.
	ErrInvalidState = errors.New("invalid pipeline state")
	// ErrNotComplete is returned when screenshots are requested before
	// the pipeline completed.
	ErrNotComplete = errors.New("screenshots are not available yet")
	// ErrScreenshotNotFound is returned for an unknown ordinal.
	ErrScreenshotNotFound = errors.New("screenshot not found")
	// ErrClosed is returned by commands on a closed Controller.
	ErrClosed = errors.New("pipeline closed")
)

// State is the single source of truth of one pipeline.
type State struct {
	// Source is the selected file; nil while IDLE.
	Source *video.Source
	// Metadata is set once the probe for the current Source resolves.
	Metadata *video.Metadata
	// MetadataError is set when the probe for the current Source fails.
	MetadataError *ErrorInfo
	// Phase is the lifecycle phase.
	Phase Phase
	// Progress is the current stage progress (0..100).
	Progress int
	// Screenshots is non-empty only when COMPLETE.
	Screenshots []video.Screenshot
	// Error is the most recent error.
	Error *ErrorInfo
	// Generation is bumped on every accepted selection.
	Generation uint64
}

// Clone creates a deep copy of the state for safe reads.
func (s State) Clone() State {
	out := s
	if s.Source != nil {
		src := *s.Source
		out.Source = &src
	}
	if s.Metadata != nil {
		md := *s.Metadata
		out.Metadata = &md
	}
	if s.MetadataError != nil {
		e := *s.MetadataError
		out.MetadataError = &e
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	if s.Screenshots != nil {
		out.Screenshots = make([]video.Screenshot, len(s.Screenshots))
		copy(out.Screenshots, s.Screenshots)
	}
	return out
}

// Validate checks the state invariants.
func (s State) Validate() error {
	if _, ok := validTransitions[s.Phase]; !ok {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidState, s.Phase)
	}
	if (s.Phase == PhaseIdle) != (s.Source == nil) {
		return fmt.Errorf("%w: source must be set exactly when not idle", ErrInvalidState)
	}
	if s.Progress < 0 || s.Progress > 100 {
		return fmt.Errorf("%w: progress %d out of range", ErrInvalidState, s.Progress)
	}
	switch s.Phase {
	case PhaseComplete:
		if s.Progress != 100 {
			return fmt.Errorf("%w: complete with progress %d", ErrInvalidState, s.Progress)
		}
	case PhaseUploading, PhaseProcessing:
	default:
		if s.Progress != 0 {
			return fmt.Errorf("%w: progress %d outside a stage", ErrInvalidState, s.Progress)
		}
	}
	if (s.Phase == PhaseComplete) != (len(s.Screenshots) > 0) {
		return fmt.Errorf("%w: screenshots must be present exactly when complete", ErrInvalidState)
	}
	if s.Phase == PhaseFailed && s.Error == nil {
		return fmt.Errorf("%w: failed without error", ErrInvalidState)
	}
	if s.Error != nil && s.Error.Kind != KindInvalidFile && s.Phase != PhaseFailed {
		return fmt.Errorf("%w: %s error outside failed phase", ErrInvalidState, s.Error.Kind)
	}
	if s.Metadata != nil && s.MetadataError != nil {
		return fmt.Errorf("%w: metadata and metadata error both set", ErrInvalidState)
	}
	return nil
}

// applySelect handles a file selection. A non-video candidate leaves phase
// and source untouched and records an INVALID_FILE error. A video starts a
// new generation in SELECTED with everything else reset.
func applySelect(s State, src video.Source) (State, error) {
	if !src.IsVideo() {
		s = s.Clone()
		s.Error = &ErrorInfo{Kind: KindInvalidFile, Message: ErrInvalidFile.Error()}
		return s, ErrInvalidFile
	}
	return State{
		Source:     &src,
		Phase:      PhaseSelected,
		Generation: s.Generation + 1,
	}, nil
}

// applyStart enters UPLOADING from SELECTED, or restarts from FAILED.
func applyStart(s State) (State, error) {
	if (s.Phase != PhaseSelected && s.Phase != PhaseFailed) || s.Source == nil {
		return s, fmt.Errorf("%w (phase %s)", ErrStartNotAllowed, s.Phase)
	}
	s = s.Clone()
	s.Phase = PhaseUploading
	s.Progress = 0
	s.Error = nil
	s.Screenshots = nil
	return s, nil
}

// applyProgress records stage progress. Values outside 0..100 are clamped
// and the stored value never decreases within a phase.
func applyProgress(s State, phase Phase, percent int) (State, error) {
	if s.Phase != phase || !phase.IsActive() {
		return s, fmt.Errorf("%w: progress for %s while %s", ErrInvalidTransition, phase, s.Phase)
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	if percent > s.Progress {
		s.Progress = percent
	}
	return s, nil
}

// applyUploadDone moves from UPLOADING to PROCESSING.
func applyUploadDone(s State) (State, error) {
	if !canTransition(s.Phase, PhaseProcessing) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Phase, PhaseProcessing)
	}
	s = s.Clone()
	s.Phase = PhaseProcessing
	s.Progress = 0
	s.Error = nil
	return s, nil
}

// applyProcessingDone publishes the screenshots and moves to COMPLETE.
func applyProcessingDone(s State, shots []video.Screenshot) (State, error) {
	if !canTransition(s.Phase, PhaseComplete) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Phase, PhaseComplete)
	}
	if len(shots) == 0 {
		return s, fmt.Errorf("%w: complete without screenshots", ErrInvalidTransition)
	}
	s = s.Clone()
	s.Phase = PhaseComplete
	s.Progress = 100
	s.Error = nil
	s.Screenshots = make([]video.Screenshot, len(shots))
	copy(s.Screenshots, shots)
	return s, nil
}

// applyFailure moves to FAILED with the given error.
func applyFailure(s State, kind ErrorKind, message string) (State, error) {
	if !canTransition(s.Phase, PhaseFailed) {
		return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Phase, PhaseFailed)
	}
	s = s.Clone()
	s.Phase = PhaseFailed
	s.Progress = 0
	s.Screenshots = nil
	s.Error = &ErrorInfo{Kind: kind, Message: message}
	return s, nil
}

// applyMetadata stores probe results. It never changes the phase.
func applyMetadata(s State, md video.Metadata) (State, error) {
	if s.Source == nil {
		return s, fmt.Errorf("%w: metadata without source", ErrInvalidTransition)
	}
	s = s.Clone()
	s.Metadata = &md
	s.MetadataError = nil
	return s, nil
}

// applyProbeFailure records a probe error. It never changes the phase.
func applyProbeFailure(s State, message string) (State, error) {
	if s.Source == nil {
		return s, fmt.Errorf("%w: probe failure without source", ErrInvalidTransition)
	}
	s = s.Clone()
	s.Metadata = nil
	s.MetadataError = &ErrorInfo{Kind: KindProbeError, Message: message}
	return s, nil
}
