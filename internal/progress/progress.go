// Package progress enforces the progress contract shared by the pipeline
// stages: values stay within 0..100, never decrease, 100 is reported exactly
// once and last, and nothing is reported after a stage is abandoned.
package progress

import "sync"

// Func receives progress percentages in the range 0..100.
type Func func(percent int)

// Tracker wraps a Func and enforces the stage progress contract.
// Intermediate reports are capped at 99; only Finish emits 100.
// A Tracker is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	fn      Func
	last    int
	stopped bool
}

// NewTracker creates a Tracker forwarding to fn. A nil fn is allowed.
func NewTracker(fn Func) *Tracker {
	return &Tracker{fn: fn, last: -1}
}

// Report forwards percent if it is greater than the last reported value.
// Values are clamped to 0..99. Reports after Stop or Finish are dropped.
func (t *Tracker) Report(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 99 {
		percent = 99
	}
	t.emit(percent)
}

// Finish reports 100 and stops the tracker.
func (t *Tracker) Finish() {
	t.emit(100)
	t.Stop()
}

// Stop suppresses all further reports.
func (t *Tracker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// Last returns the last forwarded value, or -1 when nothing was reported.
func (t *Tracker) Last() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func (t *Tracker) emit(percent int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || percent <= t.last {
		return
	}
	t.last = percent
	if t.fn != nil {
		t.fn(percent)
	}
}

// Fraction converts done/total into a percentage in 0..100.
// A non-positive total yields 0.
func Fraction(done, total int64) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	if done >= total {
		return 100
	}
	return int(done * 100 / total)
}
