// Package metrics exposes Prometheus collectors for the screenshot pipeline.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/maauso/screenshot-api/internal/pipeline"
)

// Recorder implements pipeline.Observer on top of a set of collectors.
type Recorder struct {
	stageRuns     *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	probes        *prometheus.CounterVec
	probeDuration prometheus.Histogram
	screenshots   prometheus.Counter
	sessions      prometheus.Gauge
}

// Compile-time check that Recorder implements pipeline.Observer.
var _ pipeline.Observer = (*Recorder)(nil)

// NewRecorder registers the collectors with reg and returns a Recorder.
// Use prometheus.DefaultRegisterer to expose them on the default handler.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		stageRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenshot_stage_runs_total",
			Help: "Total number of pipeline stage runs, by stage and outcome",
		}, []string{"stage", "outcome"}),
		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "screenshot_stage_duration_seconds",
			Help:    "Duration of pipeline stages",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
		probes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "screenshot_probes_total",
			Help: "Total number of metadata probes, by outcome",
		}, []string{"outcome"}),
		probeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "screenshot_probe_duration_seconds",
			Help:    "Duration of metadata probes",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
		screenshots: factory.NewCounter(prometheus.CounterOpts{
			Name: "screenshot_images_generated_total",
			Help: "Total number of screenshots generated across all sessions",
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "screenshot_active_sessions",
			Help: "Number of sessions currently held in memory",
		}),
	}
}

// StageStarted implements pipeline.Observer.
func (r *Recorder) StageStarted(stage pipeline.Stage) {
	r.stageRuns.WithLabelValues(string(stage), "started").Inc()
}

// StageFinished implements pipeline.Observer.
func (r *Recorder) StageFinished(stage pipeline.Stage, elapsed time.Duration, err error) {
	r.stageRuns.WithLabelValues(string(stage), outcome(err)).Inc()
	r.stageDuration.WithLabelValues(string(stage)).Observe(elapsed.Seconds())
}

// ProbeFinished implements pipeline.Observer.
func (r *Recorder) ProbeFinished(elapsed time.Duration, err error) {
	r.probes.WithLabelValues(outcome(err)).Inc()
	r.probeDuration.Observe(elapsed.Seconds())
}

// ScreenshotsGenerated adds n to the generated screenshots counter.
func (r *Recorder) ScreenshotsGenerated(n int) {
	r.screenshots.Add(float64(n))
}

// SessionOpened increments the active sessions gauge.
func (r *Recorder) SessionOpened() {
	r.sessions.Inc()
}

// SessionClosed decrements the active sessions gauge.
func (r *Recorder) SessionClosed() {
	r.sessions.Dec()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "failure"
	}
}
