// Package telemetry carries the process metrics and trace spans emitted
// around runs, artifact writes and replays.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "pfsap"

// Run outcomes used as the outcome label.
const (
	OutcomeOK       = "ok"
	OutcomeDiverged = "diverged"
	OutcomeError    = "error"
)

// Metrics holds the collectors of one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	stepDuration   *prometheus.HistogramVec
	divergences    *prometheus.CounterVec
	artifactBytes  *prometheus.CounterVec
	replayedFrames prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "total",
			Help:      "Completed runs by pillar and outcome",
		}, []string{"pillar", "outcome"}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Wall time of a simulation run",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"pillar"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "step_duration_seconds",
			Help:      "Mean wall time of one simulation step",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"pillar"}),
		divergences: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runs",
			Name:      "divergences_total",
			Help:      "Runs that hit a non-finite state or actuation",
		}, []string{"pillar"}),
		artifactBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "artifacts",
			Name:      "bytes_total",
			Help:      "Bytes written to run directories",
		}, []string{"pillar"}),
		replayedFrames: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "replay",
			Name:      "frames_total",
			Help:      "Frames streamed by the replayer",
		}),
	}
}

// ObserveRun records one finished run. steps is the executed step count.
func (m *Metrics) ObserveRun(pillar string, steps int, elapsed time.Duration, diverged bool, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	switch {
	case err != nil:
		outcome = OutcomeError
	case diverged:
		outcome = OutcomeDiverged
	}
	m.runs.WithLabelValues(pillar, outcome).Inc()
	if err != nil {
		return
	}
	m.runDuration.WithLabelValues(pillar).Observe(elapsed.Seconds())
	if steps > 0 {
		m.stepDuration.WithLabelValues(pillar).Observe(elapsed.Seconds() / float64(steps))
	}
	if diverged {
		m.divergences.WithLabelValues(pillar).Inc()
	}
}

func (m *Metrics) AddArtifactBytes(pillar string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.artifactBytes.WithLabelValues(pillar).Add(float64(n))
}

func (m *Metrics) AddReplayedFrames(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.replayedFrames.Add(float64(n))
}

// Registry exposes the underlying registry for gathering and tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
