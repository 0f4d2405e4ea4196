// Package metrics exposes the worker/API-tier Prometheus collectors named
// in SPEC_FULL.md §10. The donor go.mod imports client_golang but never
// registers a collector with it; this wires it for real.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every collector this service exports, constructed once
// at process start and passed by reference rather than relying on the
// default global registry's package-level state.
type Registry struct {
	JobsTotal          *prometheus.CounterVec
	TrialDuration      *prometheus.HistogramVec
	ActiveWorkers      prometheus.Gauge
	QueueDepth         prometheus.Gauge
	TrialsTotal        *prometheus.CounterVec
	ProgressWriteTotal *prometheus.CounterVec
}

// New registers every collector against reg (pass prometheus.NewRegistry()
// for isolated tests, or prometheus.DefaultRegisterer in production).
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainer_jobs_total",
			Help: "Training jobs processed, labeled by terminal status.",
		}, []string{"status"}),
		TrialDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trainer_trial_duration_seconds",
			Help:    "Wall-clock duration of one optimizer trial evaluation.",
			Buckets: prometheus.DefBuckets,
		}, []string{"optimizer_kind"}),
		ActiveWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_active_workers",
			Help: "Worker processes currently holding a RUNNING job.",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "trainer_queue_depth",
			Help: "Visible plus in-flight tokens on the training queue.",
		}),
		TrialsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainer_trials_total",
			Help: "Optimizer trials evaluated, labeled by outcome.",
		}, []string{"optimizer_kind", "outcome"}),
		ProgressWriteTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "trainer_progress_writes_total",
			Help: "Progress-publisher DB writes, labeled by level (job/trial/bar).",
		}, []string{"level"}),
	}
}
