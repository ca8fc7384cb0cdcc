// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline. The counters mirror the snapshot returned by the service's
// Metrics call so the host can scrape without polling the task store.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the pipeline's Prometheus collectors.
type Metrics struct {
	// TasksClaimed counts tasks handed to workers by the dispatcher.
	TasksClaimed prometheus.Counter

	// TasksFinished counts terminal outcomes, labelled completed/failed.
	TasksFinished *prometheus.CounterVec

	// TasksRequeued counts requeues, labelled retry/deferral.
	TasksRequeued *prometheus.CounterVec

	// TasksInFlight tracks workers currently executing.
	TasksInFlight prometheus.Gauge

	// ProcessingSeconds observes per-task wall time in the worker.
	ProcessingSeconds prometheus.Histogram

	// CacheLookups counts dedupe cache lookups, labelled hit/miss.
	CacheLookups *prometheus.CounterVec
}

// Requeue reason label values.
const (
	RequeueRetry    = "retry"
	RequeueDeferral = "deferral"
)

// New creates and registers the pipeline collectors on the given
// registerer. Pass prometheus.DefaultRegisterer in production and a fresh
// prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TasksClaimed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "docassist",
			Subsystem: "pipeline",
			Name:      "tasks_claimed_total",
			Help:      "Number of tasks claimed by the dispatcher.",
		}),
		TasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docassist",
			Subsystem: "pipeline",
			Name:      "tasks_finished_total",
			Help:      "Number of tasks reaching a terminal state, by outcome.",
		}, []string{"outcome"}),
		TasksRequeued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docassist",
			Subsystem: "pipeline",
			Name:      "tasks_requeued_total",
			Help:      "Number of tasks sent back to pending, by reason.",
		}, []string{"reason"}),
		TasksInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "docassist",
			Subsystem: "pipeline",
			Name:      "tasks_in_flight",
			Help:      "Number of workers currently processing a task.",
		}),
		ProcessingSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "docassist",
			Subsystem: "pipeline",
			Name:      "task_processing_seconds",
			Help:      "Wall time spent processing a single task.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "docassist",
			Subsystem: "pipeline",
			Name:      "cache_lookups_total",
			Help:      "Dedupe cache lookups, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.TasksClaimed,
		m.TasksFinished,
		m.TasksRequeued,
		m.TasksInFlight,
		m.ProcessingSeconds,
		m.CacheLookups,
	)
	return m
}
