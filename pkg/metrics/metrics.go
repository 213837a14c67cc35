package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline lifecycle metrics
	PipelinesQueued = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipectl_pipelines_queued",
			Help: "Number of pipelines currently in the submission queue",
		},
	)

	PipelinesWaiting = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipectl_pipelines_waiting",
			Help: "Number of pipelines currently on the waiting list",
		},
	)

	PipelinesRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipectl_pipelines_running",
			Help: "Number of pipelines currently running",
		},
	)

	PipelinesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipectl_pipelines_total",
			Help: "Total number of pipelines submitted (state=\"submitted\") and reaching each terminal state",
		},
		[]string{"state"},
	)

	// Node inventory metrics
	NodesTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipectl_nodes_total",
			Help: "Total number of admitted worker nodes by worker_type",
		},
		[]string{"worker_type"},
	)

	NodeMemoryUsage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipectl_node_memory_usage",
			Help: "Live memory usage fraction per node, as last refreshed",
		},
		[]string{"node"},
	)

	// Ledger metrics
	LedgerAssignments = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pipectl_ledger_assignments",
			Help: "Current assignment count per node in the decision ledger",
		},
		[]string{"node"},
	)

	// Loop metrics
	PlacementLoopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipectl_placement_loop_duration_seconds",
			Help:    "Time taken by one placement loop tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationLoopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pipectl_reconciliation_loop_duration_seconds",
			Help:    "Time taken by one reconciliation loop tick",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipectl_reconciliation_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	PlacementCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipectl_placement_cycles_total",
			Help: "Total number of placement cycles completed",
		},
	)

	LoopTicksSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipectl_loop_ticks_skipped_total",
			Help: "Number of loop ticks skipped because the prior tick was still running",
		},
		[]string{"loop"},
	)

	// Build/dispatch metrics
	BuildFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipectl_build_failures_total",
			Help: "Total number of build subprocess failures",
		},
	)

	DispatchFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipectl_dispatch_failures_total",
			Help: "Total number of dispatch subprocess failures",
		},
	)

	BackendPollFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipectl_backend_poll_failures_total",
			Help: "Total number of failed polls against the backend run list",
		},
	)

	// Placer metrics
	ForcedFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pipectl_forced_fallbacks_total",
			Help: "Total number of custom-placer fallbacks placed onto a high-cpu node that failed even the stricter dataset-fit pre-check",
		},
	)
)

func init() {
	prometheus.MustRegister(
		PipelinesQueued,
		PipelinesWaiting,
		PipelinesRunning,
		PipelinesTotal,
		NodesTotal,
		NodeMemoryUsage,
		LedgerAssignments,
		PlacementLoopDuration,
		ReconciliationLoopDuration,
		ReconciliationCyclesTotal,
		PlacementCyclesTotal,
		LoopTicksSkipped,
		BuildFailuresTotal,
		DispatchFailuresTotal,
		BackendPollFailuresTotal,
		ForcedFallbacksTotal,
	)
}

// Handler returns the Prometheus HTTP scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the time elapsed since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to the histogram of vec
// selected by labels.
func (t *Timer) ObserveDurationVec(vec *prometheus.HistogramVec, labels ...string) {
	vec.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}
