package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Dispatch outcome label values.
const (
	outcomeDispatched = "dispatched"
	outcomeRequeued   = "requeued"
	outcomeLost       = "lost"
	outcomeRefused    = "refused"
)

var (
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxhub_master_queue_depth",
			Help: "Number of jobs waiting in the orchestrator's master queue.",
		},
	)

	dispatchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxhub_dispatch_total",
			Help: "Dispatch attempts by backend and outcome.",
		},
		[]string{"backend", "outcome"},
	)

	statusFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxhub_backend_status_failures_total",
			Help: "Backend status queries that failed and caused the backend to be skipped for a tick.",
		},
		[]string{"backend"},
	)

	tickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voxhub_scheduler_tick_seconds",
			Help:    "Duration of one scheduler pass over all backends, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(queueDepth)
	prometheus.MustRegister(dispatchTotal)
	prometheus.MustRegister(statusFailuresTotal)
	prometheus.MustRegister(tickDuration)
}
