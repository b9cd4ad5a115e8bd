package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/voxhub/internal/model"
)

var (
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voxhub_worker_jobs_total",
			Help: "Jobs finished by this worker, by result status.",
		},
		[]string{"status"},
	)

	synthesisDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "voxhub_worker_synthesis_seconds",
			Help:    "Duration of synthesizer calls, in seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	pendingJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxhub_worker_pending_jobs",
			Help: "Jobs waiting in the worker's pending queue.",
		},
	)

	runningJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxhub_worker_running_jobs",
			Help: "Jobs currently executing on the worker.",
		},
	)

	unsavedResults = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "voxhub_worker_unsaved_results",
			Help: "Finished results held in memory because the history store rejected them.",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsTotal)
	prometheus.MustRegister(synthesisDuration)
	prometheus.MustRegister(pendingJobs)
	prometheus.MustRegister(runningJobs)
	prometheus.MustRegister(unsavedResults)

	// Pre-initialize label combinations so they appear from startup.
	jobsTotal.WithLabelValues(model.StatusCompleted)
	jobsTotal.WithLabelValues(model.StatusFailed)
}
