package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_pipeline_runs_total",
			Help: "Processing runs by job type and outcome",
		},
		[]string{"job_type", "result"},
	)

	runDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_pipeline_run_duration_seconds",
			Help:    "Wall-clock duration of one processing run",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"job_type"},
	)

	itemsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_pipeline_items_total",
			Help: "Due items processed by outcome",
		},
		[]string{"job_type", "outcome"},
	)

	lockContention = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_pipeline_lock_contention_total",
			Help: "Runs skipped because another worker held the run lock",
		},
		[]string{"job_type"},
	)
)

// RecordRun counts a completed run and its duration.
func RecordRun(jobType JobType, result string, d time.Duration) {
	runsTotal.WithLabelValues(string(jobType), result).Inc()
	runDuration.WithLabelValues(string(jobType)).Observe(d.Seconds())
}

// RecordItems counts processed items by outcome.
func RecordItems(jobType JobType, outcome string, n int) {
	if n > 0 {
		itemsProcessed.WithLabelValues(string(jobType), outcome).Add(float64(n))
	}
}

// RecordLockContention counts a run skipped on lock contention.
func RecordLockContention(jobType JobType) {
	lockContention.WithLabelValues(string(jobType)).Inc()
}
