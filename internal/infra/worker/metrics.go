package worker

import (
	"schoolbell/internal/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WorkerMetrics provides Prometheus metrics for the worker component.
// It embeds the shared ConfigMetrics for configuration monitoring and
// adds cron-level metrics for the scheduled pipeline runs. Per-item
// delivery outcomes are tracked by the pipeline's own metrics; these
// cover the scheduling layer above it.
//
// Worker-specific metrics:
//   - worker_job_runs_total: total runs by job type and status
//   - worker_job_duration_seconds: run duration histogram by job type
//   - worker_job_reminders_sent_total: reminders sent across all runs
//   - worker_job_last_success_timestamp: last successful run per job type
type WorkerMetrics struct {
	*config.ConfigMetrics

	JobRunsTotal            *prometheus.CounterVec
	JobDurationSeconds      *prometheus.HistogramVec
	JobRemindersSentTotal   prometheus.Counter
	JobLastSuccessTimestamp *prometheus.GaugeVec
}

// NewWorkerMetrics creates and registers all worker metrics.
// Registration happens via promauto, so this must be called once per
// process.
func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		JobRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_job_runs_total",
			Help: "Total number of scheduled job runs by job type and status (success/failure)",
		}, []string{"job_type", "status"}),

		JobDurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "worker_job_duration_seconds",
			Help:    "Duration of scheduled job runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"job_type"}),

		JobRemindersSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "worker_job_reminders_sent_total",
			Help: "Total number of reminders sent across all scheduled runs",
		}),

		JobLastSuccessTimestamp: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worker_job_last_success_timestamp",
			Help: "Unix timestamp of the last successful run per job type",
		}, []string{"job_type"}),
	}
}

// MustRegister is a no-op kept for the conventional init sequence;
// metrics are auto-registered via promauto in NewWorkerMetrics.
func (m *WorkerMetrics) MustRegister() {}

// RecordJobRun increments the run counter. Status is "success" or
// "failure".
func (m *WorkerMetrics) RecordJobRun(jobType, status string) {
	m.JobRunsTotal.WithLabelValues(jobType, status).Inc()
}

// RecordJobDuration observes one run's duration in seconds.
func (m *WorkerMetrics) RecordJobDuration(jobType string, seconds float64) {
	m.JobDurationSeconds.WithLabelValues(jobType).Observe(seconds)
}

// RecordRemindersSent adds the reminders sent by one run to the total.
func (m *WorkerMetrics) RecordRemindersSent(count int64) {
	m.JobRemindersSentTotal.Add(float64(count))
}

// RecordLastSuccess marks the current time as the job type's last
// successful completion.
func (m *WorkerMetrics) RecordLastSuccess(jobType string) {
	m.JobLastSuccessTimestamp.WithLabelValues(jobType).SetToCurrentTime()
}
