package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	sendAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_send_attempts_total",
			Help: "Total delivery attempts handed to a channel transport",
		},
		[]string{"channel"},
	)

	sendResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_send_results_total",
			Help: "Delivery attempt outcomes per channel",
		},
		[]string{"channel", "result"}, // result: success|transient|permanent|unknown
	)

	sendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reminder_send_duration_seconds",
			Help:    "Delivery attempt duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30},
		},
		[]string{"channel"},
	)

	breakerOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_channel_breaker_open_total",
			Help: "Circuit breaker open events per channel",
		},
		[]string{"channel"},
	)
)

// RecordDispatch counts an attempt handed to a transport.
func RecordDispatch(channel string) {
	sendAttemptsTotal.WithLabelValues(channel).Inc()
}

// RecordSuccess counts a successful attempt and observes its duration.
func RecordSuccess(channel string, duration time.Duration) {
	sendResultsTotal.WithLabelValues(channel, "success").Inc()
	sendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordFailure counts a failed attempt by classification.
func RecordFailure(channel, kind string, duration time.Duration) {
	sendResultsTotal.WithLabelValues(channel, kind).Inc()
	sendDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

// RecordBreakerOpen counts a circuit breaker opening for a channel.
func RecordBreakerOpen(channel string) {
	breakerOpenTotal.WithLabelValues(channel).Inc()
}
