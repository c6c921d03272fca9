package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var limitedTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "reminder_rate_limited_total",
		Help: "Sends blocked by a rate-limit scope",
	},
	[]string{"scope", "window"},
)

// RecordLimited counts a send blocked by a scope window. The scope
// label is reduced to its kind (user/tenant) to bound cardinality.
func RecordLimited(scope, window string) {
	kind := "user"
	if isTenantScope(scope) {
		kind = "tenant"
	}
	limitedTotal.WithLabelValues(kind, window).Inc()
}
