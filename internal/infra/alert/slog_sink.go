// Package alert delivers health alerts raised by the aggregator.
package alert

import (
	"context"
	"log/slog"

	"schoolbell/internal/usecase/health"
)

// SlogSink writes alerts to the structured log at Error level. It is
// the default sink for deployments without a paging integration.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink builds a sink over logger. A nil logger falls back to
// slog.Default.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogSink{logger: logger}
}

// Alert implements health.AlertSink.
func (s *SlogSink) Alert(ctx context.Context, event health.AlertEvent) {
	s.logger.ErrorContext(ctx, "health alert",
		"kind", event.Kind,
		"tenant_id", event.TenantID,
		"message", event.Message,
	)
}
