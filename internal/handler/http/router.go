package http

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolbell/internal/handler/http/auth"
	"schoolbell/internal/handler/http/requestid"
	"schoolbell/internal/pkg/clock"
	"schoolbell/internal/repository"
)

// RouterConfig carries the dependencies of the operator API.
type RouterConfig struct {
	Runner        RunTrigger
	Notifications repository.NotificationRepository
	RateLimiter   RateLimitStatus
	Health        HealthSnapshots
	Clock         clock.Clock
	Logger        *slog.Logger
}

// NewRouter builds the operator API handler. Everything under /api/
// requires a bearer token; /healthz and /metrics stay public for
// probes and scrapers.
//
// Middleware order: request ID, recovery, logging, auth.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", HealthzHandler{})
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/api/runs/", TriggerRunHandler{Runner: cfg.Runner})
	mux.Handle("/api/notifications/", NotificationsHandler{Repo: cfg.Notifications, Clock: cfg.Clock})
	mux.Handle("/api/ratelimit/status", RateLimitStatusHandler{Limiter: cfg.RateLimiter})
	mux.Handle("/api/health/snapshot", HealthSnapshotHandler{Health: cfg.Health})

	var handler http.Handler = auth.Authz(mux)
	handler = Logging(cfg.Logger)(handler)
	handler = Recover(cfg.Logger)(handler)
	handler = requestid.Middleware(handler)
	return handler
}
