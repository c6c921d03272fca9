package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"schoolbell/internal/config"
	hhttp "schoolbell/internal/handler/http"
	"schoolbell/internal/handler/http/respond"
	pgRepo "schoolbell/internal/infra/adapter/persistence/postgres"
	"schoolbell/internal/infra/alert"
	"schoolbell/internal/infra/channel"
	"schoolbell/internal/infra/counterstore"
	"schoolbell/internal/infra/db"
	"schoolbell/internal/observability/logging"
	"schoolbell/internal/pkg/clock"
	"schoolbell/internal/usecase/dispatch"
	"schoolbell/internal/usecase/health"
	"schoolbell/internal/usecase/pipeline"
	"schoolbell/internal/usecase/ratelimit"
	"schoolbell/internal/usecase/render"
	"schoolbell/internal/usecase/retry"
)

func main() {
	logger := logging.NewLogger()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if os.Getenv("JWT_SECRET") == "" {
		logger.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	database, err := db.Open(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		logger.Error("failed to open database", slog.String("error", respond.SanitizeError(err)))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()
	if err := db.MigrateUp(database); err != nil {
		logger.Error("failed to run migrations", slog.String("error", respond.SanitizeError(err)))
		os.Exit(1)
	}

	policy := loadPolicy(logger)
	loc := loadLocation(logger)
	clk := clock.SystemClock{}

	store := counterstore.NewMemoryStore(clk)
	store.StartJanitor(ctx, time.Minute)

	limiter := ratelimit.NewLimiter(store, policy.RateLimit, clk)
	healthAgg := health.NewAggregator(store, alert.NewSlogSink(logger), policy.Health, loc, clk)
	runner := buildRunner(logger, database, policy, loc, clk, limiter, healthAgg)

	router := hhttp.NewRouter(hhttp.RouterConfig{
		Runner:        runner,
		Notifications: pgRepo.NewNotificationRepo(database),
		RateLimiter:   limiter,
		Health:        healthAgg,
		Clock:         clk,
		Logger:        logger,
	})

	port := apiPort()
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("operator api listening", slog.Int("port", port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server error", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", slog.Any("error", err))
	} else {
		logger.Info("api server stopped")
	}
}

func loadPolicy(logger *slog.Logger) config.Policy {
	path := os.Getenv("POLICY_PATH")
	if path == "" {
		path = "configs/policy.yaml"
	}
	if _, err := os.Stat(path); err != nil {
		logger.Warn("policy file not found, using defaults", slog.String("path", path))
		return config.DefaultPolicy()
	}
	policy, err := config.LoadPolicy(path)
	if err != nil {
		logger.Error("invalid policy file", slog.String("path", path), slog.Any("error", err))
		os.Exit(1)
	}
	return *policy
}

func loadLocation(logger *slog.Logger) *time.Location {
	tz := os.Getenv("WORKER_TIMEZONE")
	if tz == "" {
		tz = "Europe/Lisbon"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		logger.Error("invalid timezone, using UTC", slog.String("timezone", tz), slog.Any("error", err))
		return time.UTC
	}
	return loc
}

// buildRunner wires the same pipeline the worker runs, so operator
// triggers execute in-process instead of signalling the worker.
func buildRunner(
	logger *slog.Logger,
	database *sql.DB,
	policy config.Policy,
	loc *time.Location,
	clk clock.Clock,
	limiter *ratelimit.Limiter,
	healthAgg *health.Aggregator,
) *pipeline.Runner {
	retries, err := retry.NewController(policy.Backoff)
	if err != nil {
		logger.Error("invalid backoff configuration", slog.Any("error", err))
		os.Exit(1)
	}

	transports := []dispatch.Transport{
		channel.NewSystemTransport(pgRepo.NewInboxRepo(database), clk),
	}
	if apiKey := os.Getenv("SENDGRID_API_KEY"); apiKey != "" {
		transports = append(transports, channel.NewMailTransport(channel.MailConfig{
			APIKey:            apiKey,
			FromName:          os.Getenv("MAIL_FROM_NAME"),
			FromEmail:         os.Getenv("MAIL_FROM_EMAIL"),
			RequestsPerSecond: 10,
			Burst:             5,
		}))
	}
	if endpoint := os.Getenv("SMS_GATEWAY_URL"); endpoint != "" {
		transports = append(transports, channel.NewSMSTransport(channel.SMSConfig{
			Endpoint:          endpoint,
			APIKey:            os.Getenv("SMS_API_KEY"),
			Sender:            os.Getenv("SMS_SENDER"),
			RequestsPerSecond: 10,
			Burst:             5,
			HTTPTimeout:       10 * time.Second,
		}))
	}
	if endpoint := os.Getenv("PUSH_GATEWAY_URL"); endpoint != "" {
		transports = append(transports, channel.NewPushTransport(channel.PushConfig{
			Endpoint:          endpoint,
			ServerKey:         os.Getenv("PUSH_SERVER_KEY"),
			RequestsPerSecond: 50,
			Burst:             10,
			HTTPTimeout:       10 * time.Second,
		}))
	}
	if endpoint := os.Getenv("WHATSAPP_GATEWAY_URL"); endpoint != "" {
		transports = append(transports, channel.NewWhatsAppTransport(channel.WhatsAppConfig{
			Endpoint:          endpoint,
			AccessToken:       os.Getenv("WHATSAPP_ACCESS_TOKEN"),
			RequestsPerSecond: 10,
			Burst:             5,
			HTTPTimeout:       10 * time.Second,
		}))
	}

	return pipeline.NewRunner(
		pgRepo.NewReminderRepo(database),
		pgRepo.NewNotificationRepo(database),
		pgRepo.NewRunLockRepo(database, clk),
		limiter,
		render.NewRenderer(pgRepo.NewTemplateRepo(database)),
		dispatch.NewDispatcher(transports, policy.SendTimeout.Std()),
		retries,
		healthAgg,
		policy,
		loc,
		clk,
		logger,
	)
}

func apiPort() int {
	raw := os.Getenv("API_PORT")
	if raw == "" {
		return 8080
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return 8080
	}
	return port
}
