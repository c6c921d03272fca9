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
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"schoolbell/internal/config"
	"schoolbell/internal/handler/http/respond"
	pgRepo "schoolbell/internal/infra/adapter/persistence/postgres"
	"schoolbell/internal/infra/alert"
	"schoolbell/internal/infra/channel"
	"schoolbell/internal/infra/counterstore"
	"schoolbell/internal/infra/db"
	workerPkg "schoolbell/internal/infra/worker"
	"schoolbell/internal/pkg/clock"
	"schoolbell/internal/repository"
	"schoolbell/internal/usecase/dispatch"
	"schoolbell/internal/usecase/health"
	"schoolbell/internal/usecase/pipeline"
	"schoolbell/internal/usecase/ratelimit"
	"schoolbell/internal/usecase/render"
	"schoolbell/internal/usecase/retry"
)

func main() {
	logger := initLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database := initDatabase(ctx, logger)
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", slog.Any("error", err))
		}
	}()

	// Worker configuration is fail-open: invalid values fall back to
	// defaults with a warning and a fallback metric.
	workerMetrics := workerPkg.NewWorkerMetrics()
	workerMetrics.MustRegister()
	workerConfig, err := workerPkg.LoadConfigFromEnv(logger, workerMetrics)
	if err != nil {
		logger.Error("failed to load worker configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("worker configuration loaded",
		slog.String("urgent_schedule", workerConfig.UrgentSchedule),
		slog.String("general_schedule", workerConfig.GeneralSchedule),
		slog.String("retry_schedule", workerConfig.RetrySchedule),
		slog.String("birthday_schedule", workerConfig.BirthdaySchedule),
		slog.String("timezone", workerConfig.Timezone),
		slog.Duration("run_timeout", workerConfig.RunTimeout),
		slog.Int("health_port", workerConfig.HealthPort))

	// The delivery policy is a deployment artifact: a present-but-broken
	// file is fatal, a missing one runs on defaults.
	policy := loadPolicy(logger, workerConfig.PolicyPath)

	loc, err := time.LoadLocation(workerConfig.Timezone)
	if err != nil {
		logger.Error("invalid timezone, using UTC",
			slog.String("timezone", workerConfig.Timezone), slog.Any("error", err))
		loc = time.UTC
	}

	runner := buildRunner(ctx, logger, database, policy, loc)

	startMetricsServer(ctx, logger, workerConfig.MetricsPort)

	healthAddr := fmt.Sprintf(":%d", workerConfig.HealthPort)
	healthServer := workerPkg.NewHealthServer(healthAddr, logger)
	go func() {
		if err := healthServer.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", slog.Any("error", err))
		}
	}()
	logger.Info("health check server started", slog.String("addr", healthAddr))

	startCronWorker(ctx, logger, runner, workerConfig, workerMetrics, healthServer, loc)
}

func initLogger() *slog.Logger {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

// initDatabase opens the pool and applies the idempotent migrations.
func initDatabase(ctx context.Context, logger *slog.Logger) *sql.DB {
	database, err := db.Open(ctx, os.Getenv("DATABASE_URL"))
	if err != nil {
		logger.Error("failed to open database", slog.String("error", respond.SanitizeError(err)))
		os.Exit(1)
	}
	if err := db.MigrateUp(database); err != nil {
		logger.Error("failed to run migrations", slog.String("error", respond.SanitizeError(err)))
		os.Exit(1)
	}
	return database
}

func loadPolicy(logger *slog.Logger, path string) config.Policy {
	if _, err := os.Stat(path); err != nil {
		logger.Warn("policy file not found, using defaults", slog.String("path", path))
		return config.DefaultPolicy()
	}
	policy, err := config.LoadPolicy(path)
	if err != nil {
		logger.Error("invalid policy file", slog.String("path", path), slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("delivery policy loaded", slog.String("path", path))
	return *policy
}

// buildRunner wires the full processing pipeline: repositories, rate
// limiter, template renderer, channel dispatcher, retry controller and
// the health aggregator.
func buildRunner(ctx context.Context, logger *slog.Logger, database *sql.DB, policy config.Policy, loc *time.Location) *pipeline.Runner {
	clk := clock.SystemClock{}

	store := counterstore.NewMemoryStore(clk)
	store.StartJanitor(ctx, time.Minute)

	limiter := ratelimit.NewLimiter(store, policy.RateLimit, clk)
	renderer := render.NewRenderer(pgRepo.NewTemplateRepo(database))
	dispatcher := dispatch.NewDispatcher(buildTransports(logger, database, clk), policy.SendTimeout.Std())

	retries, err := retry.NewController(policy.Backoff)
	if err != nil {
		logger.Error("invalid backoff configuration", slog.Any("error", err))
		os.Exit(1)
	}

	healthAgg := health.NewAggregator(store, alert.NewSlogSink(logger), policy.Health, loc, clk)

	return pipeline.NewRunner(
		pgRepo.NewReminderRepo(database),
		pgRepo.NewNotificationRepo(database),
		pgRepo.NewRunLockRepo(database, clk),
		limiter,
		renderer,
		dispatcher,
		retries,
		healthAgg,
		policy,
		loc,
		clk,
		logger,
	)
}

// buildTransports assembles the channel transports. External channels
// come up only when their credentials are configured; the in-app system
// channel is always available.
func buildTransports(logger *slog.Logger, database *sql.DB, clk clock.Clock) []dispatch.Transport {
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
		logger.Info("mail channel enabled")
	} else {
		logger.Info("mail channel disabled, SENDGRID_API_KEY not set")
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
		logger.Info("sms channel enabled")
	} else {
		logger.Info("sms channel disabled, SMS_GATEWAY_URL not set")
	}

	if endpoint := os.Getenv("PUSH_GATEWAY_URL"); endpoint != "" {
		transports = append(transports, channel.NewPushTransport(channel.PushConfig{
			Endpoint:          endpoint,
			ServerKey:         os.Getenv("PUSH_SERVER_KEY"),
			RequestsPerSecond: 50,
			Burst:             10,
			HTTPTimeout:       10 * time.Second,
		}))
		logger.Info("push channel enabled")
	} else {
		logger.Info("push channel disabled, PUSH_GATEWAY_URL not set")
	}

	if endpoint := os.Getenv("WHATSAPP_GATEWAY_URL"); endpoint != "" {
		transports = append(transports, channel.NewWhatsAppTransport(channel.WhatsAppConfig{
			Endpoint:          endpoint,
			AccessToken:       os.Getenv("WHATSAPP_ACCESS_TOKEN"),
			RequestsPerSecond: 10,
			Burst:             5,
			HTTPTimeout:       10 * time.Second,
		}))
		logger.Info("whatsapp channel enabled")
	} else {
		logger.Info("whatsapp channel disabled, WHATSAPP_GATEWAY_URL not set")
	}

	return transports
}

// startCronWorker schedules the four cadences and blocks until the
// process receives a termination signal.
func startCronWorker(
	ctx context.Context,
	logger *slog.Logger,
	runner *pipeline.Runner,
	cfg *workerPkg.Config,
	metrics *workerPkg.WorkerMetrics,
	healthServer *workerPkg.HealthServer,
	loc *time.Location,
) {
	c := cron.New(cron.WithLocation(loc))

	cadences := []struct {
		schedule string
		jobType  pipeline.JobType
	}{
		{cfg.UrgentSchedule, pipeline.JobUrgent},
		{cfg.GeneralSchedule, pipeline.JobGeneral},
		{cfg.RetrySchedule, pipeline.JobRetries},
		{cfg.BirthdaySchedule, pipeline.JobBirthdays},
	}
	for _, cadence := range cadences {
		jobType := cadence.jobType
		if _, err := c.AddFunc(cadence.schedule, func() {
			runJob(ctx, logger, runner, jobType, cfg.RunTimeout, metrics)
		}); err != nil {
			logger.Error("failed to schedule job",
				slog.String("job_type", string(jobType)),
				slog.String("schedule", cadence.schedule),
				slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("job scheduled",
			slog.String("job_type", string(jobType)),
			slog.String("schedule", cadence.schedule))
	}
	c.Start()

	healthServer.SetReady(true)
	logger.Info("worker started", slog.String("timezone", loc.String()))

	<-ctx.Done()
	logger.Info("shutdown signal received, stopping scheduler")

	// Let in-flight jobs drain before exiting.
	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
		logger.Info("scheduler stopped")
	case <-time.After(cfg.RunTimeout):
		logger.Warn("scheduler stop timed out, exiting anyway")
	}
}

// runJob executes one processing run across all tenants. Lock
// contention means another worker owns this cadence right now and is
// not an error.
func runJob(
	ctx context.Context,
	logger *slog.Logger,
	runner *pipeline.Runner,
	jobType pipeline.JobType,
	timeout time.Duration,
	metrics *workerPkg.WorkerMetrics,
) {
	startTime := time.Now()
	metrics.RecordJobRun(string(jobType), "started")
	logger.Info("job started", slog.String("job_type", string(jobType)))

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stats, err := runner.Run(runCtx, 0, jobType)
	if err != nil {
		if errors.Is(err, repository.ErrLockContention) {
			metrics.RecordJobRun(string(jobType), "skipped")
			logger.Info("job skipped, run lock held elsewhere", slog.String("job_type", string(jobType)))
			return
		}
		logger.Error("job failed",
			slog.String("job_type", string(jobType)),
			slog.String("error", respond.SanitizeError(err)))
		metrics.RecordJobRun(string(jobType), "failure")
		metrics.RecordJobDuration(string(jobType), time.Since(startTime).Seconds())
		return
	}

	metrics.RecordJobRun(string(jobType), "success")
	metrics.RecordJobDuration(string(jobType), time.Since(startTime).Seconds())
	metrics.RecordRemindersSent(int64(stats.Sent))
	metrics.RecordLastSuccess(string(jobType))

	logger.Info("job completed",
		slog.String("job_type", string(jobType)),
		slog.Int("due_items", stats.DueItems),
		slog.Int("sent", stats.Sent),
		slog.Int("failed", stats.Failed),
		slog.Int("deferred", stats.Deferred),
		slog.Int("skipped", stats.Skipped),
		slog.Int64("birthdays_synthesized", stats.BirthdaysSynthesized),
		slog.Duration("duration", time.Since(startTime)),
	)
}
