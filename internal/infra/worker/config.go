package worker

import (
	"fmt"
	"log/slog"
	"time"

	"schoolbell/internal/pkg/config"
)

// Config holds the runtime settings for the reminder worker: one cron
// schedule per cadence, the timezone those schedules run in, the path
// to the reminder policy file, and the ports for the health and
// metrics endpoints.
//
// Configuration is loaded from environment variables with a fail-open
// strategy: an invalid value falls back to its default with a logged
// warning instead of refusing to start. A reminder worker that runs on
// defaults is better than one that is down because of a typo.
type Config struct {
	// UrgentSchedule drives payment and match reminders.
	// Default: every minute.
	UrgentSchedule string

	// GeneralSchedule drives training, tournament and general
	// reminders. Default: every 5 minutes.
	GeneralSchedule string

	// RetrySchedule drives the sweep that re-enqueues failed and
	// rate-deferred notifications. Default: every 2 minutes.
	RetrySchedule string

	// BirthdaySchedule drives the daily birthday run. It should fire
	// before the policy's birthday_hour so synthesized targets are in
	// place when their trigger time arrives. Default: 06:00 daily.
	BirthdaySchedule string

	// Timezone is the IANA timezone the cron schedules are evaluated
	// in. Default: "Europe/Lisbon".
	Timezone string

	// PolicyPath locates the reminder policy YAML file.
	// Default: "configs/policy.yaml".
	PolicyPath string

	// RunTimeout bounds a single pipeline run. A run that exceeds it
	// is cancelled and counted as a failure. Default: 10 minutes.
	RunTimeout time.Duration

	// HealthPort serves the liveness and readiness probes.
	// Default: 9091.
	HealthPort int

	// MetricsPort serves the Prometheus /metrics endpoint.
	// Default: 9092.
	MetricsPort int
}

// DefaultConfig returns production-ready defaults: urgent reminders
// checked every minute, general ones every five, retries every two,
// and birthdays synthesized once a day well before the delivery hour.
func DefaultConfig() Config {
	return Config{
		UrgentSchedule:   "* * * * *",
		GeneralSchedule:  "*/5 * * * *",
		RetrySchedule:    "*/2 * * * *",
		BirthdaySchedule: "0 6 * * *",
		Timezone:         "Europe/Lisbon",
		PolicyPath:       "configs/policy.yaml",
		RunTimeout:       10 * time.Minute,
		HealthPort:       9091,
		MetricsPort:      9092,
	}
}

// Validate checks every field and returns all failures at once, so an
// operator fixing the configuration sees the full list in one pass.
func (c *Config) Validate() error {
	var errs []error

	schedules := []struct {
		name  string
		value string
	}{
		{"urgent schedule", c.UrgentSchedule},
		{"general schedule", c.GeneralSchedule},
		{"retry schedule", c.RetrySchedule},
		{"birthday schedule", c.BirthdaySchedule},
	}
	for _, s := range schedules {
		if err := config.ValidateCronSchedule(s.value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
		}
	}

	if err := config.ValidateTimezone(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	if c.PolicyPath == "" {
		errs = append(errs, fmt.Errorf("policy path: cannot be empty"))
	}
	if err := config.ValidatePositiveDuration(c.RunTimeout); err != nil {
		errs = append(errs, fmt.Errorf("run timeout: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}
	if err := config.ValidateIntRange(c.MetricsPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("metrics port: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// LoadConfigFromEnv loads worker configuration from environment
// variables with validation and automatic fallback to defaults.
//
// Environment variables:
//   - URGENT_SCHEDULE, GENERAL_SCHEDULE, RETRY_SCHEDULE,
//     BIRTHDAY_SCHEDULE: cron expressions
//   - WORKER_TIMEZONE: IANA timezone name
//   - POLICY_PATH: reminder policy YAML path
//   - RUN_TIMEOUT: duration string, 10s to 1h
//   - WORKER_HEALTH_PORT, WORKER_METRICS_PORT: 1024-65535
//
// Every fallback is logged and recorded on the metrics so operators
// notice a half-applied configuration. The returned error is always
// nil; the signature keeps the call site honest about the possibility.
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*Config, error) {
	cfg := DefaultConfig()
	fallbackApplied := false

	applyFallback := func(field string, result config.ConfigLoadResult) {
		if !result.FallbackApplied {
			return
		}
		fallbackApplied = true
		metrics.RecordValidationError(field)
		metrics.RecordFallback(field, "default")
		for _, warning := range result.Warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", field),
				slog.String("warning", warning))
		}
	}

	loadSchedule := func(envKey, field string, dst *string) {
		result := config.LoadEnvWithFallback(envKey, *dst, config.ValidateCronSchedule)
		*dst = result.Value.(string)
		applyFallback(field, result)
	}

	loadSchedule("URGENT_SCHEDULE", "urgent_schedule", &cfg.UrgentSchedule)
	loadSchedule("GENERAL_SCHEDULE", "general_schedule", &cfg.GeneralSchedule)
	loadSchedule("RETRY_SCHEDULE", "retry_schedule", &cfg.RetrySchedule)
	loadSchedule("BIRTHDAY_SCHEDULE", "birthday_schedule", &cfg.BirthdaySchedule)

	result := config.LoadEnvWithFallback("WORKER_TIMEZONE", cfg.Timezone, config.ValidateTimezone)
	cfg.Timezone = result.Value.(string)
	applyFallback("timezone", result)

	cfg.PolicyPath = config.LoadEnvString("POLICY_PATH", cfg.PolicyPath)

	result = config.LoadEnvDuration("RUN_TIMEOUT", cfg.RunTimeout, func(d time.Duration) error {
		return config.ValidateDuration(d, 10*time.Second, time.Hour)
	})
	cfg.RunTimeout = result.Value.(time.Duration)
	applyFallback("run_timeout", result)

	result = config.LoadEnvInt("WORKER_HEALTH_PORT", cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.HealthPort = result.Value.(int)
	applyFallback("health_port", result)

	result = config.LoadEnvInt("WORKER_METRICS_PORT", cfg.MetricsPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})
	cfg.MetricsPort = result.Value.(int)
	applyFallback("metrics_port", result)

	metrics.SetFallbackActive("", fallbackApplied)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}
