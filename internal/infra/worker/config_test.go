package worker

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"
)

// globalTestMetrics is a shared metrics instance for tests to avoid
// duplicate Prometheus registration errors. In production the metrics
// are created once at startup; this simulates that behavior.
var globalTestMetrics = NewWorkerMetrics()

func setEnv(t *testing.T, key, value string) {
	t.Helper()
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("Failed to set %s: %v", key, err)
	}
}

func unsetEnv(t *testing.T, key string) {
	t.Helper()
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("Failed to unset %s: %v", key, err)
	}
}

func clearWorkerEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"URGENT_SCHEDULE", "GENERAL_SCHEDULE", "RETRY_SCHEDULE",
		"BIRTHDAY_SCHEDULE", "WORKER_TIMEZONE", "POLICY_PATH",
		"RUN_TIMEOUT", "WORKER_HEALTH_PORT", "WORKER_METRICS_PORT",
	} {
		unsetEnv(t, key)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.UrgentSchedule != "* * * * *" {
		t.Errorf("Expected UrgentSchedule '* * * * *', got '%s'", cfg.UrgentSchedule)
	}
	if cfg.GeneralSchedule != "*/5 * * * *" {
		t.Errorf("Expected GeneralSchedule '*/5 * * * *', got '%s'", cfg.GeneralSchedule)
	}
	if cfg.RetrySchedule != "*/2 * * * *" {
		t.Errorf("Expected RetrySchedule '*/2 * * * *', got '%s'", cfg.RetrySchedule)
	}
	if cfg.BirthdaySchedule != "0 6 * * *" {
		t.Errorf("Expected BirthdaySchedule '0 6 * * *', got '%s'", cfg.BirthdaySchedule)
	}
	if cfg.Timezone != "Europe/Lisbon" {
		t.Errorf("Expected Timezone 'Europe/Lisbon', got '%s'", cfg.Timezone)
	}
	if cfg.PolicyPath != "configs/policy.yaml" {
		t.Errorf("Expected PolicyPath 'configs/policy.yaml', got '%s'", cfg.PolicyPath)
	}
	if cfg.RunTimeout != 10*time.Minute {
		t.Errorf("Expected RunTimeout 10m, got %v", cfg.RunTimeout)
	}
	if cfg.HealthPort != 9091 {
		t.Errorf("Expected HealthPort 9091, got %d", cfg.HealthPort)
	}
	if cfg.MetricsPort != 9092 {
		t.Errorf("Expected MetricsPort 9092, got %d", cfg.MetricsPort)
	}
}

func TestConfig_Validate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig should be valid, got error: %v", err)
	}
}

func TestConfig_Validate_InvalidFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"invalid urgent schedule", func(c *Config) { c.UrgentSchedule = "invalid cron" }},
		{"empty general schedule", func(c *Config) { c.GeneralSchedule = "" }},
		{"invalid retry schedule", func(c *Config) { c.RetrySchedule = "every 2 minutes" }},
		{"invalid birthday schedule", func(c *Config) { c.BirthdaySchedule = "99 99 * * *" }},
		{"invalid timezone", func(c *Config) { c.Timezone = "Invalid/Zone" }},
		{"empty timezone", func(c *Config) { c.Timezone = "" }},
		{"empty policy path", func(c *Config) { c.PolicyPath = "" }},
		{"zero run timeout", func(c *Config) { c.RunTimeout = 0 }},
		{"negative run timeout", func(c *Config) { c.RunTimeout = -time.Minute }},
		{"health port too low", func(c *Config) { c.HealthPort = 1023 }},
		{"health port too high", func(c *Config) { c.HealthPort = 65536 }},
		{"metrics port too low", func(c *Config) { c.MetricsPort = 100 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestConfig_Validate_PortBoundaries(t *testing.T) {
	tests := []struct {
		name  string
		port  int
		valid bool
	}{
		{"Min valid (1024)", 1024, true},
		{"Max valid (65535)", 65535, true},
		{"Below min (1023)", 1023, false},
		{"Above max (65536)", 65536, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.HealthPort = tt.port
			err := cfg.Validate()
			if tt.valid && err != nil {
				t.Errorf("Expected valid port %d, got error: %v", tt.port, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("Expected validation error for port %d", tt.port)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Config{
		UrgentSchedule:   "invalid",
		GeneralSchedule:  "*/5 * * * *",
		RetrySchedule:    "*/2 * * * *",
		BirthdaySchedule: "0 6 * * *",
		Timezone:         "Invalid/Zone",
		PolicyPath:       "",
		RunTimeout:       0,
		HealthPort:       100,
		MetricsPort:      9092,
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation errors for multiple invalid fields")
	}
	t.Logf("Validation error (expected): %v", err)
}

func TestLoadConfigFromEnv_AllEnvVarsValid(t *testing.T) {
	setEnv(t, "URGENT_SCHEDULE", "*/2 * * * *")
	setEnv(t, "GENERAL_SCHEDULE", "*/10 * * * *")
	setEnv(t, "RETRY_SCHEDULE", "*/5 * * * *")
	setEnv(t, "BIRTHDAY_SCHEDULE", "30 5 * * *")
	setEnv(t, "WORKER_TIMEZONE", "UTC")
	setEnv(t, "POLICY_PATH", "/etc/schoolbell/policy.yaml")
	setEnv(t, "RUN_TIMEOUT", "5m")
	setEnv(t, "WORKER_HEALTH_PORT", "8080")
	setEnv(t, "WORKER_METRICS_PORT", "8081")
	defer clearWorkerEnv(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cfg, err := LoadConfigFromEnv(logger, globalTestMetrics)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if cfg.UrgentSchedule != "*/2 * * * *" {
		t.Errorf("Expected UrgentSchedule '*/2 * * * *', got '%s'", cfg.UrgentSchedule)
	}
	if cfg.GeneralSchedule != "*/10 * * * *" {
		t.Errorf("Expected GeneralSchedule '*/10 * * * *', got '%s'", cfg.GeneralSchedule)
	}
	if cfg.RetrySchedule != "*/5 * * * *" {
		t.Errorf("Expected RetrySchedule '*/5 * * * *', got '%s'", cfg.RetrySchedule)
	}
	if cfg.BirthdaySchedule != "30 5 * * *" {
		t.Errorf("Expected BirthdaySchedule '30 5 * * *', got '%s'", cfg.BirthdaySchedule)
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("Expected Timezone 'UTC', got '%s'", cfg.Timezone)
	}
	if cfg.PolicyPath != "/etc/schoolbell/policy.yaml" {
		t.Errorf("Expected PolicyPath '/etc/schoolbell/policy.yaml', got '%s'", cfg.PolicyPath)
	}
	if cfg.RunTimeout != 5*time.Minute {
		t.Errorf("Expected RunTimeout 5m, got %v", cfg.RunTimeout)
	}
	if cfg.HealthPort != 8080 {
		t.Errorf("Expected HealthPort 8080, got %d", cfg.HealthPort)
	}
	if cfg.MetricsPort != 8081 {
		t.Errorf("Expected MetricsPort 8081, got %d", cfg.MetricsPort)
	}

	if buf.Len() > 0 {
		t.Errorf("Expected no warnings, got: %s", buf.String())
	}
}

func TestLoadConfigFromEnv_MissingEnvVars(t *testing.T) {
	clearWorkerEnv(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cfg, err := LoadConfigFromEnv(logger, globalTestMetrics)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	defaults := DefaultConfig()
	if *cfg != defaults {
		t.Errorf("Expected defaults %+v, got %+v", defaults, *cfg)
	}

	// Missing env vars are not fallbacks and must not warn.
	if buf.Len() > 0 {
		t.Errorf("Expected no warnings, got: %s", buf.String())
	}
}

func TestLoadConfigFromEnv_InvalidSchedule(t *testing.T) {
	setEnv(t, "URGENT_SCHEDULE", "not a schedule")
	defer clearWorkerEnv(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cfg, err := LoadConfigFromEnv(logger, globalTestMetrics)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if cfg.UrgentSchedule != DefaultConfig().UrgentSchedule {
		t.Errorf("Expected default UrgentSchedule, got '%s'", cfg.UrgentSchedule)
	}

	logOutput := buf.String()
	if !strings.Contains(logOutput, "Configuration fallback applied") {
		t.Error("Expected fallback warning in logs")
	}
	if !strings.Contains(logOutput, "urgent_schedule") {
		t.Error("Expected urgent_schedule field in warning")
	}
}

func TestLoadConfigFromEnv_InvalidRunTimeout(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"Zero", "0"},
		{"Negative", "-1s"},
		{"Too short", "1s"},
		{"Too long", "2h"},
		{"Invalid format", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, "RUN_TIMEOUT", tt.value)
			defer unsetEnv(t, "RUN_TIMEOUT")

			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			cfg, err := LoadConfigFromEnv(logger, globalTestMetrics)
			if err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}

			if cfg.RunTimeout != DefaultConfig().RunTimeout {
				t.Errorf("Expected default RunTimeout, got %v", cfg.RunTimeout)
			}
			if !strings.Contains(buf.String(), "Configuration fallback applied") {
				t.Error("Expected fallback warning in logs")
			}
		})
	}
}

func TestLoadConfigFromEnv_InvalidPorts(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"Too low", "1023"},
		{"Too high", "65536"},
		{"Negative", "-1"},
		{"Invalid format", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, "WORKER_HEALTH_PORT", tt.value)
			defer unsetEnv(t, "WORKER_HEALTH_PORT")

			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))

			cfg, err := LoadConfigFromEnv(logger, globalTestMetrics)
			if err != nil {
				t.Errorf("Expected no error, got: %v", err)
			}

			if cfg.HealthPort != DefaultConfig().HealthPort {
				t.Errorf("Expected default HealthPort, got %d", cfg.HealthPort)
			}
			if !strings.Contains(buf.String(), "Configuration fallback applied") {
				t.Error("Expected fallback warning in logs")
			}
		})
	}
}

func TestLoadConfigFromEnv_PartiallyValid(t *testing.T) {
	setEnv(t, "GENERAL_SCHEDULE", "*/15 * * * *") // Valid
	setEnv(t, "WORKER_TIMEZONE", "Invalid/Zone")  // Invalid
	setEnv(t, "WORKER_HEALTH_PORT", "8080")       // Valid
	setEnv(t, "RUN_TIMEOUT", "forever")           // Invalid
	defer clearWorkerEnv(t)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	cfg, err := LoadConfigFromEnv(logger, globalTestMetrics)
	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if cfg.GeneralSchedule != "*/15 * * * *" {
		t.Errorf("Expected GeneralSchedule '*/15 * * * *', got '%s'", cfg.GeneralSchedule)
	}
	if cfg.HealthPort != 8080 {
		t.Errorf("Expected HealthPort 8080, got %d", cfg.HealthPort)
	}
	if cfg.Timezone != DefaultConfig().Timezone {
		t.Errorf("Expected default Timezone, got '%s'", cfg.Timezone)
	}
	if cfg.RunTimeout != DefaultConfig().RunTimeout {
		t.Errorf("Expected default RunTimeout, got %v", cfg.RunTimeout)
	}

	warningCount := strings.Count(buf.String(), "Configuration fallback applied")
	if warningCount != 2 {
		t.Errorf("Expected 2 warnings, got %d", warningCount)
	}
}
