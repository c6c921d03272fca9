// Package config loads and validates the reminder pipeline policy: the
// retry/backoff schedules, rate-limit caps, worker pool sizes, and
// health thresholds. The policy lives in a YAML file; operational knobs
// (cron cadences, ports) are environment-driven and live in
// internal/infra/worker.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"schoolbell/internal/domain/entity"
)

// BackoffPolicy is one retry schedule: a fixed ordered sequence of
// delays indexed by attempt number (1-based), capped by MaxTries.
type BackoffPolicy struct {
	Schedule []Duration `yaml:"schedule"`
	MaxTries int        `yaml:"max_tries"`
}

// Delays returns the schedule as plain durations.
func (b BackoffPolicy) Delays() []time.Duration {
	out := make([]time.Duration, len(b.Schedule))
	for i, d := range b.Schedule {
		out[i] = d.Std()
	}
	return out
}

// RateLimitCaps are the per-window send caps. Tenant caps of 0 default
// to 10x the matching recipient cap.
type RateLimitCaps struct {
	RecipientHourly int `yaml:"recipient_hourly"`
	RecipientDaily  int `yaml:"recipient_daily"`
	TenantHourly    int `yaml:"tenant_hourly"`
	TenantDaily     int `yaml:"tenant_daily"`
}

// TenantCapsOrDefault resolves the effective tenant caps: explicit
// values win, otherwise 10x the recipient cap.
func (c RateLimitCaps) TenantCapsOrDefault() (hourly, daily int) {
	hourly, daily = c.TenantHourly, c.TenantDaily
	if hourly == 0 {
		hourly = c.RecipientHourly * 10
	}
	if daily == 0 {
		daily = c.RecipientDaily * 10
	}
	return hourly, daily
}

// WorkerCounts bounds concurrency per priority class. Workers never
// cross classes.
type WorkerCounts struct {
	High    int `yaml:"high"`
	Default int `yaml:"default"`
	Low     int `yaml:"low"`
}

// ForClass returns the worker count for a priority class.
func (w WorkerCounts) ForClass(class entity.PriorityClass) int {
	switch class {
	case entity.PriorityHigh:
		return w.High
	case entity.PriorityLow:
		return w.Low
	default:
		return w.Default
	}
}

// HealthThresholds configure when the aggregator raises an alert.
type HealthThresholds struct {
	// FailureRatePercent is the trailing-window failure rate above
	// which an alert fires. Default 10.
	FailureRatePercent float64 `yaml:"failure_rate_percent"`

	// ConsecutiveFailures is the number of consecutive failing runs
	// that raises an alert. Default 5.
	ConsecutiveFailures int `yaml:"consecutive_failures"`
}

// BackoffConfig groups the default retry schedule with per-category
// overrides. The two job types of the original deployment configured
// their schedules inconsistently; they are unified here with category
// overrides as the escape hatch.
type BackoffConfig struct {
	Default   BackoffPolicy                     `yaml:"default"`
	Overrides map[entity.Category]BackoffPolicy `yaml:"overrides"`
}

// Policy is the full pipeline policy document.
type Policy struct {
	Backoff   BackoffConfig    `yaml:"backoff"`
	RateLimit RateLimitCaps    `yaml:"ratelimit"`
	Workers   WorkerCounts     `yaml:"workers"`
	Health    HealthThresholds `yaml:"health"`

	// SendTimeout bounds one delivery attempt. Default 15s.
	SendTimeout Duration `yaml:"send_timeout"`

	// LockLease bounds the per-(tenant, job) run lock so a crashed
	// worker cannot cause permanent lockout. Default 5m.
	LockLease Duration `yaml:"lock_lease"`

	// BatchSize is how many due targets one selector fetch claims.
	// Default 100.
	BatchSize int `yaml:"batch_size"`

	// BirthdayHour is the tenant-local hour birthday reminders are
	// synthesized at. Default 9 (09:00).
	BirthdayHour int `yaml:"birthday_hour"`
}

// DefaultPolicy returns the production defaults used when no policy
// file is configured.
func DefaultPolicy() Policy {
	return Policy{
		Backoff: BackoffConfig{
			Default: BackoffPolicy{
				Schedule: []Duration{
					Duration(60 * time.Second),
					Duration(120 * time.Second),
					Duration(300 * time.Second),
				},
				MaxTries: 3,
			},
		},
		RateLimit: RateLimitCaps{
			RecipientHourly: 10,
			RecipientDaily:  50,
			TenantHourly:    100,
			TenantDaily:     500,
		},
		Workers:      WorkerCounts{High: 8, Default: 4, Low: 2},
		Health:       HealthThresholds{FailureRatePercent: 10, ConsecutiveFailures: 5},
		SendTimeout:  Duration(15 * time.Second),
		LockLease:    Duration(5 * time.Minute),
		BatchSize:    100,
		BirthdayHour: 9,
	}
}

// LoadPolicy reads and validates a policy YAML file. Unset fields keep
// their defaults.
func LoadPolicy(path string) (*Policy, error) {
	p := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read policy file: %v", ErrConfiguration, err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: parse policy file: %v", ErrConfiguration, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks the policy invariants. Violations are configuration
// errors and fatal: they indicate a deployment defect.
func (p *Policy) Validate() error {
	if err := p.Backoff.Default.validate("backoff.default"); err != nil {
		return err
	}
	for category, policy := range p.Backoff.Overrides {
		if !category.Valid() {
			return fmt.Errorf("%w: backoff override for unknown category %q", ErrConfiguration, category)
		}
		if err := policy.validate("backoff.overrides." + string(category)); err != nil {
			return err
		}
	}

	if p.RateLimit.RecipientHourly <= 0 || p.RateLimit.RecipientDaily <= 0 {
		return fmt.Errorf("%w: recipient rate-limit caps must be positive", ErrConfiguration)
	}
	if p.RateLimit.TenantHourly < 0 || p.RateLimit.TenantDaily < 0 {
		return fmt.Errorf("%w: tenant rate-limit caps must not be negative", ErrConfiguration)
	}

	if p.Workers.High <= 0 || p.Workers.Default <= 0 || p.Workers.Low <= 0 {
		return fmt.Errorf("%w: worker counts must be positive", ErrConfiguration)
	}

	if p.Health.FailureRatePercent <= 0 || p.Health.FailureRatePercent > 100 {
		return fmt.Errorf("%w: failure rate threshold must be in (0, 100]", ErrConfiguration)
	}
	if p.Health.ConsecutiveFailures <= 0 {
		return fmt.Errorf("%w: consecutive failures threshold must be positive", ErrConfiguration)
	}

	if p.SendTimeout.Std() <= 0 {
		return fmt.Errorf("%w: send timeout must be positive", ErrConfiguration)
	}
	if p.LockLease.Std() <= 0 {
		return fmt.Errorf("%w: lock lease must be positive", ErrConfiguration)
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", ErrConfiguration)
	}
	if p.BirthdayHour < 0 || p.BirthdayHour > 23 {
		return fmt.Errorf("%w: birthday hour must be between 0 and 23", ErrConfiguration)
	}
	return nil
}

func (b BackoffPolicy) validate(field string) error {
	if len(b.Schedule) == 0 {
		return fmt.Errorf("%w: %s: backoff schedule is empty", ErrConfiguration, field)
	}
	for i, delay := range b.Schedule {
		if delay.Std() <= 0 {
			return fmt.Errorf("%w: %s: schedule entry %d must be positive", ErrConfiguration, field, i)
		}
	}
	if b.MaxTries < 1 {
		return fmt.Errorf("%w: %s: max tries must be at least 1", ErrConfiguration, field)
	}
	return nil
}
