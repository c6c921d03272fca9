// Package health rolls up daily delivery statistics per tenant and
// raises alertable conditions to an external sink when the failure rate
// or the consecutive-failure streak crosses its threshold.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"schoolbell/internal/config"
	"schoolbell/internal/infra/counterstore"
	"schoolbell/internal/pkg/clock"
)

// consecutiveTTL keeps failure streaks alive across the midnight reset;
// a streak is only cleared by a successful run.
const consecutiveTTL = 48 * time.Hour

// AlertEvent is a fire-and-forget health notification.
type AlertEvent struct {
	Kind     string // failure_rate|consecutive_failures|configuration_error
	TenantID int64
	Message  string
}

// AlertSink receives alertable health conditions. Implementations must
// not block the pipeline; delivery is best effort.
type AlertSink interface {
	Alert(ctx context.Context, event AlertEvent)
}

// RunResult summarizes one processing run for the aggregator.
type RunResult struct {
	TenantID     int64
	JobType      string
	DueItems     int
	Sent         int
	Failed       int
	BirthdaySent int

	// Err is a run-level failure (lock handling aside), e.g. a
	// configuration error that aborted the run.
	Err error
}

// succeeded reports whether the run counts against the consecutive
// failure streak. A run with nothing due is a success.
func (r RunResult) succeeded() bool {
	if r.Err != nil {
		return false
	}
	return r.Sent > 0 || r.DueItems == 0
}

// Snapshot is the daily aggregate for a tenant.
type Snapshot struct {
	TenantID            int64      `json:"tenant_id"`
	RemindersSent       int64      `json:"reminders_sent"`
	FailedReminders     int64      `json:"failed_reminders"`
	BirthdayReminders   int64      `json:"birthday_reminders"`
	ProcessingRuns      int64      `json:"processing_runs"`
	ConsecutiveFailures int64      `json:"consecutive_failures"`
	FailureRatePercent  float64    `json:"failure_rate_percent"`
	LastSuccessfulRun   *time.Time `json:"last_successful_run,omitempty"`
}

// Aggregator records run outcomes into daily counters and evaluates the
// alert thresholds after every run. Counters reset at local midnight
// via their TTL.
type Aggregator struct {
	store      counterstore.Store
	sink       AlertSink
	clock      clock.Clock
	location   *time.Location
	thresholds config.HealthThresholds

	mu          sync.Mutex
	lastSuccess map[int64]time.Time
}

// NewAggregator builds an Aggregator. A nil location defaults to UTC;
// a nil clock defaults to the system clock.
func NewAggregator(store counterstore.Store, sink AlertSink, thresholds config.HealthThresholds, loc *time.Location, clk clock.Clock) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Aggregator{
		store:       store,
		sink:        sink,
		clock:       clk,
		location:    loc,
		thresholds:  thresholds,
		lastSuccess: map[int64]time.Time{},
	}
}

// Record folds one run result into the daily counters, updates the
// consecutive-failure streak, and raises alerts where thresholds are
// crossed. Recording never fails the run; store errors are returned for
// logging only.
func (a *Aggregator) Record(ctx context.Context, res RunResult) error {
	now := a.clock.Now().In(a.location)
	ttl := untilNextMidnight(now)

	increments := []struct {
		field string
		delta int64
	}{
		{"runs", 1},
		{"sent", int64(res.Sent)},
		{"failed", int64(res.Failed)},
		{"birthday", int64(res.BirthdaySent)},
	}
	for _, inc := range increments {
		if inc.delta == 0 && inc.field != "runs" {
			continue
		}
		if _, err := a.store.IncrementBy(ctx, a.key(res.TenantID, inc.field), inc.delta, ttl); err != nil {
			return fmt.Errorf("health record %s: %w", inc.field, err)
		}
	}

	var streak int64
	if res.succeeded() {
		if err := a.store.Reset(ctx, a.key(res.TenantID, "consecutive_failures")); err != nil {
			return fmt.Errorf("health reset streak: %w", err)
		}
		a.mu.Lock()
		a.lastSuccess[res.TenantID] = now
		a.mu.Unlock()
	} else {
		counter, err := a.store.Increment(ctx, a.key(res.TenantID, "consecutive_failures"), consecutiveTTL)
		if err != nil {
			return fmt.Errorf("health bump streak: %w", err)
		}
		streak = counter.Count
	}

	a.evaluate(ctx, res, streak)
	return nil
}

// evaluate raises alertable conditions for the run just recorded.
func (a *Aggregator) evaluate(ctx context.Context, res RunResult, streak int64) {
	if errors.Is(res.Err, config.ErrConfiguration) {
		a.sink.Alert(ctx, AlertEvent{
			Kind:     "configuration_error",
			TenantID: res.TenantID,
			Message:  res.Err.Error(),
		})
	}

	if streak >= int64(a.thresholds.ConsecutiveFailures) {
		a.sink.Alert(ctx, AlertEvent{
			Kind:     "consecutive_failures",
			TenantID: res.TenantID,
			Message:  fmt.Sprintf("%d consecutive failing runs", streak),
		})
	}

	rate, err := a.FailureRate(ctx, res.TenantID)
	if err != nil {
		return
	}
	if rate > a.thresholds.FailureRatePercent {
		a.sink.Alert(ctx, AlertEvent{
			Kind:     "failure_rate",
			TenantID: res.TenantID,
			Message:  fmt.Sprintf("failure rate %.1f%% over threshold %.1f%%", rate, a.thresholds.FailureRatePercent),
		})
	}
}

// FailureRate returns the tenant's failure percentage over the current
// daily window. A window with no attempts has a rate of zero.
func (a *Aggregator) FailureRate(ctx context.Context, tenantID int64) (float64, error) {
	sent, err := a.store.Get(ctx, a.key(tenantID, "sent"))
	if err != nil {
		return 0, err
	}
	failed, err := a.store.Get(ctx, a.key(tenantID, "failed"))
	if err != nil {
		return 0, err
	}
	total := sent.Count + failed.Count
	if total == 0 {
		return 0, nil
	}
	return float64(failed.Count) / float64(total) * 100, nil
}

// CurrentSnapshot returns the tenant's daily aggregate. Absent counters
// read as zero.
func (a *Aggregator) CurrentSnapshot(ctx context.Context, tenantID int64) (*Snapshot, error) {
	snap := &Snapshot{TenantID: tenantID}

	reads := []struct {
		field string
		dst   *int64
	}{
		{"sent", &snap.RemindersSent},
		{"failed", &snap.FailedReminders},
		{"birthday", &snap.BirthdayReminders},
		{"runs", &snap.ProcessingRuns},
		{"consecutive_failures", &snap.ConsecutiveFailures},
	}
	for _, r := range reads {
		counter, err := a.store.Get(ctx, a.key(tenantID, r.field))
		if err != nil {
			return nil, fmt.Errorf("health snapshot %s: %w", r.field, err)
		}
		*r.dst = counter.Count
	}

	rate, err := a.FailureRate(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snap.FailureRatePercent = rate

	a.mu.Lock()
	if last, ok := a.lastSuccess[tenantID]; ok {
		snap.LastSuccessfulRun = &last
	}
	a.mu.Unlock()

	return snap, nil
}

func (a *Aggregator) key(tenantID int64, field string) string {
	return fmt.Sprintf("health:%d:%s", tenantID, field)
}

// untilNextMidnight computes the TTL that expires a daily counter at
// the next local midnight.
func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return next.Sub(now)
}
