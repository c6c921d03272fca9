package pipeline

import "sync"

// RunStats is the outcome of one processing run.
type RunStats struct {
	JobType  JobType `json:"job_type"`
	TenantID int64   `json:"tenant_id"`

	// DueItems counts claimed reminder targets (or, for the retries
	// job, re-enqueued notifications).
	DueItems int `json:"due_items"`

	// Sent counts notifications that reached the sent state.
	Sent int `json:"sent"`

	// Failed counts notifications whose attempt failed, whether or not
	// a retry was scheduled.
	Failed int `json:"failed"`

	// Deferred counts sends blocked by the rate limiter and pushed to a
	// later attempt without consuming a retry.
	Deferred int `json:"deferred"`

	// Skipped counts items dropped without an attempt: invalid targets
	// and recipients unreachable on a channel.
	Skipped int `json:"skipped"`

	// BirthdaySent counts sent notifications of the birthday category.
	BirthdaySent int `json:"birthday_sent"`

	// BirthdaysSynthesized counts targets created by the daily birthday
	// synthesis, before delivery.
	BirthdaysSynthesized int64 `json:"birthdays_synthesized"`
}

// statsCollector accumulates RunStats across concurrent workers.
type statsCollector struct {
	mu    sync.Mutex
	stats RunStats
}

func (c *statsCollector) add(fn func(*RunStats)) {
	c.mu.Lock()
	fn(&c.stats)
	c.mu.Unlock()
}

func (c *statsCollector) snapshot() *RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	return &s
}
