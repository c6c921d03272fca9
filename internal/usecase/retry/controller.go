// Package retry decides whether and when a failed delivery attempt may
// run again. The backoff schedule is a fixed ordered sequence of delays
// indexed by the 1-based attempt number; exhausting the schedule or the
// attempt cap turns a transient failure permanent.
package retry

import (
	"errors"
	"fmt"
	"time"

	"schoolbell/internal/config"
	"schoolbell/internal/domain/entity"
	"schoolbell/internal/usecase/dispatch"
)

// ErrPermanentFailure indicates that no further attempt may be made:
// either the failure was classified permanent, or retries are
// exhausted.
var ErrPermanentFailure = errors.New("permanent delivery failure")

// Controller computes retry schedules per reminder category.
type Controller struct {
	fallback  config.BackoffPolicy
	overrides map[entity.Category]config.BackoffPolicy
}

// NewController builds a Controller from the policy config. The config
// must already be validated; an invalid default schedule is rejected
// here again as a configuration error since a broken controller would
// otherwise silently drop every retry.
func NewController(backoff config.BackoffConfig) (*Controller, error) {
	if len(backoff.Default.Schedule) == 0 || backoff.Default.MaxTries < 1 {
		return nil, fmt.Errorf("%w: retry controller needs a non-empty default schedule", config.ErrConfiguration)
	}
	return &Controller{
		fallback:  backoff.Default,
		overrides: backoff.Overrides,
	}, nil
}

// policyFor returns the backoff policy effective for a category.
func (c *Controller) policyFor(category entity.Category) config.BackoffPolicy {
	if p, ok := c.overrides[category]; ok {
		return p
	}
	return c.fallback
}

// MaxTries returns the attempt cap effective for a category.
func (c *Controller) MaxTries(category entity.Category) int {
	return c.policyFor(category).MaxTries
}

// ScheduleRetry decides the next attempt time after attempt number
// attempt (1-based) failed with the given classification.
//
//   - permanent classifications short-circuit to ErrPermanentFailure
//     regardless of the attempt count
//   - attempt >= MaxTries returns ErrPermanentFailure: the cap is never
//     exceeded even when the schedule is longer
//   - attempt beyond the schedule length returns ErrPermanentFailure
//   - otherwise the next attempt runs at now + schedule[attempt-1]
func (c *Controller) ScheduleRetry(category entity.Category, kind dispatch.FailureKind, attempt int, now time.Time) (time.Time, error) {
	if !kind.Retryable() {
		return time.Time{}, fmt.Errorf("%w: %s failure", ErrPermanentFailure, kind)
	}
	if attempt < 1 {
		return time.Time{}, fmt.Errorf("%w: attempt number must be 1-based, got %d", config.ErrConfiguration, attempt)
	}

	policy := c.policyFor(category)
	if attempt >= policy.MaxTries {
		return time.Time{}, fmt.Errorf("%w: attempt %d reached max tries %d", ErrPermanentFailure, attempt, policy.MaxTries)
	}
	if attempt > len(policy.Schedule) {
		return time.Time{}, fmt.Errorf("%w: attempt %d exceeds backoff schedule length %d", ErrPermanentFailure, attempt, len(policy.Schedule))
	}

	return now.Add(policy.Schedule[attempt-1].Std()), nil
}
