// Package ratelimit gates notification sends with sliding hourly and
// daily counters per recipient and per tenant, backed by the expiring
// counter store. Counters expire at an absolute boundary measured from
// the first increment in a window, not per call.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"schoolbell/internal/config"
	"schoolbell/internal/infra/counterstore"
	"schoolbell/internal/pkg/clock"
)

// ErrRateLimited indicates that a scope is at its cap. Callers must
// back off; this is not a dispatch failure.
var ErrRateLimited = errors.New("rate limited")

// Window is a rate-limit accounting window.
type Window string

const (
	WindowHourly Window = "hourly"
	WindowDaily  Window = "daily"
)

// TTL returns the window's counter lifetime.
func (w Window) TTL() time.Duration {
	if w == WindowDaily {
		return 24 * time.Hour
	}
	return time.Hour
}

// Decision is the outcome of one Allow check: which scope/window closed
// the gate (if any) and when the caller may retry.
type Decision struct {
	Allowed    bool
	Scope      string
	Window     Window
	Limit      int
	Count      int64
	ResetAt    time.Time
	RetryAfter time.Duration
}

// WindowStatus is the current state of one scope window, for the
// operator status endpoint. Zero counters are reported as zero, never
// as an error.
type WindowStatus struct {
	Window  Window    `json:"window"`
	Count   int64     `json:"count"`
	Limit   int       `json:"limit"`
	ResetAt time.Time `json:"reset_at,omitzero"`
}

// Limiter checks and maintains the send counters.
type Limiter struct {
	store counterstore.Store
	clock clock.Clock

	recipientHourly int
	recipientDaily  int
	tenantHourly    int
	tenantDaily     int
}

// NewLimiter builds a Limiter from the policy caps. Tenant caps default
// to 10x the recipient caps when unset.
func NewLimiter(store counterstore.Store, caps config.RateLimitCaps, clk clock.Clock) *Limiter {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	tenantHourly, tenantDaily := caps.TenantCapsOrDefault()
	return &Limiter{
		store:           store,
		clock:           clk,
		recipientHourly: caps.RecipientHourly,
		recipientDaily:  caps.RecipientDaily,
		tenantHourly:    tenantHourly,
		tenantDaily:     tenantDaily,
	}
}

// RecipientScope formats the scope key for a recipient within a tenant.
func RecipientScope(tenantID, recipientID int64) string {
	return fmt.Sprintf("user:%d:%d", tenantID, recipientID)
}

// TenantScope formats the scope key for a whole tenant.
func TenantScope(tenantID int64) string {
	return fmt.Sprintf("tenant:%d", tenantID)
}

type scopeCheck struct {
	scope  string
	window Window
	limit  int
}

func (l *Limiter) checks(tenantID, recipientID int64) []scopeCheck {
	return []scopeCheck{
		{RecipientScope(tenantID, recipientID), WindowHourly, l.recipientHourly},
		{RecipientScope(tenantID, recipientID), WindowDaily, l.recipientDaily},
		{TenantScope(tenantID), WindowHourly, l.tenantHourly},
		{TenantScope(tenantID), WindowDaily, l.tenantDaily},
	}
}

// Allow reports whether a send to the recipient may proceed. Every
// applicable scope must be under its cap; the first scope at its cap
// closes the gate and is reported in the decision. Allow never
// increments; call Increment after the dispatch attempt was made.
func (l *Limiter) Allow(ctx context.Context, tenantID, recipientID int64) (*Decision, error) {
	now := l.clock.Now()

	for _, check := range l.checks(tenantID, recipientID) {
		counter, err := l.store.Get(ctx, counterKey(check.scope, check.window))
		if err != nil {
			return nil, fmt.Errorf("rate limit check %s/%s: %w", check.scope, check.window, err)
		}
		if counter.Count >= int64(check.limit) {
			RecordLimited(check.scope, string(check.window))
			return &Decision{
				Allowed:    false,
				Scope:      check.scope,
				Window:     check.window,
				Limit:      check.limit,
				Count:      counter.Count,
				ResetAt:    counter.ResetAt,
				RetryAfter: counter.ResetAt.Sub(now),
			}, nil
		}
	}

	return &Decision{Allowed: true}, nil
}

// Increment records one dispatch attempt against all applicable scopes.
// It is called after an attempt is actually made, not when one is
// merely scheduled.
func (l *Limiter) Increment(ctx context.Context, tenantID, recipientID int64) error {
	for _, check := range l.checks(tenantID, recipientID) {
		if _, err := l.store.Increment(ctx, counterKey(check.scope, check.window), check.window.TTL()); err != nil {
			return fmt.Errorf("rate limit increment %s/%s: %w", check.scope, check.window, err)
		}
	}
	return nil
}

// Status reports both windows of a scope. A scope with no traffic
// yields zero counters, never an error.
func (l *Limiter) Status(ctx context.Context, scope string) ([]WindowStatus, error) {
	limits := map[Window]int{
		WindowHourly: l.recipientHourly,
		WindowDaily:  l.recipientDaily,
	}
	if isTenantScope(scope) {
		limits[WindowHourly] = l.tenantHourly
		limits[WindowDaily] = l.tenantDaily
	}

	statuses := make([]WindowStatus, 0, 2)
	for _, w := range []Window{WindowHourly, WindowDaily} {
		counter, err := l.store.Get(ctx, counterKey(scope, w))
		if err != nil {
			return nil, fmt.Errorf("rate limit status %s/%s: %w", scope, w, err)
		}
		statuses = append(statuses, WindowStatus{
			Window:  w,
			Count:   counter.Count,
			Limit:   limits[w],
			ResetAt: counter.ResetAt,
		})
	}
	return statuses, nil
}

func counterKey(scope string, window Window) string {
	return fmt.Sprintf("rl:%s:%s", scope, window)
}

func isTenantScope(scope string) bool {
	return len(scope) > 7 && scope[:7] == "tenant:"
}
