// Package counterstore provides the expiring counter abstraction shared
// by the rate limiter and the health aggregator. Keys are explicit and
// scoped by the caller; there are no process-wide singletons.
package counterstore

import (
	"context"
	"time"
)

// Counter is the current value of one counter key.
type Counter struct {
	// Count is the number of increments since the window started.
	// Zero when the key is absent or expired.
	Count int64

	// ResetAt is when the counter expires. The expiry is absolute from
	// the first increment in the window, not sliding per call. Zero
	// when the key is absent.
	ResetAt time.Time
}

// Store is an atomic increment-with-expiry counter store.
//
// Implementations must guarantee that Increment is atomic under
// concurrent use and that the TTL set by the first increment of a
// window is never extended by later increments.
type Store interface {
	// Increment adds 1 to the counter and returns its new state. The
	// first increment of a window starts the expiry clock with ttl.
	Increment(ctx context.Context, key string, ttl time.Duration) (Counter, error)

	// IncrementBy adds delta to the counter, with the same window
	// semantics as Increment. delta must not be negative.
	IncrementBy(ctx context.Context, key string, delta int64, ttl time.Duration) (Counter, error)

	// Get returns the counter's current state without modifying it.
	// Absent or expired keys yield a zero Counter and no error.
	Get(ctx context.Context, key string) (Counter, error)

	// Reset removes the counter immediately, regardless of its TTL.
	Reset(ctx context.Context, key string) error
}
