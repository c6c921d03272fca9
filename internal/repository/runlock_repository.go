package repository

import (
	"context"
	"errors"
	"time"
)

// ErrLockContention indicates that another worker currently holds the
// run lock for the same (tenant, job type). Callers exit early without
// error; overlapping triggers are expected.
var ErrLockContention = errors.New("run lock held by another worker")

// RunLockRepository provides the mutual-exclusion lease that prevents
// overlapping invocations of the same cadence. Leases are bounded: an
// expired lease may be taken over even if the previous owner never
// released it (crash safety).
type RunLockRepository interface {
	// Acquire takes the lock for (tenantID, jobType) with the given
	// lease duration, identifying the caller by owner token. Returns
	// ErrLockContention when an unexpired lease is held by someone else.
	Acquire(ctx context.Context, tenantID int64, jobType string, owner string, lease time.Duration) error

	// Release frees the lock if the caller still owns it. Releasing a
	// lock that expired and was taken over is a no-op.
	Release(ctx context.Context, tenantID int64, jobType string, owner string) error
}
