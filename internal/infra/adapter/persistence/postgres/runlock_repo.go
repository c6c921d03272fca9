package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"schoolbell/internal/pkg/clock"
	"schoolbell/internal/repository"
)

type RunLockRepo struct {
	db    *sql.DB
	clock clock.Clock
}

func NewRunLockRepo(db *sql.DB, clk clock.Clock) repository.RunLockRepository {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &RunLockRepo{db: db, clock: clk}
}

// Acquire takes or steals the lease for (tenant, job type). The upsert
// only succeeds when no row exists, the previous lease expired, or the
// caller already owns it; otherwise zero rows are affected and the lock
// is contended.
func (repo *RunLockRepo) Acquire(ctx context.Context, tenantID int64, jobType string, owner string, lease time.Duration) error {
	const query = `
INSERT INTO run_locks (tenant_id, job_type, owner, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, job_type) DO UPDATE
SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
WHERE run_locks.expires_at <= $5 OR run_locks.owner = EXCLUDED.owner`

	now := repo.clock.Now()
	res, err := repo.db.ExecContext(ctx, query, tenantID, jobType, owner, now.Add(lease), now)
	if err != nil {
		return fmt.Errorf("Acquire: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Acquire: %w", err)
	}
	if affected == 0 {
		return repository.ErrLockContention
	}
	return nil
}

// Release frees the lease if the caller still owns it. A lease that
// expired and was taken over belongs to the new owner; releasing it is
// a no-op.
func (repo *RunLockRepo) Release(ctx context.Context, tenantID int64, jobType string, owner string) error {
	const query = `
DELETE FROM run_locks
WHERE tenant_id = $1 AND job_type = $2 AND owner = $3`
	if _, err := repo.db.ExecContext(ctx, query, tenantID, jobType, owner); err != nil {
		return fmt.Errorf("Release: %w", err)
	}
	return nil
}
