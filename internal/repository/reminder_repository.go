// Package repository declares the persistence contracts consumed by the
// pipeline use cases. Implementations live under
// internal/infra/adapter/persistence.
package repository

import (
	"context"
	"time"

	"schoolbell/internal/domain/entity"
)

// ReminderRepository is the pipeline's view of the event/user store.
// The pipeline only reads reminder targets and claims their processed
// marker; upstream schedulers own everything else.
type ReminderRepository interface {
	// ClaimDueBatch atomically claims up to limit unprocessed targets
	// whose trigger time has passed, restricted to the given categories
	// and, when tenantID > 0, to a single tenant. Claiming sets the
	// processed marker in the same statement (compare-and-set on the
	// dedupe key), so concurrent callers never receive the same target.
	// Returns an empty slice when nothing is due.
	ClaimDueBatch(ctx context.Context, now time.Time, tenantID int64, categories []entity.Category, limit int) ([]*entity.ReminderTarget, error)

	// SynthesizeBirthdays creates birthday reminder targets for every
	// recipient of the tenant whose birthday falls on the given date,
	// scheduled at triggerAt. Targets already created for that date are
	// skipped, making the call idempotent per (tenant, date).
	// tenantID 0 synthesizes for all tenants. Returns the number of
	// targets created.
	SynthesizeBirthdays(ctx context.Context, tenantID int64, date time.Time, triggerAt time.Time) (int64, error)
}
