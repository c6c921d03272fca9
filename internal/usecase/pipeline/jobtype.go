package pipeline

import (
	"fmt"

	"schoolbell/internal/domain/entity"
)

// JobType names a processing cadence. Each cadence covers a disjoint
// set of reminder categories so overlapping cadences never compete for
// the same due items.
type JobType string

const (
	// JobUrgent processes time-critical reminders every minute.
	JobUrgent JobType = "urgent"

	// JobGeneral processes the remaining scheduled reminders.
	JobGeneral JobType = "general"

	// JobBirthdays synthesizes and delivers birthday reminders once a
	// day at the tenant-local birthday hour.
	JobBirthdays JobType = "birthdays"

	// JobRetries re-enqueues failed-retryable and rate-deferred
	// notifications whose next attempt time has passed.
	JobRetries JobType = "retries"
)

// ParseJobType validates an operator-supplied job type string.
func ParseJobType(s string) (JobType, error) {
	switch JobType(s) {
	case JobUrgent, JobGeneral, JobBirthdays, JobRetries:
		return JobType(s), nil
	}
	return "", fmt.Errorf("unknown job type %q", s)
}

// Categories returns the reminder categories a job type claims. The
// retries job works off notifications, not reminder targets, and claims
// none.
func (j JobType) Categories() []entity.Category {
	switch j {
	case JobUrgent:
		return []entity.Category{entity.CategoryPayment, entity.CategoryMatch}
	case JobGeneral:
		return []entity.Category{entity.CategoryTraining, entity.CategoryTournament, entity.CategoryGeneral}
	case JobBirthdays:
		return []entity.Category{entity.CategoryBirthday}
	}
	return nil
}
