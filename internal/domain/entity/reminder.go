// Package entity defines the core domain entities of the reminder
// pipeline: reminder targets due for delivery, notifications with their
// delivery state machine, and message templates. Entities carry no
// infrastructure concerns; persistence lives in internal/infra.
package entity

import (
	"fmt"
	"time"
)

// Category classifies what a reminder is about. It determines the
// priority class a due item is processed under and which template code
// is used as the tenant default fallback.
type Category string

const (
	CategoryTraining   Category = "training"
	CategoryMatch      Category = "match"
	CategoryTournament Category = "tournament"
	CategoryPayment    Category = "payment"
	CategoryBirthday   Category = "birthday"
	CategoryGeneral    Category = "general"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryTraining, CategoryMatch, CategoryTournament,
		CategoryPayment, CategoryBirthday, CategoryGeneral:
		return true
	}
	return false
}

// PriorityClass groups due items into worker pools. Workers never cross
// classes: each class has its own bounded pool during a processing run.
type PriorityClass string

const (
	PriorityHigh    PriorityClass = "high"
	PriorityDefault PriorityClass = "default"
	PriorityLow     PriorityClass = "low"
)

// PriorityClass maps a category to the worker pool that processes it.
// Payments and match reminders are time-critical; birthdays are not.
func (c Category) PriorityClass() PriorityClass {
	switch c {
	case CategoryPayment, CategoryMatch:
		return PriorityHigh
	case CategoryBirthday:
		return PriorityLow
	default:
		return PriorityDefault
	}
}

// ReminderTarget is an event, birthday, or scheduled notification due
// for delivery. Targets are created by upstream schedulers and are
// read-only to the pipeline except for the processed marker, which is
// claimed atomically by dedupe key (the at-most-once guarantee).
type ReminderTarget struct {
	ID          int64
	TenantID    int64
	RecipientID int64
	Addresses   ChannelAddresses

	Category    Category
	TriggerTime time.Time

	// TemplateCode plus Variables form the payload handed to the
	// template renderer.
	TemplateCode string
	Variables    map[string]string

	// Channels are the delivery media the recipient has enabled for
	// this reminder, in send order.
	Channels []Channel

	// DedupeKey is unique per logical trigger (tenant + target +
	// trigger time). Claiming it is the idempotency mechanism.
	DedupeKey string

	ProcessedAt *time.Time
}

// BuildDedupeKey composes the canonical dedupe key for a trigger.
// The trigger time is truncated to the second so that two schedulers
// computing the same logical trigger agree on the key.
func BuildDedupeKey(tenantID, recipientID int64, category Category, trigger time.Time) string {
	return fmt.Sprintf("%d:%d:%s:%d", tenantID, recipientID, category, trigger.Truncate(time.Second).Unix())
}

// Validate checks the invariants the pipeline relies on before
// processing a target.
func (t *ReminderTarget) Validate() error {
	if t.TenantID <= 0 {
		return fmt.Errorf("%w: tenant id must be positive", ErrValidation)
	}
	if t.RecipientID <= 0 {
		return fmt.Errorf("%w: recipient id must be positive", ErrValidation)
	}
	if !t.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrValidation, t.Category)
	}
	if t.TemplateCode == "" {
		return fmt.Errorf("%w: template code is empty", ErrValidation)
	}
	if t.DedupeKey == "" {
		return fmt.Errorf("%w: dedupe key is empty", ErrValidation)
	}
	if len(t.Channels) == 0 {
		return fmt.Errorf("%w: no delivery channels", ErrValidation)
	}
	for _, ch := range t.Channels {
		if !ch.Valid() {
			return fmt.Errorf("%w: unknown channel %q", ErrValidation, ch)
		}
	}
	return nil
}
