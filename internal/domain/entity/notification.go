package entity

import (
	"fmt"
	"time"
)

// Status is the delivery state of a notification.
//
// The state machine is:
//
//	pending -> queued -> sending -> sent -> delivered -> read
//	                        |
//	                        v
//	                      failed -> queued (while retries remain)
//
// cancelled is reachable from any non-terminal state by operator action.
// failed becomes terminal once retries are exhausted (RetryExhausted).
type Status string

const (
	StatusPending   Status = "pending"
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// EventType names a state machine event. Events drive transitions and
// are recorded in the append-only transition log.
type EventType string

const (
	EventEnqueued          EventType = "enqueued"
	EventSendStarted       EventType = "send_started"
	EventSent              EventType = "sent"
	EventDeliveryConfirmed EventType = "delivery_confirmed"
	EventReadConfirmed     EventType = "read_confirmed"
	EventSendFailed        EventType = "send_failed"
	EventCancelled         EventType = "cancelled"
	EventRetriesExhausted  EventType = "retries_exhausted"
)

// transitions is the full table of valid (status, event) -> status moves.
// Anything not listed fails with ErrInvalidTransition.
var transitions = map[Status]map[EventType]Status{
	StatusPending: {
		EventEnqueued:  StatusQueued,
		EventCancelled: StatusCancelled,
	},
	StatusQueued: {
		EventSendStarted: StatusSending,
		EventCancelled:   StatusCancelled,
	},
	StatusSending: {
		EventSent:       StatusSent,
		EventSendFailed: StatusFailed,
		EventCancelled:  StatusCancelled,
	},
	StatusSent: {
		EventDeliveryConfirmed: StatusDelivered,
	},
	StatusDelivered: {
		EventReadConfirmed: StatusRead,
	},
	StatusFailed: {
		EventEnqueued:  StatusQueued, // retry
		EventCancelled: StatusCancelled,
	},
}

// TransitionRecord is one immutable entry of a notification's audit log.
// The log is append-only and never mutated after the fact.
type TransitionRecord struct {
	Event      EventType
	From       Status
	To         Status
	OccurredAt time.Time
	Data       map[string]string
}

// Notification is a single delivery attempt record, owned exclusively
// by the pipeline. It is created when a ReminderTarget or an ad-hoc
// send request is processed.
type Notification struct {
	ID               int64
	ReminderTargetID *int64 // nil for direct sends
	TenantID         int64
	RecipientID      int64

	Channel      Channel
	Address      string
	Category     Category

	// TemplateCode and Variables are carried from the reminder target so
	// a retry can re-render without it. Rendering is deterministic, so a
	// retried send produces identical content.
	TemplateCode string
	Variables    map[string]string

	Status      Status
	ScheduledAt time.Time
	SentAt      *time.Time
	DeliveredAt *time.Time
	ReadAt      *time.Time
	FailedAt    *time.Time

	Provider          string
	ProviderMessageID string
	ErrorMessage      string

	RetryCount     int
	NextRetryAt    *time.Time
	RetryExhausted bool

	Log []TransitionRecord
}

// NewNotification creates a pending notification for one channel of a
// reminder target.
func NewNotification(target *ReminderTarget, ch Channel, address string, scheduledAt time.Time) *Notification {
	targetID := target.ID
	return &Notification{
		ReminderTargetID: &targetID,
		TenantID:         target.TenantID,
		RecipientID:      target.RecipientID,
		Channel:          ch,
		Address:          address,
		Category:         target.Category,
		TemplateCode:     target.TemplateCode,
		Variables:        target.Variables,
		Status:           StatusPending,
		ScheduledAt:      scheduledAt,
	}
}

// Transition applies an event to the notification. On success it moves
// the status, stamps the corresponding timestamp field and appends a
// log record. Invalid (status, event) pairs fail with
// ErrInvalidTransition and leave the notification untouched.
func (n *Notification) Transition(ev EventType, now time.Time, data map[string]string) error {
	next, ok := transitions[n.Status][ev]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, ev)
	}

	from := n.Status
	n.Status = next

	switch next {
	case StatusSent:
		t := now
		n.SentAt = &t
	case StatusDelivered:
		t := now
		n.DeliveredAt = &t
	case StatusRead:
		t := now
		n.ReadAt = &t
	case StatusFailed:
		t := now
		n.FailedAt = &t
	}

	// Enqueueing consumes any pending schedule so NextRetryAt is only
	// ever set while the notification waits for its next attempt.
	// Re-enqueueing after a failure additionally counts the retry.
	if next == StatusQueued {
		n.NextRetryAt = nil
		if from == StatusFailed {
			n.RetryCount++
		}
	}

	n.Log = append(n.Log, TransitionRecord{
		Event:      ev,
		From:       from,
		To:         next,
		OccurredAt: now,
		Data:       data,
	})
	return nil
}

// ExhaustRetries marks a failed notification permanently failed. It is
// only valid while the notification is in the failed state.
func (n *Notification) ExhaustRetries(now time.Time, reason string) error {
	if n.Status != StatusFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, n.Status, EventRetriesExhausted)
	}
	n.RetryExhausted = true
	n.NextRetryAt = nil
	n.Log = append(n.Log, TransitionRecord{
		Event:      EventRetriesExhausted,
		From:       StatusFailed,
		To:         StatusFailed,
		OccurredAt: now,
		Data:       map[string]string{"reason": reason},
	})
	return nil
}

// ScheduleRetry records when the next attempt may run. It is valid
// while the notification is failed and retryable, or still pending
// (a send deferred by rate limiting before the first attempt).
func (n *Notification) ScheduleRetry(at time.Time) error {
	if n.Status != StatusPending && (n.Status != StatusFailed || n.RetryExhausted) {
		return fmt.Errorf("%w: cannot schedule retry in status %s", ErrInvalidTransition, n.Status)
	}
	t := at
	n.NextRetryAt = &t
	return nil
}

// IsTerminal reports whether the notification can change state again.
// read and cancelled are always terminal; failed is terminal once
// retries are exhausted. sent and delivered still accept provider
// confirmations and are not considered terminal here.
func (n *Notification) IsTerminal() bool {
	switch n.Status {
	case StatusRead, StatusCancelled:
		return true
	case StatusFailed:
		return n.RetryExhausted
	}
	return false
}
