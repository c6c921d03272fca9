package repository

import (
	"context"
	"time"

	"schoolbell/internal/domain/entity"
)

// NotificationRepository persists delivery attempt records and their
// append-only transition log.
type NotificationRepository interface {
	// Create inserts a new notification and assigns its ID.
	Create(ctx context.Context, n *entity.Notification) error

	// Update persists the mutable delivery fields (status, timestamps,
	// provider result, retry bookkeeping) of an existing notification.
	Update(ctx context.Context, n *entity.Notification) error

	// AppendEvents stores transition log records for a notification.
	// Records are insert-only; existing ones are never touched.
	AppendEvents(ctx context.Context, notificationID int64, records []entity.TransitionRecord) error

	// Get loads a notification without its transition log.
	// Returns entity.ErrNotFound when the ID is unknown.
	Get(ctx context.Context, id int64) (*entity.Notification, error)

	// ListDueRetries returns retryable notifications whose
	// next_retry_at has passed, oldest first, up to limit: failed ones
	// with retries remaining and pending ones whose first attempt was
	// deferred by rate limiting. Cancelled and permanently failed
	// notifications are never returned.
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*entity.Notification, error)

	// Cancel marks a non-terminal notification cancelled. Returns
	// entity.ErrInvalidTransition when the notification is already
	// terminal and entity.ErrNotFound when it does not exist.
	Cancel(ctx context.Context, id int64, now time.Time) error
}

// InboxRepository stores in-app messages for the system channel.
type InboxRepository interface {
	// Insert creates an inbox row for the recipient and returns its ID.
	Insert(ctx context.Context, tenantID, recipientID int64, subject, body string, createdAt time.Time) (int64, error)
}
