package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/repository"
)

type NotificationRepo struct{ db *sql.DB }

func NewNotificationRepo(db *sql.DB) repository.NotificationRepository {
	return &NotificationRepo{db: db}
}

const notificationColumns = `
id, reminder_target_id, tenant_id, recipient_id, channel, address, category,
template_code, variables, status, scheduled_at, sent_at, delivered_at, read_at,
failed_at, provider, provider_message_id, error_message, retry_count,
next_retry_at, retry_exhausted`

func (repo *NotificationRepo) Create(ctx context.Context, n *entity.Notification) error {
	variablesJSON, err := json.Marshal(n.Variables)
	if err != nil {
		return fmt.Errorf("Create: marshal variables: %w", err)
	}

	const query = `
INSERT INTO notifications
    (reminder_target_id, tenant_id, recipient_id, channel, address, category,
     template_code, variables, status, scheduled_at, retry_count, retry_exhausted)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
RETURNING id`
	err = repo.db.QueryRowContext(ctx, query,
		n.ReminderTargetID, n.TenantID, n.RecipientID,
		string(n.Channel), n.Address, string(n.Category),
		n.TemplateCode, variablesJSON, string(n.Status),
		n.ScheduledAt, n.RetryCount, n.RetryExhausted,
	).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (repo *NotificationRepo) Update(ctx context.Context, n *entity.Notification) error {
	const query = `
UPDATE notifications SET
       status              = $1,
       sent_at             = $2,
       delivered_at        = $3,
       read_at             = $4,
       failed_at           = $5,
       provider            = $6,
       provider_message_id = $7,
       error_message       = $8,
       retry_count         = $9,
       next_retry_at       = $10,
       retry_exhausted     = $11
WHERE id = $12`
	res, err := repo.db.ExecContext(ctx, query,
		string(n.Status), n.SentAt, n.DeliveredAt, n.ReadAt, n.FailedAt,
		n.Provider, n.ProviderMessageID, n.ErrorMessage,
		n.RetryCount, n.NextRetryAt, n.RetryExhausted, n.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return fmt.Errorf("Update: %w", entity.ErrNotFound)
	}
	return nil
}

func (repo *NotificationRepo) AppendEvents(ctx context.Context, notificationID int64, records []entity.TransitionRecord) error {
	if len(records) == 0 {
		return nil
	}

	const query = `
INSERT INTO notification_events (notification_id, event, from_status, to_status, occurred_at, data)
VALUES ($1, $2, $3, $4, $5, $6)`

	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("AppendEvents: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, record := range records {
		dataJSON, err := json.Marshal(record.Data)
		if err != nil {
			return fmt.Errorf("AppendEvents: marshal data: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			notificationID, string(record.Event),
			string(record.From), string(record.To),
			record.OccurredAt, dataJSON,
		); err != nil {
			return fmt.Errorf("AppendEvents: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("AppendEvents: %w", err)
	}
	return nil
}

func (repo *NotificationRepo) Get(ctx context.Context, id int64) (*entity.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1 LIMIT 1`

	n, err := scanNotificationRow(repo.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Get: %w", entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Get: %w", err)
	}
	return n, nil
}

// ListDueRetries fetches notifications waiting for their next attempt:
// failed ones with retries remaining and pending ones deferred by rate
// limiting.
func (repo *NotificationRepo) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]*entity.Notification, error) {
	query := `
SELECT ` + notificationColumns + `
FROM notifications
WHERE next_retry_at IS NOT NULL
  AND next_retry_at <= $1
  AND retry_exhausted = FALSE
  AND status IN ('pending', 'failed')
ORDER BY next_retry_at ASC
LIMIT $2`

	rows, err := repo.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ListDueRetries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notifications := make([]*entity.Notification, 0, limit)
	for rows.Next() {
		n, err := scanNotificationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("ListDueRetries: %w", err)
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// Cancel marks a non-terminal notification cancelled and records the
// transition event in the same transaction.
func (repo *NotificationRepo) Cancel(ctx context.Context, id int64, now time.Time) error {
	tx, err := repo.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("Cancel: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		status    string
		exhausted bool
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, retry_exhausted FROM notifications WHERE id = $1 FOR UPDATE`, id,
	).Scan(&status, &exhausted)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("Cancel: %w", entity.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("Cancel: %w", err)
	}

	current := entity.Status(status)
	switch {
	case current == entity.StatusRead || current == entity.StatusCancelled:
		return fmt.Errorf("Cancel: %w: %s is terminal", entity.ErrInvalidTransition, current)
	case current == entity.StatusFailed && exhausted:
		return fmt.Errorf("Cancel: %w: %s is terminal", entity.ErrInvalidTransition, current)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE notifications SET status = 'cancelled', next_retry_at = NULL WHERE id = $1`, id,
	); err != nil {
		return fmt.Errorf("Cancel: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notification_events (notification_id, event, from_status, to_status, occurred_at, data)
VALUES ($1, $2, $3, $4, $5, $6)`,
		id, string(entity.EventCancelled), status, string(entity.StatusCancelled), now, []byte(`{}`),
	); err != nil {
		return fmt.Errorf("Cancel: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("Cancel: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNotificationRow(row rowScanner) (*entity.Notification, error) {
	var (
		n             entity.Notification
		variablesJSON []byte
	)
	if err := row.Scan(
		&n.ID, &n.ReminderTargetID, &n.TenantID, &n.RecipientID,
		&n.Channel, &n.Address, &n.Category, &n.TemplateCode, &variablesJSON,
		&n.Status, &n.ScheduledAt, &n.SentAt, &n.DeliveredAt, &n.ReadAt,
		&n.FailedAt, &n.Provider, &n.ProviderMessageID, &n.ErrorMessage,
		&n.RetryCount, &n.NextRetryAt, &n.RetryExhausted,
	); err != nil {
		return nil, err
	}
	if len(variablesJSON) > 0 {
		if err := json.Unmarshal(variablesJSON, &n.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	return &n, nil
}
