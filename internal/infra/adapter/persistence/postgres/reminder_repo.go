// Package postgres implements the repository contracts on postgres via
// the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/repository"
)

type ReminderRepo struct{ db *sql.DB }

func NewReminderRepo(db *sql.DB) repository.ReminderRepository {
	return &ReminderRepo{db: db}
}

// ClaimDueBatch claims up to limit due targets in one statement. The
// processed marker is set inside the claiming UPDATE, so concurrent
// runs can never receive the same target; SKIP LOCKED keeps overlapping
// claimers from blocking each other.
func (repo *ReminderRepo) ClaimDueBatch(ctx context.Context, now time.Time, tenantID int64, categories []entity.Category, limit int) ([]*entity.ReminderTarget, error) {
	const query = `
UPDATE reminder_targets AS t
SET processed_at = $1
FROM (
    SELECT id
    FROM reminder_targets
    WHERE processed_at IS NULL
      AND trigger_time <= $1
      AND category = ANY(string_to_array($2, ','))
      AND ($3 = 0 OR tenant_id = $3)
    ORDER BY trigger_time ASC
    LIMIT $4
    FOR UPDATE SKIP LOCKED
) AS due
WHERE t.id = due.id AND t.processed_at IS NULL
RETURNING t.id, t.tenant_id, t.recipient_id, t.email, t.phone, t.push_token,
          t.category, t.trigger_time, t.template_code, t.variables, t.channels,
          t.dedupe_key, t.processed_at`

	names := make([]string, len(categories))
	for i, c := range categories {
		names[i] = string(c)
	}

	rows, err := repo.db.QueryContext(ctx, query, now, strings.Join(names, ","), tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("ClaimDueBatch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	targets := make([]*entity.ReminderTarget, 0, limit)
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("ClaimDueBatch: %w", err)
		}
		targets = append(targets, target)
	}
	return targets, rows.Err()
}

func scanTarget(rows *sql.Rows) (*entity.ReminderTarget, error) {
	var (
		target        entity.ReminderTarget
		variablesJSON []byte
		channelsJSON  []byte
	)
	if err := rows.Scan(
		&target.ID, &target.TenantID, &target.RecipientID,
		&target.Addresses.Email, &target.Addresses.Phone, &target.Addresses.PushToken,
		&target.Category, &target.TriggerTime, &target.TemplateCode,
		&variablesJSON, &channelsJSON, &target.DedupeKey, &target.ProcessedAt,
	); err != nil {
		return nil, err
	}
	if len(variablesJSON) > 0 {
		if err := json.Unmarshal(variablesJSON, &target.Variables); err != nil {
			return nil, fmt.Errorf("unmarshal variables: %w", err)
		}
	}
	if len(channelsJSON) > 0 {
		if err := json.Unmarshal(channelsJSON, &target.Channels); err != nil {
			return nil, fmt.Errorf("unmarshal channels: %w", err)
		}
	}
	return &target, nil
}

// SynthesizeBirthdays creates one birthday target per recipient born on
// this date. The dedupe key embeds the trigger timestamp, so re-running
// on the same date inserts nothing (ON CONFLICT DO NOTHING).
func (repo *ReminderRepo) SynthesizeBirthdays(ctx context.Context, tenantID int64, date time.Time, triggerAt time.Time) (int64, error) {
	const query = `
INSERT INTO reminder_targets
    (tenant_id, recipient_id, email, phone, push_token, category,
     trigger_time, template_code, variables, channels, dedupe_key)
SELECT r.tenant_id, r.id, r.email, r.phone, r.push_token, 'birthday',
       $3,
       'birthday_greeting',
       jsonb_build_object('recipient_name', r.name),
       r.default_channels,
       r.tenant_id || ':' || r.id || ':birthday:' || $4
FROM recipients r
WHERE r.birth_date IS NOT NULL
  AND to_char(r.birth_date, 'MM-DD') = to_char($2::date, 'MM-DD')
  AND ($1 = 0 OR r.tenant_id = $1)
ON CONFLICT (dedupe_key) DO NOTHING`

	res, err := repo.db.ExecContext(ctx, query, tenantID, date, triggerAt, triggerAt.Truncate(time.Second).Unix())
	if err != nil {
		return 0, fmt.Errorf("SynthesizeBirthdays: %w", err)
	}
	created, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("SynthesizeBirthdays: %w", err)
	}
	return created, nil
}
