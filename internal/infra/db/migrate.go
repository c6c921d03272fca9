package db

import "database/sql"

// MigrateUp creates the pipeline tables. All statements are idempotent
// so repeated worker startups are safe.
func MigrateUp(db *sql.DB) error {
	statements := []string{
		`
CREATE TABLE IF NOT EXISTS reminder_targets (
    id            BIGSERIAL PRIMARY KEY,
    tenant_id     BIGINT NOT NULL,
    recipient_id  BIGINT NOT NULL,
    email         TEXT NOT NULL DEFAULT '',
    phone         TEXT NOT NULL DEFAULT '',
    push_token    TEXT NOT NULL DEFAULT '',
    category      VARCHAR(20) NOT NULL,
    trigger_time  TIMESTAMPTZ NOT NULL,
    template_code TEXT NOT NULL,
    variables     JSONB NOT NULL DEFAULT '{}',
    channels      JSONB NOT NULL DEFAULT '[]',
    dedupe_key    TEXT NOT NULL UNIQUE,
    processed_at  TIMESTAMPTZ
)`,
		`
CREATE TABLE IF NOT EXISTS notifications (
    id                  BIGSERIAL PRIMARY KEY,
    reminder_target_id  BIGINT REFERENCES reminder_targets(id),
    tenant_id           BIGINT NOT NULL,
    recipient_id        BIGINT NOT NULL,
    channel             VARCHAR(20) NOT NULL,
    address             TEXT NOT NULL DEFAULT '',
    category            VARCHAR(20) NOT NULL,
    template_code       TEXT NOT NULL,
    variables           JSONB NOT NULL DEFAULT '{}',
    status              VARCHAR(20) NOT NULL,
    scheduled_at        TIMESTAMPTZ NOT NULL,
    sent_at             TIMESTAMPTZ,
    delivered_at        TIMESTAMPTZ,
    read_at             TIMESTAMPTZ,
    failed_at           TIMESTAMPTZ,
    provider            TEXT NOT NULL DEFAULT '',
    provider_message_id TEXT NOT NULL DEFAULT '',
    error_message       TEXT NOT NULL DEFAULT '',
    retry_count         INT NOT NULL DEFAULT 0,
    next_retry_at       TIMESTAMPTZ,
    retry_exhausted     BOOLEAN NOT NULL DEFAULT FALSE
)`,
		`
CREATE TABLE IF NOT EXISTS notification_events (
    id              BIGSERIAL PRIMARY KEY,
    notification_id BIGINT NOT NULL REFERENCES notifications(id),
    event           VARCHAR(30) NOT NULL,
    from_status     VARCHAR(20) NOT NULL,
    to_status       VARCHAR(20) NOT NULL,
    occurred_at     TIMESTAMPTZ NOT NULL,
    data            JSONB NOT NULL DEFAULT '{}'
)`,
		`
CREATE TABLE IF NOT EXISTS message_templates (
    id        BIGSERIAL PRIMARY KEY,
    tenant_id BIGINT NOT NULL,
    code      TEXT NOT NULL,
    channel   VARCHAR(20) NOT NULL,
    subject   TEXT NOT NULL DEFAULT '',
    body      TEXT NOT NULL,
    required  JSONB NOT NULL DEFAULT '[]',
    var_types JSONB NOT NULL DEFAULT '{}',
    UNIQUE (tenant_id, code, channel)
)`,
		`
CREATE TABLE IF NOT EXISTS run_locks (
    tenant_id  BIGINT NOT NULL,
    job_type   VARCHAR(20) NOT NULL,
    owner      TEXT NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (tenant_id, job_type)
)`,
		`
CREATE TABLE IF NOT EXISTS inbox_messages (
    id           BIGSERIAL PRIMARY KEY,
    tenant_id    BIGINT NOT NULL,
    recipient_id BIGINT NOT NULL,
    subject      TEXT NOT NULL DEFAULT '',
    body         TEXT NOT NULL,
    read_at      TIMESTAMPTZ,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS recipients (
    id               BIGSERIAL PRIMARY KEY,
    tenant_id        BIGINT NOT NULL,
    name             TEXT NOT NULL,
    email            TEXT NOT NULL DEFAULT '',
    phone            TEXT NOT NULL DEFAULT '',
    push_token       TEXT NOT NULL DEFAULT '',
    birth_date       DATE,
    default_channels JSONB NOT NULL DEFAULT '["mail"]'
)`,
	}
	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}

	indexes := []string{
		// Due-item claiming scans unprocessed targets by trigger time.
		`CREATE INDEX IF NOT EXISTS idx_reminder_targets_due
		    ON reminder_targets (trigger_time) WHERE processed_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_reminder_targets_tenant ON reminder_targets (tenant_id)`,
		// The retry sweep scans by next_retry_at.
		`CREATE INDEX IF NOT EXISTS idx_notifications_retry
		    ON notifications (next_retry_at) WHERE next_retry_at IS NOT NULL AND retry_exhausted = FALSE`,
		`CREATE INDEX IF NOT EXISTS idx_notifications_tenant ON notifications (tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_events_notification
		    ON notification_events (notification_id)`,
		`CREATE INDEX IF NOT EXISTS idx_inbox_messages_recipient
		    ON inbox_messages (tenant_id, recipient_id)`,
		`CREATE INDEX IF NOT EXISTS idx_recipients_birth_date ON recipients (birth_date)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			return err
		}
	}

	return nil
}
