package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"schoolbell/internal/repository"
)

type InboxRepo struct{ db *sql.DB }

func NewInboxRepo(db *sql.DB) repository.InboxRepository {
	return &InboxRepo{db: db}
}

func (repo *InboxRepo) Insert(ctx context.Context, tenantID, recipientID int64, subject, body string, createdAt time.Time) (int64, error) {
	const query = `
INSERT INTO inbox_messages (tenant_id, recipient_id, subject, body, created_at)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`
	var id int64
	err := repo.db.QueryRowContext(ctx, query, tenantID, recipientID, subject, body, createdAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("Insert: %w", err)
	}
	return id, nil
}
