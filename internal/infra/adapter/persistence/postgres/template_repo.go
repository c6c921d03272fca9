package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"schoolbell/internal/domain/entity"
	"schoolbell/internal/repository"
)

type TemplateRepo struct{ db *sql.DB }

func NewTemplateRepo(db *sql.DB) repository.TemplateRepository {
	return &TemplateRepo{db: db}
}

func (repo *TemplateRepo) Find(ctx context.Context, tenantID int64, code string, channel entity.Channel) (*entity.MessageTemplate, error) {
	const query = `
SELECT id, tenant_id, code, channel, subject, body, required, var_types
FROM message_templates
WHERE tenant_id = $1 AND code = $2 AND channel = $3
LIMIT 1`

	var (
		tmpl         entity.MessageTemplate
		requiredJSON []byte
		varTypesJSON []byte
	)
	err := repo.db.QueryRowContext(ctx, query, tenantID, code, string(channel)).Scan(
		&tmpl.ID, &tmpl.TenantID, &tmpl.Code, &tmpl.Channel,
		&tmpl.Subject, &tmpl.Body, &requiredJSON, &varTypesJSON,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("Find: %w", entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("Find: %w", err)
	}

	if len(requiredJSON) > 0 {
		if err := json.Unmarshal(requiredJSON, &tmpl.Required); err != nil {
			return nil, fmt.Errorf("Find: unmarshal required: %w", err)
		}
	}
	if len(varTypesJSON) > 0 {
		if err := json.Unmarshal(varTypesJSON, &tmpl.VarTypes); err != nil {
			return nil, fmt.Errorf("Find: unmarshal var_types: %w", err)
		}
	}
	return &tmpl, nil
}
