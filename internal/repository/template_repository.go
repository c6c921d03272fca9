package repository

import (
	"context"

	"schoolbell/internal/domain/entity"
)

// SystemTenantID is the pseudo-tenant that owns the system-wide
// fallback templates.
const SystemTenantID int64 = 0

// TemplateRepository provides read access to message templates keyed by
// (tenant, code, channel). The pipeline never writes templates.
type TemplateRepository interface {
	// Find returns the template for the exact (tenant, code, channel)
	// key, or entity.ErrNotFound. Fallback resolution is the renderer's
	// job, not the repository's.
	Find(ctx context.Context, tenantID int64, code string, channel entity.Channel) (*entity.MessageTemplate, error)
}
