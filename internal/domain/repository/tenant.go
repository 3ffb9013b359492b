package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sogos/etlcore/internal/domain/entity"
)

// TenantRepository persists Tenant rows. Reads are not RLS-scoped since
// tenant rows are the scoping boundary itself; writes go through the
// same platform-role connection as schema migrations.
type TenantRepository interface {
	Get(ctx context.Context, tenantID uuid.UUID) (*entity.Tenant, error)
	ListActive(ctx context.Context) ([]entity.Tenant, error)
	Create(ctx context.Context, t *entity.Tenant) error
	Update(ctx context.Context, t *entity.Tenant) error

	// MarkOrchestratorRun stamps LastOrchestratorRunAt, used by Tick()
	// to decide whether a tenant is due for consideration again.
	MarkOrchestratorRun(ctx context.Context, tenantID uuid.UUID) error
}

// IntegrationRepository persists per-tenant provider bindings.
type IntegrationRepository interface {
	Get(ctx context.Context, tenantID, integrationID uuid.UUID) (*entity.Integration, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]entity.Integration, error)
	Create(ctx context.Context, i *entity.Integration) error
	Update(ctx context.Context, i *entity.Integration) error
}
