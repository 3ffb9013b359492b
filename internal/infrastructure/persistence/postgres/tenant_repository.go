package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/repository"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// TenantRepository implements repository.TenantRepository. Tenant rows
// are the RLS scoping boundary itself, so reads/writes here go through
// the plain *DB, not an RLS-wrapped transaction.
type TenantRepository struct {
	db *DB
}

func NewTenantRepository(db *DB) repository.TenantRepository {
	return &TenantRepository{db: db}
}

func (r *TenantRepository) Get(ctx context.Context, tenantID uuid.UUID) (*entity.Tenant, error) {
	const query = `
		SELECT id, display_name, tier, active, orchestrator_interval_minutes, last_orchestrator_run_at, created_at, updated_at
		FROM tenants WHERE id = $1
	`
	return scanTenant(r.db.QueryRowContext(ctx, query, tenantID))
}

func (r *TenantRepository) ListActive(ctx context.Context) ([]entity.Tenant, error) {
	const query = `
		SELECT id, display_name, tier, active, orchestrator_interval_minutes, last_orchestrator_run_at, created_at, updated_at
		FROM tenants WHERE active = true
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []entity.Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (r *TenantRepository) Create(ctx context.Context, t *entity.Tenant) error {
	const query = `
		INSERT INTO tenants (display_name, tier, active, orchestrator_interval_minutes)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`
	return r.db.QueryRowContext(ctx, query, t.DisplayName, t.Tier.String(), t.Active, t.OrchestratorIntervalMinutes).
		Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
}

func (r *TenantRepository) Update(ctx context.Context, t *entity.Tenant) error {
	const query = `
		UPDATE tenants SET display_name = $1, tier = $2, active = $3, orchestrator_interval_minutes = $4, updated_at = NOW()
		WHERE id = $5
	`
	_, err := r.db.ExecContext(ctx, query, t.DisplayName, t.Tier.String(), t.Active, t.OrchestratorIntervalMinutes, t.ID)
	return err
}

func (r *TenantRepository) MarkOrchestratorRun(ctx context.Context, tenantID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `UPDATE tenants SET last_orchestrator_run_at = NOW(), updated_at = NOW() WHERE id = $1`, tenantID)
	return err
}

func scanTenant(row rowScanner) (*entity.Tenant, error) {
	t := &entity.Tenant{}
	var tierStr string
	var lastRun sql.NullTime
	if err := row.Scan(&t.ID, &t.DisplayName, &tierStr, &t.Active, &t.OrchestratorIntervalMinutes, &lastRun, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	tier, err := valueobject.ParseTenantTier(tierStr)
	if err != nil {
		return nil, err
	}
	t.Tier = tier
	if lastRun.Valid {
		v := lastRun.Time
		t.LastOrchestratorRunAt = &v
	}
	return t, nil
}
