package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/repository"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// IntegrationRepository implements repository.IntegrationRepository.
type IntegrationRepository struct {
	db *DB
}

func NewIntegrationRepository(db *DB) repository.IntegrationRepository {
	return &IntegrationRepository{db: db}
}

func (r *IntegrationRepository) Get(ctx context.Context, tenantID, integrationID uuid.UUID) (*entity.Integration, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.Integration, error) {
		const query = `
			SELECT id, tenant_id, provider_kind, encrypted_credentials, base_url, settings, active, created_at, updated_at
			FROM integrations WHERE tenant_id = $1 AND id = $2
		`
		return scanIntegration(tx.QueryRowContext(ctx, query, tenantID, integrationID))
	})
}

func (r *IntegrationRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]entity.Integration, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) ([]entity.Integration, error) {
		const query = `
			SELECT id, tenant_id, provider_kind, encrypted_credentials, base_url, settings, active, created_at, updated_at
			FROM integrations WHERE tenant_id = $1
		`
		rows, err := tx.QueryContext(ctx, query, tenantID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []entity.Integration
		for rows.Next() {
			i, err := scanIntegration(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, *i)
		}
		return out, rows.Err()
	})
}

func (r *IntegrationRepository) Create(ctx context.Context, i *entity.Integration) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		settings, err := json.Marshal(i.Settings)
		if err != nil {
			return fmt.Errorf("marshal settings: %w", err)
		}
		const query = `
			INSERT INTO integrations (tenant_id, provider_kind, encrypted_credentials, base_url, settings, active)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, created_at, updated_at
		`
		return tx.QueryRowContext(ctx, query, i.TenantID, i.ProviderKind.String(), i.EncryptedCredentials, i.BaseURL, settings, i.Active).
			Scan(&i.ID, &i.CreatedAt, &i.UpdatedAt)
	})
}

func (r *IntegrationRepository) Update(ctx context.Context, i *entity.Integration) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		settings, err := json.Marshal(i.Settings)
		if err != nil {
			return fmt.Errorf("marshal settings: %w", err)
		}
		const query = `
			UPDATE integrations SET provider_kind = $1, encrypted_credentials = $2, base_url = $3, settings = $4, active = $5, updated_at = NOW()
			WHERE tenant_id = $6 AND id = $7
		`
		_, err = tx.ExecContext(ctx, query, i.ProviderKind.String(), i.EncryptedCredentials, i.BaseURL, settings, i.Active, i.TenantID, i.ID)
		return err
	})
}

func scanIntegration(row rowScanner) (*entity.Integration, error) {
	i := &entity.Integration{}
	var kindStr string
	var settings []byte
	if err := row.Scan(&i.ID, &i.TenantID, &kindStr, &i.EncryptedCredentials, &i.BaseURL, &settings, &i.Active, &i.CreatedAt, &i.UpdatedAt); err != nil {
		return nil, err
	}
	kind, err := valueobject.ParseIntegrationProviderKind(kindStr)
	if err != nil {
		return nil, err
	}
	i.ProviderKind = kind
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &i.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings: %w", err)
		}
	}
	return i, nil
}
