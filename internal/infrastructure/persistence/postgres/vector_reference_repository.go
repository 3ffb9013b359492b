package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/repository"
)

// VectorReferenceRepository implements repository.VectorReferenceRepository.
type VectorReferenceRepository struct {
	db *DB
}

func NewVectorReferenceRepository(db *DB) repository.VectorReferenceRepository {
	return &VectorReferenceRepository{db: db}
}

func (r *VectorReferenceRepository) Get(ctx context.Context, tenantID uuid.UUID, sourceKind string, sourceID uuid.UUID) (*entity.VectorReference, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.VectorReference, error) {
		const query = `
			SELECT id, tenant_id, source_kind, source_id, vector_model, external_vector_id, content_hash, embedded_at, created_at, updated_at
			FROM vector_references WHERE tenant_id = $1 AND source_kind = $2 AND source_id = $3
		`
		row := tx.QueryRowContext(ctx, query, tenantID, sourceKind, sourceID)
		v := &entity.VectorReference{}
		err := row.Scan(&v.ID, &v.TenantID, &v.SourceKind, &v.SourceID, &v.VectorModel, &v.ExternalVectorID, &v.ContentHash, &v.EmbeddedAt, &v.CreatedAt, &v.UpdatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return v, nil
	})
}

func (r *VectorReferenceRepository) Upsert(ctx context.Context, v *entity.VectorReference) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO vector_references (tenant_id, source_kind, source_id, vector_model, external_vector_id, content_hash, embedded_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, source_kind, source_id) DO UPDATE SET
				vector_model = EXCLUDED.vector_model,
				external_vector_id = EXCLUDED.external_vector_id,
				content_hash = EXCLUDED.content_hash,
				embedded_at = EXCLUDED.embedded_at,
				updated_at = NOW()
			RETURNING id, created_at, updated_at
		`
		return tx.QueryRowContext(ctx, query, v.TenantID, v.SourceKind, v.SourceID, v.VectorModel, v.ExternalVectorID, v.ContentHash, v.EmbeddedAt).
			Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	})
}

func (r *VectorReferenceRepository) Delete(ctx context.Context, tenantID uuid.UUID, sourceKind string, sourceID uuid.UUID) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM vector_references WHERE tenant_id = $1 AND source_kind = $2 AND source_id = $3`, tenantID, sourceKind, sourceID)
		return err
	})
}
