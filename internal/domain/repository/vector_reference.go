package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sogos/etlcore/internal/domain/entity"
)

// VectorReferenceRepository stores one vector reference per embedded
// normalized row, keyed by tenant, source kind and source id (spec §4.5).
type VectorReferenceRepository interface {
	Get(ctx context.Context, tenantID uuid.UUID, sourceKind string, sourceID uuid.UUID) (*entity.VectorReference, error)
	Upsert(ctx context.Context, v *entity.VectorReference) error
	Delete(ctx context.Context, tenantID uuid.UUID, sourceKind string, sourceID uuid.UUID) error
}
