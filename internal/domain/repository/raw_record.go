package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// RawRecordRepository persists the extract stage's output queue for the
// transform stage to drain (spec §3, §4.3).
type RawRecordRepository interface {
	Create(ctx context.Context, r *entity.RawExtractionRecord) error
	CreateBatch(ctx context.Context, records []entity.RawExtractionRecord) error

	Get(ctx context.Context, tenantID, id uuid.UUID) (*entity.RawExtractionRecord, error)

	// ListPending returns up to limit pending records for a job, oldest
	// first, for the transform stage to claim.
	ListPending(ctx context.Context, tenantID, jobID uuid.UUID, limit int) ([]entity.RawExtractionRecord, error)

	MarkStatus(ctx context.Context, tenantID, id uuid.UUID, status valueobject.RawRecordStatus, errMsg *string) error

	// CountByStatus supports the transform stage's completion check:
	// a job's transform step is done only once every raw record tied to
	// it has left pending status.
	CountByStatus(ctx context.Context, tenantID, jobID uuid.UUID, status valueobject.RawRecordStatus) (int, error)
}
