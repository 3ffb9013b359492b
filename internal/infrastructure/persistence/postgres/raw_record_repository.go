package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/repository"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// RawRecordRepository implements repository.RawRecordRepository.
type RawRecordRepository struct {
	db *DB
}

func NewRawRecordRepository(db *DB) repository.RawRecordRepository {
	return &RawRecordRepository{db: db}
}

func (r *RawRecordRepository) Create(ctx context.Context, rec *entity.RawExtractionRecord) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO raw_extraction_records (tenant_id, job_id, kind, external_id, payload, blob_ref, status, step_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id, created_at, updated_at
		`
		return tx.QueryRowContext(ctx, query,
			rec.TenantID, rec.JobID, rec.Kind, rec.ExternalID, rec.Payload, nullableString(rec.BlobRef), rec.Status.String(), rec.StepName,
		).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	})
}

func (r *RawRecordRepository) CreateBatch(ctx context.Context, records []entity.RawExtractionRecord) error {
	if len(records) == 0 {
		return nil
	}
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO raw_extraction_records (tenant_id, job_id, kind, external_id, payload, blob_ref, status, step_name)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`
		for i := range records {
			rec := &records[i]
			if _, err := tx.ExecContext(ctx, query,
				rec.TenantID, rec.JobID, rec.Kind, rec.ExternalID, rec.Payload, nullableString(rec.BlobRef), rec.Status.String(), rec.StepName,
			); err != nil {
				return fmt.Errorf("create raw record for external id %s: %w", rec.ExternalID, err)
			}
		}
		return nil
	})
}

func (r *RawRecordRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*entity.RawExtractionRecord, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.RawExtractionRecord, error) {
		const query = `
			SELECT id, tenant_id, job_id, kind, external_id, payload, COALESCE(blob_ref, ''), status, step_name, error_message, created_at, updated_at
			FROM raw_extraction_records WHERE tenant_id = $1 AND id = $2
		`
		return scanRawRecord(tx.QueryRowContext(ctx, query, tenantID, id))
	})
}

func (r *RawRecordRepository) ListPending(ctx context.Context, tenantID, jobID uuid.UUID, limit int) ([]entity.RawExtractionRecord, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) ([]entity.RawExtractionRecord, error) {
		const query = `
			SELECT id, tenant_id, job_id, kind, external_id, payload, COALESCE(blob_ref, ''), status, step_name, error_message, created_at, updated_at
			FROM raw_extraction_records
			WHERE tenant_id = $1 AND job_id = $2 AND status = $3
			ORDER BY created_at ASC LIMIT $4
		`
		rows, err := tx.QueryContext(ctx, query, tenantID, jobID, valueobject.RawRecordStatusPending.String(), limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []entity.RawExtractionRecord
		for rows.Next() {
			rec, err := scanRawRecord(rows)
			if err != nil {
				return nil, err
			}
			out = append(out, *rec)
		}
		return out, rows.Err()
	})
}

func (r *RawRecordRepository) MarkStatus(ctx context.Context, tenantID, id uuid.UUID, status valueobject.RawRecordStatus, errMsg *string) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE raw_extraction_records SET status = $1, error_message = $2, updated_at = NOW() WHERE tenant_id = $3 AND id = $4`, status.String(), errMsg, tenantID, id)
		return err
	})
}

func (r *RawRecordRepository) CountByStatus(ctx context.Context, tenantID, jobID uuid.UUID, status valueobject.RawRecordStatus) (int, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (int, error) {
		var n int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_extraction_records WHERE tenant_id = $1 AND job_id = $2 AND status = $3`, tenantID, jobID, status.String()).Scan(&n)
		return n, err
	})
}

func scanRawRecord(row rowScanner) (*entity.RawExtractionRecord, error) {
	rec := &entity.RawExtractionRecord{}
	var statusStr string
	err := row.Scan(&rec.ID, &rec.TenantID, &rec.JobID, &rec.Kind, &rec.ExternalID, &rec.Payload, &rec.BlobRef, &statusStr, &rec.StepName, &rec.ErrorMessage, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	status, err := parseRawRecordStatus(statusStr)
	if err != nil {
		return nil, err
	}
	rec.Status = status
	return rec, nil
}

func parseRawRecordStatus(s string) (valueobject.RawRecordStatus, error) {
	switch valueobject.RawRecordStatus(s) {
	case valueobject.RawRecordStatusPending, valueobject.RawRecordStatusCompleted, valueobject.RawRecordStatusFailed:
		return valueobject.RawRecordStatus(s), nil
	}
	return "", fmt.Errorf("invalid raw record status: %s", s)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
