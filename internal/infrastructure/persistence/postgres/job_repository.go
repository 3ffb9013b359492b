package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/repository"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// JobRepository implements repository.JobRepository using PostgreSQL,
// grounded on the teacher's GenerationJobRepository: RLS-wrapped
// transactions, RETURNING-based inserts, and a dedicated atomic
// transition helper in place of a generic Update (spec §4.1's
// compare-and-set lock needs a WHERE-gated UPDATE, not a blind one).
type JobRepository struct {
	db *DB
}

func NewJobRepository(db *DB) repository.JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(ctx context.Context, j *entity.Job) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		checkpoint, err := json.Marshal(j.Checkpoint)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		steps, err := json.Marshal(j.Steps)
		if err != nil {
			return fmt.Errorf("marshal steps: %w", err)
		}

		const query = `
			INSERT INTO jobs (tenant_id, integration_id, job_name, execution_order, schedule_interval_minutes, retry_interval_minutes, max_retry_attempts, status, checkpoint, steps)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING id, created_at, updated_at
		`
		return tx.QueryRowContext(ctx, query,
			j.TenantID, j.IntegrationID, j.JobName, j.ExecutionOrder,
			j.ScheduleIntervalMinutes, j.RetryIntervalMinutes, j.MaxRetryAttempts,
			j.Status.String(), checkpoint, steps,
		).Scan(&j.ID, &j.CreatedAt, &j.UpdatedAt)
	})
}

func (r *JobRepository) Get(ctx context.Context, tenantID, jobID uuid.UUID) (*entity.Job, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.Job, error) {
		const query = `
			SELECT id, tenant_id, integration_id, job_name, execution_order, schedule_interval_minutes, retry_interval_minutes, max_retry_attempts, status, last_started_at, last_finished_at, last_success_at, retry_count, error_message, checkpoint, steps, created_at, updated_at
			FROM jobs WHERE tenant_id = $1 AND id = $2
		`
		row := tx.QueryRowContext(ctx, query, tenantID, jobID)
		return scanJob(row)
	})
}

func (r *JobRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]entity.Job, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) ([]entity.Job, error) {
		const query = `
			SELECT id, tenant_id, integration_id, job_name, execution_order, schedule_interval_minutes, retry_interval_minutes, max_retry_attempts, status, last_started_at, last_finished_at, last_success_at, retry_count, error_message, checkpoint, steps, created_at, updated_at
			FROM jobs WHERE tenant_id = $1 ORDER BY execution_order ASC
		`
		rows, err := tx.QueryContext(ctx, query, tenantID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var jobs []entity.Job
		for rows.Next() {
			j, err := scanJob(rows)
			if err != nil {
				return nil, err
			}
			jobs = append(jobs, *j)
		}
		return jobs, rows.Err()
	})
}

// TryAcquire is the atomic compare-and-set lock (spec §4.1): it only
// flips the job to RUNNING if it is still in one of fromStatuses,
// exactly mirroring the `UPDATE ... WHERE status IN (...)` idiom used
// throughout the original job ladder to avoid a double-claim race
// between two orchestrator ticks.
func (r *JobRepository) TryAcquire(ctx context.Context, tenantID, jobID uuid.UUID, fromStatuses []valueobject.JobStatus, now time.Time) (bool, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (bool, error) {
		statuses := make([]string, len(fromStatuses))
		for i, s := range fromStatuses {
			statuses[i] = s.String()
		}

		const query = `
			UPDATE jobs SET status = $1, last_started_at = $2, updated_at = $2
			WHERE tenant_id = $3 AND id = $4 AND status = ANY($5)
		`
		res, err := tx.ExecContext(ctx, query, valueobject.JobStatusRunning.String(), now, tenantID, jobID, statuses)
		if err != nil {
			return false, fmt.Errorf("try acquire job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return n == 1, nil
	})
}

// FindNextReady implements the ladder's two-step lookup (spec §4.1,
// resolved against the original implementation's find_next_ready_job):
// first look strictly past currentOrder; if nothing is eligible there,
// wrap to the lowest-ordered eligible job excluding the current one.
func (r *JobRepository) FindNextReady(ctx context.Context, tenantID uuid.UUID, currentOrder int, currentJobID uuid.UUID) (*entity.Job, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.Job, error) {
		const forward = `
			SELECT id, tenant_id, integration_id, job_name, execution_order, schedule_interval_minutes, retry_interval_minutes, max_retry_attempts, status, last_started_at, last_finished_at, last_success_at, retry_count, error_message, checkpoint, steps, created_at, updated_at
			FROM jobs
			WHERE tenant_id = $1 AND execution_order > $2 AND status != $3
			ORDER BY execution_order ASC LIMIT 1
		`
		row := tx.QueryRowContext(ctx, forward, tenantID, currentOrder, valueobject.JobStatusPaused.String())
		j, err := scanJob(row)
		if err == nil {
			return j, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}

		const wrap = `
			SELECT id, tenant_id, integration_id, job_name, execution_order, schedule_interval_minutes, retry_interval_minutes, max_retry_attempts, status, last_started_at, last_finished_at, last_success_at, retry_count, error_message, checkpoint, steps, created_at, updated_at
			FROM jobs
			WHERE tenant_id = $1 AND id != $2 AND status != $3
			ORDER BY execution_order ASC LIMIT 1
		`
		row = tx.QueryRowContext(ctx, wrap, tenantID, currentJobID, valueobject.JobStatusPaused.String())
		j, err = scanJob(row)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return j, err
	})
}

// FindNextDue implements ProcessOneTenant's lookup (spec §4.1): a
// PENDING job (chained or resumed from a rate limit/retry) always wins
// over a READY job, since PENDING means "ready to run right now"
// regardless of schedule_interval_minutes, whereas a READY job is due
// only once schedule_interval_minutes have passed since its last start
// (or at once if it has never started).
func (r *JobRepository) FindNextDue(ctx context.Context, tenantID uuid.UUID, now time.Time) (*entity.Job, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.Job, error) {
		const pendingQuery = `
			SELECT id, tenant_id, integration_id, job_name, execution_order, schedule_interval_minutes, retry_interval_minutes, max_retry_attempts, status, last_started_at, last_finished_at, last_success_at, retry_count, error_message, checkpoint, steps, created_at, updated_at
			FROM jobs
			WHERE tenant_id = $1 AND status = $2
			ORDER BY execution_order ASC LIMIT 1
		`
		row := tx.QueryRowContext(ctx, pendingQuery, tenantID, valueobject.JobStatusPending.String())
		j, err := scanJob(row)
		if err == nil {
			return j, nil
		}
		if err != sql.ErrNoRows {
			return nil, err
		}

		const readyQuery = `
			SELECT id, tenant_id, integration_id, job_name, execution_order, schedule_interval_minutes, retry_interval_minutes, max_retry_attempts, status, last_started_at, last_finished_at, last_success_at, retry_count, error_message, checkpoint, steps, created_at, updated_at
			FROM jobs
			WHERE tenant_id = $1 AND status = $2
			  AND (last_started_at IS NULL OR last_started_at <= $3 - (schedule_interval_minutes * INTERVAL '1 minute'))
			ORDER BY execution_order ASC LIMIT 1
		`
		row = tx.QueryRowContext(ctx, readyQuery, tenantID, valueobject.JobStatusReady.String(), now)
		j, err = scanJob(row)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return j, err
	})
}

// SetPending unconditionally promotes a job to PENDING — the ladder's
// chaining step (spec §4.1 "Set that next job to PENDING").
func (r *JobRepository) SetPending(ctx context.Context, tenantID, jobID uuid.UUID) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3`, valueobject.JobStatusPending.String(), tenantID, jobID)
		return err
	})
}

func (r *JobRepository) UpdateCheckpoint(ctx context.Context, tenantID, jobID uuid.UUID, checkpoint entity.Checkpoint) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		data, err := json.Marshal(checkpoint)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET checkpoint = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3`, data, tenantID, jobID)
		return err
	})
}

func (r *JobRepository) UpdateSteps(ctx context.Context, tenantID, jobID uuid.UUID, steps []entity.StepStatus) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		data, err := json.Marshal(steps)
		if err != nil {
			return fmt.Errorf("marshal steps: %w", err)
		}
		_, err = tx.ExecContext(ctx, `UPDATE jobs SET steps = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3`, data, tenantID, jobID)
		return err
	})
}

func (r *JobRepository) Finish(ctx context.Context, tenantID, jobID uuid.UUID, now time.Time) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			UPDATE jobs SET status = $1, last_finished_at = $2, last_success_at = $2, error_message = NULL, checkpoint = '{}', retry_count = 0, updated_at = $2
			WHERE tenant_id = $3 AND id = $4 AND status = $5
		`
		_, err := tx.ExecContext(ctx, query, valueobject.JobStatusFinished.String(), now, tenantID, jobID, valueobject.JobStatusRunning.String())
		return err
	})
}

func (r *JobRepository) Requeue(ctx context.Context, tenantID, jobID uuid.UUID, checkpoint entity.Checkpoint, now time.Time) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		data, err := json.Marshal(checkpoint)
		if err != nil {
			return fmt.Errorf("marshal checkpoint: %w", err)
		}
		const query = `
			UPDATE jobs SET status = $1, checkpoint = $2, last_finished_at = $3, updated_at = $3
			WHERE tenant_id = $4 AND id = $5 AND status = $6
		`
		_, err = tx.ExecContext(ctx, query, valueobject.JobStatusPending.String(), data, now, tenantID, jobID, valueobject.JobStatusRunning.String())
		return err
	})
}

func (r *JobRepository) Fail(ctx context.Context, tenantID, jobID uuid.UUID, errMsg string, now time.Time) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			UPDATE jobs
			SET status = CASE WHEN retry_count + 1 >= max_retry_attempts THEN $1 ELSE $2 END,
			    retry_count = retry_count + 1,
			    error_message = $3,
			    last_finished_at = $4,
			    updated_at = $4
			WHERE tenant_id = $5 AND id = $6 AND status = $7
		`
		_, err := tx.ExecContext(ctx, query,
			valueobject.JobStatusFailed.String(), valueobject.JobStatusPending.String(),
			errMsg, now, tenantID, jobID, valueobject.JobStatusRunning.String(),
		)
		return err
	})
}

func (r *JobRepository) Pause(ctx context.Context, tenantID, jobID uuid.UUID) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3`, valueobject.JobStatusPaused.String(), tenantID, jobID)
		return err
	})
}

func (r *JobRepository) Resume(ctx context.Context, tenantID, jobID uuid.UUID) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE jobs SET status = $1, updated_at = NOW() WHERE tenant_id = $2 AND id = $3 AND status = $4`, valueobject.JobStatusReady.String(), tenantID, jobID, valueobject.JobStatusPaused.String())
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*entity.Job, error) {
	j := &entity.Job{}
	var statusStr string
	var checkpoint, steps []byte

	err := row.Scan(
		&j.ID, &j.TenantID, &j.IntegrationID, &j.JobName, &j.ExecutionOrder,
		&j.ScheduleIntervalMinutes, &j.RetryIntervalMinutes, &j.MaxRetryAttempts,
		&statusStr, &j.LastStartedAt, &j.LastFinishedAt, &j.LastSuccessAt,
		&j.RetryCount, &j.ErrorMessage, &checkpoint, &steps,
		&j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	status, err := valueobject.ParseJobStatus(statusStr)
	if err != nil {
		return nil, err
	}
	j.Status = status

	if len(checkpoint) > 0 {
		if err := json.Unmarshal(checkpoint, &j.Checkpoint); err != nil {
			return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
		}
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &j.Steps); err != nil {
			return nil, fmt.Errorf("unmarshal steps: %w", err)
		}
	}

	return j, nil
}
