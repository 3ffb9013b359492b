package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// JobRepository persists ladder jobs and implements the atomic
// state-transition primitives the orchestrator relies on (spec §4.1).
type JobRepository interface {
	Get(ctx context.Context, tenantID, jobID uuid.UUID) (*entity.Job, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]entity.Job, error)
	Create(ctx context.Context, j *entity.Job) error

	// TryAcquire performs the atomic compare-and-set lock: it flips a
	// job from one of fromStatuses to RUNNING and stamps LastStartedAt,
	// succeeding only if the row was still in one of fromStatuses at
	// update time. acquired is false (with a nil error) when another
	// orchestrator tick already claimed the job first.
	TryAcquire(ctx context.Context, tenantID, jobID uuid.UUID, fromStatuses []valueobject.JobStatus, now time.Time) (acquired bool, err error)

	// FindNextReady implements the two-step ladder lookup: the next job
	// strictly after currentOrder that is not PAUSED, ordered by
	// ExecutionOrder ascending; if none exists, wraps to the
	// lowest-ordered non-PAUSED job excluding currentJobID. Returns
	// nil, nil when no eligible job exists anywhere on the ladder.
	FindNextReady(ctx context.Context, tenantID uuid.UUID, currentOrder int, currentJobID uuid.UUID) (*entity.Job, error)

	// FindNextDue implements ProcessOneTenant's entry-point lookup (spec
	// §4.1): at most one PENDING job (ordered by ExecutionOrder
	// ascending) takes priority over any READY job; only if none is
	// PENDING does it fall back to the lowest-ordered READY job whose
	// ScheduleIntervalMinutes has elapsed since LastStartedAt (or that
	// has never run). Returns nil, nil when nothing is due.
	FindNextDue(ctx context.Context, tenantID uuid.UUID, now time.Time) (*entity.Job, error)

	// SetPending transitions a job to PENDING unconditionally — used by
	// ChainOnJobCompletion to promote the next job on the ladder.
	SetPending(ctx context.Context, tenantID, jobID uuid.UUID) error

	UpdateCheckpoint(ctx context.Context, tenantID, jobID uuid.UUID, checkpoint entity.Checkpoint) error
	UpdateSteps(ctx context.Context, tenantID, jobID uuid.UUID, steps []entity.StepStatus) error

	// Finish transitions a RUNNING job to FINISHED, clears the
	// checkpoint and error message, and stamps LastFinishedAt/LastSuccessAt.
	Finish(ctx context.Context, tenantID, jobID uuid.UUID, now time.Time) error

	// Requeue transitions a RUNNING job back to PENDING with an updated
	// checkpoint — used on rate-limit-triggered partial completion,
	// which is a success path, not a failure (spec §4.2). PENDING (not
	// READY) so the next tick picks it up ahead of any job that has
	// never run, and so FindNextDue's schedule-interval gate (which
	// only applies to READY jobs) never delays the resume.
	Requeue(ctx context.Context, tenantID, jobID uuid.UUID, checkpoint entity.Checkpoint, now time.Time) error

	// Fail transitions a RUNNING job to FAILED (or back to PENDING if
	// retries remain), incrementing RetryCount and recording errMsg.
	Fail(ctx context.Context, tenantID, jobID uuid.UUID, errMsg string, now time.Time) error

	Pause(ctx context.Context, tenantID, jobID uuid.UUID) error
	Resume(ctx context.Context, tenantID, jobID uuid.UUID) error
}
