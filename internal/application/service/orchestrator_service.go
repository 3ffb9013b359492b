package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/entity"
	domainerrors "github.com/sogos/etlcore/internal/domain/errors"
	"github.com/sogos/etlcore/internal/domain/queue"
	"github.com/sogos/etlcore/internal/domain/repository"
	"github.com/sogos/etlcore/internal/domain/service"
	"github.com/sogos/etlcore/internal/domain/tenant"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// OrchestratorService implements the job ladder's status machine and
// chaining logic (spec §4.1), grounded on the "Active/Passive Job
// Model" of the original orchestrator: Tick finds jobs due for a fresh
// run and hands each off to the extract stage; ChainOnJobCompletion is
// invoked by the embed stage once a job's terminal message arrives.
type OrchestratorService struct {
	jobs         repository.JobRepository
	tenants      repository.TenantRepository
	integrations repository.IntegrationRepository
	broker       service.Broker
	logger       service.Logger
	clock        service.Clock
}

func NewOrchestratorService(
	jobs repository.JobRepository,
	tenants repository.TenantRepository,
	integrations repository.IntegrationRepository,
	broker service.Broker,
	logger service.Logger,
	clock service.Clock,
) *OrchestratorService {
	return &OrchestratorService{jobs: jobs, tenants: tenants, integrations: integrations, broker: broker, logger: logger, clock: clock}
}

// Tick is the orchestrator's scheduled entry point: for every active
// tenant whose orchestrator interval has elapsed since its last run,
// ProcessOneTenant starts at most one due job (a PENDING job before a
// READY one), acquiring it atomically and seeding one extraction message.
func (s *OrchestratorService) Tick(ctx context.Context) error {
	tenants, err := s.tenants.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active tenants: %w", err)
	}

	now := s.clock.Now()
	for _, t := range tenants {
		if t.LastOrchestratorRunAt != nil && now.Sub(*t.LastOrchestratorRunAt) < time.Duration(t.OrchestratorIntervalMinutes)*time.Minute {
			continue
		}
		if err := s.ProcessOneTenant(ctx, t.ID); err != nil {
			s.logger.Error("tick: process tenant failed", "tenant_id", t.ID, "error", err)
		}
	}
	return nil
}

// ProcessOneTenant runs one tenant's ladder entry point (spec §4.1
// ProcessOneTenant): at most one job is found due — a PENDING job
// always wins over a READY one — and handed to StartJob. Each tenant is
// processed independently so one tenant's failure never blocks
// another's schedule.
func (s *OrchestratorService) ProcessOneTenant(ctx context.Context, tenantID uuid.UUID) error {
	ctx = tenant.WithTenant(ctx, tenantID)
	now := s.clock.Now()

	due, err := s.jobs.FindNextDue(ctx, tenantID, now)
	if err != nil {
		return fmt.Errorf("find due job: %w", err)
	}

	if due != nil {
		if err := s.StartJob(ctx, due.TenantID, due.ID); err != nil {
			s.logger.Error("start job failed", "job_id", due.ID, "error", err)
		}
	}

	return s.tenants.MarkOrchestratorRun(ctx, tenantID)
}

// StartJob performs the atomic compare-and-set lock (spec §4.1) and, on
// success, publishes the job's seed extraction message. acquired=false
// (no error) means another tick already claimed this job; callers
// should treat that as a no-op, not a failure.
func (s *OrchestratorService) StartJob(ctx context.Context, tenantID, jobID uuid.UUID) error {
	now := s.clock.Now()

	acquired, err := s.jobs.TryAcquire(ctx, tenantID, jobID, []valueobject.JobStatus{valueobject.JobStatusPending, valueobject.JobStatusReady}, now)
	if err != nil {
		return fmt.Errorf("acquire job: %w", err)
	}
	if !acquired {
		return nil
	}

	job, err := s.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("reload acquired job: %w", err)
	}
	if job == nil {
		return domainerrors.ErrJobNotFound
	}

	seedKind, err := s.seedExtractionKind(ctx, tenantID, job.IntegrationID)
	if err != nil {
		return fmt.Errorf("resolve seed extraction kind: %w", err)
	}

	// OldLastSyncDate freezes at the previous successful run, per
	// entity.Checkpoint's doc comment; a job that has never finished
	// successfully carries nil, so no incremental filtering applies.
	oldLastSyncDate := job.Checkpoint.OldLastSyncDate
	if oldLastSyncDate == nil {
		oldLastSyncDate = job.LastSuccessAt
	}

	msg := queue.ExtractionMessage{
		Envelope: queue.Envelope{
			TenantID:      job.TenantID,
			IntegrationID: job.IntegrationID,
			JobID:         job.ID,
			StepName:      firstStepName(job),
			Flags:         queue.ControlFlags{FirstItem: true},
		},
		ExtractionKind:    seedKind,
		Cursor:            job.Checkpoint.LastCursor,
		OldLastSyncDate:   oldLastSyncDate,
		ExtractionEndDate: now,
		Relay:             queue.RelayBit{IsLastBranch: true, NoFurtherPages: false, NoFurtherNesting: false},
	}

	if err := s.broker.PublishExtraction(ctx, msg); err != nil {
		return fmt.Errorf("publish seed extraction message: %w", err)
	}

	s.logger.Info("job started", "job_id", job.ID, "tenant_id", job.TenantID)
	return nil
}

// TriggerJob implements the `trigger` CLI command (spec §6): it flips a
// job straight to PENDING so the next tick's FindNextDue picks it up
// ahead of any never-run READY job, rather than acquiring and seeding
// the pipeline synchronously inside the operator process.
func (s *OrchestratorService) TriggerJob(ctx context.Context, tenantID, jobID uuid.UUID) error {
	return s.jobs.SetPending(ctx, tenantID, jobID)
}

// seedExtractionKind picks the entry-point extraction routine for a
// freshly started job based on its integration's provider kind: a
// repo-host integration starts at the repository search, an
// issue-tracker integration starts at the project search (spec §4.1,
// §6).
func (s *OrchestratorService) seedExtractionKind(ctx context.Context, tenantID, integrationID uuid.UUID) (string, error) {
	integration, err := s.integrations.Get(ctx, tenantID, integrationID)
	if err != nil {
		return "", fmt.Errorf("load integration: %w", err)
	}
	if integration == nil {
		return "", fmt.Errorf("integration %s not found", integrationID)
	}
	switch integration.ProviderKind {
	case valueobject.ProviderKindIssues:
		return ExtractionKindProjects, nil
	default:
		return ExtractionKindRepositories, nil
	}
}

func firstStepName(job *entity.Job) string {
	if len(job.Steps) == 0 {
		return ""
	}
	return job.Steps[0].Name
}

// ChainOnJobCompletion implements the orchestrator's job-chaining
// transition (spec §4.1): invoked by the embed stage on receipt of a
// last_job_item=true message. A rate-limited completion requeues the
// job to PENDING with its stored checkpoint instead of finishing it;
// any other completion finishes the job and promotes the next ready
// job on the ladder to PENDING so the next tick's FindNextDue picks it
// up ahead of any READY job still waiting on its schedule interval.
func (s *OrchestratorService) ChainOnJobCompletion(ctx context.Context, tenantID, jobID uuid.UUID, checkpoint entity.Checkpoint, rateLimited bool) error {
	now := s.clock.Now()

	if rateLimited {
		if err := s.jobs.Requeue(ctx, tenantID, jobID, checkpoint, now); err != nil {
			return fmt.Errorf("requeue rate-limited job: %w", err)
		}
		s.logger.Info("job requeued after rate limit", "job_id", jobID)
		return nil
	}

	job, err := s.jobs.Get(ctx, tenantID, jobID)
	if err != nil {
		return fmt.Errorf("load job for chaining: %w", err)
	}
	if job == nil {
		return domainerrors.ErrJobNotFound
	}

	if err := s.jobs.Finish(ctx, tenantID, jobID, now); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}

	next, err := s.jobs.FindNextReady(ctx, tenantID, job.ExecutionOrder, job.ID)
	if err != nil {
		return fmt.Errorf("find next ready job: %w", err)
	}
	if next == nil {
		s.logger.Info("job chain complete: no further ready job", "job_id", jobID)
		return nil
	}

	if err := s.jobs.SetPending(ctx, tenantID, next.ID); err != nil {
		return fmt.Errorf("promote next job to pending: %w", err)
	}

	s.logger.Info("job chained", "from_job_id", jobID, "to_job_id", next.ID)
	return nil
}

// FailJob records a non-rate-limit failure (spec §7): the job either
// returns to PENDING, to be picked up again by a later tick, or
// transitions to FAILED once MaxRetryAttempts is exhausted, which Fail's CASE
// expression decides atomically.
func (s *OrchestratorService) FailJob(ctx context.Context, tenantID, jobID uuid.UUID, cause error) error {
	msg := cause.Error()
	if err := s.jobs.Fail(ctx, tenantID, jobID, msg, s.clock.Now()); err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	s.logger.Warn("job failed", "job_id", jobID, "error", msg)
	return nil
}

// PauseJob and ResumeJob implement the operator-facing ladder controls
// (spec §6): a paused job is skipped by both FindNextDue and
// FindNextReady until explicitly resumed.
func (s *OrchestratorService) PauseJob(ctx context.Context, tenantID, jobID uuid.UUID) error {
	return s.jobs.Pause(ctx, tenantID, jobID)
}

func (s *OrchestratorService) ResumeJob(ctx context.Context, tenantID, jobID uuid.UUID) error {
	return s.jobs.Resume(ctx, tenantID, jobID)
}

// ReadLadder returns every job on a tenant's ladder, ordered by
// execution order, for status-reporting CLI/API surfaces.
func (s *OrchestratorService) ReadLadder(ctx context.Context, tenantID uuid.UUID) ([]entity.Job, error) {
	return s.jobs.ListByTenant(ctx, tenantID)
}
