package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/queue"
	"github.com/sogos/etlcore/internal/domain/service"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// fakeJobRepository is a hand-rolled in-memory JobRepository stub. It
// only models the behavior each test actually exercises and records
// calls for assertion, following the teacher's preference for small
// purpose-built fakes over a generated mock framework.
type fakeJobRepository struct {
	jobs map[uuid.UUID]*entity.Job

	tryAcquireResult bool
	tryAcquireErr    error

	findNextReadyJob *entity.Job
	findNextReadyErr error

	finished       []uuid.UUID
	requeued       []uuid.UUID
	pendingSet     []uuid.UUID
	failed         []uuid.UUID
	requeueCheckpoint entity.Checkpoint
}

func newFakeJobRepository(job *entity.Job) *fakeJobRepository {
	return &fakeJobRepository{jobs: map[uuid.UUID]*entity.Job{job.ID: job}, tryAcquireResult: true}
}

func (f *fakeJobRepository) Get(ctx context.Context, tenantID, jobID uuid.UUID) (*entity.Job, error) {
	return f.jobs[jobID], nil
}
func (f *fakeJobRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]entity.Job, error) {
	return nil, nil
}
func (f *fakeJobRepository) Create(ctx context.Context, j *entity.Job) error { return nil }
func (f *fakeJobRepository) TryAcquire(ctx context.Context, tenantID, jobID uuid.UUID, fromStatuses []valueobject.JobStatus, now time.Time) (bool, error) {
	return f.tryAcquireResult, f.tryAcquireErr
}
func (f *fakeJobRepository) FindNextReady(ctx context.Context, tenantID uuid.UUID, currentOrder int, currentJobID uuid.UUID) (*entity.Job, error) {
	return f.findNextReadyJob, f.findNextReadyErr
}
func (f *fakeJobRepository) FindNextDue(ctx context.Context, tenantID uuid.UUID, now time.Time) (*entity.Job, error) {
	return nil, nil
}
func (f *fakeJobRepository) SetPending(ctx context.Context, tenantID, jobID uuid.UUID) error {
	f.pendingSet = append(f.pendingSet, jobID)
	return nil
}
func (f *fakeJobRepository) UpdateCheckpoint(ctx context.Context, tenantID, jobID uuid.UUID, checkpoint entity.Checkpoint) error {
	return nil
}
func (f *fakeJobRepository) UpdateSteps(ctx context.Context, tenantID, jobID uuid.UUID, steps []entity.StepStatus) error {
	return nil
}
func (f *fakeJobRepository) Finish(ctx context.Context, tenantID, jobID uuid.UUID, now time.Time) error {
	f.finished = append(f.finished, jobID)
	return nil
}
func (f *fakeJobRepository) Requeue(ctx context.Context, tenantID, jobID uuid.UUID, checkpoint entity.Checkpoint, now time.Time) error {
	f.requeued = append(f.requeued, jobID)
	f.requeueCheckpoint = checkpoint
	return nil
}
func (f *fakeJobRepository) Fail(ctx context.Context, tenantID, jobID uuid.UUID, errMsg string, now time.Time) error {
	f.failed = append(f.failed, jobID)
	return nil
}
func (f *fakeJobRepository) Pause(ctx context.Context, tenantID, jobID uuid.UUID) error  { return nil }
func (f *fakeJobRepository) Resume(ctx context.Context, tenantID, jobID uuid.UUID) error { return nil }

// fakeBroker records published extraction messages; transform and embed
// publishes are discarded.
type fakeBroker struct {
	extractions []queue.ExtractionMessage
}

func (b *fakeBroker) PublishExtraction(ctx context.Context, msg queue.ExtractionMessage) error {
	b.extractions = append(b.extractions, msg)
	return nil
}
func (b *fakeBroker) PublishTransform(ctx context.Context, msg queue.TransformMessage) error { return nil }
func (b *fakeBroker) PublishEmbed(ctx context.Context, msg queue.EmbedMessage) error          { return nil }

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...any)        {}
func (nopLogger) Info(msg string, args ...any)         {}
func (nopLogger) Warn(msg string, args ...any)         {}
func (nopLogger) Error(msg string, args ...any)        {}
func (l nopLogger) With(args ...any) service.Logger    { return l }
func (l nopLogger) WithContext(ctx context.Context) service.Logger { return l }

// fakeIntegrationRepository always resolves to a fixed integration.
type fakeIntegrationRepository struct {
	integration *entity.Integration
}

func (f *fakeIntegrationRepository) Get(ctx context.Context, tenantID, integrationID uuid.UUID) (*entity.Integration, error) {
	return f.integration, nil
}
func (f *fakeIntegrationRepository) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]entity.Integration, error) {
	return nil, nil
}
func (f *fakeIntegrationRepository) Create(ctx context.Context, i *entity.Integration) error { return nil }
func (f *fakeIntegrationRepository) Update(ctx context.Context, i *entity.Integration) error { return nil }

func newTestOrchestrator(jobs *fakeJobRepository, broker *fakeBroker, integrations *fakeIntegrationRepository, now time.Time) *OrchestratorService {
	return NewOrchestratorService(jobs, nil, integrations, broker, nopLogger{}, service.NewFixedClock(now))
}

func TestChainOnJobCompletionFinishesAndPromotesNextJob(t *testing.T) {
	tenantID, jobID, nextID := uuid.New(), uuid.New(), uuid.New()
	job := &entity.Job{ID: jobID, TenantID: tenantID, ExecutionOrder: 1, Status: valueobject.JobStatusRunning}
	jobs := newFakeJobRepository(job)
	jobs.findNextReadyJob = &entity.Job{ID: nextID, ExecutionOrder: 2}

	orch := newTestOrchestrator(jobs, &fakeBroker{}, nil, time.Now())

	err := orch.ChainOnJobCompletion(context.Background(), tenantID, jobID, entity.Checkpoint{}, false)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{jobID}, jobs.finished)
	assert.Equal(t, []uuid.UUID{nextID}, jobs.pendingSet)
	assert.Empty(t, jobs.requeued)
}

func TestChainOnJobCompletionNoFurtherReadyJob(t *testing.T) {
	tenantID, jobID := uuid.New(), uuid.New()
	job := &entity.Job{ID: jobID, TenantID: tenantID, ExecutionOrder: 1}
	jobs := newFakeJobRepository(job)
	jobs.findNextReadyJob = nil

	orch := newTestOrchestrator(jobs, &fakeBroker{}, nil, time.Now())

	err := orch.ChainOnJobCompletion(context.Background(), tenantID, jobID, entity.Checkpoint{}, false)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{jobID}, jobs.finished)
	assert.Empty(t, jobs.pendingSet)
}

func TestChainOnJobCompletionRateLimitedRequeuesInsteadOfFinishing(t *testing.T) {
	tenantID, jobID := uuid.New(), uuid.New()
	job := &entity.Job{ID: jobID, TenantID: tenantID}
	jobs := newFakeJobRepository(job)

	checkpoint := entity.Checkpoint{RateLimitHit: true, LastCursor: "cursor-123"}
	orch := newTestOrchestrator(jobs, &fakeBroker{}, nil, time.Now())

	err := orch.ChainOnJobCompletion(context.Background(), tenantID, jobID, checkpoint, true)
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{jobID}, jobs.requeued)
	assert.Equal(t, checkpoint, jobs.requeueCheckpoint)
	assert.Empty(t, jobs.finished)
	assert.Empty(t, jobs.pendingSet)
}

func TestStartJobNoOpWhenAlreadyAcquired(t *testing.T) {
	tenantID, jobID := uuid.New(), uuid.New()
	job := &entity.Job{ID: jobID, TenantID: tenantID}
	jobs := newFakeJobRepository(job)
	jobs.tryAcquireResult = false

	broker := &fakeBroker{}
	orch := newTestOrchestrator(jobs, broker, nil, time.Now())

	err := orch.StartJob(context.Background(), tenantID, jobID)
	require.NoError(t, err)
	assert.Empty(t, broker.extractions)
}

func TestStartJobSeedsExtractionFromIntegrationProviderKind(t *testing.T) {
	tenantID, jobID, integrationID := uuid.New(), uuid.New(), uuid.New()
	job := &entity.Job{
		ID: jobID, TenantID: tenantID, IntegrationID: integrationID,
		Steps: []entity.StepStatus{{Name: "extract_issues"}},
	}
	jobs := newFakeJobRepository(job)
	integrations := &fakeIntegrationRepository{integration: &entity.Integration{ID: integrationID, ProviderKind: valueobject.ProviderKindIssues}}
	broker := &fakeBroker{}

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	orch := newTestOrchestrator(jobs, broker, integrations, now)

	err := orch.StartJob(context.Background(), tenantID, jobID)
	require.NoError(t, err)

	require.Len(t, broker.extractions, 1)
	msg := broker.extractions[0]
	assert.Equal(t, ExtractionKindProjects, msg.ExtractionKind)
	assert.Equal(t, "extract_issues", msg.StepName)
	assert.True(t, msg.Flags.FirstItem)
	assert.Nil(t, msg.OldLastSyncDate)
	assert.Equal(t, now, msg.ExtractionEndDate)
}

func TestStartJobFreezesOldLastSyncDateFromPreviousSuccess(t *testing.T) {
	tenantID, jobID, integrationID := uuid.New(), uuid.New(), uuid.New()
	lastSuccess := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	job := &entity.Job{ID: jobID, TenantID: tenantID, IntegrationID: integrationID, LastSuccessAt: &lastSuccess}
	jobs := newFakeJobRepository(job)
	integrations := &fakeIntegrationRepository{integration: &entity.Integration{ID: integrationID, ProviderKind: valueobject.ProviderKindRepos}}
	broker := &fakeBroker{}

	orch := newTestOrchestrator(jobs, broker, integrations, time.Now())
	require.NoError(t, orch.StartJob(context.Background(), tenantID, jobID))

	require.Len(t, broker.extractions, 1)
	require.NotNil(t, broker.extractions[0].OldLastSyncDate)
	assert.True(t, broker.extractions[0].OldLastSyncDate.Equal(lastSuccess))
}

func TestTriggerJobSetsPending(t *testing.T) {
	tenantID, jobID := uuid.New(), uuid.New()
	jobs := newFakeJobRepository(&entity.Job{ID: jobID, TenantID: tenantID})

	orch := newTestOrchestrator(jobs, &fakeBroker{}, nil, time.Now())
	require.NoError(t, orch.TriggerJob(context.Background(), tenantID, jobID))

	assert.Equal(t, []uuid.UUID{jobID}, jobs.pendingSet)
}
