package service

import (
	"context"
	"encoding/json"
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

type fakeRawRecordRepository struct {
	created []entity.RawExtractionRecord
}

func (f *fakeRawRecordRepository) Create(ctx context.Context, r *entity.RawExtractionRecord) error {
	r.ID = uuid.New()
	f.created = append(f.created, *r)
	return nil
}
func (f *fakeRawRecordRepository) CreateBatch(ctx context.Context, records []entity.RawExtractionRecord) error {
	return nil
}
func (f *fakeRawRecordRepository) Get(ctx context.Context, tenantID, id uuid.UUID) (*entity.RawExtractionRecord, error) {
	return nil, nil
}
func (f *fakeRawRecordRepository) ListPending(ctx context.Context, tenantID, jobID uuid.UUID, limit int) ([]entity.RawExtractionRecord, error) {
	return nil, nil
}
func (f *fakeRawRecordRepository) MarkStatus(ctx context.Context, tenantID, id uuid.UUID, status valueobject.RawRecordStatus, errMsg *string) error {
	return nil
}
func (f *fakeRawRecordRepository) CountByStatus(ctx context.Context, tenantID, jobID uuid.UUID, status valueobject.RawRecordStatus) (int, error) {
	return 0, nil
}

type fakeBlobStore struct{}

func (fakeBlobStore) Put(ctx context.Context, key string, content []byte) error { return nil }

// fakeBroker2 is a full service.Broker fake recording every publish kind,
// distinct from orchestrator_service_test.go's fakeBroker which only
// records extractions.
type fakeBroker2 struct {
	extractions []queue.ExtractionMessage
	transforms  []queue.TransformMessage
	embeds      []queue.EmbedMessage
}

func (b *fakeBroker2) PublishExtraction(ctx context.Context, msg queue.ExtractionMessage) error {
	b.extractions = append(b.extractions, msg)
	return nil
}
func (b *fakeBroker2) PublishTransform(ctx context.Context, msg queue.TransformMessage) error {
	b.transforms = append(b.transforms, msg)
	return nil
}
func (b *fakeBroker2) PublishEmbed(ctx context.Context, msg queue.EmbedMessage) error {
	b.embeds = append(b.embeds, msg)
	return nil
}

type fakeRepoHostClient struct {
	repos     []service.Repository
	prPages   map[string]service.PullRequestPage
	nestedErr error
	rateLimitOnPRs bool
}

func (f *fakeRepoHostClient) SearchRepositories(ctx context.Context, namePatterns []string, org string) ([]service.Repository, error) {
	return f.repos, nil
}
func (f *fakeRepoHostClient) PullRequestsWithNestedEdges(ctx context.Context, req service.PullRequestPageRequest) (service.PullRequestPage, error) {
	if f.rateLimitOnPRs {
		return service.PullRequestPage{}, &service.RateLimitError{Snapshot: service.RateLimitSnapshot{Resource: service.ResourceGraphQL}}
	}
	key := req.RepositoryExternalID + "|" + req.Cursor
	return f.prPages[key], nil
}
func (f *fakeRepoHostClient) ContinueNestedEdge(ctx context.Context, req service.NestedEdgeRequest) (service.NestedEdgePage, error) {
	return service.NestedEdgePage{}, f.nestedErr
}
func (f *fakeRepoHostClient) RateLimitSnapshot(resource service.RateLimitResource) service.RateLimitSnapshot {
	return service.RateLimitSnapshot{}
}

func newTestExtractService(jobs *fakeJobRepository, raw *fakeRawRecordRepository, broker *fakeBroker2) *ExtractService {
	return NewExtractService(jobs, raw, nil, broker, fakeBlobStore{}, 1<<20, 3, nopLogger{}, service.NewFixedClock(time.Now()))
}

func TestHandlePullRequestsEmitsOnePullRequestRecordWithInlineChildren(t *testing.T) {
	tenantID, jobID, integrationID := uuid.New(), uuid.New(), uuid.New()
	repoExternalID := "repo-1"

	pr := service.PullRequest{
		ExternalID: "pr-1", Number: 7, Title: "t", Body: "b", Author: "alice", State: "open",
		Commits: []service.Commit{{ExternalID: "c1", SHA: "sha1", Author: "alice", Message: "m1"}},
		Reviews: []service.Review{{ExternalID: "r1", Author: "bob", State: "approved"}},
	}

	client := &fakeRepoHostClient{
		prPages: map[string]service.PullRequestPage{
			repoExternalID + "|": {PullRequests: []service.PullRequest{pr}, PageInfo: service.PageInfo{}},
		},
	}

	raw := &fakeRawRecordRepository{}
	broker := &fakeBroker2{}
	svc := newTestExtractService(newFakeJobRepository(&entity.Job{ID: jobID, TenantID: tenantID}), raw, broker)
	svc.RegisterRepoHost(integrationID, client)

	msg := queue.ExtractionMessage{
		Envelope:       queue.Envelope{TenantID: tenantID, IntegrationID: integrationID, JobID: jobID},
		ExtractionKind: ExtractionKindPullRequests,
		ParentExternalID: repoExternalID,
		Relay:            queue.RelayBit{IsLastBranch: true},
	}

	err := svc.HandleExtraction(context.Background(), msg)
	require.NoError(t, err)

	// One raw record for the pull request itself: its commits/reviews are
	// inlined in the same payload, not separate records (spec §4.3).
	require.Len(t, raw.created, 1)
	assert.Equal(t, RawKindPullRequest, raw.created[0].Kind)

	var payload pullRequestPayload
	require.NoError(t, json.Unmarshal(raw.created[0].Payload, &payload))
	assert.Len(t, payload.Commits, 1)
	assert.Len(t, payload.Reviews, 1)

	// No nested edge has a next page, so the pull request is the last
	// branch and carries the run's terminal flags directly.
	require.Len(t, broker.transforms, 1)
	assert.True(t, broker.transforms[0].Flags.LastItem)
	assert.True(t, broker.transforms[0].Flags.LastJobItem)
}

func TestHandlePullRequestsDefersTerminalFlagsWhenNestedEdgeNeedsContinuation(t *testing.T) {
	tenantID, jobID, integrationID := uuid.New(), uuid.New(), uuid.New()
	repoExternalID := "repo-1"

	pr := service.PullRequest{
		ExternalID: "pr-350", Number: 1,
		CommitsPage: service.PageInfo{HasNextPage: true, EndCursor: "cursor-1"},
	}

	client := &fakeRepoHostClient{
		prPages: map[string]service.PullRequestPage{
			repoExternalID + "|": {PullRequests: []service.PullRequest{pr}, PageInfo: service.PageInfo{}},
		},
	}

	raw := &fakeRawRecordRepository{}
	broker := &fakeBroker2{}
	svc := newTestExtractService(newFakeJobRepository(&entity.Job{ID: jobID, TenantID: tenantID}), raw, broker)
	svc.RegisterRepoHost(integrationID, client)

	msg := queue.ExtractionMessage{
		Envelope:         queue.Envelope{TenantID: tenantID, IntegrationID: integrationID, JobID: jobID},
		ExtractionKind:   ExtractionKindPullRequests,
		ParentExternalID: repoExternalID,
		Relay:            queue.RelayBit{IsLastBranch: true},
	}

	err := svc.HandleExtraction(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, broker.transforms, 1)
	// The commits edge still needs a continuation, so the pull request's
	// own record must NOT carry the run's terminal flags yet.
	assert.False(t, broker.transforms[0].Flags.LastItem)
	assert.False(t, broker.transforms[0].Flags.LastJobItem)

	// A continuation message was queued for the unexhausted commits edge.
	require.Len(t, broker.extractions, 1)
	assert.Equal(t, ExtractionKindNestedCommits, broker.extractions[0].ExtractionKind)
	assert.Equal(t, "cursor-1", broker.extractions[0].Cursor)
	assert.Equal(t, pr.ExternalID, broker.extractions[0].ParentExternalID)
}

func TestHandlePullRequestsFiltersStalePRsBelowIncrementalBoundary(t *testing.T) {
	tenantID, jobID, integrationID := uuid.New(), uuid.New(), uuid.New()
	repoExternalID := "repo-1"
	boundary := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	stale := service.PullRequest{ExternalID: "pr-old", Updated: boundary.Add(-time.Hour)}
	fresh := service.PullRequest{ExternalID: "pr-new", Updated: boundary.Add(time.Hour)}

	client := &fakeRepoHostClient{
		prPages: map[string]service.PullRequestPage{
			repoExternalID + "|": {PullRequests: []service.PullRequest{stale, fresh}, PageInfo: service.PageInfo{}},
		},
	}

	raw := &fakeRawRecordRepository{}
	broker := &fakeBroker2{}
	svc := newTestExtractService(newFakeJobRepository(&entity.Job{ID: jobID, TenantID: tenantID}), raw, broker)
	svc.RegisterRepoHost(integrationID, client)

	msg := queue.ExtractionMessage{
		Envelope:         queue.Envelope{TenantID: tenantID, IntegrationID: integrationID, JobID: jobID},
		ExtractionKind:   ExtractionKindPullRequests,
		ParentExternalID: repoExternalID,
		OldLastSyncDate:  &boundary,
		Relay:            queue.RelayBit{IsLastBranch: true},
	}

	err := svc.HandleExtraction(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, raw.created, 1)
	assert.Equal(t, RawKindPullRequest, raw.created[0].Kind)
	assert.Equal(t, "pr-new", raw.created[0].ExternalID)
}

func TestHandlePullRequestsRateLimitCheckpointsAndEmitsSingleCompletion(t *testing.T) {
	tenantID, jobID, integrationID := uuid.New(), uuid.New(), uuid.New()
	client := &fakeRepoHostClient{rateLimitOnPRs: true}

	raw := &fakeRawRecordRepository{}
	broker := &fakeBroker2{}
	jobs := newFakeJobRepository(&entity.Job{ID: jobID, TenantID: tenantID})
	svc := newTestExtractService(jobs, raw, broker)
	svc.RegisterRepoHost(integrationID, client)

	msg := queue.ExtractionMessage{
		Envelope:         queue.Envelope{TenantID: tenantID, IntegrationID: integrationID, JobID: jobID},
		ExtractionKind:   ExtractionKindPullRequests,
		ParentExternalID: "repo-1",
	}

	err := svc.HandleExtraction(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, broker.transforms, 1)
	assert.True(t, broker.transforms[0].Flags.RateLimited)
	assert.True(t, broker.transforms[0].Flags.IsCompletionMarker())
	assert.Empty(t, raw.created)
}
