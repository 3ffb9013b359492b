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
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

type fakeRawRecordGetter struct {
	records map[uuid.UUID]*entity.RawExtractionRecord
	marked  []valueobject.RawRecordStatus
}

func (f *fakeRawRecordGetter) Create(ctx context.Context, r *entity.RawExtractionRecord) error {
	return nil
}
func (f *fakeRawRecordGetter) CreateBatch(ctx context.Context, records []entity.RawExtractionRecord) error {
	return nil
}
func (f *fakeRawRecordGetter) Get(ctx context.Context, tenantID, id uuid.UUID) (*entity.RawExtractionRecord, error) {
	return f.records[id], nil
}
func (f *fakeRawRecordGetter) ListPending(ctx context.Context, tenantID, jobID uuid.UUID, limit int) ([]entity.RawExtractionRecord, error) {
	return nil, nil
}
func (f *fakeRawRecordGetter) MarkStatus(ctx context.Context, tenantID, id uuid.UUID, status valueobject.RawRecordStatus, errMsg *string) error {
	f.marked = append(f.marked, status)
	return nil
}
func (f *fakeRawRecordGetter) CountByStatus(ctx context.Context, tenantID, jobID uuid.UUID, status valueobject.RawRecordStatus) (int, error) {
	return 0, nil
}

type fakeRepositoryRepo struct {
	byExternalID map[string]*entity.Repository
}

func (f *fakeRepositoryRepo) Upsert(ctx context.Context, r *entity.Repository) error { return nil }
func (f *fakeRepositoryRepo) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*entity.Repository, error) {
	return f.byExternalID[externalID], nil
}
func (f *fakeRepositoryRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Repository, error) {
	return nil, nil
}
func (f *fakeRepositoryRepo) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type fakePullRequestRepo struct {
	byExternalID map[string]*entity.PullRequest
	upserted     []entity.PullRequest
	bumps        []entity.PullRequestMetricsDelta
}

func (f *fakePullRequestRepo) Upsert(ctx context.Context, pr *entity.PullRequest) error {
	if pr.ID == uuid.Nil {
		pr.ID = uuid.New()
	}
	f.upserted = append(f.upserted, *pr)
	if f.byExternalID == nil {
		f.byExternalID = map[string]*entity.PullRequest{}
	}
	f.byExternalID[pr.ExternalID] = pr
	return nil
}
func (f *fakePullRequestRepo) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*entity.PullRequest, error) {
	return f.byExternalID[externalID], nil
}
func (f *fakePullRequestRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.PullRequest, error) {
	return nil, nil
}
func (f *fakePullRequestRepo) ListUpdatedSince(ctx context.Context, tenantID, repositoryID uuid.UUID, limit int) ([]entity.PullRequest, error) {
	return nil, nil
}
func (f *fakePullRequestRepo) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}
func (f *fakePullRequestRepo) BumpMetrics(ctx context.Context, tenantID, pullRequestID uuid.UUID, delta entity.PullRequestMetricsDelta) error {
	f.bumps = append(f.bumps, delta)
	return nil
}

type fakeCommitRepo struct{ upserted []entity.Commit }

func (f *fakeCommitRepo) Upsert(ctx context.Context, c *entity.Commit) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	f.upserted = append(f.upserted, *c)
	return nil
}
func (f *fakeCommitRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Commit, error) {
	return nil, nil
}
func (f *fakeCommitRepo) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeReviewRepo struct{ upserted []entity.Review }

func (f *fakeReviewRepo) Upsert(ctx context.Context, r *entity.Review) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	f.upserted = append(f.upserted, *r)
	return nil
}
func (f *fakeReviewRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Review, error) {
	return nil, nil
}
func (f *fakeReviewRepo) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeReviewCommentRepo struct{ upserted []entity.ReviewComment }

func (f *fakeReviewCommentRepo) Upsert(ctx context.Context, c *entity.ReviewComment) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	f.upserted = append(f.upserted, *c)
	return nil
}
func (f *fakeReviewCommentRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.ReviewComment, error) {
	return nil, nil
}
func (f *fakeReviewCommentRepo) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

type fakeReviewThreadRepo struct{ upserted []entity.ReviewThread }

func (f *fakeReviewThreadRepo) Upsert(ctx context.Context, t *entity.ReviewThread) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	f.upserted = append(f.upserted, *t)
	return nil
}
func (f *fakeReviewThreadRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.ReviewThread, error) {
	return nil, nil
}
func (f *fakeReviewThreadRepo) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func newTestTransformService(raw *fakeRawRecordGetter, repos *fakeRepositoryRepo, prs *fakePullRequestRepo, commits *fakeCommitRepo, reviews *fakeReviewRepo, comments *fakeReviewCommentRepo, threads *fakeReviewThreadRepo, broker *fakeBroker2) *TransformService {
	return NewTransformService(raw, nil, nil, nil, repos, prs, commits, reviews, comments, threads, nil, broker, nil, nopLogger{})
}

func TestUpsertPullRequestWithInlineChildrenReturnsOneRowPerKind(t *testing.T) {
	tenantID, integrationID, recordID := uuid.New(), uuid.New(), uuid.New()
	repoExternalID := "repo-1"

	payload := pullRequestPayload{
		RepositoryExternalID: repoExternalID,
		ExternalID:           "pr-1",
		Number:               1,
		Commits:              []commitPayload{{ExternalID: "c1", Author: "alice"}, {ExternalID: "c2", Author: "bob"}},
		Reviews:              []reviewPayload{{ExternalID: "r1", Author: "carol"}},
	}
	raw := marshalOrPanic(t, payload)

	repos := &fakeRepositoryRepo{byExternalID: map[string]*entity.Repository{repoExternalID: {ID: uuid.New(), ExternalID: repoExternalID}}}
	prs := &fakePullRequestRepo{}
	commits := &fakeCommitRepo{}
	reviews := &fakeReviewRepo{}
	comments := &fakeReviewCommentRepo{}
	threads := &fakeReviewThreadRepo{}
	rawRecords := &fakeRawRecordGetter{records: map[uuid.UUID]*entity.RawExtractionRecord{
		recordID: {ID: recordID, TenantID: tenantID, Kind: RawKindPullRequest, Payload: raw},
	}}
	broker := &fakeBroker2{}
	svc := newTestTransformService(rawRecords, repos, prs, commits, reviews, comments, threads, broker)

	msg := queue.TransformMessage{
		Envelope:    queue.Envelope{TenantID: tenantID, IntegrationID: integrationID},
		RawRecordID: &recordID,
		Kind:        RawKindPullRequest,
	}

	err := svc.HandleTransform(context.Background(), msg)
	require.NoError(t, err)

	// One pull request + 2 commits + 1 review = 4 normalized rows, so 4
	// embed messages, each correctly kinded (spec §4.3/§4.4).
	require.Len(t, broker.embeds, 4)
	kinds := map[string]int{}
	for _, e := range broker.embeds {
		kinds[e.SourceKind]++
	}
	assert.Equal(t, 1, kinds[RawKindPullRequest])
	assert.Equal(t, 2, kinds[RawKindCommit])
	assert.Equal(t, 1, kinds[RawKindReview])

	require.Len(t, prs.upserted, 1)
	assert.Equal(t, 2, prs.upserted[0].CommitCount)
	assert.Equal(t, 1, prs.upserted[0].ReviewCycles)
	assert.ElementsMatch(t, []string{"alice", "bob"}, prs.upserted[0].AuthorSet)
}

func TestUpsertPullRequestMarksRawRecordCompleted(t *testing.T) {
	tenantID, recordID := uuid.New(), uuid.New()
	repoExternalID := "repo-1"
	raw := marshalOrPanic(t, pullRequestPayload{RepositoryExternalID: repoExternalID, ExternalID: "pr-1"})

	repos := &fakeRepositoryRepo{byExternalID: map[string]*entity.Repository{repoExternalID: {ID: uuid.New(), ExternalID: repoExternalID}}}
	rawRecords := &fakeRawRecordGetter{records: map[uuid.UUID]*entity.RawExtractionRecord{
		recordID: {ID: recordID, TenantID: tenantID, Kind: RawKindPullRequest, Payload: raw},
	}}
	broker := &fakeBroker2{}
	svc := newTestTransformService(rawRecords, repos, &fakePullRequestRepo{}, &fakeCommitRepo{}, &fakeReviewRepo{}, &fakeReviewCommentRepo{}, &fakeReviewThreadRepo{}, broker)

	msg := queue.TransformMessage{Envelope: queue.Envelope{TenantID: tenantID}, RawRecordID: &recordID, Kind: RawKindPullRequest}
	err := svc.HandleTransform(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, rawRecords.marked, 1)
	assert.Equal(t, valueobject.RawRecordStatusCompleted, rawRecords.marked[0])
}

func TestContinuationCommitBumpsPullRequestMetricsInsteadOfRecompute(t *testing.T) {
	tenantID, recordID, prExternalID := uuid.New(), uuid.New(), "pr-1"

	prs := &fakePullRequestRepo{byExternalID: map[string]*entity.PullRequest{
		prExternalID: {ID: uuid.New(), ExternalID: prExternalID, FirstReviewAt: timePtr(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))},
	}}
	commits := &fakeCommitRepo{}

	raw := marshalOrPanic(t, commitPayload{PullRequestExternalID: prExternalID, ExternalID: "c-late", Author: "dave", Authored: time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)})
	rawRecords := &fakeRawRecordGetter{records: map[uuid.UUID]*entity.RawExtractionRecord{
		recordID: {ID: recordID, TenantID: tenantID, Kind: RawKindCommit, Payload: raw},
	}}
	broker := &fakeBroker2{}
	svc := newTestTransformService(rawRecords, &fakeRepositoryRepo{}, prs, commits, &fakeReviewRepo{}, &fakeReviewCommentRepo{}, &fakeReviewThreadRepo{}, broker)

	msg := queue.TransformMessage{Envelope: queue.Envelope{TenantID: tenantID}, RawRecordID: &recordID, Kind: RawKindCommit}
	err := svc.HandleTransform(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, prs.bumps, 1)
	assert.Equal(t, 1, prs.bumps[0].CommitCount)
	assert.Equal(t, 1, prs.bumps[0].ReworkCommitCount)

	require.Len(t, broker.embeds, 1)
	assert.Equal(t, RawKindCommit, broker.embeds[0].SourceKind)
}

func TestHandleTransformCompletionMessageForwardsFlagsWithoutARow(t *testing.T) {
	tenantID, jobID := uuid.New(), uuid.New()
	broker := &fakeBroker2{}
	svc := newTestTransformService(&fakeRawRecordGetter{}, &fakeRepositoryRepo{}, &fakePullRequestRepo{}, &fakeCommitRepo{}, &fakeReviewRepo{}, &fakeReviewCommentRepo{}, &fakeReviewThreadRepo{}, broker)

	msg := queue.TransformMessage{
		Envelope: queue.Envelope{TenantID: tenantID, JobID: jobID, Flags: queue.CompletionMarker(false)},
	}
	err := svc.HandleTransform(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, broker.embeds, 1)
	assert.Nil(t, broker.embeds[0].SourceID)
	assert.True(t, broker.embeds[0].Flags.IsCompletionMarker())
}

func marshalOrPanic(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func timePtr(t time.Time) *time.Time { return &t }
