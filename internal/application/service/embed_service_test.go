package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/queue"
	"github.com/sogos/etlcore/internal/domain/repository"
	domainservice "github.com/sogos/etlcore/internal/domain/service"
)

type fakeVectorReferenceRepository struct {
	upserted []entity.VectorReference
}

func (f *fakeVectorReferenceRepository) Get(ctx context.Context, tenantID uuid.UUID, sourceKind string, sourceID uuid.UUID) (*entity.VectorReference, error) {
	return nil, nil
}
func (f *fakeVectorReferenceRepository) Upsert(ctx context.Context, v *entity.VectorReference) error {
	f.upserted = append(f.upserted, *v)
	return nil
}
func (f *fakeVectorReferenceRepository) Delete(ctx context.Context, tenantID uuid.UUID, sourceKind string, sourceID uuid.UUID) error {
	return nil
}

type fakeVectorGateway struct {
	vector []float32
	err    error
}

func (g *fakeVectorGateway) Embed(ctx context.Context, model, text string) ([]float32, error) {
	return g.vector, g.err
}

type fakeVectorGatewayFactory struct {
	primary  *fakeVectorGateway
	fallback *fakeVectorGateway
}

func (f *fakeVectorGatewayFactory) PrimaryGateway(ctx context.Context, tenantID string) (domainservice.VectorGateway, error) {
	return f.primary, nil
}
func (f *fakeVectorGatewayFactory) FallbackGateway(ctx context.Context, tenantID string) (domainservice.VectorGateway, error) {
	return f.fallback, nil
}

type fakeChainer struct {
	calls []uuid.UUID
}

func (c *fakeChainer) ChainOnJobCompletion(ctx context.Context, tenantID, jobID uuid.UUID, checkpoint entity.Checkpoint, rateLimited bool) error {
	c.calls = append(c.calls, jobID)
	return nil
}

type fakePullRequestGetter struct {
	repository.PullRequestRepository
	pr *entity.PullRequest
}

func (f *fakePullRequestGetter) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.PullRequest, error) {
	return f.pr, nil
}

func newTestEmbedService(vrefs *fakeVectorReferenceRepository, factory domainservice.VectorGatewayFactory, chainer Chainer, jobs repository.JobRepository, prs repository.PullRequestRepository) *EmbedService {
	return NewEmbedService(vrefs, factory, chainer, jobs, nopLogger{}, "text-embedding-004",
		nil, nil, nil, nil, prs, nil, nil, nil, nil)
}

func TestHandleEmbedUpsertsVectorReferenceFromRealPullRequestText(t *testing.T) {
	tenantID, prID := uuid.New(), uuid.New()
	pr := &entity.PullRequest{ID: prID, TenantID: tenantID, Number: 42, State: "open", Title: "Fix the thing", Body: "details here"}

	vrefs := &fakeVectorReferenceRepository{}
	factory := &fakeVectorGatewayFactory{primary: &fakeVectorGateway{vector: []float32{0.1, 0.2, 0.3}}}
	svc := newTestEmbedService(vrefs, factory, &fakeChainer{}, nil, &fakePullRequestGetter{pr: pr})

	msg := queue.EmbedMessage{
		Envelope:   queue.Envelope{TenantID: tenantID},
		SourceKind: RawKindPullRequest,
		SourceID:   &prID,
	}

	err := svc.HandleEmbed(context.Background(), msg)
	require.NoError(t, err)

	require.Len(t, vrefs.upserted, 1)
	ref := vrefs.upserted[0]
	assert.Equal(t, RawKindPullRequest, ref.SourceKind)
	assert.Equal(t, prID, ref.SourceID)

	wantText := fmt.Sprintf("PR #%d [%s]: %s\n\n%s", pr.Number, pr.State, pr.Title, pr.Body)
	wantSum := sha256.Sum256([]byte(wantText))
	assert.Equal(t, hex.EncodeToString(wantSum[:]), ref.ContentHash)
}

func TestHandleEmbedFallsBackToSecondaryGatewayOnPrimaryFailure(t *testing.T) {
	tenantID, prID := uuid.New(), uuid.New()
	pr := &entity.PullRequest{ID: prID, TenantID: tenantID, Title: "t", Body: "b"}

	vrefs := &fakeVectorReferenceRepository{}
	factory := &fakeVectorGatewayFactory{
		primary:  &fakeVectorGateway{err: assertErr("primary down")},
		fallback: &fakeVectorGateway{vector: []float32{1, 2}},
	}
	svc := newTestEmbedService(vrefs, factory, &fakeChainer{}, nil, &fakePullRequestGetter{pr: pr})

	msg := queue.EmbedMessage{Envelope: queue.Envelope{TenantID: tenantID}, SourceKind: RawKindPullRequest, SourceID: &prID}

	err := svc.HandleEmbed(context.Background(), msg)
	require.NoError(t, err)
	require.Len(t, vrefs.upserted, 1)
}

func TestHandleEmbedCompletionMessageTriggersChainingOnLastJobItem(t *testing.T) {
	tenantID, jobID := uuid.New(), uuid.New()
	chainer := &fakeChainer{}
	svc := newTestEmbedService(&fakeVectorReferenceRepository{}, &fakeVectorGatewayFactory{}, chainer, &fakeJobRepository{jobs: map[uuid.UUID]*entity.Job{}}, nil)

	msg := queue.EmbedMessage{Envelope: queue.Envelope{
		TenantID: tenantID, JobID: jobID,
		Flags: queue.ControlFlags{LastItem: true, LastJobItem: true},
	}}

	err := svc.HandleEmbed(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{jobID}, chainer.calls)
}

func TestHandleEmbedDataMessageWithoutLastJobItemDoesNotChain(t *testing.T) {
	tenantID, prID := uuid.New(), uuid.New()
	pr := &entity.PullRequest{ID: prID, TenantID: tenantID}
	chainer := &fakeChainer{}
	factory := &fakeVectorGatewayFactory{primary: &fakeVectorGateway{vector: []float32{1}}}
	svc := newTestEmbedService(&fakeVectorReferenceRepository{}, factory, chainer, nil, &fakePullRequestGetter{pr: pr})

	msg := queue.EmbedMessage{Envelope: queue.Envelope{TenantID: tenantID}, SourceKind: RawKindPullRequest, SourceID: &prID}
	err := svc.HandleEmbed(context.Background(), msg)
	require.NoError(t, err)
	assert.Empty(t, chainer.calls)
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

func assertErr(msg string) error { return simpleErr(msg) }
