package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/queue"
	"github.com/sogos/etlcore/internal/domain/repository"
	"github.com/sogos/etlcore/internal/domain/service"
)

// Chainer is the narrow slice of OrchestratorService the embed stage
// depends on, kept as an interface so the two packages don't form a
// cyclic dependency.
type Chainer interface {
	ChainOnJobCompletion(ctx context.Context, tenantID, jobID uuid.UUID, checkpoint entity.Checkpoint, rateLimited bool) error
}

// EmbedService requests an embedding for each normalized row named by an
// embed message and records the resulting vector reference; on receipt
// of a completion message it triggers job chaining (spec §4.5, §4.1).
type EmbedService struct {
	vectorReferences repository.VectorReferenceRepository
	gatewayFactory   service.VectorGatewayFactory
	chainer          Chainer
	jobs             repository.JobRepository
	logger           service.Logger
	vectorModel      string

	projects        repository.ProjectRepository
	workItems       repository.WorkItemRepository
	workItemChanges repository.WorkItemChangeRepository
	repositories    repository.RepositoryRepository
	pullRequests    repository.PullRequestRepository
	commits         repository.CommitRepository
	reviews         repository.ReviewRepository
	reviewComments  repository.ReviewCommentRepository
	reviewThreads   repository.ReviewThreadRepository
}

func NewEmbedService(
	vectorReferences repository.VectorReferenceRepository,
	gatewayFactory service.VectorGatewayFactory,
	chainer Chainer,
	jobs repository.JobRepository,
	logger service.Logger,
	vectorModel string,
	projects repository.ProjectRepository,
	workItems repository.WorkItemRepository,
	workItemChanges repository.WorkItemChangeRepository,
	repositories repository.RepositoryRepository,
	pullRequests repository.PullRequestRepository,
	commits repository.CommitRepository,
	reviews repository.ReviewRepository,
	reviewComments repository.ReviewCommentRepository,
	reviewThreads repository.ReviewThreadRepository,
) *EmbedService {
	return &EmbedService{
		vectorReferences: vectorReferences,
		gatewayFactory:   gatewayFactory,
		chainer:          chainer,
		jobs:             jobs,
		logger:           logger,
		vectorModel:      vectorModel,
		projects:         projects,
		workItems:        workItems,
		workItemChanges:  workItemChanges,
		repositories:     repositories,
		pullRequests:     pullRequests,
		commits:          commits,
		reviews:          reviews,
		reviewComments:   reviewComments,
		reviewThreads:    reviewThreads,
	}
}

// HandleEmbed processes one embed message. A completion message
// (SourceID == nil) carries no row and instead triggers
// ChainOnJobCompletion once LastJobItem is set (spec §4.4 "Embed").
func (s *EmbedService) HandleEmbed(ctx context.Context, msg queue.EmbedMessage) error {
	if msg.IsCompletionMessage() {
		return s.maybeChain(ctx, msg)
	}

	gateway, err := s.gatewayFactory.PrimaryGateway(ctx, msg.TenantID.String())
	if err != nil {
		return fmt.Errorf("resolve vector gateway: %w", err)
	}

	text, err := s.canonicalText(ctx, msg.TenantID, msg.SourceKind, *msg.SourceID)
	if err != nil {
		return fmt.Errorf("load canonical text: %w", err)
	}
	vector, err := gateway.Embed(ctx, s.vectorModel, text)
	if err != nil {
		fallback, fbErr := s.gatewayFactory.FallbackGateway(ctx, msg.TenantID.String())
		if fbErr != nil {
			return fmt.Errorf("embed failed and no fallback available: %w", err)
		}
		vector, err = fallback.Embed(ctx, s.vectorModel, text)
		if err != nil {
			return fmt.Errorf("embed failed on primary and fallback gateway: %w", err)
		}
	}

	ref := entity.VectorReference{
		TenantID:         msg.TenantID,
		SourceKind:       msg.SourceKind,
		SourceID:         *msg.SourceID,
		VectorModel:      s.vectorModel,
		ExternalVectorID: externalVectorID(vector),
		ContentHash:      contentHash(text),
	}
	if err := s.vectorReferences.Upsert(ctx, &ref); err != nil {
		return fmt.Errorf("upsert vector reference: %w", err)
	}

	return s.maybeChain(ctx, msg)
}

// maybeChain invokes ChainOnJobCompletion once this message carries
// last_job_item=true, whether or not it was a completion message (spec
// §4.4: the last data item and a completion marker can equally carry
// the terminal flag).
func (s *EmbedService) maybeChain(ctx context.Context, msg queue.EmbedMessage) error {
	if !msg.Flags.LastJobItem {
		return nil
	}

	job, err := s.jobs.Get(ctx, msg.TenantID, msg.JobID)
	if err != nil {
		return fmt.Errorf("load job before chaining: %w", err)
	}
	checkpoint := entity.Checkpoint{}
	if job != nil {
		checkpoint = job.Checkpoint
	}

	return s.chainer.ChainOnJobCompletion(ctx, msg.TenantID, msg.JobID, checkpoint, msg.Flags.RateLimited)
}

// canonicalText loads the normalized row named by an embed message and
// projects it to the deterministic text representation sent to the
// vector gateway (spec §4.5 "canonical text"). Row content, not just
// its identity, determines the embedding; the hash of this text is
// stored as ContentHash on the resulting VectorReference.
func (s *EmbedService) canonicalText(ctx context.Context, tenantID uuid.UUID, sourceKind string, sourceID uuid.UUID) (string, error) {
	switch sourceKind {
	case RawKindProject:
		p, err := s.projects.GetByID(ctx, tenantID, sourceID)
		if err != nil || p == nil {
			return "", notFoundOrErr(sourceKind, sourceID, err)
		}
		return fmt.Sprintf("project %s: %s", p.Key, p.Name), nil

	case RawKindWorkItem:
		w, err := s.workItems.GetByID(ctx, tenantID, sourceID)
		if err != nil || w == nil {
			return "", notFoundOrErr(sourceKind, sourceID, err)
		}
		return fmt.Sprintf("%s %s [%s/%s]: %s\n\n%s", w.IssueType, w.Key, w.IssueType, w.Status, w.Summary, w.Description), nil

	case RawKindWorkItemChange:
		c, err := s.workItemChanges.GetByID(ctx, tenantID, sourceID)
		if err != nil || c == nil {
			return "", notFoundOrErr(sourceKind, sourceID, err)
		}
		return fmt.Sprintf("%s changed %s from %q to %q", c.Author, c.Field, c.FromValue, c.ToValue), nil

	case RawKindRepository:
		r, err := s.repositories.GetByID(ctx, tenantID, sourceID)
		if err != nil || r == nil {
			return "", notFoundOrErr(sourceKind, sourceID, err)
		}
		return fmt.Sprintf("repository %s", r.FullName), nil

	case RawKindPullRequest:
		pr, err := s.pullRequests.GetByID(ctx, tenantID, sourceID)
		if err != nil || pr == nil {
			return "", notFoundOrErr(sourceKind, sourceID, err)
		}
		return fmt.Sprintf("PR #%d [%s]: %s\n\n%s", pr.Number, pr.State, pr.Title, pr.Body), nil

	case RawKindCommit:
		c, err := s.commits.GetByID(ctx, tenantID, sourceID)
		if err != nil || c == nil {
			return "", notFoundOrErr(sourceKind, sourceID, err)
		}
		return fmt.Sprintf("commit %s by %s: %s", c.SHA, c.Author, c.Message), nil

	case RawKindReview:
		r, err := s.reviews.GetByID(ctx, tenantID, sourceID)
		if err != nil || r == nil {
			return "", notFoundOrErr(sourceKind, sourceID, err)
		}
		return fmt.Sprintf("review by %s [%s]: %s", r.Author, r.State, r.Body), nil

	case RawKindReviewComment:
		c, err := s.reviewComments.GetByID(ctx, tenantID, sourceID)
		if err != nil || c == nil {
			return "", notFoundOrErr(sourceKind, sourceID, err)
		}
		return fmt.Sprintf("comment by %s: %s", c.Author, c.Body), nil

	case RawKindReviewThread:
		t, err := s.reviewThreads.GetByID(ctx, tenantID, sourceID)
		if err != nil || t == nil {
			return "", notFoundOrErr(sourceKind, sourceID, err)
		}
		return fmt.Sprintf("review thread %s resolved=%t", t.ExternalID, t.Resolved), nil

	default:
		// Join rows such as work_item_pull_request_link carry no text of
		// their own; fall back to a stable identity string rather than
		// failing the embed stage over a row with nothing to embed.
		return fmt.Sprintf("%s:%s", sourceKind, sourceID), nil
	}
}

func notFoundOrErr(sourceKind string, sourceID uuid.UUID, err error) error {
	if err != nil {
		return fmt.Errorf("load %s %s: %w", sourceKind, sourceID, err)
	}
	return fmt.Errorf("%s %s not found", sourceKind, sourceID)
}

func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// externalVectorID is a placeholder identifier until the vector gateway
// response shape exposes one of its own; it is derived from the vector
// contents so re-embedding unchanged content is detectably idempotent.
func externalVectorID(vector []float32) string {
	b := make([]byte, 4*len(vector))
	for i, f := range vector {
		bits := math.Float32bits(f)
		b[4*i] = byte(bits)
		b[4*i+1] = byte(bits >> 8)
		b[4*i+2] = byte(bits >> 16)
		b[4*i+3] = byte(bits >> 24)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}
