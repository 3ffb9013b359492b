package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/sogos/etlcore/internal/domain/entity"
)

// The repositories below persist transform-stage output. Each exposes an
// Upsert keyed on (TenantID, ExternalID) so re-extraction of unchanged
// upstream data is idempotent, matching the teacher's RLSExec-wrapped
// upsert pattern in its postgres repositories. GetByID and
// ListIDsByTenant back the embed stage's canonical-text lookup and the
// `replay-embed <tenant> <table>` bulk re-queue operation (spec §4.5,
// §6) respectively.

type ProjectRepository interface {
	Upsert(ctx context.Context, p *entity.NormalizedProject) error
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*entity.NormalizedProject, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.NormalizedProject, error)
	ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

type WorkItemRepository interface {
	Upsert(ctx context.Context, w *entity.WorkItem) error
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*entity.WorkItem, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.WorkItem, error)
	ListUpdatedSince(ctx context.Context, tenantID uuid.UUID, projectID uuid.UUID, limit int) ([]entity.WorkItem, error)
	ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

type WorkItemChangeRepository interface {
	Upsert(ctx context.Context, c *entity.WorkItemChange) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.WorkItemChange, error)
	ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

type RepositoryRepository interface {
	Upsert(ctx context.Context, r *entity.Repository) error
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*entity.Repository, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Repository, error)
	ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

type PullRequestRepository interface {
	Upsert(ctx context.Context, pr *entity.PullRequest) error
	GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*entity.PullRequest, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.PullRequest, error)
	ListUpdatedSince(ctx context.Context, tenantID uuid.UUID, repositoryID uuid.UUID, limit int) ([]entity.PullRequest, error)
	ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)

	// BumpMetrics applies an incremental metrics update (spec §4.3
	// "eventually consistent") as a later commit or review page
	// transforms, without requiring the full set of nested rows to be
	// held in memory at once.
	BumpMetrics(ctx context.Context, tenantID, pullRequestID uuid.UUID, delta entity.PullRequestMetricsDelta) error
}

type CommitRepository interface {
	Upsert(ctx context.Context, c *entity.Commit) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Commit, error)
	ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

type ReviewRepository interface {
	Upsert(ctx context.Context, r *entity.Review) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Review, error)
	ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

type ReviewCommentRepository interface {
	Upsert(ctx context.Context, c *entity.ReviewComment) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.ReviewComment, error)
	ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

type ReviewThreadRepository interface {
	Upsert(ctx context.Context, t *entity.ReviewThread) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.ReviewThread, error)
	ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

type WorkItemPullRequestLinkRepository interface {
	Link(ctx context.Context, l *entity.WorkItemPullRequestLink) error
}
