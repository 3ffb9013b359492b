package postgres

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/repository"
)

// The repositories in this file all follow the same upsert-by-
// (tenant_id, external_id) shape; each table carries a unique
// constraint on that pair so re-extraction of unchanged upstream
// records stays idempotent.

// listIDsByTenant backs ListIDsByTenant across every normalized-row
// repository: the `replay-embed <tenant> <table>` CLI operation (spec
// §6) enumerates one table's rows this way before re-queuing one embed
// message per row. table is always a package-internal constant, never
// user input, so string-building the query is safe here.
func listIDsByTenant(ctx context.Context, db *DB, table string, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return RLSQuery(ctx, db, func(tx *sql.Tx) ([]uuid.UUID, error) {
		rows, err := tx.QueryContext(ctx, `SELECT id FROM `+table+` WHERE tenant_id = $1 ORDER BY created_at ASC`, tenantID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []uuid.UUID
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			out = append(out, id)
		}
		return out, rows.Err()
	})
}

type ProjectRepository struct{ db *DB }

func NewProjectRepository(db *DB) repository.ProjectRepository { return &ProjectRepository{db: db} }

func (r *ProjectRepository) Upsert(ctx context.Context, p *entity.NormalizedProject) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO projects (tenant_id, integration_id, external_id, key, name)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tenant_id, external_id) DO UPDATE SET key = EXCLUDED.key, name = EXCLUDED.name, updated_at = NOW()
			RETURNING id, created_at, updated_at
		`
		return tx.QueryRowContext(ctx, query, p.TenantID, p.IntegrationID, p.ExternalID, p.Key, p.Name).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	})
}

func (r *ProjectRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*entity.NormalizedProject, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.NormalizedProject, error) {
		p := &entity.NormalizedProject{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, integration_id, external_id, key, name, created_at, updated_at FROM projects WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID).
			Scan(&p.ID, &p.TenantID, &p.IntegrationID, &p.ExternalID, &p.Key, &p.Name, &p.CreatedAt, &p.UpdatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return p, err
	})
}

func (r *ProjectRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.NormalizedProject, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.NormalizedProject, error) {
		p := &entity.NormalizedProject{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, integration_id, external_id, key, name, created_at, updated_at FROM projects WHERE tenant_id = $1 AND id = $2`, tenantID, id).
			Scan(&p.ID, &p.TenantID, &p.IntegrationID, &p.ExternalID, &p.Key, &p.Name, &p.CreatedAt, &p.UpdatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return p, err
	})
}

func (r *ProjectRepository) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return listIDsByTenant(ctx, r.db, "projects", tenantID)
}

type WorkItemRepository struct{ db *DB }

func NewWorkItemRepository(db *DB) repository.WorkItemRepository { return &WorkItemRepository{db: db} }

func (r *WorkItemRepository) Upsert(ctx context.Context, w *entity.WorkItem) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO work_items (tenant_id, project_id, external_id, key, summary, description, issue_type, status, external_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (tenant_id, external_id) DO UPDATE SET
				summary = EXCLUDED.summary, description = EXCLUDED.description, issue_type = EXCLUDED.issue_type,
				status = EXCLUDED.status, external_updated_at = EXCLUDED.external_updated_at, updated_at = NOW()
			RETURNING id, created_at, updated_at
		`
		return tx.QueryRowContext(ctx, query, w.TenantID, w.ProjectID, w.ExternalID, w.Key, w.Summary, w.Description, w.IssueType, w.Status, w.ExternalUpdatedAt).
			Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	})
}

func (r *WorkItemRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*entity.WorkItem, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.WorkItem, error) {
		w := &entity.WorkItem{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, project_id, external_id, key, summary, description, issue_type, status, external_updated_at, created_at, updated_at FROM work_items WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID).
			Scan(&w.ID, &w.TenantID, &w.ProjectID, &w.ExternalID, &w.Key, &w.Summary, &w.Description, &w.IssueType, &w.Status, &w.ExternalUpdatedAt, &w.CreatedAt, &w.UpdatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return w, err
	})
}

func (r *WorkItemRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.WorkItem, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.WorkItem, error) {
		w := &entity.WorkItem{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, project_id, external_id, key, summary, description, issue_type, status, external_updated_at, created_at, updated_at FROM work_items WHERE tenant_id = $1 AND id = $2`, tenantID, id).
			Scan(&w.ID, &w.TenantID, &w.ProjectID, &w.ExternalID, &w.Key, &w.Summary, &w.Description, &w.IssueType, &w.Status, &w.ExternalUpdatedAt, &w.CreatedAt, &w.UpdatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return w, err
	})
}

func (r *WorkItemRepository) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return listIDsByTenant(ctx, r.db, "work_items", tenantID)
}

func (r *WorkItemRepository) ListUpdatedSince(ctx context.Context, tenantID, projectID uuid.UUID, limit int) ([]entity.WorkItem, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) ([]entity.WorkItem, error) {
		rows, err := tx.QueryContext(ctx, `SELECT id, tenant_id, project_id, external_id, key, summary, description, issue_type, status, external_updated_at, created_at, updated_at FROM work_items WHERE tenant_id = $1 AND project_id = $2 ORDER BY external_updated_at DESC LIMIT $3`, tenantID, projectID, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []entity.WorkItem
		for rows.Next() {
			w := entity.WorkItem{}
			if err := rows.Scan(&w.ID, &w.TenantID, &w.ProjectID, &w.ExternalID, &w.Key, &w.Summary, &w.Description, &w.IssueType, &w.Status, &w.ExternalUpdatedAt, &w.CreatedAt, &w.UpdatedAt); err != nil {
				return nil, err
			}
			out = append(out, w)
		}
		return out, rows.Err()
	})
}

type WorkItemChangeRepository struct{ db *DB }

func NewWorkItemChangeRepository(db *DB) repository.WorkItemChangeRepository {
	return &WorkItemChangeRepository{db: db}
}

func (r *WorkItemChangeRepository) Upsert(ctx context.Context, c *entity.WorkItemChange) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO work_item_changes (tenant_id, work_item_id, external_id, author, field, from_value, to_value, external_created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (tenant_id, external_id) DO NOTHING
			RETURNING id, created_at
		`
		err := tx.QueryRowContext(ctx, query, c.TenantID, c.WorkItemID, c.ExternalID, c.Author, c.Field, c.FromValue, c.ToValue, c.ExternalCreatedAt).
			Scan(&c.ID, &c.CreatedAt)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
}

func (r *WorkItemChangeRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.WorkItemChange, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.WorkItemChange, error) {
		c := &entity.WorkItemChange{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, work_item_id, external_id, author, field, from_value, to_value, external_created_at, created_at FROM work_item_changes WHERE tenant_id = $1 AND id = $2`, tenantID, id).
			Scan(&c.ID, &c.TenantID, &c.WorkItemID, &c.ExternalID, &c.Author, &c.Field, &c.FromValue, &c.ToValue, &c.ExternalCreatedAt, &c.CreatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return c, err
	})
}

func (r *WorkItemChangeRepository) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return listIDsByTenant(ctx, r.db, "work_item_changes", tenantID)
}

type RepositoryRepository struct{ db *DB }

func NewRepositoryRepository(db *DB) repository.RepositoryRepository { return &RepositoryRepository{db: db} }

func (r *RepositoryRepository) Upsert(ctx context.Context, rep *entity.Repository) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO repositories (tenant_id, integration_id, external_id, name, full_name, private, external_updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, external_id) DO UPDATE SET
				name = EXCLUDED.name, full_name = EXCLUDED.full_name, private = EXCLUDED.private, external_updated_at = EXCLUDED.external_updated_at, updated_at = NOW()
			RETURNING id, created_at, updated_at
		`
		return tx.QueryRowContext(ctx, query, rep.TenantID, rep.IntegrationID, rep.ExternalID, rep.Name, rep.FullName, rep.Private, rep.ExternalUpdatedAt).
			Scan(&rep.ID, &rep.CreatedAt, &rep.UpdatedAt)
	})
}

func (r *RepositoryRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*entity.Repository, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.Repository, error) {
		rep := &entity.Repository{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, integration_id, external_id, name, full_name, private, external_updated_at, created_at, updated_at FROM repositories WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID).
			Scan(&rep.ID, &rep.TenantID, &rep.IntegrationID, &rep.ExternalID, &rep.Name, &rep.FullName, &rep.Private, &rep.ExternalUpdatedAt, &rep.CreatedAt, &rep.UpdatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return rep, err
	})
}

func (r *RepositoryRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Repository, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.Repository, error) {
		rep := &entity.Repository{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, integration_id, external_id, name, full_name, private, external_updated_at, created_at, updated_at FROM repositories WHERE tenant_id = $1 AND id = $2`, tenantID, id).
			Scan(&rep.ID, &rep.TenantID, &rep.IntegrationID, &rep.ExternalID, &rep.Name, &rep.FullName, &rep.Private, &rep.ExternalUpdatedAt, &rep.CreatedAt, &rep.UpdatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return rep, err
	})
}

func (r *RepositoryRepository) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return listIDsByTenant(ctx, r.db, "repositories", tenantID)
}

type PullRequestRepository struct{ db *DB }

func NewPullRequestRepository(db *DB) repository.PullRequestRepository { return &PullRequestRepository{db: db} }

const pullRequestColumns = `id, tenant_id, repository_id, external_id, number, title, body, author, state, external_updated_at,
	commit_count, author_set, first_review_at, rework_commit_count, review_cycles, created_at, updated_at`

func scanPullRequest(row interface{ Scan(...any) error }, pr *entity.PullRequest) error {
	return row.Scan(&pr.ID, &pr.TenantID, &pr.RepositoryID, &pr.ExternalID, &pr.Number, &pr.Title, &pr.Body, &pr.Author, &pr.State, &pr.ExternalUpdatedAt,
		&pr.CommitCount, pq.Array(&pr.AuthorSet), &pr.FirstReviewAt, &pr.ReworkCommitCount, &pr.ReviewCycles, &pr.CreatedAt, &pr.UpdatedAt)
}

func (r *PullRequestRepository) Upsert(ctx context.Context, pr *entity.PullRequest) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO pull_requests (tenant_id, repository_id, external_id, number, title, body, author, state, external_updated_at,
				commit_count, author_set, first_review_at, rework_commit_count, review_cycles)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
			ON CONFLICT (tenant_id, external_id) DO UPDATE SET
				title = EXCLUDED.title, body = EXCLUDED.body, state = EXCLUDED.state, external_updated_at = EXCLUDED.external_updated_at,
				commit_count = EXCLUDED.commit_count, author_set = EXCLUDED.author_set, first_review_at = EXCLUDED.first_review_at,
				rework_commit_count = EXCLUDED.rework_commit_count, review_cycles = EXCLUDED.review_cycles, updated_at = NOW()
			RETURNING id, created_at, updated_at
		`
		return tx.QueryRowContext(ctx, query, pr.TenantID, pr.RepositoryID, pr.ExternalID, pr.Number, pr.Title, pr.Body, pr.Author, pr.State, pr.ExternalUpdatedAt,
			pr.CommitCount, pq.Array(pr.AuthorSet), pr.FirstReviewAt, pr.ReworkCommitCount, pr.ReviewCycles).
			Scan(&pr.ID, &pr.CreatedAt, &pr.UpdatedAt)
	})
}

func (r *PullRequestRepository) GetByExternalID(ctx context.Context, tenantID uuid.UUID, externalID string) (*entity.PullRequest, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.PullRequest, error) {
		pr := &entity.PullRequest{}
		row := tx.QueryRowContext(ctx, `SELECT `+pullRequestColumns+` FROM pull_requests WHERE tenant_id = $1 AND external_id = $2`, tenantID, externalID)
		if err := scanPullRequest(row, pr); err != nil {
			if err == sql.ErrNoRows {
				return nil, nil
			}
			return nil, err
		}
		return pr, nil
	})
}

func (r *PullRequestRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.PullRequest, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.PullRequest, error) {
		pr := &entity.PullRequest{}
		row := tx.QueryRowContext(ctx, `SELECT `+pullRequestColumns+` FROM pull_requests WHERE tenant_id = $1 AND id = $2`, tenantID, id)
		if err := scanPullRequest(row, pr); err != nil {
			if err == sql.ErrNoRows {
				return nil, nil
			}
			return nil, err
		}
		return pr, nil
	})
}

func (r *PullRequestRepository) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return listIDsByTenant(ctx, r.db, "pull_requests", tenantID)
}

func (r *PullRequestRepository) ListUpdatedSince(ctx context.Context, tenantID, repositoryID uuid.UUID, limit int) ([]entity.PullRequest, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) ([]entity.PullRequest, error) {
		rows, err := tx.QueryContext(ctx, `SELECT `+pullRequestColumns+` FROM pull_requests WHERE tenant_id = $1 AND repository_id = $2 ORDER BY external_updated_at DESC LIMIT $3`, tenantID, repositoryID, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []entity.PullRequest
		for rows.Next() {
			pr := entity.PullRequest{}
			if err := scanPullRequest(rows, &pr); err != nil {
				return nil, err
			}
			out = append(out, pr)
		}
		return out, rows.Err()
	})
}

// BumpMetrics folds delta into the pull request's stored metrics: commit
// count and rework-commit count accumulate, the author set merges
// (deduplicated by postgres array functions rather than round-tripping
// the existing set into Go), first-review timestamp is set only once,
// and review cycles take the higher of the stored and incoming value
// (a later page can only refine, never shrink, the observed cycle
// count).
func (r *PullRequestRepository) BumpMetrics(ctx context.Context, tenantID, pullRequestID uuid.UUID, delta entity.PullRequestMetricsDelta) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			UPDATE pull_requests SET
				commit_count = commit_count + $3,
				author_set = ARRAY(SELECT DISTINCT unnest(author_set || $4::text[])),
				first_review_at = COALESCE(first_review_at, $5),
				rework_commit_count = rework_commit_count + $6,
				review_cycles = GREATEST(review_cycles, $7),
				updated_at = NOW()
			WHERE tenant_id = $1 AND id = $2
		`
		_, err := tx.ExecContext(ctx, query, tenantID, pullRequestID,
			delta.CommitCount, pq.Array(delta.NewAuthors), delta.FirstReviewAt, delta.ReworkCommitCount, delta.ReviewCycles)
		return err
	})
}

type CommitRepository struct{ db *DB }

func NewCommitRepository(db *DB) repository.CommitRepository { return &CommitRepository{db: db} }

func (r *CommitRepository) Upsert(ctx context.Context, c *entity.Commit) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO commits (tenant_id, pull_request_id, external_id, sha, author, message, authored_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, external_id) DO NOTHING
			RETURNING id, created_at
		`
		err := tx.QueryRowContext(ctx, query, c.TenantID, c.PullRequestID, c.ExternalID, c.SHA, c.Author, c.Message, c.AuthoredAt).Scan(&c.ID, &c.CreatedAt)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
}

func (r *CommitRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Commit, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.Commit, error) {
		c := &entity.Commit{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, pull_request_id, external_id, sha, author, message, authored_at, created_at FROM commits WHERE tenant_id = $1 AND id = $2`, tenantID, id).
			Scan(&c.ID, &c.TenantID, &c.PullRequestID, &c.ExternalID, &c.SHA, &c.Author, &c.Message, &c.AuthoredAt, &c.CreatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return c, err
	})
}

func (r *CommitRepository) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return listIDsByTenant(ctx, r.db, "commits", tenantID)
}

type ReviewRepository struct{ db *DB }

func NewReviewRepository(db *DB) repository.ReviewRepository { return &ReviewRepository{db: db} }

func (r *ReviewRepository) Upsert(ctx context.Context, rv *entity.Review) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO reviews (tenant_id, pull_request_id, external_id, author, state, body, submitted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (tenant_id, external_id) DO UPDATE SET state = EXCLUDED.state, body = EXCLUDED.body
			RETURNING id, created_at
		`
		return tx.QueryRowContext(ctx, query, rv.TenantID, rv.PullRequestID, rv.ExternalID, rv.Author, rv.State, rv.Body, rv.SubmittedAt).Scan(&rv.ID, &rv.CreatedAt)
	})
}

func (r *ReviewRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.Review, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.Review, error) {
		rv := &entity.Review{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, pull_request_id, external_id, author, state, body, submitted_at, created_at FROM reviews WHERE tenant_id = $1 AND id = $2`, tenantID, id).
			Scan(&rv.ID, &rv.TenantID, &rv.PullRequestID, &rv.ExternalID, &rv.Author, &rv.State, &rv.Body, &rv.SubmittedAt, &rv.CreatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return rv, err
	})
}

func (r *ReviewRepository) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return listIDsByTenant(ctx, r.db, "reviews", tenantID)
}

type ReviewCommentRepository struct{ db *DB }

func NewReviewCommentRepository(db *DB) repository.ReviewCommentRepository {
	return &ReviewCommentRepository{db: db}
}

func (r *ReviewCommentRepository) Upsert(ctx context.Context, c *entity.ReviewComment) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO review_comments (tenant_id, pull_request_id, external_id, author, body, external_created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (tenant_id, external_id) DO NOTHING
			RETURNING id, created_at
		`
		err := tx.QueryRowContext(ctx, query, c.TenantID, c.PullRequestID, c.ExternalID, c.Author, c.Body, c.ExternalCreatedAt).Scan(&c.ID, &c.CreatedAt)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
}

func (r *ReviewCommentRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.ReviewComment, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.ReviewComment, error) {
		c := &entity.ReviewComment{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, pull_request_id, external_id, author, body, external_created_at, created_at FROM review_comments WHERE tenant_id = $1 AND id = $2`, tenantID, id).
			Scan(&c.ID, &c.TenantID, &c.PullRequestID, &c.ExternalID, &c.Author, &c.Body, &c.ExternalCreatedAt, &c.CreatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return c, err
	})
}

func (r *ReviewCommentRepository) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return listIDsByTenant(ctx, r.db, "review_comments", tenantID)
}

type ReviewThreadRepository struct{ db *DB }

func NewReviewThreadRepository(db *DB) repository.ReviewThreadRepository {
	return &ReviewThreadRepository{db: db}
}

func (r *ReviewThreadRepository) Upsert(ctx context.Context, t *entity.ReviewThread) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO review_threads (tenant_id, pull_request_id, external_id, resolved)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (tenant_id, external_id) DO UPDATE SET resolved = EXCLUDED.resolved
			RETURNING id, created_at
		`
		return tx.QueryRowContext(ctx, query, t.TenantID, t.PullRequestID, t.ExternalID, t.Resolved).Scan(&t.ID, &t.CreatedAt)
	})
}

func (r *ReviewThreadRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*entity.ReviewThread, error) {
	return RLSQuery(ctx, r.db, func(tx *sql.Tx) (*entity.ReviewThread, error) {
		t := &entity.ReviewThread{}
		err := tx.QueryRowContext(ctx, `SELECT id, tenant_id, pull_request_id, external_id, resolved, created_at FROM review_threads WHERE tenant_id = $1 AND id = $2`, tenantID, id).
			Scan(&t.ID, &t.TenantID, &t.PullRequestID, &t.ExternalID, &t.Resolved, &t.CreatedAt)
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return t, err
	})
}

func (r *ReviewThreadRepository) ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error) {
	return listIDsByTenant(ctx, r.db, "review_threads", tenantID)
}

type WorkItemPullRequestLinkRepository struct{ db *DB }

func NewWorkItemPullRequestLinkRepository(db *DB) repository.WorkItemPullRequestLinkRepository {
	return &WorkItemPullRequestLinkRepository{db: db}
}

func (r *WorkItemPullRequestLinkRepository) Link(ctx context.Context, l *entity.WorkItemPullRequestLink) error {
	return RLSExec(ctx, r.db, func(tx *sql.Tx) error {
		const query = `
			INSERT INTO work_item_pull_request_links (tenant_id, work_item_id, pull_request_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (tenant_id, work_item_id, pull_request_id) DO NOTHING
			RETURNING id, created_at
		`
		err := tx.QueryRowContext(ctx, query, l.TenantID, l.WorkItemID, l.PullRequestID).Scan(&l.ID, &l.CreatedAt)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
}
