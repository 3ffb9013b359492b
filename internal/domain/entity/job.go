package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// Job is one rung of a tenant's job ladder (spec §3, §4.1).
type Job struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	IntegrationID uuid.UUID

	// JobName is unique per tenant (e.g. "github_sync", "jira_sync").
	JobName string

	// ExecutionOrder defines the ladder position; chaining always moves
	// to the next strictly-greater, non-paused order, wrapping to the
	// lowest order when none remains (spec §4.1).
	ExecutionOrder int

	ScheduleIntervalMinutes int
	RetryIntervalMinutes    int
	MaxRetryAttempts        int

	Status valueobject.JobStatus

	LastStartedAt  *time.Time
	LastFinishedAt *time.Time
	LastSuccessAt  *time.Time

	RetryCount   int
	ErrorMessage *string

	Checkpoint Checkpoint
	Steps      []StepStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Checkpoint is the job's structured resume state (spec §6 "Persisted
// state layout"). Keys are stable within a given step but the schema is
// otherwise free-form; sub-cursors accumulate as nested fan-out
// (commits/reviews/comments/review-threads) progresses.
type Checkpoint struct {
	LastCursor       string `json:"last_cursor,omitempty"`
	RateLimitHit     bool   `json:"rate_limit_hit,omitempty"`
	RateLimitResetAt *int64 `json:"rate_limit_reset_at,omitempty"`

	// OldLastSyncDate is frozen at the start of the run (spec §9 Open
	// Question: the stricter reading — frozen at run start, not
	// per-extraction-kind — is adopted here).
	OldLastSyncDate     *time.Time `json:"old_last_sync_date,omitempty"`
	ExtractionEndDate   *time.Time `json:"extraction_end_date,omitempty"`

	// RateLimitNodeType records which node type (e.g. "prs", "commits")
	// the extractor was working on when it hit the limit.
	RateLimitNodeType string `json:"rate_limit_node_type,omitempty"`

	// RepoQueue / RepoCursor track smart-batched repository-search
	// resumption.
	RepoQueue  []string `json:"repo_queue,omitempty"`
	RepoCursor string   `json:"repo_cursor,omitempty"`

	// CurrentRepositoryExternalID / CurrentPullRequestExternalID /
	// nested sub-cursors track GraphQL pagination resumption, mirroring
	// the original implementation's last_pr_cursor /
	// current_pr_node_id / last_commit_cursor / last_review_cursor /
	// last_comment_cursor / last_review_thread_cursor fields.
	CurrentRepositoryExternalID  string `json:"current_repository_external_id,omitempty"`
	CurrentPullRequestExternalID string `json:"current_pull_request_external_id,omitempty"`
	LastPullRequestCursor        string `json:"last_pr_cursor,omitempty"`
	LastCommitCursor             string `json:"last_commit_cursor,omitempty"`
	LastReviewCursor             string `json:"last_review_cursor,omitempty"`
	LastCommentCursor            string `json:"last_comment_cursor,omitempty"`
	LastReviewThreadCursor       string `json:"last_review_thread_cursor,omitempty"`
}

// IsZero reports whether the checkpoint carries no resume state, i.e. a
// fresh run.
func (c Checkpoint) IsZero() bool {
	return c == Checkpoint{}
}

// StepStatus names one sub-phase of a job and its per-stage status
// triple (spec §3 "steps sub-structure", GLOSSARY "Step").
type StepStatus struct {
	Name        string                 `json:"name"`
	Order       int                    `json:"order"`
	DisplayName string                 `json:"display_name"`
	Extraction  valueobject.StageStatus `json:"extraction"`
	Transform   valueobject.StageStatus `json:"transform"`
	Embedding   valueobject.StageStatus `json:"embedding"`
}

// SetStageStatus updates the named step's status for one stage, leaving
// the other two stages of that step untouched. No-op if the step isn't
// found (steps are seeded at job creation and never renamed).
func (j *Job) SetStageStatus(stepName string, stage valueobject.StageName, status valueobject.StageStatus) {
	for i := range j.Steps {
		if j.Steps[i].Name != stepName {
			continue
		}
		switch stage {
		case valueobject.StageExtraction:
			j.Steps[i].Extraction = status
		case valueobject.StageTransform:
			j.Steps[i].Transform = status
		case valueobject.StageEmbedding:
			j.Steps[i].Embedding = status
		}
		return
	}
}
