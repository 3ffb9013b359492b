package entity

import (
	"time"

	"github.com/google/uuid"
)

// The normalized row types below are the transform stage's output (spec
// §3 "Normalized row"). Each carries TenantID for row-level-security
// scoping and ExternalID for upsert-by-provider-identity, following the
// shape of the teacher's entity package (flat structs, pointer fields
// for nullable columns, no embedded behavior beyond simple predicates).

type NormalizedProject struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	IntegrationID uuid.UUID
	ExternalID string
	Key        string
	Name       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type WorkItem struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	ProjectID     uuid.UUID
	ExternalID    string
	Key           string
	Summary       string
	Description   string
	IssueType     string
	Status        string
	ExternalUpdatedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type WorkItemChange struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	WorkItemID uuid.UUID
	ExternalID string
	Author     string
	Field      string
	FromValue  string
	ToValue    string
	ExternalCreatedAt time.Time
	CreatedAt  time.Time
}

type Repository struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	IntegrationID uuid.UUID
	ExternalID string
	Name       string
	FullName   string
	Private    bool
	ExternalUpdatedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type PullRequest struct {
	ID           uuid.UUID
	TenantID     uuid.UUID
	RepositoryID uuid.UUID
	ExternalID   string
	Number       int
	Title        string
	Body         string
	Author       string
	State        string
	ExternalUpdatedAt time.Time

	// The fields below are metrics derived during transform (spec
	// §4.3), eventually consistent as later nested pages of commits and
	// reviews arrive: each transform of a commit or review page bumps
	// them in place rather than recomputing from scratch.
	CommitCount       int
	AuthorSet         []string
	FirstReviewAt     *time.Time
	ReworkCommitCount int
	ReviewCycles      int

	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AuthorSetSize is the number of distinct commit authors seen so far.
func (pr PullRequest) AuthorSetSize() int {
	return len(pr.AuthorSet)
}

// PullRequestMetricsDelta carries an incremental update to a pull
// request's derived metrics, applied by BumpMetrics as later commit or
// review pages transform (spec §4.3 "eventually consistent").
type PullRequestMetricsDelta struct {
	CommitCount       int
	NewAuthors        []string
	FirstReviewAt     *time.Time
	ReworkCommitCount int
	ReviewCycles      int
}

type Commit struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	PullRequestID uuid.UUID
	ExternalID    string
	SHA           string
	Author        string
	Message       string
	AuthoredAt    time.Time
	CreatedAt     time.Time
}

type Review struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	PullRequestID uuid.UUID
	ExternalID    string
	Author        string
	State         string
	Body          string
	SubmittedAt   time.Time
	CreatedAt     time.Time
}

type ReviewComment struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	PullRequestID uuid.UUID
	ExternalID    string
	Author        string
	Body          string
	ExternalCreatedAt time.Time
	CreatedAt     time.Time
}

type ReviewThread struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	PullRequestID uuid.UUID
	ExternalID    string
	Resolved      bool
	CreatedAt     time.Time
}

// WorkItemPullRequestLink joins an issue-tracker work item to a
// repo-host pull request discovered via the development-status
// side-endpoint (spec §3 "Normalized row" list).
type WorkItemPullRequestLink struct {
	ID            uuid.UUID
	TenantID      uuid.UUID
	WorkItemID    uuid.UUID
	PullRequestID uuid.UUID
	CreatedAt     time.Time
}
