package service

import (
	"context"
	"time"
)

// RateLimitResource names one of the independent rate-limit budgets a
// provider tracks (core REST calls, search REST calls, GraphQL calls).
type RateLimitResource string

const (
	ResourceCore    RateLimitResource = "core"
	ResourceSearch  RateLimitResource = "search"
	ResourceGraphQL RateLimitResource = "graphql"
)

// RateLimitSnapshot is a provider's self-reported budget for one resource
// class, parsed from response headers or a periodic probe endpoint.
type RateLimitSnapshot struct {
	Resource  RateLimitResource
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// BelowSafetyThreshold reports whether remaining budget is low enough
// that the extractor should stop and checkpoint rather than risk a 403.
func (s RateLimitSnapshot) BelowSafetyThreshold(safetyMargin int) bool {
	return s.Remaining <= safetyMargin
}

// RateLimitError is the typed error every provider client returns when a
// call is rejected (or pre-empted) for exceeding its budget.
type RateLimitError struct {
	Snapshot RateLimitSnapshot
}

func (e *RateLimitError) Error() string {
	return "rate limit exceeded for " + string(e.Snapshot.Resource)
}

// PageInfo mirrors a GraphQL connection's pagination cursor.
type PageInfo struct {
	HasNextPage bool
	EndCursor   string
}

// IssueTrackerClient abstracts a Jira-shaped issue tracker (spec §6).
type IssueTrackerClient interface {
	// SearchProjects lists the projects visible to the configured
	// credentials, optionally restricted to a key/name filter.
	SearchProjects(ctx context.Context, keyFilter []string) ([]Project, error)

	// ListIssueTypes returns the issue-type taxonomy for a project.
	ListIssueTypes(ctx context.Context, projectKey string) ([]IssueType, error)

	// ListStatuses returns the status taxonomy for a project.
	ListStatuses(ctx context.Context, projectKey string) ([]IssueStatus, error)

	// SearchIssues runs a JQL-like query for a project, returning one
	// page of issues with changelog expansion, and the cursor to
	// continue from (empty when exhausted).
	SearchIssues(ctx context.Context, req IssueSearchRequest) (IssueSearchPage, error)

	// DevelopmentStatus fetches the development-status side-endpoint
	// (linked commits/PRs) for a single issue.
	DevelopmentStatus(ctx context.Context, issueID string) (DevelopmentStatus, error)

	// RateLimitSnapshot returns the client's most recently observed
	// budget for the given resource class.
	RateLimitSnapshot(resource RateLimitResource) RateLimitSnapshot
}

type Project struct {
	Key  string
	Name string
}

type IssueType struct {
	ID   string
	Name string
}

type IssueStatus struct {
	ID       string
	Name     string
	Category string
}

type IssueSearchRequest struct {
	ProjectKey       string
	StartAt          int
	OldLastSyncDate  *time.Time
	ExtractionEndAt  time.Time
	PageSize         int
}

type IssueSearchPage struct {
	Issues     []Issue
	NextStart  int
	HasMore    bool
}

type Issue struct {
	ExternalID  string
	Key         string
	Summary     string
	Description string
	IssueType   string
	Status      string
	Updated     time.Time
	Changelog   []ChangelogEntry
}

type ChangelogEntry struct {
	ExternalID string
	Author     string
	Created    time.Time
	Field      string
	FromValue  string
	ToValue    string
}

type DevelopmentStatus struct {
	IssueExternalID string
	PullRequestIDs  []string
	CommitIDs       []string
}

// RepoHostClient abstracts a GitHub-shaped source-code host (spec §6, §4.2).
type RepoHostClient interface {
	// SearchRepositories performs the smart-batched REST repository
	// search described in spec §4.2: name patterns are split into
	// batches that fit the provider's max URL length, each batch is
	// paginated via next-page link relations up to the search ceiling,
	// and results are deduplicated by external id across batches.
	SearchRepositories(ctx context.Context, namePatterns []string, org string) ([]Repository, error)

	// PullRequestsWithNestedEdges runs the nested-cursor GraphQL query
	// for one repository: each returned PullRequest inlines its first
	// page of commits/reviews/comments/review-threads.
	PullRequestsWithNestedEdges(ctx context.Context, req PullRequestPageRequest) (PullRequestPage, error)

	// ContinueNestedEdge fetches one additional page of a single nested
	// edge kind for one parent pull request (spec §4.2 "never fetch
	// nested pages inline; always re-enqueue").
	ContinueNestedEdge(ctx context.Context, req NestedEdgeRequest) (NestedEdgePage, error)

	RateLimitSnapshot(resource RateLimitResource) RateLimitSnapshot
}

type Repository struct {
	ExternalID string
	Name       string
	FullName   string
	Private    bool
	Updated    time.Time
}

type PullRequestPageRequest struct {
	RepositoryExternalID string
	Cursor               string
	OldLastSyncDate      *time.Time
	ExtractionEndAt      time.Time
}

type PullRequestPage struct {
	PullRequests []PullRequest
	PageInfo     PageInfo
}

// NestedEdgeKind enumerates the four nested edge collections a pull
// request response may carry (spec §4.2 "up to four nested cursors").
type NestedEdgeKind string

const (
	EdgeCommits       NestedEdgeKind = "commits"
	EdgeReviews       NestedEdgeKind = "reviews"
	EdgeComments      NestedEdgeKind = "comments"
	EdgeReviewThreads NestedEdgeKind = "review_threads"
)

type PullRequest struct {
	ExternalID string
	Number     int
	Title      string
	Body       string
	Author     string
	State      string
	Updated    time.Time

	Commits       []Commit
	CommitsPage   PageInfo
	Reviews       []Review
	ReviewsPage   PageInfo
	Comments      []ReviewComment
	CommentsPage  PageInfo
	ReviewThreads []ReviewThread
	ReviewThreadsPage PageInfo
}

type Commit struct {
	ExternalID string
	SHA        string
	Author     string
	Message    string
	Authored   time.Time
}

type Review struct {
	ExternalID string
	Author     string
	State      string
	Submitted  time.Time
	Body       string
}

type ReviewComment struct {
	ExternalID string
	Author     string
	Body       string
	Created    time.Time
}

type ReviewThread struct {
	ExternalID string
	Resolved   bool
}

type NestedEdgeRequest struct {
	RepositoryExternalID  string
	PullRequestExternalID string
	Kind                  NestedEdgeKind
	Cursor                string
}

type NestedEdgePage struct {
	Kind          NestedEdgeKind
	Commits       []Commit
	Reviews       []Review
	Comments      []ReviewComment
	ReviewThreads []ReviewThread
	PageInfo      PageInfo
}

// VectorGateway abstracts the embedding endpoint of spec §4.5/§6: a
// (model, text) -> (vector[]) HTTP JSON call. Primary and fallback
// endpoints are both VectorGateway implementations; the embed stage
// falls back to the second on failure/quota exhaustion.
type VectorGateway interface {
	Embed(ctx context.Context, model string, text string) ([]float32, error)
}

// VectorGatewayFactory creates per-tenant VectorGateway instances, since
// API keys are resolved per tenant at call time (grounded on the
// teacher's gemini.ProviderFactory).
type VectorGatewayFactory interface {
	PrimaryGateway(ctx context.Context, tenantID string) (VectorGateway, error)
	FallbackGateway(ctx context.Context, tenantID string) (VectorGateway, error)
}
