// Package repohost implements service.RepoHostClient against a
// GitHub-shaped REST+GraphQL API: smart-batched REST repository search,
// and a nested-cursor GraphQL query for pull requests that inlines up to
// four nested edge kinds (commits, reviews, comments, review threads)
// per spec §4.2. Request construction follows the teacher's
// kratos.Client net/http idiom; pacing and retry are new concerns this
// domain needs that the teacher never touched, grounded on
// jonesrussell-north-cloud's processor.RateLimiter (generalized to one
// limiter per resource class) and the pack's cenkalti/backoff/v4 usage.
package repohost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/http2"

	"github.com/sogos/etlcore/internal/domain/service"
)

const (
	maxSearchURLLength = 2000
	searchPageSize     = 100
	searchCeiling      = 1000 // GitHub's documented REST search result ceiling
)

// Client implements service.RepoHostClient using GitHub's REST search
// endpoint and GraphQL v4 API.
type Client struct {
	httpClient *http.Client
	restBase   string
	graphQLURL string
	token      string
	limiters   *resourceLimiters
}

func NewClient(restBase, graphQLURL, token string) *Client {
	transport := &http.Transport{}
	_ = http2.ConfigureTransport(transport)

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: 30 * time.Second},
		restBase:   restBase,
		graphQLURL: graphQLURL,
		token:      token,
		limiters:   newResourceLimiters(),
	}
}

var _ service.RepoHostClient = (*Client)(nil)

// SearchRepositories runs the smart-batched REST search of spec §4.2:
// name patterns are grouped into query strings that fit
// maxSearchURLLength, each batch paginates via next-page link relations
// up to searchCeiling, and repositories are deduplicated by external id
// across batches.
func (c *Client) SearchRepositories(ctx context.Context, namePatterns []string, org string) ([]service.Repository, error) {
	batches := batchNamePatterns(namePatterns, org, maxSearchURLLength)

	seen := map[string]bool{}
	var out []service.Repository

	for _, q := range batches {
		page := 1
		fetched := 0
		for {
			repos, hasNext, err := c.searchOnePage(ctx, q, page)
			if err != nil {
				return nil, err
			}
			for _, r := range repos {
				if seen[r.ExternalID] {
					continue
				}
				seen[r.ExternalID] = true
				out = append(out, r)
			}
			fetched += len(repos)
			if !hasNext || fetched >= searchCeiling || len(repos) == 0 {
				break
			}
			page++
		}
	}

	return out, nil
}

func (c *Client) searchOnePage(ctx context.Context, q string, page int) ([]service.Repository, bool, error) {
	if err := c.limiters.limiterFor(service.ResourceSearch).Wait(ctx); err != nil {
		return nil, false, fmt.Errorf("rate limiter wait: %w", err)
	}

	reqURL := fmt.Sprintf("%s/search/repositories?q=%s&per_page=%d&page=%d",
		c.restBase, url.QueryEscape(q), searchPageSize, page)

	var resp struct {
		Items []struct {
			ID       int64  `json:"id"`
			Name     string `json:"name"`
			FullName string `json:"full_name"`
			Private  bool   `json:"private"`
			Updated  string `json:"updated_at"`
		} `json:"items"`
	}

	hasNext, err := c.doRESTWithRetry(ctx, http.MethodGet, reqURL, nil, &resp, service.ResourceSearch)
	if err != nil {
		return nil, false, err
	}

	repos := make([]service.Repository, 0, len(resp.Items))
	for _, it := range resp.Items {
		updated, _ := time.Parse(time.RFC3339, it.Updated)
		repos = append(repos, service.Repository{
			ExternalID: strconv.FormatInt(it.ID, 10),
			Name:       it.Name,
			FullName:   it.FullName,
			Private:    it.Private,
			Updated:    updated,
		})
	}
	return repos, hasNext, nil
}

// batchNamePatterns groups name patterns into the fewest "q=" search
// strings that each stay under maxURLLen once URL-escaped, falling back
// to an org-only query when no patterns are given.
func batchNamePatterns(namePatterns []string, org string, maxURLLen int) []string {
	orgClause := ""
	if org != "" {
		orgClause = "org:" + org
	}
	if len(namePatterns) == 0 {
		if orgClause == "" {
			return []string{"is:public"}
		}
		return []string{orgClause}
	}

	var batches []string
	var current strings.Builder
	for _, p := range namePatterns {
		term := fmt.Sprintf("%s in:name", p)
		candidate := term
		if current.Len() > 0 {
			candidate = current.String() + " " + term
		}
		full := candidate
		if orgClause != "" {
			full = orgClause + " " + candidate
		}
		if len(url.QueryEscape(full)) > maxURLLen && current.Len() > 0 {
			batches = append(batches, joinClause(orgClause, current.String()))
			current.Reset()
			current.WriteString(term)
			continue
		}
		current.Reset()
		current.WriteString(candidate)
	}
	if current.Len() > 0 {
		batches = append(batches, joinClause(orgClause, current.String()))
	}
	return batches
}

func joinClause(org, rest string) string {
	if org == "" {
		return rest
	}
	return org + " " + rest
}

// PullRequestsWithNestedEdges runs the nested-cursor GraphQL query for
// one repository, inlining the first page of each of the four nested
// edge kinds (spec §4.2 "up to four nested cursors").
func (c *Client) PullRequestsWithNestedEdges(ctx context.Context, req service.PullRequestPageRequest) (service.PullRequestPage, error) {
	query := `
query($owner: String!, $name: String!, $after: String) {
  repository(owner: $owner, name: $name) {
    pullRequests(first: 25, after: $after, orderBy: {field: UPDATED_AT, direction: ASC}) {
      pageInfo { hasNextPage endCursor }
      nodes {
        id number title body state updatedAt author { login }
        commits(first: 25) { pageInfo { hasNextPage endCursor } nodes { commit { oid message authoredDate author { name } } } }
        reviews(first: 25) { pageInfo { hasNextPage endCursor } nodes { id state submittedAt body author { login } } }
        comments(first: 25) { pageInfo { hasNextPage endCursor } nodes { id body createdAt author { login } } }
        reviewThreads(first: 25) { pageInfo { hasNextPage endCursor } nodes { id isResolved } }
      }
    }
  }
}`

	owner, name := splitRepoFullName(req.RepositoryExternalID)
	vars := map[string]any{"owner": owner, "name": name}
	if req.Cursor != "" {
		vars["after"] = req.Cursor
	}

	var raw graphQLPullRequestsResponse
	if err := c.doGraphQL(ctx, query, vars, &raw); err != nil {
		return service.PullRequestPage{}, err
	}

	prs := make([]service.PullRequest, 0, len(raw.Data.Repository.PullRequests.Nodes))
	for _, n := range raw.Data.Repository.PullRequests.Nodes {
		prs = append(prs, n.toDomain())
	}

	return service.PullRequestPage{
		PullRequests: prs,
		PageInfo: service.PageInfo{
			HasNextPage: raw.Data.Repository.PullRequests.PageInfo.HasNextPage,
			EndCursor:   raw.Data.Repository.PullRequests.PageInfo.EndCursor,
		},
	}, nil
}

// ContinueNestedEdge fetches one additional page of a single nested edge
// kind for one pull request. Per spec §4.2, nested pages are never
// fetched inline from PullRequestsWithNestedEdges; this is always a
// separate re-enqueued call.
func (c *Client) ContinueNestedEdge(ctx context.Context, req service.NestedEdgeRequest) (service.NestedEdgePage, error) {
	field, selection := nestedEdgeFieldAndSelection(req.Kind)
	owner, name := splitRepoFullName(req.RepositoryExternalID)

	query := fmt.Sprintf(`
query($owner: String!, $name: String!, $number: Int!, $after: String) {
  repository(owner: $owner, name: $name) {
    pullRequest(number: $number) {
      %s(first: 25, after: $after) {
        pageInfo { hasNextPage endCursor }
        nodes { %s }
      }
    }
  }
}`, field, selection)

	number, err := strconv.Atoi(req.PullRequestExternalID)
	if err != nil {
		return service.NestedEdgePage{}, fmt.Errorf("parse pull request number %q: %w", req.PullRequestExternalID, err)
	}

	vars := map[string]any{"owner": owner, "name": name, "number": number}
	if req.Cursor != "" {
		vars["after"] = req.Cursor
	}

	var envelope graphQLNestedEdgeEnvelope
	if err := c.doGraphQL(ctx, query, vars, &envelope); err != nil {
		return service.NestedEdgePage{}, err
	}

	raw, ok := envelope.Data.Repository.PullRequest[field]
	if !ok {
		return service.NestedEdgePage{}, fmt.Errorf("graphql response missing field %q", field)
	}
	var edge graphQLNestedEdgeField
	if err := json.Unmarshal(raw, &edge); err != nil {
		return service.NestedEdgePage{}, fmt.Errorf("parse nested edge field %q: %w", field, err)
	}

	page := service.NestedEdgePage{
		Kind: req.Kind,
		PageInfo: service.PageInfo{
			HasNextPage: edge.PageInfo.HasNextPage,
			EndCursor:   edge.PageInfo.EndCursor,
		},
	}
	switch req.Kind {
	case service.EdgeCommits:
		for _, n := range edge.Nodes {
			page.Commits = append(page.Commits, n.toCommit())
		}
	case service.EdgeReviews:
		for _, n := range edge.Nodes {
			page.Reviews = append(page.Reviews, n.toReview())
		}
	case service.EdgeComments:
		for _, n := range edge.Nodes {
			page.Comments = append(page.Comments, n.toComment())
		}
	case service.EdgeReviewThreads:
		for _, n := range edge.Nodes {
			page.ReviewThreads = append(page.ReviewThreads, n.toThread())
		}
	}
	return page, nil
}

func nestedEdgeFieldAndSelection(kind service.NestedEdgeKind) (field, selection string) {
	switch kind {
	case service.EdgeCommits:
		return "commits", "commit { oid message authoredDate author { name } }"
	case service.EdgeReviews:
		return "reviews", "id state submittedAt body author { login }"
	case service.EdgeComments:
		return "comments", "id body createdAt author { login }"
	case service.EdgeReviewThreads:
		return "reviewThreads", "id isResolved"
	default:
		return "commits", "commit { oid message authoredDate author { name } }"
	}
}

func (c *Client) RateLimitSnapshot(resource service.RateLimitResource) service.RateLimitSnapshot {
	return c.limiters.snapshot(resource)
}

// doRESTWithRetry performs one REST call with bounded exponential
// back-off for transient errors (spec §7 KindTransient), returning
// whether a next page is available per the Link response header. A 403
// with an exhausted rate-limit budget is surfaced as *service.RateLimitError
// without retrying, since a fresh checkpoint is the correct response.
func (c *Client) doRESTWithRetry(ctx context.Context, method, reqURL string, body []byte, out any, resource service.RateLimitResource) (hasNext bool, err error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)

	op := func() error {
		if waitErr := c.limiters.limiterFor(resource).Wait(ctx); waitErr != nil {
			return backoff.Permanent(waitErr)
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		httpReq, reqErr := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if reqErr != nil {
			return backoff.Permanent(reqErr)
		}
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
		httpReq.Header.Set("Accept", "application/vnd.github+json")

		resp, doErr := c.httpClient.Do(httpReq)
		if doErr != nil {
			return doErr
		}
		defer resp.Body.Close()

		snap := parseRateLimitHeaders(resp.Header, resource)
		c.limiters.record(resource, snap)

		if resp.StatusCode == http.StatusForbidden && snap.Remaining == 0 {
			return backoff.Permanent(&service.RateLimitError{Snapshot: snap})
		}
		if resp.StatusCode >= 500 {
			return fmt.Errorf("repo host returned status %d", resp.StatusCode)
		}

		respBody, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 300 {
			return backoff.Permanent(fmt.Errorf("repo host returned status %d: %s", resp.StatusCode, string(respBody)))
		}

		hasNext = strings.Contains(resp.Header.Get("Link"), `rel="next"`)

		if out != nil && len(respBody) > 0 {
			if jsonErr := json.Unmarshal(respBody, out); jsonErr != nil {
				return backoff.Permanent(fmt.Errorf("parse response: %w", jsonErr))
			}
		}
		return nil
	}

	if retryErr := backoff.Retry(op, policy); retryErr != nil {
		return false, retryErr
	}
	return hasNext, nil
}

func (c *Client) doGraphQL(ctx context.Context, query string, vars map[string]any, out any) error {
	if err := c.limiters.limiterFor(service.ResourceGraphQL).Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	payload, err := json.Marshal(map[string]any{"query": query, "variables": vars})
	if err != nil {
		return fmt.Errorf("marshal graphql request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphQLURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build graphql request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call graphql endpoint: %w", err)
	}
	defer resp.Body.Close()

	snap := parseRateLimitHeaders(resp.Header, service.ResourceGraphQL)
	c.limiters.record(service.ResourceGraphQL, snap)

	if resp.StatusCode == http.StatusForbidden && snap.Remaining == 0 {
		return &service.RateLimitError{Snapshot: snap}
	}

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("graphql endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var envelope struct {
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &envelope); err == nil && len(envelope.Errors) > 0 {
		return fmt.Errorf("graphql errors: %s", envelope.Errors[0].Message)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse graphql response: %w", err)
	}
	return nil
}

func parseRateLimitHeaders(h http.Header, resource service.RateLimitResource) service.RateLimitSnapshot {
	limit, _ := strconv.Atoi(h.Get("X-RateLimit-Limit"))
	remaining, _ := strconv.Atoi(h.Get("X-RateLimit-Remaining"))
	resetUnix, _ := strconv.ParseInt(h.Get("X-RateLimit-Reset"), 10, 64)

	var resetAt time.Time
	if resetUnix > 0 {
		resetAt = time.Unix(resetUnix, 0)
	}

	return service.RateLimitSnapshot{
		Resource:  resource,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   resetAt,
	}
}

func splitRepoFullName(fullName string) (owner, name string) {
	parts := strings.SplitN(fullName, "/", 2)
	if len(parts) != 2 {
		return "", fullName
	}
	return parts[0], parts[1]
}
