// Package issuetracker implements service.IssueTrackerClient against a
// Jira-shaped REST API, following the request-building and
// status-code-branching idiom of the teacher's kratos.Client (build a
// payload map, json.Marshal, http.NewRequestWithContext, set headers,
// Do, branch on status code).
package issuetracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sogos/etlcore/internal/domain/service"
)

// Client implements service.IssueTrackerClient using Jira Cloud's REST
// API (search, changelog expansion, development-status side-endpoint).
type Client struct {
	httpClient *http.Client
	baseURL    string
	email      string
	apiToken   string

	mu        sync.Mutex
	snapshots map[service.RateLimitResource]service.RateLimitSnapshot
}

func NewClient(httpClient *http.Client, baseURL, email, apiToken string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		email:      email,
		apiToken:   apiToken,
		snapshots:  map[service.RateLimitResource]service.RateLimitSnapshot{},
	}
}

var _ service.IssueTrackerClient = (*Client)(nil)

func (c *Client) SearchProjects(ctx context.Context, keyFilter []string) ([]service.Project, error) {
	url := fmt.Sprintf("%s/rest/api/3/project/search", c.baseURL)
	if len(keyFilter) > 0 {
		url += "?keys=" + joinComma(keyFilter)
	}

	var page struct {
		Values []struct {
			Key  string `json:"key"`
			Name string `json:"name"`
		} `json:"values"`
	}
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &page); err != nil {
		return nil, fmt.Errorf("search projects: %w", err)
	}

	projects := make([]service.Project, 0, len(page.Values))
	for _, v := range page.Values {
		projects = append(projects, service.Project{Key: v.Key, Name: v.Name})
	}
	return projects, nil
}

func (c *Client) ListIssueTypes(ctx context.Context, projectKey string) ([]service.IssueType, error) {
	url := fmt.Sprintf("%s/rest/api/3/issuetype/project?projectId=%s", c.baseURL, projectKey)

	var types []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &types); err != nil {
		return nil, fmt.Errorf("list issue types: %w", err)
	}

	out := make([]service.IssueType, 0, len(types))
	for _, t := range types {
		out = append(out, service.IssueType{ID: t.ID, Name: t.Name})
	}
	return out, nil
}

func (c *Client) ListStatuses(ctx context.Context, projectKey string) ([]service.IssueStatus, error) {
	url := fmt.Sprintf("%s/rest/api/3/project/%s/statuses", c.baseURL, projectKey)

	var groups []struct {
		Statuses []struct {
			ID             string `json:"id"`
			Name           string `json:"name"`
			StatusCategory struct {
				Key string `json:"key"`
			} `json:"statusCategory"`
		} `json:"statuses"`
	}
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &groups); err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}

	var out []service.IssueStatus
	seen := map[string]bool{}
	for _, g := range groups {
		for _, s := range g.Statuses {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, service.IssueStatus{ID: s.ID, Name: s.Name, Category: s.StatusCategory.Key})
		}
	}
	return out, nil
}

// SearchIssues runs a JQL query scoped to the project and incremental
// window, expanding the changelog so WorkItemChange rows can be derived
// without a second round trip per issue.
func (c *Client) SearchIssues(ctx context.Context, req service.IssueSearchRequest) (service.IssueSearchPage, error) {
	jql := fmt.Sprintf("project = %s", req.ProjectKey)
	if req.OldLastSyncDate != nil {
		jql += fmt.Sprintf(` AND updated >= "%s"`, req.OldLastSyncDate.Format("2006/01/02 15:04"))
	}
	jql += fmt.Sprintf(` AND updated <= "%s" ORDER BY updated ASC`, req.ExtractionEndAt.Format("2006/01/02 15:04"))

	payload := map[string]any{
		"jql":        jql,
		"startAt":    req.StartAt,
		"maxResults": req.PageSize,
		"expand":     []string{"changelog"},
		"fields":     []string{"summary", "description", "issuetype", "status", "updated"},
	}

	var resp struct {
		StartAt    int `json:"startAt"`
		MaxResults int `json:"maxResults"`
		Total      int `json:"total"`
		Issues     []struct {
			ID     string `json:"id"`
			Key    string `json:"key"`
			Fields struct {
				Summary     string `json:"summary"`
				Description string `json:"description"`
				IssueType   struct {
					Name string `json:"name"`
				} `json:"issuetype"`
				Status struct {
					Name string `json:"name"`
				} `json:"status"`
				Updated string `json:"updated"`
			} `json:"fields"`
			Changelog struct {
				Histories []struct {
					ID      string `json:"id"`
					Author  struct{ DisplayName string `json:"displayName"` } `json:"author"`
					Created string `json:"created"`
					Items   []struct {
						Field      string `json:"field"`
						FromString string `json:"fromString"`
						ToString   string `json:"toString"`
					} `json:"items"`
				} `json:"histories"`
			} `json:"changelog"`
		} `json:"issues"`
	}

	url := fmt.Sprintf("%s/rest/api/3/search", c.baseURL)
	if err := c.doJSON(ctx, http.MethodPost, url, payload, &resp); err != nil {
		return service.IssueSearchPage{}, fmt.Errorf("search issues: %w", err)
	}

	issues := make([]service.Issue, 0, len(resp.Issues))
	for _, raw := range resp.Issues {
		updated, _ := time.Parse("2006-01-02T15:04:05.000-0700", raw.Fields.Updated)

		var changes []service.ChangelogEntry
		for _, h := range raw.Changelog.Histories {
			created, _ := time.Parse("2006-01-02T15:04:05.000-0700", h.Created)
			for _, item := range h.Items {
				changes = append(changes, service.ChangelogEntry{
					ExternalID: h.ID,
					Author:     h.Author.DisplayName,
					Created:    created,
					Field:      item.Field,
					FromValue:  item.FromString,
					ToValue:    item.ToString,
				})
			}
		}

		issues = append(issues, service.Issue{
			ExternalID:  raw.ID,
			Key:         raw.Key,
			Summary:     raw.Fields.Summary,
			Description: raw.Fields.Description,
			IssueType:   raw.Fields.IssueType.Name,
			Status:      raw.Fields.Status.Name,
			Updated:     updated,
			Changelog:   changes,
		})
	}

	nextStart := resp.StartAt + len(resp.Issues)
	return service.IssueSearchPage{
		Issues:    issues,
		NextStart: nextStart,
		HasMore:   nextStart < resp.Total,
	}, nil
}

func (c *Client) DevelopmentStatus(ctx context.Context, issueID string) (service.DevelopmentStatus, error) {
	url := fmt.Sprintf("%s/rest/dev-status/1.0/issue/detail?issueId=%s&applicationType=GitHub&dataType=pullrequest", c.baseURL, issueID)

	var resp struct {
		Detail []struct {
			PullRequests []struct {
				ID string `json:"id"`
			} `json:"pullRequests"`
			Repositories []struct {
				Commits []struct {
					ID string `json:"id"`
				} `json:"commits"`
			} `json:"repositories"`
		} `json:"detail"`
	}
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &resp); err != nil {
		return service.DevelopmentStatus{}, fmt.Errorf("development status: %w", err)
	}

	out := service.DevelopmentStatus{IssueExternalID: issueID}
	for _, d := range resp.Detail {
		for _, pr := range d.PullRequests {
			out.PullRequestIDs = append(out.PullRequestIDs, pr.ID)
		}
		for _, repo := range d.Repositories {
			for _, commit := range repo.Commits {
				out.CommitIDs = append(out.CommitIDs, commit.ID)
			}
		}
	}
	return out, nil
}

func (c *Client) RateLimitSnapshot(resource service.RateLimitResource) service.RateLimitSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshots[resource]
}

func (c *Client) doJSON(ctx context.Context, method, url string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.SetBasicAuth(c.email, c.apiToken)
	httpReq.Header.Set("Accept", "application/json")
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("call issue tracker: %w", err)
	}
	defer resp.Body.Close()

	c.recordRateLimit(resp.Header)

	if resp.StatusCode == http.StatusTooManyRequests {
		return &service.RateLimitError{Snapshot: c.RateLimitSnapshot(service.ResourceCore)}
	}

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("issue tracker returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}

// recordRateLimit reads Jira's X-RateLimit-* response headers, when
// present, into the client's last-known snapshot (spec §4.2 rate-limit
// budgeting for the tracker side of extraction).
func (c *Client) recordRateLimit(h http.Header) {
	remaining := h.Get("X-RateLimit-Remaining")
	limit := h.Get("X-RateLimit-Limit")
	if remaining == "" || limit == "" {
		return
	}

	remInt, err1 := strconv.Atoi(remaining)
	limInt, err2 := strconv.Atoi(limit)
	if err1 != nil || err2 != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[service.ResourceCore] = service.RateLimitSnapshot{
		Resource:  service.ResourceCore,
		Limit:     limInt,
		Remaining: remInt,
	}
}

func joinComma(vals []string) string {
	out := ""
	for i, v := range vals {
		if i > 0 {
			out += ","
		}
		out += v
	}
	return out
}
