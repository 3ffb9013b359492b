package repohost

import (
	"encoding/json"
	"time"

	"github.com/sogos/etlcore/internal/domain/service"
)

type graphQLPageInfo struct {
	HasNextPage bool   `json:"hasNextPage"`
	EndCursor   string `json:"endCursor"`
}

type graphQLAuthor struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

type graphQLCommitNode struct {
	Commit struct {
		OID          string        `json:"oid"`
		Message      string        `json:"message"`
		AuthoredDate string        `json:"authoredDate"`
		Author       graphQLAuthor `json:"author"`
	} `json:"commit"`
}

func (n graphQLCommitNode) toCommit() service.Commit {
	authored, _ := time.Parse(time.RFC3339, n.Commit.AuthoredDate)
	return service.Commit{
		ExternalID: n.Commit.OID,
		SHA:        n.Commit.OID,
		Author:     n.Commit.Author.Name,
		Message:    n.Commit.Message,
		Authored:   authored,
	}
}

type graphQLReviewNode struct {
	ID          string        `json:"id"`
	State       string        `json:"state"`
	SubmittedAt string        `json:"submittedAt"`
	Body        string        `json:"body"`
	Author      graphQLAuthor `json:"author"`
}

func (n graphQLReviewNode) toReview() service.Review {
	submitted, _ := time.Parse(time.RFC3339, n.SubmittedAt)
	return service.Review{
		ExternalID: n.ID,
		Author:     n.Author.Login,
		State:      n.State,
		Submitted:  submitted,
		Body:       n.Body,
	}
}

type graphQLCommentNode struct {
	ID        string        `json:"id"`
	Body      string        `json:"body"`
	CreatedAt string        `json:"createdAt"`
	Author    graphQLAuthor `json:"author"`
}

func (n graphQLCommentNode) toComment() service.ReviewComment {
	created, _ := time.Parse(time.RFC3339, n.CreatedAt)
	return service.ReviewComment{
		ExternalID: n.ID,
		Author:     n.Author.Login,
		Body:       n.Body,
		Created:    created,
	}
}

type graphQLThreadNode struct {
	ID         string `json:"id"`
	IsResolved bool   `json:"isResolved"`
}

func (n graphQLThreadNode) toThread() service.ReviewThread {
	return service.ReviewThread{ExternalID: n.ID, Resolved: n.IsResolved}
}

type graphQLPullRequestNode struct {
	ID        string        `json:"id"`
	Number    int           `json:"number"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	State     string        `json:"state"`
	UpdatedAt string        `json:"updatedAt"`
	Author    graphQLAuthor `json:"author"`

	Commits struct {
		PageInfo graphQLPageInfo     `json:"pageInfo"`
		Nodes    []graphQLCommitNode `json:"nodes"`
	} `json:"commits"`
	Reviews struct {
		PageInfo graphQLPageInfo     `json:"pageInfo"`
		Nodes    []graphQLReviewNode `json:"nodes"`
	} `json:"reviews"`
	Comments struct {
		PageInfo graphQLPageInfo      `json:"pageInfo"`
		Nodes    []graphQLCommentNode `json:"nodes"`
	} `json:"comments"`
	ReviewThreads struct {
		PageInfo graphQLPageInfo     `json:"pageInfo"`
		Nodes    []graphQLThreadNode `json:"nodes"`
	} `json:"reviewThreads"`
}

func (n graphQLPullRequestNode) toDomain() service.PullRequest {
	updated, _ := time.Parse(time.RFC3339, n.UpdatedAt)

	pr := service.PullRequest{
		ExternalID: n.ID,
		Number:     n.Number,
		Title:      n.Title,
		Body:       n.Body,
		Author:     n.Author.Login,
		State:      n.State,
		Updated:    updated,
		CommitsPage: service.PageInfo{
			HasNextPage: n.Commits.PageInfo.HasNextPage,
			EndCursor:   n.Commits.PageInfo.EndCursor,
		},
		ReviewsPage: service.PageInfo{
			HasNextPage: n.Reviews.PageInfo.HasNextPage,
			EndCursor:   n.Reviews.PageInfo.EndCursor,
		},
		CommentsPage: service.PageInfo{
			HasNextPage: n.Comments.PageInfo.HasNextPage,
			EndCursor:   n.Comments.PageInfo.EndCursor,
		},
		ReviewThreadsPage: service.PageInfo{
			HasNextPage: n.ReviewThreads.PageInfo.HasNextPage,
			EndCursor:   n.ReviewThreads.PageInfo.EndCursor,
		},
	}
	for _, c := range n.Commits.Nodes {
		pr.Commits = append(pr.Commits, c.toCommit())
	}
	for _, r := range n.Reviews.Nodes {
		pr.Reviews = append(pr.Reviews, r.toReview())
	}
	for _, c := range n.Comments.Nodes {
		pr.Comments = append(pr.Comments, c.toComment())
	}
	for _, t := range n.ReviewThreads.Nodes {
		pr.ReviewThreads = append(pr.ReviewThreads, t.toThread())
	}
	return pr
}

type graphQLPullRequestsResponse struct {
	Data struct {
		Repository struct {
			PullRequests struct {
				PageInfo graphQLPageInfo          `json:"pageInfo"`
				Nodes    []graphQLPullRequestNode `json:"nodes"`
			} `json:"pullRequests"`
		} `json:"repository"`
	} `json:"data"`
}

// graphQLNestedEdgeEnvelope decodes the outer shape of a nested-edge
// query without committing to a field name, since the selected field
// (commits/reviews/comments/reviewThreads) varies with req.Kind; the
// caller re-decodes the matching raw field into graphQLNestedEdgeField.
type graphQLNestedEdgeEnvelope struct {
	Data struct {
		Repository struct {
			PullRequest map[string]json.RawMessage `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
}

type graphQLNestedEdgeField struct {
	PageInfo graphQLPageInfo  `json:"pageInfo"`
	Nodes    []nestedEdgeNode `json:"nodes"`
}

// nestedEdgeNode is a superset decode target covering all four nested
// edge node shapes at once (fields named explicitly, not embedded, so
// encoding/json does not drop colliding promoted field names like "id"
// and "body"); ContinueNestedEdge only reads the fields relevant to
// req.Kind.
type nestedEdgeNode struct {
	ID         string        `json:"id"`
	Body       string        `json:"body"`
	CreatedAt  string        `json:"createdAt"`
	Author     graphQLAuthor `json:"author"`
	State      string        `json:"state"`
	SubmittedAt string       `json:"submittedAt"`
	IsResolved bool          `json:"isResolved"`
	Commit     struct {
		OID          string        `json:"oid"`
		Message      string        `json:"message"`
		AuthoredDate string        `json:"authoredDate"`
		Author       graphQLAuthor `json:"author"`
	} `json:"commit"`
}

func (n nestedEdgeNode) toCommit() service.Commit {
	authored, _ := time.Parse(time.RFC3339, n.Commit.AuthoredDate)
	return service.Commit{
		ExternalID: n.Commit.OID,
		SHA:        n.Commit.OID,
		Author:     n.Commit.Author.Name,
		Message:    n.Commit.Message,
		Authored:   authored,
	}
}

func (n nestedEdgeNode) toReview() service.Review {
	submitted, _ := time.Parse(time.RFC3339, n.SubmittedAt)
	return service.Review{
		ExternalID: n.ID,
		Author:     n.Author.Login,
		State:      n.State,
		Submitted:  submitted,
		Body:       n.Body,
	}
}

func (n nestedEdgeNode) toComment() service.ReviewComment {
	created, _ := time.Parse(time.RFC3339, n.CreatedAt)
	return service.ReviewComment{
		ExternalID: n.ID,
		Author:     n.Author.Login,
		Body:       n.Body,
		Created:    created,
	}
}

func (n nestedEdgeNode) toThread() service.ReviewThread {
	return service.ReviewThread{ExternalID: n.ID, Resolved: n.IsResolved}
}
