package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/queue"
	"github.com/sogos/etlcore/internal/domain/repository"
	"github.com/sogos/etlcore/internal/domain/service"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// normalizedRow pairs one upserted row's id with its raw kind, so a
// single raw record that fans out into several normalized rows (a pull
// request upserted together with its inline commits/reviews/comments,
// spec §4.3) still publishes one correctly-kinded embed message per
// row instead of mislabeling every row with the parent's kind.
type normalizedRow struct {
	Kind string
	ID   uuid.UUID
}

// TransformService parses one raw-extraction record, upserts the
// normalized rows it represents, marks the raw record completed, and
// publishes one embed message per upserted row; the inherited
// LastItem/LastJobItem flags ride on the last of those messages, or on a
// single completion embed message when no row was upserted (spec §4.3,
// §4.4). Each row is upserted by its own repository call, so a parent
// and its inline nested children do not share one transaction: a failure
// part-way through leaves the rows upserted before it in place.
type TransformService struct {
	rawRecords            repository.RawRecordRepository
	projects              repository.ProjectRepository
	workItems             repository.WorkItemRepository
	workItemChanges       repository.WorkItemChangeRepository
	repositories          repository.RepositoryRepository
	pullRequests          repository.PullRequestRepository
	commits               repository.CommitRepository
	reviews               repository.ReviewRepository
	reviewComments        repository.ReviewCommentRepository
	reviewThreads         repository.ReviewThreadRepository
	workItemPRLinks       repository.WorkItemPullRequestLinkRepository
	broker                service.Broker
	blobs                 blobGetter
	logger                service.Logger
}

type blobGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

func NewTransformService(
	rawRecords repository.RawRecordRepository,
	projects repository.ProjectRepository,
	workItems repository.WorkItemRepository,
	workItemChanges repository.WorkItemChangeRepository,
	repositories repository.RepositoryRepository,
	pullRequests repository.PullRequestRepository,
	commits repository.CommitRepository,
	reviews repository.ReviewRepository,
	reviewComments repository.ReviewCommentRepository,
	reviewThreads repository.ReviewThreadRepository,
	workItemPRLinks repository.WorkItemPullRequestLinkRepository,
	broker service.Broker,
	blobs blobGetter,
	logger service.Logger,
) *TransformService {
	return &TransformService{
		rawRecords:      rawRecords,
		projects:        projects,
		workItems:       workItems,
		workItemChanges: workItemChanges,
		repositories:    repositories,
		pullRequests:    pullRequests,
		commits:         commits,
		reviews:         reviews,
		reviewComments:  reviewComments,
		reviewThreads:   reviewThreads,
		workItemPRLinks: workItemPRLinks,
		broker:          broker,
		blobs:           blobs,
		logger:          logger,
	}
}

// HandleTransform processes one transform message. A completion message
// (RawRecordID == nil) carries no row: it is forwarded straight to the
// embed stage as a single completion embed message (spec §4.4 "Transform
// -> Embed").
func (s *TransformService) HandleTransform(ctx context.Context, msg queue.TransformMessage) error {
	if msg.IsCompletionMessage() {
		emsg := queue.EmbedMessage{Envelope: queue.Envelope{
			TenantID: msg.TenantID, IntegrationID: msg.IntegrationID, JobID: msg.JobID,
			StepName: msg.StepName, Flags: msg.Flags,
		}}
		return s.broker.PublishEmbed(ctx, emsg)
	}

	rec, err := s.rawRecords.Get(ctx, msg.TenantID, *msg.RawRecordID)
	if err != nil {
		return fmt.Errorf("load raw record: %w", err)
	}
	if rec == nil {
		return fmt.Errorf("transform: raw record %s not found", *msg.RawRecordID)
	}

	payload := rec.Payload
	if !rec.HasInlinePayload() {
		payload, err = s.blobs.Get(ctx, rec.BlobRef)
		if err != nil {
			return fmt.Errorf("fetch overflow payload: %w", err)
		}
	}

	rows, err := s.upsertRow(ctx, msg.IntegrationID, rec, payload)
	if err != nil {
		errMsg := err.Error()
		_ = s.rawRecords.MarkStatus(ctx, msg.TenantID, rec.ID, valueobject.RawRecordStatusFailed, &errMsg)
		return fmt.Errorf("upsert normalized row: %w", err)
	}

	if err := s.rawRecords.MarkStatus(ctx, msg.TenantID, rec.ID, valueobject.RawRecordStatusCompleted, nil); err != nil {
		return fmt.Errorf("mark raw record completed: %w", err)
	}

	// Exactly one embed message per upserted row; only the K-th carries
	// the inherited terminal flags (spec §4.4 "Transform -> Embed").
	// rows may span several kinds when one raw record held a parent and
	// its inline nested children. When no row was upserted, a single
	// completion message carries the inherited terminal flags instead.
	if len(rows) == 0 {
		if !msg.Flags.LastItem && !msg.Flags.LastJobItem {
			return nil
		}
		emsg := queue.EmbedMessage{Envelope: queue.Envelope{
			TenantID: msg.TenantID, IntegrationID: msg.IntegrationID, JobID: msg.JobID,
			StepName: msg.StepName, Flags: queue.ControlFlags{LastItem: msg.Flags.LastItem, LastJobItem: msg.Flags.LastJobItem},
		}}
		return s.broker.PublishEmbed(ctx, emsg)
	}
	seq := queue.NewSequencer(len(rows), false, msg.Flags.LastItem, msg.Flags.LastJobItem)
	for i, row := range rows {
		flags := seq.Flags(i, true)
		id := row.ID
		emsg := queue.EmbedMessage{
			Envelope: queue.Envelope{
				TenantID: msg.TenantID, IntegrationID: msg.IntegrationID, JobID: msg.JobID,
				StepName: msg.StepName, Flags: flags,
			},
			SourceKind: row.Kind,
			SourceID:   &id,
		}
		if err := s.broker.PublishEmbed(ctx, emsg); err != nil {
			return fmt.Errorf("publish embed message: %w", err)
		}
	}

	return nil
}

// upsertRow dispatches on the raw record's Kind, unmarshals the
// provider-shaped payload, resolves any parent foreign key by looking up
// the already-upserted parent row via its external id, and upserts into
// the matching normalized table. Every case follows the same
// unmarshal-resolve-upsert shape; only the parent lookup and target
// repository differ.
func (s *TransformService) upsertRow(ctx context.Context, integrationID uuid.UUID, rec *entity.RawExtractionRecord, payload []byte) ([]normalizedRow, error) {
	switch rec.Kind {
	case RawKindRepository:
		var p service.Repository
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal repository payload: %w", err)
		}
		repo := entity.Repository{
			TenantID: rec.TenantID, IntegrationID: integrationID,
			ExternalID: p.ExternalID, Name: p.Name, FullName: p.FullName, Private: p.Private,
			ExternalUpdatedAt: p.Updated,
		}
		if err := s.repositories.Upsert(ctx, &repo); err != nil {
			return nil, fmt.Errorf("upsert repository: %w", err)
		}
		return []normalizedRow{{RawKindRepository, repo.ID}}, nil

	case RawKindPullRequest:
		var p pullRequestPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal pull request payload: %w", err)
		}
		repo, err := s.repositories.GetByExternalID(ctx, rec.TenantID, p.RepositoryExternalID)
		if err != nil {
			return nil, fmt.Errorf("resolve repository %s: %w", p.RepositoryExternalID, err)
		}
		if repo == nil {
			return nil, fmt.Errorf("transform: repository %s not yet upserted", p.RepositoryExternalID)
		}

		metrics := derivePullRequestMetrics(p.Commits, p.Reviews)
		pr := entity.PullRequest{
			TenantID: rec.TenantID, RepositoryID: repo.ID,
			ExternalID: p.ExternalID, Number: p.Number, Title: p.Title, Body: p.Body,
			Author: p.Author, State: p.State, ExternalUpdatedAt: p.Updated,
			CommitCount: metrics.CommitCount, AuthorSet: metrics.NewAuthors,
			FirstReviewAt: metrics.FirstReviewAt, ReworkCommitCount: metrics.ReworkCommitCount,
			ReviewCycles: metrics.ReviewCycles,
		}
		if err := s.pullRequests.Upsert(ctx, &pr); err != nil {
			return nil, fmt.Errorf("upsert pull request: %w", err)
		}

		rows := []normalizedRow{{RawKindPullRequest, pr.ID}}
		for _, c := range p.Commits {
			commit := entity.Commit{TenantID: rec.TenantID, PullRequestID: pr.ID, ExternalID: c.ExternalID, SHA: c.SHA, Author: c.Author, Message: c.Message, AuthoredAt: c.Authored}
			if err := s.commits.Upsert(ctx, &commit); err != nil {
				return nil, fmt.Errorf("upsert inline commit %s: %w", c.ExternalID, err)
			}
			rows = append(rows, normalizedRow{RawKindCommit, commit.ID})
		}
		for _, r := range p.Reviews {
			review := entity.Review{TenantID: rec.TenantID, PullRequestID: pr.ID, ExternalID: r.ExternalID, Author: r.Author, State: r.State, Body: r.Body, SubmittedAt: r.Submitted}
			if err := s.reviews.Upsert(ctx, &review); err != nil {
				return nil, fmt.Errorf("upsert inline review %s: %w", r.ExternalID, err)
			}
			rows = append(rows, normalizedRow{RawKindReview, review.ID})
		}
		for _, c := range p.Comments {
			comment := entity.ReviewComment{TenantID: rec.TenantID, PullRequestID: pr.ID, ExternalID: c.ExternalID, Author: c.Author, Body: c.Body, ExternalCreatedAt: c.Created}
			if err := s.reviewComments.Upsert(ctx, &comment); err != nil {
				return nil, fmt.Errorf("upsert inline review comment %s: %w", c.ExternalID, err)
			}
			rows = append(rows, normalizedRow{RawKindReviewComment, comment.ID})
		}
		for _, t := range p.ReviewThreads {
			thread := entity.ReviewThread{TenantID: rec.TenantID, PullRequestID: pr.ID, ExternalID: t.ExternalID, Resolved: t.Resolved}
			if err := s.reviewThreads.Upsert(ctx, &thread); err != nil {
				return nil, fmt.Errorf("upsert inline review thread %s: %w", t.ExternalID, err)
			}
			rows = append(rows, normalizedRow{RawKindReviewThread, thread.ID})
		}
		return rows, nil

	case RawKindCommit:
		var p commitPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal commit payload: %w", err)
		}
		pr, err := s.pullRequests.GetByExternalID(ctx, rec.TenantID, p.PullRequestExternalID)
		if err != nil {
			return nil, fmt.Errorf("resolve pull request %s: %w", p.PullRequestExternalID, err)
		}
		if pr == nil {
			return nil, fmt.Errorf("transform: pull request %s not yet upserted", p.PullRequestExternalID)
		}
		c := entity.Commit{
			TenantID: rec.TenantID, PullRequestID: pr.ID,
			ExternalID: p.ExternalID, SHA: p.SHA, Author: p.Author, Message: p.Message, AuthoredAt: p.Authored,
		}
		if err := s.commits.Upsert(ctx, &c); err != nil {
			return nil, fmt.Errorf("upsert commit: %w", err)
		}

		// A continuation page's commits keep the pull request's metrics
		// eventually consistent (spec §4.3) without re-reading every
		// previously-seen commit.
		delta := entity.PullRequestMetricsDelta{CommitCount: 1, NewAuthors: []string{c.Author}}
		if pr.FirstReviewAt != nil && c.AuthoredAt.After(*pr.FirstReviewAt) {
			delta.ReworkCommitCount = 1
		}
		if err := s.pullRequests.BumpMetrics(ctx, rec.TenantID, pr.ID, delta); err != nil {
			return nil, fmt.Errorf("bump pull request metrics from commit: %w", err)
		}
		return []normalizedRow{{RawKindCommit, c.ID}}, nil

	case RawKindReview:
		var p reviewPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal review payload: %w", err)
		}
		pr, err := s.pullRequests.GetByExternalID(ctx, rec.TenantID, p.PullRequestExternalID)
		if err != nil {
			return nil, fmt.Errorf("resolve pull request %s: %w", p.PullRequestExternalID, err)
		}
		if pr == nil {
			return nil, fmt.Errorf("transform: pull request %s not yet upserted", p.PullRequestExternalID)
		}
		r := entity.Review{
			TenantID: rec.TenantID, PullRequestID: pr.ID,
			ExternalID: p.ExternalID, Author: p.Author, State: p.State, Body: p.Body, SubmittedAt: p.Submitted,
		}
		if err := s.reviews.Upsert(ctx, &r); err != nil {
			return nil, fmt.Errorf("upsert review: %w", err)
		}

		delta := entity.PullRequestMetricsDelta{FirstReviewAt: &p.Submitted, ReviewCycles: 1}
		if err := s.pullRequests.BumpMetrics(ctx, rec.TenantID, pr.ID, delta); err != nil {
			return nil, fmt.Errorf("bump pull request metrics from review: %w", err)
		}
		return []normalizedRow{{RawKindReview, r.ID}}, nil

	case RawKindReviewComment:
		var p reviewCommentPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal review comment payload: %w", err)
		}
		pr, err := s.pullRequests.GetByExternalID(ctx, rec.TenantID, p.PullRequestExternalID)
		if err != nil {
			return nil, fmt.Errorf("resolve pull request %s: %w", p.PullRequestExternalID, err)
		}
		if pr == nil {
			return nil, fmt.Errorf("transform: pull request %s not yet upserted", p.PullRequestExternalID)
		}
		c := entity.ReviewComment{
			TenantID: rec.TenantID, PullRequestID: pr.ID,
			ExternalID: p.ExternalID, Author: p.Author, Body: p.Body, ExternalCreatedAt: p.Created,
		}
		if err := s.reviewComments.Upsert(ctx, &c); err != nil {
			return nil, fmt.Errorf("upsert review comment: %w", err)
		}
		return []normalizedRow{{RawKindReviewComment, c.ID}}, nil

	case RawKindReviewThread:
		var p reviewThreadPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal review thread payload: %w", err)
		}
		pr, err := s.pullRequests.GetByExternalID(ctx, rec.TenantID, p.PullRequestExternalID)
		if err != nil {
			return nil, fmt.Errorf("resolve pull request %s: %w", p.PullRequestExternalID, err)
		}
		if pr == nil {
			return nil, fmt.Errorf("transform: pull request %s not yet upserted", p.PullRequestExternalID)
		}
		t := entity.ReviewThread{
			TenantID: rec.TenantID, PullRequestID: pr.ID,
			ExternalID: p.ExternalID, Resolved: p.Resolved,
		}
		if err := s.reviewThreads.Upsert(ctx, &t); err != nil {
			return nil, fmt.Errorf("upsert review thread: %w", err)
		}
		return []normalizedRow{{RawKindReviewThread, t.ID}}, nil

	case RawKindProject:
		var p service.Project
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal project payload: %w", err)
		}
		proj := entity.NormalizedProject{
			TenantID: rec.TenantID, IntegrationID: integrationID,
			ExternalID: rec.ExternalID, Key: p.Key, Name: p.Name,
		}
		if err := s.projects.Upsert(ctx, &proj); err != nil {
			return nil, fmt.Errorf("upsert project: %w", err)
		}
		return []normalizedRow{{RawKindProject, proj.ID}}, nil

	case RawKindWorkItem:
		var p workItemPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal work item payload: %w", err)
		}
		proj, err := s.projects.GetByExternalID(ctx, rec.TenantID, p.ProjectExternalID)
		if err != nil {
			return nil, fmt.Errorf("resolve project %s: %w", p.ProjectExternalID, err)
		}
		if proj == nil {
			return nil, fmt.Errorf("transform: project %s not yet upserted", p.ProjectExternalID)
		}
		w := entity.WorkItem{
			TenantID: rec.TenantID, ProjectID: proj.ID,
			ExternalID: p.ExternalID, Key: p.Key, Summary: p.Summary, Description: p.Description,
			IssueType: p.IssueType, Status: p.Status, ExternalUpdatedAt: p.Updated,
		}
		if err := s.workItems.Upsert(ctx, &w); err != nil {
			return nil, fmt.Errorf("upsert work item: %w", err)
		}
		return []normalizedRow{{RawKindWorkItem, w.ID}}, nil

	case RawKindWorkItemChange:
		var p workItemChangePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal work item change payload: %w", err)
		}
		w, err := s.workItems.GetByExternalID(ctx, rec.TenantID, p.WorkItemExternalID)
		if err != nil {
			return nil, fmt.Errorf("resolve work item %s: %w", p.WorkItemExternalID, err)
		}
		if w == nil {
			return nil, fmt.Errorf("transform: work item %s not yet upserted", p.WorkItemExternalID)
		}
		c := entity.WorkItemChange{
			TenantID: rec.TenantID, WorkItemID: w.ID,
			ExternalID: p.ExternalID, Author: p.Author, Field: p.Field,
			FromValue: p.FromValue, ToValue: p.ToValue, ExternalCreatedAt: p.Created,
		}
		if err := s.workItemChanges.Upsert(ctx, &c); err != nil {
			return nil, fmt.Errorf("upsert work item change: %w", err)
		}
		return []normalizedRow{{RawKindWorkItemChange, c.ID}}, nil

	case RawKindWorkItemPullRequestLink:
		var p workItemPullRequestLinkPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return nil, fmt.Errorf("unmarshal work item pull request link payload: %w", err)
		}
		w, err := s.workItems.GetByExternalID(ctx, rec.TenantID, p.WorkItemExternalID)
		if err != nil {
			return nil, fmt.Errorf("resolve work item %s: %w", p.WorkItemExternalID, err)
		}
		pr, err := s.pullRequests.GetByExternalID(ctx, rec.TenantID, p.PullRequestExternalID)
		if err != nil {
			return nil, fmt.Errorf("resolve pull request %s: %w", p.PullRequestExternalID, err)
		}
		if w == nil || pr == nil {
			// Either side may legitimately not exist yet (the PR can
			// belong to a repository this tenant hasn't synced); skip
			// rather than fail the whole issue.
			return nil, nil
		}
		link := entity.WorkItemPullRequestLink{TenantID: rec.TenantID, WorkItemID: w.ID, PullRequestID: pr.ID}
		if err := s.workItemPRLinks.Link(ctx, &link); err != nil {
			return nil, fmt.Errorf("link work item to pull request: %w", err)
		}
		return []normalizedRow{{RawKindWorkItemPullRequestLink, link.ID}}, nil

	default:
		return nil, fmt.Errorf("transform: unrecognized raw record kind %q", rec.Kind)
	}
}

// derivePullRequestMetrics computes the initial metrics snapshot from a
// pull request's inline first-page commits and reviews (spec §4.3):
// commit count, distinct author set, the earliest review timestamp,
// rework commits (authored after that first review), and review
// cycles (one per review submitted, a simple proxy for
// request-changes/re-review round trips visible on the first page).
func derivePullRequestMetrics(commits []commitPayload, reviews []reviewPayload) entity.PullRequestMetricsDelta {
	var firstReview *time.Time
	for i := range reviews {
		if firstReview == nil || reviews[i].Submitted.Before(*firstReview) {
			t := reviews[i].Submitted
			firstReview = &t
		}
	}

	seen := map[string]bool{}
	var authors []string
	rework := 0
	for _, c := range commits {
		if !seen[c.Author] {
			seen[c.Author] = true
			authors = append(authors, c.Author)
		}
		if firstReview != nil && c.Authored.After(*firstReview) {
			rework++
		}
	}

	return entity.PullRequestMetricsDelta{
		CommitCount:       len(commits),
		NewAuthors:        authors,
		FirstReviewAt:     firstReview,
		ReworkCommitCount: rework,
		ReviewCycles:      len(reviews),
	}
}
