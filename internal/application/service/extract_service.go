package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sogos/etlcore/internal/domain/entity"
	"github.com/sogos/etlcore/internal/domain/queue"
	"github.com/sogos/etlcore/internal/domain/repository"
	"github.com/sogos/etlcore/internal/domain/service"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// Extraction kinds route one ExtractionMessage to the routine that
// produces its raw records (spec §4.2). "repositories" and "projects"
// are the entry points for a repo-host/issue-tracker integration
// respectively; the rest are continuations a routine enqueues for its
// own nested fan-out.
const (
	ExtractionKindRepositories       = "repositories"
	ExtractionKindPullRequests       = "pull_requests"
	ExtractionKindNestedCommits      = "nested_commits"
	ExtractionKindNestedReviews      = "nested_reviews"
	ExtractionKindNestedComments     = "nested_comments"
	ExtractionKindNestedReviewThread = "nested_review_threads"
	ExtractionKindProjects           = "projects"
	ExtractionKindIssues             = "issues"
)

// Raw record kinds name which transform routine a payload belongs to;
// TransformService switches on these (spec §3 "Normalized row").
const (
	RawKindRepository              = "repository"
	RawKindPullRequest             = "pull_request"
	RawKindCommit                  = "commit"
	RawKindReview                  = "review"
	RawKindReviewComment           = "review_comment"
	RawKindReviewThread            = "review_thread"
	RawKindProject                 = "project"
	RawKindWorkItem                = "work_item"
	RawKindWorkItemChange          = "work_item_change"
	RawKindWorkItemPullRequestLink = "work_item_pull_request_link"
)

// ExtractService runs one extraction step at a time: it calls the
// configured provider client, stores each returned payload as a raw
// extraction record, and publishes one transform message per payload,
// propagating terminal flags per the protocol in internal/domain/queue
// (spec §4.2, §4.4).
type ExtractService struct {
	jobs          repository.JobRepository
	rawRecords    repository.RawRecordRepository
	integrations  repository.IntegrationRepository
	repoHosts     map[uuid.UUID]service.RepoHostClient
	issueTrackers map[uuid.UUID]service.IssueTrackerClient
	broker        service.Broker
	blobs         blobPutter
	inlineLimitBytes int
	maxRetry      int
	logger        service.Logger
	clock         service.Clock
}

// blobPutter is the narrow slice of blobstore.BlobStore the extract
// stage needs (store only; transform does the fetching).
type blobPutter interface {
	Put(ctx context.Context, key string, content []byte) error
}

func NewExtractService(
	jobs repository.JobRepository,
	rawRecords repository.RawRecordRepository,
	integrations repository.IntegrationRepository,
	broker service.Broker,
	blobs blobPutter,
	inlineLimitBytes, maxRetry int,
	logger service.Logger,
	clock service.Clock,
) *ExtractService {
	return &ExtractService{
		jobs:          jobs,
		rawRecords:    rawRecords,
		integrations:  integrations,
		repoHosts:     map[uuid.UUID]service.RepoHostClient{},
		issueTrackers: map[uuid.UUID]service.IssueTrackerClient{},
		broker:        broker,
		blobs:         blobs,
		inlineLimitBytes: inlineLimitBytes,
		maxRetry:      maxRetry,
		logger:        logger,
		clock:         clock,
	}
}

// RegisterRepoHost and RegisterIssueTracker wire a concrete provider
// client for one integration, letting a single ExtractService serve
// every tenant's configured providers (spec §6 "External Interfaces").
func (s *ExtractService) RegisterRepoHost(integrationID uuid.UUID, client service.RepoHostClient) {
	s.repoHosts[integrationID] = client
}

func (s *ExtractService) RegisterIssueTracker(integrationID uuid.UUID, client service.IssueTrackerClient) {
	s.issueTrackers[integrationID] = client
}

// HandleExtraction dispatches one extraction message to the routine that
// produces its raw records, per ExtractionKind. An empty ExtractionKind
// defaults to "repositories", the entry point an orchestrator-seeded
// message carries.
func (s *ExtractService) HandleExtraction(ctx context.Context, msg queue.ExtractionMessage) error {
	switch msg.ExtractionKind {
	case "", ExtractionKindRepositories:
		return s.handleRepositories(ctx, msg)
	case ExtractionKindPullRequests:
		return s.handlePullRequests(ctx, msg)
	case ExtractionKindNestedCommits, ExtractionKindNestedReviews, ExtractionKindNestedComments, ExtractionKindNestedReviewThread:
		return s.handleNestedEdge(ctx, msg)
	case ExtractionKindProjects:
		return s.handleProjects(ctx, msg)
	case ExtractionKindIssues:
		return s.handleIssues(ctx, msg)
	default:
		return fmt.Errorf("extract: unrecognized extraction kind %q", msg.ExtractionKind)
	}
}

// handleRepositories runs the smart-batched repository search, stores
// one raw record per repository, and seeds one pull_requests extraction
// message per repository so that its nested pull-request/commit/review
// fan-out can proceed independently (spec §4.2). The relay bit handed to
// each repository always carries NoFurtherNesting=false: a repository
// branch's terminal flag is never resolved at this level, only once its
// pull-request fan-out fully drains.
func (s *ExtractService) handleRepositories(ctx context.Context, msg queue.ExtractionMessage) error {
	client, ok := s.repoHosts[msg.IntegrationID]
	if !ok {
		return fmt.Errorf("extract: no repo host client registered for integration %s", msg.IntegrationID)
	}

	repos, err := client.SearchRepositories(ctx, nil, "")
	if err != nil {
		var rlErr *service.RateLimitError
		if errors.As(err, &rlErr) {
			return s.checkpointOnRateLimit(ctx, msg, "repositories", err)
		}
		return fmt.Errorf("search repositories: %w", err)
	}

	if len(repos) == 0 {
		return s.emitCompletion(ctx, msg, false)
	}

	for i, repo := range repos {
		isLastRepo := i == len(repos)-1
		relay := msg.Relay.Child(isLastRepo)
		relay.NoFurtherNesting = false

		payload, err := json.Marshal(repo)
		if err != nil {
			return fmt.Errorf("marshal repository payload: %w", err)
		}
		if err := s.storeAndPublish(ctx, msg, RawKindRepository, repo.ExternalID, payload, queue.ControlFlags{}); err != nil {
			return err
		}

		pmsg := queue.ExtractionMessage{
			Envelope: queue.Envelope{
				TenantID: msg.TenantID, IntegrationID: msg.IntegrationID, JobID: msg.JobID,
				StepName: msg.StepName,
			},
			ExtractionKind:    ExtractionKindPullRequests,
			ParentExternalID:  repo.ExternalID,
			OldLastSyncDate:   msg.OldLastSyncDate,
			ExtractionEndDate: msg.ExtractionEndDate,
			Relay:             relay,
		}
		if err := s.broker.PublishExtraction(ctx, pmsg); err != nil {
			return fmt.Errorf("publish pull_requests extraction message for repository %s: %w", repo.ExternalID, err)
		}
	}

	return nil
}

// handlePullRequests paginates one repository's pull requests, each page
// carrying its first slice of nested commits/reviews/comments/review
// threads inline (spec §4.2 "never fetch nested pages inline; always
// re-enqueue" applies to pages beyond the first). A pull request whose
// nested edges are all exhausted inline resolves its relay bit directly;
// one still needing a continuation defers resolution to that
// continuation message instead.
func (s *ExtractService) handlePullRequests(ctx context.Context, msg queue.ExtractionMessage) error {
	client, ok := s.repoHosts[msg.IntegrationID]
	if !ok {
		return fmt.Errorf("extract: no repo host client registered for integration %s", msg.IntegrationID)
	}

	page, err := client.PullRequestsWithNestedEdges(ctx, service.PullRequestPageRequest{
		RepositoryExternalID: msg.ParentExternalID,
		Cursor:               msg.Cursor,
		OldLastSyncDate:      msg.OldLastSyncDate,
		ExtractionEndAt:      msg.ExtractionEndDate,
	})
	if err != nil {
		var rlErr *service.RateLimitError
		if errors.As(err, &rlErr) {
			return s.checkpointOnRateLimit(ctx, msg, "pull_requests", err)
		}
		return fmt.Errorf("fetch pull requests for repository %s: %w", msg.ParentExternalID, err)
	}

	// Pull requests are returned oldest-first (UPDATED_AT ASC), so an
	// incremental run drops any page member not newer than the run's
	// frozen boundary instead of terminating the page early (spec §4.2
	// "incremental filtering"; unlike the issue tracker's DESC-ordered
	// search, a forward ASC cursor can't cheaply short-circuit).
	prs := page.PullRequests
	if msg.OldLastSyncDate != nil {
		filtered := prs[:0]
		for _, pr := range prs {
			if pr.Updated.After(*msg.OldLastSyncDate) {
				filtered = append(filtered, pr)
			}
		}
		prs = filtered
	}

	if len(prs) == 0 && !page.PageInfo.HasNextPage {
		if msg.Relay.IsLastBranch {
			return s.emitCompletion(ctx, msg, false)
		}
		return nil
	}

	isLastPage := !page.PageInfo.HasNextPage
	for i, pr := range prs {
		isLastPR := isLastPage && i == len(prs)-1
		relay := msg.Relay.Child(isLastPR)
		relay.NoFurtherPages = isLastPage

		if err := s.emitPullRequest(ctx, msg, relay, pr); err != nil {
			return fmt.Errorf("emit pull request %s: %w", pr.ExternalID, err)
		}
	}

	if page.PageInfo.HasNextPage {
		cont := msg
		cont.Cursor = page.PageInfo.EndCursor
		cont.Relay = msg.Relay
		if err := s.broker.PublishExtraction(ctx, cont); err != nil {
			return fmt.Errorf("publish pull_requests continuation: %w", err)
		}
	}

	return nil
}

// emitPullRequest stores the pull request and its inline first-page
// nested edges as ONE raw record (spec §4.3: "nested arrays inlined in
// the parent payload are upserted in the same transaction as the
// parent"), then requeues a continuation for any edge whose page was
// not exhausted. A continuation's own page of nested items is a
// separate raw record per handleNestedEdge, keyed by the parent's
// external id, since it arrives in its own transaction rather than
// inlined in the parent payload. relay.NoFurtherNesting is only true
// when none of the four edges needs continuation, letting the pull
// request's own raw record carry the step's terminal flags when it is
// otherwise the last branch.
func (s *ExtractService) emitPullRequest(ctx context.Context, msg queue.ExtractionMessage, relay queue.RelayBit, pr service.PullRequest) error {
	needsContinuation := pr.CommitsPage.HasNextPage || pr.ReviewsPage.HasNextPage || pr.CommentsPage.HasNextPage || pr.ReviewThreadsPage.HasNextPage
	pending := 0
	for _, pi := range []service.PageInfo{pr.CommitsPage, pr.ReviewsPage, pr.CommentsPage, pr.ReviewThreadsPage} {
		if pi.HasNextPage {
			pending++
		}
	}
	prRelay := relay
	prRelay.NoFurtherNesting = !needsContinuation

	payload, err := json.Marshal(pullRequestPayload{
		RepositoryExternalID: msg.ParentExternalID,
		ExternalID:           pr.ExternalID,
		Number:               pr.Number,
		Title:                pr.Title,
		Body:                 pr.Body,
		Author:               pr.Author,
		State:                pr.State,
		Updated:              pr.Updated,
		Commits:              toCommitPayloads(pr.ExternalID, pr.Commits),
		Reviews:              toReviewPayloads(pr.ExternalID, pr.Reviews),
		Comments:             toReviewCommentPayloads(pr.ExternalID, pr.Comments),
		ReviewThreads:        toReviewThreadPayloads(pr.ExternalID, pr.ReviewThreads),
	})
	if err != nil {
		return fmt.Errorf("marshal pull request payload: %w", err)
	}

	flags := queue.ControlFlags{}
	if prRelay.Resolved() {
		flags = queue.ControlFlags{LastItem: true, LastJobItem: true}
	}
	if err := s.storeAndPublish(ctx, msg, RawKindPullRequest, pr.ExternalID, payload, flags); err != nil {
		return err
	}

	for kind, pi := range map[string]service.PageInfo{
		ExtractionKindNestedCommits:      pr.CommitsPage,
		ExtractionKindNestedReviews:      pr.ReviewsPage,
		ExtractionKindNestedComments:     pr.CommentsPage,
		ExtractionKindNestedReviewThread: pr.ReviewThreadsPage,
	} {
		if !pi.HasNextPage {
			continue
		}
		pending--
		cmsg := queue.ExtractionMessage{
			Envelope: queue.Envelope{
				TenantID: msg.TenantID, IntegrationID: msg.IntegrationID, JobID: msg.JobID,
				StepName: msg.StepName,
			},
			ExtractionKind:    kind,
			ParentExternalID:  pr.ExternalID,
			Cursor:            pi.EndCursor,
			OldLastSyncDate:   msg.OldLastSyncDate,
			ExtractionEndDate: msg.ExtractionEndDate,
			Relay:             relay.Child(pending == 0),
		}
		if err := s.broker.PublishExtraction(ctx, cmsg); err != nil {
			return fmt.Errorf("publish %s continuation for pull request %s: %w", kind, pr.ExternalID, err)
		}
	}

	return nil
}

// handleNestedEdge continues one of the four nested edge kinds beyond
// its first page (spec §4.2 "up to four nested cursors"). It resolves
// the relay bit once the edge's own pages are exhausted.
func (s *ExtractService) handleNestedEdge(ctx context.Context, msg queue.ExtractionMessage) error {
	client, ok := s.repoHosts[msg.IntegrationID]
	if !ok {
		return fmt.Errorf("extract: no repo host client registered for integration %s", msg.IntegrationID)
	}

	var kind service.NestedEdgeKind
	switch msg.ExtractionKind {
	case ExtractionKindNestedCommits:
		kind = service.EdgeCommits
	case ExtractionKindNestedReviews:
		kind = service.EdgeReviews
	case ExtractionKindNestedComments:
		kind = service.EdgeComments
	case ExtractionKindNestedReviewThread:
		kind = service.EdgeReviewThreads
	}

	page, err := client.ContinueNestedEdge(ctx, service.NestedEdgeRequest{
		PullRequestExternalID: msg.ParentExternalID,
		Kind:                  kind,
		Cursor:                msg.Cursor,
	})
	if err != nil {
		var rlErr *service.RateLimitError
		if errors.As(err, &rlErr) {
			return s.checkpointOnRateLimit(ctx, msg, msg.ExtractionKind, err)
		}
		return fmt.Errorf("continue nested edge %s for pull request %s: %w", msg.ExtractionKind, msg.ParentExternalID, err)
	}

	resolved := !page.PageInfo.HasNextPage
	relay := msg.Relay
	relay.NoFurtherNesting = resolved

	items := nestedEdgeItemCount(page)
	if items == 0 && resolved {
		relayResolved := relay
		relayResolved.NoFurtherPages = true
		if relayResolved.Resolved() {
			return s.emitCompletion(ctx, msg, false)
		}
		return nil
	}
	idx := 0
	emit := func(kindName, externalID string, payload []byte) error {
		flags := queue.ControlFlags{}
		if resolved && idx == items-1 {
			relayResolved := relay
			relayResolved.NoFurtherPages = true
			if relayResolved.Resolved() {
				flags = queue.ControlFlags{LastItem: true, LastJobItem: true}
			}
		}
		idx++
		return s.storeAndPublish(ctx, msg, kindName, externalID, payload, flags)
	}

	for _, c := range page.Commits {
		p, err := json.Marshal(commitPayload{PullRequestExternalID: msg.ParentExternalID, ExternalID: c.ExternalID, SHA: c.SHA, Author: c.Author, Message: c.Message, Authored: c.Authored})
		if err != nil {
			return err
		}
		if err := emit(RawKindCommit, c.ExternalID, p); err != nil {
			return err
		}
	}
	for _, r := range page.Reviews {
		p, err := json.Marshal(reviewPayload{PullRequestExternalID: msg.ParentExternalID, ExternalID: r.ExternalID, Author: r.Author, State: r.State, Body: r.Body, Submitted: r.Submitted})
		if err != nil {
			return err
		}
		if err := emit(RawKindReview, r.ExternalID, p); err != nil {
			return err
		}
	}
	for _, c := range page.Comments {
		p, err := json.Marshal(reviewCommentPayload{PullRequestExternalID: msg.ParentExternalID, ExternalID: c.ExternalID, Author: c.Author, Body: c.Body, Created: c.Created})
		if err != nil {
			return err
		}
		if err := emit(RawKindReviewComment, c.ExternalID, p); err != nil {
			return err
		}
	}
	for _, t := range page.ReviewThreads {
		p, err := json.Marshal(reviewThreadPayload{PullRequestExternalID: msg.ParentExternalID, ExternalID: t.ExternalID, Resolved: t.Resolved})
		if err != nil {
			return err
		}
		if err := emit(RawKindReviewThread, t.ExternalID, p); err != nil {
			return err
		}
	}

	if page.PageInfo.HasNextPage {
		cont := msg
		cont.Cursor = page.PageInfo.EndCursor
		if err := s.broker.PublishExtraction(ctx, cont); err != nil {
			return fmt.Errorf("publish %s continuation: %w", msg.ExtractionKind, err)
		}
	}

	return nil
}

func nestedEdgeItemCount(page service.NestedEdgePage) int {
	return len(page.Commits) + len(page.Reviews) + len(page.Comments) + len(page.ReviewThreads)
}

// handleProjects lists an issue tracker's visible projects, stores one
// raw record per project, and seeds one issues extraction message per
// project so issue fan-out proceeds independently, mirroring
// handleRepositories' repo/pull_requests split.
func (s *ExtractService) handleProjects(ctx context.Context, msg queue.ExtractionMessage) error {
	client, ok := s.issueTrackers[msg.IntegrationID]
	if !ok {
		return fmt.Errorf("extract: no issue tracker client registered for integration %s", msg.IntegrationID)
	}

	projects, err := client.SearchProjects(ctx, nil)
	if err != nil {
		var rlErr *service.RateLimitError
		if errors.As(err, &rlErr) {
			return s.checkpointOnRateLimit(ctx, msg, "projects", err)
		}
		return fmt.Errorf("search projects: %w", err)
	}

	if len(projects) == 0 {
		return s.emitCompletion(ctx, msg, false)
	}

	for i, p := range projects {
		isLast := i == len(projects)-1
		relay := msg.Relay.Child(isLast)
		relay.NoFurtherNesting = false

		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal project payload: %w", err)
		}
		if err := s.storeAndPublish(ctx, msg, RawKindProject, p.Key, payload, queue.ControlFlags{}); err != nil {
			return err
		}

		imsg := queue.ExtractionMessage{
			Envelope: queue.Envelope{
				TenantID: msg.TenantID, IntegrationID: msg.IntegrationID, JobID: msg.JobID,
				StepName: msg.StepName,
			},
			ExtractionKind:    ExtractionKindIssues,
			ParentExternalID:  p.Key,
			OldLastSyncDate:   msg.OldLastSyncDate,
			ExtractionEndDate: msg.ExtractionEndDate,
			Relay:             relay,
		}
		if err := s.broker.PublishExtraction(ctx, imsg); err != nil {
			return fmt.Errorf("publish issues extraction message for project %s: %w", p.Key, err)
		}
	}

	return nil
}

// handleIssues paginates one project's issues, storing each issue's raw
// record and changelog entries, then fetches the development-status
// side-endpoint to emit work-item/pull-request links (spec §6
// "DevelopmentStatus").
func (s *ExtractService) handleIssues(ctx context.Context, msg queue.ExtractionMessage) error {
	client, ok := s.issueTrackers[msg.IntegrationID]
	if !ok {
		return fmt.Errorf("extract: no issue tracker client registered for integration %s", msg.IntegrationID)
	}

	startAt := 0
	if msg.Cursor != "" {
		fmt.Sscanf(msg.Cursor, "%d", &startAt)
	}

	page, err := client.SearchIssues(ctx, service.IssueSearchRequest{
		ProjectKey:      msg.ParentExternalID,
		StartAt:         startAt,
		OldLastSyncDate: msg.OldLastSyncDate,
		ExtractionEndAt: msg.ExtractionEndDate,
		PageSize:        100,
	})
	if err != nil {
		var rlErr *service.RateLimitError
		if errors.As(err, &rlErr) {
			return s.checkpointOnRateLimit(ctx, msg, "issues", err)
		}
		return fmt.Errorf("search issues for project %s: %w", msg.ParentExternalID, err)
	}

	if len(page.Issues) == 0 && !page.HasMore {
		if msg.Relay.IsLastBranch {
			return s.emitCompletion(ctx, msg, false)
		}
		return nil
	}

	isLastPage := !page.HasMore
	for i, issue := range page.Issues {
		isLastIssue := isLastPage && i == len(page.Issues)-1
		relay := msg.Relay.Child(isLastIssue)
		relay.NoFurtherPages = true
		relay.NoFurtherNesting = true

		flags := queue.ControlFlags{}
		if relay.Resolved() {
			flags = queue.ControlFlags{LastItem: true, LastJobItem: true}
		}

		payload, err := json.Marshal(workItemPayload{
			ProjectExternalID: msg.ParentExternalID,
			ExternalID:        issue.ExternalID,
			Key:               issue.Key,
			Summary:           issue.Summary,
			Description:       issue.Description,
			IssueType:         issue.IssueType,
			Status:            issue.Status,
			Updated:           issue.Updated,
		})
		if err != nil {
			return fmt.Errorf("marshal work item payload: %w", err)
		}
		if err := s.storeAndPublish(ctx, msg, RawKindWorkItem, issue.ExternalID, payload, flags); err != nil {
			return err
		}

		for _, entry := range issue.Changelog {
			p, err := json.Marshal(workItemChangePayload{
				WorkItemExternalID: issue.ExternalID,
				ExternalID:         entry.ExternalID,
				Author:             entry.Author,
				Field:              entry.Field,
				FromValue:          entry.FromValue,
				ToValue:            entry.ToValue,
				Created:            entry.Created,
			})
			if err != nil {
				return fmt.Errorf("marshal work item change payload: %w", err)
			}
			if err := s.storeAndPublish(ctx, msg, RawKindWorkItemChange, entry.ExternalID, p, queue.ControlFlags{}); err != nil {
				return err
			}
		}

		devStatus, err := client.DevelopmentStatus(ctx, issue.ExternalID)
		if err != nil {
			s.logger.Warn("development status lookup failed", "issue_id", issue.ExternalID, "error", err)
			continue
		}
		for _, prID := range devStatus.PullRequestIDs {
			p, err := json.Marshal(workItemPullRequestLinkPayload{WorkItemExternalID: issue.ExternalID, PullRequestExternalID: prID})
			if err != nil {
				return fmt.Errorf("marshal work item pull request link payload: %w", err)
			}
			if err := s.storeAndPublish(ctx, msg, RawKindWorkItemPullRequestLink, issue.ExternalID+":"+prID, p, queue.ControlFlags{}); err != nil {
				return err
			}
		}
	}

	if page.HasMore {
		cont := msg
		cont.Cursor = fmt.Sprintf("%d", page.NextStart)
		if err := s.broker.PublishExtraction(ctx, cont); err != nil {
			return fmt.Errorf("publish issues continuation: %w", err)
		}
	}

	return nil
}

// storeAndPublish persists one raw-extraction record (inline or
// overflowed to blob storage past inlineLimitBytes) and publishes its
// transform message carrying the given terminal flags.
func (s *ExtractService) storeAndPublish(ctx context.Context, msg queue.ExtractionMessage, kind, externalID string, payload []byte, flags queue.ControlFlags) error {
	rec := entity.RawExtractionRecord{
		TenantID:   msg.TenantID,
		JobID:      msg.JobID,
		Kind:       kind,
		ExternalID: externalID,
		Status:     valueobject.RawRecordStatusPending,
		StepName:   msg.StepName,
	}
	if len(payload) > s.inlineLimitBytes {
		key := fmt.Sprintf("%s/%s/%s/%s.json", msg.TenantID, msg.JobID, kind, externalID)
		if err := s.blobs.Put(ctx, key, payload); err != nil {
			return fmt.Errorf("overflow raw payload to blob store: %w", err)
		}
		rec.BlobRef = key
	} else {
		rec.Payload = payload
	}

	if err := s.rawRecords.Create(ctx, &rec); err != nil {
		return fmt.Errorf("create raw record: %w", err)
	}

	tmsg := queue.TransformMessage{
		Envelope: queue.Envelope{
			TenantID: msg.TenantID, IntegrationID: msg.IntegrationID, JobID: msg.JobID,
			StepName: msg.StepName, Flags: flags,
		},
		RawRecordID: &rec.ID,
		Kind:        rec.Kind,
	}
	if err := s.broker.PublishTransform(ctx, tmsg); err != nil {
		return fmt.Errorf("publish transform message: %w", err)
	}
	return nil
}

// checkpointOnRateLimit persists the current cursor and node type and
// emits the single rate-limited completion message (spec §4.2).
func (s *ExtractService) checkpointOnRateLimit(ctx context.Context, msg queue.ExtractionMessage, nodeType string, cause error) error {
	resetAt := s.clock.Now().Add(15 * time.Minute).Unix()
	checkpoint := entity.Checkpoint{
		LastCursor:                   msg.Cursor,
		RateLimitHit:                 true,
		RateLimitResetAt:             &resetAt,
		RateLimitNodeType:            nodeType,
		CurrentRepositoryExternalID:  msg.ParentExternalID,
		CurrentPullRequestExternalID: msg.ParentExternalID,
	}
	if err := s.jobs.UpdateCheckpoint(ctx, msg.TenantID, msg.JobID, checkpoint); err != nil {
		return fmt.Errorf("persist rate-limit checkpoint: %w", err)
	}
	s.logger.Warn("extraction rate limited, checkpointing", "job_id", msg.JobID, "node_type", nodeType, "cause", cause)
	return s.emitCompletion(ctx, msg, true)
}

// emitCompletion publishes the single completion message a stage must
// emit when it produces zero child messages, or when a rate limit
// forces an early stop (spec §4.4 edge cases).
func (s *ExtractService) emitCompletion(ctx context.Context, msg queue.ExtractionMessage, rateLimited bool) error {
	tmsg := queue.TransformMessage{
		Envelope: queue.Envelope{
			TenantID: msg.TenantID, IntegrationID: msg.IntegrationID, JobID: msg.JobID,
			StepName: msg.StepName, Flags: queue.CompletionMarker(rateLimited),
		},
	}
	return s.broker.PublishTransform(ctx, tmsg)
}

// The payload wrapper types below pair one nested provider DTO with its
// parent's external id, so the transform stage can resolve the foreign
// key without a second provider round trip.

type pullRequestPayload struct {
	RepositoryExternalID string    `json:"repository_external_id"`
	ExternalID            string    `json:"external_id"`
	Number                 int       `json:"number"`
	Title                  string    `json:"title"`
	Body                   string    `json:"body"`
	Author                 string    `json:"author"`
	State                  string    `json:"state"`
	Updated                time.Time `json:"updated"`

	// Commits, Reviews, Comments, and ReviewThreads are the pull
	// request's inline first-page nested edges (spec §4.3); a
	// continuation page of the same edge beyond this first page is a
	// separate raw record, never folded back in here.
	Commits       []commitPayload        `json:"commits,omitempty"`
	Reviews       []reviewPayload        `json:"reviews,omitempty"`
	Comments      []reviewCommentPayload `json:"comments,omitempty"`
	ReviewThreads []reviewThreadPayload  `json:"review_threads,omitempty"`
}

func toCommitPayloads(prExternalID string, commits []service.Commit) []commitPayload {
	out := make([]commitPayload, len(commits))
	for i, c := range commits {
		out[i] = commitPayload{PullRequestExternalID: prExternalID, ExternalID: c.ExternalID, SHA: c.SHA, Author: c.Author, Message: c.Message, Authored: c.Authored}
	}
	return out
}

func toReviewPayloads(prExternalID string, reviews []service.Review) []reviewPayload {
	out := make([]reviewPayload, len(reviews))
	for i, r := range reviews {
		out[i] = reviewPayload{PullRequestExternalID: prExternalID, ExternalID: r.ExternalID, Author: r.Author, State: r.State, Body: r.Body, Submitted: r.Submitted}
	}
	return out
}

func toReviewCommentPayloads(prExternalID string, comments []service.ReviewComment) []reviewCommentPayload {
	out := make([]reviewCommentPayload, len(comments))
	for i, c := range comments {
		out[i] = reviewCommentPayload{PullRequestExternalID: prExternalID, ExternalID: c.ExternalID, Author: c.Author, Body: c.Body, Created: c.Created}
	}
	return out
}

func toReviewThreadPayloads(prExternalID string, threads []service.ReviewThread) []reviewThreadPayload {
	out := make([]reviewThreadPayload, len(threads))
	for i, t := range threads {
		out[i] = reviewThreadPayload{PullRequestExternalID: prExternalID, ExternalID: t.ExternalID, Resolved: t.Resolved}
	}
	return out
}

type commitPayload struct {
	PullRequestExternalID string    `json:"pull_request_external_id"`
	ExternalID             string    `json:"external_id"`
	SHA                    string    `json:"sha"`
	Author                 string    `json:"author"`
	Message                string    `json:"message"`
	Authored               time.Time `json:"authored"`
}

type reviewPayload struct {
	PullRequestExternalID string    `json:"pull_request_external_id"`
	ExternalID             string    `json:"external_id"`
	Author                 string    `json:"author"`
	State                  string    `json:"state"`
	Body                   string    `json:"body"`
	Submitted              time.Time `json:"submitted"`
}

type reviewCommentPayload struct {
	PullRequestExternalID string    `json:"pull_request_external_id"`
	ExternalID             string    `json:"external_id"`
	Author                 string    `json:"author"`
	Body                   string    `json:"body"`
	Created                time.Time `json:"created"`
}

type reviewThreadPayload struct {
	PullRequestExternalID string `json:"pull_request_external_id"`
	ExternalID             string `json:"external_id"`
	Resolved               bool   `json:"resolved"`
}

type workItemPayload struct {
	ProjectExternalID string    `json:"project_external_id"`
	ExternalID         string    `json:"external_id"`
	Key                string    `json:"key"`
	Summary            string    `json:"summary"`
	Description        string    `json:"description"`
	IssueType          string    `json:"issue_type"`
	Status             string    `json:"status"`
	Updated            time.Time `json:"updated"`
}

type workItemChangePayload struct {
	WorkItemExternalID string    `json:"work_item_external_id"`
	ExternalID          string    `json:"external_id"`
	Author              string    `json:"author"`
	Field               string    `json:"field"`
	FromValue           string    `json:"from_value"`
	ToValue             string    `json:"to_value"`
	Created             time.Time `json:"created"`
}

type workItemPullRequestLinkPayload struct {
	WorkItemExternalID    string `json:"work_item_external_id"`
	PullRequestExternalID string `json:"pull_request_external_id"`
}
