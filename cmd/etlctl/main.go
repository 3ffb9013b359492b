// Command etlctl is an operator CLI for the pipeline: it runs one
// orchestrator tick, triggers/pauses/resumes a job, prints a tenant's job
// ladder, or replays a lost embed-completion message. No CLI framework
// appears anywhere in the retrieved reference repos, so this follows
// Go's own convention (flag.FlagSet per subcommand, manual dispatch in
// main) rather than reaching for one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/sogos/etlcore/internal/application/service"
	"github.com/sogos/etlcore/internal/domain/queue"
	domainservice "github.com/sogos/etlcore/internal/domain/service"
	"github.com/sogos/etlcore/internal/infrastructure/config"
	"github.com/sogos/etlcore/internal/infrastructure/logging"
	"github.com/sogos/etlcore/internal/infrastructure/persistence/postgres"
	infraqueue "github.com/sogos/etlcore/internal/infrastructure/queue"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	logger := logging.Must(logging.Config{Level: os.Getenv("LOG_LEVEL")})

	db, err := postgres.NewDB(cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "connect database:", err)
		os.Exit(1)
	}
	defer db.Close()

	redisAddr := strings.TrimPrefix(strings.TrimPrefix(cfg.RedisURL, "redis://"), "rediss://")
	brokerClient := infraqueue.NewClient(asynq.RedisClientOpt{Addr: redisAddr}, cfg.DefaultMaxRetryAttempts)
	defer brokerClient.Close()

	jobRepo := postgres.NewJobRepository(db)
	tenantRepo := postgres.NewTenantRepository(db)
	integrationRepo := postgres.NewIntegrationRepository(db)
	orchestrator := service.NewOrchestratorService(jobRepo, tenantRepo, integrationRepo, brokerClient, logger, domainservice.SystemClock{})

	normalizedTables := map[string]normalizedTable{
		"projects":            {service.RawKindProject, postgres.NewProjectRepository(db)},
		"work_items":          {service.RawKindWorkItem, postgres.NewWorkItemRepository(db)},
		"work_item_changes":   {service.RawKindWorkItemChange, postgres.NewWorkItemChangeRepository(db)},
		"repositories":        {service.RawKindRepository, postgres.NewRepositoryRepository(db)},
		"pull_requests":       {service.RawKindPullRequest, postgres.NewPullRequestRepository(db)},
		"commits":             {service.RawKindCommit, postgres.NewCommitRepository(db)},
		"reviews":             {service.RawKindReview, postgres.NewReviewRepository(db)},
		"review_comments":     {service.RawKindReviewComment, postgres.NewReviewCommentRepository(db)},
		"review_threads":      {service.RawKindReviewThread, postgres.NewReviewThreadRepository(db)},
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "tick-once":
		runTick(ctx, orchestrator)
	case "trigger":
		runTrigger(ctx, orchestrator)
	case "pause":
		runPause(ctx, orchestrator)
	case "resume":
		runResume(ctx, orchestrator)
	case "status":
		runStatus(ctx, orchestrator)
	case "replay-embed":
		runReplayEmbed(ctx, brokerClient, normalizedTables)
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: etlctl <command> [flags]

commands:
  tick-once                            run one orchestrator tick across all active tenants
  trigger      -tenant <id> -job <id>  set a job to PENDING so the next tick starts it
  pause        -tenant <id> -job <id>  pause a job, removing it from the ladder rotation
  resume       -tenant <id> -job <id>  resume a paused job
  status       -tenant <id>            print a tenant's job ladder
  replay-embed -tenant <id> -job <id> -integration <id>
                                       re-publish a job's completion message to the embed queue
  replay-embed -tenant <id> -integration <id> -table <table>
                                       re-queue one embed message per row of <table> for the tenant
                                       (tables: projects, work_items, work_item_changes, repositories,
                                       pull_requests, commits, reviews, review_comments, review_threads)`)
}

func runTick(ctx context.Context, orchestrator *service.OrchestratorService) {
	if err := orchestrator.Tick(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "tick:", err)
		os.Exit(1)
	}
	fmt.Println("tick complete")
}

func runTrigger(ctx context.Context, orchestrator *service.OrchestratorService) {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	tenantFlag := fs.String("tenant", "", "tenant id")
	jobFlag := fs.String("job", "", "job id")
	_ = fs.Parse(os.Args[2:])

	tenantID, jobID := parseIDs(*tenantFlag, *jobFlag)
	if err := orchestrator.TriggerJob(ctx, tenantID, jobID); err != nil {
		fmt.Fprintln(os.Stderr, "trigger:", err)
		os.Exit(1)
	}
	fmt.Println("job set to PENDING, will run on next tick")
}

func runPause(ctx context.Context, orchestrator *service.OrchestratorService) {
	fs := flag.NewFlagSet("pause", flag.ExitOnError)
	tenantFlag := fs.String("tenant", "", "tenant id")
	jobFlag := fs.String("job", "", "job id")
	_ = fs.Parse(os.Args[2:])

	tenantID, jobID := parseIDs(*tenantFlag, *jobFlag)
	if err := orchestrator.PauseJob(ctx, tenantID, jobID); err != nil {
		fmt.Fprintln(os.Stderr, "pause:", err)
		os.Exit(1)
	}
	fmt.Println("job paused")
}

func runResume(ctx context.Context, orchestrator *service.OrchestratorService) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	tenantFlag := fs.String("tenant", "", "tenant id")
	jobFlag := fs.String("job", "", "job id")
	_ = fs.Parse(os.Args[2:])

	tenantID, jobID := parseIDs(*tenantFlag, *jobFlag)
	if err := orchestrator.ResumeJob(ctx, tenantID, jobID); err != nil {
		fmt.Fprintln(os.Stderr, "resume:", err)
		os.Exit(1)
	}
	fmt.Println("job resumed")
}

func runStatus(ctx context.Context, orchestrator *service.OrchestratorService) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	tenantFlag := fs.String("tenant", "", "tenant id")
	_ = fs.Parse(os.Args[2:])

	tenantID, err := uuid.Parse(*tenantFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status: invalid -tenant:", err)
		os.Exit(1)
	}

	jobs, err := orchestrator.ReadLadder(ctx, tenantID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "status:", err)
		os.Exit(1)
	}

	for _, j := range jobs {
		fmt.Printf("%-36s %-20s %-10s order=%d retries=%d\n", j.ID, j.JobName, j.Status, j.ExecutionOrder, j.RetryCount)
	}
}

// idLister is the common shape shared by every normalized-row repository
// for enumerating one tenant's rows of a table, without requiring the
// full repository.XRepository interface (different per table).
type idLister interface {
	ListIDsByTenant(ctx context.Context, tenantID uuid.UUID) ([]uuid.UUID, error)
}

// normalizedTable pairs a table's raw kind (the embed message's
// SourceKind) with the repository that can list its row ids.
type normalizedTable struct {
	kind   string
	lister idLister
}

// runReplayEmbed either re-publishes a bare completion message to a
// job's embed queue (recovering a ladder stuck because its last
// completion message never arrived — broker outage, worker crash
// mid-publish) or, with -table, re-queues one embed message per row of
// a normalized table for a tenant (rebuilding vector references after a
// vector store wipe, spec §6 "replay-embed").
func runReplayEmbed(ctx context.Context, broker *infraqueue.Client, tables map[string]normalizedTable) {
	fs := flag.NewFlagSet("replay-embed", flag.ExitOnError)
	tenantFlag := fs.String("tenant", "", "tenant id")
	jobFlag := fs.String("job", "", "job id")
	integrationFlag := fs.String("integration", "", "integration id")
	tableFlag := fs.String("table", "", "normalized table to bulk re-queue (omit to replay a single completion message)")
	_ = fs.Parse(os.Args[2:])

	integrationID, err := uuid.Parse(*integrationFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay-embed: invalid -integration:", err)
		os.Exit(1)
	}

	if *tableFlag == "" {
		tenantID, jobID := parseIDs(*tenantFlag, *jobFlag)
		msg := queue.EmbedMessage{Envelope: queue.Envelope{
			TenantID:      tenantID,
			IntegrationID: integrationID,
			JobID:         jobID,
			StepName:      "replay",
			Flags:         queue.ControlFlags{LastJobItem: true},
		}}
		if err := broker.PublishEmbed(ctx, msg); err != nil {
			fmt.Fprintln(os.Stderr, "replay-embed:", err)
			os.Exit(1)
		}
		fmt.Println("completion message replayed")
		return
	}

	tenantID, err := uuid.Parse(*tenantFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay-embed: invalid -tenant:", err)
		os.Exit(1)
	}
	table, ok := tables[*tableFlag]
	if !ok {
		fmt.Fprintln(os.Stderr, "replay-embed: unknown -table:", *tableFlag)
		os.Exit(1)
	}

	ids, err := table.lister.ListIDsByTenant(ctx, tenantID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay-embed:", err)
		os.Exit(1)
	}

	// Bulk replay is not tied to any one job run, so no message carries
	// last_job_item: it must not trigger ChainOnJobCompletion.
	seq := queue.NewSequencer(len(ids), false, false, false)
	for i, id := range ids {
		rowID := id
		msg := queue.EmbedMessage{
			Envelope: queue.Envelope{
				TenantID:      tenantID,
				IntegrationID: integrationID,
				StepName:      "replay-embed:" + *tableFlag,
				Flags:         seq.Flags(i, true),
			},
			SourceKind: table.kind,
			SourceID:   &rowID,
		}
		if err := broker.PublishEmbed(ctx, msg); err != nil {
			fmt.Fprintf(os.Stderr, "replay-embed: publish row %s: %v\n", id, err)
			os.Exit(1)
		}
	}
	fmt.Printf("re-queued %d embed message(s) for %s.%s\n", len(ids), *tableFlag, tenantID)
}

func parseIDs(tenant, job string) (uuid.UUID, uuid.UUID) {
	tenantID, err := uuid.Parse(tenant)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -tenant:", err)
		os.Exit(1)
	}
	jobID, err := uuid.Parse(job)
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid -job:", err)
		os.Exit(1)
	}
	return tenantID, jobID
}
