package worker

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	appservice "github.com/sogos/etlcore/internal/application/service"
	"github.com/sogos/etlcore/internal/domain/repository"
	domainservice "github.com/sogos/etlcore/internal/domain/service"
	etlqueue "github.com/sogos/etlcore/internal/infrastructure/queue"
)

// Server wraps the Asynq server and scheduler that drive the three
// pipeline stages, generalized from the teacher's worker.Server (static
// critical/default/low priority queues) to one durable per-tenant
// queue per stage, weighted by the tenant's WorkerQuota
// (spec §4, §6 "tier-based worker quotas").
type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	handlers  *Handlers
	logger    domainservice.Logger
}

// NewServer builds the Asynq server, weighting every tenant's three
// stage queues by its current tier quota. The queue map is a snapshot
// taken at startup; a tenant added or re-tiered afterward is served
// once the process restarts, which is an accepted operational tradeoff
// since asynq.Server.Run cannot add queues after it starts.
func NewServer(
	ctx context.Context,
	redisAddr string,
	tenants repository.TenantRepository,
	orchestrator *appservice.OrchestratorService,
	extract *appservice.ExtractService,
	transform *appservice.TransformService,
	embed *appservice.EmbedService,
	concurrency int,
	logger domainservice.Logger,
) (*Server, error) {
	queues, err := buildTenantQueueWeights(ctx, tenants)
	if err != nil {
		return nil, fmt.Errorf("build tenant queue weights: %w", err)
	}

	server := asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: concurrency,
			Queues:      queues,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("task failed", "type", task.Type(), "error", err)
			}),
		},
	)

	scheduler := asynq.NewScheduler(
		asynq.RedisClientOpt{Addr: redisAddr},
		&asynq.SchedulerOpts{Logger: &asynqLogger{logger: logger}},
	)

	handlers := NewHandlers(orchestrator, extract, transform, embed, logger)

	mux := asynq.NewServeMux()
	mux.HandleFunc(etlqueue.TypeExtraction, handlers.HandleExtraction)
	mux.HandleFunc(etlqueue.TypeTransform, handlers.HandleTransform)
	mux.HandleFunc(etlqueue.TypeEmbed, handlers.HandleEmbed)
	mux.HandleFunc(TypeOrchestratorTick, handlers.HandleOrchestratorTick)

	return &Server{server: server, scheduler: scheduler, mux: mux, handlers: handlers, logger: logger}, nil
}

// buildTenantQueueWeights assigns each active tenant's extraction,
// transform and embed queues a priority weight proportional to its
// tier's worker quota (premium tenants get more of the shared pool's
// attention than free-tier ones, without starving anyone entirely).
func buildTenantQueueWeights(ctx context.Context, tenants repository.TenantRepository) (map[string]int, error) {
	active, err := tenants.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", err)
	}

	queues := map[string]int{}
	for _, t := range active {
		weight := t.Tier.WorkerQuota()
		if weight < 1 {
			weight = 1
		}
		queues[etlqueue.ExtractionQueueName(t.ID.String())] = weight
		queues[etlqueue.TransformQueueName(t.ID.String())] = weight
		queues[etlqueue.EmbedQueueName(t.ID.String())] = weight
	}
	// Always include a zero-tenant default queue so scheduled tasks
	// (orchestrator tick) have somewhere to run even with no tenants yet.
	queues[QueueOrchestrator] = 1
	return queues, nil
}

// Run starts the Asynq server and scheduler. It blocks until the server
// is shut down.
func (s *Server) Run() error {
	s.logger.Info("starting asynq worker server")

	if _, err := s.scheduler.Register("@every 1m", NewOrchestratorTickTask()); err != nil {
		s.logger.Error("failed to register orchestrator tick task", "error", err)
		return err
	}
	s.logger.Info("registered orchestrator tick task", "schedule", "@every 1m")

	go func() {
		if err := s.scheduler.Run(); err != nil {
			s.logger.Error("scheduler error", "error", err)
		}
	}()

	return s.server.Run(s.mux)
}

// Shutdown gracefully stops the server and scheduler.
func (s *Server) Shutdown() {
	s.logger.Info("shutting down asynq worker server")
	s.scheduler.Shutdown()
	s.server.Shutdown()
}

// asynqLogger adapts domainservice.Logger to asynq's logger interface.
type asynqLogger struct {
	logger domainservice.Logger
}

func (l *asynqLogger) Debug(args ...interface{}) { l.logger.Debug("asynq", "msg", args) }
func (l *asynqLogger) Info(args ...interface{})  { l.logger.Info("asynq", "msg", args) }
func (l *asynqLogger) Warn(args ...interface{})  { l.logger.Warn("asynq", "msg", args) }
func (l *asynqLogger) Error(args ...interface{}) { l.logger.Error("asynq", "msg", args) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.logger.Error("asynq fatal", "msg", args) }
