package worker

import "github.com/hibiken/asynq"

// TypeOrchestratorTick is the scheduled task that drives
// OrchestratorService.Tick, replacing the per-tenant schedule polling
// that would otherwise require one scheduler entry per tenant.
const TypeOrchestratorTick = "pipeline:orchestrator_tick"

// QueueOrchestrator is a small fixed queue for the tick task itself,
// separate from any tenant's per-stage queues.
const QueueOrchestrator = "orchestrator"

// NewOrchestratorTickTask builds the scheduled, payload-less tick task.
func NewOrchestratorTickTask() *asynq.Task {
	return asynq.NewTask(TypeOrchestratorTick, nil, asynq.Queue(QueueOrchestrator), asynq.MaxRetry(1))
}
