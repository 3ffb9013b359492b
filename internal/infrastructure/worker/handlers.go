package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	appservice "github.com/sogos/etlcore/internal/application/service"
	domainerrors "github.com/sogos/etlcore/internal/domain/errors"
	domainqueue "github.com/sogos/etlcore/internal/domain/queue"
	domainservice "github.com/sogos/etlcore/internal/domain/service"
)

// Handlers holds the Asynq task handlers for the three pipeline stages
// and the orchestrator tick, generalized from the teacher's
// Handlers struct (one method per registered task type, each
// unmarshaling its payload and delegating to an application service).
type Handlers struct {
	orchestrator *appservice.OrchestratorService
	extract      *appservice.ExtractService
	transform    *appservice.TransformService
	embed        *appservice.EmbedService
	logger       domainservice.Logger
}

func NewHandlers(
	orchestrator *appservice.OrchestratorService,
	extract *appservice.ExtractService,
	transform *appservice.TransformService,
	embed *appservice.EmbedService,
	logger domainservice.Logger,
) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		extract:      extract,
		transform:    transform,
		embed:        embed,
		logger:       logger,
	}
}

func (h *Handlers) HandleOrchestratorTick(ctx context.Context, t *asynq.Task) error {
	if err := h.orchestrator.Tick(ctx); err != nil {
		h.logger.Error("orchestrator tick failed", "error", err)
		return err
	}
	return nil
}

func (h *Handlers) HandleExtraction(ctx context.Context, t *asynq.Task) error {
	var msg domainqueue.ExtractionMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("unmarshal extraction payload: %w: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With("task", t.Type(), "tenant_id", msg.TenantID, "job_id", msg.JobID)
	if err := h.extract.HandleExtraction(ctx, msg); err != nil {
		return h.classify(ctx, log, msg.TenantID, msg.JobID, err)
	}
	return nil
}

func (h *Handlers) HandleTransform(ctx context.Context, t *asynq.Task) error {
	var msg domainqueue.TransformMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("unmarshal transform payload: %w: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With("task", t.Type(), "tenant_id", msg.TenantID, "job_id", msg.JobID)
	if err := h.transform.HandleTransform(ctx, msg); err != nil {
		return h.classify(ctx, log, msg.TenantID, msg.JobID, err)
	}
	return nil
}

func (h *Handlers) HandleEmbed(ctx context.Context, t *asynq.Task) error {
	var msg domainqueue.EmbedMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return fmt.Errorf("unmarshal embed payload: %w: %w", err, asynq.SkipRetry)
	}

	log := h.logger.With("task", t.Type(), "tenant_id", msg.TenantID, "job_id", msg.JobID)
	if err := h.embed.HandleEmbed(ctx, msg); err != nil {
		return h.classify(ctx, log, msg.TenantID, msg.JobID, err)
	}
	return nil
}

// classify decides, per the error taxonomy of spec §7, whether asynq
// should retry a failed task or give up. KindTransient is returned
// unwrapped so asynq retries with its configured back-off; every other
// kind fails the job outright (no point retrying a handler that will
// deterministically fail again) and is marked asynq.SkipRetry.
func (h *Handlers) classify(ctx context.Context, log domainservice.Logger, tenantID, jobID uuid.UUID, cause error) error {
	kind := domainerrors.KindOf(cause)
	if kind == domainerrors.KindTransient {
		log.Warn("transient failure, retrying", "error", cause)
		return cause
	}

	log.Error("permanent failure, failing job", "error", cause, "kind", kind)
	if failErr := h.orchestrator.FailJob(ctx, tenantID, jobID, cause); failErr != nil {
		log.Error("failed to mark job failed", "error", failErr)
	}

	return fmt.Errorf("%w: %w", cause, asynq.SkipRetry)
}
