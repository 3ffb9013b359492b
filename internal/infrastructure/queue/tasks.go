// Package queue is the asynq-backed broker gateway: it turns domain
// queue.ExtractionMessage/TransformMessage/EmbedMessage envelopes into
// asynq tasks on durable, per-tenant, per-stage queues (spec §4,
// GLOSSARY "durable per-tenant queue"), grounded on the teacher's
// worker/tasks.go task-type and payload-struct conventions.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	domainqueue "github.com/sogos/etlcore/internal/domain/queue"
)

// Task type names, mirroring the teacher's TypeX naming convention.
const (
	TypeExtraction = "pipeline:extraction"
	TypeTransform  = "pipeline:transform"
	TypeEmbed      = "pipeline:embed"
)

// ExtractionQueueName, TransformQueueName and EmbedQueueName return the
// durable, per-tenant queue name for each stage (spec §4 "extraction.
// <tenant>", "transform.<tenant>", "embed.<tenant>").
func ExtractionQueueName(tenantID string) string { return fmt.Sprintf("extraction.%s", tenantID) }
func TransformQueueName(tenantID string) string  { return fmt.Sprintf("transform.%s", tenantID) }
func EmbedQueueName(tenantID string) string      { return fmt.Sprintf("embed.%s", tenantID) }

// NewExtractionTask builds the asynq task carrying one extraction
// message, queued on the tenant's extraction queue.
func NewExtractionTask(msg domainqueue.ExtractionMessage, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal extraction message: %w", err)
	}
	return asynq.NewTask(TypeExtraction, payload,
		asynq.Queue(ExtractionQueueName(msg.TenantID.String())),
		asynq.MaxRetry(maxRetry),
	), nil
}

// NewTransformTask builds the asynq task carrying one transform message.
func NewTransformTask(msg domainqueue.TransformMessage, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal transform message: %w", err)
	}
	return asynq.NewTask(TypeTransform, payload,
		asynq.Queue(TransformQueueName(msg.TenantID.String())),
		asynq.MaxRetry(maxRetry),
	), nil
}

// NewEmbedTask builds the asynq task carrying one embed message.
func NewEmbedTask(msg domainqueue.EmbedMessage, maxRetry int) (*asynq.Task, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal embed message: %w", err)
	}
	return asynq.NewTask(TypeEmbed, payload,
		asynq.Queue(EmbedQueueName(msg.TenantID.String())),
		asynq.MaxRetry(maxRetry),
	), nil
}
