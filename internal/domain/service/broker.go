package service

import (
	"context"

	"github.com/sogos/etlcore/internal/domain/queue"
)

// Broker abstracts the durable, per-tenant, per-stage message broker
// (spec §4, "durable per-tenant queues") so the application layer can
// publish stage messages without depending on the concrete asynq
// gateway.
type Broker interface {
	PublishExtraction(ctx context.Context, msg queue.ExtractionMessage) error
	PublishTransform(ctx context.Context, msg queue.TransformMessage) error
	PublishEmbed(ctx context.Context, msg queue.EmbedMessage) error
}
