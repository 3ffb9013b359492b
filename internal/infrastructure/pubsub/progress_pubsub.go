// Package pubsub broadcasts per-tenant job progress over Redis pub/sub,
// generalized from the teacher's RedisPubSub (itself built around a
// per-user notification channel) to a per-tenant job-progress channel;
// plain JSON replaces the teacher's protojson encoding since this
// domain's ProgressEvent carries no protobuf-generated fields.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/sogos/etlcore/internal/domain/service"
	"github.com/sogos/etlcore/internal/domain/valueobject"
)

// ProgressEvent reports one job ladder status transition to any
// operator dashboard subscribed to a tenant's channel (spec §6).
type ProgressEvent struct {
	TenantID  uuid.UUID             `json:"tenant_id"`
	JobID     uuid.UUID             `json:"job_id"`
	JobName   string                `json:"job_name"`
	Status    valueobject.JobStatus `json:"status"`
	StepName  string                `json:"step_name,omitempty"`
	Message   string                `json:"message,omitempty"`
	EmittedAt time.Time             `json:"emitted_at"`
}

// Publisher publishes progress events to a tenant's channel.
type Publisher interface {
	PublishProgress(ctx context.Context, event ProgressEvent) error
}

// Subscriber subscribes to a tenant's progress channel.
type Subscriber interface {
	SubscribeTenant(ctx context.Context, tenantID uuid.UUID) (<-chan ProgressEvent, func(), error)
}

// ProgressPubSub implements Publisher and Subscriber over Redis pub/sub.
type ProgressPubSub struct {
	client *redis.Client
	logger service.Logger
}

func NewProgressPubSub(client *redis.Client, logger service.Logger) *ProgressPubSub {
	return &ProgressPubSub{client: client, logger: logger}
}

func tenantChannel(tenantID uuid.UUID) string {
	return fmt.Sprintf("progress:tenant:%s", tenantID)
}

func (p *ProgressPubSub) PublishProgress(ctx context.Context, event ProgressEvent) error {
	channel := tenantChannel(event.TenantID)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}

	p.logger.Debug("published progress event", "channel", channel, "job_id", event.JobID, "status", event.Status)
	return nil
}

func (p *ProgressPubSub) SubscribeTenant(ctx context.Context, tenantID uuid.UUID) (<-chan ProgressEvent, func(), error) {
	channel := tenantChannel(tenantID)

	sub := p.client.Subscribe(ctx, channel)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, nil, fmt.Errorf("subscribe to channel %s: %w", channel, err)
	}

	eventCh := make(chan ProgressEvent, 16)

	go func() {
		defer close(eventCh)

		msgCh := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgCh:
				if !ok {
					return
				}

				var event ProgressEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					p.logger.Error("failed to unmarshal progress event", "error", err)
					continue
				}

				select {
				case eventCh <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	cleanup := func() { sub.Close() }

	p.logger.Debug("subscribed to tenant progress", "channel", channel)
	return eventCh, cleanup, nil
}

func (p *ProgressPubSub) Close() error {
	return p.client.Close()
}

// NoOpPubSub is used when EnableProgressPubSub is false, so callers
// don't have to branch on a nil Publisher.
type NoOpPubSub struct{}

func NewNoOpPubSub() *NoOpPubSub { return &NoOpPubSub{} }

func (p *NoOpPubSub) PublishProgress(ctx context.Context, event ProgressEvent) error { return nil }

func (p *NoOpPubSub) SubscribeTenant(ctx context.Context, tenantID uuid.UUID) (<-chan ProgressEvent, func(), error) {
	ch := make(chan ProgressEvent)
	close(ch)
	return ch, func() {}, nil
}
