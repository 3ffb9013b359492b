package queue

import (
	"context"

	"github.com/hibiken/asynq"

	domainqueue "github.com/sogos/etlcore/internal/domain/queue"
	"github.com/sogos/etlcore/internal/domain/service"
)

// Client implements service.Broker over an asynq.Client.
type Client struct {
	asynqClient *asynq.Client
	maxRetry    int
}

// NewClient builds a Client from a Redis connection option, following
// the teacher's worker client construction.
func NewClient(redisOpt asynq.RedisConnOpt, maxRetry int) *Client {
	return &Client{asynqClient: asynq.NewClient(redisOpt), maxRetry: maxRetry}
}

var _ service.Broker = (*Client)(nil)

func (c *Client) PublishExtraction(ctx context.Context, msg domainqueue.ExtractionMessage) error {
	task, err := NewExtractionTask(msg, c.maxRetry)
	if err != nil {
		return err
	}
	_, err = c.asynqClient.EnqueueContext(ctx, task)
	return err
}

func (c *Client) PublishTransform(ctx context.Context, msg domainqueue.TransformMessage) error {
	task, err := NewTransformTask(msg, c.maxRetry)
	if err != nil {
		return err
	}
	_, err = c.asynqClient.EnqueueContext(ctx, task)
	return err
}

func (c *Client) PublishEmbed(ctx context.Context, msg domainqueue.EmbedMessage) error {
	task, err := NewEmbedTask(msg, c.maxRetry)
	if err != nil {
		return err
	}
	_, err = c.asynqClient.EnqueueContext(ctx, task)
	return err
}

// Close releases the underlying asynq client's connections.
func (c *Client) Close() error { return c.asynqClient.Close() }
