package asyncx

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// Client enqueues memoized invocations on an asynq queue.
type Client struct {
	client *asynq.Client
	queue  string
}

type ClientOptions struct {
	Queue string
}

func NewClient(redisOpt asynq.RedisConnOpt, opts ClientOptions) *Client {
	q := opts.Queue
	if q == "" {
		q = "default"
	}
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  q,
	}
}

// Enqueue schedules task with inv as its arguments. Deduplication happens
// when the worker invokes it, not here.
func (c *Client) Enqueue(ctx context.Context, task string, inv Invocation, options ...asynq.Option) (*asynq.TaskInfo, error) {
	if c.client == nil {
		return nil, fmt.Errorf("nil asynq client")
	}
	if task == "" {
		return nil, fmt.Errorf("enqueue: empty task name")
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: encode invocation: %w", task, err)
	}
	t := asynq.NewTask(TypeName(task), payload)
	info, err := c.client.EnqueueContext(ctx, t, append([]asynq.Option{asynq.Queue(c.queue)}, options...)...)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", task, err)
	}
	return info, nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
