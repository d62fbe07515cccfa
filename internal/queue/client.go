package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ErrDuplicateJob is returned when a render with the same job ID is already
// queued or retained.
var ErrDuplicateJob = errors.New("render job already queued")

// RetryPolicy bounds how long and how often one render may run.
type RetryPolicy struct {
	MaxRetry  int
	Timeout   time.Duration
	Retention time.Duration
}

var DefaultRetryPolicy = RetryPolicy{
	MaxRetry:  5,
	Timeout:   2 * time.Minute,
	Retention: 24 * time.Hour,
}

type Client struct {
	client *asynq.Client
	queue  string
	policy RetryPolicy
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
		policy: DefaultRetryPolicy,
	}
}

// EnqueueRender schedules a render job. The job ID doubles as the task ID.
func (c *Client) EnqueueRender(ctx context.Context, payload RenderImagePayload) (*asynq.TaskInfo, error) {
	task, err := NewRenderImageTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(ctx, task, c.options(payload.JobID)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, payload.JobID)
	}
	if err != nil {
		return nil, fmt.Errorf("enqueue render %s: %w", payload.JobID, err)
	}
	return info, nil
}

func (c *Client) options(jobID string) []asynq.Option {
	opts := []asynq.Option{
		asynq.Queue(c.queue),
		asynq.TaskID(jobID),
		asynq.MaxRetry(c.policy.MaxRetry),
	}
	if c.policy.Timeout > 0 {
		opts = append(opts, asynq.Timeout(c.policy.Timeout))
	}
	if c.policy.Retention > 0 {
		opts = append(opts, asynq.Retention(c.policy.Retention))
	}
	return opts
}

// Ping reports whether the broker is reachable.
func (c *Client) Ping() error {
	return c.client.Ping()
}

func (c *Client) Close() error {
	return c.client.Close()
}
