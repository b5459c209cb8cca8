package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// ErrAlreadyEnqueued is returned when a job's batch task is already queued.
var ErrAlreadyEnqueued = errors.New("job already enqueued")

type Client struct {
	client *asynq.Client
	queue  string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		client: asynq.NewClient(redisOpt),
		queue:  queueName,
	}
}

// EnqueueBatch queues one batch job. The job id doubles as the task id, so
// starting the same job twice does not produce two archives.
func (c *Client) EnqueueBatch(ctx context.Context, payload BatchPayload) (*asynq.TaskInfo, error) {
	task, err := NewBatchTask(payload)
	if err != nil {
		return nil, err
	}
	info, err := c.client.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.TaskID(payload.JobID),
		asynq.MaxRetry(5),
		asynq.Timeout(10*time.Minute),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyEnqueued, payload.JobID)
	}
	return info, err
}

// EnqueueSweep queues a one-off source sweep outside the schedule.
func (c *Client) EnqueueSweep(ctx context.Context, payload SweepPayload) (*asynq.TaskInfo, error) {
	task, err := NewSweepTask(payload)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, SweepOptions(c.queue)...)
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SweepOptions are shared by ad-hoc and scheduled sweeps. Only one sweep may
// be pending at a time.
func SweepOptions(queueName string) []asynq.Option {
	return []asynq.Option{
		asynq.Queue(queueName),
		asynq.MaxRetry(1),
		asynq.Timeout(2 * time.Hour),
		asynq.Unique(time.Hour),
	}
}

// RegisterSweep adds the recurring sweep to scheduler under a cron spec.
func RegisterSweep(scheduler *asynq.Scheduler, cronspec, queueName string, payload SweepPayload) (string, error) {
	task, err := NewSweepTask(payload)
	if err != nil {
		return "", err
	}
	entryID, err := scheduler.Register(cronspec, task, SweepOptions(queueName)...)
	if err != nil {
		return "", fmt.Errorf("register sweep schedule %q: %w", cronspec, err)
	}
	return entryID, nil
}
