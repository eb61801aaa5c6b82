package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

// Runs are finalized by the pipeline itself, so a retried task would find no
// uploaded documents left. Tasks are therefore never retried.
const asynqTaskTimeout = 15 * time.Minute

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// AsynqClient enqueues analysis runs as asynq tasks in Redis.
type AsynqClient struct {
	client enqueuer
}

// RedisOpt builds the asynq connection options shared by client and server.
func RedisOpt(addr, password string, db int) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: addr, Password: password, DB: db}
}

func NewAsynqClient(opt asynq.RedisClientOpt) *AsynqClient {
	return &AsynqClient{client: asynq.NewClient(opt)}
}

func (a *AsynqClient) Send(ctx context.Context, msg Message) error {
	payload, err := EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encode asynq payload: %w", err)
	}
	task := asynq.NewTask(TaskTypeAnalysis, payload)
	_, err = a.client.EnqueueContext(ctx, task,
		asynq.TaskID(msg.RunID),
		asynq.MaxRetry(0),
		asynq.Timeout(asynqTaskTimeout),
	)
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", TaskTypeAnalysis, err)
	}
	return nil
}

func (a *AsynqClient) Close() error {
	return a.client.Close()
}

var _ Client = (*AsynqClient)(nil)
