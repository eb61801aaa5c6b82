package workerproc

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"analyzer-backend/internal/queue"
	"analyzer-backend/internal/shared/metrics"
	"analyzer-backend/internal/shared/telemetry"
)

// ProcessTask makes Processor an asynq.Handler for queue.TaskTypeAnalysis.
// Unusable payloads are archived without retry.
func (p *Processor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	metrics.IncJobsReceived()
	taskID, _ := asynq.GetTaskID(ctx)
	fields := map[string]any{"task_id": taskID, "task_type": t.Type()}

	msg, meta, err := ParseMessage(string(t.Payload()))
	if err != nil {
		fields["body_len"] = meta.BodyLen
		fields["body_sha256"] = meta.BodySHA
		fields["error"] = err.Error()
		telemetry.Error("worker.analysis.decode_failed", fields)
		metrics.IncJobsDeletedUnrecoverable()
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	fields["run_id"] = msg.RunID
	if msg.RequestID != "" {
		fields["request_id"] = msg.RequestID
	}
	telemetry.Info("worker.analysis.received", fields)

	if err := p.Process(ctx, msg); err != nil {
		fields["error"] = err.Error()
		telemetry.Error("worker.analysis.failed", fields)
		metrics.IncJobsFailed()
		return err
	}

	telemetry.Info("worker.analysis.completed", fields)
	metrics.IncJobsCompleted()
	return nil
}

// NewServeMux routes analysis tasks to p.
func NewServeMux(p *Processor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(queue.TaskTypeAnalysis, p)
	return mux
}
