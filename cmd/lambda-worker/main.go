package main

// Build the Lambda handler binary:
//   GOOS=linux GOARCH=amd64 CGO_ENABLED=0 go build -o bootstrap ./cmd/lambda-worker

import (
	"context"
	"sync"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"analyzer-backend/internal/bootstrap"
	"analyzer-backend/internal/shared/config"
	"analyzer-backend/internal/shared/metrics"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/workerproc"
)

var (
	initOnce  sync.Once
	initErr   error
	processor *workerproc.Processor
)

func initApp() {
	cfg := config.Load()
	telemetry.Setup(telemetry.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "lambda-worker"})
	built, err := bootstrap.Build(context.Background(), cfg, bootstrap.RoleWorker)
	if err != nil {
		initErr = err
		return
	}
	processor = built.Processor
}

func handler(ctx context.Context, event events.SQSEvent) (events.SQSEventResponse, error) {
	initOnce.Do(initApp)
	if initErr != nil {
		telemetry.Error("lambda.bootstrap_failed", map[string]any{"error": initErr})
		failures := make([]events.SQSBatchItemFailure, 0, len(event.Records))
		for _, record := range event.Records {
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
		return events.SQSEventResponse{BatchItemFailures: failures}, initErr
	}
	return processBatch(ctx, processor, event), nil
}

// processBatch reports failed runs for redelivery. Unusable bodies are
// acknowledged so they do not cycle through the queue.
func processBatch(ctx context.Context, p *workerproc.Processor, event events.SQSEvent) events.SQSEventResponse {
	failures := make([]events.SQSBatchItemFailure, 0)
	for _, record := range event.Records {
		metrics.IncJobsReceived()
		err := workerproc.HandleMessage(ctx, p, record.Body)
		switch {
		case err == nil:
			metrics.IncJobsCompleted()
		case workerproc.IsUnrecoverable(err):
			telemetry.Error("worker.analysis.decode_failed", map[string]any{"sqs_message_id": record.MessageId, "error": err.Error()})
			metrics.IncJobsDeletedUnrecoverable()
		default:
			telemetry.Error("worker.analysis.failed", map[string]any{"sqs_message_id": record.MessageId, "error": err.Error()})
			metrics.IncJobsFailed()
			failures = append(failures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return events.SQSEventResponse{BatchItemFailures: failures}
}

func main() {
	lambda.Start(handler)
}
