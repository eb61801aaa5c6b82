package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/hibiken/asynq"

	"analyzer-backend/internal/bootstrap"
	"analyzer-backend/internal/queue"
	"analyzer-backend/internal/shared/config"
	"analyzer-backend/internal/shared/metrics"
	"analyzer-backend/internal/shared/telemetry"
	"analyzer-backend/internal/workerproc"
)

const defaultSQSRegion = "us-east-1"

func main() {
	cfg := config.Load()
	telemetry.Setup(telemetry.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: "worker"})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.Build(ctx, cfg, bootstrap.RoleWorker)
	if err != nil {
		log.Fatalf("bootstrap build: %v", err)
	}
	defer app.Close()
	if app.Events == nil {
		telemetry.Warn("worker.no_event_relay", map[string]any{"reason": "REDIS_ADDR empty; run events will not reach subscribers"})
	}

	switch cfg.QueueBackend {
	case "asynq":
		err = runAsynq(cfg, app.Processor)
	case "sqs":
		err = runSQS(ctx, cfg, app.Processor)
	default:
		err = errors.New("QUEUE_BACKEND must be asynq or sqs for the worker")
	}
	if err != nil {
		log.Fatalf("worker: %v", err)
	}
}

func runAsynq(cfg config.Config, processor *workerproc.Processor) error {
	srv := asynq.NewServer(
		queue.RedisOpt(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB),
		asynq.Config{
			Concurrency:     max(1, cfg.WorkerConcurrency),
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
	)
	telemetry.Info("worker.started", map[string]any{"backend": "asynq", "concurrency": cfg.WorkerConcurrency})
	// Run blocks until SIGINT or SIGTERM and drains in-flight tasks.
	return srv.Run(workerproc.NewServeMux(processor))
}

func runSQS(ctx context.Context, cfg config.Config, processor messageProcessor) error {
	queueURL := strings.TrimSpace(cfg.SQSQueueURL)
	region := cfg.AWSRegion
	if region == "" {
		region = defaultSQSRegion
	}
	visibilitySeconds := int32(cfg.SQSVisibility / time.Second)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return err
	}
	var sqsClient sqsAPI = sqs.NewFromConfig(awsCfg)

	concurrency := max(1, cfg.WorkerConcurrency)
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	telemetry.Info("worker.started", map[string]any{
		"backend":     "sqs",
		"queue":       queueURL,
		"concurrency": concurrency,
		"visibility":  visibilitySeconds,
	})

pollLoop:
	for {
		select {
		case <-ctx.Done():
			break pollLoop
		default:
		}

		resp, err := sqsClient.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:                    aws.String(queueURL),
			MaxNumberOfMessages:         10,
			WaitTimeSeconds:             20,
			VisibilityTimeout:           visibilitySeconds,
			MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameApproximateReceiveCount},
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				break pollLoop
			}
			telemetry.Error("worker.receive_failed", map[string]any{"error": err})
			continue
		}

		for _, msg := range resp.Messages {
			select {
			case <-ctx.Done():
				break pollLoop
			case sem <- struct{}{}:
			}
			metrics.IncJobsReceived()
			wg.Add(1)
			go func(m sqstypes.Message) {
				defer wg.Done()
				defer func() { <-sem }()
				// In-flight runs finish and delete their message after a shutdown signal.
				handleMessage(context.WithoutCancel(ctx), sqsClient, queueURL, processor, m)
			}(msg)
		}
	}

	telemetry.Info("worker.shutdown", map[string]any{"timeout": cfg.ShutdownTimeout.String()})
	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()
	select {
	case <-waitDone:
	case <-time.After(cfg.ShutdownTimeout):
		telemetry.Warn("worker.shutdown_timeout", map[string]any{"reason": "exiting with in-flight jobs"})
	}
	return nil
}

type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

type messageProcessor interface {
	Process(ctx context.Context, msg queue.Message) error
}

// handleMessage runs one SQS message. Unusable payloads are deleted; failed
// runs are left for redelivery after the visibility timeout.
func handleMessage(ctx context.Context, client sqsAPI, queueURL string, processor messageProcessor, msg sqstypes.Message) {
	body := aws.ToString(msg.Body)
	decoded, meta, err := workerproc.ParseMessage(body)
	if err != nil {
		fields := baseFields(msg, decoded.RunID, decoded.RequestID)
		fields["body_len"] = meta.BodyLen
		if meta.BodySHA != "" {
			fields["body_sha256"] = meta.BodySHA
		}
		fields["error"] = err.Error()

		var invalid workerproc.ErrInvalidMessage
		var empty workerproc.ErrEmptyBody
		switch {
		case errors.As(err, &empty):
			telemetry.Error("worker.analysis.empty_body", fields)
		case errors.As(err, &invalid):
			telemetry.Error("worker.analysis.invalid_message", fields)
		default:
			telemetry.Error("worker.analysis.decode_failed", fields)
		}
		if deleteMessage(ctx, client, queueURL, msg, decoded.RunID, decoded.RequestID) {
			metrics.IncJobsDeletedUnrecoverable()
		}
		return
	}

	telemetry.Info("worker.analysis.received", baseFields(msg, decoded.RunID, decoded.RequestID))

	if err := processor.Process(ctx, decoded); err != nil {
		fields := baseFields(msg, decoded.RunID, decoded.RequestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.analysis.failed", fields)
		metrics.IncJobsFailed()
		return
	}

	if deleteMessage(ctx, client, queueURL, msg, decoded.RunID, decoded.RequestID) {
		telemetry.Info("worker.analysis.completed", baseFields(msg, decoded.RunID, decoded.RequestID))
		metrics.IncJobsCompleted()
	}
}

func deleteMessage(ctx context.Context, client sqsAPI, queueURL string, msg sqstypes.Message, runID, requestID string) bool {
	receipt := aws.ToString(msg.ReceiptHandle)
	if receipt == "" {
		fields := baseFields(msg, runID, requestID)
		fields["error"] = "missing receipt handle"
		telemetry.Error("worker.analysis.delete_failed", fields)
		return false
	}
	if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(queueURL),
		ReceiptHandle: aws.String(receipt),
	}); err != nil {
		fields := baseFields(msg, runID, requestID)
		fields["error"] = err.Error()
		telemetry.Error("worker.analysis.delete_failed", fields)
		return false
	}
	return true
}

func baseFields(msg sqstypes.Message, runID, requestID string) map[string]any {
	fields := map[string]any{
		"run_id":         runID,
		"sqs_message_id": aws.ToString(msg.MessageId),
		"receive_count":  receiveCount(msg),
	}
	if strings.TrimSpace(requestID) != "" {
		fields["request_id"] = requestID
	}
	return fields
}

func receiveCount(msg sqstypes.Message) int {
	if msg.Attributes == nil {
		return 0
	}
	raw := msg.Attributes[string(sqstypes.MessageSystemAttributeNameApproximateReceiveCount)]
	if raw == "" {
		return 0
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return parsed
}
