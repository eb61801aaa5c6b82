package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"analyzer-backend/internal/queue"
)

type fakeSQS struct {
	deleted []string
}

func (f *fakeSQS) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	_ = ctx
	_ = params
	_ = optFns
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	_ = ctx
	_ = optFns
	f.deleted = append(f.deleted, aws.ToString(params.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

type fakeProcessor struct {
	err  error
	seen []queue.Message
}

func (f *fakeProcessor) Process(ctx context.Context, msg queue.Message) error {
	_ = ctx
	f.seen = append(f.seen, msg)
	return f.err
}

func TestWorkerDeletesMessageOnSuccess(t *testing.T) {
	client := &fakeSQS{}
	svc := &fakeProcessor{}
	msgBody, _ := queue.EncodeMessage(queue.Message{RunID: "run-1", OwnerID: 1, DocumentIDs: []int64{4}, RequestID: "req-1"})
	msg := sqstypes.Message{
		MessageId:     aws.String("m1"),
		ReceiptHandle: aws.String("r1"),
		Body:          aws.String(string(msgBody)),
		Attributes:    map[string]string{"ApproximateReceiveCount": "1"},
	}

	handleMessage(context.Background(), client, "queue", svc, msg)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
	if len(svc.seen) != 1 || svc.seen[0].RunID != "run-1" || svc.seen[0].DocumentIDs[0] != 4 {
		t.Fatalf("unexpected processed messages: %+v", svc.seen)
	}
}

func TestWorkerDoesNotDeleteOnFailure(t *testing.T) {
	client := &fakeSQS{}
	svc := &fakeProcessor{err: errors.New("boom")}
	msgBody, _ := queue.EncodeMessage(queue.Message{RunID: "run-2", OwnerID: 1, RequestID: "req-2"})
	msg := sqstypes.Message{
		MessageId:     aws.String("m2"),
		ReceiptHandle: aws.String("r2"),
		Body:          aws.String(string(msgBody)),
	}

	handleMessage(context.Background(), client, "queue", svc, msg)

	if len(client.deleted) != 0 {
		t.Fatalf("expected no delete, got %d", len(client.deleted))
	}
}

func TestWorkerDeletesOnInvalidJSON(t *testing.T) {
	client := &fakeSQS{}
	svc := &fakeProcessor{}
	msg := sqstypes.Message{
		MessageId:     aws.String("m3"),
		ReceiptHandle: aws.String("r3"),
		Body:          aws.String("{bad-json"),
	}

	handleMessage(context.Background(), client, "queue", svc, msg)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
	if len(svc.seen) != 0 {
		t.Fatalf("expected no processing, got %d", len(svc.seen))
	}
}

func TestWorkerDeletesMessageWithoutOwner(t *testing.T) {
	client := &fakeSQS{}
	svc := &fakeProcessor{}
	msgBody, _ := queue.EncodeMessage(queue.Message{RunID: "run-4"})
	msg := sqstypes.Message{
		MessageId:     aws.String("m4"),
		ReceiptHandle: aws.String("r4"),
		Body:          aws.String(string(msgBody)),
	}

	handleMessage(context.Background(), client, "queue", svc, msg)

	if len(client.deleted) != 1 {
		t.Fatalf("expected delete, got %d", len(client.deleted))
	}
	if len(svc.seen) != 0 {
		t.Fatalf("expected no processing, got %d", len(svc.seen))
	}
}

func TestReceiveCount(t *testing.T) {
	msg := sqstypes.Message{Attributes: map[string]string{"ApproximateReceiveCount": "3"}}
	if got := receiveCount(msg); got != 3 {
		t.Fatalf("expected 3, got %d", got)
	}
	if got := receiveCount(sqstypes.Message{}); got != 0 {
		t.Fatalf("expected 0, got %d", got)
	}
}
