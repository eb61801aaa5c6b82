package main

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"analyzer-backend/internal/analysis"
	"analyzer-backend/internal/documents"
	"analyzer-backend/internal/queue"
	"analyzer-backend/internal/workerproc"
)

type failingStore struct{}

func (failingStore) FindMany(context.Context, documents.Filter) ([]documents.Document, error) {
	return nil, errors.New("db down")
}

func (failingStore) UpdateMany(context.Context, []int64, documents.Patch) error { return nil }

func TestProcessBatchReportsOnlyRetryableFailures(t *testing.T) {
	good, err := queue.EncodeMessage(queue.Message{RunID: "run-1", OwnerID: 1})
	require.NoError(t, err)

	failing := &workerproc.Processor{Analyzer: &analysis.Service{Repo: failingStore{}}}
	resp := processBatch(context.Background(), failing, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "bad", Body: "{nope"},
		{MessageId: "retry", Body: string(good)},
	}})

	require.Len(t, resp.BatchItemFailures, 1)
	assert.Equal(t, "retry", resp.BatchItemFailures[0].ItemIdentifier)
}

func TestProcessBatchEmptySelectionSucceeds(t *testing.T) {
	body, err := queue.EncodeMessage(queue.Message{RunID: "run-2", OwnerID: 1})
	require.NoError(t, err)

	p := &workerproc.Processor{Analyzer: &analysis.Service{Repo: documents.NewMemoryRepo()}}
	resp := processBatch(context.Background(), p, events.SQSEvent{Records: []events.SQSMessage{
		{MessageId: "m1", Body: string(body)},
	}})

	assert.Empty(t, resp.BatchItemFailures)
}
