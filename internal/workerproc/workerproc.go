// Package workerproc turns queued analysis messages into pipeline runs whose
// events are relayed to the API over the event bus.
package workerproc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"analyzer-backend/internal/analysis"
	"analyzer-backend/internal/events"
	"analyzer-backend/internal/queue"
	"analyzer-backend/internal/shared/telemetry"
)

// MessageMeta captures details useful for logging and diagnostics.
type MessageMeta struct {
	BodyLen int
	BodySHA string
}

// ComputeMeta returns the body length and SHA-256 hash.
func ComputeMeta(body string) MessageMeta {
	if body == "" {
		return MessageMeta{BodyLen: 0, BodySHA: ""}
	}
	sum := sha256.Sum256([]byte(body))
	return MessageMeta{BodyLen: len(body), BodySHA: hex.EncodeToString(sum[:])}
}

// ErrEmptyBody indicates an empty queue payload.
type ErrEmptyBody struct {
	Meta MessageMeta
}

func (e ErrEmptyBody) Error() string { return "empty message body" }

// ErrDecode indicates a JSON decode failure.
type ErrDecode struct {
	Meta MessageMeta
	Err  error
}

func (e ErrDecode) Error() string {
	if e.Err == nil {
		return "decode message"
	}
	return "decode message: " + e.Err.Error()
}

// ErrInvalidMessage indicates a decoded message no worker can act on.
type ErrInvalidMessage struct {
	Meta      MessageMeta
	RunID     string
	RequestID string
	Err       error
}

func (e ErrInvalidMessage) Error() string {
	if e.Err == nil {
		return "invalid message"
	}
	return "invalid message: " + e.Err.Error()
}

// ErrProcess indicates processing failed after successful parsing.
type ErrProcess struct {
	RunID     string
	RequestID string
	Err       error
}

func (e ErrProcess) Error() string {
	if e.Err == nil {
		return "process analysis"
	}
	return "process analysis: " + e.Err.Error()
}

func (e ErrProcess) Unwrap() error { return e.Err }

// IsUnrecoverable reports whether redelivering the message cannot help.
func IsUnrecoverable(err error) bool {
	var (
		empty   ErrEmptyBody
		decode  ErrDecode
		invalid ErrInvalidMessage
	)
	return errors.As(err, &empty) || errors.As(err, &decode) || errors.As(err, &invalid)
}

// ParseMessage validates and decodes the queue payload.
func ParseMessage(body string) (queue.Message, MessageMeta, error) {
	meta := ComputeMeta(body)
	if strings.TrimSpace(body) == "" {
		return queue.Message{}, meta, ErrEmptyBody{Meta: meta}
	}

	msg, err := queue.DecodeMessage([]byte(body))
	if err != nil {
		return queue.Message{}, meta, ErrDecode{Meta: meta, Err: err}
	}
	if err := msg.Validate(); err != nil {
		return msg, meta, ErrInvalidMessage{Meta: meta, RunID: msg.RunID, RequestID: msg.RequestID, Err: err}
	}
	return msg, meta, nil
}

type parsedMessageKey struct{}

// WithParsedMessage stores a decoded message in the context for reuse.
func WithParsedMessage(ctx context.Context, msg queue.Message) context.Context {
	return context.WithValue(ctx, parsedMessageKey{}, msg)
}

func parsedMessageFromContext(ctx context.Context) (queue.Message, bool) {
	if ctx == nil {
		return queue.Message{}, false
	}
	msg, ok := ctx.Value(parsedMessageKey{}).(queue.Message)
	return msg, ok
}

// Analyzer starts pipeline runs. *analysis.Service implements it.
type Analyzer interface {
	Analyze(ctx context.Context, ownerID int64, ids []int64) *analysis.Run
}

// Processor runs queued analyses and publishes their events.
type Processor struct {
	Analyzer  Analyzer
	Publisher events.Publisher
}

// Process runs msg to completion. Every event is published to the run's
// channel; publish failures are logged and do not fail the run, since the
// documents' terminal state is already persisted by the pipeline.
func (p *Processor) Process(ctx context.Context, msg queue.Message) error {
	if p == nil || p.Analyzer == nil {
		return errors.New("analysis service not configured")
	}

	ctx = analysis.WithRequestID(ctx, msg.RequestID)
	run := p.Analyzer.Analyze(ctx, msg.OwnerID, msg.DocumentIDs)
	pubCtx := context.WithoutCancel(ctx)

	published := 0
	for evt := range run.Events() {
		if p.Publisher == nil {
			continue
		}
		payload, err := analysis.EncodeEvent(evt)
		if err != nil {
			telemetry.Error("worker.analysis.encode_failed", map[string]any{"run_id": msg.RunID, "error": err})
			continue
		}
		if err := p.Publisher.Publish(pubCtx, msg.RunID, payload); err != nil {
			telemetry.Warn("worker.analysis.publish_failed", map[string]any{
				"run_id":     msg.RunID,
				"request_id": msg.RequestID,
				"status":     evt.Status,
				"error":      err,
			})
			continue
		}
		published++
	}

	if err := run.Err(); err != nil {
		return ErrProcess{RunID: msg.RunID, RequestID: msg.RequestID, Err: err}
	}
	telemetry.Debug("worker.analysis.relayed", map[string]any{"run_id": msg.RunID, "events": published})
	return nil
}

// HandleMessage parses, validates, and processes a message payload.
func HandleMessage(ctx context.Context, p *Processor, body string) error {
	if p == nil {
		return errors.New("analysis service not configured")
	}

	msg, ok := parsedMessageFromContext(ctx)
	if !ok {
		var err error
		msg, _, err = ParseMessage(body)
		if err != nil {
			return err
		}
	}
	return p.Process(ctx, msg)
}
