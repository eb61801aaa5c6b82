package queue

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by handlers when QUEUE_BACKEND is none.
var ErrNotConfigured = errors.New("job queue not configured")

// Client sends messages to a queue backend.
type Client interface {
	Send(ctx context.Context, msg Message) error
}
