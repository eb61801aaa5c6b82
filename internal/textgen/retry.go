package textgen

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"analyzer-backend/internal/shared/telemetry"
)

// RetryPolicy bounds retries of generator calls.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy makes up to three attempts starting at 300ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialInterval: 300 * time.Millisecond, MaxInterval: 5 * time.Second}
}

type retrying struct {
	base   Generator
	policy RetryPolicy
}

// WithRetry retries Generate and the opening of Stream on transient errors.
// Chunks already delivered are never replayed, so nothing is retried mid-stream.
func WithRetry(g Generator, policy RetryPolicy) Generator {
	if g == nil {
		return nil
	}
	if policy.MaxAttempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return retrying{base: g, policy: policy}
}

func (r retrying) Generate(ctx context.Context, req Request) (string, error) {
	var out string
	err := r.do(ctx, "generate", func() error {
		var err error
		out, err = r.base.Generate(ctx, req)
		return err
	})
	return out, err
}

func (r retrying) Stream(ctx context.Context, req Request) (*Stream, error) {
	var out *Stream
	err := r.do(ctx, "stream_open", func() error {
		var err error
		out, err = r.base.Stream(ctx, req)
		return err
	})
	return out, err
}

func (r retrying) do(ctx context.Context, op string, call func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.policy.InitialInterval
	if r.policy.MaxInterval > 0 {
		b.MaxInterval = r.policy.MaxInterval
	}
	b.MaxElapsedTime = 0

	var retries uint64
	if r.policy.MaxAttempts > 1 {
		retries = uint64(r.policy.MaxAttempts - 1)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)

	attempt := 0
	return backoff.RetryNotify(func() error {
		attempt++
		err := call()
		if err == nil {
			return nil
		}
		if !ShouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		telemetry.Warn("textgen.retry", map[string]any{
			"op":      op,
			"attempt": attempt,
			"wait_ms": wait.Milliseconds(),
			"error":   err,
		})
	})
}

// ShouldRetry reports whether err looks transient: timeouts, 5xx, 429 or a dropped connection.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500 || statusErr.StatusCode == 429
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "server_error") {
		return true
	}
	if strings.Contains(msg, "client.timeout") || strings.Contains(msg, "request timeout") {
		return true
	}
	if strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "unexpected eof") {
		return true
	}
	return false
}
