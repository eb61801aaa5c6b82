package textgen

import (
	"context"
	"fmt"
	"strings"
)

const streamBuffer = 16

// Stream is a single-pass, single-consumer sequence of text chunks. The
// consumer must drain Chunks or cancel the producing context.
type Stream struct {
	chunks chan string
	done   chan struct{}
	err    error
}

// Emit hands one chunk to the consumer, blocking while the buffer is full.
type Emit func(chunk string) error

// NewStream runs produce in its own goroutine and exposes what it emits.
// A panic inside produce ends the stream with an error.
func NewStream(ctx context.Context, produce func(ctx context.Context, emit Emit) error) *Stream {
	s := &Stream{
		chunks: make(chan string, streamBuffer),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		defer close(s.chunks)
		defer func() {
			if r := recover(); r != nil {
				s.err = fmt.Errorf("stream producer panic: %v", r)
			}
		}()
		s.err = produce(ctx, func(chunk string) error {
			select {
			case s.chunks <- chunk:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	}()
	return s
}

// NewStaticStream replays fixed chunks and then ends with err.
func NewStaticStream(chunks []string, err error) *Stream {
	s := &Stream{
		chunks: make(chan string, len(chunks)),
		done:   make(chan struct{}),
		err:    err,
	}
	for _, c := range chunks {
		s.chunks <- c
	}
	close(s.chunks)
	close(s.done)
	return s
}

// Chunks yields text in the order the provider produced it.
func (s *Stream) Chunks() <-chan string {
	return s.chunks
}

// Err returns the terminal error. It blocks until the producer has finished.
func (s *Stream) Err() error {
	<-s.done
	return s.err
}

// Collect drains the stream into one string.
func Collect(s *Stream) (string, error) {
	var sb strings.Builder
	for chunk := range s.Chunks() {
		sb.WriteString(chunk)
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return sb.String(), nil
}
