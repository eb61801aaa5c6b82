// Package events relays analysis progress between the worker that runs a
// queued analysis and the API process streaming it to the client.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"analyzer-backend/internal/shared/telemetry"
)

const channelPrefix = "analysis:"

// Channel returns the pub/sub channel for a run.
func Channel(runID string) string {
	return channelPrefix + runID
}

// Publisher sends one encoded event for a run.
type Publisher interface {
	Publish(ctx context.Context, runID string, payload []byte) error
}

// Subscription delivers raw payloads until Close.
type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

// Subscriber opens a live feed of a run's encoded events.
type Subscriber interface {
	Subscribe(ctx context.Context, runID string) (Subscription, error)
}

// Bus is a Redis pub/sub backed Publisher and Subscriber. Late subscribers
// miss earlier events; there is no replay.
type Bus struct {
	client redis.UniversalClient
}

// NewBus wraps an existing Redis client.
func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

// NewRedisClient opens a client for the given address.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
}

func (b *Bus) Publish(ctx context.Context, runID string, payload []byte) error {
	if err := b.client.Publish(ctx, Channel(runID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe waits for the subscription to be confirmed so that events
// published after it returns are not lost.
func (b *Bus) Subscribe(ctx context.Context, runID string) (Subscription, error) {
	ps := b.client.Subscribe(ctx, Channel(runID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}
	return newSubscription(ps.Channel(), ps.Close), nil
}

// Ping reports whether Redis is reachable.
func (b *Bus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

type redisSubscription struct {
	messages chan []byte
	done     chan struct{}
	closer   func() error
	once     sync.Once
}

func newSubscription(src <-chan *redis.Message, closer func() error) *redisSubscription {
	s := &redisSubscription{messages: make(chan []byte), done: make(chan struct{}), closer: closer}
	go func() {
		defer close(s.messages)
		for {
			select {
			case msg, ok := <-src:
				if !ok {
					return
				}
				select {
				case s.messages <- []byte(msg.Payload):
				case <-s.done:
					return
				}
			case <-s.done:
				return
			}
		}
	}()
	return s
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.messages
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.closer()
		if err != nil {
			telemetry.Warn("events.close_failed", map[string]any{"error": err})
		}
	})
	return err
}

var (
	_ Publisher  = (*Bus)(nil)
	_ Subscriber = (*Bus)(nil)
)
