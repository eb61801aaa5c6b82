package events

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestChannel(t *testing.T) {
	assert.Equal(t, "analysis:run-1", Channel("run-1"))
}

func TestSubscriptionForwardsPayloadsInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := make(chan *redis.Message, 2)
	src <- &redis.Message{Channel: Channel("r"), Payload: `{"status":"start"}`}
	src <- &redis.Message{Channel: Channel("r"), Payload: `{"status":"completed"}`}
	close(src)

	sub := newSubscription(src, func() error { return nil })
	var got []string
	for payload := range sub.Messages() {
		got = append(got, string(payload))
	}
	assert.Equal(t, []string{`{"status":"start"}`, `{"status":"completed"}`}, got)
	require.NoError(t, sub.Close())
}

func TestSubscriptionCloseStopsUnreadForwarding(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := make(chan *redis.Message, 1)
	src <- &redis.Message{Payload: "x"}
	closed := 0
	sub := newSubscription(src, func() error { closed++; return nil })

	// Let the forwarder block on the unread payload.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 1, closed)

	for range sub.Messages() {
	}
}
