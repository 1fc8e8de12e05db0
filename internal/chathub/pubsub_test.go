package chathub

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })
	require.NoError(t, rdb.Ping(context.Background()).Err())
	return rdb
}

func TestRedisBroadcaster_FansOutAcrossInstances(t *testing.T) {
	rdb := redisClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prefix := "test:chat:" + t.Name() + ":"
	a := NewRedisBroadcaster(rdb)
	a.Prefix = prefix
	b := NewRedisBroadcaster(rdb)
	b.Prefix = prefix

	ready := make(chan error, 2)
	for _, bus := range []*RedisBroadcaster{a, b} {
		go func(bus *RedisBroadcaster) { ready <- bus.Run(ctx) }(bus)
	}

	onA, onB := newRecorder(), newRecorder()
	a.Subscribe("PublicChatRoom-1", onA)
	b.Subscribe("PublicChatRoom-1", onB)

	// Subscriptions are confirmed asynchronously; publish until both see a frame.
	require.Eventually(t, func() bool {
		_ = a.Publish(ctx, "PublicChatRoom-1", Event{Kind: EventChatMessage, Payload: map[string]string{"message": "hi"}})
		return len(onA.decoded(t)) > 0 && len(onB.decoded(t)) > 0
	}, 5*time.Second, 100*time.Millisecond)

	assert.Equal(t, "hi", onB.decoded(t)[0]["message"])

	cancel()
	for i := 0; i < 2; i++ {
		assert.NoError(t, <-ready)
	}
}
