package chathub

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// DefaultChannelPrefix namespaces room topics on the Redis bus.
const DefaultChannelPrefix = "chat:room:"

// RedisBroadcaster publishes through Redis Pub/Sub so sessions on any server
// process receive room events. Subscriptions stay local; Run fans frames
// arriving from Redis into the local subscriber sets.
type RedisBroadcaster struct {
	*LocalBroadcaster
	Redis  *redis.Client
	Prefix string
	log    *logrus.Entry
}

func NewRedisBroadcaster(rdb *redis.Client) *RedisBroadcaster {
	return &RedisBroadcaster{
		LocalBroadcaster: NewLocalBroadcaster(),
		Redis:            rdb,
		Prefix:           DefaultChannelPrefix,
		log:              logrus.WithField("component", "redis-broadcaster"),
	}
}

// Publish blocks until Redis accepted the frame, so successive publishes
// from one session keep their order.
func (b *RedisBroadcaster) Publish(ctx context.Context, name string, ev Event) error {
	frame, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	if err := b.Redis.Publish(ctx, b.Prefix+name, frame).Err(); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Kind, name, err)
	}
	return nil
}

// Run listens on every room channel until ctx is done.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	pubsub := b.Redis.PSubscribe(ctx, b.Prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription confirmation before reporting ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s*: %w", b.Prefix, err)
	}
	b.log.WithField("pattern", b.Prefix+"*").Info("listening for room events")

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			name := strings.TrimPrefix(msg.Channel, b.Prefix)
			b.LocalBroadcaster.Deliver(name, []byte(msg.Payload))
		}
	}
}
