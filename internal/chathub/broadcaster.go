package chathub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Event kinds pushed to room topics.
const (
	EventChatMessage = "chat.message"
	EventChatJoin    = "chat.join"
	EventChatLeave   = "chat.leave"
	EventUserCount   = "connected.user.count"
)

// Event is one broadcast. Payload is encoded once per publish.
type Event struct {
	Kind    string
	Payload any
}

// Broadcaster fans events out to every subscriber of a topic.
type Broadcaster interface {
	Publish(ctx context.Context, topic string, ev Event) error
	Subscribe(topic string, sub Subscriber)
	Unsubscribe(topic string, sub Subscriber)
}

type topic struct {
	mu   sync.Mutex
	subs map[string]Subscriber
}

// LocalBroadcaster is the in-process Broadcaster. Delivery into a topic is
// serialized so every subscriber observes the same order; Subscriber.Deliver
// must not block while the topic lock is held.
type LocalBroadcaster struct {
	mu     sync.Mutex
	topics map[string]*topic
	log    *logrus.Entry
}

func NewLocalBroadcaster() *LocalBroadcaster {
	return &LocalBroadcaster{
		topics: make(map[string]*topic),
		log:    logrus.WithField("component", "broadcaster"),
	}
}

func encodeEvent(ev Event) ([]byte, error) {
	frame, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.Kind, err)
	}
	return frame, nil
}

func (b *LocalBroadcaster) Publish(ctx context.Context, name string, ev Event) error {
	frame, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	b.Deliver(name, frame)
	return nil
}

// Deliver hands an encoded frame to the current subscribers of a topic and
// returns how many accepted it.
func (b *LocalBroadcaster) Deliver(name string, frame []byte) int {
	b.mu.Lock()
	t := b.topics[name]
	b.mu.Unlock()
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	delivered := 0
	for id, sub := range t.subs {
		if sub.Deliver(frame) {
			delivered++
			continue
		}
		b.log.WithFields(logrus.Fields{"topic": name, "subscriber": id}).Warn("frame dropped")
	}
	return delivered
}

func (b *LocalBroadcaster) Subscribe(name string, sub Subscriber) {
	b.mu.Lock()
	t, ok := b.topics[name]
	if !ok {
		t = &topic{subs: make(map[string]Subscriber)}
		b.topics[name] = t
	}
	t.mu.Lock()
	t.subs[sub.ID()] = sub
	t.mu.Unlock()
	b.mu.Unlock()
}

func (b *LocalBroadcaster) Unsubscribe(name string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[name]
	if !ok {
		return
	}
	t.mu.Lock()
	delete(t.subs, sub.ID())
	empty := len(t.subs) == 0
	t.mu.Unlock()
	if empty {
		delete(b.topics, name)
	}
}

// Subscribers returns the number of subscribers on a topic.
func (b *LocalBroadcaster) Subscribers(name string) int {
	b.mu.Lock()
	t := b.topics[name]
	b.mu.Unlock()
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}
