package notify

import (
	"context"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/canvas-engine/internal/logging"
)

// channelPattern is the Redis Pub/Sub pattern every Publisher channel
// matches: "canvas:changes:<subject>", e.g. "canvas:changes:run:r1".
const channelPattern = "canvas:changes:*"

// Subscriber listens to Redis Pub/Sub and forwards events into a Hub.
type Subscriber struct {
	redis *redis.Client
	hub   *Hub
	log   *logging.Logger
}

// NewSubscriber creates a Subscriber over an already-configured redis.Client.
func NewSubscriber(client *redis.Client, hub *Hub, log *logging.Logger) *Subscriber {
	return &Subscriber{redis: client, hub: hub, log: log}
}

// Start subscribes to the fanout pattern and forwards events until ctx is
// cancelled. Intended to run in its own goroutine.
func (s *Subscriber) Start(ctx context.Context) {
	pubsub := s.redis.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		s.log.Error("notify subscriber failed to subscribe", "pattern", channelPattern, "error", err)
		return
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-ch:
			if msg == nil {
				continue
			}
			subject := subjectFromChannel(msg.Channel)
			if subject == "" {
				continue
			}
			s.hub.Publish(&Message{Subject: subject, Data: []byte(msg.Payload)})
		}
	}
}

// subjectFromChannel extracts the subject from a "canvas:changes:<subject>"
// channel name, e.g. "canvas:changes:run:r1" -> "run:r1".
func subjectFromChannel(channel string) string {
	const prefix = "canvas:changes:"
	if !strings.HasPrefix(channel, prefix) {
		return ""
	}
	return strings.TrimPrefix(channel, prefix)
}
