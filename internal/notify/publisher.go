package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lyzr/canvas-engine/internal/logging"
)

// Publisher implements engine.Notifier by publishing JSON change events to
// Redis, where every fanout process's Subscriber picks them up regardless of
// which process handled the write (spec §6, grounded on the teacher's
// cmd/workflow-runner publishing to "workflow:events:{username}").
type Publisher struct {
	redis *redis.Client
	log   *logging.Logger
}

// NewPublisher creates a Publisher over an already-configured redis.Client.
func NewPublisher(client *redis.Client, log *logging.Logger) *Publisher {
	return &Publisher{redis: client, log: log}
}

type changeEvent struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

// NotifyRunChanged publishes a "run_changed" event on "canvas:changes:run:<id>".
func (p *Publisher) NotifyRunChanged(ctx context.Context, runID string) {
	p.publish(ctx, fmt.Sprintf("run:%s", runID), changeEvent{Type: "run_changed", ID: runID, Timestamp: time.Now()})
}

// NotifyEntityChanged publishes an "entity_changed" event on "canvas:changes:entity:<id>".
func (p *Publisher) NotifyEntityChanged(ctx context.Context, entityID string) {
	p.publish(ctx, fmt.Sprintf("entity:%s", entityID), changeEvent{Type: "entity_changed", ID: entityID, Timestamp: time.Now()})
}

func (p *Publisher) publish(ctx context.Context, subject string, event changeEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		p.log.Error("notify marshal failed", "subject", subject, "error", err)
		return
	}
	channel := "canvas:changes:" + subject
	if err := p.redis.Publish(ctx, channel, data).Err(); err != nil {
		p.log.Error("notify publish failed", "channel", channel, "error", err)
	}
}
