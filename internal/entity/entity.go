// Package entity implements Entity Movement & Journey (C8): applying a
// Worker node's configured success/failure move to its bound entity and
// appending the resulting append-only journey events (spec.md §4.8).
package entity

import (
	"context"
	"fmt"
	"time"

	"github.com/lyzr/canvas-engine/internal/models"
)

// Store is the subset of internal/store entity movement needs.
type Store interface {
	MoveEntity(ctx context.Context, entityID string, nodeID, edgeID *string, edgeProgress *float64, event models.JourneyEvent) error
	AppendJourneyEvent(ctx context.Context, entityID string, event models.JourneyEvent) error
}

// Mover applies entity movement rules on node completion.
type Mover struct {
	store Store
}

// New creates a Mover over a Store.
func New(s Store) *Mover {
	return &Mover{store: s}
}

// Apply applies the configured movement rule for a Worker node's outcome.
// No-op if the run has no bound entity (§4.8 invariant: "movement only
// applies when the run has a bound entity_id"). If no movement rule is
// configured for this outcome, the entity stays put and a plain traversal
// journey pair is recorded instead (§4.8, "journey receives a single
// left_node/entered_node pair tied to graph traversal").
func (m *Mover) Apply(ctx context.Context, runID string, entityID *string, nodeID string, movement *models.EntityMovement, success bool) error {
	if entityID == nil {
		return nil
	}

	var rule *models.MovementRule
	if movement != nil {
		if success {
			rule = movement.OnSuccess
		} else {
			rule = movement.OnFailure
		}
	}

	if rule == nil {
		return m.recordPlainTraversal(ctx, *entityID, runID, nodeID)
	}

	eventType := models.JourneyMovedByWorker
	if rule.RecordJourneyAs != "" {
		eventType = models.JourneyEventType(rule.RecordJourneyAs)
	}

	event := models.JourneyEvent{
		EntityID:  *entityID,
		EventType: eventType,
		NodeID:    nodeID,
		Timestamp: time.Now(),
		Metadata: map[string]interface{}{
			"run_id":  runID,
			"node_id": nodeID,
		},
	}

	target := rule.TargetSectionID
	if err := m.store.MoveEntity(ctx, *entityID, &target, nil, nil, event); err != nil {
		return fmt.Errorf("apply entity movement: %w", err)
	}
	return nil
}

func (m *Mover) recordPlainTraversal(ctx context.Context, entityID, runID, nodeID string) error {
	now := time.Now()
	left := models.JourneyEvent{
		EntityID: entityID, EventType: models.JourneyLeftNode, NodeID: nodeID, Timestamp: now,
		Metadata: map[string]interface{}{"run_id": runID},
	}
	if err := m.store.AppendJourneyEvent(ctx, entityID, left); err != nil {
		return fmt.Errorf("append left_node event: %w", err)
	}

	entered := models.JourneyEvent{
		EntityID: entityID, EventType: models.JourneyEnteredNode, NodeID: nodeID, Timestamp: now,
		Metadata: map[string]interface{}{"run_id": runID},
	}
	if err := m.store.AppendJourneyEvent(ctx, entityID, entered); err != nil {
		return fmt.Errorf("append entered_node event: %w", err)
	}
	return nil
}
