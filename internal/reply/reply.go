// Package reply implements the external reply ingress §4.5 describes for UX
// nodes: "an email reply adapter resolves it by locating the most recent run
// with this node waiting_for_user, interpreting the reply (intent keywords on
// the config), then transitioning to completed with the reply payload as
// output." Grounded on the teacher's worker/hitl_worker.go suspend/resume
// idiom and internal/webhook's adapter-as-strategy shape, generalized from a
// webhook source registry to a single reply-channel resolver since the spec
// names only one concrete channel (email).
package reply

import (
	"context"
	"fmt"
	"strings"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/logging"
	"github.com/lyzr/canvas-engine/internal/models"
)

// defaultIntents is the fallback keyword table used when a UX node's Data
// carries no "intentKeywords" map of its own (spec §8 scenario 4 uses the
// bare "yes"/"no" vocabulary with no per-node config).
var defaultIntents = map[string][]string{
	"yes": {"yes", "yep", "sure", "confirm", "confirmed", "ok", "okay"},
	"no":  {"no", "nope", "cancel", "decline", "declined", "stop"},
}

// Store is the subset of internal/store the reply ingress needs.
type Store interface {
	FindEntityByEmail(ctx context.Context, email string) (*models.Entity, error)
	FindLatestWaitingRun(ctx context.Context, entityID string) (runID, nodeID string, err error)
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	GetVersion(ctx context.Context, versionID string) (*models.FlowVersion, error)
}

// Engine is the subset of internal/engine the reply ingress needs.
type Engine interface {
	Reply(ctx context.Context, runID, nodeID string, output map[string]interface{}) error
}

// Result is what Process returns on success.
type Result struct {
	RunID  string
	NodeID string
	Intent string
}

// Processor resolves one inbound reply to a waiting UX node and completes it.
type Processor struct {
	store  Store
	engine Engine
	log    *logging.Logger
}

// New builds a Processor.
func New(store Store, eng Engine, log *logging.Logger) *Processor {
	return &Processor{store: store, engine: eng, log: log}
}

// Process locates the entity matching email, finds its most recent run with
// a node waiting_for_user, interprets body against that node's configured (or
// default) intent keywords, and completes the node with the result.
func (p *Processor) Process(ctx context.Context, email, body string) (*Result, error) {
	if email == "" {
		return nil, apperr.New(apperr.KindValidation, "email is required")
	}

	entity, err := p.store.FindEntityByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	runID, nodeID, err := p.store.FindLatestWaitingRun(ctx, entity.ID)
	if err != nil {
		return nil, err
	}

	run, err := p.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	fv, err := p.store.GetVersion(ctx, run.FlowVersionID)
	if err != nil {
		return nil, fmt.Errorf("load version: %w", err)
	}
	node, ok := fv.ExecutionGraph.Nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("waiting node %s not present in its run's pinned version", nodeID)
	}

	intent := interpretIntent(body, node.Data)
	output := map[string]interface{}{"intent": intent, "raw": body}

	if err := p.engine.Reply(ctx, runID, nodeID, output); err != nil {
		return nil, err
	}
	p.log.Info("resolved external reply", "run_id", runID, "node_id", nodeID, "intent", intent)

	return &Result{RunID: runID, NodeID: nodeID, Intent: intent}, nil
}

// interpretIntent maps free-text reply content to a symbolic intent using
// the node's own "intentKeywords" config when present, falling back to
// defaultIntents otherwise. The first matching keyword, in map-iteration
// order over whichever table is in play, wins; callers needing a guaranteed
// priority order should configure intentKeywords with non-overlapping words.
func interpretIntent(body string, data map[string]interface{}) string {
	lower := strings.ToLower(body)

	if raw, ok := data["intentKeywords"].(map[string]interface{}); ok {
		for intent, kws := range raw {
			list, ok := kws.([]interface{})
			if !ok {
				continue
			}
			for _, kw := range list {
				s, ok := kw.(string)
				if ok && s != "" && strings.Contains(lower, strings.ToLower(s)) {
					return intent
				}
			}
		}
		return "unknown"
	}

	for intent, keywords := range defaultIntents {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return intent
			}
		}
	}
	return "unknown"
}
