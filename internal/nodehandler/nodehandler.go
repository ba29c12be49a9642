// Package nodehandler implements the per-node-type handlers the edge walker
// dispatches to (spec.md §4.5): Worker (sync/async dispatch), Splitter,
// Collector, UX wait, and the structural BMC no-ops. Adapted from the
// teacher's worker/http_worker.go (outbound HTTP dispatch shape) and
// worker/hitl_worker.go (the suspend-until-external-reply idiom generalized
// into the UX wait token).
package nodehandler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/lyzr/canvas-engine/internal/logging"
	"github.com/lyzr/canvas-engine/internal/models"
)

// Outcome is what a handler reports back to the edge walker.
type Outcome struct {
	Status models.NodeStatus
	Output map[string]interface{}
	Error  string
	// Suspended is true for handlers that return before reaching a terminal
	// status (async Worker dispatch, UX wait) -- the walker must not advance
	// past this node until a callback/reply arrives.
	Suspended bool
}

// Context bundles everything a handler needs to fire one node.
type Context struct {
	RunID          string
	NodeID         string
	Node           models.ExecutionNode
	ExecutionGraph *models.ExecutionGraph
	// UpstreamOutputs maps predecessor node id -> its completed output, for
	// handlers that read upstream data (Worker input contract, Splitter/
	// Collector merge).
	UpstreamOutputs map[string]map[string]interface{}
	CallbackURL     string // only set for async Worker dispatch
}

// Handler fires one node and reports its outcome.
type Handler interface {
	Fire(ctx context.Context, hc Context) (Outcome, error)
}

// Registry maps a node type to its handler.
type Registry struct {
	handlers map[models.NodeType]Handler
}

// NewRegistry builds the standard registry: Worker, Splitter, Collector, UX
// are executable; Section/Item/CostsSection/RevenueSection are structural
// no-ops that the handler registry must never fire (spec §9, "BMC vs.
// executable nodes").
func NewRegistry(worker *WorkerHandler, splitter *SplitterHandler, collector *CollectorHandler, ux *UXHandler) *Registry {
	noop := &NoopHandler{}
	return &Registry{handlers: map[models.NodeType]Handler{
		models.NodeTypeWorker:         worker,
		models.NodeTypeSplitter:       splitter,
		models.NodeTypeCollector:      collector,
		models.NodeTypeUX:             ux,
		models.NodeTypeSection:        noop,
		models.NodeTypeItem:           noop,
		models.NodeTypeCostsSection:   noop,
		models.NodeTypeRevenueSection: noop,
	}}
}

// For returns the handler registered for a node type.
func (r *Registry) For(t models.NodeType) (Handler, bool) {
	h, ok := r.handlers[t]
	return h, ok
}

// NoopHandler never fires; Section/Item/financial-section nodes are
// structural only and never transition beyond pending (spec §4.5).
type NoopHandler struct{}

func (NoopHandler) Fire(context.Context, Context) (Outcome, error) {
	return Outcome{}, fmt.Errorf("node type is structural and must never be fired")
}

// WorkerHandler dispatches synchronous work inline or fires an async
// external worker with a callback URL (the URL is not signed).
type WorkerHandler struct {
	httpClient *http.Client
	log        *logging.Logger
}

// NewWorkerHandler creates a WorkerHandler with the teacher's 30s outbound
// HTTP timeout (http_worker.go's httpClient construction).
func NewWorkerHandler(log *logging.Logger) *WorkerHandler {
	return &WorkerHandler{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// Fire evaluates the node's input contract from upstream outputs. If the
// node's data declares it synchronous, the worker's own "compute" is assumed
// to have been provided inline via Data["syncOutput"] (the engine's sync
// worker surface); the handler simply completes with it. If async, the
// handler POSTs the declared input plus callback_url to the worker's
// endpoint and returns Suspended=true without completing (§4.5, §6 "worker
// dispatch contract").
func (h *WorkerHandler) Fire(ctx context.Context, hc Context) (Outcome, error) {
	input := mergeUpstreamOutputs(hc.ExecutionGraph, hc.NodeID, hc.UpstreamOutputs)

	if !hc.Node.IsAsync {
		if syncOutput, ok := hc.Node.Data["syncOutput"].(map[string]interface{}); ok {
			merged := mergeObjects(input, syncOutput)
			return Outcome{Status: models.NodeStatusCompleted, Output: merged}, nil
		}
		return Outcome{Status: models.NodeStatusCompleted, Output: input}, nil
	}

	endpoint, _ := hc.Node.Data["endpoint"].(string)
	if endpoint == "" {
		return Outcome{}, fmt.Errorf("async worker node %s has no endpoint configured", hc.NodeID)
	}

	payload := map[string]interface{}{
		"input":        input,
		"callback_url": hc.CallbackURL,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Outcome{}, fmt.Errorf("marshal worker dispatch payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Outcome{}, fmt.Errorf("build worker dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return Outcome{}, fmt.Errorf("dispatch worker request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return Outcome{}, fmt.Errorf("worker dispatch to %s returned status %d", endpoint, resp.StatusCode)
	}

	h.log.Info("dispatched async worker", "node_id", hc.NodeID, "run_id", hc.RunID, "endpoint", endpoint)

	// The pass-through input survives to the node's output slot at dispatch
	// time; the callback merges over it (§9 "pass-through input vs.
	// callback merge").
	return Outcome{Status: models.NodeStatusRunning, Output: input, Suspended: true}, nil
}

// SplitterHandler fans out: it produces no output of its own beyond merging
// upstream outputs, then transitions to completed so walkEdges can evaluate
// each outgoing edge's predicate independently (§4.4, §4.5).
type SplitterHandler struct{}

func NewSplitterHandler() *SplitterHandler { return &SplitterHandler{} }

func (SplitterHandler) Fire(_ context.Context, hc Context) (Outcome, error) {
	merged := mergeUpstreamOutputs(hc.ExecutionGraph, hc.NodeID, hc.UpstreamOutputs)
	return Outcome{Status: models.NodeStatusCompleted, Output: merged}, nil
}

// CollectorHandler fans in. The edge walker only fires a Collector once fan-
// in readiness holds (§4.4); this handler's job is purely the output merge:
// object-merge of upstream outputs, last-write-wins on key clash, order
// defined by the execution graph's deterministic adjacency order (§4.5).
type CollectorHandler struct{}

func NewCollectorHandler() *CollectorHandler { return &CollectorHandler{} }

func (CollectorHandler) Fire(_ context.Context, hc Context) (Outcome, error) {
	merged := mergeUpstreamOutputs(hc.ExecutionGraph, hc.NodeID, hc.UpstreamOutputs)
	return Outcome{Status: models.NodeStatusCompleted, Output: merged}, nil
}

// UXHandler transitions directly to waiting_for_user and suspends; an
// external reply ingress later resolves it (§4.5). Grounded on the
// teacher's worker/hitl_worker.go suspend-until-reply pattern, generalized
// from HITL-specific config to a generic wait token keyed by (runId, nodeId).
type UXHandler struct{}

func NewUXHandler() *UXHandler { return &UXHandler{} }

func (UXHandler) Fire(_ context.Context, hc Context) (Outcome, error) {
	input := mergeUpstreamOutputs(hc.ExecutionGraph, hc.NodeID, hc.UpstreamOutputs)
	return Outcome{Status: models.NodeStatusWaitingForUser, Output: input, Suspended: true}, nil
}

// mergeUpstreamOutputs merges a node's upstream outputs in deterministic
// predecessor order (ReverseAdjacency, authored-edge order), later entries
// overriding earlier ones on key collision -- the same rule §4.5 specifies
// for Collector fan-in, reused here since Splitter/Worker also read
// upstream output through the identical reverse-adjacency path.
func mergeUpstreamOutputs(eg *models.ExecutionGraph, nodeID string, outputs map[string]map[string]interface{}) map[string]interface{} {
	preds := eg.Predecessors(nodeID)
	merged := make(map[string]interface{})
	for _, p := range preds {
		for k, v := range outputs[p] {
			merged[k] = v
		}
	}
	return merged
}

// mergeObjects merges b over a, returning a new map.
func mergeObjects(a, b map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
