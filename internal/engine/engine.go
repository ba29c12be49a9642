// Package engine is the Edge Walker (C4) -- the hardest subsystem per the
// spec: it advances a Run through a frozen Execution Graph, firing nodes,
// writing node state atomically via CAS, and propagating across outgoing
// edges as upstream nodes complete. Grounded on the teacher's
// coordinator.handleCompletion shape (load state -> branch on outcome ->
// consume/advance -> resume) generalized from the teacher's Redis-stream
// token-counter fan-in into the spec's CAS-on-JSONB state machine.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/graph"
	"github.com/lyzr/canvas-engine/internal/logging"
	"github.com/lyzr/canvas-engine/internal/models"
	"github.com/lyzr/canvas-engine/internal/nodehandler"
	"github.com/lyzr/canvas-engine/internal/store"
)

// Store is the subset of internal/store the edge walker needs.
type Store interface {
	GetFlow(ctx context.Context, flowID string) (*models.Flow, error)
	GetVersion(ctx context.Context, versionID string) (*models.FlowVersion, error)
	CreateRun(ctx context.Context, r *models.Run) error
	GetRun(ctx context.Context, runID string) (*models.Run, error)
	UpdateNodeState(ctx context.Context, runID, nodeID string, expectedStatus models.NodeStatus, patch models.NodeState) error
	UpdateNodeStates(ctx context.Context, runID string, patches []store.NodeStatePatch) error
}

// EntityMover applies §4.8 entity movement on Worker node completion.
type EntityMover interface {
	Apply(ctx context.Context, runID string, entityID *string, nodeID string, movement *models.EntityMovement, success bool) error
}

// PredicateEvaluator evaluates a CEL expression against a node's output.
type PredicateEvaluator interface {
	Evaluate(expr string, output map[string]interface{}) (bool, error)
}

// Notifier publishes row-level change notifications (§6); advisory only,
// the engine never depends on delivery for correctness (§5 "Broadcast
// channels are advisory; no reader may rely on them for correctness").
type Notifier interface {
	NotifyRunChanged(ctx context.Context, runID string)
	NotifyEntityChanged(ctx context.Context, entityID string)
}

// CallbackURLBuilder builds the callback URL for an async worker dispatch.
type CallbackURLBuilder interface {
	CallbackURL(runID, nodeID string) string
}

// StartOpts is the input to StartRun.
type StartOpts struct {
	EntityID      *string
	Trigger       models.Trigger
	FlowVersionID *string // if absent, uses the flow's current version
	// EntryNodeID, if set, fires only this node instead of walking every
	// computed entry node -- used by webhook ingress (spec §4.7 step 9: "walking
	// begins from entry_edge_id's target node"), where a canvas may have
	// several structurally independent entry points and a given webhook config
	// is pinned to exactly one of them.
	EntryNodeID *string
}

// Engine is the edge-walking execution engine.
type Engine struct {
	store     Store
	registry  *nodehandler.Registry
	predicate PredicateEvaluator
	mover     EntityMover
	urls      CallbackURLBuilder
	notify    Notifier // may be nil
	log       *logging.Logger
}

// New creates an Engine. notify may be nil (no-op notifications).
func New(s Store, registry *nodehandler.Registry, pred PredicateEvaluator, mover EntityMover, urls CallbackURLBuilder, notify Notifier, log *logging.Logger) *Engine {
	return &Engine{store: s, registry: registry, predicate: pred, mover: mover, urls: urls, notify: notify, log: log}
}

// StartRun creates a Run pinned to a version and walks from every entry node
// (spec §4.4). If opts.FlowVersionID is absent, the flow's current version
// is used.
func (e *Engine) StartRun(ctx context.Context, flowID string, opts StartOpts) (*models.Run, error) {
	versionID := ""
	if opts.FlowVersionID != nil {
		versionID = *opts.FlowVersionID
	} else {
		flow, err := e.store.GetFlow(ctx, flowID)
		if err != nil {
			return nil, fmt.Errorf("load flow: %w", err)
		}
		if flow.CurrentVersionID == nil {
			return nil, apperr.New(apperr.KindValidation, "flow has no current version")
		}
		versionID = *flow.CurrentVersionID
	}

	fv, err := e.store.GetVersion(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("load version: %w", err)
	}

	nodeStates := make(map[string]models.NodeState, len(fv.ExecutionGraph.Nodes))
	for nodeID := range fv.ExecutionGraph.Nodes {
		nodeStates[nodeID] = models.NodeState{Status: models.NodeStatusPending}
	}

	run := &models.Run{
		ID:            uuid.NewString(),
		FlowID:        flowID,
		FlowVersionID: versionID,
		EntityID:      opts.EntityID,
		Trigger:       opts.Trigger,
		NodeStates:    nodeStates,
		CreatedAt:     time.Now(),
	}

	if err := e.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	e.notifyRun(ctx, run.ID)

	entries := fv.ExecutionGraph.EntryNodes
	if opts.EntryNodeID != nil {
		entries = []string{*opts.EntryNodeID}
	}
	for _, entry := range entries {
		if err := e.fireNodeWithGraph(ctx, entry, &fv.ExecutionGraph, run); err != nil {
			e.log.Error("entry node fire failed", "run_id", run.ID, "node_id", entry, "error", err)
		}
	}

	return run, nil
}

// WalkEdges advances the run from fromNodeId across every outgoing edge:
// journey/conditional edges gate on predicate + fan-in readiness; system
// edges fire unconditionally as a side channel and never gate entity
// movement (§4.4). Sibling nodes that resolve to "skip" in the same walk
// (e.g. several of a Splitter's branches failing their predicate at once)
// are CAS-written in a single bulk transaction via the store's
// UpdateNodeStates bulk-CAS primitive, rather than one round trip per
// sibling.
func (e *Engine) WalkEdges(ctx context.Context, fromNodeID string, eg *models.ExecutionGraph, run *models.Run) {
	fromState := run.NodeStates[fromNodeID]

	var skipPatches []store.NodeStatePatch
	var fireTargets []string

	for _, target := range eg.Adjacency[fromNodeID] {
		edgeKey := models.EdgeKey(fromNodeID, target)
		ed := eg.EdgeData[edgeKey]

		if ed.Type == models.EdgeTypeSystem {
			e.fireSideChannel(ctx, target, eg, run)
			continue
		}

		if run.NodeStates[target].Status != models.NodeStatusPending {
			continue // already resolved by a sibling predecessor's walk
		}

		if ed.Predicate != "" {
			pass, err := e.predicate.Evaluate(ed.Predicate, fromState.Output)
			if err != nil {
				e.log.Error("predicate evaluation failed", "run_id", run.ID, "edge", edgeKey, "error", err)
				continue
			}
			if !pass {
				skipPatches = append(skipPatches, store.NodeStatePatch{
					NodeID: target, ExpectedStatus: models.NodeStatusPending,
					Patch: models.NodeState{Status: models.NodeStatusSkipped, FinishedAt: nowPtr()},
				})
				continue
			}
		}

		if err := e.refreshNodeStates(ctx, run); err != nil {
			e.log.Error("refresh run state before fan-in check failed", "run_id", run.ID, "node_id", target, "error", err)
		}
		ready, anyCompleted := e.fanInReady(eg, run, target)
		if !ready {
			if anyCompleted {
				continue // some upstream predecessors still pending/running; wait for them
			}
			allSkipped := true
			for _, p := range eg.Predecessors(target) {
				if run.NodeStates[p].Status != models.NodeStatusSkipped {
					allSkipped = false
					break
				}
			}
			if !allSkipped {
				continue // some upstream predecessors still pending/running; wait for them
			}
			// Every predecessor has reached a terminal state but none completed
			// (all skipped) -- propagate the skip downstream (§4.4 fan-out
			// discipline: "propagate skip downstream until a Collector").
			skipPatches = append(skipPatches, store.NodeStatePatch{
				NodeID: target, ExpectedStatus: models.NodeStatusPending,
				Patch: models.NodeState{Status: models.NodeStatusSkipped, FinishedAt: nowPtr()},
			})
			continue
		}

		fireTargets = append(fireTargets, target)
	}

	if len(skipPatches) > 0 {
		if err := e.store.UpdateNodeStates(ctx, run.ID, skipPatches); err != nil {
			e.log.Error("bulk skip transition failed", "run_id", run.ID, "from_node_id", fromNodeID, "error", err)
		} else {
			for _, p := range skipPatches {
				run.NodeStates[p.NodeID] = p.Patch
			}
			e.notifyRun(ctx, run.ID)
			for _, p := range skipPatches {
				e.WalkEdges(ctx, p.NodeID, eg, run)
			}
		}
	}

	for _, target := range fireTargets {
		if err := e.fireNodeWithGraph(ctx, target, eg, run); err != nil {
			e.log.Error("node fire failed", "run_id", run.ID, "node_id", target, "error", err)
		}
	}
}

// fanInReady reports whether every journey/conditional predecessor of node
// is in {completed, skipped} with at least one completed (ready), and
// whether at least one is completed (anyCompleted). A Collector fires only
// under exactly this condition
// (§4.4); this engine applies the same rule uniformly to every node type,
// which degenerates to "my one predecessor completed" for ordinary
// single-predecessor chains and to full Collector fan-in discipline when a
// node has multiple incoming journey edges.
func (e *Engine) fanInReady(eg *models.ExecutionGraph, run *models.Run, node string) (ready bool, anyCompleted bool) {
	preds := eg.Predecessors(node)
	if len(preds) == 0 {
		return true, true
	}
	allTerminal := true
	for _, p := range preds {
		st := run.NodeStates[p].Status
		switch st {
		case models.NodeStatusCompleted:
			anyCompleted = true
		case models.NodeStatusSkipped:
			// counts toward allTerminal but not anyCompleted
		default:
			allTerminal = false
		}
	}
	return allTerminal && anyCompleted, anyCompleted
}

// refreshNodeStates re-reads the run's node_states from the store and merges
// them into the in-memory run, so fanInReady sees each predecessor's current
// committed status rather than the snapshot a caller (e.g. Callback) took
// once at the top of its own request. Without this, two near-simultaneous
// callbacks for a Collector's two predecessors can each evaluate fan-in
// readiness against their own stale snapshot -- in which the *other*
// predecessor still looks "running" -- and both conclude "not ready",
// stalling the Collector forever (spec §8 scenario 3). Called immediately
// before each fan-in check rather than once per WalkEdges call, since a
// sibling's commit can land at any point during this call's own processing.
func (e *Engine) refreshNodeStates(ctx context.Context, run *models.Run) error {
	fresh, err := e.store.GetRun(ctx, run.ID)
	if err != nil {
		return fmt.Errorf("refresh run node states: %w", err)
	}
	for nodeID, state := range fresh.NodeStates {
		run.NodeStates[nodeID] = state
	}
	return nil
}

// fireSideChannel fires a system edge's target best-effort; system edges
// never gate entity movement and failures here are logged, not propagated.
func (e *Engine) fireSideChannel(ctx context.Context, node string, eg *models.ExecutionGraph, run *models.Run) {
	if run.NodeStates[node].Status != models.NodeStatusPending {
		return
	}
	if err := e.fireNodeWithGraph(ctx, node, eg, run); err != nil {
		e.log.Error("system edge side-channel fire failed", "run_id", run.ID, "node_id", node, "error", err)
	}
}

// fireNodeWithGraph performs the atomic pending->running CAS and, on
// success, dispatches to the node's handler (§4.4).
func (e *Engine) fireNodeWithGraph(ctx context.Context, nodeID string, eg *models.ExecutionGraph, run *models.Run) error {
	node, ok := eg.Nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s not present in execution graph", nodeID)
	}
	if !graph.IsExecutable(node.Type) {
		return nil // structural nodes are never fired and stay pending
	}

	if err := e.store.UpdateNodeState(ctx, run.ID, nodeID, models.NodeStatusPending, models.NodeState{
		Status: models.NodeStatusRunning, StartedAt: nowPtr(),
	}); err != nil {
		if errors.Is(err, store.ErrCASConflict) {
			return nil // already fired by a racing walk
		}
		return fmt.Errorf("CAS pending->running for %s: %w", nodeID, err)
	}
	run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusRunning, StartedAt: nowPtr()}
	e.notifyRun(ctx, run.ID)

	handler, ok := e.registry.For(node.Type)
	if !ok {
		return fmt.Errorf("no handler registered for node type %s", node.Type)
	}

	hc := nodehandler.Context{
		RunID:           run.ID,
		NodeID:          nodeID,
		Node:            node,
		ExecutionGraph:  eg,
		UpstreamOutputs: e.upstreamOutputs(eg, run, nodeID),
	}
	if node.IsAsync {
		hc.CallbackURL = e.urls.CallbackURL(run.ID, nodeID)
	}

	outcome, err := handler.Fire(ctx, hc)
	if err != nil {
		return e.transitionFailed(ctx, nodeID, eg, run, err.Error())
	}

	switch outcome.Status {
	case models.NodeStatusCompleted:
		return e.transitionCompleted(ctx, nodeID, eg, run, outcome.Output)
	case models.NodeStatusWaitingForUser:
		if err := e.store.UpdateNodeState(ctx, run.ID, nodeID, models.NodeStatusRunning, models.NodeState{
			Status: models.NodeStatusWaitingForUser, Output: outcome.Output,
		}); err != nil && !errors.Is(err, store.ErrCASConflict) {
			return fmt.Errorf("transition to waiting_for_user for %s: %w", nodeID, err)
		}
		run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusWaitingForUser, Output: outcome.Output}
		e.notifyRun(ctx, run.ID)
		return nil
	case models.NodeStatusRunning:
		// async dispatch: stays running, pass-through input recorded in Output
		// slot (§9); callback protocol (C6) drives the next transition.
		if err := e.store.UpdateNodeState(ctx, run.ID, nodeID, models.NodeStatusRunning, models.NodeState{
			Status: models.NodeStatusRunning, Output: outcome.Output, StartedAt: run.NodeStates[nodeID].StartedAt,
		}); err != nil && !errors.Is(err, store.ErrCASConflict) {
			return fmt.Errorf("record pass-through input for %s: %w", nodeID, err)
		}
		run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusRunning, Output: outcome.Output, StartedAt: run.NodeStates[nodeID].StartedAt}
		return nil
	default:
		return fmt.Errorf("handler for %s returned unexpected status %s", nodeID, outcome.Status)
	}
}

// transitionCompleted writes the completed state, applies entity movement,
// and resumes the walk from this node.
func (e *Engine) transitionCompleted(ctx context.Context, nodeID string, eg *models.ExecutionGraph, run *models.Run, output map[string]interface{}) error {
	if err := e.store.UpdateNodeState(ctx, run.ID, nodeID, models.NodeStatusRunning, models.NodeState{
		Status: models.NodeStatusCompleted, Output: output, FinishedAt: nowPtr(),
	}); err != nil {
		if errors.Is(err, store.ErrCASConflict) {
			// Duplicate completion raced us; idempotent no-op (§4.4).
			return nil
		}
		return fmt.Errorf("transition to completed for %s: %w", nodeID, err)
	}
	run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusCompleted, Output: output, FinishedAt: nowPtr()}
	e.notifyRun(ctx, run.ID)

	node := eg.Nodes[nodeID]
	if node.Type == models.NodeTypeWorker {
		if err := e.mover.Apply(ctx, run.ID, run.EntityID, nodeID, node.EntityMovement, true); err != nil {
			e.log.Error("entity movement failed", "run_id", run.ID, "node_id", nodeID, "error", err)
		}
		if run.EntityID != nil {
			e.notifyEntity(ctx, *run.EntityID)
		}
	}

	e.WalkEdges(ctx, nodeID, eg, run)
	return nil
}

// transitionFailed writes the failed state and applies entityMovement's
// onFailure rule; downstream journey edges do not fire (§4.4).
func (e *Engine) transitionFailed(ctx context.Context, nodeID string, eg *models.ExecutionGraph, run *models.Run, errMsg string) error {
	if err := e.store.UpdateNodeState(ctx, run.ID, nodeID, models.NodeStatusRunning, models.NodeState{
		Status: models.NodeStatusFailed, Error: errMsg, FinishedAt: nowPtr(),
	}); err != nil {
		if errors.Is(err, store.ErrCASConflict) {
			return nil
		}
		return fmt.Errorf("transition to failed for %s: %w", nodeID, err)
	}
	run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusFailed, Error: errMsg, FinishedAt: nowPtr()}
	e.notifyRun(ctx, run.ID)

	node := eg.Nodes[nodeID]
	if node.Type == models.NodeTypeWorker {
		if merr := e.mover.Apply(ctx, run.ID, run.EntityID, nodeID, node.EntityMovement, false); merr != nil {
			e.log.Error("entity movement on failure failed", "run_id", run.ID, "node_id", nodeID, "error", merr)
		}
		if run.EntityID != nil {
			e.notifyEntity(ctx, *run.EntityID)
		}
	}
	return nil
}

// Retry resets a failed node to pending and, iff all its upstream
// dependencies are completed, fires it directly rather than via WalkEdges,
// so siblings are not refired (§4.4).
func (e *Engine) Retry(ctx context.Context, runID, nodeID string) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	state, ok := run.NodeStates[nodeID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "node not found in run")
	}
	if state.Status != models.NodeStatusFailed {
		return apperr.New(apperr.KindValidation, "node is not in failed state")
	}

	fv, err := e.store.GetVersion(ctx, run.FlowVersionID)
	if err != nil {
		return fmt.Errorf("load version: %w", err)
	}
	eg := &fv.ExecutionGraph

	if err := e.store.UpdateNodeState(ctx, runID, nodeID, models.NodeStatusFailed, models.NodeState{Status: models.NodeStatusPending}); err != nil {
		return fmt.Errorf("reset to pending: %w", err)
	}
	run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusPending}

	ready, _ := e.fanInReady(eg, run, nodeID)
	if !ready {
		return nil
	}
	return e.fireNodeWithGraph(ctx, nodeID, eg, run)
}

// Callback applies an async worker's result to a node awaiting one (§4.6): it
// merges the reported output over the node's recorded pass-through input,
// then drives the same completed/failed transition the synchronous path
// uses, resuming the walk on success. A callback for a node already in a
// terminal state is an idempotent no-op if it reports the same outcome, and
// a conflict if it disagrees -- a callback can never undo a CAS-won
// transition another caller already applied (§4.6, §9 "concurrency through
// CAS, not locks").
func (e *Engine) Callback(ctx context.Context, runID, nodeID string, status models.NodeStatus, output map[string]interface{}, errMsg string) error {
	if status != models.NodeStatusCompleted && status != models.NodeStatusFailed {
		return apperr.New(apperr.KindValidation, fmt.Sprintf("callback status must be completed or failed, got %q", status))
	}

	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	state, ok := run.NodeStates[nodeID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "node not found in run")
	}

	switch state.Status {
	case models.NodeStatusCompleted, models.NodeStatusFailed:
		if state.Status == status {
			return nil // duplicate callback, already applied
		}
		return apperr.New(apperr.KindStateConflict, "callback disagrees with already-recorded node outcome")
	case models.NodeStatusRunning:
		// expected path, fall through below
	default:
		return apperr.New(apperr.KindStateConflict, fmt.Sprintf("node %s is not awaiting a callback (status %s)", nodeID, state.Status))
	}

	fv, err := e.store.GetVersion(ctx, run.FlowVersionID)
	if err != nil {
		return fmt.Errorf("load version: %w", err)
	}
	eg := &fv.ExecutionGraph

	if status == models.NodeStatusFailed {
		return e.transitionFailed(ctx, nodeID, eg, run, errMsg)
	}
	return e.transitionCompleted(ctx, nodeID, eg, run, mergeObjects(state.Output, output))
}

// Reply completes a UX node that is waiting_for_user with an external
// reply's payload and resumes the walk (§4.5: "transitioning to completed
// with the reply payload as output"). Reusing the same CAS discipline as
// Callback: a node no longer in waiting_for_user is a conflict, not silently
// overwritten.
func (e *Engine) Reply(ctx context.Context, runID, nodeID string, output map[string]interface{}) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	state, ok := run.NodeStates[nodeID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "node not found in run")
	}
	if state.Status != models.NodeStatusWaitingForUser {
		return apperr.New(apperr.KindStateConflict, fmt.Sprintf("node %s is not awaiting a reply (status %s)", nodeID, state.Status))
	}

	fv, err := e.store.GetVersion(ctx, run.FlowVersionID)
	if err != nil {
		return fmt.Errorf("load version: %w", err)
	}
	eg := &fv.ExecutionGraph

	if err := e.store.UpdateNodeState(ctx, runID, nodeID, models.NodeStatusWaitingForUser, models.NodeState{
		Status: models.NodeStatusCompleted, Output: output, FinishedAt: nowPtr(),
	}); err != nil {
		if errors.Is(err, store.ErrCASConflict) {
			return nil // already resolved by a racing reply
		}
		return fmt.Errorf("transition to completed for %s: %w", nodeID, err)
	}
	run.NodeStates[nodeID] = models.NodeState{Status: models.NodeStatusCompleted, Output: output, FinishedAt: nowPtr()}
	e.notifyRun(ctx, run.ID)

	// UX nodes never carry entityMovement (§4.8 applies to Worker completion
	// only); resume the walk directly.
	e.WalkEdges(ctx, nodeID, eg, run)
	return nil
}

// mergeObjects merges b over a, b's keys winning on collision -- the
// callback's reported output wins over the async dispatch's recorded
// pass-through input (§4.6 "the callback's output is merged over the
// pass-through input, not the reverse").
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

// upstreamOutputs gathers completed predecessor outputs for a node, keyed by
// predecessor id, for handlers that read upstream data.
func (e *Engine) upstreamOutputs(eg *models.ExecutionGraph, run *models.Run, nodeID string) map[string]map[string]interface{} {
	out := make(map[string]map[string]interface{})
	for _, p := range eg.Predecessors(nodeID) {
		if st, ok := run.NodeStates[p]; ok && st.Status == models.NodeStatusCompleted {
			out[p] = st.Output
		}
	}
	return out
}

func (e *Engine) notifyRun(ctx context.Context, runID string) {
	if e.notify != nil {
		e.notify.NotifyRunChanged(ctx, runID)
	}
}

func (e *Engine) notifyEntity(ctx context.Context, entityID string) {
	if e.notify != nil {
		e.notify.NotifyEntityChanged(ctx, entityID)
	}
}

func nowPtr() *time.Time {
	t := time.Now()
	return &t
}
