package graph

import "github.com/lyzr/canvas-engine/internal/models"

// Compile converts a validated VisualGraph into the dense ExecutionGraph the
// edge walker traverses at O(1) per lookup (spec.md §4.2). Callers must run
// Validate first; Compile does not re-check invariants.
func Compile(vg *models.VisualGraph) *models.ExecutionGraph {
	eg := &models.ExecutionGraph{
		Nodes:            make(map[string]models.ExecutionNode, len(vg.Nodes)),
		Adjacency:        make(map[string][]string, len(vg.Nodes)),
		ReverseAdjacency: make(map[string][]string, len(vg.Nodes)),
		EdgeData:         make(map[string]models.ExecutionEdge, len(vg.Edges)),
	}

	for _, n := range vg.Nodes {
		eg.Nodes[n.ID] = models.ExecutionNode{
			Type:             n.Type,
			Data:             n.Data,
			EntityMovement:   n.EntityMovement,
			RequiredInputs:   n.RequiredInputs,
			IsAsync:          n.IsAsync,
			CallbackDeadline: n.CallbackDeadline,
		}
	}

	hasIncomingJourney := make(map[string]bool)
	hasOutgoingJourney := make(map[string]bool)

	for _, e := range vg.Edges {
		eg.Adjacency[e.Source] = append(eg.Adjacency[e.Source], e.Target)
		if e.Type == models.EdgeTypeJourney || e.Type == models.EdgeTypeConditional {
			eg.ReverseAdjacency[e.Target] = append(eg.ReverseAdjacency[e.Target], e.Source)
		}
		eg.EdgeData[models.EdgeKey(e.Source, e.Target)] = models.ExecutionEdge{
			ID: e.ID, Type: e.Type, Predicate: e.Predicate, Label: e.Label,
		}
		if e.Type == models.EdgeTypeJourney {
			hasOutgoingJourney[e.Source] = true
			hasIncomingJourney[e.Target] = true
		}
	}

	for id := range eg.Nodes {
		if !hasIncomingJourney[id] {
			eg.EntryNodes = append(eg.EntryNodes, id)
		}
		if !hasOutgoingJourney[id] {
			eg.TerminalNodes = append(eg.TerminalNodes, id)
		}
	}

	return eg
}

// Decompile reconstructs the set of (source, target, type) tuples an
// ExecutionGraph encodes, for the round-trip law in spec.md §8: validate+
// compile must preserve every edge tuple.
func Decompile(eg *models.ExecutionGraph) []EdgeTuple {
	var tuples []EdgeTuple
	for source, targets := range eg.Adjacency {
		for _, target := range targets {
			ed := eg.EdgeData[models.EdgeKey(source, target)]
			tuples = append(tuples, EdgeTuple{Source: source, Target: target, Type: ed.Type})
		}
	}
	return tuples
}

// EdgeTuple is the (source, target, type) triple Decompile reconstructs.
type EdgeTuple struct {
	Source string
	Target string
	Type   models.EdgeType
}
