// Package graph holds the Visual/Execution graph types and the validator
// that gates everything the version manager persists (spec.md §4.1). Modeled
// on the teacher's compiler package: validation collects every problem it
// finds rather than stopping at the first, and a caller never persists on
// failure.
package graph

import (
	"fmt"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/models"
)

var knownNodeTypes = map[models.NodeType]bool{
	models.NodeTypeWorker:         true,
	models.NodeTypeSplitter:       true,
	models.NodeTypeCollector:      true,
	models.NodeTypeUX:             true,
	models.NodeTypeSection:        true,
	models.NodeTypeItem:           true,
	models.NodeTypeCostsSection:   true,
	models.NodeTypeRevenueSection: true,
}

// executableTypes are node types the edge walker actually fires; the rest
// (Section/Item/CostsSection/RevenueSection) are structural no-ops (§4.5,
// §9 "BMC vs. executable nodes").
var executableTypes = map[models.NodeType]bool{
	models.NodeTypeWorker:    true,
	models.NodeTypeSplitter:  true,
	models.NodeTypeCollector: true,
	models.NodeTypeUX:        true,
}

// IsExecutable reports whether the handler registry should ever fire nodes
// of this type.
func IsExecutable(t models.NodeType) bool {
	return executableTypes[t]
}

// Validate runs every rule in spec.md §4.1 against a VisualGraph and returns
// the full ordered list of problems found. A nil/empty return means the
// graph may be compiled and persisted.
func Validate(vg *models.VisualGraph) []apperr.ValidationIssue {
	var issues []apperr.ValidationIssue

	nodesByID := make(map[string]*models.VisualNode, len(vg.Nodes))
	for i := range vg.Nodes {
		n := &vg.Nodes[i]
		if _, dup := nodesByID[n.ID]; dup {
			issues = append(issues, apperr.ValidationIssue{
				Code: "duplicate_node_id", Message: fmt.Sprintf("duplicate node id %q", n.ID), Location: n.ID,
			})
			continue
		}
		nodesByID[n.ID] = n
	}

	issues = append(issues, validateNodeTypes(vg.Nodes)...)
	issues = append(issues, validateReachability(vg.Edges, nodesByID)...)
	issues = append(issues, validateFanDiscipline(vg.Nodes, vg.Edges)...)
	issues = append(issues, validateJourneyAcyclic(vg.Edges)...)
	issues = append(issues, validateRequiredInputs(vg.Nodes, vg.Edges, nodesByID)...)

	return issues
}

func validateNodeTypes(nodes []models.VisualNode) []apperr.ValidationIssue {
	var issues []apperr.ValidationIssue
	for _, n := range nodes {
		if !knownNodeTypes[n.Type] {
			issues = append(issues, apperr.ValidationIssue{
				Code:     "unknown_node_type",
				Message:  fmt.Sprintf("node %q has unregistered type %q", n.ID, n.Type),
				Location: n.ID,
			})
		}
	}
	return issues
}

// validateReachability checks every edge's source and target resolve to a
// node in the same graph.
func validateReachability(edges []models.VisualEdge, nodesByID map[string]*models.VisualNode) []apperr.ValidationIssue {
	var issues []apperr.ValidationIssue
	for _, e := range edges {
		if _, ok := nodesByID[e.Source]; !ok {
			issues = append(issues, apperr.ValidationIssue{
				Code: "unknown_edge_source", Message: fmt.Sprintf("edge %q source %q does not resolve to a node", e.ID, e.Source), Location: e.ID,
			})
		}
		if _, ok := nodesByID[e.Target]; !ok {
			issues = append(issues, apperr.ValidationIssue{
				Code: "unknown_edge_target", Message: fmt.Sprintf("edge %q target %q does not resolve to a node", e.ID, e.Target), Location: e.ID,
			})
		}
	}
	return issues
}

// validateFanDiscipline enforces Splitter fan-out >= 2 and Collector fan-in >= 2.
func validateFanDiscipline(nodes []models.VisualNode, edges []models.VisualEdge) []apperr.ValidationIssue {
	outCount := make(map[string]int)
	inCount := make(map[string]int)
	for _, e := range edges {
		outCount[e.Source]++
		inCount[e.Target]++
	}

	var issues []apperr.ValidationIssue
	for _, n := range nodes {
		switch n.Type {
		case models.NodeTypeSplitter:
			if outCount[n.ID] < 2 {
				issues = append(issues, apperr.ValidationIssue{
					Code: "splitter_fan_out", Message: fmt.Sprintf("splitter %q has %d outgoing edges, needs >= 2", n.ID, outCount[n.ID]), Location: n.ID,
				})
			}
		case models.NodeTypeCollector:
			if inCount[n.ID] < 2 {
				issues = append(issues, apperr.ValidationIssue{
					Code: "collector_fan_in", Message: fmt.Sprintf("collector %q has %d incoming edges, needs >= 2", n.ID, inCount[n.ID]), Location: n.ID,
				})
			}
		}
	}
	return issues
}

// validateJourneyAcyclic checks the subgraph formed by journey-type edges is
// a DAG. System edges are exempt and may loop (§4.1, an Open Question this
// repo resolves by scoping the acyclicity check to journey edges only and
// letting system edges loop freely, including back into journey-reachable
// nodes -- see DESIGN.md).
func validateJourneyAcyclic(edges []models.VisualEdge) []apperr.ValidationIssue {
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.Type == models.EdgeTypeJourney {
			adj[e.Source] = append(adj[e.Source], e.Target)
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	var cyclePath []string
	var visit func(node string) bool
	visit = func(node string) bool {
		color[node] = gray
		cyclePath = append(cyclePath, node)
		for _, next := range adj[node] {
			switch color[next] {
			case gray:
				cyclePath = append(cyclePath, next)
				return true
			case white:
				if visit(next) {
					return true
				}
			}
		}
		cyclePath = cyclePath[:len(cyclePath)-1]
		color[node] = black
		return false
	}

	var nodes []string
	for n := range adj {
		nodes = append(nodes, n)
	}
	for _, n := range nodes {
		if color[n] == white {
			cyclePath = nil
			if visit(n) {
				return []apperr.ValidationIssue{{
					Code:     "journey_cycle",
					Message:  fmt.Sprintf("journey edges form a cycle: %v", cyclePath),
					Location: n,
				}}
			}
		}
	}
	return nil
}

// validateRequiredInputs checks that every node declaring required inputs
// either has them satisfiable from an upstream node's declared data, or has
// a default supplied in its own Data. Upstream satisfaction is a structural
// check only (an upstream edge exists); actual output keys are only known at
// run time, so this mirrors what can be validated at compile time.
func validateRequiredInputs(nodes []models.VisualNode, edges []models.VisualEdge, nodesByID map[string]*models.VisualNode) []apperr.ValidationIssue {
	hasUpstream := make(map[string]bool)
	for _, e := range edges {
		if e.Type == models.EdgeTypeJourney || e.Type == models.EdgeTypeConditional {
			hasUpstream[e.Target] = true
		}
	}

	var issues []apperr.ValidationIssue
	for _, n := range nodes {
		if len(n.RequiredInputs) == 0 {
			continue
		}
		if hasUpstream[n.ID] {
			continue
		}
		for _, key := range n.RequiredInputs {
			if _, hasDefault := n.Data["default_"+key]; hasDefault {
				continue
			}
			issues = append(issues, apperr.ValidationIssue{
				Code:     "unsatisfied_required_input",
				Message:  fmt.Sprintf("node %q requires input %q with no upstream producer or default", n.ID, key),
				Location: n.ID,
			})
		}
		_ = nodesByID
	}
	return issues
}
