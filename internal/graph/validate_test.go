package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/models"
)

func containsCode(issues []apperr.ValidationIssue, code string) bool {
	for _, i := range issues {
		if i.Code == code {
			return true
		}
	}
	return false
}

func TestValidate_AcceptsWellFormedGraph(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "a", Type: models.NodeTypeWorker},
			{ID: "b", Type: models.NodeTypeWorker},
		},
		Edges: []models.VisualEdge{
			{ID: "e1", Source: "a", Target: "b", Type: models.EdgeTypeJourney},
		},
	}
	issues := Validate(vg)
	assert.Empty(t, issues)
}

func TestValidate_DuplicateNodeID(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "a", Type: models.NodeTypeWorker},
			{ID: "a", Type: models.NodeTypeWorker},
		},
	}
	issues := Validate(vg)
	assert.True(t, containsCode(issues, "duplicate_node_id"))
}

func TestValidate_UnknownNodeType(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{{ID: "a", Type: models.NodeType("Bogus")}},
	}
	issues := Validate(vg)
	assert.True(t, containsCode(issues, "unknown_node_type"))
}

func TestValidate_EdgeReferencesUnknownNodes(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{{ID: "a", Type: models.NodeTypeWorker}},
		Edges: []models.VisualEdge{
			{ID: "e1", Source: "a", Target: "ghost", Type: models.EdgeTypeJourney},
			{ID: "e2", Source: "ghost", Target: "a", Type: models.EdgeTypeJourney},
		},
	}
	issues := Validate(vg)
	assert.True(t, containsCode(issues, "unknown_edge_target"))
	assert.True(t, containsCode(issues, "unknown_edge_source"))
}

func TestValidate_SplitterRequiresAtLeastTwoOutgoingEdges(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "s", Type: models.NodeTypeSplitter},
			{ID: "w1", Type: models.NodeTypeWorker},
		},
		Edges: []models.VisualEdge{
			{ID: "e1", Source: "s", Target: "w1", Type: models.EdgeTypeJourney},
		},
	}
	issues := Validate(vg)
	assert.True(t, containsCode(issues, "splitter_fan_out"))
}

func TestValidate_SplitterWithTwoOutgoingEdgesPasses(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "s", Type: models.NodeTypeSplitter},
			{ID: "w1", Type: models.NodeTypeWorker},
			{ID: "w2", Type: models.NodeTypeWorker},
		},
		Edges: []models.VisualEdge{
			{ID: "e1", Source: "s", Target: "w1", Type: models.EdgeTypeJourney},
			{ID: "e2", Source: "s", Target: "w2", Type: models.EdgeTypeJourney},
		},
	}
	issues := Validate(vg)
	assert.False(t, containsCode(issues, "splitter_fan_out"))
}

func TestValidate_CollectorRequiresAtLeastTwoIncomingEdges(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "w1", Type: models.NodeTypeWorker},
			{ID: "k", Type: models.NodeTypeCollector},
		},
		Edges: []models.VisualEdge{
			{ID: "e1", Source: "w1", Target: "k", Type: models.EdgeTypeJourney},
		},
	}
	issues := Validate(vg)
	assert.True(t, containsCode(issues, "collector_fan_in"))
}

func TestValidate_JourneyCycleRejected(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "a", Type: models.NodeTypeWorker},
			{ID: "b", Type: models.NodeTypeWorker},
		},
		Edges: []models.VisualEdge{
			{ID: "e1", Source: "a", Target: "b", Type: models.EdgeTypeJourney},
			{ID: "e2", Source: "b", Target: "a", Type: models.EdgeTypeJourney},
		},
	}
	issues := Validate(vg)
	assert.True(t, containsCode(issues, "journey_cycle"))
}

func TestValidate_SystemEdgeCycleIsPermitted(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "a", Type: models.NodeTypeWorker},
			{ID: "b", Type: models.NodeTypeWorker},
		},
		Edges: []models.VisualEdge{
			{ID: "e1", Source: "a", Target: "b", Type: models.EdgeTypeSystem},
			{ID: "e2", Source: "b", Target: "a", Type: models.EdgeTypeSystem},
		},
	}
	issues := Validate(vg)
	assert.False(t, containsCode(issues, "journey_cycle"), "system edges may loop freely")
}

func TestValidate_RequiredInputWithNoUpstreamAndNoDefaultRejected(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "w1", Type: models.NodeTypeWorker, RequiredInputs: []string{"amount"}},
		},
	}
	issues := Validate(vg)
	assert.True(t, containsCode(issues, "unsatisfied_required_input"))
}

func TestValidate_RequiredInputSatisfiedByUpstreamEdgePasses(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "w0", Type: models.NodeTypeWorker},
			{ID: "w1", Type: models.NodeTypeWorker, RequiredInputs: []string{"amount"}},
		},
		Edges: []models.VisualEdge{
			{ID: "e1", Source: "w0", Target: "w1", Type: models.EdgeTypeJourney},
		},
	}
	issues := Validate(vg)
	assert.False(t, containsCode(issues, "unsatisfied_required_input"))
}

func TestValidate_RequiredInputSatisfiedByDefaultPasses(t *testing.T) {
	vg := &models.VisualGraph{
		Nodes: []models.VisualNode{
			{
				ID: "w1", Type: models.NodeTypeWorker, RequiredInputs: []string{"amount"},
				Data: map[string]interface{}{"default_amount": 0},
			},
		},
	}
	issues := Validate(vg)
	assert.False(t, containsCode(issues, "unsatisfied_required_input"))
}
