package nodehandler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/canvas-engine/internal/models"
)

func twoPredecessorGraph() *models.ExecutionGraph {
	return &models.ExecutionGraph{
		ReverseAdjacency: map[string][]string{
			"k": {"a", "b"},
		},
	}
}

func TestCollectorHandler_MergesUpstreamOutputsLastWriteWins(t *testing.T) {
	eg := twoPredecessorGraph()
	h := NewCollectorHandler()

	out, err := h.Fire(context.Background(), Context{
		NodeID:         "k",
		ExecutionGraph: eg,
		UpstreamOutputs: map[string]map[string]interface{}{
			"a": {"x": 1, "shared": "from-a"},
			"b": {"y": 2, "shared": "from-b"},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, out.Status)
	assert.Equal(t, 1, out.Output["x"])
	assert.Equal(t, 2, out.Output["y"])
	assert.Equal(t, "from-b", out.Output["shared"], "later predecessor in adjacency order wins collisions")
}

func TestSplitterHandler_PassesThroughMergedUpstreamOutput(t *testing.T) {
	eg := &models.ExecutionGraph{ReverseAdjacency: map[string][]string{"s": {"a"}}}
	h := NewSplitterHandler()

	out, err := h.Fire(context.Background(), Context{
		NodeID:         "s",
		ExecutionGraph: eg,
		UpstreamOutputs: map[string]map[string]interface{}{
			"a": {"flag": true},
		},
	})

	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, out.Status)
	assert.Equal(t, true, out.Output["flag"])
}

func TestUXHandler_SuspendsWithWaitingForUser(t *testing.T) {
	h := NewUXHandler()
	out, err := h.Fire(context.Background(), Context{
		NodeID:         "u",
		ExecutionGraph: &models.ExecutionGraph{ReverseAdjacency: map[string][]string{}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusWaitingForUser, out.Status)
	assert.True(t, out.Suspended)
}

func TestWorkerHandler_SyncCompletesInline(t *testing.T) {
	h := NewWorkerHandler(nil)
	out, err := h.Fire(context.Background(), Context{
		NodeID:         "w",
		ExecutionGraph: &models.ExecutionGraph{ReverseAdjacency: map[string][]string{}},
		Node: models.ExecutionNode{
			IsAsync: false,
			Data:    map[string]interface{}{"syncOutput": map[string]interface{}{"result": "ok"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusCompleted, out.Status)
	assert.Equal(t, "ok", out.Output["result"])
}

func TestWorkerHandler_AsyncWithoutEndpointErrors(t *testing.T) {
	h := NewWorkerHandler(nil)
	_, err := h.Fire(context.Background(), Context{
		NodeID:         "w",
		ExecutionGraph: &models.ExecutionGraph{ReverseAdjacency: map[string][]string{}},
		Node:           models.ExecutionNode{IsAsync: true},
	})
	require.Error(t, err)
}

func TestNoopHandler_NeverFires(t *testing.T) {
	var h NoopHandler
	_, err := h.Fire(context.Background(), Context{})
	require.Error(t, err)
}
