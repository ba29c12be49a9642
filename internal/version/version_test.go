package version

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/canvas-engine/internal/models"
)

type fakeStore struct {
	versions      map[string]*models.FlowVersion
	metaByFlow    map[string][]models.VersionMeta
	latestVisual  map[string]*models.VisualGraph
	currentFlowID string
	createCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		versions:     map[string]*models.FlowVersion{},
		metaByFlow:   map[string][]models.VersionMeta{},
		latestVisual: map[string]*models.VisualGraph{},
	}
}

func (f *fakeStore) CreateVersion(_ context.Context, v *models.FlowVersion) error {
	f.createCalls++
	f.versions[v.ID] = v
	f.metaByFlow[v.FlowID] = append([]models.VersionMeta{{ID: v.ID, FlowID: v.FlowID, CreatedAt: v.CreatedAt}}, f.metaByFlow[v.FlowID]...)
	f.latestVisual[v.FlowID] = &v.VisualGraph
	return nil
}

func (f *fakeStore) SetFlowCurrentVersion(_ context.Context, flowID, versionID string) error {
	f.currentFlowID = flowID
	return nil
}

func (f *fakeStore) GetVersion(_ context.Context, versionID string) (*models.FlowVersion, error) {
	return f.versions[versionID], nil
}

func (f *fakeStore) ListVersions(_ context.Context, flowID string) ([]models.VersionMeta, error) {
	return f.metaByFlow[flowID], nil
}

func (f *fakeStore) LatestVersionVisualGraph(_ context.Context, flowID string) (*models.VisualGraph, error) {
	return f.latestVisual[flowID], nil
}

func validGraph() *models.VisualGraph {
	return &models.VisualGraph{
		Nodes: []models.VisualNode{
			{ID: "a", Type: models.NodeTypeWorker},
			{ID: "b", Type: models.NodeTypeWorker},
		},
		Edges: []models.VisualEdge{
			{ID: "e1", Source: "a", Target: "b", Type: models.EdgeTypeJourney},
		},
	}
}

func TestCreateVersion_PersistsAndSetsCurrent(t *testing.T) {
	fs := newFakeStore()
	mgr := New(fs)

	res, err := mgr.CreateVersion(context.Background(), "flow-1", validGraph(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, res.VersionID)
	assert.Equal(t, 1, fs.createCalls)
	assert.Equal(t, "flow-1", fs.currentFlowID)
	assert.Contains(t, res.ExecutionGraph.EntryNodes, "a")
	assert.Contains(t, res.ExecutionGraph.TerminalNodes, "b")
}

func TestCreateVersion_RejectsInvalidGraphWithoutWriting(t *testing.T) {
	fs := newFakeStore()
	mgr := New(fs)

	invalid := &models.VisualGraph{
		Nodes: []models.VisualNode{{ID: "s", Type: models.NodeTypeSplitter}},
		Edges: nil, // splitter with 0 outgoing edges: invalid
	}

	_, err := mgr.CreateVersion(context.Background(), "flow-1", invalid, nil)
	require.Error(t, err)
	assert.Equal(t, 0, fs.createCalls)
}

func TestAutoVersionOnRun_DeduplicatesIdenticalContent(t *testing.T) {
	fs := newFakeStore()
	mgr := New(fs)

	vg := validGraph()
	_, err := mgr.AutoVersionOnRun(context.Background(), "flow-1", vg)
	require.NoError(t, err)
	assert.Equal(t, 1, fs.createCalls)

	_, err = mgr.AutoVersionOnRun(context.Background(), "flow-1", vg)
	require.NoError(t, err)
	assert.Equal(t, 1, fs.createCalls, "identical content must not create a second version")
}

func TestAutoVersionOnRun_CreatesNewVersionOnContentChange(t *testing.T) {
	fs := newFakeStore()
	mgr := New(fs)

	vg := validGraph()
	_, err := mgr.AutoVersionOnRun(context.Background(), "flow-1", vg)
	require.NoError(t, err)

	changed := validGraph()
	changed.Nodes[0].Data = map[string]interface{}{"label": "changed"}
	_, err = mgr.AutoVersionOnRun(context.Background(), "flow-1", changed)
	require.NoError(t, err)

	assert.Equal(t, 2, fs.createCalls)
}
