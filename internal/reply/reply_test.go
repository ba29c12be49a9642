package reply

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/logging"
	"github.com/lyzr/canvas-engine/internal/models"
)

type fakeStore struct {
	entity     *models.Entity
	findErr    error
	runID      string
	nodeID     string
	waitingErr error
	run        *models.Run
	getRunErr  error
	version    *models.FlowVersion
	getVerErr  error
}

func (f *fakeStore) FindEntityByEmail(ctx context.Context, email string) (*models.Entity, error) {
	return f.entity, f.findErr
}

func (f *fakeStore) FindLatestWaitingRun(ctx context.Context, entityID string) (string, string, error) {
	return f.runID, f.nodeID, f.waitingErr
}

func (f *fakeStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return f.run, f.getRunErr
}

func (f *fakeStore) GetVersion(ctx context.Context, versionID string) (*models.FlowVersion, error) {
	return f.version, f.getVerErr
}

type fakeEngine struct {
	lastRunID, lastNodeID string
	lastOutput            map[string]interface{}
	err                   error
}

func (f *fakeEngine) Reply(ctx context.Context, runID, nodeID string, output map[string]interface{}) error {
	f.lastRunID, f.lastNodeID, f.lastOutput = runID, nodeID, output
	return f.err
}

func uxVersion(data map[string]interface{}) *models.FlowVersion {
	return &models.FlowVersion{
		ExecutionGraph: models.ExecutionGraph{
			Nodes: map[string]models.ExecutionNode{
				"ux-1": {Type: models.NodeTypeUX, Data: data},
			},
		},
	}
}

func TestProcess_DefaultVocabulary_MatchesYes(t *testing.T) {
	store := &fakeStore{
		entity: &models.Entity{ID: "entity-1"},
		runID:  "run-1", nodeID: "ux-1",
		run:     &models.Run{ID: "run-1", FlowVersionID: "v1"},
		version: uxVersion(nil),
	}
	eng := &fakeEngine{}
	p := New(store, eng, logging.New("error", "text"))

	result, err := p.Process(context.Background(), "a@b.com", "Sure, go ahead")

	require.NoError(t, err)
	assert.Equal(t, "yes", result.Intent)
	assert.Equal(t, "run-1", eng.lastRunID)
	assert.Equal(t, "ux-1", eng.lastNodeID)
	assert.Equal(t, "yes", eng.lastOutput["intent"])
}

func TestProcess_DefaultVocabulary_MatchesNo(t *testing.T) {
	store := &fakeStore{
		entity: &models.Entity{ID: "entity-1"},
		runID:  "run-1", nodeID: "ux-1",
		run:     &models.Run{ID: "run-1", FlowVersionID: "v1"},
		version: uxVersion(nil),
	}
	p := New(store, &fakeEngine{}, logging.New("error", "text"))

	result, err := p.Process(context.Background(), "a@b.com", "no thanks, cancel it")

	require.NoError(t, err)
	assert.Equal(t, "no", result.Intent)
}

func TestProcess_CustomIntentKeywords_OverrideDefault(t *testing.T) {
	data := map[string]interface{}{
		"intentKeywords": map[string]interface{}{
			"approve": []interface{}{"lgtm", "ship it"},
			"reject":  []interface{}{"hold off"},
		},
	}
	store := &fakeStore{
		entity: &models.Entity{ID: "entity-1"},
		runID:  "run-1", nodeID: "ux-1",
		run:     &models.Run{ID: "run-1", FlowVersionID: "v1"},
		version: uxVersion(data),
	}
	p := New(store, &fakeEngine{}, logging.New("error", "text"))

	result, err := p.Process(context.Background(), "a@b.com", "LGTM, ship it")

	require.NoError(t, err)
	assert.Equal(t, "approve", result.Intent)
}

func TestProcess_CustomIntentKeywords_NoMatchIsUnknown(t *testing.T) {
	data := map[string]interface{}{
		"intentKeywords": map[string]interface{}{
			"approve": []interface{}{"lgtm"},
		},
	}
	store := &fakeStore{
		entity: &models.Entity{ID: "entity-1"},
		runID:  "run-1", nodeID: "ux-1",
		run:     &models.Run{ID: "run-1", FlowVersionID: "v1"},
		version: uxVersion(data),
	}
	p := New(store, &fakeEngine{}, logging.New("error", "text"))

	result, err := p.Process(context.Background(), "a@b.com", "whatever you think")

	require.NoError(t, err)
	assert.Equal(t, "unknown", result.Intent)
}

func TestProcess_MissingEmail_RejectedAsValidation(t *testing.T) {
	p := New(&fakeStore{}, &fakeEngine{}, logging.New("error", "text"))

	_, err := p.Process(context.Background(), "", "yes")

	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestProcess_NoEntityMatch_PropagatesNotFound(t *testing.T) {
	store := &fakeStore{findErr: apperr.New(apperr.KindNotFound, "no entity with that email")}
	p := New(store, &fakeEngine{}, logging.New("error", "text"))

	_, err := p.Process(context.Background(), "nobody@nowhere.com", "yes")

	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)
}

func TestProcess_NoWaitingRun_PropagatesNotFound(t *testing.T) {
	store := &fakeStore{
		entity:     &models.Entity{ID: "entity-1"},
		waitingErr: apperr.New(apperr.KindNotFound, "no run is waiting for a user reply for this entity"),
	}
	p := New(store, &fakeEngine{}, logging.New("error", "text"))

	_, err := p.Process(context.Background(), "a@b.com", "yes")

	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, appErr.Kind)
}

func TestProcess_EngineError_Propagated(t *testing.T) {
	store := &fakeStore{
		entity: &models.Entity{ID: "entity-1"},
		runID:  "run-1", nodeID: "ux-1",
		run:     &models.Run{ID: "run-1", FlowVersionID: "v1"},
		version: uxVersion(nil),
	}
	eng := &fakeEngine{err: apperr.New(apperr.KindStateConflict, "node not waiting")}
	p := New(store, eng, logging.New("error", "text"))

	_, err := p.Process(context.Background(), "a@b.com", "yes")

	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindStateConflict, appErr.Kind)
}
