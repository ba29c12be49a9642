package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/callback"
	"github.com/lyzr/canvas-engine/internal/engine"
	"github.com/lyzr/canvas-engine/internal/logging"
	"github.com/lyzr/canvas-engine/internal/models"
	"github.com/lyzr/canvas-engine/internal/reply"
	"github.com/lyzr/canvas-engine/internal/version"
)

type fakeVersionManager struct {
	result *version.Result
	err    error
}

func (f *fakeVersionManager) AutoVersionOnRun(ctx context.Context, flowID string, vg *models.VisualGraph) (*version.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &version.Result{VersionID: "version-auto"}, nil
}

type fakeRunEngine struct {
	startedFlowID string
	startedOpts   engine.StartOpts
	startRunErr   error

	retryRunID, retryNodeID string
	retryErr                error
}

func (f *fakeRunEngine) StartRun(ctx context.Context, flowID string, opts engine.StartOpts) (*models.Run, error) {
	f.startedFlowID = flowID
	f.startedOpts = opts
	if f.startRunErr != nil {
		return nil, f.startRunErr
	}
	return &models.Run{ID: "run-1", FlowID: flowID}, nil
}

func (f *fakeRunEngine) Retry(ctx context.Context, runID, nodeID string) error {
	f.retryRunID, f.retryNodeID = runID, nodeID
	return f.retryErr
}

func TestRunHandler_Start_ManualTrigger(t *testing.T) {
	e := echo.New()
	fake := &fakeRunEngine{}
	h := NewRunHandler(fake, &fakeVersionManager{})

	req := httptest.NewRequest(http.MethodPost, "/flows/flow-1/run", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("flow-1")

	require.NoError(t, h.Start(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "flow-1", fake.startedFlowID)
	assert.Equal(t, models.TriggerManual, fake.startedOpts.Trigger.Type)
}

func TestRunHandler_Start_AutoVersionsWhenVisualGraphPresent(t *testing.T) {
	e := echo.New()
	fake := &fakeRunEngine{}
	vm := &fakeVersionManager{result: &version.Result{VersionID: "version-9"}}
	h := NewRunHandler(fake, vm)

	body := `{"visual_graph":{"nodes":[],"edges":[]}}`
	req := httptest.NewRequest(http.MethodPost, "/flows/flow-1/run", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("flow-1")

	require.NoError(t, h.Start(c))
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, fake.startedOpts.FlowVersionID)
	assert.Equal(t, "version-9", *fake.startedOpts.FlowVersionID)
}

func TestRunHandler_Start_PropagatesEngineError(t *testing.T) {
	e := echo.New()
	fake := &fakeRunEngine{startRunErr: apperr.New(apperr.KindValidation, "flow has no current version")}
	h := NewRunHandler(fake, &fakeVersionManager{})

	req := httptest.NewRequest(http.MethodPost, "/flows/flow-1/run", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("flow-1")

	require.NoError(t, h.Start(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandler_Retry_DelegatesToEngine(t *testing.T) {
	e := echo.New()
	fake := &fakeRunEngine{}
	h := NewRunHandler(fake, &fakeVersionManager{})

	req := httptest.NewRequest(http.MethodPost, "/retry/run-1/node-2", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("runId", "nodeId")
	c.SetParamValues("run-1", "node-2")

	require.NoError(t, h.Retry(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "run-1", fake.retryRunID)
	assert.Equal(t, "node-2", fake.retryNodeID)
}

type fakeCallbackEngine struct {
	lastStatus models.NodeStatus
	err        error
}

func (f *fakeCallbackEngine) Callback(ctx context.Context, runID, nodeID string, status models.NodeStatus, output map[string]interface{}, errMsg string) error {
	f.lastStatus = status
	return f.err
}

func TestCallbackHandler_Handle_CompletedPayload(t *testing.T) {
	e := echo.New()
	fake := &fakeCallbackEngine{}
	h := NewCallbackHandler(callback.New(fake))

	req := httptest.NewRequest(http.MethodPost, "/callback/run-1/node-1", strings.NewReader(`{"status":"completed","output":{"x":1}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("runId", "nodeId")
	c.SetParamValues("run-1", "node-1")

	require.NoError(t, h.Handle(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.NodeStatusCompleted, fake.lastStatus)
}

func TestCallbackHandler_Handle_InvalidStatusRejected(t *testing.T) {
	e := echo.New()
	h := NewCallbackHandler(callback.New(&fakeCallbackEngine{}))

	req := httptest.NewRequest(http.MethodPost, "/callback/run-1/node-1", strings.NewReader(`{"status":"bogus"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("runId", "nodeId")
	c.SetParamValues("run-1", "node-1")

	require.NoError(t, h.Handle(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeFlowStore struct {
	flow   *models.Flow
	getErr error

	updatedName     string
	updatedParentID *string
	updateErr       error
}

func (f *fakeFlowStore) GetFlow(ctx context.Context, flowID string) (*models.Flow, error) {
	return f.flow, f.getErr
}

func (f *fakeFlowStore) UpdateFlowMetadata(ctx context.Context, flowID, name string, parentID *string) error {
	f.updatedName, f.updatedParentID = name, parentID
	return f.updateErr
}

func TestFlowHandler_Patch_MergesNameOnly(t *testing.T) {
	e := echo.New()
	store := &fakeFlowStore{flow: &models.Flow{ID: "flow-1", Name: "old name"}}
	h := NewFlowHandler(store)

	req := httptest.NewRequest(http.MethodPatch, "/flows/flow-1", strings.NewReader(`{"name":"new name"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("flow-1")

	require.NoError(t, h.Patch(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "new name", store.updatedName)
}

type fakeReplyStore struct {
	entity  *models.Entity
	runID   string
	nodeID  string
	run     *models.Run
	version *models.FlowVersion
}

func (f *fakeReplyStore) FindEntityByEmail(ctx context.Context, email string) (*models.Entity, error) {
	return f.entity, nil
}

func (f *fakeReplyStore) FindLatestWaitingRun(ctx context.Context, entityID string) (string, string, error) {
	return f.runID, f.nodeID, nil
}

func (f *fakeReplyStore) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	return f.run, nil
}

func (f *fakeReplyStore) GetVersion(ctx context.Context, versionID string) (*models.FlowVersion, error) {
	return f.version, nil
}

type fakeReplyEngine struct{}

func (f *fakeReplyEngine) Reply(ctx context.Context, runID, nodeID string, output map[string]interface{}) error {
	return nil
}

func TestReplyHandler_Handle_ResolvesWaitingNode(t *testing.T) {
	e := echo.New()
	store := &fakeReplyStore{
		entity: &models.Entity{ID: "entity-1"},
		runID:  "run-1", nodeID: "ux-1",
		run: &models.Run{ID: "run-1", FlowVersionID: "v1"},
		version: &models.FlowVersion{
			ExecutionGraph: models.ExecutionGraph{
				Nodes: map[string]models.ExecutionNode{"ux-1": {Type: models.NodeTypeUX}},
			},
		},
	}
	processor := reply.New(store, &fakeReplyEngine{}, logging.New("error", "text"))
	h := NewReplyHandler(processor)

	req := httptest.NewRequest(http.MethodPost, "/reply", strings.NewReader(`{"email":"a@b.com","message":"yes please"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, h.Handle(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"intent":"yes"`)
}

func TestFlowHandler_Patch_RejectsClearedName(t *testing.T) {
	e := echo.New()
	store := &fakeFlowStore{flow: &models.Flow{ID: "flow-1", Name: "old name"}}
	h := NewFlowHandler(store)

	req := httptest.NewRequest(http.MethodPatch, "/flows/flow-1", strings.NewReader(`{"name":null}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("flow-1")

	require.NoError(t, h.Patch(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
