package callback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/models"
)

type fakeEngine struct {
	lastRunID, lastNodeID string
	lastStatus            models.NodeStatus
	lastOutput            map[string]interface{}
	lastErr               string
	returnErr             error
}

func (f *fakeEngine) Callback(ctx context.Context, runID, nodeID string, status models.NodeStatus, output map[string]interface{}, errMsg string) error {
	f.lastRunID, f.lastNodeID, f.lastStatus, f.lastOutput, f.lastErr = runID, nodeID, status, output, errMsg
	return f.returnErr
}

func TestHandle_CompletedPayload_DelegatesToEngine(t *testing.T) {
	eng := &fakeEngine{}
	h := New(eng)

	err := h.Handle(context.Background(), "run-1", "node-1", Payload{
		Status: "completed", Output: map[string]interface{}{"score": 10},
	})

	require.NoError(t, err)
	assert.Equal(t, "run-1", eng.lastRunID)
	assert.Equal(t, "node-1", eng.lastNodeID)
	assert.Equal(t, models.NodeStatusCompleted, eng.lastStatus)
	assert.Equal(t, 10, eng.lastOutput["score"])
}

func TestHandle_MissingStatus_RejectedAsValidation(t *testing.T) {
	h := New(&fakeEngine{})

	err := h.Handle(context.Background(), "run-1", "node-1", Payload{})

	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestHandle_UnknownStatus_RejectedAsValidation(t *testing.T) {
	h := New(&fakeEngine{})

	err := h.Handle(context.Background(), "run-1", "node-1", Payload{Status: "pending"})

	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestHandle_FailedWithoutErrorMessage_RejectedAsValidation(t *testing.T) {
	h := New(&fakeEngine{})

	err := h.Handle(context.Background(), "run-1", "node-1", Payload{Status: "failed"})

	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindValidation, appErr.Kind)
}

func TestHandle_FailedWithErrorMessage_DelegatesToEngine(t *testing.T) {
	eng := &fakeEngine{}
	h := New(eng)

	err := h.Handle(context.Background(), "run-1", "node-1", Payload{Status: "failed", Error: "timeout"})

	require.NoError(t, err)
	assert.Equal(t, models.NodeStatusFailed, eng.lastStatus)
	assert.Equal(t, "timeout", eng.lastErr)
}

func TestHandle_MissingIDs_RejectedAsValidation(t *testing.T) {
	h := New(&fakeEngine{})

	err := h.Handle(context.Background(), "", "node-1", Payload{Status: "completed"})

	require.Error(t, err)
}

func TestHandle_EngineError_Propagated(t *testing.T) {
	eng := &fakeEngine{returnErr: apperr.New(apperr.KindStateConflict, "conflict")}
	h := New(eng)

	err := h.Handle(context.Background(), "run-1", "node-1", Payload{Status: "completed"})

	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindStateConflict, appErr.Kind)
}
