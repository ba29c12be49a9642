package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/canvas-engine/internal/engine"
	"github.com/lyzr/canvas-engine/internal/logging"
	"github.com/lyzr/canvas-engine/internal/models"
	"github.com/lyzr/canvas-engine/internal/ratelimit"
)

type fakeStore struct {
	cfg            *models.WebhookConfig
	flow           *models.Flow
	version        *models.FlowVersion
	upsertedEntity *models.Entity
	finalStatus    models.WebhookEventStatus
	finalErr       *string
}

func (s *fakeStore) GetWebhookConfigBySlug(ctx context.Context, slug string) (*models.WebhookConfig, error) {
	if s.cfg == nil || s.cfg.EndpointSlug != slug {
		return nil, assert.AnError
	}
	return s.cfg, nil
}

func (s *fakeStore) GetFlow(ctx context.Context, flowID string) (*models.Flow, error) {
	return s.flow, nil
}

func (s *fakeStore) GetVersion(ctx context.Context, versionID string) (*models.FlowVersion, error) {
	return s.version, nil
}

func (s *fakeStore) CreateWebhookEvent(ctx context.Context, configID *string, rawPayload []byte) (string, error) {
	return "evt-1", nil
}

func (s *fakeStore) UpdateWebhookEventStatus(ctx context.Context, eventID string, status models.WebhookEventStatus, entityID, runID *string, errMsg *string) error {
	s.finalStatus = status
	s.finalErr = errMsg
	return nil
}

func (s *fakeStore) UpsertEntity(ctx context.Context, e *models.Entity) error {
	s.upsertedEntity = e
	return nil
}

func (s *fakeStore) AppendJourneyEvent(ctx context.Context, entityID string, event models.JourneyEvent) error {
	return nil
}

type fakeEngine struct {
	started engine.StartOpts
	run     *models.Run
	err     error
}

func (f *fakeEngine) StartRun(ctx context.Context, flowID string, opts engine.StartOpts) (*models.Run, error) {
	f.started = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

func newFixture(secret string) (*fakeStore, *fakeEngine) {
	st := &fakeStore{
		cfg: &models.WebhookConfig{
			ID: "cfg-1", CanvasID: "canvas-1", Source: models.SourceCustom,
			EndpointSlug: "intake", Secret: strPtr(secret), WorkflowID: "flow-1",
			EntryEdgeID: "edge-entry", IsActive: true,
			EntityMapping: map[string]interface{}{"name": "name", "email": "email"},
		},
		flow: &models.Flow{ID: "flow-1", CurrentVersionID: strPtr("v1")},
		version: &models.FlowVersion{
			ID: "v1", FlowID: "flow-1",
			VisualGraph: models.VisualGraph{
				Edges: []models.VisualEdge{{ID: "edge-entry", Source: "start", Target: "node-a"}},
			},
		},
	}
	eng := &fakeEngine{run: &models.Run{ID: "run-1"}}
	return st, eng
}

func strPtr(s string) *string { return &s }

func TestProcess_HappyPath_StartsRunAtEntryEdgeTarget(t *testing.T) {
	st, eng := newFixture("")
	p := New(st, eng, NewRegistry(), nil, logging.New("info", "text"))

	body := []byte(`{"name":"Ada","email":"ada@example.com"}`)
	res, err := p.Process(context.Background(), "intake", body, http.Header{})

	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "evt-1", res.WebhookEventID)
	assert.Equal(t, "node-a", *eng.started.EntryNodeID)
	assert.Equal(t, "ada@example.com", *st.upsertedEntity.Email)
	assert.Equal(t, models.WebhookEventCompleted, st.finalStatus)
}

func TestProcess_UnknownSlug_ReturnsNotFound(t *testing.T) {
	st, eng := newFixture("")
	p := New(st, eng, NewRegistry(), nil, logging.New("info", "text"))

	_, err := p.Process(context.Background(), "does-not-exist", []byte(`{}`), http.Header{})
	require.Error(t, err)
}

func TestProcess_InvalidSignature_MarksEventSignatureInvalid(t *testing.T) {
	st, eng := newFixture("a-secret")
	p := New(st, eng, NewRegistry(), nil, logging.New("info", "text"))

	body := []byte(`{"name":"Ada","email":"ada@example.com"}`)
	header := http.Header{}
	header.Set("X-Webhook-Signature", "not-a-real-signature")

	_, err := p.Process(context.Background(), "intake", body, header)

	require.Error(t, err)
	assert.Equal(t, models.WebhookEventSignatureInvalid, st.finalStatus)
}

func TestProcess_ValidSignature_Passes(t *testing.T) {
	st, eng := newFixture("a-secret")
	p := New(st, eng, NewRegistry(), nil, logging.New("info", "text"))

	body := []byte(`{"name":"Ada","email":"ada@example.com"}`)
	mac := hmac.New(sha256.New, []byte("a-secret"))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))
	header := http.Header{}
	header.Set("X-Webhook-Signature", sig)

	res, err := p.Process(context.Background(), "intake", body, header)

	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
}

type fakeLimiter struct {
	allow bool
}

func (f *fakeLimiter) CheckSource(ctx context.Context, source string, limit int64, windowSec int) (*ratelimit.Result, error) {
	return &ratelimit.Result{Allowed: f.allow, Limit: limit, Remaining: 0, RetryAfterSeconds: 1}, nil
}

func TestProcess_RateLimited_RejectsBeforeSideEffects(t *testing.T) {
	st, eng := newFixture("")
	p := New(st, eng, NewRegistry(), &fakeLimiter{allow: false}, logging.New("info", "text"))

	_, err := p.Process(context.Background(), "intake", []byte(`{}`), http.Header{})

	require.Error(t, err)
	assert.Nil(t, st.upsertedEntity)
}
