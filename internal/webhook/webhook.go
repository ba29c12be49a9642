package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/engine"
	"github.com/lyzr/canvas-engine/internal/logging"
	"github.com/lyzr/canvas-engine/internal/models"
	"github.com/lyzr/canvas-engine/internal/ratelimit"
	"github.com/lyzr/canvas-engine/internal/webhook/signature"
)

// Store is the subset of internal/store the webhook processor needs.
type Store interface {
	GetWebhookConfigBySlug(ctx context.Context, slug string) (*models.WebhookConfig, error)
	GetFlow(ctx context.Context, flowID string) (*models.Flow, error)
	GetVersion(ctx context.Context, versionID string) (*models.FlowVersion, error)
	CreateWebhookEvent(ctx context.Context, configID *string, rawPayload []byte) (string, error)
	UpdateWebhookEventStatus(ctx context.Context, eventID string, status models.WebhookEventStatus, entityID, runID *string, errMsg *string) error
	UpsertEntity(ctx context.Context, e *models.Entity) error
	AppendJourneyEvent(ctx context.Context, entityID string, event models.JourneyEvent) error
}

// Engine is the subset of internal/engine the webhook processor needs to
// start a run once an entity has been extracted and upserted.
type Engine interface {
	StartRun(ctx context.Context, flowID string, opts engine.StartOpts) (*models.Run, error)
}

// RateLimiter is the per-source tiered limiter the processor consults before
// doing any other work (SPEC_FULL.md "tiered, source-keyed rate limiting").
// Per-IP/global limiting happens one layer up, in the HTTP middleware, since
// it runs before the body is even read -- this limiter gates on the source
// named by the resolved webhook config (spec §4.7 step 1, refined once the
// config lookup in step 3 reveals the source).
type RateLimiter interface {
	CheckSource(ctx context.Context, source string, limit int64, windowSec int) (*ratelimit.Result, error)
}

// Result is what Process returns on success, enough for the HTTP handler to
// build a response body.
type Result struct {
	WebhookEventID string
	EntityID       string
	RunID          string
}

// Processor is the Webhook Processor (C7): spec.md §4.7's ten-step pipeline,
// steps 3 onward (rate limiting by client IP/global happens in the HTTP
// middleware layer before Process is even called, since it has no source to
// key on yet). Grounded on the teacher's http_worker.go dispatch shape and
// common/ratelimit's tiered-limit idiom.
type Processor struct {
	store    Store
	engine   Engine
	registry *Registry
	limiter  RateLimiter
	log      *logging.Logger
}

// New builds a Processor.
func New(store Store, eng Engine, registry *Registry, limiter RateLimiter, log *logging.Logger) *Processor {
	return &Processor{store: store, engine: eng, registry: registry, limiter: limiter, log: log}
}

// Process runs the full ingress pipeline for one inbound webhook call
// (spec §4.7 steps 3-10).
func (p *Processor) Process(ctx context.Context, slug string, rawBody []byte, header http.Header) (*Result, error) {
	cfg, err := p.store.GetWebhookConfigBySlug(ctx, slug)
	if err != nil {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("webhook config %q not found", slug))
	}
	if !cfg.IsActive {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("webhook config %q is inactive", slug))
	}

	if p.limiter != nil {
		limit, windowSec := ratelimit.LimitForSource(string(cfg.Source))
		res, err := p.limiter.CheckSource(ctx, string(cfg.Source), limit, windowSec)
		if err != nil {
			p.log.Error("rate limit check failed, allowing through", "source", cfg.Source, "error", err)
		} else if !res.Allowed {
			return nil, apperr.New(apperr.KindRateLimited, fmt.Sprintf("rate limit exceeded for source %q", cfg.Source))
		}
	}

	eventID, err := p.store.CreateWebhookEvent(ctx, &cfg.ID, rawBody)
	if err != nil {
		return nil, fmt.Errorf("create webhook event: %w", err)
	}

	fail := func(status models.WebhookEventStatus, cause error) (*Result, error) {
		msg := cause.Error()
		if uerr := p.store.UpdateWebhookEventStatus(ctx, eventID, status, nil, nil, &msg); uerr != nil {
			p.log.Error("failed to finalize webhook event status", "webhook_event_id", eventID, "error", uerr)
		}
		return nil, cause
	}

	secret := ""
	if cfg.Secret != nil {
		secret = *cfg.Secret
	}
	sigHeader := header.Get(signature.HeaderNameFor(string(cfg.Source)))
	if err := signature.Verify(string(cfg.Source), secret, rawBody, map[string]string{"signature": sigHeader}); err != nil {
		return fail(models.WebhookEventSignatureInvalid, apperr.Wrap(apperr.KindAuth, "webhook signature verification failed", err))
	}

	adapter, ok := p.registry.For(cfg.Source)
	if !ok {
		return fail(models.WebhookEventFailed, apperr.New(apperr.KindValidation, fmt.Sprintf("no adapter registered for source %q", cfg.Source)))
	}

	var probe map[string]interface{}
	if err := json.Unmarshal(rawBody, &probe); err != nil {
		return fail(models.WebhookEventFailed, apperr.New(apperr.KindValidation, "invalid JSON body"))
	}

	extracted, err := adapter.ExtractEntity(rawBody, cfg.EntityMapping)
	if err != nil {
		return fail(models.WebhookEventFailed, fmt.Errorf("extract entity: %w", err))
	}

	versionID, entryNodeID, err := p.resolveEntryNode(ctx, cfg.WorkflowID, cfg.EntryEdgeID)
	if err != nil {
		return fail(models.WebhookEventFailed, err)
	}

	now := time.Now()
	entity := &models.Entity{
		ID:         uuid.NewString(),
		CanvasID:   cfg.CanvasID,
		Name:       extracted.Name,
		EntityType: extracted.EntityType,
		Metadata:   extracted.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if extracted.Email != "" {
		entity.Email = &extracted.Email
	}
	if extracted.Avatar != "" {
		entity.Avatar = &extracted.Avatar
	}

	if err := p.store.UpsertEntity(ctx, entity); err != nil {
		return fail(models.WebhookEventFailed, fmt.Errorf("upsert entity: %w", err))
	}

	if err := p.store.AppendJourneyEvent(ctx, entity.ID, models.JourneyEvent{
		EntityID:  entity.ID,
		EventType: models.JourneyArrivedVia,
		NodeID:    entryNodeID,
		Timestamp: now,
		Metadata: map[string]interface{}{
			"webhook_event_id": eventID,
			"source":           string(cfg.Source),
			"event_type":       adapter.EventType(rawBody),
		},
	}); err != nil {
		p.log.Error("append arrived_via journey event failed", "entity_id", entity.ID, "error", err)
	}

	entityID := entity.ID
	run, err := p.engine.StartRun(ctx, cfg.WorkflowID, engine.StartOpts{
		EntityID:      &entityID,
		EntryNodeID:   &entryNodeID,
		FlowVersionID: &versionID,
		Trigger: models.Trigger{
			Type:      models.TriggerWebhook,
			Source:    string(cfg.Source),
			EventID:   eventID,
			Timestamp: now,
		},
	})
	if err != nil {
		return fail(models.WebhookEventFailed, fmt.Errorf("start run: %w", err))
	}

	if err := p.store.UpdateWebhookEventStatus(ctx, eventID, models.WebhookEventCompleted, &entity.ID, &run.ID, nil); err != nil {
		p.log.Error("failed to finalize webhook event status", "webhook_event_id", eventID, "error", err)
	}

	return &Result{WebhookEventID: eventID, EntityID: entity.ID, RunID: run.ID}, nil
}

// resolveEntryNode looks up the visual edge named by entryEdgeID in the
// workflow's current version and returns that version's id and the edge's
// target node id (spec §4.7 step 9: "walking begins from entry_edge_id's
// target node" and the run is pinned to "workflow.current_version_id"). The
// version id returned here is threaded through to StartRun's
// FlowVersionID so the run is pinned to the exact version this lookup
// resolved the entry edge against -- if StartRun instead re-resolved
// "current version" on its own, a version created concurrently between the
// two lookups could pin the run to a version that doesn't contain
// entryNodeID at all.
func (p *Processor) resolveEntryNode(ctx context.Context, workflowID, entryEdgeID string) (versionID string, entryNodeID string, err error) {
	flow, err := p.store.GetFlow(ctx, workflowID)
	if err != nil {
		return "", "", fmt.Errorf("load workflow: %w", err)
	}
	if flow.CurrentVersionID == nil {
		return "", "", apperr.New(apperr.KindValidation, "workflow has no current version")
	}
	fv, err := p.store.GetVersion(ctx, *flow.CurrentVersionID)
	if err != nil {
		return "", "", fmt.Errorf("load workflow version: %w", err)
	}
	for _, e := range fv.VisualGraph.Edges {
		if e.ID == entryEdgeID {
			return fv.ID, e.Target, nil
		}
	}
	return "", "", apperr.New(apperr.KindValidation, fmt.Sprintf("entry edge %q not found in workflow's current version", entryEdgeID))
}
