// Package webhook is the Webhook Processor + Adapters (C7): authenticates
// incoming events, extracts entity data via source-specific rules, creates
// or updates the entity, and starts a Run bound to the config's entry edge
// (spec.md §4.7). Adapters are modeled as a capability set, not inheritance
// (spec §9 "Adapters as strategies, not inheritance"), grounded on the
// teacher's resolver.Resolver for the generic JSON-path fallback and on
// common/ratelimit's source-keyed idiom for the registry-by-string pattern.
package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/lyzr/canvas-engine/internal/models"
)

// ExtractedEntity is what an adapter produces from a raw payload: enough to
// create/update a stitch entity (spec §4.7 step 7-8).
type ExtractedEntity struct {
	Name       string
	Email      string
	Avatar     string
	EntityType string
	Metadata   map[string]interface{}
}

// Adapter is the per-source capability set (spec §9): signature verification
// lives in internal/webhook/signature (table-driven, not per-adapter, since
// every source's scheme is a pure function of (secret, body, header) with no
// other per-source state); an Adapter only needs entity extraction and an
// event-type label for the audit log.
type Adapter interface {
	// Source reports the WebhookSource this adapter implements.
	Source() models.WebhookSource
	// ExtractEntity parses rawPayload per this source's field layout. Partial
	// extraction (e.g. no email found) is not an error here; the processor
	// falls back to the generic JSON-path mapping to fill gaps (spec §4.7
	// step 7, "on partial extraction, fall back to the generic mapping").
	ExtractEntity(rawPayload []byte, mapping map[string]interface{}) (ExtractedEntity, error)
	// EventType extracts a human-readable event type label from the payload,
	// used only for logging/audit, never for control flow.
	EventType(rawPayload []byte) string
}

// Registry maps a WebhookSource to its Adapter.
type Registry struct {
	adapters map[models.WebhookSource]Adapter
}

// NewRegistry builds the standard registry: Stripe, Typeform, Calendly, n8n,
// and the generic Custom fallback (spec §4.7 step 4).
func NewRegistry() *Registry {
	r := &Registry{adapters: make(map[models.WebhookSource]Adapter)}
	for _, a := range []Adapter{
		&StripeAdapter{}, &TypeformAdapter{}, &CalendlyAdapter{}, &N8NAdapter{}, &CustomAdapter{},
	} {
		r.adapters[a.Source()] = a
	}
	return r
}

// For returns the adapter registered for a source.
func (r *Registry) For(source models.WebhookSource) (Adapter, bool) {
	a, ok := r.adapters[source]
	return a, ok
}

// genericExtract fills any ExtractedEntity field still at its zero value
// using entity_mapping's JSON-path fallback (spec §4.7 step 7 "generic
// JSON-path fallback"; §9 "fallback entity extraction goes through a shared
// JSON-path helper"). Grounded directly on the teacher's
// resolver.Resolver.resolveNodeReference gjson usage.
func genericExtract(rawPayload []byte, mapping map[string]interface{}, into ExtractedEntity) ExtractedEntity {
	lookup := func(field string) (string, bool) {
		path, ok := mapping[field].(string)
		if !ok || path == "" {
			return "", false
		}
		res := gjson.GetBytes(rawPayload, path)
		if !res.Exists() {
			return "", false
		}
		return res.String(), true
	}

	if into.Name == "" {
		if v, ok := lookup("name"); ok {
			into.Name = v
		}
	}
	if into.Email == "" {
		if v, ok := lookup("email"); ok {
			into.Email = v
		}
	}
	if into.Avatar == "" {
		if v, ok := lookup("avatar"); ok {
			into.Avatar = v
		}
	}
	if into.EntityType == "" {
		if v, ok := lookup("entity_type"); ok {
			into.EntityType = v
		} else {
			into.EntityType = "lead"
		}
	}
	if into.Metadata == nil {
		into.Metadata = map[string]interface{}{}
	}
	if extra, ok := mapping["metadata_fields"].([]interface{}); ok {
		for _, f := range extra {
			field, ok := f.(string)
			if !ok {
				continue
			}
			if v, found := lookup(field); found {
				into.Metadata[field] = v
			}
		}
	}
	return into
}

// decodeJSON is a small shared helper every adapter uses to parse the raw
// payload into a generic map before picking specific fields out of it.
func decodeJSON(rawPayload []byte) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(rawPayload, &m); err != nil {
		return nil, fmt.Errorf("decode webhook payload: %w", err)
	}
	return m, nil
}
