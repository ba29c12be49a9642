package webhook

import (
	"github.com/tidwall/gjson"

	"github.com/lyzr/canvas-engine/internal/models"
)

// StripeAdapter extracts entity fields from a Stripe checkout/customer event
// (spec §4.7 step 7: "customer_details.email/name, customer_id,
// payment_status, amount, currency").
type StripeAdapter struct{}

func (StripeAdapter) Source() models.WebhookSource { return models.SourceStripe }

func (StripeAdapter) ExtractEntity(rawPayload []byte, mapping map[string]interface{}) (ExtractedEntity, error) {
	obj := gjson.GetBytes(rawPayload, "data.object")
	details := obj.Get("customer_details")

	e := ExtractedEntity{
		Name:       details.Get("name").String(),
		Email:      details.Get("email").String(),
		EntityType: "customer",
		Metadata:   map[string]interface{}{},
	}
	if v := obj.Get("customer"); v.Exists() {
		e.Metadata["customer_id"] = v.String()
	}
	if v := obj.Get("payment_status"); v.Exists() {
		e.Metadata["payment_status"] = v.String()
	}
	if v := obj.Get("amount_total"); v.Exists() {
		e.Metadata["amount"] = v.Int()
	}
	if v := obj.Get("currency"); v.Exists() {
		e.Metadata["currency"] = v.String()
	}

	if e.Email == "" || e.Name == "" {
		e = genericExtract(rawPayload, mapping, e)
	}
	return e, nil
}

func (StripeAdapter) EventType(rawPayload []byte) string {
	return gjson.GetBytes(rawPayload, "type").String()
}

// TypeformAdapter scans form_response.answers for email/name fields by type
// (spec §4.7 step 7).
type TypeformAdapter struct{}

func (TypeformAdapter) Source() models.WebhookSource { return models.SourceTypeform }

func (TypeformAdapter) ExtractEntity(rawPayload []byte, mapping map[string]interface{}) (ExtractedEntity, error) {
	e := ExtractedEntity{EntityType: "lead", Metadata: map[string]interface{}{}}

	answers := gjson.GetBytes(rawPayload, "form_response.answers")
	if answers.IsArray() {
		for _, ans := range answers.Array() {
			switch ans.Get("type").String() {
			case "email":
				e.Email = ans.Get("email").String()
			case "text", "short_text":
				if e.Name == "" {
					e.Name = ans.Get("text").String()
				}
			}
		}
	}
	if formID := gjson.GetBytes(rawPayload, "form_response.form_id"); formID.Exists() {
		e.Metadata["form_id"] = formID.String()
	}

	if e.Email == "" || e.Name == "" {
		e = genericExtract(rawPayload, mapping, e)
	}
	return e, nil
}

func (TypeformAdapter) EventType(rawPayload []byte) string {
	return gjson.GetBytes(rawPayload, "event_type").String()
}

// CalendlyAdapter reads payload.invitee (spec §4.7 step 7).
type CalendlyAdapter struct{}

func (CalendlyAdapter) Source() models.WebhookSource { return models.SourceCalendly }

func (CalendlyAdapter) ExtractEntity(rawPayload []byte, mapping map[string]interface{}) (ExtractedEntity, error) {
	invitee := gjson.GetBytes(rawPayload, "payload.invitee")

	e := ExtractedEntity{
		Name:       invitee.Get("name").String(),
		Email:      invitee.Get("email").String(),
		EntityType: "prospect",
		Metadata:   map[string]interface{}{},
	}
	if v := gjson.GetBytes(rawPayload, "payload.event_type.name"); v.Exists() {
		e.Metadata["event_type"] = v.String()
	}
	if v := gjson.GetBytes(rawPayload, "payload.scheduled_event.start_time"); v.Exists() {
		e.Metadata["scheduled_start_time"] = v.String()
	}

	if e.Email == "" || e.Name == "" {
		e = genericExtract(rawPayload, mapping, e)
	}
	return e, nil
}

func (CalendlyAdapter) EventType(rawPayload []byte) string {
	return gjson.GetBytes(rawPayload, "event").String()
}

// N8NAdapter has no source-specific field layout of its own; it falls
// straight through to the generic JSON-path mapping on entity_mapping (spec
// §4.7 step 7: "n8n: fall through to generic JSON-path mapping").
type N8NAdapter struct{}

func (N8NAdapter) Source() models.WebhookSource { return models.SourceN8N }

func (N8NAdapter) ExtractEntity(rawPayload []byte, mapping map[string]interface{}) (ExtractedEntity, error) {
	return genericExtract(rawPayload, mapping, ExtractedEntity{EntityType: "lead"}), nil
}

func (N8NAdapter) EventType(rawPayload []byte) string {
	return gjson.GetBytes(rawPayload, "event").String()
}

// CustomAdapter is the generic fallback for webhook configs whose source is
// "custom": entirely driven by entity_mapping.
type CustomAdapter struct{}

func (CustomAdapter) Source() models.WebhookSource { return models.SourceCustom }

func (CustomAdapter) ExtractEntity(rawPayload []byte, mapping map[string]interface{}) (ExtractedEntity, error) {
	return genericExtract(rawPayload, mapping, ExtractedEntity{EntityType: "lead"}), nil
}

func (CustomAdapter) EventType(rawPayload []byte) string {
	return "custom"
}
