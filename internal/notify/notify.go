// Package notify implements the row-level change notification fanout (§6):
// a Redis Pub/Sub publisher the engine calls on every run/entity write, a
// subscriber that forwards those events into an in-process Hub, and a Hub
// that fans them out to WebSocket clients subscribed to a given run or
// entity. Advisory only -- nothing here gates correctness, only UI
// freshness (§5 "Broadcast channels are advisory; no reader may rely on
// them for correctness"). Grounded on the teacher's cmd/fanout package
// (Hub/Client/RedisSubscriber/Server), generalized from its per-username
// connection keying to per-subject ("run:<id>" / "entity:<id>") keying.
package notify

// Message is one fanout event: Subject is "run:<id>" or "entity:<id>",
// Data is the JSON payload forwarded verbatim to subscribed clients.
type Message struct {
	Subject string
	Data    []byte
}
