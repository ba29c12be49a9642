// Package models holds the engine's persisted data model (spec.md §3):
// Flow, FlowVersion, Run, Entity, JourneyEvent, WebhookConfig and
// WebhookEvent, plus the execution graph shape the version manager
// compiles and the edge walker consumes.
package models

import "time"

// CanvasType distinguishes a top-level BMC from a nested workflow.
type CanvasType string

const (
	CanvasTypeBMC      CanvasType = "bmc"
	CanvasTypeWorkflow CanvasType = "workflow"
)

// Flow is a user-authored canvas: a BMC or a nested workflow.
type Flow struct {
	ID              string     `json:"id" db:"id"`
	Name            string     `json:"name" db:"name"`
	CanvasType      CanvasType `json:"canvas_type" db:"canvas_type"`
	ParentID        *string    `json:"parent_id,omitempty" db:"parent_id"`
	CurrentVersionID *string   `json:"current_version_id,omitempty" db:"current_version_id"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// NodeType enumerates the node kinds a node in an execution graph may take.
type NodeType string

const (
	NodeTypeWorker         NodeType = "Worker"
	NodeTypeSplitter       NodeType = "Splitter"
	NodeTypeCollector      NodeType = "Collector"
	NodeTypeUX             NodeType = "UX"
	NodeTypeSection        NodeType = "Section"
	NodeTypeItem           NodeType = "Item"
	NodeTypeCostsSection   NodeType = "CostsSection"
	NodeTypeRevenueSection NodeType = "RevenueSection"
)

// EdgeType distinguishes the journey subgraph (must be acyclic, gates entity
// movement) from system side-channels (may loop, never gate movement) and
// conditional edges (carry a predicate evaluated against upstream output).
type EdgeType string

const (
	EdgeTypeJourney     EdgeType = "journey"
	EdgeTypeSystem      EdgeType = "system"
	EdgeTypeConditional EdgeType = "conditional"
)

// EntityMovement describes how a Worker node relocates its bound entity on
// success or failure (§4.8).
type EntityMovement struct {
	OnSuccess *MovementRule `json:"onSuccess,omitempty"`
	OnFailure *MovementRule `json:"onFailure,omitempty"`
}

// MovementRule is one side of an EntityMovement.
type MovementRule struct {
	TargetSectionID  string `json:"targetSectionId"`
	MarkCurrentNode  bool   `json:"markCurrentNode,omitempty"`
	RecordJourneyAs  string `json:"recordJourneyAs,omitempty"`
}

// VisualNode is a node as authored in the canvas editor: position, style and
// domain data are opaque to the engine beyond Type and required-input schema.
type VisualNode struct {
	ID       string                 `json:"id"`
	Type     NodeType               `json:"type"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Position *Position              `json:"position,omitempty"`

	EntityMovement  *EntityMovement `json:"entityMovement,omitempty"`
	RequiredInputs  []string        `json:"requiredInputs,omitempty"`
	IsAsync         bool            `json:"isAsync,omitempty"`
	CallbackDeadline *time.Duration `json:"callbackDeadline,omitempty"`
}

// Position is the authored canvas coordinate of a node; the engine never
// reads it, it only survives the visual<->execution round trip.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// VisualEdge is an edge as authored in the canvas editor.
type VisualEdge struct {
	ID        string   `json:"id"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Type      EdgeType `json:"type"`
	Predicate string   `json:"predicate,omitempty"` // CEL expression, evaluated against upstream output
	Label     string   `json:"label,omitempty"`
}

// VisualGraph is the authored form of a canvas: what the Version Manager
// validates and compiles into an ExecutionGraph.
type VisualGraph struct {
	Nodes []VisualNode `json:"nodes"`
	Edges []VisualEdge `json:"edges"`
}

// ExecutionNode is the compiled, runtime-facing shape of a node.
type ExecutionNode struct {
	Type             NodeType        `json:"type"`
	Data             map[string]interface{} `json:"data,omitempty"`
	EntityMovement   *EntityMovement `json:"entityMovement,omitempty"`
	RequiredInputs   []string        `json:"requiredInputs,omitempty"`
	IsAsync          bool            `json:"isAsync,omitempty"`
	CallbackDeadline *time.Duration  `json:"callbackDeadline,omitempty"`
}

// ExecutionEdge is the compiled edge attribute record, keyed by edgeData's
// "{source}->{target}" edgeKey.
type ExecutionEdge struct {
	ID        string   `json:"id"`
	Type      EdgeType `json:"type"`
	Predicate string   `json:"predicate,omitempty"`
	Label     string   `json:"label,omitempty"`
}

// ExecutionGraph is the compiled, immutable form the edge walker reads: a
// dense adjacency representation with O(1) lookups (spec.md §3, Flow Version).
type ExecutionGraph struct {
	Nodes             map[string]ExecutionNode `json:"nodes"`
	Adjacency         map[string][]string      `json:"adjacency"`
	ReverseAdjacency  map[string][]string      `json:"reverseAdjacency"` // target -> sources, in authored edge order
	EdgeData          map[string]ExecutionEdge `json:"edgeData"`         // key: EdgeKey(source, target)
	EntryNodes        []string                 `json:"entryNodes"`
	TerminalNodes     []string                 `json:"terminalNodes"`
}

// EdgeKey builds the "{source}->{target}" key used by EdgeData.
func EdgeKey(source, target string) string {
	return source + "->" + target
}

// Predecessors returns every node with a journey/conditional edge into node,
// in deterministic authored-edge order (ReverseAdjacency is built once at
// compile time from the visual graph's edge slice, not from map iteration,
// so Collector fan-in merge order -- spec §4.5 "order defined by adjacency"
// -- is reproducible run to run).
func (g *ExecutionGraph) Predecessors(node string) []string {
	return g.ReverseAdjacency[node]
}

// FlowVersion is an immutable, compiled snapshot bound to a Flow.
type FlowVersion struct {
	ID             string         `json:"id" db:"id"`
	FlowID         string         `json:"flow_id" db:"flow_id"`
	CommitMessage  *string        `json:"commit_message,omitempty" db:"commit_message"`
	VisualGraph    VisualGraph    `json:"visual_graph" db:"visual_graph"`
	ExecutionGraph ExecutionGraph `json:"execution_graph" db:"execution_graph"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// VersionMeta is the metadata-only projection listVersions returns (no graph blobs).
type VersionMeta struct {
	ID            string    `json:"id"`
	FlowID        string    `json:"flow_id"`
	CommitMessage *string   `json:"commit_message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// TriggerType enumerates how a Run came to exist.
type TriggerType string

const (
	TriggerWebhook   TriggerType = "webhook"
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
	TriggerDemo      TriggerType = "demo"
)

// Trigger records what caused a Run to start.
type Trigger struct {
	Type      TriggerType `json:"type"`
	Source    string      `json:"source,omitempty"`
	EventID   string      `json:"event_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// NodeStatus enumerates the permitted states of a node within a run (§4.4).
type NodeStatus string

const (
	NodeStatusPending        NodeStatus = "pending"
	NodeStatusRunning        NodeStatus = "running"
	NodeStatusCompleted      NodeStatus = "completed"
	NodeStatusFailed         NodeStatus = "failed"
	NodeStatusWaitingForUser NodeStatus = "waiting_for_user"
	NodeStatusSkipped        NodeStatus = "skipped"
)

// NodeState is one node's execution state within a run.
type NodeState struct {
	Status     NodeStatus             `json:"status"`
	Output     map[string]interface{} `json:"output,omitempty"`
	Error      string                 `json:"error,omitempty"`
	StartedAt  *time.Time             `json:"started_at,omitempty"`
	FinishedAt *time.Time             `json:"finished_at,omitempty"`
}

// Run is a single execution instance pinned to a FlowVersion.
type Run struct {
	ID            string               `json:"id" db:"id"`
	FlowID        string               `json:"flow_id" db:"flow_id"`
	FlowVersionID string               `json:"flow_version_id" db:"flow_version_id"`
	EntityID      *string              `json:"entity_id,omitempty" db:"entity_id"`
	Trigger       Trigger              `json:"trigger" db:"trigger"`
	NodeStates    map[string]NodeState `json:"node_states" db:"node_states"`
	CreatedAt     time.Time            `json:"created_at" db:"created_at"`
}

// JourneyEventType enumerates the kinds of append-only journey events.
type JourneyEventType string

const (
	JourneyEnteredNode   JourneyEventType = "entered_node"
	JourneyLeftNode      JourneyEventType = "left_node"
	JourneyOnEdge        JourneyEventType = "on_edge"
	JourneyArrivedVia    JourneyEventType = "arrived_via"
	JourneyMovedByWorker JourneyEventType = "moved_by_worker"
)

// JourneyEvent is one append-only entry in an Entity's journey.
type JourneyEvent struct {
	EntityID  string                 `json:"entity_id"`
	EventType JourneyEventType       `json:"event_type"`
	NodeID    string                 `json:"node_id,omitempty"`
	EdgeID    string                 `json:"edge_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Entity is a tracked identity whose position in a canvas is updated by
// worker completions (spec.md §3).
type Entity struct {
	ID            string                 `json:"id" db:"id"`
	CanvasID      string                 `json:"canvas_id" db:"canvas_id"`
	Name          string                 `json:"name" db:"name"`
	Email         *string                `json:"email,omitempty" db:"email"`
	Avatar        *string                `json:"avatar,omitempty" db:"avatar"`
	EntityType    string                 `json:"entity_type" db:"entity_type"`
	CurrentNodeID *string                `json:"current_node_id,omitempty" db:"current_node_id"`
	CurrentEdgeID *string                `json:"current_edge_id,omitempty" db:"current_edge_id"`
	EdgeProgress  *float64               `json:"edge_progress,omitempty" db:"edge_progress"`
	Journey       []JourneyEvent         `json:"journey" db:"journey"`
	Metadata      map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at" db:"updated_at"`
}

// WebhookSource enumerates the pluggable adapters C7 supports.
type WebhookSource string

const (
	SourceStripe   WebhookSource = "stripe"
	SourceTypeform WebhookSource = "typeform"
	SourceCalendly WebhookSource = "calendly"
	SourceN8N      WebhookSource = "n8n"
	SourceCustom   WebhookSource = "custom"
)

// WebhookConfig binds a public endpoint slug to a flow's entry edge and an
// entity extraction strategy.
type WebhookConfig struct {
	ID            string                 `json:"id" db:"id"`
	CanvasID      string                 `json:"canvas_id" db:"canvas_id"`
	Name          string                 `json:"name" db:"name"`
	Source        WebhookSource          `json:"source" db:"source"`
	EndpointSlug  string                 `json:"endpoint_slug" db:"endpoint_slug"`
	Secret        *string                `json:"secret,omitempty" db:"secret"`
	WorkflowID    string                 `json:"workflow_id" db:"workflow_id"`
	EntryEdgeID   string                 `json:"entry_edge_id" db:"entry_edge_id"`
	EntityMapping map[string]interface{} `json:"entity_mapping,omitempty" db:"entity_mapping"`
	IsActive      bool                   `json:"is_active" db:"is_active"`
	CreatedAt     time.Time              `json:"created_at" db:"created_at"`
}

// WebhookEventStatus enumerates a webhook event's audit-log lifecycle.
type WebhookEventStatus string

const (
	WebhookEventPending          WebhookEventStatus = "pending"
	WebhookEventCompleted        WebhookEventStatus = "completed"
	WebhookEventFailed           WebhookEventStatus = "failed"
	WebhookEventSignatureInvalid WebhookEventStatus = "signature_invalid"
	WebhookEventConfigMissing    WebhookEventStatus = "config_missing"
)

// WebhookEvent is an append-only audit record of one inbound webhook call,
// retained even if the run it started is later deleted.
type WebhookEvent struct {
	ID              string             `json:"id" db:"id"`
	WebhookConfigID *string            `json:"webhook_config_id,omitempty" db:"webhook_config_id"`
	ReceivedAt      time.Time          `json:"received_at" db:"received_at"`
	RawPayload      []byte             `json:"raw_payload" db:"raw_payload"`
	Status          WebhookEventStatus `json:"status" db:"status"`
	EntityID        *string            `json:"entity_id,omitempty" db:"entity_id"`
	RunID           *string            `json:"run_id,omitempty" db:"run_id"`
	Error           *string            `json:"error,omitempty" db:"error"`
}
