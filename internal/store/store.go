// Package store is the State Store Adapter (C3): the narrow interface the
// engine uses for atomic writes on runs, entities, journey events, and
// webhook events. Grounded on the teacher's common/repository/run.go
// (query/Scan idiom) and common/models/cas_blob.go (the immutable,
// content-addressed persistence idiom generalized here into FlowVersion
// storage).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/models"
)

// Conn is the subset of *pgxpool.Pool the store needs. *db.DB satisfies it
// directly (it embeds *pgxpool.Pool); pgxmock.PgxPoolIface satisfies it in
// tests, following the teacher's storage.DB abstraction in
// albert-saclot-workflow-go-challenge's api/services/storage package.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store wraps the database pool with the engine's atomic operations.
type Store struct {
	db Conn
}

// New creates a Store over any Conn (a *db.DB in production, a pgxmock pool in tests).
func New(conn Conn) *Store {
	return &Store{db: conn}
}

// ErrCASConflict is returned when an atomic node-state write's expected
// status does not match the row's current status.
var ErrCASConflict = errors.New("node state CAS conflict")

// --- Flows -----------------------------------------------------------------

// CreateFlow inserts a new flow.
func (s *Store) CreateFlow(ctx context.Context, f *models.Flow) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO flows (id, name, canvas_type, parent_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, f.ID, f.Name, f.CanvasType, f.ParentID, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("create flow: %w", err)
	}
	return nil
}

// GetFlow fetches a flow by id.
func (s *Store) GetFlow(ctx context.Context, flowID string) (*models.Flow, error) {
	f := &models.Flow{}
	err := s.db.QueryRow(ctx, `
		SELECT id, name, canvas_type, parent_id, current_version_id, created_at, deleted_at
		FROM flows WHERE id = $1
	`, flowID).Scan(&f.ID, &f.Name, &f.CanvasType, &f.ParentID, &f.CurrentVersionID, &f.CreatedAt, &f.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "flow not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return f, nil
}

// UpdateFlowMetadata updates a flow's mutable fields (name, parent_id) only
// -- current_version_id and every Version's content stay untouched by this
// path (§4.2, Flow metadata PATCH never reaches into Version content).
func (s *Store) UpdateFlowMetadata(ctx context.Context, flowID, name string, parentID *string) error {
	_, err := s.db.Exec(ctx, `UPDATE flows SET name = $2, parent_id = $3 WHERE id = $1`, flowID, name, parentID)
	if err != nil {
		return fmt.Errorf("update flow metadata: %w", err)
	}
	return nil
}

// SetFlowCurrentVersion updates the flow's pointer to its latest version,
// called after the version manager persists a new FlowVersion.
func (s *Store) SetFlowCurrentVersion(ctx context.Context, flowID, versionID string) error {
	_, err := s.db.Exec(ctx, `UPDATE flows SET current_version_id = $2 WHERE id = $1`, flowID, versionID)
	if err != nil {
		return fmt.Errorf("set flow current version: %w", err)
	}
	return nil
}

// --- Flow versions -----------------------------------------------------------

// CreateVersion persists an immutable FlowVersion row.
func (s *Store) CreateVersion(ctx context.Context, v *models.FlowVersion) error {
	visual, err := json.Marshal(v.VisualGraph)
	if err != nil {
		return fmt.Errorf("marshal visual graph: %w", err)
	}
	exec, err := json.Marshal(v.ExecutionGraph)
	if err != nil {
		return fmt.Errorf("marshal execution graph: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO flow_versions (id, flow_id, commit_message, visual_graph, execution_graph, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, v.ID, v.FlowID, v.CommitMessage, visual, exec, v.CreatedAt)
	if err != nil {
		return fmt.Errorf("create version: %w", err)
	}
	return nil
}

// GetVersion fetches a full FlowVersion by id, including its graph blobs.
func (s *Store) GetVersion(ctx context.Context, versionID string) (*models.FlowVersion, error) {
	v := &models.FlowVersion{}
	var visual, exec []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, flow_id, commit_message, visual_graph, execution_graph, created_at
		FROM flow_versions WHERE id = $1
	`, versionID).Scan(&v.ID, &v.FlowID, &v.CommitMessage, &visual, &exec, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "version not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	if err := json.Unmarshal(visual, &v.VisualGraph); err != nil {
		return nil, fmt.Errorf("unmarshal visual graph: %w", err)
	}
	if err := json.Unmarshal(exec, &v.ExecutionGraph); err != nil {
		return nil, fmt.Errorf("unmarshal execution graph: %w", err)
	}
	return v, nil
}

// ListVersions returns metadata only (no graph blobs), newest first.
func (s *Store) ListVersions(ctx context.Context, flowID string) ([]models.VersionMeta, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, flow_id, commit_message, created_at
		FROM flow_versions WHERE flow_id = $1
		ORDER BY created_at DESC
	`, flowID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []models.VersionMeta
	for rows.Next() {
		var m models.VersionMeta
		if err := rows.Scan(&m.ID, &m.FlowID, &m.CommitMessage, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version meta: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// LatestVersionVisualGraph fetches only the visual_graph blob of a flow's
// most recent version, used to detect identical-content autoVersionOnRun
// calls without paying for the execution graph round trip (see the dedup
// note on version.Manager.AutoVersionOnRun).
func (s *Store) LatestVersionVisualGraph(ctx context.Context, flowID string) (*models.VisualGraph, error) {
	var visual []byte
	err := s.db.QueryRow(ctx, `
		SELECT visual_graph FROM flow_versions
		WHERE flow_id = $1 ORDER BY created_at DESC LIMIT 1
	`, flowID).Scan(&visual)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest version visual graph: %w", err)
	}
	var vg models.VisualGraph
	if err := json.Unmarshal(visual, &vg); err != nil {
		return nil, fmt.Errorf("unmarshal visual graph: %w", err)
	}
	return &vg, nil
}

// --- Runs --------------------------------------------------------------------

// CreateRun persists a new run with every pinned-version node initialized.
func (s *Store) CreateRun(ctx context.Context, r *models.Run) error {
	trigger, err := json.Marshal(r.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	nodeStates, err := json.Marshal(r.NodeStates)
	if err != nil {
		return fmt.Errorf("marshal node states: %w", err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO runs (id, flow_id, flow_version_id, entity_id, trigger, node_states, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.FlowID, r.FlowVersionID, r.EntityID, trigger, nodeStates, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// GetRun reads the full run row, bypassing any end-user visibility rules —
// the webhook and callback paths have no user context (§4.3).
func (s *Store) GetRun(ctx context.Context, runID string) (*models.Run, error) {
	r := &models.Run{}
	var trigger, nodeStates []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, flow_id, flow_version_id, entity_id, trigger, node_states, created_at
		FROM runs WHERE id = $1
	`, runID).Scan(&r.ID, &r.FlowID, &r.FlowVersionID, &r.EntityID, &trigger, &nodeStates, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "run not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	if err := json.Unmarshal(trigger, &r.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}
	if err := json.Unmarshal(nodeStates, &r.NodeStates); err != nil {
		return nil, fmt.Errorf("unmarshal node states: %w", err)
	}
	return r, nil
}

// UpdateNodeState performs a CAS write of node_states[nodeId].status: it only
// succeeds if the node's current status equals expectedStatus (§4.4, §9
// "concurrency through CAS, not locks"). The whole node_states JSONB column
// is read-modify-written inside one row-level UPDATE guarded by a JSON path
// equality check, so two concurrent callers racing the same transition
// serialize at the database.
func (s *Store) UpdateNodeState(ctx context.Context, runID, nodeID string, expectedStatus models.NodeStatus, patch models.NodeState) error {
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal node state patch: %w", err)
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE runs
		SET node_states = jsonb_set(node_states, ARRAY[$2], $3::jsonb, false)
		WHERE id = $1
		  AND node_states #>> ARRAY[$2, 'status'] = $4
	`, runID, nodeID, patchJSON, string(expectedStatus))
	if err != nil {
		return fmt.Errorf("update node state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCASConflict
	}
	return nil
}

// NodeStatePatch pairs a node id with the patch UpdateNodeStates should apply
// to it, gated by the node's expected prior status.
type NodeStatePatch struct {
	NodeID         string
	ExpectedStatus models.NodeStatus
	Patch          models.NodeState
}

// UpdateNodeStates performs a bulk CAS write in a single transaction, used by
// the edge walker to write several sibling skip transitions at once without
// inconsistent intermediate states (§4.4).
func (s *Store) UpdateNodeStates(ctx context.Context, runID string, patches []NodeStatePatch) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for _, p := range patches {
		patchJSON, err := json.Marshal(p.Patch)
		if err != nil {
			return fmt.Errorf("marshal node state patch for %s: %w", p.NodeID, err)
		}
		tag, err := tx.Exec(ctx, `
			UPDATE runs
			SET node_states = jsonb_set(node_states, ARRAY[$2], $3::jsonb, false)
			WHERE id = $1
			  AND node_states #>> ARRAY[$2, 'status'] = $4
		`, runID, p.NodeID, patchJSON, string(p.ExpectedStatus))
		if err != nil {
			return fmt.Errorf("update node state for %s: %w", p.NodeID, err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: node %s", ErrCASConflict, p.NodeID)
		}
	}

	return tx.Commit(ctx)
}

// --- Entities & journey --------------------------------------------------------

// UpsertEntity inserts or updates an entity keyed by canvas_id + email.
func (s *Store) UpsertEntity(ctx context.Context, e *models.Entity) error {
	journey, err := json.Marshal(e.Journey)
	if err != nil {
		return fmt.Errorf("marshal journey: %w", err)
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	err = s.db.QueryRow(ctx, `
		INSERT INTO entities (id, canvas_id, name, email, avatar, entity_type, current_node_id, current_edge_id, edge_progress, journey, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
		ON CONFLICT (canvas_id, email) WHERE email IS NOT NULL
		DO UPDATE SET
			name = EXCLUDED.name,
			avatar = COALESCE(EXCLUDED.avatar, entities.avatar),
			entity_type = EXCLUDED.entity_type,
			metadata = entities.metadata || EXCLUDED.metadata,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`, e.ID, e.CanvasID, e.Name, e.Email, e.Avatar, e.EntityType, e.CurrentNodeID, e.CurrentEdgeID, e.EdgeProgress, journey, metadata, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("upsert entity: %w", err)
	}
	return nil
}

// GetEntity fetches an entity by id.
func (s *Store) GetEntity(ctx context.Context, entityID string) (*models.Entity, error) {
	e := &models.Entity{}
	var journey, metadata []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, canvas_id, name, email, avatar, entity_type, current_node_id, current_edge_id, edge_progress, journey, metadata, created_at, updated_at
		FROM entities WHERE id = $1
	`, entityID).Scan(&e.ID, &e.CanvasID, &e.Name, &e.Email, &e.Avatar, &e.EntityType, &e.CurrentNodeID, &e.CurrentEdgeID, &e.EdgeProgress, &journey, &metadata, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "entity not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if err := json.Unmarshal(journey, &e.Journey); err != nil {
		return nil, fmt.Errorf("unmarshal journey: %w", err)
	}
	if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return e, nil
}

// MoveEntity atomically sets current_node_id (clearing current_edge_id/edge_progress)
// or current_edge_id+edge_progress (clearing current_node_id) and appends a
// journey event, enforcing the mutual-exclusion invariant in one statement.
func (s *Store) MoveEntity(ctx context.Context, entityID string, nodeID, edgeID *string, edgeProgress *float64, event models.JourneyEvent) error {
	if nodeID != nil && edgeID != nil {
		return fmt.Errorf("move entity: current_node_id and current_edge_id are mutually exclusive")
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal journey event: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx, `
		UPDATE entities
		SET current_node_id = $2, current_edge_id = $3, edge_progress = $4,
		    journey = journey || $5::jsonb, updated_at = $6
		WHERE id = $1
	`, entityID, nodeID, edgeID, edgeProgress, eventJSON, time.Now())
	if err != nil {
		return fmt.Errorf("move entity: %w", err)
	}

	return tx.Commit(ctx)
}

// AppendJourneyEvent appends an event without otherwise moving the entity
// (e.g. the "left_node/entered_node" pair recorded on plain graph traversal
// when no entityMovement is configured, §4.8).
func (s *Store) AppendJourneyEvent(ctx context.Context, entityID string, event models.JourneyEvent) error {
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal journey event: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		UPDATE entities SET journey = journey || $2::jsonb, updated_at = $3 WHERE id = $1
	`, entityID, eventJSON, time.Now())
	if err != nil {
		return fmt.Errorf("append journey event: %w", err)
	}
	return nil
}

// FindEntityByEmail returns the most recently updated entity with the given
// email across canvases. An inbound reply (e.g. an email) carries no canvas
// context of its own, so this is the broadest lookup the reply ingress (C5
// UX external reply resolution, §4.5) can make before narrowing by run.
func (s *Store) FindEntityByEmail(ctx context.Context, email string) (*models.Entity, error) {
	e := &models.Entity{}
	var journey, metadata []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, canvas_id, name, email, avatar, entity_type, current_node_id, current_edge_id, edge_progress, journey, metadata, created_at, updated_at
		FROM entities WHERE email = $1
		ORDER BY updated_at DESC LIMIT 1
	`, email).Scan(&e.ID, &e.CanvasID, &e.Name, &e.Email, &e.Avatar, &e.EntityType, &e.CurrentNodeID, &e.CurrentEdgeID, &e.EdgeProgress, &journey, &metadata, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "no entity with that email")
	}
	if err != nil {
		return nil, fmt.Errorf("find entity by email: %w", err)
	}
	if err := json.Unmarshal(journey, &e.Journey); err != nil {
		return nil, fmt.Errorf("unmarshal journey: %w", err)
	}
	if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return e, nil
}

// FindLatestWaitingRun locates the most recent run bound to entityID that has
// at least one node in waiting_for_user, and returns that run and node's id
// (spec §4.5: "the system selects the most recent run with U in
// waiting_for_user"). Runs are scanned newest-first; the first node found in
// waiting_for_user status within the newest matching run wins.
func (s *Store) FindLatestWaitingRun(ctx context.Context, entityID string) (runID string, nodeID string, err error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, node_states FROM runs
		WHERE entity_id = $1
		ORDER BY created_at DESC
	`, entityID)
	if err != nil {
		return "", "", fmt.Errorf("find latest waiting run: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return "", "", fmt.Errorf("scan run for waiting lookup: %w", err)
		}
		var states map[string]models.NodeState
		if err := json.Unmarshal(raw, &states); err != nil {
			return "", "", fmt.Errorf("unmarshal node states for waiting lookup: %w", err)
		}
		for nid, st := range states {
			if st.Status == models.NodeStatusWaitingForUser {
				return id, nid, nil
			}
		}
	}
	if err := rows.Err(); err != nil {
		return "", "", fmt.Errorf("find latest waiting run: %w", err)
	}
	return "", "", apperr.New(apperr.KindNotFound, "no run is waiting for a user reply for this entity")
}

// --- Webhook configs & events --------------------------------------------------

// GetWebhookConfigBySlug looks up an active webhook config by its public slug.
func (s *Store) GetWebhookConfigBySlug(ctx context.Context, slug string) (*models.WebhookConfig, error) {
	wc := &models.WebhookConfig{}
	var mapping []byte
	err := s.db.QueryRow(ctx, `
		SELECT id, canvas_id, name, source, endpoint_slug, secret, workflow_id, entry_edge_id, entity_mapping, is_active, created_at
		FROM webhook_configs WHERE endpoint_slug = $1
	`, slug).Scan(&wc.ID, &wc.CanvasID, &wc.Name, &wc.Source, &wc.EndpointSlug, &wc.Secret, &wc.WorkflowID, &wc.EntryEdgeID, &mapping, &wc.IsActive, &wc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "webhook config not found")
	}
	if err != nil {
		return nil, fmt.Errorf("get webhook config: %w", err)
	}
	if len(mapping) > 0 {
		if err := json.Unmarshal(mapping, &wc.EntityMapping); err != nil {
			return nil, fmt.Errorf("unmarshal entity mapping: %w", err)
		}
	}
	return wc, nil
}

// CreateWebhookEvent persists a new pending audit row, returning its id.
func (s *Store) CreateWebhookEvent(ctx context.Context, configID *string, rawPayload []byte) (string, error) {
	id := uuid.NewString()
	_, err := s.db.Exec(ctx, `
		INSERT INTO webhook_events (id, webhook_config_id, received_at, raw_payload, status)
		VALUES ($1, $2, $3, $4, $5)
	`, id, configID, time.Now(), rawPayload, models.WebhookEventPending)
	if err != nil {
		return "", fmt.Errorf("create webhook event: %w", err)
	}
	return id, nil
}

// UpdateWebhookEventStatus finalizes a webhook event's audit status.
func (s *Store) UpdateWebhookEventStatus(ctx context.Context, eventID string, status models.WebhookEventStatus, entityID, runID *string, errMsg *string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE webhook_events SET status = $2, entity_id = $3, run_id = $4, error = $5 WHERE id = $1
	`, eventID, status, entityID, runID, errMsg)
	if err != nil {
		return fmt.Errorf("update webhook event status: %w", err)
	}
	return nil
}
