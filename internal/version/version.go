// Package version is the Version Manager (C2): compiles an authored Visual
// Graph into an Execution Graph, validates it via internal/graph, and
// persists both as an immutable Version bound to a Flow. Grounded on the
// teacher's compiler/ir.go "compile then validate then persist" pipeline,
// generalized from the teacher's single CompileWorkflowSchema entry point
// into the spec's createVersion/autoVersionOnRun/listVersions/getVersion set.
package version

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lyzr/canvas-engine/internal/apperr"
	"github.com/lyzr/canvas-engine/internal/graph"
	"github.com/lyzr/canvas-engine/internal/models"
)

// Store is the subset of internal/store the version manager needs.
type Store interface {
	CreateVersion(ctx context.Context, v *models.FlowVersion) error
	SetFlowCurrentVersion(ctx context.Context, flowID, versionID string) error
	GetVersion(ctx context.Context, versionID string) (*models.FlowVersion, error)
	ListVersions(ctx context.Context, flowID string) ([]models.VersionMeta, error)
	LatestVersionVisualGraph(ctx context.Context, flowID string) (*models.VisualGraph, error)
}

// Manager implements the Version Manager.
type Manager struct {
	store Store
}

// New creates a Manager over a Store.
func New(s Store) *Manager {
	return &Manager{store: s}
}

// Result is what CreateVersion/AutoVersionOnRun return: the new version id
// and its freshly compiled execution graph.
type Result struct {
	VersionID      string
	ExecutionGraph *models.ExecutionGraph
}

// CreateVersion validates and compiles visualGraph, persists it atomically
// as a new immutable FlowVersion row, and updates the Flow's current_version_id.
// On validation failure nothing is written (spec §4.1, §4.2).
func (m *Manager) CreateVersion(ctx context.Context, flowID string, vg *models.VisualGraph, commitMessage *string) (*Result, error) {
	if issues := graph.Validate(vg); len(issues) > 0 {
		return nil, apperr.Validation("visual graph failed validation", issues)
	}

	eg := graph.Compile(vg)

	v := &models.FlowVersion{
		ID:             uuid.NewString(),
		FlowID:         flowID,
		CommitMessage:  commitMessage,
		VisualGraph:    *vg,
		ExecutionGraph: *eg,
		CreatedAt:      time.Now(),
	}

	if err := m.store.CreateVersion(ctx, v); err != nil {
		return nil, fmt.Errorf("persist version: %w", err)
	}
	if err := m.store.SetFlowCurrentVersion(ctx, flowID, v.ID); err != nil {
		return nil, fmt.Errorf("set flow current version: %w", err)
	}

	return &Result{VersionID: v.ID, ExecutionGraph: eg}, nil
}

// AutoVersionOnRun is identical to CreateVersion but invoked implicitly when
// a run is requested with a fresh visual graph (spec §4.2).
//
// Open Question (spec.md §9): whether identical content should deduplicate.
// This implementation deduplicates: if the flow's most recent version has a
// byte-identical visual graph (compared via canonical JSON marshal), the
// existing version is returned rather than writing a new row. This keeps
// "manual run with an unedited canvas" from accumulating a version per run,
// while any actual content change still yields a new version, which is what
// makes the round-trip/version-count boundary test in spec §8 ("twice in
// succession yields two versions iff the content differs") meaningful.
func (m *Manager) AutoVersionOnRun(ctx context.Context, flowID string, vg *models.VisualGraph) (*Result, error) {
	latest, err := m.store.LatestVersionVisualGraph(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("load latest version: %w", err)
	}
	if latest != nil && sameContent(latest, vg) {
		return m.currentVersionResult(ctx, flowID, vg)
	}
	return m.CreateVersion(ctx, flowID, vg, nil)
}

// currentVersionResult recompiles the execution graph for an unchanged visual
// graph rather than re-reading the stored version by id (the caller only
// has flowID here, not the version's own id, since LatestVersionVisualGraph
// returns the graph, not the row). Compilation is deterministic and cheap,
// so this yields byte-identical results to what's on disk without an extra
// round trip to fetch the id only to discard the rest of the row.
func (m *Manager) currentVersionResult(ctx context.Context, flowID string, vg *models.VisualGraph) (*Result, error) {
	metas, err := m.store.ListVersions(ctx, flowID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	if len(metas) == 0 {
		return m.CreateVersion(ctx, flowID, vg, nil)
	}
	eg := graph.Compile(vg)
	return &Result{VersionID: metas[0].ID, ExecutionGraph: eg}, nil
}

func sameContent(a, b *models.VisualGraph) bool {
	aJSON, errA := json.Marshal(a)
	bJSON, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aJSON) == string(bJSON)
}

// ListVersions returns metadata only (no graph blobs), newest first.
func (m *Manager) ListVersions(ctx context.Context, flowID string) ([]models.VersionMeta, error) {
	return m.store.ListVersions(ctx, flowID)
}

// GetVersion fetches a full version, including its graph blobs.
func (m *Manager) GetVersion(ctx context.Context, versionID string) (*models.FlowVersion, error) {
	return m.store.GetVersion(ctx, versionID)
}
