package rollback

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/core/testfakes"
)

func newTestEngine() (*Engine, *testfakes.Graph, *testfakes.Database) {
	graph := testfakes.NewGraph()
	db := testfakes.NewDatabase()
	engine := New(Config{Database: db, Graph: graph})
	return engine, graph, db
}

func TestCreateRollbackPoint_Snapshot(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	point, err := engine.CreateRollbackPoint(ctx, "op1", "before full sync",
		[]core.Entity{{ID: "e1", Fields: map[string]any{"name": "foo"}}}, nil)
	require.NoError(t, err)
	assert.False(t, point.IsChangeLog())
	assert.Equal(t, "op1", point.OperationID)
}

func TestCreateRollbackPoint_ChangeLog(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	engine.RecordEntityChange("op1", core.EntityChange{EntityID: "e1", Action: core.ChangeCreate})
	point, err := engine.CreateRollbackPoint(ctx, "op1", "incremental", nil, nil)
	require.NoError(t, err)
	assert.True(t, point.IsChangeLog())
	assert.Len(t, point.EntityChanges, 1)
}

func TestRollbackToPoint_ChangeLog_ReversesCreate(t *testing.T) {
	engine, graph, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, graph.CreateEntity(ctx, core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}))

	engine.RecordEntityChange("op1", core.EntityChange{EntityID: "e1", Action: core.ChangeCreate})
	point, err := engine.CreateRollbackPoint(ctx, "op1", "incremental", nil, nil)
	require.NoError(t, err)

	result, err := engine.RollbackToPoint(ctx, point.ID)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.RolledBackEntities)
	assert.Equal(t, 0, graph.EntityCount())
}

func TestRollbackToPoint_ChangeLog_ReversesUpdate(t *testing.T) {
	engine, graph, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, graph.CreateEntity(ctx, core.Entity{ID: "e1", Fields: map[string]any{"name": "new"}}))

	engine.RecordEntityChange("op1", core.EntityChange{
		EntityID: "e1", Action: core.ChangeUpdate,
		PreviousState: map[string]any{"name": "old"},
		NewState:      map[string]any{"name": "new"},
	})
	point, err := engine.CreateRollbackPoint(ctx, "op1", "incremental", nil, nil)
	require.NoError(t, err)

	_, err = engine.RollbackToPoint(ctx, point.ID)
	require.NoError(t, err)

	e, err := graph.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "old", e.Fields["name"])
}

func TestRollbackToPoint_ChangeLog_ReversesDelete(t *testing.T) {
	engine, graph, _ := newTestEngine()
	ctx := context.Background()

	engine.RecordEntityChange("op1", core.EntityChange{
		EntityID: "e1", Action: core.ChangeDelete,
		PreviousState: map[string]any{"name": "restored"},
	})
	point, err := engine.CreateRollbackPoint(ctx, "op1", "incremental", nil, nil)
	require.NoError(t, err)

	_, err = engine.RollbackToPoint(ctx, point.ID)
	require.NoError(t, err)

	e, err := graph.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "restored", e.Fields["name"])
}

func TestRollbackToPoint_Snapshot(t *testing.T) {
	engine, graph, _ := newTestEngine()
	ctx := context.Background()

	require.NoError(t, graph.CreateEntity(ctx, core.Entity{ID: "e1", Fields: map[string]any{"name": "mutated"}}))

	point, err := engine.CreateRollbackPoint(ctx, "op1", "before full sync",
		[]core.Entity{{ID: "e1", Fields: map[string]any{"name": "original"}}}, nil)
	require.NoError(t, err)

	_, err = engine.RollbackToPoint(ctx, point.ID)
	require.NoError(t, err)

	e, err := graph.GetEntity(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, "original", e.Fields["name"])
}

func TestRollbackLastOperation_PicksMostRecent(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	_, err := engine.CreateRollbackPoint(ctx, "op1", "first", []core.Entity{{ID: "e1"}}, nil)
	require.NoError(t, err)
	latest, err := engine.CreateRollbackPoint(ctx, "op1", "second", []core.Entity{{ID: "e2"}}, nil)
	require.NoError(t, err)

	result, err := engine.RollbackLastOperation(ctx, "op1")
	require.NoError(t, err)
	assert.Equal(t, latest.ID, result.RollbackID)
}

func TestRollbackLastOperation_NoPoints(t *testing.T) {
	engine, _, _ := newTestEngine()
	_, err := engine.RollbackLastOperation(context.Background(), "missing-op")
	assert.Error(t, err)
}

func TestValidateRollbackPoint_EmptySnapshotIsInvalid(t *testing.T) {
	engine, _, db := newTestEngine()
	ctx := context.Background()

	require.NoError(t, db.SaveRollbackPoint(ctx, core.RollbackPoint{ID: "rb1", OperationID: "op1"}))

	validation, err := engine.ValidateRollbackPoint(ctx, "rb1")
	require.NoError(t, err)
	assert.False(t, validation.Valid)
	assert.NotEmpty(t, validation.Issues)
}

func TestValidateRollbackPoint_MissingPoint(t *testing.T) {
	engine, _, _ := newTestEngine()
	validation, err := engine.ValidateRollbackPoint(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, validation.Valid)
}

func TestCleanupOldRollbackPoints(t *testing.T) {
	engine, _, _ := newTestEngine()
	ctx := context.Background()

	_, err := engine.CreateRollbackPoint(ctx, "op1", "old", []core.Entity{{ID: "e1"}}, nil)
	require.NoError(t, err)
	_, err = engine.CreateRollbackPoint(ctx, "op1", "new", []core.Entity{{ID: "e2"}}, nil)
	require.NoError(t, err)

	removed, err := engine.CleanupOldRollbackPoints(ctx, "op1", func(p core.RollbackPoint) bool {
		return p.Description == "new"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	remaining, err := engine.db.ListRollbackPoints(ctx, "op1")
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
	assert.Equal(t, "new", remaining[0].Description)
}

func TestLinkCheckpoint(t *testing.T) {
	engine, _, _ := newTestEngine()
	engine.LinkCheckpoint("rb1", "cp1")
	engine.LinkCheckpoint("rb1", "cp2")

	assert.ElementsMatch(t, []string{"cp1", "cp2"}, engine.CheckpointsFor("rb1"))
}
