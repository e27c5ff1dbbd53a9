package sync_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memento-sh/sync-core/internal/conflict"
	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/core/testfakes"
	"github.com/memento-sh/sync-core/internal/rollback"
	"github.com/memento-sh/sync-core/internal/sync"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

// metrics are registered against the default Prometheus registerer, so
// every test needs its own namespace to avoid duplicate-collector
// panics across the package's test binary.
var nsSeq int64

func testNamespaces(t *testing.T) (conflictNS, rollbackNS, syncNS string) {
	t.Helper()
	n := atomic.AddInt64(&nsSeq, 1)
	base := fmt.Sprintf("kgsynct%d", n)
	return base + "cf", base + "rb", base + "sy"
}

type fixture struct {
	graph       *testfakes.Graph
	db          *testfakes.Database
	checkpoints *testfakes.CheckpointJobRunner
	parser      *testfakes.Parser
	coordinator *sync.Coordinator
}

func newFixture(t *testing.T, cfg func(*sync.Config)) *fixture {
	t.Helper()
	cfNS, rbNS, syNS := testNamespaces(t)

	graph := testfakes.NewGraph()
	db := testfakes.NewDatabase()
	checkpoints := testfakes.NewCheckpointJobRunner()
	parser := testfakes.NewParser()

	conflicts := conflict.New(conflict.Config{Metrics: metrics.NewConflictMetrics(cfNS)})
	rollbackEngine := rollback.New(rollback.Config{
		Database: db, Graph: graph, Metrics: metrics.NewRollbackMetrics(rbNS),
	})

	sc := sync.Config{
		Graph: graph, Database: db, Conflicts: conflicts, Rollback: rollbackEngine,
		Parser: parser, Checkpoints: checkpoints,
		Metrics: metrics.NewSyncMetrics(syNS),
	}
	if cfg != nil {
		cfg(&sc)
	}

	coordinator, err := sync.New(sc)
	require.NoError(t, err)

	return &fixture{graph: graph, db: db, checkpoints: checkpoints, parser: parser, coordinator: coordinator}
}

func waitForTerminal(t *testing.T, f *fixture, opID string, timeout time.Duration) *core.SyncOperation {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if op, ok := f.coordinator.GetOperationStatus(opID); ok {
			if op.Status == core.StatusCompleted || op.Status == core.StatusFailed {
				return op
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("operation %s did not reach a terminal state within %s", opID, timeout)
	return nil
}

func TestCoordinator_New_RequiresCollaborators(t *testing.T) {
	_, err := sync.New(sync.Config{})
	assert.Error(t, err)

	_, err = sync.New(sync.Config{Graph: testfakes.NewGraph()})
	assert.Error(t, err)
}

func TestCoordinator_Submit_IncrementalDelete_Completes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.graph.CreateEntity(ctx, core.Entity{
		ID: "e1", Type: "Function", Fields: map[string]any{"filePath": "a.go"},
	}))

	opID := f.coordinator.Submit(ctx, sync.SubmitRequest{
		Type:    core.OperationIncremental,
		Changes: []core.FileChange{{Path: "a.go", Type: core.FileChangeDelete}},
	})
	require.NotEmpty(t, opID)

	op := waitForTerminal(t, f, opID, time.Second)
	assert.Equal(t, core.StatusCompleted, op.Status)
	assert.Equal(t, 1, op.EntitiesDeleted)
	// e1 is gone; the session and change bookkeeping entities created
	// at the start of performIncrementalSync remain.
	assert.Equal(t, 2, f.graph.EntityCount())
}

func TestCoordinator_CancelOperation_Queued(t *testing.T) {
	f := newFixture(t, nil)
	f.coordinator.PauseSync()

	opID := f.coordinator.Submit(context.Background(), sync.SubmitRequest{
		Type:    core.OperationIncremental,
		Changes: []core.FileChange{{Path: "a.go", Type: core.FileChangeDelete}},
	})

	ok := f.coordinator.CancelOperation(opID)
	assert.True(t, ok, "cancelling a queued operation should report success")

	f.coordinator.ResumeSync(context.Background())
	op := waitForTerminal(t, f, opID, time.Second)
	assert.Equal(t, core.StatusFailed, op.Status)
}

func TestCoordinator_CancelOperation_Unknown(t *testing.T) {
	f := newFixture(t, nil)
	assert.False(t, f.coordinator.CancelOperation("no-such-op"))
}

func TestCoordinator_PauseResume_BlocksQueueProcessing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.coordinator.PauseSync()

	require.NoError(t, f.graph.CreateEntity(ctx, core.Entity{
		ID: "e1", Type: "Function", Fields: map[string]any{"filePath": "a.go"},
	}))
	opID := f.coordinator.Submit(ctx, sync.SubmitRequest{
		Type:    core.OperationIncremental,
		Changes: []core.FileChange{{Path: "a.go", Type: core.FileChangeDelete}},
	})

	time.Sleep(100 * time.Millisecond)
	op, _ := f.coordinator.GetOperationStatus(opID)
	require.NotNil(t, op)
	assert.Equal(t, core.StatusPending, op.Status, "operation should not run while paused")

	f.coordinator.ResumeSync(ctx)
	op = waitForTerminal(t, f, opID, time.Second)
	assert.Equal(t, core.StatusCompleted, op.Status)
}

func TestCoordinator_UpdateTuning_EmitsProgressEvent(t *testing.T) {
	f := newFixture(t, nil)

	var got *sync.Event
	f.coordinator.AddListener(func(e sync.Event) {
		if e.Kind == sync.EventSyncProgress {
			ev := e
			got = &ev
		}
	})

	f.coordinator.UpdateTuning("op-test-1", core.OperationTuning{MaxConcurrency: 1000, BatchSize: 999999})

	require.NotNil(t, got)
	require.NotNil(t, got.Progress)
	assert.Equal(t, "op-test-1", got.Progress.OperationID)
}

func TestCoordinator_IncrementalCreate_SchedulesCheckpointUnderRateLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(path, []byte("package a"), 0o644))

	parser := testfakes.NewParser()
	parser.Responses[path] = core.ParseResult{
		Entities: []core.Entity{{ID: "e1", Type: "Function"}},
	}

	f := newFixture(t, func(c *sync.Config) {
		c.Parser = parser
		c.CheckpointRateLimitPerSecond = 1000
		c.CheckpointRateLimitBurst = 5
	})

	var scheduled bool
	f.coordinator.AddListener(func(e sync.Event) {
		if e.Kind == sync.EventCheckpointScheduled {
			scheduled = true
		}
	})

	opID := f.coordinator.Submit(context.Background(), sync.SubmitRequest{
		Type:    core.OperationIncremental,
		Changes: []core.FileChange{{Path: path, Type: core.FileChangeCreate}},
	})

	op := waitForTerminal(t, f, opID, time.Second)
	assert.Equal(t, core.StatusCompleted, op.Status)
	assert.Equal(t, 1, op.EntitiesCreated)
	assert.True(t, scheduled, "a create with seeds should schedule a checkpoint job")
	// e1 plus the session and change bookkeeping entities.
	assert.Equal(t, 3, f.graph.EntityCount())
}

func TestCoordinator_PartialSync_MissingEntity_RecordsError(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	opID := f.coordinator.Submit(ctx, sync.SubmitRequest{
		Type: core.OperationPartial,
		Updates: []core.PartialUpdate{
			{EntityID: "does-not-exist", Fields: map[string]any{"x": 1}},
		},
	})

	op := waitForTerminal(t, f, opID, time.Second)
	assert.Equal(t, core.StatusCompleted, op.Status, "a missing entity is a recoverable per-item error, not a fatal one")
	require.Len(t, op.Errors, 1)
	assert.Equal(t, core.ErrorKindDatabase, op.Errors[0].Kind)
}
