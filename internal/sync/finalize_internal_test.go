package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/memento-sh/sync-core/internal/conflict"
	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/core/testfakes"
	"github.com/memento-sh/sync-core/internal/rollback"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

func TestRetryOperation_ResetsProgressCounters(t *testing.T) {
	graph := testfakes.NewGraph()
	db := testfakes.NewDatabase()
	conflicts := conflict.New(conflict.Config{Metrics: metrics.NewConflictMetrics("kgsyncretrytest")})
	rollbackEngine := rollback.New(rollback.Config{
		Database: db, Graph: graph, Metrics: metrics.NewRollbackMetrics("kgsyncretrytestrb"),
	})

	c, err := New(Config{
		Graph: graph, Database: db, Conflicts: conflicts, Rollback: rollbackEngine,
		Metrics: metrics.NewSyncMetrics("kgsyncretrytestsy"),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Mark the coordinator busy so retryOperation's requeue doesn't spin
	// up a background processor goroutine racing the assertions below.
	c.mu.Lock()
	c.processing = true
	c.mu.Unlock()

	op := &core.SyncOperation{
		ID:                    "op-retry-1",
		Status:                core.StatusFailed,
		FilesProcessed:        10,
		EntitiesCreated:       5,
		EntitiesUpdated:       3,
		EntitiesDeleted:       2,
		RelationshipsCreated:  4,
		RelationshipsUpdated:  1,
		RelationshipsDeleted:  1,
		Errors:                []core.SyncError{core.NewSyncError(core.ErrorKindDatabase, "", "boom", true)},
		RollbackPoint:         "rb-1",
	}

	c.retryOperation(context.Background(), op)

	assert.Equal(t, core.StatusPending, op.Status)
	assert.Zero(t, op.FilesProcessed)
	assert.Zero(t, op.EntitiesCreated)
	assert.Zero(t, op.EntitiesUpdated)
	assert.Zero(t, op.EntitiesDeleted)
	assert.Zero(t, op.RelationshipsCreated)
	assert.Zero(t, op.RelationshipsUpdated)
	assert.Zero(t, op.RelationshipsDeleted)
	assert.Empty(t, op.Errors)
	assert.Nil(t, op.Conflicts)
	assert.Nil(t, op.EndTime)
	assert.Empty(t, op.RollbackPoint)
}
