package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/core/testfakes"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

// flakyGraph wraps a *testfakes.Graph and fails the first N calls to
// ListRelationships, to exercise neighborsOf's retry wiring.
type flakyGraph struct {
	*testfakes.Graph
	failures int32
}

func (g *flakyGraph) ListRelationships(ctx context.Context, relType string, limit, offset int) ([]core.Relationship, error) {
	if atomic.AddInt32(&g.failures, -1) >= 0 {
		return nil, errors.New("transient graph unavailable")
	}
	return g.Graph.ListRelationships(ctx, relType, limit, offset)
}

var checkpointMetricsSeq int64

func newTestRunner(t *testing.T, graph core.KnowledgeGraph) *Runner {
	t.Helper()
	n := atomic.AddInt64(&checkpointMetricsSeq, 1)
	r, err := New(Config{
		Graph: graph, Workers: 1, QueueSize: 4, EventQueue: 8,
		Logger:       slog.Default(),
		RetryMetrics: metrics.NewRetryMetrics(),
		Metrics:      metrics.NewWorkerPoolMetrics(fmt.Sprintf("kgsynctestckpt%d", n)),
	})
	require.NoError(t, err)
	return r
}

func TestRunner_Walk_SucceedsAfterTransientFailures(t *testing.T) {
	graph := testfakes.NewGraph()
	ctx := context.Background()
	require.NoError(t, graph.CreateRelationship(ctx, core.Relationship{
		ID: "r1", FromEntityID: "e1", ToEntityID: "e2", Type: "CALLS",
	}))

	flaky := &flakyGraph{Graph: graph, failures: 2} // fewer than neighborRetry's MaxRetries of 3
	r := newTestRunner(t, flaky)

	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	touched, err := r.walk(ctx, []string{"e1"}, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"e1", "e2"}, touched)
}

func TestRunner_Walk_FailsAfterExhaustingRetries(t *testing.T) {
	graph := testfakes.NewGraph()
	flaky := &flakyGraph{Graph: graph, failures: 10} // more than neighborRetry's MaxRetries of 3
	r := newTestRunner(t, flaky)

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	_, err := r.walk(ctx, []string{"e1"}, 1)
	assert.Error(t, err)
}

func TestRunner_EnqueueAndProcess_EmitsTerminalEvent(t *testing.T) {
	graph := testfakes.NewGraph()
	ctx := context.Background()
	require.NoError(t, graph.CreateEntity(ctx, core.Entity{ID: "e1", Type: "Function"}))

	r := newTestRunner(t, graph)
	require.NoError(t, r.Start(ctx))
	defer r.Stop()

	jobID, err := r.Enqueue(ctx, core.CheckpointJob{
		SessionID: "sess-1", SeedEntityIDs: []string{"e1"}, HopCount: 1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, jobID)

	select {
	case ev := <-r.Events():
		assert.Equal(t, jobID, ev.JobID)
		assert.Equal(t, core.SessionStatusCompleted, ev.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for checkpoint job event")
	}
}
