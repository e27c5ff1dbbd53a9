// Package checkpoint implements the CheckpointJobRunner the
// coordinator enqueues into: it walks up to hopCount relationship hops
// out from a set of seed entities, marks everything it touches with a
// checkpoint id, and reports a terminal event back (spec §4.5).
package checkpoint

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/core/processing"
	"github.com/memento-sh/sync-core/internal/core/resilience"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

// Config wires a Runner's collaborators.
type Config struct {
	Graph      core.KnowledgeGraph
	Database   core.Database
	Workers    int
	QueueSize  int
	EventQueue int // events channel buffer
	Logger     *slog.Logger
	Metrics    *metrics.WorkerPoolMetrics

	// RetryMetrics records attempts/backoff for the graph hop-walk's
	// transient-failure retry policy. Optional.
	RetryMetrics *metrics.RetryMetrics
}

// Runner implements core.CheckpointJobRunner on top of the shared
// bounded worker pool (internal/core/processing), the same primitive
// full-sync batch processing is specified to use.
type Runner struct {
	pool    *processing.WorkerPool
	graph   core.KnowledgeGraph
	db      core.Database
	events  chan core.CheckpointJobEvent
	logger  *slog.Logger
	nextID  int64

	neighborRetry *resilience.RetryPolicy
}

func New(cfg Config) (*Runner, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("checkpoint: Graph is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.EventQueue <= 0 {
		cfg.EventQueue = 256
	}

	r := &Runner{
		graph:  cfg.Graph,
		db:     cfg.Database,
		events: make(chan core.CheckpointJobEvent, cfg.EventQueue),
		logger: cfg.Logger,
		neighborRetry: &resilience.RetryPolicy{
			MaxRetries:    3,
			BaseDelay:     50 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			Multiplier:    2.0,
			Jitter:        true,
			Logger:        cfg.Logger,
			Metrics:       cfg.RetryMetrics,
			OperationName: "checkpoint_neighbor_lookup",
		},
	}

	pool, err := processing.NewWorkerPool(processing.WorkerPoolConfig{
		Name:      "checkpoint",
		Handler:   r,
		Metrics:   cfg.Metrics,
		Logger:    cfg.Logger,
		Workers:   cfg.Workers,
		QueueSize: cfg.QueueSize,
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint: building worker pool: %w", err)
	}
	r.pool = pool
	return r, nil
}

// Start brings the underlying worker pool online. Must be called
// before Enqueue.
func (r *Runner) Start(ctx context.Context) error {
	return r.pool.Start(ctx)
}

// Stop gracefully drains the worker pool.
func (r *Runner) Stop() error {
	err := r.pool.Stop()
	close(r.events)
	return err
}

// Events returns the channel of terminal job events.
func (r *Runner) Events() <-chan core.CheckpointJobEvent {
	return r.events
}

// Enqueue submits one checkpoint job and returns its generated id
// immediately; the job itself runs asynchronously on the pool.
func (r *Runner) Enqueue(ctx context.Context, job core.CheckpointJob) (string, error) {
	id := atomic.AddInt64(&r.nextID, 1)
	jobID := fmt.Sprintf("ckpt_%d_%s", id, uuid.NewString())
	job.ID = jobID

	if err := r.pool.Submit(ctx, &processing.Job{
		ID:        jobID,
		Items:     []any{job},
		CreatedAt: time.Now(),
	}); err != nil {
		return "", err
	}
	return jobID, nil
}

// ProcessItem implements processing.ItemHandler: it performs the
// bounded hop-walk over the graph and emits a terminal event.
func (r *Runner) ProcessItem(ctx context.Context, item any) error {
	job, ok := item.(core.CheckpointJob)
	if !ok {
		return fmt.Errorf("checkpoint: unexpected item type %T", item)
	}

	touched, err := r.walk(ctx, job.SeedEntityIDs, job.HopCount)
	status := core.SessionStatusCompleted
	var jobErr error
	if err != nil {
		status = core.SessionStatusManualIntervention
		jobErr = err
	} else {
		for _, id := range touched {
			_ = r.graph.AppendVersion(ctx, id, map[string]any{"checkpointId": job.ID, "timestamp": time.Now()})
		}
		if aerr := r.graph.AnnotateSessionRelationshipsWithCheckpoint(ctx, job.SessionID, job.ID, job.SeedEntityIDs); aerr != nil {
			r.logger.Warn("checkpoint annotate failed", "job_id", job.ID, "error", aerr)
		}
	}

	r.emit(core.CheckpointJobEvent{JobID: job.ID, SessionID: job.SessionID, Status: status, Err: jobErr})
	return jobErr
}

func (r *Runner) emit(ev core.CheckpointJobEvent) {
	select {
	case r.events <- ev:
	default:
		r.logger.Warn("checkpoint events channel full, dropping event", "job_id", ev.JobID)
	}
}

// walk performs a bounded breadth-first traversal out from seeds,
// following relationships up to hopCount hops, returning every entity
// id visited (seeds included). It pages ListRelationships since the
// graph interface exposes no direct neighbor query; this is adequate
// for the modest hop counts (1-5) the spec allows but is not meant to
// scale to dense graphs.
func (r *Runner) walk(ctx context.Context, seeds []string, hopCount int) ([]string, error) {
	if hopCount <= 0 {
		hopCount = 1
	}
	if hopCount > 5 {
		hopCount = 5
	}

	visited := make(map[string]struct{}, len(seeds)*4)
	frontier := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if s == "" {
			continue
		}
		visited[s] = struct{}{}
		frontier = append(frontier, s)
	}

	for hop := 0; hop < hopCount && len(frontier) > 0; hop++ {
		neighbors, err := r.neighborsOf(ctx, frontier)
		if err != nil {
			return keys(visited), err
		}
		var next []string
		for _, n := range neighbors {
			if _, ok := visited[n]; !ok {
				visited[n] = struct{}{}
				next = append(next, n)
			}
		}
		frontier = next
	}

	return keys(visited), nil
}

const relationshipPageSize = 500

func (r *Runner) neighborsOf(ctx context.Context, ids []string) ([]string, error) {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var out []string
	for offset := 0; ; offset += relationshipPageSize {
		page, err := resilience.WithRetryFunc(ctx, r.neighborRetry, func() ([]core.Relationship, error) {
			return r.graph.ListRelationships(ctx, "", relationshipPageSize, offset)
		})
		if err != nil {
			return out, err
		}
		for _, rel := range page {
			if _, ok := wanted[rel.FromEntityID]; ok {
				out = append(out, rel.ToEntityID)
			}
			if _, ok := wanted[rel.ToEntityID]; ok {
				out = append(out, rel.FromEntityID)
			}
		}
		if len(page) < relationshipPageSize {
			break
		}
	}
	return out, nil
}

func keys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
