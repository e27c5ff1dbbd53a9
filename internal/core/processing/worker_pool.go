// Package processing provides the bounded worker pool shared by
// full-sync batch processing and the checkpoint job runner.
package processing

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/memento-sh/sync-core/pkg/metrics"
)

// ItemHandler processes a single queued item. Implementations are the
// per-domain glue: a full-sync batch handler applies one parsed file's
// entities/relationships to the graph, a checkpoint handler runs one
// checkpoint job.
type ItemHandler interface {
	ProcessItem(ctx context.Context, item any) error
}

// WorkerPool provides bounded, concurrent processing of queued jobs.
//
// Features:
//   - Bounded job queue to prevent memory exhaustion
//   - Configurable number of workers
//   - Graceful shutdown with timeout
//   - Metrics for queue size and active workers
//   - Context cancellation support
type WorkerPool struct {
	name      string
	handler   ItemHandler
	metrics   *metrics.WorkerPoolMetrics
	logger    *slog.Logger
	workers   int
	queueSize int
	jobQueue  chan *Job
	stopChan  chan struct{}
	wg        sync.WaitGroup
	mu        sync.RWMutex
	running   bool
}

// Job represents a single unit of work submitted to a WorkerPool. Each
// item in Items is processed independently; a failure on one item
// never stops the others.
type Job struct {
	ID        string
	Items     []any
	CreatedAt time.Time
}

// WorkerPoolConfig holds configuration for a WorkerPool.
type WorkerPoolConfig struct {
	Name      string // identifies this pool in metrics (e.g. "full_sync", "checkpoint")
	Handler   ItemHandler
	Metrics   *metrics.WorkerPoolMetrics
	Logger    *slog.Logger
	Workers   int // Number of worker goroutines (default: 10)
	QueueSize int // Maximum queue size (default: 1000)
}

// NewWorkerPool creates a new worker pool.
func NewWorkerPool(config WorkerPoolConfig) (*WorkerPool, error) {
	if config.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}

	if config.Name == "" {
		config.Name = "default"
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.Workers <= 0 {
		config.Workers = 10 // Default: 10 workers
	}

	if config.QueueSize <= 0 {
		config.QueueSize = 1000 // Default: 1000 jobs
	}

	if config.Metrics == nil {
		config.Metrics = metrics.NewWorkerPoolMetrics("kgsync")
	}

	return &WorkerPool{
		name:      config.Name,
		handler:   config.Handler,
		metrics:   config.Metrics,
		logger:    config.Logger,
		workers:   config.Workers,
		queueSize: config.QueueSize,
		jobQueue:  make(chan *Job, config.QueueSize),
		stopChan:  make(chan struct{}),
	}, nil
}

// Start starts the worker pool.
//
// This method spawns worker goroutines that will process jobs from the queue.
// Calling Start on a running pool returns an "already running" error.
func (p *WorkerPool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("worker pool %q already running", p.name)
	}

	p.running = true

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	p.wg.Add(1)
	go p.queueMonitor(ctx)

	p.logger.Info("worker pool started",
		"pool", p.name,
		"workers", p.workers,
		"queue_size", p.queueSize)

	return nil
}

// Stop gracefully stops the worker pool.
//
// This method:
//  1. Closes the job queue (no new jobs accepted)
//  2. Waits for all workers to finish current jobs
//  3. Times out after 30 seconds
func (p *WorkerPool) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("worker pool %q not running", p.name)
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("stopping worker pool", "pool", p.name)

	close(p.stopChan)
	close(p.jobQueue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully", "pool", p.name)
		return nil
	case <-time.After(30 * time.Second):
		p.logger.Warn("worker pool stop timeout (some jobs may be lost)", "pool", p.name)
		return fmt.Errorf("stop timeout after 30 seconds")
	}
}

// Submit submits a job to the queue.
//
// This method is non-blocking if the queue has space. If the queue is
// full, it returns an error immediately.
func (p *WorkerPool) Submit(ctx context.Context, job *Job) error {
	p.mu.RLock()
	if !p.running {
		p.mu.RUnlock()
		return fmt.Errorf("worker pool %q not running", p.name)
	}
	p.mu.RUnlock()

	select {
	case p.jobQueue <- job:
		p.logger.Debug("job submitted to queue", "pool", p.name, "job_id", job.ID, "items", len(job.Items))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.Warn("job queue full, rejecting job", "pool", p.name, "job_id", job.ID, "queue_size", p.queueSize)
		return fmt.Errorf("job queue full (capacity: %d)", p.queueSize)
	}
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", "pool", p.name, "worker_id", id)
	p.metrics.ActiveWorkers.Inc()
	defer p.metrics.ActiveWorkers.Dec()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.processJob(ctx, job, id)
		}
	}
}

func (p *WorkerPool) processJob(ctx context.Context, job *Job, workerID int) {
	start := time.Now()

	p.logger.Debug("processing job", "pool", p.name, "worker_id", workerID, "job_id", job.ID, "items", len(job.Items))

	successCount := 0
	for i, item := range job.Items {
		if err := p.handler.ProcessItem(ctx, item); err != nil {
			p.logger.Error("failed to process item in job",
				"pool", p.name, "worker_id", workerID, "job_id", job.ID, "item_index", i, "error", err)
			p.metrics.JobsTotal.WithLabelValues(p.name, "error").Inc()
			continue
		}
		successCount++
		p.metrics.JobsTotal.WithLabelValues(p.name, "success").Inc()
	}

	duration := time.Since(start)
	p.metrics.JobDuration.WithLabelValues(p.name).Observe(duration.Seconds())

	p.logger.Info("job processed",
		"pool", p.name, "worker_id", workerID, "job_id", job.ID,
		"items_total", len(job.Items), "items_success", successCount, "duration", duration.Seconds())
}

func (p *WorkerPool) queueMonitor(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			queueLen := len(p.jobQueue)
			p.metrics.QueueSize.Set(float64(queueLen))

			if queueLen > p.queueSize*8/10 {
				p.logger.Warn("job queue high utilization",
					"pool", p.name, "current", queueLen, "capacity", p.queueSize,
					"utilization_pct", float64(queueLen)/float64(p.queueSize)*100)
			}
		}
	}
}

// PoolStats is a snapshot of pool state returned by Stats.
type PoolStats struct {
	Running       bool
	Workers       int
	QueueSize     int
	CurrentQueue  int
	QueueCapacity int
}

// Stats returns current pool statistics.
func (p *WorkerPool) Stats() *PoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return &PoolStats{
		Running:       p.running,
		Workers:       p.workers,
		QueueSize:     p.queueSize,
		CurrentQueue:  len(p.jobQueue),
		QueueCapacity: cap(p.jobQueue),
	}
}
