package sync

import (
	"context"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
)

// SubmitRequest is one caller-submitted sync request (spec §4.3.1).
type SubmitRequest struct {
	Type    core.OperationType
	Options core.SyncOptions
	Changes []core.FileChange    // incremental
	Updates []core.PartialUpdate // partial
}

// Submit enqueues a new SyncOperation in pending state and, if the
// processor is idle, starts it. Returns the operation id.
func (c *Coordinator) Submit(ctx context.Context, req SubmitRequest) string {
	opID := c.newOperationID()

	timeout := req.Options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	op := &core.SyncOperation{
		ID:        opID,
		Type:      req.Type,
		Status:    core.StatusPending,
		StartTime: time.Now(),
		Options:   req.Options,
		Changes:   req.Changes,
		Updates:   req.Updates,
	}

	c.mu.Lock()
	c.queue = append(c.queue, op)
	idle := !c.processing
	c.mu.Unlock()

	c.emit(Event{Kind: EventOperationStarted, Operation: op.Clone()})

	// A one-shot safety timer fails a still-pending operation after
	// timeout (spec §4.3.1 policy).
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			c.failIfStillPending(opID)
		case <-ctx.Done():
		}
	}()

	if idle {
		go c.runProcessor(ctx)
	}

	return opID
}

func (c *Coordinator) failIfStillPending(opID string) {
	c.mu.Lock()
	idx := -1
	for i, op := range c.queue {
		if op.ID == opID {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return
	}
	op := c.queue[idx]
	if op.Status != core.StatusPending {
		c.mu.Unlock()
		return
	}
	c.queue = append(c.queue[:idx], c.queue[idx+1:]...)
	op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindUnknown, "", "operation timed out while pending", false))
	op.Status = core.StatusFailed
	end := time.Now()
	op.EndTime = &end
	c.completed[op.ID] = op
	c.mu.Unlock()

	c.emit(Event{Kind: EventOperationFailed, Operation: op.Clone()})
}

// runProcessor is the single cooperative queue loop: while the queue
// is non-empty and not paused, it dequeues and runs one operation to
// completion before dequeuing the next (spec §4.3.1, §5 FIFO).
func (c *Coordinator) runProcessor(ctx context.Context) {
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return
	}
	c.processing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
	}()

	for {
		c.mu.Lock()
		if c.paused {
			waiter := make(chan struct{})
			c.resumeWaiters = append(c.resumeWaiters, waiter)
			c.mu.Unlock()
			select {
			case <-waiter:
			case <-ctx.Done():
				return
			}
			continue
		}
		if len(c.queue) == 0 {
			c.mu.Unlock()
			return
		}
		op := c.queue[0]
		c.queue = c.queue[1:]

		if _, cancelled := c.cancelled[op.ID]; cancelled {
			delete(c.cancelled, op.ID)
			op.Status = core.StatusFailed
			op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindCancelled, "", "operation cancelled before execution", true))
			end := time.Now()
			op.EndTime = &end
			c.completed[op.ID] = op
			c.mu.Unlock()
			c.emit(Event{Kind: EventOperationCancelled, Operation: op.Clone()})
			continue
		}

		op.Status = core.StatusRunning
		c.active[op.ID] = op
		if c.metrics != nil {
			c.metrics.Operations.ActiveOperations.Inc()
			c.metrics.Operations.QueueDepth.Set(float64(len(c.queue)))
		}
		c.mu.Unlock()

		c.runOperation(ctx, op)
	}
}

// CancelOperation marks opID cancelled, per spec §4.3.1. Returns true
// if it affected an active, queued, retry-queued, or completed
// operation.
func (c *Coordinator) CancelOperation(opID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if op, ok := c.active[opID]; ok {
		op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindCancelled, "", "operation cancelled", true))
		c.cancelled[opID] = struct{}{}
		return true
	}

	for _, op := range c.queue {
		if op.ID == opID {
			c.cancelled[opID] = struct{}{}
			return true
		}
	}

	if _, ok := c.retrying[opID]; ok {
		delete(c.retrying, opID)
		return true
	}

	if _, ok := c.completed[opID]; ok {
		delete(c.cancelled, opID)
		return true
	}

	return false
}

// PauseSync halts the queue processor before its next dequeue.
func (c *Coordinator) PauseSync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

// ResumeSync wakes the processor and, if queued work exists and the
// processor isn't running, restarts it.
func (c *Coordinator) ResumeSync(ctx context.Context) {
	c.mu.Lock()
	c.paused = false
	waiters := c.resumeWaiters
	c.resumeWaiters = nil
	needsStart := !c.processing && len(c.queue) > 0
	c.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
	if needsStart {
		go c.runProcessor(ctx)
	}
}

// ensureNotCancelled returns a cancellation error if opID has been
// cancelled mid-flight, the cooperative cancellation check threaded
// through every unit of work (spec §5).
func (c *Coordinator) ensureNotCancelled(opID string) error {
	c.mu.Lock()
	_, cancelled := c.cancelled[opID]
	c.mu.Unlock()
	if cancelled {
		return core.NewSyncError(core.ErrorKindCancelled, "", "operation cancelled", true)
	}
	return nil
}

// waitIfPaused blocks the calling worker while the coordinator is
// paused (spec §4.3.5 step 3 "awaits pause if needed").
func (c *Coordinator) waitIfPaused(ctx context.Context) {
	for {
		c.mu.Lock()
		if !c.paused {
			c.mu.Unlock()
			return
		}
		waiter := make(chan struct{})
		c.resumeWaiters = append(c.resumeWaiters, waiter)
		c.mu.Unlock()
		select {
		case <-waiter:
		case <-ctx.Done():
			return
		}
	}
}

// UpdateTuning merges per-operation batch/concurrency overrides,
// clamped per spec §4.3.11.
func (c *Coordinator) UpdateTuning(opID string, tuning core.OperationTuning) {
	c.mu.Lock()
	cur := c.tuning[opID]
	if tuning.MaxConcurrency > 0 {
		cur.MaxConcurrency = clamp(tuning.MaxConcurrency, 1, 64)
	}
	if tuning.BatchSize > 0 {
		cur.BatchSize = clamp(tuning.BatchSize, 1, 5000)
	}
	c.tuning[opID] = cur
	c.mu.Unlock()

	c.emit(Event{Kind: EventSyncProgress, Progress: &ProgressPayload{OperationID: opID, Phase: "tuning_updated"}})
}

func (c *Coordinator) tuningFor(opID string) core.OperationTuning {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.tuning[opID]
	if t.BatchSize <= 0 {
		t.BatchSize = DefaultBatchSize
	} else {
		t.BatchSize = clamp(t.BatchSize, 1, 1000)
	}
	if t.MaxConcurrency <= 0 {
		t.MaxConcurrency = DefaultMaxConcurrency
	}
	t.MaxConcurrency = clamp(t.MaxConcurrency, 1, t.BatchSize)
	return t
}
