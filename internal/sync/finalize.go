package sync

import (
	"context"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
)

// runOperation dispatches op to the right implementation, finalizes
// it, and (on recoverable failure) requeues it via the retry policy
// (spec §4.3.2, §4.3.4).
func (c *Coordinator) runOperation(ctx context.Context, op *core.SyncOperation) {
	start := time.Now()

	if op.Options.RollbackOnError {
		c.createRollbackPointFor(ctx, op)
	}

	var runErr error
	switch op.Type {
	case core.OperationFull:
		runErr = c.performFullSync(ctx, op)
	case core.OperationIncremental:
		runErr = c.performIncrementalSync(ctx, op)
	case core.OperationPartial:
		runErr = c.performPartialSync(ctx, op)
	default:
		op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindUnknown, "", "unknown operation type", false))
	}

	if runErr != nil {
		if se, ok := runErr.(core.SyncError); ok {
			op.Errors = append(op.Errors, se)
		} else {
			op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindUnknown, "", runErr.Error(), false))
		}
	}

	c.finalize(ctx, op, start)
}

func (c *Coordinator) createRollbackPointFor(ctx context.Context, op *core.SyncOperation) {
	entities, rels := c.snapshotGraph(ctx)
	point, err := c.rollback.CreateRollbackPoint(ctx, op.ID, "before "+string(op.Type)+" sync", entities, rels)
	if err != nil {
		op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindDatabase, "", "failed to create rollback point: "+err.Error(), false))
		return
	}
	op.RollbackPoint = point.ID
}

// snapshotGraph pages through the whole graph with a fixed page size
// of 1000 entities/relationships, per spec §4.2.
func (c *Coordinator) snapshotGraph(ctx context.Context) ([]core.Entity, []core.Relationship) {
	const pageSize = 1000

	var entities []core.Entity
	for offset := 0; ; offset += pageSize {
		page, err := c.graph.ListEntities(ctx, "", pageSize, offset)
		if err != nil || len(page) == 0 {
			break
		}
		entities = append(entities, page...)
		if len(page) < pageSize {
			break
		}
	}

	var rels []core.Relationship
	for offset := 0; ; offset += pageSize {
		page, err := c.graph.ListRelationships(ctx, "", pageSize, offset)
		if err != nil || len(page) == 0 {
			break
		}
		rels = append(rels, page...)
		if len(page) < pageSize {
			break
		}
	}

	return entities, rels
}

// finalize implements spec §4.3.2: on success, clears the rollback
// point and moves op to the completed index; on failure, attempts
// rollback (§4.3.3) and enters the retry policy (§4.3.4).
func (c *Coordinator) finalize(ctx context.Context, op *core.SyncOperation, start time.Time) {
	end := time.Now()
	op.EndTime = &end

	failed := op.HasNonRecoverableError()

	c.mu.Lock()
	delete(c.active, op.ID)
	if c.metrics != nil {
		c.metrics.Operations.ActiveOperations.Dec()
	}
	c.mu.Unlock()

	if !failed {
		op.Status = core.StatusCompleted
		if op.RollbackPoint != "" && c.db != nil {
			_ = c.db.DeleteRollbackPoint(ctx, op.RollbackPoint)
			op.RollbackPoint = ""
		}
		c.moveToCompleted(op)

		if c.metrics != nil {
			c.metrics.Operations.OperationsTotal.WithLabelValues(string(op.Type), string(op.Status)).Inc()
			c.metrics.Operations.OperationDuration.WithLabelValues(string(op.Type)).Observe(time.Since(start).Seconds())
		}
		c.emit(Event{Kind: EventOperationCompleted, Operation: op.Clone()})
		return
	}

	c.attemptRollback(ctx, op)

	cancelled := false
	for _, e := range op.Errors {
		if e.Kind == core.ErrorKindCancelled {
			cancelled = true
			break
		}
	}

	if c.handleRetry(ctx, op) {
		return
	}

	op.Status = core.StatusFailed
	c.moveToCompleted(op)

	if c.metrics != nil {
		c.metrics.Operations.OperationsTotal.WithLabelValues(string(op.Type), string(op.Status)).Inc()
		c.metrics.Operations.OperationDuration.WithLabelValues(string(op.Type)).Observe(time.Since(start).Seconds())
	}

	kind := EventOperationFailed
	if cancelled {
		kind = EventOperationCancelled
	}
	c.emit(Event{Kind: kind, Operation: op.Clone()})
}

func (c *Coordinator) moveToCompleted(op *core.SyncOperation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.completed[op.ID] = op
}

// attemptRollback is triggered only when rollbackOnError was set and
// a rollback point exists (spec §4.3.3). Per-item rollback errors are
// appended as non-recoverable `rollback` errors; the rollback point is
// always deleted afterward.
func (c *Coordinator) attemptRollback(ctx context.Context, op *core.SyncOperation) {
	if !op.Options.RollbackOnError || op.RollbackPoint == "" {
		return
	}

	result, err := c.rollback.RollbackToPoint(ctx, op.RollbackPoint)
	if err != nil {
		op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindRollback, "", err.Error(), false))
		c.emit(Event{Kind: EventRollbackFailed, Operation: op.Clone(), Err: err})
	} else if !result.Success {
		for _, ie := range result.Errors {
			op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindRollback, ie.ID, ie.Message, false))
		}
		c.emit(Event{Kind: EventRollbackFailed, Operation: op.Clone()})
	} else {
		c.emit(Event{Kind: EventOperationRolledBack, Operation: op.Clone()})
	}

	if c.db != nil {
		_ = c.db.DeleteRollbackPoint(ctx, op.RollbackPoint)
	}
	op.RollbackPoint = ""
}

// handleRetry implements spec §4.3.4: requeues a failed operation
// carrying only recoverable errors, up to maxRetryAttempts, with
// exponential-ish backoff. Returns true if the operation was requeued
// (the caller must not finalize it as failed).
func (c *Coordinator) handleRetry(ctx context.Context, op *core.SyncOperation) bool {
	hasRecoverable := false
	for _, e := range op.Errors {
		if e.Recoverable {
			hasRecoverable = true
			break
		}
	}
	if !hasRecoverable {
		return false
	}

	c.mu.Lock()
	attempts := c.retrying[op.ID]
	if attempts >= c.maxRetryAttempts {
		delete(c.retrying, op.ID)
		c.mu.Unlock()
		c.emit(Event{Kind: EventOperationAbandoned, Operation: op.Clone()})
		return false
	}
	attempts++
	c.retrying[op.ID] = attempts
	c.mu.Unlock()

	delay := c.retryDelay * time.Duration(attempts)

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
		c.retryOperation(ctx, op)
	}()

	return true
}

// retryOperation resets an operation's mutable state and requeues it
// through the normal submission path (spec §4.3.4).
func (c *Coordinator) retryOperation(ctx context.Context, op *core.SyncOperation) {
	op.Status = core.StatusPending
	op.Errors = nil
	op.Conflicts = nil
	op.EndTime = nil
	op.RollbackPoint = ""
	op.FilesProcessed = 0
	op.EntitiesCreated = 0
	op.EntitiesUpdated = 0
	op.EntitiesDeleted = 0
	op.RelationshipsCreated = 0
	op.RelationshipsUpdated = 0
	op.RelationshipsDeleted = 0

	if op.Options.RollbackOnError {
		c.createRollbackPointFor(ctx, op)
	}

	c.mu.Lock()
	c.queue = append(c.queue, op)
	idle := !c.processing
	c.mu.Unlock()

	if idle {
		go c.runProcessor(ctx)
	}
}

func (c *Coordinator) performPartialSync(ctx context.Context, op *core.SyncOperation) error {
	for _, u := range op.Updates {
		if err := c.ensureNotCancelled(op.ID); err != nil {
			op.Errors = append(op.Errors, err.(core.SyncError))
			return nil
		}
		e, err := c.graph.GetEntity(ctx, u.EntityID)
		if err != nil {
			op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindDatabase, u.EntityID, err.Error(), true))
			continue
		}
		merged := *e
		if merged.Fields == nil {
			merged.Fields = make(map[string]any)
		}
		for k, v := range u.Fields {
			merged.Fields[k] = v
		}
		if err := c.graph.UpdateEntity(ctx, merged); err != nil {
			op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindDatabase, u.EntityID, err.Error(), true))
			continue
		}
		op.EntitiesUpdated++
	}
	return nil
}
