package sync

import "github.com/memento-sh/sync-core/internal/core"

// OperationStatistics summarizes the coordinator's lifetime counters
// (spec §4.3.11).
type OperationStatistics struct {
	TotalCompleted int
	TotalFailed    int
	TotalCancelled int
	QueueLength    int
	ActiveCount    int
}

// GetOperationStatus returns a clone of the operation's current state,
// searching active, queued, and completed sets in that order.
func (c *Coordinator) GetOperationStatus(opID string) (*core.SyncOperation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if op, ok := c.active[opID]; ok {
		return op.Clone(), true
	}
	for _, op := range c.queue {
		if op.ID == opID {
			return op.Clone(), true
		}
	}
	if op, ok := c.completed[opID]; ok {
		return op.Clone(), true
	}
	return nil, false
}

// GetActiveOperations returns clones of every currently-running
// operation.
func (c *Coordinator) GetActiveOperations() []*core.SyncOperation {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]*core.SyncOperation, 0, len(c.active))
	for _, op := range c.active {
		out = append(out, op.Clone())
	}
	return out
}

// GetQueueLength returns the number of operations waiting to run.
func (c *Coordinator) GetQueueLength() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// GetOperationStatistics tallies terminal-state counts across every
// completed operation the coordinator still holds.
func (c *Coordinator) GetOperationStatistics() OperationStatistics {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := OperationStatistics{
		QueueLength: len(c.queue),
		ActiveCount: len(c.active),
	}
	for _, op := range c.completed {
		switch op.Status {
		case core.StatusCompleted:
			stats.TotalCompleted++
		case core.StatusFailed:
			cancelled := false
			for _, e := range op.Errors {
				if e.Kind == core.ErrorKindCancelled {
					cancelled = true
					break
				}
			}
			if cancelled {
				stats.TotalCancelled++
			} else {
				stats.TotalFailed++
			}
		}
	}
	return stats
}
