package sync

import (
	"context"

	"github.com/memento-sh/sync-core/internal/core"
)

// logConflicts implements spec §4.3.8: auto-resolves immediately when
// the operation's conflictResolution mode calls for it, appends every
// detected conflict to op.Conflicts, and emits conflictDetected events.
func (c *Coordinator) logConflicts(ctx context.Context, op *core.SyncOperation, detected []core.Conflict) {
	if len(detected) == 0 {
		return
	}

	op.Conflicts = append(op.Conflicts, detected...)
	for _, cf := range detected {
		c.emit(Event{Kind: EventConflictDetected, Operation: op.Clone(), Conflict: &cf})
	}

	mode := op.Options.ConflictResolution
	if mode == "" || mode == core.ConflictResolutionManual {
		c.logger.Warn("conflicts left for manual resolution", "operation_id", op.ID, "count", len(detected))
		return
	}

	_, pending := c.conflicts.ResolveAuto(ctx, mode)
	if len(pending) > 0 {
		c.logger.Warn("conflicts auto-resolution left some unresolved", "operation_id", op.ID, "unresolved", len(pending))
	} else {
		c.logger.Info("conflicts auto-resolved", "operation_id", op.ID, "count", len(detected))
	}
}

// detectFileConflicts runs conflict detection for one file's parsed
// entities against the current graph state, ahead of any write for
// that file's batch (spec §5 ordering guarantee).
func (c *Coordinator) detectFileConflicts(ctx context.Context, entities []core.Entity, rels []core.Relationship) []core.Conflict {
	var out []core.Conflict
	for _, e := range entities {
		cur, err := c.graph.GetEntity(ctx, e.ID)
		if err != nil || cur == nil {
			continue
		}
		if cf, ok := c.conflicts.DetectEntityConflict(ctx, *cur, e); ok {
			out = append(out, *cf)
		}
	}
	for _, r := range rels {
		if r.ID == "" {
			continue
		}
		cur, err := c.graph.GetRelationshipByID(ctx, r.ID)
		if err != nil || cur == nil {
			continue
		}
		if cf, ok := c.conflicts.DetectRelationshipConflict(ctx, *cur, r); ok {
			out = append(out, *cf)
		}
	}
	return out
}
