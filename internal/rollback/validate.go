package rollback

import (
	"context"
	"fmt"

	"github.com/memento-sh/sync-core/internal/core"
)

// ValidateRollbackPoint checks that a rollback point is structurally
// sound and safe to replay: it exists, and it carries at least one
// change or snapshot entry.
func (e *Engine) ValidateRollbackPoint(ctx context.Context, pointID string) (*core.RollbackValidation, error) {
	point, err := e.db.GetRollbackPoint(ctx, pointID)
	if err != nil {
		return &core.RollbackValidation{Valid: false, Issues: []string{err.Error()}}, nil
	}

	var issues []string

	if point.IsChangeLog() {
		if len(point.EntityChanges) == 0 && len(point.RelationshipChanges) == 0 {
			issues = append(issues, "change-log rollback point has no entries")
		}
		for _, ch := range point.EntityChanges {
			if ch.EntityID == "" {
				issues = append(issues, "entity change missing entity id")
			}
			if ch.Action != core.ChangeCreate && ch.PreviousState == nil {
				issues = append(issues, fmt.Sprintf("entity change %s (%s) missing previous state", ch.EntityID, ch.Action))
			}
		}
	} else if len(point.Entities) == 0 && len(point.Relationships) == 0 {
		issues = append(issues, "snapshot rollback point is empty")
	}

	return &core.RollbackValidation{Valid: len(issues) == 0, Issues: issues}, nil
}

// CleanupOldRollbackPoints removes every rollback point recorded for
// operationID for which keep returns false, and returns how many were
// removed; it applies no age cutoff of its own. Pass an empty
// operationID to sweep every operation's history the Database
// implementation tracks.
func (e *Engine) CleanupOldRollbackPoints(ctx context.Context, operationID string, keep func(core.RollbackPoint) bool) (int, error) {
	points, err := e.db.ListRollbackPoints(ctx, operationID)
	if err != nil {
		return 0, fmt.Errorf("list rollback points: %w", err)
	}

	removed := 0
	for _, p := range points {
		if keep(p) {
			continue
		}
		if err := e.db.DeleteRollbackPoint(ctx, p.ID); err != nil {
			return removed, fmt.Errorf("delete rollback point %s: %w", p.ID, err)
		}
		removed++
	}

	return removed, nil
}
