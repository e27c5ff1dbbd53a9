package rollback

import (
	"context"
	"fmt"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
)

// RollbackToPoint reverses the knowledge graph to the state captured
// by the rollback point, replaying a change-log in reverse order or
// restoring a snapshot (spec §4.2). A per-item failure is recorded in
// the result and does not stop the remaining items from being
// attempted.
func (e *Engine) RollbackToPoint(ctx context.Context, pointID string) (*core.RollbackResult, error) {
	start := time.Now()

	point, err := e.db.GetRollbackPoint(ctx, pointID)
	if err != nil {
		return nil, fmt.Errorf("get rollback point: %w", err)
	}

	result := &core.RollbackResult{RollbackID: pointID, Success: true}

	if point.IsChangeLog() {
		e.replayChangeLog(ctx, point, result)
	} else {
		e.replaySnapshot(ctx, point, result)
	}

	result.PartialSuccess = len(result.Errors) > 0 && (result.RolledBackEntities > 0 || result.RolledBackRelationships > 0)
	result.Success = len(result.Errors) == 0

	outcome := "success"
	switch {
	case !result.Success && result.PartialSuccess:
		outcome = "partial"
	case !result.Success:
		outcome = "failed"
	}
	e.metrics.RollbacksTotal.WithLabelValues(outcome).Inc()
	e.metrics.Duration.Observe(time.Since(start).Seconds())

	e.logger.Info("rollback replay complete",
		"rollback_id", pointID, "outcome", outcome,
		"entities_reversed", result.RolledBackEntities,
		"relationships_reversed", result.RolledBackRelationships,
		"errors", len(result.Errors))

	return result, nil
}

// RollbackLastOperation finds the most recent rollback point recorded
// for operationID and replays it.
func (e *Engine) RollbackLastOperation(ctx context.Context, operationID string) (*core.RollbackResult, error) {
	points, err := e.db.ListRollbackPoints(ctx, operationID)
	if err != nil {
		return nil, fmt.Errorf("list rollback points: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("no rollback points recorded for operation %q", operationID)
	}

	latest := points[0]
	for _, p := range points[1:] {
		if p.Timestamp.After(latest.Timestamp) {
			latest = p
		}
	}

	return e.RollbackToPoint(ctx, latest.ID)
}

func (e *Engine) replayChangeLog(ctx context.Context, point *core.RollbackPoint, result *core.RollbackResult) {
	// Reverse in last-applied-first order so a create that depends on
	// an earlier create is undone before its dependency.
	for i := len(point.RelationshipChanges) - 1; i >= 0; i-- {
		ch := point.RelationshipChanges[i]
		if err := e.reverseRelationshipChange(ctx, ch); err != nil {
			result.Errors = append(result.Errors, core.ItemError{
				Type: "relationship", ID: ch.RelationshipID, Action: ch.Action,
				Message: err.Error(), Recoverable: true,
			})
			continue
		}
		result.RolledBackRelationships++
	}

	for i := len(point.EntityChanges) - 1; i >= 0; i-- {
		ch := point.EntityChanges[i]
		if err := e.reverseEntityChange(ctx, ch); err != nil {
			result.Errors = append(result.Errors, core.ItemError{
				Type: "entity", ID: ch.EntityID, Action: ch.Action,
				Message: err.Error(), Recoverable: true,
			})
			continue
		}
		result.RolledBackEntities++
	}
}

func (e *Engine) reverseEntityChange(ctx context.Context, ch core.EntityChange) error {
	switch ch.Action {
	case core.ChangeCreate:
		return e.graph.DeleteEntity(ctx, ch.EntityID)
	case core.ChangeDelete:
		_, err := e.graph.CreateOrUpdateEntity(ctx, core.Entity{ID: ch.EntityID, Fields: ch.PreviousState})
		return err
	case core.ChangeUpdate:
		_, err := e.graph.CreateOrUpdateEntity(ctx, core.Entity{ID: ch.EntityID, Fields: ch.PreviousState})
		return err
	default:
		return fmt.Errorf("unknown change action %q", ch.Action)
	}
}

func (e *Engine) reverseRelationshipChange(ctx context.Context, ch core.RelationshipChange) error {
	switch ch.Action {
	case core.ChangeCreate:
		return e.graph.DeleteRelationship(ctx, ch.RelationshipID)
	case core.ChangeDelete:
		_, err := e.graph.UpsertRelationship(ctx, core.Relationship{
			ID: ch.RelationshipID, FromEntityID: ch.FromEntityID, ToEntityID: ch.ToEntityID,
			Type: ch.Type, Fields: ch.PreviousState,
		})
		return err
	case core.ChangeUpdate:
		_, err := e.graph.UpsertRelationship(ctx, core.Relationship{
			ID: ch.RelationshipID, FromEntityID: ch.FromEntityID, ToEntityID: ch.ToEntityID,
			Type: ch.Type, Fields: ch.PreviousState,
		})
		return err
	default:
		return fmt.Errorf("unknown change action %q", ch.Action)
	}
}

func (e *Engine) replaySnapshot(ctx context.Context, point *core.RollbackPoint, result *core.RollbackResult) {
	for _, ent := range point.Entities {
		if _, err := e.graph.CreateOrUpdateEntity(ctx, ent); err != nil {
			result.Errors = append(result.Errors, core.ItemError{
				Type: "entity", ID: ent.ID, Message: err.Error(), Recoverable: true,
			})
			continue
		}
		result.RolledBackEntities++
	}

	for _, rel := range point.Relationships {
		if _, err := e.graph.UpsertRelationship(ctx, rel); err != nil {
			result.Errors = append(result.Errors, core.ItemError{
				Type: "relationship", ID: rel.ID, Message: err.Error(), Recoverable: true,
			})
			continue
		}
		result.RolledBackRelationships++
	}
}
