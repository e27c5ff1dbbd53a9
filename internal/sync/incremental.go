package sync

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
)

// performIncrementalSync implements spec §4.3.6: opens a session
// stream, applies each file change against the graph with conflict
// detection, buffers session relationships with monotonic sequence
// numbers, and schedules a checkpoint over whatever entities changed.
func (c *Coordinator) performIncrementalSync(ctx context.Context, op *core.SyncOperation) error {
	sessionID := "session_" + op.ID
	changeID := "change_" + op.ID

	if c.graph != nil {
		_ = c.graph.CreateEntity(ctx, core.Entity{ID: sessionID, Type: "Session", Fields: map[string]any{"status": "active", "agentType": "sync"}})
		_ = c.graph.CreateEntity(ctx, core.Entity{ID: changeID, Type: "Change"})
	}

	timeout := op.Options.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	teardown := c.openSession(sessionID, op.ID, len(op.Changes), timeout)

	var changedSeeds []string
	var toEmbed []string
	var sessionRels []core.SessionRelationshipRef
	processed := 0
	failed := false

	for _, change := range op.Changes {
		if err := c.ensureNotCancelled(op.ID); err != nil {
			op.Errors = append(op.Errors, err.(core.SyncError))
			failed = true
			break
		}
		c.waitIfPaused(ctx)

		switch change.Type {
		case core.FileChangeCreate, core.FileChangeModify:
			seeds, embed, rels, err := c.applyIncrementalUpsert(ctx, op, sessionID, changeID, change)
			if err != nil {
				op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindParse, change.Path, err.Error(), true))
			}
			changedSeeds = append(changedSeeds, seeds...)
			toEmbed = append(toEmbed, embed...)
			sessionRels = append(sessionRels, rels...)

		case core.FileChangeDelete:
			entities, err := c.graph.GetEntitiesByFile(ctx, change.Path)
			if err != nil {
				op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindDatabase, change.Path, err.Error(), false))
				failed = true
				continue
			}
			for _, e := range entities {
				if err := c.graph.DeleteEntity(ctx, e.ID); err != nil {
					op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindDatabase, e.ID, err.Error(), true))
					continue
				}
				op.EntitiesDeleted++
			}
		}
		processed++
	}

	if len(sessionRels) > 0 {
		c.emitSessionRelationships(sessionID, op.ID, changeID, sessionRels)
	}

	if len(toEmbed) > 0 && c.graph != nil {
		if err := c.graph.CreateEmbeddingsBatch(ctx, toEmbed); err != nil {
			c.logger.Warn("incremental embedding batch failed", "error", err)
		}
	}

	if len(changedSeeds) > 0 {
		result, err := c.scheduleSessionCheckpoint(ctx, sessionID, changedSeeds, ScheduleCheckpointOptions{
			Reason: core.CheckpointReasonManual, HopCount: 2, OperationID: op.ID,
		})
		if err != nil {
			if c.graph != nil {
				_ = c.graph.AnnotateSessionRelationshipsWithCheckpoint(ctx, sessionID, "manual_intervention", changedSeeds)
			}
			c.emitSessionEvent(sessionID, op.ID, core.SessionEvent{
				Kind: core.SessionCheckpoint,
				Payload: core.SessionEventPayload{
					Status: core.SessionStatusManualIntervention,
					Errors: []core.SyncError{core.NewSyncError(core.ErrorKindCapability, "", err.Error(), true)},
				},
			})
		} else {
			c.emitSessionEvent(sessionID, op.ID, core.SessionEvent{
				Kind: core.SessionCheckpoint,
				Payload: core.SessionEventPayload{
					CheckpointID: result.JobID,
					Status:       core.SessionStatusQueued,
				},
			})
		}
	}

	if c.graph != nil {
		_ = c.graph.FinalizeScan(ctx, op.ID)
	}

	status := core.SessionStatusCompleted
	if failed || op.HasNonRecoverableError() {
		status = core.SessionStatusFailed
	}
	teardown(status, processed, op.Errors)

	return nil
}

// applyIncrementalUpsert handles one create/modify file change: parses
// it, detects conflicts, applies entity/relationship mutations, and
// returns the seed entity ids to checkpoint, the entity ids to embed,
// and the session relationships to emit (spec §4.3.6 step 2).
func (c *Coordinator) applyIncrementalUpsert(ctx context.Context, op *core.SyncOperation, sessionID, changeID string, change core.FileChange) (seeds, embed []string, rels []core.SessionRelationshipRef, err error) {
	if c.parser == nil {
		return nil, nil, nil, fmt.Errorf("no parser configured")
	}

	contents, readErr := os.ReadFile(change.Path)
	if readErr != nil {
		return nil, nil, nil, readErr
	}

	result, parseErr := c.parser.ParseFile(ctx, change.Path, contents)
	if parseErr != nil {
		return nil, nil, nil, parseErr
	}

	c.logConflicts(ctx, op, c.detectFileConflicts(ctx, result.Entities, result.Relationships))

	now := time.Now()

	for _, e := range result.Entities {
		existing, getErr := c.graph.GetEntity(ctx, e.ID)
		isUpdate := getErr == nil && existing != nil

		if isUpdate {
			if err := c.graph.UpdateEntity(ctx, e); err != nil {
				op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindDatabase, e.ID, err.Error(), true))
				continue
			}
			op.EntitiesUpdated++
			_ = c.graph.AppendVersion(ctx, e.ID, map[string]any{"timestamp": now, "changeSetId": changeID})
			rels = append(rels, core.SessionRelationshipRef{Type: "MODIFIED_IN", FromEntityID: e.ID, ToEntityID: changeID})
			rels = append(rels, core.SessionRelationshipRef{Type: "MODIFIED_BY", FromEntityID: e.ID, ToEntityID: sessionID})
			rels = append(rels, core.SessionRelationshipRef{Type: "SESSION_IMPACTED", FromEntityID: sessionID, ToEntityID: e.ID, Metadata: map[string]any{"severity": "medium"}})
		} else {
			if err := c.graph.CreateEntity(ctx, e); err != nil {
				op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindDatabase, e.ID, err.Error(), true))
				continue
			}
			op.EntitiesCreated++
			rels = append(rels, core.SessionRelationshipRef{Type: "CREATED_IN", FromEntityID: e.ID, ToEntityID: changeID})
			rels = append(rels, core.SessionRelationshipRef{Type: "MODIFIED_BY", FromEntityID: e.ID, ToEntityID: sessionID})
			rels = append(rels, core.SessionRelationshipRef{Type: "SESSION_IMPACTED", FromEntityID: sessionID, ToEntityID: e.ID, Metadata: map[string]any{"severity": "low"}})
		}

		seeds = append(seeds, e.ID)
		embed = append(embed, e.ID)
	}

	for _, r := range result.Relationships {
		sourceFile, _ := r.Fields["__sourceFile"].(string)
		if sourceFile == "" {
			sourceFile = change.Path
		}
		tr, ok := resolveRelationshipTarget(ctx, c.graph, r.ToEntityID, r.FromEntityID, sourceFile)
		if !ok {
			continue
		}
		r.ToEntityID = tr.EntityID
		if err := c.graph.OpenEdge(ctx, r.ID); err != nil {
			op.Errors = append(op.Errors, core.NewSyncError(core.ErrorKindDatabase, r.ID, err.Error(), true))
			continue
		}
		op.RelationshipsCreated++
	}

	return seeds, embed, rels, nil
}
