// Package rollback reverses a sync operation's effects on the
// knowledge graph, either by replaying a captured change-log in
// reverse or by restoring a full before/after snapshot (spec §4.2).
package rollback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

// Engine creates rollback points during a sync operation and replays
// them on demand.
type Engine struct {
	mu sync.Mutex

	db    core.Database
	graph core.KnowledgeGraph

	logger  *slog.Logger
	metrics *metrics.RollbackMetrics

	// builders accumulates change-log entries per in-flight operation
	// until createRollbackPoint flushes them.
	builders map[string]*changeLogBuilder

	// checkpointLinks records which checkpoints cover which rollback
	// point, for diagnostic queries. Not persisted: a process restart
	// loses the association but never the rollback points themselves.
	checkpointLinks map[string][]string
}

type changeLogBuilder struct {
	entityChanges       []core.EntityChange
	relationshipChanges []core.RelationshipChange
}

// Config configures a new Engine.
type Config struct {
	Database core.Database
	Graph    core.KnowledgeGraph
	Logger   *slog.Logger
	Metrics  *metrics.RollbackMetrics
}

// New creates a rollback Engine.
func New(config Config) *Engine {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewRollbackMetrics("kgsync")
	}

	return &Engine{
		db:              config.Database,
		graph:           config.Graph,
		logger:          config.Logger,
		metrics:         config.Metrics,
		builders:        make(map[string]*changeLogBuilder),
		checkpointLinks: make(map[string][]string),
	}
}

// RecordEntityChange appends one entity mutation to the change-log
// being built for operationID. Call CreateRollbackPoint to flush it.
func (e *Engine) RecordEntityChange(operationID string, change core.EntityChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.builderFor(operationID)
	b.entityChanges = append(b.entityChanges, change)
}

// RecordRelationshipChange appends one relationship mutation to the
// change-log being built for operationID.
func (e *Engine) RecordRelationshipChange(operationID string, change core.RelationshipChange) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b := e.builderFor(operationID)
	b.relationshipChanges = append(b.relationshipChanges, change)
}

func (e *Engine) builderFor(operationID string) *changeLogBuilder {
	b, ok := e.builders[operationID]
	if !ok {
		b = &changeLogBuilder{}
		e.builders[operationID] = b
	}
	return b
}

// CreateRollbackPoint persists a rollback point for operationID. If
// the operation accumulated change-log entries via
// RecordEntityChange/RecordRelationshipChange, those are flushed as a
// change-log rollback point; otherwise entities/relationships are
// captured as a full snapshot (spec §4.2).
func (e *Engine) CreateRollbackPoint(ctx context.Context, operationID, description string, snapshotEntities []core.Entity, snapshotRelationships []core.Relationship) (*core.RollbackPoint, error) {
	e.mu.Lock()
	b, hasChangeLog := e.builders[operationID]
	delete(e.builders, operationID)
	e.mu.Unlock()

	point := &core.RollbackPoint{
		ID:          fmt.Sprintf("rollback_%s_%d", operationID, time.Now().UnixMilli()),
		OperationID: operationID,
		Timestamp:   time.Now(),
		Description: description,
	}

	mode := "snapshot"
	if hasChangeLog && (len(b.entityChanges) > 0 || len(b.relationshipChanges) > 0) {
		point.EntityChanges = b.entityChanges
		point.RelationshipChanges = b.relationshipChanges
		mode = "changelog"
	} else {
		point.Entities = snapshotEntities
		point.Relationships = snapshotRelationships
	}

	if err := e.db.SaveRollbackPoint(ctx, *point); err != nil {
		return nil, fmt.Errorf("save rollback point: %w", err)
	}

	e.metrics.PointsCreatedTotal.WithLabelValues(mode).Inc()
	e.logger.Info("rollback point created", "rollback_id", point.ID, "operation_id", operationID, "mode", mode)

	return point, nil
}

// LinkCheckpoint records that checkpointID covers the state captured
// by rollbackPointID.
func (e *Engine) LinkCheckpoint(rollbackPointID, checkpointID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkpointLinks[rollbackPointID] = append(e.checkpointLinks[rollbackPointID], checkpointID)
}

// CheckpointsFor returns the checkpoint ids linked to a rollback
// point.
func (e *Engine) CheckpointsFor(rollbackPointID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.checkpointLinks[rollbackPointID]...)
}
