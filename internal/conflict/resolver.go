// Package conflict detects and resolves divergences between incoming
// sync data and the knowledge graph's stored state.
package conflict

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

// Listener is notified whenever a conflict is detected or resolved.
type Listener func(core.Conflict)

// Resolver detects content-addressed conflicts between an incoming
// entity/relationship and its stored counterpart, and resolves them
// via pluggable merge strategies (spec §4.1).
type Resolver struct {
	mu sync.RWMutex

	strategies map[string]MergeStrategy
	conflicts  map[string]*core.Conflict // by conflict id
	overrides  map[string]core.ManualOverrideRecord // by signature
	listeners  []Listener

	logger  *slog.Logger
	metrics *metrics.ConflictMetrics
}

// Config configures a new Resolver.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.ConflictMetrics
}

// New creates a Resolver with the default merge strategies registered.
func New(config Config) *Resolver {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = metrics.NewConflictMetrics("kgsync")
	}

	return &Resolver{
		strategies: defaultStrategies(),
		conflicts:  make(map[string]*core.Conflict),
		overrides:  make(map[string]core.ManualOverrideRecord),
		logger:     config.Logger,
		metrics:    config.Metrics,
	}
}

// AddMergeStrategy registers a named custom merge strategy, overriding
// any existing strategy of the same name.
func (r *Resolver) AddMergeStrategy(name string, strategy MergeStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[name] = strategy
}

// AddListener registers a callback invoked on every detect/resolve
// transition.
func (r *Resolver) AddListener(l Listener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// DetectEntityConflict compares a stored entity against an incoming
// one and returns a Conflict if their fields diverge. If the
// divergence's signature matches a recorded manual override, no
// conflict is reported.
func (r *Resolver) DetectEntityConflict(ctx context.Context, current, incoming core.Entity) (*core.Conflict, bool) {
	diff := normalizeDiff(recordKindEntity, current.Fields, incoming.Fields)
	if len(diff) == 0 {
		return nil, false
	}

	sig := computeSignature(current.ID, diff)

	r.mu.RLock()
	_, overridden := r.overrides[sig]
	r.mu.RUnlock()
	if overridden {
		return nil, false
	}

	c := &core.Conflict{
		ID:        conflictID(current.ID, sig),
		Type:      core.ConflictEntityVersion,
		EntityID:  current.ID,
		Signature: sig,
		Diff:      diff,
		Timestamp: time.Now(),
		Description: fmt.Sprintf("entity %s has %d diverging field(s)", current.ID, len(diff)),
		ConflictingValues: core.ValuePair{Current: current.Fields, Incoming: incoming.Fields},
	}

	c = r.record(c)
	return c, true
}

// DetectEntityDeletionConflict reports a conflict when an entity that
// still has an incoming update was also marked deleted upstream.
func (r *Resolver) DetectEntityDeletionConflict(ctx context.Context, entityID string, incoming core.Entity) *core.Conflict {
	sig := computeSignature(entityID, map[string]core.ValuePair{
		"__deleted": {Current: true, Incoming: incoming.Fields},
	})

	c := &core.Conflict{
		ID:          conflictID(entityID, sig),
		Type:        core.ConflictEntityDeletion,
		EntityID:    entityID,
		Signature:   sig,
		Timestamp:   time.Now(),
		Description: fmt.Sprintf("entity %s was deleted but has an incoming update", entityID),
		ConflictingValues: core.ValuePair{Current: nil, Incoming: incoming.Fields},
	}

	c = r.record(c)
	return c
}

// DetectRelationshipConflict compares a stored relationship against
// an incoming one.
func (r *Resolver) DetectRelationshipConflict(ctx context.Context, current, incoming core.Relationship) (*core.Conflict, bool) {
	diff := normalizeDiff(recordKindRelationship, current.Fields, incoming.Fields)
	if len(diff) == 0 {
		return nil, false
	}

	sig := computeSignature(current.ID, diff)

	r.mu.RLock()
	_, overridden := r.overrides[sig]
	r.mu.RUnlock()
	if overridden {
		return nil, false
	}

	c := &core.Conflict{
		ID:             conflictID(current.ID, sig),
		Type:           core.ConflictRelationship,
		RelationshipID: current.ID,
		Signature:      sig,
		Diff:           diff,
		Timestamp:      time.Now(),
		Description:    fmt.Sprintf("relationship %s has %d diverging field(s)", current.ID, len(diff)),
		ConflictingValues: core.ValuePair{Current: current.Fields, Incoming: incoming.Fields},
	}

	c = r.record(c)
	return c, true
}

// record upserts c into the tracked-conflicts index by ID. A conflict
// with the same signature re-detected across sync passes refreshes its
// Diff/ConflictingValues/Timestamp but never flips Resolved back to
// false or clears a prior Resolution (spec §3's upsert invariant).
func (r *Resolver) record(c *core.Conflict) *core.Conflict {
	r.mu.Lock()
	if existing, ok := r.conflicts[c.ID]; ok {
		existing.Diff = c.Diff
		existing.ConflictingValues = c.ConflictingValues
		existing.Timestamp = c.Timestamp
		existing.Description = c.Description
		c = existing
	} else {
		r.conflicts[c.ID] = c
	}
	r.mu.Unlock()

	r.metrics.DetectedTotal.WithLabelValues(string(c.Type)).Inc()
	r.notify(*c)
	return c
}

// Resolve applies the named strategy to a previously detected
// conflict and records the resolution. The strategy name must have
// been registered via AddMergeStrategy or be one of the built-ins
// ("last_write_wins", "property_merge", "skip_deletions").
func (r *Resolver) Resolve(ctx context.Context, conflictID string, strategyName string) (*core.Resolution, error) {
	start := time.Now()

	r.mu.Lock()
	c, ok := r.conflicts[conflictID]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("conflict %q not found", conflictID)
	}
	strategy, ok := r.strategies[strategyName]
	if !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("merge strategy %q not registered", strategyName)
	}
	r.mu.Unlock()

	resolvedValue := strategy(c.Diff)

	resolution := &core.Resolution{
		ConflictID:    conflictID,
		Strategy:      strategyName,
		ResolvedValue: resolvedValue,
		AppliedAt:     time.Now(),
	}

	r.mu.Lock()
	c.Resolved = true
	c.Resolution = resolution
	c.ResolutionStrategy = strategyName
	r.mu.Unlock()

	r.metrics.ResolvedTotal.WithLabelValues(strategyName).Inc()
	r.metrics.ResolutionDuration.Observe(time.Since(start).Seconds())
	r.notify(*c)

	return resolution, nil
}

// ResolveAuto resolves every unresolved conflict currently tracked
// using mode as the strategy selector, except manual conflicts which
// are left untouched for a human to resolve. It returns the resolved
// conflicts and the ones still pending.
func (r *Resolver) ResolveAuto(ctx context.Context, mode core.ConflictResolutionMode) (resolved, pending []core.Conflict) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.conflicts))
	types := make(map[string]core.ConflictType, len(r.conflicts))
	for id, c := range r.conflicts {
		if !c.Resolved {
			ids = append(ids, id)
			types[id] = c.Type
		}
	}
	r.mu.RUnlock()

	for _, id := range ids {
		if mode == core.ConflictResolutionManual {
			r.mu.RLock()
			c := *r.conflicts[id]
			r.mu.RUnlock()
			pending = append(pending, c)
			continue
		}

		strategyName := strategyForAuto(mode, types[id])
		if _, err := r.Resolve(ctx, id, strategyName); err != nil {
			r.logger.Warn("auto-resolve failed", "conflict_id", id, "error", err)
			continue
		}

		r.mu.RLock()
		c := *r.conflicts[id]
		r.mu.RUnlock()
		resolved = append(resolved, c)
	}

	return resolved, pending
}

// autoStrategy is one rung of the priority-ordered merge-strategy
// cascade ResolveAuto walks for ConflictResolutionMerge (spec §4.1):
// the lowest-priority (most specific) strategy that canHandle the
// conflict's type wins.
type autoStrategy struct {
	name      string
	priority  int
	canHandle func(core.ConflictType) bool
}

// autoStrategyCascade is ordered ascending by priority so the most
// specific applicable strategy is tried first, falling back to
// last_write_wins (priority 100, handles every conflict type) when
// nothing more specific applies.
var autoStrategyCascade = []autoStrategy{
	{name: "skip_deletions", priority: 25, canHandle: func(t core.ConflictType) bool {
		return t == core.ConflictEntityDeletion
	}},
	{name: "property_merge", priority: 50, canHandle: func(t core.ConflictType) bool {
		return t == core.ConflictEntityVersion
	}},
	{name: "last_write_wins", priority: 100, canHandle: func(core.ConflictType) bool {
		return true
	}},
}

// strategyForAuto picks the merge strategy ResolveAuto applies to a
// conflict of the given type under mode. ConflictResolutionOverwrite
// always takes last_write_wins; ConflictResolutionMerge (and any other
// automatic mode) walks autoStrategyCascade.
func strategyForAuto(mode core.ConflictResolutionMode, conflictType core.ConflictType) string {
	if mode == core.ConflictResolutionOverwrite {
		return "last_write_wins"
	}
	for _, s := range autoStrategyCascade {
		if s.canHandle(conflictType) {
			return s.name
		}
	}
	return "last_write_wins"
}

// RecordManualOverride suppresses future reporting of a conflict whose
// diff shape matches signature (spec §3 — a human resolved this exact
// divergence once already).
func (r *Resolver) RecordManualOverride(signature string, resolution core.Resolution) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[signature] = core.ManualOverrideRecord{
		Signature:  signature,
		Resolution: resolution,
		CreatedAt:  time.Now(),
	}
}

// ConflictsForEntity returns all tracked conflicts (resolved and
// unresolved) referencing the given entity id.
func (r *Resolver) ConflictsForEntity(entityID string) []core.Conflict {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []core.Conflict
	for _, c := range r.conflicts {
		if c.EntityID == entityID {
			out = append(out, *c)
		}
	}
	return out
}

// ClearResolved drops every resolved conflict from the in-memory
// index, keeping memory bounded across long-running sync sessions.
func (r *Resolver) ClearResolved() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cleared := 0
	for id, c := range r.conflicts {
		if c.Resolved {
			delete(r.conflicts, id)
			cleared++
		}
	}
	return cleared
}

// Statistics returns a summary of the conflicts currently tracked.
func (r *Resolver) Statistics() core.ConflictStatistics {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := core.ConflictStatistics{ByType: make(map[core.ConflictType]int)}
	for _, c := range r.conflicts {
		stats.Total++
		if c.Resolved {
			stats.Resolved++
		} else {
			stats.Unresolved++
		}
		stats.ByType[c.Type]++
	}

	r.metrics.UnresolvedGauge.Set(float64(stats.Unresolved))
	return stats
}

func (r *Resolver) notify(c core.Conflict) {
	r.mu.RLock()
	listeners := append([]Listener(nil), r.listeners...)
	r.mu.RUnlock()

	for _, l := range listeners {
		l(c)
	}
}
