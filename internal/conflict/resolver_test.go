package conflict

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memento-sh/sync-core/internal/core"
)

func newTestResolver() *Resolver {
	return New(Config{})
}

func TestDetectEntityConflict_NoDivergence(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}

	c, found := r.DetectEntityConflict(context.Background(), current, incoming)
	assert.False(t, found)
	assert.Nil(t, c)
}

func TestDetectEntityConflict_Divergence(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo", "version": float64(1)}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar", "version": float64(1)}}

	c, found := r.DetectEntityConflict(context.Background(), current, incoming)
	require.True(t, found)
	require.NotNil(t, c)
	assert.Equal(t, core.ConflictEntityVersion, c.Type)
	assert.Len(t, c.Diff, 1)
	assert.Contains(t, c.Diff, "name")
}

func TestDetectEntityConflict_SameSignatureReusesID(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}

	c1, _ := r.DetectEntityConflict(context.Background(), current, incoming)
	c2, _ := r.DetectEntityConflict(context.Background(), current, incoming)

	assert.Equal(t, c1.ID, c2.ID)
	assert.Equal(t, c1.Signature, c2.Signature)
}

func TestResolve_LastWriteWins(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}

	c, _ := r.DetectEntityConflict(context.Background(), current, incoming)

	res, err := r.Resolve(context.Background(), c.ID, "last_write_wins")
	require.NoError(t, err)
	assert.Equal(t, "bar", res.ResolvedValue["name"])
}

func TestResolve_SkipDeletionsKeepsCurrentOnDeletion(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo", "tag": "keep-me"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}

	c, found := r.DetectEntityConflict(context.Background(), current, incoming)
	require.True(t, found)

	res, err := r.Resolve(context.Background(), c.ID, "skip_deletions")
	require.NoError(t, err)
	assert.Equal(t, "keep-me", res.ResolvedValue["tag"])
}

func TestResolve_UnknownConflict(t *testing.T) {
	r := newTestResolver()
	_, err := r.Resolve(context.Background(), "missing", "last_write_wins")
	assert.Error(t, err)
}

func TestResolve_UnknownStrategy(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}
	c, _ := r.DetectEntityConflict(context.Background(), current, incoming)

	_, err := r.Resolve(context.Background(), c.ID, "does_not_exist")
	assert.Error(t, err)
}

func TestManualOverride_SuppressesFutureDetection(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}

	c, found := r.DetectEntityConflict(context.Background(), current, incoming)
	require.True(t, found)

	r.RecordManualOverride(c.Signature, core.Resolution{ConflictID: c.ID})

	_, found = r.DetectEntityConflict(context.Background(), current, incoming)
	assert.False(t, found)
}

func TestStatistics(t *testing.T) {
	r := newTestResolver()
	current1 := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming1 := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}
	current2 := core.Entity{ID: "e2", Fields: map[string]any{"name": "baz"}}
	incoming2 := core.Entity{ID: "e2", Fields: map[string]any{"name": "qux"}}

	c1, _ := r.DetectEntityConflict(context.Background(), current1, incoming1)
	_, _ = r.DetectEntityConflict(context.Background(), current2, incoming2)

	_, err := r.Resolve(context.Background(), c1.ID, "last_write_wins")
	require.NoError(t, err)

	stats := r.Statistics()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 1, stats.Unresolved)
}

func TestClearResolved(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}
	c, _ := r.DetectEntityConflict(context.Background(), current, incoming)
	_, err := r.Resolve(context.Background(), c.ID, "last_write_wins")
	require.NoError(t, err)

	cleared := r.ClearResolved()
	assert.Equal(t, 1, cleared)
	assert.Empty(t, r.ConflictsForEntity("e1"))
}

func TestAddMergeStrategy_Custom(t *testing.T) {
	r := newTestResolver()
	r.AddMergeStrategy("always_current", func(diff map[string]core.ValuePair) map[string]any {
		out := make(map[string]any, len(diff))
		for k, pair := range diff {
			out[k] = pair.Current
		}
		return out
	})

	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}
	c, _ := r.DetectEntityConflict(context.Background(), current, incoming)

	res, err := r.Resolve(context.Background(), c.ID, "always_current")
	require.NoError(t, err)
	assert.Equal(t, "foo", res.ResolvedValue["name"])
}

func TestAddListener_NotifiedOnDetectAndResolve(t *testing.T) {
	r := newTestResolver()
	events := 0
	r.AddListener(func(c core.Conflict) { events++ })

	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}
	c, _ := r.DetectEntityConflict(context.Background(), current, incoming)
	_, err := r.Resolve(context.Background(), c.ID, "last_write_wins")
	require.NoError(t, err)

	assert.Equal(t, 2, events)
}

func TestResolveAuto_ManualModeLeavesConflictsPending(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}
	r.DetectEntityConflict(context.Background(), current, incoming)

	resolved, pending := r.ResolveAuto(context.Background(), core.ConflictResolutionManual)
	assert.Empty(t, resolved)
	assert.Len(t, pending, 1)
}

func TestResolveAuto_OverwriteModeResolvesAll(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}
	r.DetectEntityConflict(context.Background(), current, incoming)

	resolved, pending := r.ResolveAuto(context.Background(), core.ConflictResolutionOverwrite)
	assert.Len(t, resolved, 1)
	assert.Empty(t, pending)
}

func TestResolveAuto_MergeModeDispatchesByConflictType(t *testing.T) {
	r := newTestResolver()

	// entity_version -> property_merge
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}
	r.DetectEntityConflict(context.Background(), current, incoming)

	// entity_deletion -> skip_deletions (a no-op that keeps current)
	r.DetectEntityDeletionConflict(context.Background(), "e2", core.Entity{ID: "e2", Fields: map[string]any{"name": "baz"}})

	resolved, pending := r.ResolveAuto(context.Background(), core.ConflictResolutionMerge)
	require.Len(t, resolved, 2)
	assert.Empty(t, pending)

	byEntity := make(map[string]core.Conflict, len(resolved))
	for _, c := range resolved {
		byEntity[c.TargetID()] = c
	}

	assert.Equal(t, "property_merge", byEntity["e1"].ResolutionStrategy)
	assert.Equal(t, "skip_deletions", byEntity["e2"].ResolutionStrategy)
}

func TestDetectEntityConflict_ReDetectionPreservesResolution(t *testing.T) {
	r := newTestResolver()
	current := core.Entity{ID: "e1", Fields: map[string]any{"name": "foo"}}
	incoming := core.Entity{ID: "e1", Fields: map[string]any{"name": "bar"}}

	c1, found := r.DetectEntityConflict(context.Background(), current, incoming)
	require.True(t, found)

	_, err := r.Resolve(context.Background(), c1.ID, "last_write_wins")
	require.NoError(t, err)

	c2, found := r.DetectEntityConflict(context.Background(), current, incoming)
	require.True(t, found)
	assert.Equal(t, c1.ID, c2.ID)
	assert.True(t, c2.Resolved, "re-detecting an already-resolved conflict must not flip it back to unresolved")
	require.NotNil(t, c2.Resolution)
	assert.Equal(t, "last_write_wins", c2.ResolutionStrategy)
}

func TestPropertyMerge_HashAndMetadataShallowMergeAndLastModifiedMax(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	diff := map[string]core.ValuePair{
		"metadata": {
			Current:  map[string]any{"a": 1},
			Incoming: map[string]any{"b": 2},
		},
		"lastModified": {
			Current:  newer,
			Incoming: older,
		},
	}

	resolved := propertyMerge(diff)

	assert.Equal(t, map[string]any{"a": 1, "b": 2}, resolved["metadata"])
	assert.Equal(t, newer, resolved["lastModified"], "propertyMerge must keep the chronologically later lastModified, not always incoming")
}
