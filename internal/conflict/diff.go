package conflict

import (
	"math"
	"reflect"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
)

// recordKind selects which set of volatile bookkeeping fields
// normalizeDiff ignores (spec §4.1.a): entities and relationships
// track different housekeeping timestamps and counters.
type recordKind int

const (
	recordKindEntity recordKind = iota
	recordKindRelationship
)

// entityIgnoredFields are top-level entity fields that churn on every
// sync pass regardless of real content change and must never by
// themselves produce a conflict.
var entityIgnoredFields = map[string]struct{}{
	"created":         {},
	"firstSeenAt":     {},
	"lastSeenAt":      {},
	"lastIndexed":     {},
	"lastAnalyzed":    {},
	"lastValidated":   {},
	"snapshotCreated": {},
	"snapshotTakenAt": {},
	"timestamp":       {},
}

// relationshipIgnoredFields is the same idea for relationships.
var relationshipIgnoredFields = map[string]struct{}{
	"created":          {},
	"firstSeenAt":      {},
	"lastSeenAt":       {},
	"version":          {},
	"occurrencesScan":  {},
	"occurrencesTotal": {},
}

func ignoredFieldsFor(kind recordKind) map[string]struct{} {
	if kind == recordKindRelationship {
		return relationshipIgnoredFields
	}
	return entityIgnoredFields
}

// normalizeDiff compares two field maps and returns only the keys
// whose values differ, in either presence or content (spec §4.1.a).
// A key present in only one side is reported with the other side's
// value as nil. Before comparing, values are normalized (time.Time
// coerced to an ISO-8601 string, NaN coerced to nil) and nested map
// fields are diffed recursively, reported under a dotted path (e.g.
// "metadata.owner"). Top-level bookkeeping fields named in
// entityIgnoredFields/relationshipIgnoredFields never produce a diff
// entry on their own.
func normalizeDiff(kind recordKind, current, incoming map[string]any) map[string]core.ValuePair {
	diff := make(map[string]core.ValuePair)
	diffFields("", current, incoming, ignoredFieldsFor(kind), diff)
	return diff
}

func diffFields(prefix string, current, incoming map[string]any, ignored map[string]struct{}, out map[string]core.ValuePair) {
	topLevel := prefix == ""

	for k, curVal := range current {
		if topLevel {
			if _, skip := ignored[k]; skip {
				continue
			}
		}
		path := joinPath(prefix, k)
		incVal, ok := incoming[k]
		if !ok {
			out[path] = core.ValuePair{Current: normalizeValue(curVal), Incoming: nil}
			continue
		}
		diffOne(path, curVal, incVal, ignored, out)
	}

	for k, incVal := range incoming {
		if topLevel {
			if _, skip := ignored[k]; skip {
				continue
			}
		}
		if _, ok := current[k]; !ok {
			out[joinPath(prefix, k)] = core.ValuePair{Current: nil, Incoming: normalizeValue(incVal)}
		}
	}
}

// diffOne compares a single field present on both sides. Two nested
// maps recurse via diffFields instead of being compared wholesale, so
// a single changed nested key is reported precisely rather than
// flagging the entire parent object as diverging.
func diffOne(path string, curVal, incVal any, ignored map[string]struct{}, out map[string]core.ValuePair) {
	curMap, curIsMap := curVal.(map[string]any)
	incMap, incIsMap := incVal.(map[string]any)
	if curIsMap && incIsMap {
		diffFields(path, curMap, incMap, ignored, out)
		return
	}

	nc := normalizeValue(curVal)
	ni := normalizeValue(incVal)
	if !valuesEqual(nc, ni) {
		out[path] = core.ValuePair{Current: nc, Incoming: ni}
	}
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

// normalizeValue applies spec §4.1.a's pre-comparison coercions: a
// time.Time becomes its RFC3339Nano string form, and a NaN float
// becomes nil, so that equivalent values serialized through different
// paths (driver-native time vs. JSON string, a literal NaN vs. an
// absent value) don't spuriously register as conflicts.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case float64:
		if math.IsNaN(t) {
			return nil
		}
		return t
	case float32:
		if math.IsNaN(float64(t)) {
			return nil
		}
		return t
	default:
		return v
	}
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}
