package conflict

import (
	"time"

	"github.com/memento-sh/sync-core/internal/core"
)

// MergeStrategy resolves a conflict's diff into a final set of field
// values to apply. Implementations must be deterministic and pure.
type MergeStrategy func(diff map[string]core.ValuePair) map[string]any

// lastWriteWins takes the incoming value for every diverging key,
// including deletions (an absent incoming value clears the field).
func lastWriteWins(diff map[string]core.ValuePair) map[string]any {
	resolved := make(map[string]any, len(diff))
	for k, pair := range diff {
		resolved[k] = pair.Incoming
	}
	return resolved
}

// propertyMerge resolves per-key with field-specific rules (spec
// §4.1): hash and metadata are shallow-merged (keys from both sides
// survive, incoming wins where both define the same key), lastModified
// takes whichever side is chronologically later, and every other
// diverging key takes the incoming value, with a key absent on the
// incoming side (a deletion) dropped from the result rather than
// forcing a nil.
func propertyMerge(diff map[string]core.ValuePair) map[string]any {
	resolved := make(map[string]any, len(diff))
	for k, pair := range diff {
		switch k {
		case "hash", "metadata":
			resolved[k] = shallowMergeMaps(pair.Current, pair.Incoming)
		case "lastModified":
			resolved[k] = laterTimestamp(pair.Current, pair.Incoming)
		default:
			if pair.Incoming == nil {
				continue
			}
			resolved[k] = pair.Incoming
		}
	}
	return resolved
}

// shallowMergeMaps unions current and incoming as string-keyed maps,
// with incoming's value winning for any key present on both sides.
// Either side may be nil or a non-map value (e.g. when a field first
// gains a map shape); such sides simply contribute nothing.
func shallowMergeMaps(current, incoming any) map[string]any {
	merged := make(map[string]any)
	if cm, ok := current.(map[string]any); ok {
		for k, v := range cm {
			merged[k] = v
		}
	}
	if im, ok := incoming.(map[string]any); ok {
		for k, v := range im {
			merged[k] = v
		}
	}
	return merged
}

// laterTimestamp returns whichever of current/incoming is the later
// point in time, accepting time.Time values or RFC3339 strings and
// defaulting to incoming when neither side parses as a timestamp.
func laterTimestamp(current, incoming any) any {
	ct, cok := asTime(current)
	it, iok := asTime(incoming)
	if cok && iok && ct.After(it) {
		return current
	}
	return incoming
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		if parsed, err := time.Parse(time.RFC3339, t); err == nil {
			return parsed, true
		}
	}
	return time.Time{}, false
}

// skipDeletions behaves like lastWriteWins except it never removes a
// field: a key the incoming side dropped keeps its current value.
func skipDeletions(diff map[string]core.ValuePair) map[string]any {
	resolved := make(map[string]any, len(diff))
	for k, pair := range diff {
		if pair.Incoming == nil {
			resolved[k] = pair.Current
			continue
		}
		resolved[k] = pair.Incoming
	}
	return resolved
}

func defaultStrategies() map[string]MergeStrategy {
	return map[string]MergeStrategy{
		"last_write_wins": lastWriteWins,
		"property_merge":  propertyMerge,
		"skip_deletions":  skipDeletions,
	}
}
