package conflict

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDiff_IgnoresEntityBookkeepingFields(t *testing.T) {
	current := map[string]any{
		"name":       "foo",
		"lastSeenAt": time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		"timestamp":  time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	incoming := map[string]any{
		"name":       "foo",
		"lastSeenAt": time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
		"timestamp":  time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC),
	}

	diff := normalizeDiff(recordKindEntity, current, incoming)
	assert.Empty(t, diff, "lastSeenAt/timestamp churn alone must not register as a conflict")
}

func TestNormalizeDiff_IgnoresRelationshipBookkeepingFields(t *testing.T) {
	current := map[string]any{
		"occurrencesScan":  float64(3),
		"occurrencesTotal": float64(30),
		"version":          float64(1),
	}
	incoming := map[string]any{
		"occurrencesScan":  float64(4),
		"occurrencesTotal": float64(31),
		"version":          float64(2),
	}

	diff := normalizeDiff(recordKindRelationship, current, incoming)
	assert.Empty(t, diff)
}

func TestNormalizeDiff_CoercesTimeAndNaN(t *testing.T) {
	sameInstant := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	current := map[string]any{
		"createdAtDate": sameInstant,
		"score":         math.NaN(),
	}
	incoming := map[string]any{
		"createdAtDate": sameInstant.Format(time.RFC3339Nano),
		"score":         nil,
	}

	diff := normalizeDiff(recordKindEntity, current, incoming)
	assert.Empty(t, diff, "a time.Time and its equivalent RFC3339 string, and NaN vs nil, must compare equal")
}

func TestNormalizeDiff_NestedMapDiffedRecursively(t *testing.T) {
	current := map[string]any{
		"metadata": map[string]any{"owner": "alice", "region": "us"},
	}
	incoming := map[string]any{
		"metadata": map[string]any{"owner": "bob", "region": "us"},
	}

	diff := normalizeDiff(recordKindEntity, current, incoming)
	require := assert.New(t)
	require.Len(diff, 1)
	require.Contains(diff, "metadata.owner")
	require.NotContains(diff, "metadata.region")
	require.NotContains(diff, "metadata")
}

func TestNormalizeDiff_ReportsAddedAndRemovedKeys(t *testing.T) {
	current := map[string]any{"name": "foo", "tag": "keep-me"}
	incoming := map[string]any{"name": "foo", "note": "added"}

	diff := normalizeDiff(recordKindEntity, current, incoming)
	assert.Len(t, diff, 2)
	assert.Equal(t, nil, diff["tag"].Incoming)
	assert.Equal(t, nil, diff["note"].Current)
}
