package postgres

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memento-sh/sync-core/internal/core"
)

func TestErrorKind(t *testing.T) {
	assert.Equal(t, "not_found", errorKind(pgx.ErrNoRows))
	assert.Equal(t, "database", errorKind(assert.AnError))
}

func TestTimeOrNow(t *testing.T) {
	fixed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, fixed, timeOrNow(fixed))
	assert.WithinDuration(t, time.Now(), timeOrNow(time.Time{}), time.Second)
}

func TestRollbackPayload_SnapshotRoundTrip(t *testing.T) {
	payload := rollbackPayload{
		Entities:      []core.Entity{{ID: "e1", Type: "file", Fields: map[string]any{"filePath": "a.go"}}},
		Relationships: []core.Relationship{{ID: "r1", FromEntityID: "e1", ToEntityID: "e2", Type: "IMPORTS"}},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded rollbackPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, payload.Entities, decoded.Entities)
	assert.Equal(t, payload.Relationships, decoded.Relationships)
	assert.Empty(t, decoded.EntityChanges)
}

func TestRollbackPayload_ChangeLogRoundTrip(t *testing.T) {
	payload := rollbackPayload{
		EntityChanges: []core.EntityChange{{EntityID: "e1", Action: core.ChangeUpdate, PreviousState: map[string]any{"a": 1.0}}},
	}
	raw, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded rollbackPayload
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, payload.EntityChanges, decoded.EntityChanges)
	assert.Empty(t, decoded.Entities)
}

func TestScanSCMCommitRow_DecodesNullValidationResults(t *testing.T) {
	r, err := scanSCMCommitRow(fakeRow{values: []interface{}{
		"abc123", "main", "title", "desc", "author",
		[]byte(`[]`), "SPEC-1", []byte(`[]`), []byte(`null`), "",
		"local", "committed", []byte(`{}`), time.Now(), time.Now(),
	}})
	require.NoError(t, err)
	assert.Nil(t, r.ValidationResults)
	assert.Equal(t, core.SCMStatusCommitted, r.Status)
}

// fakeRow is a minimal rowScanner for exercising scanSCMCommitRow
// without a real database connection.
type fakeRow struct{ values []interface{} }

func (f fakeRow) Scan(dest ...interface{}) error {
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = f.values[i].(string)
		case *[]byte:
			*v = f.values[i].([]byte)
		case *time.Time:
			*v = f.values[i].(time.Time)
		}
	}
	return nil
}
