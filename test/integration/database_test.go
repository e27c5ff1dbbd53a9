//go:build integration
// +build integration

package integration

import (
	"context"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/database/postgres"
	"github.com/memento-sh/sync-core/internal/infrastructure/migrations"
	"github.com/memento-sh/sync-core/pkg/logger"
)

// newStore applies migrations against the container and returns a
// Store connected through the real pgx pool.
func newStore(t *testing.T, ctx context.Context, infra *TestInfrastructure) *postgres.Store {
	t.Helper()

	connStr, err := infra.GetPostgresConnString(ctx)
	require.NoError(t, err)

	log := logger.NewLogger(logger.Config{Level: "warn", Format: "json", Output: "stdout"})

	manager, err := migrations.NewMigrationManager(&migrations.MigrationConfig{
		Driver: "postgres", Dialect: "postgres", DSN: connStr, Dir: "../../migrations", Logger: log,
	})
	require.NoError(t, err)
	require.NoError(t, manager.Connect(ctx))
	defer manager.Disconnect(ctx)
	require.NoError(t, manager.Up(ctx))

	parsed, err := url.Parse(connStr)
	require.NoError(t, err)
	password, _ := parsed.User.Password()

	cfg := &postgres.PostgresConfig{
		Host: parsed.Hostname(), Port: parsePort(t, parsed.Port()),
		Database: "kgsync_test", User: parsed.User.Username(), Password: password,
		SSLMode: "disable", MaxConns: 5, MinConns: 1,
		MaxConnLifetime: time.Hour, MaxConnIdleTime: 10 * time.Minute,
		HealthCheckPeriod: 30 * time.Second, ConnectTimeout: 10 * time.Second,
	}

	pool := postgres.NewPostgresPool(cfg, log)
	require.NoError(t, pool.Connect(ctx))
	t.Cleanup(func() { pool.Disconnect(ctx) })

	return postgres.NewStore(pool, log)
}

func parsePort(t *testing.T, s string) int {
	t.Helper()
	p, err := strconv.Atoi(s)
	require.NoError(t, err)
	return p
}

func TestDatabase_Connection(t *testing.T) {
	ctx := context.Background()
	infra, err := SetupTestInfrastructure(ctx)
	require.NoError(t, err)
	defer infra.Teardown(ctx)

	err = infra.DB.PingContext(ctx)
	assert.NoError(t, err)
}

func TestStore_SCMCommitRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	infra, err := SetupTestInfrastructure(ctx)
	require.NoError(t, err)
	defer infra.Teardown(ctx)

	store := newStore(t, ctx, infra)

	record := core.SCMCommitRecord{
		CommitHash:  "abc123",
		Branch:      "kgsync/sess-1",
		Title:       "sync: update 3 entities",
		Description: "automated sync commit",
		Author:      "kgsync-bot",
		Changes: []core.FileChange{
			{Path: "a.go", Type: core.FileChangeModify},
			{Path: "b.go", Type: core.FileChangeModify},
		},
		RelatedSpecID: "SPEC-42",
		Provider:      "local-git",
		Status:        core.SCMStatusCommitted,
		Metadata:      map[string]any{"providerAttempts": 1.0},
	}
	require.NoError(t, store.SaveSCMCommitRecord(ctx, record))

	fetched, err := store.GetSCMCommitRecord(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, record.Branch, fetched.Branch)
	assert.Equal(t, record.Changes, fetched.Changes)
	assert.Equal(t, core.SCMStatusCommitted, fetched.Status)

	list, err := store.ListSCMCommitRecords(ctx, 10, 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_CheckpointRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	infra, err := SetupTestInfrastructure(ctx)
	require.NoError(t, err)
	defer infra.Teardown(ctx)

	store := newStore(t, ctx, infra)

	err = store.SaveCheckpointRecord(ctx, "sess-1", core.SessionCheckpointRecord{
		CheckpointID: "ckpt-1", Reason: core.CheckpointReasonManual,
		HopCount: 2, Attempts: 1, SeedEntityIDs: []string{"e1", "e2"},
		JobID: "job-1", RecordedAt: time.Now(),
	})
	require.NoError(t, err)

	records, err := store.ListCheckpointRecords(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ckpt-1", records[0].CheckpointID)
	assert.Equal(t, []string{"e1", "e2"}, records[0].SeedEntityIDs)
}

func TestStore_RollbackPointRoundTrip(t *testing.T) {
	ctx := context.Background()
	infra, err := SetupTestInfrastructure(ctx)
	require.NoError(t, err)
	defer infra.Teardown(ctx)

	store := newStore(t, ctx, infra)

	point := core.RollbackPoint{
		ID: "rp-1", OperationID: "op-1", Description: "pre-sync snapshot",
	}
	require.NoError(t, store.SaveRollbackPoint(ctx, point))

	fetched, err := store.GetRollbackPoint(ctx, "rp-1")
	require.NoError(t, err)
	assert.Equal(t, "op-1", fetched.OperationID)

	require.NoError(t, store.DeleteRollbackPoint(ctx, "rp-1"))
	_, err = store.GetRollbackPoint(ctx, "rp-1")
	assert.Error(t, err)
}
