//go:build integration
// +build integration

package integration

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestInfrastructure manages the Postgres container backing the
// persistence-adapter integration suite (internal/database/postgres).
// No KG store, Redis, or SCM provider is started here: those
// collaborators are out of scope for this adapter (spec §1 non-goals).
type TestInfrastructure struct {
	PostgresContainer *postgres.PostgresContainer
	DB                *sql.DB
	ctx               context.Context
}

// Context returns the infrastructure context.
func (ti *TestInfrastructure) Context() context.Context {
	return ti.ctx
}

// SetupTestInfrastructure starts a disposable Postgres container and
// opens a *sql.DB against it.
func SetupTestInfrastructure(ctx context.Context) (*TestInfrastructure, error) {
	infra := &TestInfrastructure{ctx: ctx}
	if err := infra.startPostgres(ctx); err != nil {
		return nil, fmt.Errorf("failed to start postgres: %w", err)
	}
	return infra, nil
}

func (ti *TestInfrastructure) startPostgres(ctx context.Context) error {
	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("kgsync_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return fmt.Errorf("failed to start postgres container: %w", err)
	}
	ti.PostgresContainer = pgContainer

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		return fmt.Errorf("failed to get connection string: %w", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	ti.DB = db
	return nil
}

// Teardown stops the container and closes the connection.
func (ti *TestInfrastructure) Teardown(ctx context.Context) error {
	var errs []error
	if ti.DB != nil {
		if err := ti.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}
	if ti.PostgresContainer != nil {
		if err := ti.PostgresContainer.Terminate(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to terminate postgres container: %w", err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("teardown errors: %v", errs)
	}
	return nil
}

// ResetDatabase truncates every table this adapter owns, for clean
// test state between cases.
func (ti *TestInfrastructure) ResetDatabase(ctx context.Context) error {
	tables := []string{"scm_commit_records", "checkpoint_records", "rollback_points", "manual_overrides"}
	for _, table := range tables {
		query := fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)
		if _, err := ti.DB.ExecContext(ctx, query); err != nil {
			continue
		}
	}
	return nil
}

// GetPostgresConnString returns the container's connection string.
func (ti *TestInfrastructure) GetPostgresConnString(ctx context.Context) (string, error) {
	if ti.PostgresContainer == nil {
		return "", fmt.Errorf("postgres container not started")
	}
	return ti.PostgresContainer.ConnectionString(ctx, "sslmode=disable")
}
