// Package main is the entry point for the knowledge graph sync engine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/memento-sh/sync-core/internal/api"
	"github.com/memento-sh/sync-core/internal/checkpoint"
	"github.com/memento-sh/sync-core/internal/config"
	"github.com/memento-sh/sync-core/internal/conflict"
	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/core/testfakes"
	"github.com/memento-sh/sync-core/internal/database/postgres"
	"github.com/memento-sh/sync-core/internal/database/sqlite"
	"github.com/memento-sh/sync-core/internal/infrastructure/lock"
	"github.com/memento-sh/sync-core/internal/infrastructure/migrations"
	"github.com/memento-sh/sync-core/internal/realtime"
	"github.com/memento-sh/sync-core/internal/rollback"
	"github.com/memento-sh/sync-core/internal/scm"
	"github.com/memento-sh/sync-core/internal/sync"
	"github.com/memento-sh/sync-core/pkg/logger"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

const serviceName = "kgsync"

var configPath string

func main() {
	root := &cobra.Command{
		Use:   serviceName,
		Short: "Knowledge graph sync engine",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (env vars override)")

	root.AddCommand(newServeCommand())
	root.AddCommand(newMigrateCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadConfig(configPath)
	}
	return config.LoadConfigFromEnv()
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and sync coordinator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var target int64
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(target)
		},
	}
	cmd.Flags().Int64Var(&target, "to", 0, "migrate up to this version only (0 = latest)")
	return cmd
}

func buildLogger(cfg *config.Config) *slog.Logger {
	return logger.NewLogger(logger.Config{
		Level: cfg.Log.Level, Format: cfg.Log.Format, Output: cfg.Log.Output,
		Filename: cfg.Log.Filename, MaxSize: cfg.Log.MaxSize, MaxBackups: cfg.Log.MaxBackups,
		MaxAge: cfg.Log.MaxAge, Compress: cfg.Log.Compress,
	})
}

func dbConfig(cfg *config.Config) *postgres.PostgresConfig {
	return &postgres.PostgresConfig{
		Host: cfg.Database.Host, Port: cfg.Database.Port, Database: cfg.Database.Database,
		User: cfg.Database.Username, Password: cfg.Database.Password, SSLMode: cfg.Database.SSLMode,
		MaxConns: int32(cfg.Database.MaxConnections), MinConns: int32(cfg.Database.MinConnections),
		MaxConnLifetime: cfg.Database.MaxConnLifetime, MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		HealthCheckPeriod: 30 * time.Second, ConnectTimeout: cfg.Database.ConnectTimeout,
	}
}

// buildDatabase constructs the core.Database backend for the
// configured deployment profile: Lite runs against an embedded SQLite
// file (cfg.Storage.FilesystemPath), Standard against Postgres. The
// returned close func releases whatever connection the backend holds.
func buildDatabase(ctx context.Context, cfg *config.Config, log *slog.Logger) (core.Database, func(), error) {
	if cfg.IsLiteProfile() {
		store, err := sqlite.New(ctx, sqlite.Config{Path: cfg.Storage.FilesystemPath, Logger: log})
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, func() { store.Close() }, nil
	}

	pool := postgres.NewPostgresPool(dbConfig(cfg), log)
	if err := pool.Connect(ctx); err != nil {
		return nil, nil, fmt.Errorf("connecting to database: %w", err)
	}
	store := postgres.NewStore(pool, log)
	return store, func() { pool.Disconnect(ctx) }, nil
}

func runMigrate(target int64) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := buildLogger(cfg)

	manager, err := migrations.NewMigrationManager(&migrations.MigrationConfig{
		Driver: "postgres", Dialect: "postgres",
		DSN:    dbConfig(cfg).DSN(),
		Dir:    "migrations",
		Logger: log,
	})
	if err != nil {
		return fmt.Errorf("building migration manager: %w", err)
	}

	ctx := context.Background()
	if err := manager.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer manager.Disconnect(ctx)

	if target > 0 {
		err = manager.UpTo(ctx, target)
	} else {
		err = manager.Up(ctx)
	}
	if err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	log.Info("migrations applied")
	return nil
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := buildLogger(cfg)
	log.Info("starting knowledge graph sync engine", "profile", cfg.Profile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, closeDB, err := buildDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeDB()

	// No concrete knowledge-graph store ships with this service; callers
	// deploy their own graph backend behind core.KnowledgeGraph. The
	// in-memory placeholder keeps the service runnable standalone.
	graph := testfakes.NewGraph()

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize, MinIdleConns: cfg.Redis.MinIdleConns,
			DialTimeout: cfg.Redis.DialTimeout, ReadTimeout: cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout, MaxRetries: cfg.Redis.MaxRetries,
			MinRetryBackoff: cfg.Redis.MinRetryBackoff, MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
		})
		defer redisClient.Close()
	}

	conflicts := conflict.New(conflict.Config{Logger: log, Metrics: metrics.NewConflictMetrics(serviceName)})
	rollbackEngine := rollback.New(rollback.Config{
		Database: db, Graph: graph, Logger: log, Metrics: metrics.NewRollbackMetrics(serviceName),
	})

	checkpointRunner, err := checkpoint.New(checkpoint.Config{
		Graph: graph, Database: db,
		Workers: cfg.Sync.Checkpoint.Workers, QueueSize: cfg.Sync.Checkpoint.QueueSize,
		Logger: log, Metrics: metrics.NewWorkerPoolMetrics(serviceName),
		RetryMetrics: metrics.NewRetryMetrics(),
	})
	if err != nil {
		return fmt.Errorf("building checkpoint runner: %w", err)
	}
	if err := checkpointRunner.Start(ctx); err != nil {
		return fmt.Errorf("starting checkpoint runner: %w", err)
	}
	defer checkpointRunner.Stop()

	coordinator, err := sync.New(sync.Config{
		Graph: graph, Database: db, Conflicts: conflicts, Rollback: rollbackEngine,
		Checkpoints:           checkpointRunner,
		AnomalyResolutionMode: core.AnomalyResolutionMode(cfg.Sync.AnomalyResolutionMode),
		MaxRetryAttempts:      cfg.Sync.MaxRetryAttempts, RetryDelay: cfg.Sync.RetryDelay,
		CheckpointRateLimitPerSecond: cfg.Sync.Checkpoint.RateLimitPerSecond,
		CheckpointRateLimitBurst:     cfg.Sync.Checkpoint.RateLimitBurst,
		Logger:  log, Metrics: metrics.NewSyncMetrics(serviceName),
	})
	if err != nil {
		return fmt.Errorf("building sync coordinator: %w", err)
	}
	go coordinator.Run(ctx)

	hub := realtime.NewHub(log)
	coordinator.AddSessionListener(hub.OnSessionEvent)

	reloader := config.NewConfigReloader(log)
	updateService := config.NewConfigUpdateService(
		cfg, config.NewInMemoryConfigStorage(), config.NewConfigValidator(), config.NewConfigComparator(), reloader, log,
	)
	signalHandler := NewSignalHandler(updateService, log)
	if err := signalHandler.Start(); err != nil {
		return fmt.Errorf("starting signal handler: %w", err)
	}
	defer signalHandler.Stop()

	scmService, err := buildSCMService(cfg, graph, db, redisClient, log)
	if err != nil {
		log.Warn("scm service unavailable", "error", err)
	}

	router := api.NewRouter(api.Config{
		Coordinator: coordinator, SCM: scmService, Database: db, Hub: hub,
		Logger: log, Metrics: metrics.NewHTTPMetricsWithNamespace(serviceName, "http"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("http server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}

func buildSCMService(cfg *config.Config, graph core.KnowledgeGraph, db core.Database, redisClient *redis.Client, log *slog.Logger) (*scm.Service, error) {
	var provider core.SCMProvider
	git := scm.NewGitService(cfg.SCM.RepoDir)

	switch cfg.SCM.Provider {
	case "local-git", "":
		provider = scm.NewLocalGitProvider(git, cfg.SCM.Remote, cfg.SCM.PushForce)
	case "go-git":
		p, err := scm.NewGoGitProvider(cfg.SCM.RepoDir, cfg.SCM.Remote)
		if err != nil {
			return nil, fmt.Errorf("building go-git provider: %w", err)
		}
		provider = p
	case "none":
		return nil, fmt.Errorf("scm provider disabled via configuration")
	default:
		return nil, fmt.Errorf("unknown scm provider %q", cfg.SCM.Provider)
	}

	var distLock *lock.DistributedLock
	if redisClient != nil {
		distLock = lock.NewDistributedLock(redisClient, "scm:"+cfg.SCM.RepoDir, &lock.LockConfig{
			TTL: cfg.Lock.TTL, MaxRetries: cfg.Lock.MaxRetries, RetryInterval: cfg.Lock.RetryInterval,
			AcquireTimeout: cfg.Lock.AcquireTimeout, ReleaseTimeout: cfg.Lock.ReleaseTimeout,
			ValuePrefix: cfg.Lock.ValuePrefix,
		}, log)
	}

	return scm.New(scm.Config{
		Dir: cfg.SCM.RepoDir, Graph: graph, Database: db, Provider: provider, Lock: distLock,
		MaxRetries: cfg.SCM.ProviderMaxRetries, RetryDelay: cfg.SCM.ProviderRetryDelay,
		Logger: log, Metrics: metrics.NewSCMMetrics(serviceName),
	})
}
