package sync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/memento-sh/sync-core/internal/conflict"
	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/rollback"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

// Defaults mirroring spec §4.3.
const (
	DefaultBatchSize        = 60
	DefaultMaxConcurrency   = 12
	DefaultTimeout          = 30 * time.Second
	DefaultMaxRetryAttempts = 3
	DefaultRetryDelay       = 5 * time.Second
	symbolIndexCapacity     = 50_000
)

// Config wires a Coordinator's collaborators. Graph, Conflicts, and
// Rollback are required; everything else degrades gracefully when nil
// (capability-detected, per spec §4's external-collaborator stance).
type Config struct {
	Graph       core.KnowledgeGraph
	Database    core.Database
	Conflicts   *conflict.Resolver
	Rollback    *rollback.Engine
	Parser      core.Parser
	Embeddings  core.EmbeddingService
	ModuleIndexer core.ModuleIndexer
	Checkpoints core.CheckpointJobRunner

	AnomalyResolutionMode core.AnomalyResolutionMode
	MaxRetryAttempts      int
	RetryDelay            time.Duration

	// CheckpointRateLimitPerSecond and CheckpointRateLimitBurst bound
	// how often scheduleSessionCheckpoint may enqueue a job. 0 disables
	// the limiter (unbounded scheduling).
	CheckpointRateLimitPerSecond float64
	CheckpointRateLimitBurst     int

	Logger  *slog.Logger
	Metrics *metrics.SyncMetrics
}

// Coordinator is the SynchronizationCoordinator (spec §4.3, C4): it
// queues sync requests, runs them one at a time against the
// knowledge graph, and owns the session stream, sequence tracking,
// conflict logging, checkpoint scheduling, and retry/rollback policy.
type Coordinator struct {
	mu sync.Mutex

	graph       core.KnowledgeGraph
	db          core.Database
	conflicts   *conflict.Resolver
	rollback    *rollback.Engine
	parser      core.Parser
	embeddings  core.EmbeddingService
	moduleIndex core.ModuleIndexer
	checkpoints core.CheckpointJobRunner

	active    map[string]*core.SyncOperation
	completed map[string]*core.SyncOperation
	queue     []*core.SyncOperation
	cancelled map[string]struct{}
	retrying  map[string]int // operation id -> attempts so far
	tuning    map[string]core.OperationTuning

	paused        bool
	resumeWaiters []chan struct{}
	processing    bool

	symbolIndex      *lru.Cache[string, string]
	checkpointLimiter *rate.Limiter
	sequences   *sequenceTracker
	listeners   listenerRegistry
	sessionListeners listenerRegistrySession

	maxRetryAttempts int
	retryDelay       time.Duration

	nextOpSeq int

	logger  *slog.Logger
	metrics *metrics.SyncMetrics
}

// New constructs a Coordinator. Graph, Conflicts, and Rollback must be
// non-nil; the remaining collaborators are optional.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("sync: Graph is required")
	}
	if cfg.Conflicts == nil {
		return nil, fmt.Errorf("sync: Conflicts resolver is required")
	}
	if cfg.Rollback == nil {
		return nil, fmt.Errorf("sync: Rollback engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewSyncMetrics("kgsync")
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	idx, err := lru.New[string, string](symbolIndexCapacity)
	if err != nil {
		return nil, fmt.Errorf("sync: building symbol index: %w", err)
	}

	var limiter *rate.Limiter
	if cfg.CheckpointRateLimitPerSecond > 0 {
		burst := cfg.CheckpointRateLimitBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.CheckpointRateLimitPerSecond), burst)
	}

	return &Coordinator{
		graph:       cfg.Graph,
		db:          cfg.Database,
		conflicts:   cfg.Conflicts,
		rollback:    cfg.Rollback,
		parser:      cfg.Parser,
		embeddings:  cfg.Embeddings,
		moduleIndex: cfg.ModuleIndexer,
		checkpoints: cfg.Checkpoints,

		active:    make(map[string]*core.SyncOperation),
		completed: make(map[string]*core.SyncOperation),
		cancelled: make(map[string]struct{}),
		retrying:  make(map[string]int),
		tuning:    make(map[string]core.OperationTuning),

		symbolIndex:       idx,
		checkpointLimiter: limiter,
		sequences:         newSequenceTracker(cfg.AnomalyResolutionMode, cfg.Metrics.Checkpoint),

		maxRetryAttempts: cfg.MaxRetryAttempts,
		retryDelay:       cfg.RetryDelay,

		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}, nil
}

// AddListener registers a callback invoked on every coordinator-level
// event (spec §6 "Emitted events").
func (c *Coordinator) AddListener(l Listener) {
	c.listeners.add(l)
}

// AddSessionListener registers a callback invoked on every
// session-stream event (spec §4.3.7).
func (c *Coordinator) AddSessionListener(l SessionListener) {
	c.sessionListeners.add(l)
}

func (c *Coordinator) emit(e Event) {
	c.listeners.emit(e)
}

// Run starts the checkpoint-event watcher. It blocks until ctx is
// cancelled; callers typically invoke it in its own goroutine.
func (c *Coordinator) Run(ctx context.Context) {
	c.watchCheckpointEvents(ctx)
}

func (c *Coordinator) newOperationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextOpSeq++
	return fmt.Sprintf("op_%d_%s", c.nextOpSeq, uuid.NewString())
}
