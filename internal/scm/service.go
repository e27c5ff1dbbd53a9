package scm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/memento-sh/sync-core/internal/core"
	"github.com/memento-sh/sync-core/internal/infrastructure/lock"
	"github.com/memento-sh/sync-core/pkg/metrics"
)

const (
	defaultProviderMaxRetries  = 2
	defaultProviderRetryDelay  = 500 * time.Millisecond
	defaultFallbackAuthorName  = "memento-bot"
	defaultFallbackAuthorEmail = "memento-bot@example.com"
)

// CommitRequest is one createCommitAndMaybePR call (spec §4.4).
type CommitRequest struct {
	Title          string
	Description    string
	BranchName     string
	Base           string
	Changes        []string
	PreservePaths  []string
	RelatedSpecID  string
	TestResults    []core.SCMTestResult
	CreatePR       *bool // nil = true
	PushForce      bool
	PushRemote     string
}

// CommitResult is returned by CreateCommitAndMaybePR.
type CommitResult struct {
	Record core.SCMCommitRecord
}

// Config wires an SCMService's collaborators.
type Config struct {
	Dir         string
	Graph       core.KnowledgeGraph
	Database    core.Database
	Provider    core.SCMProvider
	Lock        *lock.DistributedLock
	MaxRetries  int
	RetryDelay  time.Duration
	Logger      *slog.Logger
	Metrics     *metrics.SCMMetrics
}

// Service implements the serialized commit(+PR) flow (spec §4.4, C6).
// When Config.Lock is set, every call is serialized through that
// DistributedLock keyed per working tree, so at most one request
// mutates the git index at a time across every process racing to land
// a change. With a nil Lock, calls are not serialized.
type Service struct {
	git        *GitService
	graph      core.KnowledgeGraph
	db         core.Database
	provider   core.SCMProvider
	lock       *lock.DistributedLock
	maxRetries int
	retryDelay time.Duration
	logger     *slog.Logger
	metrics    *metrics.SCMMetrics
}

func New(cfg Config) (*Service, error) {
	if cfg.Graph == nil {
		return nil, fmt.Errorf("scm: Graph is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewSCMMetrics("kgsync")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = envInt("SCM_PROVIDER_MAX_RETRIES", defaultProviderMaxRetries)
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = envDuration("SCM_PROVIDER_RETRY_DELAY_MS", defaultProviderRetryDelay)
	}
	return &Service{
		git:        NewGitService(cfg.Dir),
		graph:      cfg.Graph,
		db:         cfg.Database,
		provider:   cfg.Provider,
		lock:       cfg.Lock,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
	}, nil
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil || n < 1 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var ms int
	if _, err := fmt.Sscanf(v, "%d", &ms); err != nil || ms < 0 {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

// CreateCommitAndMaybePR runs the full serialized commit(+PR) flow
// (spec §4.4 steps 1-10).
func (s *Service) CreateCommitAndMaybePR(ctx context.Context, req CommitRequest) (*CommitResult, error) {
	if err := validateCommitRequest(req); err != nil {
		return nil, err
	}

	lockStart := time.Now()
	if s.lock != nil {
		acquired, err := s.lock.AcquireWithRetry(ctx, 5)
		if err != nil || !acquired {
			if err == nil {
				err = fmt.Errorf("scm: could not acquire working-tree lock")
			}
			return nil, err
		}
		defer s.lock.Release(ctx)
	}
	if s.metrics != nil {
		s.metrics.LockWaitDuration.Observe(time.Since(lockStart).Seconds())
	}

	start := time.Now()
	record, err := s.runLocked(ctx, req)
	if s.metrics != nil {
		s.metrics.CommitDuration.Observe(time.Since(start).Seconds())
		s.metrics.CommitsTotal.WithLabelValues(string(record.Status)).Inc()
	}
	if s.db != nil {
		_ = s.db.SaveSCMCommitRecord(ctx, record)
	}
	if err != nil {
		return &CommitResult{Record: record}, err
	}
	return &CommitResult{Record: record}, nil
}

func validateCommitRequest(req CommitRequest) error {
	var details []string
	if strings.TrimSpace(req.Title) == "" {
		details = append(details, "title must be non-empty")
	}
	nonEmpty := 0
	for _, c := range req.Changes {
		if strings.TrimSpace(c) != "" {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		details = append(details, "changes must contain at least one non-empty path")
	}
	if len(details) > 0 {
		return &core.ValidationError{Details: details}
	}
	return nil
}

// runLocked performs steps 2-10 of spec §4.4, assuming the caller
// already holds the working-tree lock.
func (s *Service) runLocked(ctx context.Context, req CommitRequest) (core.SCMCommitRecord, error) {
	record := core.SCMCommitRecord{
		Title:       req.Title,
		Description: req.Description,
		CreatedAt:   time.Now().UTC(),
	}

	if !s.git.IsWorkingTree(ctx) {
		return record, fmt.Errorf("scm: %s is not a git working tree", s.git.Dir)
	}

	originalBranch, _ := s.git.CurrentBranch(ctx)
	branch := req.BranchName
	if branch == "" {
		branch = originalBranch
	}
	if branch == "" {
		branch = "main"
	}
	record.Branch = branch

	defer func() {
		if originalBranch != "" && originalBranch != branch {
			if err := s.git.SwitchOrCreate(ctx, originalBranch, ""); err != nil {
				s.logger.Warn("failed to switch back to original branch", "branch", originalBranch, "error", err)
			}
		}
	}()

	if branch != originalBranch {
		if err := s.git.SwitchOrCreate(ctx, branch, req.Base); err != nil {
			record.Status = core.SCMStatusFailed
			return record, fmt.Errorf("scm: switching to branch %q: %w", branch, err)
		}
	}

	changes := nonEmptyStrings(req.Changes)
	outside, err := s.git.StagedOutsideChanges(ctx, changes)
	if err == nil && len(outside) > 0 {
		record.Status = core.SCMStatusFailed
		return record, &core.ValidationError{Details: []string{
			fmt.Sprintf("staged files outside requested changes: %s", strings.Join(outside, ", ")),
		}}
	}

	resolved, err := s.git.ResolvePathsInRoot(changes)
	if err != nil {
		record.Status = core.SCMStatusFailed
		return record, &core.ValidationError{Details: []string{err.Error()}}
	}
	if err := s.git.AddPaths(ctx, resolved); err != nil {
		record.Status = core.SCMStatusFailed
		return record, fmt.Errorf("scm: staging changes: %w", err)
	}

	authorName, authorEmail := resolveIdentity()
	env := []string{
		"GIT_AUTHOR_NAME=" + authorName, "GIT_AUTHOR_EMAIL=" + authorEmail,
		"GIT_COMMITTER_NAME=" + authorName, "GIT_COMMITTER_EMAIL=" + authorEmail,
	}
	record.Author = authorName

	hash, nothingToCommit, err := s.git.Commit(ctx, req.Title, req.Description, env)
	if nothingToCommit {
		_ = s.git.UnstagePaths(ctx, resolved)
		record.Status = core.SCMStatusFailed
		return record, &core.ValidationError{Details: []string{"nothing to commit"}}
	}
	if err != nil {
		record.Status = core.SCMStatusFailed
		return record, fmt.Errorf("scm: commit failed: %w", err)
	}

	record.CommitHash = hash
	record.Changes = toFileChanges(resolved)
	record.RelatedSpecID = req.RelatedSpecID
	record.TestResults = req.TestResults
	record.Status = core.SCMStatusCommitted
	record.UpdatedAt = time.Now().UTC()

	s.recordChangeEntity(ctx, record)

	createPR := req.CreatePR == nil || *req.CreatePR
	if createPR {
		s.runProviderWithRetry(ctx, &record, req, branch)
	}

	return record, nil
}

func nonEmptyStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func toFileChanges(paths []string) []core.FileChange {
	out := make([]core.FileChange, 0, len(paths))
	for _, p := range paths {
		out = append(out, core.FileChange{Path: p, Type: core.FileChangeModify})
	}
	return out
}

func resolveIdentity() (name, email string) {
	name = firstNonEmptyEnv("GIT_AUTHOR_NAME", "GITHUB_ACTOR", "USER")
	if name == "" {
		name = defaultFallbackAuthorName
	}
	email = os.Getenv("GIT_AUTHOR_EMAIL")
	if email == "" {
		if actor := os.Getenv("GITHUB_ACTOR"); actor != "" {
			email = actor + "@users.noreply.github.com"
		} else {
			email = defaultFallbackAuthorEmail
		}
	}
	return name, email
}

func firstNonEmptyEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// recordChangeEntity attaches a Change graph entity and MODIFIED_IN
// relationships to the related spec/tests (spec §4.4 step 7).
func (s *Service) recordChangeEntity(ctx context.Context, record core.SCMCommitRecord) {
	changeID := "change:" + record.CommitHash
	if err := s.graph.CreateEntity(ctx, core.Entity{
		ID:   changeID,
		Type: "Change",
		Fields: map[string]any{
			"commitHash": record.CommitHash,
			"title":      record.Title,
			"author":     record.Author,
		},
	}); err != nil {
		s.logger.Warn("failed to record change entity", "commit", record.CommitHash, "error", err)
		return
	}
	if record.RelatedSpecID != "" {
		_ = s.graph.CreateRelationship(ctx, core.Relationship{
			ID: "rel:" + changeID + ":spec", Type: "MODIFIED_IN",
			FromEntityID: record.RelatedSpecID, ToEntityID: changeID,
		})
	}
	for _, fc := range record.Changes {
		_ = s.graph.CreateRelationship(ctx, core.Relationship{
			ID: "rel:" + changeID + ":" + fc.Path, Type: "MODIFIED_IN",
			FromEntityID: fc.Path, ToEntityID: changeID,
		})
	}
}

// runProviderWithRetry implements spec §4.4 step 8: up to maxRetries
// attempts, delay = retryDelay * attempt, terminal failure marks the
// record failed with escalationRequired in its metadata.
func (s *Service) runProviderWithRetry(ctx context.Context, record *core.SCMCommitRecord, req CommitRequest, branch string) {
	if s.provider == nil {
		record.Metadata = mergeMetadata(record.Metadata, map[string]any{
			"providerFailure": (&core.SCMProviderNotConfiguredError{}).Error(),
		})
		return
	}

	record.Provider = s.provider.Name()
	record.Status = core.SCMStatusPending

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		attempts = attempt
		if attempt > 1 {
			if s.metrics != nil {
				s.metrics.RetryTotal.Inc()
			}
			timer := time.NewTimer(s.retryDelay * time.Duration(attempt-1))
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				lastErr = ctx.Err()
				goto exhausted
			}
			timer.Stop()
		}
		{
			prURL, err := s.provider.CreatePullRequest(ctx, branch, req.Title, req.Description)
			if err == nil {
				record.PRURL = prURL
				record.Metadata = mergeMetadata(record.Metadata, map[string]any{"providerAttempts": attempts})
				return
			}
			lastErr = err
		}
	}
exhausted:

	record.Status = core.SCMStatusFailed
	record.Metadata = mergeMetadata(record.Metadata, map[string]any{
		"providerFailure":    fmt.Sprintf("%v", lastErr),
		"escalationRequired": true,
		"providerAttempts":   attempts,
	})
	if s.metrics != nil {
		s.metrics.EscalationTotal.Inc()
	}
}

func mergeMetadata(existing map[string]any, add map[string]any) map[string]any {
	if existing == nil {
		existing = make(map[string]any, len(add))
	}
	for k, v := range add {
		existing[k] = v
	}
	return existing
}
