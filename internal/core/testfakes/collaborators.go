package testfakes

import (
	"context"
	"fmt"
	"sync"

	"github.com/memento-sh/sync-core/internal/core"
)

// Parser is an in-memory core.Parser driven by a fixed table of
// path -> ParseResult responses.
type Parser struct {
	mu        sync.Mutex
	Responses map[string]core.ParseResult
	Err       error
	Calls     []string
}

func NewParser() *Parser {
	return &Parser{Responses: make(map[string]core.ParseResult)}
}

func (p *Parser) ParseFile(ctx context.Context, path string, contents []byte) (core.ParseResult, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, path)
	p.mu.Unlock()

	if p.Err != nil {
		return core.ParseResult{}, p.Err
	}
	return p.Responses[path], nil
}

// EmbeddingService is an in-memory core.EmbeddingService.
type EmbeddingService struct {
	mu    sync.Mutex
	Err   error
	Calls [][]string
}

func NewEmbeddingService() *EmbeddingService { return &EmbeddingService{} }

func (e *EmbeddingService) Embed(ctx context.Context, entityIDs []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Calls = append(e.Calls, entityIDs)
	return e.Err
}

// CheckpointJobRunner is an in-memory core.CheckpointJobRunner that
// completes every enqueued job immediately with SessionStatusCompleted.
type CheckpointJobRunner struct {
	mu     sync.Mutex
	events chan core.CheckpointJobEvent
	seq    int
}

func NewCheckpointJobRunner() *CheckpointJobRunner {
	return &CheckpointJobRunner{events: make(chan core.CheckpointJobEvent, 64)}
}

func (r *CheckpointJobRunner) Enqueue(ctx context.Context, job core.CheckpointJob) (string, error) {
	r.mu.Lock()
	r.seq++
	id := fmt.Sprintf("job-%d", r.seq)
	r.mu.Unlock()

	r.events <- core.CheckpointJobEvent{JobID: id, SessionID: job.SessionID, Status: core.SessionStatusCompleted}
	return id, nil
}

func (r *CheckpointJobRunner) Events() <-chan core.CheckpointJobEvent {
	return r.events
}

// SCMProvider is an in-memory core.SCMProvider.
type SCMProvider struct {
	mu          sync.Mutex
	NameValue   string
	CommitErr   error
	PRErr       error
	commitCount int
	Commits     []string
}

func NewSCMProvider(name string) *SCMProvider {
	return &SCMProvider{NameValue: name}
}

func (s *SCMProvider) Name() string { return s.NameValue }

func (s *SCMProvider) CreateCommit(ctx context.Context, branch, message, author string, changes []core.FileChange) (string, error) {
	if s.CommitErr != nil {
		return "", s.CommitErr
	}
	s.mu.Lock()
	s.commitCount++
	hash := fmt.Sprintf("commit-%d", s.commitCount)
	s.Commits = append(s.Commits, hash)
	s.mu.Unlock()
	return hash, nil
}

func (s *SCMProvider) CreatePullRequest(ctx context.Context, branch, title, description string) (string, error) {
	if s.PRErr != nil {
		return "", s.PRErr
	}
	return "https://example.invalid/pr/" + branch, nil
}
