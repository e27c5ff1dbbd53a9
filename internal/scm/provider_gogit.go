package scm

import (
	"context"
	"fmt"
	"net/url"

	"github.com/go-git/go-git/v5"
	"github.com/memento-sh/sync-core/internal/core"
)

// GoGitProvider is a read-only fallback used when no push-capable
// remote is configured: it opens the repository with go-git to
// resolve the remote URL and construct the same synthetic PR URL
// LocalGitProvider would, without attempting to push (spec §6 — a
// degraded path for environments where the CLI binary isn't trusted
// but a native implementation is available).
type GoGitProvider struct {
	repo   *git.Repository
	Remote string
}

func NewGoGitProvider(dir, remote string) (*GoGitProvider, error) {
	repo, err := git.PlainOpen(dir)
	if err != nil {
		return nil, fmt.Errorf("gogit: opening repository at %s: %w", dir, err)
	}
	if remote == "" {
		remote = "origin"
	}
	return &GoGitProvider{repo: repo, Remote: remote}, nil
}

func (p *GoGitProvider) Name() string { return "go-git-readonly" }

// CreateCommit resolves HEAD after an external actor has already
// committed; go-git's object database is used only to validate the
// commit is reachable, not to author it.
func (p *GoGitProvider) CreateCommit(ctx context.Context, branch, message, author string, changes []core.FileChange) (string, error) {
	head, err := p.repo.Head()
	if err != nil {
		return "", fmt.Errorf("gogit: resolving HEAD: %w", err)
	}
	commit, err := p.repo.CommitObject(head.Hash())
	if err != nil {
		return "", fmt.Errorf("gogit: resolving HEAD commit: %w", err)
	}
	return commit.Hash.String(), nil
}

// CreatePullRequest resolves the remote URL via go-git (no network
// push — the caller is expected to have already pushed out-of-band)
// and returns the same synthetic URL shape as LocalGitProvider.
func (p *GoGitProvider) CreatePullRequest(ctx context.Context, branch, title, description string) (string, error) {
	remote, err := p.repo.Remote(p.Remote)
	if err != nil {
		return "", fmt.Errorf("gogit: resolving remote %q: %w", p.Remote, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return "", fmt.Errorf("gogit: remote %q has no configured URL", p.Remote)
	}
	cleaned := cleanRemoteURL(urls[0])
	return fmt.Sprintf("%s#%s", cleaned, url.QueryEscape(branch)), nil
}
