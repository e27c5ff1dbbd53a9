package scm

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/memento-sh/sync-core/internal/core"
)

// LocalGitProvider resolves the "prUrl" without talking to any hosted
// API: it pushes the branch to a configured remote and constructs a
// synthetic PR URL from the remote's URL, per spec §6.
type LocalGitProvider struct {
	git    *GitService
	Remote string
	Force  bool
}

func NewLocalGitProvider(git *GitService, remote string, force bool) *LocalGitProvider {
	if remote == "" {
		remote = "origin"
	}
	return &LocalGitProvider{git: git, Remote: remote, Force: force}
}

func (p *LocalGitProvider) Name() string { return "local-git" }

// CreateCommit is unused by Service (which commits directly via
// GitService) but is required to satisfy core.SCMProvider for
// providers that are driven end-to-end externally.
func (p *LocalGitProvider) CreateCommit(ctx context.Context, branch, message, author string, changes []core.FileChange) (string, error) {
	env := []string{"GIT_AUTHOR_NAME=" + author, "GIT_COMMITTER_NAME=" + author}
	hash, nothingToCommit, err := p.git.Commit(ctx, message, "", env)
	if nothingToCommit {
		return "", fmt.Errorf("local-git: nothing to commit")
	}
	return hash, err
}

// CreatePullRequest pushes branch to the configured remote and returns
// a synthetic URL of the form "<cleanedRemote>#<encodedBranch>".
func (p *LocalGitProvider) CreatePullRequest(ctx context.Context, branch, title, description string) (string, error) {
	remoteURL, err := p.git.RemoteURL(ctx, p.Remote)
	if err != nil {
		return "", fmt.Errorf("local-git: resolving remote %q: %w", p.Remote, err)
	}
	if err := p.git.Push(ctx, p.Remote, branch, p.Force); err != nil {
		return "", fmt.Errorf("local-git: pushing %s to %s: %w", branch, p.Remote, err)
	}

	cleaned := cleanRemoteURL(remoteURL)
	return fmt.Sprintf("%s#%s", cleaned, url.QueryEscape(branch)), nil
}

func cleanRemoteURL(remote string) string {
	remote = strings.TrimSuffix(remote, ".git")
	if idx := strings.Index(remote, "@"); idx >= 0 && strings.Contains(remote[:idx], ":") {
		// strip user:token@ credentials embedded in an https remote
		if schemeIdx := strings.Index(remote, "://"); schemeIdx >= 0 {
			return remote[:schemeIdx+3] + remote[idx+1:]
		}
	}
	return remote
}
