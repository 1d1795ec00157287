// Package workspace manages the agent's local working copies: one
// directory per repository under the workspace root, cloned on first
// use and fast-forwarded before each request. All VCS access goes
// through the git CLI.
package workspace

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vominhhoang308/claude-mobile/pkg/logger"
)

// ErrNotFastForward is returned when the default branch cannot be
// fast-forwarded; conflicts are fatal for the request.
var ErrNotFastForward = errors.New("default branch cannot be fast-forwarded")

// Manager owns the workspace root and the per-repository locks.
// Requests against the same repository serialize; distinct
// repositories proceed in parallel.
type Manager struct {
	root  string
	token string
	host  string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a manager rooted at root, cloning over HTTPS with
// the given forge access token.
func NewManager(root, token string) *Manager {
	return &Manager{
		root:  root,
		token: token,
		host:  "github.com",
		locks: make(map[string]*sync.Mutex),
	}
}

// Acquire takes the per-repository lock and returns its release
// function. The lock must be held for every operation that touches the
// working copy, from clone/pull through branch, commit, and push.
func (m *Manager) Acquire(fullName string) func() {
	m.mu.Lock()
	lock := m.locks[fullName]
	if lock == nil {
		lock = &sync.Mutex{}
		m.locks[fullName] = lock
	}
	m.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Sanitize maps "owner/name" onto a flat directory name.
func Sanitize(fullName string) string {
	return strings.ReplaceAll(fullName, "/", "__")
}

// Path returns the local path a repository maps to, without touching it.
func (m *Manager) Path(fullName string) string {
	return filepath.Join(m.root, Sanitize(fullName))
}

// Ensure makes the repository's working copy exist and be current:
// clone on first use, otherwise fetch and fast-forward the default
// branch. Returns the absolute path. Caller must hold the repo lock.
func (m *Manager) Ensure(ctx context.Context, fullName string) (string, error) {
	path := m.Path(fullName)

	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		if err := os.MkdirAll(m.root, 0o755); err != nil {
			return "", fmt.Errorf("create workspace root: %w", err)
		}
		logger.Infof("[Workspace] cloning %s", fullName)
		if _, err := m.git(ctx, m.root, "clone", m.cloneURL(fullName), path); err != nil {
			return "", fmt.Errorf("clone %s: %w", fullName, err)
		}
		return path, nil
	}

	logger.Debugf("[Workspace] refreshing %s", fullName)
	if _, err := m.git(ctx, path, "fetch", "origin"); err != nil {
		return "", fmt.Errorf("fetch %s: %w", fullName, err)
	}

	branch, err := m.defaultBranch(ctx, path)
	if err != nil {
		return "", err
	}
	if _, err := m.git(ctx, path, "checkout", branch); err != nil {
		return "", fmt.Errorf("checkout %s: %w", branch, err)
	}
	if _, err := m.git(ctx, path, "merge", "--ff-only", "origin/"+branch); err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFastForward, branch)
	}
	return path, nil
}

// Checkout switches the working copy to an existing branch.
func (m *Manager) Checkout(ctx context.Context, dir, branch string) error {
	if _, err := m.git(ctx, dir, "checkout", branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	return nil
}

// CreateBranch creates and checks out a branch from the current HEAD.
func (m *Manager) CreateBranch(ctx context.Context, dir, branch string) error {
	if _, err := m.git(ctx, dir, "checkout", "-b", branch); err != nil {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}
	return nil
}

// HasChanges reports whether the working tree has any modification,
// staged or not, including untracked files.
func (m *Manager) HasChanges(ctx context.Context, dir string) (bool, error) {
	out, err := m.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, fmt.Errorf("status: %w", err)
	}
	return strings.TrimSpace(out) != "", nil
}

// CommitAll stages everything and commits with the given message.
func (m *Manager) CommitAll(ctx context.Context, dir, message string) error {
	if _, err := m.git(ctx, dir, "add", "-A"); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	if _, err := m.git(ctx, dir, "commit", "-m", message); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Push pushes the branch with an upstream set. On failure it fetches
// and retries exactly once; persistent failure is fatal.
func (m *Manager) Push(ctx context.Context, dir, branch string) error {
	if _, err := m.git(ctx, dir, "push", "-u", "origin", branch); err == nil {
		return nil
	}
	logger.Warnf("[Workspace] push of %s failed, fetching and retrying once", branch)
	if _, err := m.git(ctx, dir, "fetch", "origin"); err != nil {
		return fmt.Errorf("fetch before retry: %w", err)
	}
	if _, err := m.git(ctx, dir, "push", "-u", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// defaultBranch resolves origin's HEAD branch, falling back to main.
func (m *Manager) defaultBranch(ctx context.Context, dir string) (string, error) {
	out, err := m.git(ctx, dir, "symbolic-ref", "refs/remotes/origin/HEAD", "--short")
	if err != nil {
		// Older clones may lack the symbolic ref; re-derive it.
		if _, err := m.git(ctx, dir, "remote", "set-head", "origin", "--auto"); err != nil {
			return "main", nil
		}
		out, err = m.git(ctx, dir, "symbolic-ref", "refs/remotes/origin/HEAD", "--short")
		if err != nil {
			return "main", nil
		}
	}
	return strings.TrimPrefix(strings.TrimSpace(out), "origin/"), nil
}

// cloneURL embeds the URL-encoded access token for a single-use
// authenticated clone.
func (m *Manager) cloneURL(fullName string) string {
	return fmt.Sprintf("https://x-access-token:%s@%s/%s.git", url.QueryEscape(m.token), m.host, fullName)
}

// git runs one git command in dir, returning stdout. Stderr is
// captured and included in the error, with the access token redacted.
func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		return "", fmt.Errorf("git %s: %w (stderr: %s)", args[0], err, m.redact(detail))
	}
	return stdout.String(), nil
}

// redact strips the access token from diagnostics. git is chatty about
// remote URLs and the token must never reach logs or error frames.
func (m *Manager) redact(s string) string {
	if m.token == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(m.token), "***")
	return strings.ReplaceAll(s, m.token, "***")
}
