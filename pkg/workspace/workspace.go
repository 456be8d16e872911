// Package workspace manages the git worktrees updates are made in.
//
// Every update gets a fresh worktree of HEAD under the cache directory so
// concurrent pipelines never share a checkout, and the user's own checkout
// is never touched. Worktrees are detached; branches are only created when
// a change is pushed.
package workspace

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/integrations/github"
)

// DefaultBase is the pull request base when the remote has no HEAD.
const DefaultBase = "master"

// Manager creates and publishes worktrees of one repository.
type Manager struct {
	RepoDir  string
	CacheDir string
	GitBin   string // defaults to "git"
	Logger   *log.Logger
}

// New returns a Manager for the repository at repoDir keeping worktrees
// under cacheDir/worktrees.
func New(repoDir, cacheDir string, logger *log.Logger) *Manager {
	return &Manager{RepoDir: repoDir, CacheDir: cacheDir, Logger: logger}
}

func (m *Manager) logger() *log.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return log.Default()
}

// WorktreeName maps an attribute path or group key to a directory name.
// The readable part folds "." and "/" to "-" and drops quotes, so a short
// hash of the key keeps keys like "a.b-c" and "a-b.c" apart.
func WorktreeName(key string) string {
	sum := sha256.Sum256([]byte(key))
	readable := strings.NewReplacer(".", "-", "/", "-", `"`, "").Replace(key)
	return "update-" + readable + "-" + hex.EncodeToString(sum[:4])
}

// GroupKey is the worktree key of a batch group. Attribute paths never
// contain "/", so group worktrees cannot collide with package worktrees.
func GroupKey(group string) string { return "group/" + group }

// Path returns where the worktree for key lives.
func (m *Manager) Path(key string) string {
	return filepath.Join(m.CacheDir, "worktrees", WorktreeName(key))
}

// Create checks out HEAD into a fresh worktree for key, replacing a stale
// one left by an earlier run.
func (m *Manager) Create(ctx context.Context, key string) (string, error) {
	path := m.Path(key)
	if _, err := os.Stat(path); err == nil {
		m.logger().Debug("removing stale worktree", "key", key, "path", path)
		if err := m.Destroy(ctx, path); err != nil {
			return "", nixerrors.Wrap(nixerrors.ErrCodeWorkspace, err, "remove stale worktree %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", nixerrors.Wrap(nixerrors.ErrCodeWorkspace, err, "create worktree directory")
	}
	// A worktree deleted by hand stays registered until pruned.
	_, _ = m.git(ctx, m.RepoDir, "worktree", "prune")

	if _, err := m.git(ctx, m.RepoDir, "worktree", "add", "--detach", path, "HEAD"); err != nil {
		return "", nixerrors.Wrap(nixerrors.ErrCodeWorkspace, err, "failed to create worktree for %s", key)
	}
	m.logger().Debug("created worktree", "key", key, "path", path)
	return path, nil
}

// Destroy removes the worktree at path. A missing path is not an error.
func (m *Manager) Destroy(ctx context.Context, path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if _, err := m.git(ctx, m.RepoDir, "worktree", "remove", "--force", path); err != nil {
		m.logger().Warn("git worktree remove failed, deleting directory", "path", path, "err", err)
		if err := os.RemoveAll(path); err != nil {
			return nixerrors.Wrap(nixerrors.ErrCodeWorkspace, err, "remove worktree %s", path)
		}
	}
	return nil
}

// CommitAll stages every change in dir and commits it. It reports false
// without committing when the tree is clean.
func (m *Manager) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	if _, err := m.git(ctx, dir, "add", "-A"); err != nil {
		return false, err
	}
	status, err := m.git(ctx, dir, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(status) == "" {
		return false, nil
	}
	if _, err := m.git(ctx, dir, "commit", "-m", message); err != nil {
		return false, err
	}
	return true, nil
}

// CommitMessage is the commit subject for one package update.
func CommitMessage(attr, from, to string) string {
	return fmt.Sprintf("%s: %s -> %s", attr, from, to)
}

// UpdateBranch is the branch name for one package update.
func UpdateBranch(attr, version string) string {
	return "update/" + attr + "-" + version
}

// GroupBranch is the branch name for a group update.
func GroupBranch(group string) string {
	return "update/" + group
}

// Reset discards every uncommitted change in dir.
func (m *Manager) Reset(ctx context.Context, dir string) error {
	if _, err := m.git(ctx, dir, "reset", "--hard", "HEAD"); err != nil {
		return err
	}
	_, err := m.git(ctx, dir, "clean", "-fd")
	return err
}

// CheckoutBranch points branch at the HEAD of dir and checks it out,
// replacing any branch of the same name.
func (m *Manager) CheckoutBranch(ctx context.Context, dir, branch string) error {
	_, err := m.git(ctx, dir, "checkout", "-B", branch)
	return err
}

// CommitBranch commits the update of attr in dir on a new branch and
// returns the branch name. Branches are shared with the main checkout, so
// the commit survives the worktree.
func (m *Manager) CommitBranch(ctx context.Context, dir, attr, from, to string) (string, error) {
	branch := UpdateBranch(attr, to)
	if err := m.CheckoutBranch(ctx, dir, branch); err != nil {
		return "", err
	}
	if _, err := m.CommitAll(ctx, dir, CommitMessage(attr, from, to)); err != nil {
		return "", err
	}
	return branch, nil
}

// CommitAndPushBranch commits the update of attr in dir on a new branch and
// pushes it to remote. It returns the branch name.
func (m *Manager) CommitAndPushBranch(ctx context.Context, dir, attr, from, to, remote string) (string, error) {
	branch, err := m.CommitBranch(ctx, dir, attr, from, to)
	if err != nil {
		return "", err
	}
	if err := m.push(ctx, dir, remote, branch); err != nil {
		return "", err
	}
	return branch, nil
}

// PushGroupBranch pushes the commits already made in dir as the branch for
// group.
func (m *Manager) PushGroupBranch(ctx context.Context, dir, group, remote string) (string, error) {
	branch := GroupBranch(group)
	if err := m.CheckoutBranch(ctx, dir, branch); err != nil {
		return "", err
	}
	if err := m.push(ctx, dir, remote, branch); err != nil {
		return "", err
	}
	return branch, nil
}

func (m *Manager) push(ctx context.Context, dir, remote, branch string) error {
	if _, err := m.git(ctx, dir, "push", "-u", remote, branch+":"+branch); err != nil {
		return fmt.Errorf("failed to push branch '%s': %w", branch, err)
	}
	m.logger().Debug("pushed branch", "branch", branch, "remote", remote)
	return nil
}

// Target identifies where pull requests go.
type Target struct {
	Owner string
	Repo  string
	Base  string
}

// DetectTarget resolves remote to a GitHub repository and its default
// branch. The branch falls back to [DefaultBase] when the remote HEAD is
// unknown locally.
func (m *Manager) DetectTarget(ctx context.Context, remote string) (Target, error) {
	url, err := m.git(ctx, m.RepoDir, "remote", "get-url", remote)
	if err != nil {
		return Target{}, err
	}
	url = strings.TrimSpace(url)
	owner, repo, ok := github.ParseRepoURL(url)
	if !ok {
		return Target{}, nixerrors.New(nixerrors.ErrCodeUnsupportedSource,
			"remote %s (%s) is not a GitHub repository", remote, url)
	}

	base := DefaultBase
	if ref, err := m.git(ctx, m.RepoDir, "symbolic-ref", "--short", "refs/remotes/"+remote+"/HEAD"); err == nil {
		if b := strings.TrimPrefix(strings.TrimSpace(ref), remote+"/"); b != "" {
			base = b
		}
	}
	return Target{Owner: owner, Repo: repo, Base: base}, nil
}

// git runs git in dir and returns stdout. Failures carry stderr.
func (m *Manager) git(ctx context.Context, dir string, args ...string) (string, error) {
	bin := m.GitBin
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", nixerrors.Wrap(nixerrors.ErrCodeWorkspace, err,
			"git %s: %s", args[0], strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}
