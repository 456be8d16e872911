package updater

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/integrations/github"
	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/scheduler"
	"github.com/matzehuels/nixupdate/pkg/store/memory"
	"github.com/matzehuels/nixupdate/pkg/upstream"
	"github.com/matzehuels/nixupdate/pkg/verify"
	"github.com/matzehuels/nixupdate/pkg/workspace"
)

const (
	oldHash = "sha256-0ld0ld0ld0ld0ld0ld0ld0ld0ld0ld0ld0ld0ld0ld0="
	newHash = "sha256-8GRdn5qy1G6ZVAnDXhvMp6JNDH9fIAO5gKoMlS/HjRI="
	entry   = "."
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func recipe(pname, version string) string {
	return fmt.Sprintf(`{ lib, stdenv, fetchFromGitHub }:

stdenv.mkDerivation rec {
  pname = "%s";
  version = "%s";

  src = fetchFromGitHub {
    owner = "example";
    repo = "%s";
    rev = "v${version}";
    hash = "%s";
  };
}
`, pname, version, pname, oldHash)
}

// recipePath is where the test repositories keep the package attr.
func recipePath(dir, attr string) string {
	return filepath.Join(dir, "pkgs", attr, "default.nix")
}

// =============================================================================
// Evaluator
// =============================================================================

// fakeEvaluator answers the exact expressions nix.LoadMetadata builds.
type fakeEvaluator struct {
	mu      sync.Mutex
	answers map[string]string
}

func (f *fakeEvaluator) Evaluate(ctx context.Context, expr string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.answers[expr]; ok {
		return v, nil
	}
	return "", nixerrors.New(nixerrors.ErrCodeEval, "attribute missing")
}

func (f *fakeEvaluator) add(attr string, m nix.PackageMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.answers == nil {
		f.answers = map[string]string{}
	}
	q := nix.Query{Entry: nix.NormalizeEntryPoint(entry), Attr: attr}
	set := func(expr, v string) {
		if v != "" {
			f.answers[expr] = v
		}
	}
	set(q.VersionExpr(), m.Version)
	set(q.SrcURLExpr(), m.SrcURL)
	set(q.AttrExpr("src.outputHash"), m.OutputHash)
	set(q.AttrExpr("pname"), m.PName)
	set(q.AttrExpr("meta.description"), m.Description)
	set(q.AttrExpr("meta.homepage"), m.Homepage)
	if m.Position != "" {
		set(q.AttrExpr("meta.position"), m.Position+":3")
	}
}

// =============================================================================
// Builder
// =============================================================================

// fakeBuilder fails every build while the recipe holds the sentinel hash,
// reporting newHash like a fixed-output mismatch would.
type fakeBuilder struct {
	mu     sync.Mutex
	broken map[string]bool
	builds []string
}

func (f *fakeBuilder) Build(ctx context.Context, dir, entry, attr, suffix string) (nix.BuildResult, error) {
	f.mu.Lock()
	f.builds = append(f.builds, strings.TrimSuffix(attr+"."+suffix, "."))
	broken := f.broken[attr]
	f.mu.Unlock()

	data, err := os.ReadFile(recipePath(dir, attr))
	if err != nil {
		return nix.BuildResult{}, err
	}
	if strings.Contains(string(data), verify.Sentinel) {
		return nix.BuildResult{Stderr: "error: hash mismatch in fixed-output derivation\n  specified: " +
			verify.Sentinel + "\n     got:    " + newHash + "\n"}, nil
	}
	if suffix == "" && broken {
		return nix.BuildResult{Stderr: "error: builder for '/nix/store/x-" + attr + ".drv' failed with exit code 2"}, nil
	}
	return nix.BuildResult{Success: true}, nil
}

// =============================================================================
// Resolver
// =============================================================================

// fakeResolver answers by upstream.Source.String(). Unknown sources have no
// acceptable release.
type fakeResolver struct {
	releases map[string]string
	errs     map[string]error
}

func (f *fakeResolver) Resolve(ctx context.Context, src upstream.Source, current string, policy upstream.Policy) (upstream.Release, error) {
	if err, ok := f.errs[src.String()]; ok {
		return upstream.Release{}, err
	}
	if tag, ok := f.releases[src.String()]; ok {
		return upstream.Release{Tag: tag}, nil
	}
	return upstream.Release{}, nixerrors.New(nixerrors.ErrCodeNoRelease, "no release newer than %s", current)
}

// =============================================================================
// Workspace
// =============================================================================

// fakeWorkspace copies the repository instead of adding git worktrees.
// Every commit snapshots the worktree, and Reset restores the last one.
type fakeWorkspace struct {
	repo string
	root string

	createErr error

	mu        sync.Mutex
	created   []string
	destroyed []string
	commits   []string
	branches  []string
	pushed    []string
	resets    int
	snapshots map[string]string
	seq       int
}

func newFakeWorkspace(t *testing.T, repo string) *fakeWorkspace {
	return &fakeWorkspace{repo: repo, root: t.TempDir(), snapshots: map[string]string{}}
}

func (w *fakeWorkspace) Create(ctx context.Context, key string) (string, error) {
	if w.createErr != nil {
		return "", w.createErr
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	dir := filepath.Join(w.root, workspace.WorktreeName(key))
	if err := os.CopyFS(dir, os.DirFS(w.repo)); err != nil {
		return "", err
	}
	w.created = append(w.created, dir)
	w.snapshots[dir] = w.repo
	return dir, nil
}

func (w *fakeWorkspace) Destroy(ctx context.Context, path string) error {
	w.mu.Lock()
	w.destroyed = append(w.destroyed, path)
	w.mu.Unlock()
	return os.RemoveAll(path)
}

func (w *fakeWorkspace) Reset(ctx context.Context, dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resets++
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.CopyFS(dir, os.DirFS(w.snapshots[dir]))
}

func (w *fakeWorkspace) CommitAll(ctx context.Context, dir, message string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	snap := filepath.Join(w.root, fmt.Sprintf("commit-%d", w.seq))
	if err := os.CopyFS(snap, os.DirFS(dir)); err != nil {
		return false, err
	}
	w.snapshots[dir] = snap
	w.commits = append(w.commits, message)
	return true, nil
}

// lastCommit returns the tree of the newest commit.
func (w *fakeWorkspace) lastCommit() string {
	return filepath.Join(w.root, fmt.Sprintf("commit-%d", w.seq))
}

func (w *fakeWorkspace) CommitBranch(ctx context.Context, dir, attr, from, to string) (string, error) {
	branch := workspace.UpdateBranch(attr, to)
	if err := w.CheckoutBranch(ctx, dir, branch); err != nil {
		return "", err
	}
	_, err := w.CommitAll(ctx, dir, workspace.CommitMessage(attr, from, to))
	return branch, err
}

func (w *fakeWorkspace) CommitAndPushBranch(ctx context.Context, dir, attr, from, to, remote string) (string, error) {
	branch, err := w.CommitBranch(ctx, dir, attr, from, to)
	if err != nil {
		return "", err
	}
	w.mu.Lock()
	w.pushed = append(w.pushed, remote+"/"+branch)
	w.mu.Unlock()
	return branch, nil
}

func (w *fakeWorkspace) CheckoutBranch(ctx context.Context, dir, branch string) error {
	w.mu.Lock()
	w.branches = append(w.branches, branch)
	w.mu.Unlock()
	return nil
}

func (w *fakeWorkspace) PushGroupBranch(ctx context.Context, dir, group, remote string) (string, error) {
	branch := workspace.GroupBranch(group)
	if err := w.CheckoutBranch(ctx, dir, branch); err != nil {
		return "", err
	}
	w.mu.Lock()
	w.pushed = append(w.pushed, remote+"/"+branch)
	w.mu.Unlock()
	return branch, nil
}

// =============================================================================
// Publisher
// =============================================================================

type openedPR struct {
	owner, repo string
	pr          github.PullRequest
}

type fakePublisher struct {
	mu     sync.Mutex
	opened []openedPR
	err    error
}

func (f *fakePublisher) CreatePullRequest(ctx context.Context, owner, repo string, pr github.PullRequest) (*github.CreatedPullRequest, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, openedPR{owner, repo, pr})
	n := len(f.opened)
	return &github.CreatedPullRequest{
		URL:    fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, n),
		Number: n,
	}, nil
}

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	repo      string
	eval      *fakeEvaluator
	builder   *fakeBuilder
	resolver  *fakeResolver
	ws        *fakeWorkspace
	publisher *fakePublisher
	store     *memory.Store
	pipeline  *Pipeline
}

// newFixture creates a repository holding one GitHub package per attr at
// version 1.0.0, and a pipeline over it that opens pull requests from the
// "bot" fork.
func newFixture(t *testing.T, attrs ...string) *fixture {
	t.Helper()
	repo := t.TempDir()
	f := &fixture{
		repo:      repo,
		eval:      &fakeEvaluator{},
		builder:   &fakeBuilder{broken: map[string]bool{}},
		resolver:  &fakeResolver{releases: map[string]string{}, errs: map[string]error{}},
		publisher: &fakePublisher{},
		store:     memory.New(),
	}
	for _, attr := range attrs {
		f.addPackage(t, attr)
	}
	f.ws = newFakeWorkspace(t, repo)

	sched := scheduler.New(f.store, nil)
	sched.Now = func() time.Time { return now }

	f.pipeline = &Pipeline{
		Entry:     entry,
		RepoDir:   repo,
		Evaluator: f.eval,
		Builder:   f.builder,
		Resolver:  f.resolver,
		Scheduler: sched,
		Workspace: f.ws,
		PR: &PRConfig{
			Target:    workspace.Target{Owner: "NixOS", Repo: "nixpkgs", Base: "master"},
			Remote:    "fork",
			HeadOwner: "bot",
			Publisher: f.publisher,
		},
		Policy: upstream.PolicyLatest,
	}
	return f
}

func (f *fixture) addPackage(t *testing.T, attr string) {
	t.Helper()
	path := recipePath(f.repo, attr)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(recipe(attr, "1.0.0")), 0o644); err != nil {
		t.Fatal(err)
	}
	f.eval.add(attr, nix.PackageMetadata{
		Version:     "1.0.0",
		SrcURL:      "https://github.com/example/" + attr + "/archive/v1.0.0.tar.gz",
		OutputHash:  oldHash,
		PName:       attr,
		Position:    path,
		Description: "The " + attr + " tool",
	})
	f.resolver.releases[upstream.GitHub{Owner: "example", Repo: attr}.String()] = "v1.1.0"
}

func pkg(attr string) Package {
	return Package{Attr: attr, DrvPath: "/nix/store/abc123-" + attr + "-1.0.0.drv", System: "x86_64-linux", Name: attr + "-1.0.0"}
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
