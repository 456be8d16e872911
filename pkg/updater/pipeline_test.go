package updater

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/integrations"
	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/scheduler"
	"github.com/matzehuels/nixupdate/pkg/store"
	"github.com/matzehuels/nixupdate/pkg/upstream"
)

func TestCheckUpdatesAndProposes(t *testing.T) {
	f := newFixture(t, "hello")
	ctx := context.Background()

	out, err := f.pipeline.Check(ctx, pkg("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if out != (Updated{Old: "1.0.0", New: "1.1.0"}) {
		t.Fatalf("Check() = %#v", out)
	}

	committed := readFile(t, recipePath(f.ws.lastCommit(), "hello"))
	if !strings.Contains(committed, `version = "1.1.0";`) || !strings.Contains(committed, newHash) {
		t.Errorf("committed recipe:\n%s", committed)
	}
	if main := readFile(t, recipePath(f.repo, "hello")); !strings.Contains(main, `version = "1.0.0";`) {
		t.Error("main checkout was modified")
	}

	if len(f.ws.created) != 1 || len(f.ws.destroyed) != 1 {
		t.Errorf("created %d, destroyed %d worktrees", len(f.ws.created), len(f.ws.destroyed))
	}
	if want := []string{"fork/update/hello-1.1.0"}; !equal(f.ws.pushed, want) {
		t.Errorf("pushed = %v, want %v", f.ws.pushed, want)
	}

	if len(f.publisher.opened) != 1 {
		t.Fatalf("opened %d pull requests", len(f.publisher.opened))
	}
	pr := f.publisher.opened[0]
	if pr.owner != "NixOS" || pr.repo != "nixpkgs" {
		t.Errorf("pull request opened on %s/%s", pr.owner, pr.repo)
	}
	if pr.pr.Head != "bot:update/hello-1.1.0" || pr.pr.Base != "master" {
		t.Errorf("head %q base %q", pr.pr.Head, pr.pr.Base)
	}
	if pr.pr.Title != "Update hello from 1.0.0 to 1.1.0" {
		t.Errorf("title = %q", pr.pr.Title)
	}
	if !strings.Contains(pr.pr.Body, "**Description:** The hello tool") {
		t.Errorf("body lacks description:\n%s", pr.pr.Body)
	}

	rec, err := f.store.GetRecord(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if rec.CurrentVersion != "1.1.0" || rec.ProposedVersion != "1.1.0" || rec.PRNumber != 1 {
		t.Errorf("record = %+v", rec)
	}
	if rec.PRURL != "https://github.com/NixOS/nixpkgs/pull/1" {
		t.Errorf("PR URL = %q", rec.PRURL)
	}
}

func TestCheckOutcomes(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(f *fixture)
		want        Outcome
		wantLatest  string // recorded latest version, "" for no record
		wantCreated int
	}{
		{
			name: "metadata missing",
			setup: func(f *fixture) {
				f.eval.answers = map[string]string{}
			},
			want: Skipped{Reason: ReasonNoMetadata},
		},
		{
			name: "unstable version",
			setup: func(f *fixture) {
				f.pipeline.SkipUnstable = true
				f.eval.add("hello", nix.PackageMetadata{Version: "0-unstable-2024-01-01"})
			},
			want: Skipped{Reason: ReasonUnstable},
		},
		{
			name: "unsupported source",
			setup: func(f *fixture) {
				f.eval.add("hello", nix.PackageMetadata{Version: "1.0.0", SrcURL: "https://example.org/hello.tar.gz"})
			},
			want: Skipped{Reason: "Unsupported source"},
		},
		{
			name: "nothing newer",
			setup: func(f *fixture) {
				f.resolver.releases = map[string]string{}
			},
			want:       NoUpdateNeeded{Current: "1.0.0", Latest: "1.0.0"},
			wantLatest: "1.0.0",
		},
		{
			name: "latest equals current",
			setup: func(f *fixture) {
				f.resolver.releases["GitHub repo: example/hello"] = "v1.0.0"
			},
			want:       NoUpdateNeeded{Current: "1.0.0", Latest: "1.0.0"},
			wantLatest: "1.0.0",
		},
		{
			name: "upstream unreachable",
			setup: func(f *fixture) {
				f.resolver.errs["GitHub repo: example/hello"] = nixerrors.Wrap(nixerrors.ErrCodeNetwork, integrations.ErrNetwork, "list releases")
			},
			want:       Skipped{Reason: ReasonNoUpstream},
			wantLatest: unknownVersion,
		},
		{
			name: "already proposed",
			setup: func(f *fixture) {
				_ = f.store.UpsertRecord(context.Background(), &store.Record{AttrPath: "hello", ProposedVersion: "1.1.0"})
			},
			want:       Skipped{Reason: ReasonAlreadyProposed},
			wantLatest: "1.1.0",
		},
		{
			name: "dry run",
			setup: func(f *fixture) {
				f.pipeline.DryRun = true
			},
			want: DryRun{Current: "1.0.0", New: "1.1.0"},
		},
		{
			name: "worktree creation fails",
			setup: func(f *fixture) {
				f.ws.createErr = errors.New("disk full")
			},
			want: Skipped{Reason: ReasonWorktree + ": disk full"},
		},
		{
			name: "no position",
			setup: func(f *fixture) {
				f.eval.answers = map[string]string{}
				f.eval.add("hello", nix.PackageMetadata{Version: "1.0.0", SrcURL: "https://github.com/example/hello"})
			},
			want:        Skipped{Reason: ReasonNoFile},
			wantCreated: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, "hello")
			tt.setup(f)
			ctx := context.Background()

			out, err := f.pipeline.Check(ctx, pkg("hello"))
			if err != nil {
				t.Fatal(err)
			}
			if out != tt.want {
				t.Fatalf("Check() = %#v, want %#v", out, tt.want)
			}
			if len(f.ws.created) != tt.wantCreated || len(f.ws.destroyed) != tt.wantCreated {
				t.Errorf("created %d, destroyed %d worktrees, want %d", len(f.ws.created), len(f.ws.destroyed), tt.wantCreated)
			}
			if len(f.publisher.opened) != 0 {
				t.Error("pull request opened")
			}

			rec, err := f.store.GetRecord(ctx, "hello")
			if tt.wantLatest == "" {
				if rec != nil && rec.NextAttempt != nil {
					t.Errorf("unexpected backoff: %+v", rec)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if rec.LatestVersion != tt.wantLatest || rec.NextAttempt == nil {
				t.Errorf("record = %+v, want latest %q with a next attempt", rec, tt.wantLatest)
			}
		})
	}
}

func TestCheckRecordsFailure(t *testing.T) {
	f := newFixture(t, "hello")
	f.builder.broken["hello"] = true
	ctx := scheduler.WithRunID(context.Background(), "run-1")

	out, err := f.pipeline.Check(ctx, pkg("hello"))
	if !nixerrors.Is(err, nixerrors.ErrCodeBuildFailed) {
		t.Fatalf("Check() = %v, %v; want BUILD_FAILED", out, err)
	}
	if len(f.ws.destroyed) != 1 {
		t.Error("worktree not destroyed after failure")
	}
	if len(f.ws.pushed) != 0 || len(f.publisher.opened) != 0 {
		t.Error("failed update was published")
	}

	logs, err := f.store.GetFailedLogsByAttr(ctx, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 1 {
		t.Fatalf("got %d failure logs", len(logs))
	}
	l := logs[0]
	if l.DrvPath != pkg("hello").DrvPath || l.OldVersion != "1.0.0" || l.NewVersion != "1.1.0" || l.RunID != "run-1" {
		t.Errorf("log = %+v", l)
	}
	if !strings.Contains(l.ErrorLog, "failed with exit code 2") {
		t.Errorf("error text not preserved: %q", l.ErrorLog)
	}
	if _, err := f.store.GetRecord(ctx, "hello"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("failure touched the backoff record: %v", err)
	}
}

func TestCheckWithoutPullRequests(t *testing.T) {
	f := newFixture(t, "hello")
	f.pipeline.PR = nil

	out, err := f.pipeline.Check(context.Background(), pkg("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.(Updated); !ok {
		t.Fatalf("Check() = %#v", out)
	}
	if want := []string{"update/hello-1.1.0"}; !equal(f.ws.branches, want) {
		t.Errorf("branches = %v, want %v", f.ws.branches, want)
	}
	if len(f.ws.pushed) != 0 {
		t.Errorf("pushed = %v", f.ws.pushed)
	}
}

func TestCheckPublishFailureStillUpdates(t *testing.T) {
	f := newFixture(t, "hello")
	f.publisher.err = errors.New("403 Forbidden")

	out, err := f.pipeline.Check(context.Background(), pkg("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.(Updated); !ok {
		t.Fatalf("Check() = %#v", out)
	}
	rec, err := f.store.GetRecord(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if rec.ProposedVersion != "" {
		t.Errorf("proposal recorded without a pull request: %+v", rec)
	}
}

func TestCheckWithoutScheduler(t *testing.T) {
	f := newFixture(t, "hello")
	f.pipeline.Scheduler = nil
	f.resolver.releases = map[string]string{}

	out, err := f.pipeline.Check(context.Background(), pkg("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := out.(NoUpdateNeeded); !ok {
		t.Errorf("Check() = %#v", out)
	}
}

func TestPolicyIsPassedThrough(t *testing.T) {
	f := newFixture(t, "hello")
	f.pipeline.Policy = upstream.PolicyPatch
	var got upstream.Policy
	f.pipeline.Resolver = resolverFunc(func(ctx context.Context, src upstream.Source, current string, policy upstream.Policy) (upstream.Release, error) {
		got = policy
		return upstream.Release{}, nixerrors.New(nixerrors.ErrCodeNoRelease, "none")
	})
	if _, err := f.pipeline.Check(context.Background(), pkg("hello")); err != nil {
		t.Fatal(err)
	}
	if got != upstream.PolicyPatch {
		t.Errorf("policy = %v", got)
	}
}

type resolverFunc func(ctx context.Context, src upstream.Source, current string, policy upstream.Policy) (upstream.Release, error)

func (f resolverFunc) Resolve(ctx context.Context, src upstream.Source, current string, policy upstream.Policy) (upstream.Release, error) {
	return f(ctx, src, current, policy)
}

func TestWorktreeFileAndEntry(t *testing.T) {
	p := &Pipeline{RepoDir: "/src/nixpkgs", Entry: "/src/nixpkgs/default.nix"}

	tests := []struct {
		position string
		want     string
		ok       bool
	}{
		{"/src/nixpkgs/pkgs/hello/default.nix", "/wt/pkgs/hello/default.nix", true},
		{"/src/other/default.nix", "", false},
		{"/src/nixpkgs-fork/x.nix", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := p.worktreeFile("/wt", tt.position)
		if got != filepath.FromSlash(tt.want) || ok != tt.ok {
			t.Errorf("worktreeFile(%q) = %q, %v", tt.position, got, ok)
		}
	}

	if got := p.entryIn("/wt"); got != "/wt/default.nix" {
		t.Errorf("entryIn() = %q", got)
	}
	if got := p.entryIn("/src/nixpkgs"); got != "/src/nixpkgs/default.nix" {
		t.Errorf("entryIn(repo) = %q", got)
	}
	p.Entry = "."
	if got := p.entryIn("/wt"); got != "." {
		t.Errorf("entryIn() of relative entry = %q", got)
	}
}

func TestOutcomeLabels(t *testing.T) {
	tests := []struct {
		out  Outcome
		want string
	}{
		{Updated{"1", "2"}, "updated"},
		{NoUpdateNeeded{"1", "1"}, "no_update"},
		{Skipped{"x"}, "skipped"},
		{DryRun{"1", "2"}, "dry_run"},
	}
	for _, tt := range tests {
		if got := tt.out.Label(); got != tt.want {
			t.Errorf("%T.Label() = %q, want %q", tt.out, got, tt.want)
		}
	}
	if got := (DryRun{"1.0", "1.1"}).String(); got != "would update 1.0 -> 1.1" {
		t.Errorf("String() = %q", got)
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
