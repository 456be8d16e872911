package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/groups"
	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/observability"
	"github.com/matzehuels/nixupdate/pkg/scheduler"
	"github.com/matzehuels/nixupdate/pkg/updater"
)

// fakeSource replays items, then err.
type fakeSource struct {
	items []nix.Item
	err   error
}

func (f *fakeSource) EvalJobs(ctx context.Context, file string) (<-chan nix.Item, <-chan error) {
	items := make(chan nix.Item)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(items)
		for _, it := range f.items {
			items <- it
		}
		if f.err != nil {
			errc <- f.err
		}
	}()
	return items, errc
}

func drv(attr, system string) nix.Item {
	return nix.Item{Drv: &nix.Drv{
		Attr:    attr,
		DrvPath: "/nix/store/abc-" + attr + ".drv",
		Name:    attr + "-1.0",
		System:  system,
	}}
}

// fakeEligibility refuses the attrs in backoff and fails for broken.
type fakeEligibility struct {
	backoff map[string]bool
	broken  map[string]bool
}

func (f *fakeEligibility) ShouldCheck(ctx context.Context, attr string) (bool, error) {
	if f.broken[attr] {
		return false, nixerrors.New(nixerrors.ErrCodeStore, "database is locked")
	}
	return !f.backoff[attr], nil
}

// fakeChecker records concurrency and answers per attr.
type fakeChecker struct {
	delay    time.Duration
	outcomes map[string]updater.Outcome
	errs     map[string]error
	panics   map[string]bool

	active    atomic.Int32
	maxActive atomic.Int32

	mu      sync.Mutex
	checked []string
	runIDs  map[string]bool
	groups  map[string][]string
	groupFn func(group string, members []updater.Package) (*updater.GroupResult, error)
}

func (f *fakeChecker) Check(ctx context.Context, pkg updater.Package) (updater.Outcome, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	f.mu.Lock()
	f.checked = append(f.checked, pkg.Attr)
	if f.runIDs == nil {
		f.runIDs = map[string]bool{}
	}
	f.runIDs[scheduler.RunID(ctx)] = true
	f.mu.Unlock()

	time.Sleep(f.delay)
	if f.panics[pkg.Attr] {
		panic("boom")
	}
	if err, ok := f.errs[pkg.Attr]; ok {
		return nil, err
	}
	if out, ok := f.outcomes[pkg.Attr]; ok {
		return out, nil
	}
	return updater.NoUpdateNeeded{Current: "1.0", Latest: "1.0"}, nil
}

func (f *fakeChecker) CheckGroup(ctx context.Context, group string, members []updater.Package) (*updater.GroupResult, error) {
	f.mu.Lock()
	if f.groups == nil {
		f.groups = map[string][]string{}
	}
	for _, m := range members {
		f.groups[group] = append(f.groups[group], m.Attr)
	}
	f.mu.Unlock()
	if f.groupFn != nil {
		return f.groupFn(group, members)
	}
	res := &updater.GroupResult{Group: group}
	for _, m := range members {
		res.Updated = append(res.Updated, updater.Change{Attr: m.Attr, Old: "1.0", New: "1.1"})
	}
	return res, nil
}

func TestRunBoundsConcurrency(t *testing.T) {
	var items []nix.Item
	for i := range 10 {
		items = append(items, drv(fmt.Sprintf("pkg%d", i), "x86_64-linux"))
	}
	elig := &fakeEligibility{backoff: map[string]bool{"pkg3": true, "pkg7": true}}
	checker := &fakeChecker{delay: 20 * time.Millisecond}

	o := New(Config{Concurrency: 3}, &fakeSource{items: items}, elig, checker)
	s, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if got := checker.maxActive.Load(); got > 3 {
		t.Errorf("max active = %d, want <= 3", got)
	}
	if s.Total != 10 || s.Checked != 8 || s.Skipped != 2 {
		t.Errorf("total %d checked %d skipped %d", s.Total, s.Checked, s.Skipped)
	}
	if len(checker.checked) != s.Checked {
		t.Errorf("pipelines run = %d, checked = %d", len(checker.checked), s.Checked)
	}
	if s.Updated != 0 || s.Failed != 0 {
		t.Errorf("updated %d failed %d", s.Updated, s.Failed)
	}
	if len(checker.runIDs) != 1 || !checker.runIDs[s.RunID] {
		t.Errorf("run IDs seen = %v, want only %s", checker.runIDs, s.RunID)
	}
}

func TestRunTallies(t *testing.T) {
	items := []nix.Item{
		drv("up", "x86_64-linux"),
		drv("dry", "x86_64-linux"),
		drv("skip", "aarch64-linux"),
		drv("fail", "x86_64-linux"),
		drv("boom", "x86_64-linux"),
		drv("dberr", "aarch64-linux"),
		{Error: &nix.EvalError{Attr: "bad", Error: "infinite recursion"}},
	}
	elig := &fakeEligibility{broken: map[string]bool{"dberr": true}}
	checker := &fakeChecker{
		outcomes: map[string]updater.Outcome{
			"up":   updater.Updated{Old: "1", New: "2"},
			"dry":  updater.DryRun{Current: "1", New: "2"},
			"skip": updater.Skipped{Reason: "Unsupported source"},
		},
		errs:   map[string]error{"fail": nixerrors.New(nixerrors.ErrCodeBuildFailed, "build failed")},
		panics: map[string]bool{"boom": true},
	}

	var results []Result
	o := New(Config{
		Concurrency: 2,
		OnResult:    func(r Result) { results = append(results, r) },
	}, &fakeSource{items: items}, elig, checker)
	s, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	want := Summary{Total: 6, EvalErrors: 1, Checked: 6, Updated: 2, Failed: 1, Panicked: 1}
	if s.Total != want.Total || s.EvalErrors != want.EvalErrors || s.Checked != want.Checked ||
		s.Updated != want.Updated || s.Failed != want.Failed || s.Panicked != want.Panicked {
		t.Errorf("summary = %+v", s)
	}
	if s.BySystem["x86_64-linux"] != 4 || s.BySystem["aarch64-linux"] != 2 {
		t.Errorf("by system = %v", s.BySystem)
	}
	if len(results) != 6 {
		t.Errorf("OnResult called %d times", len(results))
	}
	for _, r := range results {
		if r.Package.Attr == "boom" && (!r.Panicked || r.Label() != observability.OutcomePanicked) {
			t.Errorf("boom result = %+v", r)
		}
	}
}

func TestRunGroups(t *testing.T) {
	idx, err := groups.Parse([]byte(`{"kde": ["kate", "dolphin"], "empty": ["nothere"]}`))
	if err != nil {
		t.Fatal(err)
	}
	items := []nix.Item{drv("kate", "x86_64-linux"), drv("hello", "x86_64-linux"), drv("dolphin", "x86_64-linux")}
	checker := &fakeChecker{outcomes: map[string]updater.Outcome{"hello": updater.Updated{Old: "1", New: "2"}}}

	o := New(Config{Concurrency: 4, Groups: idx}, &fakeSource{items: items}, &fakeEligibility{}, checker)
	s, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(checker.checked) != 1 || checker.checked[0] != "hello" {
		t.Errorf("individually checked = %v", checker.checked)
	}
	if got := checker.groups["kde"]; len(got) != 2 || got[0] != "kate" || got[1] != "dolphin" {
		t.Errorf("kde members = %v", got)
	}
	if _, ok := checker.groups["empty"]; ok {
		t.Error("group without discovered members was processed")
	}
	if s.Checked != 3 || s.Updated != 3 {
		t.Errorf("checked %d updated %d", s.Checked, s.Updated)
	}
	if len(s.Groups) != 1 || s.Groups[0].Result.Group != "kde" {
		t.Errorf("groups = %+v", s.Groups)
	}
}

func TestRunGroupFailureCounts(t *testing.T) {
	idx, err := groups.Parse([]byte(`{"a": ["x"], "b": ["y"]}`))
	if err != nil {
		t.Fatal(err)
	}
	checker := &fakeChecker{groupFn: func(group string, members []updater.Package) (*updater.GroupResult, error) {
		if group == "a" {
			return nil, errors.New("worktree creation failed")
		}
		return &updater.GroupResult{Group: group, Updated: []updater.Change{{Attr: "y", Old: "1", New: "2"}}}, nil
	}}

	items := []nix.Item{drv("x", "x86_64-linux"), drv("y", "x86_64-linux")}
	o := New(Config{Groups: idx}, &fakeSource{items: items}, &fakeEligibility{}, checker)
	s, err := o.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.Failed != 1 || s.Updated != 1 {
		t.Errorf("failed %d updated %d", s.Failed, s.Updated)
	}
	if s.Groups[0].Err == nil || s.Groups[0].Result.Group != "a" {
		t.Errorf("group a = %+v", s.Groups[0])
	}
}

func TestRunEvaluationFailure(t *testing.T) {
	src := &fakeSource{
		items: []nix.Item{drv("a", "x86_64-linux")},
		err:   nixerrors.New(nixerrors.ErrCodeEval, "nix-eval-jobs failed"),
	}
	idx, _ := groups.Parse([]byte(`{"g": ["b"]}`))
	src.items = append(src.items, drv("b", "x86_64-linux"))
	checker := &fakeChecker{}

	o := New(Config{Groups: idx}, src, &fakeEligibility{}, checker)
	s, err := o.Run(context.Background())
	if !nixerrors.Is(err, nixerrors.ErrCodeEval) {
		t.Fatalf("Run() error = %v", err)
	}
	if s == nil || s.Checked != 2 || len(checker.checked) != 1 {
		t.Errorf("summary = %+v, checked = %v", s, checker.checked)
	}
	if len(checker.groups) != 0 {
		t.Error("groups processed after a failed evaluation")
	}
}

type recordingHooks struct {
	observability.NoopUpdateHooks
	mu        sync.Mutex
	outcomes  map[string]string
	maxActive int
	groups    []string
}

func (h *recordingHooks) OnCheckComplete(_ context.Context, attr, outcome string, _ time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes[attr] = outcome
}

func (h *recordingHooks) OnPoolActive(_ context.Context, active int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.maxActive = max(h.maxActive, active)
}

func (h *recordingHooks) OnGroupComplete(_ context.Context, group string, _, _ int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.groups = append(h.groups, group)
}

func TestRunEmitsHooks(t *testing.T) {
	hooks := &recordingHooks{outcomes: map[string]string{}}
	observability.SetUpdateHooks(hooks)
	t.Cleanup(observability.Reset)

	idx, _ := groups.Parse([]byte(`{"g": ["c"]}`))
	items := []nix.Item{drv("a", "x86_64-linux"), drv("b", "x86_64-linux"), drv("c", "x86_64-linux")}
	checker := &fakeChecker{
		delay:    5 * time.Millisecond,
		outcomes: map[string]updater.Outcome{"a": updater.Updated{Old: "1", New: "2"}},
		errs:     map[string]error{"b": errors.New("boom")},
	}

	o := New(Config{Concurrency: 2, Groups: idx}, &fakeSource{items: items}, &fakeEligibility{}, checker)
	if _, err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if hooks.outcomes["a"] != observability.OutcomeUpdated || hooks.outcomes["b"] != observability.OutcomeFailed {
		t.Errorf("outcomes = %v", hooks.outcomes)
	}
	if hooks.maxActive < 1 || hooks.maxActive > 2 {
		t.Errorf("max active = %d", hooks.maxActive)
	}
	if len(hooks.groups) != 1 || hooks.groups[0] != "g" {
		t.Errorf("groups = %v", hooks.groups)
	}
}

func TestDefaultConcurrency(t *testing.T) {
	if DefaultConcurrency() < 1 {
		t.Error("DefaultConcurrency() < 1")
	}
	o := New(Config{Concurrency: -5}, nil, nil, nil)
	if o.cfg.Concurrency != 1 {
		t.Errorf("concurrency = %d", o.cfg.Concurrency)
	}
}
