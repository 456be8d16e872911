// Package orchestrator runs the update pipeline over every package a
// repository evaluates to.
//
// Derivations are consumed from nix-eval-jobs as they are produced. Each
// one is filtered by the scheduler, diverted to its group if it has one,
// and otherwise dispatched to a bounded pool of concurrent pipelines. When
// the pool is full the orchestrator waits for one task to finish before
// admitting the next. Groups are processed one after another once the
// stream and the pool are drained.
//
// Results are collected on the orchestrator goroutine only, so the summary
// counters need no locking.
package orchestrator

import (
	"context"
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/nixupdate/pkg/groups"
	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/observability"
	"github.com/matzehuels/nixupdate/pkg/scheduler"
	"github.com/matzehuels/nixupdate/pkg/updater"
)

// Source streams the derivations of an evaluation. It is satisfied by
// [nix.Nix].
type Source interface {
	EvalJobs(ctx context.Context, file string) (<-chan nix.Item, <-chan error)
}

// Eligibility decides whether a package is due. It is satisfied by
// [scheduler.Scheduler].
type Eligibility interface {
	ShouldCheck(ctx context.Context, attr string) (bool, error)
}

// Checker runs the update pipeline. It is satisfied by [updater.Pipeline].
type Checker interface {
	Check(ctx context.Context, pkg updater.Package) (updater.Outcome, error)
	CheckGroup(ctx context.Context, group string, members []updater.Package) (*updater.GroupResult, error)
}

// Config configures a run.
type Config struct {
	// File is the expression nix-eval-jobs evaluates.
	File string
	// Concurrency bounds the number of pipelines running at once. Values
	// below 1 mean 1.
	Concurrency int
	// Groups may be nil.
	Groups *groups.Index
	// OnResult, when set, is called on the orchestrator goroutine after
	// each individual package finishes.
	OnResult func(Result)
	Logger   *log.Logger
}

// DefaultConcurrency is a quarter of the available CPUs, at least 1.
func DefaultConcurrency() int {
	return max(1, runtime.NumCPU()/4)
}

// Orchestrator drives one update run.
type Orchestrator struct {
	cfg     Config
	source  Source
	sched   Eligibility
	checker Checker
}

// New returns an orchestrator evaluating with source, filtering with sched
// and updating with checker.
func New(cfg Config, source Source, sched Eligibility, checker Checker) *Orchestrator {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Orchestrator{cfg: cfg, source: source, sched: sched, checker: checker}
}

// Result is the end of one individual package check. Exactly one of
// Outcome and Err is set unless the task panicked.
type Result struct {
	Package  updater.Package
	Outcome  updater.Outcome
	Err      error
	Panicked bool
	Duration time.Duration
}

// Label is the metrics label of the result.
func (r Result) Label() string {
	switch {
	case r.Panicked:
		return observability.OutcomePanicked
	case r.Err != nil:
		return observability.OutcomeFailed
	case r.Outcome == nil:
		return observability.OutcomeSkipped
	default:
		return r.Outcome.Label()
	}
}

// Summary aggregates a run.
type Summary struct {
	RunID string
	// Total counts derivations; EvalErrors counts attributes that failed
	// to evaluate.
	Total      int
	EvalErrors int
	// Checked counts packages that were due. Skipped counts packages in
	// backoff.
	Checked int
	Skipped int
	// Updated includes dry-run updates. Panicked tasks count as neither
	// updated nor failed.
	Updated  int
	Failed   int
	Panicked int
	BySystem map[string]int
	Groups   []GroupOutcome
	Duration time.Duration
}

// GroupOutcome is the end of one group batch. Err is set when the batch
// could not run at all; Result then holds whatever was done before.
type GroupOutcome struct {
	Result *updater.GroupResult
	Err    error
}

// Run evaluates the repository and updates every due package.
//
// Per-package failures never end the run. The error is only set when the
// evaluation itself fails; in-flight tasks are still drained first and the
// partial summary is returned with it.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	runID := uuid.NewString()
	ctx = scheduler.WithRunID(ctx, runID)
	logger := o.cfg.Logger.With("run", runID[:8])

	s := &Summary{RunID: runID, BySystem: map[string]int{}}
	grouped := map[string][]updater.Package{}
	results := make(chan Result)
	active := 0

	collect := func() {
		r := <-results
		active--
		observability.Update().OnPoolActive(ctx, active)
		o.tally(s, r, logger)
	}

	logger.Info("starting run", "file", o.cfg.File, "concurrency", o.cfg.Concurrency)
	items, errc := o.source.EvalJobs(ctx, o.cfg.File)
	for item := range items {
		if item.Error != nil {
			logger.Debug("evaluation error", "attr", item.Error.Attr, "err", item.Error.Error)
			s.EvalErrors++
			continue
		}
		drv := item.Drv
		s.Total++
		s.BySystem[drv.System]++

		due, err := o.sched.ShouldCheck(ctx, drv.Attr)
		if err != nil {
			logger.Warn("could not load schedule, checking anyway", "attr", drv.Attr, "err", err)
		} else if !due {
			s.Skipped++
			continue
		}
		s.Checked++

		pkg := updater.Package{Attr: drv.Attr, DrvPath: drv.DrvPath, System: drv.System, Name: drv.Name}
		if group, ok := o.cfg.Groups.GroupOf(drv.Attr); ok {
			logger.Debug("deferring to group", "attr", drv.Attr, "group", group)
			grouped[group] = append(grouped[group], pkg)
			continue
		}

		for active >= o.cfg.Concurrency {
			collect()
		}
		active++
		observability.Update().OnPoolActive(ctx, active)
		go o.check(ctx, pkg, results)
	}
	for active > 0 {
		collect()
	}

	if err := <-errc; err != nil {
		s.Duration = time.Since(start)
		return s, fmt.Errorf("evaluation failed: %w", err)
	}

	for _, name := range sortedGroups(grouped) {
		g := o.checkGroup(ctx, name, grouped[name], logger)
		s.Groups = append(s.Groups, g)
		s.Updated += len(g.Result.Updated)
		if g.Err != nil {
			s.Failed++
		}
	}

	s.Duration = time.Since(start)
	logger.Info("run complete",
		"total", s.Total,
		"checked", s.Checked,
		"skipped", s.Skipped,
		"updated", s.Updated,
		"failed", s.Failed,
		"duration", s.Duration.Round(time.Second))
	return s, nil
}

// check runs one pipeline and sends its result. A panic is reported as a
// result instead of crashing the run.
func (o *Orchestrator) check(ctx context.Context, pkg updater.Package, results chan<- Result) {
	start := time.Now()
	observability.Update().OnCheckStart(ctx, pkg.Attr)

	r := Result{Package: pkg}
	func() {
		defer func() {
			if v := recover(); v != nil {
				r.Panicked = true
				r.Err = fmt.Errorf("panic: %v\n%s", v, debug.Stack())
			}
		}()
		r.Outcome, r.Err = o.checker.Check(ctx, pkg)
	}()
	r.Duration = time.Since(start)

	observability.Update().OnCheckComplete(ctx, pkg.Attr, r.Label(), r.Duration)
	results <- r
}

func (o *Orchestrator) tally(s *Summary, r Result, logger *log.Logger) {
	l := logger.With("attr", r.Package.Attr)
	switch {
	case r.Panicked:
		s.Panicked++
		l.Error("task panicked", "err", r.Err)
	case r.Err != nil:
		s.Failed++
		l.Error("update failed", "err", r.Err)
	case r.Outcome == nil:
	default:
		switch r.Outcome.(type) {
		case updater.Updated, updater.DryRun:
			s.Updated++
			l.Info(r.Outcome.String())
		default:
			l.Debug(r.Outcome.String())
		}
	}
	if o.cfg.OnResult != nil {
		o.cfg.OnResult(r)
	}
}

func (o *Orchestrator) checkGroup(ctx context.Context, name string, members []updater.Package, logger *log.Logger) GroupOutcome {
	l := logger.With("group", name)
	l.Info("processing group", "packages", len(members))

	res, err := o.checker.CheckGroup(ctx, name, members)
	if res == nil {
		res = &updater.GroupResult{Group: name}
	}
	if err != nil {
		l.Warn("group failed", "err", err)
	}
	observability.Update().OnGroupComplete(ctx, name, len(res.Updated), len(res.Failed))
	return GroupOutcome{Result: res, Err: err}
}

func sortedGroups(m map[string][]updater.Package) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
