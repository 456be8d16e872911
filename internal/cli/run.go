package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/matzehuels/nixupdate/pkg/cache"
	"github.com/matzehuels/nixupdate/pkg/groups"
	"github.com/matzehuels/nixupdate/pkg/integrations/github"
	"github.com/matzehuels/nixupdate/pkg/integrations/gitlab"
	"github.com/matzehuels/nixupdate/pkg/integrations/pypi"
	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/observability"
	"github.com/matzehuels/nixupdate/pkg/orchestrator"
	"github.com/matzehuels/nixupdate/pkg/scheduler"
	"github.com/matzehuels/nixupdate/pkg/updater"
	"github.com/matzehuels/nixupdate/pkg/upstream"
	"github.com/matzehuels/nixupdate/pkg/workspace"
)

// runFlags maps run's flags to config keys.
var runFlags = map[string]string{
	"database":      "database",
	"upstream":      "upstream",
	"fork":          "fork",
	"concurrency":   "concurrency",
	"dry-run":       "dry_run",
	"skip-unstable": "skip_unstable",
	"groups":        "groups",
	"policy":        "policy",
	"metrics-addr":  "metrics_addr",
}

// runCommand creates the run command.
func (c *CLI) runCommand() *cobra.Command {
	var (
		file string
		noPR bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Check every package of the repository and propose updates",
		Long: `Evaluate the repository in the current directory with nix-eval-jobs and run
the update pipeline for every package that is due.

Each update is applied in its own git worktree, verified by building it,
pushed to the fork remote and proposed as a pull request against the
upstream remote. Without a GitHub token, or with --no-pr, verified updates
are committed to local update/* branches instead.`,
		Example: `  # Check everything, four packages at a time
  nixupdate run --concurrency 4

  # See what would be updated without building anything
  nixupdate run --dry-run --policy minor`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd, runFlags)
			if err != nil {
				return err
			}
			return c.run(cmd.Context(), cfg, file, noPR)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", ".", "Nix expression evaluated with nix-eval-jobs")
	f.String("database", "", "state database path (sqlite store)")
	f.String("upstream", "", "git remote pull requests are opened against (default: the fork remote)")
	f.String("fork", "origin", "git remote update branches are pushed to")
	f.Int("concurrency", 0, "packages checked in parallel (default: a quarter of the CPUs)")
	f.Bool("dry-run", false, "report available updates without building or publishing")
	f.Bool("skip-unstable", false, "skip packages whose version contains \"unstable\"")
	f.String("groups", "", "JSON file grouping packages into combined updates")
	f.String("policy", "latest", "accepted version change: latest, major, minor or patch")
	f.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.BoolVar(&noPR, "no-pr", false, "commit updates to local branches instead of opening pull requests")

	return cmd
}

func (c *CLI) run(ctx context.Context, cfg *Config, file string, noPR bool) error {
	policy, err := upstream.ParsePolicy(cfg.Policy)
	if err != nil {
		return err
	}
	ttl, err := cfg.CacheTTL()
	if err != nil {
		return err
	}
	repoDir, err := os.Getwd()
	if err != nil {
		return err
	}

	var idx *groups.Index
	if cfg.Groups != "" {
		if idx, err = groups.Load(cfg.Groups); err != nil {
			return err
		}
		c.Logger.Info("loaded groups", "groups", len(idx.Names()))
	}

	st, err := c.openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	backend, err := c.openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	if cfg.MetricsAddr != "" {
		stop, err := c.serveMetrics(cfg.MetricsAddr)
		if err != nil {
			return err
		}
		defer stop()
	}

	dir, err := cacheDir()
	if err != nil {
		return fmt.Errorf("get cache dir: %w", err)
	}

	c.warnMissingTokens(cfg)
	clients := newClients(backend, cfg, ttl)
	ws := workspace.New(repoDir, dir, c.Logger)

	var pr *updater.PRConfig
	if !noPR && !cfg.DryRun {
		if pr, err = c.prConfig(ctx, ws, clients.github, cfg); err != nil {
			return err
		}
	}

	n := nix.New(repoDir, c.Logger)
	sched := scheduler.New(st, c.Logger)
	pipeline := &updater.Pipeline{
		Entry:        file,
		RepoDir:      repoDir,
		Evaluator:    n,
		Builder:      n,
		Resolver:     clients.resolver(c),
		Scheduler:    sched,
		Workspace:    ws,
		PR:           pr,
		Policy:       policy,
		DryRun:       cfg.DryRun,
		SkipUnstable: cfg.SkipUnstable,
		Logger:       c.Logger,
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = orchestrator.DefaultConcurrency()
	}
	o := orchestrator.New(orchestrator.Config{
		File:        file,
		Concurrency: concurrency,
		Groups:      idx,
		Logger:      c.Logger,
	}, n, sched, pipeline)

	summary, err := o.Run(ctx)
	if summary != nil {
		printSummary(summary)
		if summary.Failed > 0 {
			printNextStep("Inspect failures", appName+" logs <attr> --interactive")
		}
	}
	return err
}

// clients holds the upstream API clients of one command.
type clients struct {
	github *github.Client
	gitlab *gitlab.Client
	pypi   *pypi.Client
}

func newClients(backend cache.Cache, cfg *Config, ttl time.Duration) clients {
	return clients{
		github: github.NewClient(backend, cfg.GitHubToken, ttl),
		gitlab: gitlab.NewClient(backend, cfg.GitLabToken, ttl),
		pypi:   pypi.NewClient(backend, ttl),
	}
}

func (cl clients) resolver(c *CLI) *upstream.Resolver {
	return &upstream.Resolver{
		GitHub: cl.github,
		GitLab: cl.gitlab,
		PyPI:   cl.pypi,
		Logger: c.Logger,
	}
}

// prConfig detects where pull requests go. It returns nil, so updates are
// only committed locally, when no GitHub token is configured.
func (c *CLI) prConfig(ctx context.Context, ws *workspace.Manager, gh *github.Client, cfg *Config) (*updater.PRConfig, error) {
	if cfg.GitHubToken == "" {
		c.Logger.Warn("no GitHub token, updates will be committed to local branches only")
		return nil, nil
	}

	upstreamRemote := cfg.Upstream
	if upstreamRemote == "" {
		upstreamRemote = cfg.Fork
	}
	target, err := ws.DetectTarget(ctx, upstreamRemote)
	if err != nil {
		return nil, fmt.Errorf("detect pull request target: %w", err)
	}
	fork := target
	if cfg.Fork != upstreamRemote {
		if fork, err = ws.DetectTarget(ctx, cfg.Fork); err != nil {
			return nil, fmt.Errorf("detect fork: %w", err)
		}
	}

	c.Logger.Info("pull requests enabled",
		"target", target.Owner+"/"+target.Repo,
		"base", target.Base,
		"fork", fork.Owner+"/"+fork.Repo)
	return &updater.PRConfig{
		Target:    target,
		Remote:    cfg.Fork,
		HeadOwner: fork.Owner,
		Publisher: gh,
	}, nil
}

// serveMetrics registers the Prometheus hooks and serves /metrics on addr
// until the returned function is called.
func (c *CLI) serveMetrics(addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	reg := prometheus.NewRegistry()
	p := observability.NewPrometheus(reg)
	observability.SetUpdateHooks(p)
	observability.SetCacheHooks(p)
	observability.SetHTTPHooks(p)
	srv := &http.Server{Handler: metricsRouter(reg), ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.Logger.Warn("metrics server stopped", "err", err)
		}
	}()
	c.Logger.Info("serving metrics", "addr", "http://"+ln.Addr().String()+"/metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		observability.Reset()
	}, nil
}

// metricsRouter serves only /metrics for the duration of a run.
func metricsRouter(reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return r
}
