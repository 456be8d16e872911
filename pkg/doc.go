// Package pkg provides the libraries behind nixupdate, an automatic
// package updater for Nix repositories.
//
// # Overview
//
// nixupdate evaluates a repository, asks upstream release APIs whether a
// package has a newer version, rewrites the package recipe, proves the
// rewrite by building it and proposes the result as a pull request. The
// pkg directory is organized into these areas:
//
//  1. Evaluation and building: [nix] runs nix-instantiate, nix-build and
//     nix-eval-jobs.
//  2. Upstream: [upstream] classifies sources and picks releases using the
//     API clients in [integrations] (GitHub, GitLab, PyPI).
//  3. Editing: [rewrite] edits recipes textually, [nixparse] checks that
//     the result still parses, and [verify] recovers hashes and drops
//     patches that no longer apply.
//  4. State: [store] persists per-package schedules and failure logs,
//     [scheduler] decides when a package is due again.
//  5. Orchestration: [workspace] isolates updates in git worktrees,
//     [updater] runs one package or group end to end, and [orchestrator]
//     drives a whole repository with bounded concurrency.
//  6. Infrastructure: [cache], [httputil], [errors], [observability] and
//     [buildinfo].
//
// # Architecture
//
// The data flow of one run:
//
//	nix-eval-jobs stream
//	         ↓
//	    [orchestrator] (filter by [scheduler], dispatch to pool or group)
//	         ↓
//	    [updater] per package:
//	         metadata ([nix]) → release ([upstream]) → worktree ([workspace])
//	         → rewrite ([rewrite]) → build loop ([verify]) → record ([scheduler])
//	         → branch + pull request ([workspace], [integrations/github])
//
// # Quick Start
//
// Check a single package without touching any state:
//
//	n := nix.New(repoDir, logger)
//	p := &updater.Pipeline{
//	    Entry:     ".",
//	    RepoDir:   repoDir,
//	    Evaluator: n,
//	    Builder:   n,
//	    Resolver:  &upstream.Resolver{GitHub: github.NewClient(nil, token, time.Hour)},
//	    Workspace: workspace.New(repoDir, cacheDir, logger),
//	    DryRun:    true,
//	}
//	out, err := p.UpdateInPlace(ctx, "hello", updater.LocalOptions{})
//
// [nix]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/nix
// [upstream]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/upstream
// [integrations]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/integrations
// [integrations/github]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/integrations/github
// [rewrite]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/rewrite
// [nixparse]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/nixparse
// [verify]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/verify
// [store]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/store
// [scheduler]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/scheduler
// [workspace]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/workspace
// [updater]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/updater
// [orchestrator]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/orchestrator
// [cache]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/cache
// [httputil]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/httputil
// [errors]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/errors
// [observability]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/observability
// [buildinfo]: https://pkg.go.dev/github.com/matzehuels/nixupdate/pkg/buildinfo
package pkg
