// Package updater runs the update pipeline for one package, or one group of
// packages, of a Nix repository.
//
// A check walks these stages and stops at the first that has nothing to do:
//
//  1. evaluate the package metadata
//  2. classify the source and resolve the best upstream release
//  3. compare it with the current version and the pending proposal
//  4. rewrite the recipe in a fresh worktree and prove it builds
//  5. record the outcome and, when configured, open a pull request
//
// Expected non-updates are reported as an [Outcome]. Only a failed rewrite
// or build, or a broken store, is returned as an error.
package updater

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/integrations/github"
	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/rewrite"
	"github.com/matzehuels/nixupdate/pkg/scheduler"
	"github.com/matzehuels/nixupdate/pkg/upstream"
	"github.com/matzehuels/nixupdate/pkg/verify"
	"github.com/matzehuels/nixupdate/pkg/workspace"
)

// Skip reasons shown to users.
const (
	ReasonNoMetadata      = "Could not extract metadata"
	ReasonUnstable        = "Version contains 'unstable'"
	ReasonNoUpstream      = "Could not fetch upstream"
	ReasonAlreadyProposed = "Update already proposed"
	ReasonNoFile          = "Could not locate file"
	ReasonWorktree        = "Worktree creation failed"
)

// unknownVersion is recorded as the latest version when upstream could not
// be reached.
const unknownVersion = "unknown"

// =============================================================================
// Collaborators
// =============================================================================

// Resolver finds the release a package should move to.
type Resolver interface {
	Resolve(ctx context.Context, src upstream.Source, current string, policy upstream.Policy) (upstream.Release, error)
}

// Workspace hands out isolated checkouts and publishes their commits.
// It is satisfied by [workspace.Manager].
type Workspace interface {
	Create(ctx context.Context, key string) (string, error)
	Destroy(ctx context.Context, path string) error
	Reset(ctx context.Context, dir string) error
	CommitAll(ctx context.Context, dir, message string) (bool, error)
	CommitBranch(ctx context.Context, dir, attr, from, to string) (string, error)
	CommitAndPushBranch(ctx context.Context, dir, attr, from, to, remote string) (string, error)
	CheckoutBranch(ctx context.Context, dir, branch string) error
	PushGroupBranch(ctx context.Context, dir, group, remote string) (string, error)
}

// Publisher opens pull requests. It is satisfied by [github.Client].
type Publisher interface {
	CreatePullRequest(ctx context.Context, owner, repo string, pr github.PullRequest) (*github.CreatedPullRequest, error)
}

// PRConfig says where verified updates are proposed.
type PRConfig struct {
	// Target is the repository pull requests are opened against.
	Target workspace.Target
	// Remote is the git remote branches are pushed to.
	Remote string
	// HeadOwner owns Remote. When it differs from Target.Owner the pull
	// request head is qualified as "owner:branch".
	HeadOwner string
	Publisher Publisher
}

func (c *PRConfig) head(branch string) string {
	if c.HeadOwner != "" && c.HeadOwner != c.Target.Owner {
		return c.HeadOwner + ":" + branch
	}
	return branch
}

// Package is one derivation discovered by evaluation.
type Package struct {
	Attr    string
	DrvPath string
	System  string
	Name    string
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline checks and updates packages of one repository.
type Pipeline struct {
	// Entry is the evaluation entry point, e.g. "." or "./default.nix".
	Entry string
	// RepoDir is the absolute path of the repository checkout. Package
	// positions are made relative to it to find files in a worktree.
	RepoDir string

	Evaluator nix.Evaluator
	Builder   nix.Builder
	Resolver  Resolver
	// Scheduler may be nil, in which case nothing is recorded.
	Scheduler *scheduler.Scheduler
	Workspace Workspace
	// PR is nil when updates are only committed locally.
	PR *PRConfig

	Policy       upstream.Policy
	DryRun       bool
	SkipUnstable bool

	Logger *log.Logger
}

func (p *Pipeline) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

// Check runs the full pipeline for pkg.
//
// The worktree is destroyed on every path. A failed update is written to
// the failure log before its error is returned.
func (p *Pipeline) Check(ctx context.Context, pkg Package) (Outcome, error) {
	logger := p.logger().With("attr", pkg.Attr)

	meta, err := nix.LoadMetadata(ctx, p.Evaluator, p.Entry, pkg.Attr)
	if err != nil {
		logger.Debug("metadata evaluation failed", "err", err)
		return Skipped{Reason: ReasonNoMetadata}, nil
	}
	if p.SkipUnstable && strings.Contains(meta.Version, "unstable") {
		return Skipped{Reason: ReasonUnstable}, nil
	}

	latest, out, err := p.resolve(ctx, pkg.Attr, meta, logger)
	if out != nil || err != nil {
		return out, err
	}

	if p.DryRun {
		logger.Info("update available", "from", meta.Version, "to", latest)
		return DryRun{Current: meta.Version, New: latest}, nil
	}

	wt, err := p.Workspace.Create(ctx, pkg.Attr)
	if err != nil {
		logger.Warn("could not create worktree", "err", err)
		return Skipped{Reason: ReasonWorktree + ": " + err.Error()}, nil
	}
	defer p.destroy(ctx, wt, logger)

	file, ok := p.worktreeFile(wt, meta.Position)
	if !ok {
		return Skipped{Reason: ReasonNoFile}, nil
	}

	logger.Info("updating", "from", meta.Version, "to", latest)
	if _, err := p.apply(ctx, wt, file, pkg.Attr, meta, latest); err != nil {
		logger.Error("update failed", "from", meta.Version, "to", latest, "err", err)
		p.recordFailure(ctx, scheduler.Failure{
			DrvPath:    pkg.DrvPath,
			AttrPath:   pkg.Attr,
			Err:        err,
			OldVersion: meta.Version,
			NewVersion: latest,
		}, logger)
		return nil, err
	}

	if p.Scheduler != nil {
		if err := p.Scheduler.RecordSuccess(ctx, pkg.Attr, meta.Version, latest); err != nil {
			return nil, err
		}
	}
	p.propose(ctx, wt, pkg.Attr, meta, latest, logger)

	logger.Info("updated", "from", meta.Version, "to", latest)
	return Updated{Old: meta.Version, New: latest}, nil
}

// resolve returns the version to update to, or the outcome that ends the
// check. Classification failures are skips. Fetch failures are recorded as
// "no update" so the package still backs off.
func (p *Pipeline) resolve(ctx context.Context, attr string, meta *nix.PackageMetadata, logger *log.Logger) (string, Outcome, error) {
	src, err := upstream.Classify(meta.SrcURL, meta.PName)
	if err != nil {
		return "", Skipped{Reason: nixerrors.UserMessage(err)}, nil
	}
	logger.Debug("classified source", "source", src.String())

	release, err := p.Resolver.Resolve(ctx, src, meta.Version, p.Policy)
	switch {
	case nixerrors.Is(err, nixerrors.ErrCodeNoRelease):
		if err := p.recordNoUpdate(ctx, attr, meta.Version, meta.Version); err != nil {
			return "", nil, err
		}
		return "", NoUpdateNeeded{Current: meta.Version, Latest: meta.Version}, nil
	case nixerrors.IsClassification(err):
		return "", Skipped{Reason: nixerrors.UserMessage(err)}, nil
	case err != nil:
		logger.Warn("could not fetch upstream", "source", src.String(), "err", err)
		if err := p.recordNoUpdate(ctx, attr, meta.Version, unknownVersion); err != nil {
			return "", nil, err
		}
		return "", Skipped{Reason: ReasonNoUpstream}, nil
	}

	latest := upstream.ExtractVersion(release.Tag)
	if latest == meta.Version {
		if err := p.recordNoUpdate(ctx, attr, meta.Version, latest); err != nil {
			return "", nil, err
		}
		return "", NoUpdateNeeded{Current: meta.Version, Latest: latest}, nil
	}

	if p.Scheduler != nil {
		proposed, err := p.Scheduler.IsProposed(ctx, attr, latest)
		if err != nil {
			return "", nil, err
		}
		if proposed {
			logger.Debug("update already proposed", "version", latest)
			if err := p.recordNoUpdate(ctx, attr, meta.Version, latest); err != nil {
				return "", nil, err
			}
			return "", Skipped{Reason: ReasonAlreadyProposed}, nil
		}
	}
	return latest, nil, nil
}

// apply rewrites the package defined in file, inside dir, to latest and
// verifies it builds.
func (p *Pipeline) apply(ctx context.Context, dir, file, attr string, meta *nix.PackageMetadata, latest string) (*verify.Result, error) {
	target, err := rewrite.Locate(file, meta.Version, meta.OutputHash, func() (bool, error) {
		return nix.IsManyVariants(ctx, p.Evaluator, p.Entry, attr)
	})
	if err != nil {
		return nil, err
	}

	v := &verify.Verifier{Builder: p.Builder, Logger: p.logger()}
	return v.Run(ctx, verify.Request{
		Dir:         dir,
		Entry:       p.entryIn(dir),
		Attr:        attr,
		Target:      target,
		PackageFile: file,
		OldVersion:  meta.Version,
		NewVersion:  latest,
		SrcHash:     meta.OutputHash,
		CargoHash:   meta.CargoHash,
		VendorHash:  meta.VendorHash,
	})
}

// propose commits the verified change and, when configured, opens a pull
// request. Failures here are logged; the update itself has succeeded.
func (p *Pipeline) propose(ctx context.Context, wt, attr string, meta *nix.PackageMetadata, latest string, logger *log.Logger) {
	if p.PR == nil {
		branch, err := p.Workspace.CommitBranch(ctx, wt, attr, meta.Version, latest)
		if err != nil {
			logger.Warn("could not commit update", "err", err)
			return
		}
		logger.Info("committed update", "branch", branch)
		return
	}

	branch, err := p.Workspace.CommitAndPushBranch(ctx, wt, attr, meta.Version, latest, p.PR.Remote)
	if err != nil {
		logger.Warn("could not push update", "err", err)
		return
	}
	created, err := p.PR.Publisher.CreatePullRequest(ctx, p.PR.Target.Owner, p.PR.Target.Repo, github.PullRequest{
		Title: PRTitle(attr, meta.Version, latest),
		Body:  PRBody(attr, meta.Version, latest, meta),
		Head:  p.PR.head(branch),
		Base:  p.PR.Target.Base,
	})
	if err != nil {
		logger.Warn("could not create pull request", "branch", branch, "err", err)
		return
	}
	logger.Info("opened pull request", "url", created.URL)

	if p.Scheduler != nil {
		if err := p.Scheduler.RecordProposal(ctx, attr, latest, created.URL, created.Number); err != nil {
			logger.Warn("could not record proposal", "err", err)
		}
	}
}

// worktreeFile maps a file of the main checkout into wt.
func (p *Pipeline) worktreeFile(wt, position string) (string, bool) {
	if position == "" {
		return "", false
	}
	rel, err := filepath.Rel(p.RepoDir, position)
	if err != nil || nixerrors.ValidatePath(filepath.ToSlash(rel)) != nil {
		return "", false
	}
	return filepath.Join(wt, rel), true
}

// entryIn returns the entry point to build with from dir. Absolute entries
// inside the repository are moved into dir; everything else is resolved
// against dir already.
func (p *Pipeline) entryIn(dir string) string {
	entry := nix.NormalizeEntryPoint(p.Entry)
	if !filepath.IsAbs(entry) || dir == p.RepoDir {
		return entry
	}
	if moved, ok := p.worktreeFile(dir, entry); ok {
		return moved
	}
	return entry
}

func (p *Pipeline) destroy(ctx context.Context, wt string, logger *log.Logger) {
	if err := p.Workspace.Destroy(context.WithoutCancel(ctx), wt); err != nil {
		logger.Warn("could not remove worktree", "path", wt, "err", err)
	}
}

func (p *Pipeline) recordNoUpdate(ctx context.Context, attr, current, latest string) error {
	if p.Scheduler == nil {
		return nil
	}
	return p.Scheduler.RecordNoUpdate(ctx, attr, current, latest)
}

func (p *Pipeline) recordFailure(ctx context.Context, f scheduler.Failure, logger *log.Logger) {
	if p.Scheduler == nil {
		return
	}
	if err := p.Scheduler.RecordFailure(context.WithoutCancel(ctx), f); err != nil {
		logger.Warn("could not record failure", "err", err)
	}
}
