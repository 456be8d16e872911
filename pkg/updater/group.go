package updater

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/matzehuels/nixupdate/pkg/integrations/github"
	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/scheduler"
	"github.com/matzehuels/nixupdate/pkg/workspace"
)

// Change is one version bump made within a group.
type Change struct {
	Attr string
	Old  string
	New  string
}

// MemberFailure is a group member that could not be updated.
type MemberFailure struct {
	Attr   string
	Reason string
}

// GroupResult summarizes one group batch.
type GroupResult struct {
	Group   string
	Updated []Change
	Failed  []MemberFailure
	// PRURL is set when a pull request was opened.
	PRURL string
}

var (
	// errNothingToDo ends a member without an update or a failure.
	errNothingToDo = errors.New("nothing to do")
	// errWorktree marks a worktree creation failure, which aborts the batch.
	errWorktree = errors.New("worktree creation failed")
)

// CheckGroup updates the members of group one after another in a single
// shared worktree, one commit per member, and proposes the successes as one
// change.
//
// A failing member is recorded and its edits discarded; the others carry
// on. The worktree is created on the first member that needs one and is
// destroyed before returning. The error is only set when the worktree could
// not be created.
func (p *Pipeline) CheckGroup(ctx context.Context, group string, members []Package) (*GroupResult, error) {
	logger := p.logger().With("group", group)
	res := &GroupResult{Group: group}

	var wt string
	worktree := func() (string, error) {
		if wt != "" {
			return wt, nil
		}
		path, err := p.Workspace.Create(ctx, workspace.GroupKey(group))
		if err != nil {
			return "", err
		}
		wt = path
		return wt, nil
	}
	defer func() {
		if wt != "" {
			p.destroy(ctx, wt, logger)
		}
	}()

	logger.Info("processing group", "members", len(members))
	for _, pkg := range members {
		if p.Scheduler != nil {
			ok, err := p.Scheduler.ShouldCheck(ctx, pkg.Attr)
			if err != nil {
				logger.Warn("could not load schedule, checking anyway", "attr", pkg.Attr, "err", err)
			} else if !ok {
				logger.Debug("skipping member in backoff", "attr", pkg.Attr)
				continue
			}
		}

		change, err := p.updateMember(ctx, pkg, worktree, logger.With("attr", pkg.Attr))
		switch {
		case errors.Is(err, errNothingToDo):
		case errors.Is(err, errWorktree):
			return res, err
		case err != nil:
			res.Failed = append(res.Failed, MemberFailure{Attr: pkg.Attr, Reason: err.Error()})
		default:
			res.Updated = append(res.Updated, *change)
		}
	}

	if len(res.Updated) == 0 || p.DryRun {
		logger.Info("group processed", "updated", len(res.Updated), "failed", len(res.Failed))
		return res, nil
	}

	// Later members can break earlier ones, so build every success again in
	// the final tree.
	for _, c := range res.Updated {
		out, err := p.Builder.Build(ctx, wt, p.entryIn(wt), c.Attr, "")
		if err != nil || !out.Success {
			logger.Warn("member no longer builds in the combined tree", "attr", c.Attr, "err", err)
		}
	}

	p.proposeGroup(ctx, wt, res, logger)
	logger.Info("group processed", "updated", len(res.Updated), "failed", len(res.Failed))
	return res, nil
}

// updateMember updates one member in the shared worktree and commits it.
// errNothingToDo means there was no update; any other error is the reason
// the member failed.
func (p *Pipeline) updateMember(ctx context.Context, pkg Package, worktree func() (string, error), logger *log.Logger) (*Change, error) {
	meta, err := nix.LoadMetadata(ctx, p.Evaluator, p.Entry, pkg.Attr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ReasonNoMetadata, err)
	}
	if p.SkipUnstable && strings.Contains(meta.Version, "unstable") {
		return nil, errNothingToDo
	}

	latest, out, err := p.resolve(ctx, pkg.Attr, meta, logger)
	if err != nil {
		return nil, err
	}
	if skipped, ok := out.(Skipped); ok && skipped.Reason != ReasonAlreadyProposed {
		return nil, errors.New(skipped.Reason)
	}
	if out != nil {
		return nil, errNothingToDo
	}

	change := &Change{Attr: pkg.Attr, Old: meta.Version, New: latest}
	if p.DryRun {
		logger.Info("update available", "from", meta.Version, "to", latest)
		return change, nil
	}

	wt, err := worktree()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errWorktree, err)
	}
	file, ok := p.worktreeFile(wt, meta.Position)
	if !ok {
		return nil, errors.New(ReasonNoFile)
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
		p.reset(ctx, wt, logger)
		return nil, err
	}

	if _, err := p.Workspace.CommitAll(ctx, wt, workspace.CommitMessage(pkg.Attr, meta.Version, latest)); err != nil {
		p.reset(ctx, wt, logger)
		return nil, err
	}
	if p.Scheduler != nil {
		if err := p.Scheduler.RecordSuccess(ctx, pkg.Attr, meta.Version, latest); err != nil {
			logger.Warn("could not record success", "err", err)
		}
	}
	logger.Info("updated", "from", meta.Version, "to", latest)
	return change, nil
}

// proposeGroup publishes the commits in wt as one branch and, when
// configured, one pull request.
func (p *Pipeline) proposeGroup(ctx context.Context, wt string, res *GroupResult, logger *log.Logger) {
	if p.PR == nil {
		branch := workspace.GroupBranch(res.Group)
		if err := p.Workspace.CheckoutBranch(ctx, wt, branch); err != nil {
			logger.Warn("could not create group branch", "err", err)
			return
		}
		logger.Info("committed group update", "branch", branch)
		return
	}

	branch, err := p.Workspace.PushGroupBranch(ctx, wt, res.Group, p.PR.Remote)
	if err != nil {
		logger.Warn("could not push group branch", "err", err)
		return
	}
	created, err := p.PR.Publisher.CreatePullRequest(ctx, p.PR.Target.Owner, p.PR.Target.Repo, github.PullRequest{
		Title: GroupPRTitle(res.Group),
		Body:  GroupPRBody(res.Group, res.Updated, res.Failed),
		Head:  p.PR.head(branch),
		Base:  p.PR.Target.Base,
	})
	if err != nil {
		logger.Warn("could not create pull request", "branch", branch, "err", err)
		return
	}
	res.PRURL = created.URL
	logger.Info("opened pull request", "url", created.URL)

	if p.Scheduler == nil {
		return
	}
	for _, c := range res.Updated {
		if err := p.Scheduler.RecordProposal(ctx, c.Attr, c.New, created.URL, created.Number); err != nil {
			logger.Warn("could not record proposal", "attr", c.Attr, "err", err)
		}
	}
}

func (p *Pipeline) reset(ctx context.Context, wt string, logger *log.Logger) {
	if err := p.Workspace.Reset(ctx, wt); err != nil {
		logger.Warn("could not discard failed edits", "path", wt, "err", err)
	}
}
