package updater

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	nixerrors "github.com/matzehuels/nixupdate/pkg/errors"
	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/workspace"
)

// LocalOptions configures [Pipeline.UpdateInPlace].
type LocalOptions struct {
	// IgnoreUpdateScript runs the generic update even when the package
	// ships its own updateScript.
	IgnoreUpdateScript bool
	// Commit commits the change as "<attr>: <old> -> <new>".
	Commit bool
	// Stdout and Stderr receive the output of an update script.
	Stdout io.Writer
	Stderr io.Writer
}

// UpdateInPlace updates attr directly in RepoDir, without a worktree.
//
// A package with an updateScript runs that script instead, unless
// opts.IgnoreUpdateScript is set. Unlike [Pipeline.Check], every failure
// is returned as an error.
func (p *Pipeline) UpdateInPlace(ctx context.Context, attr string, opts LocalOptions) (Outcome, error) {
	logger := p.logger().With("attr", attr)

	if !opts.IgnoreUpdateScript {
		if script := nix.UpdateScript(ctx, p.Evaluator, p.Entry, attr); script != "" {
			logger.Info("running update script", "script", script)
			cmd := exec.CommandContext(ctx, script)
			cmd.Dir = p.RepoDir
			cmd.Stdout = opts.Stdout
			cmd.Stderr = opts.Stderr
			if err := cmd.Run(); err != nil {
				return nil, fmt.Errorf("update script failed: %w", err)
			}
			return Skipped{Reason: "Ran update script " + script}, nil
		}
	}

	meta, err := nix.LoadMetadata(ctx, p.Evaluator, p.Entry, attr)
	if err != nil {
		return nil, err
	}
	if meta.Position == "" {
		return nil, nixerrors.New(nixerrors.ErrCodeEval, "%s has no meta.position", attr)
	}

	latest, out, err := p.resolve(ctx, attr, meta, logger)
	if err != nil {
		return nil, err
	}
	if out != nil {
		return out, nil
	}
	if p.DryRun {
		return DryRun{Current: meta.Version, New: latest}, nil
	}

	logger.Info("updating", "from", meta.Version, "to", latest, "file", meta.Position)
	if _, err := p.apply(ctx, p.RepoDir, meta.Position, attr, meta, latest); err != nil {
		return nil, err
	}

	if opts.Commit {
		msg := workspace.CommitMessage(attr, meta.Version, latest)
		committed, err := p.Workspace.CommitAll(ctx, p.RepoDir, msg)
		if err != nil {
			return nil, err
		}
		if committed {
			logger.Info("created commit", "message", msg)
		} else {
			logger.Warn("no files to commit")
		}
	}
	return Updated{Old: meta.Version, New: latest}, nil
}
