package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matzehuels/nixupdate/pkg/nix"
	"github.com/matzehuels/nixupdate/pkg/updater"
	"github.com/matzehuels/nixupdate/pkg/upstream"
	"github.com/matzehuels/nixupdate/pkg/workspace"
)

var updateFlags = map[string]string{
	"policy":        "policy",
	"skip-unstable": "skip_unstable",
	"dry-run":       "dry_run",
}

// updateCommand creates the update command for a single package.
func (c *CLI) updateCommand() *cobra.Command {
	var (
		file         string
		ignoreScript bool
		commit       bool
	)

	cmd := &cobra.Command{
		Use:   "update <attr>",
		Short: "Update one package in the current checkout",
		Long: `Update a single package directly in the working tree.

The update history is neither read nor written and no worktree is used.
If the package defines an updateScript, that script runs instead of the
generic update unless --ignore-update-script is given.`,
		Example: `  nixupdate update hello
  nixupdate update python3Packages.requests --policy minor --commit`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd, updateFlags)
			if err != nil {
				return err
			}
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

			ctx := cmd.Context()
			backend, err := c.openCache(ctx, cfg)
			if err != nil {
				return err
			}
			defer backend.Close()

			c.warnMissingTokens(cfg)
			n := nix.New(repoDir, c.Logger)
			p := &updater.Pipeline{
				Entry:        file,
				RepoDir:      repoDir,
				Evaluator:    n,
				Builder:      n,
				Resolver:     newClients(backend, cfg, ttl).resolver(c),
				Workspace:    workspace.New(repoDir, "", c.Logger),
				Policy:       policy,
				DryRun:       cfg.DryRun,
				SkipUnstable: cfg.SkipUnstable,
				Logger:       c.Logger,
			}

			attr := args[0]
			prog := newProgress(c.Logger)
			out, err := p.UpdateInPlace(ctx, attr, updater.LocalOptions{
				IgnoreUpdateScript: ignoreScript,
				Commit:             commit,
				Stdout:             cmd.OutOrStdout(),
				Stderr:             cmd.ErrOrStderr(),
			})
			if err != nil {
				return fmt.Errorf("update %s: %w", attr, err)
			}
			prog.done("finished", "attr", attr)

			switch o := out.(type) {
			case updater.Updated:
				printSuccess("Updated %s from %s to %s", attr, o.Old, o.New)
				if !commit {
					printNextStep("Review the change", "git diff")
				}
			case updater.DryRun:
				printInfo("%s: %s", attr, o)
			case updater.NoUpdateNeeded:
				printInfo("%s is up to date (%s)", attr, o.Current)
			default:
				printInfo("%s: %s", attr, out)
			}
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&file, "file", "f", ".", "Nix expression the attribute belongs to")
	f.String("policy", "latest", "accepted version change: latest, major, minor or patch")
	f.Bool("skip-unstable", false, "skip packages whose version contains \"unstable\"")
	f.Bool("dry-run", false, "only report the available update")
	f.BoolVar(&ignoreScript, "ignore-update-script", false, "use the generic update even if the package has an updateScript")
	f.BoolVar(&commit, "commit", false, "commit the change as \"<attr>: <old> -> <new>\"")

	return cmd
}
