package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/matzehuels/nixupdate/pkg/rewrite"
)

// pruneMaintainersCommand creates the prune-maintainers command.
func (c *CLI) pruneMaintainersCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "prune-maintainers <directory>",
		Short: "Empty meta.maintainers in every .nix file below a directory",
		Long: `Walk a directory and set every maintainers list in its .nix files to [ ].

Symbolic links are not followed. Files that do not parse are reported and
left untouched. With --check nothing is written and the command fails if
any file would change.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := args[0]
			prog := newProgress(c.Logger)

			stats, err := pruneTree(dir, check, c.Logger)
			if err != nil {
				return err
			}
			prog.done("prune finished", "processed", stats.Processed, "modified", stats.Modified, "errors", stats.Errors)

			if stats.Errors > 0 {
				printWarning("%d files had errors and were not modified", stats.Errors)
			}
			switch {
			case check && stats.Modified > 0:
				return fmt.Errorf("check failed: %d files would be modified by prune-maintainers", stats.Modified)
			case check:
				printSuccess("Checked %d files, none would change", stats.Processed)
			case stats.Modified == 0:
				printInfo("Checked %d files, nothing to prune", stats.Processed)
			default:
				printSuccess("Pruned maintainers in %d of %d files", stats.Modified, stats.Processed)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "report files that would change without writing them")

	return cmd
}

// pruneStats counts the outcome of one prune walk.
type pruneStats struct {
	Processed int
	Modified  int // files changed, or that would change in check mode
	Errors    int
}

// pruneTree empties the maintainers lists of every regular .nix file below
// dir. A file that cannot be read, parsed or written counts as an error and
// does not stop the walk.
func pruneTree(dir string, check bool, logger *log.Logger) (pruneStats, error) {
	var stats pruneStats

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return stats, fmt.Errorf("directory does not exist: %s", dir)
	case err != nil:
		return stats, err
	case !info.IsDir():
		return stats, fmt.Errorf("path is not a directory: %s", dir)
	}

	if check {
		logger.Info("checking for maintainers to prune", "dir", dir)
	} else {
		logger.Info("pruning maintainers", "dir", dir)
	}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Debug("skipping unreadable entry", "path", path, "err", err)
			return nil
		}
		if !d.Type().IsRegular() || filepath.Ext(path) != ".nix" {
			return nil
		}

		stats.Processed++
		changed, err := pruneFile(path, check)
		switch {
		case err != nil:
			logger.Warn("could not prune file", "path", path, "err", err)
			stats.Errors++
		case changed && check:
			logger.Info("would modify", "path", path)
			stats.Modified++
		case changed:
			logger.Info("modified", "path", path)
			stats.Modified++
		default:
			logger.Debug("no changes", "path", path)
		}
		return nil
	})
	return stats, err
}

// pruneFile rewrites one file in place unless check is set, keeping its
// permissions.
func pruneFile(path string, check bool) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	pruned, changed, err := rewrite.PruneMaintainers(string(content))
	if err != nil || !changed || check {
		return changed, err
	}
	if err := os.WriteFile(path, []byte(pruned), info.Mode().Perm()); err != nil {
		return false, err
	}
	return true, nil
}
