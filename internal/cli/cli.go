// Package cli implements the nixupdate command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/matzehuels/nixupdate/pkg/buildinfo"
	"github.com/matzehuels/nixupdate/pkg/cache"
	"github.com/matzehuels/nixupdate/pkg/store"
	"github.com/matzehuels/nixupdate/pkg/store/mongo"
	"github.com/matzehuels/nixupdate/pkg/store/sqlite"
)

// =============================================================================
// Constants
// =============================================================================

const (
	// appName is the application name used for directories and display.
	appName = "nixupdate"

	// connectTimeout bounds connecting to remote store and cache backends.
	connectTimeout = 10 * time.Second
)

// Log levels exported for use in main.go.
const (
	LogDebug = log.DebugLevel
	LogInfo  = log.InfoLevel
)

// =============================================================================
// CLI - Central CLI State
// =============================================================================

// CLI holds shared state for all commands.
type CLI struct {
	Logger *log.Logger

	viper      *viper.Viper
	configFile string
}

// New creates a new CLI instance with a default logger.
func New(w io.Writer, level log.Level) *CLI {
	return &CLI{
		Logger: newLogger(w, level),
		viper:  newViper(),
	}
}

// SetLogLevel updates the logger's level. Source locations are reported
// at debug level only.
func (c *CLI) SetLogLevel(level log.Level) {
	c.Logger.SetLevel(level)
	c.Logger.SetReportCaller(level <= log.DebugLevel)
}

// RootCommand creates the root cobra command with all subcommands registered.
func (c *CLI) RootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "nixupdate keeps the packages of a Nix repository up to date",
		Long: `nixupdate evaluates a Nix package repository, looks up newer upstream
releases on GitHub, GitLab and PyPI, rewrites and rebuilds the package
recipes, and proposes the verified updates as pull requests.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().StringVar(&c.configFile, "config", "", "config file (default $XDG_CONFIG_HOME/nixupdate/config.toml)")

	// Register all subcommands
	root.AddCommand(c.runCommand())
	root.AddCommand(c.updateCommand())
	root.AddCommand(c.logsCommand())
	root.AddCommand(c.statusCommand())
	root.AddCommand(c.serveCommand())
	root.AddCommand(c.cacheCommand())
	root.AddCommand(c.pruneMaintainersCommand())
	root.AddCommand(c.configCommand())
	root.AddCommand(c.versionCommand())
	root.AddCommand(c.completionCommand())

	return root
}

// versionCommand prints the build information.
func (c *CLI) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.String())
		},
	}
}

// =============================================================================
// Backend Factories
// =============================================================================

// openStore opens the configured persistence backend.
func (c *CLI) openStore(ctx context.Context, cfg *Config) (store.Store, error) {
	switch cfg.Store {
	case storeSQLite, "":
		c.Logger.Debug("opening store", "backend", storeSQLite, "path", cfg.Database)
		return sqlite.Open(cfg.Database)
	case storeMongo:
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		c.Logger.Debug("opening store", "backend", storeMongo, "database", cfg.Mongo.Database)
		return mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %s or %s)", cfg.Store, storeSQLite, storeMongo)
	}
}

// openCache opens the configured response cache. A file cache that cannot
// be created degrades to no caching.
func (c *CLI) openCache(ctx context.Context, cfg *Config) (cache.Cache, error) {
	switch cfg.Cache.Backend {
	case cacheNone:
		return cache.NewNullCache(), nil
	case cacheRedis:
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		return cache.NewRedisCache(ctx, cfg.Cache.RedisAddr)
	case cacheFile, "":
		dir, err := httpCacheDir()
		if err != nil {
			c.Logger.Warn("response cache disabled", "err", err)
			return cache.NewNullCache(), nil
		}
		return cache.NewFileCache(dir)
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// warnMissingTokens logs once per run that unauthenticated requests are
// rate limited.
func (c *CLI) warnMissingTokens(cfg *Config) {
	if cfg.GitHubToken == "" {
		c.Logger.Warn("GITHUB_TOKEN is not set, GitHub requests are rate limited")
	}
	if cfg.GitLabToken == "" {
		c.Logger.Debug("GITLAB_TOKEN is not set, GitLab requests are unauthenticated")
	}
}

// =============================================================================
// Paths
// =============================================================================

// cacheDir returns the cache directory using XDG standard (~/.cache/nixupdate/).
// Worktrees and the response cache live below it.
func cacheDir() (string, error) {
	return xdgDir("XDG_CACHE_HOME", ".cache")
}

// httpCacheDir is the file response cache, kept apart from worktrees so
// that clearing it never touches a checkout.
func httpCacheDir() (string, error) {
	dir, err := cacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "http"), nil
}

// configDir returns ~/.config/nixupdate/ or its XDG equivalent.
func configDir() (string, error) {
	return xdgDir("XDG_CONFIG_HOME", ".config")
}

// dataDir returns ~/.local/share/nixupdate/ or its XDG equivalent.
func dataDir() (string, error) {
	return xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share"))
}

func xdgDir(env, fallback string) (string, error) {
	if base := os.Getenv(env); base != "" {
		return filepath.Join(base, appName), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, fallback, appName), nil
}
