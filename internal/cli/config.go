package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Backend names accepted by the store and cache.backend keys.
const (
	storeSQLite = "sqlite"
	storeMongo  = "mongo"

	cacheFile  = "file"
	cacheRedis = "redis"
	cacheNone  = "none"
)

// configFileName is looked up in configDir when --config is not given.
const configFileName = "config.toml"

// Config is the effective configuration of a command. Precedence is flags,
// then NIXUPDATE_* environment variables, then the config file, then the
// defaults below.
type Config struct {
	Database string      `mapstructure:"database" toml:"database"`
	Store    string      `mapstructure:"store" toml:"store"`
	Mongo    MongoConfig `mapstructure:"mongo" toml:"mongo"`
	Cache    CacheConfig `mapstructure:"cache" toml:"cache"`

	Concurrency  int    `mapstructure:"concurrency" toml:"concurrency"`
	Fork         string `mapstructure:"fork" toml:"fork"`
	Upstream     string `mapstructure:"upstream" toml:"upstream"`
	Groups       string `mapstructure:"groups" toml:"groups"`
	DryRun       bool   `mapstructure:"dry_run" toml:"dry_run"`
	SkipUnstable bool   `mapstructure:"skip_unstable" toml:"skip_unstable"`
	Policy       string `mapstructure:"policy" toml:"policy"`
	MetricsAddr  string `mapstructure:"metrics_addr" toml:"metrics_addr"`

	GitHubToken string `mapstructure:"github_token" toml:"github_token"`
	GitLabToken string `mapstructure:"gitlab_token" toml:"gitlab_token"`

	Serve ServeConfig `mapstructure:"serve" toml:"serve"`
}

// MongoConfig selects the MongoDB deployment when store is "mongo".
type MongoConfig struct {
	URI      string `mapstructure:"uri" toml:"uri"`
	Database string `mapstructure:"database" toml:"database"`
}

// CacheConfig configures the upstream API response cache.
type CacheConfig struct {
	Backend   string `mapstructure:"backend" toml:"backend"`
	RedisAddr string `mapstructure:"redis_addr" toml:"redis_addr"`
	TTL       string `mapstructure:"ttl" toml:"ttl"`
}

// ServeConfig configures the status server.
type ServeConfig struct {
	Addr string `mapstructure:"addr" toml:"addr"`
}

// CacheTTL parses Cache.TTL.
func (c *Config) CacheTTL() (time.Duration, error) {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 0, fmt.Errorf("invalid cache.ttl %q: %w", c.Cache.TTL, err)
	}
	return d, nil
}

// redacted returns a copy safe to print.
func (c Config) redacted() Config {
	if c.GitHubToken != "" {
		c.GitHubToken = "<redacted>"
	}
	if c.GitLabToken != "" {
		c.GitLabToken = "<redacted>"
	}
	return c
}

// newViper returns a viper instance carrying the defaults and the
// environment bindings. Config files and flags are added per command.
func newViper() *viper.Viper {
	v := viper.New()

	database := "state.db"
	if dir, err := dataDir(); err == nil {
		database = filepath.Join(dir, "state.db")
	}
	v.SetDefault("database", database)
	v.SetDefault("store", storeSQLite)
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", appName)
	v.SetDefault("cache.backend", cacheFile)
	v.SetDefault("cache.redis_addr", "localhost:6379")
	v.SetDefault("cache.ttl", "1h")
	v.SetDefault("concurrency", 0)
	v.SetDefault("fork", "origin")
	v.SetDefault("upstream", "")
	v.SetDefault("groups", "")
	v.SetDefault("dry_run", false)
	v.SetDefault("skip_unstable", false)
	v.SetDefault("policy", "latest")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("github_token", "")
	v.SetDefault("gitlab_token", "")
	v.SetDefault("serve.addr", "127.0.0.1:8787")

	v.SetEnvPrefix("NIXUPDATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The conventional token variables work without the prefix.
	_ = v.BindEnv("github_token", "NIXUPDATE_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("gitlab_token", "NIXUPDATE_GITLAB_TOKEN", "GITLAB_TOKEN")
	return v
}

// bindFlags binds the named flags of cmd to config keys. Binding happens
// when the command runs so that commands sharing a key do not shadow each
// other.
func (c *CLI) bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil {
			return fmt.Errorf("unknown flag --%s", flag)
		}
		if err := c.viper.BindPFlag(key, f); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig binds the flags of cmd, reads the config file and returns the
// effective configuration. A missing default config file is not an error;
// a missing file named with --config is.
func (c *CLI) loadConfig(cmd *cobra.Command, keys map[string]string) (*Config, error) {
	if err := c.bindFlags(cmd, keys); err != nil {
		return nil, err
	}

	if c.configFile != "" {
		c.viper.SetConfigFile(c.configFile)
	} else {
		dir, err := configDir()
		if err != nil {
			return nil, fmt.Errorf("get config dir: %w", err)
		}
		c.viper.SetConfigName(strings.TrimSuffix(configFileName, ".toml"))
		c.viper.AddConfigPath(dir)
	}
	c.viper.SetConfigType("toml")

	if err := c.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if c.configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		c.Logger.Debug("loaded config", "file", c.viper.ConfigFileUsed())
	}

	var cfg Config
	if err := c.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// =============================================================================
// config command
// =============================================================================

// configCommand creates the config management command.
func (c *CLI) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or create the configuration file",
	}

	cmd.AddCommand(c.configShowCommand())
	cmd.AddCommand(c.configInitCommand())

	return cmd
}

// configShowCommand creates the "config show" subcommand.
func (c *CLI) configShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.loadConfig(cmd, nil)
			if err != nil {
				return err
			}
			return writeConfig(cmd.OutOrStdout(), cfg.redacted())
		},
	}
}

// configInitCommand creates the "config init" subcommand.
func (c *CLI) configInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := c.configFile
			if path == "" {
				dir, err := configDir()
				if err != nil {
					return fmt.Errorf("get config dir: %w", err)
				}
				path = filepath.Join(dir, configFileName)
			}

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			var cfg Config
			if err := newViper().Unmarshal(&cfg); err != nil {
				return err
			}
			// Tokens belong in the environment, not in a file.
			cfg.GitHubToken, cfg.GitLabToken = "", ""

			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return err
			}
			if err := writeConfig(f, cfg); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			printSuccess("Wrote default configuration")
			printFile(path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func writeConfig(w io.Writer, cfg Config) error {
	return toml.NewEncoder(w).Encode(cfg)
}
