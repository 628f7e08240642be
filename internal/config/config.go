// Package config loads application settings from defaults, an optional
// config file in the data directory, a .env file and DG_* environment
// variables, in increasing order of precedence.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable, e.g. DG_SYNC_TOKEN.
const EnvPrefix = "DG"

// Config holds application configuration.
type Config struct {
	DataDir string       `mapstructure:"data_dir" toml:"data_dir" yaml:"data_dir" json:"data_dir"`
	Log     LogConfig    `mapstructure:"log" toml:"log" yaml:"log" json:"log"`
	Sync    SyncConfig   `mapstructure:"sync" toml:"sync" yaml:"sync" json:"sync"`
	Intake  IntakeConfig `mapstructure:"intake" toml:"intake" yaml:"intake" json:"intake"`
	Daemon  DaemonConfig `mapstructure:"daemon" toml:"daemon" yaml:"daemon" json:"daemon"`
	Feed    FeedConfig   `mapstructure:"feed" toml:"feed" yaml:"feed" json:"feed"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-" toml:"-" yaml:"-" json:"-"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `mapstructure:"level" toml:"level" yaml:"level" json:"level"`
	Format     string `mapstructure:"format" toml:"format" yaml:"format" json:"format"`
	File       string `mapstructure:"file" toml:"file" yaml:"file" json:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" yaml:"max_age_days" json:"max_age_days"`
}

// SyncConfig configures remote access. Which backend to use and where it
// lives is stored with the collection, not here.
type SyncConfig struct {
	// Token overrides the stored credential. It is never written back.
	Token string `mapstructure:"token" toml:"token" yaml:"token" json:"token"`

	Timeout   time.Duration `mapstructure:"timeout" toml:"timeout" yaml:"timeout" json:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" toml:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
	Burst     int           `mapstructure:"burst" toml:"burst" yaml:"burst" json:"burst"`

	// Base URL overrides for API-compatible servers.
	GitHubURL string `mapstructure:"github_url" toml:"github_url" yaml:"github_url" json:"github_url"`
	GistURL   string `mapstructure:"gist_url" toml:"gist_url" yaml:"gist_url" json:"gist_url"`
	S3URL     string `mapstructure:"s3_url" toml:"s3_url" yaml:"s3_url" json:"s3_url"`
	S3Region  string `mapstructure:"s3_region" toml:"s3_region" yaml:"s3_region" json:"s3_region"`
}

// IntakeConfig configures image intake.
type IntakeConfig struct {
	Concurrency int `mapstructure:"concurrency" toml:"concurrency" yaml:"concurrency" json:"concurrency"`
	MaxSizeMB   int `mapstructure:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb" json:"max_size_mb"`
}

// DaemonConfig configures the background daemon.
type DaemonConfig struct {
	Inbox           string        `mapstructure:"inbox" toml:"inbox" yaml:"inbox" json:"inbox"`
	Document        string        `mapstructure:"document" toml:"document" yaml:"document" json:"document"`
	Schedule        string        `mapstructure:"schedule" toml:"schedule" yaml:"schedule" json:"schedule"`
	SyncAfterImport bool          `mapstructure:"sync_after_import" toml:"sync_after_import" yaml:"sync_after_import" json:"sync_after_import"`
	Debounce        time.Duration `mapstructure:"debounce" toml:"debounce" yaml:"debounce" json:"debounce"`
}

// FeedConfig configures the status feed server.
type FeedConfig struct {
	Addr string `mapstructure:"addr" toml:"addr" yaml:"addr" json:"addr"`
}

// LoadOptions controls where Load looks.
type LoadOptions struct {
	// ConfigFile is read instead of searching the data directory.
	ConfigFile string

	// EnvFile is loaded into the environment first. Default ".env".
	EnvFile string

	// DataDir overrides DG_DATA_DIR and the default location.
	DataDir string
}

// DefaultDataDir returns the per-user data directory.
func DefaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "docgallery")
	}
	return ".docgallery"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("sync.token", "")
	v.SetDefault("sync.timeout", 60*time.Second)
	v.SetDefault("sync.rate_limit", 5.0)
	v.SetDefault("sync.burst", 5)
	v.SetDefault("sync.github_url", "")
	v.SetDefault("sync.gist_url", "")
	v.SetDefault("sync.s3_url", "")
	v.SetDefault("sync.s3_region", "")

	v.SetDefault("intake.concurrency", 4)
	v.SetDefault("intake.max_size_mb", 25)

	v.SetDefault("daemon.inbox", "")
	v.SetDefault("daemon.document", "Inbox")
	v.SetDefault("daemon.schedule", "@every 15m")
	v.SetDefault("daemon.sync_after_import", false)
	v.SetDefault("daemon.debounce", 500*time.Millisecond)

	v.SetDefault("feed.addr", "127.0.0.1:8787")
}

// Load builds the configuration.
func Load(opts LoadOptions) (*Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	dataDir := opts.DataDir
	if dataDir == "" {
		dataDir = os.Getenv(EnvPrefix + "_DATA_DIR")
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	v.SetDefault("data_dir", dataDir)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(dataDir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	cfg.File = v.ConfigFileUsed()

	if cfg.Daemon.Inbox == "" {
		cfg.Daemon.Inbox = filepath.Join(cfg.DataDir, "inbox")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerated and numeric fields.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", c.Log.Format)
	}
	if c.Sync.RateLimit < 0 || c.Sync.Burst < 0 {
		return fmt.Errorf("sync rate limit and burst must not be negative")
	}
	if c.Intake.Concurrency < 1 {
		return fmt.Errorf("intake concurrency must be at least 1")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data directory is empty")
	}
	return nil
}

// DBPath is the local store database.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "docgallery.db")
}

// LockPath is the cross-process sync lock.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "sync.lock")
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Sync.Token != "" {
		c.Sync.Token = "********"
	}
	return c
}

// Marshal renders the configuration as toml, yaml or json.
func (c *Config) Marshal(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "toml", "":
		return toml.Marshal(c)
	case "yaml", "yml":
		return yaml.Marshal(c)
	case "json":
		return json.MarshalIndent(c, "", "  ")
	}
	return nil, fmt.Errorf("unknown format %q (want toml, yaml or json)", format)
}
