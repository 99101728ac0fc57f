// Package config loads loom's configuration from loom.toml, LOOM_*
// environment variables and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration file searched for, without extension.
const FileName = "loom"

// EnvPrefix prefixes every environment override: LOOM_REMOTE_DSN sets
// remote.dsn.
const EnvPrefix = "LOOM"

// Config is the full configuration.
type Config struct {
	Local     LocalConfig     `mapstructure:"local"`
	Session   SessionConfig   `mapstructure:"session"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
}

type LocalConfig struct {
	// Root holds one directory per project.
	Root string `mapstructure:"root"`
	// StateDir holds sync history and the lock file. Defaults to
	// <root>/.loom.
	StateDir string `mapstructure:"state_dir"`
}

type SessionConfig struct {
	// CreatorID is the authenticated creator. Zero means logged out.
	CreatorID int64 `mapstructure:"creator_id"`
}

type RemoteConfig struct {
	DSN       string `mapstructure:"dsn"`
	AuthToken string `mapstructure:"auth_token"`
}

type SyncConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	MinInterval      time.Duration `mapstructure:"min_interval"`
	Interval         time.Duration `mapstructure:"interval"`
	Timeout          time.Duration `mapstructure:"timeout"`
	DryRun           bool          `mapstructure:"dry_run"`
	AllowEmptyDelete bool          `mapstructure:"allow_empty_delete"`
	PruneChildren    bool          `mapstructure:"prune_children"`
	// HistoryKeep bounds the sync history file; 0 keeps everything.
	HistoryKeep int `mapstructure:"history_keep"`
}

type DaemonConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

type DashboardConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type LogConfig struct {
	File       string `mapstructure:"file"`
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Local: LocalConfig{Root: "projects"},
		Sync: SyncConfig{
			Enabled:     true,
			MinInterval: 30 * time.Second,
			Interval:    5 * time.Minute,
			Timeout:     2 * time.Minute,
			HistoryKeep: 500,
		},
		Daemon:    DaemonConfig{Debounce: 500 * time.Millisecond},
		Dashboard: DashboardConfig{Host: "127.0.0.1", Port: 8765},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// defaults flattens Default into viper keys. Every key needs a default for
// AutomaticEnv to reach it during Unmarshal.
func defaults() map[string]any {
	d := Default()
	return map[string]any{
		"local.root":              d.Local.Root,
		"local.state_dir":         d.Local.StateDir,
		"session.creator_id":      d.Session.CreatorID,
		"remote.dsn":              d.Remote.DSN,
		"remote.auth_token":       d.Remote.AuthToken,
		"sync.enabled":            d.Sync.Enabled,
		"sync.min_interval":       d.Sync.MinInterval,
		"sync.interval":           d.Sync.Interval,
		"sync.timeout":            d.Sync.Timeout,
		"sync.dry_run":            d.Sync.DryRun,
		"sync.allow_empty_delete": d.Sync.AllowEmptyDelete,
		"sync.prune_children":     d.Sync.PruneChildren,
		"sync.history_keep":       d.Sync.HistoryKeep,
		"daemon.debounce":         d.Daemon.Debounce,
		"dashboard.host":          d.Dashboard.Host,
		"dashboard.port":          d.Dashboard.Port,
		"log.file":                d.Log.File,
		"log.level":               d.Log.Level,
		"log.format":              d.Log.Format,
		"log.max_size_mb":         d.Log.MaxSizeMB,
		"log.max_backups":         d.Log.MaxBackups,
		"log.max_age_days":        d.Log.MaxAgeDays,
		"log.compress":            d.Log.Compress,
	}
}

// NewViper returns a viper instance with defaults and environment
// overrides registered. Callers bind their flags to it before Load.
func NewViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults() {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// SearchPaths lists the directories searched for loom.toml.
func SearchPaths() []string {
	paths := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(paths, filepath.Join(dir, "loom"))
	}
	return paths
}

// Load reads the configuration file into v and decodes the result. An
// explicit path must exist; otherwise a missing file is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("toml")
		for _, p := range SearchPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.Local.StateDir == "" {
		cfg.Local.StateDir = filepath.Join(cfg.Local.Root, ".loom")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values viper cannot type-check.
func (c *Config) Validate() error {
	var errs []error
	if c.Local.Root == "" {
		errs = append(errs, errors.New("local.root must be set"))
	}
	if c.Session.CreatorID < 0 {
		errs = append(errs, errors.New("session.creator_id must not be negative"))
	}
	if c.Sync.MinInterval < 0 {
		errs = append(errs, errors.New("sync.min_interval must not be negative"))
	}
	if c.Sync.Interval <= 0 {
		errs = append(errs, errors.New("sync.interval must be positive"))
	}
	if c.Sync.Timeout <= 0 {
		errs = append(errs, errors.New("sync.timeout must be positive"))
	}
	if c.Daemon.Debounce <= 0 {
		errs = append(errs, errors.New("daemon.debounce must be positive"))
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// HasSession reports whether a creator is logged in.
func (c *Config) HasSession() bool {
	return c.Session.CreatorID > 0
}
