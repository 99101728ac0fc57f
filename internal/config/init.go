package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

const fileHeader = `# loom configuration.
#
# Every key can be overridden by an environment variable: LOOM_ followed by
# the key in upper case with dots replaced by underscores, for example
# LOOM_REMOTE_DSN or LOOM_SYNC_MIN_INTERVAL. Durations use Go syntax: 30s, 5m.
#
# remote.dsn selects the backend:
#   file:loom.db or loom.db             local SQLite
#   libsql://<db>.turso.io              Turso (auth_token required)
#   postgres://user@host/db             PostgreSQL

`

// fileConfig mirrors Config with durations as strings, the form users
// write by hand.
type fileConfig struct {
	Local struct {
		Root     string `toml:"root"`
		StateDir string `toml:"state_dir"`
	} `toml:"local"`
	Session struct {
		CreatorID int64 `toml:"creator_id"`
	} `toml:"session"`
	Remote struct {
		DSN       string `toml:"dsn"`
		AuthToken string `toml:"auth_token"`
	} `toml:"remote"`
	Sync struct {
		Enabled          bool   `toml:"enabled"`
		MinInterval      string `toml:"min_interval"`
		Interval         string `toml:"interval"`
		Timeout          string `toml:"timeout"`
		DryRun           bool   `toml:"dry_run"`
		AllowEmptyDelete bool   `toml:"allow_empty_delete"`
		PruneChildren    bool   `toml:"prune_children"`
		HistoryKeep      int    `toml:"history_keep"`
	} `toml:"sync"`
	Daemon struct {
		Debounce string `toml:"debounce"`
	} `toml:"daemon"`
	Dashboard struct {
		Host string `toml:"host"`
		Port int    `toml:"port"`
	} `toml:"dashboard"`
	Log struct {
		File       string `toml:"file"`
		Level      string `toml:"level"`
		Format     string `toml:"format"`
		MaxSizeMB  int    `toml:"max_size_mb"`
		MaxBackups int    `toml:"max_backups"`
		MaxAgeDays int    `toml:"max_age_days"`
		Compress   bool   `toml:"compress"`
	} `toml:"log"`
}

func toFile(c Config) fileConfig {
	var f fileConfig
	f.Local.Root = c.Local.Root
	f.Local.StateDir = c.Local.StateDir
	f.Session.CreatorID = c.Session.CreatorID
	f.Remote.DSN = c.Remote.DSN
	f.Remote.AuthToken = c.Remote.AuthToken
	f.Sync.Enabled = c.Sync.Enabled
	f.Sync.MinInterval = c.Sync.MinInterval.String()
	f.Sync.Interval = c.Sync.Interval.String()
	f.Sync.Timeout = c.Sync.Timeout.String()
	f.Sync.DryRun = c.Sync.DryRun
	f.Sync.AllowEmptyDelete = c.Sync.AllowEmptyDelete
	f.Sync.PruneChildren = c.Sync.PruneChildren
	f.Sync.HistoryKeep = c.Sync.HistoryKeep
	f.Daemon.Debounce = c.Daemon.Debounce.String()
	f.Dashboard.Host = c.Dashboard.Host
	f.Dashboard.Port = c.Dashboard.Port
	f.Log.File = c.Log.File
	f.Log.Level = c.Log.Level
	f.Log.Format = c.Log.Format
	f.Log.MaxSizeMB = c.Log.MaxSizeMB
	f.Log.MaxBackups = c.Log.MaxBackups
	f.Log.MaxAgeDays = c.Log.MaxAgeDays
	f.Log.Compress = c.Log.Compress
	return f
}

// Encode renders c as a commented TOML file.
func Encode(c Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(fileHeader)
	if err := toml.NewEncoder(&buf).Encode(toFile(c)); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return buf.Bytes(), nil
}

// ErrExists is returned by WriteDefault when the file exists and force is
// not set.
var ErrExists = errors.New("config file already exists")

// WriteDefault writes the default configuration to path.
func WriteDefault(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%w: %s", ErrExists, path)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	data, err := Encode(Default())
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
