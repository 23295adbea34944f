// Package config loads pomosync configuration from defaults, an optional
// config file in the data directory, POMOSYNC_* environment variables and
// command-line flags, in increasing order of precedence.
package config

import (
	"path/filepath"
	"time"
)

// Config is the full pomosync configuration.
type Config struct {
	// DataDir holds the local store, the log file and the config file.
	DataDir string `mapstructure:"data_dir"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	Log       LogConfig       `mapstructure:"log"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// RemoteConfig configures the account API client.
type RemoteConfig struct {
	URL string `mapstructure:"url"`

	// Timeout bounds each request. Zero means no timeout.
	Timeout time.Duration `mapstructure:"timeout"`
}

// LogConfig configures the rotating log file.
type LogConfig struct {
	// File defaults to pomosync.log in the data directory.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`

	// Verbose also copies log output to stderr.
	Verbose bool `mapstructure:"verbose"`
}

// DaemonConfig configures the background sync daemon.
type DaemonConfig struct {
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	Debounce      time.Duration `mapstructure:"debounce"`
}

// DashboardConfig configures the websocket event feed.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// StorePath returns the path of the local database.
func (c *Config) StorePath() string {
	return filepath.Join(c.DataDir, "local.db")
}

// LogPath returns the log file path.
func (c *Config) LogPath() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, "pomosync.log")
}

// FilePath returns the path `config init` writes to.
func (c *Config) FilePath() string {
	return filepath.Join(c.DataDir, "config.toml")
}
