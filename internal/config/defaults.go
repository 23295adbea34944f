package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pomosync/pomosync/internal/remote"
)

// Default values.
const (
	DefaultProbeInterval = 15 * time.Second
	DefaultDebounce      = 500 * time.Millisecond
	DefaultDashboardPort = 8080
)

// DefaultDataDir returns ~/.pomosync, or .pomosync when there is no home
// directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pomosync"
	}
	return filepath.Join(home, ".pomosync")
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir(),
		Remote: RemoteConfig{
			URL: remote.DefaultBaseURL,
		},
		Log: LogConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Daemon: DaemonConfig{
			ProbeInterval: DefaultProbeInterval,
			Debounce:      DefaultDebounce,
		},
		Dashboard: DashboardConfig{
			Port: DefaultDashboardPort,
		},
	}
}

// Write writes cfg as TOML to path. An existing file is left alone unless
// force is set.
func Write(path string, cfg *Config, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("# pomosync configuration\n\n"); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(tree(cfg)); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// tree renders cfg with the same keys Load reads. Durations are written as
// strings ("15s") so the file stays readable.
func tree(cfg *Config) map[string]any {
	logTable := map[string]any{
		"max_size_mb":  cfg.Log.MaxSizeMB,
		"max_backups":  cfg.Log.MaxBackups,
		"max_age_days": cfg.Log.MaxAgeDays,
		"verbose":      cfg.Log.Verbose,
	}
	if cfg.Log.File != "" {
		logTable["file"] = cfg.Log.File
	}
	return map[string]any{
		"data_dir": cfg.DataDir,
		"remote": map[string]any{
			"url":     cfg.Remote.URL,
			"timeout": cfg.Remote.Timeout.String(),
		},
		"log": logTable,
		"daemon": map[string]any{
			"probe_interval": cfg.Daemon.ProbeInterval.String(),
			"debounce":       cfg.Daemon.Debounce.String(),
		},
		"dashboard": map[string]any{
			"port": cfg.Dashboard.Port,
		},
	}
}
