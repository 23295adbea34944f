package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides: POMOSYNC_DATA_DIR,
// POMOSYNC_REMOTE_URL, POMOSYNC_LOG_VERBOSE and so on.
const EnvPrefix = "POMOSYNC"

// New returns a viper instance carrying every default and reading the
// environment. Callers bind flags to it before calling Load.
func New() *viper.Viper {
	def := DefaultConfig()
	v := viper.New()

	v.SetDefault("data_dir", def.DataDir)
	v.SetDefault("remote.url", def.Remote.URL)
	v.SetDefault("remote.timeout", def.Remote.Timeout)
	v.SetDefault("log.file", def.Log.File)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
	v.SetDefault("log.verbose", def.Log.Verbose)
	v.SetDefault("daemon.probe_interval", def.Daemon.ProbeInterval)
	v.SetDefault("daemon.debounce", def.Daemon.Debounce)
	v.SetDefault("dashboard.port", def.Dashboard.Port)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration through v. With configFile empty it looks for
// config.toml, config.yaml or config.json in the data directory; a missing
// file is not an error.
func Load(v *viper.Viper, configFile string) (*Config, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(expandHome(v.GetString("data_dir")))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Log.File = expandHome(cfg.Log.File)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later and obscurely.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir cannot be empty")
	}
	if c.Remote.URL == "" {
		return fmt.Errorf("remote.url cannot be empty")
	}
	if c.Remote.Timeout < 0 {
		return fmt.Errorf("remote.timeout cannot be negative")
	}
	if c.Daemon.ProbeInterval <= 0 {
		return fmt.Errorf("daemon.probe_interval must be positive")
	}
	if c.Daemon.Debounce < 0 {
		return fmt.Errorf("daemon.debounce cannot be negative")
	}
	if c.Dashboard.Port < 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port %d is out of range", c.Dashboard.Port)
	}
	return nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
