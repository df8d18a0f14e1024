package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// SourceConfig is a configured instance of an adapter. It is created and
// edited by configuration management and is read-only to the engine for
// the duration of a poll cycle.
type SourceConfig struct {
	// ID is the unique identifier for this source instance.
	ID string `mapstructure:"id" yaml:"id"`

	// Type identifies the adapter kind (e.g., "rss", "slack", "teams").
	Type string `mapstructure:"type" yaml:"type"`

	// Name is the user-defined label for this source instance.
	Name string `mapstructure:"name" yaml:"name"`

	// Enabled controls whether this source is actively polled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PollIntervalSec is how often (in seconds) to poll the source.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// Config holds adapter-specific settings, validated against the
	// adapter's declared config fields. Secret-typed values hold the
	// name of a secret, resolved through the secret resolver at use.
	Config map[string]any `mapstructure:"config" yaml:"config"`

	// Filter, when set, overrides the adapter's default filter for
	// this source.
	Filter []FilterCondition `mapstructure:"filter" yaml:"filter,omitempty"`
}

// ConfigString returns a string config value, or "" when absent.
func (s SourceConfig) ConfigString(key string) string {
	v, ok := s.Config[key]
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ConfigBool returns a boolean config value, or false when absent.
func (s SourceConfig) ConfigBool(key string) bool {
	v, ok := s.Config[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// ConfigInt returns an integer config value, or def when absent or not
// numeric.
func (s SourceConfig) ConfigInt(key string, def int) int {
	v, ok := s.Config[key]
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	default:
		return def
	}
}

// EngineConfig holds engine-wide settings.
type EngineConfig struct {
	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// PollIntervalSec is the default interval for sources that do not
	// set their own.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Engine  EngineConfig   `mapstructure:"engine" yaml:"engine"`
	Sources []SourceConfig `mapstructure:"sources" yaml:"sources"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/taskwire/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "taskwire", "config.yaml")
}

// DefaultDBPath returns the default SQLite database path.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "taskwire.db")
	}
	return filepath.Join(home, ".config", "taskwire", "taskwire.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Engine: EngineConfig{
			DBPath:          DefaultDBPath(),
			PollIntervalSec: 120,
		},
		Sources: []SourceConfig{},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("engine.db_path", DefaultDBPath())
	v.SetDefault("engine.poll_interval_sec", 120)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each source entry.
	for i := range cfg.Sources {
		if cfg.Sources[i].PollIntervalSec == 0 {
			cfg.Sources[i].PollIntervalSec = cfg.Engine.PollIntervalSec
		}
		if !cfg.Sources[i].Enabled {
			// Viper unmarshals missing bools as false; treat unset as true.
			key := fmt.Sprintf("sources.%d.enabled", i)
			if !v.IsSet(key) {
				cfg.Sources[i].Enabled = true
			}
		}
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("engine", cfg.Engine)
	v.Set("sources", cfg.Sources)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
