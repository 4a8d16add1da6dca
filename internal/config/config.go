// Package config holds all chunkmerge configuration, loaded from an optional
// YAML file with environment variable overrides. Flags set on the command
// line take precedence over everything here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all chunkmerge configuration.
type Config struct {
	// Merge defaults
	Merge MergeConfig `yaml:"merge"`

	// Watch mode settings
	Watch WatchConfig `yaml:"watch"`

	// Run ledger settings
	History HistoryConfig `yaml:"history"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// MergeConfig configures the aggregator defaults.
type MergeConfig struct {
	Dir        string `yaml:"dir"`
	Pattern    string `yaml:"pattern"`
	OutputName string `yaml:"output"`
	Delimiter  string `yaml:"delimiter"`
	Jobs       int    `yaml:"jobs"`
}

// WatchConfig configures watch mode.
type WatchConfig struct {
	Debounce string `yaml:"debounce"`
}

// HistoryConfig configures the run ledger.
type HistoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Merge: MergeConfig{
			Dir:        ".",
			Pattern:    "*.json",
			OutputName: "merged.json",
			Delimiter:  "\n\n",
			Jobs:       1,
		},
		Watch: WatchConfig{
			Debounce: "500ms",
		},
		History: HistoryConfig{
			Enabled:      false,
			DatabasePath: "",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config file location (~/.chunkmerge.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".chunkmerge.yaml"
	}
	return filepath.Join(home, ".chunkmerge.yaml")
}

// Load loads configuration from a YAML file. A missing file is not an
// error; defaults apply and environment overrides are still honored.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("CHUNKMERGE_DIR"); dir != "" {
		c.Merge.Dir = dir
	}
	if pattern := os.Getenv("CHUNKMERGE_PATTERN"); pattern != "" {
		c.Merge.Pattern = pattern
	}
	if output := os.Getenv("CHUNKMERGE_OUTPUT"); output != "" {
		c.Merge.OutputName = output
	}
	if jobs := os.Getenv("CHUNKMERGE_JOBS"); jobs != "" {
		if n, err := strconv.Atoi(jobs); err == nil && n > 0 {
			c.Merge.Jobs = n
		}
	}
	if path := os.Getenv("CHUNKMERGE_HISTORY_DB"); path != "" {
		c.History.Enabled = true
		c.History.DatabasePath = path
	}
}

// GetDebounce returns the watch debounce window as a duration.
func (c *Config) GetDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// ValidLevels lists all supported log levels.
var ValidLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Merge.OutputName == "" {
		return fmt.Errorf("merge output name must not be empty")
	}
	if filepath.Base(c.Merge.OutputName) != c.Merge.OutputName {
		return fmt.Errorf("merge output name must be a bare filename, got %q", c.Merge.OutputName)
	}
	if _, err := filepath.Match(c.Merge.Pattern, "probe"); err != nil {
		return fmt.Errorf("invalid merge pattern %q: %w", c.Merge.Pattern, err)
	}
	if c.Merge.Jobs < 1 {
		return fmt.Errorf("merge jobs must be >= 1, got %d", c.Merge.Jobs)
	}
	if c.History.Enabled && c.History.DatabasePath == "" {
		return fmt.Errorf("history enabled but database_path not set")
	}

	validLevel := false
	for _, l := range ValidLevels {
		if c.Logging.Level == l {
			validLevel = true
			break
		}
	}
	if !validLevel {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLevels)
	}

	return nil
}
