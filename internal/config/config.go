// Package config loads promptscope settings from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rcliao/promptscope/internal/matcher"
	"github.com/rcliao/promptscope/internal/tokenizer"
)

// Environment variables.
const (
	EnvConfig    = "PROMPTSCOPE_CONFIG"
	EnvDB        = "PROMPTSCOPE_DB"
	EnvTokenizer = "PROMPTSCOPE_TOKENIZER_URL"
	EnvVerbose   = "PROMPTSCOPE_VERBOSE"
)

// Config holds all promptscope configuration.
type Config struct {
	// Matcher defaults applied when an entry has no override.
	Matcher matcher.Options `yaml:"matcher"`

	// Capture settings for the world-info debug log
	Capture CaptureConfig `yaml:"capture"`

	Tokenizer tokenizer.Config `yaml:"tokenizer"`

	Hook HookConfig `yaml:"hook"`

	Store StoreConfig `yaml:"store"`

	Logging LoggingConfig `yaml:"logging"`
}

// CaptureConfig configures the debug log capture.
type CaptureConfig struct {
	Prefix string `yaml:"prefix"`
}

// HookConfig configures attaching to the host's fragment hook.
type HookConfig struct {
	MaxAttempts  int    `yaml:"max_attempts"`
	InitialDelay string `yaml:"initial_delay"`
	MaxDelay     string `yaml:"max_delay"`
}

// StoreConfig configures report persistence.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level    string `yaml:"level"`    // debug, info, warn, error
	Encoding string `yaml:"encoding"` // json, console
	Verbose  bool   `yaml:"verbose"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Capture: CaptureConfig{Prefix: "[WI]"},
		Tokenizer: tokenizer.Config{
			Provider:      "estimate",
			CharsPerToken: tokenizer.DefaultCharsPerToken,
			CacheSize:     1024,
			Timeout:       "30s",
		},
		Hook: HookConfig{
			MaxAttempts:  5,
			InitialDelay: "100ms",
			MaxDelay:     "2s",
		},
		Store:   StoreConfig{Path: filepath.Join(home, ".promptscope", "reports.db")},
		Logging: LoggingConfig{Level: "info", Encoding: "console"},
	}
}

// DefaultPath returns the config file location: $PROMPTSCOPE_CONFIG or
// ~/.promptscope/config.yaml.
func DefaultPath() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".promptscope", "config.yaml")
}

// Load reads configuration from path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes configuration to path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvDB); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvTokenizer); v != "" {
		c.Tokenizer.Provider = "http"
		c.Tokenizer.URL = v
	}
	if v := os.Getenv(EnvVerbose); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Logging.Verbose = b
		}
	}
}

// Validate checks durations and the tokenizer provider.
func (c *Config) Validate() error {
	for name, d := range map[string]string{
		"hook.initial_delay": c.Hook.InitialDelay,
		"hook.max_delay":     c.Hook.MaxDelay,
		"tokenizer.timeout":  c.Tokenizer.Timeout,
	} {
		if d == "" {
			continue
		}
		if _, err := time.ParseDuration(d); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, d, err)
		}
	}
	switch c.Tokenizer.Provider {
	case "", "estimate", "http":
	default:
		return fmt.Errorf("invalid tokenizer.provider %q (valid: estimate, http)", c.Tokenizer.Provider)
	}
	if c.Hook.MaxAttempts < 0 {
		return fmt.Errorf("invalid hook.max_attempts %d", c.Hook.MaxAttempts)
	}
	return nil
}

// HookDelays returns the parsed hook backoff delays.
func (c *Config) HookDelays() (initial, maxDelay time.Duration) {
	initial, maxDelay = 100*time.Millisecond, 2*time.Second
	if d, err := time.ParseDuration(c.Hook.InitialDelay); err == nil {
		initial = d
	}
	if d, err := time.ParseDuration(c.Hook.MaxDelay); err == nil {
		maxDelay = d
	}
	return initial, maxDelay
}
