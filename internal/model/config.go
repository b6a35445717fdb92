package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// EngineConfig holds the tunables for the sync engine: protocol client
// limits and the orchestrator's fallback fetch size.
type EngineConfig struct {
	// PageSize is the number of items requested per listing page.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`

	// MaxPages caps how many pages a single listing or delta call may
	// follow before failing, as a guard against pagination loops.
	MaxPages int `mapstructure:"max_pages" yaml:"max_pages"`

	// TransientRetries is how many times a read-only call is retried
	// after a network failure. Mutations are never retried.
	TransientRetries int `mapstructure:"transient_retries" yaml:"transient_retries"`

	// RateLimitRetries is how many times a rate-limited call is retried.
	RateLimitRetries int `mapstructure:"rate_limit_retries" yaml:"rate_limit_retries"`

	// RetryAfterClampSec caps the server-suggested rate-limit wait.
	RetryAfterClampSec int `mapstructure:"retry_after_clamp_sec" yaml:"retry_after_clamp_sec"`

	// FallbackFetchCount is how many recent messages a full fetch pulls
	// when no delta cursor is available.
	FallbackFetchCount int `mapstructure:"fallback_fetch_count" yaml:"fallback_fetch_count"`

	// HTTPTimeoutSec is the per-request connect/read timeout.
	HTTPTimeoutSec int `mapstructure:"http_timeout_sec" yaml:"http_timeout_sec"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailcache/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailcache", "config.yaml")
}

// defaultEngineConfig returns a sensible default configuration.
func defaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		PageSize:           50,
		MaxPages:           20,
		TransientRetries:   2,
		RateLimitRetries:   3,
		RetryAfterClampSec: 30,
		FallbackFetchCount: 100,
		HTTPTimeoutSec:     30,
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*EngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("page_size", 50)
	v.SetDefault("max_pages", 20)
	v.SetDefault("transient_retries", 2)
	v.SetDefault("rate_limit_retries", 3)
	v.SetDefault("retry_after_clamp_sec", 30)
	v.SetDefault("fallback_fetch_count", 100)
	v.SetDefault("http_timeout_sec", 30)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultEngineConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultEngineConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultEngineConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *EngineConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("page_size", cfg.PageSize)
	v.Set("max_pages", cfg.MaxPages)
	v.Set("transient_retries", cfg.TransientRetries)
	v.Set("rate_limit_retries", cfg.RateLimitRetries)
	v.Set("retry_after_clamp_sec", cfg.RetryAfterClampSec)
	v.Set("fallback_fetch_count", cfg.FallbackFetchCount)
	v.Set("http_timeout_sec", cfg.HTTPTimeoutSec)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
