// Package config holds the Context Assembly Pipeline's configuration tree,
// loaded from JSON or YAML and overridden from the environment. The shape
// and the Load/Save/applyEnvOverrides split follow the teacher's
// internal/config/config.go; the fields themselves are specific to the
// control plane, storage, budget, and cache concerns this module actually
// has (spec §6 "Environment").
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ControlPlaneConfig configures the gateway client (spec §4.2).
type ControlPlaneConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	Token          string `yaml:"token" json:"token"`
	RequestTimeout string `yaml:"request_timeout" json:"request_timeout"`
	RetryBackoff   string `yaml:"retry_backoff" json:"retry_backoff"`
}

// StorageConfig configures the local fallback store (spec §4.1).
type StorageConfig struct {
	BaseDir string `yaml:"base_dir" json:"base_dir"`
}

// BudgetConfig configures the assembler's default budget and deadlines
// (spec §4.5).
type BudgetConfig struct {
	TokenBudget        int `yaml:"token_budget" json:"token_budget"`
	PerSourceTimeoutMs int `yaml:"per_source_timeout_ms" json:"per_source_timeout_ms"`
	OverallTimeoutMs   int `yaml:"overall_timeout_ms" json:"overall_timeout_ms"`
}

// CacheConfig configures the external-docs cache (spec §4.4).
type CacheConfig struct {
	RootDir    string `yaml:"root_dir" json:"root_dir"`
	TTLSeconds int    `yaml:"ttl_seconds" json:"ttl_seconds"`
	MaxEntries int    `yaml:"max_entries" json:"max_entries"`
}

// Config holds every knob the pipeline needs.
type Config struct {
	ControlPlane ControlPlaneConfig `yaml:"control_plane" json:"control_plane"`
	Storage      StorageConfig      `yaml:"storage" json:"storage"`
	Budget       BudgetConfig       `yaml:"budget" json:"budget"`
	Cache        CacheConfig        `yaml:"cache" json:"cache"`
}

// DefaultConfig returns the configuration spec §4.2/§4.5/§4.4 name as
// defaults.
func DefaultConfig() *Config {
	return &Config{
		ControlPlane: ControlPlaneConfig{
			BaseURL:        "http://127.0.0.1:8900",
			RequestTimeout: "10s",
			RetryBackoff:   "250ms",
		},
		Storage: StorageConfig{
			BaseDir: defaultStorageBaseDir(),
		},
		Budget: BudgetConfig{
			TokenBudget:        8000,
			PerSourceTimeoutMs: 2500,
			OverallTimeoutMs:   6000,
		},
		Cache: CacheConfig{
			RootDir:    defaultCacheRootDir(),
			TTLSeconds: 3600,
			MaxEntries: 500,
		},
	}
}

func defaultStorageBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".something-wicked")
}

func defaultCacheRootDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".something-wicked", "wicked-smaht", "cache")
}

// Load reads configuration from a YAML (or JSON, which parses as YAML)
// file at path, falling back to defaults if the file does not exist, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path as YAML.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: mkdir %s: %w", dir, err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides applies the three environment variables named in
// spec §6 ("Environment").
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WICKED_CP_URL"); v != "" {
		c.ControlPlane.BaseURL = v
	}
	if v := os.Getenv("WICKED_CP_TOKEN"); v != "" {
		c.ControlPlane.Token = v
	}
	if v := os.Getenv("WICKED_STORAGE_BASE"); v != "" {
		c.Storage.BaseDir = v
	}
}

// RequestTimeout returns the control-plane per-request deadline as a
// duration, defaulting to 10s on a malformed value.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.ControlPlane.RequestTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// RetryBackoff returns the control-plane single-retry back-off as a
// duration, defaulting to 250ms on a malformed value.
func (c *Config) RetryBackoff() time.Duration {
	d, err := time.ParseDuration(c.ControlPlane.RetryBackoff)
	if err != nil {
		return 250 * time.Millisecond
	}
	return d
}

// PerSourceTimeout returns the assembler's per-adapter deadline.
func (c *Config) PerSourceTimeout() time.Duration {
	if c.Budget.PerSourceTimeoutMs <= 0 {
		return 2500 * time.Millisecond
	}
	return time.Duration(c.Budget.PerSourceTimeoutMs) * time.Millisecond
}

// OverallTimeout returns the assembler's overall deadline.
func (c *Config) OverallTimeout() time.Duration {
	if c.Budget.OverallTimeoutMs <= 0 {
		return 6000 * time.Millisecond
	}
	return time.Duration(c.Budget.OverallTimeoutMs) * time.Millisecond
}

// CacheTTL returns the EDC entry TTL.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTLSeconds <= 0 {
		return 3600 * time.Second
	}
	return time.Duration(c.Cache.TTLSeconds) * time.Second
}
