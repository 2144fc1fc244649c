package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steerage-ai/steerage/pkg/models"
)

// Config holds all steerage configuration.
type Config struct {
	Listen         string           `yaml:"listen"`
	DBPath         string           `yaml:"db_path"`
	AttemptTimeout time.Duration    `yaml:"attempt_timeout"`
	Providers      []ProviderConfig `yaml:"providers"`
	Limits         LimitsConfig     `yaml:"limits"`
	Cooldown       CooldownConfig   `yaml:"cooldown"`
	Pacing         PacingConfig     `yaml:"pacing"`
}

// ProviderConfig defines one upstream provider in priority order. Providers
// earlier in the list are tried first.
type ProviderConfig struct {
	Name   string        `yaml:"name"`
	APIKey string        `yaml:"api_key"`
	Models []ModelConfig `yaml:"models"`
}

// HasCredentials reports whether the provider can be called at all.
func (p ProviderConfig) HasCredentials() bool {
	return p.APIKey != ""
}

// ModelConfig defines one model offered by a provider.
type ModelConfig struct {
	Name string           `yaml:"name"`
	Tier models.ModelTier `yaml:"tier"`
}

// LimitsConfig holds the usage thresholds the governor classifies against.
// A limit of 0 disables that dimension.
type LimitsConfig struct {
	DailyRequests    int64 `yaml:"daily_requests"`
	DailyTokens      int64 `yaml:"daily_tokens"`
	SessionRequests  int64 `yaml:"session_requests"`
	ProviderRequests int64 `yaml:"provider_requests"`
	WarningPct       int   `yaml:"warning_pct"`
}

// CooldownConfig controls provider circuit backoff.
type CooldownConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

// PacingConfig holds per-profile pacing delays for intelligent pacing mode.
// Max bounds any single sleep so failovers cannot stack unbounded latency.
type PacingConfig struct {
	Economy     time.Duration `yaml:"economy"`
	Balanced    time.Duration `yaml:"balanced"`
	Performance time.Duration `yaml:"performance"`
	Max         time.Duration `yaml:"max"`
}

// Default returns a Config with compiled-in defaults.
func Default() *Config {
	return &Config{
		Listen:         ":8090",
		DBPath:         "steerage.db",
		AttemptTimeout: 60 * time.Second,
		Limits: LimitsConfig{
			DailyRequests:    500,
			DailyTokens:      2_000_000,
			SessionRequests:  100,
			ProviderRequests: 200,
			WarningPct:       80,
		},
		Cooldown: CooldownConfig{
			Base: time.Second,
			Max:  8 * time.Second,
		},
		Pacing: PacingConfig{
			Economy:     2 * time.Second,
			Balanced:    750 * time.Millisecond,
			Performance: 0,
			Max:         10 * time.Second,
		},
	}
}

// Load reads a YAML config file, expands environment variables in it,
// applies the environment overrides, and validates. Invalid values fail
// here, at startup, not per-request.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	overrides := []struct {
		name  string
		apply func(int64)
	}{
		{"DAILY_REQUEST_LIMIT", func(v int64) { cfg.Limits.DailyRequests = v }},
		{"DAILY_TOKEN_LIMIT", func(v int64) { cfg.Limits.DailyTokens = v }},
		{"SESSION_REQUEST_LIMIT", func(v int64) { cfg.Limits.SessionRequests = v }},
		{"PER_PROVIDER_REQUEST_LIMIT", func(v int64) { cfg.Limits.ProviderRequests = v }},
		{"WARNING_THRESHOLD_PCT", func(v int64) { cfg.Limits.WarningPct = int(v) }},
		{"COOLDOWN_BASE_MS", func(v int64) { cfg.Cooldown.Base = time.Duration(v) * time.Millisecond }},
		{"COOLDOWN_MAX_MS", func(v int64) { cfg.Cooldown.Max = time.Duration(v) * time.Millisecond }},
	}
	for _, o := range overrides {
		raw := os.Getenv(o.name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", o.name, raw, err)
		}
		o.apply(v)
	}
	return nil
}

// Validate checks the configuration is usable. It fails fast if no provider
// has credentials, so a misconfigured gateway never discovers this
// per-request.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("no providers configured")
	}
	credentialed := 0
	seen := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = true
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %q has no models", p.Name)
		}
		for _, m := range p.Models {
			if m.Name == "" {
				return fmt.Errorf("provider %q has a model with empty name", p.Name)
			}
			if m.Tier != "" {
				if _, err := models.ParseTier(string(m.Tier)); err != nil {
					return fmt.Errorf("provider %q model %q: %w", p.Name, m.Name, err)
				}
			}
		}
		if p.HasCredentials() {
			credentialed++
		}
	}
	if credentialed == 0 {
		return fmt.Errorf("no provider has credentials configured; set at least one api_key")
	}

	if c.Limits.WarningPct <= 0 || c.Limits.WarningPct > 100 {
		return fmt.Errorf("warning_pct must be in (0, 100], got %d", c.Limits.WarningPct)
	}
	if c.Limits.DailyRequests < 0 || c.Limits.DailyTokens < 0 ||
		c.Limits.SessionRequests < 0 || c.Limits.ProviderRequests < 0 {
		return fmt.Errorf("limits must be non-negative")
	}
	if c.Cooldown.Base <= 0 {
		return fmt.Errorf("cooldown base must be positive, got %s", c.Cooldown.Base)
	}
	if c.Cooldown.Max < c.Cooldown.Base {
		return fmt.Errorf("cooldown max %s is below base %s", c.Cooldown.Max, c.Cooldown.Base)
	}
	if c.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt_timeout must be positive, got %s", c.AttemptTimeout)
	}
	if c.Pacing.Max <= 0 {
		return fmt.Errorf("pacing max must be positive, got %s", c.Pacing.Max)
	}
	return nil
}

// PacingFor returns the pacing delay for a profile, bounded by Pacing.Max.
func (c *Config) PacingFor(p models.Profile) time.Duration {
	var d time.Duration
	switch p {
	case models.ProfileEconomy:
		d = c.Pacing.Economy
	case models.ProfileBalanced:
		d = c.Pacing.Balanced
	default:
		d = c.Pacing.Performance
	}
	if d > c.Pacing.Max {
		d = c.Pacing.Max
	}
	if d < 0 {
		d = 0
	}
	return d
}

// Provider looks up a provider by name.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
