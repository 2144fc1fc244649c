package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/steerage-ai/steerage/pkg/models"
)

func validConfig() *Config {
	cfg := Default()
	cfg.Providers = []ProviderConfig{
		{Name: "modal", APIKey: "mk-1", Models: []ModelConfig{{Name: "llama-4", Tier: models.TierStandard}}},
	}
	return cfg
}

func TestValidateNoProviders(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty provider list")
	}
}

func TestValidateNoCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when no provider has credentials")
	}
}

func TestValidateBadTier(t *testing.T) {
	cfg := validConfig()
	cfg.Providers[0].Models[0].Tier = "platinum"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown tier")
	}
}

func TestValidateCooldownBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Cooldown.Max = cfg.Cooldown.Base / 2
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when cooldown max is below base")
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "steerage.yaml")
	data := `
listen: ":9999"
db_path: "test.db"
providers:
  - name: modal
    api_key: mk-1
    models:
      - name: llama-4
        tier: standard
      - name: llama-4-mini
        tier: lite
  - name: groq
    api_key: gk-2
    models:
      - name: mixtral
        tier: premium
limits:
  daily_requests: 100
  warning_pct: 80
cooldown:
  base: 500ms
  max: 4s
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9999" {
		t.Errorf("expected listen :9999, got %s", cfg.Listen)
	}
	if len(cfg.Providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(cfg.Providers))
	}
	if cfg.Limits.DailyRequests != 100 {
		t.Errorf("expected daily_requests 100, got %d", cfg.Limits.DailyRequests)
	}
	if cfg.Cooldown.Base != 500*time.Millisecond || cfg.Cooldown.Max != 4*time.Second {
		t.Errorf("unexpected cooldown config: %+v", cfg.Cooldown)
	}
	// Defaults survive a partial file.
	if cfg.Limits.WarningPct != 80 {
		t.Errorf("expected warning_pct 80, got %d", cfg.Limits.WarningPct)
	}
	if cfg.Pacing.Balanced != 750*time.Millisecond {
		t.Errorf("expected default balanced pacing, got %s", cfg.Pacing.Balanced)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DAILY_REQUEST_LIMIT", "42")
	t.Setenv("WARNING_THRESHOLD_PCT", "90")
	t.Setenv("COOLDOWN_BASE_MS", "250")
	t.Setenv("COOLDOWN_MAX_MS", "2000")

	cfg := Default()
	if err := applyEnvOverrides(cfg); err != nil {
		t.Fatal(err)
	}
	if cfg.Limits.DailyRequests != 42 {
		t.Errorf("expected 42, got %d", cfg.Limits.DailyRequests)
	}
	if cfg.Limits.WarningPct != 90 {
		t.Errorf("expected 90, got %d", cfg.Limits.WarningPct)
	}
	if cfg.Cooldown.Base != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %s", cfg.Cooldown.Base)
	}
	if cfg.Cooldown.Max != 2*time.Second {
		t.Errorf("expected 2s, got %s", cfg.Cooldown.Max)
	}
}

func TestEnvOverrideInvalidFailsFast(t *testing.T) {
	t.Setenv("DAILY_REQUEST_LIMIT", "not-a-number")

	cfg := Default()
	if err := applyEnvOverrides(cfg); err == nil {
		t.Fatal("expected error for non-numeric override")
	}
}

func TestPacingForClampedToMax(t *testing.T) {
	cfg := validConfig()
	cfg.Pacing.Economy = time.Minute
	cfg.Pacing.Max = 5 * time.Second

	if got := cfg.PacingFor(models.ProfileEconomy); got != 5*time.Second {
		t.Errorf("expected clamp to 5s, got %s", got)
	}
	if got := cfg.PacingFor(models.ProfilePerformance); got != 0 {
		t.Errorf("expected 0 pacing for performance, got %s", got)
	}
}
