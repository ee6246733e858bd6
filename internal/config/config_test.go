package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv(configPathEnv, "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := len(cfg.Pipeline.Research.Lanes); got != 6 {
		t.Fatalf("lanes: got %d want 6", got)
	}
	if cfg.Pipeline.Research.Quorum != 3 {
		t.Fatalf("quorum: got %d", cfg.Pipeline.Research.Quorum)
	}
	if cfg.Pipeline.GlobalTimeout != 600*time.Second {
		t.Fatalf("global timeout: got %s", cfg.Pipeline.GlobalTimeout)
	}
	if cfg.Billing.RefillInterval != 7*24*time.Hour {
		t.Fatalf("refill interval: got %s", cfg.Billing.RefillInterval)
	}
	if len(cfg.Pipeline.Sections.Groups) != 4 || len(cfg.Pipeline.Evaluation.Viewpoints) != 3 {
		t.Fatalf("unexpected topology: %+v", cfg.Pipeline)
	}
	if p, ok := cfg.Pack("pack_30"); !ok || p.Credits != 30 || p.PriceCents != 1200 {
		t.Fatalf("pack_30: %+v ok=%v", p, ok)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arfor.yaml")
	body := []byte("database:\n  driver: sqlite\npipeline:\n  research:\n    quorum: 2\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(configPathEnv, path)
	t.Setenv("ARFOR_MODEL", "test-model")
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Fatalf("driver: %q", cfg.Database.Driver)
	}
	if cfg.Pipeline.Research.Quorum != 2 {
		t.Fatalf("quorum: %d", cfg.Pipeline.Research.Quorum)
	}
	// File overlay keeps untouched defaults.
	if len(cfg.Pipeline.Research.Lanes) != 6 {
		t.Fatalf("lanes lost on overlay: %d", len(cfg.Pipeline.Research.Lanes))
	}
	if cfg.Pipeline.Arbitration.Model != "test-model" || cfg.Pipeline.Research.Model != "test-model" {
		t.Fatalf("model override not applied")
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("addr: %q", cfg.HTTP.Addr)
	}
	if len(cfg.HTTP.AllowedOrigins) != 2 || cfg.HTTP.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins: %v", cfg.HTTP.AllowedOrigins)
	}
}

func TestValidateRejectsBadQuorum(t *testing.T) {
	cfg, err := defaultConfig()
	if err != nil {
		t.Fatalf("defaultConfig: %v", err)
	}
	cfg.Pipeline.Research.Quorum = 7
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected quorum error")
	}
	cfg.Pipeline.Research.Quorum = 3
	cfg.Database.Driver = "mysql"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected driver error")
	}
}

func TestValidateRejectsDisabledLimits(t *testing.T) {
	cases := map[string]func(*Config){
		"min_viewpoints zero": func(c *Config) { c.Pipeline.Arbitration.MinViewpoints = 0 },
		"min_viewpoints one":  func(c *Config) { c.Pipeline.Arbitration.MinViewpoints = 1 },
		"phase_timeout":       func(c *Config) { c.Pipeline.Research.PhaseTimeout = 0 },
		"lane_timeout":        func(c *Config) { c.Pipeline.Research.LaneTimeout = -time.Second },
		"merge_timeout":       func(c *Config) { c.Pipeline.Research.MergeTimeout = 0 },
		"sections":            func(c *Config) { c.Pipeline.Sections.Timeout = 0 },
		"capstone":            func(c *Config) { c.Pipeline.Capstone.Timeout = 0 },
		"evaluation":          func(c *Config) { c.Pipeline.Evaluation.Timeout = 0 },
		"arbitration":         func(c *Config) { c.Pipeline.Arbitration.Timeout = 0 },
		"retry_delay":         func(c *Config) { c.Pipeline.RetryDelay = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := defaultConfig()
			if err != nil {
				t.Fatalf("defaultConfig: %v", err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("defaults should validate: %v", err)
			}
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadRejectsZeroedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arfor.yaml")
	body := []byte("pipeline:\n  research:\n    phase_timeout: 0s\n  arbitration:\n    min_viewpoints: 0\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv(configPathEnv, path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected Load to reject zeroed limits")
	}
}
