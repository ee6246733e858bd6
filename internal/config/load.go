package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/arfor-backend/internal/platform/envutil"
)

const configPathEnv = "ARFOR_CONFIG_PATH"

//go:embed defaults.yaml
var defaultsYAML []byte

func defaultConfig() (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(defaultsYAML, &cfg); err != nil {
		return nil, fmt.Errorf("embedded defaults: %w", err)
	}
	return &cfg, nil
}

// Load resolves configuration from the embedded defaults, an optional YAML
// file named by ARFOR_CONFIG_PATH, and finally environment overrides.
func Load() (*Config, error) {
	cfg, err := defaultConfig()
	if err != nil {
		return nil, err
	}

	if p := strings.TrimSpace(os.Getenv(configPathEnv)); p != "" {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Env = envutil.String("LOG_MODE", cfg.Env)
	cfg.HTTP.Addr = envutil.String("HTTP_ADDR", cfg.HTTP.Addr)
	if port := envutil.String("PORT", ""); port != "" {
		cfg.HTTP.Addr = ":" + port
	}
	cfg.HTTP.AllowedOrigins = envutil.List("ALLOWED_ORIGINS", cfg.HTTP.AllowedOrigins)

	cfg.Database.Driver = envutil.String("DB_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envutil.String("DATABASE_URL", cfg.Database.DSN)
	cfg.Database.Host = envutil.String("POSTGRES_HOST", cfg.Database.Host)
	cfg.Database.Port = envutil.String("POSTGRES_PORT", cfg.Database.Port)
	cfg.Database.User = envutil.String("POSTGRES_USER", cfg.Database.User)
	cfg.Database.Password = envutil.String("POSTGRES_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = envutil.String("POSTGRES_NAME", cfg.Database.Name)
	cfg.Database.SQLitePath = envutil.String("SQLITE_PATH", cfg.Database.SQLitePath)

	cfg.Redis.Addr = envutil.String("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.ControlChannel = envutil.String("REDIS_CHANNEL", cfg.Redis.ControlChannel)

	cfg.Auth.JWTSecret = envutil.String("JWT_SECRET_KEY", cfg.Auth.JWTSecret)
	cfg.Auth.Audience = envutil.String("JWT_AUDIENCE", cfg.Auth.Audience)

	cfg.Billing.WebhookSecret = envutil.String("PAYMENT_WEBHOOK_SECRET", cfg.Billing.WebhookSecret)
	cfg.Billing.FreeCredits = envutil.Int("FREE_WEEKLY_CREDITS", cfg.Billing.FreeCredits)
	cfg.Billing.StartLimit = envutil.Int("ANALYZE_RATE_LIMIT", cfg.Billing.StartLimit)

	cfg.Pipeline.GlobalTimeout = envutil.Seconds("PIPELINE_TIMEOUT_SECONDS", cfg.Pipeline.GlobalTimeout)
	cfg.Sessions.TTL = envutil.Seconds("SESSION_TTL_SECONDS", cfg.Sessions.TTL)

	// One knob to point every stage at the same model.
	if m := envutil.String("ARFOR_MODEL", ""); m != "" {
		cfg.Pipeline.Research.Model = m
		cfg.Pipeline.Sections.Model = m
		cfg.Pipeline.Capstone.Model = m
		cfg.Pipeline.Evaluation.Model = m
		cfg.Pipeline.Arbitration.Model = m
	}
}

func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	p := c.Pipeline
	if len(p.Research.Lanes) == 0 {
		return errors.New("pipeline.research.lanes must not be empty")
	}
	if p.Research.Quorum < 1 || p.Research.Quorum > len(p.Research.Lanes) {
		return fmt.Errorf("pipeline.research.quorum %d outside 1..%d", p.Research.Quorum, len(p.Research.Lanes))
	}
	if len(p.Sections.Groups) == 0 {
		return errors.New("pipeline.sections.groups must not be empty")
	}
	if len(p.Evaluation.Viewpoints) == 0 {
		return errors.New("pipeline.evaluation.viewpoints must not be empty")
	}
	if p.Arbitration.MinViewpoints < 2 {
		return fmt.Errorf("pipeline.arbitration.min_viewpoints %d must be at least 2", p.Arbitration.MinViewpoints)
	}
	for _, d := range []struct {
		key string
		val time.Duration
	}{
		{"pipeline.global_timeout", p.GlobalTimeout},
		{"pipeline.retry_delay", p.RetryDelay},
		{"pipeline.research.lane_timeout", p.Research.LaneTimeout},
		{"pipeline.research.merge_timeout", p.Research.MergeTimeout},
		{"pipeline.research.phase_timeout", p.Research.PhaseTimeout},
		{"pipeline.sections.timeout", p.Sections.Timeout},
		{"pipeline.capstone.timeout", p.Capstone.Timeout},
		{"pipeline.evaluation.timeout", p.Evaluation.Timeout},
		{"pipeline.arbitration.timeout", p.Arbitration.Timeout},
	} {
		if d.val <= 0 {
			return fmt.Errorf("%s must be positive, got %s", d.key, d.val)
		}
	}
	if c.Sessions.HistoryKeep <= 0 || c.Sessions.HistoryKeep > c.Sessions.HistoryCap {
		return fmt.Errorf("sessions.history_keep %d must be in 1..history_cap (%d)", c.Sessions.HistoryKeep, c.Sessions.HistoryCap)
	}
	return nil
}
