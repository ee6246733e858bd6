package config

import "time"

type HTTPConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins    []string      `yaml:"allowed_origins"`
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver     string `yaml:"driver"`
	DSN        string `yaml:"dsn"`
	Host       string `yaml:"host"`
	Port       string `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name"`
	SQLitePath string `yaml:"sqlite_path"`
}

type RedisConfig struct {
	// Addr empty disables Redis; limiters fall back to process-local buckets.
	Addr           string `yaml:"addr"`
	ControlChannel string `yaml:"control_channel"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Audience  string `yaml:"audience"`
}

type CreditPack struct {
	ID         string `yaml:"id" json:"id"`
	Credits    int    `yaml:"credits" json:"credits"`
	PriceCents int    `yaml:"price_cents" json:"price_cents"`
	Label      string `yaml:"label" json:"label"`
}

type BillingConfig struct {
	FreeCredits      int           `yaml:"free_credits"`
	RefillInterval   time.Duration `yaml:"refill_interval"`
	WebhookSecret    string        `yaml:"webhook_secret"`
	WebhookTolerance time.Duration `yaml:"webhook_tolerance"`
	StartLimit       int           `yaml:"start_limit"`
	StartWindow      time.Duration `yaml:"start_window"`
	DemoWindow       time.Duration `yaml:"demo_window"`
	Packs            []CreditPack  `yaml:"packs"`
}

type SessionConfig struct {
	TTL               time.Duration `yaml:"ttl"`
	SweepInterval     time.Duration `yaml:"sweep_interval"`
	HistoryCap        int           `yaml:"history_cap"`
	HistoryKeep       int           `yaml:"history_keep"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
	ShutdownGrace     time.Duration `yaml:"shutdown_grace"`
}

type Lane struct {
	ID    string `yaml:"id"`
	Label string `yaml:"label"`
}

type ResearchConfig struct {
	Model          string        `yaml:"model"`
	Tool           string        `yaml:"tool"`
	LaneMaxTokens  int           `yaml:"lane_max_tokens"`
	LaneTimeout    time.Duration `yaml:"lane_timeout"`
	MergeMaxTokens int           `yaml:"merge_max_tokens"`
	MergeTimeout   time.Duration `yaml:"merge_timeout"`
	PhaseTimeout   time.Duration `yaml:"phase_timeout"`
	Quorum         int           `yaml:"quorum"`
	Lanes          []Lane        `yaml:"lanes"`
}

type SectionGroup struct {
	ID       string `yaml:"id"`
	Label    string `yaml:"label"`
	Sections []int  `yaml:"sections"`
}

type SectionsConfig struct {
	Model     string         `yaml:"model"`
	MaxTokens int            `yaml:"max_tokens"`
	Timeout   time.Duration  `yaml:"timeout"`
	Groups    []SectionGroup `yaml:"groups"`
}

type CapstoneConfig struct {
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
	Sections      []int         `yaml:"sections"`
	FallbackChars int           `yaml:"fallback_chars"`
}

type Viewpoint struct {
	ID    string `yaml:"id"`
	Name  string `yaml:"name"`
	Label string `yaml:"label"`
}

type EvaluationConfig struct {
	Model      string        `yaml:"model"`
	MaxTokens  int           `yaml:"max_tokens"`
	Timeout    time.Duration `yaml:"timeout"`
	Viewpoints []Viewpoint   `yaml:"viewpoints"`
}

type ArbitrationConfig struct {
	Model         string        `yaml:"model"`
	MaxTokens     int           `yaml:"max_tokens"`
	Timeout       time.Duration `yaml:"timeout"`
	MinViewpoints int           `yaml:"min_viewpoints"`
}

// PipelineConfig tunes the fixed stage topology. Lanes, groups and
// viewpoints can be relabelled or resized; the phase order cannot.
type PipelineConfig struct {
	GlobalTimeout time.Duration     `yaml:"global_timeout"`
	RetryDelay    time.Duration     `yaml:"retry_delay"`
	MaxRetries    int               `yaml:"max_retries"`
	Research      ResearchConfig    `yaml:"research"`
	Sections      SectionsConfig    `yaml:"sections"`
	Capstone      CapstoneConfig    `yaml:"capstone"`
	Evaluation    EvaluationConfig  `yaml:"evaluation"`
	Arbitration   ArbitrationConfig `yaml:"arbitration"`
}

type Config struct {
	Env      string         `yaml:"env"`
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Auth     AuthConfig     `yaml:"auth"`
	Billing  BillingConfig  `yaml:"billing"`
	Sessions SessionConfig  `yaml:"sessions"`
	Pipeline PipelineConfig `yaml:"pipeline"`
}

func (c *Config) Pack(id string) (CreditPack, bool) {
	for _, p := range c.Billing.Packs {
		if p.ID == id {
			return p, true
		}
	}
	return CreditPack{}, false
}
