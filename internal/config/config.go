// ABOUTME: Configuration loading and parsing for zapdesk-gateway
// ABOUTME: Supports YAML files with environment variable expansion and env overrides

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v3"
)

// Config represents the complete zapdesk-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Bot       BotConfig       `yaml:"bot"`
	Gate      GateConfig      `yaml:"gate"`
	Providers ProvidersConfig `yaml:"providers"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" env:"ZAPDESK_HTTP_ADDR"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" env:"ZAPDESK_DB_PATH"`
}

// AuthConfig holds agent authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"ZAPDESK_JWT_SECRET"`
}

// BotConfig holds the routing engine and responder chain configuration
type BotConfig struct {
	// MaxTurns is the bot-response count at which a conversation escalates
	MaxTurns int `yaml:"max_turns"`

	ContextTTL       time.Duration `yaml:"-"`
	SweepInterval    time.Duration `yaml:"-"`
	ContextTTLRaw    string        `yaml:"context_ttl"`
	SweepIntervalRaw string        `yaml:"sweep_interval"`

	LLM       LLMConfig `yaml:"llm"`
	Secondary LLMConfig `yaml:"secondary"`
	NLU       NLUConfig `yaml:"nlu"`
}

// LLMConfig holds configuration for an OpenAI-compatible responder tier.
// The secondary tier typically points BaseURL at a local Ollama instance.
type LLMConfig struct {
	Enabled    bool          `yaml:"enabled"`
	APIKey     string        `yaml:"api_key" env:"ZAPDESK_LLM_API_KEY"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// NLUConfig holds configuration for the Rasa-style NLU responder tier
type NLUConfig struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"-"`
	TimeoutRaw string        `yaml:"timeout"`
}

// GateConfig holds outbound gating configuration: business hours,
// rate limits, and the human-like response delay window.
type GateConfig struct {
	// BusinessHoursStart/End are hours of day [0,24). Both nil means 24/7.
	BusinessHoursStart *int   `yaml:"business_hours_start"`
	BusinessHoursEnd   *int   `yaml:"business_hours_end"`
	Timezone           string `yaml:"timezone"`

	MaxPerDay    int `yaml:"max_per_day"`
	MaxPerWindow int `yaml:"max_per_window"`

	MinDelay    time.Duration `yaml:"-"`
	MaxDelay    time.Duration `yaml:"-"`
	MinDelayRaw string        `yaml:"min_delay"`
	MaxDelayRaw string        `yaml:"max_delay"`
}

// ProvidersConfig holds configuration for all messaging provider integrations
type ProvidersConfig struct {
	Evolution EvolutionConfig `yaml:"evolution"`
	WAHA      WAHAConfig      `yaml:"waha"`
	N8N       N8NConfig       `yaml:"n8n"`

	// AllowedNumbers restricts inbound processing to these customer keys.
	// Empty means all senders are accepted.
	AllowedNumbers []string `yaml:"allowed_numbers"`
}

// EvolutionConfig holds Evolution API integration configuration
type EvolutionConfig struct {
	Enabled  bool   `yaml:"enabled"`
	APIURL   string `yaml:"api_url"`
	APIKey   string `yaml:"api_key" env:"ZAPDESK_EVOLUTION_API_KEY"`
	Instance string `yaml:"instance"`
}

// WAHAConfig holds WAHA integration configuration
type WAHAConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIURL  string `yaml:"api_url"`
	APIKey  string `yaml:"api_key" env:"ZAPDESK_WAHA_API_KEY"`
	Session string `yaml:"session"`
}

// N8NConfig holds n8n webhook configuration
type N8NConfig struct {
	Enabled bool `yaml:"enabled"`
	// WebhookSecret, when set, must match the X-N8N-Api-Key header
	// (or Authorization bearer token) on inbound calls
	WebhookSecret string `yaml:"webhook_secret" env:"ZAPDESK_N8N_SECRET"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the corresponding fields are absent from the file.
const (
	DefaultMaxTurns      = 4
	DefaultContextTTL    = 2 * time.Hour
	DefaultSweepInterval = 10 * time.Minute
	DefaultTierTimeout   = 5 * time.Second
	DefaultMaxPerDay     = 5
	DefaultMaxPerWindow  = 3
	DefaultMinDelay      = 3 * time.Second
	DefaultMaxDelay      = 8 * time.Second
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded, env-tagged
// overrides are applied on top, and duration strings are parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses raw YAML configuration bytes. Split out from Load for tests.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Environment overrides beat file values for secrets and addresses
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. Unset variables are replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Bot.MaxTurns == 0 {
		c.Bot.MaxTurns = DefaultMaxTurns
	}
	if c.Bot.ContextTTL == 0 {
		c.Bot.ContextTTL = DefaultContextTTL
	}
	if c.Bot.SweepInterval == 0 {
		c.Bot.SweepInterval = DefaultSweepInterval
	}
	if c.Bot.LLM.Timeout == 0 {
		c.Bot.LLM.Timeout = DefaultTierTimeout
	}
	if c.Bot.Secondary.Timeout == 0 {
		c.Bot.Secondary.Timeout = DefaultTierTimeout
	}
	if c.Bot.NLU.Timeout == 0 {
		c.Bot.NLU.Timeout = DefaultTierTimeout
	}
	if c.Gate.MaxPerDay == 0 {
		c.Gate.MaxPerDay = DefaultMaxPerDay
	}
	if c.Gate.MaxPerWindow == 0 {
		c.Gate.MaxPerWindow = DefaultMaxPerWindow
	}
	if c.Gate.MinDelayRaw == "" && c.Gate.MinDelay == 0 {
		c.Gate.MinDelay = DefaultMinDelay
	}
	if c.Gate.MaxDelayRaw == "" && c.Gate.MaxDelay == 0 {
		c.Gate.MaxDelay = DefaultMaxDelay
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if (c.Gate.BusinessHoursStart == nil) != (c.Gate.BusinessHoursEnd == nil) {
		return fmt.Errorf("gate.business_hours_start and gate.business_hours_end must be set together")
	}
	if c.Gate.BusinessHoursStart != nil {
		if h := *c.Gate.BusinessHoursStart; h < 0 || h > 23 {
			return fmt.Errorf("gate.business_hours_start %d out of range [0,23]", h)
		}
		if h := *c.Gate.BusinessHoursEnd; h < 1 || h > 24 {
			return fmt.Errorf("gate.business_hours_end %d out of range [1,24]", h)
		}
	}
	if c.Gate.Timezone != "" {
		if _, err := time.LoadLocation(c.Gate.Timezone); err != nil {
			return fmt.Errorf("gate.timezone %q: %w", c.Gate.Timezone, err)
		}
	}

	if c.Gate.MinDelay > c.Gate.MaxDelay {
		return fmt.Errorf("gate.min_delay must not exceed gate.max_delay")
	}

	if c.Providers.Evolution.Enabled {
		if c.Providers.Evolution.APIURL == "" {
			return fmt.Errorf("providers.evolution.api_url is required when evolution is enabled")
		}
		if c.Providers.Evolution.Instance == "" {
			return fmt.Errorf("providers.evolution.instance is required when evolution is enabled")
		}
	}
	if c.Providers.WAHA.Enabled && c.Providers.WAHA.APIURL == "" {
		return fmt.Errorf("providers.waha.api_url is required when waha is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{cfg.Bot.ContextTTLRaw, &cfg.Bot.ContextTTL, "bot.context_ttl"},
		{cfg.Bot.SweepIntervalRaw, &cfg.Bot.SweepInterval, "bot.sweep_interval"},
		{cfg.Bot.LLM.TimeoutRaw, &cfg.Bot.LLM.Timeout, "bot.llm.timeout"},
		{cfg.Bot.Secondary.TimeoutRaw, &cfg.Bot.Secondary.Timeout, "bot.secondary.timeout"},
		{cfg.Bot.NLU.TimeoutRaw, &cfg.Bot.NLU.Timeout, "bot.nlu.timeout"},
		{cfg.Gate.MinDelayRaw, &cfg.Gate.MinDelay, "gate.min_delay"},
		{cfg.Gate.MaxDelayRaw, &cfg.Gate.MaxDelay, "gate.max_delay"},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// Location returns the configured gate timezone, falling back to local time.
func (c *GateConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
