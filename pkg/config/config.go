// Package config loads and validates the process configuration from YAML
// with environment-variable expansion, and watches the file for the settings
// that may change while the server runs.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/shopspring/decimal"
)

// Config is the root of the YAML configuration file.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Models    []ModelConfig   `yaml:"models"`
	Search    SearchConfig    `yaml:"search"`
	Turn      TurnConfig      `yaml:"turn"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // simple or verbose
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite, postgres, mysql
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
	MaxIdle  int    `yaml:"max_idle"`
}

// RedisConfig backs the rate-gate counter store. An empty Addr selects the
// in-memory store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LLMConfig struct {
	Provider   string `yaml:"provider"`
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	Timeout    int    `yaml:"timeout"` // seconds
	MaxRetries int    `yaml:"max_retries"`
}

// ModelConfig is one row of the alias catalog.
type ModelConfig struct {
	Alias         string `yaml:"alias"`
	ProviderModel string `yaml:"provider_model"`
	ContextLimit  int    `yaml:"context_limit"`
	MaxOutput     int    `yaml:"max_output"`
}

type SearchConfig struct {
	Endpoint   string `yaml:"endpoint"`
	APIKey     string `yaml:"api_key"`
	MaxResults int    `yaml:"max_results"`
}

// TurnConfig tunes the turn pipeline. Everything here except the model list
// is hot-reloadable.
type TurnConfig struct {
	SummaryModel             string  `yaml:"summary_model"`
	ManagerModel             string  `yaml:"manager_model"`
	MaxOutputTokens          int     `yaml:"max_output_tokens"`
	SummaryTriggerRatio      float64 `yaml:"summary_trigger_ratio"`
	PruneTriggerRatio        float64 `yaml:"prune_trigger_ratio"`
	MandatorySummaryTurn     int     `yaml:"mandatory_summary_turn"`
	RecentTurnsToKeep        int     `yaml:"recent_turns_to_keep"`
	MaxDepth                 int     `yaml:"max_depth"`
	MaxSpecialistInvocations int     `yaml:"max_specialist_invocations"`
	EnforceCredits           bool    `yaml:"enforce_credits"`
	LowBalanceThreshold      string  `yaml:"low_balance_threshold"`
}

type RateLimitConfig struct {
	TurnsPerMinute int `yaml:"turns_per_minute"`
	TurnsPerHour   int `yaml:"turns_per_hour"`
}

func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.DSN == "" && c.Database.Driver == "sqlite" {
		c.Database.DSN = "atrium.db"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.Turn.LowBalanceThreshold == "" {
		c.Turn.LowBalanceThreshold = "10"
	}
	if c.RateLimit.TurnsPerMinute == 0 {
		c.RateLimit.TurnsPerMinute = 10
	}
	if c.RateLimit.TurnsPerHour == 0 {
		c.RateLimit.TurnsPerHour = 120
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if len(c.Models) == 0 {
		return fmt.Errorf("at least one model must be configured")
	}
	aliases := make(map[string]bool, len(c.Models))
	for i, m := range c.Models {
		if m.Alias == "" {
			return fmt.Errorf("models[%d]: alias is required", i)
		}
		if m.ContextLimit <= 0 {
			return fmt.Errorf("model %q: context_limit must be positive", m.Alias)
		}
		if aliases[m.Alias] {
			return fmt.Errorf("duplicate model alias %q", m.Alias)
		}
		aliases[m.Alias] = true
	}
	if c.Turn.SummaryModel != "" && !aliases[c.Turn.SummaryModel] {
		return fmt.Errorf("turn summary_model %q is not a configured model", c.Turn.SummaryModel)
	}
	if c.Turn.ManagerModel != "" && !aliases[c.Turn.ManagerModel] {
		return fmt.Errorf("turn manager_model %q is not a configured model", c.Turn.ManagerModel)
	}
	if r := c.Turn.SummaryTriggerRatio; r < 0 || r > 1 {
		return fmt.Errorf("turn summary_trigger_ratio %v out of range", r)
	}
	if r := c.Turn.PruneTriggerRatio; r < 0 || r > 1 {
		return fmt.Errorf("turn prune_trigger_ratio %v out of range", r)
	}
	if c.Turn.LowBalanceThreshold != "" {
		if _, err := decimal.NewFromString(c.Turn.LowBalanceThreshold); err != nil {
			return fmt.Errorf("turn low_balance_threshold: %w", err)
		}
	}
	return nil
}

// Load reads, expands, parses and validates a config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(raw)
}

// Parse works on raw YAML bytes; Load is the file-path wrapper.
func Parse(raw []byte) (*Config, error) {
	expanded := expandEnvVars(string(raw))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
