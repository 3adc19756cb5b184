// Package config provides YAML-based configuration loading for Switchyard.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Switchyard configuration, loaded from switchyard.yaml.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Completion CompletionConfig `yaml:"completion"`
	Routing    RoutingConfig    `yaml:"routing"`
	Memory     MemoryConfig     `yaml:"memory"`
	Retention  RetentionConfig  `yaml:"retention"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Agents     []AgentConfig    `yaml:"agents"`
}

// DatabaseConfig selects the conversation store backend. Driver "mysql"
// connects to a Dolt or MySQL server; driver "sqlite" opens a local file.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Path     string `yaml:"path"` // sqlite only
}

// CompletionConfig holds settings for the text-generation backend.
type CompletionConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"` // falls back to $OPENAI_API_KEY
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around the completion backend.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RoutingConfig holds the dispatcher policy knobs.
type RoutingConfig struct {
	LowThreshold         *float64 `yaml:"low_threshold"` // nil means DefaultLowThreshold; 0 disables clarification
	DefaultAgent         string   `yaml:"default_agent"`
	FallbackConfidence   *float64 `yaml:"fallback_confidence"`
	LogOutOfScope        bool     `yaml:"log_out_of_scope"`
	GuardFailOpenOnError *bool    `yaml:"guard_fail_open_on_error"`
}

// MemoryConfig sizes the conversation history window and its shadow cache.
type MemoryConfig struct {
	HistoryLimit int           `yaml:"history_limit"`
	CacheSize    int           `yaml:"cache_size"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

// RetentionConfig controls scheduled pruning of old turns. An empty
// schedule disables the job.
type RetentionConfig struct {
	Schedule   string `yaml:"schedule"` // 5-field cron expression
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	RateLimitPerMin int      `yaml:"rate_limit_per_min"`
	RateBurst       int      `yaml:"rate_burst"`
	CORSOrigins     []string `yaml:"cors_origins"`
	UserIDHeader    string   `yaml:"user_id_header"`
	UserNameHeader  string   `yaml:"user_name_header"`
	UserRoleHeader  string   `yaml:"user_role_header"`
}

// LogConfig selects the zap logger level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// AgentConfig overrides fields of a built-in specialist. Empty fields keep
// the built-in value.
type AgentConfig struct {
	ID           string `yaml:"id"`
	DisplayName  string `yaml:"name"`
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
	ScopePrompt  string `yaml:"scope_prompt"`
}

// Default policy values.
const (
	DefaultLowThreshold       = 0.6
	DefaultAgent              = "contract"
	DefaultFallbackConfidence = 0.5
	DefaultHistoryLimit       = 10
	DefaultCacheSize          = 1024
	DefaultCacheTTL           = 10 * time.Minute
	DefaultCompletionTimeout  = 30 * time.Second
	DefaultModel              = "gpt-3.5-turbo"
	DefaultBaseURL            = "https://api.openai.com/v1"
)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied,
// backed by a local SQLite file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Threshold returns the confidence below which the dispatcher asks for
// clarification.
func (r RoutingConfig) Threshold() float64 {
	if r.LowThreshold == nil {
		return DefaultLowThreshold
	}
	return *r.LowThreshold
}

// Fallback returns the confidence attached to a classifier fallback.
func (r RoutingConfig) Fallback() float64 {
	if r.FallbackConfidence == nil {
		return DefaultFallbackConfidence
	}
	return *r.FallbackConfidence
}

// GuardFailOpen reports whether a scope guard backend error should let the
// message through.
func (r RoutingConfig) GuardFailOpen() bool {
	if r.GuardFailOpenOnError == nil {
		return true
	}
	return *r.GuardFailOpenOnError
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			c.Database.Path = "switchyard.db"
		}
	case "mysql":
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Database == "" {
			c.Database.Database = "switchyard"
		}
	}

	if c.Completion.BaseURL == "" {
		c.Completion.BaseURL = DefaultBaseURL
	}
	if c.Completion.APIKey == "" {
		c.Completion.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Completion.Model == "" {
		c.Completion.Model = DefaultModel
	}
	if c.Completion.Temperature == 0 {
		c.Completion.Temperature = 0.7
	}
	if c.Completion.MaxTokens == 0 {
		c.Completion.MaxTokens = 500
	}
	if c.Completion.Timeout == 0 {
		c.Completion.Timeout = DefaultCompletionTimeout
	}

	if c.Routing.DefaultAgent == "" {
		c.Routing.DefaultAgent = DefaultAgent
	}

	if c.Memory.HistoryLimit == 0 {
		c.Memory.HistoryLimit = DefaultHistoryLimit
	}
	if c.Memory.CacheSize == 0 {
		c.Memory.CacheSize = DefaultCacheSize
	}
	if c.Memory.CacheTTL == 0 {
		c.Memory.CacheTTL = DefaultCacheTTL
	}

	if c.Retention.Schedule != "" && c.Retention.MaxAgeDays == 0 {
		c.Retention.MaxAgeDays = 90
	}

	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Server.RateLimitPerMin > 0 && c.Server.RateBurst == 0 {
		c.Server.RateBurst = 5
	}
	if c.Server.UserIDHeader == "" {
		c.Server.UserIDHeader = "X-User-Id"
	}
	if c.Server.UserNameHeader == "" {
		c.Server.UserNameHeader = "X-User-Name"
	}
	if c.Server.UserRoleHeader == "" {
		c.Server.UserRoleHeader = "X-User-Role"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported (use sqlite or mysql)", c.Database.Driver))
	}
	if t := c.Routing.Threshold(); t < 0 || t > 1 {
		errs = append(errs, "routing.low_threshold must be within [0, 1]")
	}
	if f := c.Routing.Fallback(); f < 0 || f > 1 {
		errs = append(errs, "routing.fallback_confidence must be within [0, 1]")
	}
	if c.Memory.HistoryLimit < 0 {
		errs = append(errs, "memory.history_limit must not be negative")
	}
	if c.Memory.CacheSize < 0 {
		errs = append(errs, "memory.cache_size must not be negative")
	}
	if c.Completion.MaxTokens < 0 {
		errs = append(errs, "completion.max_tokens must not be negative")
	}
	if c.Retention.MaxAgeDays < 0 {
		errs = append(errs, "retention.max_age_days must not be negative")
	}
	if c.Server.RateLimitPerMin < 0 {
		errs = append(errs, "server.rate_limit_per_min must not be negative")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q is not supported (use json or console)", c.Log.Format))
	}
	for i, a := range c.Agents {
		if a.ID == "" {
			errs = append(errs, fmt.Sprintf("agents[%d].id is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
