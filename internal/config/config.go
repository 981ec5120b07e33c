// ABOUTME: Configuration loading and validation for the parley host
// ABOUTME: Supports YAML files with env var expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig    `yaml:"server"`
	Tailscale    TailscaleConfig `yaml:"tailscale"`
	Limits       LimitsConfig    `yaml:"limits"`
	Timeouts     TimeoutsConfig  `yaml:"timeouts"`
	Auth         AuthConfig      `yaml:"auth"`
	RateLimiting RateLimitConfig `yaml:"rate_limiting"`
	Pipeline     PipelineConfig  `yaml:"pipeline"`
	Store        StoreConfig     `yaml:"store"`
	Logging      LoggingConfig   `yaml:"logging"`
	Metrics      MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds listener settings.
type ServerConfig struct {
	// Name identifies this host in message envelopes.
	Name string `yaml:"name"`
	// HTTPAddr serves WebSocket upgrades, polling endpoints, and the admin API.
	HTTPAddr string `yaml:"http_addr"`
	// AllowedOrigins restricts WebSocket upgrades. "*" allows any origin.
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// TailscaleConfig holds optional tsnet listener settings.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// LimitsConfig holds capacity ceilings.
type LimitsConfig struct {
	// MaxConnections caps concurrent sessions. Zero means unlimited.
	MaxConnections int `yaml:"max_connections"`
	// MaxMessageSize caps encoded message bytes. Zero disables the check.
	MaxMessageSize int `yaml:"max_message_size"`
	// MaxHistorySize caps the routing history ring.
	MaxHistorySize int `yaml:"max_history_size"`
}

// TimeoutsConfig holds the protocol timing knobs.
type TimeoutsConfig struct {
	Connection        time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`
	CleanupInterval   time.Duration `yaml:"-"`
	Message           time.Duration `yaml:"-"`
	Receive           time.Duration `yaml:"-"`

	// Raw string values for duration parsing
	ConnectionRaw        string `yaml:"connection_timeout"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	CleanupIntervalRaw   string `yaml:"cleanup_interval"`
	MessageRaw           string `yaml:"message_timeout"`
	ReceiveRaw           string `yaml:"receive_timeout"`
}

// AuthConfig selects how connecting agents authenticate.
type AuthConfig struct {
	// Mode is one of "none", "token", or "secret".
	Mode string `yaml:"mode"`
	// JWTSecret signs and verifies tokens when mode is "token".
	JWTSecret string `yaml:"jwt_secret"`
	// SharedSecret is compared against credentials when mode is "secret".
	SharedSecret string `yaml:"shared_secret"`
	// Subject is the identity granted by a successful shared-secret login.
	Subject string `yaml:"subject"`
}

// RateLimitConfig holds per-session request ceilings.
type RateLimitConfig struct {
	Enabled              bool `yaml:"enabled"`
	MaxRequestsPerMinute int  `yaml:"max_requests_per_minute"`
	MaxRequestsPerHour   int  `yaml:"max_requests_per_hour"`
}

// PipelineConfig holds request processing settings.
type PipelineConfig struct {
	MaxConcurrent int `yaml:"max_concurrent"`
	DedupeSize    int `yaml:"dedupe_size"`

	DedupeTTL time.Duration `yaml:"-"`

	DedupeTTLRaw string `yaml:"dedupe_ttl"`

	// RedisURL switches the dedupe cache to Redis when set.
	RedisURL string `yaml:"redis_url"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables persistence.
	Path string `yaml:"path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns a configuration with working defaults for every section.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:           "parley-host",
			HTTPAddr:       ":8080",
			AllowedOrigins: []string{"*"},
		},
		Tailscale: TailscaleConfig{
			Hostname: "parley",
			StateDir: "./tsnet-state",
		},
		Limits: LimitsConfig{
			MaxConnections: 100,
			MaxMessageSize: 1 << 20,
			MaxHistorySize: 1000,
		},
		Timeouts: TimeoutsConfig{
			Connection:        90 * time.Second,
			HeartbeatInterval: 30 * time.Second,
			CleanupInterval:   150 * time.Second,
			Message:           30 * time.Second,
			Receive:           60 * time.Second,
		},
		Auth: AuthConfig{
			Mode:    "none",
			Subject: "agent",
		},
		RateLimiting: RateLimitConfig{
			Enabled:              true,
			MaxRequestsPerMinute: 60,
			MaxRequestsPerHour:   1000,
		},
		Pipeline: PipelineConfig{
			MaxConcurrent: 8,
			DedupeSize:    1024,
			DedupeTTL:     30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads configuration from the given path. File values override
// defaults; sections absent from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// Parse duration strings
	if err := cfg.parseDurations(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR_NAME} style references
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} references with environment values
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// parseDurations converts raw string durations to time.Duration
func (c *Config) parseDurations() error {
	var err error

	if c.Timeouts.ConnectionRaw != "" {
		c.Timeouts.Connection, err = time.ParseDuration(c.Timeouts.ConnectionRaw)
		if err != nil {
			return fmt.Errorf("parsing connection_timeout %q: %w", c.Timeouts.ConnectionRaw, err)
		}
	}

	if c.Timeouts.HeartbeatIntervalRaw != "" {
		c.Timeouts.HeartbeatInterval, err = time.ParseDuration(c.Timeouts.HeartbeatIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing heartbeat_interval %q: %w", c.Timeouts.HeartbeatIntervalRaw, err)
		}
	}

	if c.Timeouts.CleanupIntervalRaw != "" {
		c.Timeouts.CleanupInterval, err = time.ParseDuration(c.Timeouts.CleanupIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing cleanup_interval %q: %w", c.Timeouts.CleanupIntervalRaw, err)
		}
	}

	if c.Timeouts.MessageRaw != "" {
		c.Timeouts.Message, err = time.ParseDuration(c.Timeouts.MessageRaw)
		if err != nil {
			return fmt.Errorf("parsing message_timeout %q: %w", c.Timeouts.MessageRaw, err)
		}
	}

	if c.Timeouts.ReceiveRaw != "" {
		c.Timeouts.Receive, err = time.ParseDuration(c.Timeouts.ReceiveRaw)
		if err != nil {
			return fmt.Errorf("parsing receive_timeout %q: %w", c.Timeouts.ReceiveRaw, err)
		}
	}

	if c.Pipeline.DedupeTTLRaw != "" {
		c.Pipeline.DedupeTTL, err = time.ParseDuration(c.Pipeline.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", c.Pipeline.DedupeTTLRaw, err)
		}
	}

	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server.name is required")
	}
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		return fmt.Errorf("server.http_addr is required unless tailscale is enabled")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Limits.MaxConnections < 0 {
		return fmt.Errorf("limits.max_connections must not be negative")
	}
	if c.Limits.MaxMessageSize < 0 {
		return fmt.Errorf("limits.max_message_size must not be negative")
	}
	if c.Limits.MaxHistorySize < 0 {
		return fmt.Errorf("limits.max_history_size must not be negative")
	}

	if c.Timeouts.Connection <= 0 {
		return fmt.Errorf("timeouts.connection_timeout must be positive")
	}
	if c.Timeouts.HeartbeatInterval <= 0 {
		return fmt.Errorf("timeouts.heartbeat_interval must be positive")
	}
	if c.Timeouts.CleanupInterval < c.Timeouts.HeartbeatInterval {
		return fmt.Errorf("timeouts.cleanup_interval must be at least heartbeat_interval")
	}
	if c.Timeouts.Message <= 0 {
		return fmt.Errorf("timeouts.message_timeout must be positive")
	}
	if c.Timeouts.Receive <= 0 {
		return fmt.Errorf("timeouts.receive_timeout must be positive")
	}

	switch c.Auth.Mode {
	case "", "none":
	case "token":
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret is required when auth.mode is \"token\"")
		}
	case "secret":
		if c.Auth.SharedSecret == "" {
			return fmt.Errorf("auth.shared_secret is required when auth.mode is \"secret\"")
		}
	default:
		return fmt.Errorf("auth.mode %q is not one of none, token, secret", c.Auth.Mode)
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.MaxRequestsPerMinute <= 0 {
			return fmt.Errorf("rate_limiting.max_requests_per_minute must be positive when rate limiting is enabled")
		}
		if c.RateLimiting.MaxRequestsPerHour < c.RateLimiting.MaxRequestsPerMinute {
			return fmt.Errorf("rate_limiting.max_requests_per_hour must be at least max_requests_per_minute")
		}
	}

	if c.Pipeline.MaxConcurrent < 0 {
		return fmt.Errorf("pipeline.max_concurrent must not be negative")
	}
	if c.Pipeline.DedupeSize < 0 {
		return fmt.Errorf("pipeline.dedupe_size must not be negative")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}
