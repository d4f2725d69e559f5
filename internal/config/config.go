// ABOUTME: Configuration loading and parsing for the MCP server
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing, and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the file leaves a field empty.
const (
	DefaultHTTPAddr              = "0.0.0.0:8000"
	DefaultVersion               = "1.0.0"
	DefaultMaxConcurrentRequests = 100
	DefaultToolTimeout           = 30 * time.Second
	DefaultWorkerPoolSize        = 8
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultHeartbeatTimeout      = 90 * time.Second
	DefaultReplayWindow          = 5 * time.Minute
	DefaultLedgerRetention       = 7 * 24 * time.Hour
)

// Config represents the complete MCP server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tools     ToolsConfig     `yaml:"tools"`
	Agents    AgentsConfig    `yaml:"agents"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener and identity configuration
type ServerConfig struct {
	HTTPAddr              string        `yaml:"http_addr"`
	ServerID              string        `yaml:"server_id"` // generated when empty
	Version               string        `yaml:"version"`
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests"`
	AllowedOrigins        []string      `yaml:"allowed_origins"` // WebSocket origin patterns
	ReplayWindow          time.Duration `yaml:"-"`

	ReplayWindowRaw string `yaml:"replay_window"`
}

// ToolsConfig holds dispatcher configuration
type ToolsConfig struct {
	DefaultTimeout time.Duration `yaml:"-"`
	WorkerPoolSize int           `yaml:"worker_pool_size"`
	Builtins       *bool         `yaml:"builtins"` // nil means enabled

	DefaultTimeoutRaw string `yaml:"default_timeout"`
}

// BuiltinsEnabled reports whether the builtin tool pack should be registered.
func (t ToolsConfig) BuiltinsEnabled() bool {
	return t.Builtins == nil || *t.Builtins
}

// AgentsConfig holds agent-related timing configuration
type AgentsConfig struct {
	HeartbeatInterval  time.Duration `yaml:"-"`
	HeartbeatTimeout   time.Duration `yaml:"-"`
	NotifyStateChanges bool          `yaml:"notify_state_changes"`

	// Raw string values for YAML unmarshaling
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
	HeartbeatTimeoutRaw  string `yaml:"heartbeat_timeout"`
}

// AuthConfig holds bearer authentication configuration
type AuthConfig struct {
	APIKeys   []string `yaml:"api_keys"`
	JWTSecret string   `yaml:"jwt_secret"`
}

// DatabaseConfig holds ledger database configuration. An empty path keeps the
// ledger in memory.
type DatabaseConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"-"`

	RetentionRaw string `yaml:"retention"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
	Funnel    bool   `yaml:"funnel"` // Enable public Funnel (implies HTTPS)
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from YAML bytes, applying the same steps as Load.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
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

// Default returns a Config with every default applied, as if loaded from an
// empty file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.Version == "" {
		c.Server.Version = DefaultVersion
	}
	if c.Server.MaxConcurrentRequests == 0 {
		c.Server.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if c.Server.ReplayWindow == 0 {
		c.Server.ReplayWindow = DefaultReplayWindow
	}
	if c.Tools.DefaultTimeout == 0 {
		c.Tools.DefaultTimeout = DefaultToolTimeout
	}
	if c.Tools.WorkerPoolSize == 0 {
		c.Tools.WorkerPoolSize = DefaultWorkerPoolSize
	}
	if c.Agents.HeartbeatInterval == 0 {
		c.Agents.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Agents.HeartbeatTimeout == 0 {
		c.Agents.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if c.Database.Retention == 0 {
		c.Database.Retention = DefaultLedgerRetention
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Server.MaxConcurrentRequests < 0 {
		return fmt.Errorf("server.max_concurrent_requests must not be negative")
	}
	if c.Tools.WorkerPoolSize < 0 {
		return fmt.Errorf("tools.worker_pool_size must not be negative")
	}
	if c.Agents.HeartbeatTimeout > 0 && c.Agents.HeartbeatTimeout <= c.Agents.HeartbeatInterval {
		return fmt.Errorf("agents.heartbeat_timeout (%s) must exceed agents.heartbeat_interval (%s)",
			c.Agents.HeartbeatTimeout, c.Agents.HeartbeatInterval)
	}
	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if err := validateLogging(c.Logging); err != nil {
		return err
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	switch l.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q must be one of debug, info, warn, error", l.Level)
	}
	switch l.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", l.Format)
	}
	return nil
}

// durationField pairs a raw YAML string with its parsed destination.
type durationField struct {
	name string
	raw  string
	dst  *time.Duration
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	return parseDurationFields([]durationField{
		{"server.replay_window", cfg.Server.ReplayWindowRaw, &cfg.Server.ReplayWindow},
		{"tools.default_timeout", cfg.Tools.DefaultTimeoutRaw, &cfg.Tools.DefaultTimeout},
		{"agents.heartbeat_interval", cfg.Agents.HeartbeatIntervalRaw, &cfg.Agents.HeartbeatInterval},
		{"agents.heartbeat_timeout", cfg.Agents.HeartbeatTimeoutRaw, &cfg.Agents.HeartbeatTimeout},
		{"database.retention", cfg.Database.RetentionRaw, &cfg.Database.Retention},
	})
}

func parseDurationFields(fields []durationField) error {
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}
