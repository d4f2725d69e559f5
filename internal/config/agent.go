// ABOUTME: Configuration for MCP agent processes that connect to one or more servers
// ABOUTME: Shares env expansion and duration parsing with the server config

package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent-side defaults.
const (
	DefaultAgentTimeout   = 30 * time.Second
	DefaultRetryAttempts  = 3
	DefaultAgentHeartbeat = 30 * time.Second
)

// AgentConfig configures an agent process.
type AgentConfig struct {
	Servers           []string      `yaml:"servers"`
	ClientID          string        `yaml:"client_id"`
	APIKey            string        `yaml:"api_key"`
	RetryAttempts     *int          `yaml:"retry_attempts"`
	PreferWebSocket   *bool         `yaml:"prefer_websocket"`
	Timeout           time.Duration `yaml:"-"`
	HeartbeatInterval time.Duration `yaml:"-"`
	Logging           LoggingConfig `yaml:"logging"`

	TimeoutRaw           string `yaml:"timeout"`
	HeartbeatIntervalRaw string `yaml:"heartbeat_interval"`
}

// Retries returns the configured retry attempts, defaulting to DefaultRetryAttempts.
func (a *AgentConfig) Retries() int {
	if a.RetryAttempts == nil {
		return DefaultRetryAttempts
	}
	return *a.RetryAttempts
}

// WebSocket reports whether the agent should try WebSocket before HTTP.
func (a *AgentConfig) WebSocket() bool {
	return a.PreferWebSocket == nil || *a.PreferWebSocket
}

// LoadAgent reads and validates an agent configuration file.
func LoadAgent(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseAgent(data)
}

// ParseAgent builds an AgentConfig from YAML bytes.
func ParseAgent(data []byte) (*AgentConfig, error) {
	var cfg AgentConfig
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurationFields([]durationField{
		{"timeout", cfg.TimeoutRaw, &cfg.Timeout},
		{"heartbeat_interval", cfg.HeartbeatIntervalRaw, &cfg.HeartbeatInterval},
	}); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultAgentTimeout
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultAgentHeartbeat
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields.
func (a *AgentConfig) Validate() error {
	if len(a.Servers) == 0 {
		return fmt.Errorf("servers must list at least one server URL")
	}
	for _, s := range a.Servers {
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("server %q must be an http(s) URL", s)
		}
	}
	if a.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if a.RetryAttempts != nil && *a.RetryAttempts < 1 {
		return fmt.Errorf("retry_attempts must be at least 1")
	}
	return validateLogging(a.Logging)
}
