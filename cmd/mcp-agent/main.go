// ABOUTME: Entry point for mcp-agent, a command-line MCP client
// ABOUTME: Loads agent config, builds the client pool, and dispatches to subcommands

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-mcp/internal/client"
	"github.com/2389/coven-mcp/internal/config"
	"github.com/2389/coven-mcp/internal/logging"
)

// Version is set by goreleaser at build time.
var version = "dev"

const agentConfigFile = "agent.yaml"

// options holds flags shared by every subcommand. Flags override the file.
type options struct {
	configPath string
	servers    []string
	clientID   string
	apiKey     string
	timeout    time.Duration
	httpOnly   bool
}

// loadConfig reads the agent config file if one exists and applies flag
// overrides. With --server and --client-id no file is needed.
func (o *options) loadConfig() (*config.AgentConfig, error) {
	var cfg *config.AgentConfig

	path := config.ResolvePath(o.configPath, agentConfigFile)
	if _, err := os.Stat(path); err == nil || o.configPath != "" {
		cfg, err = config.LoadAgent(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
	} else {
		cfg = &config.AgentConfig{
			Timeout:           config.DefaultAgentTimeout,
			HeartbeatInterval: config.DefaultAgentHeartbeat,
			Logging:           config.LoggingConfig{Level: "warn", Format: "text"},
		}
	}

	if len(o.servers) > 0 {
		cfg.Servers = o.servers
	}
	if o.clientID != "" {
		cfg.ClientID = o.clientID
	}
	if o.apiKey != "" {
		cfg.APIKey = o.apiKey
	}
	if o.timeout > 0 {
		cfg.Timeout = o.timeout
	}
	if o.httpOnly {
		off := false
		cfg.PreferWebSocket = &off
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid agent config: %w", err)
	}
	return cfg, nil
}

// connect builds the pool and connects every server in it.
func (o *options) connect(cmd *cobra.Command) (*client.Pool, *config.AgentConfig, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, nil, err
	}
	pool, err := client.NewPoolFromConfig(cfg, newLogger(cmd, cfg))
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Initialize(cmd.Context(), cfg.WebSocket()); err != nil {
		return nil, nil, fmt.Errorf("connecting: %w", err)
	}
	return pool, cfg, nil
}

func newLogger(cmd *cobra.Command, cfg *config.AgentConfig) *slog.Logger {
	return logging.New(cfg.Logging, cmd.ErrOrStderr())
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "mcp-agent",
		Short:         "Invoke tools and share context through an MCP server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "mcp-agent version %s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "",
		fmt.Sprintf("config file (default $%s or $XDG_CONFIG_HOME/coven-mcp/%s)", config.EnvConfigPath, agentConfigFile))
	flags.StringSliceVarP(&opts.servers, "server", "s", nil, "server URL, repeatable (overrides servers)")
	flags.StringVar(&opts.clientID, "client-id", "", "agent id (overrides client_id)")
	flags.StringVar(&opts.apiKey, "api-key", "", "bearer token (overrides api_key)")
	flags.DurationVar(&opts.timeout, "timeout", 0, "request timeout (overrides timeout)")
	flags.BoolVar(&opts.httpOnly, "http", false, "skip WebSocket and use plain HTTP")

	root.AddCommand(
		newInvokeCmd(opts),
		newFetchCmd(opts),
		newUpdateCmd(opts),
		newInfoCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
