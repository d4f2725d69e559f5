// ABOUTME: init subcommand: writes a starter server config with fresh credentials
// ABOUTME: Refuses to overwrite an existing file unless --force is given

package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-mcp/internal/config"
)

const configTemplate = `# mcp-server configuration
# Generated by mcp-server init

server:
  http_addr: %q
  max_concurrent_requests: 100
  replay_window: "5m"

tools:
  default_timeout: "30s"
  worker_pool_size: 8
  builtins: true

agents:
  heartbeat_interval: "30s"
  heartbeat_timeout: "90s"
  notify_state_changes: false

auth:
  api_keys:
    - %q
  jwt_secret: %q

database:
  path: %q
  retention: "168h"

logging:
  level: "info"
  format: "text"
`

type initOptions struct {
	httpAddr string
	dbPath   string
	force    bool
}

func newInitCmd(opts *options) *cobra.Command {
	iopts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a config file with a random API key and JWT secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := opts.resolvedConfigPath()
			if err := writeInitialConfig(path, iopts); err != nil {
				return err
			}

			green := color.New(color.FgGreen)
			_, _ = green.Fprintf(cmd.OutOrStdout(), "  ✓ Created config: %s\n", path)
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "    Run `mcp-server token` to mint a JWT, or use the api key in the file.")
			return nil
		},
	}
	cmd.Flags().StringVar(&iopts.httpAddr, "http-addr", config.DefaultHTTPAddr, "listen address")
	cmd.Flags().StringVar(&iopts.dbPath, "db", filepath.Join(config.DataDir(), "ledger.db"), "invocation ledger path")
	cmd.Flags().BoolVar(&iopts.force, "force", false, "overwrite an existing config file")
	return cmd
}

func writeInitialConfig(path string, iopts *initOptions) error {
	if _, err := os.Stat(path); err == nil && !iopts.force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("checking config file: %w", err)
	}

	apiKey, err := randomHex(24)
	if err != nil {
		return fmt.Errorf("generating api key: %w", err)
	}
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("generating JWT secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if dir := filepath.Dir(iopts.dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
	}

	content := fmt.Sprintf(configTemplate,
		iopts.httpAddr,
		apiKey,
		base64.StdEncoding.EncodeToString(secret),
		iopts.dbPath,
	)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
