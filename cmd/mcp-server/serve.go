// ABOUTME: serve subcommand: loads config, prints the banner, and runs the gateway
// ABOUTME: Blocks until SIGINT or SIGTERM, then shuts down gracefully

package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-mcp/internal/config"
	"github.com/2389/coven-mcp/internal/gateway"
	"github.com/2389/coven-mcp/internal/logging"
)

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			printBanner(out)

			cfg, path, err := opts.loadConfig()
			if err != nil {
				return err
			}
			printStartup(out, cfg, path)

			logger := logging.New(cfg.Logging, cmd.ErrOrStderr())
			logger.Info("starting mcp-server",
				"config", path,
				"http_addr", cfg.Server.HTTPAddr,
				"ledger", ledgerLabel(cfg),
			)

			gw, err := gateway.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("creating server: %w", err)
			}
			return gw.Run(cmd.Context())
		},
	}
}

func printStartup(w io.Writer, cfg *config.Config, path string) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	line := func(label, value string) {
		_, _ = green.Fprint(w, "    ▶ ")
		_, _ = fmt.Fprintf(w, "%-10s %s\n", label+":", value)
	}

	line("Config", path)
	line("HTTP", cfg.Server.HTTPAddr)
	line("Ledger", ledgerLabel(cfg))
	if len(cfg.Auth.APIKeys) == 0 && cfg.Auth.JWTSecret == "" {
		_, _ = yellow.Fprint(w, "    ! ")
		_, _ = fmt.Fprintln(w, "Auth:      disabled")
	}

	if cfg.Tailscale.Enabled {
		_, _ = green.Fprint(w, "    ▶ ")
		_, _ = fmt.Fprint(w, "Tailscale: ")
		_, _ = cyan.Fprint(w, cfg.Tailscale.Hostname)
		if cfg.Tailscale.Funnel {
			_, _ = yellow.Fprint(w, " [funnel]")
		}
		if cfg.Tailscale.Ephemeral {
			_, _ = gray.Fprint(w, " (ephemeral)")
		}
		_, _ = fmt.Fprintln(w)
	}
	_, _ = fmt.Fprintln(w)
}

func ledgerLabel(cfg *config.Config) string {
	if cfg.Database.Path == "" {
		return "memory"
	}
	return cfg.Database.Path
}
