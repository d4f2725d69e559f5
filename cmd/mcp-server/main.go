// ABOUTME: Entry point for mcp-server, the MCP tool and context server
// ABOUTME: Defines the cobra root command and the startup banner

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-mcp/internal/config"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _ __ ___   ___ _ __        ___  ___ _ ____   _____ _ __ 
| '_ ' _ \ / __| '_ \ _____/ __|/ _ \ '__\ \ / / _ \ '__|
| | | | | | (__| |_) |_____\__ \  __/ |   \ V /  __/ |   
|_| |_| |_|\___| .__/      |___/\___|_|    \_/ \___|_|   
               |_|                                       
`

// serverConfigFile is the file name under the XDG config directory.
const serverConfigFile = "server.yaml"

// options holds flags shared by every subcommand.
type options struct {
	configPath string
}

func (o *options) resolvedConfigPath() string {
	return config.ResolvePath(o.configPath, serverConfigFile)
}

func (o *options) loadConfig() (*config.Config, string, error) {
	path := o.resolvedConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("loading config: %w", err)
	}
	return cfg, path, nil
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "mcp-server",
		Short:         "Serve tools and shared context to agents over HTTP, WebSocket, and MCP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetVersionTemplate(`{{printf "mcp-server version %s\n" .Version}}`)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		fmt.Sprintf("config file (default $%s or $XDG_CONFIG_HOME/coven-mcp/%s)", config.EnvConfigPath, serverConfigFile))

	root.AddCommand(
		newServeCmd(opts),
		newInitCmd(opts),
		newHealthCmd(opts),
		newAgentsCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func printBanner(w io.Writer) {
	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	_, _ = cyan.Fprint(w, banner)
	_, _ = gray.Fprintf(w, "    version: %s\n\n", version)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
