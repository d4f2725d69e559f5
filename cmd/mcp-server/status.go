// ABOUTME: health and agents subcommands: query a running server over HTTP
// ABOUTME: The server URL comes from --url or is derived from server.http_addr

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389/coven-mcp/internal/agent"
	"github.com/2389/coven-mcp/internal/config"
)

type remoteOptions struct {
	url   string
	token string
}

func (r *remoteOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&r.url, "url", "", "server base URL (default derived from server.http_addr)")
	cmd.Flags().StringVar(&r.token, "token", "", "bearer token (default the first configured api key)")
}

// resolve fills url and token from the config file when not given as flags.
func (r *remoteOptions) resolve(opts *options) (baseURL, token string, err error) {
	baseURL, token = r.url, r.token
	if baseURL != "" && token != "" {
		return strings.TrimRight(baseURL, "/"), token, nil
	}

	cfg, _, err := opts.loadConfig()
	if err != nil {
		if baseURL != "" {
			return strings.TrimRight(baseURL, "/"), token, nil
		}
		return "", "", err
	}
	if baseURL == "" {
		baseURL = baseURLFor(cfg)
	}
	if token == "" && len(cfg.Auth.APIKeys) > 0 {
		token = cfg.Auth.APIKeys[0]
	}
	return strings.TrimRight(baseURL, "/"), token, nil
}

// baseURLFor turns a listen address into a URL a local client can reach.
func baseURLFor(cfg *config.Config) string {
	if cfg.Tailscale.Enabled {
		if cfg.Tailscale.Funnel {
			return "https://" + cfg.Tailscale.Hostname
		}
		return "http://" + cfg.Tailscale.Hostname
	}

	host, port, err := net.SplitHostPort(cfg.Server.HTTPAddr)
	if err != nil {
		return "http://" + cfg.Server.HTTPAddr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func fetch(ctx context.Context, url, token string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func newHealthCmd(opts *options) *cobra.Command {
	remote := &remoteOptions{}
	var ready bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			baseURL, _, err := remote.resolve(opts)
			if err != nil {
				return err
			}
			path := "/health"
			if ready {
				path = "/health/ready"
			}

			status, body, err := fetch(cmd.Context(), baseURL+path, "")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			if status != http.StatusOK {
				return fmt.Errorf("unhealthy: status %d: %s", status, strings.TrimSpace(string(body)))
			}
			if ready {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "healthy")
			return nil
		},
	}
	remote.register(cmd)
	cmd.Flags().BoolVar(&ready, "ready", false, "check readiness instead of liveness")
	return cmd
}

func newAgentsCmd(opts *options) *cobra.Command {
	remote := &remoteOptions{}
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "agents",
		Short: "List agents connected over WebSocket",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			baseURL, token, err := remote.resolve(opts)
			if err != nil {
				return err
			}

			status, body, err := fetch(cmd.Context(), baseURL+"/agents", token)
			if err != nil {
				return fmt.Errorf("listing agents: %w", err)
			}
			if status != http.StatusOK {
				return fmt.Errorf("listing agents: status %d: %s", status, strings.TrimSpace(string(body)))
			}

			if asJSON {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return nil
			}

			var agents []agent.AgentInfo
			if err := json.Unmarshal(body, &agents); err != nil {
				return fmt.Errorf("decoding agents: %w", err)
			}
			return printAgents(cmd.OutOrStdout(), agents)
		},
	}
	remote.register(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw JSON")
	return cmd
}

func printAgents(w io.Writer, agents []agent.AgentInfo) error {
	if len(agents) == 0 {
		_, err := fmt.Fprintln(w, "no agents connected")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "AGENT\tSTATUS\tCONNECTED\tLAST HEARTBEAT")
	for _, a := range agents {
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			a.AgentID,
			a.Status,
			a.ConnectedAt.Format(time.RFC3339),
			a.LastHeartbeat.Format(time.RFC3339),
		)
	}
	return tw.Flush()
}
