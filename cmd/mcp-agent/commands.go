// ABOUTME: mcp-agent subcommands: invoke, fetch, update, info, and watch
// ABOUTME: Results are printed as indented JSON on stdout

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-mcp/internal/client"
	"github.com/2389/coven-mcp/internal/message"
)

// parseAssignments turns key=value pairs into values. A value that parses as
// JSON is used as such; anything else is a string.
func parseAssignments(pairs []string) (map[string]message.Value, error) {
	out := make(map[string]message.Value, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", pair)
		}
		var v message.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = message.String(raw)
		}
		out[key] = v
	}
	return out, nil
}

// mergeJSONArgs overlays a JSON object onto args.
func mergeJSONArgs(args map[string]message.Value, raw string) error {
	if raw == "" {
		return nil
	}
	var obj map[string]message.Value
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return fmt.Errorf("--args must be a JSON object: %w", err)
	}
	for k, v := range obj {
		args[k] = v
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newInvokeCmd(opts *options) *cobra.Command {
	var (
		jsonArgs string
		priority int
	)

	cmd := &cobra.Command{
		Use:   "invoke <tool> [key=value ...]",
		Short: "Invoke a tool and print its result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			if err := mergeJSONArgs(toolArgs, jsonArgs); err != nil {
				return err
			}

			pool, cfg, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Cleanup()

			c := pool.Client()
			if priority != message.DefaultPriority {
				resp, err := c.InvokeTool(cmd.Context(), args[0], toolArgs,
					client.WithPriority(priority), client.WithTimeout(cfg.Timeout))
				if err != nil {
					return err
				}
				if !resp.Success {
					return fmt.Errorf("tool %s failed: %s", args[0], resp.ErrorMessage)
				}
				return printJSON(cmd.OutOrStdout(), resp.Result)
			}

			result, err := client.NewToolWrapper(c, args[0], cfg.Timeout).CallContext(cmd.Context(), toolArgs)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVar(&jsonArgs, "args", "", "tool arguments as a JSON object")
	cmd.Flags().IntVar(&priority, "priority", message.DefaultPriority, "priority 1-10")
	return cmd
}

func scopeFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVar(target, "scope", string(message.ScopeSession), "context scope: agent, session, or global")
}

func parseScope(s string) (message.Scope, error) {
	scope := message.Scope(s)
	if !scope.Valid() {
		return "", fmt.Errorf("invalid scope %q", s)
	}
	return scope, nil
}

func newFetchCmd(opts *options) *cobra.Command {
	var scopeName string

	cmd := &cobra.Command{
		Use:   "fetch <key> [key ...]",
		Short: "Fetch context values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, keys []string) error {
			scope, err := parseScope(scopeName)
			if err != nil {
				return err
			}

			pool, _, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Cleanup()

			resp, err := pool.Client().FetchContext(cmd.Context(), keys, scope)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"context_data": resp.ContextData,
				"missing_keys": resp.MissingKeys,
			})
		},
	}
	scopeFlag(cmd, &scopeName)
	return cmd
}

func newUpdateCmd(opts *options) *cobra.Command {
	var scopeName, strategyName string

	cmd := &cobra.Command{
		Use:   "update <key=value> [key=value ...]",
		Short: "Write context values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScope(scopeName)
			if err != nil {
				return err
			}
			strategy := message.MergeStrategy(strategyName)
			if !strategy.Valid() {
				return fmt.Errorf("invalid merge strategy %q", strategyName)
			}
			updates, err := parseAssignments(args)
			if err != nil {
				return err
			}

			pool, _, err := opts.connect(cmd)
			if err != nil {
				return err
			}
			defer pool.Cleanup()

			resp, err := pool.Client().UpdateState(cmd.Context(), updates, scope, strategy)
			if err != nil {
				return err
			}
			if !resp.Success {
				return errors.New(resp.ErrorMessage)
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"updated_keys": resp.UpdatedKeys})
		},
	}
	scopeFlag(cmd, &scopeName)
	cmd.Flags().StringVar(&strategyName, "strategy", string(message.MergeReplace), "merge strategy: replace, merge, or append")
	return cmd
}

func newInfoCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show server information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, serverURL := range cfg.Servers {
				c, err := client.New(client.Config{
					ServerURL: serverURL,
					ClientID:  cfg.ClientID,
					APIKey:    cfg.APIKey,
					Timeout:   cfg.Timeout,
				})
				if err != nil {
					return err
				}
				info, err := c.Info(cmd.Context())
				if err != nil {
					return fmt.Errorf("%s: %w", serverURL, err)
				}
				_, _ = color.New(color.FgCyan).Fprintln(out, serverURL)
				if err := printJSON(out, info); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newWatchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stay connected over WebSocket and print server notifications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.httpOnly {
				return errors.New("watch needs a WebSocket connection")
			}
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger(cmd, cfg)

			pool, err := client.NewPoolFromConfig(cfg, logger)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			notices := make(chan message.Message, 64)
			for range pool.Len() {
				pool.Client().OnNotification(func(m message.Message) {
					select {
					case notices <- m:
					default:
						logger.Warn("dropping notification, output is behind", "request_id", m.ID())
					}
				})
			}
			if err := pool.Initialize(cmd.Context(), true); err != nil {
				return fmt.Errorf("connecting: %w", err)
			}
			defer pool.Cleanup()

			_, _ = color.New(color.FgGreen).Fprintf(cmd.ErrOrStderr(), "watching %d server(s) as %s\n", pool.Len(), cfg.ClientID)
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case m := <-notices:
					data, err := message.Encode(m)
					if err != nil {
						logger.Warn("encoding notification", "error", err)
						continue
					}
					_, _ = fmt.Fprintln(out, string(data))
				}
			}
		},
	}
}
