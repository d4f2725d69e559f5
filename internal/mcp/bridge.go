// ABOUTME: Exposes the tool registry to standard MCP clients over streamable HTTP.
// ABOUTME: Mirrors registry changes into a go-sdk server and routes calls through the dispatcher.

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/2389/coven-mcp/internal/message"
	"github.com/2389/coven-mcp/internal/store"
	"github.com/2389/coven-mcp/internal/tools"
)

// AgentHeader optionally names the caller for dispatch and the ledger.
const AgentHeader = "X-Agent-Id"

// DefaultAgentID is used when a bridge caller does not send AgentHeader.
const DefaultAgentID = "mcp-client"

// Config holds configuration for the MCP bridge.
type Config struct {
	Name           string
	Version        string
	Dispatcher     *tools.Dispatcher // required
	Ledger         store.Store       // optional
	SessionTimeout time.Duration     // idle MCP sessions are closed after this
	Logger         *slog.Logger
}

// Bridge serves the registry's tools as MCP tools.
type Bridge struct {
	server     *gomcp.Server
	handler    http.Handler
	dispatcher *tools.Dispatcher
	ledger     store.Store
	stop       func()
	logger     *slog.Logger
}

// NewBridge creates a bridge and starts mirroring the dispatcher's registry.
func NewBridge(cfg Config) (*Bridge, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mcp-bridge")

	name := cfg.Name
	if name == "" {
		name = "coven-mcp"
	}

	srv := gomcp.NewServer(&gomcp.Implementation{Name: name, Version: cfg.Version}, &gomcp.ServerOptions{
		Logger: logger,
	})

	b := &Bridge{
		server:     srv,
		dispatcher: cfg.Dispatcher,
		ledger:     cfg.Ledger,
		logger:     logger,
	}
	b.handler = gomcp.NewStreamableHTTPHandler(func(*http.Request) *gomcp.Server {
		return srv
	}, &gomcp.StreamableHTTPOptions{
		Logger:         logger,
		SessionTimeout: cfg.SessionTimeout,
	})

	// Watch before listing so a registration in between is not lost;
	// AddTool replaces, so seeing a tool twice is harmless.
	registry := cfg.Dispatcher.Registry()
	b.stop = registry.Watch(b.apply)
	for _, t := range registry.List() {
		b.add(t)
	}

	logger.Info("MCP bridge ready", "tools", registry.Len())
	return b, nil
}

// ServeHTTP implements http.Handler.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.handler.ServeHTTP(w, r)
}

// Close stops mirroring the registry.
func (b *Bridge) Close() {
	b.stop()
}

func (b *Bridge) apply(c tools.Change) {
	switch c.Kind {
	case tools.ChangeRegistered:
		b.add(c.Tool)
	case tools.ChangeUnregistered:
		b.server.RemoveTools(c.Name)
		b.logger.Debug("tool removed from bridge", "tool_name", c.Name)
	}
}

func (b *Bridge) add(t *tools.Tool) {
	b.server.AddTool(&gomcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.Schema(),
	}, b.callHandler(t.Name))
	b.logger.Debug("tool added to bridge", "tool_name", t.Name)
}

// callHandler adapts a dispatcher invocation to an MCP tool call. Dispatch
// failures become error results rather than protocol errors.
func (b *Bridge) callHandler(name string) gomcp.ToolHandler {
	return func(ctx context.Context, req *gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		agentID := DefaultAgentID
		if req.Extra != nil && req.Extra.Header != nil {
			if id := req.Extra.Header.Get(AgentHeader); id != "" {
				agentID = id
			}
		}

		var args map[string]message.Value
		if raw := req.Params.Arguments; len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult("invalid arguments: " + err.Error()), nil
			}
		}

		res, err := b.dispatcher.Invoke(ctx, agentID, name, args, 0)
		b.record(ctx, agentID, name, res.Duration, err)
		if err != nil {
			return errorResult(err.Error()), nil
		}

		text, err := json.Marshal(res.Value)
		if err != nil {
			return errorResult("encoding result: " + err.Error()), nil
		}
		return &gomcp.CallToolResult{
			Content: []gomcp.Content{&gomcp.TextContent{Text: string(text)}},
		}, nil
	}
}

func (b *Bridge) record(ctx context.Context, agentID, toolName string, d time.Duration, err error) {
	if b.ledger == nil {
		return
	}
	inv := &store.Invocation{
		AgentID:   agentID,
		ToolName:  toolName,
		Transport: store.TransportMCP,
		Success:   err == nil,
		Duration:  d,
	}
	if err != nil {
		inv.ErrorKind = string(tools.KindOf(err))
		inv.ErrorMessage = err.Error()
	}
	if recErr := b.ledger.RecordInvocation(context.WithoutCancel(ctx), inv); recErr != nil {
		b.logger.Warn("failed to record invocation", "tool_name", toolName, "error", recErr)
	}
}

func errorResult(text string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: text}},
		IsError: true,
	}
}
