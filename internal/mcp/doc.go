// Package mcp exposes the server's tool registry to standard Model Context
// Protocol clients.
//
// # Overview
//
// Agents that speak this server's own JSON message protocol use the HTTP and
// WebSocket endpoints in package server. Clients that only speak MCP (IDEs,
// desktop assistants, other SDKs) connect to /mcp instead, which is served by
// the official go-sdk streamable HTTP handler.
//
//	bridge, err := mcp.NewBridge(mcp.Config{
//	    Version:    "1.0.0",
//	    Dispatcher: dispatcher,
//	})
//	mux.Handle("/mcp", bridge)
//
// # Tool Sync
//
// The bridge watches the registry. Every Register adds or replaces the MCP
// tool; every Unregister removes it. Connected MCP sessions are told about the
// change through the SDK's list-changed notification.
//
// # Calls
//
// tools/call goes through the same Dispatcher as native invocations, with the
// dispatcher's default timeout. Dispatch failures come back as results with
// isError set. Callers can name themselves with the X-Agent-Id header.
//
// # Authentication
//
// The bridge itself does no auth. The server wraps it with the same bearer
// middleware as the other endpoints when credentials are configured.
package mcp
