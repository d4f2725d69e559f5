// Package server implements the MCP server that agents call to run tools and
// share context.
//
// # Endpoints
//
//	GET  /                 {message, server_id}
//	GET  /info             server id, version, capabilities, tool names
//	POST /invoke_tool      ToolInvocationRequest  -> ToolInvocationResponse
//	POST /fetch_context    ContextFetchRequest    -> ContextFetchResponse
//	POST /update_state     StateUpdateRequest     -> StateUpdateResponse
//	GET  /ws/{agent_id}    WebSocket, any request variant or heartbeat
//	GET  /agents           connected WebSocket agents
//	GET  /agents/{id}      one agent
//	GET  /invocations      ledger rows (when a ledger is configured)
//	     /mcp              MCP streamable HTTP bridge (when configured)
//
// # Handling
//
// HTTP and WebSocket share Handle. Tool invocations go through the
// tools.Dispatcher; dispatch failures come back as success=false with
// metadata.error_kind set. Context requests go to the contextstore.
//
// Bodies that fail to decode are answered with a PROCESSING_ERROR carrying the
// original request_id, or "unknown" when it cannot be read. Over HTTP the
// status is 500. Over WebSocket the connection stays open.
//
// Heartbeats update the agent registry and are never answered.
//
// # WebSocket Lifecycle
//
// Accept registers the agent as active. A reconnect under the same id closes
// the older socket. Each frame runs on its own goroutine, bounded by
// max_concurrent_requests across all transports. When the read loop ends, the
// agent is unregistered, its broadcast subscription is dropped, in-flight
// frames finish, and the socket is closed.
//
// # Replay Cache
//
// With a replay window, successful tool and state-update replies are cached by
// agent_id and request_id. A retried request inside the window gets the cached
// reply instead of running again. Two copies arriving at the same instant may
// both run.
package server
