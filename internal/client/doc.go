// Package client is the agent side of the MCP protocol.
//
// A Client connects to one server. Connect tries a WebSocket at
// /ws/{client_id} first when asked to and falls back to plain HTTP POSTs.
// Over WebSocket, requests are matched to replies through a PendingTable;
// a background listener resolves replies and hands everything else to the
// OnNotification handler, while a heartbeat loop reports liveness. Over
// HTTP, transport errors, attempt timeouts, and 502/503/504 are retried with
// exponential backoff. Tool calls wait ToolReplyGrace past timeout_seconds so
// the server's own timeout reply reaches the caller.
//
// ToolWrapper turns a remote tool into a function call. Pool spreads calls
// over several servers round-robin.
//
// Errors fall into three groups: sentinels for transport state
// (ErrNotConnected, ErrConnectionClosed, ErrTimeout), *RemoteError for
// ErrorResponse replies, and *ToolError for tool invocations the server
// answered with success=false.
package client
