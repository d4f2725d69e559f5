// Package gateway assembles an MCP server process from its configuration.
//
// # Wiring
//
// New builds, in order:
//
//	config.Database  -> store.SQLiteStore, or store.MemoryStore without a path
//	config.Tools     -> tools.Registry (+ builtins), tools.WorkerPool, tools.Dispatcher
//	config.Auth      -> auth.Authenticator
//	dispatcher       -> mcp.Bridge mounted at /mcp
//	all of the above -> server.Server and its routes
//
// plus two unauthenticated endpoints:
//
//   - GET /health - liveness, always "OK"
//   - GET /health/ready - 200 once at least one tool is registered
//
// # Lifecycle
//
// Run listens on server.http_addr, or on a tsnet node when tailscale is
// enabled (Funnel exposes it publicly on :443). Serve runs the HTTP server
// alongside two loops in one errgroup:
//
//   - the reaper, which disconnects WebSocket agents whose last heartbeat is
//     older than agents.heartbeat_timeout
//   - ledger pruning, which deletes invocation rows older than
//     database.retention
//
// Canceling the context shuts down the HTTP server, closes every agent
// connection with StatusGoingAway, and closes the ledger. Shutdown is safe to
// call more than once.
package gateway
