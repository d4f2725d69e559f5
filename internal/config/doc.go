// Package config handles configuration loading for the MCP server and agents.
//
// # Configuration File
//
// Locations (in order):
//
//  1. The --config flag
//  2. Path from the COVEN_MCP_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven-mcp/server.yaml (or agent.yaml)
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	auth:
//	  jwt_secret: "${COVEN_MCP_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Server Sections
//
//	server:
//	  http_addr: "0.0.0.0:8000"
//	  server_id: ""                 # generated when empty
//	  max_concurrent_requests: 100
//	  allowed_origins: []           # WebSocket origin patterns
//	  replay_window: "5m"           # retried requests answered from cache
//
//	tools:
//	  default_timeout: "30s"
//	  worker_pool_size: 8           # blocking tool concurrency
//	  builtins: true
//
//	agents:
//	  heartbeat_interval: "30s"
//	  heartbeat_timeout: "90s"      # stale agents are disconnected
//	  notify_state_changes: false
//
//	auth:
//	  api_keys: []
//	  jwt_secret: ""                # at least 32 bytes when set
//
//	database:
//	  path: ""                      # empty keeps the invocation ledger in memory
//	  retention: "168h"
//
//	tailscale:
//	  enabled: false
//	  hostname: "coven-mcp"
//	  auth_key: "${TS_AUTHKEY}"
//	  funnel: false
//
//	logging:
//	  level: "info"                 # debug, info, warn, error
//	  format: "text"                # text, json
//
// # Agent File
//
//	servers: ["http://localhost:8000"]
//	client_id: "agent-1"
//	api_key: "${COVEN_MCP_API_KEY}"
//	timeout: "30s"
//	retry_attempts: 3
//	heartbeat_interval: "30s"
//	prefer_websocket: true
package config
