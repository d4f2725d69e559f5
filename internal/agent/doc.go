// Package agent tracks agents connected to the MCP server over WebSocket.
//
// # Manager
//
// The Manager holds one AgentInfo per connected agent:
//
//	mgr := agent.NewManager(logger)
//	mgr.Register(agent.NewConnection(agentID, wsConn, logger))
//	defer mgr.Unregister(agentID, conn)
//
// Entries are created with status "active" and refreshed by heartbeats. When
// an agent reconnects under the same id, the newer connection replaces the
// older one and the older socket is closed. Unregister compares connections,
// so the superseded socket's cleanup leaves the replacement in place.
//
// ReapStale disconnects agents that have not sent a heartbeat within the
// configured timeout.
//
// # Broadcaster
//
// Server-initiated pushes (state-change notifications) go through a
// Broadcaster. Each WebSocket connection subscribes under its agent id and
// drains its channel onto the socket. Publish takes an exclusion list of
// agent ids and never blocks; slow subscribers lose messages.
//
// Agents that only speak HTTP never subscribe and so never receive pushes.
package agent
