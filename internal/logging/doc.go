// Package logging builds the slog loggers used by both binaries.
//
// With format "json" records go through slog's JSON handler. Otherwise a
// ColorHandler prints one colorized line per record:
//
//	14:02:11 INF === AGENT CONNECTED === component=server agent_id=agent-1
//
// Components derive their logger with logger.With("component", name).
package logging
