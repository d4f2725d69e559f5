// Package tools provides the tool registry and dispatcher used by the MCP server.
//
// # Overview
//
// A Tool is a named handler. Context-aware tools (Handler) run on their own
// goroutine and should return when their context is cancelled. Blocking tools
// (Blocking) run on a WorkerPool whose size bounds how many execute at once.
//
//	registry := tools.NewRegistry(logger)
//	registry.Register(&tools.Tool{Name: "echo", Handler: echo})
//
//	d := tools.NewDispatcher(tools.DispatcherConfig{Registry: registry})
//	res, err := d.Invoke(ctx, "agent-1", "echo", args, 5*time.Second)
//
// # Failures
//
// Invoke returns a *DispatchError whose Kind is one of tool_not_found,
// timeout, execution_failed, or canceled. On timeout the caller is released
// immediately; a blocking worker that is still running keeps its pool slot
// until it returns.
//
// # Watching
//
// Registry.Watch delivers a Change after each Register or Unregister, which
// the MCP bridge uses to keep its tool list in sync.
package tools
