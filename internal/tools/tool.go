// ABOUTME: Tool definition types shared by the registry, dispatcher, and MCP bridge.
// ABOUTME: A tool carries exactly one of a context-aware handler or a blocking function.

package tools

import (
	"context"
	"errors"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/coven-mcp/internal/message"
)

// ErrInvalidTool indicates a tool definition that cannot be registered.
var ErrInvalidTool = errors.New("invalid tool")

// Func executes a tool on its own goroutine. It should honor ctx cancellation.
type Func func(ctx context.Context, args map[string]message.Value) (message.Value, error)

// BlockingFunc executes a tool synchronously on the bounded worker pool. It
// cannot be interrupted; on timeout the caller stops waiting and the worker
// finishes in the background.
type BlockingFunc func(args map[string]message.Value) (message.Value, error)

// Tool is a named, invocable capability.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema

	Handler  Func
	Blocking BlockingFunc
}

// Schema returns the tool's input schema, defaulting to an open object.
func (t *Tool) Schema() *jsonschema.Schema {
	if t.InputSchema != nil {
		return t.InputSchema
	}
	return &jsonschema.Schema{Type: "object"}
}

func (t *Tool) validate() error {
	if t == nil {
		return errors.Join(ErrInvalidTool, errors.New("tool is nil"))
	}
	if t.Name == "" {
		return errors.Join(ErrInvalidTool, errors.New("name is required"))
	}
	if (t.Handler == nil) == (t.Blocking == nil) {
		return errors.Join(ErrInvalidTool, errors.New("exactly one of Handler or Blocking must be set"))
	}
	return nil
}

// ChangeKind describes a registry mutation.
type ChangeKind int

const (
	ChangeRegistered ChangeKind = iota
	ChangeUnregistered
)

func (k ChangeKind) String() string {
	if k == ChangeUnregistered {
		return "unregistered"
	}
	return "registered"
}

// Change is delivered to registry watchers after a mutation. Tool is nil for
// ChangeUnregistered.
type Change struct {
	Kind ChangeKind
	Name string
	Tool *Tool
}
