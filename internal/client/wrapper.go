// ABOUTME: ToolWrapper binds a client to one tool name so a remote tool reads like a function.
// ABOUTME: Failed invocations surface as *ToolError.

package client

import (
	"context"
	"fmt"
	"time"

	"github.com/2389/coven-mcp/internal/message"
	"github.com/2389/coven-mcp/internal/tools"
)

// ToolWrapper calls a single remote tool.
type ToolWrapper struct {
	client  *Client
	name    string
	timeout time.Duration
}

// NewToolWrapper wraps tool name on c. A zero timeout uses the client's.
func NewToolWrapper(c *Client, name string, timeout time.Duration) *ToolWrapper {
	return &ToolWrapper{client: c, name: name, timeout: timeout}
}

// Name returns the wrapped tool name.
func (w *ToolWrapper) Name() string { return w.name }

// Call converts plain Go arguments, runs the tool, and returns the result as
// plain Go data. It does not take a context; the wrapper timeout bounds it.
func (w *ToolWrapper) Call(args map[string]any) (any, error) {
	converted, err := message.MapOf(args)
	if err != nil {
		return nil, fmt.Errorf("converting arguments for %s: %w", w.name, err)
	}
	v, err := w.CallContext(context.Background(), converted)
	if err != nil {
		return nil, err
	}
	return v.Interface(), nil
}

// CallContext runs the tool under ctx.
func (w *ToolWrapper) CallContext(ctx context.Context, args map[string]message.Value) (message.Value, error) {
	var opts []CallOption
	if w.timeout > 0 {
		opts = append(opts, WithTimeout(w.timeout))
	}

	resp, err := w.client.InvokeTool(ctx, w.name, args, opts...)
	if err != nil {
		return message.Null(), err
	}
	if !resp.Success {
		return message.Null(), toolErrorFrom(w.name, resp)
	}
	return resp.Result, nil
}

func toolErrorFrom(name string, resp *message.ToolInvocationResponse) *ToolError {
	te := &ToolError{Tool: name, Message: resp.ErrorMessage}
	if kind, ok := resp.Metadata["error_kind"].AsString(); ok {
		te.Kind = tools.ErrorKind(kind)
	}
	return te
}
