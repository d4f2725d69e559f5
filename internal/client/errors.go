// ABOUTME: Error values returned by the MCP client.
// ABOUTME: Transport failures are sentinels; server-reported failures are typed.

package client

import (
	"errors"
	"fmt"

	"github.com/2389/coven-mcp/internal/message"
	"github.com/2389/coven-mcp/internal/tools"
)

var (
	// ErrNotConnected is returned for requests made before Connect or after Disconnect.
	ErrNotConnected = errors.New("client not connected")

	// ErrAlreadyConnected is returned by Connect on a connected client.
	ErrAlreadyConnected = errors.New("client already connected")

	// ErrConnectionClosed fails requests whose WebSocket went away.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTimeout is returned when no reply arrives within the call timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrDuplicateRequestID indicates a request id is already pending.
	ErrDuplicateRequestID = errors.New("duplicate request id")
)

// RemoteError is an ErrorResponse (or HTTP auth failure) from the server.
type RemoteError struct {
	RequestID string
	Code      string
	Message   string
	Details   map[string]message.Value
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

func remoteErrorFrom(r *message.ErrorResponse) *RemoteError {
	return &RemoteError{
		RequestID: r.RequestID,
		Code:      r.ErrorCode,
		Message:   r.ErrorMessage,
		Details:   r.Details,
	}
}

// ToolError is a tool invocation the server answered with success=false.
type ToolError struct {
	Tool    string
	Kind    tools.ErrorKind
	Message string
}

func (e *ToolError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
	}
	return fmt.Sprintf("tool %s failed (%s): %s", e.Tool, e.Kind, e.Message)
}
