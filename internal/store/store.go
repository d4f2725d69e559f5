// ABOUTME: Store interface and data types for the tool invocation ledger
// ABOUTME: Defines Invocation, InvocationFilter, and the Store contract shared by SQLite and memory backends

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Transport names recorded on invocations.
const (
	TransportHTTP      = "http"
	TransportWebSocket = "websocket"
	TransportMCP       = "mcp"
)

// Invocation is one tool call as seen by the server.
type Invocation struct {
	ID           string        `json:"id"`
	RequestID    string        `json:"request_id"`
	AgentID      string        `json:"agent_id"`
	ToolName     string        `json:"tool_name"`
	Transport    string        `json:"transport"`
	Success      bool          `json:"success"`
	ErrorKind    string        `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Duration     time.Duration `json:"-"`
	DurationMS   int64         `json:"duration_ms"`
	CreatedAt    time.Time     `json:"created_at"`
}

// InvocationFilter narrows ListInvocations. Empty fields match everything.
type InvocationFilter struct {
	AgentID  string
	ToolName string
	Since    *time.Time
	Limit    int // default 100, max 1000
}

// Store persists the invocation ledger.
type Store interface {
	RecordInvocation(ctx context.Context, inv *Invocation) error
	GetInvocation(ctx context.Context, id string) (*Invocation, error)
	// ListInvocations returns matching rows, newest first.
	ListInvocations(ctx context.Context, f InvocationFilter) ([]*Invocation, error)
	// PruneInvocations deletes rows created before cutoff and returns the count removed.
	PruneInvocations(ctx context.Context, cutoff time.Time) (int64, error)
	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
