// ABOUTME: Represents a single WebSocket-connected agent on the server side.
// ABOUTME: Encodes outbound messages onto the socket and closes it exactly once.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/coven-mcp/internal/message"
)

// Socket is the subset of *websocket.Conn a Connection writes through.
type Socket interface {
	Write(ctx context.Context, typ websocket.MessageType, p []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Connection represents a connected agent and its socket.
type Connection struct {
	ID          string
	ConnectedAt time.Time

	sock      Socket
	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
	logger    *slog.Logger
}

// NewConnection wraps sock for the given agent.
func NewConnection(agentID string, sock Socket, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		ID:          agentID,
		ConnectedAt: time.Now(),
		sock:        sock,
		done:        make(chan struct{}),
		logger:      logger,
	}
}

// Send encodes msg and writes it as a single text frame.
func (c *Connection) Send(ctx context.Context, msg message.Message) error {
	data, err := message.Encode(msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Type(), err)
	}
	select {
	case <-c.done:
		return fmt.Errorf("agent %s: connection closed", c.ID)
	default:
	}
	return c.sock.Write(ctx, websocket.MessageText, data)
}

// Close shuts the socket. Later calls return the first result.
func (c *Connection) Close(code websocket.StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.sock.Close(code, reason)
		c.logger.Debug("agent connection closed",
			"agent_id", c.ID,
			"code", code.String(),
			"reason", reason,
		)
	})
	return c.closeErr
}

// Done is closed once Close has been called.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}
