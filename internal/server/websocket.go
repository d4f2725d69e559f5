// ABOUTME: WebSocket endpoint for persistent agent connections at /ws/{agent_id}.
// ABOUTME: Each inbound frame is handled on its own goroutine; replies go back on the same socket.

package server

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/2389/coven-mcp/internal/agent"
	"github.com/2389/coven-mcp/internal/message"
	"github.com/2389/coven-mcp/internal/store"
)

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("agent_id")
	if agentID == "" {
		sendJSONError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket accept failed", "agent_id", agentID, "error", err)
		return
	}
	ws.SetReadLimit(MaxMessageSize)

	conn := agent.NewConnection(agentID, ws, s.logger)
	s.agents.Register(conn)

	ctx, cancel := context.WithCancel(r.Context())
	var inflight sync.WaitGroup

	defer func() {
		s.agents.Unregister(agentID, conn)
		cancel()
		inflight.Wait()
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	notices, _ := s.broadcaster.Subscribe(ctx, agentID)
	inflight.Add(1)
	go func() {
		defer inflight.Done()
		s.pumpNotices(ctx, conn, notices)
	}()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			s.logReadError(agentID, err)
			return
		}

		inflight.Add(1)
		go func() {
			defer inflight.Done()
			s.handleFrame(ctx, conn, data)
		}()
	}
}

// handleFrame decodes one frame and writes the reply, if any. Decode errors
// become PROCESSING_ERROR replies and leave the connection open.
func (s *Server) handleFrame(ctx context.Context, conn *agent.Connection, data []byte) {
	var reply message.Message

	msg, err := message.Decode(data)
	if err != nil {
		s.logger.Debug("undecodable frame", "agent_id", conn.ID, "error", err)
		reply = message.NewErrorResponse(message.RequestIDOf(data), err)
	} else {
		bindAgent(msg, conn.ID)
		reply = s.Handle(ctx, store.TransportWebSocket, msg)
	}
	if reply == nil {
		return
	}

	if err := conn.Send(ctx, reply); err != nil {
		s.logger.Debug("failed to send reply",
			"agent_id", conn.ID,
			"request_id", reply.ID(),
			"error", err,
		)
	}
}

// bindAgent stamps the connection's agent id onto every request. On a
// WebSocket the identity comes from the path, never from the frame body.
func bindAgent(msg message.Message, agentID string) {
	switch m := msg.(type) {
	case *message.ToolInvocationRequest:
		m.AgentID = agentID
	case *message.ContextFetchRequest:
		m.AgentID = agentID
	case *message.StateUpdateRequest:
		m.AgentID = agentID
	case *message.Heartbeat:
		m.AgentID = agentID
	}
}

// pumpNotices drains broadcast messages onto the socket until the
// subscription channel closes.
func (s *Server) pumpNotices(ctx context.Context, conn *agent.Connection, notices <-chan message.Message) {
	for msg := range notices {
		if err := conn.Send(ctx, msg); err != nil {
			s.logger.Debug("failed to push notice", "agent_id", conn.ID, "error", err)
		}
	}
}

func (s *Server) logReadError(agentID string, err error) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		s.logger.Debug("agent closed websocket", "agent_id", agentID)
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Debug("websocket read ended", "agent_id", agentID, "error", err)
}
