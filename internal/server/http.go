// ABOUTME: HTTP routes for the MCP server: unary request endpoints and read-only status APIs.
// ABOUTME: Decode failures are answered with HTTP 500 and a PROCESSING_ERROR body.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/coven-mcp/internal/agent"
	"github.com/2389/coven-mcp/internal/message"
	"github.com/2389/coven-mcp/internal/store"
)

// Info is the body of GET /info.
type Info struct {
	ServerID              string   `json:"server_id"`
	Version               string   `json:"version"`
	Capabilities          []string `json:"capabilities"`
	SupportedTools        []string `json:"supported_tools"`
	MaxConcurrentRequests int      `json:"max_concurrent_requests"`
	ConnectedAgents       int      `json:"connected_agents"`
}

// RegisterRoutes registers the server endpoints on mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.Handle("GET /info", s.protect(http.HandlerFunc(s.handleInfo)))

	mux.Handle("POST /invoke_tool", s.protect(s.unary(message.TypeToolInvocation)))
	mux.Handle("POST /fetch_context", s.protect(s.unary(message.TypeContextFetch)))
	mux.Handle("POST /update_state", s.protect(s.unary(message.TypeStateUpdate)))

	mux.HandleFunc("GET /ws/{agent_id}", s.handleWebSocket)

	mux.Handle("GET /agents", s.protect(http.HandlerFunc(s.handleListAgents)))
	mux.Handle("GET /agents/{agent_id}", s.protect(http.HandlerFunc(s.handleGetAgent)))
	mux.Handle("GET /invocations", s.protect(http.HandlerFunc(s.handleListInvocations)))

	if s.mcp != nil {
		mux.Handle("/mcp", s.protect(s.mcp))
	}
}

// protect applies bearer auth when the server has credentials configured.
func (s *Server) protect(h http.Handler) http.Handler {
	if s.auth == nil || !s.auth.Enabled() {
		return h
	}
	return s.auth.Middleware(h)
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message":   "MCP Server is running",
		"server_id": s.id,
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, Info{
		ServerID:              s.id,
		Version:               s.version,
		Capabilities:          Capabilities,
		SupportedTools:        s.dispatcher.Registry().Names(),
		MaxConcurrentRequests: s.maxConcurrent,
		ConnectedAgents:       s.agents.Len(),
	})
}

// unary handles one request variant per endpoint and replies in the body.
func (s *Server) unary(want message.Type) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxMessageSize+1))
		if err != nil {
			writeMessage(w, http.StatusInternalServerError,
				message.NewErrorResponse(message.UnknownRequestID, fmt.Errorf("reading body: %w", err)))
			return
		}
		if len(body) > MaxMessageSize {
			writeMessage(w, http.StatusRequestEntityTooLarge,
				message.NewErrorResponse(message.RequestIDOf(body), errors.New("request body too large")))
			return
		}

		msg, err := message.Decode(body)
		if err != nil {
			s.logger.Debug("rejecting undecodable request", "path", r.URL.Path, "error", err)
			writeMessage(w, http.StatusInternalServerError,
				message.NewErrorResponse(message.RequestIDOf(body), err))
			return
		}
		if msg.Type() != want {
			writeMessage(w, http.StatusInternalServerError,
				message.NewErrorResponse(msg.ID(), fmt.Errorf("expected %s message, got %s", want, msg.Type())))
			return
		}

		reply := s.Handle(r.Context(), store.TransportHTTP, msg)
		status := http.StatusOK
		if _, isErr := reply.(*message.ErrorResponse); isErr {
			status = http.StatusInternalServerError
		}
		writeMessage(w, status, reply)
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.agents.List())
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	info, ok := s.agents.Get(r.PathValue("agent_id"))
	if !ok {
		sendJSONError(w, http.StatusNotFound, agent.ErrAgentNotFound.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// handleListInvocations handles GET /invocations?agent_id=&tool_name=&since=&limit=.
func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	if s.ledger == nil {
		sendJSONError(w, http.StatusNotFound, "invocation ledger is disabled")
		return
	}

	q := r.URL.Query()
	filter := store.InvocationFilter{
		AgentID:  q.Get("agent_id"),
		ToolName: q.Get("tool_name"),
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 1 {
			sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if sinceStr := q.Get("since"); sinceStr != "" {
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			sendJSONError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}

	rows, err := s.ledger.ListInvocations(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list invocations", "error", err)
		sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if rows == nil {
		rows = []*store.Invocation{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeMessage(w http.ResponseWriter, status int, msg message.Message) {
	data, err := message.Encode(msg)
	if err != nil {
		sendJSONError(w, http.StatusInternalServerError, "encoding reply failed")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// sendJSONError writes a JSON error response.
func sendJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
