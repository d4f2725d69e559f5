// ABOUTME: MCP server core: shared request handling for HTTP and WebSocket transports.
// ABOUTME: Owns the context store, agent registry, replay cache, and invocation ledger wiring.

package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/2389/coven-mcp/internal/agent"
	"github.com/2389/coven-mcp/internal/auth"
	"github.com/2389/coven-mcp/internal/contextstore"
	"github.com/2389/coven-mcp/internal/dedupe"
	"github.com/2389/coven-mcp/internal/message"
	"github.com/2389/coven-mcp/internal/store"
	"github.com/2389/coven-mcp/internal/tools"
)

// MaxMessageSize is the largest accepted request body or WebSocket frame (1MB).
const MaxMessageSize = 1 << 20

// DefaultMaxConcurrentRequests bounds in-flight requests when the config omits it.
const DefaultMaxConcurrentRequests = 100

// replayCacheSize caps how many replies the replay cache remembers.
const replayCacheSize = 10000

// Capabilities advertised on /info.
var Capabilities = []string{
	"tool_invocation",
	"context_fetch",
	"state_update",
	"heartbeat",
	"websocket",
}

// Config holds configuration for creating a Server.
type Config struct {
	ServerID              string
	Version               string
	MaxConcurrentRequests int
	AllowedOrigins        []string // WebSocket origin patterns
	ReplayWindow          time.Duration
	NotifyStateChanges    bool

	Dispatcher  *tools.Dispatcher // required
	Context     *contextstore.Store
	Agents      *agent.Manager
	Broadcaster *agent.Broadcaster
	Ledger      store.Store         // optional
	Auth        *auth.Authenticator // optional
	MCP         http.Handler        // optional /mcp bridge
	Logger      *slog.Logger
}

// Server answers agent requests over HTTP and WebSocket.
type Server struct {
	id             string
	version        string
	maxConcurrent  int
	allowedOrigins []string
	notify         bool

	dispatcher  *tools.Dispatcher
	context     *contextstore.Store
	agents      *agent.Manager
	broadcaster *agent.Broadcaster
	ledger      store.Store
	auth        *auth.Authenticator
	mcp         http.Handler
	replay      *dedupe.Cache[message.Message]
	sem         *semaphore.Weighted
	logger      *slog.Logger
}

// NewServer creates a server. Missing optional collaborators get fresh
// in-memory instances.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	id := cfg.ServerID
	if id == "" {
		id = "mcp-server-" + uuid.New().String()[:8]
	}
	version := cfg.Version
	if version == "" {
		version = "1.0.0"
	}
	maxConcurrent := cfg.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentRequests
	}

	s := &Server{
		id:             id,
		version:        version,
		maxConcurrent:  maxConcurrent,
		allowedOrigins: cfg.AllowedOrigins,
		notify:         cfg.NotifyStateChanges,
		dispatcher:     cfg.Dispatcher,
		context:        cfg.Context,
		agents:         cfg.Agents,
		broadcaster:    cfg.Broadcaster,
		ledger:         cfg.Ledger,
		auth:           cfg.Auth,
		mcp:            cfg.MCP,
		sem:            semaphore.NewWeighted(int64(maxConcurrent)),
		logger:         logger,
	}
	if s.context == nil {
		s.context = contextstore.New(logger)
	}
	if s.agents == nil {
		s.agents = agent.NewManager(logger)
	}
	if s.broadcaster == nil {
		s.broadcaster = agent.NewBroadcaster(logger)
	}
	if cfg.ReplayWindow > 0 {
		s.replay = dedupe.New[message.Message](cfg.ReplayWindow, replayCacheSize)
	}
	return s, nil
}

// ID returns the server id.
func (s *Server) ID() string { return s.id }

// Agents returns the agent registry.
func (s *Server) Agents() *agent.Manager { return s.agents }

// ContextStore returns the shared context store.
func (s *Server) ContextStore() *contextstore.Store { return s.context }

// Broadcast pushes msg to every WebSocket agent not in exclude and returns
// the number of deliveries.
func (s *Server) Broadcast(msg message.Message, exclude ...string) int {
	return s.broadcaster.Publish(msg, exclude...)
}

// Close releases the replay cache and disconnects all agents.
func (s *Server) Close() {
	s.agents.CloseAll("server shutting down")
	s.broadcaster.Close()
	if s.replay != nil {
		s.replay.Close()
	}
}

// Handle processes one decoded message and returns the reply, or nil for
// messages that get none (heartbeats). transport is recorded in the ledger.
func (s *Server) Handle(ctx context.Context, transport string, msg message.Message) (reply message.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic handling message",
				"message_type", msg.Type(),
				"request_id", msg.ID(),
				"panic", r,
			)
			reply = message.NewErrorResponse(msg.ID(), fmt.Errorf("internal error: %v", r))
		}
	}()

	if hb, ok := msg.(*message.Heartbeat); ok {
		if !s.agents.Heartbeat(hb.AgentID, hb) {
			s.logger.Debug("heartbeat from unregistered agent", "agent_id", hb.AgentID)
		}
		return nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return message.NewErrorResponse(msg.ID(), fmt.Errorf("server busy: %w", err))
	}
	defer s.sem.Release(1)

	switch m := msg.(type) {
	case *message.ToolInvocationRequest:
		return s.replayed(m.AgentID, m.RequestID, func() (message.Message, bool) {
			resp := s.invokeTool(ctx, transport, m)
			return resp, resp.Success
		})
	case *message.ContextFetchRequest:
		return s.fetchContext(m)
	case *message.StateUpdateRequest:
		return s.replayed(m.AgentID, m.RequestID, func() (message.Message, bool) {
			resp := s.updateState(m)
			return resp, resp.Success
		})
	default:
		s.logger.Warn("unexpected message from agent",
			"message_type", msg.Type(),
			"request_id", msg.ID(),
		)
		return message.NewErrorResponse(msg.ID(), fmt.Errorf("unexpected message type %q", msg.Type()))
	}
}

// replayed answers a retried request from the replay cache. Only successful
// replies are remembered, so failed requests can be retried for real.
func (s *Server) replayed(agentID, requestID string, run func() (message.Message, bool)) message.Message {
	if s.replay == nil || requestID == "" {
		reply, _ := run()
		return reply
	}

	key := agentID + "/" + requestID
	if cached, ok := s.replay.Get(key); ok {
		s.logger.Debug("answering retried request from replay cache",
			"agent_id", agentID,
			"request_id", requestID,
		)
		return cached
	}

	reply, ok := run()
	if ok {
		s.replay.Put(key, reply)
	}
	return reply
}

func (s *Server) invokeTool(ctx context.Context, transport string, m *message.ToolInvocationRequest) *message.ToolInvocationResponse {
	res, err := s.dispatcher.Invoke(ctx, m.AgentID, m.ToolName, m.Arguments, m.Timeout())

	resp := &message.ToolInvocationResponse{
		Header:               message.NewHeader(m.RequestID),
		Success:              err == nil,
		Result:               res.Value,
		ExecutionTimeSeconds: res.Duration.Seconds(),
		Metadata: map[string]message.Value{
			"tool_name": message.String(m.ToolName),
			"server_id": message.String(s.id),
		},
	}
	if err != nil {
		resp.Result = message.Null()
		resp.ErrorMessage = err.Error()
		resp.Metadata["error_kind"] = message.String(string(tools.KindOf(err)))
	}

	s.record(ctx, transport, m.RequestID, m.AgentID, m.ToolName, res.Duration, err)
	return resp
}

// record writes a ledger row. Ledger failures never fail the invocation.
func (s *Server) record(ctx context.Context, transport, requestID, agentID, toolName string, d time.Duration, err error) {
	if s.ledger == nil {
		return
	}
	inv := &store.Invocation{
		RequestID: requestID,
		AgentID:   agentID,
		ToolName:  toolName,
		Transport: transport,
		Success:   err == nil,
		Duration:  d,
	}
	if err != nil {
		inv.ErrorKind = string(tools.KindOf(err))
		inv.ErrorMessage = err.Error()
	}
	if recErr := s.ledger.RecordInvocation(context.WithoutCancel(ctx), inv); recErr != nil {
		s.logger.Warn("failed to record invocation", "request_id", requestID, "error", recErr)
	}
}

func (s *Server) fetchContext(m *message.ContextFetchRequest) message.Message {
	found, missing, err := s.context.Fetch(m.AgentID, m.Scope, m.ContextKeys)
	if err != nil {
		return message.NewErrorResponse(m.RequestID, err)
	}
	s.logger.Debug("context fetched",
		"agent_id", m.AgentID,
		"scope", m.Scope,
		"found", len(found),
		"missing", len(missing),
	)
	return &message.ContextFetchResponse{
		Header:      message.NewHeader(m.RequestID),
		Success:     true,
		ContextData: found,
		MissingKeys: missing,
	}
}

func (s *Server) updateState(m *message.StateUpdateRequest) *message.StateUpdateResponse {
	keys, err := s.context.Update(m.AgentID, m.Scope, m.StateUpdates, m.MergeStrategy)
	if err != nil {
		return &message.StateUpdateResponse{
			Header:       message.NewHeader(m.RequestID),
			Success:      false,
			UpdatedKeys:  []string{},
			ErrorMessage: err.Error(),
		}
	}

	s.logger.Debug("state updated",
		"agent_id", m.AgentID,
		"scope", m.Scope,
		"strategy", m.MergeStrategy,
		"keys", keys,
	)

	if s.notify && m.Scope != message.ScopeAgent && len(keys) > 0 {
		n := s.Broadcast(m, m.AgentID)
		s.logger.Debug("state change broadcast", "request_id", m.RequestID, "recipients", n)
	}

	return &message.StateUpdateResponse{
		Header:      message.NewHeader(m.RequestID),
		Success:     true,
		UpdatedKeys: keys,
	}
}
