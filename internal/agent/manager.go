// ABOUTME: Registry of WebSocket-connected agents with liveness bookkeeping.
// ABOUTME: Handles registration, supersession on reconnect, heartbeats, and stale reaping.

package agent

import (
	"cmp"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/coven-mcp/internal/message"
)

// ErrAgentNotFound indicates the specified agent was not found.
var ErrAgentNotFound = errors.New("agent not found")

// AgentInfo is the registry entry exposed through /agents.
type AgentInfo struct {
	AgentID       string              `json:"agent_id"`
	ConnectedAt   time.Time           `json:"connected_at"`
	Status        message.AgentStatus `json:"status"`
	LastHeartbeat time.Time           `json:"last_heartbeat"`
	LoadMetrics   map[string]float64  `json:"load_metrics,omitempty"`
}

type entry struct {
	conn *Connection
	info AgentInfo
}

// Manager coordinates all connected agents.
type Manager struct {
	agents map[string]*entry
	mu     sync.RWMutex
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a new Manager instance.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		agents: make(map[string]*entry),
		now:    time.Now,
		logger: logger.With("component", "agents"),
	}
}

// Register adds conn with status active. An existing connection for the same
// agent is replaced, closed, and returned.
func (m *Manager) Register(conn *Connection) *Connection {
	now := m.now()

	m.mu.Lock()
	var superseded *Connection
	if old, exists := m.agents[conn.ID]; exists {
		superseded = old.conn
	}
	m.agents[conn.ID] = &entry{
		conn: conn,
		info: AgentInfo{
			AgentID:       conn.ID,
			ConnectedAt:   now,
			Status:        message.StatusActive,
			LastHeartbeat: now,
		},
	}
	total := len(m.agents)
	m.mu.Unlock()

	if superseded != nil && superseded != conn {
		m.logger.Warn("agent reconnected, closing previous connection", "agent_id", conn.ID)
		_ = superseded.Close(websocket.StatusPolicyViolation, "superseded by newer connection")
	}

	m.logger.Info("=== AGENT CONNECTED ===",
		"agent_id", conn.ID,
		"total_agents", total,
	)
	return superseded
}

// Unregister removes the agent only if conn is still its current connection,
// so a superseded socket cannot evict its replacement.
func (m *Manager) Unregister(agentID string, conn *Connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.agents[agentID]
	if !exists || e.conn != conn {
		return false
	}
	delete(m.agents, agentID)
	m.logger.Info("=== AGENT DISCONNECTED ===",
		"agent_id", agentID,
		"total_agents", len(m.agents),
	)
	return true
}

// Heartbeat records liveness for a connected agent. It reports false when the
// agent has no WebSocket registration.
func (m *Manager) Heartbeat(agentID string, hb *message.Heartbeat) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.agents[agentID]
	if !exists {
		return false
	}
	e.info.LastHeartbeat = m.now()
	if hb.Status != "" {
		e.info.Status = hb.Status
	}
	e.info.LoadMetrics = maps.Clone(hb.LoadMetrics)
	return true
}

// Get returns a copy of the registry entry for agentID.
func (m *Manager) Get(agentID string) (AgentInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.agents[agentID]
	if !exists {
		return AgentInfo{}, false
	}
	return e.info.copy(), true
}

// Connection returns the live connection for agentID.
func (m *Manager) Connection(agentID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, exists := m.agents[agentID]
	if !exists {
		return nil, false
	}
	return e.conn, true
}

// List returns all registry entries ordered by agent id.
func (m *Manager) List() []AgentInfo {
	m.mu.RLock()
	out := make([]AgentInfo, 0, len(m.agents))
	for _, e := range m.agents {
		out = append(out, e.info.copy())
	}
	m.mu.RUnlock()

	slices.SortFunc(out, func(a, b AgentInfo) int {
		return cmp.Compare(a.AgentID, b.AgentID)
	})
	return out
}

// Len returns the number of connected agents.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// ReapStale disconnects agents whose last heartbeat is older than timeout and
// returns their ids.
func (m *Manager) ReapStale(timeout time.Duration) []string {
	cutoff := m.now().Add(-timeout)

	m.mu.Lock()
	var stale []*Connection
	for id, e := range m.agents {
		if e.info.LastHeartbeat.Before(cutoff) {
			stale = append(stale, e.conn)
			delete(m.agents, id)
		}
	}
	m.mu.Unlock()

	ids := make([]string, 0, len(stale))
	for _, conn := range stale {
		m.logger.Warn("agent heartbeat timed out", "agent_id", conn.ID, "timeout", timeout)
		_ = conn.Close(websocket.StatusPolicyViolation, "heartbeat timeout")
		ids = append(ids, conn.ID)
	}
	slices.Sort(ids)
	return ids
}

// CloseAll disconnects every agent, used during shutdown.
func (m *Manager) CloseAll(reason string) {
	m.mu.Lock()
	conns := make([]*Connection, 0, len(m.agents))
	for id, e := range m.agents {
		conns = append(conns, e.conn)
		delete(m.agents, id)
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close(websocket.StatusGoingAway, reason)
	}
}

func (i AgentInfo) copy() AgentInfo {
	i.LoadMetrics = maps.Clone(i.LoadMetrics)
	return i
}
