// ABOUTME: In-memory three-scope key/value store backing context fetches and state updates.
// ABOUTME: Agent-scope keys are namespaced per agent; each scope has its own lock.

package contextstore

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/2389/coven-mcp/internal/message"
)

// ErrInvalidScope indicates a scope outside agent/session/global.
var ErrInvalidScope = errors.New("invalid scope")

// ErrInvalidStrategy indicates a merge strategy outside replace/merge/append.
var ErrInvalidStrategy = errors.New("invalid merge strategy")

// ErrMissingAgentID indicates an agent-scope operation without an agent id.
var ErrMissingAgentID = errors.New("agent_id is required for agent scope")

// scopeMap is a single namespace guarded by its own lock.
type scopeMap struct {
	mu     sync.RWMutex
	values map[string]message.Value
}

// Store holds the agent, session, and global namespaces.
type Store struct {
	scopes map[message.Scope]*scopeMap
	logger *slog.Logger
}

// New creates an empty store. Pass nil logger for default.
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		scopes: make(map[message.Scope]*scopeMap, 3),
		logger: logger,
	}
	for _, scope := range []message.Scope{message.ScopeAgent, message.ScopeSession, message.ScopeGlobal} {
		s.scopes[scope] = &scopeMap{values: make(map[string]message.Value)}
	}
	return s
}

// qualify rewrites agent-scope keys to "{agent_id}.{key}".
func qualify(agentID string, scope message.Scope, key string) string {
	if scope == message.ScopeAgent {
		return agentID + "." + key
	}
	return key
}

func (s *Store) scope(agentID string, scope message.Scope) (*scopeMap, error) {
	sm, ok := s.scopes[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, scope)
	}
	if scope == message.ScopeAgent && agentID == "" {
		return nil, ErrMissingAgentID
	}
	return sm, nil
}

// Fetch returns the values found for keys and the keys that were absent, in
// request order. Returned values are copies.
func (s *Store) Fetch(agentID string, scope message.Scope, keys []string) (map[string]message.Value, []string, error) {
	sm, err := s.scope(agentID, scope)
	if err != nil {
		return nil, nil, err
	}

	found := make(map[string]message.Value, len(keys))
	missing := []string{}

	sm.mu.RLock()
	for _, key := range keys {
		if v, ok := sm.values[qualify(agentID, scope, key)]; ok {
			found[key] = v.Clone()
		} else {
			missing = append(missing, key)
		}
	}
	sm.mu.RUnlock()

	s.logger.Debug("context fetched",
		"agent_id", agentID,
		"scope", scope,
		"found", len(found),
		"missing", len(missing),
	)
	return found, missing, nil
}

// Update applies updates under strategy and returns the sorted, unqualified keys
// that were written.
func (s *Store) Update(agentID string, scope message.Scope, updates map[string]message.Value, strategy message.MergeStrategy) ([]string, error) {
	if !strategy.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStrategy, strategy)
	}
	sm, err := s.scope(agentID, scope)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(updates))
	for key := range updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	sm.mu.Lock()
	for _, key := range keys {
		qualified := qualify(agentID, scope, key)
		incoming := updates[key].Clone()
		existing, ok := sm.values[qualified]
		if !ok {
			sm.values[qualified] = incoming
			continue
		}
		sm.values[qualified] = Combine(existing, incoming, strategy)
	}
	sm.mu.Unlock()

	s.logger.Debug("state updated",
		"agent_id", agentID,
		"scope", scope,
		"strategy", strategy,
		"keys", keys,
	)
	return keys, nil
}

// Len returns the number of keys stored in scope.
func (s *Store) Len(scope message.Scope) int {
	sm, ok := s.scopes[scope]
	if !ok {
		return 0
	}
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.values)
}
