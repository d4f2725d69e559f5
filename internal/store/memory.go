// ABOUTME: In-memory Store implementation used when no database path is configured
// ABOUTME: Keeps a bounded ledger and mirrors SQLite ordering and filtering semantics

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DefaultMemoryCapacity bounds the in-memory ledger.
const DefaultMemoryCapacity = 10000

// MemoryStore is an in-memory Store. The oldest rows are dropped once the
// capacity is reached.
type MemoryStore struct {
	mu       sync.RWMutex
	rows     []*Invocation // oldest first
	byID     map[string]*Invocation
	capacity int
}

// NewMemoryStore creates a MemoryStore holding at most capacity rows.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryStore{
		byID:     make(map[string]*Invocation),
		capacity: capacity,
	}
}

// RecordInvocation stores a copy of inv.
func (m *MemoryStore) RecordInvocation(ctx context.Context, inv *Invocation) error {
	prepareInvocation(inv)
	cp := *inv

	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.rows) >= m.capacity {
		oldest := m.rows[0]
		delete(m.byID, oldest.ID)
		m.rows = m.rows[1:]
	}
	m.rows = append(m.rows, &cp)
	m.byID[cp.ID] = &cp
	return nil
}

// GetInvocation returns a copy of the row with id.
func (m *MemoryStore) GetInvocation(ctx context.Context, id string) (*Invocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *inv
	return &cp, nil
}

// ListInvocations returns copies of matching rows, newest first.
func (m *MemoryStore) ListInvocations(ctx context.Context, f InvocationFilter) ([]*Invocation, error) {
	limit := normalizeLimit(f.Limit)

	m.mu.RLock()
	var out []*Invocation
	for i := len(m.rows) - 1; i >= 0; i-- {
		inv := m.rows[i]
		if f.AgentID != "" && inv.AgentID != f.AgentID {
			continue
		}
		if f.ToolName != "" && inv.ToolName != f.ToolName {
			continue
		}
		if f.Since != nil && inv.CreatedAt.Before(*f.Since) {
			continue
		}
		cp := *inv
		out = append(out, &cp)
	}
	m.mu.RUnlock()

	// Rows arrive in insertion order; callers may supply their own CreatedAt.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// PruneInvocations drops rows created before cutoff.
func (m *MemoryStore) PruneInvocations(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.rows[:0]
	var removed int64
	for _, inv := range m.rows {
		if inv.CreatedAt.Before(cutoff) {
			delete(m.byID, inv.ID)
			removed++
			continue
		}
		kept = append(kept, inv)
	}
	m.rows = kept
	return removed, nil
}

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
