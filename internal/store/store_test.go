// ABOUTME: Behavioral tests run against both Store implementations
// ABOUTME: Covers recording, lookup, filtering, ordering, limits, and pruning

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestStore creates a SQLite store in a temp directory.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func backends(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"sqlite": setupTestStore(t),
		"memory": NewMemoryStore(0),
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database file was not created")
}

func TestRecordAndGetInvocation(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			inv := &Invocation{
				RequestID:    "req-1",
				AgentID:      "agent-1",
				ToolName:     "echo",
				Transport:    TransportWebSocket,
				Success:      false,
				ErrorKind:    "timeout",
				ErrorMessage: "tool echo timed out after 1s",
				Duration:     1500 * time.Millisecond,
			}
			require.NoError(t, s.RecordInvocation(ctx, inv))
			assert.NotEmpty(t, inv.ID)
			assert.False(t, inv.CreatedAt.IsZero())
			assert.Equal(t, int64(1500), inv.DurationMS)

			got, err := s.GetInvocation(ctx, inv.ID)
			require.NoError(t, err)
			assert.Equal(t, "req-1", got.RequestID)
			assert.Equal(t, "agent-1", got.AgentID)
			assert.Equal(t, TransportWebSocket, got.Transport)
			assert.False(t, got.Success)
			assert.Equal(t, "timeout", got.ErrorKind)
			assert.Equal(t, 1500*time.Millisecond, got.Duration)
			assert.True(t, inv.CreatedAt.Equal(got.CreatedAt))

			_, err = s.GetInvocation(ctx, "missing")
			assert.True(t, errors.Is(err, ErrNotFound))
		})
	}
}

func TestListInvocations(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

			for i := range 6 {
				agent := "agent-a"
				if i%2 == 1 {
					agent = "agent-b"
				}
				tool := "echo"
				if i >= 4 {
					tool = "clock"
				}
				require.NoError(t, s.RecordInvocation(ctx, &Invocation{
					RequestID: fmt.Sprintf("req-%d", i),
					AgentID:   agent,
					ToolName:  tool,
					Transport: TransportHTTP,
					Success:   true,
					CreatedAt: base.Add(time.Duration(i) * 100 * time.Millisecond),
				}))
			}

			all, err := s.ListInvocations(ctx, InvocationFilter{})
			require.NoError(t, err)
			require.Len(t, all, 6)
			assert.Equal(t, "req-5", all[0].RequestID, "newest first")
			assert.Equal(t, "req-0", all[5].RequestID)

			byAgent, err := s.ListInvocations(ctx, InvocationFilter{AgentID: "agent-a"})
			require.NoError(t, err)
			assert.Len(t, byAgent, 3)

			byTool, err := s.ListInvocations(ctx, InvocationFilter{ToolName: "clock"})
			require.NoError(t, err)
			assert.Len(t, byTool, 2)

			both, err := s.ListInvocations(ctx, InvocationFilter{AgentID: "agent-b", ToolName: "clock"})
			require.NoError(t, err)
			require.Len(t, both, 1)
			assert.Equal(t, "req-5", both[0].RequestID)

			since := base.Add(300 * time.Millisecond)
			recent, err := s.ListInvocations(ctx, InvocationFilter{Since: &since})
			require.NoError(t, err)
			assert.Len(t, recent, 3)

			limited, err := s.ListInvocations(ctx, InvocationFilter{Limit: 2})
			require.NoError(t, err)
			assert.Len(t, limited, 2)
		})
	}
}

func TestPruneInvocations(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().UTC()

			require.NoError(t, s.RecordInvocation(ctx, &Invocation{AgentID: "a", ToolName: "echo", Transport: TransportHTTP, CreatedAt: now.Add(-2 * time.Hour)}))
			require.NoError(t, s.RecordInvocation(ctx, &Invocation{AgentID: "a", ToolName: "echo", Transport: TransportHTTP, CreatedAt: now}))

			n, err := s.PruneInvocations(ctx, now.Add(-time.Hour))
			require.NoError(t, err)
			assert.Equal(t, int64(1), n)

			rows, err := s.ListInvocations(ctx, InvocationFilter{})
			require.NoError(t, err)
			assert.Len(t, rows, 1)
		})
	}
}

func TestMemoryStore_Capacity(t *testing.T) {
	s := NewMemoryStore(2)
	ctx := context.Background()

	first := &Invocation{AgentID: "a", ToolName: "echo"}
	require.NoError(t, s.RecordInvocation(ctx, first))
	require.NoError(t, s.RecordInvocation(ctx, &Invocation{AgentID: "a", ToolName: "echo"}))
	require.NoError(t, s.RecordInvocation(ctx, &Invocation{AgentID: "a", ToolName: "echo"}))

	_, err := s.GetInvocation(ctx, first.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	rows, err := s.ListInvocations(ctx, InvocationFilter{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeLimit(0))
	assert.Equal(t, 100, normalizeLimit(-5))
	assert.Equal(t, 50, normalizeLimit(50))
	assert.Equal(t, 1000, normalizeLimit(5000))
}
