// ABOUTME: Tests for the three-scope context store and its merge strategies.
// ABOUTME: Covers scope isolation, partial fetches, strategy semantics, and concurrent access.

package contextstore

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-mcp/internal/message"
)

func v(x any) message.Value { return message.MustValueOf(x) }

func TestStore_AgentScopeIsolation(t *testing.T) {
	s := New(nil)

	_, err := s.Update("agent-a", message.ScopeAgent, map[string]message.Value{"key": v("a-value")}, message.MergeReplace)
	require.NoError(t, err)

	found, missing, err := s.Fetch("agent-b", message.ScopeAgent, []string{"key"})
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.Equal(t, []string{"key"}, missing)

	found, missing, err = s.Fetch("agent-a", message.ScopeAgent, []string{"key"})
	require.NoError(t, err)
	assert.Empty(t, missing)
	assert.True(t, v("a-value").Equal(found["key"]))
}

func TestStore_ScopesAreIndependent(t *testing.T) {
	s := New(nil)

	_, err := s.Update("agent-a", message.ScopeSession, map[string]message.Value{"k": v("session")}, message.MergeReplace)
	require.NoError(t, err)
	_, err = s.Update("agent-a", message.ScopeGlobal, map[string]message.Value{"k": v("global")}, message.MergeReplace)
	require.NoError(t, err)

	// Session values are shared across agents.
	found, _, err := s.Fetch("agent-b", message.ScopeSession, []string{"k"})
	require.NoError(t, err)
	assert.True(t, v("session").Equal(found["k"]))

	found, _, err = s.Fetch("agent-b", message.ScopeGlobal, []string{"k"})
	require.NoError(t, err)
	assert.True(t, v("global").Equal(found["k"]))

	_, missing, err := s.Fetch("agent-a", message.ScopeAgent, []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, []string{"k"}, missing)

	assert.Equal(t, 1, s.Len(message.ScopeSession))
	assert.Equal(t, 0, s.Len(message.ScopeAgent))
}

func TestStore_AgentKeysAreNamespaced(t *testing.T) {
	s := New(nil)

	_, err := s.Update("agent-a", message.ScopeAgent, map[string]message.Value{"k": v(1)}, message.MergeReplace)
	require.NoError(t, err)

	sm := s.scopes[message.ScopeAgent]
	_, ok := sm.values["agent-a.k"]
	assert.True(t, ok, "agent key should be stored as {agent_id}.{key}")
}

func TestStore_FetchPreservesMissingOrder(t *testing.T) {
	s := New(nil)
	_, err := s.Update("a", message.ScopeGlobal, map[string]message.Value{"b": v(2)}, message.MergeReplace)
	require.NoError(t, err)

	found, missing, err := s.Fetch("a", message.ScopeGlobal, []string{"z", "b", "a"})
	require.NoError(t, err)
	assert.Len(t, found, 1)
	assert.Equal(t, []string{"z", "a"}, missing)
}

func TestStore_UpdateReturnsSortedKeys(t *testing.T) {
	s := New(nil)
	keys, err := s.Update("a", message.ScopeSession, map[string]message.Value{
		"zeta":  v(1),
		"alpha": v(2),
		"mid":   v(3),
	}, message.MergeReplace)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, keys)
}

func TestStore_MergeStrategies(t *testing.T) {
	tests := []struct {
		name     string
		existing any
		update   any
		strategy message.MergeStrategy
		want     any
	}{
		{
			name:     "merge combines nested objects",
			existing: map[string]any{"a": map[string]any{"x": 1}},
			update:   map[string]any{"a": map[string]any{"y": 2}},
			strategy: message.MergeDeep,
			want:     map[string]any{"a": map[string]any{"x": 1, "y": 2}},
		},
		{
			name:     "replace overwrites objects",
			existing: map[string]any{"a": map[string]any{"x": 1}},
			update:   map[string]any{"a": map[string]any{"y": 2}},
			strategy: message.MergeReplace,
			want:     map[string]any{"a": map[string]any{"y": 2}},
		},
		{
			name:     "append extends lists",
			existing: []any{1, 2},
			update:   []any{3},
			strategy: message.MergeAppend,
			want:     []any{1, 2, 3},
		},
		{
			name:     "merge of non-objects replaces",
			existing: []any{1},
			update:   map[string]any{"k": "v"},
			strategy: message.MergeDeep,
			want:     map[string]any{"k": "v"},
		},
		{
			name:     "append onto a scalar replaces",
			existing: "text",
			update:   []any{1},
			strategy: message.MergeAppend,
			want:     []any{1},
		},
		{
			name:     "append of a scalar replaces the list",
			existing: []any{1, 2},
			update:   5,
			strategy: message.MergeAppend,
			want:     5,
		},
		{
			name:     "merge overwrites leaf conflicts",
			existing: map[string]any{"a": 1, "b": map[string]any{"c": 1}},
			update:   map[string]any{"a": 2, "b": map[string]any{"c": 3, "d": 4}},
			strategy: message.MergeDeep,
			want:     map[string]any{"a": 2, "b": map[string]any{"c": 3, "d": 4}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(nil)
			_, err := s.Update("a", message.ScopeSession, map[string]message.Value{"key": v(tt.existing)}, message.MergeReplace)
			require.NoError(t, err)

			_, err = s.Update("a", message.ScopeSession, map[string]message.Value{"key": v(tt.update)}, tt.strategy)
			require.NoError(t, err)

			found, _, err := s.Fetch("a", message.ScopeSession, []string{"key"})
			require.NoError(t, err)
			assert.True(t, v(tt.want).Equal(found["key"]), "got %s", found["key"])
		})
	}
}

func TestStore_MergeWithoutExistingStores(t *testing.T) {
	s := New(nil)
	_, err := s.Update("a", message.ScopeGlobal, map[string]message.Value{"list": v([]any{1})}, message.MergeAppend)
	require.NoError(t, err)

	found, _, err := s.Fetch("a", message.ScopeGlobal, []string{"list"})
	require.NoError(t, err)
	assert.True(t, v([]any{1}).Equal(found["list"]))
}

func TestStore_ValuesAreCopied(t *testing.T) {
	s := New(nil)
	input := v(map[string]any{"x": 1})
	_, err := s.Update("a", message.ScopeGlobal, map[string]message.Value{"obj": input}, message.MergeReplace)
	require.NoError(t, err)

	obj, _ := input.AsObject()
	obj["x"] = message.Int(100)

	found, _, err := s.Fetch("a", message.ScopeGlobal, []string{"obj"})
	require.NoError(t, err)
	fetched, _ := found["obj"].AsObject()
	x, _ := fetched["x"].AsInt()
	assert.Equal(t, int64(1), x)

	fetched["x"] = message.Int(7)
	again, _, err := s.Fetch("a", message.ScopeGlobal, []string{"obj"})
	require.NoError(t, err)
	againObj, _ := again["obj"].AsObject()
	x, _ = againObj["x"].AsInt()
	assert.Equal(t, int64(1), x)
}

func TestStore_InvalidInputs(t *testing.T) {
	s := New(nil)

	_, _, err := s.Fetch("a", message.Scope("planet"), []string{"k"})
	assert.ErrorIs(t, err, ErrInvalidScope)

	_, err = s.Update("a", message.ScopeGlobal, nil, message.MergeStrategy("smash"))
	assert.ErrorIs(t, err, ErrInvalidStrategy)

	_, err = s.Update("", message.ScopeAgent, map[string]message.Value{"k": v(1)}, message.MergeReplace)
	assert.ErrorIs(t, err, ErrMissingAgentID)
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := New(nil)
	const workers = 16
	const perWorker = 50

	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			agentID := fmt.Sprintf("agent-%d", w)
			for i := range perWorker {
				_, err := s.Update(agentID, message.ScopeGlobal, map[string]message.Value{"counter": v([]any{i})}, message.MergeAppend)
				assert.NoError(t, err)
				_, err = s.Update(agentID, message.ScopeAgent, map[string]message.Value{"last": v(i)}, message.MergeReplace)
				assert.NoError(t, err)
				_, _, err = s.Fetch(agentID, message.ScopeGlobal, []string{"counter"})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	found, _, err := s.Fetch("x", message.ScopeGlobal, []string{"counter"})
	require.NoError(t, err)
	list, ok := found["counter"].AsArray()
	require.True(t, ok)
	assert.Len(t, list, workers*perWorker)
	assert.Equal(t, workers, s.Len(message.ScopeAgent))
}
