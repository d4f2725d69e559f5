// ABOUTME: End-to-end tests for the MCP server over HTTP and WebSocket
// ABOUTME: Runs the real routes on httptest with the builtin tool pack

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-mcp/internal/auth"
	"github.com/2389/coven-mcp/internal/builtins"
	"github.com/2389/coven-mcp/internal/message"
	"github.com/2389/coven-mcp/internal/store"
	"github.com/2389/coven-mcp/internal/tools"
)

func newTestServer(t *testing.T, mutate ...func(*Config)) (*Server, *httptest.Server) {
	t.Helper()

	registry := tools.NewRegistry(nil)
	require.NoError(t, builtins.RegisterBasePack(registry))

	cfg := Config{
		ServerID:   "mcp-test",
		Version:    "9.9.9",
		Dispatcher: tools.NewDispatcher(tools.DispatcherConfig{Registry: registry}),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	s, err := NewServer(cfg)
	require.NoError(t, err)

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func post(t *testing.T, url string, msg message.Message) (int, message.Message) {
	t.Helper()
	data, err := message.Encode(msg)
	require.NoError(t, err)
	return postRaw(t, url, data)
}

func postRaw(t *testing.T, url string, body []byte) (int, message.Message) {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	reply, err := message.Decode(data)
	require.NoError(t, err, "reply body: %s", data)
	return resp.StatusCode, reply
}

func echoRequest(id string) *message.ToolInvocationRequest {
	return &message.ToolInvocationRequest{
		Header:         message.NewHeader(id),
		AgentID:        "agent-1",
		ToolName:       "echo",
		Arguments:      map[string]message.Value{"msg": message.String("hi")},
		Priority:       message.DefaultPriority,
		TimeoutSeconds: 5,
	}
}

func TestHTTP_InvokeEcho(t *testing.T) {
	_, ts := newTestServer(t)

	status, reply := post(t, ts.URL+"/invoke_tool", echoRequest("req-1"))
	require.Equal(t, http.StatusOK, status)

	resp, ok := reply.(*message.ToolInvocationResponse)
	require.True(t, ok, "got %T", reply)
	assert.True(t, resp.Success)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.True(t, resp.Result.Equal(message.String("hi")))
	assert.GreaterOrEqual(t, resp.ExecutionTimeSeconds, 0.0)
}

func TestHTTP_SessionUpdateThenFetch(t *testing.T) {
	_, ts := newTestServer(t)

	status, reply := post(t, ts.URL+"/update_state", &message.StateUpdateRequest{
		Header:        message.NewHeader("u-1"),
		AgentID:       "agent-a",
		Scope:         message.ScopeSession,
		MergeStrategy: message.MergeReplace,
		StateUpdates:  map[string]message.Value{"k": message.String("v")},
	})
	require.Equal(t, http.StatusOK, status)
	upd := reply.(*message.StateUpdateResponse)
	assert.True(t, upd.Success)
	assert.Equal(t, []string{"k"}, upd.UpdatedKeys)

	status, reply = post(t, ts.URL+"/fetch_context", &message.ContextFetchRequest{
		Header:      message.NewHeader("f-1"),
		AgentID:     "agent-b",
		Scope:       message.ScopeSession,
		ContextKeys: []string{"k", "missing"},
	})
	require.Equal(t, http.StatusOK, status)
	fetched := reply.(*message.ContextFetchResponse)
	assert.True(t, fetched.Success)
	require.Len(t, fetched.ContextData, 1)
	assert.True(t, fetched.ContextData["k"].Equal(message.String("v")))
	assert.Equal(t, []string{"missing"}, fetched.MissingKeys)
}

func TestHTTP_AgentScopeIsolation(t *testing.T) {
	_, ts := newTestServer(t)

	post(t, ts.URL+"/update_state", &message.StateUpdateRequest{
		Header:        message.NewHeader("u-1"),
		AgentID:       "agent-a",
		Scope:         message.ScopeAgent,
		MergeStrategy: message.MergeReplace,
		StateUpdates:  map[string]message.Value{"k": message.Int(1)},
	})

	_, reply := post(t, ts.URL+"/fetch_context", &message.ContextFetchRequest{
		Header:      message.NewHeader("f-1"),
		AgentID:     "agent-b",
		Scope:       message.ScopeAgent,
		ContextKeys: []string{"k"},
	})
	fetched := reply.(*message.ContextFetchResponse)
	assert.Empty(t, fetched.ContextData)
	assert.Equal(t, []string{"k"}, fetched.MissingKeys)
}

func TestHTTP_DecodeErrors(t *testing.T) {
	_, ts := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   string
		wantID string
	}{
		{"unknown type", "/invoke_tool", `{"message_type":"bogus","request_id":"r-1"}`, "r-1"},
		{"not json", "/invoke_tool", `{{{`, message.UnknownRequestID},
		{"missing tool name", "/invoke_tool", `{"message_type":"tool_invocation","request_id":"r-2"}`, "r-2"},
		{"wrong endpoint", "/fetch_context", `{"message_type":"tool_invocation","request_id":"r-3","tool_name":"echo"}`, "r-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reply := postRaw(t, ts.URL+tt.path, []byte(tt.body))
			assert.Equal(t, http.StatusInternalServerError, status)

			errResp, ok := reply.(*message.ErrorResponse)
			require.True(t, ok, "got %T", reply)
			assert.Equal(t, message.CodeProcessingError, errResp.ErrorCode)
			assert.Equal(t, tt.wantID, errResp.RequestID)
		})
	}
}

func TestHTTP_DispatchFailures(t *testing.T) {
	_, ts := newTestServer(t)

	t.Run("unknown tool", func(t *testing.T) {
		req := echoRequest("r-1")
		req.ToolName = "nope"
		status, reply := post(t, ts.URL+"/invoke_tool", req)
		assert.Equal(t, http.StatusOK, status)

		resp := reply.(*message.ToolInvocationResponse)
		assert.False(t, resp.Success)
		assert.True(t, resp.Result.IsNull())
		assert.True(t, resp.Metadata["error_kind"].Equal(message.String(string(tools.KindToolNotFound))))
	})

	t.Run("timeout", func(t *testing.T) {
		req := &message.ToolInvocationRequest{
			Header:         message.NewHeader("r-2"),
			AgentID:        "agent-1",
			ToolName:       "sleep",
			Arguments:      map[string]message.Value{"seconds": message.Float(5)},
			Priority:       message.DefaultPriority,
			TimeoutSeconds: 0.1,
		}
		start := time.Now()
		_, reply := post(t, ts.URL+"/invoke_tool", req)
		assert.Less(t, time.Since(start), 3*time.Second)

		resp := reply.(*message.ToolInvocationResponse)
		assert.False(t, resp.Success)
		assert.True(t, resp.Metadata["error_kind"].Equal(message.String(string(tools.KindTimeout))))
		assert.Greater(t, resp.ExecutionTimeSeconds, 0.0)
	})
}

func TestHTTP_RootAndInfo(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	var root map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&root))
	resp.Body.Close()
	assert.Equal(t, "mcp-test", root["server_id"])
	assert.NotEmpty(t, root["message"])

	resp, err = http.Get(ts.URL + "/info")
	require.NoError(t, err)
	var info Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	resp.Body.Close()
	assert.Equal(t, "mcp-test", info.ServerID)
	assert.Equal(t, "9.9.9", info.Version)
	assert.Equal(t, DefaultMaxConcurrentRequests, info.MaxConcurrentRequests)
	assert.Contains(t, info.SupportedTools, "echo")
	assert.Contains(t, info.Capabilities, "websocket")
}

func TestHTTP_BearerAuth(t *testing.T) {
	authn, err := auth.NewAuthenticator(auth.Config{APIKeys: []string{"secret-key"}})
	require.NoError(t, err)
	_, ts := newTestServer(t, func(c *Config) { c.Auth = authn })

	data, err := message.Encode(echoRequest("r-1"))
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/invoke_tool", "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/invoke_tool", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-key")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandle_ReplayCacheAppliesOnce(t *testing.T) {
	s, ts := newTestServer(t, func(c *Config) { c.ReplayWindow = time.Minute })

	update := &message.StateUpdateRequest{
		Header:        message.NewHeader("append-1"),
		AgentID:       "agent-a",
		Scope:         message.ScopeGlobal,
		MergeStrategy: message.MergeAppend,
		StateUpdates:  map[string]message.Value{"log": message.Array(message.String("x"))},
	}
	post(t, ts.URL+"/update_state", update)
	post(t, ts.URL+"/update_state", update)

	found, _, err := s.ContextStore().Fetch("agent-a", message.ScopeGlobal, []string{"log"})
	require.NoError(t, err)
	items, ok := found["log"].AsArray()
	require.True(t, ok)
	assert.Len(t, items, 1)

	update.RequestID = "append-2"
	post(t, ts.URL+"/update_state", update)
	found, _, _ = s.ContextStore().Fetch("agent-a", message.ScopeGlobal, []string{"log"})
	items, _ = found["log"].AsArray()
	assert.Len(t, items, 2)
}

func TestHTTP_Invocations(t *testing.T) {
	ledger := store.NewMemoryStore(0)
	_, ts := newTestServer(t, func(c *Config) { c.Ledger = ledger })

	post(t, ts.URL+"/invoke_tool", echoRequest("r-1"))
	failing := echoRequest("r-2")
	failing.ToolName = "nope"
	post(t, ts.URL+"/invoke_tool", failing)

	resp, err := http.Get(ts.URL + "/invocations?tool_name=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var rows []store.Invocation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "r-2", rows[0].RequestID)
	assert.Equal(t, string(tools.KindToolNotFound), rows[0].ErrorKind)
	assert.Equal(t, store.TransportHTTP, rows[0].Transport)

	bad, err := http.Get(ts.URL + "/invocations?limit=zero")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)
}

func TestHTTP_InvocationsDisabled(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/invocations")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

// ---- WebSocket ----

func dialAgent(t *testing.T, ts *httptest.Server, agentID string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/" + agentID
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, msg message.Message) {
	t.Helper()
	data, err := message.Encode(msg)
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, data))
}

func readFrame(t *testing.T, conn *websocket.Conn) message.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	msg, err := message.Decode(data)
	require.NoError(t, err, "frame: %s", data)
	return msg
}

func TestWebSocket_Echo(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialAgent(t, ts, "agent-1")

	require.Eventually(t, func() bool { return s.Agents().Len() == 1 }, time.Second, 10*time.Millisecond)

	sendFrame(t, conn, echoRequest("ws-1"))
	reply := readFrame(t, conn)

	resp, ok := reply.(*message.ToolInvocationResponse)
	require.True(t, ok, "got %T", reply)
	assert.Equal(t, "ws-1", resp.RequestID)
	assert.True(t, resp.Success)
	assert.True(t, resp.Result.Equal(message.String("hi")))
}

func TestWebSocket_DecodeErrorKeepsConnection(t *testing.T) {
	_, ts := newTestServer(t)
	conn := dialAgent(t, ts, "agent-1")

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, []byte(`not json`)))
	reply := readFrame(t, conn)
	errResp, ok := reply.(*message.ErrorResponse)
	require.True(t, ok, "got %T", reply)
	assert.Equal(t, message.CodeProcessingError, errResp.ErrorCode)
	assert.Equal(t, message.UnknownRequestID, errResp.RequestID)

	require.NoError(t, conn.Write(context.Background(), websocket.MessageText,
		[]byte(`{"message_type":"mystery","request_id":"m-1"}`)))
	errResp = readFrame(t, conn).(*message.ErrorResponse)
	assert.Equal(t, "m-1", errResp.RequestID)

	sendFrame(t, conn, echoRequest("after"))
	assert.Equal(t, "after", readFrame(t, conn).ID())
}

func TestWebSocket_HeartbeatUpdatesRegistry(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialAgent(t, ts, "agent-1")

	sendFrame(t, conn, &message.Heartbeat{
		Header:      message.NewHeader("hb-1"),
		AgentID:     "agent-1",
		Status:      message.StatusBusy,
		LoadMetrics: map[string]float64{"cpu": 0.5},
	})

	require.Eventually(t, func() bool {
		info, ok := s.Agents().Get("agent-1")
		return ok && info.Status == message.StatusBusy
	}, 2*time.Second, 10*time.Millisecond)

	// No reply to the heartbeat: the next frame read is the echo reply.
	sendFrame(t, conn, echoRequest("after-hb"))
	assert.Equal(t, "after-hb", readFrame(t, conn).ID())

	resp, err := http.Get(ts.URL + "/agents/agent-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/agents/ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebSocket_AgentIdentityFromPath(t *testing.T) {
	_, ts := newTestServer(t)

	post(t, ts.URL+"/update_state", &message.StateUpdateRequest{
		Header:        message.NewHeader("seed"),
		AgentID:       "victim",
		Scope:         message.ScopeAgent,
		MergeStrategy: message.MergeReplace,
		StateUpdates:  map[string]message.Value{"secret": message.String("s3cr3t")},
	})

	conn := dialAgent(t, ts, "attacker")

	t.Run("fetch cannot read another agent", func(t *testing.T) {
		sendFrame(t, conn, &message.ContextFetchRequest{
			Header:      message.NewHeader("f-1"),
			AgentID:     "victim",
			Scope:       message.ScopeAgent,
			ContextKeys: []string{"secret"},
		})
		fetched, ok := readFrame(t, conn).(*message.ContextFetchResponse)
		require.True(t, ok)
		assert.Empty(t, fetched.ContextData)
		assert.Equal(t, []string{"secret"}, fetched.MissingKeys)
	})

	t.Run("update cannot write another agent", func(t *testing.T) {
		sendFrame(t, conn, &message.StateUpdateRequest{
			Header:        message.NewHeader("u-1"),
			AgentID:       "victim",
			Scope:         message.ScopeAgent,
			MergeStrategy: message.MergeReplace,
			StateUpdates:  map[string]message.Value{"secret": message.String("pwned")},
		})
		upd, ok := readFrame(t, conn).(*message.StateUpdateResponse)
		require.True(t, ok)
		assert.True(t, upd.Success)

		_, reply := post(t, ts.URL+"/fetch_context", &message.ContextFetchRequest{
			Header:      message.NewHeader("f-2"),
			AgentID:     "victim",
			Scope:       message.ScopeAgent,
			ContextKeys: []string{"secret"},
		})
		fetched := reply.(*message.ContextFetchResponse)
		assert.True(t, fetched.ContextData["secret"].Equal(message.String("s3cr3t")))
	})

	t.Run("write lands in the path agent's scope", func(t *testing.T) {
		_, reply := post(t, ts.URL+"/fetch_context", &message.ContextFetchRequest{
			Header:      message.NewHeader("f-3"),
			AgentID:     "attacker",
			Scope:       message.ScopeAgent,
			ContextKeys: []string{"secret"},
		})
		fetched := reply.(*message.ContextFetchResponse)
		assert.True(t, fetched.ContextData["secret"].Equal(message.String("pwned")))
	})
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialAgent(t, ts, "agent-1")

	require.Eventually(t, func() bool { return s.Agents().Len() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	require.Eventually(t, func() bool { return s.Agents().Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_ReconnectSupersedes(t *testing.T) {
	s, ts := newTestServer(t)
	first := dialAgent(t, ts, "agent-1")
	require.Eventually(t, func() bool { return s.Agents().Len() == 1 }, time.Second, 10*time.Millisecond)

	second := dialAgent(t, ts, "agent-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := first.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, websocket.StatusPolicyViolation, websocket.CloseStatus(err))

	sendFrame(t, second, echoRequest("still-here"))
	assert.Equal(t, "still-here", readFrame(t, second).ID())
	assert.Equal(t, 1, s.Agents().Len())
}

func TestWebSocket_StateChangeNotification(t *testing.T) {
	s, ts := newTestServer(t, func(c *Config) { c.NotifyStateChanges = true })
	origin := dialAgent(t, ts, "origin")
	peer := dialAgent(t, ts, "peer")
	require.Eventually(t, func() bool { return s.broadcaster.Len() == 2 }, time.Second, 10*time.Millisecond)

	sendFrame(t, origin, &message.StateUpdateRequest{
		Header:        message.NewHeader("u-1"),
		AgentID:       "origin",
		Scope:         message.ScopeSession,
		MergeStrategy: message.MergeReplace,
		StateUpdates:  map[string]message.Value{"k": message.String("v")},
	})

	reply := readFrame(t, origin)
	_, ok := reply.(*message.StateUpdateResponse)
	require.True(t, ok, "origin got %T", reply)

	notice := readFrame(t, peer)
	upd, ok := notice.(*message.StateUpdateRequest)
	require.True(t, ok, "peer got %T", notice)
	assert.Equal(t, "origin", upd.AgentID)
	assert.Equal(t, "u-1", upd.RequestID)
}

func TestServer_BroadcastExclusion(t *testing.T) {
	s, ts := newTestServer(t)
	a := dialAgent(t, ts, "a")
	dialAgent(t, ts, "b")
	require.Eventually(t, func() bool { return s.broadcaster.Len() == 2 }, time.Second, 10*time.Millisecond)

	n := s.Broadcast(&message.Heartbeat{Header: message.NewHeader("ping"), Status: message.StatusActive}, "b")
	assert.Equal(t, 1, n)
	assert.Equal(t, "ping", readFrame(t, a).ID())
}

func TestNewServer_RequiresDispatcher(t *testing.T) {
	_, err := NewServer(Config{})
	assert.Error(t, err)
}
