// ABOUTME: Tests for the mcp-agent subcommands
// ABOUTME: Runs the cobra tree in-process against a real MCP server on httptest

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-mcp/internal/builtins"
	"github.com/2389/coven-mcp/internal/message"
	"github.com/2389/coven-mcp/internal/server"
	"github.com/2389/coven-mcp/internal/tools"
)

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := tools.NewRegistry(nil)
	require.NoError(t, builtins.RegisterBasePack(registry))
	s, err := server.NewServer(server.Config{
		ServerID:   "mcp-cli-test",
		Dispatcher: tools.NewDispatcher(tools.DispatcherConfig{Registry: registry}),
	})
	require.NoError(t, err)

	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return ts
}

// run executes the CLI with no config file on disk.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("COVEN_MCP_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseAssignments(t *testing.T) {
	got, err := parseAssignments([]string{"msg=hi", "n=3", "flag=true", `obj={"a":1}`, "empty="})
	require.NoError(t, err)

	assert.True(t, got["msg"].Equal(message.String("hi")))
	assert.True(t, got["n"].Equal(message.Int(3)))
	assert.True(t, got["flag"].Equal(message.Bool(true)))
	obj, ok := got["obj"].AsObject()
	require.True(t, ok)
	assert.True(t, obj["a"].Equal(message.Int(1)))
	assert.True(t, got["empty"].Equal(message.String("")))

	_, err = parseAssignments([]string{"novalue"})
	assert.Error(t, err)
	_, err = parseAssignments([]string{"=x"})
	assert.Error(t, err)
}

func TestInvoke(t *testing.T) {
	ts := startServer(t)

	for _, transport := range [][]string{nil, {"--http"}} {
		args := append([]string{"invoke", "echo", "msg=hi", "--server", ts.URL, "--client-id", "cli"}, transport...)
		out, err := run(t, args...)
		require.NoError(t, err)
		assert.Equal(t, "\"hi\"\n", out)
	}
}

func TestInvoke_JSONArgsAndPriority(t *testing.T) {
	ts := startServer(t)
	out, err := run(t, "invoke", "echo", "--args", `{"msg":"from json"}`, "--priority", "9",
		"--server", ts.URL, "--client-id", "cli")
	require.NoError(t, err)
	assert.Equal(t, "\"from json\"\n", out)
}

func TestInvoke_UnknownTool(t *testing.T) {
	ts := startServer(t)
	_, err := run(t, "invoke", "nope", "--server", ts.URL, "--client-id", "cli")
	assert.ErrorContains(t, err, string(tools.KindToolNotFound))
}

func TestUpdateThenFetch(t *testing.T) {
	ts := startServer(t)

	out, err := run(t, "update", "k=v", "--scope", "global", "--server", ts.URL, "--client-id", "writer")
	require.NoError(t, err)
	assert.Contains(t, out, `"k"`)

	out, err = run(t, "fetch", "k", "missing", "--scope", "global", "--server", ts.URL, "--client-id", "reader", "--http")
	require.NoError(t, err)
	assert.Contains(t, out, `"k": "v"`)
	assert.Contains(t, out, `"missing"`)
}

func TestInvalidFlags(t *testing.T) {
	ts := startServer(t)
	_, err := run(t, "fetch", "k", "--scope", "planet", "--server", ts.URL, "--client-id", "a")
	assert.ErrorContains(t, err, "invalid scope")

	_, err = run(t, "update", "k=v", "--strategy", "smash", "--server", ts.URL, "--client-id", "a")
	assert.ErrorContains(t, err, "invalid merge strategy")

	_, err = run(t, "invoke", "echo", "--server", ts.URL)
	assert.ErrorContains(t, err, "client_id")
}

func TestInfo(t *testing.T) {
	ts := startServer(t)
	out, err := run(t, "info", "--server", ts.URL, "--client-id", "cli")
	require.NoError(t, err)
	assert.Contains(t, out, `"server_id": "mcp-cli-test"`)
	assert.Contains(t, out, `"echo"`)
}

func TestConfigFile(t *testing.T) {
	ts := startServer(t)
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("servers:\n  - "+ts.URL+"\nclient_id: from-file\nprefer_websocket: false\n"), 0600))

	opts := &options{configPath: path}
	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.ClientID)
	assert.False(t, cfg.WebSocket())

	opts.clientID = "override"
	opts.servers = []string{"http://other.example"}
	cfg, err = opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, "override", cfg.ClientID)
	assert.Equal(t, []string{"http://other.example"}, cfg.Servers)

	out, err := run(t, "invoke", "echo", "msg=hi", "--config", path)
	require.NoError(t, err)
	assert.Equal(t, "\"hi\"\n", out)
}
