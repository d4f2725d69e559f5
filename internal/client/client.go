// ABOUTME: MCP client used by agents: WebSocket when available, HTTP otherwise.
// ABOUTME: Owns the pending-request table, the listener, and the heartbeat loop.

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-mcp/internal/message"
)

// Defaults applied by New.
const (
	DefaultTimeout           = 30 * time.Second
	DefaultRetryAttempts     = 3
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultBackoffBase       = time.Second

	// ToolReplyGrace is how much longer than timeout_seconds a tool call waits,
	// so the server's own timeout reply arrives before the client gives up.
	ToolReplyGrace = time.Second

	maxFrameSize = 1 << 20
)

// State is the client's connection state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config holds configuration for creating a Client.
type Config struct {
	ServerURL         string // http:// or https:// base URL
	ClientID          string // used as agent_id
	APIKey            string // sent as a bearer token when set
	Timeout           time.Duration
	RetryAttempts     int
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration // HTTP retry backoff unit
	HTTPClient        *http.Client
	Logger            *slog.Logger
}

// background tracks the listener and heartbeat goroutines of a WebSocket session.
type background struct {
	cancel   context.CancelFunc
	hbCancel context.CancelFunc
	hbDone   chan struct{}
	group    *errgroup.Group
}

// Client talks to one MCP server.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	pending    *PendingTable
	logger     *slog.Logger

	mu       sync.Mutex
	state    State
	ws       *websocket.Conn
	wsLost   bool
	bg       *background
	onNotify func(message.Message)
}

// New validates cfg and creates a disconnected client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("client id is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.ServerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("server url %q must use http or https", cfg.ServerURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		baseURL:    base,
		httpClient: httpClient,
		pending:    NewPendingTable(),
		logger:     logger.With("component", "client", "server", base.String()),
	}, nil
}

// ServerURL returns the base URL the client talks to.
func (c *Client) ServerURL() string { return c.baseURL.String() }

// ClientID returns the agent id the client sends.
func (c *Client) ClientID() string { return c.cfg.ClientID }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// UsingWebSocket reports whether requests go over a WebSocket.
func (c *Client) UsingWebSocket() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws != nil
}

// Pending exposes the pending-request table for inspection.
func (c *Client) Pending() *PendingTable { return c.pending }

// OnNotification sets the handler for server-initiated frames. It runs on the
// listener goroutine and should not block.
func (c *Client) OnNotification(fn func(message.Message)) {
	c.mu.Lock()
	c.onNotify = fn
	c.mu.Unlock()
}

// Connect opens a WebSocket when preferWebSocket is set and the dial succeeds.
// Otherwise it falls back to HTTP after checking the server answers.
func (c *Client) Connect(ctx context.Context, preferWebSocket bool) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if preferWebSocket {
		ws, err := c.dial(ctx)
		if err == nil {
			c.mu.Lock()
			c.ws = ws
			c.wsLost = false
			c.state = StateConnected
			c.bg = c.startBackground(ws)
			c.mu.Unlock()
			c.logger.Info("connected", "transport", "websocket", "client_id", c.cfg.ClientID)
			return nil
		}
		c.logger.Warn("websocket unavailable, falling back to HTTP", "error", err)
	}

	if err := c.probe(ctx); err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		return fmt.Errorf("connecting to %s: %w", c.baseURL, err)
	}

	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()
	c.logger.Info("connected", "transport", "http", "client_id", c.cfg.ClientID)
	return nil
}

func (c *Client) wsURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/" + url.PathEscape(c.cfg.ClientID)
	return u.String()
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	opts := &websocket.DialOptions{HTTPClient: c.httpClient}
	if c.cfg.APIKey != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + c.cfg.APIKey}}
	}
	ws, _, err := websocket.Dial(ctx, c.wsURL(), opts)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxFrameSize)
	return ws, nil
}

// startBackground runs the listener and heartbeat loop. Either exiting with
// an error cancels the other.
func (c *Client) startBackground(ws *websocket.Conn) *background {
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	hbCtx, hbCancel := context.WithCancel(gctx)
	hbDone := make(chan struct{})

	g.Go(func() error {
		return c.listen(gctx, ws)
	})
	g.Go(func() error {
		defer close(hbDone)
		c.heartbeatLoop(hbCtx)
		return nil
	})

	return &background{cancel: cancel, hbCancel: hbCancel, hbDone: hbDone, group: g}
}

func (c *Client) listen(ctx context.Context, ws *websocket.Conn) error {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.mu.Lock()
			c.wsLost = true
			c.mu.Unlock()
			if n := c.pending.CloseAll(ErrConnectionClosed); n > 0 {
				c.logger.Warn("connection lost with requests pending", "pending", n)
			}
			return err
		}

		msg, err := message.Decode(data)
		if err != nil {
			c.logger.Debug("discarding undecodable frame", "error", err)
			continue
		}

		if message.IsReply(msg) {
			if !c.pending.Resolve(msg) {
				c.logger.Debug("discarding late reply", "request_id", msg.ID())
			}
			continue
		}

		c.mu.Lock()
		fn := c.onNotify
		c.mu.Unlock()
		if fn != nil {
			fn(msg)
		}
	}
}

func (c *Client) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.SendHeartbeat(ctx, message.StatusActive, nil); err != nil && ctx.Err() == nil {
				c.logger.Warn("heartbeat failed", "error", err)
			}
		}
	}
}

// Disconnect stops the heartbeat loop and waits for it, closes the socket,
// waits for the listener, and fails anything still pending. Calling it again
// is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	ws, bg := c.ws, c.bg
	c.ws, c.bg = nil, nil
	c.state = StateDisconnected
	c.mu.Unlock()

	var errs []error
	if bg != nil {
		bg.hbCancel()
		<-bg.hbDone
	}
	if ws != nil {
		if err := ws.Close(websocket.StatusNormalClosure, "client disconnect"); err != nil && !isClosed(err) {
			errs = append(errs, fmt.Errorf("closing websocket: %w", err))
		}
	}
	if bg != nil {
		bg.cancel()
		_ = bg.group.Wait() // the listener always ends with a read error here
	}
	c.pending.CloseAll(ErrConnectionClosed)

	c.logger.Info("disconnected", "client_id", c.cfg.ClientID)
	return errors.Join(errs...)
}

func isClosed(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}

// CallOption adjusts a single request.
type CallOption func(*callOptions)

type callOptions struct {
	timeout  time.Duration
	priority int
	context  map[string]message.Value
}

// WithTimeout overrides the client timeout for one call. For tool calls it is
// sent as timeout_seconds and the client waits ToolReplyGrace longer.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}

// WithPriority sets a tool call's priority (1-10).
func WithPriority(p int) CallOption {
	return func(o *callOptions) { o.priority = p }
}

// WithToolContext attaches context values to a tool call.
func WithToolContext(ctx map[string]message.Value) CallOption {
	return func(o *callOptions) { o.context = ctx }
}

func (c *Client) options(opts []CallOption) callOptions {
	o := callOptions{timeout: c.cfg.Timeout, priority: message.DefaultPriority}
	for _, opt := range opts {
		opt(&o)
	}
	if o.timeout <= 0 {
		o.timeout = c.cfg.Timeout
	}
	return o
}

func newRequestID() string {
	return ulid.Make().String()
}

// InvokeTool runs a tool on the server. success=false is not an error here;
// see ToolWrapper for that mapping.
func (c *Client) InvokeTool(ctx context.Context, name string, args map[string]message.Value, opts ...CallOption) (*message.ToolInvocationResponse, error) {
	o := c.options(opts)
	if args == nil {
		args = map[string]message.Value{}
	}
	req := &message.ToolInvocationRequest{
		Header:         message.NewHeader(newRequestID()),
		AgentID:        c.cfg.ClientID,
		ToolName:       name,
		Arguments:      args,
		Context:        o.context,
		Priority:       o.priority,
		TimeoutSeconds: o.timeout.Seconds(),
	}
	return roundTrip[*message.ToolInvocationResponse](ctx, c, req, o.timeout+ToolReplyGrace)
}

// FetchContext reads keys from a context scope.
func (c *Client) FetchContext(ctx context.Context, keys []string, scope message.Scope, opts ...CallOption) (*message.ContextFetchResponse, error) {
	o := c.options(opts)
	if keys == nil {
		keys = []string{}
	}
	req := &message.ContextFetchRequest{
		Header:      message.NewHeader(newRequestID()),
		AgentID:     c.cfg.ClientID,
		ContextKeys: keys,
		Scope:       scope,
	}
	return roundTrip[*message.ContextFetchResponse](ctx, c, req, o.timeout)
}

// UpdateState writes values into a context scope.
func (c *Client) UpdateState(ctx context.Context, updates map[string]message.Value, scope message.Scope, strategy message.MergeStrategy, opts ...CallOption) (*message.StateUpdateResponse, error) {
	o := c.options(opts)
	if updates == nil {
		updates = map[string]message.Value{}
	}
	req := &message.StateUpdateRequest{
		Header:        message.NewHeader(newRequestID()),
		AgentID:       c.cfg.ClientID,
		StateUpdates:  updates,
		Scope:         scope,
		MergeStrategy: strategy,
	}
	return roundTrip[*message.StateUpdateResponse](ctx, c, req, o.timeout)
}

// SendHeartbeat reports liveness over the WebSocket. Over HTTP there is no
// heartbeat endpoint and the call does nothing.
func (c *Client) SendHeartbeat(ctx context.Context, status message.AgentStatus, metrics map[string]float64) error {
	c.mu.Lock()
	state, ws, lost := c.state, c.ws, c.wsLost
	c.mu.Unlock()

	if state != StateConnected {
		return ErrNotConnected
	}
	if ws == nil {
		return nil
	}
	if lost {
		return ErrConnectionClosed
	}

	data, err := message.Encode(&message.Heartbeat{
		Header:      message.NewHeader(newRequestID()),
		AgentID:     c.cfg.ClientID,
		Status:      status,
		LoadMetrics: metrics,
	})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()
	return ws.Write(ctx, websocket.MessageText, data)
}

// roundTrip sends req over the active transport and checks the reply type.
func roundTrip[R message.Message](ctx context.Context, c *Client, req message.Message, timeout time.Duration) (R, error) {
	var zero R

	c.mu.Lock()
	state, ws, lost := c.state, c.ws, c.wsLost
	c.mu.Unlock()

	if state != StateConnected {
		return zero, ErrNotConnected
	}

	var (
		reply message.Message
		err   error
	)
	if ws != nil {
		if lost {
			return zero, ErrConnectionClosed
		}
		reply, err = c.sendWS(ctx, ws, req, timeout)
	} else {
		reply, err = c.sendHTTP(ctx, req, timeout)
	}
	if err != nil {
		return zero, err
	}

	if errResp, ok := reply.(*message.ErrorResponse); ok {
		return zero, remoteErrorFrom(errResp)
	}
	typed, ok := reply.(R)
	if !ok {
		return zero, fmt.Errorf("unexpected reply %T for %s request %s", reply, req.Type(), req.ID())
	}
	return typed, nil
}

func (c *Client) sendWS(ctx context.Context, ws *websocket.Conn, req message.Message, timeout time.Duration) (message.Message, error) {
	data, err := message.Encode(req)
	if err != nil {
		return nil, err
	}

	ch, err := c.pending.Register(req.ID())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
		c.pending.Remove(req.ID())
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return c.pending.Await(ctx, req.ID(), ch)
}
