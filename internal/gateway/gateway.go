// ABOUTME: Process assembly for the MCP server: config to store, tools, bridge, and HTTP server
// ABOUTME: Owns the listener lifecycle, health endpoints, stale-agent reaper, and ledger pruning

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"tailscale.com/tsnet"

	"github.com/2389/coven-mcp/internal/auth"
	"github.com/2389/coven-mcp/internal/builtins"
	"github.com/2389/coven-mcp/internal/config"
	"github.com/2389/coven-mcp/internal/mcp"
	"github.com/2389/coven-mcp/internal/server"
	"github.com/2389/coven-mcp/internal/store"
	"github.com/2389/coven-mcp/internal/tools"
)

// EnvDBPath overrides database.path.
const EnvDBPath = "COVEN_MCP_DB_PATH"

const (
	memoryLedgerCapacity = 10_000
	maxPruneInterval     = time.Hour
	shutdownTimeout      = 5 * time.Second
)

// Gateway runs one MCP server process.
type Gateway struct {
	config      *config.Config
	store       store.Store
	registry    *tools.Registry
	dispatcher  *tools.Dispatcher
	bridge      *mcp.Bridge
	server      *server.Server
	httpServer  *http.Server
	tsnetServer *tsnet.Server
	logger      *slog.Logger

	shutdownOnce sync.Once
	shutdownErr  error
}

// initStore opens the sqlite ledger when a path is configured and an in-memory
// ledger otherwise.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv(EnvDBPath); envPath != "" {
		dbPath = envPath
	}
	if dbPath == "" {
		return store.NewMemoryStore(memoryLedgerCapacity), nil
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// New wires every component from cfg. Nothing listens until Run or Serve.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s, err := initStore(cfg)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry(logger.With("component", "registry"))
	if cfg.Tools.BuiltinsEnabled() {
		if err := builtins.RegisterBasePack(registry); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("registering base pack: %w", err)
		}
	}

	dispatcher := tools.NewDispatcher(tools.DispatcherConfig{
		Registry: registry,
		Pool:     tools.NewWorkerPool(cfg.Tools.WorkerPoolSize),
		Logger:   logger,
		Timeout:  cfg.Tools.DefaultTimeout,
	})

	authn, err := auth.NewAuthenticator(auth.Config{
		APIKeys:   cfg.Auth.APIKeys,
		JWTSecret: cfg.Auth.JWTSecret,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating authenticator: %w", err)
	}
	if authn.Enabled() {
		logger.Info("bearer auth enabled")
	} else {
		logger.Warn("auth disabled - no api_keys or jwt_secret configured")
	}

	bridge, err := mcp.NewBridge(mcp.Config{
		Name:       "coven-mcp",
		Version:    cfg.Server.Version,
		Dispatcher: dispatcher,
		Ledger:     s,
		Logger:     logger,
	})
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("creating MCP bridge: %w", err)
	}

	srv, err := server.NewServer(server.Config{
		ServerID:              cfg.Server.ServerID,
		Version:               cfg.Server.Version,
		MaxConcurrentRequests: cfg.Server.MaxConcurrentRequests,
		AllowedOrigins:        cfg.Server.AllowedOrigins,
		ReplayWindow:          cfg.Server.ReplayWindow,
		NotifyStateChanges:    cfg.Agents.NotifyStateChanges,
		Dispatcher:            dispatcher,
		Ledger:                s,
		Auth:                  authn,
		MCP:                   bridge,
		Logger:                logger,
	})
	if err != nil {
		bridge.Close()
		_ = s.Close()
		return nil, fmt.Errorf("creating server: %w", err)
	}

	gw := &Gateway{
		config:     cfg,
		store:      s,
		registry:   registry,
		dispatcher: dispatcher,
		bridge:     bridge,
		server:     srv,
		logger:     logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", gw.handleHealth)
	mux.HandleFunc("GET /health/ready", gw.handleReady)
	srv.RegisterRoutes(mux)

	gw.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return gw, nil
}

// Server returns the MCP server.
func (g *Gateway) Server() *server.Server { return g.server }

// Registry returns the tool registry, for registering tools beyond the builtins.
func (g *Gateway) Registry() *tools.Registry { return g.registry }

// Handler returns the root HTTP handler.
func (g *Gateway) Handler() http.Handler { return g.httpServer.Handler }

// setupListener returns a tailnet listener when tailscale is enabled and a TCP
// listener on server.http_addr otherwise.
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" && g.config.Server.HTTPAddr != config.DefaultHTTPAddr {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled", "http_addr", g.config.Server.HTTPAddr)
		}
		return g.setupTailscaleListener(ctx)
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// Run listens, serves until ctx is canceled, then shuts down.
// Returns nil on graceful shutdown, or an error if the server fails.
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}
	return g.Serve(ctx, ln)
}

// Serve runs the HTTP server and background loops on ln until ctx is canceled
// or the server fails, then shuts everything down.
func (g *Gateway) Serve(ctx context.Context, ln net.Listener) error {
	g.logger.Info("MCP server listening",
		"addr", ln.Addr().String(),
		"server_id", g.server.ID(),
		"tools", g.registry.Len(),
	)

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := g.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		g.reapLoop(gctx)
		return nil
	})
	group.Go(func() error {
		g.pruneLoop(gctx)
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		return g.gracefulShutdown()
	})

	return group.Wait()
}

// gracefulShutdown uses a fresh context since the run context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// reapLoop disconnects agents whose last heartbeat is older than
// agents.heartbeat_timeout, checking every agents.heartbeat_interval.
func (g *Gateway) reapLoop(ctx context.Context) {
	interval := g.config.Agents.HeartbeatInterval
	timeout := g.config.Agents.HeartbeatTimeout
	if interval <= 0 || timeout <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if reaped := g.server.Agents().ReapStale(timeout); len(reaped) > 0 {
				g.logger.Info("reaped stale agents", "agents", reaped, "timeout", timeout)
			}
		}
	}
}

// pruneLoop deletes ledger rows older than database.retention.
func (g *Gateway) pruneLoop(ctx context.Context) {
	retention := g.config.Database.Retention
	if retention <= 0 {
		return
	}

	ticker := time.NewTicker(min(retention, maxPruneInterval))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.prune(ctx, time.Now().Add(-retention))
		}
	}
}

func (g *Gateway) prune(ctx context.Context, cutoff time.Time) {
	n, err := g.store.PruneInvocations(ctx, cutoff)
	if err != nil {
		if ctx.Err() == nil {
			g.logger.Error("pruning invocation ledger", "error", err)
		}
		return
	}
	if n > 0 {
		g.logger.Debug("pruned invocation ledger", "removed", n, "cutoff", cutoff)
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown stops the HTTP server, disconnects agents, and releases resources.
// Calls after the first return the first result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.logger.Info("shutting down MCP server")

		var errs []error
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

		g.server.Close()
		g.bridge.Close()

		if g.tsnetServer != nil {
			errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
		}
		errs = appendCloseError(errs, "store close", g.store.Close())

		g.shutdownErr = errors.Join(errs...)
	})
	return g.shutdownErr
}

// handleHealth returns 200 OK if the process is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once at least one tool is registered.
func (g *Gateway) handleReady(w http.ResponseWriter, _ *http.Request) {
	n := g.registry.Len()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no tools registered"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d tools, %d agents)", n, g.server.Agents().Len())
}
