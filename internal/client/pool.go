// ABOUTME: Pool spreads agent traffic across several MCP servers round-robin.
// ABOUTME: Initialize is all-or-nothing: one failed connect disconnects the rest.

package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/2389/coven-mcp/internal/config"
)

// Pool holds one client per server.
type Pool struct {
	clients []*Client
	next    atomic.Uint64
}

// NewPool builds a pool over existing clients.
func NewPool(clients ...*Client) *Pool {
	return &Pool{clients: clients}
}

// NewPoolFromConfig creates one client per configured server.
func NewPoolFromConfig(cfg *config.AgentConfig, logger *slog.Logger) (*Pool, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("no servers configured")
	}
	clients := make([]*Client, 0, len(cfg.Servers))
	for _, serverURL := range cfg.Servers {
		c, err := New(Config{
			ServerURL:         serverURL,
			ClientID:          cfg.ClientID,
			APIKey:            cfg.APIKey,
			Timeout:           cfg.Timeout,
			RetryAttempts:     cfg.Retries(),
			HeartbeatInterval: cfg.HeartbeatInterval,
			Logger:            logger,
		})
		if err != nil {
			return nil, fmt.Errorf("server %s: %w", serverURL, err)
		}
		clients = append(clients, c)
	}
	return NewPool(clients...), nil
}

// Len returns the number of clients.
func (p *Pool) Len() int { return len(p.clients) }

// Client returns the next client in rotation, or nil for an empty pool.
func (p *Pool) Client() *Client {
	if len(p.clients) == 0 {
		return nil
	}
	n := p.next.Add(1) - 1
	return p.clients[n%uint64(len(p.clients))]
}

// Initialize connects every client. If any fails, the ones already connected
// are disconnected and the collected errors returned.
func (p *Pool) Initialize(ctx context.Context, preferWebSocket bool) error {
	var (
		connected []*Client
		errs      []error
	)
	for _, c := range p.clients {
		if err := c.Connect(ctx, preferWebSocket); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.ServerURL(), err))
			continue
		}
		connected = append(connected, c)
	}
	if len(errs) == 0 {
		return nil
	}

	for _, c := range connected {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("rolling back %s: %w", c.ServerURL(), err))
		}
	}
	return errors.Join(errs...)
}

// Cleanup disconnects every client.
func (p *Pool) Cleanup() error {
	var errs []error
	for _, c := range p.clients {
		if err := c.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", c.ServerURL(), err))
		}
	}
	return errors.Join(errs...)
}
