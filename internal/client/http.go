// ABOUTME: HTTP transport for the MCP client: one POST per request with retries.
// ABOUTME: Also the GET / probe used by Connect and the GET /info helper.

package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/2389/coven-mcp/internal/message"
)

// ServerInfo is the body of GET /info.
type ServerInfo struct {
	ServerID              string   `json:"server_id"`
	Version               string   `json:"version"`
	Capabilities          []string `json:"capabilities"`
	SupportedTools        []string `json:"supported_tools"`
	MaxConcurrentRequests int      `json:"max_concurrent_requests"`
	ConnectedAgents       int      `json:"connected_agents"`
}

// errRetryable marks attempts worth repeating.
var errRetryable = errors.New("retryable")

var endpoints = map[message.Type]string{
	message.TypeToolInvocation: "/invoke_tool",
	message.TypeContextFetch:   "/fetch_context",
	message.TypeStateUpdate:    "/update_state",
}

// sendHTTP posts req, retrying transport errors, per-attempt timeouts, and
// 502/503/504 with exponential backoff. Server-reported errors are returned
// without retrying.
func (c *Client) sendHTTP(ctx context.Context, req message.Message, timeout time.Duration) (message.Message, error) {
	path, ok := endpoints[req.Type()]
	if !ok {
		return nil, fmt.Errorf("no HTTP endpoint for %s messages", req.Type())
	}
	body, err := message.Encode(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := range c.cfg.RetryAttempts {
		reply, err := c.post(ctx, path, body, timeout)
		if err == nil {
			return reply, nil
		}
		if !errors.Is(err, errRetryable) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err

		if attempt == c.cfg.RetryAttempts-1 {
			break
		}
		backoff := c.cfg.BackoffBase * time.Duration(1<<attempt)
		c.logger.Debug("retrying request", "path", path, "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("request %s failed after %d attempts: %w", req.ID(), c.cfg.RetryAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, path string, body []byte, timeout time.Duration) (message.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL.String()+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.authorize(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w: %v", ErrTimeout, errRetryable, err)
		}
		return nil, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", errRetryable, err)
	}

	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return nil, fmt.Errorf("%w: server returned %s", errRetryable, resp.Status)
	case http.StatusUnauthorized:
		return nil, &RemoteError{Code: message.CodeUnauthorized, Message: jsonErrorText(data, resp.Status)}
	}

	msg, err := message.Decode(data)
	if err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("server returned %s: %s", resp.Status, jsonErrorText(data, resp.Status))
		}
		return nil, fmt.Errorf("decoding reply: %w", err)
	}
	return msg, nil
}

// probe checks the server answers GET /.
func (c *Client) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %s", resp.Status)
	}
	return nil
}

// Info fetches server metadata. It works whether or not the client is connected.
func (c *Client) Info(ctx context.Context) (*ServerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL.String()+"/info", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, &RemoteError{Code: message.CodeUnauthorized, Message: jsonErrorText(data, resp.Status)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, jsonErrorText(data, resp.Status))
	}

	var info ServerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("decoding info: %w", err)
	}
	return &info, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

// jsonErrorText pulls "error" out of a {"error": ...} body.
func jsonErrorText(data []byte, fallback string) string {
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return body.Error
	}
	return fallback
}
