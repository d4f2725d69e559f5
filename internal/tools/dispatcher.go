// ABOUTME: Dispatcher runs registered tools under a deadline and classifies failures.
// ABOUTME: Context-aware tools get their own goroutine; blocking tools go to the worker pool.

package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/coven-mcp/internal/message"
)

// DefaultTimeout is used when Invoke is given a non-positive timeout.
const DefaultTimeout = 30 * time.Second

// ErrToolNotFound indicates the requested tool is not registered.
var ErrToolNotFound = errors.New("tool not found")

// ErrorKind classifies a failed invocation. The string form is reported to
// callers as metadata.error_kind.
type ErrorKind string

const (
	KindToolNotFound    ErrorKind = "tool_not_found"
	KindTimeout         ErrorKind = "timeout"
	KindExecutionFailed ErrorKind = "execution_failed"
	KindCanceled        ErrorKind = "canceled"
)

// DispatchError describes why an invocation failed.
type DispatchError struct {
	Kind    ErrorKind
	Tool    string
	Message string
	Err     error
}

func (e *DispatchError) Error() string { return e.Message }

func (e *DispatchError) Unwrap() error { return e.Err }

// Result is the outcome of an invocation. Duration is set on every path.
type Result struct {
	Value    message.Value
	Duration time.Duration
}

// DispatcherConfig holds configuration for creating a Dispatcher.
type DispatcherConfig struct {
	Registry *Registry
	Pool     *WorkerPool
	Logger   *slog.Logger
	Timeout  time.Duration // default per-call timeout
}

// Dispatcher executes tools from a registry.
type Dispatcher struct {
	registry *Registry
	pool     *WorkerPool
	logger   *slog.Logger
	timeout  time.Duration
}

// NewDispatcher creates a dispatcher. A nil pool gets DefaultPoolSize slots.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	pool := cfg.Pool
	if pool == nil {
		pool = NewWorkerPool(DefaultPoolSize)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry: cfg.Registry,
		pool:     pool,
		logger:   logger,
		timeout:  timeout,
	}
}

// Registry returns the registry the dispatcher resolves tools from.
func (d *Dispatcher) Registry() *Registry { return d.registry }

// Pool returns the worker pool used for blocking tools.
func (d *Dispatcher) Pool() *WorkerPool { return d.pool }

type outcome struct {
	value message.Value
	err   error
}

// Invoke runs the named tool with args. A non-positive timeout uses the
// dispatcher default. Failures are returned as *DispatchError.
func (d *Dispatcher) Invoke(ctx context.Context, agentID, name string, args map[string]message.Value, timeout time.Duration) (Result, error) {
	start := time.Now()

	tool := d.registry.Get(name)
	if tool == nil {
		d.logger.Debug("tool not found in registry", "tool_name", name, "agent_id", agentID)
		return Result{Duration: time.Since(start)}, &DispatchError{
			Kind:    KindToolNotFound,
			Tool:    name,
			Message: fmt.Sprintf("tool not found: %s", name),
			Err:     ErrToolNotFound,
		}
	}

	if timeout <= 0 {
		timeout = d.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d.logger.Info("→ dispatching tool",
		"tool_name", name,
		"agent_id", agentID,
		"timeout", timeout,
	)

	done := make(chan outcome, 1)
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		var (
			v   message.Value
			err error
		)
		if tool.Handler != nil {
			v, err = tool.Handler(ctx, args)
		} else {
			v, err = tool.Blocking(args)
		}
		done <- outcome{value: v, err: err}
	}

	if tool.Handler != nil {
		go run()
	} else if err := d.pool.Go(ctx, run); err != nil {
		// The deadline expired while waiting for a worker slot.
		return Result{Duration: time.Since(start)}, d.contextError(ctx, name, agentID, timeout)
	}

	select {
	case out := <-done:
		elapsed := time.Since(start)
		if out.err != nil {
			d.logger.Warn("tool execution failed",
				"tool_name", name,
				"agent_id", agentID,
				"duration", elapsed,
				"error", out.err,
			)
			return Result{Duration: elapsed}, &DispatchError{
				Kind:    KindExecutionFailed,
				Tool:    name,
				Message: out.err.Error(),
				Err:     out.err,
			}
		}
		d.logger.Info("← tool completed",
			"tool_name", name,
			"agent_id", agentID,
			"duration", elapsed,
		)
		return Result{Value: out.value, Duration: elapsed}, nil
	case <-ctx.Done():
		return Result{Duration: time.Since(start)}, d.contextError(ctx, name, agentID, timeout)
	}
}

func (d *Dispatcher) contextError(ctx context.Context, name, agentID string, timeout time.Duration) error {
	err := ctx.Err()
	d.logger.Warn("tool call timed out or cancelled",
		"tool_name", name,
		"agent_id", agentID,
		"timeout", timeout,
		"error", err,
	)
	if errors.Is(err, context.DeadlineExceeded) {
		return &DispatchError{
			Kind:    KindTimeout,
			Tool:    name,
			Message: fmt.Sprintf("tool %s timed out after %s", name, timeout),
			Err:     err,
		}
	}
	return &DispatchError{
		Kind:    KindCanceled,
		Tool:    name,
		Message: fmt.Sprintf("tool %s cancelled", name),
		Err:     err,
	}
}

// KindOf returns the ErrorKind of err, or KindExecutionFailed for errors that
// did not come from the dispatcher.
func KindOf(err error) ErrorKind {
	var de *DispatchError
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindExecutionFailed
}
