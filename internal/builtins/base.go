// ABOUTME: Base pack provides default tools available on every server: echo, clock, sleep, digest.
// ABOUTME: digest runs on the blocking worker pool; the rest are context-aware.

package builtins

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/2389/coven-mcp/internal/message"
	"github.com/2389/coven-mcp/internal/tools"
)

// MaxSleep caps the sleep tool.
const MaxSleep = 5 * time.Minute

// BasePack returns the base tools.
func BasePack() []*tools.Tool {
	return []*tools.Tool{
		{
			Name:        "echo",
			Description: "Return the msg argument unchanged",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"msg": {Description: "Value to echo back"},
				},
				Required: []string{"msg"},
			},
			Handler: Echo,
		},
		{
			Name:        "clock",
			Description: "Report the current server time",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"timezone": {Type: "string", Description: "IANA zone name, default UTC"},
				},
			},
			Handler: Clock,
		},
		{
			Name:        "sleep",
			Description: "Wait for the given number of seconds, then report how long was slept",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"seconds": {Type: "number", Description: "Duration in seconds"},
				},
				Required: []string{"seconds"},
			},
			Handler: Sleep,
		},
		{
			Name:        "digest",
			Description: "Compute the SHA-256 hex digest of a text argument",
			InputSchema: &jsonschema.Schema{
				Type: "object",
				Properties: map[string]*jsonschema.Schema{
					"text": {Type: "string"},
				},
				Required: []string{"text"},
			},
			Blocking: Digest,
		},
	}
}

// RegisterBasePack registers every base tool on r.
func RegisterBasePack(r *tools.Registry) error {
	for _, tool := range BasePack() {
		if err := r.Register(tool); err != nil {
			return fmt.Errorf("registering %s: %w", tool.Name, err)
		}
	}
	return nil
}

// Echo returns args["msg"].
func Echo(_ context.Context, args map[string]message.Value) (message.Value, error) {
	msg, ok := args["msg"]
	if !ok {
		return message.Null(), errors.New("msg is required")
	}
	return msg.Clone(), nil
}

// Clock returns the current time as {"time": RFC3339, "unix": seconds, "timezone": name}.
func Clock(_ context.Context, args map[string]message.Value) (message.Value, error) {
	loc := time.UTC
	if raw, ok := args["timezone"]; ok && !raw.IsNull() {
		name, ok := raw.AsString()
		if !ok {
			return message.Null(), errors.New("timezone must be a string")
		}
		l, err := time.LoadLocation(name)
		if err != nil {
			return message.Null(), fmt.Errorf("unknown timezone %q", name)
		}
		loc = l
	}

	now := time.Now().In(loc)
	return message.Object(map[string]message.Value{
		"time":     message.String(now.Format(time.RFC3339)),
		"unix":     message.Int(now.Unix()),
		"timezone": message.String(loc.String()),
	}), nil
}

// Sleep waits for args["seconds"] or until ctx is done.
func Sleep(ctx context.Context, args map[string]message.Value) (message.Value, error) {
	secs, ok := args["seconds"].AsFloat()
	if !ok {
		return message.Null(), errors.New("seconds must be a number")
	}
	if secs < 0 {
		return message.Null(), errors.New("seconds must not be negative")
	}
	d := time.Duration(secs * float64(time.Second))
	if d > MaxSleep {
		return message.Null(), fmt.Errorf("seconds exceeds maximum of %s", MaxSleep)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return message.Object(map[string]message.Value{
			"slept_seconds": message.Float(secs),
		}), nil
	case <-ctx.Done():
		return message.Null(), ctx.Err()
	}
}

// Digest hashes args["text"] with SHA-256.
func Digest(args map[string]message.Value) (message.Value, error) {
	text, ok := args["text"].AsString()
	if !ok {
		return message.Null(), errors.New("text must be a string")
	}
	sum := sha256.Sum256([]byte(text))
	return message.String(hex.EncodeToString(sum[:])), nil
}
