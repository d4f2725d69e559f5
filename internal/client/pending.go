// ABOUTME: Correlates outstanding WebSocket requests with their replies by request_id.
// ABOUTME: Every entry is removed exactly once: on reply, timeout, cancellation, or close.

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/2389/coven-mcp/internal/message"
)

// Reply is what an awaiting caller receives.
type Reply struct {
	Message message.Message
	Err     error
}

// PendingTable maps request ids to one-shot reply channels.
type PendingTable struct {
	mu      sync.Mutex
	entries map[string]chan Reply
}

// NewPendingTable creates an empty table.
func NewPendingTable() *PendingTable {
	return &PendingTable{entries: make(map[string]chan Reply)}
}

// Register adds an entry for id and returns the channel its reply arrives on.
func (p *PendingTable) Register(id string) (<-chan Reply, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRequestID, id)
	}
	ch := make(chan Reply, 1)
	p.entries[id] = ch
	return ch, nil
}

// Resolve delivers msg to the entry matching its request id. It reports false
// for ids that are not pending, such as late replies after a timeout.
func (p *PendingTable) Resolve(msg message.Message) bool {
	return p.complete(msg.ID(), Reply{Message: msg})
}

// Fail delivers err to the entry for id.
func (p *PendingTable) Fail(id string, err error) bool {
	return p.complete(id, Reply{Err: err})
}

func (p *PendingTable) complete(id string, r Reply) bool {
	p.mu.Lock()
	ch, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()

	if ok {
		ch <- r // buffered, never blocks
	}
	return ok
}

// Remove drops the entry for id without delivering anything.
func (p *PendingTable) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.entries[id]; !ok {
		return false
	}
	delete(p.entries, id)
	return true
}

// CloseAll fails every pending entry with err and returns how many there were.
func (p *PendingTable) CloseAll(err error) int {
	p.mu.Lock()
	entries := p.entries
	p.entries = make(map[string]chan Reply)
	p.mu.Unlock()

	for _, ch := range entries {
		ch <- Reply{Err: err}
	}
	return len(entries)
}

// Len returns the number of pending entries.
func (p *PendingTable) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Has reports whether id is pending.
func (p *PendingTable) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[id]
	return ok
}

// Await blocks until the reply for id arrives or ctx ends. On a deadline the
// entry is removed and ErrTimeout returned. If the reply races the deadline
// and wins, the reply is returned.
func (p *PendingTable) Await(ctx context.Context, id string, ch <-chan Reply) (message.Message, error) {
	select {
	case r := <-ch:
		return r.Message, r.Err
	case <-ctx.Done():
		if !p.Remove(id) {
			r := <-ch
			return r.Message, r.Err
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: request %s", ErrTimeout, id)
		}
		return nil, ctx.Err()
	}
}
