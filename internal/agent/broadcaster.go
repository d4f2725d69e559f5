// ABOUTME: In-memory fan-out of server-initiated messages to connected agents
// ABOUTME: Each WebSocket connection subscribes under its agent id and drains its own channel

package agent

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/coven-mcp/internal/message"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Broadcaster provides pub/sub for messages pushed to agents. Subscribers
// register for their agent id and receive every published message not
// addressed to an excluded agent.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan message.Message // agentID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan message.Message),
		logger:      logger.With("component", "broadcaster"),
	}
}

// Subscribe registers a subscriber for agentID. The subscription is removed
// and its channel closed when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, agentID string) (<-chan message.Message, string) {
	subID := uuid.New().String()
	ch := make(chan message.Message, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[agentID]; !ok {
		b.subscribers[agentID] = make(map[string]chan message.Message)
	}
	b.subscribers[agentID][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "agent_id", agentID, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(agentID, subID)
	}()

	return ch, subID
}

// Publish delivers msg to every subscriber whose agent id is not in exclude
// and returns how many subscribers accepted it. Full channels drop the message.
func (b *Broadcaster) Publish(msg message.Message, exclude ...string) int {
	b.mu.RLock()
	var targets []chan message.Message
	for agentID, subs := range b.subscribers {
		if slices.Contains(exclude, agentID) {
			continue
		}
		for _, ch := range subs {
			targets = append(targets, ch)
		}
	}

	// Sends happen under the read lock so Unsubscribe cannot close a
	// channel mid-send; every send is non-blocking.
	delivered := 0
	for _, ch := range targets {
		select {
		case ch <- msg:
			delivered++
		default:
			b.logger.Debug("dropped message for slow subscriber",
				"message_type", msg.Type(),
				"request_id", msg.ID())
		}
	}
	b.mu.RUnlock()

	return delivered
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(agentID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[agentID]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, agentID)
	}

	b.logger.Debug("subscriber removed", "agent_id", agentID, "sub_id", subID)
}

// Len returns the number of active subscriptions.
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Close shuts down the broadcaster and closes all subscriber channels.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for agentID, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, agentID)
	}

	b.logger.Debug("broadcaster closed")
}
