// ABOUTME: Tests for the Broadcaster fan-out
// ABOUTME: Covers exclusion, isolation, context cleanup, slow subscribers, and close

package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-mcp/internal/message"
)

func makeNotice(id string) message.Message {
	return &message.StateUpdateRequest{
		Header:        message.NewHeader(id),
		AgentID:       "origin",
		Scope:         message.ScopeSession,
		MergeStrategy: message.MergeReplace,
		StateUpdates:  map[string]message.Value{"k": message.String("v")},
	}
}

func receive(t *testing.T, ch <-chan message.Message) message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestBroadcaster_PublishExcludesOriginator(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx := t.Context()
	origin, _ := b.Subscribe(ctx, "origin")
	peer1, _ := b.Subscribe(ctx, "peer-1")
	peer2, _ := b.Subscribe(ctx, "peer-2")

	n := b.Publish(makeNotice("n-1"), "origin")
	assert.Equal(t, 2, n)

	assert.Equal(t, "n-1", receive(t, peer1).ID())
	assert.Equal(t, "n-1", receive(t, peer2).ID())

	select {
	case msg := <-origin:
		t.Fatalf("originator received %v", msg.ID())
	default:
	}
}

func TestBroadcaster_NoSubscribers(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	assert.Equal(t, 0, b.Publish(makeNotice("n-1")))
}

func TestBroadcaster_ContextCancelUnsubscribes(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := b.Subscribe(ctx, "agent-1")
	require.Equal(t, 1, b.Len())

	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
	assert.Equal(t, 0, b.Len())
}

func TestBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ch, _ := b.Subscribe(t.Context(), "slow")
	for i := 0; i < subscriberBufferSize; i++ {
		require.Equal(t, 1, b.Publish(makeNotice("fill")))
	}

	assert.Equal(t, 0, b.Publish(makeNotice("overflow")))
	assert.Len(t, ch, subscriberBufferSize)
}

func TestBroadcaster_UnsubscribeTwice(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	_, subID := b.Subscribe(t.Context(), "agent-1")
	b.Unsubscribe("agent-1", subID)
	b.Unsubscribe("agent-1", subID)
	b.Unsubscribe("nobody", "nothing")
	assert.Equal(t, 0, b.Len())
}

func TestBroadcaster_CloseClosesChannels(t *testing.T) {
	b := NewBroadcaster(nil)

	ch1, _ := b.Subscribe(t.Context(), "a")
	ch2, _ := b.Subscribe(t.Context(), "b")
	b.Close()

	for _, ch := range []<-chan message.Message{ch1, ch2} {
		_, ok := <-ch
		assert.False(t, ok)
	}
	assert.Equal(t, 0, b.Publish(makeNotice("late")))
}

func TestBroadcaster_ConcurrentPublish(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, _ := b.Subscribe(ctx, "sink")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 4; j++ {
				b.Publish(makeNotice("c"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, ch, 32)
}
