// ABOUTME: Tests for the pending-request table
// ABOUTME: Covers resolution, duplicates, timeouts, close, and late replies

package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-mcp/internal/message"
)

func reply(id string) message.Message {
	return &message.StateUpdateResponse{Header: message.NewHeader(id), Success: true}
}

func TestPendingTable(t *testing.T) {
	t.Run("resolve delivers reply", func(t *testing.T) {
		p := NewPendingTable()
		ch, err := p.Register("a")
		require.NoError(t, err)
		assert.True(t, p.Has("a"))

		assert.True(t, p.Resolve(reply("a")))
		got, err := p.Await(context.Background(), "a", ch)
		require.NoError(t, err)
		assert.Equal(t, "a", got.ID())
		assert.Equal(t, 0, p.Len())
	})

	t.Run("duplicate id rejected", func(t *testing.T) {
		p := NewPendingTable()
		_, err := p.Register("a")
		require.NoError(t, err)
		_, err = p.Register("a")
		assert.ErrorIs(t, err, ErrDuplicateRequestID)
	})

	t.Run("timeout removes entry", func(t *testing.T) {
		p := NewPendingTable()
		ch, err := p.Register("a")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = p.Await(ctx, "a", ch)
		assert.ErrorIs(t, err, ErrTimeout)
		assert.False(t, p.Has("a"))

		assert.False(t, p.Resolve(reply("a")), "late reply must be discarded")
	})

	t.Run("cancel is not a timeout", func(t *testing.T) {
		p := NewPendingTable()
		ch, err := p.Register("a")
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = p.Await(ctx, "a", ch)
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrTimeout)
	})

	t.Run("close all fails every entry", func(t *testing.T) {
		p := NewPendingTable()
		chA, _ := p.Register("a")
		chB, _ := p.Register("b")

		assert.Equal(t, 2, p.CloseAll(ErrConnectionClosed))
		assert.Equal(t, 0, p.Len())

		for _, ch := range []<-chan Reply{chA, chB} {
			r := <-ch
			assert.ErrorIs(t, r.Err, ErrConnectionClosed)
		}
	})

	t.Run("fail delivers error", func(t *testing.T) {
		p := NewPendingTable()
		ch, _ := p.Register("a")
		boom := errors.New("boom")
		assert.True(t, p.Fail("a", boom))
		_, err := p.Await(context.Background(), "a", ch)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("unknown id", func(t *testing.T) {
		p := NewPendingTable()
		assert.False(t, p.Resolve(reply("nope")))
		assert.False(t, p.Remove("nope"))
	})
}

func TestPendingTable_ConcurrentResolve(t *testing.T) {
	p := NewPendingTable()
	const n = 100

	chans := make([]<-chan Reply, n)
	for i := range n {
		ch, err := p.Register(fmt.Sprintf("r-%d", i))
		require.NoError(t, err)
		chans[i] = ch
	}

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Resolve(reply(fmt.Sprintf("r-%d", i)))
		}()
	}
	wg.Wait()

	for i, ch := range chans {
		got, err := p.Await(context.Background(), fmt.Sprintf("r-%d", i), ch)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("r-%d", i), got.ID())
	}
	assert.Equal(t, 0, p.Len())
}
