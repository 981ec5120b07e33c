// ABOUTME: Tests for the in-process pair: async exactly-once delivery, shared teardown.
// ABOUTME: Also covers mailbox overflow and receive timeout behavior.

package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-protocol/parley/internal/protocol"
)

func TestInproc_DeliversExactlyOnceAsync(t *testing.T) {
	a, b := NewPair(Options{}, testLogger())
	defer a.Disconnect(t.Context())

	req := protocol.NewRequest(protocol.TypeRequestContext, "agent-a", nil)

	// Send returns before the peer consumes anything: delivery is a
	// mailbox hop, not a call into the peer.
	var order []string
	require.NoError(t, a.Send(t.Context(), req))
	order = append(order, "send-returned")

	got, err := b.Receive(t.Context())
	require.NoError(t, err)
	order = append(order, "received")

	assert.Equal(t, []string{"send-returned", "received"}, order)
	assert.Equal(t, req.ID, got.Envelope().ID)

	// Exactly once: nothing else is waiting.
	ctx, cancel := contextWithTimeout(t, 50*time.Millisecond)
	defer cancel()
	_, err = b.Receive(ctx)
	assert.Error(t, err)
}

func TestInproc_OrderPreserved(t *testing.T) {
	a, b := NewPair(Options{}, testLogger())
	defer a.Disconnect(t.Context())

	var ids []string
	for range 5 {
		req := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", nil)
		ids = append(ids, req.ID)
		require.NoError(t, a.Send(t.Context(), req))
	}

	for i := range 5 {
		got, err := b.Receive(t.Context())
		require.NoError(t, err)
		assert.Equal(t, ids[i], got.Envelope().ID)
	}
}

func TestInproc_DisconnectKillsBothEnds(t *testing.T) {
	a, b := NewPair(Options{}, testLogger())

	require.True(t, a.Connected())
	require.True(t, b.Connected())

	require.NoError(t, a.Disconnect(t.Context()))

	assert.False(t, a.Connected())
	assert.False(t, b.Connected())

	// Both ends observed the teardown.
	assertEvent(t, a.Events(), Disconnected)
	assertEvent(t, b.Events(), Disconnected)

	// Idempotent, on either end.
	assert.NoError(t, a.Disconnect(t.Context()))
	assert.NoError(t, b.Disconnect(t.Context()))

	// Sends now fail; Connect does not resurrect the pair.
	err := b.Send(t.Context(), protocol.NewRequest(protocol.TypeRequestContext, "agent-b", nil))
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, a.Connect(t.Context()), ErrClosed)
}

func TestInproc_MailboxOverflow(t *testing.T) {
	a, _ := NewPair(Options{QueueSize: 2}, testLogger())
	defer a.Disconnect(t.Context())

	n := protocol.NewNotification(protocol.TypeContextChanged, "agent-a", nil)
	require.NoError(t, a.Send(t.Context(), n))
	require.NoError(t, a.Send(t.Context(), n))

	err := a.Send(t.Context(), n)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestInproc_ReceiveTimeout(t *testing.T) {
	a, _ := NewPair(Options{ReceiveTimeout: 30 * time.Millisecond}, testLogger())
	defer a.Disconnect(t.Context())

	start := time.Now()
	_, err := a.Receive(t.Context())
	assert.ErrorIs(t, err, ErrReceiveTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}
