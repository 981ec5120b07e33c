// ABOUTME: Tests for the polling transport against a scripted HTTP host.
// ABOUTME: Covers handshake, batched delivery, send, and the double-404 terminal path.

package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-protocol/parley/internal/protocol"
)

// pollHost is a minimal scripted implementation of the host's polling surface.
type pollHost struct {
	mu       sync.Mutex
	outbox   [][]byte // frames the host wants the client to receive
	received [][]byte // frames the client posted
	gone     bool     // respond 404 to polls
	polls    int
}

func (h *pollHost) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+PathHandshake, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(HandshakeReply{SessionID: "sess-1"})
	})
	mux.HandleFunc("GET "+PathPoll+"{id}", func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.polls++
		if h.gone {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": protocol.CodeSessionNotFound}})
			return
		}
		reply := PollReply{Messages: []json.RawMessage{}}
		for _, data := range h.outbox {
			reply.Messages = append(reply.Messages, json.RawMessage(data))
		}
		h.outbox = nil
		json.NewEncoder(w).Encode(reply)
	})
	mux.HandleFunc("POST "+PathSend+"{id}", func(w http.ResponseWriter, r *http.Request) {
		var buf [1 << 16]byte
		n, _ := r.Body.Read(buf[:])
		h.mu.Lock()
		h.received = append(h.received, append([]byte(nil), buf[:n]...))
		h.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("DELETE "+PathSession+"{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func (h *pollHost) queue(t *testing.T, f protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(protocol.JSON, f)
	require.NoError(t, err)
	h.mu.Lock()
	h.outbox = append(h.outbox, data)
	h.mu.Unlock()
}

func newPollingUnderTest(t *testing.T, url string) *Polling {
	t.Helper()
	return NewPolling(url, Options{
		PollInterval:   10 * time.Millisecond,
		ReceiveTimeout: 2 * time.Second,
		Source:         "agent-test",
	}, testLogger())
}

func TestPolling_ConnectPollReceive(t *testing.T) {
	host := &pollHost{}
	srv := httptest.NewServer(host.handler())
	defer srv.Close()

	p := newPollingUnderTest(t, srv.URL)
	defer p.Disconnect(t.Context())

	require.NoError(t, p.Connect(t.Context()))
	assert.True(t, p.Connected())
	// Idempotent.
	require.NoError(t, p.Connect(t.Context()))

	want := protocol.NewNotification(protocol.TypeContextChanged, "host", map[string]any{"path": "a.go"})
	host.queue(t, want)

	got, err := p.Receive(t.Context())
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.Envelope().ID)
}

func TestPolling_Send(t *testing.T) {
	host := &pollHost{}
	srv := httptest.NewServer(host.handler())
	defer srv.Close()

	p := newPollingUnderTest(t, srv.URL)
	defer p.Disconnect(t.Context())
	require.NoError(t, p.Connect(t.Context()))

	req := protocol.NewRequest(protocol.TypeRequestValidate, "agent-test", map[string]any{"file": "b.go"})
	require.NoError(t, p.Send(t.Context(), req))

	host.mu.Lock()
	defer host.mu.Unlock()
	require.Len(t, host.received, 1)
	frame, err := protocol.Decode(protocol.JSON, host.received[0])
	require.NoError(t, err)
	assert.Equal(t, req.ID, frame.Envelope().ID)
}

func TestPolling_SendBeforeConnect(t *testing.T) {
	p := newPollingUnderTest(t, "http://127.0.0.1:0")
	err := p.Send(t.Context(), protocol.NewRequest(protocol.TypeRequestContext, "agent", nil))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestPolling_TwoNotFoundPollsAreTerminal(t *testing.T) {
	host := &pollHost{}
	srv := httptest.NewServer(host.handler())
	defer srv.Close()

	p := newPollingUnderTest(t, srv.URL)
	require.NoError(t, p.Connect(t.Context()))

	// Host forgets the session: the next two polls 404 and the transport
	// gives up without ever retrying.
	host.mu.Lock()
	host.gone = true
	host.mu.Unlock()

	ev := assertEvent(t, p.Events(), Disconnected)
	assert.Error(t, ev.Err)
	assert.False(t, p.Connected())

	// Dead is dead: no reconnect, no sends.
	assert.ErrorIs(t, p.Connect(t.Context()), ErrClosed)
	assert.ErrorIs(t, p.Send(t.Context(), protocol.NewRequest(protocol.TypeRequestContext, "agent", nil)), ErrClosed)

	// Polling actually stopped.
	host.mu.Lock()
	before := host.polls
	host.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	host.mu.Lock()
	after := host.polls
	host.mu.Unlock()
	assert.Equal(t, before, after)
}
