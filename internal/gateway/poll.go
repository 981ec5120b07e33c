// ABOUTME: Server half of the polling transport: handshake, poll, send, close
// ABOUTME: Each polling session gets a bounded mailbox registered as its transport

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/parley-protocol/parley/internal/protocol"
	"github.com/parley-protocol/parley/internal/session"
	"github.com/parley-protocol/parley/internal/transport"
)

// pollBatchLimit caps how many frames one poll response may carry.
const pollBatchLimit = 64

// mailbox is the session-side transport for a polling client. The HTTP
// handlers feed its inbox on POST send and drain its outbox on GET poll;
// the session pump reads the inbox like any other transport.
type mailbox struct {
	opts transport.Options

	inbox  chan protocol.Frame // agent -> host
	outbox chan protocol.Frame // host -> agent, drained by poll
	events chan transport.Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

var _ transport.Transport = (*mailbox)(nil)

func newMailbox(opts transport.Options) *mailbox {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 32
	}
	return &mailbox{
		opts:   opts,
		inbox:  make(chan protocol.Frame, opts.QueueSize),
		outbox: make(chan protocol.Frame, opts.QueueSize),
		events: make(chan transport.Event, 16),
		done:   make(chan struct{}),
	}
}

// Connect is a no-op: a mailbox is born connected by the handshake.
func (m *mailbox) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return transport.ErrClosed
	}
	return nil
}

// Send queues a host-to-agent frame for the next poll.
func (m *mailbox) Send(ctx context.Context, f protocol.Frame) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return transport.ErrClosed
	}
	m.mu.Unlock()

	select {
	case m.outbox <- f:
		return nil
	default:
		return transport.ErrQueueFull
	}
}

func (m *mailbox) Receive(ctx context.Context) (protocol.Frame, error) {
	var timeout <-chan time.Time
	if m.opts.ReceiveTimeout > 0 {
		t := time.NewTimer(m.opts.ReceiveTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case f := <-m.inbox:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, transport.ErrReceiveTimeout
	case <-m.done:
		select {
		case f := <-m.inbox:
			return f, nil
		default:
			return nil, transport.ErrClosed
		}
	}
}

func (m *mailbox) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.closed
}

func (m *mailbox) Events() <-chan transport.Event { return m.events }

func (m *mailbox) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)
	select {
	case m.events <- transport.Event{Kind: transport.Disconnected}:
	default:
	}
	return nil
}

// push delivers an agent-to-host frame into the session pump.
func (m *mailbox) push(f protocol.Frame) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return transport.ErrClosed
	}
	m.mu.Unlock()

	select {
	case m.inbox <- f:
		return nil
	default:
		return transport.ErrQueueFull
	}
}

// drain pops queued host-to-agent frames without blocking.
func (m *mailbox) drain(limit int) []protocol.Frame {
	var out []protocol.Frame
	for len(out) < limit {
		select {
		case f := <-m.outbox:
			out = append(out, f)
		default:
			return out
		}
	}
	return out
}

// pollRegistry maps polling session IDs to their mailboxes.
type pollRegistry struct {
	mu    sync.Mutex
	boxes map[string]*mailbox
}

func newPollRegistry() *pollRegistry {
	return &pollRegistry{boxes: make(map[string]*mailbox)}
}

func (r *pollRegistry) add(id string, m *mailbox) {
	r.mu.Lock()
	r.boxes[id] = m
	r.mu.Unlock()
}

func (r *pollRegistry) get(id string) (*mailbox, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.boxes[id]
	return m, ok
}

// remove drops the mailbox for a session that no longer exists. Called from
// the disconnect event path, so the transport itself is already closed.
func (r *pollRegistry) remove(id string) {
	r.mu.Lock()
	delete(r.boxes, id)
	r.mu.Unlock()
}

func (r *pollRegistry) closeAll() {
	r.mu.Lock()
	boxes := make([]*mailbox, 0, len(r.boxes))
	for _, m := range r.boxes {
		boxes = append(boxes, m)
	}
	r.boxes = make(map[string]*mailbox)
	r.mu.Unlock()

	for _, m := range boxes {
		_ = m.Disconnect(context.Background())
	}
}

// handleHandshake opens a polling session: POST /api/v1/handshake.
func (g *Gateway) handleHandshake(w http.ResponseWriter, r *http.Request) {
	var req transport.HandshakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidMessage, "malformed handshake body")
		return
	}
	if req.Source == "" {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidMessage, "handshake requires a source")
		return
	}
	// Frames ride inside a JSON poll batch, so binary codecs cannot work
	// here. Sockets negotiate codecs; polling is JSON or nothing.
	if req.Codec != "" && req.Codec != protocol.JSON.Name() {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidMessage, "polling supports the json codec only")
		return
	}

	box := newMailbox(transport.Options{
		Codec:          protocol.JSON,
		ReceiveTimeout: g.config.Timeouts.Receive,
		MaxMessageSize: g.config.Limits.MaxMessageSize,
	})

	sess, err := g.sessions.Accept(r.Context(), box, session.Info{
		Source:     req.Source,
		Name:       "polling",
		RemoteAddr: r.RemoteAddr,
	})
	if err != nil {
		_ = box.Disconnect(r.Context())
		status := http.StatusServiceUnavailable
		code := protocol.CodeTransportFailure
		if errors.Is(err, session.ErrCapacityExceeded) {
			code = protocol.CodeCapacityExceeded
		}
		writeError(w, status, code, err.Error())
		return
	}

	if token := bearerToken(r); token != "" {
		if err := g.sessions.Authenticate(r.Context(), sess.ID, token); err != nil {
			g.sessions.Disconnect(sess.ID, "authentication failed")
			writeError(w, http.StatusUnauthorized, protocol.CodeUnauthenticated, "credential rejected")
			return
		}
	}

	g.polls.add(sess.ID, box)
	writeJSON(w, http.StatusOK, transport.HandshakeReply{
		SessionID:    sess.ID,
		PollInterval: g.config.Timeouts.HeartbeatInterval.Milliseconds() / 3,
	})
}

// handlePoll returns frames queued for the session: GET /api/v1/poll/{session}.
func (g *Gateway) handlePoll(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	box, ok := g.polls.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, protocol.CodeSessionNotFound, "session not known to this host")
		return
	}

	frames := box.drain(pollBatchLimit)
	reply := transport.PollReply{Messages: make([]json.RawMessage, 0, len(frames))}
	for _, f := range frames {
		data, err := protocol.Encode(protocol.JSON, f)
		if err != nil {
			g.logger.Warn("dropping unencodable frame", "session_id", id, "error", err)
			continue
		}
		reply.Messages = append(reply.Messages, data)
	}
	writeJSON(w, http.StatusOK, reply)
}

// handleSend accepts one frame from the agent: POST /api/v1/send/{session}.
func (g *Gateway) handleSend(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	box, ok := g.polls.get(id)
	if !ok {
		writeError(w, http.StatusNotFound, protocol.CodeSessionNotFound, "session not known to this host")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, int64(g.config.Limits.MaxMessageSize)+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidMessage, "unreadable body")
		return
	}
	if err := protocol.CheckSize(len(body), g.config.Limits.MaxMessageSize); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, protocol.CodeMessageTooLarge, err.Error())
		return
	}

	frame, err := protocol.Decode(protocol.JSON, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, protocol.CodeInvalidMessage, err.Error())
		return
	}

	if err := box.push(frame); err != nil {
		writeError(w, http.StatusServiceUnavailable, protocol.CodeTransportFailure, "session inbox full")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleSessionDelete ends a polling session: DELETE /api/v1/session/{session}.
func (g *Gateway) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "session")
	if _, ok := g.polls.get(id); !ok {
		writeError(w, http.StatusNotFound, protocol.CodeSessionNotFound, "session not known to this host")
		return
	}
	g.sessions.Disconnect(id, "client closed")
	w.WriteHeader(http.StatusOK)
}
