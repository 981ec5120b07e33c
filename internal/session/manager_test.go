// ABOUTME: Session manager tests: capacity, gates, sweeps, broadcast isolation.
// ABOUTME: Uses the in-process transport pair for pump tests and a stub for the rest.

package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parley-protocol/parley/internal/protocol"
	"github.com/parley-protocol/parley/internal/transport"
)

type stubAuth struct {
	subject string
	err     error
}

func (a stubAuth) Authenticate(ctx context.Context, credential string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return a.subject, nil
}

// stubTransport is a minimal Transport for registry tests that do not need
// real frame flow.
type stubTransport struct {
	mu      sync.Mutex
	sendErr error
	sent    []protocol.Frame
	closed  bool
	done    chan struct{}
	events  chan transport.Event
}

func newStubTransport() *stubTransport {
	return &stubTransport{
		done:   make(chan struct{}),
		events: make(chan transport.Event, 8),
	}
}

func (s *stubTransport) Connect(ctx context.Context) error { return nil }

func (s *stubTransport) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}

func (s *stubTransport) Send(ctx context.Context, f protocol.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, f)
	return nil
}

func (s *stubTransport) Receive(ctx context.Context) (protocol.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, transport.ErrClosed
	}
}

func (s *stubTransport) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *stubTransport) Events() <-chan transport.Event { return s.events }

func (s *stubTransport) sentFrames() []protocol.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Frame(nil), s.sent...)
}

func discardSink() Sink {
	return SinkFunc(func(ctx context.Context, sess *Session, f protocol.Frame) {})
}

func collectorSink() (Sink, chan protocol.Frame) {
	ch := make(chan protocol.Frame, 32)
	return SinkFunc(func(ctx context.Context, sess *Session, f protocol.Frame) {
		ch <- f
	}), ch
}

func waitFrame(t *testing.T, ch <-chan protocol.Frame) protocol.Frame {
	t.Helper()
	select {
	case f := <-ch:
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func waitEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("event channel closed while waiting for %q", kind)
			}
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q event", kind)
		}
	}
}

func receiveFrame(t *testing.T, tr transport.Transport) protocol.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	f, err := tr.Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	return f
}

// acceptPair registers a fresh in-process pair with the manager and returns
// the session plus the agent-side end for driving traffic.
func acceptPair(t *testing.T, m *Manager, source string) (*Session, *transport.Inproc) {
	t.Helper()
	host, agent := transport.NewPair(transport.Options{QueueSize: 16}, testLogger())
	sess, err := m.Accept(context.Background(), host, Info{Source: source})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	return sess, agent
}

func TestManager_AcceptAssignsSequentialIDs(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil, discardSink(), nil, testLogger())
	defer m.Close()

	first, _ := acceptPair(t, m, "agent-a")
	second, _ := acceptPair(t, m, "agent-b")

	if first.ID != "sess-1" || second.ID != "sess-2" {
		t.Fatalf("got IDs %q and %q, want sess-1 and sess-2", first.ID, second.ID)
	}
	if m.Count() != 2 {
		t.Fatalf("count = %d, want 2", m.Count())
	}

	snap, ok := m.Get(first.ID)
	if !ok {
		t.Fatalf("session %s not found", first.ID)
	}
	if snap.Source != "agent-a" {
		t.Fatalf("snapshot source = %q, want agent-a", snap.Source)
	}
	if !snap.Authenticated {
		t.Fatal("sessions should be born authenticated when auth is disabled")
	}

	list := m.List()
	if len(list) != 2 || list[0].ID != "sess-1" || list[1].ID != "sess-2" {
		t.Fatalf("list = %+v, want sess-1 then sess-2", list)
	}
}

func TestManager_CapacityOfOne(t *testing.T) {
	m := NewManager(ManagerConfig{MaxConnections: 1}, nil, discardSink(), nil, testLogger())
	defer m.Close()

	t.Run("first connection is accepted", func(t *testing.T) {
		if _, err := m.Accept(context.Background(), newStubTransport(), Info{Source: "agent-a"}); err != nil {
			t.Fatalf("accept: %v", err)
		}
	})

	t.Run("second connection is rejected", func(t *testing.T) {
		_, err := m.Accept(context.Background(), newStubTransport(), Info{Source: "agent-b"})
		if !errors.Is(err, ErrCapacityExceeded) {
			t.Fatalf("err = %v, want ErrCapacityExceeded", err)
		}
		if m.Count() != 1 {
			t.Fatalf("count = %d, want 1", m.Count())
		}
	})

	t.Run("disconnecting frees the slot", func(t *testing.T) {
		m.Disconnect("sess-1", "test teardown")
		sess, err := m.Accept(context.Background(), newStubTransport(), Info{Source: "agent-c"})
		if err != nil {
			t.Fatalf("accept after free: %v", err)
		}
		if sess.ID != "sess-2" {
			t.Fatalf("ID = %q, want sess-2 (IDs are never reused)", sess.ID)
		}
	})
}

func TestManager_DisconnectIsIdempotent(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil, discardSink(), nil, testLogger())
	defer m.Close()

	events, _ := m.Events().Subscribe(t.Context(), Wildcard)
	sess, err := m.Accept(context.Background(), newStubTransport(), Info{Source: "agent-a"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	waitEvent(t, events, EventConnected)

	m.Disconnect(sess.ID, "first")
	m.Disconnect(sess.ID, "second")
	m.Disconnect("sess-999", "unknown session is a no-op")

	ev := waitEvent(t, events, EventDisconnected)
	if ev.Reason != "first" {
		t.Fatalf("reason = %q, want first", ev.Reason)
	}
	select {
	case extra := <-events:
		if extra.Kind == EventDisconnected {
			t.Fatalf("second disconnect published a duplicate event: %+v", extra)
		}
	case <-time.After(100 * time.Millisecond):
	}
	if m.Count() != 0 {
		t.Fatalf("count = %d, want 0", m.Count())
	}
}

func TestManager_PumpDeliversFramesToSink(t *testing.T) {
	sink, frames := collectorSink()
	m := NewManager(ManagerConfig{}, nil, sink, nil, testLogger())
	defer m.Close()

	sess, agent := acceptPair(t, m, "agent-a")

	req := protocol.NewRequest(protocol.TypeRequestAnalyze, "agent-a", map[string]any{"path": "main.go"})
	if err := agent.Send(context.Background(), req); err != nil {
		t.Fatalf("send: %v", err)
	}

	got := waitFrame(t, frames)
	gotReq, ok := got.(*protocol.Request)
	if !ok {
		t.Fatalf("sink received %T, want *protocol.Request", got)
	}
	if gotReq.ID != req.ID || gotReq.Type != protocol.TypeRequestAnalyze {
		t.Fatalf("sink received %+v, want the sent request", gotReq)
	}

	snap, _ := m.Get(sess.ID)
	if !snap.LastSeen.After(snap.ConnectedAt) {
		t.Fatal("inbound frame should refresh the session's last-seen time")
	}
}

func TestManager_RemoteCloseReapsSession(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil, discardSink(), nil, testLogger())
	defer m.Close()

	events, _ := m.Events().Subscribe(t.Context(), Wildcard)
	sess, agent := acceptPair(t, m, "agent-a")
	waitEvent(t, events, EventConnected)

	if err := agent.Disconnect(context.Background()); err != nil {
		t.Fatalf("agent disconnect: %v", err)
	}

	ev := waitEvent(t, events, EventDisconnected)
	if ev.SessionID != sess.ID {
		t.Fatalf("disconnected session = %s, want %s", ev.SessionID, sess.ID)
	}
	if m.Count() != 0 {
		t.Fatalf("count = %d, want 0 after remote close", m.Count())
	}
}

func TestManager_RateLimitGate(t *testing.T) {
	sink, frames := collectorSink()
	cfg := ManagerConfig{
		Source: "host",
		RateLimit: RateLimitConfig{
			Enabled:              true,
			MaxRequestsPerMinute: 1,
			MaxRequestsPerHour:   100,
		},
	}
	m := NewManager(cfg, nil, sink, nil, testLogger())
	defer m.Close()

	events, _ := m.Events().Subscribe(t.Context(), Wildcard)
	_, agent := acceptPair(t, m, "agent-a")

	first := protocol.NewRequest(protocol.TypeRequestContext, "agent-a", nil)
	second := protocol.NewRequest(protocol.TypeRequestContext, "agent-a", nil)
	if err := agent.Send(context.Background(), first); err != nil {
		t.Fatalf("send first: %v", err)
	}
	if err := agent.Send(context.Background(), second); err != nil {
		t.Fatalf("send second: %v", err)
	}

	got := waitFrame(t, frames)
	if got.Envelope().ID != first.ID {
		t.Fatalf("sink received %s, want the first request", got.Envelope().ID)
	}

	// The throttled request is answered, not routed.
	reply := receiveFrame(t, agent)
	resp, ok := reply.(*protocol.Response)
	if !ok {
		t.Fatalf("agent received %T, want *protocol.Response", reply)
	}
	if resp.RequestID != second.ID {
		t.Fatalf("response for %s, want %s", resp.RequestID, second.ID)
	}
	if resp.Success {
		t.Fatal("throttled request reported success")
	}
	if resp.Error == nil || resp.Error.Code != protocol.CodeRateLimitExceeded {
		t.Fatalf("error = %+v, want code %s", resp.Error, protocol.CodeRateLimitExceeded)
	}

	ev := waitEvent(t, events, EventRateLimited)
	if ev.MessageID != second.ID {
		t.Fatalf("rate_limited event for %s, want %s", ev.MessageID, second.ID)
	}

	if len(frames) != 0 {
		t.Fatal("throttled request must not reach the sink")
	}
}

func TestManager_AuthGate(t *testing.T) {
	sink, frames := collectorSink()
	cfg := ManagerConfig{Source: "host", EnableAuth: true}
	m := NewManager(cfg, stubAuth{subject: "build-bot"}, sink, nil, testLogger())
	defer m.Close()

	events, _ := m.Events().Subscribe(t.Context(), Wildcard)
	sess, agent := acceptPair(t, m, "agent-a")

	t.Run("business request is refused before auth", func(t *testing.T) {
		req := protocol.NewRequest(protocol.TypeRequestContext, "agent-a", nil)
		if err := agent.Send(context.Background(), req); err != nil {
			t.Fatalf("send: %v", err)
		}

		reply := receiveFrame(t, agent)
		resp, ok := reply.(*protocol.Response)
		if !ok {
			t.Fatalf("agent received %T, want *protocol.Response", reply)
		}
		if resp.Success || resp.Error == nil || resp.Error.Code != protocol.CodeUnauthenticated {
			t.Fatalf("response = %+v, want %s failure", resp, protocol.CodeUnauthenticated)
		}
		if len(frames) != 0 {
			t.Fatal("unauthenticated request must not reach the sink")
		}
	})

	t.Run("capability discovery stays open", func(t *testing.T) {
		req := protocol.NewRequest(protocol.TypeCapabilityRequest, "agent-a", nil)
		if err := agent.Send(context.Background(), req); err != nil {
			t.Fatalf("send: %v", err)
		}
		got := waitFrame(t, frames)
		if got.Envelope().Type != protocol.TypeCapabilityRequest {
			t.Fatalf("sink received %s, want capability_request", got.Envelope().Type)
		}
	})

	t.Run("authenticate opens the gate", func(t *testing.T) {
		if err := m.Authenticate(context.Background(), sess.ID, "credential"); err != nil {
			t.Fatalf("authenticate: %v", err)
		}
		waitEvent(t, events, EventAuthenticated)

		snap, _ := m.Get(sess.ID)
		if !snap.Authenticated || snap.Subject != "build-bot" {
			t.Fatalf("snapshot = %+v, want authenticated as build-bot", snap)
		}

		req := protocol.NewRequest(protocol.TypeRequestContext, "agent-a", nil)
		if err := agent.Send(context.Background(), req); err != nil {
			t.Fatalf("send: %v", err)
		}
		got := waitFrame(t, frames)
		if got.Envelope().ID != req.ID {
			t.Fatalf("sink received %s, want %s", got.Envelope().ID, req.ID)
		}
	})
}

func TestManager_AuthenticateFailureLeavesSessionLocked(t *testing.T) {
	m := NewManager(ManagerConfig{EnableAuth: true}, stubAuth{err: errors.New("bad token")}, discardSink(), nil, testLogger())
	defer m.Close()

	sess, err := m.Accept(context.Background(), newStubTransport(), Info{Source: "agent-a"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	if err := m.Authenticate(context.Background(), sess.ID, "nope"); err == nil {
		t.Fatal("authenticate should surface the authenticator's error")
	}
	snap, _ := m.Get(sess.ID)
	if snap.Authenticated {
		t.Fatal("failed authentication must not mark the session")
	}

	if err := m.Authenticate(context.Background(), "sess-999", "x"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_BroadcastIsolatesFailures(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil, discardSink(), nil, testLogger())
	defer m.Close()

	healthy1 := newStubTransport()
	broken := newStubTransport()
	broken.sendErr = errors.New("wire jammed")
	healthy2 := newStubTransport()

	var ids []string
	for _, tr := range []*stubTransport{healthy1, broken, healthy2} {
		sess, err := m.Accept(context.Background(), tr, Info{Source: "agent"})
		if err != nil {
			t.Fatalf("accept: %v", err)
		}
		ids = append(ids, sess.ID)
	}

	note := protocol.NewNotification(protocol.TypeContextChanged, "host", map[string]any{"file": "a.go"})
	failures := m.Broadcast(context.Background(), note)

	if len(failures) != 1 {
		t.Fatalf("failures = %v, want exactly the broken session", failures)
	}
	if _, ok := failures[ids[1]]; !ok {
		t.Fatalf("failures = %v, want entry for %s", failures, ids[1])
	}
	for _, tr := range []*stubTransport{healthy1, healthy2} {
		sent := tr.sentFrames()
		if len(sent) != 1 || sent[0].Envelope().ID != note.ID {
			t.Fatalf("healthy session got %d frames, want the broadcast", len(sent))
		}
	}
}

func TestManager_SendToUnknownSession(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil, discardSink(), nil, testLogger())
	defer m.Close()

	note := protocol.NewNotification(protocol.TypeOperationComplete, "host", nil)
	if err := m.Send(context.Background(), "sess-42", note); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestManager_HeartbeatSweepDisconnectsStaleSessions(t *testing.T) {
	clock := newFakeClock()
	cfg := ManagerConfig{ConnectionTimeout: 90 * time.Second}
	m := NewManager(cfg, nil, discardSink(), nil, testLogger())
	m.now = clock.Now
	defer m.Close()

	events, _ := m.Events().Subscribe(t.Context(), Wildcard)
	fresh, err := m.Accept(context.Background(), newStubTransport(), Info{Source: "agent-a"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	clock.Advance(60 * time.Second)
	stale := fresh
	fresh, err = m.Accept(context.Background(), newStubTransport(), Info{Source: "agent-b"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	clock.Advance(45 * time.Second)
	m.sweepStale()

	ev := waitEvent(t, events, EventDisconnected)
	if ev.SessionID != stale.ID {
		t.Fatalf("swept %s, want %s", ev.SessionID, stale.ID)
	}
	if ev.Reason != "heartbeat timeout" {
		t.Fatalf("reason = %q, want heartbeat timeout", ev.Reason)
	}
	if _, ok := m.Get(fresh.ID); !ok {
		t.Fatal("sweep removed a session inside its timeout")
	}
	if m.Count() != 1 {
		t.Fatalf("count = %d, want 1", m.Count())
	}
}

func TestManager_CleanupSweepDropsOrphanedWindows(t *testing.T) {
	cfg := ManagerConfig{
		RateLimit: RateLimitConfig{Enabled: true, MaxRequestsPerMinute: 100, MaxRequestsPerHour: 1000},
	}
	m := NewManager(cfg, nil, discardSink(), nil, testLogger())
	defer m.Close()

	sess, err := m.Accept(context.Background(), newStubTransport(), Info{Source: "agent-a"})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	// A window with no owning session, as if left behind by a crash path
	// that skipped Disconnect.
	m.limiter.Allow("sess-orphan")
	m.limiter.Allow(sess.ID)

	m.sweepWindows()

	if minute, _ := m.limiter.Usage("sess-orphan"); minute != 0 {
		t.Fatal("orphaned window survived the cleanup sweep")
	}
	if minute, _ := m.limiter.Usage(sess.ID); minute != 1 {
		t.Fatal("live session's window was dropped")
	}
}

func TestManager_CloseDisconnectsEverything(t *testing.T) {
	m := NewManager(ManagerConfig{}, nil, discardSink(), nil, testLogger())

	for range 3 {
		if _, err := m.Accept(context.Background(), newStubTransport(), Info{Source: "agent"}); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}

	m.Close()

	if m.Count() != 0 {
		t.Fatalf("count = %d, want 0 after close", m.Count())
	}
	if _, err := m.Accept(context.Background(), newStubTransport(), Info{Source: "late"}); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("err = %v, want ErrManagerClosed", err)
	}

	// Closing again is a no-op.
	m.Close()
}
