// ABOUTME: Manager owns the session registry: accept, disconnect, send, broadcast.
// ABOUTME: Runs per-session receive pumps plus heartbeat and cleanup sweeps.

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parley-protocol/parley/internal/protocol"
	"github.com/parley-protocol/parley/internal/transport"
)

var (
	ErrCapacityExceeded = errors.New("connection capacity exceeded")
	ErrSessionNotFound  = errors.New("session not found")
	ErrManagerClosed    = errors.New("session manager closed")
)

// Sink consumes inbound frames from live sessions. The message router
// implements this; the manager never interprets business payloads itself.
type Sink interface {
	HandleFrame(ctx context.Context, sess *Session, f protocol.Frame)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, sess *Session, f protocol.Frame)

func (fn SinkFunc) HandleFrame(ctx context.Context, sess *Session, f protocol.Frame) {
	fn(ctx, sess, f)
}

// Authenticator verifies a presented credential and returns the subject it
// belongs to.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (subject string, err error)
}

// ManagerConfig tunes the session registry.
type ManagerConfig struct {
	// Source is the identity stamped on frames the manager originates,
	// such as rate-limit error responses.
	Source string
	// MaxConnections caps concurrent sessions. Zero means unlimited.
	MaxConnections int
	// ConnectionTimeout is how long a session may stay silent before the
	// heartbeat sweep disconnects it. Zero disables the sweep.
	ConnectionTimeout time.Duration
	// HeartbeatInterval is the stale-session sweep period.
	HeartbeatInterval time.Duration
	// CleanupInterval is the orphaned-rate-window sweep period.
	CleanupInterval time.Duration
	// EnableAuth makes new sessions start unauthenticated; business
	// requests are rejected until Authenticate succeeds.
	EnableAuth bool
	RateLimit  RateLimitConfig
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultCleanupInterval   = 150 * time.Second
)

// Manager is the connection registry. All methods are safe for concurrent
// use; accessors return snapshots, never live references to internal state.
type Manager struct {
	cfg     ManagerConfig
	auth    Authenticator
	sink    Sink
	events  *Broadcaster
	limiter *RateLimiter
	logger  *slog.Logger
	now     func() time.Time

	seq atomic.Int64

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager builds a session manager. auth may be nil when EnableAuth is
// off; events may be nil to get a private broadcaster.
func NewManager(cfg ManagerConfig, auth Authenticator, sink Sink, events *Broadcaster, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Source == "" {
		cfg.Source = "host"
	}
	if events == nil {
		events = NewBroadcaster(logger)
	}
	return &Manager{
		cfg:      cfg,
		auth:     auth,
		sink:     sink,
		events:   events,
		limiter:  NewRateLimiter(cfg.RateLimit, nil),
		logger:   logger.With("component", "session.manager"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Events exposes the lifecycle event bus.
func (m *Manager) Events() *Broadcaster {
	return m.events
}

// Limiter exposes the rate limiter for usage reporting.
func (m *Manager) Limiter() *RateLimiter {
	return m.limiter
}

// Accept registers a connected transport as a new session and starts its
// receive pump. Fails with ErrCapacityExceeded when the registry is full.
func (m *Manager) Accept(ctx context.Context, t transport.Transport, info Info) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if m.cfg.MaxConnections > 0 && len(m.sessions) >= m.cfg.MaxConnections {
		m.mu.Unlock()
		m.logger.Warn("connection rejected at capacity",
			"limit", m.cfg.MaxConnections,
			"source", info.Source)
		return nil, ErrCapacityExceeded
	}

	now := m.now()
	sess := &Session{
		ID:            fmt.Sprintf("sess-%d", m.seq.Add(1)),
		Info:          info,
		transport:     t,
		authenticated: !m.cfg.EnableAuth,
		connectedAt:   now,
		lastSeen:      now,
	}
	pumpCtx, cancel := context.WithCancel(context.Background())
	sess.cancelPump = cancel
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	m.logger.Info("=== SESSION OPENED ===",
		"session_id", sess.ID,
		"source", info.Source,
		"name", info.Name,
		"remote_addr", info.RemoteAddr)
	m.events.Publish(Event{Kind: EventConnected, SessionID: sess.ID, Source: info.Source})

	go m.pump(pumpCtx, sess)
	return sess, nil
}

// pump reads frames from the session's transport until it closes, applying
// the rate-limit and authentication gates before handing frames to the sink.
func (m *Manager) pump(ctx context.Context, sess *Session) {
	log := m.logger.With("session_id", sess.ID, "source", sess.Info.Source)
	for {
		f, err := sess.transport.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrReceiveTimeout):
				continue
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return
			case errors.Is(err, transport.ErrClosed) || errors.Is(err, transport.ErrNotConnected):
				m.Disconnect(sess.ID, "transport closed")
				return
			default:
				log.Warn("receive failed", "error", err)
				m.Disconnect(sess.ID, "receive error")
				return
			}
		}

		sess.Touch(m.now())
		if !m.admit(ctx, sess, f, log) {
			continue
		}
		if m.sink != nil {
			m.sink.HandleFrame(ctx, sess, f)
		}
	}
}

// admit applies the per-session gates. A false return means the frame was
// consumed here (denied and answered) and must not reach the sink.
func (m *Manager) admit(ctx context.Context, sess *Session, f protocol.Frame, log *slog.Logger) bool {
	req, isRequest := f.(*protocol.Request)

	if isRequest && !m.limiter.Allow(sess.ID) {
		log.Warn("request rate limited", "type", req.Type)
		m.events.Publish(Event{
			Kind:      EventRateLimited,
			SessionID: sess.ID,
			Source:    sess.Info.Source,
			Type:      req.Type,
			MessageID: req.ID,
		})
		m.refuse(ctx, sess, req, protocol.CodeRateLimitExceeded, "request rate limit exceeded", log)
		return false
	}

	if m.cfg.EnableAuth && !sess.Authenticated() {
		// Capability discovery stays open so agents can learn how to
		// authenticate before presenting credentials.
		if isRequest && req.Type == protocol.TypeCapabilityRequest {
			return true
		}
		log.Warn("frame from unauthenticated session refused", "type", f.Envelope().Type)
		if isRequest {
			m.refuse(ctx, sess, req, protocol.CodeUnauthenticated, "session is not authenticated", log)
		}
		return false
	}

	return true
}

// refuse answers a denied request with an error response when one is expected.
func (m *Manager) refuse(ctx context.Context, sess *Session, req *protocol.Request, code, message string, log *slog.Logger) {
	if !req.ExpectResponse {
		return
	}
	resp := protocol.NewErrorResponse(req, m.cfg.Source, protocol.NewErrorDetail(code, message))
	if err := sess.Send(ctx, resp); err != nil {
		log.Warn("could not deliver refusal", "code", code, "error", err)
	}
}

// Disconnect closes a session and removes it from the registry. Unknown IDs
// and repeated calls are no-ops.
func (m *Manager) Disconnect(id, reason string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if !sess.close() {
		return
	}

	m.limiter.Forget(id)
	m.logger.Info("=== SESSION CLOSED ===",
		"session_id", id,
		"source", sess.Info.Source,
		"reason", reason)
	m.events.Publish(Event{
		Kind:      EventDisconnected,
		SessionID: id,
		Source:    sess.Info.Source,
		Reason:    reason,
	})
}

// Send delivers one frame to a specific session.
func (m *Manager) Send(ctx context.Context, id string, f protocol.Frame) error {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}
	return sess.Send(ctx, f)
}

// Broadcast delivers one frame to every live session. A failed delivery is
// recorded and skipped; it never blocks delivery to the rest. The returned
// map holds one entry per failed session and is empty on full success.
func (m *Manager) Broadcast(ctx context.Context, f protocol.Frame) map[string]error {
	m.mu.RLock()
	targets := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		targets = append(targets, sess)
	}
	m.mu.RUnlock()

	failures := make(map[string]error)
	for _, sess := range targets {
		if err := sess.Send(ctx, f); err != nil {
			failures[sess.ID] = err
			m.logger.Warn("broadcast delivery failed",
				"session_id", sess.ID,
				"error", err)
		}
	}
	return failures
}

// Authenticate runs the configured authenticator against credential and, on
// success, marks the session as authenticated. With no authenticator wired
// the session is marked authenticated unconditionally.
func (m *Manager) Authenticate(ctx context.Context, id, credential string) error {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("session %q: %w", id, ErrSessionNotFound)
	}

	subject := ""
	if m.auth != nil {
		var err error
		subject, err = m.auth.Authenticate(ctx, credential)
		if err != nil {
			return fmt.Errorf("authenticate session %s: %w", id, err)
		}
	}

	sess.markAuthenticated(subject)
	m.logger.Info("session authenticated", "session_id", id, "subject", subject)
	m.events.Publish(Event{Kind: EventAuthenticated, SessionID: id, Source: sess.Info.Source})
	return nil
}

// Get returns a snapshot of one session.
func (m *Manager) Get(id string) (Snapshot, bool) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// List returns snapshots of all live sessions, ordered by ID.
func (m *Manager) List() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Start runs the heartbeat and cleanup sweeps until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	heartbeat := m.cfg.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	cleanup := m.cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = defaultCleanupInterval
	}
	go m.runSweep(ctx, heartbeat, m.sweepStale)
	go m.runSweep(ctx, cleanup, m.sweepWindows)
	m.logger.Info("session sweeps started",
		"heartbeat_interval", heartbeat,
		"cleanup_interval", cleanup)
}

func (m *Manager) runSweep(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}

// sweepStale disconnects sessions that stayed silent past the connection
// timeout.
func (m *Manager) sweepStale() {
	if m.cfg.ConnectionTimeout <= 0 {
		return
	}
	cutoff := m.now().Add(-m.cfg.ConnectionTimeout)

	m.mu.RLock()
	var stale []string
	for id, sess := range m.sessions {
		if sess.LastSeen().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		m.logger.Warn("session missed heartbeat window", "session_id", id)
		m.Disconnect(id, "heartbeat timeout")
	}
}

// sweepWindows drops rate-limit windows that no longer belong to a live
// session.
func (m *Manager) sweepWindows() {
	m.mu.RLock()
	live := make(map[string]bool, len(m.sessions))
	for id := range m.sessions {
		live[id] = true
	}
	m.mu.RUnlock()

	if dropped := m.limiter.Sweep(live); dropped > 0 {
		m.logger.Debug("dropped orphaned rate windows", "count", dropped)
	}
}

// Close disconnects every session and rejects further accepts. The event
// broadcaster is left open; its owner closes it after all publishers stop.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.Disconnect(id, "manager shutting down")
	}
	m.logger.Info("session manager closed", "disconnected", len(ids))
}
