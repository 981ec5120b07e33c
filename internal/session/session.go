// ABOUTME: Session tracks a single connected agent: identity, transport, liveness.
// ABOUTME: Mutable state is mutex-guarded; accessors return values, not references.

package session

import (
	"context"
	"sync"
	"time"

	"github.com/parley-protocol/parley/internal/protocol"
	"github.com/parley-protocol/parley/internal/transport"
)

// Info is the metadata a connection presents when it is accepted.
type Info struct {
	// Source is the protocol-level participant identifier frames will carry.
	Source string
	// Name is a human-readable label for listings.
	Name string
	// RemoteAddr is the network peer, empty for in-process transports.
	RemoteAddr string
	// Meta carries free-form key/value pairs from the handshake.
	Meta map[string]string
}

// Session is one connected agent. Created only by Manager.Accept.
type Session struct {
	ID   string
	Info Info

	transport transport.Transport

	mu            sync.Mutex
	authenticated bool
	subject       string
	connectedAt   time.Time
	lastSeen      time.Time
	closed        bool
	cancelPump    context.CancelFunc
}

// Snapshot is a point-in-time copy of a session's public state.
type Snapshot struct {
	ID            string    `json:"id"`
	Source        string    `json:"source"`
	Name          string    `json:"name,omitempty"`
	RemoteAddr    string    `json:"remoteAddr,omitempty"`
	Authenticated bool      `json:"authenticated"`
	Subject       string    `json:"subject,omitempty"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastSeen      time.Time `json:"lastSeen"`
}

// Send delivers one frame over the session's transport.
func (s *Session) Send(ctx context.Context, f protocol.Frame) error {
	return s.transport.Send(ctx, f)
}

// Authenticated reports whether the session may issue business requests.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

// Touch records activity at now for heartbeat supervision.
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

// LastSeen returns the most recent activity time.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Snapshot returns a copy of the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		ID:            s.ID,
		Source:        s.Info.Source,
		Name:          s.Info.Name,
		RemoteAddr:    s.Info.RemoteAddr,
		Authenticated: s.authenticated,
		Subject:       s.subject,
		ConnectedAt:   s.connectedAt,
		LastSeen:      s.lastSeen,
	}
}

func (s *Session) markAuthenticated(subject string) {
	s.mu.Lock()
	s.authenticated = true
	s.subject = subject
	s.mu.Unlock()
}

// close cancels the pump and tears the transport down. Returns false when the
// session was already closed.
func (s *Session) close() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	cancel := s.cancelPump
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	s.transport.Disconnect(ctx)
	return true
}
