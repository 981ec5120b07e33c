// ABOUTME: Store interface and data types for parley persistence
// ABOUTME: Defines session and message audit records and their filters

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// SessionRecord is one session's lifetime as seen by the host. A session
// that is still connected has a nil DisconnectedAt.
type SessionRecord struct {
	ID               string     // row ID, unique across host restarts
	SessionID        string     // host-assigned session ID (reused across restarts)
	Source           string     // agent-declared source identifier
	Subject          string     // authenticated identity, empty before auth
	Transport        string     // "websocket", "polling", "memory"
	RemoteAddr       string     // peer address when known
	ConnectedAt      time.Time  //
	DisconnectedAt   *time.Time //
	DisconnectReason string     //
}

// MessageRecord is one routed message for audit purposes.
type MessageRecord struct {
	ID        string        // row ID (UUID)
	MessageID string        // protocol message ID
	SessionID string        // originating session
	Type      string        // message type
	Source    string        // envelope source
	Success   bool          // routing outcome
	Handler   string        // handler name, "none" when unmatched
	ErrorCode string        // stable error code on failure
	Duration  time.Duration // handler execution time
	At        time.Time     // when the message was routed
}

// SessionFilter specifies filtering options for listing sessions.
type SessionFilter struct {
	ActiveOnly bool // only sessions without a disconnect
	Limit      int  // max results (default 100, max 1000)
}

// MessageFilter specifies filtering options for listing message records.
type MessageFilter struct {
	SessionID *string    // filter by originating session
	Type      *string    // filter by message type
	Since     *time.Time // records at or after this time
	Success   *bool      // filter by outcome
	Limit     int        // max results (default 100, max 1000)
}

// Store persists session lifecycles and a message audit trail.
type Store interface {
	// Sessions
	SessionOpened(ctx context.Context, rec *SessionRecord) error
	SessionAuthenticated(ctx context.Context, sessionID, subject string) error
	SessionClosed(ctx context.Context, sessionID, reason string, at time.Time) error
	GetSession(ctx context.Context, id string) (*SessionRecord, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]SessionRecord, error)

	// Message audit
	LogMessage(ctx context.Context, rec *MessageRecord) error
	ListMessages(ctx context.Context, filter MessageFilter) ([]MessageRecord, error)

	// Totals reports how many sessions and messages have been recorded.
	Totals(ctx context.Context) (sessions, messages int64, err error)

	// Prune deletes message records and closed sessions older than cutoff.
	Prune(ctx context.Context, cutoff time.Time) (int64, error)

	// Close releases any resources held by the store
	Close() error
}

// normalizeLimit applies default (100) and cap (1000) to list limits.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
