// Package store persists session lifecycles and a message audit trail.
//
// # Overview
//
// The host records two kinds of history:
//
//   - sessions: one row per connection, closed in place when the session
//     ends, carrying the disconnect reason
//   - message_log: one row per routed message with outcome, handler, and
//     timing
//
// Both are written by the gateway's event subscriber, off the message hot
// path. Reads serve the admin API's session and message listings.
//
// # Implementations
//
// SQLiteStore uses modernc.org/sqlite (pure Go, no cgo) with WAL mode.
// The schema is created on open and migrated in place for databases from
// older versions.
//
// NopStore discards all writes and returns empty reads. It is selected
// when no database path is configured, so the rest of the host never
// checks whether persistence is on.
package store
