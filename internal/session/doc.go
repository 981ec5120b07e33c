// Package session manages the lifecycle of connected agent sessions.
//
// # Overview
//
// The Manager owns every live session: admission against the connection
// ceiling, per-session pump goroutines that feed inbound frames to the
// router, request rate limiting, heartbeat supervision, and teardown. All
// shared state lives behind the Manager's mutex; accessors hand out
// snapshots, never live references.
//
// # Manager
//
//	mgr := session.NewManager(cfg, authenticator, sink, events, logger)
//
// Key operations:
//
//   - Accept(ctx, transport, info): admit a connection, start its pump
//   - Disconnect(id, reason): idempotent teardown
//   - Send(ctx, id, frame): deliver a frame over the session's transport
//   - Broadcast(ctx, frame): deliver to every session, failures isolated
//   - Authenticate(ctx, id, credential): delegate to the Authenticator
//   - Get / List / Count: snapshot accessors
//
// Session IDs come from a monotonic counter ("sess-1", "sess-2", ...) and
// are never reused within a run.
//
// # Sweeps
//
// Start launches two tickers owned by the manager: the heartbeat sweep
// disconnects sessions whose last activity is older than the connection
// timeout (reason "heartbeat timeout"), and the cleanup sweep drops
// rate-limit windows that no longer belong to a live session. Close stops
// both and disconnects everything.
//
// # Rate limiting
//
// Inbound requests count against two fixed windows per session (minute and
// hour) with lazy reset: the first check after a window's span elapses
// zeroes its counter. A session at either ceiling is refused with
// RATE_LIMIT_EXCEEDED and the counters are left untouched. Bursts of up to
// twice the ceiling across a window boundary are accepted imprecision.
//
// # Events
//
// The Broadcaster fans out lifecycle events (connected, authenticated,
// disconnected, rate_limited, message) to subscribers keyed by session ID,
// with "*" receiving everything. Publishing never blocks; slow subscribers
// lose events.
package session
