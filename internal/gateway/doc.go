// Package gateway orchestrates the parley host components.
//
// # Overview
//
// The gateway owns and wires together the major components: the store, the
// session manager, the message router, the request pipeline, and a single
// HTTP server carrying every endpoint.
//
// # HTTP Surface
//
// Agent-facing endpoints (authentication happens in-protocol):
//
//   - GET /ws - WebSocket upgrade into a socket session
//   - POST /api/v1/handshake - open a polling session
//   - GET /api/v1/poll/{session} - fetch queued frames
//   - POST /api/v1/send/{session} - submit one frame
//   - DELETE /api/v1/session/{session} - end a polling session
//
// Admin endpoints (bearer credential required when auth is enabled):
//
//   - GET /api/v1/sessions - live sessions, ?all=true for stored history
//   - GET /api/v1/capabilities - the host capability catalog
//   - GET /api/v1/history - in-memory routing history
//   - GET /api/v1/messages - persisted message audit trail
//   - GET /api/v1/stats - routing and session counters
//   - GET /api/v1/handlers - handler registrations
//   - POST /api/v1/handlers/{type}/enable - re-enable a handler
//   - POST /api/v1/handlers/{type}/disable - disable a handler
//
// Always open:
//
//   - GET /healthz - liveness
//   - GET /readyz - readiness plus session count
//   - GET /metrics - Prometheus metrics (when enabled)
//
// # Lifecycle
//
// New builds everything but listens on nothing. Run brings up the listener
// (plain TCP, or tsnet when tailscale.enabled), the sweep goroutines, the
// event subscriber, and the audit writer, then blocks until the context is
// canceled. Shutdown disconnects every session with reason "shutdown",
// stops the HTTP server, and closes the store.
package gateway
