// Package router dispatches inbound frames to per-type handlers.
//
// Exactly one handler owns each message type. The router validates frames,
// races handlers against the message timeout, answers requests over the
// originating session's transport, and keeps a bounded history of routing
// outcomes for the admin API.
package router
