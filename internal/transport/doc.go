// Package transport carries protocol frames between an agent and the host.
//
// # Overview
//
// Three transport kinds implement the same Transport contract:
//
//   - Socket: a WebSocket stream with ping/pong liveness, exponential
//     backoff reconnection, and an offline send queue
//   - Polling: an HTTP handshake/poll/send cycle for environments where a
//     persistent socket cannot be held open
//   - Inproc: a linked in-memory pair for tests and embedded agents
//
// # Contract
//
// Connect and Disconnect are idempotent. Send fails with ErrNotConnected
// when the transport is down (the socket transport instead queues during an
// active reconnection window and returns ErrQueued). Receive blocks until a
// frame arrives, the context is cancelled, or the receive timeout elapses.
// Lifecycle transitions surface on the Events channel; frames never do.
//
// # Reconnection
//
// Only the socket transport reconnects. Attempt n waits base*2^(n-1) before
// redialing; after the attempt cap the transport emits a terminal
// Disconnected event and refuses further traffic. The polling transport
// treats two consecutive "session not found" poll replies as terminal.
//
// # Failover
//
// Manager wraps one preferred transport plus an ordered failover list,
// promotes the first one that connects, and walks the list again when the
// active transport disconnects terminally.
package transport
