// ABOUTME: Transport contract, lifecycle event types, and shared options.
// ABOUTME: All concrete transports and the failover manager satisfy Transport.

package transport

import (
	"context"
	"errors"
	"time"

	"github.com/parley-protocol/parley/internal/protocol"
)

var (
	ErrNotConnected        = errors.New("transport not connected")
	ErrClosed              = errors.New("transport closed")
	ErrQueued              = errors.New("message queued until reconnect")
	ErrQueueFull           = errors.New("offline queue full")
	ErrReceiveTimeout      = errors.New("receive timed out")
	ErrAllTransportsFailed = errors.New("no transport could connect")
	ErrUnsupportedScheme   = errors.New("unsupported transport scheme")
)

// Transport moves frames between two protocol participants. Implementations
// are safe for concurrent use.
type Transport interface {
	// Connect establishes the link. Calling it while connected is a no-op.
	Connect(ctx context.Context) error
	// Disconnect tears the link down and stops any reconnection in
	// progress. Calling it again is a no-op.
	Disconnect(ctx context.Context) error
	// Send transmits one frame. It fails with ErrNotConnected when the
	// transport is down; the socket transport queues during reconnection
	// and reports ErrQueued instead.
	Send(ctx context.Context, f protocol.Frame) error
	// Receive blocks until a frame arrives, ctx is done, or the receive
	// timeout elapses (ErrReceiveTimeout). After terminal teardown it
	// returns ErrClosed.
	Receive(ctx context.Context) (protocol.Frame, error)
	// Connected reports whether frames can currently be sent.
	Connected() bool
	// Events exposes lifecycle transitions. The channel is buffered and
	// never carries frames; slow consumers lose events rather than block
	// the transport.
	Events() <-chan Event
}

// EventKind classifies a lifecycle transition.
type EventKind int

const (
	// Connected: the link is up (initial connect or successful reconnect).
	Connected EventKind = iota
	// Reconnecting: the link dropped and a redial is scheduled.
	Reconnecting
	// Disconnected: terminal. Either Disconnect was called or recovery was
	// exhausted; Err carries the cause for the latter.
	Disconnected
	// Failover: the manager promoted a different transport.
	Failover
	// Failed: a non-fatal transport error (decode failure, dropped write).
	Failed
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case Disconnected:
		return "disconnected"
	case Failover:
		return "failover"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Event is one lifecycle transition.
type Event struct {
	Kind    EventKind
	Err     error
	Attempt int // set on Reconnecting
}

// Options tunes transport behavior. Zero values take the defaults below.
type Options struct {
	// Codec is the wire format. Defaults to protocol.JSON.
	Codec protocol.Codec
	// ReceiveTimeout bounds a single Receive call. Zero means wait until
	// the context is done.
	ReceiveTimeout time.Duration
	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int

	// DialTimeout bounds the socket handshake.
	DialTimeout time.Duration
	// PingInterval is the liveness probe period for the socket transport.
	PingInterval time.Duration
	// ReconnectBase seeds the backoff schedule: attempt n waits
	// ReconnectBase * 2^(n-1).
	ReconnectBase time.Duration
	// MaxReconnects caps redial attempts. Zero disables reconnection.
	MaxReconnects int
	// QueueSize bounds the offline send queue and the in-process mailbox.
	QueueSize int

	// PollInterval is the fixed polling period. Polling never backs off.
	PollInterval time.Duration

	// AuthToken is presented during the socket handshake and the polling
	// handshake when set.
	AuthToken string
	// Source identifies this participant in handshakes.
	Source string
}

// DefaultOptions returns the tuning a typical agent connection uses.
func DefaultOptions() Options {
	return Options{
		Codec:          protocol.JSON,
		ReceiveTimeout: 60 * time.Second,
		MaxMessageSize: 1 << 20,
		DialTimeout:    10 * time.Second,
		PingInterval:   30 * time.Second,
		ReconnectBase:  time.Second,
		MaxReconnects:  5,
		QueueSize:      64,
		PollInterval:   2 * time.Second,
	}
}

// withDefaults fills zero fields without mutating the caller's copy.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Codec == nil {
		o.Codec = d.Codec
	}
	if o.MaxMessageSize == 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.DialTimeout == 0 {
		o.DialTimeout = d.DialTimeout
	}
	if o.PingInterval == 0 {
		o.PingInterval = d.PingInterval
	}
	if o.ReconnectBase == 0 {
		o.ReconnectBase = d.ReconnectBase
	}
	if o.QueueSize == 0 {
		o.QueueSize = d.QueueSize
	}
	if o.PollInterval == 0 {
		o.PollInterval = d.PollInterval
	}
	return o
}

// eventBufferSize is the lifecycle channel depth shared by all transports.
const eventBufferSize = 16

// emit delivers ev without blocking; a full channel drops the event.
func emit(ch chan Event, ev Event) {
	select {
	case ch <- ev:
	default:
	}
}

// Backoff returns the reconnect delay before dial attempt n (1-based):
// base * 2^(n-1). Attempts beyond the cap get no delay because no further
// attempt is made.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}
	return base << (attempt - 1)
}
