// ABOUTME: Linked in-memory transport pair for tests and embedded agents.
// ABOUTME: Delivery is asynchronous through a bounded mailbox; one Disconnect kills both ends.

package transport

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-protocol/parley/internal/protocol"
)

// Inproc is one end of an in-memory transport pair. Pairs are born connected;
// after either end disconnects the pair is dead for good.
type Inproc struct {
	opts   Options
	logger *slog.Logger
	peer   *Inproc
	shared *pairState

	mailbox chan protocol.Frame
	events  chan Event
	done    chan struct{}
}

// pairState is the single source of truth for the pair's liveness. Both ends
// share it so Disconnect on one side tears down the other exactly once.
type pairState struct {
	mu     sync.Mutex
	closed bool
}

var _ Transport = (*Inproc)(nil)

// NewPair returns two linked in-process transports. Frames sent on one end
// arrive at the other end's Receive.
func NewPair(opts Options, logger *slog.Logger) (*Inproc, *Inproc) {
	opts = opts.withDefaults()
	shared := &pairState{}
	mk := func(side string) *Inproc {
		return &Inproc{
			opts:    opts,
			logger:  logger.With("component", "transport.inproc", "side", side),
			shared:  shared,
			mailbox: make(chan protocol.Frame, opts.QueueSize),
			events:  make(chan Event, eventBufferSize),
			done:    make(chan struct{}),
		}
	}
	a, b := mk("a"), mk("b")
	a.peer, b.peer = b, a
	return a, b
}

// Connect is a no-op on a live pair and ErrClosed once the pair is dead.
func (t *Inproc) Connect(ctx context.Context) error {
	t.shared.mu.Lock()
	defer t.shared.mu.Unlock()
	if t.shared.closed {
		return ErrClosed
	}
	return nil
}

// Send places the frame in the peer's mailbox. The peer observes it on a
// later turn through Receive; the call never executes peer code in the
// sender's stack and never blocks on the peer consuming.
func (t *Inproc) Send(ctx context.Context, f protocol.Frame) error {
	t.shared.mu.Lock()
	if t.shared.closed {
		t.shared.mu.Unlock()
		return ErrNotConnected
	}
	t.shared.mu.Unlock()

	select {
	case t.peer.mailbox <- f:
		return nil
	case <-t.done:
		return ErrNotConnected
	default:
		return ErrQueueFull
	}
}

func (t *Inproc) Receive(ctx context.Context) (protocol.Frame, error) {
	var timeout <-chan time.Time
	if t.opts.ReceiveTimeout > 0 {
		tm := time.NewTimer(t.opts.ReceiveTimeout)
		defer tm.Stop()
		timeout = tm.C
	}

	select {
	case f := <-t.mailbox:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout:
		return nil, ErrReceiveTimeout
	case <-t.done:
		// Frames already delivered remain readable.
		select {
		case f := <-t.mailbox:
			return f, nil
		default:
			return nil, ErrClosed
		}
	}
}

func (t *Inproc) Connected() bool {
	t.shared.mu.Lock()
	defer t.shared.mu.Unlock()
	return !t.shared.closed
}

func (t *Inproc) Events() <-chan Event { return t.events }

// Disconnect tears down both ends of the pair. Idempotent.
func (t *Inproc) Disconnect(ctx context.Context) error {
	t.shared.mu.Lock()
	if t.shared.closed {
		t.shared.mu.Unlock()
		return nil
	}
	t.shared.closed = true
	t.shared.mu.Unlock()

	for _, end := range []*Inproc{t, t.peer} {
		close(end.done)
		emit(end.events, Event{Kind: Disconnected})
	}
	t.logger.Info("pair disconnected")
	return nil
}
