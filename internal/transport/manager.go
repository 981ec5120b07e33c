// ABOUTME: Failover manager: one active transport plus an ordered backup list.
// ABOUTME: Promotes the first transport that connects and walks the list again on loss.

package transport

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/parley-protocol/parley/internal/protocol"
)

// Manager presents several transports as one. The preference order is fixed
// at construction: the primary first, then each failover in the order given.
// Whichever connects first becomes active; when the active transport dies
// terminally, the manager walks the whole order again before giving up.
type Manager struct {
	order  []Transport
	opts   Options
	logger *slog.Logger

	mu        sync.Mutex
	activeIdx int
	connected bool
	closed    bool
	watchGen  int

	events chan Event
	done   chan struct{}
}

var _ Transport = (*Manager)(nil)

// NewManager builds a failover manager over primary and failovers.
func NewManager(primary Transport, failovers []Transport, opts Options, logger *slog.Logger) *Manager {
	order := append([]Transport{primary}, failovers...)
	return &Manager{
		order:     order,
		opts:      opts.withDefaults(),
		logger:    logger.With("component", "transport.manager"),
		activeIdx: -1,
		events:    make(chan Event, eventBufferSize),
		done:      make(chan struct{}),
	}
}

// Connect walks the preference order and promotes the first transport that
// connects. All candidates failing yields ErrAllTransportsFailed.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.connected {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.connectAny(ctx)
}

func (m *Manager) connectAny(ctx context.Context) error {
	var errs []error
	for i, t := range m.order {
		if err := t.Connect(ctx); err != nil {
			m.logger.Warn("transport candidate failed", "index", i, "error", err)
			errs = append(errs, err)
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			t.Disconnect(ctx)
			return ErrClosed
		}
		m.activeIdx = i
		m.connected = true
		m.watchGen++
		gen := m.watchGen
		m.mu.Unlock()

		go m.watch(t, gen)
		emit(m.events, Event{Kind: Connected})
		m.logger.Info("transport promoted", "index", i)
		return nil
	}
	return errors.Join(append(errs, ErrAllTransportsFailed)...)
}

// watch forwards the active transport's events and starts failover when it
// disconnects terminally. gen guards against a stale watcher acting after a
// newer promotion.
func (m *Manager) watch(t Transport, gen int) {
	for {
		select {
		case ev, ok := <-t.Events():
			if !ok {
				return
			}
			if ev.Kind == Disconnected {
				m.mu.Lock()
				stale := m.watchGen != gen || m.closed
				if !stale {
					m.connected = false
					m.activeIdx = -1
				}
				m.mu.Unlock()
				if stale {
					return
				}
				m.logger.Warn("active transport lost", "error", ev.Err)
				emit(m.events, Event{Kind: Failover, Err: ev.Err})
				go m.failover()
				return
			}
			emit(m.events, ev)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) failover() {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DialTimeout)
	defer cancel()
	if err := m.connectAny(ctx); err != nil {
		m.mu.Lock()
		alreadyClosed := m.closed
		m.mu.Unlock()
		if alreadyClosed {
			return
		}
		emit(m.events, Event{Kind: Disconnected, Err: err})
		m.logger.Error("all transports exhausted", "error", err)
	}
}

// active returns the connected transport or nil.
func (m *Manager) active() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected || m.activeIdx < 0 {
		return nil
	}
	return m.order[m.activeIdx]
}

func (m *Manager) Send(ctx context.Context, f protocol.Frame) error {
	t := m.active()
	if t == nil {
		return ErrNotConnected
	}
	return t.Send(ctx, f)
}

func (m *Manager) Receive(ctx context.Context) (protocol.Frame, error) {
	t := m.active()
	if t == nil {
		return nil, ErrNotConnected
	}
	return t.Receive(ctx)
}

func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *Manager) Events() <-chan Event { return m.events }

// Disconnect stops failover and tears down every transport in the order.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.connected = false
	m.activeIdx = -1
	m.mu.Unlock()

	var errs []error
	for _, t := range m.order {
		if err := t.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	close(m.done)
	emit(m.events, Event{Kind: Disconnected})
	m.logger.Info("manager shut down")
	return errors.Join(errs...)
}
