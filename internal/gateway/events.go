// ABOUTME: Session event subscriber feeding metrics and the persistence layer
// ABOUTME: Also hosts the buffered audit writer for routed-message records

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/parley-protocol/parley/internal/metrics"
	"github.com/parley-protocol/parley/internal/router"
	"github.com/parley-protocol/parley/internal/session"
	"github.com/parley-protocol/parley/internal/store"
)

// watchEvents consumes the session lifecycle bus: every transition updates
// metrics and, where it matters, the store. The caller subscribes before
// spawning this goroutine so no event published after start is missed.
func (g *Gateway) watchEvents(ctx context.Context, ch <-chan session.Event, subID string) {
	defer g.events.Unsubscribe(session.Wildcard, subID)

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			g.handleEvent(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleEvent(ctx context.Context, ev session.Event) {
	switch ev.Kind {
	case session.EventConnected:
		metrics.SessionsOpened.Inc()
		metrics.ActiveSessions.Inc()

		rec := &store.SessionRecord{
			SessionID:   ev.SessionID,
			Source:      ev.Source,
			ConnectedAt: ev.At,
		}
		if snap, ok := g.sessions.Get(ev.SessionID); ok {
			rec.RemoteAddr = snap.RemoteAddr
			rec.Transport = snap.Name
		}
		if err := g.store.SessionOpened(ctx, rec); err != nil {
			g.logger.Warn("recording session open failed", "session_id", ev.SessionID, "error", err)
		}

	case session.EventAuthenticated:
		if snap, ok := g.sessions.Get(ev.SessionID); ok && snap.Subject != "" {
			if err := g.store.SessionAuthenticated(ctx, ev.SessionID, snap.Subject); err != nil && !errors.Is(err, store.ErrNotFound) {
				g.logger.Warn("recording session subject failed", "session_id", ev.SessionID, "error", err)
			}
		}

	case session.EventDisconnected:
		metrics.ActiveSessions.Dec()
		metrics.SessionsClosed.WithLabelValues(ev.Reason).Inc()

		g.polls.remove(ev.SessionID)
		if err := g.store.SessionClosed(ctx, ev.SessionID, ev.Reason, ev.At); err != nil && !errors.Is(err, store.ErrNotFound) {
			g.logger.Warn("recording session close failed", "session_id", ev.SessionID, "error", err)
		}

	case session.EventRateLimited:
		metrics.RateLimitHits.Inc()
	}
}

// auditWriterQueue bounds how many routed-message records may wait for the
// store. The audit trail is best effort; overflow drops records rather than
// slowing routing.
const auditWriterQueue = 256

// auditWriter moves routing records from the router's hot path to the store.
type auditWriter struct {
	store  store.Store
	logger *slog.Logger
	ch     chan router.HistoryEntry

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

func newAuditWriter(s store.Store, logger *slog.Logger) *auditWriter {
	return &auditWriter{
		store:  s,
		logger: logger.With("component", "gateway.audit"),
		ch:     make(chan router.HistoryEntry, auditWriterQueue),
		done:   make(chan struct{}),
	}
}

// Record enqueues one routing record. Never blocks; records are dropped
// when the writer is stopped or the queue is full.
func (w *auditWriter) Record(e router.HistoryEntry) {
	select {
	case w.ch <- e:
	default:
		w.logger.Debug("audit queue full, dropping record", "message_id", e.MessageID)
	}
}

// Start launches the writer goroutine.
func (w *auditWriter) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case e := <-w.ch:
				w.write(ctx, e)
			case <-ctx.Done():
				return
			case <-w.done:
				// Drain what is already queued, then stop.
				for {
					select {
					case e := <-w.ch:
						w.write(context.Background(), e)
					default:
						return
					}
				}
			}
		}
	}()
}

func (w *auditWriter) write(ctx context.Context, e router.HistoryEntry) {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := w.store.LogMessage(writeCtx, &store.MessageRecord{
		MessageID: e.MessageID,
		SessionID: e.SessionID,
		Type:      string(e.Type),
		Source:    e.Source,
		Success:   e.Success,
		Handler:   e.Handler,
		ErrorCode: e.ErrorCode,
		Duration:  e.Duration,
		At:        e.At,
	})
	if err != nil {
		w.logger.Warn("persisting message record failed", "message_id", e.MessageID, "error", err)
	}
}

// Close stops the writer after draining the queue. Records arriving later
// are dropped silently.
func (w *auditWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return
	}
	w.stopped = true
	close(w.done)
}
