// ABOUTME: In-memory fan-out broadcaster for session lifecycle events.
// ABOUTME: Subscribers key on a session ID or the wildcard; publishing never blocks.

package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-protocol/parley/internal/protocol"
)

// EventKind classifies a lifecycle event.
type EventKind string

const (
	EventConnected     EventKind = "connected"
	EventAuthenticated EventKind = "authenticated"
	EventDisconnected  EventKind = "disconnected"
	EventRateLimited   EventKind = "rate_limited"
	// EventMessage acknowledges an inbound response or notification that
	// needed no routing beyond being observed.
	EventMessage EventKind = "message"
)

// Event is one session lifecycle transition.
type Event struct {
	Kind      EventKind
	SessionID string
	Source    string
	Reason    string               // set on disconnected
	Type      protocol.MessageType // set on message events
	MessageID string               // set on message events
	At        time.Time
}

// Wildcard subscribes to events from every session.
const Wildcard = "*"

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// Broadcaster provides in-memory pub/sub for session lifecycle events. The
// daemon's audit recorder and metrics exporter subscribe on the wildcard;
// API clients can watch a single session.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // sessionID -> subID -> ch
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "session.events"),
	}
}

// Subscribe registers for events on the given session ID (or Wildcard).
// Returns the event channel and a subscription ID for Unsubscribe. The
// subscription is cleaned up automatically when ctx is cancelled.
func (b *Broadcaster) Subscribe(ctx context.Context, key string) (<-chan Event, string) {
	subID := uuid.New().String()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[string]chan Event)
	}
	b.subscribers[key][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "key", key, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(key, subID)
	}()

	return ch, subID
}

// Publish fans ev out to subscribers of its session ID and of the wildcard.
// Non-blocking: a full subscriber channel drops the event.
func (b *Broadcaster) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	targets := make([]chan Event, 0, 4)
	for _, key := range []string{ev.SessionID, Wildcard} {
		for _, ch := range b.subscribers[key] {
			targets = append(targets, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"session_id", ev.SessionID,
				"kind", ev.Kind)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(key, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[key]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, key)
	}

	b.logger.Debug("subscriber removed", "key", key, "sub_id", subID)
}

// Close shuts the broadcaster down and closes every subscriber channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, key)
	}
}
