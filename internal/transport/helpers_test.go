// ABOUTME: Shared helpers for transport tests: quiet logger, event waits, contexts.
// ABOUTME: Event waits use generous deadlines so the suite stays stable under load.

package transport

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func contextWithTimeout(t *testing.T, d time.Duration) (context.Context, context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(t.Context(), d)
}

// assertEvent waits for the next event of the wanted kind, skipping others.
func assertEvent(t *testing.T, ch <-chan Event, want EventKind) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within deadline", want)
			return Event{}
		}
	}
}
