// ABOUTME: No-op Store implementation used when persistence is disabled
// ABOUTME: Accepts writes silently and returns empty results for reads

package store

import (
	"context"
	"fmt"
	"time"
)

// NopStore satisfies Store without persisting anything. It is used when no
// database path is configured.
type NopStore struct{}

var _ Store = (*NopStore)(nil)

// NewNopStore returns a store that discards everything.
func NewNopStore() *NopStore {
	return &NopStore{}
}

func (*NopStore) SessionOpened(context.Context, *SessionRecord) error { return nil }

func (*NopStore) SessionAuthenticated(context.Context, string, string) error { return nil }

func (*NopStore) SessionClosed(context.Context, string, string, time.Time) error { return nil }

func (*NopStore) GetSession(_ context.Context, id string) (*SessionRecord, error) {
	return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
}

func (*NopStore) ListSessions(context.Context, SessionFilter) ([]SessionRecord, error) {
	return []SessionRecord{}, nil
}

func (*NopStore) LogMessage(context.Context, *MessageRecord) error { return nil }

func (*NopStore) ListMessages(context.Context, MessageFilter) ([]MessageRecord, error) {
	return []MessageRecord{}, nil
}

func (*NopStore) Totals(context.Context) (int64, int64, error) { return 0, 0, nil }

func (*NopStore) Prune(context.Context, time.Time) (int64, error) { return 0, nil }

func (*NopStore) Close() error { return nil }
