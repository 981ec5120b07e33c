// ABOUTME: Ring-buffer behavior tests for the routing history.

package router

import (
	"fmt"
	"testing"

	"github.com/parley-protocol/parley/internal/protocol"
)

func entry(i int) HistoryEntry {
	return HistoryEntry{
		MessageID: fmt.Sprintf("msg-%d", i),
		Type:      protocol.TypeContextChanged,
		Success:   true,
	}
}

func TestHistory_OrderSurvivesMultipleWraps(t *testing.T) {
	h := NewHistory(4)

	for i := 0; i < 11; i++ {
		h.Append(entry(i))
	}

	got := h.Snapshot()
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for i, e := range got {
		want := fmt.Sprintf("msg-%d", 7+i)
		if e.MessageID != want {
			t.Fatalf("entry %d = %s, want %s", i, e.MessageID, want)
		}
	}
}

func TestHistory_PartialFill(t *testing.T) {
	h := NewHistory(10)
	h.Append(entry(0))
	h.Append(entry(1))

	if h.Len() != 2 {
		t.Fatalf("len = %d, want 2", h.Len())
	}
	got := h.Snapshot()
	if got[0].MessageID != "msg-0" || got[1].MessageID != "msg-1" {
		t.Fatalf("snapshot order wrong: %v", got)
	}
}

func TestHistory_DefaultCapacity(t *testing.T) {
	h := NewHistory(0)
	if h.Capacity() != defaultHistorySize {
		t.Fatalf("capacity = %d, want %d", h.Capacity(), defaultHistorySize)
	}
}

func TestHistory_ClearResetsRing(t *testing.T) {
	h := NewHistory(3)
	for i := 0; i < 5; i++ {
		h.Append(entry(i))
	}
	h.Clear()

	if h.Len() != 0 {
		t.Fatalf("len after clear = %d, want 0", h.Len())
	}
	h.Append(entry(9))
	got := h.Snapshot()
	if len(got) != 1 || got[0].MessageID != "msg-9" {
		t.Fatalf("ring did not restart cleanly: %v", got)
	}
}
