// ABOUTME: Fixed-window limiter tests driven by a fake clock.
// ABOUTME: Covers ceiling denial without increment, lazy resets, and sweeps.

package session

import (
	"testing"
	"time"
)

// fakeClock is a manually advanced time source.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestRateLimiter_DeniesAtMinuteCeilingWithoutIncrement(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimitConfig{
		Enabled:              true,
		MaxRequestsPerMinute: 3,
		MaxRequestsPerHour:   100,
	}, clock.Now)

	for i := 0; i < 3; i++ {
		if !limiter.Allow("sess-1") {
			t.Fatalf("request %d under the ceiling was denied", i+1)
		}
	}
	if limiter.Allow("sess-1") {
		t.Fatal("request at the ceiling was allowed")
	}

	minute, hour := limiter.Usage("sess-1")
	if minute != 3 || hour != 3 {
		t.Fatalf("denied checks must not increment: got minute=%d hour=%d, want 3/3", minute, hour)
	}

	// Repeated denials still leave the counters alone.
	for i := 0; i < 5; i++ {
		if limiter.Allow("sess-1") {
			t.Fatal("request over the ceiling was allowed")
		}
	}
	minute, hour = limiter.Usage("sess-1")
	if minute != 3 || hour != 3 {
		t.Fatalf("counters moved during denial: got minute=%d hour=%d, want 3/3", minute, hour)
	}
}

func TestRateLimiter_MinuteWindowResetsAfterSimulatedMinute(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimitConfig{
		Enabled:              true,
		MaxRequestsPerMinute: 2,
		MaxRequestsPerHour:   100,
	}, clock.Now)

	if !limiter.Allow("sess-1") || !limiter.Allow("sess-1") {
		t.Fatal("requests under the ceiling were denied")
	}
	if limiter.Allow("sess-1") {
		t.Fatal("request at the ceiling was allowed")
	}

	// Advancing the clock 60 simulated seconds opens a fresh minute window.
	clock.Advance(60 * time.Second)

	if !limiter.Allow("sess-1") {
		t.Fatal("request after window reset was denied")
	}
	minute, hour := limiter.Usage("sess-1")
	if minute != 1 {
		t.Fatalf("minute counter after reset = %d, want 1", minute)
	}
	if hour != 3 {
		t.Fatalf("hour counter must carry across minute resets: got %d, want 3", hour)
	}
}

func TestRateLimiter_HourCeilingOutlivesMinuteResets(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimitConfig{
		Enabled:              true,
		MaxRequestsPerMinute: 10,
		MaxRequestsPerHour:   4,
	}, clock.Now)

	for i := 0; i < 4; i++ {
		if !limiter.Allow("sess-1") {
			t.Fatalf("request %d under the hourly ceiling was denied", i+1)
		}
		clock.Advance(time.Minute)
	}

	// The minute window is fresh, but the hourly budget is gone.
	if limiter.Allow("sess-1") {
		t.Fatal("request over the hourly ceiling was allowed")
	}

	clock.Advance(time.Hour)
	if !limiter.Allow("sess-1") {
		t.Fatal("request after the hour window reset was denied")
	}
}

func TestRateLimiter_DisabledAllowsEverything(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{Enabled: false, MaxRequestsPerMinute: 1}, nil)
	for i := 0; i < 50; i++ {
		if !limiter.Allow("sess-1") {
			t.Fatal("disabled limiter denied a request")
		}
	}
	if minute, hour := limiter.Usage("sess-1"); minute != 0 || hour != 0 {
		t.Fatalf("disabled limiter tracked usage: minute=%d hour=%d", minute, hour)
	}
}

func TestRateLimiter_SessionsAreIndependent(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimitConfig{
		Enabled:              true,
		MaxRequestsPerMinute: 1,
		MaxRequestsPerHour:   10,
	}, clock.Now)

	if !limiter.Allow("sess-1") {
		t.Fatal("first session's first request denied")
	}
	if limiter.Allow("sess-1") {
		t.Fatal("first session's second request allowed")
	}
	if !limiter.Allow("sess-2") {
		t.Fatal("second session was throttled by the first session's usage")
	}
}

func TestRateLimiter_ForgetDropsWindow(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimitConfig{
		Enabled:              true,
		MaxRequestsPerMinute: 1,
		MaxRequestsPerHour:   10,
	}, clock.Now)

	limiter.Allow("sess-1")
	limiter.Forget("sess-1")

	if !limiter.Allow("sess-1") {
		t.Fatal("forgotten session should start from a clean window")
	}
}

func TestRateLimiter_SweepDropsOrphanedAndStaleWindows(t *testing.T) {
	clock := newFakeClock()
	limiter := NewRateLimiter(RateLimitConfig{
		Enabled:              true,
		MaxRequestsPerMinute: 100,
		MaxRequestsPerHour:   1000,
	}, clock.Now)

	limiter.Allow("sess-live")
	limiter.Allow("sess-gone")

	dropped := limiter.Sweep(map[string]bool{"sess-live": true})
	if dropped != 1 {
		t.Fatalf("sweep dropped %d windows, want 1", dropped)
	}
	if minute, _ := limiter.Usage("sess-live"); minute != 1 {
		t.Fatal("sweep removed a live session's window")
	}
	if minute, _ := limiter.Usage("sess-gone"); minute != 0 {
		t.Fatal("sweep kept an orphaned window")
	}

	// A live but long-idle window ages out too.
	clock.Advance(staleWindowAge + time.Minute)
	dropped = limiter.Sweep(map[string]bool{"sess-live": true})
	if dropped != 1 {
		t.Fatalf("sweep dropped %d stale windows, want 1", dropped)
	}
}
