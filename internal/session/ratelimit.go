// ABOUTME: Fixed-window request limiter: per-session minute and hour counters.
// ABOUTME: Windows reset lazily at check time; a denied check never increments.

package session

import (
	"sync"
	"time"
)

// RateLimitConfig tunes the per-session request limiter.
type RateLimitConfig struct {
	Enabled              bool
	MaxRequestsPerMinute int
	MaxRequestsPerHour   int
}

// window holds one session's counters. Both windows use lazy reset: the
// counter zeroes on the first check after the window span has elapsed, not
// on a timer. A session can therefore burst up to twice a ceiling across a
// boundary; that imprecision is part of the contract.
type window struct {
	minuteStart time.Time
	minuteCount int
	hourStart   time.Time
	hourCount   int
	lastSeen    time.Time
}

// RateLimiter tracks fixed windows per session ID.
type RateLimiter struct {
	cfg RateLimitConfig
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// staleWindowAge is how long an untouched window survives cleanup sweeps.
// Longer than the hour window so an idle-but-live session keeps its counts.
const staleWindowAge = 2 * time.Hour

// NewRateLimiter builds a limiter. now is the clock; pass nil for time.Now.
func NewRateLimiter(cfg RateLimitConfig, now func() time.Time) *RateLimiter {
	if now == nil {
		now = time.Now
	}
	return &RateLimiter{
		cfg:     cfg,
		now:     now,
		windows: make(map[string]*window),
	}
}

// Allow reports whether sessionID may issue another request. A granted check
// increments both counters; a denied check increments nothing.
func (l *RateLimiter) Allow(sessionID string) bool {
	if !l.cfg.Enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[sessionID]
	if !ok {
		w = &window{minuteStart: now, hourStart: now}
		l.windows[sessionID] = w
	}
	w.lastSeen = now

	if now.Sub(w.minuteStart) >= time.Minute {
		w.minuteStart = now
		w.minuteCount = 0
	}
	if now.Sub(w.hourStart) >= time.Hour {
		w.hourStart = now
		w.hourCount = 0
	}

	if l.cfg.MaxRequestsPerMinute > 0 && w.minuteCount >= l.cfg.MaxRequestsPerMinute {
		return false
	}
	if l.cfg.MaxRequestsPerHour > 0 && w.hourCount >= l.cfg.MaxRequestsPerHour {
		return false
	}

	w.minuteCount++
	w.hourCount++
	return true
}

// Usage returns the counters currently charged against sessionID.
func (l *RateLimiter) Usage(sessionID string) (minute, hour int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok := l.windows[sessionID]; ok {
		return w.minuteCount, w.hourCount
	}
	return 0, 0
}

// Forget drops sessionID's window entirely.
func (l *RateLimiter) Forget(sessionID string) {
	l.mu.Lock()
	delete(l.windows, sessionID)
	l.mu.Unlock()
}

// Sweep removes windows owned by no live session and windows untouched for
// longer than the stale age. Returns how many were dropped.
func (l *RateLimiter) Sweep(live map[string]bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	dropped := 0
	for id, w := range l.windows {
		if !live[id] || now.Sub(w.lastSeen) > staleWindowAge {
			delete(l.windows, id)
			dropped++
		}
	}
	return dropped
}
