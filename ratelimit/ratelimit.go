package ratelimit

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/xIceArcher/go-livewatch/stream"
)

// Window is a fixed-window request budget for one platform.
type Window struct {
	Start        time.Time
	RequestsUsed int
	Limit        int
	Duration     time.Duration

	lastUsed time.Time
}

type budget struct {
	limit    int
	duration time.Duration
}

// Limiter hands out per-platform request budgets. It never blocks; callers skip or defer when refused.
type Limiter struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	budgets map[stream.Platform]budget
	windows map[stream.Platform]*Window
}

func New(clock clockwork.Clock) *Limiter {
	return &Limiter{
		clock:   clock,
		budgets: make(map[stream.Platform]budget),
		windows: make(map[stream.Platform]*Window),
	}
}

// Configure sets the budget for a platform. A non-positive limit or duration removes it.
func (l *Limiter) Configure(platform stream.Platform, limit int, duration time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.windows, platform)
	if limit <= 0 || duration <= 0 {
		delete(l.budgets, platform)
		return
	}

	l.budgets[platform] = budget{limit: limit, duration: duration}
}

// TryAcquire takes cost requests from the platform's current window.
// It returns false without side effects when the window can't fit them.
// Platforms without a configured budget are unlimited.
func (l *Limiter) TryAcquire(platform stream.Platform, cost int) bool {
	if cost <= 0 {
		cost = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[platform]
	if !ok {
		return true
	}

	now := l.clock.Now()
	w := l.window(platform, b, now)

	if w.RequestsUsed+cost > w.Limit {
		return false
	}

	w.RequestsUsed += cost
	w.lastUsed = now
	return true
}

// Remaining is the number of requests still available in the current window, or -1 if unlimited.
func (l *Limiter) Remaining(platform stream.Platform) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.budgets[platform]
	if !ok {
		return -1
	}

	w := l.window(platform, b, l.clock.Now())
	return w.Limit - w.RequestsUsed
}

// Snapshot returns a copy of the platform's window, if one exists.
func (l *Limiter) Snapshot(platform stream.Platform) (Window, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[platform]
	if !ok {
		return Window{}, false
	}
	return *w, true
}

// Prune drops windows that have been idle for more than two window durations.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	pruned := 0
	for platform, w := range l.windows {
		if now.Sub(w.lastUsed) > 2*w.Duration {
			delete(l.windows, platform)
			pruned++
		}
	}
	return pruned
}

// Must be called with l.mu held.
func (l *Limiter) window(platform stream.Platform, b budget, now time.Time) *Window {
	w, ok := l.windows[platform]
	if !ok {
		w = &Window{Start: now, Limit: b.limit, Duration: b.duration, lastUsed: now}
		l.windows[platform] = w
		return w
	}

	if now.Sub(w.Start) >= w.Duration {
		w.Start = now
		w.RequestsUsed = 0
	}
	return w
}
