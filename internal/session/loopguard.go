package session

import (
	"sync"
	"time"
)

// Loop guard defaults.
const (
	// DefaultLoopWindow is how long each snapshot counts against the guard.
	DefaultLoopWindow = 10 * time.Second

	// DefaultLoopThreshold is the count above which the guard trips.
	DefaultLoopThreshold = 30
)

// LoopGuard is a sliding-window counter over incoming snapshots.
//
// Every Hit increments the count and schedules its own decrement after the
// window; there is no manual reset. The guard is tripped while the count
// exceeds the threshold and recovers as decrements fire.
type LoopGuard struct {
	window    time.Duration
	threshold int

	mu      sync.Mutex
	count   int
	timers  map[*time.Timer]struct{}
	stopped bool
}

// NewLoopGuard creates a guard. Non-positive arguments select the defaults.
func NewLoopGuard(window time.Duration, threshold int) *LoopGuard {
	if window <= 0 {
		window = DefaultLoopWindow
	}
	if threshold <= 0 {
		threshold = DefaultLoopThreshold
	}
	return &LoopGuard{
		window:    window,
		threshold: threshold,
		timers:    make(map[*time.Timer]struct{}),
	}
}

// Hit records one snapshot and reports whether the guard is now tripped.
func (g *LoopGuard) Hit() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.stopped {
		return false
	}

	g.count++
	var timer *time.Timer
	timer = time.AfterFunc(g.window, func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if _, ok := g.timers[timer]; !ok {
			return
		}
		delete(g.timers, timer)
		g.count--
	})
	g.timers[timer] = struct{}{}

	return g.count > g.threshold
}

// Tripped reports whether the count currently exceeds the threshold.
func (g *LoopGuard) Tripped() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count > g.threshold
}

// Count returns the number of snapshots inside the current window.
func (g *LoopGuard) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.count
}

// Stop cancels pending decrements. Hit always reports false afterwards.
func (g *LoopGuard) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()

	for timer := range g.timers {
		timer.Stop()
	}
	clear(g.timers)
	g.count = 0
	g.stopped = true
}
