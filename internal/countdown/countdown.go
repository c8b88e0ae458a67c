// Package countdown implements the cancellable delay shown before recording starts.
package countdown

import (
	"sync"
	"time"
)

// Gate runs at most one countdown at a time. Starting a running gate restarts it.
type Gate struct {
	duration time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	gen      uint64
	deadline time.Time
}

// New creates a gate counting down d.
func New(d time.Duration) *Gate {
	if d < 0 {
		d = 0
	}
	return &Gate{duration: d}
}

// Start begins the countdown. onElapsed runs once on its own goroutine unless the
// gate is reset or restarted first.
func (g *Gate) Start(onElapsed func()) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.stopLocked()
	g.gen++
	gen := g.gen
	g.deadline = time.Now().Add(g.duration)
	g.timer = time.AfterFunc(g.duration, func() {
		g.mu.Lock()
		if g.gen != gen || g.timer == nil {
			g.mu.Unlock()
			return
		}
		g.timer = nil
		g.mu.Unlock()

		onElapsed()
	})
}

// Reset cancels a running countdown. The callback will not fire.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopLocked()
	g.gen++
}

func (g *Gate) stopLocked() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

// Active reports whether a countdown is running.
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timer != nil
}

// Remaining returns the time left, 0 when idle.
func (g *Gate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.timer == nil {
		return 0
	}
	if left := time.Until(g.deadline); left > 0 {
		return left
	}
	return 0
}

func (g *Gate) Duration() time.Duration { return g.duration }
