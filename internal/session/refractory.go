package session

import (
	"sync"
	"time"
)

// RefractoryGate accepts at most one activation per window.
// One gate is shared by every wake word detector.
type RefractoryGate struct {
	window time.Duration

	mu   sync.Mutex
	last time.Time // keeps the monotonic reading of time.Now
	seen bool
}

// NewRefractoryGate creates a gate with the given window
func NewRefractoryGate(window time.Duration) *RefractoryGate {
	return &RefractoryGate{window: window}
}

// TryAccept records now as the last activation and returns true when now lies outside the window.
// The check and the update happen under one lock, so two concurrent callers cannot both pass.
// An activation more than a window before the last one means the clock was stepped back; it is
// accepted so the gate cannot stay closed until the clock catches up.
func (g *RefractoryGate) TryAccept(now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.seen {
		elapsed := now.Sub(g.last)
		if elapsed <= g.window && elapsed >= -g.window {
			return false
		}
	}

	g.last = now
	g.seen = true
	return true
}

// LastActivation returns the time of the last accepted activation
func (g *RefractoryGate) LastActivation() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.last, g.seen
}

// Window returns the refractory window
func (g *RefractoryGate) Window() time.Duration {
	return g.window
}
