// Package admission decides whether a capture request may enter the
// service: a concurrency gate that bounds in-flight work and a sliding
// window that bounds request rate across all callers.
package admission

import "sync"

// Gate bounds the number of captures running at once. Acquisition never
// blocks; callers that cannot get a slot are expected to turn the
// refusal into a retryable response immediately.
type Gate struct {
	mu      sync.Mutex
	current int
	max     int
}

// NewGate creates a gate admitting at most max concurrent holders.
func NewGate(max int) *Gate {
	return &Gate{max: max}
}

// TryAcquire claims a slot if one is free. It returns false without
// waiting when the gate is full.
func (g *Gate) TryAcquire() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current >= g.max {
		return false
	}
	g.current++
	return true
}

// Release returns a previously acquired slot. Extra releases are
// ignored rather than corrupting the count.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.current > 0 {
		g.current--
	}
}

// Current reports the number of slots currently held.
func (g *Gate) Current() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.current
}

// Max reports the gate capacity.
func (g *Gate) Max() int {
	return g.max
}

// Available reports how many slots are free right now.
func (g *Gate) Available() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.max - g.current
}
