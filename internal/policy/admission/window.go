package admission

import (
	"sync"
	"time"
)

const windowSpan = time.Minute

// Clock abstracts the time source so window behavior can be tested
// without sleeping.
type Clock interface {
	Now() time.Time
}

// Window is a global sliding-window rate limiter: at most limit
// requests are admitted in any trailing sixty seconds, regardless of
// caller identity.
type Window struct {
	mu     sync.Mutex
	clock  Clock
	limit  int
	admits []time.Time
}

// NewWindow creates a window admitting at most limit requests per
// minute, timed by clock.
func NewWindow(limit int, clock Clock) *Window {
	return &Window{
		clock:  clock,
		limit:  limit,
		admits: make([]time.Time, 0, limit),
	}
}

// CheckAndRecord admits the current request if the trailing window has
// room, recording it atomically with the check. On refusal it returns
// the whole seconds a client should wait before the oldest recorded
// admit ages out, never less than one.
func (w *Window) CheckAndRecord() (allowed bool, retryAfter int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	cutoff := now.Add(-windowSpan)

	kept := w.admits[:0]
	for _, t := range w.admits {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	w.admits = kept

	if len(w.admits) < w.limit {
		w.admits = append(w.admits, now)
		return true, 0
	}

	wait := int(w.admits[0].Add(windowSpan).Sub(now).Seconds()) + 1
	if wait < 1 {
		wait = 1
	}
	return false, wait
}
