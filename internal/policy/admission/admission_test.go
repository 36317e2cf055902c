package admission

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a settable Clock for deterministic window tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// TestGateTryAcquire verifies the gate admits up to its capacity and
// refuses without blocking once full.
func TestGateTryAcquire(t *testing.T) {
	t.Parallel()

	g := NewGate(2)
	if !g.TryAcquire() {
		t.Fatal("first acquire refused")
	}
	if !g.TryAcquire() {
		t.Fatal("second acquire refused")
	}
	if g.TryAcquire() {
		t.Fatal("acquire beyond capacity succeeded")
	}
	if got := g.Current(); got != 2 {
		t.Fatalf("Current() = %d, want 2", got)
	}
	if got := g.Available(); got != 0 {
		t.Fatalf("Available() = %d, want 0", got)
	}

	g.Release()
	if !g.TryAcquire() {
		t.Fatal("acquire after release refused")
	}
}

// TestGateReleaseFloor verifies surplus releases never push the count
// negative.
func TestGateReleaseFloor(t *testing.T) {
	t.Parallel()

	g := NewGate(1)
	g.Release()
	g.Release()
	if got := g.Current(); got != 0 {
		t.Fatalf("Current() after surplus releases = %d, want 0", got)
	}
	if !g.TryAcquire() {
		t.Fatal("acquire refused after surplus releases")
	}
	if g.TryAcquire() {
		t.Fatal("capacity inflated by surplus releases")
	}
}

// TestGateConcurrent verifies the gate never over-admits under
// contention.
func TestGateConcurrent(t *testing.T) {
	t.Parallel()

	const capacity = 4
	g := NewGate(capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire() {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != capacity {
		t.Fatalf("admitted %d goroutines, want %d", admitted, capacity)
	}
}

// TestWindowAdmitsUpToLimit verifies the window admits exactly limit
// requests inside a minute and refuses the next.
func TestWindowAdmitsUpToLimit(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	w := NewWindow(3, clock)

	for i := 0; i < 3; i++ {
		allowed, _ := w.CheckAndRecord()
		if !allowed {
			t.Fatalf("request %d refused within limit", i+1)
		}
	}
	allowed, retryAfter := w.CheckAndRecord()
	if allowed {
		t.Fatal("request beyond limit admitted")
	}
	if retryAfter < 1 {
		t.Fatalf("retryAfter = %d, want >= 1", retryAfter)
	}
}

// TestWindowSlides verifies old admits age out of the trailing window.
func TestWindowSlides(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	w := NewWindow(2, clock)

	w.CheckAndRecord()
	clock.advance(30 * time.Second)
	w.CheckAndRecord()

	if allowed, _ := w.CheckAndRecord(); allowed {
		t.Fatal("request admitted with window full")
	}

	// The first admit is now 61s old and should no longer count.
	clock.advance(31 * time.Second)
	if allowed, _ := w.CheckAndRecord(); !allowed {
		t.Fatal("request refused after oldest admit aged out")
	}
}

// TestWindowRetryAfter verifies the advertised wait tracks the oldest
// recorded admit.
func TestWindowRetryAfter(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	w := NewWindow(1, clock)

	w.CheckAndRecord()
	clock.advance(20 * time.Second)

	allowed, retryAfter := w.CheckAndRecord()
	if allowed {
		t.Fatal("request admitted with window full")
	}
	// Oldest admit expires in 40s; the advertised wait rounds up.
	if retryAfter != 41 {
		t.Fatalf("retryAfter = %d, want 41", retryAfter)
	}

	clock.advance(39 * time.Second)
	_, retryAfter = w.CheckAndRecord()
	if retryAfter != 2 {
		t.Fatalf("retryAfter near expiry = %d, want 2", retryAfter)
	}
}

// TestWindowRetryAfterFloor verifies the wait is clamped to at least
// one second even at the window edge.
func TestWindowRetryAfterFloor(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	w := NewWindow(1, clock)

	w.CheckAndRecord()
	clock.advance(59*time.Second + 500*time.Millisecond)

	allowed, retryAfter := w.CheckAndRecord()
	if allowed {
		t.Fatal("request admitted with window full")
	}
	if retryAfter != 1 {
		t.Fatalf("retryAfter near boundary = %d, want 1", retryAfter)
	}

	// At exactly sixty seconds the oldest admit has aged out.
	clock.advance(500 * time.Millisecond)
	if allowed, _ := w.CheckAndRecord(); !allowed {
		t.Fatal("request refused at window boundary")
	}
}
