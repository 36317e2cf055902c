package system

import (
	"testing"
	"time"
)

// TestNow verifies the clock tracks the wall clock and reports UTC.
func TestNow(t *testing.T) {
	t.Parallel()

	c := New()
	before := time.Now().UTC()
	got := c.Now()
	after := time.Now().UTC()

	if got.Before(before) || got.After(after) {
		t.Fatalf("Now() = %v, want between %v and %v", got, before, after)
	}
	if got.Location() != time.UTC {
		t.Fatalf("Now() location = %v, want UTC", got.Location())
	}
}
