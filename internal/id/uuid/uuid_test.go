package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestNewID verifies generated IDs are valid, distinct UUIDs.
func TestNewID(t *testing.T) {
	t.Parallel()

	g := New()

	first := g.NewID()
	if _, err := goUUID.Parse(first); err != nil {
		t.Fatalf("NewID() returned unparseable UUID %q: %v", first, err)
	}

	second := g.NewID()
	if first == second {
		t.Fatalf("NewID() returned duplicate value %q", first)
	}
}
