package logging

import "testing"

// TestNewDevelopment verifies the development logger is constructed and usable.
func TestNewDevelopment(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("New(true) returned nil logger")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Debug("development logger smoke test")
}

// TestNewProduction verifies the production logger is constructed and usable.
func TestNewProduction(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) returned error: %v", err)
	}
	if logger == nil {
		t.Fatal("New(false) returned nil logger")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	logger.Info("production logger smoke test")
}
