// Package uuid provides a request ID generator backed by random UUIDs.
package uuid

import goUUID "github.com/google/uuid"

// Generator produces UUIDv4 request identifiers.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUIDv4 string.
func (Generator) NewID() string {
	return goUUID.NewString()
}
