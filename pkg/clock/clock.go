// Package clock provides the time source and identifier generation used
// throughout Trinity. Every component that needs "now" or a new id goes
// through here so tests can substitute deterministic behavior.
package clock

import (
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock time so the engine, scheduler, and recovery
// service can be tested without sleeping.
type Clock interface {
	Now() time.Time
}

// System is the production Clock backed by time.Now.
type System struct{}

// Now returns the current UTC time.
func (System) Now() time.Time { return time.Now().UTC() }

// IdGen generates stable, globally unique identifiers.
type IdGen interface {
	NewID() string
}

// UUIDGen is the production IdGen backed by google/uuid.
type UUIDGen struct{}

// NewID returns a new random UUID (v4) string.
func (UUIDGen) NewID() string { return uuid.NewString() }
