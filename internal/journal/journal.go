package journal

import (
	"context"
	"time"
)

// Event kinds recorded by the drivers.
const (
	KindAcquire = "acquire"
	KindRelease = "release"
	KindEvict   = "evict"
)

// Event is one cache decision as reported by a driver. The journal is
// an audit trail for external reporting; it is never read back to
// rebuild cache state.
type Event struct {
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"`
	Image     string    `json:"image"`
	Container string    `json:"container,omitempty"`
	Outcome   string    `json:"outcome,omitempty"`
	Victim    string    `json:"victim,omitempty"`
}

// Sink receives journal events.
type Sink interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards all events.
type Nop struct{}

// Record discards the event.
func (Nop) Record(context.Context, Event) error { return nil }

// Close does nothing.
func (Nop) Close() error { return nil }
