// Package domain provides the shared kernel used by every layer of the
// store: identity, timestamps, the aggregate-root/event-recording base, the
// domain event envelope, and the shared value enums (channel, provider,
// connection status, severity, ownership).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Entity base — every domain object that has identity
// ---------------------------------------------------------------------------

// EntityID is a typed identifier. Objects, subscriptions, mounts and types
// all mint one of these; object paths remain the addressing scheme, EntityID
// is the stable handle that survives a rename.
type EntityID string

// NewID generates a new random identifier.
func NewID() EntityID {
	return EntityID(uuid.NewString())
}

// String implements fmt.Stringer.
func (id EntityID) String() string { return string(id) }

// IsZero returns true if the ID is empty.
func (id EntityID) IsZero() bool { return id == "" }

// ---------------------------------------------------------------------------
// Timestamp value object
// ---------------------------------------------------------------------------

// Timestamp wraps time.Time with JSON-friendly serialization and domain semantics.
type Timestamp struct {
	time.Time
}

// Now returns the current UTC timestamp.
func Now() Timestamp { return Timestamp{time.Now().UTC()} }

// ZeroTime returns the zero-value timestamp.
func ZeroTime() Timestamp { return Timestamp{} }

// TimestampFrom wraps an existing time.Time.
func TimestampFrom(t time.Time) Timestamp { return Timestamp{t.UTC()} }

// ---------------------------------------------------------------------------
// Aggregate root base
// ---------------------------------------------------------------------------

// AggregateRoot is the base every identity-bearing structure in this module
// embeds: objects, subscriptions, mounts and types all carry one. It records
// domain events that occurred during a unit of work, to be dispatched by the
// observer layer after the operation that produced them commits.
type AggregateRoot struct {
	id     EntityID
	events []Event
}

// ID returns the aggregate's identity.
func (a *AggregateRoot) ID() EntityID { return a.id }

// SetID sets the aggregate's identity (used during reconstitution).
func (a *AggregateRoot) SetID(id EntityID) { a.id = id }

// RecordEvent appends a domain event to be dispatched after the producing
// operation commits.
func (a *AggregateRoot) RecordEvent(e Event) {
	a.events = append(a.events, e)
}

// PullEvents returns and clears all pending domain events.
func (a *AggregateRoot) PullEvents() []Event {
	events := a.events
	a.events = nil
	return events
}

// HasPendingEvents returns true if there are undispatched events.
func (a *AggregateRoot) HasPendingEvents() bool {
	return len(a.events) > 0
}
