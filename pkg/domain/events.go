package domain

import "time"

// ---------------------------------------------------------------------------
// Domain event system — the backbone of store-wide notification
// ---------------------------------------------------------------------------

// EventType classifies domain events for routing and filtering.
type EventType string

// Object lifecycle events.
const (
	EventDeclare    EventType = "object.declare"
	EventDefine     EventType = "object.define"
	EventUpdate     EventType = "object.update"
	EventDelete     EventType = "object.delete"
	EventInvalidate EventType = "object.invalidate"
	EventResume     EventType = "object.resume"
	EventSuspend    EventType = "object.suspend"
)

// Subscription lifecycle events.
const (
	EventSubscriptionCreated     EventType = "subscription.created"
	EventSubscriptionAligned     EventType = "subscription.aligned"
	EventSubscriptionUnsubscribed EventType = "subscription.unsubscribed"
)

// Mount lifecycle events — a mount is the virtual-store analogue of a
// channel connection: it attaches, serves queries, and may fail.
const (
	EventMountAttached    EventType = "mount.attached"
	EventMountDetached    EventType = "mount.detached"
	EventMountError       EventType = "mount.error"
	EventMountQuery       EventType = "mount.query"
	EventMountPublish     EventType = "mount.publish"
)

// System-level events.
const (
	EventSystemStartup     EventType = "system.startup"
	EventSystemShutdown    EventType = "system.shutdown"
	EventSystemHealthCheck EventType = "system.health"
)

// Event is the interface all domain events implement.
type Event interface {
	// EventType returns the classified event type.
	EventType() EventType
	// OccurredAt returns when the event happened.
	OccurredAt() time.Time
	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() EntityID
	// Payload returns the event-specific data.
	Payload() interface{}
	// Originator returns the TLS-held owner identity that produced the
	// event, used for loopback suppression.
	Originator() EntityID
}

// BaseEvent provides a reusable implementation of the Event interface.
type BaseEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	AggID     EntityID    `json:"aggregate_id"`
	Owner     EntityID    `json:"originator,omitempty"`
	EventData interface{} `json:"data,omitempty"`
}

func (e BaseEvent) EventType() EventType  { return e.Type }
func (e BaseEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BaseEvent) AggregateID() EntityID { return e.AggID }
func (e BaseEvent) Payload() interface{}  { return e.EventData }
func (e BaseEvent) Originator() EntityID  { return e.Owner }

// NewEvent creates a new domain event with no originator set.
func NewEvent(eventType EventType, aggregateID EntityID, data interface{}) BaseEvent {
	return BaseEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		AggID:     aggregateID,
		EventData: data,
	}
}

// NewEventFrom creates a domain event tagged with the originator identity,
// used by update_from so mounts can suppress their own echoes.
func NewEventFrom(eventType EventType, aggregateID, originator EntityID, data interface{}) BaseEvent {
	e := NewEvent(eventType, aggregateID, data)
	e.Owner = originator
	return e
}
