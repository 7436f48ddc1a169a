package vstore

import (
	"sync"
	"sync/atomic"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/observer"
)

// Event is what a subscriber receives: the lifecycle transition plus a
// projection of the object it happened to.
type Event struct {
	Type       domain.EventType
	Result     Result
	Originator domain.EntityID
}

// Subscription is a registered (query, instance, dispatcher, callback)
// tuple. Events matching the query are delivered through the dispatcher
// when one is set, otherwise synchronously on the producer's goroutine.
type Subscription struct {
	domain.AggregateRoot

	Query       Query
	Instance    domain.EntityID
	Dispatcher  observer.Dispatcher
	Callback    func(Event)
	ContentType string

	enabled atomic.Bool
	deleted atomic.Bool

	// alignMu serialises alignment against live delivery: while aligning
	// (or while disabled), live events are held in alignQueue and replayed
	// in arrival order once alignment completes (or the subscription is
	// enabled).
	alignMu    sync.Mutex
	aligning   bool
	alignQueue []Event
}

// Enabled reports whether the subscription currently delivers events.
func (s *Subscription) Enabled() bool { return s.enabled.Load() }

// Disable holds future events in the align queue instead of delivering.
func (s *Subscription) Disable() { s.enabled.Store(false) }

// Enable resumes delivery, first replaying every event held while the
// subscription was disabled, in arrival order.
func (s *Subscription) Enable() {
	s.alignMu.Lock()
	queued := s.alignQueue
	s.alignQueue = nil
	s.enabled.Store(true)
	s.alignMu.Unlock()
	for _, e := range queued {
		s.dispatch(e)
	}
}

// Delete marks the subscription dead. In-flight events still in a
// dispatcher queue check this before invoking the callback.
func (s *Subscription) Delete() { s.deleted.Store(true) }

// Deleted reports whether the subscription was cancelled.
func (s *Subscription) Deleted() bool { return s.deleted.Load() }

// deliver routes one event, honoring the deleted bit, the enabled flag and
// any in-progress alignment.
func (s *Subscription) deliver(e Event) {
	if s.Deleted() {
		return
	}
	if s.Instance != "" && e.Originator != "" && s.Instance == e.Originator {
		return
	}
	s.alignMu.Lock()
	if s.aligning || !s.enabled.Load() {
		s.alignQueue = append(s.alignQueue, e)
		s.alignMu.Unlock()
		return
	}
	s.alignMu.Unlock()
	s.dispatch(e)
}

func (s *Subscription) dispatch(e Event) {
	run := func() {
		if s.Deleted() {
			return
		}
		if s.Callback != nil {
			s.Callback(e)
		}
	}
	if s.Dispatcher != nil {
		s.Dispatcher.Dispatch(run)
		return
	}
	run()
}

// beginAlign enters alignment mode: live events queue until endAlign.
func (s *Subscription) beginAlign() {
	s.alignMu.Lock()
	s.aligning = true
	s.alignMu.Unlock()
}

// alignDeliver delivers one synthetic event directly, bypassing the queue —
// used for the synthetic DEFINEs produced by the alignment select.
func (s *Subscription) alignDeliver(e Event) {
	if s.Deleted() {
		return
	}
	s.dispatch(e)
}

// endAlign leaves alignment mode and replays the events that arrived while
// it ran, in arrival order.
func (s *Subscription) endAlign() {
	s.alignMu.Lock()
	s.aligning = false
	queued := s.alignQueue
	s.alignQueue = nil
	enabled := s.enabled.Load()
	if !enabled {
		// Still disabled: keep holding what arrived, Enable replays it.
		s.alignQueue = queued
		s.alignMu.Unlock()
		return
	}
	s.alignMu.Unlock()
	for _, e := range queued {
		s.dispatch(e)
	}
}

// matches reports whether an object id (absolute path) and type name fall
// inside this subscription's query.
func (s *Subscription) matches(absID, typeName string, current string) bool {
	from := s.Query.AbsoluteFrom(current)
	if !isUnder(absID, from) {
		return false
	}
	rel := relativeTo(absID, from)
	if !MatchPattern(s.Query.Expr, rel) {
		return false
	}
	if s.Query.Type != "" && typeName != s.Query.Type {
		return false
	}
	return true
}
