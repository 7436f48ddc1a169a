// Package observer implements the per-object subscription table and event
// delivery protocol: event/scope-masked observers, pluggable dispatch
// (synchronous or worker-pool), and self-notification suppression by
// originator identity.
package observer

import (
	"sync"
	"sync/atomic"

	"github.com/arborstore/arbor/pkg/domain"
)

// EventMask selects which lifecycle events an Observer cares about.
type EventMask uint32

const (
	OnDeclare EventMask = 1 << iota
	OnDefine
	OnUpdate
	OnDelete
	OnInvalidate
	OnResume
	OnSuspend
)

// Has reports whether mask includes f.
func (m EventMask) Has(f EventMask) bool { return m&f != 0 }

// EventMaskFor maps a domain.EventType to its EventMask bit, or 0 if the
// type isn't one of the object lifecycle events this table routes.
func EventMaskFor(t domain.EventType) EventMask {
	switch t {
	case domain.EventDeclare:
		return OnDeclare
	case domain.EventDefine:
		return OnDefine
	case domain.EventUpdate:
		return OnUpdate
	case domain.EventDelete:
		return OnDelete
	case domain.EventInvalidate:
		return OnInvalidate
	case domain.EventResume:
		return OnResume
	case domain.EventSuspend:
		return OnSuspend
	default:
		return 0
	}
}

// ScopeMask selects the relationship between the observed object and the
// object that changed.
type ScopeMask uint32

const (
	OnSelf ScopeMask = 1 << iota
	OnScope
	OnTree
	OnValue
	OnMetavalue
	OnAny
)

func (m ScopeMask) Has(f ScopeMask) bool { return m&f != 0 }

// Dispatcher runs an observer's callback, either synchronously or deferred
// to a worker.
type Dispatcher interface {
	Dispatch(fn func())
}

// SyncDispatcher runs the handler on the producer's goroutine, the
// default.
type SyncDispatcher struct{}

func (SyncDispatcher) Dispatch(fn func()) { fn() }

// QueueDropPolicy selects what happens when a WorkerDispatcher's queue is
// full.
type QueueDropPolicy int

const (
	DropOldest QueueDropPolicy = iota
	Block
)

// WorkerDispatcher runs handlers on a small fixed pool of goroutines
// draining a bounded channel, evicting the oldest queued handler or
// blocking the producer when the queue fills, per policy.
type WorkerDispatcher struct {
	queue   chan func()
	policy  QueueDropPolicy
	closeCh chan struct{}
	once    sync.Once
}

// NewWorkerDispatcher starts workers goroutines draining a queue of
// capacity size, applying policy when the queue is full.
func NewWorkerDispatcher(workers, size int, policy QueueDropPolicy) *WorkerDispatcher {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	d := &WorkerDispatcher{
		queue:   make(chan func(), size),
		policy:  policy,
		closeCh: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		go d.run()
	}
	return d
}

func (d *WorkerDispatcher) run() {
	for {
		select {
		case fn := <-d.queue:
			fn()
		case <-d.closeCh:
			return
		}
	}
}

// Dispatch enqueues fn, applying the configured drop/block policy when
// full.
func (d *WorkerDispatcher) Dispatch(fn func()) {
	if d.policy == Block {
		select {
		case d.queue <- fn:
		case <-d.closeCh:
		}
		return
	}
	select {
	case d.queue <- fn:
	default:
		select {
		case <-d.queue:
		default:
		}
		select {
		case d.queue <- fn:
		default:
		}
	}
}

// Close stops all workers. Queued-but-undispatched handlers are dropped.
func (d *WorkerDispatcher) Close() {
	d.once.Do(func() { close(d.closeCh) })
}

// Observer is a registered (observer, instance) subscription on one
// object's event stream.
type Observer struct {
	Instance   domain.EntityID // the identity the observer is watching on behalf of
	Events     EventMask
	Scope      ScopeMask
	Dispatcher Dispatcher // nil means synchronous delivery
	Callback   func(domain.Event)
	deleted    atomic.Bool
}

// Delete marks the observer dead; in-flight events in a dispatcher queue
// check this before invoking.
func (o *Observer) Delete() { o.deleted.Store(true) }

func (o *Observer) isDeleted() bool { return o.deleted.Load() }

type observerList struct {
	mu   sync.RWMutex
	subs []*Observer
}

// Table is the store-wide collection of per-object observer lists, keyed
// by the observed object's EntityID.
type Table struct {
	mu       sync.RWMutex
	byObject map[domain.EntityID]*observerList
}

// NewTable creates an empty observer table.
func NewTable() *Table {
	return &Table{byObject: make(map[domain.EntityID]*observerList)}
}

func (t *Table) listFor(id domain.EntityID, create bool) *observerList {
	t.mu.RLock()
	l, ok := t.byObject[id]
	t.mu.RUnlock()
	if ok || !create {
		return l
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if l, ok = t.byObject[id]; ok {
		return l
	}
	l = &observerList{}
	t.byObject[id] = l
	return l
}

// Subscribe registers obs on objectID's observer list.
func (t *Table) Subscribe(objectID domain.EntityID, obs *Observer) {
	l := t.listFor(objectID, true)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.subs = append(l.subs, obs)
}

// Silence removes obs from objectID's observer list.
func (t *Table) Silence(objectID domain.EntityID, obs *Observer) {
	obs.Delete()
	l := t.listFor(objectID, false)
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, s := range l.subs {
		if s == obs {
			l.subs = append(l.subs[:i], l.subs[i+1:]...)
			break
		}
	}
}

// Notify implements the delivery protocol: snapshot the
// observer list under a read lock, then deliver without holding it.
// Self-notification is suppressed when originator equals the observer's
// Instance.
func (t *Table) Notify(objectID domain.EntityID, event domain.Event, scope ScopeMask) {
	l := t.listFor(objectID, false)
	if l == nil {
		return
	}
	mask := EventMaskFor(event.EventType())

	l.mu.RLock()
	snapshot := make([]*Observer, len(l.subs))
	copy(snapshot, l.subs)
	l.mu.RUnlock()

	for _, obs := range snapshot {
		if obs.isDeleted() {
			continue
		}
		if !obs.Events.Has(mask) {
			continue
		}
		if obs.Scope != 0 && scope != 0 && !obs.Scope.Has(scope) && !obs.Scope.Has(OnAny) {
			continue
		}
		if obs.Instance != "" && event.Originator() != "" && obs.Instance == event.Originator() {
			continue // self-notification
		}
		obs := obs
		deliver := func() {
			if obs.isDeleted() {
				return
			}
			if obs.Callback != nil {
				obs.Callback(event)
			}
		}
		if obs.Dispatcher != nil {
			obs.Dispatcher.Dispatch(deliver)
		} else {
			deliver()
		}
	}
}

// Count returns the number of live observers registered on objectID, for
// diagnostics and tests.
func (t *Table) Count(objectID domain.EntityID) int {
	l := t.listFor(objectID, false)
	if l == nil {
		return 0
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, s := range l.subs {
		if !s.isDeleted() {
			n++
		}
	}
	return n
}
