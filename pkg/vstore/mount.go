package vstore

import (
	"github.com/arborstore/arbor/pkg/domain"
)

// QueuePolicy bounds a mount's event queue. Max 0 means unbounded; when a
// bound is set, DropOldest selects eviction over blocking the producer.
type QueuePolicy struct {
	Max        int
	DropOldest bool
}

// MountPolicy configures how the dispatcher treats a mount.
type MountPolicy struct {
	// Ownership resolves write conflicts for objects this mount replicates:
	// RemoteSource rejects local writes, LocalSource accepts them without
	// forwarding, CacheOwner forwards to the remote.
	Ownership domain.Ownership
	// ContentType is the serialized representation the mount produces and
	// consumes. The dispatcher does not read it; byte-wise pass-through is
	// decided per subscription, when the subscription's content type equals
	// the event's (see Dispatcher.projectFor).
	ContentType string
	Queue       QueuePolicy
}

// Mount is an object that provides data for a subtree. Its From anchor
// places it in the namespace; queries scoped under that anchor are
// delegated to it when no concrete object is present, and may coexist with
// concrete objects. Mount invocations may block arbitrarily; the dispatcher
// holds no locks across them.
type Mount interface {
	ID() domain.EntityID
	Name() string
	From() string
	Policy() MountPolicy

	// OnQuery serves a select. The query's From and Expr are already
	// rewritten relative to the mount's anchor.
	OnQuery(q *Query) (Iter, error)

	// OnSubscribe/OnUnsubscribe tell the mount a subscriber overlapping its
	// scope came or went, so it can start or stop producing live events.
	OnSubscribe(q *Query) error
	OnUnsubscribe(q *Query) error

	// OnResume asks the mount to materialise one child so it can be resumed
	// into the in-memory store. Returns nil with no error when the mount
	// has no such object.
	OnResume(parent, name string) (*Result, error)

	// OnPublish forwards a publication (or a CacheOwner write) to the
	// mount's backing store. value is serialized in the mount's content
	// type when it matches the publisher's, otherwise in the publisher's.
	OnPublish(event domain.EventType, id string, value []byte, contentType string) error
}

// BaseMount carries the identity, anchor and policy shared by every mount
// implementation, with no-op defaults for the optional callbacks. Concrete
// mounts embed it and override what they serve.
type BaseMount struct {
	domain.AggregateRoot

	name   string
	from   string
	policy MountPolicy
}

// NewBaseMount creates the shared mount core with a fresh identity.
func NewBaseMount(name, from string, policy MountPolicy) BaseMount {
	b := BaseMount{name: name, from: canonical(from), policy: policy}
	b.SetID(domain.NewID())
	return b
}

func (b *BaseMount) Name() string        { return b.name }
func (b *BaseMount) From() string        { return b.from }
func (b *BaseMount) Policy() MountPolicy { return b.policy }

// OnQuery yields nothing; mounts that serve data override it.
func (b *BaseMount) OnQuery(q *Query) (Iter, error) {
	return NewSliceIter(nil, nil), nil
}

func (b *BaseMount) OnSubscribe(q *Query) error   { return nil }
func (b *BaseMount) OnUnsubscribe(q *Query) error { return nil }

func (b *BaseMount) OnResume(parent, name string) (*Result, error) { return nil, nil }

func (b *BaseMount) OnPublish(event domain.EventType, id string, value []byte, contentType string) error {
	return nil
}
