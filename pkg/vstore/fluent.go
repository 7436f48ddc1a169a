package vstore

import (
	"time"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/errors"
	"github.com/arborstore/arbor/pkg/object"
	"github.com/arborstore/arbor/pkg/observer"
)

// SelectBuilder accumulates a query and terminates in Iter, IterObjects,
// Resume or Count. The builder is a value; terminal methods consume it.
type SelectBuilder struct {
	d *Dispatcher
	q Query
}

// Select starts a query whose expression is matched against child ids.
func (d *Dispatcher) Select(expr string) *SelectBuilder {
	return &SelectBuilder{d: d, q: Query{Expr: expr, From: "/"}}
}

// From scopes the expression to a namespace path.
func (b *SelectBuilder) From(scope string) *SelectBuilder { b.q.From = scope; return b }

// ContentType requests serialized results in the given MIME type.
func (b *SelectBuilder) ContentType(ct string) *SelectBuilder { b.q.ContentType = ct; return b }

// Offset skips the first n results of the composed stream.
func (b *SelectBuilder) Offset(n int) *SelectBuilder { b.q.Offset = n; return b }

// Limit caps the composed stream at n results.
func (b *SelectBuilder) Limit(n int) *SelectBuilder { b.q.Limit = n; return b }

// Type keeps only results of the named type.
func (b *SelectBuilder) Type(name string) *SelectBuilder { b.q.Type = name; return b }

// Instanceof keeps only results whose type name equals name exactly; results
// of types derived from it are not matched.
func (b *SelectBuilder) Instanceof(name string) *SelectBuilder { b.q.Instanceof = name; return b }

// Instance identifies the caller so its own mount is skipped during
// routing — used by mounts issuing queries to avoid answering themselves.
func (b *SelectBuilder) Instance(id domain.EntityID) *SelectBuilder { b.q.Instance = id; return b }

// Mount restricts routing to a single mount.
func (b *SelectBuilder) Mount(id domain.EntityID) *SelectBuilder { b.q.MountID = id; return b }

// FromNow anchors the history window at the present.
func (b *SelectBuilder) FromNow() *SelectBuilder { b.q.History.FromNow = true; return b }

// FromTime anchors the history window at t.
func (b *SelectBuilder) FromTime(t time.Time) *SelectBuilder { b.q.History.FromTime = t; return b }

// ToNow closes the history window at the present.
func (b *SelectBuilder) ToNow() *SelectBuilder { b.q.History.ToNow = true; return b }

// ToTime closes the history window at t.
func (b *SelectBuilder) ToTime(t time.Time) *SelectBuilder { b.q.History.ToTime = t; return b }

// ForDuration sizes the history window relative to its anchor.
func (b *SelectBuilder) ForDuration(dur time.Duration) *SelectBuilder {
	b.q.History.ForDuration = dur
	return b
}

// SLimit caps the number of history samples per result.
func (b *SelectBuilder) SLimit(n int) *SelectBuilder { b.q.History.SLimit = n; return b }

// SOffset skips the first n history samples per result.
func (b *SelectBuilder) SOffset(n int) *SelectBuilder { b.q.History.SOffset = n; return b }

// YieldUnknown lets unknown placeholder results coexist with concrete ones.
func (b *SelectBuilder) YieldUnknown() *SelectBuilder { b.q.YieldUnknown = true; return b }

// Iter runs the query and returns the lazy composed result iterator. The
// caller must Release it on every exit path.
func (b *SelectBuilder) Iter() (Iter, error) {
	return b.d.execSelect(&b.q)
}

// Count exhausts the query and returns the number of results.
func (b *SelectBuilder) Count() (int, error) {
	it, err := b.d.execSelect(&b.q)
	if err != nil {
		return 0, err
	}
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}

// IterObjects runs the query and yields lazy anonymous objects built from
// each result, never inserted into the store.
func (b *SelectBuilder) IterObjects() (*ObjectIter, error) {
	it, err := b.d.execSelect(&b.q)
	if err != nil {
		return nil, err
	}
	return &ObjectIter{inner: it}, nil
}

// Resume materialises every matching result into the in-memory store,
// declaring and defining objects with the producing mount as owner.
func (b *SelectBuilder) Resume() error {
	it, err := b.d.execSelect(&b.q)
	if err != nil {
		return err
	}
	defer it.Release()

	ns := b.d.ns
	absFrom := b.q.AbsoluteFrom("/")
	for it.Next() {
		r := it.Result()
		if r.Unknown {
			continue
		}
		// Intermediate scopes a mount invented have to exist locally before
		// the leaf can.
		parent, err := b.d.ensureScope(joinPath(absFrom, parentOf(r.ID)), r.Owner)
		if err != nil {
			return err
		}
		obj, err := ns.Declare(parent, r.Name, typeByName(r.Type), r.Owner)
		parent.Release()
		if err != nil {
			return err
		}
		obj.Payload = r.Value
		if err := ns.Define(obj, r.Owner); err != nil {
			obj.Release()
			return err
		}
		ns.NotifyResume(obj, r.Owner)
		obj.Release()
	}
	return it.Err()
}

func parentOf(rel string) string {
	for i := len(rel) - 1; i >= 0; i-- {
		if rel[i] == '/' {
			return rel[:i]
		}
	}
	return ""
}

// ObjectIter adapts a result stream to lazy anonymous objects.
type ObjectIter struct {
	inner Iter
	cur   *object.Object
}

// Next advances to the next anonymous object.
func (o *ObjectIter) Next() bool {
	if !o.inner.Next() {
		return false
	}
	r := o.inner.Result()
	obj := object.New(typeByName(r.Type), r.Owner)
	obj.Payload = r.Value
	_ = obj.TransitionDefine()
	o.cur = obj
	return true
}

// Object returns the current anonymous object.
func (o *ObjectIter) Object() *object.Object { return o.cur }

// Err surfaces any iteration failure.
func (o *ObjectIter) Err() error { return o.inner.Err() }

// Release frees the underlying result stream.
func (o *ObjectIter) Release() { o.inner.Release() }

// ---------------------------------------------------------------------------

// SubscribeBuilder accumulates a subscription and terminates in Callback.
type SubscribeBuilder struct {
	d        *Dispatcher
	q        Query
	instance domain.EntityID
	disp     observer.Dispatcher
	ct       string
	disabled bool
}

// Subscribe starts a subscription whose expression is matched against
// object ids as their lifecycle transitions commit.
func (d *Dispatcher) Subscribe(expr string) *SubscribeBuilder {
	return &SubscribeBuilder{d: d, q: Query{Expr: expr, From: "/"}}
}

// From scopes the subscription to a namespace path.
func (b *SubscribeBuilder) From(scope string) *SubscribeBuilder { b.q.From = scope; return b }

// Type keeps only events for objects of the named type.
func (b *SubscribeBuilder) Type(name string) *SubscribeBuilder { b.q.Type = name; return b }

// ContentType requests event values serialized in the given MIME type.
func (b *SubscribeBuilder) ContentType(ct string) *SubscribeBuilder { b.ct = ct; return b }

// Instance identifies the subscriber for loopback suppression: events it
// originated are not echoed back to it.
func (b *SubscribeBuilder) Instance(id domain.EntityID) *SubscribeBuilder { b.instance = id; return b }

// Dispatcher defers callback invocation to disp instead of running it on
// the producer's goroutine.
func (b *SubscribeBuilder) Dispatcher(disp observer.Dispatcher) *SubscribeBuilder {
	b.disp = disp
	return b
}

// Disabled creates the subscription without delivering; events are held in
// arrival order until Enable.
func (b *SubscribeBuilder) Disabled() *SubscribeBuilder { b.disabled = true; return b }

// Callback terminates the builder: the subscription is registered, aligned
// against the current store state (unless disabled), and returned.
func (b *SubscribeBuilder) Callback(fn func(Event)) (*Subscription, error) {
	if fn == nil {
		return nil, errors.New(errors.InvalidArgument, "fluent.go", 0, "nil subscription callback")
	}
	s := &Subscription{
		Query:       b.q,
		Instance:    b.instance,
		Dispatcher:  b.disp,
		Callback:    fn,
		ContentType: b.ct,
	}
	s.SetID(domain.NewID())
	s.enabled.Store(!b.disabled)
	if err := b.d.register(s); err != nil {
		return nil, err
	}
	return s, nil
}

// ---------------------------------------------------------------------------

// PublishBuilder accumulates a publication and terminates in Do.
type PublishBuilder struct {
	d          *Dispatcher
	event      domain.EventType
	id         string
	typeName   string
	ct         string
	value      []byte
	originator domain.EntityID
}

// Publish starts a publication of event for the object id.
func (d *Dispatcher) Publish(event domain.EventType, id string) *PublishBuilder {
	return &PublishBuilder{d: d, event: event, id: id}
}

// Type declares the published value's type name.
func (b *PublishBuilder) Type(name string) *PublishBuilder { b.typeName = name; return b }

// ContentType declares the serialization of Value.
func (b *PublishBuilder) ContentType(ct string) *PublishBuilder { b.ct = ct; return b }

// Value attaches the serialized payload.
func (b *PublishBuilder) Value(data []byte) *PublishBuilder { b.value = data; return b }

// Instance tags the publication with its originator for loopback
// suppression.
func (b *PublishBuilder) Instance(id domain.EntityID) *PublishBuilder { b.originator = id; return b }

// Do performs the publication.
func (b *PublishBuilder) Do() error {
	return b.d.publish(b.event, b.id, b.typeName, b.ct, b.value, b.originator)
}
