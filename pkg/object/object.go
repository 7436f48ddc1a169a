// Package object implements the object header and lifecycle state machine:
// reference-counted ownership, the {DECLARED, VALID, DELETED} state
// bitmask, parent/child links, and the per-scope child table with
// insertion-order iteration.
//
// Go has no manual free and no raw pointers into a movable heap, so the
// header is not laid out at a negative offset before a payload pointer —
// Object IS the header, and Payload is a field of it. Strong/weak counts
// are atomic so locking stays fine-grained, per object.
package object

import (
	"sync"
	"sync/atomic"

	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/errors"
	"github.com/arborstore/arbor/pkg/metamodel"
)

// State is the object lifecycle bitmask.
type State uint32

const (
	Declared State = 1 << iota
	Valid
	Deleted
)

func (s State) Has(f State) bool { return s&f != 0 }

func (s State) String() string {
	switch {
	case s.Has(Deleted):
		return "deleted"
	case s.Has(Valid):
		return "valid"
	case s.Has(Declared):
		return "declared"
	default:
		return "unknown"
	}
}

// Object is the header for every node in the tree. Unnamed (anonymous)
// objects have no parent and no scope entry; Result values returned by the
// dispatcher (pkg/vstore) are NOT Objects — they are read-only projections
// that may or may not be backed by one.
type Object struct {
	domain.AggregateRoot

	mu sync.RWMutex

	name   string
	typ    *metamodel.Type
	parent *Object
	owner  domain.EntityID
	attrs  metamodel.AttrMask
	state  State

	strong atomic.Int64
	weak   atomic.Int64

	// generation increments every time this name-slot is deleted and
	// potentially reused, so a stale Weak handle detects aliasing instead
	// of silently resolving to the slot's new occupant.
	generation uint64

	scope *Scope

	Payload interface{}
}

// Scope is the ordered mapping of a named object's children. One RWMutex
// guards one scope's table.
type Scope struct {
	mu       sync.RWMutex
	children map[string]*Object
	order    []string // insertion order, for stable iteration
	// gens counts removals per name, seeding the generation of the slot's
	// next occupant.
	gens map[string]uint64
}

func newScope() *Scope {
	return &Scope{children: make(map[string]*Object), gens: make(map[string]uint64)}
}

// New creates a detached, anonymous object of the given type in the
// Declared state with strong count 1 (the caller's own reference).
func New(typ *metamodel.Type, owner domain.EntityID) *Object {
	o := &Object{
		typ:   typ,
		owner: owner,
		state: Declared,
	}
	o.SetID(domain.NewID())
	o.strong.Store(1)
	if typ != nil && typ.Kind == metamodel.Composite && typ.Flags.Has(metamodel.IsContainer) {
		o.scope = newScope()
	}
	return o
}

// EnsureScope lazily attaches a child scope table to objects that serve as
// namespace containers (declared via pkg/namespace, which always wants one
// regardless of the object's static type).
func (o *Object) EnsureScope() *Scope {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.scope == nil {
		o.scope = newScope()
	}
	return o.scope
}

func (o *Object) Name() string   { o.mu.RLock(); defer o.mu.RUnlock(); return o.name }
func (o *Object) Type() *metamodel.Type { o.mu.RLock(); defer o.mu.RUnlock(); return o.typ }
func (o *Object) Parent() *Object { o.mu.RLock(); defer o.mu.RUnlock(); return o.parent }
func (o *Object) Owner() domain.EntityID { o.mu.RLock(); defer o.mu.RUnlock(); return o.owner }
func (o *Object) Attrs() metamodel.AttrMask { o.mu.RLock(); defer o.mu.RUnlock(); return o.attrs }
func (o *Object) State() State { o.mu.RLock(); defer o.mu.RUnlock(); return o.state }
func (o *Object) Generation() uint64 { o.mu.RLock(); defer o.mu.RUnlock(); return o.generation }
func (o *Object) Scope() *Scope { o.mu.RLock(); defer o.mu.RUnlock(); return o.scope }

// setParent is called once by pkg/namespace when inserting a named child
// into its parent's scope. A named object has exactly one parent at any
// time.
func (o *Object) setParent(parent *Object, name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.parent = parent
	o.name = name
	o.attrs |= metamodel.AttrNamed
}

// Bind attaches child to parent's scope under name. It is exported solely
// for pkg/namespace, the only caller allowed to place an object into the
// tree; every other package treats parent/name as read-only.
func Bind(child, parent *Object, name string) {
	child.setParent(parent, name)
}

// SetOwner tags the object with the originator identity that declared it,
// which mounts use to suppress their own echoes.
func (o *Object) SetOwner(owner domain.EntityID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owner = owner
}

// SetAttrs overwrites the attribute mask.
func (o *Object) SetAttrs(a metamodel.AttrMask) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attrs = a
}

// ---------------------------------------------------------------------------
// Lifecycle transitions
// ---------------------------------------------------------------------------

// TransitionDefine moves Declared -> Valid. Idempotent if already Valid.
func (o *Object) TransitionDefine() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Has(Deleted) {
		return errors.New(errors.InvalidState, "object.go", 0, "define on deleted object")
	}
	if o.state.Has(Valid) {
		return nil
	}
	if !o.state.Has(Declared) {
		return errors.New(errors.InvalidState, "object.go", 0, "define requires declared state")
	}
	o.state |= Valid
	return nil
}

// TransitionInvalidate moves Valid -> Declared, used by the virtual store
// when a mount withdraws data. The header is retained and strong
// references are not dropped: an invalidation is a first-class event,
// never a synthetic delete and re-define.
func (o *Object) TransitionInvalidate() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Has(Deleted) {
		return errors.New(errors.InvalidState, "object.go", 0, "invalidate on deleted object")
	}
	o.state &^= Valid
	o.state |= Declared
	return nil
}

// TransitionDelete moves Declared or Valid -> Deleted. Terminal: once set,
// no field may be dereferenced except to drop remaining references.
func (o *Object) TransitionDelete() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.Has(Deleted) {
		return nil
	}
	o.state = Deleted
	o.generation++
	return nil
}

// ---------------------------------------------------------------------------
// Reference counting
// ---------------------------------------------------------------------------

// Claim increments the strong count and returns o for chaining.
func (o *Object) Claim() *Object {
	o.strong.Add(1)
	return o
}

// Release decrements the strong count. If it reaches zero the caller is
// responsible for running destruct and transitioning to Deleted (normally
// done by pkg/namespace.Drop, which also detaches the object from its
// parent's scope). Returns true if this was the last reference.
func (o *Object) Release() bool {
	return o.strong.Add(-1) == 0
}

// StrongCount returns the current strong reference count.
func (o *Object) StrongCount() int64 { return o.strong.Load() }

// ClaimWeak increments the weak/observer reference count.
func (o *Object) ClaimWeak() { o.weak.Add(1) }

// ReleaseWeak decrements the weak/observer reference count.
func (o *Object) ReleaseWeak() { o.weak.Add(-1) }

// WeakCount returns the current weak reference count.
func (o *Object) WeakCount() int64 { return o.weak.Load() }

// Weak is a non-owning handle: (generation, name, parent-scope), not a raw
// pointer — Go's GC would keep the target alive through a stored pointer.
// Dereferencing looks the child back up by name in the parent scope and
// compares generation.
type Weak struct {
	parent     *Object
	name       string
	generation uint64
}

// WeakFrom captures a Weak handle to a named child of parent.
func WeakFrom(parent *Object, name string, generation uint64) Weak {
	return Weak{parent: parent, name: name, generation: generation}
}

// Deref resolves the weak handle, failing with InvalidState (DELETED) if
// the slot's generation has advanced past the handle's — i.e. the name was
// deleted and possibly reused since the handle was captured.
func (w Weak) Deref() (*Object, error) {
	if w.parent == nil {
		return nil, errors.New(errors.NotFound, "object.go", 0, "weak handle has no parent scope")
	}
	sc := w.parent.Scope()
	if sc == nil {
		return nil, errors.New(errors.NotFound, "object.go", 0, "parent has no scope")
	}
	sc.mu.RLock()
	child, ok := sc.children[w.name]
	sc.mu.RUnlock()
	if !ok {
		return nil, errors.New(errors.InvalidState, "object.go", 0, "weak target deleted")
	}
	if child.Generation() != w.generation {
		return nil, errors.New(errors.InvalidState, "object.go", 0, "weak target generation mismatch")
	}
	return child, nil
}
