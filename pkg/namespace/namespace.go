// Package namespace implements the namespace resolver: path parsing,
// declare/define/lookup/drop, and ownership over the hierarchical tree of
// pkg/object.Object headers.
package namespace

import (
	"github.com/arborstore/arbor/pkg/domain"
	"github.com/arborstore/arbor/pkg/errors"
	"github.com/arborstore/arbor/pkg/metamodel"
	"github.com/arborstore/arbor/pkg/object"
)

// NotifyFunc is how the namespace resolver reports lifecycle transitions to
// whatever observer table is wired in (pkg/observer, component E). Kept as
// a function value rather than an import so namespace has no dependency on
// the observer package — pkg/runtime wires the two together.
type NotifyFunc func(obj *object.Object, eventType domain.EventType, originator domain.EntityID)

// Namespace owns the tree rooted at Root and the declare/define/lookup/drop
// operations over it.
type Namespace struct {
	Root   *object.Object
	Notify NotifyFunc
}

// New creates a Namespace with a fresh anonymous root object. rootType
// should be a finalized Composite type standing in for the root's shape
// (commonly a type with no members beyond its scope).
func New(rootType *metamodel.Type) *Namespace {
	root := object.New(rootType, "")
	root.EnsureScope()
	// The root is implicitly valid and named "" from the moment it exists;
	// nothing ever looks it up by name, it is the base of every absolute
	// path.
	_ = root.TransitionDefine()
	return &Namespace{Root: root}
}

func (ns *Namespace) notify(obj *object.Object, eventType domain.EventType, originator domain.EntityID) {
	if ns.Notify != nil {
		ns.Notify(obj, eventType, originator)
	}
}

// resolveParent walks base (or ns.Root if base is nil and the path is absolute)
// to the parent scope path.Components[:len-1] names, returning that parent
// object and the final component name — the common prefix logic for
// Declare/Lookup/Drop. It does not create anything.
func (ns *Namespace) resolveParent(base *object.Object, p Path) (*object.Object, string, error) {
	start := base
	if p.Absolute || start == nil {
		start = ns.Root
	}
	if len(p.Components) == 0 {
		return start, "", nil
	}
	cur := start
	for _, comp := range p.Components[:len(p.Components)-1] {
		sc := cur.Scope()
		if sc == nil {
			return nil, "", errors.New(errors.NotFound, "namespace.go", 0, "path traverses a non-container object")
		}
		child, ok := sc.Get(comp)
		if !ok {
			return nil, "", errors.New(errors.NotFound, "namespace.go", 0, "no such scope component: "+comp)
		}
		cur = child
	}
	return cur, p.Components[len(p.Components)-1], nil
}

// Declare creates (or idempotently fetches) a named child of parent. Fails
// with TypeMismatch if the name already exists with a different type.
// Emits DECLARE only on actual creation.
func (ns *Namespace) Declare(parent *object.Object, name string, typ *metamodel.Type, owner domain.EntityID) (*object.Object, error) {
	if parent == nil {
		parent = ns.Root
	}
	if err := ValidateIdentifier(name); err != nil {
		return nil, err
	}
	sc := parent.EnsureScope()

	child, inserted := sc.InsertOrFetch(name, func() *object.Object {
		c := object.New(typ, owner)
		return c
	})

	if !inserted {
		// A nil requested type is a pure fetch; only a genuinely divergent
		// type is a mismatch.
		if typ != nil && child.Type() != nil && !typesEqual(child.Type(), typ) {
			return nil, errors.Newf(errors.TypeMismatch, "namespace.go", 0, "declare: existing child %q has a different type", name)
		}
		return child.Claim(), nil
	}

	child.ClaimWeak()
	object.Bind(child, parent, name)
	ns.notify(child, domain.EventDeclare, owner)
	return child, nil
}

func typesEqual(a, b *metamodel.Type) bool {
	if a == b {
		return true
	}
	if a == nil || b == nil {
		return false
	}
	return a.Name == b.Name && a.Kind == b.Kind
}

// Define runs the type's construct/validate delegates (via
// metamodel.Type.Effective) and transitions Declared -> Valid. On delegate
// failure the object remains Declared and the error is returned; define is
// idempotent on already-Valid objects.
func (ns *Namespace) Define(obj *object.Object, originator domain.EntityID) error {
	typ := obj.Type()
	if typ != nil {
		if err := typ.Finalize(); err != nil {
			return errors.Wrap(errors.Internal, "namespace.go", 0, err, "type finalize failed")
		}
		eff := typ.Effective
		if eff.Construct != nil {
			if _, err := eff.Construct(obj); err != nil {
				return errors.Wrap(errors.InvalidState, "namespace.go", 0, err, "construct delegate failed")
			}
		}
		if eff.Validate != nil {
			if _, err := eff.Validate(obj); err != nil {
				return errors.Wrap(errors.InvalidState, "namespace.go", 0, err, "validate delegate failed")
			}
		}
		if eff.Define != nil {
			if _, err := eff.Define(obj); err != nil {
				return errors.Wrap(errors.InvalidState, "namespace.go", 0, err, "define delegate failed")
			}
		}
	}
	if err := obj.TransitionDefine(); err != nil {
		return err
	}
	ns.notify(obj, domain.EventDefine, originator)
	return nil
}

// UpdateBegin marks the start of a writer mutation. It claims no lock
// beyond what the caller already holds on obj's own fields; it exists as a
// paired bracket so UpdateEnd/UpdateCancel have a well-defined begin point
// for tooling and tests.
func (ns *Namespace) UpdateBegin(obj *object.Object) {}

// UpdateEnd completes a writer mutation and emits UPDATE.
func (ns *Namespace) UpdateEnd(obj *object.Object, originator domain.EntityID) error {
	typ := obj.Type()
	if typ != nil {
		eff := typ.Effective
		if eff.Update != nil {
			if _, err := eff.Update(obj); err != nil {
				return errors.Wrap(errors.InvalidState, "namespace.go", 0, err, "update delegate failed")
			}
		}
	}
	ns.notify(obj, domain.EventUpdate, originator)
	return nil
}

// UpdateFrom is UpdateEnd with an explicit originator, used by mounts to
// suppress their own echo.
func (ns *Namespace) UpdateFrom(obj *object.Object, originator domain.EntityID) error {
	return ns.UpdateEnd(obj, originator)
}

// UpdateCancel rolls back an in-progress mutation without emitting
// anything. Callers restore fields themselves; this is the bracket's
// no-event exit.
func (ns *Namespace) UpdateCancel(obj *object.Object) {}

// Invalidate moves a valid object back to declared when a mount withdraws
// the data backing it, and reports the transition as a first-class event.
func (ns *Namespace) Invalidate(obj *object.Object, originator domain.EntityID) error {
	if err := obj.TransitionInvalidate(); err != nil {
		return err
	}
	ns.notify(obj, domain.EventInvalidate, originator)
	return nil
}

// NotifyResume reports a mount-driven materialisation of obj into the
// in-memory store.
func (ns *Namespace) NotifyResume(obj *object.Object, originator domain.EntityID) {
	ns.notify(obj, domain.EventResume, originator)
}

// Lookup resolves path relative to base (or ns.Root for an absolute path
// or a nil base) and returns a claimed reference, or a NotFound error.
func (ns *Namespace) Lookup(base *object.Object, rawPath string) (*object.Object, error) {
	p, err := ParsePath(rawPath)
	if err != nil {
		return nil, err
	}
	if len(p.Components) == 0 {
		start := base
		if p.Absolute || start == nil {
			start = ns.Root
		}
		return start.Claim(), nil
	}
	parent, name, err := ns.resolveParent(base, p)
	if err != nil {
		return nil, err
	}
	sc := parent.Scope()
	if sc == nil {
		return nil, errors.New(errors.NotFound, "namespace.go", 0, "parent has no scope")
	}
	child, ok := sc.Get(name)
	if !ok {
		return nil, errors.New(errors.NotFound, "namespace.go", 0, "no such object: "+rawPath)
	}
	return child.Claim(), nil
}

// Drop detaches scope (a named container object) from its parent and
// destructs all children. With recursive=true, children's own children are
// dropped transitively first.
func (ns *Namespace) Drop(scope *object.Object, recursive bool, originator domain.EntityID) error {
	sc := scope.Scope()
	if sc != nil {
		for _, child := range sc.Children() {
			if recursive {
				if err := ns.Drop(child, true, originator); err != nil {
					return err
				}
			}
			if err := ns.deleteOne(child, originator); err != nil {
				return err
			}
		}
	}
	parent := scope.Parent()
	if parent != nil {
		if psc := parent.Scope(); psc != nil {
			psc.Remove(scope.Name())
		}
	}
	return ns.deleteOne(scope, originator)
}

func (ns *Namespace) deleteOne(obj *object.Object, originator domain.EntityID) error {
	typ := obj.Type()
	if typ != nil {
		eff := typ.Effective
		if eff.Delete != nil {
			if _, err := eff.Delete(obj); err != nil {
				return errors.Wrap(errors.InvalidState, "namespace.go", 0, err, "delete delegate failed")
			}
		}
		if eff.Deinit != nil {
			_, _ = eff.Deinit(obj)
		}
	}
	if err := obj.TransitionDelete(); err != nil {
		return err
	}
	ns.notify(obj, domain.EventDelete, originator)
	return nil
}
