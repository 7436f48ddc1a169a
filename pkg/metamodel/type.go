package metamodel

import (
	"fmt"
	"sync"
)

// Type is a reflective descriptor: a tagged-variant record, not a class in
// a hierarchy. Composite and Collection fields are only meaningful for
// their respective Kind.
type Type struct {
	Name string
	Kind Kind

	// Composite fields.
	Base    *Type
	Members []Member
	Own     Delegates // delegates this type itself defines, pre-propagation

	// Collection fields.
	Element   *Type
	Container ContainerKind

	// Computed at Finalize().
	Effective Delegates
	Flags     DelegateFlags
	Size      uintptr
	Align     uintptr
	Keycache  []Member // members with ModKey, in declaration order

	mu       sync.Mutex
	final    bool
}

// NewPrimitive builds a finalized primitive type of the given native size.
func NewPrimitive(name string, size, align uintptr) *Type {
	t := &Type{Name: name, Kind: Primitive, Size: size, Align: align, final: true}
	return t
}

// NewComposite builds an un-finalized composite type; call Finalize before
// using it for layout-dependent operations (walker traversal, size checks).
func NewComposite(name string, base *Type, own Delegates, members ...Member) *Type {
	return &Type{Name: name, Kind: Composite, Base: base, Own: own, Members: members}
}

// NewCollection builds a finalized collection type over an element type.
func NewCollection(name string, container ContainerKind, element *Type) *Type {
	t := &Type{Name: name, Kind: Collection, Container: container, Element: element}
	t.Flags = elementFlags(element)
	if container == List || container == Map {
		t.Flags |= IsContainer
	}
	t.Size = referenceSize
	t.Align = referenceAlign
	t.final = true
	return t
}

// referenceSize/referenceAlign model the host's pointer-sized reference —
// collections are always stored as a header + external backing store.
const referenceSize = 8
const referenceAlign = 8

func elementFlags(el *Type) DelegateFlags {
	if el == nil {
		return 0
	}
	return el.Flags & (HasReferences | HasResources)
}

// Finalize computes member offsets, propagates delegates from base to
// derived, and resolves the cached has/needs/container flags. It is
// idempotent; calling it twice is a no-op.
func (t *Type) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.final {
		return nil
	}
	if t.Kind != Composite {
		t.final = true
		return nil
	}
	if t.Base != nil {
		if err := t.Base.Finalize(); err != nil {
			return err
		}
	}

	// Delegate pull: nearest base that defines a slot wins when this type
	// leaves it nil.
	eff := t.Own
	if t.Base != nil {
		eff = eff.merge(t.Base.Effective)
	}
	t.Effective = eff

	var flags DelegateFlags
	if eff.Init != nil {
		flags |= HasInit
	}
	if eff.Deinit != nil {
		flags |= HasDeinit
	}
	if eff.Construct != nil {
		flags |= HasConstruct
	}
	if eff.Destruct != nil {
		flags |= HasDestruct
	}

	// Layout: pack members after the base's size, honoring each member's
	// own alignment; secondary flags propagate up from member types.
	size := uintptr(0)
	align := uintptr(1)
	if t.Base != nil {
		size = t.Base.Size
		align = t.Base.Align
		flags |= t.Base.Flags & (HasReferences | HasResources | NeedsInit | IsContainer)
	}

	keys := make([]Member, 0, len(t.Members))
	for i := range t.Members {
		m := &t.Members[i]
		if m.Type == nil {
			return fmt.Errorf("metamodel: member %q of type %q has no type", m.Name, t.Name)
		}
		if m.Type.Kind == Composite {
			if err := m.Type.Finalize(); err != nil {
				return err
			}
		}
		if m.ID == 0 && m.Name != "" {
			m.ID = i + 1
		}
		malign := m.Type.Align
		if malign == 0 {
			malign = 1
		}
		size = alignUp(size, malign)
		m.Offset = size
		size += m.Type.Size
		if malign > align {
			align = malign
		}
		if m.Type.Flags.Has(HasReferences) {
			flags |= HasReferences
		}
		if m.Type.Flags.Has(HasResources) {
			flags |= HasResources
		}
		if m.Type.Flags.Has(HasInit) || m.Type.Flags.Has(HasConstruct) {
			flags |= NeedsInit
		}
		if m.Type.Kind == Collection {
			flags |= IsContainer
		}
		if m.Modifiers.Has(ModKey) {
			keys = append(keys, *m)
		}
	}
	size = alignUp(size, align)

	t.Size = size
	t.Align = align
	t.Flags = flags
	t.Keycache = keys
	t.final = true
	return nil
}

func alignUp(offset, align uintptr) uintptr {
	if align == 0 {
		return offset
	}
	rem := offset % align
	if rem == 0 {
		return offset
	}
	return offset + (align - rem)
}

// Assignable reports whether a value of type other may be stored where a
// value of type t is expected — the same descriptor (pointer identity), or
// any type derived from t (single-inheritance composite chain). Every type
// is assignable to a t of Kind Any.
func (t *Type) Assignable(other *Type) bool {
	for c := other; c != nil; c = c.Base {
		if c == t {
			return true
		}
	}
	return t.Kind == Any
}
