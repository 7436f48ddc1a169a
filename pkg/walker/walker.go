// Package walker implements the generic structural traversal engine: a
// traversal over a typed value, dispatching per metamodel.Kind to a
// user-supplied callback table rather than virtual methods on a type
// hierarchy. The walker is data, not a class hierarchy.
package walker

import (
	"container/list"
	"fmt"

	"github.com/arborstore/arbor/pkg/errors"
	"github.com/arborstore/arbor/pkg/metamodel"
	"github.com/google/btree"
)

// Position is the structural role of the value currently being visited.
type Position int

const (
	PosObject Position = iota
	PosBase
	PosMember
	PosElement
	PosMem // a map entry's value, distinct from a list/array Element
)

// Value is the node passed to callbacks: its address (the Go value itself,
// addressed via a pointer when mutation is needed), its static type, its
// parent in the traversal, and its structural kind.
type Value struct {
	Addr   interface{}
	Type   *metamodel.Type
	Parent *Value
	Pos    Position
	Member *metamodel.Member // set when Pos == PosMember
}

// KindCallback handles one metamodel.Kind during the walk.
type KindCallback func(v *Value) error

// PositionCallback handles one structural Position during the walk,
// invoked in addition to the Kind callback.
type PositionCallback func(v *Value) error

// KeyAction selects which composite members the walker visits by role.
type KeyAction int

const (
	KeyActionAll KeyAction = iota
	KeyActionKeysOnly
	KeyActionDataOnly
)

// OptionalAction controls how OPTIONAL members are visited.
type OptionalAction int

const (
	OptionalOnlyIfSet OptionalAction = iota
	OptionalAlways
	OptionalPassThroughAddress
)

// Policy bundles the walker's configurable behaviors.
type Policy struct {
	// AccessMask + AccessOp select which members are visited by modifier.
	AccessMask metamodel.Modifier
	AccessOp   AccessOp
	KeyAction  KeyAction
	Optional   OptionalAction
	// FollowAlias is carried in the policy but the walker does not read it:
	// aliased (Any-kind) values are always dispatched as opaque leaves and
	// are never followed into their dynamic type.
	FollowAlias bool
}

// AccessOp combines Policy.AccessMask against a member's modifiers.
type AccessOp int

const (
	AccessAnd AccessOp = iota
	AccessOr
	AccessXor
	AccessNot
)

func (op AccessOp) matches(mask, modifiers metamodel.Modifier) bool {
	if mask == 0 {
		return true
	}
	switch op {
	case AccessAnd:
		return modifiers&mask == mask
	case AccessOr:
		return modifiers&mask != 0
	case AccessXor:
		return (modifiers & mask) != 0 && (modifiers&mask) != mask
	case AccessNot:
		return modifiers&mask == 0
	default:
		return true
	}
}

// Walker drives a traversal over a Value, dispatching per metamodel.Kind
// and Position to caller-supplied callbacks. Errors from any callback abort
// the walk and are surfaced to the caller.
type Walker struct {
	Policy Policy
	OnKind map[metamodel.Kind]KindCallback
	OnPos  map[Position]PositionCallback
}

// New creates a Walker with the given policy and empty callback tables;
// callers populate OnKind/OnPos for the kinds/positions they care about.
func New(policy Policy) *Walker {
	return &Walker{
		Policy: policy,
		OnKind: make(map[metamodel.Kind]KindCallback),
		OnPos:  make(map[Position]PositionCallback),
	}
}

func (w *Walker) dispatch(v *Value) error {
	if cb, ok := w.OnPos[v.Pos]; ok {
		if err := cb(v); err != nil {
			return err
		}
	}
	if cb, ok := w.OnKind[v.Type.Kind]; ok {
		if err := cb(v); err != nil {
			return err
		}
	}
	return nil
}

// Walk traverses addr (a value of static type typ) depth-first. acc is
// the Accessor used to read the base and individual member values off addr
// for composites, and the elements of collections — see Accessor below.
func (w *Walker) Walk(addr interface{}, typ *metamodel.Type, acc Accessor) error {
	root := &Value{Addr: addr, Type: typ, Pos: PosObject}
	return w.walkValue(root, acc)
}

func (w *Walker) walkValue(v *Value, acc Accessor) error {
	if v.Type == nil {
		return errors.New(errors.InvalidArgument, "walker.go", 0, "nil type during walk")
	}
	if err := v.Type.Finalize(); err != nil {
		return errors.Wrap(errors.Internal, "walker.go", 0, err, "finalize during walk")
	}

	switch v.Type.Kind {
	case metamodel.Void:
		return w.dispatch(v)
	case metamodel.Primitive, metamodel.Any:
		return w.dispatch(v)
	case metamodel.Composite:
		return w.walkComposite(v, acc)
	case metamodel.Collection:
		return w.walkCollection(v, acc)
	case metamodel.Iterator:
		return w.dispatch(v)
	default:
		return errors.Newf(errors.Internal, "walker.go", 0, "unknown kind %v", v.Type.Kind)
	}
}

func (w *Walker) walkComposite(v *Value, acc Accessor) error {
	if err := w.dispatch(v); err != nil {
		return err
	}

	if v.Type.Base != nil {
		baseAddr := acc.Base(v.Addr, v.Type)
		baseVal := &Value{Addr: baseAddr, Type: v.Type.Base, Parent: v, Pos: PosBase}
		if err := w.walkValue(baseVal, acc); err != nil {
			return err
		}
	}

	snap := make(map[string]interface{}, len(v.Type.Members))
	for i := range v.Type.Members {
		m := &v.Type.Members[i]
		val := acc.Member(v.Addr, m)
		snap[m.Name] = val
	}

	for i := range v.Type.Members {
		m := &v.Type.Members[i]
		if !w.Policy.AccessOp.matches(w.Policy.AccessMask, m.Modifiers) {
			continue
		}
		switch w.Policy.KeyAction {
		case KeyActionKeysOnly:
			if !m.Modifiers.Has(metamodel.ModKey) {
				continue
			}
		case KeyActionDataOnly:
			if m.Modifiers.Has(metamodel.ModKey) {
				continue
			}
		}
		if m.Modifiers.Has(metamodel.ModOptional) {
			set := m.IsOptionalSet(snap)
			switch w.Policy.Optional {
			case OptionalOnlyIfSet:
				if !set {
					continue
				}
			case OptionalAlways:
				// visited regardless
			case OptionalPassThroughAddress:
				// visited, callback decides what to do with a possibly-unset address
			}
		}

		memberVal := &Value{Addr: snap[m.Name], Type: m.Type, Parent: v, Pos: PosMember, Member: m}
		if err := w.walkValue(memberVal, acc); err != nil {
			return err
		}
	}
	return nil
}

func (w *Walker) walkCollection(v *Value, acc Accessor) error {
	if err := w.dispatch(v); err != nil {
		return err
	}
	switch v.Type.Container {
	case metamodel.Array, metamodel.Sequence:
		elems := acc.Elements(v.Addr, v.Type)
		for _, e := range elems {
			ev := &Value{Addr: e, Type: v.Type.Element, Parent: v, Pos: PosElement}
			if err := w.walkValue(ev, acc); err != nil {
				return err
			}
		}
	case metamodel.List:
		l := acc.List(v.Addr, v.Type)
		if l != nil {
			for e := l.Front(); e != nil; e = e.Next() {
				ev := &Value{Addr: e.Value, Type: v.Type.Element, Parent: v, Pos: PosElement}
				if err := w.walkValue(ev, acc); err != nil {
					return err
				}
			}
		}
	case metamodel.Map:
		tr := acc.Tree(v.Addr, v.Type)
		if tr != nil {
			var walkErr error
			tr.Ascend(func(item btree.Item) bool {
				entry := item.(MapEntry)
				ev := &Value{Addr: entry.Value, Type: v.Type.Element, Parent: v, Pos: PosMem}
				if err := w.walkValue(ev, acc); err != nil {
					walkErr = err
					return false
				}
				return true
			})
			if walkErr != nil {
				return walkErr
			}
		}
	default:
		return errors.Newf(errors.Internal, "walker.go", 0, "unknown container kind %v", v.Type.Container)
	}
	return nil
}

// MapEntry is the btree.Item stored for map-container walks; the B-tree
// supplies the ordered external iteration map containers need.
type MapEntry struct {
	Key   string
	Value interface{}
}

func (e MapEntry) Less(than btree.Item) bool {
	return e.Key < than.(MapEntry).Key
}

// NewTree creates an empty ordered map-container backing store.
func NewTree() *btree.BTree { return btree.New(32) }

// Accessor bridges a Go value's concrete shape to the walker: how to read
// a composite's base, a member's value, a collection's elements, its
// external list, or its external tree. Generated or hand-written per type;
// metamodel.Type itself stays pure data.
type Accessor interface {
	Base(addr interface{}, t *metamodel.Type) interface{}
	Member(addr interface{}, m *metamodel.Member) interface{}
	Elements(addr interface{}, t *metamodel.Type) []interface{}
	List(addr interface{}, t *metamodel.Type) *list.List
	Tree(addr interface{}, t *metamodel.Type) *btree.BTree
}

// ReflectAccessor is the default Accessor, reading member and element
// values generically from map- and slice-shaped payloads, the
// representation untyped values take in this store.
type ReflectAccessor struct{}

func (ReflectAccessor) Base(addr interface{}, t *metamodel.Type) interface{} {
	return fieldByName(addr, "Base")
}

func (ReflectAccessor) Member(addr interface{}, m *metamodel.Member) interface{} {
	return fieldByName(addr, m.Name)
}

func (ReflectAccessor) Elements(addr interface{}, t *metamodel.Type) []interface{} {
	return sliceElements(addr)
}

func (ReflectAccessor) List(addr interface{}, t *metamodel.Type) *list.List {
	if l, ok := addr.(*list.List); ok {
		return l
	}
	return nil
}

func (ReflectAccessor) Tree(addr interface{}, t *metamodel.Type) *btree.BTree {
	if tr, ok := addr.(*btree.BTree); ok {
		return tr
	}
	return nil
}

func fieldByName(addr interface{}, name string) interface{} {
	m, ok := addr.(map[string]interface{})
	if !ok {
		return nil
	}
	return m[name]
}

func sliceElements(addr interface{}) []interface{} {
	s, ok := addr.([]interface{})
	if !ok {
		return nil
	}
	return s
}

// Compare recursively compares two values of the same type, using a
// formatted-leaf comparison for primitive and any-kind values. Round-trip
// serialization of a value must compare equal to the original under this
// comparison.
func Compare(a, b interface{}, typ *metamodel.Type, acc Accessor) (bool, error) {
	leafEqual := func(x, y interface{}) bool {
		return fmt.Sprint(x) == fmt.Sprint(y)
	}
	return compareValue(a, b, typ, acc, leafEqual)
}

func compareValue(a, b interface{}, typ *metamodel.Type, acc Accessor, leafEqual func(x, y interface{}) bool) (bool, error) {
	if typ == nil {
		return leafEqual(a, b), nil
	}
	if err := typ.Finalize(); err != nil {
		return false, err
	}
	switch typ.Kind {
	case metamodel.Primitive, metamodel.Any, metamodel.Void:
		return leafEqual(a, b), nil
	case metamodel.Composite:
		for i := range typ.Members {
			m := &typ.Members[i]
			ok, err := compareValue(acc.Member(a, m), acc.Member(b, m), m.Type, acc, leafEqual)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case metamodel.Collection:
		return compareCollection(a, b, typ, acc, leafEqual)
	default:
		return leafEqual(a, b), nil
	}
}

// compareCollection dispatches on the container kind the same way
// walkCollection does: a List or Map value is backed by its external
// container, not a slice, and has to be iterated through it.
func compareCollection(a, b interface{}, typ *metamodel.Type, acc Accessor, leafEqual func(x, y interface{}) bool) (bool, error) {
	var ae, be []interface{}
	switch typ.Container {
	case metamodel.Array, metamodel.Sequence:
		ae = acc.Elements(a, typ)
		be = acc.Elements(b, typ)
	case metamodel.List:
		la := acc.List(a, typ)
		lb := acc.List(b, typ)
		if la == nil || lb == nil {
			return la == lb, nil
		}
		for e := la.Front(); e != nil; e = e.Next() {
			ae = append(ae, e.Value)
		}
		for e := lb.Front(); e != nil; e = e.Next() {
			be = append(be, e.Value)
		}
	case metamodel.Map:
		ta := acc.Tree(a, typ)
		tb := acc.Tree(b, typ)
		if ta == nil || tb == nil {
			return ta == tb, nil
		}
		if ta.Len() != tb.Len() {
			return false, nil
		}
		var entriesA, entriesB []MapEntry
		ta.Ascend(func(item btree.Item) bool {
			entriesA = append(entriesA, item.(MapEntry))
			return true
		})
		tb.Ascend(func(item btree.Item) bool {
			entriesB = append(entriesB, item.(MapEntry))
			return true
		})
		for i := range entriesA {
			if entriesA[i].Key != entriesB[i].Key {
				return false, nil
			}
			ae = append(ae, entriesA[i].Value)
			be = append(be, entriesB[i].Value)
		}
	default:
		return false, errors.Newf(errors.Internal, "walker.go", 0, "unknown container kind %v", typ.Container)
	}

	if len(ae) != len(be) {
		return false, nil
	}
	for i := range ae {
		ok, err := compareValue(ae[i], be[i], typ.Element, acc, leafEqual)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
