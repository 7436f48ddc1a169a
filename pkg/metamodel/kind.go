// Package metamodel implements the reflective type descriptors that drive
// the walker, the object lifecycle, and the namespace resolver's type-match
// checks. A Type is itself just data, a tagged-variant record, never a Go
// interface hierarchy, so the walker can dispatch on Kind with a plain
// lookup table instead of virtual calls.
package metamodel

// Kind discriminates the shape a Type describes.
type Kind int

const (
	// Void is the absence of a value (used for delegates with no return).
	Void Kind = iota
	// Any accepts a value of any type, resolved dynamically.
	Any
	// Primitive is a fixed-size scalar (bool, integers, floats, string).
	Primitive
	// Composite is a struct-shaped type with an ordered member vector.
	Composite
	// Collection is an array/sequence/list/map of an element type.
	Collection
	// Iterator describes an external cursor over a Collection.
	Iterator
)

// String renders the kind for diagnostics and log fields.
func (k Kind) String() string {
	switch k {
	case Void:
		return "void"
	case Any:
		return "any"
	case Primitive:
		return "primitive"
	case Composite:
		return "composite"
	case Collection:
		return "collection"
	case Iterator:
		return "iterator"
	default:
		return "unknown"
	}
}

// ContainerKind discriminates the backing shape of a Collection type.
type ContainerKind int

const (
	// Array is a fixed-length, in-place element run.
	Array ContainerKind = iota
	// Sequence is a {length, buffer} growable run, Go's slice shape.
	Sequence
	// List is an externally-iterated doubly-linked list.
	List
	// Map is an externally-iterated ordered key/value container.
	Map
)

func (c ContainerKind) String() string {
	switch c {
	case Array:
		return "array"
	case Sequence:
		return "sequence"
	case List:
		return "list"
	case Map:
		return "map"
	default:
		return "unknown"
	}
}

// Modifier is a bitmask of member qualifiers.
type Modifier uint32

const (
	ModNone Modifier = 0
	ModObservable Modifier = 1 << (iota - 1)
	ModKey
	ModOptional
	ModPrivate
	ModLocal
	ModReadonly
)

func (m Modifier) Has(f Modifier) bool { return m&f != 0 }

// AttrMask is the object attribute bitmask.
type AttrMask uint32

const (
	AttrNone AttrMask = 0
	AttrNamed AttrMask = 1 << (iota - 1)
	AttrWritable
	AttrObservable
	AttrPersistent
	AttrDefault
)

func (a AttrMask) Has(f AttrMask) bool { return a&f != 0 }
