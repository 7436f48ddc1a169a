package metamodel

import (
	"fmt"
	"unsafe"
)

// Built-in primitive types. These are constructed in a fixed order at
// Bootstrap time; their declared sizes must match the native Go layout of
// the value each one stores, which Bootstrap verifies before any of them is
// handed out. A mismatch means the descriptors no longer agree with the
// host representation and nothing built on top of them can be trusted.
var (
	BoolType    = NewPrimitive("bool", unsafe.Sizeof(bool(false)), unsafe.Alignof(bool(false)))
	Int8Type    = NewPrimitive("int8", unsafe.Sizeof(int8(0)), unsafe.Alignof(int8(0)))
	Int16Type   = NewPrimitive("int16", unsafe.Sizeof(int16(0)), unsafe.Alignof(int16(0)))
	Int32Type   = NewPrimitive("int32", unsafe.Sizeof(int32(0)), unsafe.Alignof(int32(0)))
	Int64Type   = NewPrimitive("int64", unsafe.Sizeof(int64(0)), unsafe.Alignof(int64(0)))
	Uint8Type   = NewPrimitive("uint8", unsafe.Sizeof(uint8(0)), unsafe.Alignof(uint8(0)))
	Uint16Type  = NewPrimitive("uint16", unsafe.Sizeof(uint16(0)), unsafe.Alignof(uint16(0)))
	Uint32Type  = NewPrimitive("uint32", unsafe.Sizeof(uint32(0)), unsafe.Alignof(uint32(0)))
	Uint64Type  = NewPrimitive("uint64", unsafe.Sizeof(uint64(0)), unsafe.Alignof(uint64(0)))
	Float32Type = NewPrimitive("float32", unsafe.Sizeof(float32(0)), unsafe.Alignof(float32(0)))
	Float64Type = NewPrimitive("float64", unsafe.Sizeof(float64(0)), unsafe.Alignof(float64(0)))
	StringType  = NewPrimitive("string", unsafe.Sizeof(""), unsafe.Alignof(""))
	VoidType    = &Type{Name: "void", Kind: Void, final: true}
	AnyType     = &Type{Name: "any", Kind: Any, Size: unsafe.Sizeof((interface{})(nil)), Align: unsafe.Alignof((interface{})(nil)), final: true}
)

// builtins lists every built-in type in construction order. Order matters:
// lookups by name resolve against this table, and Bootstrap validates them
// in sequence so a failure report names the first bad descriptor.
var builtins = []*Type{
	VoidType, AnyType,
	BoolType,
	Int8Type, Int16Type, Int32Type, Int64Type,
	Uint8Type, Uint16Type, Uint32Type, Uint64Type,
	Float32Type, Float64Type,
	StringType,
}

// nativeSizes maps each built-in's name to the size of the Go value that
// backs it at runtime, computed independently from the descriptor so the
// two can disagree.
var nativeSizes = map[string]uintptr{
	"void":    0,
	"any":     unsafe.Sizeof((interface{})(nil)),
	"bool":    unsafe.Sizeof(bool(false)),
	"int8":    unsafe.Sizeof(int8(0)),
	"int16":   unsafe.Sizeof(int16(0)),
	"int32":   unsafe.Sizeof(int32(0)),
	"int64":   unsafe.Sizeof(int64(0)),
	"uint8":   unsafe.Sizeof(uint8(0)),
	"uint16":  unsafe.Sizeof(uint16(0)),
	"uint32":  unsafe.Sizeof(uint32(0)),
	"uint64":  unsafe.Sizeof(uint64(0)),
	"float32": unsafe.Sizeof(float32(0)),
	"float64": unsafe.Sizeof(float64(0)),
	"string":  unsafe.Sizeof(""),
}

// Bootstrap validates every built-in type descriptor against the host
// layout and returns the ordered built-in table. Callers treat an error
// here as fatal: the store cannot start on top of descriptors that lie
// about their own size.
func Bootstrap() ([]*Type, error) {
	for _, t := range builtins {
		want, ok := nativeSizes[t.Name]
		if !ok {
			return nil, fmt.Errorf("metamodel: built-in %q has no native size entry", t.Name)
		}
		if t.Size != want {
			return nil, fmt.Errorf("metamodel: built-in %q size %d does not match native size %d", t.Name, t.Size, want)
		}
		if err := t.Finalize(); err != nil {
			return nil, fmt.Errorf("metamodel: finalize built-in %q: %w", t.Name, err)
		}
	}
	return builtins, nil
}

// LookupBuiltin resolves a built-in type by name, or nil.
func LookupBuiltin(name string) *Type {
	for _, t := range builtins {
		if t.Name == name {
			return t
		}
	}
	return nil
}
