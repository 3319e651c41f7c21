package mir

import "fmt"

// Type describes the shape of the value carried by a virtual register:
// a scalar of some bit width, a vector of identically shaped scalar
// elements, or a pointer into a numbered address space.
//
// Type is a small value type; two types are interchangeable exactly when
// they compare equal with ==. The zero Type is invalid and means "no type".
type Type struct {
	bits  uint16 // scalar width, element width, or pointer width in bits
	elems uint16 // element count; 0 for scalars and pointers
	space uint8  // pointer address space
	ptr   bool
}

// Common scalar shorthands.
var (
	S1  = Scalar(1)
	S8  = Scalar(8)
	S16 = Scalar(16)
	S32 = Scalar(32)
	S64 = Scalar(64)
)

// Scalar returns a scalar type of the given width in bits.
func Scalar(bits uint16) Type {
	return Type{bits: bits}
}

// Vector returns a vector type with elems elements of the given scalar
// element type. Pointer and vector element types are not representable.
func Vector(elems uint16, elem Type) Type {
	if !elem.IsScalar() {
		panic("mir: vector element must be a scalar type")
	}
	return Type{bits: elem.bits, elems: elems}
}

// Pointer returns a pointer type into the given address space with the
// given width in bits.
func Pointer(space uint8, bits uint16) Type {
	return Type{bits: bits, space: space, ptr: true}
}

// Valid reports whether t describes an actual type.
func (t Type) Valid() bool { return t.bits != 0 }

// IsScalar reports whether t is a scalar type.
func (t Type) IsScalar() bool { return t.bits != 0 && t.elems == 0 && !t.ptr }

// IsVector reports whether t is a vector type.
func (t Type) IsVector() bool { return t.elems != 0 }

// IsPointer reports whether t is a pointer type.
func (t Type) IsPointer() bool { return t.ptr }

// Bits returns the total size of t in bits.
func (t Type) Bits() uint32 {
	if t.elems != 0 {
		return uint32(t.bits) * uint32(t.elems)
	}
	return uint32(t.bits)
}

// Bytes returns the total size of t in bytes, rounding up sub-byte types.
func (t Type) Bytes() uint32 { return (t.Bits() + 7) / 8 }

// ScalarBits returns the scalar or element width of t in bits.
func (t Type) ScalarBits() uint16 { return t.bits }

// Elems returns the element count of a vector type, or 0.
func (t Type) Elems() uint16 { return t.elems }

// AddrSpace returns the address space of a pointer type, or 0.
func (t Type) AddrSpace() uint8 { return t.space }

// Elem returns the scalar element type of a vector, or t itself for a
// scalar. Calling Elem on a pointer type is invalid.
func (t Type) Elem() Type {
	if t.ptr {
		panic("mir: pointer types have no element type")
	}
	return Type{bits: t.bits}
}

// String implements fmt.Stringer.
func (t Type) String() string {
	switch {
	case !t.Valid():
		return "invalid"
	case t.ptr:
		return fmt.Sprintf("p%d:%d", t.space, t.bits)
	case t.elems != 0:
		return fmt.Sprintf("<%d x s%d>", t.elems, t.bits)
	default:
		return fmt.Sprintf("s%d", t.bits)
	}
}
