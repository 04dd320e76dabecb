// Package ir holds the small set of intermediate-representation values the machine
// layer refers to: value types, external names, trap codes and stackmaps.
package ir

import (
	"github.com/tetratelabs/machinst/internal/invariant"
)

// Type is the type of an SSA value.
type Type byte

const (
	TypeInvalid Type = iota
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	TypeI128
	TypeB1
	TypeB8
	TypeB16
	TypeB32
	TypeB64
	TypeB128
	TypeF32
	TypeF64
	// TypeI32X4 and TypeF32X4 are vector lane types. The machine layer does not support them yet.
	TypeI32X4
	TypeF32X4
	// TypeIFlags is the type of the integer condition flags.
	TypeIFlags
)

// String implements fmt.Stringer.
func (t Type) String() string {
	switch t {
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeI128:
		return "i128"
	case TypeB1:
		return "b1"
	case TypeB8:
		return "b8"
	case TypeB16:
		return "b16"
	case TypeB32:
		return "b32"
	case TypeB64:
		return "b64"
	case TypeB128:
		return "b128"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeI32X4:
		return "i32x4"
	case TypeF32X4:
		return "f32x4"
	case TypeIFlags:
		return "iflags"
	default:
		return "invalid"
	}
}

// Bits returns the number of bits of a value of this type.
func (t Type) Bits() uint {
	switch t {
	case TypeB1:
		return 1
	case TypeI8, TypeB8:
		return 8
	case TypeI16, TypeB16:
		return 16
	case TypeI32, TypeB32, TypeF32:
		return 32
	case TypeI64, TypeB64, TypeF64:
		return 64
	case TypeI128, TypeB128, TypeI32X4, TypeF32X4:
		return 128
	default:
		invariant.Panicf("Bits() called on %s", t)
		return 0
	}
}

// Bytes returns the number of bytes a value of this type occupies in memory.
func (t Type) Bytes() uint {
	if t == TypeB1 {
		return 1
	}
	return t.Bits() / 8
}

// IsInt returns true if the type is an integer type.
func (t Type) IsInt() bool {
	switch t {
	case TypeI8, TypeI16, TypeI32, TypeI64, TypeI128:
		return true
	}
	return false
}

// IsBool returns true if the type is a boolean type.
func (t Type) IsBool() bool {
	switch t {
	case TypeB1, TypeB8, TypeB16, TypeB32, TypeB64, TypeB128:
		return true
	}
	return false
}

// IsFloat returns true if the type is a floating point type.
func (t Type) IsFloat() bool {
	return t == TypeF32 || t == TypeF64
}

// IsVector returns true if the type has more than one lane.
func (t Type) IsVector() bool {
	return t == TypeI32X4 || t == TypeF32X4
}
