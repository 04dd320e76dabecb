package ir

import (
	"fmt"
	"strings"
)

// FuncRef refers to a function declared by the function being compiled.
type FuncRef uint32

// String implements fmt.Stringer.
func (f FuncRef) String() string {
	return fmt.Sprintf("fn%d", uint32(f))
}

// ExternalName identifies a symbol outside of the function being compiled.
// Either Symbol is set, or the name is a (Namespace, Index) pair assigned by the embedder.
type ExternalName struct {
	Namespace, Index uint32
	Symbol           string
}

// UserName returns the ExternalName for the given namespace and index.
func UserName(namespace, index uint32) ExternalName {
	return ExternalName{Namespace: namespace, Index: index}
}

// SymbolName returns the ExternalName for the given symbol.
func SymbolName(sym string) ExternalName {
	return ExternalName{Symbol: sym}
}

// String implements fmt.Stringer.
func (n ExternalName) String() string {
	if n.Symbol != "" {
		return "%" + n.Symbol
	}
	return fmt.Sprintf("u%d:%d", n.Namespace, n.Index)
}

// TrapCode describes why a trap instruction traps.
type TrapCode byte

const (
	TrapCodeUser TrapCode = iota
	TrapCodeStackOverflow
	TrapCodeHeapOutOfBounds
	TrapCodeIntegerOverflow
	TrapCodeIntegerDivisionByZero
	TrapCodeUnreachable
)

// String implements fmt.Stringer.
func (c TrapCode) String() string {
	switch c {
	case TrapCodeUser:
		return "user"
	case TrapCodeStackOverflow:
		return "stk_ovf"
	case TrapCodeHeapOutOfBounds:
		return "heap_oob"
	case TrapCodeIntegerOverflow:
		return "int_ovf"
	case TrapCodeIntegerDivisionByZero:
		return "int_divz"
	case TrapCodeUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("trap%d", byte(c))
	}
}

// Stackmap is the layout of the live reference values in a stack frame at a safepoint.
// Bit i is set when the i-th 8-byte slot from the stack pointer holds a reference.
type Stackmap struct {
	Bits []bool
}

// MappedWords returns the number of slots described by this Stackmap.
func (s *Stackmap) MappedWords() int {
	return len(s.Bits)
}

// String implements fmt.Stringer.
func (s *Stackmap) String() string {
	var b strings.Builder
	b.WriteByte('[')
	for _, set := range s.Bits {
		if set {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	b.WriteByte(']')
	return b.String()
}
