package regalloc

import (
	"fmt"

	"github.com/tetratelabs/machinst/internal/invariant"
)

// Reg represents either a virtual register, assigned by instruction selection, or a physical
// register of the target. The two are distinguished by the real bit.
//
// Layout: the lower 32 bits are the index (the virtual register number, or the index of the
// physical register in its RealRegUniverse), bits 32-39 hold the hardware encoding of a physical
// register, bits 40-47 the RegClass, and bit 48 is set for physical registers.
type Reg uint64

const (
	regRealBit    Reg = 1 << 48
	regClassShift     = 40
	regEncShift       = 32
)

// RegInvalid is the zero Reg, which is neither a valid virtual nor a valid physical register.
const RegInvalid Reg = 0

// NewRealReg returns the physical register of the given class, hardware encoding and universe index.
func NewRealReg(class RegClass, enc uint8, index uint32) RealReg {
	return RealReg(regRealBit | Reg(class)<<regClassShift | Reg(enc)<<regEncShift | Reg(index))
}

// NewVirtualReg returns the index-th virtual register of the given class.
func NewVirtualReg(class RegClass, index uint32) VirtualReg {
	return VirtualReg(Reg(class)<<regClassShift | Reg(index))
}

// IsReal returns true if this is a physical register.
func (r Reg) IsReal() bool {
	return r&regRealBit != 0
}

// IsVirtual returns true if this is a virtual register.
func (r Reg) IsVirtual() bool {
	return !r.IsReal()
}

// Class returns the RegClass of this register.
func (r Reg) Class() RegClass {
	return RegClass(r >> regClassShift)
}

// Index returns the virtual register number, or the universe index of a physical register.
func (r Reg) Index() uint32 {
	return uint32(r)
}

// Valid returns true if this register has a class.
func (r Reg) Valid() bool {
	return r.Class() != RegClassInvalid && r.Class() < NumRegClasses
}

// ToRealReg returns the RealReg view of this register, which must be physical.
func (r Reg) ToRealReg() RealReg {
	if !r.IsReal() {
		invariant.Panicf("%s is not a real register", r)
	}
	return RealReg(r)
}

// ToVirtualReg returns the VirtualReg view of this register, which must be virtual.
func (r Reg) ToVirtualReg() VirtualReg {
	if r.IsReal() {
		invariant.Panicf("%s is not a virtual register", r)
	}
	return VirtualReg(r)
}

// String implements fmt.Stringer.
func (r Reg) String() string {
	if r.IsReal() {
		return fmt.Sprintf("r%d", r.Index())
	}
	return fmt.Sprintf("v%d?", r.Index())
}

// RealReg is a Reg known to be physical.
type RealReg Reg

// ToReg returns the Reg of this physical register.
func (r RealReg) ToReg() Reg { return Reg(r) }

// HWEnc returns the hardware encoding of this register.
func (r RealReg) HWEnc() uint8 { return uint8(Reg(r) >> regEncShift) }

// Index returns the index of this register in its RealRegUniverse.
func (r RealReg) Index() uint32 { return Reg(r).Index() }

// Class returns the RegClass of this register.
func (r RealReg) Class() RegClass { return Reg(r).Class() }

// String implements fmt.Stringer.
func (r RealReg) String() string { return Reg(r).String() }

// VirtualReg is a Reg known to be virtual.
type VirtualReg Reg

// ToReg returns the Reg of this virtual register.
func (v VirtualReg) ToReg() Reg { return Reg(v) }

// Index returns the virtual register number.
func (v VirtualReg) Index() uint32 { return Reg(v).Index() }

// Class returns the RegClass of this register.
func (v VirtualReg) Class() RegClass { return Reg(v).Class() }

// String implements fmt.Stringer.
func (v VirtualReg) String() string { return Reg(v).String() }

// Writable marks an occurrence of a register which is written by an instruction.
// It carries nothing beyond the register, and exists so that a definition site cannot be
// confused with a use site.
type Writable struct {
	reg Reg
}

// WritableReg returns the register as a written occurrence.
func WritableReg(r Reg) Writable {
	return Writable{reg: r}
}

// ToReg returns the underlying register.
func (w Writable) ToReg() Reg {
	return w.reg
}

// String implements fmt.Stringer.
func (w Writable) String() string {
	return w.reg.String()
}

// RegClass represents the class of a register. Every value type maps to exactly one class.
type RegClass byte

const (
	RegClassInvalid RegClass = iota
	// RegClassI64 is the class of general purpose registers holding integers and booleans.
	RegClassI64
	// RegClassV128 is the class of vector registers holding floats and 128-bit values.
	RegClassV128
	NumRegClasses
)

// String implements fmt.Stringer.
func (c RegClass) String() string {
	switch c {
	case RegClassI64:
		return "I64"
	case RegClassV128:
		return "V128"
	default:
		return "invalid"
	}
}
