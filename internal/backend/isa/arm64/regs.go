package arm64

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/invariant"
)

// Universe layout. The allocatable registers come first, grouped by class:
//
//	[0, 16)   x0-x15
//	[16, 26)  x19-x28
//	[26, 58)  v0-v31
//	[58, 65)  x16 (spill temporary), x17, x18 (platform), fp, lr, xzr, sp
const (
	numAllocableXRegs = 26
	firstVRegIndex    = numAllocableXRegs
	numVRegs          = 32
	firstReserved     = firstVRegIndex + numVRegs
	numRegs           = firstReserved + 7

	spIndex  = numRegs - 1
	xzrIndex = numRegs - 2
)

// XReg returns the n-th general purpose register, 0 <= n <= 30. x29 is the frame pointer and
// x30 the link register.
func XReg(n uint8) regalloc.Reg {
	var index uint32
	switch {
	case n < 16:
		index = uint32(n)
	case n < 19:
		index = firstReserved + uint32(n-16)
	case n < 29:
		index = uint32(n) - 3
	case n <= 30:
		index = firstReserved + 3 + uint32(n-29)
	default:
		invariant.Panicf("x%d is not a general purpose register", n)
	}
	return regalloc.NewRealReg(regalloc.RegClassI64, n, index).ToReg()
}

// WritableXReg returns XReg(n) as a written operand.
func WritableXReg(n uint8) regalloc.Writable { return regalloc.WritableReg(XReg(n)) }

// VRegN returns the n-th vector register, 0 <= n <= 31.
func VRegN(n uint8) regalloc.Reg {
	if n >= numVRegs {
		invariant.Panicf("v%d is not a vector register", n)
	}
	return regalloc.NewRealReg(regalloc.RegClassV128, n, firstVRegIndex+uint32(n)).ToReg()
}

// WritableVRegN returns VRegN(n) as a written operand.
func WritableVRegN(n uint8) regalloc.Writable { return regalloc.WritableReg(VRegN(n)) }

// ZeroReg returns xzr. It shares its encoding with sp; which one an operand means depends on the
// instruction.
func ZeroReg() regalloc.Reg { return regalloc.NewRealReg(regalloc.RegClassI64, 31, xzrIndex).ToReg() }

// StackReg returns sp.
func StackReg() regalloc.Reg { return regalloc.NewRealReg(regalloc.RegClassI64, 31, spIndex).ToReg() }

// WritableStackReg returns sp as a written operand.
func WritableStackReg() regalloc.Writable { return regalloc.WritableReg(StackReg()) }

// FPReg returns the frame pointer, x29.
func FPReg() regalloc.Reg { return XReg(29) }

// LinkReg returns the link register, x30.
func LinkReg() regalloc.Reg { return XReg(30) }

// SpillTmpReg returns x16, which is never allocated and is free for use by instruction sequences
// generated after register allocation.
func SpillTmpReg() regalloc.Reg { return XReg(16) }

// WritableSpillTmpReg returns SpillTmpReg as a written operand.
func WritableSpillTmpReg() regalloc.Writable { return regalloc.WritableReg(SpillTmpReg()) }

// NewRegUniverse builds the register universe of the target.
func NewRegUniverse() *regalloc.RealRegUniverse {
	u := &regalloc.RealRegUniverse{Regs: make([]regalloc.RealRegInfo, numRegs)}
	set := func(r regalloc.Reg, name string) {
		rr := r.ToRealReg()
		u.Regs[rr.Index()] = regalloc.RealRegInfo{Reg: rr, Name: name}
	}
	for n := uint8(0); n <= 30; n++ {
		name := fmt.Sprintf("x%d", n)
		switch n {
		case 29:
			name = "fp"
		case 30:
			name = "lr"
		}
		set(XReg(n), name)
	}
	for n := uint8(0); n < numVRegs; n++ {
		set(VRegN(n), fmt.Sprintf("v%d", n))
	}
	set(ZeroReg(), "xzr")
	set(StackReg(), "sp")

	u.Allocable = firstReserved
	u.AllocableByClass[regalloc.RegClassI64] = &regalloc.RegClassInfo{
		First: 0, Last: numAllocableXRegs - 1, SuggestedScratch: -1,
	}
	u.AllocableByClass[regalloc.RegClassV128] = &regalloc.RegClassInfo{
		First: firstVRegIndex, Last: firstReserved - 1, SuggestedScratch: firstReserved - 1,
	}
	return u
}

// showReg renders r with the names of rru, or with the default scheme when rru is nil.
func showReg(r regalloc.Reg, rru *regalloc.RealRegUniverse) string {
	if rru == nil || r.IsVirtual() {
		return r.String()
	}
	return rru.Name(r.ToRealReg())
}

// showRegSized renders an integer register with its 32-bit name when is32 is set.
func showRegSized(r regalloc.Reg, rru *regalloc.RealRegUniverse, is32 bool) string {
	s := showReg(r, rru)
	if !is32 || r.IsVirtual() || r.Class() != regalloc.RegClassI64 {
		return s
	}
	if strings.HasPrefix(s, "x") {
		return "w" + s[1:]
	}
	return s
}

// regEncoding returns the 5-bit hardware number of r, which must have been allocated.
func regEncoding(r regalloc.Reg) uint32 {
	if r.IsVirtual() {
		invariant.Panicf("encoding virtual register %s", r)
	}
	return uint32(r.ToRealReg().HWEnc())
}
