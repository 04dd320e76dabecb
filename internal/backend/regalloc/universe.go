package regalloc

import (
	"fmt"
	"strings"

	"tlog.app/go/errors"
)

// RealRegUniverse lists every physical register of a target.
//
// Regs[i] is the register whose universe index is i. Registers are grouped by class, and the
// allocatable registers of every class come before the reserved ones: Regs[:Allocable] can be
// handed out by the allocator, Regs[Allocable:] never are.
//
// A universe is built once per target and is immutable afterwards, so it is safe to share
// between concurrent compilations.
type RealRegUniverse struct {
	Regs []RealRegInfo
	// Allocable is the number of allocatable registers at the head of Regs.
	Allocable int
	// AllocableByClass is the range of allocatable registers per class, nil when the class has none.
	AllocableByClass [NumRegClasses]*RegClassInfo
}

// RealRegInfo is a register and its display name.
type RealRegInfo struct {
	Reg  RealReg
	Name string
}

// RegClassInfo is the inclusive index range [First, Last] of the allocatable registers of a class.
type RegClassInfo struct {
	First, Last int
	// SuggestedScratch is a register of the class which may be used as a scratch register by
	// code inserted after allocation, or -1.
	SuggestedScratch int
}

// Name returns the display name of r.
func (u *RealRegUniverse) Name(r RealReg) string {
	if i := int(r.Index()); i < len(u.Regs) && u.Regs[i].Reg == r {
		return u.Regs[i].Name
	}
	return r.String()
}

// AllocableRegs returns the allocatable registers of class c in preference order.
func (u *RealRegUniverse) AllocableRegs(c RegClass) []RealReg {
	info := u.AllocableByClass[c]
	if info == nil {
		return nil
	}
	ret := make([]RealReg, 0, info.Last-info.First+1)
	for i := info.First; i <= info.Last; i++ {
		ret = append(ret, u.Regs[i].Reg)
	}
	return ret
}

// IsAllocable returns true if r may be assigned by the allocator.
func (u *RealRegUniverse) IsAllocable(r RealReg) bool {
	return int(r.Index()) < u.Allocable
}

// Reserved returns the registers which are never allocated.
func (u *RealRegUniverse) Reserved() []RealReg {
	ret := make([]RealReg, 0, len(u.Regs)-u.Allocable)
	for _, info := range u.Regs[u.Allocable:] {
		ret = append(ret, info.Reg)
	}
	return ret
}

// Check validates the structure of the universe.
func (u *RealRegUniverse) Check() error {
	if len(u.Regs) > RealRegsNumMax {
		return errors.New("too many registers: %d > %d", len(u.Regs), RealRegsNumMax)
	}
	if u.Allocable > len(u.Regs) {
		return errors.New("allocable count %d exceeds %d registers", u.Allocable, len(u.Regs))
	}
	for i, info := range u.Regs {
		if int(info.Reg.Index()) != i {
			return errors.New("register %s at position %d has index %d", info.Name, i, info.Reg.Index())
		}
		if !info.Reg.ToReg().Valid() {
			return errors.New("register %s has invalid class", info.Name)
		}
	}
	var covered int
	for c := RegClassI64; c < NumRegClasses; c++ {
		info := u.AllocableByClass[c]
		if info == nil {
			continue
		}
		if info.First > info.Last || info.Last >= u.Allocable {
			return errors.New("class %s: bad allocatable range [%d, %d]", c, info.First, info.Last)
		}
		for i := info.First; i <= info.Last; i++ {
			if u.Regs[i].Reg.Class() != c {
				return errors.New("class %s: register %s in range has class %s", c, u.Regs[i].Name, u.Regs[i].Reg.Class())
			}
		}
		covered += info.Last - info.First + 1
	}
	if covered != u.Allocable {
		return errors.New("allocatable ranges cover %d registers, expected %d", covered, u.Allocable)
	}
	return nil
}

// String implements fmt.Stringer.
func (u *RealRegUniverse) String() string {
	var b strings.Builder
	for c := RegClassI64; c < NumRegClasses; c++ {
		fmt.Fprintf(&b, "%s:", c)
		for _, r := range u.AllocableRegs(c) {
			fmt.Fprintf(&b, " %s", u.Name(r))
		}
		b.WriteString("\n")
	}
	b.WriteString("reserved:")
	for _, r := range u.Reserved() {
		fmt.Fprintf(&b, " %s", u.Name(r))
	}
	return b.String()
}

// RealRegsNumMax is the maximum number of registers in a universe.
const RealRegsNumMax = 128

// RegSet represents a set of physical registers by their universe index.
type RegSet [RealRegsNumMax / 64]uint64

// NewRegSet returns a new RegSet with the given registers.
func NewRegSet(regs ...RealReg) RegSet {
	var ret RegSet
	for _, r := range regs {
		ret = ret.add(r)
	}
	return ret
}

func (rs RegSet) has(r RealReg) bool {
	i := r.Index()
	return rs[i/64]&(1<<(i%64)) != 0
}

func (rs RegSet) add(r RealReg) RegSet {
	i := r.Index()
	rs[i/64] |= 1 << (i % 64)
	return rs
}

func (rs RegSet) format(u *RealRegUniverse) string {
	var ret []string
	for i := range u.Regs {
		if rs.has(u.Regs[i].Reg) {
			ret = append(ret, u.Regs[i].Name)
		}
	}
	return strings.Join(ret, ", ")
}
