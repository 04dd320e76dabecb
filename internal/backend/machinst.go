// Package backend is the architecture-independent part of the machine layer: the contracts a
// target's instruction type implements, the per-function instruction container and its passes
// (register allocation, block layout, branch lowering, offset resolution, emission).
package backend

import (
	"fmt"

	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/invariant"
	"github.com/tetratelabs/machinst/internal/ir"
)

// BlockIndex is the index of a block in a VCode. It is renumbered by VCode.Reorder.
type BlockIndex uint32

// CodeOffset is a byte offset from the start of the function's code.
type CodeOffset uint32

// MachInst is the contract between a target's instruction type I and the passes in this package.
//
// All methods are value transformations: the ones returning I leave the receiver unchanged, and
// the caller replaces the old instruction with the result.
type MachInst[I any] interface {
	fmt.Stringer

	// RegUses returns the registers the instruction reads, writes, or both.
	RegUses() regalloc.InstRegUses
	// MapRegs replaces virtual registers with their assignment: definitions use post, everything
	// read (including read-write operands) uses pre.
	MapRegs(pre, post regalloc.Map) I
	// IsMove returns (dst, src, true) if the instruction is a plain register to register move.
	IsMove() (regalloc.Writable, regalloc.Reg, bool)
	// IsTerm classifies the instruction as a block terminator. Valid before branch lowering only.
	IsTerm() MachTerminator
	// WithBlockRewrites renumbers the block targets of a branch. Valid before branch lowering only.
	WithBlockRewrites(remap []BlockIndex) I
	// WithFallthroughBlock lowers a branch given the block laid out right after it, if any.
	WithFallthroughBlock(next BlockIndex, ok bool) I
	// WithBlockOffsets resolves the block targets of a lowered branch located at myOffset.
	WithBlockOffsets(myOffset CodeOffset, blockOffsets []CodeOffset) I
	// Size returns the number of bytes Emit writes.
	Size() CodeOffset
	// Emit encodes the instruction into sink. Constants it needs go to consts.
	Emit(sink CodeSink, consts ConstantPoolSink)
	// ShowWithConsts renders the instruction using the register names of rru, which may be nil.
	ShowWithConsts(rru *regalloc.RealRegUniverse, consts ConstantPoolSink) string
}

// ISA is the per-target part of the contract: constructors of synthetic instructions, the
// type to register class mapping and the register universe.
type ISA[I MachInst[I]] interface {
	// Name returns the name of the target, e.g. "arm64".
	Name() string
	// GenMove returns a register to register move.
	GenMove(to regalloc.Writable, from regalloc.Reg) I
	// GenNop returns a no-op of at least preferredSize bytes.
	GenNop(preferredSize int) I
	// GenJump returns an unconditional jump to the block.
	GenJump(target BlockIndex) I
	// RCForType returns the register class holding values of the type.
	RCForType(ty ir.Type) regalloc.RegClass
	// RegUniverse returns the registers of the target.
	RegUniverse() *regalloc.RealRegUniverse
}

// MachTerminatorKind is the kind of a MachTerminator.
type MachTerminatorKind byte

const (
	// TermNone is any instruction which does not end a block.
	TermNone MachTerminatorKind = iota
	// TermUncond is an unconditional jump to Taken.
	TermUncond
	// TermCond is a conditional branch to Taken or NotTaken.
	TermCond
	// TermRet is a return.
	TermRet
)

// MachTerminator describes the control flow out of a block.
type MachTerminator struct {
	Kind            MachTerminatorKind
	Taken, NotTaken BlockIndex
}

// Succs returns the successor blocks of the terminator.
func (t MachTerminator) Succs() []BlockIndex {
	switch t.Kind {
	case TermUncond:
		return []BlockIndex{t.Taken}
	case TermCond:
		return []BlockIndex{t.Taken, t.NotTaken}
	default:
		return nil
	}
}

// String implements fmt.Stringer.
func (t MachTerminator) String() string {
	switch t.Kind {
	case TermNone:
		return "none"
	case TermUncond:
		return fmt.Sprintf("uncond(block%d)", t.Taken)
	case TermCond:
		return fmt.Sprintf("cond(block%d, block%d)", t.Taken, t.NotTaken)
	case TermRet:
		return "ret"
	default:
		invariant.Panicf("invalid terminator kind %d", t.Kind)
		return ""
	}
}
