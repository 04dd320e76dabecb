package arm64

import (
	"github.com/tetratelabs/machinst/internal/backend"
	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/invariant"
	"github.com/tetratelabs/machinst/internal/ir"
)

// IsMove implements backend.MachInst.
func (i Inst) IsMove() (regalloc.Writable, regalloc.Reg, bool) {
	if i.kind == kindMov {
		return i.rd, i.rm, true
	}
	return regalloc.Writable{}, regalloc.RegInvalid, false
}

// IsTerm implements backend.MachInst.
func (i Inst) IsTerm() backend.MachTerminator {
	switch i.kind {
	case kindRet:
		return backend.MachTerminator{Kind: backend.TermRet}
	case kindJump:
		return backend.MachTerminator{Kind: backend.TermUncond, Taken: mustBlock(i.taken)}
	case kindCondBr:
		return backend.MachTerminator{
			Kind:     backend.TermCond,
			Taken:    mustBlock(i.taken),
			NotTaken: mustBlock(i.notTaken),
		}
	case kindCondBrLowered, kindCondBrLoweredCompound:
		invariant.Panicf("IsTerm called after lowering branches: %s", i.kind)
	}
	return backend.MachTerminator{Kind: backend.TermNone}
}

func mustBlock(t BranchTarget) backend.BlockIndex {
	b, ok := t.AsBlockIndex()
	if !ok {
		invariant.Panicf("branch target %s is not a block", t)
	}
	return b
}

// WithBlockRewrites implements backend.MachInst.
func (i Inst) WithBlockRewrites(remap []backend.BlockIndex) Inst {
	switch i.kind {
	case kindJump:
		i.taken = i.taken.Map(remap)
	case kindCondBr:
		i.taken = i.taken.Map(remap)
		i.notTaken = i.notTaken.Map(remap)
	case kindCondBrLowered, kindCondBrLoweredCompound:
		invariant.Panicf("WithBlockRewrites called after lowering branches: %s", i.kind)
	}
	return i
}

// WithFallthroughBlock implements backend.MachInst.
//
// A conditional branch becomes a single conditional branch when one of its targets is the
// fallthrough block, and a conditional branch followed by a jump otherwise. A jump to the
// fallthrough block becomes the zero-size no-op. Lowered branches are returned unchanged.
func (i Inst) WithFallthroughBlock(next backend.BlockIndex, ok bool) Inst {
	isFallthrough := func(t BranchTarget) bool {
		b, isBlock := t.AsBlockIndex()
		return ok && isBlock && b == next
	}
	switch i.kind {
	case kindCondBr:
		switch {
		case isFallthrough(i.taken):
			return Inst{kind: kindCondBrLowered, taken: i.notTaken, inverted: true, cond: i.cond}
		case isFallthrough(i.notTaken):
			return Inst{kind: kindCondBrLowered, taken: i.taken, inverted: false, cond: i.cond}
		default:
			return Inst{kind: kindCondBrLoweredCompound, taken: i.taken, notTaken: i.notTaken, cond: i.cond}
		}
	case kindJump:
		if isFallthrough(i.taken) {
			return NewNop()
		}
	}
	return i
}

// WithBlockOffsets implements backend.MachInst.
func (i Inst) WithBlockOffsets(myOffset backend.CodeOffset, blockOffsets []backend.CodeOffset) Inst {
	switch i.kind {
	case kindCondBrLowered, kindJump:
		i.taken = i.taken.Lower(blockOffsets, myOffset)
	case kindCondBrLoweredCompound:
		i.taken = i.taken.Lower(blockOffsets, myOffset)
		// The unconditional branch is the second instruction of the sequence.
		i.notTaken = i.notTaken.Lower(blockOffsets, myOffset+4)
	}
	return i
}

// Backend is the arm64 target. It is immutable and safe for concurrent use.
type Backend struct {
	universe *regalloc.RealRegUniverse
}

// NewBackend returns the arm64 target.
func NewBackend() *Backend {
	return &Backend{universe: NewRegUniverse()}
}

var _ backend.ISA[Inst] = (*Backend)(nil)

// Name implements backend.ISA.
func (*Backend) Name() string { return "arm64" }

// GenMove implements backend.ISA.
func (*Backend) GenMove(to regalloc.Writable, from regalloc.Reg) Inst { return NewMov(to, from) }

// GenNop implements backend.ISA. No instruction is smaller than 4 bytes.
func (*Backend) GenNop(preferredSize int) Inst {
	if preferredSize < 4 {
		invariant.Panicf("no-op of %d bytes requested", preferredSize)
	}
	return NewNop4()
}

// GenJump implements backend.ISA.
func (*Backend) GenJump(target backend.BlockIndex) Inst { return NewJump(TargetBlock(target)) }

// RCForType implements backend.ISA.
func (*Backend) RCForType(ty ir.Type) regalloc.RegClass {
	switch ty {
	case ir.TypeI8, ir.TypeI16, ir.TypeI32, ir.TypeI64,
		ir.TypeB1, ir.TypeB8, ir.TypeB16, ir.TypeB32, ir.TypeB64:
		return regalloc.RegClassI64
	case ir.TypeF32, ir.TypeF64, ir.TypeI128, ir.TypeB128:
		return regalloc.RegClassV128
	}
	invariant.Panicf("unexpected value type %s", ty)
	return regalloc.RegClassInvalid
}

// RegUniverse implements backend.ISA.
func (b *Backend) RegUniverse() *regalloc.RealRegUniverse { return b.universe }
