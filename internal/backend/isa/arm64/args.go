package arm64

import (
	"fmt"

	"github.com/tetratelabs/machinst/internal/backend"
	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/invariant"
	"github.com/tetratelabs/machinst/internal/ir"
)

// ShiftOp is the shift applied to the second register operand of a shifted-register instruction.
type ShiftOp byte

const (
	ShiftOpLSL ShiftOp = 0b00
	ShiftOpLSR ShiftOp = 0b01
	ShiftOpASR ShiftOp = 0b10
	ShiftOpROR ShiftOp = 0b11
)

// String implements fmt.Stringer.
func (s ShiftOp) String() string {
	switch s {
	case ShiftOpLSL:
		return "LSL"
	case ShiftOpLSR:
		return "LSR"
	case ShiftOpASR:
		return "ASR"
	case ShiftOpROR:
		return "ROR"
	}
	invariant.Panicf("invalid ShiftOp %d", s)
	return ""
}

// ShiftOpAndAmt is a shift and its amount, 0..63.
type ShiftOpAndAmt struct {
	Op  ShiftOp
	Amt uint8
}

// NewShiftOpAndAmt returns the shift, or false when amt does not fit in 6 bits.
func NewShiftOpAndAmt(op ShiftOp, amt uint8) (ShiftOpAndAmt, bool) {
	if amt > 63 {
		return ShiftOpAndAmt{}, false
	}
	return ShiftOpAndAmt{Op: op, Amt: amt}, true
}

// String implements fmt.Stringer.
func (s ShiftOpAndAmt) String() string { return fmt.Sprintf("%s %d", s.Op, s.Amt) }

// ExtendOp is the extension applied to a register operand. The values are the encoding of the
// option field.
type ExtendOp byte

const (
	ExtendOpUXTB ExtendOp = 0b000
	ExtendOpUXTH ExtendOp = 0b001
	ExtendOpUXTW ExtendOp = 0b010
	ExtendOpUXTX ExtendOp = 0b011
	ExtendOpSXTB ExtendOp = 0b100
	ExtendOpSXTH ExtendOp = 0b101
	ExtendOpSXTW ExtendOp = 0b110
	ExtendOpSXTX ExtendOp = 0b111
)

// String implements fmt.Stringer.
func (e ExtendOp) String() string {
	switch e {
	case ExtendOpUXTB:
		return "UXTB"
	case ExtendOpUXTH:
		return "UXTH"
	case ExtendOpUXTW:
		return "UXTW"
	case ExtendOpUXTX:
		return "UXTX"
	case ExtendOpSXTB:
		return "SXTB"
	case ExtendOpSXTH:
		return "SXTH"
	case ExtendOpSXTW:
		return "SXTW"
	case ExtendOpSXTX:
		return "SXTX"
	}
	invariant.Panicf("invalid ExtendOp %d", e)
	return ""
}

// Cond is a condition code, tested against the flags by b.cond.
type Cond byte

const (
	CondEq Cond = iota
	CondNe
	CondHs
	CondLo
	CondMi
	CondPl
	CondVs
	CondVc
	CondHi
	CondLs
	CondGe
	CondLt
	CondGt
	CondLe
	CondAl
	CondNv
)

// Invert returns the condition which holds exactly when c does not. Al and Nv both always hold
// and invert to each other.
func (c Cond) Invert() Cond { return c ^ 1 }

// String implements fmt.Stringer.
func (c Cond) String() string {
	switch c {
	case CondEq:
		return "eq"
	case CondNe:
		return "ne"
	case CondHs:
		return "hs"
	case CondLo:
		return "lo"
	case CondMi:
		return "mi"
	case CondPl:
		return "pl"
	case CondVs:
		return "vs"
	case CondVc:
		return "vc"
	case CondHi:
		return "hi"
	case CondLs:
		return "ls"
	case CondGe:
		return "ge"
	case CondLt:
		return "lt"
	case CondGt:
		return "gt"
	case CondLe:
		return "le"
	case CondAl:
		return "al"
	case CondNv:
		return "nv"
	}
	invariant.Panicf("invalid Cond %d", c)
	return ""
}

type condBrKindType byte

const (
	condBrZero condBrKindType = iota + 1
	condBrNotZero
	condBrCond
)

// CondBrKind is the condition of a conditional branch: a register compared with zero, or a
// condition code.
type CondBrKind struct {
	kind condBrKindType
	reg  regalloc.Reg
	cond Cond
}

// CondZero branches when r is zero.
func CondZero(r regalloc.Reg) CondBrKind { return CondBrKind{kind: condBrZero, reg: r} }

// CondNotZero branches when r is not zero.
func CondNotZero(r regalloc.Reg) CondBrKind { return CondBrKind{kind: condBrNotZero, reg: r} }

// CondFlag branches when the condition code holds.
func CondFlag(c Cond) CondBrKind { return CondBrKind{kind: condBrCond, cond: c} }

// Invert returns the opposite condition.
func (k CondBrKind) Invert() CondBrKind {
	switch k.kind {
	case condBrZero:
		return CondNotZero(k.reg)
	case condBrNotZero:
		return CondZero(k.reg)
	case condBrCond:
		return CondFlag(k.cond.Invert())
	}
	invariant.Panicf("invalid CondBrKind %d", k.kind)
	return CondBrKind{}
}

// Reg returns the tested register, or false for condition-code tests.
func (k CondBrKind) Reg() (regalloc.Reg, bool) {
	return k.reg, k.kind == condBrZero || k.kind == condBrNotZero
}

func (k CondBrKind) withReg(r regalloc.Reg) CondBrKind {
	k.reg = r
	return k
}

func (k CondBrKind) show(target string, rru *regalloc.RealRegUniverse) string {
	switch k.kind {
	case condBrZero:
		return fmt.Sprintf("cbz %s, %s", showReg(k.reg, rru), target)
	case condBrNotZero:
		return fmt.Sprintf("cbnz %s, %s", showReg(k.reg, rru), target)
	case condBrCond:
		return fmt.Sprintf("b.%s %s", k.cond, target)
	}
	invariant.Panicf("invalid CondBrKind %d", k.kind)
	return ""
}

// BranchTarget is the destination of a branch: a block, until block offsets are known, then a
// byte offset relative to the branch.
type BranchTarget struct {
	block    backend.BlockIndex
	offset   int64
	resolved bool
}

// TargetBlock returns a branch target referring to a block.
func TargetBlock(b backend.BlockIndex) BranchTarget { return BranchTarget{block: b} }

// TargetResolved returns a branch target at a byte offset from the branch.
func TargetResolved(offset int64) BranchTarget { return BranchTarget{offset: offset, resolved: true} }

// AsBlockIndex returns the block of an unresolved target.
func (t BranchTarget) AsBlockIndex() (backend.BlockIndex, bool) {
	return t.block, !t.resolved
}

// Map renumbers the block of an unresolved target. Resolved targets are returned unchanged.
func (t BranchTarget) Map(remap []backend.BlockIndex) BranchTarget {
	if t.resolved {
		return t
	}
	return TargetBlock(remap[t.block])
}

// Lower resolves the target for a branch located at myOffset.
func (t BranchTarget) Lower(targets []backend.CodeOffset, myOffset backend.CodeOffset) BranchTarget {
	if t.resolved {
		return t
	}
	return TargetResolved(int64(targets[t.block]) - int64(myOffset))
}

// AsOffset26 returns the 26-bit word offset field of b and bl.
func (t BranchTarget) AsOffset26() uint32 {
	return t.asOffset(26)
}

// AsOffset19 returns the 19-bit word offset field of b.cond, cbz and cbnz.
func (t BranchTarget) AsOffset19() uint32 {
	return t.asOffset(19)
}

func (t BranchTarget) asOffset(width uint) uint32 {
	if !t.resolved {
		invariant.Panicf("branch to block%d is not resolved", t.block)
	}
	if t.offset%4 != 0 {
		invariant.Panicf("branch offset %d is not a multiple of 4", t.offset)
	}
	words := t.offset / 4
	if limit := int64(1) << (width - 1); words < -limit || words >= limit {
		invariant.Panicf("branch offset %d does not fit in %d bits", t.offset, width)
	}
	return uint32(words) & (1<<width - 1)
}

// String implements fmt.Stringer.
func (t BranchTarget) String() string {
	if t.resolved {
		return fmt.Sprintf("%d", t.offset)
	}
	return fmt.Sprintf("block%d", t.block)
}

// MemLabel is a PC-relative memory location: constant data to be placed in the constant pool,
// or, once placed, a byte offset from the instruction.
type MemLabel struct {
	data     []byte
	pcRel    int64
	resolved bool
}

// ConstantData returns a label referring to data which is yet to be placed.
func ConstantData(data []byte) MemLabel { return MemLabel{data: data} }

// PCRel returns a label at a byte offset from the instruction.
func PCRel(offset int64) MemLabel { return MemLabel{pcRel: offset, resolved: true} }

// String implements fmt.Stringer.
func (l MemLabel) String() string {
	if l.resolved {
		return fmt.Sprintf("pc%+d", l.pcRel)
	}
	return fmt.Sprintf("const(%d bytes)", len(l.data))
}

type memArgKind byte

const (
	memArgInvalid memArgKind = iota
	memArgBase
	memArgBaseSImm9
	memArgBaseUImm12Scaled
	memArgBasePlusReg
	memArgBasePlusRegScaled
	memArgBasePlusRegScaledExtended
	memArgLabel
	memArgPreIndexed
	memArgPostIndexed
	memArgStackOffset
)

// MemArg is the addressing mode of a single-register load or store.
type MemArg struct {
	kind   memArgKind
	rn, rm regalloc.Reg
	// wrn is the base of pre/post-indexed modes, which is written back.
	wrn   regalloc.Writable
	simm9 SImm9
	uimm  UImm12Scaled
	ty    ir.Type
	ext   ExtendOp
	label MemLabel
	off   int64
}

// MemBase is [rn].
func MemBase(rn regalloc.Reg) MemArg { return MemArg{kind: memArgBase, rn: rn} }

// MemBaseSImm9 is [rn, #simm9], unscaled.
func MemBaseSImm9(rn regalloc.Reg, imm SImm9) MemArg {
	return MemArg{kind: memArgBaseSImm9, rn: rn, simm9: imm}
}

// MemBaseUImm12Scaled is [rn, #imm], where imm is scaled by the access size.
func MemBaseUImm12Scaled(rn regalloc.Reg, imm UImm12Scaled) MemArg {
	return MemArg{kind: memArgBaseUImm12Scaled, rn: rn, uimm: imm}
}

// MemBasePlusReg is [rn, rm].
func MemBasePlusReg(rn, rm regalloc.Reg) MemArg {
	return MemArg{kind: memArgBasePlusReg, rn: rn, rm: rm}
}

// MemBasePlusRegScaled is [rn, rm, lsl #log2(size of ty)].
func MemBasePlusRegScaled(rn, rm regalloc.Reg, ty ir.Type) MemArg {
	return MemArg{kind: memArgBasePlusRegScaled, rn: rn, rm: rm, ty: ty}
}

// MemBasePlusRegScaledExtended is [rn, rm, ext #log2(size of ty)], where rm is a 32-bit index
// for UXTW and SXTW.
func MemBasePlusRegScaledExtended(rn, rm regalloc.Reg, ty ir.Type, ext ExtendOp) MemArg {
	return MemArg{kind: memArgBasePlusRegScaledExtended, rn: rn, rm: rm, ty: ty, ext: ext}
}

// MemLabelRef is a PC-relative location.
func MemLabelRef(l MemLabel) MemArg { return MemArg{kind: memArgLabel, label: l} }

// MemPreIndexed is [rn, #simm9]!: rn is incremented before the access.
func MemPreIndexed(rn regalloc.Writable, imm SImm9) MemArg {
	return MemArg{kind: memArgPreIndexed, wrn: rn, simm9: imm}
}

// MemPostIndexed is [rn], #simm9: rn is incremented after the access.
func MemPostIndexed(rn regalloc.Writable, imm SImm9) MemArg {
	return MemArg{kind: memArgPostIndexed, wrn: rn, simm9: imm}
}

// MemStackOffset is an offset from the frame pointer, resolved to a real addressing mode by
// MemFinalize.
func MemStackOffset(off int64) MemArg { return MemArg{kind: memArgStackOffset, off: off} }

// isUnscaledBase returns true for the modes accessed with the unscaled-offset mnemonics.
func (m MemArg) isUnscaledBase() bool {
	return m.kind == memArgBase || m.kind == memArgBaseSImm9
}

func (m MemArg) regs(uses *regalloc.InstRegUses) {
	switch m.kind {
	case memArgBase, memArgBaseSImm9, memArgBaseUImm12Scaled:
		uses.Used.Insert(m.rn)
	case memArgBasePlusReg, memArgBasePlusRegScaled, memArgBasePlusRegScaledExtended:
		uses.Used.Insert(m.rn)
		uses.Used.Insert(m.rm)
	case memArgLabel:
	case memArgPreIndexed, memArgPostIndexed:
		uses.Modified.Insert(m.wrn)
	case memArgStackOffset:
		uses.Used.Insert(FPReg())
	default:
		invariant.Panicf("invalid MemArg kind %d", m.kind)
	}
}

func (m MemArg) mapRegs(pre regalloc.Map) MemArg {
	switch m.kind {
	case memArgBase, memArgBaseSImm9, memArgBaseUImm12Scaled:
		m.rn = mapReg(pre, m.rn)
	case memArgBasePlusReg, memArgBasePlusRegScaled, memArgBasePlusRegScaledExtended:
		m.rn = mapReg(pre, m.rn)
		m.rm = mapReg(pre, m.rm)
	case memArgPreIndexed, memArgPostIndexed:
		// Read and written in one step, so only the pre map applies.
		m.wrn = mapWritable(pre, m.wrn)
	}
	return m
}

// show renders the mode for an access of size bytes. Stack offsets must have been finalized.
func (m MemArg) show(rru *regalloc.RealRegUniverse, size uint) string {
	switch m.kind {
	case memArgBase:
		return fmt.Sprintf("[%s]", showReg(m.rn, rru))
	case memArgBaseSImm9:
		if m.simm9.Value != 0 {
			return fmt.Sprintf("[%s, %s]", showReg(m.rn, rru), m.simm9)
		}
		return fmt.Sprintf("[%s]", showReg(m.rn, rru))
	case memArgBaseUImm12Scaled:
		if m.uimm.Value != 0 {
			return fmt.Sprintf("[%s, %s]", showReg(m.rn, rru), m.uimm)
		}
		return fmt.Sprintf("[%s]", showReg(m.rn, rru))
	case memArgBasePlusReg:
		return fmt.Sprintf("[%s, %s]", showReg(m.rn, rru), showReg(m.rm, rru))
	case memArgBasePlusRegScaled:
		return fmt.Sprintf("[%s, %s, lsl #%d]", showReg(m.rn, rru), showReg(m.rm, rru), shiftForSize(m.ty.Bytes()))
	case memArgBasePlusRegScaledExtended:
		is32 := m.ext == ExtendOpUXTW || m.ext == ExtendOpSXTW
		return fmt.Sprintf("[%s, %s, %s #%d]", showReg(m.rn, rru), showRegSized(m.rm, rru, is32), m.ext, shiftForSize(m.ty.Bytes()))
	case memArgLabel:
		return m.label.String()
	case memArgPreIndexed:
		return fmt.Sprintf("[%s, %s]!", showReg(m.wrn.ToReg(), rru), m.simm9)
	case memArgPostIndexed:
		return fmt.Sprintf("[%s], %s", showReg(m.wrn.ToReg(), rru), m.simm9)
	case memArgStackOffset:
		invariant.Panicf("stack offset %d rendered before finalization", m.off)
	}
	invariant.Panicf("invalid MemArg kind %d", m.kind)
	return ""
}

func shiftForSize(size uint) int {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	case 8:
		return 3
	case 16:
		return 4
	}
	invariant.Panicf("invalid access size %d", size)
	return 0
}

type pairMemArgKind byte

const (
	pairMemArgSignedOffset pairMemArgKind = iota + 1
	pairMemArgPreIndexed
	pairMemArgPostIndexed
)

// PairMemArg is the addressing mode of a load or store of a register pair.
type PairMemArg struct {
	kind  pairMemArgKind
	rn    regalloc.Reg
	wrn   regalloc.Writable
	simm7 SImm7Scaled
}

// PairSignedOffset is [rn, #simm7].
func PairSignedOffset(rn regalloc.Reg, imm SImm7Scaled) PairMemArg {
	return PairMemArg{kind: pairMemArgSignedOffset, rn: rn, simm7: imm}
}

// PairPreIndexed is [rn, #simm7]!.
func PairPreIndexed(rn regalloc.Writable, imm SImm7Scaled) PairMemArg {
	return PairMemArg{kind: pairMemArgPreIndexed, wrn: rn, simm7: imm}
}

// PairPostIndexed is [rn], #simm7.
func PairPostIndexed(rn regalloc.Writable, imm SImm7Scaled) PairMemArg {
	return PairMemArg{kind: pairMemArgPostIndexed, wrn: rn, simm7: imm}
}

func (m PairMemArg) regs(uses *regalloc.InstRegUses) {
	switch m.kind {
	case pairMemArgSignedOffset:
		uses.Used.Insert(m.rn)
	case pairMemArgPreIndexed, pairMemArgPostIndexed:
		uses.Modified.Insert(m.wrn)
	default:
		invariant.Panicf("invalid PairMemArg kind %d", m.kind)
	}
}

func (m PairMemArg) mapRegs(pre regalloc.Map) PairMemArg {
	switch m.kind {
	case pairMemArgSignedOffset:
		m.rn = mapReg(pre, m.rn)
	case pairMemArgPreIndexed, pairMemArgPostIndexed:
		m.wrn = mapWritable(pre, m.wrn)
	}
	return m
}

func (m PairMemArg) base() regalloc.Reg {
	if m.kind == pairMemArgSignedOffset {
		return m.rn
	}
	return m.wrn.ToReg()
}

// show renders the mode for a pair of accesses of size bytes each.
func (m PairMemArg) show(rru *regalloc.RealRegUniverse, size uint) string {
	if uint(m.simm7.Ty.Bytes()) != size {
		invariant.Panicf("pair offset scaled by %d bytes used for %d-byte accesses", m.simm7.Ty.Bytes(), size)
	}
	base := showReg(m.base(), rru)
	switch m.kind {
	case pairMemArgSignedOffset:
		if m.simm7.Value != 0 {
			return fmt.Sprintf("[%s, %s]", base, m.simm7)
		}
		return fmt.Sprintf("[%s]", base)
	case pairMemArgPreIndexed:
		return fmt.Sprintf("[%s, %s]!", base, m.simm7)
	case pairMemArgPostIndexed:
		return fmt.Sprintf("[%s], %s", base, m.simm7)
	}
	invariant.Panicf("invalid PairMemArg kind %d", m.kind)
	return ""
}
