package arm64

import (
	"github.com/tetratelabs/machinst/internal/backend"
	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/invariant"
	"github.com/tetratelabs/machinst/internal/ir"
)

type (
	// Inst is an arm64 machine instruction, or a pseudo-instruction of zero or one instruction
	// size.
	//
	// Inst is a value: every transformation (register rewriting, branch lowering, offset
	// resolution) returns a new Inst and leaves the receiver unchanged. Each field is interpreted
	// depending on the kind, and is only set by the New... constructor of that kind.
	Inst struct {
		kind  instKind
		aluOp ALUOp
		// rd and rd2 are the destinations.
		rd, rd2 regalloc.Writable
		// rn, rm and ra are the register sources, rt and rt2 the stored registers.
		rn, rm, ra regalloc.Reg
		rt, rt2    regalloc.Reg

		imm12    Imm12
		imml     ImmLogic
		immShift ImmShift
		shift    ShiftOpAndAmt
		ext      ExtendOp
		moveWide MoveWideConst

		mem     MemArg
		pairMem PairMemArg

		// taken is the target of jumps and lowered conditional branches.
		taken, notTaken BranchTarget
		inverted        bool
		cond            CondBrKind

		callee   ir.ExternalName
		stackmap *ir.Stackmap
		trap     ir.TrapCode
	}

	// instKind is the kind of an Inst.
	instKind byte
)

const (
	// kindNop is a no-op of zero size.
	kindNop instKind = iota + 1
	// kindNop4 is a no-op one instruction large.
	kindNop4
	kindAluRRR
	kindAluRRRR
	kindAluRRImm12
	kindAluRRImmLogic
	kindAluRRImmShift
	kindAluRRRShift
	kindAluRRRExtend
	kindULoad8
	kindSLoad8
	kindULoad16
	kindSLoad16
	kindULoad32
	kindSLoad32
	kindULoad64
	kindStore8
	kindStore16
	kindStore32
	kindStore64
	kindStoreP64
	kindLoadP64
	// kindMov is encoded as orr with xzr (or add #0 when sp is involved), and kept apart from
	// the ALU forms so that moves are recognized directly.
	kindMov
	kindMovZ
	kindMovN
	kindCall
	kindCallInd
	kindRet
	kindJump
	// kindCondBr is a conditional branch with both targets explicit. Branch lowering turns it
	// into kindCondBrLowered or kindCondBrLoweredCompound once the block layout is known.
	kindCondBr
	// kindCondBrLowered branches to taken on cond (or its inverse when inverted), and falls
	// through to the next instruction otherwise.
	kindCondBrLowered
	// kindCondBrLoweredCompound is a conditional branch to taken followed by an unconditional
	// branch to notTaken, used when neither target is the next block.
	kindCondBrLoweredCompound
	// kindUdf is a permanently undefined instruction which traps.
	kindUdf
)

// String implements fmt.Stringer.
func (k instKind) String() string {
	switch k {
	case kindNop:
		return "Nop"
	case kindNop4:
		return "Nop4"
	case kindAluRRR:
		return "AluRRR"
	case kindAluRRRR:
		return "AluRRRR"
	case kindAluRRImm12:
		return "AluRRImm12"
	case kindAluRRImmLogic:
		return "AluRRImmLogic"
	case kindAluRRImmShift:
		return "AluRRImmShift"
	case kindAluRRRShift:
		return "AluRRRShift"
	case kindAluRRRExtend:
		return "AluRRRExtend"
	case kindULoad8:
		return "ULoad8"
	case kindSLoad8:
		return "SLoad8"
	case kindULoad16:
		return "ULoad16"
	case kindSLoad16:
		return "SLoad16"
	case kindULoad32:
		return "ULoad32"
	case kindSLoad32:
		return "SLoad32"
	case kindULoad64:
		return "ULoad64"
	case kindStore8:
		return "Store8"
	case kindStore16:
		return "Store16"
	case kindStore32:
		return "Store32"
	case kindStore64:
		return "Store64"
	case kindStoreP64:
		return "StoreP64"
	case kindLoadP64:
		return "LoadP64"
	case kindMov:
		return "Mov"
	case kindMovZ:
		return "MovZ"
	case kindMovN:
		return "MovN"
	case kindCall:
		return "Call"
	case kindCallInd:
		return "CallInd"
	case kindRet:
		return "Ret"
	case kindJump:
		return "Jump"
	case kindCondBr:
		return "CondBr"
	case kindCondBrLowered:
		return "CondBrLowered"
	case kindCondBrLoweredCompound:
		return "CondBrLoweredCompound"
	case kindUdf:
		return "Udf"
	default:
		return "invalid"
	}
}

// ALUOp is an arithmetic or logical operation, qualified by its width. It can be paired with any
// of the ALU instruction forms the encoding allows.
type ALUOp byte

const (
	ALUOpAdd32 ALUOp = iota + 1
	ALUOpAdd64
	ALUOpSub32
	ALUOpSub64
	ALUOpOrr32
	ALUOpOrr64
	ALUOpAnd32
	ALUOpAnd64
	ALUOpAddS32
	ALUOpAddS64
	ALUOpSubS32
	ALUOpSubS64
	// ALUOpMAdd32 and ALUOpMAdd64 are multiply-add: rd = ra + rn * rm.
	ALUOpMAdd32
	ALUOpMAdd64
	ALUOpEor32
	ALUOpEor64
	ALUOpLsl32
	ALUOpLsl64
	ALUOpLsr32
	ALUOpLsr64
	ALUOpAsr32
	ALUOpAsr64
)

// mnemonic returns the assembly mnemonic of the operation and whether it operates on 32 bits.
func (op ALUOp) mnemonic() (string, bool) {
	switch op {
	case ALUOpAdd32:
		return "add", true
	case ALUOpAdd64:
		return "add", false
	case ALUOpSub32:
		return "sub", true
	case ALUOpSub64:
		return "sub", false
	case ALUOpOrr32:
		return "orr", true
	case ALUOpOrr64:
		return "orr", false
	case ALUOpAnd32:
		return "and", true
	case ALUOpAnd64:
		return "and", false
	case ALUOpAddS32:
		return "adds", true
	case ALUOpAddS64:
		return "adds", false
	case ALUOpSubS32:
		return "subs", true
	case ALUOpSubS64:
		return "subs", false
	case ALUOpMAdd32:
		return "madd", true
	case ALUOpMAdd64:
		return "madd", false
	case ALUOpEor32:
		return "eor", true
	case ALUOpEor64:
		return "eor", false
	case ALUOpLsl32:
		return "lsl", true
	case ALUOpLsl64:
		return "lsl", false
	case ALUOpLsr32:
		return "lsr", true
	case ALUOpLsr64:
		return "lsr", false
	case ALUOpAsr32:
		return "asr", true
	case ALUOpAsr64:
		return "asr", false
	}
	invariant.Panicf("invalid ALUOp %d", op)
	return "", false
}

// String implements fmt.Stringer.
func (op ALUOp) String() string {
	m, is32 := op.mnemonic()
	if is32 {
		return m + "32"
	}
	return m + "64"
}

// Is64 returns true if the operation is on 64-bit registers.
func (op ALUOp) Is64() bool {
	_, is32 := op.mnemonic()
	return !is32
}

// NewNop returns the zero-size no-op.
func NewNop() Inst { return Inst{kind: kindNop} }

// NewNop4 returns the one-instruction no-op.
func NewNop4() Inst { return Inst{kind: kindNop4} }

// NewAluRRR returns rd = rn op rm.
func NewAluRRR(op ALUOp, rd regalloc.Writable, rn, rm regalloc.Reg) Inst {
	return Inst{kind: kindAluRRR, aluOp: op, rd: rd, rn: rn, rm: rm}
}

// NewAluRRRR returns rd = rn op rm op ra, e.g. madd.
func NewAluRRRR(op ALUOp, rd regalloc.Writable, rn, rm, ra regalloc.Reg) Inst {
	return Inst{kind: kindAluRRRR, aluOp: op, rd: rd, rn: rn, rm: rm, ra: ra}
}

// NewAluRRImm12 returns rd = rn op imm12.
func NewAluRRImm12(op ALUOp, rd regalloc.Writable, rn regalloc.Reg, imm12 Imm12) Inst {
	return Inst{kind: kindAluRRImm12, aluOp: op, rd: rd, rn: rn, imm12: imm12}
}

// NewAluRRImmLogic returns rd = rn op imml.
func NewAluRRImmLogic(op ALUOp, rd regalloc.Writable, rn regalloc.Reg, imml ImmLogic) Inst {
	return Inst{kind: kindAluRRImmLogic, aluOp: op, rd: rd, rn: rn, imml: imml}
}

// NewAluRRImmShift returns rd = rn op immshift.
func NewAluRRImmShift(op ALUOp, rd regalloc.Writable, rn regalloc.Reg, immShift ImmShift) Inst {
	return Inst{kind: kindAluRRImmShift, aluOp: op, rd: rd, rn: rn, immShift: immShift}
}

// NewAluRRRShift returns rd = rn op (rm shifted).
func NewAluRRRShift(op ALUOp, rd regalloc.Writable, rn, rm regalloc.Reg, shift ShiftOpAndAmt) Inst {
	return Inst{kind: kindAluRRRShift, aluOp: op, rd: rd, rn: rn, rm: rm, shift: shift}
}

// NewAluRRRExtend returns rd = rn op (rm extended).
func NewAluRRRExtend(op ALUOp, rd regalloc.Writable, rn, rm regalloc.Reg, ext ExtendOp) Inst {
	return Inst{kind: kindAluRRRExtend, aluOp: op, rd: rd, rn: rn, rm: rm, ext: ext}
}

func newLoad(kind instKind, rd regalloc.Writable, mem MemArg) Inst {
	return Inst{kind: kind, rd: rd, mem: mem}
}

// NewULoad8 returns a zero-extending 8-bit load.
func NewULoad8(rd regalloc.Writable, mem MemArg) Inst { return newLoad(kindULoad8, rd, mem) }

// NewSLoad8 returns a sign-extending 8-bit load.
func NewSLoad8(rd regalloc.Writable, mem MemArg) Inst { return newLoad(kindSLoad8, rd, mem) }

// NewULoad16 returns a zero-extending 16-bit load.
func NewULoad16(rd regalloc.Writable, mem MemArg) Inst { return newLoad(kindULoad16, rd, mem) }

// NewSLoad16 returns a sign-extending 16-bit load.
func NewSLoad16(rd regalloc.Writable, mem MemArg) Inst { return newLoad(kindSLoad16, rd, mem) }

// NewULoad32 returns a zero-extending 32-bit load.
func NewULoad32(rd regalloc.Writable, mem MemArg) Inst { return newLoad(kindULoad32, rd, mem) }

// NewSLoad32 returns a sign-extending 32-bit load.
func NewSLoad32(rd regalloc.Writable, mem MemArg) Inst { return newLoad(kindSLoad32, rd, mem) }

// NewULoad64 returns a 64-bit load.
func NewULoad64(rd regalloc.Writable, mem MemArg) Inst { return newLoad(kindULoad64, rd, mem) }

func newStore(kind instKind, rt regalloc.Reg, mem MemArg) Inst {
	return Inst{kind: kind, rt: rt, mem: mem}
}

// NewStore8 returns an 8-bit store of rt.
func NewStore8(rt regalloc.Reg, mem MemArg) Inst { return newStore(kindStore8, rt, mem) }

// NewStore16 returns a 16-bit store of rt.
func NewStore16(rt regalloc.Reg, mem MemArg) Inst { return newStore(kindStore16, rt, mem) }

// NewStore32 returns a 32-bit store of rt.
func NewStore32(rt regalloc.Reg, mem MemArg) Inst { return newStore(kindStore32, rt, mem) }

// NewStore64 returns a 64-bit store of rt.
func NewStore64(rt regalloc.Reg, mem MemArg) Inst { return newStore(kindStore64, rt, mem) }

// NewStoreP64 returns a store of the pair rt, rt2.
func NewStoreP64(rt, rt2 regalloc.Reg, mem PairMemArg) Inst {
	return Inst{kind: kindStoreP64, rt: rt, rt2: rt2, pairMem: mem}
}

// NewLoadP64 returns a load of the pair rt, rt2.
func NewLoadP64(rt, rt2 regalloc.Writable, mem PairMemArg) Inst {
	return Inst{kind: kindLoadP64, rd: rt, rd2: rt2, pairMem: mem}
}

// NewMov returns a 64-bit register to register move.
func NewMov(rd regalloc.Writable, rm regalloc.Reg) Inst {
	return Inst{kind: kindMov, rd: rd, rm: rm}
}

// NewMovZ returns rd = imm.
func NewMovZ(rd regalloc.Writable, imm MoveWideConst) Inst {
	return Inst{kind: kindMovZ, rd: rd, moveWide: imm}
}

// NewMovN returns rd = ^imm.
func NewMovN(rd regalloc.Writable, imm MoveWideConst) Inst {
	return Inst{kind: kindMovN, rd: rd, moveWide: imm}
}

// NewCall returns a direct call. The callee is resolved through a relocation, and stackmap, if
// not nil, describes the stack at the return address.
func NewCall(dest ir.ExternalName, stackmap *ir.Stackmap) Inst {
	return Inst{kind: kindCall, callee: dest, stackmap: stackmap}
}

// NewCallInd returns an indirect call to the address in rn.
func NewCallInd(rn regalloc.Reg) Inst { return Inst{kind: kindCallInd, rn: rn} }

// NewRet returns a return.
func NewRet() Inst { return Inst{kind: kindRet} }

// NewJump returns an unconditional branch.
func NewJump(dest BranchTarget) Inst { return Inst{kind: kindJump, taken: dest} }

// NewCondBr returns a conditional branch to taken if kind holds and to notTaken otherwise.
func NewCondBr(taken, notTaken BranchTarget, kind CondBrKind) Inst {
	return Inst{kind: kindCondBr, taken: taken, notTaken: notTaken, cond: kind}
}

// NewUdf returns an instruction which traps with the given code.
func NewUdf(code ir.TrapCode) Inst { return Inst{kind: kindUdf, trap: code} }

// IsNop returns true for the zero-size no-op.
func (i Inst) IsNop() bool { return i.kind == kindNop }

// Kind returns the name of the instruction form, e.g. "CondBrLowered".
func (i Inst) Kind() string { return i.kind.String() }

// LoweredBranch returns the target and inversion flag of a lowered conditional branch.
func (i Inst) LoweredBranch() (target BranchTarget, inverted, ok bool) {
	return i.taken, i.inverted, i.kind == kindCondBrLowered
}

// CompoundBranch returns the targets of a lowered compound branch.
func (i Inst) CompoundBranch() (taken, notTaken BranchTarget, ok bool) {
	return i.taken, i.notTaken, i.kind == kindCondBrLoweredCompound
}

// JumpTarget returns the target of an unconditional branch.
func (i Inst) JumpTarget() (BranchTarget, bool) {
	return i.taken, i.kind == kindJump
}

var _ backend.MachInst[Inst] = Inst{}
