// Package testcases is a catalogue of arm64 functions whose instructions are already selected,
// with virtual registers left for the register allocator.
//
// Virtual registers are never live across a call: calls do not report the registers they
// clobber.
package testcases

import (
	"github.com/tetratelabs/machinst/internal/backend"
	"github.com/tetratelabs/machinst/internal/backend/isa/arm64"
	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/ir"
)

var (
	OnlyReturn = TestCase{
		Name: "only_return",
		Doc:  "returns immediately",
		Build: func(b *backend.VCodeBuilder[arm64.Inst]) {
			b.StartBlock()
			b.Push(arm64.NewRet())
		},
	}
	AddConsts = TestCase{
		Name: "add_consts",
		Doc:  "returns 40 + 2",
		Build: func(b *backend.VCodeBuilder[arm64.Inst]) {
			b.StartBlock()
			b.Push(
				arm64.NewMovZ(w(0), moveWide(40)),
				arm64.NewMovZ(w(1), moveWide(2)),
				arm64.NewAluRRR(arm64.ALUOpAdd64, w(2), v(0), v(1)),
				arm64.NewMov(x0, v(2)),
				arm64.NewRet(),
			)
		},
	}
	Select = TestCase{
		Name: "select",
		Doc:  "returns x0+1 if x0 is not zero, x0-1 otherwise",
		Build: func(b *backend.VCodeBuilder[arm64.Inst]) {
			b.StartBlock()
			b.Push(
				arm64.NewMov(w(0), arm64.XReg(0)),
				arm64.NewCondBr(arm64.TargetBlock(1), arm64.TargetBlock(2), arm64.CondNotZero(v(0))),
			)
			b.StartBlock()
			b.Push(
				arm64.NewAluRRImm12(arm64.ALUOpAdd64, x0, v(0), imm12(1)),
				arm64.NewJump(arm64.TargetBlock(3)),
			)
			b.StartBlock()
			b.Push(
				arm64.NewAluRRImm12(arm64.ALUOpSub64, x0, v(0), imm12(1)),
				arm64.NewJump(arm64.TargetBlock(3)),
			)
			b.StartBlock()
			b.Push(arm64.NewRet())
		},
	}
	Max = TestCase{
		Name: "max",
		Doc:  "returns the signed maximum of x0 and x1",
		Build: func(b *backend.VCodeBuilder[arm64.Inst]) {
			b.StartBlock()
			b.Push(
				arm64.NewMov(w(0), arm64.XReg(0)),
				arm64.NewMov(w(1), arm64.XReg(1)),
				arm64.NewAluRRR(arm64.ALUOpSubS64, regalloc.WritableReg(arm64.ZeroReg()), v(0), v(1)),
				arm64.NewCondBr(arm64.TargetBlock(1), arm64.TargetBlock(2), arm64.CondFlag(arm64.CondGe)),
			)
			b.StartBlock()
			b.Push(
				arm64.NewMov(x0, v(0)),
				arm64.NewJump(arm64.TargetBlock(3)),
			)
			b.StartBlock()
			b.Push(
				arm64.NewMov(x0, v(1)),
				arm64.NewJump(arm64.TargetBlock(3)),
			)
			b.StartBlock()
			b.Push(arm64.NewRet())
		},
	}
	SumLoop = TestCase{
		Name: "sum_loop",
		Doc:  "returns the sum of 1..x0",
		Build: func(b *backend.VCodeBuilder[arm64.Inst]) {
			b.StartBlock()
			b.Push(
				arm64.NewMovZ(w(0), moveWide(0)),
				arm64.NewMov(w(1), arm64.XReg(0)),
				arm64.NewJump(arm64.TargetBlock(1)),
			)
			b.StartBlock()
			b.Push(arm64.NewCondBr(arm64.TargetBlock(3), arm64.TargetBlock(2), arm64.CondZero(v(1))))
			b.StartBlock()
			b.Push(
				arm64.NewAluRRR(arm64.ALUOpAdd64, w(0), v(0), v(1)),
				arm64.NewAluRRImm12(arm64.ALUOpSub64, w(1), v(1), imm12(1)),
				arm64.NewJump(arm64.TargetBlock(1)),
			)
			b.StartBlock()
			b.Push(
				arm64.NewMov(x0, v(0)),
				arm64.NewRet(),
			)
		},
	}
	ForwardJumps = TestCase{
		Name: "forward_jumps",
		Doc:  "jumps over a block which is laid out last by the fallthrough order",
		Build: func(b *backend.VCodeBuilder[arm64.Inst]) {
			b.StartBlock()
			b.Push(arm64.NewJump(arm64.TargetBlock(2)))
			b.StartBlock()
			b.Push(arm64.NewRet())
			b.StartBlock()
			b.Push(
				arm64.NewMovZ(x0, moveWide(7)),
				arm64.NewJump(arm64.TargetBlock(1)),
			)
		},
	}
	Memory = TestCase{
		Name: "memory",
		Doc:  "loads and stores with every addressing mode",
		Build: func(b *backend.VCodeBuilder[arm64.Inst]) {
			b.StartBlock()
			b.Push(prologue()...)
			b.Push(
				arm64.NewULoad64(w(0), arm64.MemStackOffset(16)),
				arm64.NewULoad64(w(1), arm64.MemBaseUImm12Scaled(arm64.XReg(0), uimm12(8, ir.TypeI64))),
				arm64.NewSLoad32(w(2), arm64.MemBasePlusRegScaled(arm64.XReg(0), arm64.XReg(1), ir.TypeI32)),
				arm64.NewULoad16(w(3), arm64.MemBasePlusRegScaledExtended(arm64.XReg(0), arm64.XReg(1), ir.TypeI16, arm64.ExtendOpUXTW)),
				arm64.NewULoad64(w(4), arm64.MemLabelRef(arm64.ConstantData([]byte{0xef, 0xbe, 0xad, 0xde, 0, 0, 0, 0}))),
				arm64.NewULoad8(w(5), arm64.MemBaseSImm9(arm64.XReg(0), simm9(-1))),
				arm64.NewAluRRR(arm64.ALUOpAdd64, w(6), v(0), v(1)),
				arm64.NewAluRRR(arm64.ALUOpAdd64, w(6), v(6), v(2)),
				arm64.NewAluRRR(arm64.ALUOpAdd64, w(6), v(6), v(3)),
				arm64.NewAluRRR(arm64.ALUOpAdd64, w(6), v(6), v(4)),
				arm64.NewAluRRR(arm64.ALUOpAdd64, w(6), v(6), v(5)),
				arm64.NewStore64(v(6), arm64.MemStackOffset(0x10000)),
				arm64.NewStore32(v(6), arm64.MemBase(arm64.XReg(1))),
				arm64.NewStore8(v(6), arm64.MemPreIndexed(arm64.WritableXReg(0), simm9(-1))),
				arm64.NewStore64(v(6), arm64.MemPostIndexed(arm64.WritableXReg(1), simm9(8))),
				arm64.NewMov(x0, v(6)),
			)
			b.Push(epilogue()...)
		},
	}
	Call = TestCase{
		Name: "call",
		Doc:  "calls a symbol, then a function pointer loaded from [x0]",
		Build: func(b *backend.VCodeBuilder[arm64.Inst]) {
			b.StartBlock()
			b.Push(prologue()...)
			b.Push(
				arm64.NewStore64(arm64.XReg(0), arm64.MemStackOffset(-8)),
				arm64.NewCall(ir.SymbolName("callee"), &ir.Stackmap{Bits: []bool{true, false}}),
				arm64.NewULoad64(w(0), arm64.MemStackOffset(-8)),
				arm64.NewULoad64(w(1), arm64.MemBase(v(0))),
				arm64.NewCallInd(v(1)),
				arm64.NewCall(ir.UserName(0, 1), nil),
			)
			b.Push(epilogue()...)
		},
	}
	TrapIfZero = TestCase{
		Name: "trap_if_zero",
		Doc:  "traps with a division by zero if x1 is zero, returns x0 otherwise",
		Build: func(b *backend.VCodeBuilder[arm64.Inst]) {
			b.StartBlock()
			b.Push(arm64.NewCondBr(arm64.TargetBlock(1), arm64.TargetBlock(2), arm64.CondZero(arm64.XReg(1))))
			b.StartBlock()
			b.Push(
				arm64.NewUdf(ir.TrapCodeIntegerDivisionByZero),
				arm64.NewRet(),
			)
			b.StartBlock()
			b.Push(arm64.NewRet())
		},
	}
)

// All lists every TestCase, in catalogue order.
var All = []TestCase{
	OnlyReturn,
	AddConsts,
	Select,
	Max,
	SumLoop,
	ForwardJumps,
	Memory,
	Call,
	TrapIfZero,
}

// TestCase is a function given by its arm64 instructions.
type TestCase struct {
	Name string
	// Doc is a one-line description of what the function computes.
	Doc   string
	Build func(b *backend.VCodeBuilder[arm64.Inst])
}

// VCode builds the function for the target.
func (c TestCase) VCode(isa *arm64.Backend) *backend.VCode[arm64.Inst] {
	b := backend.NewVCodeBuilder[arm64.Inst](isa)
	c.Build(b)
	return b.Build()
}

// Lookup returns the TestCase with the given name.
func Lookup(name string) (TestCase, bool) {
	for _, c := range All {
		if c.Name == name {
			return c, true
		}
	}
	return TestCase{}, false
}

var x0 = arm64.WritableXReg(0)

func v(n uint32) regalloc.Reg { return regalloc.NewVirtualReg(regalloc.RegClassI64, n).ToReg() }

func w(n uint32) regalloc.Writable { return regalloc.WritableReg(v(n)) }

// prologue saves the frame pointer and the link register, and sets up the frame pointer.
func prologue() []arm64.Inst {
	return []arm64.Inst{
		arm64.NewStoreP64(arm64.FPReg(), arm64.LinkReg(), arm64.PairPreIndexed(arm64.WritableStackReg(), simm7(-16))),
		arm64.NewAluRRImm12(arm64.ALUOpAdd64, regalloc.WritableReg(arm64.FPReg()), arm64.StackReg(), imm12(0)),
	}
}

func epilogue() []arm64.Inst {
	return []arm64.Inst{
		arm64.NewLoadP64(regalloc.WritableReg(arm64.FPReg()), regalloc.WritableReg(arm64.LinkReg()),
			arm64.PairPostIndexed(arm64.WritableStackReg(), simm7(16))),
		arm64.NewRet(),
	}
}

func imm12(val uint64) arm64.Imm12 {
	i, ok := arm64.MaybeImm12FromU64(val)
	if !ok {
		panic(val)
	}
	return i
}

func moveWide(val uint64) arm64.MoveWideConst {
	m, ok := arm64.MaybeMoveWideConstFromU64(val)
	if !ok {
		panic(val)
	}
	return m
}

func simm9(val int64) arm64.SImm9 {
	s, ok := arm64.MaybeSImm9FromI64(val)
	if !ok {
		panic(val)
	}
	return s
}

func simm7(val int64) arm64.SImm7Scaled {
	s, ok := arm64.MaybeSImm7ScaledFromI64(val, ir.TypeI64)
	if !ok {
		panic(val)
	}
	return s
}

func uimm12(val int64, ty ir.Type) arm64.UImm12Scaled {
	u, ok := arm64.MaybeUImm12ScaledFromI64(val, ty)
	if !ok {
		panic(val)
	}
	return u
}
