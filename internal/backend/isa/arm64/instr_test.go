package arm64

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/machinst/internal/backend"
	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/ir"
)

func TestInst_Show(t *testing.T) {
	rru := NewRegUniverse()
	for _, tc := range []struct {
		i   Inst
		exp string
	}{
		{i: NewNop(), exp: ""},
		{i: NewNop4(), exp: "nop"},
		{i: NewAluRRR(ALUOpAdd32, wx0, x1, x2), exp: "add w0, w1, w2"},
		{i: NewAluRRR(ALUOpAdd64, wx0, x1, x2), exp: "add x0, x1, x2"},
		{i: NewAluRRR(ALUOpSubS64, wx0, x1, x2), exp: "subs x0, x1, x2"},
		{i: NewAluRRR(ALUOpAdd32, wvreg(0), vreg(1), vreg(2)), exp: "add v0?, v1?, v2?"},
		{i: NewAluRRRR(ALUOpMAdd64, wx0, x1, x2, x3), exp: "madd x0, x1, x2, x3"},
		{i: NewAluRRImm12(ALUOpAdd64, wx0, sp, imm12(0)), exp: "mov x0, sp"},
		{i: NewAluRRImm12(ALUOpAdd32, wx0, x1, imm12(0)), exp: "add w0, w1, #0"},
		{i: NewAluRRImm12(ALUOpSub64, wx0, x1, imm12(1)), exp: "sub x0, x1, #1"},
		{i: NewAluRRImm12(ALUOpAdd64, wx0, x1, imm12(1<<12)), exp: "add x0, x1, #1, LSL 12"},
		{i: NewAluRRImmLogic(ALUOpAnd64, wx0, x1, immLogic(0xff, true)), exp: "and x0, x1, #255"},
		{i: NewAluRRImmShift(ALUOpLsl64, wx0, x1, ImmShift{Imm: 3}), exp: "lsl x0, x1, #3"},
		{i: NewAluRRRShift(ALUOpAdd64, wx0, x1, x2, shift(ShiftOpLSL, 3)), exp: "add x0, x1, x2, LSL 3"},
		{i: NewAluRRRExtend(ALUOpAdd32, wx0, x1, x2, ExtendOpSXTB), exp: "add w0, w1, w2, SXTB"},
		{i: NewULoad64(wx0, MemBaseUImm12Scaled(x1, uimm12(8, ir.TypeI64))), exp: "ldr x0, [x1, #8]"},
		{i: NewULoad32(wx0, MemBase(x1)), exp: "ldur w0, [x1]"},
		{i: NewULoad8(wx0, MemBaseSImm9(x1, simm9(-1))), exp: "ldurb w0, [x1, #-1]"},
		{i: NewSLoad8(wx0, MemBase(x1)), exp: "ldursb x0, [x1]"},
		{i: NewSLoad16(wx0, MemBasePlusReg(x1, x2)), exp: "ldrsh x0, [x1, x2]"},
		{i: NewSLoad32(wx0, MemBasePlusRegScaled(x1, x2, ir.TypeI32)), exp: "ldrsw x0, [x1, x2, lsl #2]"},
		{
			i:   NewULoad16(wx0, MemBasePlusRegScaledExtended(x1, x2, ir.TypeI16, ExtendOpUXTW)),
			exp: "ldrh w0, [x1, w2, UXTW #1]",
		},
		{i: NewStore8(x0, MemPreIndexed(WritableXReg(1), simm9(-1))), exp: "sub x1, x1, #1 ; strb w0, [x1]"},
		{i: NewULoad64(wx0, MemPreIndexed(WritableStackReg(), simm9(16))), exp: "add sp, sp, #16 ; ldr x0, [sp]"},
		{i: NewStore32(x0, MemPreIndexed(WritableXReg(1), simm9(0))), exp: "sub x1, x1, #0 ; str w0, [x1]"},
		{i: NewStore16(x0, MemBase(x1)), exp: "sturh w0, [x1]"},
		{i: NewStore32(x0, MemBaseUImm12Scaled(x1, uimm12(4, ir.TypeI32))), exp: "str w0, [x1, #4]"},
		{i: NewStore64(x0, MemPostIndexed(WritableStackReg(), simm9(16))), exp: "str x0, [sp], #16"},
		{i: NewULoad64(wx0, MemStackOffset(16)), exp: "ldur x0, [fp, #16]"},
		{i: NewULoad64(wx0, MemStackOffset(0x1000)), exp: "ldr x16, pc+0 ; add x16, x16, fp ; ldur x0, [x16]"},
		{i: NewStore8(x0, MemStackOffset(-0x1000)), exp: "ldr x16, pc+0 ; add x16, x16, fp ; sturb w0, [x16]"},
		{i: NewULoad64(wx0, MemLabelRef(ConstantData(make([]byte, 8)))), exp: "ldr x0, pc+0"},
		{i: NewULoad64(wx0, MemLabelRef(PCRel(-8))), exp: "ldr x0, pc-8"},
		{i: NewStoreP64(fp, lr, PairPreIndexed(WritableStackReg(), simm7(-16))), exp: "stp fp, lr, [sp, #-16]!"},
		{i: NewStoreP64(x0, x1, PairSignedOffset(x2, simm7(0))), exp: "stp x0, x1, [x2]"},
		{
			i:   NewLoadP64(regalloc.WritableReg(fp), regalloc.WritableReg(lr), PairPostIndexed(WritableStackReg(), simm7(16))),
			exp: "ldp fp, lr, [sp], #16",
		},
		{i: NewMov(wx0, x1), exp: "mov x0, x1"},
		{i: NewMovZ(wx0, moveWide(1<<16)), exp: "movz x0, #1, LSL #16"},
		{i: NewMovN(wx0, moveWide(0)), exp: "movn x0, #0"},
		{i: NewCall(ir.SymbolName("f"), nil), exp: "bl !!"},
		{i: NewCallInd(x1), exp: "bl x1"},
		{i: NewRet(), exp: "ret"},
		{i: NewJump(TargetBlock(2)), exp: "b block2"},
		{i: NewJump(TargetResolved(-8)), exp: "b -8"},
		{i: NewCondBr(TargetBlock(1), TargetBlock(2), CondZero(x0)), exp: "cbz x0, block1 ; b block2"},
		{i: NewCondBr(TargetBlock(1), TargetBlock(2), CondNotZero(x0)), exp: "cbnz x0, block1 ; b block2"},
		{i: NewCondBr(TargetBlock(1), TargetBlock(2), CondFlag(CondLt)), exp: "b.lt block1 ; b block2"},
		{i: NewUdf(ir.TrapCodeUnreachable), exp: "udf ; trap=unreachable"},
	} {
		tc := tc
		t.Run(tc.exp, func(t *testing.T) {
			require.Equal(t, tc.exp, tc.i.Show(rru))
		})
	}
}

func TestInst_ShowWithConsts(t *testing.T) {
	rru := NewRegUniverse()
	pool := backend.NewConstantPool(64)
	s := NewULoad64(wx0, MemStackOffset(0x12345)).ShowWithConsts(rru, pool)
	require.Equal(t, "ldr x16, pc+64 ; add x16, x16, fp ; ldur x0, [x16]", s)
	require.Equal(t, []byte{0x45, 0x23, 0x01, 0, 0, 0, 0, 0}, pool.Data())
}

func TestInst_String(t *testing.T) {
	require.Equal(t, "add v0?, v1?, v2?", NewAluRRR(ALUOpAdd64, wvreg(0), vreg(1), vreg(2)).String())
	// Without a universe, real registers show with their index.
	require.Equal(t, "mov r0, r1", NewMov(wx0, x1).String())
}

func TestInst_invalidOperands(t *testing.T) {
	requireInvariantPanic(t, "invalid ALUOp 200", func() { _ = NewAluRRR(ALUOp(200), wx0, x1, x2).String() })
	requireInvariantPanic(t, "invalid ShiftOp 9", func() { _ = ShiftOp(9).String() })
	requireInvariantPanic(t, "invalid ExtendOp 9", func() { _ = ExtendOp(9).String() })
	requireInvariantPanic(t, "invalid Cond 99", func() { _ = Cond(99).String() })
	requireInvariantPanic(t, "invalid CondBrKind", func() { CondBrKind{}.Invert() })
	requireInvariantPanic(t, "invalid MemArg kind 0", func() { _ = NewULoad64(wx0, MemArg{}).String() })
	requireInvariantPanic(t, "invalid PairMemArg kind 0", func() {
		var uses regalloc.InstRegUses
		PairMemArg{}.regs(&uses)
	})
	requireInvariantPanic(t, "not a load or store", func() { NewRet().loadStoreMnemonic(false) })
}

func TestInst_RegUses(t *testing.T) {
	for _, tc := range []struct {
		name                 string
		i                    Inst
		used, defined, modif []regalloc.Reg
		// usedAndDefined is set when one operand reads a register another operand writes.
		usedAndDefined bool
	}{
		{name: "alu", i: NewAluRRR(ALUOpAdd64, wvreg(0), vreg(1), vreg(2)), used: []regalloc.Reg{vreg(1), vreg(2)}, defined: []regalloc.Reg{vreg(0)}},
		{name: "madd", i: NewAluRRRR(ALUOpMAdd64, wvreg(0), vreg(1), vreg(2), vreg(3)), used: []regalloc.Reg{vreg(1), vreg(2), vreg(3)}, defined: []regalloc.Reg{vreg(0)}},
		{name: "imm", i: NewAluRRImm12(ALUOpAdd64, wvreg(0), vreg(0), imm12(1)), used: []regalloc.Reg{vreg(0)}, defined: []regalloc.Reg{vreg(0)}, usedAndDefined: true},
		{name: "load", i: NewULoad64(wvreg(0), MemBasePlusReg(vreg(1), vreg(2))), used: []regalloc.Reg{vreg(1), vreg(2)}, defined: []regalloc.Reg{vreg(0)}},
		{name: "store", i: NewStore64(vreg(0), MemBase(vreg(1))), used: []regalloc.Reg{vreg(0), vreg(1)}},
		{name: "pre-indexed store", i: NewStore64(vreg(0), MemPreIndexed(wvreg(1), simm9(8))), used: []regalloc.Reg{vreg(0)}, modif: []regalloc.Reg{vreg(1)}},
		{name: "stack offset", i: NewULoad64(wvreg(0), MemStackOffset(8)), used: []regalloc.Reg{fp}, defined: []regalloc.Reg{vreg(0)}},
		{name: "label", i: NewULoad64(wvreg(0), MemLabelRef(PCRel(8))), defined: []regalloc.Reg{vreg(0)}},
		{name: "stp", i: NewStoreP64(vreg(0), vreg(1), PairPreIndexed(wvreg(2), simm7(-16))), used: []regalloc.Reg{vreg(0), vreg(1)}, modif: []regalloc.Reg{vreg(2)}},
		{name: "ldp", i: NewLoadP64(wvreg(0), wvreg(1), PairSignedOffset(vreg(2), simm7(0))), used: []regalloc.Reg{vreg(2)}, defined: []regalloc.Reg{vreg(0), vreg(1)}},
		{name: "mov", i: NewMov(wvreg(0), vreg(1)), used: []regalloc.Reg{vreg(1)}, defined: []regalloc.Reg{vreg(0)}},
		{name: "movz", i: NewMovZ(wvreg(0), moveWide(1)), defined: []regalloc.Reg{vreg(0)}},
		{name: "call_ind", i: NewCallInd(vreg(0)), used: []regalloc.Reg{vreg(0)}},
		{name: "cbz", i: NewCondBr(TargetBlock(1), TargetBlock(2), CondZero(vreg(0))), used: []regalloc.Reg{vreg(0)}},
		{name: "b.cond", i: NewCondBr(TargetBlock(1), TargetBlock(2), CondFlag(CondEq))},
		{name: "ret", i: NewRet()},
	} {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			uses := tc.i.RegUses()
			require.True(t, regalloc.NewSet(tc.used...).Equal(uses.Used), uses.String())
			defined := regalloc.NewSet[regalloc.Writable]()
			for _, r := range tc.defined {
				defined.Insert(regalloc.WritableReg(r))
			}
			require.True(t, defined.Equal(uses.Defined), uses.String())
			modified := regalloc.NewSet[regalloc.Writable]()
			for _, r := range tc.modif {
				modified.Insert(regalloc.WritableReg(r))
			}
			require.True(t, modified.Equal(uses.Modified), uses.String())

			// A register which one operand both reads and writes is reported as modified only.
			var used regalloc.Set[regalloc.Writable]
			uses.Used.Range(func(r regalloc.Reg) { used.Insert(regalloc.WritableReg(r)) })
			require.False(t, used.Intersects(uses.Modified))
			require.False(t, uses.Defined.Intersects(uses.Modified))
			// Classes are per operand: rd == rn is used by rn and defined by rd, the source read
			// happening before the destination write.
			require.Equal(t, tc.usedAndDefined, used.Intersects(uses.Defined))
		})
	}
}

func TestInst_MapRegs(t *testing.T) {
	pre := regalloc.Map{
		vreg(1).ToVirtualReg(): x1.ToRealReg(),
		vreg(2).ToVirtualReg(): x2.ToRealReg(),
	}
	post := regalloc.Map{vreg(0).ToVirtualReg(): x0.ToRealReg()}
	rru := NewRegUniverse()

	t.Run("alu", func(t *testing.T) {
		got := NewAluRRR(ALUOpAdd64, wvreg(0), vreg(1), vreg(2)).MapRegs(pre, post)
		require.Equal(t, NewAluRRR(ALUOpAdd64, wx0, x1, x2), got)
	})
	t.Run("mem", func(t *testing.T) {
		got := NewULoad64(wvreg(0), MemBasePlusRegScaled(vreg(1), vreg(2), ir.TypeI64)).MapRegs(pre, post)
		require.Equal(t, "ldr x0, [x1, x2, lsl #3]", got.Show(rru))
	})
	t.Run("modified uses pre", func(t *testing.T) {
		got := NewStore64(vreg(2), MemPreIndexed(wvreg(1), simm9(8))).MapRegs(pre, post)
		require.Equal(t, "add x1, x1, #8 ; str x2, [x1]", got.Show(rru))
	})
	t.Run("branch", func(t *testing.T) {
		got := NewCondBr(TargetBlock(1), TargetBlock(2), CondNotZero(vreg(1))).MapRegs(pre, post)
		require.Equal(t, "cbnz x1, block1 ; b block2", got.Show(rru))
	})
	t.Run("real registers are kept", func(t *testing.T) {
		i := NewAluRRR(ALUOpAdd64, wx0, x1, fp)
		require.Equal(t, i, i.MapRegs(regalloc.Map{}, regalloc.Map{}))
	})
	t.Run("receiver unchanged", func(t *testing.T) {
		i := NewMov(wvreg(0), vreg(1))
		_ = i.MapRegs(pre, post)
		require.Equal(t, NewMov(wvreg(0), vreg(1)), i)
	})
	t.Run("unallocated", func(t *testing.T) {
		requireInvariantPanic(t, "has no allocated register", func() {
			NewMov(wvreg(0), vreg(7)).MapRegs(pre, post)
		})
	})
}

func TestInst_IsMove(t *testing.T) {
	dst, src, ok := NewMov(wx0, x1).IsMove()
	require.True(t, ok)
	require.Equal(t, wx0, dst)
	require.Equal(t, x1, src)

	_, _, ok = NewAluRRR(ALUOpOrr64, wx0, ZeroReg(), x1).IsMove()
	require.False(t, ok)

	b := NewBackend()
	dst, src, ok = b.GenMove(wvreg(3), vreg(4)).IsMove()
	require.True(t, ok)
	require.Equal(t, wvreg(3), dst)
	require.Equal(t, vreg(4), src)
}

func TestInst_IsTerm(t *testing.T) {
	require.Equal(t, backend.MachTerminator{Kind: backend.TermNone}, NewMov(wx0, x1).IsTerm())
	require.Equal(t, backend.MachTerminator{Kind: backend.TermRet}, NewRet().IsTerm())
	require.Equal(t, backend.MachTerminator{Kind: backend.TermUncond, Taken: 3}, NewJump(TargetBlock(3)).IsTerm())
	require.Equal(t,
		backend.MachTerminator{Kind: backend.TermCond, Taken: 1, NotTaken: 2},
		NewCondBr(TargetBlock(1), TargetBlock(2), CondZero(x0)).IsTerm())

	lowered := NewCondBr(TargetBlock(1), TargetBlock(2), CondZero(x0)).WithFallthroughBlock(2, true)
	requireInvariantPanic(t, "after lowering branches", func() { lowered.IsTerm() })
	requireInvariantPanic(t, "after lowering branches", func() { lowered.WithBlockRewrites([]backend.BlockIndex{0, 1, 2}) })
}

func TestInst_WithBlockRewrites(t *testing.T) {
	remap := []backend.BlockIndex{0, 2, 1}
	require.Equal(t, NewJump(TargetBlock(1)), NewJump(TargetBlock(2)).WithBlockRewrites(remap))
	require.Equal(t,
		NewCondBr(TargetBlock(2), TargetBlock(1), CondFlag(CondEq)),
		NewCondBr(TargetBlock(1), TargetBlock(2), CondFlag(CondEq)).WithBlockRewrites(remap))
	require.Equal(t, NewRet(), NewRet().WithBlockRewrites(remap))
}

func TestInst_WithFallthroughBlock(t *testing.T) {
	rru := NewRegUniverse()
	br := NewCondBr(TargetBlock(1), TargetBlock(2), CondZero(x0))

	t.Run("not taken falls through", func(t *testing.T) {
		got := br.WithFallthroughBlock(2, true)
		target, inverted, ok := got.LoweredBranch()
		require.True(t, ok)
		require.False(t, inverted)
		require.Equal(t, TargetBlock(1), target)
		require.Equal(t, "cbz x0, block1", got.Show(rru))
		require.Equal(t, backend.CodeOffset(4), got.Size())
	})
	t.Run("taken falls through", func(t *testing.T) {
		got := br.WithFallthroughBlock(1, true)
		target, inverted, ok := got.LoweredBranch()
		require.True(t, ok)
		require.True(t, inverted)
		require.Equal(t, TargetBlock(2), target)
		require.Equal(t, "cbnz x0, block2", got.Show(rru))
	})
	t.Run("neither", func(t *testing.T) {
		got := br.WithFallthroughBlock(3, true)
		taken, notTaken, ok := got.CompoundBranch()
		require.True(t, ok)
		require.Equal(t, TargetBlock(1), taken)
		require.Equal(t, TargetBlock(2), notTaken)
		require.Equal(t, "cbz x0, block1 ; b block2", got.Show(rru))
		require.Equal(t, backend.CodeOffset(8), got.Size())
	})
	t.Run("last block", func(t *testing.T) {
		_, _, ok := br.WithFallthroughBlock(2, false).CompoundBranch()
		require.True(t, ok)
	})
	t.Run("flag condition inverted", func(t *testing.T) {
		got := NewCondBr(TargetBlock(1), TargetBlock(2), CondFlag(CondHs)).WithFallthroughBlock(1, true)
		require.Equal(t, "b.lo block2", got.Show(rru))
	})
	t.Run("jump to next", func(t *testing.T) {
		got := NewJump(TargetBlock(4)).WithFallthroughBlock(4, true)
		require.True(t, got.IsNop())
		require.Equal(t, backend.CodeOffset(0), got.Size())
	})
	t.Run("jump elsewhere", func(t *testing.T) {
		got := NewJump(TargetBlock(4)).WithFallthroughBlock(3, true)
		target, ok := got.JumpTarget()
		require.True(t, ok)
		require.Equal(t, TargetBlock(4), target)
	})
	t.Run("lowered branch is kept", func(t *testing.T) {
		lowered := br.WithFallthroughBlock(2, true)
		require.Equal(t, lowered, lowered.WithFallthroughBlock(1, true))
	})
	t.Run("other instructions are kept", func(t *testing.T) {
		require.Equal(t, NewRet(), NewRet().WithFallthroughBlock(1, true))
	})
}

func TestInst_WithBlockOffsets(t *testing.T) {
	offsets := []backend.CodeOffset{0, 16, 32}
	br := NewCondBr(TargetBlock(1), TargetBlock(2), CondFlag(CondEq))

	t.Run("lowered", func(t *testing.T) {
		got := br.WithFallthroughBlock(2, true).WithBlockOffsets(8, offsets)
		target, _, _ := got.LoweredBranch()
		require.Equal(t, TargetResolved(8), target)
	})
	t.Run("compound", func(t *testing.T) {
		got := br.WithFallthroughBlock(0, true).WithBlockOffsets(8, offsets)
		taken, notTaken, _ := got.CompoundBranch()
		require.Equal(t, TargetResolved(8), taken)
		// Relative to the unconditional branch, the second instruction.
		require.Equal(t, TargetResolved(20), notTaken)
		require.Equal(t, "b.eq 8 ; b 20", got.Show(nil))
	})
	t.Run("jump backwards", func(t *testing.T) {
		got := NewJump(TargetBlock(0)).WithBlockOffsets(12, offsets)
		target, _ := got.JumpTarget()
		require.Equal(t, TargetResolved(-12), target)
	})
	t.Run("resolved targets are kept", func(t *testing.T) {
		j := NewJump(TargetResolved(4))
		require.Equal(t, j, j.WithBlockOffsets(12, offsets))
	})
}

func TestBackend(t *testing.T) {
	b := NewBackend()
	require.Equal(t, "arm64", b.Name())
	require.NoError(t, b.RegUniverse().Check())
	require.Equal(t, NewNop4(), b.GenNop(4))
	require.Equal(t, NewNop4(), b.GenNop(8))
	requireInvariantPanic(t, "no-op of 0 bytes", func() { b.GenNop(0) })
	require.Equal(t, NewJump(TargetBlock(5)), b.GenJump(5))

	for _, tc := range []struct {
		ty  ir.Type
		exp regalloc.RegClass
	}{
		{ty: ir.TypeI8, exp: regalloc.RegClassI64},
		{ty: ir.TypeI32, exp: regalloc.RegClassI64},
		{ty: ir.TypeI64, exp: regalloc.RegClassI64},
		{ty: ir.TypeB1, exp: regalloc.RegClassI64},
		{ty: ir.TypeB64, exp: regalloc.RegClassI64},
		{ty: ir.TypeF32, exp: regalloc.RegClassV128},
		{ty: ir.TypeF64, exp: regalloc.RegClassV128},
		{ty: ir.TypeI128, exp: regalloc.RegClassV128},
	} {
		require.Equal(t, tc.exp, b.RCForType(tc.ty), tc.ty.String())
	}
	requireInvariantPanic(t, "unexpected value type", func() { b.RCForType(ir.TypeInvalid) })
}
