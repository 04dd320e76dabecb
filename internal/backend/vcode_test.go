package backend_test

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/machinst/internal/backend"
	"github.com/tetratelabs/machinst/internal/backend/isa/arm64"
	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/invariant"
)

var isa = arm64.NewBackend()

func vreg(n uint32) regalloc.Reg { return regalloc.NewVirtualReg(regalloc.RegClassI64, n).ToReg() }

func wvreg(n uint32) regalloc.Writable { return regalloc.WritableReg(vreg(n)) }

func movz(rd regalloc.Writable, v uint64) arm64.Inst {
	c, ok := arm64.MaybeMoveWideConstFromU64(v)
	if !ok {
		panic(v)
	}
	return arm64.NewMovZ(rd, c)
}

// diamond builds
//
//	block0: v0 = 1; if v0 == 0 goto block2 else block1
//	block1: x0 = v0 + v0; goto block2
//	block2: return
func diamond() *backend.VCode[arm64.Inst] {
	b := backend.NewVCodeBuilder[arm64.Inst](isa)
	b.StartBlock()
	b.Push(
		movz(wvreg(0), 1),
		arm64.NewCondBr(arm64.TargetBlock(2), arm64.TargetBlock(1), arm64.CondZero(vreg(0))),
	)
	b.StartBlock()
	b.Push(
		arm64.NewAluRRR(arm64.ALUOpAdd64, arm64.WritableXReg(0), vreg(0), vreg(0)),
		arm64.NewJump(arm64.TargetBlock(2)),
	)
	b.StartBlock()
	b.Push(arm64.NewRet())
	return b.Build()
}

func emit(t *testing.T, v *backend.VCode[arm64.Inst]) (string, *backend.Records, *backend.ConstantPool) {
	t.Helper()
	rec := &backend.Records{}
	sink := backend.NewMemoryCodeSink(rec, rec, rec)
	pool := v.Emit(context.Background(), sink)
	return hex.EncodeToString(sink.Bytes()), rec, pool
}

func requireInvariantPanic(t *testing.T, msg string, f func()) {
	t.Helper()
	defer func() {
		r := recover()
		e, ok := r.(*invariant.Error)
		require.True(t, ok, "panic value %v", r)
		require.Contains(t, e.Msg, msg)
	}()
	f()
}

func TestVCode_pipeline(t *testing.T) {
	ctx := context.Background()
	rru := isa.RegUniverse()

	v := diamond()
	require.Equal(t, 3, v.NumBlocks())
	require.Equal(t, []int{2, 1}, v.BlockSuccs(0))
	require.Equal(t, []int{2}, v.BlockSuccs(1))
	require.Empty(t, v.BlockSuccs(2))
	require.Equal(t, `block0:
	movz v0?, #1
	cbz v0?, block2 ; b block1
block1:
	add x0, v0?, v0?
	b block2
block2:
	ret
`, v.Show(rru))

	require.NoError(t, v.RegAlloc(ctx))
	require.Equal(t, `block0:
	movz x0, #1
	cbz x0, block2 ; b block1
block1:
	add x0, x0, x0
	b block2
block2:
	ret
`, v.Show(rru))
	require.Equal(t, []regalloc.RealReg{arm64.XReg(0).ToRealReg()}, v.Clobbered)

	v.LowerBranches(ctx)
	require.Equal(t, `block0:
	movz x0, #1
	cbz x0, block2
block1:
	add x0, x0, x0
block2:
	ret
`, v.Show(rru))

	v.ComputeOffsets(ctx)
	require.Equal(t, []backend.CodeOffset{0, 8, 12}, v.BlockOffsets())
	require.Equal(t, backend.CodeOffset(16), v.CodeSize())
	require.Equal(t, `block0:
	0000: movz x0, #1
	0004: cbz x0, 8
block1:
	0008: add x0, x0, x0
block2:
	000c: ret
`, v.ShowWithOffsets(rru))

	code, rec, pool := emit(t, v)
	require.Equal(t, "200080d2"+"400000b4"+"0000008b"+"c0035fd6", code)
	require.Empty(t, rec.Relocs)
	require.Empty(t, rec.Traps)
	require.Empty(t, pool.Data())
}

func TestVCode_Reorder(t *testing.T) {
	ctx := context.Background()
	rru := isa.RegUniverse()

	b := backend.NewVCodeBuilder[arm64.Inst](isa)
	b.StartBlock()
	b.Push(arm64.NewJump(arm64.TargetBlock(2)))
	b.StartBlock()
	b.Push(arm64.NewRet())
	b.StartBlock()
	b.Push(arm64.NewJump(arm64.TargetBlock(1)))
	v := b.Build()

	order := v.FallthroughOrder()
	require.Equal(t, []backend.BlockIndex{0, 2, 1}, order)

	require.NoError(t, v.RegAlloc(ctx))
	v.Reorder(ctx, order)
	require.Equal(t, `block0:
	b block1
block1:
	b block2
block2:
	ret
`, v.Show(rru))
	require.Equal(t, []int{1}, v.BlockSuccs(0))
	require.Equal(t, []int{2}, v.BlockSuccs(1))

	v.LowerBranches(ctx)
	v.ComputeOffsets(ctx)
	require.Equal(t, []backend.CodeOffset{0, 0, 0}, v.BlockOffsets())
	require.Equal(t, `block0:
block1:
block2:
	0000: ret
`, v.ShowWithOffsets(rru))

	code, _, _ := emit(t, v)
	require.Equal(t, "c0035fd6", code)
}

func TestVCode_FallthroughOrder(t *testing.T) {
	t.Run("prefers the not-taken target", func(t *testing.T) {
		require.Equal(t, []backend.BlockIndex{0, 1, 2}, diamond().FallthroughOrder())
	})
	t.Run("unreachable blocks go last", func(t *testing.T) {
		b := backend.NewVCodeBuilder[arm64.Inst](isa)
		b.StartBlock()
		b.Push(arm64.NewJump(arm64.TargetBlock(2)))
		b.StartBlock()
		b.Push(arm64.NewRet())
		b.StartBlock()
		b.Push(arm64.NewRet())
		require.Equal(t, []backend.BlockIndex{0, 2, 1}, b.Build().FallthroughOrder())
	})
}

func TestVCode_constantPool(t *testing.T) {
	ctx := context.Background()

	b := backend.NewVCodeBuilder[arm64.Inst](isa)
	b.StartBlock()
	b.Push(
		arm64.NewULoad64(arm64.WritableXReg(0), arm64.MemLabelRef(arm64.ConstantData([]byte{1, 2, 3, 4, 5, 6, 7, 8}))),
		arm64.NewRet(),
	)
	v := b.Build()
	require.NoError(t, v.RegAlloc(ctx))
	v.LowerBranches(ctx)
	v.ComputeOffsets(ctx)

	code, _, pool := emit(t, v)
	require.Equal(t, backend.CodeOffset(16), pool.Base)
	// ldr x0, pc+16 ; ret ; padding up to the pool ; the constant
	require.Equal(t, "80000058"+"c0035fd6"+"0000000000000000"+"0102030405060708", code)
}

func TestVCode_Emit_large(t *testing.T) {
	ctx := context.Background()
	const n = 5000
	b := backend.NewVCodeBuilder[arm64.Inst](isa)
	for i := 0; i < n; i++ {
		b.StartBlock()
		// Every jump goes to the next block and is lowered to a zero-size nop.
		b.Push(movz(arm64.WritableXReg(0), uint64(i)), arm64.NewJump(arm64.TargetBlock(backend.BlockIndex(i+1))))
	}
	b.StartBlock()
	b.Push(arm64.NewRet())

	v := b.Build()
	require.NoError(t, v.RegAlloc(ctx))
	v.LowerBranches(ctx)
	v.ComputeOffsets(ctx)
	require.Equal(t, backend.CodeOffset(4*n+4), v.CodeSize())

	code, _, pool := emit(t, v)
	require.Empty(t, pool.Data())
	require.Len(t, code, 2*(4*n+4))
	// movz x0, #4999 ; ret
	require.Equal(t, "e07082d2"+"c0035fd6", code[len(code)-16:])
}

func TestVCode_RegAlloc_exhausted(t *testing.T) {
	const n = 27 // one more than the allocatable general purpose registers
	b := backend.NewVCodeBuilder[arm64.Inst](isa)
	b.StartBlock()
	for i := uint32(0); i < n; i++ {
		b.Push(movz(wvreg(i), uint64(i)))
	}
	for i := uint32(0); i < n; i++ {
		b.Push(arm64.NewStore64(vreg(i), arm64.MemBase(arm64.FPReg())))
	}
	b.Push(arm64.NewRet())

	err := b.Build().RegAlloc(context.Background())
	require.ErrorContains(t, err, "regalloc")
	require.ErrorContains(t, err, "no I64 register available")
}

func TestVCode_invariants(t *testing.T) {
	ctx := context.Background()

	t.Run("push outside of a block", func(t *testing.T) {
		b := backend.NewVCodeBuilder[arm64.Inst](isa)
		requireInvariantPanic(t, "Push outside of a block", func() { b.Push(arm64.NewRet()) })
	})
	t.Run("no blocks", func(t *testing.T) {
		b := backend.NewVCodeBuilder[arm64.Inst](isa)
		requireInvariantPanic(t, "function without blocks", func() { b.Build() })
	})
	t.Run("empty block", func(t *testing.T) {
		b := backend.NewVCodeBuilder[arm64.Inst](isa)
		b.StartBlock()
		requireInvariantPanic(t, "block0 is empty", func() { b.Build() })
	})
	t.Run("missing terminator", func(t *testing.T) {
		b := backend.NewVCodeBuilder[arm64.Inst](isa)
		b.StartBlock()
		b.Push(arm64.NewNop4())
		requireInvariantPanic(t, "does not end with a terminator", func() { b.Build() })
	})
	t.Run("terminator in the middle", func(t *testing.T) {
		b := backend.NewVCodeBuilder[arm64.Inst](isa)
		b.StartBlock()
		b.Push(arm64.NewRet(), arm64.NewRet())
		requireInvariantPanic(t, "in the middle of the block", func() { b.Build() })
	})
	t.Run("missing block", func(t *testing.T) {
		b := backend.NewVCodeBuilder[arm64.Inst](isa)
		b.StartBlock()
		b.Push(arm64.NewJump(arm64.TargetBlock(5)))
		requireInvariantPanic(t, "branches to missing block5", func() { b.Build() })
	})
	t.Run("invalid order", func(t *testing.T) {
		v := diamond()
		requireInvariantPanic(t, "invalid block order", func() { v.Reorder(ctx, []backend.BlockIndex{1, 0, 2}) })
		requireInvariantPanic(t, "invalid block order", func() { v.Reorder(ctx, []backend.BlockIndex{0, 1}) })
		requireInvariantPanic(t, "invalid block order", func() { v.Reorder(ctx, []backend.BlockIndex{0, 1, 1}) })
	})
	t.Run("passes out of order", func(t *testing.T) {
		v := diamond()
		requireInvariantPanic(t, "LowerBranches called on built code", func() { v.LowerBranches(ctx) })
		requireInvariantPanic(t, "ComputeOffsets called on built code", func() { v.ComputeOffsets(ctx) })
		requireInvariantPanic(t, "ShowWithOffsets called on built code", func() { v.ShowWithOffsets(nil) })
		require.NoError(t, v.RegAlloc(ctx))
		requireInvariantPanic(t, "RegAlloc called on allocated code", func() { _ = v.RegAlloc(ctx) })
		v.LowerBranches(ctx)
		requireInvariantPanic(t, "Reorder called on lowered code", func() { v.Reorder(ctx, []backend.BlockIndex{0, 1, 2}) })
		requireInvariantPanic(t, "Emit called on lowered code", func() {
			v.Emit(ctx, backend.NewMemoryCodeSink(backend.NullRelocSink{}, backend.NullTrapSink{}, backend.NullStackmapSink{}))
		})
	})
}
