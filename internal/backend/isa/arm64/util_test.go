package arm64

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/machinst/internal/backend"
	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/invariant"
	"github.com/tetratelabs/machinst/internal/ir"
)

var (
	x0, x1, x2, x3 = XReg(0), XReg(1), XReg(2), XReg(3)
	wx0, wx1       = WritableXReg(0), WritableXReg(1)
	fp, lr, sp     = FPReg(), LinkReg(), StackReg()
)

func vreg(n uint32) regalloc.Reg { return regalloc.NewVirtualReg(regalloc.RegClassI64, n).ToReg() }

func wvreg(n uint32) regalloc.Writable { return regalloc.WritableReg(vreg(n)) }

func imm12(v uint64) Imm12 {
	i, ok := MaybeImm12FromU64(v)
	if !ok {
		panic(v)
	}
	return i
}

func immLogic(v uint64, is64 bool) ImmLogic {
	i, ok := MaybeImmLogicFromU64(v, is64)
	if !ok {
		panic(v)
	}
	return i
}

func simm9(v int64) SImm9 {
	i, ok := MaybeSImm9FromI64(v)
	if !ok {
		panic(v)
	}
	return i
}

func uimm12(v int64, ty ir.Type) UImm12Scaled {
	i, ok := MaybeUImm12ScaledFromI64(v, ty)
	if !ok {
		panic(v)
	}
	return i
}

func simm7(v int64) SImm7Scaled {
	i, ok := MaybeSImm7ScaledFromI64(v, ir.TypeI64)
	if !ok {
		panic(v)
	}
	return i
}

func moveWide(v uint64) MoveWideConst {
	i, ok := MaybeMoveWideConstFromU64(v)
	if !ok {
		panic(v)
	}
	return i
}

func shift(op ShiftOp, amt uint8) ShiftOpAndAmt {
	s, ok := NewShiftOpAndAmt(op, amt)
	if !ok {
		panic(amt)
	}
	return s
}

// emit encodes i at offset 0 and returns the code as hex, in memory order.
func emit(i Inst, consts backend.ConstantPoolSink) (string, *backend.Records) {
	rec := &backend.Records{}
	sink := backend.NewMemoryCodeSink(rec, rec, rec)
	i.Emit(sink, consts)
	return hex.EncodeToString(sink.Bytes()), rec
}

// requireInvariantPanic fails unless f panics with an *invariant.Error containing msg.
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
