package arm64

import (
	"encoding/binary"

	"github.com/tetratelabs/machinst/internal/backend"
)

// MemFinalize reduces mem to a directly encodable addressing mode for an instruction at insnOff,
// returning the instructions which must run first to compute the address.
//
// Stack offsets become fp-relative: [fp, #off] when off fits the unscaled immediate, and
// otherwise the offset is loaded from the constant pool into the spill temporary and added to fp.
// Constant data is placed in consts and referred to PC-relatively. Every other mode is returned
// as is.
//
// Rendering, sizing and encoding all go through MemFinalize, so they agree on the instructions
// an addressing mode expands to.
func MemFinalize(insnOff backend.CodeOffset, mem MemArg, consts backend.ConstantPoolSink) ([]Inst, MemArg) {
	switch mem.kind {
	case memArgStackOffset:
		if simm9, ok := MaybeSImm9FromI64(mem.off); ok {
			return nil, MemBaseSImm9(FPReg(), simm9)
		}
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(mem.off))
		tmp := WritableSpillTmpReg()
		prereqs := []Inst{
			NewULoad64(tmp, MemLabelRef(placeConstant(insnOff, buf[:], consts))),
			NewAluRRR(ALUOpAdd64, tmp, tmp.ToReg(), FPReg()),
		}
		return prereqs, MemBase(tmp.ToReg())
	case memArgLabel:
		if !mem.label.resolved {
			return nil, MemLabelRef(placeConstant(insnOff, mem.label.data, consts))
		}
	}
	return nil, mem
}

// placeConstant appends data to the pool, aligned to its size, and returns its location relative
// to the instruction at insnOff.
func placeConstant(insnOff backend.CodeOffset, data []byte, consts backend.ConstantPoolSink) MemLabel {
	switch n := len(data); {
	case n <= 4:
		consts.AlignTo(4)
	case n <= 8:
		consts.AlignTo(8)
	default:
		consts.AlignTo(16)
	}
	off := consts.OffsetFromCodeStart()
	consts.AddData(data)
	return PCRel(int64(off) - int64(insnOff))
}
