package arm64

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/machinst/internal/backend"
	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/invariant"
)

// String implements fmt.Stringer, naming registers with the default scheme.
func (i Inst) String() string { return i.Show(nil) }

// Show renders the instruction with the register names of rru, which may be nil.
func (i Inst) Show(rru *regalloc.RealRegUniverse) string {
	return i.ShowWithConsts(rru, backend.NullConstantPoolSink{})
}

// ShowWithConsts implements backend.MachInst. Constants needed by the addressing mode go to
// consts, and the instructions computing the address are rendered first, each followed by " ; ".
func (i Inst) ShowWithConsts(rru *regalloc.RealRegUniverse, consts backend.ConstantPoolSink) string {
	switch i.kind {
	case kindNop:
		return ""
	case kindNop4:
		return "nop"
	case kindAluRRR:
		op, is32 := i.aluOp.mnemonic()
		return fmt.Sprintf("%s %s, %s, %s", op,
			showRegSized(i.rd.ToReg(), rru, is32), showRegSized(i.rn, rru, is32), showRegSized(i.rm, rru, is32))
	case kindAluRRRR:
		op, is32 := i.aluOp.mnemonic()
		return fmt.Sprintf("%s %s, %s, %s, %s", op,
			showRegSized(i.rd.ToReg(), rru, is32), showRegSized(i.rn, rru, is32),
			showRegSized(i.rm, rru, is32), showRegSized(i.ra, rru, is32))
	case kindAluRRImm12:
		op, is32 := i.aluOp.mnemonic()
		rd, rn := showRegSized(i.rd.ToReg(), rru, is32), showRegSized(i.rn, rru, is32)
		if i.aluOp == ALUOpAdd64 && i.imm12.Bits == 0 {
			// Moves to and from sp are encoded as add #0.
			return fmt.Sprintf("mov %s, %s", rd, rn)
		}
		return fmt.Sprintf("%s %s, %s, %s", op, rd, rn, i.imm12)
	case kindAluRRImmLogic:
		op, is32 := i.aluOp.mnemonic()
		return fmt.Sprintf("%s %s, %s, %s", op,
			showRegSized(i.rd.ToReg(), rru, is32), showRegSized(i.rn, rru, is32), i.imml)
	case kindAluRRImmShift:
		op, is32 := i.aluOp.mnemonic()
		return fmt.Sprintf("%s %s, %s, %s", op,
			showRegSized(i.rd.ToReg(), rru, is32), showRegSized(i.rn, rru, is32), i.immShift)
	case kindAluRRRShift:
		op, is32 := i.aluOp.mnemonic()
		return fmt.Sprintf("%s %s, %s, %s, %s", op,
			showRegSized(i.rd.ToReg(), rru, is32), showRegSized(i.rn, rru, is32),
			showRegSized(i.rm, rru, is32), i.shift)
	case kindAluRRRExtend:
		op, is32 := i.aluOp.mnemonic()
		return fmt.Sprintf("%s %s, %s, %s, %s", op,
			showRegSized(i.rd.ToReg(), rru, is32), showRegSized(i.rn, rru, is32),
			showRegSized(i.rm, rru, is32), i.ext)
	case kindULoad8, kindSLoad8, kindULoad16, kindSLoad16, kindULoad32, kindSLoad32, kindULoad64:
		prefix, mem, unscaled := showMemFinalize(i.mem, rru, consts)
		op, is32, size := i.loadStoreMnemonic(unscaled)
		return fmt.Sprintf("%s%s %s, %s", prefix, op, showRegSized(i.rd.ToReg(), rru, is32), mem.show(rru, size))
	case kindStore8, kindStore16, kindStore32, kindStore64:
		prefix, mem, unscaled := showMemFinalize(i.mem, rru, consts)
		op, is32, size := i.loadStoreMnemonic(unscaled)
		return fmt.Sprintf("%s%s %s, %s", prefix, op, showRegSized(i.rt, rru, is32), mem.show(rru, size))
	case kindStoreP64:
		return fmt.Sprintf("stp %s, %s, %s", showReg(i.rt, rru), showReg(i.rt2, rru), i.pairMem.show(rru, 8))
	case kindLoadP64:
		return fmt.Sprintf("ldp %s, %s, %s", showReg(i.rd.ToReg(), rru), showReg(i.rd2.ToReg(), rru), i.pairMem.show(rru, 8))
	case kindMov:
		return fmt.Sprintf("mov %s, %s", showReg(i.rd.ToReg(), rru), showReg(i.rm, rru))
	case kindMovZ:
		return fmt.Sprintf("movz %s, %s", showReg(i.rd.ToReg(), rru), i.moveWide)
	case kindMovN:
		return fmt.Sprintf("movn %s, %s", showReg(i.rd.ToReg(), rru), i.moveWide)
	case kindCall:
		// The callee is only known to the relocation.
		return "bl !!"
	case kindCallInd:
		return fmt.Sprintf("bl %s", showReg(i.rn, rru))
	case kindRet:
		return "ret"
	case kindJump:
		return fmt.Sprintf("b %s", i.taken)
	case kindCondBr:
		return fmt.Sprintf("%s ; b %s", i.cond.show(i.taken.String(), rru), i.notTaken)
	case kindCondBrLowered:
		cond := i.cond
		if i.inverted {
			cond = cond.Invert()
		}
		return cond.show(i.taken.String(), rru)
	case kindCondBrLoweredCompound:
		first := Inst{kind: kindCondBrLowered, taken: i.taken, cond: i.cond}
		second := NewJump(i.notTaken)
		return first.Show(rru) + " ; " + second.Show(rru)
	case kindUdf:
		return fmt.Sprintf("udf ; trap=%s", i.trap)
	}
	invariant.Panicf("ShowWithConsts: invalid instruction kind %d", i.kind)
	return ""
}

// loadStoreMnemonic returns the mnemonic of a load or store, whether its data register is shown
// with its 32-bit name, and the access size in bytes.
func (i Inst) loadStoreMnemonic(unscaled bool) (op string, is32 bool, size uint) {
	pick := func(scaled, unscaledOp string) string {
		if unscaled {
			return unscaledOp
		}
		return scaled
	}
	switch i.kind {
	case kindULoad8:
		return pick("ldrb", "ldurb"), true, 1
	case kindSLoad8:
		return pick("ldrsb", "ldursb"), false, 1
	case kindULoad16:
		return pick("ldrh", "ldurh"), true, 2
	case kindSLoad16:
		return pick("ldrsh", "ldursh"), false, 2
	case kindULoad32:
		return pick("ldr", "ldur"), true, 4
	case kindSLoad32:
		return pick("ldrsw", "ldursw"), false, 4
	case kindULoad64:
		return pick("ldr", "ldur"), false, 8
	case kindStore8:
		return pick("strb", "sturb"), true, 1
	case kindStore16:
		return pick("strh", "sturh"), true, 2
	case kindStore32:
		return pick("str", "stur"), true, 4
	case kindStore64:
		return pick("str", "stur"), false, 8
	}
	invariant.Panicf("not a load or store: %s", i.kind)
	return "", false, 0
}

// showMemFinalize finalizes mem for an instruction at offset 0 and renders the instructions it
// expands to, and whether the access is shown with the unscaled-offset mnemonic.
//
// The base update of a pre-indexed mode is shown as an add or sub before the access, which then
// goes through the updated base. Emit still encodes the single writeback instruction.
func showMemFinalize(mem MemArg, rru *regalloc.RealRegUniverse, consts backend.ConstantPoolSink) (string, MemArg, bool) {
	prereqs, mem := MemFinalize(0, mem, consts)
	unscaled := mem.isUnscaledBase()
	if mem.kind == memArgPreIndexed {
		prereqs = append(prereqs, preIndexUpdate(mem))
		mem = MemBase(mem.wrn.ToReg())
	}
	if len(prereqs) == 0 {
		return "", mem, unscaled
	}
	shown := make([]string, len(prereqs))
	for j, p := range prereqs {
		shown[j] = p.Show(rru)
	}
	return strings.Join(shown, " ; ") + " ; ", mem, unscaled
}

// preIndexUpdate returns the instruction adding the offset of a pre-indexed mode to its base.
func preIndexUpdate(mem MemArg) Inst {
	op, val := ALUOpAdd64, int64(mem.simm9.Value)
	if val <= 0 {
		// sub #0 rather than add #0, which is shown as a mov.
		op, val = ALUOpSub64, -val
	}
	return NewAluRRImm12(op, mem.wrn, mem.wrn.ToReg(), Imm12{Bits: uint16(val)})
}
