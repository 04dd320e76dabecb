package arm64

import (
	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/invariant"
)

// RegUses implements backend.MachInst.
//
// A register that is read and written in one step (the base of a pre/post-indexed address) is
// reported as modified only, never also as used or defined.
func (i Inst) RegUses() regalloc.InstRegUses {
	uses := regalloc.NewInstRegUses()
	switch i.kind {
	case kindAluRRR, kindAluRRRShift, kindAluRRRExtend:
		uses.Defined.Insert(i.rd)
		uses.Used.Insert(i.rn)
		uses.Used.Insert(i.rm)
	case kindAluRRRR:
		uses.Defined.Insert(i.rd)
		uses.Used.Insert(i.rn)
		uses.Used.Insert(i.rm)
		uses.Used.Insert(i.ra)
	case kindAluRRImm12, kindAluRRImmLogic, kindAluRRImmShift:
		uses.Defined.Insert(i.rd)
		uses.Used.Insert(i.rn)
	case kindULoad8, kindSLoad8, kindULoad16, kindSLoad16, kindULoad32, kindSLoad32, kindULoad64:
		uses.Defined.Insert(i.rd)
		i.mem.regs(&uses)
	case kindStore8, kindStore16, kindStore32, kindStore64:
		uses.Used.Insert(i.rt)
		i.mem.regs(&uses)
	case kindStoreP64:
		uses.Used.Insert(i.rt)
		uses.Used.Insert(i.rt2)
		i.pairMem.regs(&uses)
	case kindLoadP64:
		uses.Defined.Insert(i.rd)
		uses.Defined.Insert(i.rd2)
		i.pairMem.regs(&uses)
	case kindMov:
		uses.Defined.Insert(i.rd)
		uses.Used.Insert(i.rm)
	case kindMovZ, kindMovN:
		uses.Defined.Insert(i.rd)
	case kindCallInd:
		uses.Used.Insert(i.rn)
	case kindCondBr, kindCondBrLowered, kindCondBrLoweredCompound:
		if r, ok := i.cond.Reg(); ok {
			uses.Used.Insert(r)
		}
	case kindJump, kindCall, kindRet, kindNop, kindNop4, kindUdf:
	default:
		invariant.Panicf("RegUses: invalid instruction kind %d", i.kind)
	}
	uses.Normalize()
	return uses
}

// MapRegs implements backend.MachInst.
//
// Defined registers are looked up in post, everything read in pre. Modified registers are read
// and written as one register, so they use pre as well.
func (i Inst) MapRegs(pre, post regalloc.Map) Inst {
	switch i.kind {
	case kindAluRRR, kindAluRRRShift, kindAluRRRExtend:
		i.rd = mapWritable(post, i.rd)
		i.rn = mapReg(pre, i.rn)
		i.rm = mapReg(pre, i.rm)
	case kindAluRRRR:
		i.rd = mapWritable(post, i.rd)
		i.rn = mapReg(pre, i.rn)
		i.rm = mapReg(pre, i.rm)
		i.ra = mapReg(pre, i.ra)
	case kindAluRRImm12, kindAluRRImmLogic, kindAluRRImmShift:
		i.rd = mapWritable(post, i.rd)
		i.rn = mapReg(pre, i.rn)
	case kindULoad8, kindSLoad8, kindULoad16, kindSLoad16, kindULoad32, kindSLoad32, kindULoad64:
		i.rd = mapWritable(post, i.rd)
		i.mem = i.mem.mapRegs(pre)
	case kindStore8, kindStore16, kindStore32, kindStore64:
		i.rt = mapReg(pre, i.rt)
		i.mem = i.mem.mapRegs(pre)
	case kindStoreP64:
		i.rt = mapReg(pre, i.rt)
		i.rt2 = mapReg(pre, i.rt2)
		i.pairMem = i.pairMem.mapRegs(pre)
	case kindLoadP64:
		i.rd = mapWritable(post, i.rd)
		i.rd2 = mapWritable(post, i.rd2)
		i.pairMem = i.pairMem.mapRegs(pre)
	case kindMov:
		i.rd = mapWritable(post, i.rd)
		i.rm = mapReg(pre, i.rm)
	case kindMovZ, kindMovN:
		i.rd = mapWritable(post, i.rd)
	case kindCallInd:
		i.rn = mapReg(pre, i.rn)
	case kindCondBr, kindCondBrLowered, kindCondBrLoweredCompound:
		if r, ok := i.cond.Reg(); ok {
			i.cond = i.cond.withReg(mapReg(pre, r))
		}
	case kindJump, kindCall, kindRet, kindNop, kindNop4, kindUdf:
	default:
		invariant.Panicf("MapRegs: invalid instruction kind %d", i.kind)
	}
	return i
}

func mapReg(m regalloc.Map, r regalloc.Reg) regalloc.Reg {
	if r.IsReal() {
		return r
	}
	rr, ok := m[r.ToVirtualReg()]
	if !ok {
		invariant.Panicf("%s has no allocated register", r)
	}
	return rr.ToReg()
}

func mapWritable(m regalloc.Map, w regalloc.Writable) regalloc.Writable {
	return regalloc.WritableReg(mapReg(m, w.ToReg()))
}
