package arm64

import (
	"github.com/tetratelabs/machinst/internal/backend"
	"github.com/tetratelabs/machinst/internal/invariant"
)

// Size implements backend.MachInst.
func (i Inst) Size() backend.CodeOffset {
	switch i.kind {
	case kindNop:
		return 0
	case kindCondBr, kindCondBrLoweredCompound:
		return 8
	case kindULoad8, kindSLoad8, kindULoad16, kindSLoad16, kindULoad32, kindSLoad32, kindULoad64,
		kindStore8, kindStore16, kindStore32, kindStore64:
		prereqs, _ := MemFinalize(0, i.mem, backend.NullConstantPoolSink{})
		return 4 * backend.CodeOffset(1+len(prereqs))
	default:
		return 4
	}
}

// Emit implements backend.MachInst. Branch targets must have been resolved by WithBlockOffsets,
// and sink offsets are relative to the start of the function.
func (i Inst) Emit(sink backend.CodeSink, consts backend.ConstantPoolSink) {
	switch i.kind {
	case kindNop:
	case kindNop4:
		sink.Put4(encodeNop())
	case kindAluRRR:
		sink.Put4(encodeAluRRR(i.aluOp, regEncoding(i.rd.ToReg()), regEncoding(i.rn), regEncoding(i.rm),
			i.rd.ToReg() == StackReg() || i.rn == StackReg()))
	case kindAluRRRR:
		sink.Put4(encodeAluRRRR(i.aluOp, regEncoding(i.rd.ToReg()), regEncoding(i.rn), regEncoding(i.rm), regEncoding(i.ra)))
	case kindAluRRImm12:
		sink.Put4(encodeAluRRImm12(i.aluOp, regEncoding(i.rd.ToReg()), regEncoding(i.rn), i.imm12))
	case kindAluRRImmLogic:
		sink.Put4(encodeAluBitmaskImmediate(i.aluOp, regEncoding(i.rd.ToReg()), regEncoding(i.rn), i.imml))
	case kindAluRRImmShift:
		sink.Put4(encodeAluRRImm(i.aluOp, regEncoding(i.rd.ToReg()), regEncoding(i.rn), uint32(i.immShift.Imm)))
	case kindAluRRRShift:
		sink.Put4(encodeAluRRRShift(i.aluOp, regEncoding(i.rd.ToReg()), regEncoding(i.rn), regEncoding(i.rm), i.shift))
	case kindAluRRRExtend:
		sink.Put4(encodeAluRRRExtend(i.aluOp, regEncoding(i.rd.ToReg()), regEncoding(i.rn), regEncoding(i.rm), i.ext))
	case kindULoad8, kindSLoad8, kindULoad16, kindSLoad16, kindULoad32, kindSLoad32, kindULoad64:
		i.emitLoadOrStore(sink, consts, regEncoding(i.rd.ToReg()))
	case kindStore8, kindStore16, kindStore32, kindStore64:
		i.emitLoadOrStore(sink, consts, regEncoding(i.rt))
	case kindStoreP64:
		sink.Put4(encodeLoadOrStorePair64(false, regEncoding(i.rt), regEncoding(i.rt2), i.pairMem))
	case kindLoadP64:
		sink.Put4(encodeLoadOrStorePair64(true, regEncoding(i.rd.ToReg()), regEncoding(i.rd2.ToReg()), i.pairMem))
	case kindMov:
		rd, rm := i.rd.ToReg(), i.rm
		if rd == StackReg() || rm == StackReg() {
			// orr cannot address sp: mov to and from sp is add #0.
			sink.Put4(encodeAddSubtractImmediate(0b100, 0, 0, regEncoding(rm), regEncoding(rd)))
		} else {
			sink.Put4(encodeAsMov64(regEncoding(rm), regEncoding(rd)))
		}
	case kindMovZ:
		sink.Put4(encodeMoveWideImmediate(0b10, regEncoding(i.rd.ToReg()), i.moveWide))
	case kindMovN:
		sink.Put4(encodeMoveWideImmediate(0b00, regEncoding(i.rd.ToReg()), i.moveWide))
	case kindCall:
		sink.RelocExternal(backend.RelocArm64Call, i.callee, 0)
		sink.Put4(encodeUnconditionalBranch(true, 0))
		if i.stackmap != nil {
			sink.AddStackmap(i.stackmap)
		}
	case kindCallInd:
		sink.Put4(encodeBLR(regEncoding(i.rn)))
	case kindRet:
		sink.Put4(encodeRet())
	case kindJump:
		sink.Put4(encodeUnconditionalBranch(false, i.taken.AsOffset26()))
	case kindCondBrLowered:
		cond := i.cond
		if i.inverted {
			cond = cond.Invert()
		}
		sink.Put4(encodeCondBr(cond, i.taken.AsOffset19()))
	case kindCondBrLoweredCompound:
		sink.Put4(encodeCondBr(i.cond, i.taken.AsOffset19()))
		sink.Put4(encodeUnconditionalBranch(false, i.notTaken.AsOffset26()))
	case kindUdf:
		sink.Trap(i.trap)
		sink.Put4(0)
	case kindCondBr:
		invariant.Panicf("conditional branch emitted before branch lowering")
	default:
		invariant.Panicf("Emit: invalid instruction kind %d", i.kind)
	}
}

func (i Inst) emitLoadOrStore(sink backend.CodeSink, consts backend.ConstantPoolSink, rt uint32) {
	prereqs, mem := MemFinalize(sink.Offset(), i.mem, consts)
	for _, p := range prereqs {
		p.Emit(sink, consts)
	}
	sink.Put4(encodeLoadOrStore(i.kind, rt, mem))
}

func encodeNop() uint32 {
	// https://developer.arm.com/documentation/ddi0596/2020-12/Base-Instructions/NOP--No-Operation-
	return 0xd503201f
}

func (op ALUOp) sf() uint32 {
	if op.Is64() {
		return 1
	}
	return 0
}

// addSubOpS returns the op and S bits of the add/subtract forms.
func (op ALUOp) addSubOpS() (uint32, bool) {
	switch op {
	case ALUOpAdd32, ALUOpAdd64:
		return 0b00, true
	case ALUOpAddS32, ALUOpAddS64:
		return 0b01, true
	case ALUOpSub32, ALUOpSub64:
		return 0b10, true
	case ALUOpSubS32, ALUOpSubS64:
		return 0b11, true
	}
	return 0, false
}

// logicalOpc returns the opc bits of the logical forms.
func (op ALUOp) logicalOpc() (uint32, bool) {
	switch op {
	case ALUOpAnd32, ALUOpAnd64:
		return 0b00, true
	case ALUOpOrr32, ALUOpOrr64:
		return 0b01, true
	case ALUOpEor32, ALUOpEor64:
		return 0b10, true
	}
	return 0, false
}

// encodeAluRRR encodes as Data Processing (register), depending on op.
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Data-Processing----Register?lang=en
func encodeAluRRR(op ALUOp, rd, rn, rm uint32, useSp bool) uint32 {
	sf := op.sf()
	if opS, ok := op.addSubOpS(); ok {
		if useSp {
			// "Extended register" with UXTX (UXTW for 32 bits) and no shift, which reads sp
			// where the shifted form reads xzr.
			if opS&0b01 != 0 {
				invariant.Panicf("%s cannot use sp", op)
			}
			return encodeAddSubExtendedRegister(sf, opS, rm, 0b010|sf, rn, rd)
		}
		// "Shifted register" with shift = 0.
		return sf<<31 | opS<<29 | 0b01011<<24 | rm<<16 | rn<<5 | rd
	}
	if opc, ok := op.logicalOpc(); ok {
		return encodeLogicalShiftedRegister(sf<<2|opc, 0, rm, 0, rn, rd)
	}
	var opcode uint32
	switch op {
	case ALUOpLsl32, ALUOpLsl64:
		opcode = 0b001000
	case ALUOpLsr32, ALUOpLsr64:
		opcode = 0b001001
	case ALUOpAsr32, ALUOpAsr64:
		opcode = 0b001010
	default:
		invariant.Panicf("%s has no register-register form", op)
	}
	// "Data-processing (2 source)".
	return sf<<31 | 0b0011010110<<21 | rm<<16 | opcode<<10 | rn<<5 | rd
}

// encodeAluRRRR encodes as Data-processing (3 source) in
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Data-Processing----Register?lang=en
func encodeAluRRRR(op ALUOp, rd, rn, rm, ra uint32) uint32 {
	switch op {
	case ALUOpMAdd32, ALUOpMAdd64:
	default:
		invariant.Panicf("%s has no three-source form", op)
	}
	return op.sf()<<31 | 0b11011<<24 | rm<<16 | ra<<10 | rn<<5 | rd
}

// encodeAluRRImm12 encodes as Add/subtract (immediate) in
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Data-Processing----Immediate?lang=en
func encodeAluRRImm12(op ALUOp, rd, rn uint32, imm Imm12) uint32 {
	opS, ok := op.addSubOpS()
	if !ok {
		invariant.Panicf("%s has no imm12 form", op)
	}
	var sh uint32
	if imm.Shift12 {
		sh = 1
	}
	return encodeAddSubtractImmediate(op.sf()<<2|opS, sh, uint32(imm.Bits)&0xfff, rn, rd)
}

// encodeAluBitmaskImmediate encodes as Logical (immediate) in
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Data-Processing----Immediate?lang=en
func encodeAluBitmaskImmediate(op ALUOp, rd, rn uint32, imm ImmLogic) uint32 {
	opc, ok := op.logicalOpc()
	if !ok {
		invariant.Panicf("%s has no logical immediate form", op)
	}
	n, immr, imms := imm.Fields()
	if n && !op.Is64() {
		invariant.Panicf("64-bit logical immediate %s used by %s", imm, op)
	}
	var nbit uint32
	if n {
		nbit = 1
	}
	return op.sf()<<31 | opc<<29 | 0b100100<<23 | nbit<<22 | uint32(immr)<<16 | uint32(imms)<<10 | rn<<5 | rd
}

// encodeAluRRImm encodes as "Bitfield" in
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Data-Processing----Immediate?lang=en#log_imm
func encodeAluRRImm(op ALUOp, rd, rn, amount uint32) uint32 {
	sf := op.sf()
	width := 32 << sf
	if amount >= uint32(width) {
		invariant.Panicf("shift amount %d out of range for %s", amount, op)
	}
	var opc, immr, imms uint32
	switch op {
	case ALUOpLsl32, ALUOpLsl64:
		// LSL (immediate) is an alias for UBFM.
		// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/UBFM--Unsigned-Bitfield-Move-?lang=en
		opc = 0b10
		immr = (uint32(width) - amount) % uint32(width)
		imms = uint32(width) - 1 - amount
	case ALUOpLsr32, ALUOpLsr64:
		// LSR (immediate) is an alias for UBFM.
		opc = 0b10
		imms, immr = 0b011111|sf<<5, amount
	case ALUOpAsr32, ALUOpAsr64:
		// ASR (immediate) is an alias for SBFM.
		opc = 0b00
		imms, immr = 0b011111|sf<<5, amount
	default:
		invariant.Panicf("%s has no shift immediate form", op)
	}
	return sf<<31 | opc<<29 | 0b100110<<23 | sf<<22 | immr<<16 | imms<<10 | rn<<5 | rd
}

// encodeAluRRRShift encodes as Data Processing (shifted register), depending on op.
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Data-Processing----Register?lang=en#addsub_shift
func encodeAluRRRShift(op ALUOp, rd, rn, rm uint32, shift ShiftOpAndAmt) uint32 {
	sf := op.sf()
	if uint32(shift.Amt) >= 32<<sf {
		invariant.Panicf("shift amount %d out of range for %s", shift.Amt, op)
	}
	if opS, ok := op.addSubOpS(); ok {
		if shift.Op == ShiftOpROR {
			invariant.Panicf("%s cannot rotate its operand", op)
		}
		return sf<<31 | opS<<29 | 0b01011<<24 | uint32(shift.Op)<<22 | rm<<16 | uint32(shift.Amt)<<10 | rn<<5 | rd
	}
	if opc, ok := op.logicalOpc(); ok {
		return encodeLogicalShiftedRegister(sf<<2|opc, uint32(shift.Op)<<1, rm, uint32(shift.Amt), rn, rd)
	}
	invariant.Panicf("%s has no shifted register form", op)
	return 0
}

// encodeAluRRRExtend encodes as Add/subtract (extended register) in
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Data-Processing----Register?lang=en
func encodeAluRRRExtend(op ALUOp, rd, rn, rm uint32, ext ExtendOp) uint32 {
	opS, ok := op.addSubOpS()
	if !ok {
		invariant.Panicf("%s has no extended register form", op)
	}
	return encodeAddSubExtendedRegister(op.sf(), opS, rm, uint32(ext), rn, rd)
}

func encodeAddSubExtendedRegister(sf, opS, rm, option, rn, rd uint32) uint32 {
	return sf<<31 | opS<<29 | 0b01011<<24 | 0b001<<21 | rm<<16 | option<<13 | rn<<5 | rd
}

// encodeLogicalShiftedRegister encodes as Logical (shifted register) in
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Data-Processing----Register?lang=en
func encodeLogicalShiftedRegister(sfOpc, shiftN, rm, imm6, rn, rd uint32) (ret uint32) {
	ret = sfOpc << 29
	ret |= 0b01010 << 24
	ret |= shiftN << 21
	ret |= rm << 16
	ret |= imm6 << 10
	ret |= rn << 5
	ret |= rd
	return
}

// encodeAddSubtractImmediate encodes as Add/subtract (immediate) in
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Data-Processing----Immediate?lang=en
func encodeAddSubtractImmediate(sfOpS, sh, imm12, rn, rd uint32) (ret uint32) {
	ret = sfOpS << 29
	ret |= 0b100010 << 23
	ret |= sh << 22
	ret |= imm12 << 10
	ret |= rn << 5
	ret |= rd
	return
}

func encodeAsMov64(rn, rd uint32) uint32 {
	// This is an alias of ORR (shifted register):
	// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/MOV--register---Move--register---an-alias-of-ORR--shifted-register--
	return encodeLogicalShiftedRegister(0b101, 0, rn, 0, regEncoding(ZeroReg()), rd)
}

// encodeMoveWideImmediate encodes as either MOVZ or MOVN (64 bits), as Move wide (immediate) in
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Data-Processing----Immediate?lang=en
func encodeMoveWideImmediate(opc, rd uint32, imm MoveWideConst) (ret uint32) {
	ret = rd
	ret |= uint32(imm.Bits) << 5
	ret |= uint32(imm.Shift) << 21
	ret |= 0b100101 << 23
	ret |= opc << 29
	ret |= 1 << 31
	return
}

// loadStoreBits returns bits 22 to 31 of the register forms of a load or store, and the access
// size in bytes.
func loadStoreBits(kind instKind) (uint32, int64) {
	switch kind {
	case kindULoad8:
		return 0b0011100001, 1
	case kindSLoad8:
		return 0b0011100010, 1
	case kindULoad16:
		return 0b0111100001, 2
	case kindSLoad16:
		return 0b0111100010, 2
	case kindULoad32:
		return 0b1011100001, 4
	case kindSLoad32:
		return 0b1011100010, 4
	case kindULoad64:
		return 0b1111100001, 8
	case kindStore8:
		return 0b0011100000, 1
	case kindStore16:
		return 0b0111100000, 2
	case kindStore32:
		return 0b1011100000, 4
	case kindStore64:
		return 0b1111100000, 8
	}
	invariant.Panicf("%s is not a load or store", kind)
	return 0, 0
}

// encodeLoadOrStore encodes a load or store of rt with a finalized addressing mode. See "Loads and
// Stores" in https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Loads-and-Stores?lang=en
func encodeLoadOrStore(kind instKind, rt uint32, mem MemArg) uint32 {
	_22to31, size := loadStoreBits(kind)
	switch mem.kind {
	case memArgBase:
		return encodeLoadOrStoreSIMM9(_22to31, 0b00 /* unscaled */, regEncoding(mem.rn), rt, 0)
	case memArgBaseSImm9:
		// e.g. https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/LDUR--Load-Register--unscaled--
		return encodeLoadOrStoreSIMM9(_22to31, 0b00 /* unscaled */, regEncoding(mem.rn), rt, mem.simm9.bits())
	case memArgPostIndexed:
		return encodeLoadOrStoreSIMM9(_22to31, 0b01 /* post index */, regEncoding(mem.wrn.ToReg()), rt, mem.simm9.bits())
	case memArgPreIndexed:
		return encodeLoadOrStoreSIMM9(_22to31, 0b11 /* pre index */, regEncoding(mem.wrn.ToReg()), rt, mem.simm9.bits())
	case memArgBaseUImm12Scaled:
		// "unsigned immediate" in https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Loads-and-Stores?lang=en
		imm := int64(mem.uimm.Value)
		if imm%size != 0 || imm/size > 0xfff {
			invariant.Panicf("offset %d does not fit a scaled %d-byte access", imm, size)
		}
		return _22to31<<22 | 0b1<<24 | uint32(imm/size)<<10 | regEncoding(mem.rn)<<5 | rt
	case memArgBasePlusReg:
		return encodeLoadOrStoreExtended(_22to31, regEncoding(mem.rn), regEncoding(mem.rm), rt, false, uint32(ExtendOpUXTX))
	case memArgBasePlusRegScaled:
		checkScaledIndex(mem, size)
		return encodeLoadOrStoreExtended(_22to31, regEncoding(mem.rn), regEncoding(mem.rm), rt, true, uint32(ExtendOpUXTX))
	case memArgBasePlusRegScaledExtended:
		checkScaledIndex(mem, size)
		return encodeLoadOrStoreExtended(_22to31, regEncoding(mem.rn), regEncoding(mem.rm), rt, true, uint32(mem.ext))
	case memArgLabel:
		return encodeLoadLiteral(kind, rt, mem.label)
	case memArgStackOffset:
		invariant.Panicf("stack offset %d encoded before finalization", mem.off)
	}
	invariant.Panicf("invalid addressing mode %d", mem.kind)
	return 0
}

func checkScaledIndex(mem MemArg, size int64) {
	if int64(mem.ty.Bytes()) != size {
		invariant.Panicf("index scaled by %d bytes used for %d-byte access", mem.ty.Bytes(), size)
	}
}

// encodeLoadOrStoreExtended encodes store/load instruction as "extended register offset" in Load/store register (register offset):
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Loads-and-Stores?lang=en
func encodeLoadOrStoreExtended(_22to31, rn, rm, rt uint32, scaled bool, option uint32) uint32 {
	var s uint32
	if scaled {
		s = 0b1
	}
	return _22to31<<22 | 0b1<<21 | rm<<16 | option<<13 | s<<12 | 0b10<<10 | rn<<5 | rt
}

// encodeLoadOrStoreSIMM9 encodes store/load instruction as one of post-index, pre-index or unscaled immediate as in
// https://developer.arm.com/documentation/ddi0596/2020-12/Index-by-Encoding/Loads-and-Stores?lang=en
func encodeLoadOrStoreSIMM9(_22to31, _1011, rn, rt, imm9 uint32) uint32 {
	return _22to31<<22 | imm9<<12 | _1011<<10 | rn<<5 | rt
}

// encodeLoadLiteral encodes as Load register (literal):
// https://developer.arm.com/documentation/ddi0596/2020-12/Base-Instructions/LDR--literal---Load-Register--literal--
func encodeLoadLiteral(kind instKind, rt uint32, label MemLabel) uint32 {
	if !label.resolved {
		invariant.Panicf("constant %s encoded before finalization", label)
	}
	var opc uint32
	switch kind {
	case kindULoad32:
		opc = 0b00
	case kindULoad64:
		opc = 0b01
	case kindSLoad32:
		opc = 0b10
	default:
		invariant.Panicf("%s has no PC-relative form", kind)
	}
	off := label.pcRel
	if off%4 != 0 || off/4 < -(1<<18) || off/4 >= 1<<18 {
		invariant.Panicf("PC-relative offset %d out of range", off)
	}
	return opc<<30 | 0b011<<27 | (uint32(off/4)&0x7ffff)<<5 | rt
}

// encodeLoadOrStorePair64 encodes as Load/store pair (offset, pre-indexed or post-indexed) of 64-bit registers:
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/LDP--Load-Pair-of-Registers-
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/STP--Store-Pair-of-Registers-
func encodeLoadOrStorePair64(load bool, rt, rt2 uint32, mem PairMemArg) (ret uint32) {
	if mem.simm7.Ty.Bytes() != 8 {
		invariant.Panicf("pair offset scaled by %d bytes used for 64-bit registers", mem.simm7.Ty.Bytes())
	}
	var idx uint32
	switch mem.kind {
	case pairMemArgPostIndexed:
		idx = 0b001
	case pairMemArgSignedOffset:
		idx = 0b010
	case pairMemArgPreIndexed:
		idx = 0b011
	default:
		invariant.Panicf("invalid pair addressing mode %d", mem.kind)
	}
	ret = rt
	ret |= regEncoding(mem.base()) << 5
	ret |= rt2 << 10
	ret |= mem.simm7.bits() << 15
	if load {
		ret |= 0b1 << 22
	}
	ret |= idx << 23
	ret |= 0b10_101_0 << 26
	return
}

// encodeUnconditionalBranch encodes as B or BL instructions, given the word offset field:
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/B--Branch-
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/BL--Branch-with-Link-
func encodeUnconditionalBranch(link bool, imm26 uint32) (ret uint32) {
	ret = imm26 & 0b11_11111111_11111111_11111111
	ret |= 0b101 << 26
	if link {
		ret |= 0b1 << 31
	}
	return
}

// encodeCondBr encodes as CBZ, CBNZ (64 bits) or B.cond, given the word offset field:
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/CBZ--Compare-and-Branch-on-Zero-
// https://developer.arm.com/documentation/ddi0596/2021-12/Base-Instructions/B-cond--Branch-conditionally-
func encodeCondBr(kind CondBrKind, imm19 uint32) uint32 {
	switch kind.kind {
	case condBrZero:
		return encodeCBZCBNZ(regEncoding(kind.reg), false, imm19)
	case condBrNotZero:
		return encodeCBZCBNZ(regEncoding(kind.reg), true, imm19)
	case condBrCond:
		return 0b01010100<<24 | imm19<<5 | uint32(kind.cond)
	}
	invariant.Panicf("invalid branch condition %d", kind.kind)
	return 0
}

func encodeCBZCBNZ(rt uint32, nz bool, imm19 uint32) (ret uint32) {
	ret = rt
	ret |= imm19 << 5
	if nz {
		ret |= 1 << 24
	}
	ret |= 0b11010 << 25
	ret |= 1 << 31
	return
}

func encodeBLR(rn uint32) uint32 {
	// https://developer.arm.com/documentation/ddi0596/2020-12/Base-Instructions/BLR--Branch-with-Link-to-Register-
	return 0b1101011<<25 | 0b0001<<21 | 0b11111<<16 | rn<<5
}

func encodeRet() uint32 {
	// https://developer.arm.com/documentation/ddi0596/2020-12/Base-Instructions/RET--Return-from-subroutine-?lang=en
	return 0b1101011001011111<<16 | regEncoding(LinkReg())<<5
}
