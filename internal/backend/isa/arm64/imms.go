package arm64

import (
	"fmt"
	"math/bits"

	"github.com/tetratelabs/machinst/internal/ir"
)

// Imm12 is the 12-bit unsigned immediate of add/subtract (immediate), optionally shifted left by 12.
type Imm12 struct {
	Bits    uint16
	Shift12 bool
}

// MaybeImm12FromU64 returns the Imm12 encoding val, if any.
func MaybeImm12FromU64(val uint64) (Imm12, bool) {
	switch {
	case val&^0xfff == 0:
		return Imm12{Bits: uint16(val)}, true
	case val&^(0xfff<<12) == 0:
		return Imm12{Bits: uint16(val >> 12), Shift12: true}, true
	default:
		return Imm12{}, false
	}
}

// Value returns the value of the immediate.
func (i Imm12) Value() uint64 {
	if i.Shift12 {
		return uint64(i.Bits) << 12
	}
	return uint64(i.Bits)
}

// String implements fmt.Stringer.
func (i Imm12) String() string {
	if i.Shift12 {
		return fmt.Sprintf("#%d, LSL 12", i.Bits)
	}
	return fmt.Sprintf("#%d", i.Bits)
}

// ImmLogic is a bitmask immediate of the logical (immediate) instructions: a rotated run of ones
// replicated over 2, 4, 8, 16, 32 or 64-bit elements.
type ImmLogic struct {
	value      uint64
	n          bool
	immr, imms uint8
	is64       bool
}

// MaybeImmLogicFromU64 returns the ImmLogic encoding val for a 32-bit (is64 == false) or 64-bit
// operation, if any. For 32-bit operations only the low 32 bits of val are considered.
func MaybeImmLogicFromU64(val uint64, is64 bool) (ImmLogic, bool) {
	v := val
	if !is64 {
		v = val & 0xffff_ffff
		v |= v << 32
	}
	if v == 0 || v == ^uint64(0) {
		return ImmLogic{}, false
	}

	// Find the smallest element size the value is a replication of.
	size := 64
	for size > 2 {
		half := size / 2
		mask := uint64(1)<<half - 1
		if v&mask != (v>>half)&mask {
			break
		}
		size = half
	}
	mask := ^uint64(0) >> (64 - size)
	elem := v & mask

	var rot, ones int
	if isShiftedMask(elem) {
		rot = bits.TrailingZeros64(elem)
		ones = bits.TrailingZeros64(^(elem >> rot))
	} else {
		elem |= ^mask
		if !isShiftedMask(^elem) {
			return ImmLogic{}, false
		}
		leading := bits.LeadingZeros64(^elem)
		rot = 64 - leading
		ones = leading + bits.TrailingZeros64(^elem) - (64 - size)
	}

	immr := (size - rot) & (size - 1)
	nimms := (^(size - 1) << 1) | (ones - 1)
	ret := ImmLogic{
		value: val,
		n:     (nimms>>6)&1 == 0,
		immr:  uint8(immr),
		imms:  uint8(nimms & 0x3f),
		is64:  is64,
	}
	if !is64 {
		ret.value = val & 0xffff_ffff
	}
	return ret, true
}

func isMask(v uint64) bool { return v != 0 && (v+1)&v == 0 }

func isShiftedMask(v uint64) bool { return v != 0 && isMask((v-1)|v) }

// Value returns the value of the immediate.
func (i ImmLogic) Value() uint64 { return i.value }

// Fields returns the N, immr and imms fields of the encoding.
func (i ImmLogic) Fields() (n bool, immr, imms uint8) { return i.n, i.immr, i.imms }

// String implements fmt.Stringer.
func (i ImmLogic) String() string { return fmt.Sprintf("#%d", i.value) }

// ImmShift is the shift amount of a shift (immediate), 0..63.
type ImmShift struct {
	Imm uint8
}

// MaybeImmShiftFromU64 returns the ImmShift encoding val, if any.
func MaybeImmShiftFromU64(val uint64) (ImmShift, bool) {
	if val > 63 {
		return ImmShift{}, false
	}
	return ImmShift{Imm: uint8(val)}, true
}

// String implements fmt.Stringer.
func (i ImmShift) String() string { return fmt.Sprintf("#%d", i.Imm) }

// MoveWideConst is the 16-bit immediate of movz/movn, shifted left by 16*Shift bits.
type MoveWideConst struct {
	Bits  uint16
	Shift uint8
}

// MaybeMoveWideConstFromU64 returns the MoveWideConst encoding val, if any: val must have at
// most one non-zero 16-bit chunk.
func MaybeMoveWideConstFromU64(val uint64) (MoveWideConst, bool) {
	for shift := uint8(0); shift < 4; shift++ {
		if val&^(0xffff<<(16*shift)) == 0 {
			return MoveWideConst{Bits: uint16(val >> (16 * shift)), Shift: shift}, true
		}
	}
	return MoveWideConst{}, false
}

// Value returns the value of the immediate.
func (m MoveWideConst) Value() uint64 { return uint64(m.Bits) << (16 * m.Shift) }

// String implements fmt.Stringer.
func (m MoveWideConst) String() string {
	if m.Shift == 0 {
		return fmt.Sprintf("#%d", m.Bits)
	}
	return fmt.Sprintf("#%d, LSL #%d", m.Bits, m.Shift*16)
}

// SImm9 is a signed 9-bit byte offset, -256..255.
type SImm9 struct {
	Value int16
}

// MaybeSImm9FromI64 returns the SImm9 encoding val, if any.
func MaybeSImm9FromI64(val int64) (SImm9, bool) {
	if val < -256 || val > 255 {
		return SImm9{}, false
	}
	return SImm9{Value: int16(val)}, true
}

// bits returns the 9-bit two's complement field.
func (s SImm9) bits() uint32 { return uint32(s.Value) & 0x1ff }

// String implements fmt.Stringer.
func (s SImm9) String() string { return fmt.Sprintf("#%d", s.Value) }

// UImm12Scaled is an unsigned byte offset which is a multiple of the access size, up to 4095
// times the access size.
type UImm12Scaled struct {
	Value uint16
	Ty    ir.Type
}

// MaybeUImm12ScaledFromI64 returns the UImm12Scaled encoding val for accesses of type ty, if any.
func MaybeUImm12ScaledFromI64(val int64, ty ir.Type) (UImm12Scaled, bool) {
	scale := int64(ty.Bytes())
	if val < 0 || val%scale != 0 || val/scale > 0xfff {
		return UImm12Scaled{}, false
	}
	return UImm12Scaled{Value: uint16(val), Ty: ty}, true
}

// bits returns the scaled 12-bit field.
func (u UImm12Scaled) bits() uint32 { return uint32(u.Value) / uint32(u.Ty.Bytes()) }

// String implements fmt.Stringer.
func (u UImm12Scaled) String() string { return fmt.Sprintf("#%d", u.Value) }

// SImm7Scaled is a signed byte offset of a pair access: a multiple of the access size, -64..63
// times the access size.
type SImm7Scaled struct {
	Value int16
	Ty    ir.Type
}

// MaybeSImm7ScaledFromI64 returns the SImm7Scaled encoding val for accesses of type ty, if any.
func MaybeSImm7ScaledFromI64(val int64, ty ir.Type) (SImm7Scaled, bool) {
	scale := int64(ty.Bytes())
	if val%scale != 0 || val/scale < -64 || val/scale > 63 {
		return SImm7Scaled{}, false
	}
	return SImm7Scaled{Value: int16(val), Ty: ty}, true
}

// bits returns the scaled 7-bit two's complement field.
func (s SImm7Scaled) bits() uint32 {
	return uint32(int32(s.Value)/int32(s.Ty.Bytes())) & 0x7f
}

// String implements fmt.Stringer.
func (s SImm7Scaled) String() string { return fmt.Sprintf("#%d", s.Value) }
