package backend

import (
	"encoding/binary"
	"fmt"

	"github.com/tetratelabs/machinst/internal/ir"
)

// Reloc is the kind of a relocation.
type Reloc byte

const (
	// RelocArm64Call is the 26-bit PC-relative displacement of a BL instruction.
	RelocArm64Call Reloc = iota + 1
	// RelocAbs8 is an absolute 8-byte address.
	RelocAbs8
)

// String implements fmt.Stringer.
func (r Reloc) String() string {
	switch r {
	case RelocArm64Call:
		return "Arm64Call"
	case RelocAbs8:
		return "Abs8"
	default:
		return fmt.Sprintf("reloc%d", byte(r))
	}
}

// CodeSink receives the bytes and side records of emitted instructions.
type CodeSink interface {
	// Offset returns the offset the next byte is written at.
	Offset() CodeOffset
	Put1(b byte)
	Put2(v uint16)
	Put4(v uint32)
	Put8(v uint64)
	// RelocExternal records a relocation at the current offset.
	RelocExternal(kind Reloc, name ir.ExternalName, addend int64)
	// Trap records that the instruction at the current offset may trap.
	Trap(code ir.TrapCode)
	// AddStackmap records the stackmap valid at the current offset.
	AddStackmap(stackmap *ir.Stackmap)
}

// RelocSink receives relocation records in emission order.
type RelocSink interface {
	RelocExternal(offset CodeOffset, kind Reloc, name ir.ExternalName, addend int64)
}

// TrapSink receives trap records in emission order.
type TrapSink interface {
	Trap(offset CodeOffset, code ir.TrapCode)
}

// StackmapSink receives stackmap records in emission order.
type StackmapSink interface {
	AddStackmap(offset CodeOffset, stackmap *ir.Stackmap)
}

// ConstantPoolSink receives the constants addressed by emitted instructions. The pool is placed
// after the function's code.
type ConstantPoolSink interface {
	// AlignTo pads the pool so that the next constant is aligned to alignment bytes.
	AlignTo(alignment CodeOffset)
	// OffsetFromCodeStart returns the offset the next constant is placed at.
	OffsetFromCodeStart() CodeOffset
	// AddData appends data to the pool.
	AddData(data []byte)
}

type (
	// NullRelocSink discards relocations.
	NullRelocSink struct{}
	// NullTrapSink discards traps.
	NullTrapSink struct{}
	// NullStackmapSink discards stackmaps.
	NullStackmapSink struct{}
	// NullConstantPoolSink discards constants and reports every constant at offset zero.
	NullConstantPoolSink struct{}
)

// RelocExternal implements RelocSink.
func (NullRelocSink) RelocExternal(CodeOffset, Reloc, ir.ExternalName, int64) {}

// Trap implements TrapSink.
func (NullTrapSink) Trap(CodeOffset, ir.TrapCode) {}

// AddStackmap implements StackmapSink.
func (NullStackmapSink) AddStackmap(CodeOffset, *ir.Stackmap) {}

// AlignTo implements ConstantPoolSink.
func (NullConstantPoolSink) AlignTo(CodeOffset) {}

// OffsetFromCodeStart implements ConstantPoolSink.
func (NullConstantPoolSink) OffsetFromCodeStart() CodeOffset { return 0 }

// AddData implements ConstantPoolSink.
func (NullConstantPoolSink) AddData([]byte) {}

// MemoryCodeSink writes little-endian code into memory and forwards the side records.
type MemoryCodeSink struct {
	buf       []byte
	relocs    RelocSink
	traps     TrapSink
	stackmaps StackmapSink
}

// NewMemoryCodeSink returns a MemoryCodeSink forwarding records to the given sinks.
func NewMemoryCodeSink(relocs RelocSink, traps TrapSink, stackmaps StackmapSink) *MemoryCodeSink {
	return &MemoryCodeSink{relocs: relocs, traps: traps, stackmaps: stackmaps}
}

// Bytes returns the code written so far.
func (s *MemoryCodeSink) Bytes() []byte { return s.buf }

// Offset implements CodeSink.
func (s *MemoryCodeSink) Offset() CodeOffset { return CodeOffset(len(s.buf)) }

// Put1 implements CodeSink.
func (s *MemoryCodeSink) Put1(b byte) { s.buf = append(s.buf, b) }

// Put2 implements CodeSink.
func (s *MemoryCodeSink) Put2(v uint16) { s.buf = binary.LittleEndian.AppendUint16(s.buf, v) }

// Put4 implements CodeSink.
func (s *MemoryCodeSink) Put4(v uint32) { s.buf = binary.LittleEndian.AppendUint32(s.buf, v) }

// Put8 implements CodeSink.
func (s *MemoryCodeSink) Put8(v uint64) { s.buf = binary.LittleEndian.AppendUint64(s.buf, v) }

// RelocExternal implements CodeSink.
func (s *MemoryCodeSink) RelocExternal(kind Reloc, name ir.ExternalName, addend int64) {
	s.relocs.RelocExternal(s.Offset(), kind, name, addend)
}

// Trap implements CodeSink.
func (s *MemoryCodeSink) Trap(code ir.TrapCode) {
	s.traps.Trap(s.Offset(), code)
}

// AddStackmap implements CodeSink.
func (s *MemoryCodeSink) AddStackmap(stackmap *ir.Stackmap) {
	s.stackmaps.AddStackmap(s.Offset(), stackmap)
}

// ConstantPool collects the constants of a function. It is placed at Base, after the code.
type ConstantPool struct {
	Base CodeOffset
	data []byte
}

// NewConstantPool returns an empty pool placed at the first 16-byte aligned offset after codeSize.
func NewConstantPool(codeSize CodeOffset) *ConstantPool {
	return &ConstantPool{Base: (codeSize + 15) &^ 15}
}

// AlignTo implements ConstantPoolSink.
func (p *ConstantPool) AlignTo(alignment CodeOffset) {
	for CodeOffset(len(p.data))%alignment != 0 {
		p.data = append(p.data, 0)
	}
}

// OffsetFromCodeStart implements ConstantPoolSink.
func (p *ConstantPool) OffsetFromCodeStart() CodeOffset { return p.Base + CodeOffset(len(p.data)) }

// AddData implements ConstantPoolSink.
func (p *ConstantPool) AddData(data []byte) { p.data = append(p.data, data...) }

// Data returns the contents of the pool.
func (p *ConstantPool) Data() []byte { return p.data }

// Relocation is a relocation record.
type Relocation struct {
	Offset CodeOffset
	Kind   Reloc
	Name   ir.ExternalName
	Addend int64
}

// String implements fmt.Stringer.
func (r Relocation) String() string {
	return fmt.Sprintf("reloc_external: %s %s %d at %d", r.Kind, r.Name, r.Addend, r.Offset)
}

// TrapRecord is a trap record.
type TrapRecord struct {
	Offset CodeOffset
	Code   ir.TrapCode
}

// String implements fmt.Stringer.
func (t TrapRecord) String() string {
	return fmt.Sprintf("trap: %s at %d", t.Code, t.Offset)
}

// StackmapRecord is a stackmap record.
type StackmapRecord struct {
	Offset   CodeOffset
	Stackmap *ir.Stackmap
}

// String implements fmt.Stringer.
func (s StackmapRecord) String() string {
	return fmt.Sprintf("add_stackmap at %d mapped_words=%d %s", s.Offset, s.Stackmap.MappedWords(), s.Stackmap)
}

// Records collects every record in emission order. It implements RelocSink, TrapSink and StackmapSink.
type Records struct {
	Relocs    []Relocation
	Traps     []TrapRecord
	Stackmaps []StackmapRecord
}

// RelocExternal implements RelocSink.
func (r *Records) RelocExternal(offset CodeOffset, kind Reloc, name ir.ExternalName, addend int64) {
	r.Relocs = append(r.Relocs, Relocation{Offset: offset, Kind: kind, Name: name, Addend: addend})
}

// Trap implements TrapSink.
func (r *Records) Trap(offset CodeOffset, code ir.TrapCode) {
	r.Traps = append(r.Traps, TrapRecord{Offset: offset, Code: code})
}

// AddStackmap implements StackmapSink.
func (r *Records) AddStackmap(offset CodeOffset, stackmap *ir.Stackmap) {
	r.Stackmaps = append(r.Stackmaps, StackmapRecord{Offset: offset, Stackmap: stackmap})
}
