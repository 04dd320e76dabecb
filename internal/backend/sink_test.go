package backend

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tetratelabs/machinst/internal/ir"
)

func TestMemoryCodeSink(t *testing.T) {
	rec := &Records{}
	s := NewMemoryCodeSink(rec, rec, rec)
	require.Equal(t, CodeOffset(0), s.Offset())

	s.Put1(0x01)
	s.Put2(0x0302)
	s.Put4(0x07060504)
	s.Put8(0x0f0e0d0c0b0a0908)
	require.Equal(t, CodeOffset(15), s.Offset())
	require.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, s.Bytes())

	sm := &ir.Stackmap{Bits: []bool{false, true, true}}
	s.RelocExternal(RelocArm64Call, ir.UserName(0, 3), 0)
	s.Put4(0)
	s.Trap(ir.TrapCodeIntegerDivisionByZero)
	s.AddStackmap(sm)
	s.RelocExternal(RelocAbs8, ir.SymbolName("table"), -8)

	require.Equal(t, []Relocation{
		{Offset: 15, Kind: RelocArm64Call, Name: ir.UserName(0, 3)},
		{Offset: 19, Kind: RelocAbs8, Name: ir.SymbolName("table"), Addend: -8},
	}, rec.Relocs)
	require.Equal(t, []TrapRecord{{Offset: 19, Code: ir.TrapCodeIntegerDivisionByZero}}, rec.Traps)
	require.Equal(t, []StackmapRecord{{Offset: 19, Stackmap: sm}}, rec.Stackmaps)

	require.Equal(t, "reloc_external: Arm64Call u0:3 0 at 15", rec.Relocs[0].String())
	require.Equal(t, "reloc_external: Abs8 %table -8 at 19", rec.Relocs[1].String())
	require.Equal(t, "trap: int_divz at 19", rec.Traps[0].String())
	require.Equal(t, "add_stackmap at 19 mapped_words=3 [011]", rec.Stackmaps[0].String())
}

func TestMemoryCodeSink_nullSinks(t *testing.T) {
	s := NewMemoryCodeSink(NullRelocSink{}, NullTrapSink{}, NullStackmapSink{})
	s.RelocExternal(RelocArm64Call, ir.SymbolName("f"), 0)
	s.Trap(ir.TrapCodeUser)
	s.AddStackmap(&ir.Stackmap{})
	s.Put4(0xd503201f)
	require.Equal(t, []byte{0x1f, 0x20, 0x03, 0xd5}, s.Bytes())
}

func TestConstantPool(t *testing.T) {
	for _, tc := range []struct {
		codeSize, base CodeOffset
	}{
		{codeSize: 0, base: 0},
		{codeSize: 4, base: 16},
		{codeSize: 16, base: 16},
		{codeSize: 20, base: 32},
	} {
		require.Equal(t, tc.base, NewConstantPool(tc.codeSize).Base, "code size %d", tc.codeSize)
	}

	p := NewConstantPool(8)
	require.Equal(t, CodeOffset(16), p.OffsetFromCodeStart())
	p.AddData([]byte{0xaa})
	require.Equal(t, CodeOffset(17), p.OffsetFromCodeStart())
	p.AlignTo(8)
	require.Equal(t, CodeOffset(24), p.OffsetFromCodeStart())
	p.AlignTo(8)
	require.Equal(t, CodeOffset(24), p.OffsetFromCodeStart())
	p.AddData([]byte{1, 2})
	require.Equal(t, []byte{0xaa, 0, 0, 0, 0, 0, 0, 0, 1, 2}, p.Data())

	var null NullConstantPoolSink
	null.AddData([]byte{1})
	null.AlignTo(16)
	require.Equal(t, CodeOffset(0), null.OffsetFromCodeStart())
}

func TestMachTerminator(t *testing.T) {
	for _, tc := range []struct {
		term  MachTerminator
		succs []BlockIndex
		str   string
	}{
		{term: MachTerminator{Kind: TermNone}, str: "none"},
		{term: MachTerminator{Kind: TermRet}, str: "ret"},
		{term: MachTerminator{Kind: TermUncond, Taken: 3}, succs: []BlockIndex{3}, str: "uncond(block3)"},
		{term: MachTerminator{Kind: TermCond, Taken: 1, NotTaken: 2}, succs: []BlockIndex{1, 2}, str: "cond(block1, block2)"},
	} {
		t.Run(tc.str, func(t *testing.T) {
			require.Equal(t, tc.succs, tc.term.Succs())
			require.Equal(t, tc.str, tc.term.String())
		})
	}
	require.Equal(t, "reloc9", Reloc(9).String())
}
