package regalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// mockInstr is an instruction given by the registers it reads and writes.
type mockInstr struct {
	uses, defs, mods []Reg
	move             bool
}

type mockFunction struct {
	blocks [][]mockInstr
	succs  [][]int
}

func (f *mockFunction) NumBlocks() int { return len(f.blocks) }

func (f *mockFunction) BlockRange(b int) (start, end int) {
	for i := 0; i < b; i++ {
		start += len(f.blocks[i])
	}
	return start, start + len(f.blocks[b])
}

func (f *mockFunction) BlockSuccs(b int) []int { return f.succs[b] }

func (f *mockFunction) NumInsns() (n int) {
	for _, b := range f.blocks {
		n += len(b)
	}
	return
}

func (f *mockFunction) insn(i int) mockInstr {
	for _, b := range f.blocks {
		if i < len(b) {
			return b[i]
		}
		i -= len(b)
	}
	panic("out of range")
}

func (f *mockFunction) InsnRegUses(i int) InstRegUses {
	in := f.insn(i)
	u := NewInstRegUses()
	for _, r := range in.uses {
		u.Used.Insert(r)
	}
	for _, r := range in.defs {
		u.Defined.Insert(WritableReg(r))
	}
	for _, r := range in.mods {
		u.Modified.Insert(WritableReg(r))
	}
	u.Normalize()
	return u
}

func (f *mockFunction) InsnIsMove(i int) (Writable, Reg, bool) {
	in := f.insn(i)
	if !in.move {
		return Writable{}, RegInvalid, false
	}
	return WritableReg(in.defs[0]), in.uses[0], true
}

func vi(i uint32) Reg { return NewVirtualReg(RegClassI64, i).ToReg() }

func vf(i uint32) Reg { return NewVirtualReg(RegClassV128, i).ToReg() }

func TestAllocate_straightLine(t *testing.T) {
	u := testUniverse()
	f := &mockFunction{
		blocks: [][]mockInstr{{
			{defs: []Reg{vi(1)}},
			{defs: []Reg{vi(2)}},
			{uses: []Reg{vi(1), vi(2)}, defs: []Reg{vi(3)}},
			{uses: []Reg{vi(3)}, defs: []Reg{vf(4)}},
			{uses: []Reg{vf(4)}},
		}},
		succs: [][]int{nil},
	}
	res, err := Allocate(f, u)
	require.NoError(t, err)

	r1, ok := res.Assignment(vi(1).ToVirtualReg())
	require.True(t, ok)
	r2, _ := res.Assignment(vi(2).ToVirtualReg())
	r3, _ := res.Assignment(vi(3).ToVirtualReg())
	r4, _ := res.Assignment(vf(4).ToVirtualReg())
	require.Equal(t, "r0", u.Name(r1))
	require.Equal(t, "r1", u.Name(r2))
	// v1 and v2 die where v3 is defined, so v3 reuses the first register.
	require.Equal(t, "r0", u.Name(r3))
	require.Equal(t, "f0", u.Name(r4))
	require.Equal(t, res.PreMap(0), res.PostMap(3))
	require.Equal(t, []RealReg{u.Regs[0].Reg, u.Regs[1].Reg, u.Regs[4].Reg}, res.Clobbered)
}

func TestAllocate_loop(t *testing.T) {
	u := testUniverse()
	// block0: v1 = ...; v2 = ...
	// block1: v1 = v1 + v2; brif v1 -> block1, block2
	// block2: use v1
	// v2 is live around the loop and must not share a register with anything defined in it.
	f := &mockFunction{
		blocks: [][]mockInstr{
			{{defs: []Reg{vi(1)}}, {defs: []Reg{vi(2)}}},
			{{uses: []Reg{vi(1), vi(2)}, defs: []Reg{vi(3)}}, {uses: []Reg{vi(3)}, defs: []Reg{vi(1)}, move: true}, {uses: []Reg{vi(1)}}},
			{{uses: []Reg{vi(1)}}},
		},
		succs: [][]int{{1}, {1, 2}, nil},
	}
	res, err := Allocate(f, u)
	require.NoError(t, err)
	r1, _ := res.Assignment(vi(1).ToVirtualReg())
	r2, _ := res.Assignment(vi(2).ToVirtualReg())
	r3, _ := res.Assignment(vi(3).ToVirtualReg())
	require.NotEqual(t, r1, r2)
	require.NotEqual(t, r3, r2)
	require.NotEqual(t, r3, r1)
}

func TestAllocate_moveCoalescing(t *testing.T) {
	u := testUniverse()
	x2 := u.Regs[2].Reg.ToReg()
	f := &mockFunction{
		blocks: [][]mockInstr{{
			{uses: []Reg{x2}, defs: []Reg{vi(1)}, move: true},
			{uses: []Reg{vi(1)}},
		}},
		succs: [][]int{nil},
	}
	res, err := Allocate(f, u)
	require.NoError(t, err)
	r1, _ := res.Assignment(vi(1).ToVirtualReg())
	require.Equal(t, "r2", u.Name(r1))
}

func TestAllocate_avoidsLivePhysical(t *testing.T) {
	u := testUniverse()
	x0 := u.Regs[0].Reg.ToReg()
	f := &mockFunction{
		blocks: [][]mockInstr{{
			{defs: []Reg{x0}},
			{defs: []Reg{vi(1)}},
			{uses: []Reg{vi(1)}},
			{uses: []Reg{x0}},
		}},
		succs: [][]int{nil},
	}
	res, err := Allocate(f, u)
	require.NoError(t, err)
	r1, _ := res.Assignment(vi(1).ToVirtualReg())
	require.Equal(t, "r1", u.Name(r1))
}

func TestAllocate_modified(t *testing.T) {
	u := testUniverse()
	f := &mockFunction{
		blocks: [][]mockInstr{{
			{defs: []Reg{vi(1)}},
			{defs: []Reg{vi(2)}, mods: []Reg{vi(1)}},
			{uses: []Reg{vi(1), vi(2)}},
		}},
		succs: [][]int{nil},
	}
	res, err := Allocate(f, u)
	require.NoError(t, err)
	r1, _ := res.Assignment(vi(1).ToVirtualReg())
	r2, _ := res.Assignment(vi(2).ToVirtualReg())
	require.NotEqual(t, r1, r2)
}

func TestAllocate_exhausted(t *testing.T) {
	u := testUniverse()
	f := &mockFunction{
		blocks: [][]mockInstr{{
			{defs: []Reg{vf(1)}},
			{defs: []Reg{vf(2)}},
			{defs: []Reg{vf(3)}},
			{uses: []Reg{vf(1), vf(2), vf(3)}},
		}},
		succs: [][]int{nil},
	}
	_, err := Allocate(f, u)
	require.EqualError(t, err, "register allocation failed: no V128 register available for v3? live in [5, 6] (in use: f0, f1)")
}

func TestAllocator_reuse(t *testing.T) {
	a := NewAllocator(testUniverse())
	f := &mockFunction{
		blocks: [][]mockInstr{{{defs: []Reg{vi(1)}}, {uses: []Reg{vi(1)}}}},
		succs:  [][]int{nil},
	}
	for i := 0; i < 3; i++ {
		res, err := a.DoAllocation(f)
		require.NoError(t, err)
		r, ok := res.Assignment(vi(1).ToVirtualReg())
		require.True(t, ok)
		require.Equal(t, uint32(0), r.Index())
		require.Equal(t, 0, a.intervalPool.allocated)
	}
}

func TestPool(t *testing.T) {
	p := newPool[liveInterval]()
	for i := 0; i < poolPageSize*2+1; i++ {
		it := p.allocate()
		it.begin = programCounter(i)
	}
	require.Equal(t, poolPageSize*2+1, p.allocated)
	require.Equal(t, programCounter(poolPageSize+3), p.view(poolPageSize+3).begin)
	p.reset()
	require.Equal(t, 0, p.allocated)
	require.Equal(t, programCounter(0), p.allocate().begin)
}
