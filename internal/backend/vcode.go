package backend

import (
	"context"
	"fmt"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/tetratelabs/machinst/internal/backend/regalloc"
	"github.com/tetratelabs/machinst/internal/debugopts"
	"github.com/tetratelabs/machinst/internal/invariant"
)

// BlockRange is the range [Start, End) of instruction indexes of a block.
type BlockRange struct {
	Start, End int
}

type vcodeState byte

const (
	stateBuilt vcodeState = iota + 1
	stateAllocated
	stateLowered
	stateResolved
)

func (s vcodeState) String() string {
	switch s {
	case stateBuilt:
		return "built"
	case stateAllocated:
		return "allocated"
	case stateLowered:
		return "lowered"
	case stateResolved:
		return "resolved"
	default:
		return "invalid"
	}
}

// VCode is the machine code of one function: a sequence of target instructions split into
// blocks, with block 0 as the entry.
//
// The passes must run in this order: RegAlloc, Reorder (optional), LowerBranches,
// ComputeOffsets, then Emit. Running one out of order is an invariant violation.
type VCode[I MachInst[I]] struct {
	isa    ISA[I]
	insts  []I
	blocks []BlockRange
	succs  [][]BlockIndex
	state  vcodeState

	blockOffsets []CodeOffset
	codeSize     CodeOffset
	// Clobbered is the set of allocatable registers written after allocation.
	Clobbered []regalloc.RealReg
}

// VCodeBuilder builds a VCode block by block.
type VCodeBuilder[I MachInst[I]] struct {
	vcode      *VCode[I]
	blockStart int
	inBlock    bool
}

// NewVCodeBuilder returns a builder for the given target.
func NewVCodeBuilder[I MachInst[I]](isa ISA[I]) *VCodeBuilder[I] {
	return &VCodeBuilder[I]{vcode: &VCode[I]{isa: isa}}
}

// StartBlock begins the next block, ending the current one. It returns the index of the new block.
func (b *VCodeBuilder[I]) StartBlock() BlockIndex {
	b.endBlock()
	b.blockStart, b.inBlock = len(b.vcode.insts), true
	return BlockIndex(len(b.vcode.blocks))
}

// Push appends an instruction to the current block.
func (b *VCodeBuilder[I]) Push(insts ...I) {
	if !b.inBlock {
		invariant.Panicf("Push outside of a block")
	}
	b.vcode.insts = append(b.vcode.insts, insts...)
}

func (b *VCodeBuilder[I]) endBlock() {
	if b.inBlock {
		b.vcode.blocks = append(b.vcode.blocks, BlockRange{Start: b.blockStart, End: len(b.vcode.insts)})
		b.inBlock = false
	}
}

// Build ends the last block, computes the successors of every block from its terminator and
// returns the VCode.
//
// Every block must be non-empty, end with a terminator, and branch only to existing blocks.
func (b *VCodeBuilder[I]) Build() *VCode[I] {
	b.endBlock()
	v := b.vcode
	if len(v.blocks) == 0 {
		invariant.Panicf("function without blocks")
	}
	v.succs = make([][]BlockIndex, len(v.blocks))
	for bi, r := range v.blocks {
		if r.Start == r.End {
			invariant.Panicf("block%d is empty", bi)
		}
		for i := r.Start; i < r.End-1; i++ {
			if t := v.insts[i].IsTerm(); t.Kind != TermNone {
				invariant.Panicf("block%d: terminator %s in the middle of the block", bi, v.insts[i])
			}
		}
		term := v.insts[r.End-1].IsTerm()
		if term.Kind == TermNone {
			invariant.Panicf("block%d does not end with a terminator: %s", bi, v.insts[r.End-1])
		}
		for _, s := range term.Succs() {
			if int(s) >= len(v.blocks) {
				invariant.Panicf("block%d branches to missing block%d", bi, s)
			}
		}
		v.succs[bi] = term.Succs()
	}
	v.state = stateBuilt
	return v
}

// NumBlocks implements regalloc.Function.
func (v *VCode[I]) NumBlocks() int { return len(v.blocks) }

// BlockRange implements regalloc.Function.
func (v *VCode[I]) BlockRange(b int) (start, end int) {
	r := v.blocks[b]
	return r.Start, r.End
}

// BlockSuccs implements regalloc.Function.
func (v *VCode[I]) BlockSuccs(b int) []int {
	ret := make([]int, len(v.succs[b]))
	for i, s := range v.succs[b] {
		ret[i] = int(s)
	}
	return ret
}

// NumInsns implements regalloc.Function.
func (v *VCode[I]) NumInsns() int { return len(v.insts) }

// InsnRegUses implements regalloc.Function.
func (v *VCode[I]) InsnRegUses(i int) regalloc.InstRegUses { return v.insts[i].RegUses() }

// InsnIsMove implements regalloc.Function.
func (v *VCode[I]) InsnIsMove(i int) (regalloc.Writable, regalloc.Reg, bool) { return v.insts[i].IsMove() }

// Insts returns the instructions in layout order.
func (v *VCode[I]) Insts() []I { return v.insts }

// Blocks returns the instruction ranges of the blocks in layout order.
func (v *VCode[I]) Blocks() []BlockRange { return v.blocks }

// BlockOffsets returns the byte offset of every block. Valid after ComputeOffsets.
func (v *VCode[I]) BlockOffsets() []CodeOffset { return v.blockOffsets }

// CodeSize returns the size of the code, excluding the constant pool. Valid after ComputeOffsets.
func (v *VCode[I]) CodeSize() CodeOffset { return v.codeSize }

func (v *VCode[I]) requireState(pass string, states ...vcodeState) {
	for _, s := range states {
		if v.state == s {
			return
		}
	}
	invariant.Panicf("%s called on %s code", pass, v.state)
}

// RegAlloc assigns physical registers to every virtual register and rewrites the instructions.
func (v *VCode[I]) RegAlloc(ctx context.Context) (err error) {
	v.requireState("RegAlloc", stateBuilt)
	tr := tlog.SpawnFromContext(ctx, "regalloc", "insts", len(v.insts), "blocks", len(v.blocks))
	defer tr.Finish("err", &err)

	universe := v.isa.RegUniverse()
	res, err := regalloc.Allocate(v, universe)
	if err != nil {
		return errors.Wrap(err, "regalloc")
	}
	for i := range v.insts {
		v.insts[i] = v.insts[i].MapRegs(res.PreMap(i), res.PostMap(i))
	}
	v.Clobbered = res.Clobbered
	v.state = stateAllocated

	if debugopts.RegAllocValidationEnabled {
		for i := range v.insts {
			uses := v.insts[i].RegUses()
			for _, r := range append(uses.Reads(), uses.Writes()...) {
				if r.IsVirtual() {
					invariant.Panicf("%s survived register rewriting in %s", r, v.insts[i])
				}
			}
		}
	}
	v.logPass(tr, "after regalloc")
	return nil
}

// Reorder lays the blocks out in the given order and renumbers branch targets accordingly.
// order must be a permutation of the block indexes starting with the entry block.
func (v *VCode[I]) Reorder(ctx context.Context, order []BlockIndex) {
	v.requireState("Reorder", stateBuilt, stateAllocated)
	tr := tlog.SpawnFromContext(ctx, "reorder", "order", order)
	defer tr.Finish()

	if len(order) != len(v.blocks) || order[0] != 0 {
		invariant.Panicf("invalid block order %v for %d blocks", order, len(v.blocks))
	}
	remap := make([]BlockIndex, len(v.blocks))
	seen := make([]bool, len(v.blocks))
	for newIdx, old := range order {
		if int(old) >= len(v.blocks) || seen[old] {
			invariant.Panicf("invalid block order %v", order)
		}
		seen[old] = true
		remap[old] = BlockIndex(newIdx)
	}

	insts := make([]I, 0, len(v.insts))
	blocks := make([]BlockRange, 0, len(v.blocks))
	succs := make([][]BlockIndex, 0, len(v.blocks))
	for _, old := range order {
		r := v.blocks[old]
		start := len(insts)
		for _, inst := range v.insts[r.Start:r.End] {
			insts = append(insts, inst.WithBlockRewrites(remap))
		}
		blocks = append(blocks, BlockRange{Start: start, End: len(insts)})
		var ss []BlockIndex
		for _, s := range v.succs[old] {
			ss = append(ss, remap[s])
		}
		succs = append(succs, ss)
	}
	v.insts, v.blocks, v.succs = insts, blocks, succs
	v.logPass(tr, "after reorder")
}

// FallthroughOrder returns a block order which places, where possible, the target of an
// unconditional jump or the not-taken target of a conditional branch right after its block,
// so that branch lowering can drop the jump.
func (v *VCode[I]) FallthroughOrder() []BlockIndex {
	placed := make([]bool, len(v.blocks))
	order := make([]BlockIndex, 0, len(v.blocks))
	next := BlockIndex(0)
	for len(order) < len(v.blocks) {
		placed[next] = true
		order = append(order, next)

		found := false
		succs := v.succs[next]
		for i := len(succs) - 1; i >= 0; i-- {
			if s := succs[i]; !placed[s] {
				next, found = s, true
				break
			}
		}
		if !found {
			for b := range placed {
				if !placed[b] {
					next, found = BlockIndex(b), true
					break
				}
			}
		}
		if !found {
			break
		}
	}
	return order
}

// LowerBranches lowers the terminator of every block given the block laid out after it.
func (v *VCode[I]) LowerBranches(ctx context.Context) {
	v.requireState("LowerBranches", stateAllocated)
	tr := tlog.SpawnFromContext(ctx, "lower branches", "blocks", len(v.blocks))
	defer tr.Finish()

	for b, r := range v.blocks {
		next := BlockIndex(b + 1)
		last := r.End - 1
		v.insts[last] = v.insts[last].WithFallthroughBlock(next, b+1 < len(v.blocks))
	}
	v.state = stateLowered
	v.logPass(tr, "after branch lowering")
}

// ComputeOffsets assigns a byte offset to every block and resolves branch targets.
func (v *VCode[I]) ComputeOffsets(ctx context.Context) {
	v.requireState("ComputeOffsets", stateLowered)
	tr := tlog.SpawnFromContext(ctx, "compute offsets")
	defer tr.Finish()

	v.blockOffsets = make([]CodeOffset, len(v.blocks))
	var off CodeOffset
	for b, r := range v.blocks {
		v.blockOffsets[b] = off
		for _, inst := range v.insts[r.Start:r.End] {
			off += inst.Size()
		}
	}
	v.codeSize = off

	off = 0
	for i := range v.insts {
		size := v.insts[i].Size()
		v.insts[i] = v.insts[i].WithBlockOffsets(off, v.blockOffsets)
		off += size
	}
	v.state = stateResolved
	tr.Printw("offsets computed", "code_size", v.codeSize)
}

// Emit encodes the function into sink, followed by its constant pool, and returns the pool.
func (v *VCode[I]) Emit(ctx context.Context, sink CodeSink) *ConstantPool {
	v.requireState("Emit", stateResolved)
	tr := tlog.SpawnFromContext(ctx, "emit", "code_size", v.codeSize)
	defer tr.Finish()

	start := sink.Offset()
	pool := NewConstantPool(v.codeSize)
	want := start
	for i := range v.insts {
		if got := sink.Offset(); got != want {
			invariant.Panicf("instruction %d (%s) emitted at %d, expected %d", i, v.insts[i], got, want)
		}
		v.insts[i].Emit(sink, pool)
		want += v.insts[i].Size()
	}
	if len(pool.Data()) > 0 {
		for sink.Offset()-start < pool.Base {
			sink.Put1(0)
		}
		for _, b := range pool.Data() {
			sink.Put1(b)
		}
	}
	tr.Printw("emitted", "size", sink.Offset()-start, "constants", len(pool.Data()))
	return pool
}

// Show renders the function, one label per block and one line per non-empty instruction.
func (v *VCode[I]) Show(rru *regalloc.RealRegUniverse) string {
	return v.show(rru, false)
}

// ShowWithOffsets renders the function like Show, prefixing every instruction with its offset.
// Valid after ComputeOffsets.
func (v *VCode[I]) ShowWithOffsets(rru *regalloc.RealRegUniverse) string {
	v.requireState("ShowWithOffsets", stateResolved)
	return v.show(rru, true)
}

func (v *VCode[I]) show(rru *regalloc.RealRegUniverse, offsets bool) string {
	var b strings.Builder
	var off CodeOffset
	for bi, r := range v.blocks {
		fmt.Fprintf(&b, "block%d:\n", bi)
		for _, inst := range v.insts[r.Start:r.End] {
			s := inst.ShowWithConsts(rru, NullConstantPoolSink{})
			if s != "" {
				if offsets {
					fmt.Fprintf(&b, "\t%04x: %s\n", off, s)
				} else {
					fmt.Fprintf(&b, "\t%s\n", s)
				}
			}
			if offsets {
				off += inst.Size()
			}
		}
	}
	return b.String()
}

func (v *VCode[I]) logPass(tr tlog.Span, msg string) {
	if debugopts.PassLoggingEnabled {
		tr.Printw(msg, "code", v.Show(v.isa.RegUniverse()))
	}
}
