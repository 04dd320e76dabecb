// Package regalloc implements the register identities shared by the machine-independent passes and
// the targets, and a reference register allocator.
//
// The allocator is a linear scan over conservative live intervals: liveness is computed by
// backward dataflow over blocks, each virtual register gets one interval spanning every position
// where it is live, and intervals are assigned greedily in order of their start. There is no
// spilling; running out of registers is reported as an error.
package regalloc

import (
	"sort"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/tetratelabs/machinst/internal/debugopts"
	"github.com/tetratelabs/machinst/internal/invariant"
)

// programCounter is a position in the linear instruction stream. The i-th instruction reads its
// operands at 2*i and writes its results at 2*i+1, so that a register whose last read is at i can
// be reused for a result of i.
type programCounter int32

const (
	pcUseOffset = 0
	pcDefOffset = 1
	pcStride    = pcDefOffset + 1
)

type (
	// Allocator is a reusable register allocator for one RealRegUniverse.
	Allocator struct {
		universe     *RealRegUniverse
		blockInfos   []blockInfo
		intervalPool pool[liveInterval]
		intervals    map[VirtualReg]*liveInterval
		// realHulls is the hull of every position at which a physical register is live.
		realHulls map[RealReg]*liveInterval
		hints     []moveHint
	}

	blockInfo struct {
		// gen is the set of registers read before being written in the block.
		gen map[Reg]struct{}
		// kill is the set of registers written in the block.
		kill            map[Reg]struct{}
		liveIn, liveOut map[Reg]struct{}
	}

	liveInterval struct {
		v          VirtualReg
		begin, end programCounter
		assigned   RealReg
		done       bool
	}

	moveHint struct {
		dst, src Reg
	}
)

// NewAllocator returns an Allocator for the given universe.
func NewAllocator(universe *RealRegUniverse) *Allocator {
	return &Allocator{
		universe:     universe,
		intervalPool: newPool[liveInterval](),
		intervals:    map[VirtualReg]*liveInterval{},
		realHulls:    map[RealReg]*liveInterval{},
	}
}

// Allocate runs a fresh Allocator on f.
func Allocate(f Function, universe *RealRegUniverse) (*Result, error) {
	return NewAllocator(universe).DoAllocation(f)
}

// Reset clears the per-function state so that the Allocator can be reused.
func (a *Allocator) Reset() {
	a.blockInfos = a.blockInfos[:0]
	a.intervalPool.reset()
	for k := range a.intervals {
		delete(a.intervals, k)
	}
	for k := range a.realHulls {
		delete(a.realHulls, k)
	}
	a.hints = a.hints[:0]
}

// DoAllocation assigns a physical register to every virtual register of f.
func (a *Allocator) DoAllocation(f Function) (*Result, error) {
	defer a.Reset()

	a.livenessAnalysis(f)
	a.buildIntervals(f)

	intervals := make([]*liveInterval, 0, len(a.intervals))
	for _, it := range a.intervals {
		intervals = append(intervals, it)
	}
	sort.Slice(intervals, func(i, j int) bool {
		if intervals[i].begin != intervals[j].begin {
			return intervals[i].begin < intervals[j].begin
		}
		return intervals[i].v < intervals[j].v
	})

	if err := a.assign(intervals); err != nil {
		return nil, err
	}

	if debugopts.RegAllocValidationEnabled {
		a.validate(intervals)
	}

	ret := &Result{assignment: make(Map, len(intervals))}
	var clobbered RegSet
	for _, it := range intervals {
		ret.assignment[it.v] = it.assigned
	}
	for i := 0; i < f.NumInsns(); i++ {
		uses := f.InsnRegUses(i)
		for _, r := range uses.Writes() {
			var rr RealReg
			if r.IsReal() {
				rr = r.ToRealReg()
			} else {
				rr = ret.assignment[r.ToVirtualReg()]
			}
			if a.universe.IsAllocable(rr) {
				clobbered = clobbered.add(rr)
			}
		}
	}
	for _, info := range a.universe.Regs[:a.universe.Allocable] {
		if clobbered.has(info.Reg) {
			ret.Clobbered = append(ret.Clobbered, info.Reg)
		}
	}
	if debugopts.RegAllocLoggingEnabled {
		tlog.Printw("regalloc done", "vregs", len(intervals), "clobbered", clobbered.format(a.universe))
	}
	return ret, nil
}

// livenessAnalysis computes the live-in and live-out sets of every block by iterating the usual
// backward dataflow equations to a fixed point:
//
//	liveOut(b) = U liveIn(s) for s in succs(b)
//	liveIn(b)  = gen(b) U (liveOut(b) - kill(b))
func (a *Allocator) livenessAnalysis(f Function) {
	n := f.NumBlocks()
	for i := 0; i < n; i++ {
		a.blockInfos = append(a.blockInfos, blockInfo{
			gen:     map[Reg]struct{}{},
			kill:    map[Reg]struct{}{},
			liveIn:  map[Reg]struct{}{},
			liveOut: map[Reg]struct{}{},
		})
	}

	for b := 0; b < n; b++ {
		info := &a.blockInfos[b]
		start, end := f.BlockRange(b)
		for i := start; i < end; i++ {
			uses := f.InsnRegUses(i)
			for _, r := range uses.Reads() {
				if !a.tracked(r) {
					continue
				}
				if _, ok := info.kill[r]; !ok {
					info.gen[r] = struct{}{}
				}
			}
			for _, r := range uses.Writes() {
				if a.tracked(r) {
					info.kill[r] = struct{}{}
				}
			}
		}
	}

	for changed := true; changed; {
		changed = false
		for b := n - 1; b >= 0; b-- {
			info := &a.blockInfos[b]
			for _, s := range f.BlockSuccs(b) {
				for r := range a.blockInfos[s].liveIn {
					info.liveOut[r] = struct{}{}
				}
			}
			for r := range info.gen {
				if _, ok := info.liveIn[r]; !ok {
					info.liveIn[r] = struct{}{}
					changed = true
				}
			}
			for r := range info.liveOut {
				if _, killed := info.kill[r]; killed {
					continue
				}
				if _, ok := info.liveIn[r]; !ok {
					info.liveIn[r] = struct{}{}
					changed = true
				}
			}
		}
	}

	if debugopts.RegAllocLoggingEnabled {
		for b := range a.blockInfos {
			tlog.Printw("liveness", "block", b, "in", len(a.blockInfos[b].liveIn), "out", len(a.blockInfos[b].liveOut))
		}
	}
}

// tracked returns true if the liveness of r matters to the allocator: virtual registers, and the
// allocatable physical registers which constrain the assignment.
func (a *Allocator) tracked(r Reg) bool {
	return r.IsVirtual() || a.universe.IsAllocable(r.ToRealReg())
}

// buildIntervals computes, for every tracked register, the hull of the positions where it is live.
func (a *Allocator) buildIntervals(f Function) {
	for b := range a.blockInfos {
		info := &a.blockInfos[b]
		start, end := f.BlockRange(b)
		for r := range info.liveIn {
			a.extend(r, programCounter(start)*pcStride)
		}
		if end > start {
			for r := range info.liveOut {
				a.extend(r, programCounter(end-1)*pcStride+pcDefOffset)
			}
		}
		for i := start; i < end; i++ {
			pc := programCounter(i) * pcStride
			uses := f.InsnRegUses(i)
			for _, r := range uses.Reads() {
				if a.tracked(r) {
					a.extend(r, pc+pcUseOffset)
				}
			}
			for _, r := range uses.Writes() {
				if a.tracked(r) {
					a.extend(r, pc+pcDefOffset)
				}
			}
			if dst, src, ok := f.InsnIsMove(i); ok {
				a.hints = append(a.hints, moveHint{dst: dst.ToReg(), src: src})
			}
		}
	}
}

func (a *Allocator) extend(r Reg, pc programCounter) {
	var it *liveInterval
	var ok bool
	if r.IsVirtual() {
		v := r.ToVirtualReg()
		if it, ok = a.intervals[v]; !ok {
			it = a.intervalPool.allocate()
			it.v, it.begin, it.end = v, pc, pc
			a.intervals[v] = it
		}
	} else {
		rr := r.ToRealReg()
		if it, ok = a.realHulls[rr]; !ok {
			it = a.intervalPool.allocate()
			it.assigned, it.begin, it.end, it.done = rr, pc, pc, true
			a.realHulls[rr] = it
		}
	}
	if pc < it.begin {
		it.begin = pc
	}
	if pc > it.end {
		it.end = pc
	}
}

func (it *liveInterval) intersects(other *liveInterval) bool {
	return it.begin <= other.end && other.begin <= it.end
}

// hintsFor returns the physical registers that would turn a move involving v into a no-op.
func (a *Allocator) hintsFor(v VirtualReg) (ret []RealReg) {
	partner := func(r Reg) {
		if r.IsReal() {
			ret = append(ret, r.ToRealReg())
		} else if it, ok := a.intervals[r.ToVirtualReg()]; ok && it.done {
			ret = append(ret, it.assigned)
		}
	}
	for _, h := range a.hints {
		switch {
		case h.dst == v.ToReg():
			partner(h.src)
		case h.src == v.ToReg():
			partner(h.dst)
		}
	}
	return
}

func (a *Allocator) assign(intervals []*liveInterval) error {
	var active []*liveInterval
	for _, it := range intervals {
		class := it.v.Class()
		if class == RegClassInvalid || class >= NumRegClasses {
			invariant.Panicf("%s has no register class", it.v)
		}

		live := active[:0]
		var inUse RegSet
		for _, act := range active {
			if act.end >= it.begin {
				live = append(live, act)
				inUse = inUse.add(act.assigned)
			}
		}
		active = live

		candidates := append(a.hintsFor(it.v), a.universe.AllocableRegs(class)...)
		found := false
		for _, r := range candidates {
			if r.Class() != class || !a.universe.IsAllocable(r) || inUse.has(r) {
				continue
			}
			if hull, ok := a.realHulls[r]; ok && hull.intersects(it) {
				continue
			}
			it.assigned, it.done, found = r, true, true
			break
		}
		if !found {
			return errors.New("register allocation failed: no %s register available for %s live in [%d, %d] (in use: %s)",
				class, it.v, it.begin, it.end, inUse.format(a.universe))
		}
		if debugopts.RegAllocLoggingEnabled {
			tlog.Printw("assign", "vreg", it.v, "reg", a.universe.Name(it.assigned), "begin", it.begin, "end", it.end)
		}
		active = append(active, it)
	}
	return nil
}

// validate checks that no two intersecting intervals share a register.
func (a *Allocator) validate(intervals []*liveInterval) {
	for i, x := range intervals {
		for _, y := range intervals[i+1:] {
			if y.begin > x.end {
				break
			}
			if x.assigned == y.assigned && x.intersects(y) {
				invariant.Panicf("%s and %s both assigned %s", x.v, y.v, a.universe.Name(x.assigned))
			}
		}
		if hull, ok := a.realHulls[x.assigned]; ok && hull.intersects(x) {
			invariant.Panicf("%s assigned %s which is live in [%d, %d]", x.v, a.universe.Name(x.assigned), hull.begin, hull.end)
		}
	}
}
