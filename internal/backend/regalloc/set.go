package regalloc

import (
	"sort"
	"strings"
)

// Set is an unordered set of T.
type Set[T comparable] struct {
	m map[T]struct{}
}

// NewSet returns a Set holding the given elements.
func NewSet[T comparable](elems ...T) Set[T] {
	s := Set[T]{m: make(map[T]struct{}, len(elems))}
	for _, e := range elems {
		s.m[e] = struct{}{}
	}
	return s
}

// Insert adds e to the set.
func (s *Set[T]) Insert(e T) {
	if s.m == nil {
		s.m = map[T]struct{}{}
	}
	s.m[e] = struct{}{}
}

// Contains returns true if e is in the set.
func (s Set[T]) Contains(e T) bool {
	_, ok := s.m[e]
	return ok
}

// Remove removes every element of other from the set.
func (s *Set[T]) Remove(other Set[T]) {
	for e := range other.m {
		delete(s.m, e)
	}
}

// Len returns the number of elements.
func (s Set[T]) Len() int {
	return len(s.m)
}

// Range calls f for each element in an unspecified order.
func (s Set[T]) Range(f func(T)) {
	for e := range s.m {
		f(e)
	}
}

// Intersects returns true if the sets share an element.
func (s Set[T]) Intersects(other Set[T]) bool {
	for e := range s.m {
		if other.Contains(e) {
			return true
		}
	}
	return false
}

// Equal returns true if both sets hold the same elements.
func (s Set[T]) Equal(other Set[T]) bool {
	if s.Len() != other.Len() {
		return false
	}
	for e := range s.m {
		if !other.Contains(e) {
			return false
		}
	}
	return true
}

// SortedRegs returns the registers of s in ascending order.
func SortedRegs(s Set[Reg]) []Reg {
	ret := make([]Reg, 0, s.Len())
	s.Range(func(r Reg) { ret = append(ret, r) })
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}

// SortedWritables returns the registers of s in ascending order of the underlying Reg.
func SortedWritables(s Set[Writable]) []Writable {
	ret := make([]Writable, 0, s.Len())
	s.Range(func(w Writable) { ret = append(ret, w) })
	sort.Slice(ret, func(i, j int) bool { return ret[i].reg < ret[j].reg })
	return ret
}

// InstRegUses is the result of the register-use analysis of one instruction.
//
// Every register occurrence is classified as exactly one of used, defined or modified.
// A modified register is read and written by the instruction in one step (e.g. the base of a
// pre-indexed address), and never also appears in Used or Defined.
type InstRegUses struct {
	Used     Set[Reg]
	Defined  Set[Writable]
	Modified Set[Writable]
}

// NewInstRegUses returns an empty InstRegUses.
func NewInstRegUses() InstRegUses {
	return InstRegUses{Used: NewSet[Reg](), Defined: NewSet[Writable](), Modified: NewSet[Writable]()}
}

// Normalize removes the modified registers from Used and Defined.
func (u *InstRegUses) Normalize() {
	u.Defined.Remove(u.Modified)
	u.Modified.Range(func(w Writable) {
		delete(u.Used.m, w.ToReg())
	})
}

// Reads returns the registers read by the instruction: used and modified ones.
func (u *InstRegUses) Reads() []Reg {
	ret := SortedRegs(u.Used)
	for _, w := range SortedWritables(u.Modified) {
		ret = append(ret, w.ToReg())
	}
	return ret
}

// Writes returns the registers written by the instruction: defined and modified ones.
func (u *InstRegUses) Writes() []Reg {
	var ret []Reg
	for _, w := range SortedWritables(u.Defined) {
		ret = append(ret, w.ToReg())
	}
	for _, w := range SortedWritables(u.Modified) {
		ret = append(ret, w.ToReg())
	}
	return ret
}

// String implements fmt.Stringer.
func (u *InstRegUses) String() string {
	var b strings.Builder
	b.WriteString("used=[")
	for i, r := range SortedRegs(u.Used) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(r.String())
	}
	b.WriteString("] defined=[")
	for i, w := range SortedWritables(u.Defined) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(w.String())
	}
	b.WriteString("] modified=[")
	for i, w := range SortedWritables(u.Modified) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(w.String())
	}
	b.WriteString("]")
	return b.String()
}

// Map maps virtual registers to their assigned physical registers.
type Map map[VirtualReg]RealReg
