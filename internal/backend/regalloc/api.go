package regalloc

// Function is the view of a function's instruction stream the allocator works on.
// It is implemented by the architecture-independent container of machine instructions, and only
// exposes what the register-use analysis of each instruction provides.
//
// Instructions are numbered linearly from zero; block b holds the instructions [start, end).
type Function interface {
	// NumBlocks returns the number of blocks. Block 0 is the entry block.
	NumBlocks() int
	// BlockRange returns the instruction range of block b.
	BlockRange(b int) (start, end int)
	// BlockSuccs returns the successors of block b.
	BlockSuccs(b int) []int
	// NumInsns returns the number of instructions in the function.
	NumInsns() int
	// InsnRegUses returns the register-use analysis of the i-th instruction.
	InsnRegUses(i int) InstRegUses
	// InsnIsMove returns the destination and source if the i-th instruction is a register
	// to register move, which the allocator tries to coalesce.
	InsnIsMove(i int) (dst Writable, src Reg, ok bool)
}

// Result is the outcome of register allocation.
type Result struct {
	assignment Map
	// Clobbered lists the allocatable registers written by the function, in universe order.
	Clobbered []RealReg
}

// PreMap returns the assignment valid at the entry of the i-th instruction, which applies to
// everything the instruction reads, including modified operands.
func (r *Result) PreMap(int) Map { return r.assignment }

// PostMap returns the assignment valid at the exit of the i-th instruction, which applies to the
// registers the instruction defines.
//
// The allocator never splits a live range, so both maps are the same.
func (r *Result) PostMap(int) Map { return r.assignment }

// Assignment returns the register assigned to v.
func (r *Result) Assignment(v VirtualReg) (RealReg, bool) {
	rr, ok := r.assignment[v]
	return rr, ok
}
