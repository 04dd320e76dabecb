// Package golang_asm assembles arm64 instructions with the Go assembler backend, so that tests can
// check hand-written encodings against an independent encoder.
package golang_asm

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/arm64"
)

// Assembler accumulates instructions for one arm64 code sequence.
type Assembler struct {
	b *goasm.Builder
}

// NewAssembler returns an Assembler holding only the TEXT header.
func NewAssembler() (*Assembler, error) {
	b, err := goasm.NewBuilder("arm64", 1024)
	if err != nil {
		return nil, fmt.Errorf("failed to create a new assembly builder: %w", err)
	}
	a := &Assembler{b: b}
	// The first instruction is taken as the TEXT header and never encoded.
	a.CompileStandAlone(obj.ATEXT)
	return a, nil
}

// X returns the Go assembler register number of xn.
func X(n int16) int16 { return arm64.REG_R0 + n }

// Assemble encodes the instructions added so far. The result is padded to 16 bytes.
func (a *Assembler) Assemble() []byte {
	return a.b.Assemble()
}

// CompileStandAlone adds an instruction without operands, e.g. arm64.ANOOP.
func (a *Assembler) CompileStandAlone(instruction obj.As) {
	p := a.b.NewProg()
	p.As = instruction
	a.b.AddInstruction(p)
}

// CompileJumpToRegister adds a branch to the address in reg, e.g. RET (R30).
func (a *Assembler) CompileJumpToRegister(instruction obj.As, reg int16) {
	p := a.b.NewProg()
	p.As = instruction
	p.To.Type = obj.TYPE_REG
	p.To.Reg = reg
	a.b.AddInstruction(p)
}

// CompileTwoRegistersToRegister adds dst = src1 op src2. Note that the Go assembler puts the second
// source first: "ADD R2, R1, R0" is add x0, x1, x2.
func (a *Assembler) CompileTwoRegistersToRegister(instruction obj.As, src1, src2, dst int16) {
	p := a.b.NewProg()
	p.As = instruction
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src2
	p.Reg = src1
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.b.AddInstruction(p)
}

// CompileRegisterToRegister adds a two-operand register instruction, e.g. MOVD R1, R0.
func (a *Assembler) CompileRegisterToRegister(instruction obj.As, src, dst int16) {
	p := a.b.NewProg()
	p.As = instruction
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.b.AddInstruction(p)
}

// CompileMemoryToRegister adds a load of [base, #offset] into dst.
func (a *Assembler) CompileMemoryToRegister(instruction obj.As, base int16, offset int64, dst int16) {
	p := a.b.NewProg()
	p.As = instruction
	p.From.Type = obj.TYPE_MEM
	p.From.Reg = base
	p.From.Offset = offset
	p.To.Type = obj.TYPE_REG
	p.To.Reg = dst
	a.b.AddInstruction(p)
}

// CompileRegisterToMemory adds a store of src to [base, #offset].
func (a *Assembler) CompileRegisterToMemory(instruction obj.As, src, base int16, offset int64) {
	p := a.b.NewProg()
	p.As = instruction
	p.From.Type = obj.TYPE_REG
	p.From.Reg = src
	p.To.Type = obj.TYPE_MEM
	p.To.Reg = base
	p.To.Offset = offset
	a.b.AddInstruction(p)
}
