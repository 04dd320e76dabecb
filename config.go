package machinst

import (
	"github.com/xyproto/env/v2"
)

// BlockOrder selects how the blocks of a function are laid out before branch lowering.
type BlockOrder byte

const (
	// BlockOrderIdentity keeps the blocks in the order they were built.
	BlockOrderIdentity BlockOrder = iota
	// BlockOrderFallthrough places the target of a jump, or the not-taken target of a conditional
	// branch, right after its block where possible, so that branch lowering can drop the jump.
	BlockOrderFallthrough
)

// String implements fmt.Stringer.
func (o BlockOrder) String() string {
	switch o {
	case BlockOrderIdentity:
		return "identity"
	case BlockOrderFallthrough:
		return "fallthrough"
	default:
		return "invalid"
	}
}

// CompileConfig controls compilation, with the default implementation as NewCompileConfig.
//
// A CompileConfig is immutable: every With method returns a modified copy.
type CompileConfig struct {
	isa         string
	print       bool
	disasm      bool
	reportTimes bool
	blockOrder  BlockOrder
	executable  bool
}

// isaLessConfig helps avoid copy/pasting the wrong defaults.
var isaLessConfig = &CompileConfig{
	blockOrder: BlockOrderFallthrough,
}

// clone ensures all fields are copied.
func (c *CompileConfig) clone() *CompileConfig {
	ret := *c
	return &ret
}

// NewCompileConfig returns a config without a target ISA. Compile fails until one is set with
// WithISA.
func NewCompileConfig() *CompileConfig {
	return isaLessConfig.clone()
}

// NewCompileConfigFromEnv returns a config seeded from the environment:
//
//	MACHINST_ISA           target ISA, defaults to "arm64"
//	MACHINST_PRINT         see WithPrint
//	MACHINST_DISASM        see WithDisasm
//	MACHINST_REPORT_TIMES  see WithReportTimes
//	MACHINST_EXEC          see WithExecutable
//
// The environment is read again on every call.
func NewCompileConfigFromEnv() *CompileConfig {
	env.Load()
	ret := isaLessConfig.clone()
	ret.isa = env.Str("MACHINST_ISA", "arm64")
	ret.print = env.Bool("MACHINST_PRINT")
	ret.disasm = env.Bool("MACHINST_DISASM")
	ret.reportTimes = env.Bool("MACHINST_REPORT_TIMES")
	ret.executable = env.Bool("MACHINST_EXEC")
	return ret
}

// WithISA sets the target ISA by name. Only "arm64" is supported.
func (c *CompileConfig) WithISA(name string) *CompileConfig {
	ret := c.clone()
	ret.isa = name
	return ret
}

// WithPrint makes Compile render the listing of the function after branch lowering into
// CompiledFunction.Listing.
func (c *CompileConfig) WithPrint(enabled bool) *CompileConfig {
	ret := c.clone()
	ret.print = enabled
	return ret
}

// WithDisasm makes Compile render the listing with code offsets into
// CompiledFunction.Disassembly, followed by the relocation, trap and stackmap records.
func (c *CompileConfig) WithDisasm(enabled bool) *CompileConfig {
	ret := c.clone()
	ret.disasm = enabled
	return ret
}

// WithReportTimes makes Compile measure every pass into CompiledFunction.PassTimes.
func (c *CompileConfig) WithReportTimes(enabled bool) *CompileConfig {
	ret := c.clone()
	ret.reportTimes = enabled
	return ret
}

// WithBlockOrder sets the block layout. Defaults to BlockOrderFallthrough.
func (c *CompileConfig) WithBlockOrder(order BlockOrder) *CompileConfig {
	ret := c.clone()
	ret.blockOrder = order
	return ret
}

// WithExecutable makes Compile map the code into executable memory. The mapping is released by
// CompiledFunction.Close.
//
// Note: This fails on hosts which cannot run arm64 code.
func (c *CompileConfig) WithExecutable(enabled bool) *CompileConfig {
	ret := c.clone()
	ret.executable = enabled
	return ret
}

// ISA returns the name of the target ISA, or "" if none is set.
func (c *CompileConfig) ISA() string { return c.isa }
