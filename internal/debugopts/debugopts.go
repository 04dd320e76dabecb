// Package debugopts holds the debug switches used in various places of the compiler.
// Instead of defining them in each package, they are defined here so that we can quickly iterate on
// debugging without spending "where do we have debug logging?" time.
//
// The switches are read once from the environment at start-up.
package debugopts

import "github.com/xyproto/env/v2"

// ----- Debug logging -----
// These must be disabled by default. Enable them only when debugging.

var (
	// PassLoggingEnabled logs the instruction stream after every pipeline pass.
	PassLoggingEnabled = env.Bool("MACHINST_DEBUG_PASS_LOG")
	// RegAllocLoggingEnabled logs liveness and the assignment decisions of the register allocator.
	RegAllocLoggingEnabled = env.Bool("MACHINST_DEBUG_REGALLOC_LOG")
)

// ----- Validations -----
// These are enabled by default. MACHINST_DEBUG_NO_VALIDATION turns them off.

var (
	// RegAllocValidationEnabled checks that no virtual register survives register rewriting
	// and that no two live intervals share a register.
	RegAllocValidationEnabled = !env.Bool("MACHINST_DEBUG_NO_VALIDATION")
)
