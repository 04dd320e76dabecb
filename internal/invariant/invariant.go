// Package invariant is the fail-fast path for violated internal invariants.
//
// A violated invariant is a bug in the compilation pipeline (a pass run out of order, an
// allocation that missed a register), never a problem in the input. Such violations panic with
// *Error, and the compilation of the current function is aborted where the panic is recovered.
package invariant

import (
	"fmt"

	"tlog.app/go/loc"
)

// Error is the panic value of a violated internal invariant.
type Error struct {
	Msg string
	// PC is the location that detected the violation.
	PC loc.PC
}

// Error implements error.
func (e *Error) Error() string {
	return "BUG: " + e.Msg
}

// Location returns the file:line where the violation was detected.
func (e *Error) Location() string {
	_, file, line := e.PC.NameFileLine()
	return fmt.Sprintf("%s:%d", file, line)
}

// Panicf panics with an *Error carrying the formatted message and the caller's location.
func Panicf(format string, args ...interface{}) {
	panic(&Error{Msg: fmt.Sprintf(format, args...), PC: loc.Caller(1)})
}

// Recover converts a recovered *Error panic into an error stored in *errp.
// Panics with any other value are propagated.
//
//	defer invariant.Recover(&err)
func Recover(errp *error) {
	r := recover()
	if r == nil {
		return
	}
	if e, ok := r.(*Error); ok {
		*errp = e
		return
	}
	panic(r)
}
