// Package machinst compiles functions whose machine instructions are already selected into arm64
// machine code: it allocates registers, lays out blocks, lowers branches, resolves offsets and
// encodes the result together with its constant pool.
package machinst

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/tetratelabs/machinst/internal/backend"
	"github.com/tetratelabs/machinst/internal/backend/isa/arm64"
	"github.com/tetratelabs/machinst/internal/invariant"
	"github.com/tetratelabs/machinst/internal/platform"
	"github.com/tetratelabs/machinst/internal/testcases"
)

// Function is a function ready to be compiled, given by its arm64 instructions.
type Function struct {
	tc testcases.TestCase
}

// Builtins returns the names of the built-in functions, sorted.
func Builtins() []string {
	ret := make([]string, 0, len(testcases.All))
	for _, c := range testcases.All {
		ret = append(ret, c.Name)
	}
	sort.Strings(ret)
	return ret
}

// Builtin returns the built-in function with the given name.
func Builtin(name string) (*Function, error) {
	tc, ok := testcases.Lookup(name)
	if !ok {
		return nil, errors.New("unknown function %q", name)
	}
	return &Function{tc: tc}, nil
}

// Name returns the name of the function.
func (f *Function) Name() string { return f.tc.Name }

// Doc returns a one-line description of the function.
func (f *Function) Doc() string { return f.tc.Doc }

// Relocation is a location in the code to patch with the address of Name once it is known.
type Relocation struct {
	Offset uint32
	// Kind is "Arm64Call" for the displacement of a call or "Abs8" for an absolute address.
	Kind   string
	Name   string
	Addend int64
}

// Trap is an instruction which may trap, with the reason.
type Trap struct {
	Offset uint32
	Code   string
}

// Stackmap is the layout of the reference slots of the frame at a safepoint, valid at Offset.
type Stackmap struct {
	Offset uint32
	Bits   []bool
}

// PassTime is the wall time spent in one pass.
type PassTime struct {
	Pass     string
	Duration time.Duration
}

// CompiledFunction is the result of Compile.
type CompiledFunction struct {
	Name string
	// Code is the machine code followed, if any constant was used, by the constant pool.
	Code []byte
	// CodeSize is the size of the code without the constant pool.
	CodeSize  uint32
	Relocs    []Relocation
	Traps     []Trap
	Stackmaps []Stackmap

	// Listing is set by CompileConfig.WithPrint.
	Listing string
	// Disassembly is set by CompileConfig.WithDisasm.
	Disassembly string
	// PassTimes is set by CompileConfig.WithReportTimes.
	PassTimes []PassTime
	// Executable is set by CompileConfig.WithExecutable: Code mapped read-execute.
	Executable []byte
}

// Close releases the executable mapping, if any.
func (f *CompiledFunction) Close() error {
	if f.Executable == nil {
		return nil
	}
	err := platform.MunmapCodeSegment(f.Executable)
	f.Executable = nil
	return err
}

// HexWords renders Code as 32-bit words, most significant byte first, the way instruction words
// are usually written. Trailing bytes which do not fill a word are rendered one by one.
func (f *CompiledFunction) HexWords() string {
	var b strings.Builder
	i := 0
	for ; i+4 <= len(f.Code); i += 4 {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02x%02x%02x%02x", f.Code[i+3], f.Code[i+2], f.Code[i+1], f.Code[i])
	}
	for ; i < len(f.Code); i++ {
		fmt.Fprintf(&b, " %02x", f.Code[i])
	}
	return b.String()
}

// Compile runs the machine code pipeline on fn.
//
// A violated internal invariant aborts the compilation of fn and is returned as an error
// wrapping *invariant.Error.
func Compile(ctx context.Context, cfg *CompileConfig, fn *Function) (cf *CompiledFunction, err error) {
	switch cfg.isa {
	case "arm64":
	case "":
		return nil, errors.New("compilation requires a target isa")
	default:
		return nil, errors.New("unsupported isa: %v", cfg.isa)
	}

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "compile", "func", fn.Name(), "isa", cfg.isa)
	defer tr.Finish("err", &err)

	defer func() {
		if err != nil {
			cf, err = nil, errors.Wrap(err, "compile %v", fn.Name())
		}
	}()
	defer invariant.Recover(&err)

	isa := arm64.NewBackend()
	rru := isa.RegUniverse()
	cf = &CompiledFunction{Name: fn.Name()}

	timed := func(pass string, f func()) {
		start := time.Now()
		f()
		if cfg.reportTimes {
			cf.PassTimes = append(cf.PassTimes, PassTime{Pass: pass, Duration: time.Since(start)})
		}
	}

	var v *backend.VCode[arm64.Inst]
	timed("build", func() { v = fn.tc.VCode(isa) })

	timed("regalloc", func() { err = v.RegAlloc(ctx) })
	if err != nil {
		return nil, err
	}

	if cfg.blockOrder == BlockOrderFallthrough {
		timed("reorder", func() { v.Reorder(ctx, v.FallthroughOrder()) })
	}
	timed("lower branches", func() { v.LowerBranches(ctx) })
	if cfg.print {
		cf.Listing = v.Show(rru)
	}
	timed("compute offsets", func() { v.ComputeOffsets(ctx) })

	rec := &backend.Records{}
	sink := backend.NewMemoryCodeSink(rec, rec, rec)
	timed("emit", func() { v.Emit(ctx, sink) })

	cf.Code = sink.Bytes()
	cf.CodeSize = uint32(v.CodeSize())
	for _, r := range rec.Relocs {
		cf.Relocs = append(cf.Relocs, Relocation{Offset: uint32(r.Offset), Kind: r.Kind.String(), Name: r.Name.String(), Addend: r.Addend})
	}
	for _, t := range rec.Traps {
		cf.Traps = append(cf.Traps, Trap{Offset: uint32(t.Offset), Code: t.Code.String()})
	}
	for _, s := range rec.Stackmaps {
		cf.Stackmaps = append(cf.Stackmaps, Stackmap{Offset: uint32(s.Offset), Bits: s.Stackmap.Bits})
	}

	if cfg.disasm {
		var b strings.Builder
		b.WriteString(v.ShowWithOffsets(rru))
		for _, r := range rec.Relocs {
			fmt.Fprintf(&b, "%s\n", r)
		}
		for _, t := range rec.Traps {
			fmt.Fprintf(&b, "%s\n", t)
		}
		for _, s := range rec.Stackmaps {
			fmt.Fprintf(&b, "%s\n", s)
		}
		cf.Disassembly = b.String()
	}

	tr.Printw("compiled", "code_size", cf.CodeSize, "size", len(cf.Code), "relocs", len(cf.Relocs), "clobbered", len(v.Clobbered))

	if cfg.executable {
		if !platform.CompilerSupported() {
			return nil, errors.New("executable code is not supported on this host")
		}
		if cf.Executable, err = platform.MmapCodeSegment(cf.Code); err != nil {
			return nil, errors.Wrap(err, "map code")
		}
	}
	return cf, nil
}
