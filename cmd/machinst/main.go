package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/tetratelabs/machinst"
	"github.com/tetratelabs/machinst/internal/platform"
)

func main() {
	cli.RunAndExit(newApp(os.Stdout), os.Args, os.Environ())
}

// newApp is separated out for the purpose of unit testing.
func newApp(stdout io.Writer) *cli.Command {
	compileCmd := &cli.Command{
		Name:        "compile",
		Description: "compile built-in functions to arm64 machine code",
		Action:      func(c *cli.Command) error { return compileAct(c, stdout) },
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			cli.NewFlag("isa", "arm64", "target isa"),
			cli.NewFlag("print", false, "print the listing and the machine code"),
			cli.NewFlag("disasm", false, "print the listing with offsets and the emitted records"),
			cli.NewFlag("report-times", false, "print the time spent in every pass"),
			cli.NewFlag("identity-order", false, "keep the blocks in build order"),
			cli.NewFlag("exec", false, "map the code into executable memory"),
		},
	}

	listCmd := &cli.Command{
		Name:        "list",
		Description: "list built-in functions",
		Action:      func(c *cli.Command) error { return listAct(c, stdout) },
	}

	hostCmd := &cli.Command{
		Name:        "host",
		Description: "print whether emitted code can run on this host",
		Action:      func(c *cli.Command) error { return hostAct(c, stdout) },
	}

	return &cli.Command{
		Name:        "machinst",
		Description: "machinst compiles pre-selected machine instructions into arm64 machine code",
		Commands: []*cli.Command{
			compileCmd,
			listCmd,
			hostCmd,
		},
	}
}

func compileAct(c *cli.Command, stdout io.Writer) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	if len(c.Args) == 0 {
		return errors.New("no functions to compile, see `machinst list`")
	}

	cfg := machinst.NewCompileConfigFromEnv().
		WithISA(c.String("isa")).
		WithPrint(c.Bool("print")).
		WithDisasm(c.Bool("disasm")).
		WithReportTimes(c.Bool("report-times")).
		WithExecutable(c.Bool("exec"))
	if c.Bool("identity-order") {
		cfg = cfg.WithBlockOrder(machinst.BlockOrderIdentity)
	}

	for _, a := range c.Args {
		fn, err := machinst.Builtin(a)
		if err != nil {
			return err
		}

		cf, err := machinst.Compile(ctx, cfg, fn)
		if err != nil {
			return err
		}

		printCompiled(stdout, cf, c)

		if err = cf.Close(); err != nil {
			return errors.Wrap(err, "release %v", a)
		}
	}

	return nil
}

func printCompiled(w io.Writer, cf *machinst.CompiledFunction, c *cli.Command) {
	fmt.Fprintf(w, "function %s:\n", cf.Name)

	if c.Bool("print") {
		fmt.Fprint(w, cf.Listing)
		fmt.Fprintf(w, "Machine code:\n%s\n", cf.HexWords())
	}
	if c.Bool("disasm") {
		fmt.Fprint(w, cf.Disassembly)
	}
	if c.Bool("report-times") {
		for _, p := range cf.PassTimes {
			fmt.Fprintf(w, "%-16s %v\n", p.Pass, p.Duration)
		}
	}
	if cf.Executable != nil {
		fmt.Fprintf(w, "mapped %d bytes executable\n", len(cf.Executable))
	}
	if !c.Bool("print") && !c.Bool("disasm") {
		fmt.Fprintf(w, "%d bytes of code, %d bytes total\n", cf.CodeSize, len(cf.Code))
	}
}

func listAct(c *cli.Command, stdout io.Writer) error {
	for _, name := range machinst.Builtins() {
		fn, err := machinst.Builtin(name)
		if err != nil {
			return err
		}

		fmt.Fprintf(stdout, "%-14s %s\n", fn.Name(), fn.Doc())
	}

	return nil
}

func hostAct(c *cli.Command, stdout io.Writer) error {
	features := platform.HostCpuFeatures()

	fmt.Fprintf(stdout, "host: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(stdout, "executable code: %v\n", platform.CompilerSupported())
	fmt.Fprintf(stdout, "lse atomics: %v\n", features.Atomics)

	return nil
}
