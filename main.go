// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	mathrand "math/rand"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/go/ssa"

	"mvdan.cc/irgarble/internal/ctrlflow"
	"mvdan.cc/irgarble/internal/mba"
	"mvdan.cc/irgarble/internal/pipeline"
	"mvdan.cc/irgarble/internal/regrand"
	"mvdan.cc/irgarble/internal/ssa2ir"
)

var flagSet = flag.NewFlagSet("irgarble", flag.ContinueOnError)

var (
	flagIterations = flagSet.Int("iterations", mba.DefaultIterations, "Substitution rounds per function")
	flagSplit      = flagSet.Int("split", 0, "Chance, in percent, of splitting each eligible block")
	flagJunk       = flagSet.Int("junk", 0, "Unconditional jumps to insert before flattening")
	flagHardening  = flagSet.Bool("hardening", false, "Hide the dispatcher state constants behind arithmetic")
	flagTrash      = flagSet.Int("trash", 0, "Dead instructions to place in each dummy block")
	flagSeed       = flagSet.Int64("seed", 1, "Seed for every random choice")
	flagVerify     = flagSet.Bool("verify", true, "Verify each function after every transform")
	flagLift       = flagSet.Bool("ssa-lift", false, "Lift locals to SSA registers before converting")
	flagEval       = flagSet.String("eval", "", "Interpret `fn args...` before and after obfuscating, and compare")
	flagDebug      = flagSet.Bool("debug", false, "Print debug logs to stderr")
)

func init() { flagSet.Usage = usage }

func usage() {
	fmt.Fprint(os.Stderr, `
Irgarble obfuscates the integer functions of a Go package.

	irgarble [flags] files.go
	irgarble [flags] packages
	irgarble [flags] regs hex...

The functions are converted to a small SSA form, transformed with
control flow flattening, block splitting and arithmetic substitution,
and printed. A function can override the flags with a comment such as:

	//irgarble:obfuscate iterations=2 split_probability=50

The regs command decodes x86-64 code and moves short-lived registers
to random free ones.

Flags:

`[1:])
	flagSet.PrintDefaults()
}

func main() { os.Exit(main1()) }

func main1() int {
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return 2
	}
	args := flagSet.Args()
	if len(args) < 1 {
		flagSet.Usage()
		return 2
	}
	log, err := newLogger(*flagDebug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer log.Sync()
	mba.SetLogger(log.Named("mba"))
	ctrlflow.SetLogger(log.Named("ctrlflow"))
	pipeline.SetLogger(log.Named("pipeline"))
	regrand.SetLogger(log.Named("regrand"))

	if args[0] == "regs" {
		err = commandRegs(args[1:])
	} else {
		err = commandObfuscate(log, args)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// newLogger returns a development logger with debug enabled, and a quiet
// production logger otherwise.
func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.Encoding = "console"
	cfg.DisableStacktrace = true
	return cfg.Build()
}

func baseOptions() pipeline.Options {
	return pipeline.Options{
		Iterations:       *flagIterations,
		SplitProbability: *flagSplit,
		JunkJumps:        *flagJunk,
		Hardening:        *flagHardening,
		Trash:            *flagTrash,
	}
}

func commandObfuscate(log *zap.Logger, args []string) error {
	mode := ssa.NaiveForm
	if *flagLift {
		mode = 0
	}
	pkgs, err := loadPackages(args, mode)
	if err != nil {
		return err
	}
	base := baseOptions()
	if err := base.Validate(); err != nil {
		return err
	}

	var errs []error
	for _, pkg := range pkgs {
		res, err := ssa2ir.Convert(pkg)
		if err != nil {
			return err
		}
		skipped := maps.Keys(res.Skipped)
		slices.Sort(skipped)
		for _, name := range skipped {
			log.Info("left as declaration", zap.String("func", name), zap.Error(res.Skipped[name]))
		}
		overrides := make(map[string]pipeline.Options)
		for name, params := range res.Directives {
			opts, err := pipeline.ParseOptions(params, base)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			overrides[name] = opts
		}

		var evalBefore *evalResult
		if *flagEval != "" {
			if evalBefore, err = evalCall(res.Module, *flagEval); err != nil {
				return err
			}
		}

		p, err := pipeline.New(pipeline.Config{
			Options:   base,
			Seed:      *flagSeed,
			Verify:    *flagVerify,
			Overrides: overrides,
		})
		if err != nil {
			return err
		}
		reports, err := p.Run(res.Module)
		if err != nil {
			errs = append(errs, err)
		}
		for _, rep := range reports {
			log.Debug("obfuscated",
				zap.String("func", rep.Func),
				zap.Bool("changed", rep.Changed),
				zap.Strings("stages", rep.Stages),
			)
		}
		if len(pkgs) > 1 {
			fmt.Printf("// package %s\n", pkg.Pkg.Path())
		}
		if err := res.Module.Fprint(os.Stdout); err != nil {
			return err
		}

		if evalBefore != nil {
			evalAfter, err := evalCall(res.Module, *flagEval)
			if err != nil {
				return err
			}
			if err := evalBefore.compare(evalAfter); err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, evalAfter)
		}
	}
	return errors.Join(errs...)
}

// loadPackages builds the named Go files as one package, or loads the
// package patterns with go/packages.
func loadPackages(args []string, mode ssa.BuilderMode) ([]*ssa.Package, error) {
	var files []*ast.File
	fset := token.NewFileSet()
	for _, arg := range args {
		if !strings.HasSuffix(arg, ".go") {
			if len(files) > 0 {
				return nil, fmt.Errorf("cannot mix Go files and packages: %s", arg)
			}
			return ssa2ir.LoadPackages(".", args, mode)
		}
		f, err := parser.ParseFile(fset, arg, nil, parser.ParseComments)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	pkg, err := ssa2ir.BuildFiles(fset, files, mode)
	if err != nil {
		return nil, err
	}
	return []*ssa.Package{pkg}, nil
}

func commandRegs(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: irgarble regs hex...")
	}
	code, err := hex.DecodeString(strings.Join(args, ""))
	if err != nil {
		return err
	}
	insts, err := regrand.Decode(code)
	if err != nil {
		return err
	}
	r := regrand.Randomizer{Rand: mathrand.New(mathrand.NewSource(*flagSeed))}
	if !r.Run(insts) {
		fmt.Fprintln(os.Stderr, "no registers renamed")
	}
	fmt.Print(regrand.Format(insts))
	return nil
}
