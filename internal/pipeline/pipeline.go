// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

// Package pipeline runs the obfuscating transforms over every function of
// a module in a fixed order.
package pipeline

import (
	"errors"
	"fmt"
	mathrand "math/rand"

	"go.uber.org/zap"

	"mvdan.cc/irgarble/internal/ctrlflow"
	"mvdan.cc/irgarble/internal/ir"
	"mvdan.cc/irgarble/internal/mba"
)

// ErrTransformFailed is wrapped by the errors of functions whose
// transforms produced invalid IR. Such functions are restored to their
// state before the pipeline ran.
var ErrTransformFailed = errors.New("transform failed")

// Transform rewrites a single function in place and reports whether it
// changed anything.
type Transform interface {
	Name() string
	Run(f *ir.Function) bool
}

type Config struct {
	Options

	// Seed drives every random choice, so that equal seeds give equal
	// output.
	Seed int64

	// Verify checks every function after each stage.
	Verify bool

	// Overrides replaces Options for the named functions.
	Overrides map[string]Options
}

// Report describes what the pipeline did to one function.
type Report struct {
	Func string
	// Changed is true if any stage changed the function.
	Changed bool
	// Stages lists the stages which changed the function, in order.
	Stages []string
	Err    error
}

type Pipeline struct {
	cfg  Config
	rand *mathrand.Rand

	// stages defaults to Stages; tests replace it.
	stages func(Options) []Transform
}

// New returns a pipeline for cfg, or an error if any of its options are
// out of range.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	for name, opts := range cfg.Overrides {
		if err := opts.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	p := &Pipeline{
		cfg:  cfg,
		rand: mathrand.New(mathrand.NewSource(cfg.Seed)),
	}
	p.stages = p.Stages
	return p, nil
}

func (p *Pipeline) options(name string) Options {
	if opts, ok := p.cfg.Overrides[name]; ok {
		return opts
	}
	return p.cfg.Options
}

// Stages returns the transforms applied to a function with opts: junk
// jumps, flattening, block splitting and arithmetic substitution.
func (p *Pipeline) Stages(opts Options) []Transform {
	return []Transform{
		ctrlflow.JunkJumps{Count: opts.JunkJumps, Rand: p.rand},
		ctrlflow.Flattener{Rand: p.rand, Hardening: opts.Hardening},
		ctrlflow.Splitter{Probability: opts.SplitProbability, Trash: opts.Trash, Rand: p.rand},
		mba.Substituter{Iterations: opts.Iterations},
	}
}

// Run transforms every function defined in m, in module order. A function
// that fails is put back as it was and the others are still transformed;
// the returned error joins the errors of all failed functions.
func (p *Pipeline) Run(m *ir.Module) ([]Report, error) {
	var reports []Report
	var errs []error
	for _, f := range m.Functions() {
		if f.IsDeclaration() {
			continue
		}
		rep := p.runFunc(m, f)
		if rep.Err != nil {
			errs = append(errs, rep.Err)
		}
		reports = append(reports, rep)
	}
	return reports, errors.Join(errs...)
}

func (p *Pipeline) runFunc(m *ir.Module, f *ir.Function) (rep Report) {
	rep.Func = f.Name()
	orig := f.Clone()
	log := Logger().With(zap.String("func", f.Name()))

	defer func() {
		if rep.Err == nil {
			return
		}
		m.Replace(orig)
		rep.Changed = false
		rep.Stages = nil
		log.Warn("restored function after failed transform", zap.Error(rep.Err))
	}()

	for _, stage := range p.stages(p.options(f.Name())) {
		changed, err := runStage(stage, f)
		if err == nil && p.cfg.Verify {
			err = ir.Verify(f)
		}
		if err != nil {
			rep.Err = fmt.Errorf("%s: %s: %w: %w", f.Name(), stage.Name(), ErrTransformFailed, err)
			return rep
		}
		if changed {
			rep.Changed = true
			rep.Stages = append(rep.Stages, stage.Name())
		}
		log.Debug("ran stage", zap.String("stage", stage.Name()), zap.Bool("changed", changed))
	}
	if rep.Changed {
		f.SetFlag(ir.FlagNoInline)
	}
	return rep
}

// runStage turns a panic inside a transform into an error, leaving the
// function in whatever state the transform stopped in.
func runStage(stage Transform, f *ir.Function) (changed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return stage.Run(f), nil
}
