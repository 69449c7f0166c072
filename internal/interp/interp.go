// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

// Package interp executes IR functions directly. It is a reference
// implementation of the IR semantics, used to check that obfuscation
// preserves what a program computes.
package interp

import (
	"errors"
	"fmt"

	"mvdan.cc/irgarble/internal/ir"
)

var (
	ErrDivideByZero = errors.New("integer divide by zero")
	ErrUnreachable  = errors.New("reached unreachable code")
	ErrStepLimit    = errors.New("step limit exceeded")
	ErrUndefined    = errors.New("call to undefined function")
	ErrBadPointer   = errors.New("invalid pointer")
)

const (
	DefaultMaxSteps = 10_000_000
	maxDepth        = 4096
)

// HostFunc implements a declared function.
type HostFunc func(args []uint64) (uint64, error)

// Event records one call made to a declared function.
type Event struct {
	Callee string
	Args   []uint64
}

// Machine runs the functions of a module. Values are carried as uint64
// holding the bits of the value's type; stack slots live in a memory
// shared by all frames and addressed from 1.
type Machine struct {
	Module *ir.Module

	// Host binds declarations by name. A declaration without a binding
	// returns zero.
	Host map[string]HostFunc

	// Trace lists every call to a declaration, in execution order.
	Trace []Event

	// MaxSteps bounds the number of instructions a single Call may execute,
	// nested calls included. Zero means no limit.
	MaxSteps int

	steps int
	depth int
	mem   []uint64
}

func New(m *ir.Module) *Machine {
	return &Machine{
		Module:   m,
		Host:     make(map[string]HostFunc),
		MaxSteps: DefaultMaxSteps,
		mem:      []uint64{0},
	}
}

// Steps returns the number of instructions executed by the last Call.
func (m *Machine) Steps() int { return m.steps }

// Call runs the named function with the given arguments, truncated to the
// parameter types. The result is zero for void functions.
func (m *Machine) Call(name string, args ...uint64) (uint64, error) {
	f := m.Module.Func(name)
	if f == nil {
		if host, ok := m.Host[name]; ok {
			m.Trace = append(m.Trace, Event{Callee: name, Args: args})
			return host(args)
		}
		return 0, fmt.Errorf("%w: %s", ErrUndefined, name)
	}
	if err := checkArgs(f, len(args)); err != nil {
		return 0, err
	}
	m.steps = 0
	params := f.Params()
	masked := make([]uint64, len(args))
	for i, a := range args {
		masked[i] = a & params[i].Type.Mask()
	}
	return m.call(f, masked)
}

func checkArgs(f *ir.Function, n int) error {
	if want := len(f.Params()); n != want {
		return fmt.Errorf("%s takes %d arguments, got %d", f.Name(), want, n)
	}
	return nil
}

func (m *Machine) call(f *ir.Function, args []uint64) (uint64, error) {
	if f.IsDeclaration() {
		m.Trace = append(m.Trace, Event{Callee: f.Name(), Args: args})
		if host, ok := m.Host[f.Name()]; ok {
			res, err := host(args)
			return res & f.Result().Mask(), err
		}
		return 0, nil
	}
	if m.depth >= maxDepth {
		return 0, fmt.Errorf("%w: call depth %d in %s", ErrStepLimit, m.depth, f.Name())
	}
	m.depth++
	defer func() { m.depth-- }()

	fr := &frame{
		m:     m,
		fn:    f,
		args:  args,
		vals:  make(map[ir.InstrID]uint64),
		slots: make(map[ir.InstrID]uint64),
	}
	return fr.run()
}

type frame struct {
	m     *Machine
	fn    *ir.Function
	args  []uint64
	vals  map[ir.InstrID]uint64
	slots map[ir.InstrID]uint64
}

func (fr *frame) value(v ir.Value) uint64 {
	switch v.Kind {
	case ir.ConstValue:
		return v.Bits
	case ir.ParamValue:
		return fr.args[v.Param]
	case ir.InstrValue:
		return fr.vals[v.Instr]
	}
	panic(fmt.Sprintf("interp: invalid operand in %s", fr.fn.Name()))
}

func (fr *frame) errorf(in *ir.Instr, err error) error {
	return fmt.Errorf("%s: %s: %w", fr.fn.Name(), in.Op(), err)
}

func (fr *frame) run() (uint64, error) {
	f := fr.fn
	block := f.Entry()
	prev := ir.NoBlock
	for {
		instrs := block.Instrs()

		// Phis read their operands before any of them is assigned.
		var phiVals []uint64
		i := 0
		for ; i < len(instrs) && instrs[i].Op() == ir.OpPhi; i++ {
			in := instrs[i]
			found := false
			for k, from := range in.Incoming() {
				if from == prev {
					phiVals = append(phiVals, fr.value(in.Arg(k)))
					found = true
					break
				}
			}
			if !found {
				return 0, fmt.Errorf("%s: phi in %s has no edge from block %d", f.Name(), block.Name(), prev)
			}
		}
		for k, v := range phiVals {
			fr.vals[instrs[k].ID()] = v
		}

		for ; i < len(instrs); i++ {
			in := instrs[i]
			if fr.m.steps++; fr.m.MaxSteps > 0 && fr.m.steps > fr.m.MaxSteps {
				return 0, fmt.Errorf("%w: %d instructions in %s", ErrStepLimit, fr.m.MaxSteps, f.Name())
			}
			var next ir.BlockID
			switch in.Op() {
			case ir.OpRet:
				if in.NumArgs() == 0 {
					return 0, nil
				}
				return fr.value(in.Arg(0)), nil
			case ir.OpUnreachable:
				return 0, fmt.Errorf("%s: block %s: %w", f.Name(), block.Name(), ErrUnreachable)
			case ir.OpBr:
				next = in.Targets()[0]
			case ir.OpCondBr:
				if fr.value(in.Arg(0)) != 0 {
					next = in.Targets()[0]
				} else {
					next = in.Targets()[1]
				}
			case ir.OpSwitch:
				sel := fr.value(in.Arg(0))
				next = in.Targets()[0]
				for k, c := range in.Cases() {
					if c == sel {
						next = in.Targets()[k+1]
						break
					}
				}
			default:
				if err := fr.exec(in); err != nil {
					return 0, err
				}
				continue
			}
			prev = block.ID()
			block = f.Block(next)
			break
		}
	}
}

func (fr *frame) exec(in *ir.Instr) error {
	m := fr.m
	typ := in.Type()
	var res uint64
	switch op := in.Op(); {
	case op.IsBinary():
		x, y := fr.value(in.Arg(0)), fr.value(in.Arg(1))
		v, err := binary(op, typ, x, y)
		if err != nil {
			return fr.errorf(in, err)
		}
		res = v
	case op == ir.OpICmp:
		x, y := in.Arg(0), in.Arg(1)
		if compare(in.Pred(), x.Type, fr.value(x), fr.value(y)) {
			res = 1
		}
	case op == ir.OpSelect:
		if fr.value(in.Arg(0)) != 0 {
			res = fr.value(in.Arg(1))
		} else {
			res = fr.value(in.Arg(2))
		}
	case op == ir.OpTrunc, op == ir.OpZExt:
		res = fr.value(in.Arg(0))
	case op == ir.OpSExt:
		x := in.Arg(0)
		res = uint64(x.Type.SignExtend(fr.value(x)))
	case op == ir.OpAlloca:
		addr, ok := fr.slots[in.ID()]
		if !ok {
			addr = uint64(len(m.mem))
			m.mem = append(m.mem, 0)
			fr.slots[in.ID()] = addr
		}
		res = addr
	case op == ir.OpLoad:
		addr := fr.value(in.Arg(0))
		if addr == 0 || addr >= uint64(len(m.mem)) {
			return fr.errorf(in, ErrBadPointer)
		}
		res = m.mem[addr]
	case op == ir.OpStore:
		addr := fr.value(in.Arg(1))
		if addr == 0 || addr >= uint64(len(m.mem)) {
			return fr.errorf(in, ErrBadPointer)
		}
		m.mem[addr] = fr.value(in.Arg(0))
		return nil
	case op == ir.OpCall:
		callee := m.Module.Func(in.Callee())
		args := make([]uint64, in.NumArgs())
		for i := range args {
			args[i] = fr.value(in.Arg(i))
		}
		if callee == nil {
			host, ok := m.Host[in.Callee()]
			if !ok {
				return fmt.Errorf("%s: %w: %s", fr.fn.Name(), ErrUndefined, in.Callee())
			}
			m.Trace = append(m.Trace, Event{Callee: in.Callee(), Args: args})
			v, err := host(args)
			if err != nil {
				return err
			}
			res = v
			break
		}
		if err := checkArgs(callee, len(args)); err != nil {
			return fr.errorf(in, err)
		}
		v, err := m.call(callee, args)
		if err != nil {
			return err
		}
		res = v
	default:
		return fr.errorf(in, fmt.Errorf("cannot interpret %s", op))
	}
	if typ != ir.Void {
		fr.vals[in.ID()] = res & typ.Mask()
	}
	return nil
}

func binary(op ir.Op, typ ir.Type, x, y uint64) (uint64, error) {
	bits := uint64(typ.Bits())
	switch op {
	case ir.OpAdd:
		return x + y, nil
	case ir.OpSub:
		return x - y, nil
	case ir.OpMul:
		return x * y, nil
	case ir.OpAnd:
		return x & y, nil
	case ir.OpOr:
		return x | y, nil
	case ir.OpXor:
		return x ^ y, nil
	case ir.OpUDiv, ir.OpURem, ir.OpSDiv, ir.OpSRem:
		if y == 0 {
			return 0, ErrDivideByZero
		}
	case ir.OpShl:
		if y >= bits {
			return 0, nil
		}
		return x << y, nil
	case ir.OpLShr:
		if y >= bits {
			return 0, nil
		}
		return x >> y, nil
	case ir.OpAShr:
		sx := typ.SignExtend(x)
		if y >= bits {
			return uint64(sx >> 63), nil
		}
		return uint64(sx >> y), nil
	}
	sx, sy := typ.SignExtend(x), typ.SignExtend(y)
	switch op {
	case ir.OpUDiv:
		return x / y, nil
	case ir.OpURem:
		return x % y, nil
	case ir.OpSDiv:
		return uint64(sx / sy), nil
	case ir.OpSRem:
		return uint64(sx % sy), nil
	}
	return 0, fmt.Errorf("unknown binary operation %s", op)
}

func compare(p ir.Predicate, typ ir.Type, x, y uint64) bool {
	sx, sy := typ.SignExtend(x), typ.SignExtend(y)
	switch p {
	case ir.PredEQ:
		return x == y
	case ir.PredNE:
		return x != y
	case ir.PredSLT:
		return sx < sy
	case ir.PredSLE:
		return sx <= sy
	case ir.PredSGT:
		return sx > sy
	case ir.PredSGE:
		return sx >= sy
	case ir.PredULT:
		return x < y
	case ir.PredULE:
		return x <= y
	case ir.PredUGT:
		return x > y
	case ir.PredUGE:
		return x >= y
	}
	panic(fmt.Sprintf("interp: unknown predicate %s", p))
}
