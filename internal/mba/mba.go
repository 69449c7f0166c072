// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

// Package mba replaces integer arithmetic and bitwise operations with
// equivalent mixed boolean-arithmetic expressions. Every identity holds
// modulo 2^n for any width n, so the rewrite preserves results exactly.
package mba

import (
	"go.uber.org/zap"

	"mvdan.cc/irgarble/internal/ir"
)

// DefaultIterations is the number of rounds applied when none is configured.
const DefaultIterations = 1

// Substituter rewrites add, sub, xor, and and or instructions.
//
// Each round rewrites every eligible instruction that existed when the
// round started, and the instructions it creates are eligible in the next
// round. Since every identity produces at least two new eligible
// instructions, the size of a function grows exponentially with
// Iterations; keep it small.
type Substituter struct {
	Iterations int
}

func (Substituter) Name() string { return "substitute" }

// Eligible reports whether op has a substitution.
func Eligible(op ir.Op) bool {
	switch op {
	case ir.OpAdd, ir.OpSub, ir.OpXor, ir.OpAnd, ir.OpOr:
		return true
	}
	return false
}

// Run applies the configured number of rounds to f and reports whether
// anything was rewritten.
func (s Substituter) Run(f *ir.Function) bool {
	if f.IsDeclaration() {
		return false
	}
	changed := false
	for i := 0; i < s.Iterations; i++ {
		var worklist []ir.InstrID
		for _, block := range f.Blocks() {
			for _, in := range block.Instrs() {
				if Eligible(in.Op()) {
					worklist = append(worklist, in.ID())
				}
			}
		}
		if len(worklist) == 0 {
			break
		}
		Logger().Debug("substituting",
			zap.String("func", f.Name()),
			zap.Int("round", i+1),
			zap.Int("targets", len(worklist)),
		)
		for _, id := range worklist {
			in := f.Instr(id)
			b := ir.NewBuilderBefore(f, id)
			v := Substitute(in.Arg(0), in.Arg(1), in.Op(), b)
			f.ReplaceInstr(id, v)
		}
		changed = true
	}
	return changed
}

// Substitute builds the expression replacing x op y at b's position and
// returns its result. It panics if op is not eligible.
func Substitute(x, y ir.Value, op ir.Op, b *ir.Builder) ir.Value {
	switch op {
	case ir.OpXor:
		return xorMBA(x, y, b)
	case ir.OpAdd:
		return addMBA(x, y, b)
	case ir.OpSub:
		return subMBA(x, y, b)
	case ir.OpAnd:
		return andMBA(x, y, b)
	case ir.OpOr:
		return orMBA(x, y, b)
	}
	panic("mba: no substitution for " + op.String())
}

// x ^ y == (x | y) - (x & y)
func xorMBA(x, y ir.Value, b *ir.Builder) ir.Value {
	or := b.Or(x, y, "or_tmp")
	and := b.And(x, y, "and_tmp")
	return b.Sub(or, and, "xor_mba")
}

// x + y == (x & y) + (x | y)
func addMBA(x, y ir.Value, b *ir.Builder) ir.Value {
	and := b.And(x, y, "and_tmp")
	or := b.Or(x, y, "or_tmp")
	return b.Add(and, or, "add_mba")
}

// x - y == (x ^ -y) + ((x & -y) << 1)
func subMBA(x, y ir.Value, b *ir.Builder) ir.Value {
	negY := b.Neg(y, "neg_tmp")
	xor := b.Xor(x, negY, "xor_tmp")
	and := b.And(x, negY, "and_tmp")
	shl := b.Shl(and, ir.Const(x.Type, 1), "shl_tmp")
	return b.Add(xor, shl, "sub_mba")
}

// x & y == (x + y) - (x | y)
func andMBA(x, y ir.Value, b *ir.Builder) ir.Value {
	add := b.Add(x, y, "add_tmp")
	or := b.Or(x, y, "or_tmp")
	return b.Sub(add, or, "and_mba")
}

// x | y == x + y + 1 + (^x | ^y)
func orMBA(x, y ir.Value, b *ir.Builder) ir.Value {
	add := b.Add(x, y, "add_tmp")
	notX := b.Not(x, "notX_tmp")
	notY := b.Not(y, "notY_tmp")
	or := b.Or(notX, notY, "or_tmp")
	addOne := b.Add(add, ir.Const(x.Type, 1), "addOne_tmp")
	return b.Add(addOne, or, "or_mba")
}
