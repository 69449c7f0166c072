// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ctrlflow

import (
	mathrand "math/rand"

	"mvdan.cc/irgarble/internal/ir"
)

const (
	// varProb is a probability to use an existing value as an operand
	// instead of a random constant
	varProb = 0.6
	// compareProb is a probability to generate a comparison feeding a select
	// instead of a binary operation
	compareProb = 0.2
	// castProb is a probability to generate a conversion between integer types
	castProb = 0.15
)

// trashOps never trap: division is left out on purpose.
var trashOps = []ir.Op{
	ir.OpAdd, ir.OpSub, ir.OpMul,
	ir.OpAnd, ir.OpOr, ir.OpXor,
	ir.OpShl, ir.OpLShr, ir.OpAShr,
}

var trashPreds = []ir.Predicate{
	ir.PredEQ, ir.PredNE,
	ir.PredSLT, ir.PredSLE, ir.PredSGT, ir.PredSGE,
	ir.PredULT, ir.PredULE, ir.PredUGT, ir.PredUGE,
}

// trashGenerator emits instructions without side effects whose results are
// only ever used by other trash. Operands are drawn from values available
// at the insertion point and from earlier trash.
type trashGenerator struct {
	rand  *mathrand.Rand
	vars  map[ir.Type][]ir.Value
	types []ir.Type
}

func newTrashGenerator(rand *mathrand.Rand) *trashGenerator {
	return &trashGenerator{rand: rand, vars: make(map[ir.Type][]ir.Value)}
}

// availableValues lists the integer values usable at the end of b without
// breaking dominance: the parameters and the results computed in b.
func availableValues(b *ir.Block) []ir.Value {
	f := b.Func()
	var vals []ir.Value
	for i, p := range f.Params() {
		if p.Type.IsInt() {
			vals = append(vals, f.Param(i))
		}
	}
	for _, in := range b.Instrs() {
		if in.Type().IsInt() {
			vals = append(vals, in.Value())
		}
	}
	return vals
}

func (t *trashGenerator) addVar(v ir.Value) {
	if _, ok := t.vars[v.Type]; !ok {
		t.types = append(t.types, v.Type)
	}
	t.vars[v.Type] = append(t.vars[v.Type], v)
}

func (t *trashGenerator) chooseType() ir.Type {
	if len(t.types) == 0 {
		return ir.I32
	}
	return t.types[t.rand.Intn(len(t.types))]
}

func (t *trashGenerator) operand(typ ir.Type) ir.Value {
	vars := t.vars[typ]
	if len(vars) > 0 && t.rand.Float32() < varProb {
		return vars[t.rand.Intn(len(vars))]
	}
	return ir.ConstBits(typ, t.rand.Uint64())
}

func (t *trashGenerator) generateCast(b *ir.Builder, to ir.Type) (ir.Value, bool) {
	var from []ir.Type
	for _, typ := range t.types {
		if typ != to {
			from = append(from, typ)
		}
	}
	if len(from) == 0 {
		return ir.Value{}, false
	}
	x := t.operand(from[t.rand.Intn(len(from))])
	op := ir.OpTrunc
	if x.Type.Bits() < to.Bits() {
		op = ir.OpZExt
		if t.rand.Intn(2) == 0 {
			op = ir.OpSExt
		}
	}
	return b.Cast(op, x, to, ""), true
}

// Generate emits count trash instructions at b's position.
func (t *trashGenerator) Generate(b *ir.Builder, count int, available []ir.Value) {
	for _, v := range available {
		t.addVar(v)
	}
	for i := 0; i < count; i++ {
		typ := t.chooseType()
		r := t.rand.Float32()
		if r < castProb {
			if v, ok := t.generateCast(b, typ); ok {
				t.addVar(v)
				continue
			}
		}
		if r < castProb+compareProb {
			pred := trashPreds[t.rand.Intn(len(trashPreds))]
			cond := b.ICmp(pred, t.operand(typ), t.operand(typ), "")
			t.addVar(cond)
			t.addVar(b.Select(cond, t.operand(typ), t.operand(typ), ""))
			continue
		}
		op := trashOps[t.rand.Intn(len(trashOps))]
		y := t.operand(typ)
		if op.IsShift() {
			y = ir.Const(typ, int64(t.rand.Intn(typ.Bits())))
		}
		t.addVar(b.BinOp(op, t.operand(typ), y, ""))
	}
}
