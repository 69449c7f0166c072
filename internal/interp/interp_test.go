// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package interp

import (
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"

	"mvdan.cc/irgarble/internal/ir"
)

// sumTo builds a loop adding 1..n with a phi-based induction variable,
// calling the declared function "emit" on every iteration.
func sumTo() *ir.Function {
	f := ir.NewFunction("sumTo", ir.I64, ir.Param{Name: "n", Type: ir.I64})
	entry := f.NewBlock("entry")
	loop := f.NewBlock("loop")
	body := f.NewBlock("body")
	done := f.NewBlock("done")
	f.SetTerminator(entry, ir.Br(loop))

	b := ir.NewBuilder(loop)
	i := b.Phi(ir.I64, "i")
	acc := b.Phi(ir.I64, "acc")
	cond := b.ICmp(ir.PredSLE, i, f.Param(0), "cond")
	f.SetTerminator(loop, ir.CondBr(cond, body, done))

	b = ir.NewBuilder(body)
	acc2 := b.Add(acc, i, "acc2")
	b.Call("emit", ir.Void, []ir.Value{acc2}, "")
	i2 := b.Add(i, ir.Const(ir.I64, 1), "i2")
	f.SetTerminator(body, ir.Br(loop))

	f.AddIncoming(i.Instr, ir.Const(ir.I64, 1), entry)
	f.AddIncoming(i.Instr, i2, body)
	f.AddIncoming(acc.Instr, ir.Const(ir.I64, 0), entry)
	f.AddIncoming(acc.Instr, acc2, body)
	f.SetTerminator(done, ir.Ret(acc))
	return f
}

// fact is a recursive factorial over i32.
func fact() *ir.Function {
	f := ir.NewFunction("fact", ir.I32, ir.Param{Name: "n", Type: ir.I32})
	entry := f.NewBlock("entry")
	base := f.NewBlock("base")
	rec := f.NewBlock("rec")
	b := ir.NewBuilder(entry)
	c := b.ICmp(ir.PredSLE, f.Param(0), ir.Const(ir.I32, 1), "c")
	f.SetTerminator(entry, ir.CondBr(c, base, rec))
	f.SetTerminator(base, ir.Ret(ir.Const(ir.I32, 1)))
	b = ir.NewBuilder(rec)
	n1 := b.Sub(f.Param(0), ir.Const(ir.I32, 1), "n1")
	r := b.Call("fact", ir.I32, []ir.Value{n1}, "r")
	prod := b.Mul(f.Param(0), r, "prod")
	f.SetTerminator(rec, ir.Ret(prod))
	return f
}

func newModule(t *testing.T, fns ...*ir.Function) *ir.Module {
	m := ir.NewModule("test")
	for _, f := range fns {
		qt.Assert(t, qt.IsNil(ir.Verify(f)))
		qt.Assert(t, qt.IsNil(m.Add(f)))
	}
	return m
}

func TestLoopAndTrace(t *testing.T) {
	m := newModule(t, ir.NewDeclaration("emit", ir.Void, ir.Param{Type: ir.I64}), sumTo())
	mach := New(m)
	got, err := mach.Call("sumTo", 4)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, uint64(10)))

	want := []Event{
		{Callee: "emit", Args: []uint64{1}},
		{Callee: "emit", Args: []uint64{3}},
		{Callee: "emit", Args: []uint64{6}},
		{Callee: "emit", Args: []uint64{10}},
	}
	if diff := cmp.Diff(want, mach.Trace); diff != "" {
		t.Fatalf("trace mismatch (-want +got):\n%s", diff)
	}
}

func TestRecursion(t *testing.T) {
	mach := New(newModule(t, fact()))
	got, err := mach.Call("fact", 10)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, uint64(3628800)))

	// 13! overflows 32 bits and wraps.
	got, err = mach.Call("fact", 13)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, uint64(6227020800&0xffffffff)))
}

func TestHostBinding(t *testing.T) {
	m := newModule(t, ir.NewDeclaration("twice", ir.I8, ir.Param{Type: ir.I8}))
	f := ir.NewFunction("main", ir.I8)
	entry := f.NewBlock("entry")
	r := ir.NewBuilder(entry).Call("twice", ir.I8, []ir.Value{ir.Const(ir.I8, 200)}, "r")
	f.SetTerminator(entry, ir.Ret(r))
	qt.Assert(t, qt.IsNil(m.Add(f)))

	mach := New(m)
	mach.Host["twice"] = func(args []uint64) (uint64, error) { return args[0] * 2, nil }
	got, err := mach.Call("main")
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, uint64(144)))
	qt.Assert(t, qt.HasLen(mach.Trace, 1))
}

func TestErrors(t *testing.T) {
	f := ir.NewFunction("div", ir.I16, ir.Param{Name: "x", Type: ir.I16}, ir.Param{Name: "y", Type: ir.I16})
	entry := f.NewBlock("entry")
	q := ir.NewBuilder(entry).BinOp(ir.OpSDiv, f.Param(0), f.Param(1), "q")
	f.SetTerminator(entry, ir.Ret(q))

	g := ir.NewFunction("spin", ir.Void)
	spin := g.NewBlock("entry")
	g.SetTerminator(spin, ir.Br(spin))

	h := ir.NewFunction("dead", ir.Void)
	h.SetTerminator(h.NewBlock("entry"), ir.Unreachable())

	k := ir.NewFunction("callsMissing", ir.Void)
	kb := k.NewBlock("entry")
	ir.NewBuilder(kb).Call("missing", ir.Void, nil, "")
	k.SetTerminator(kb, ir.Ret())

	short := ir.NewFunction("callsShort", ir.I16)
	sb := short.NewBlock("entry")
	r := ir.NewBuilder(sb).Call("div", ir.I16, []ir.Value{ir.Const(ir.I16, 4)}, "r")
	short.SetTerminator(sb, ir.Ret(r))

	mach := New(newModule(t, f, g, h, k, short))
	mach.MaxSteps = 1000

	got, err := mach.Call("div", uint64(0x10000-7), 2)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, uint64(0x10000-3)))

	_, err = mach.Call("div", 7, 0)
	qt.Assert(t, qt.ErrorIs(err, ErrDivideByZero))

	_, err = mach.Call("spin")
	qt.Assert(t, qt.ErrorIs(err, ErrStepLimit))

	_, err = mach.Call("dead")
	qt.Assert(t, qt.ErrorIs(err, ErrUnreachable))

	_, err = mach.Call("callsMissing")
	qt.Assert(t, qt.ErrorIs(err, ErrUndefined))

	_, err = mach.Call("nowhere")
	qt.Assert(t, qt.ErrorIs(err, ErrUndefined))

	_, err = mach.Call("div", 1)
	qt.Assert(t, qt.ErrorMatches(err, `div takes 2 arguments, got 1`))

	_, err = mach.Call("callsShort")
	qt.Assert(t, qt.ErrorMatches(err, `callsShort: call: div takes 2 arguments, got 1`))
}

func TestBinary(t *testing.T) {
	tests := []struct {
		op   ir.Op
		typ  ir.Type
		x, y uint64
		want uint64
	}{
		{ir.OpAdd, ir.I8, 250, 10, 260},
		{ir.OpSub, ir.I32, 0, 1, 1<<64 - 1},
		{ir.OpShl, ir.I8, 1, 7, 128},
		{ir.OpShl, ir.I8, 1, 8, 0},
		{ir.OpLShr, ir.I8, 0x80, 7, 1},
		{ir.OpLShr, ir.I64, 1 << 63, 64, 0},
		{ir.OpAShr, ir.I8, 0x80, 7, 1<<64 - 1},
		{ir.OpAShr, ir.I8, 0x80, 200, 1<<64 - 1},
		{ir.OpAShr, ir.I8, 0x40, 200, 0},
		{ir.OpSRem, ir.I8, 0xf9, 2, 1<<64 - 1}, // -7 % 2 == -1
		{ir.OpURem, ir.I8, 0xf9, 2, 1},
		{ir.OpUDiv, ir.I8, 0xf9, 2, 124},
	}
	for _, test := range tests {
		got, err := binary(test.op, test.typ, test.x, test.y)
		qt.Assert(t, qt.IsNil(err))
		// Results are truncated by the caller.
		mask := test.typ.Mask()
		qt.Assert(t, qt.Equals(got&mask, test.want&mask), qt.Commentf("%s %s %d, %d", test.op, test.typ, test.x, test.y))
	}
}

func TestCompare(t *testing.T) {
	qt.Assert(t, qt.IsTrue(compare(ir.PredSLT, ir.I8, 0xff, 0)))
	qt.Assert(t, qt.IsFalse(compare(ir.PredULT, ir.I8, 0xff, 0)))
	qt.Assert(t, qt.IsTrue(compare(ir.PredUGE, ir.I64, 1<<63, 1)))
	qt.Assert(t, qt.IsTrue(compare(ir.PredSGE, ir.I32, 5, 5)))
}
