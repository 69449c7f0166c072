// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ctrlflow

import (
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"

	"mvdan.cc/irgarble/internal/interp"
	"mvdan.cc/irgarble/internal/ir"
)

func param(name string, typ ir.Type) ir.Param { return ir.Param{Name: name, Type: typ} }

// clamp is
//
//	func clamp(a int32) int32 { if a > 100 { return 100 }; return a }
//
// with an entry block that only jumps to the comparison.
func clamp() *ir.Function {
	f := ir.NewFunction("clamp", ir.I32, param("a", ir.I32))
	entry := f.NewBlock("entry")
	check := f.NewBlock("check")
	big := f.NewBlock("big")
	small := f.NewBlock("small")
	f.SetTerminator(entry, ir.Br(check))
	c := ir.NewBuilder(check).ICmp(ir.PredSGT, f.Param(0), ir.Const(ir.I32, 100), "c")
	f.SetTerminator(check, ir.CondBr(c, big, small))
	f.SetTerminator(big, ir.Ret(ir.Const(ir.I32, 100)))
	f.SetTerminator(small, ir.Ret(f.Param(0)))
	return f
}

// maxOf keeps its result in a stack slot and branches on entry.
func maxOf() *ir.Function {
	f := ir.NewFunction("maxOf", ir.I64, param("a", ir.I64), param("b", ir.I64))
	entry := f.NewBlock("entry")
	then := f.NewBlock("then")
	els := f.NewBlock("else")
	exit := f.NewBlock("exit")
	b := ir.NewBuilder(entry)
	slot := b.Alloca(ir.I64, "r")
	c := b.ICmp(ir.PredSGT, f.Param(0), f.Param(1), "c")
	f.SetTerminator(entry, ir.CondBr(c, then, els))
	ir.NewBuilder(then).Store(f.Param(0), slot)
	f.SetTerminator(then, ir.Br(exit))
	ir.NewBuilder(els).Store(f.Param(1), slot)
	f.SetTerminator(els, ir.Br(exit))
	res := ir.NewBuilder(exit).Load(ir.I64, slot, "res")
	f.SetTerminator(exit, ir.Ret(res))
	return f
}

// report uses a value in blocks other than the one defining it:
//
//	func report(a, b int32) int32 {
//		x := a + b
//		if x > 10 { emit(x) }
//		return x * 2
//	}
func report() *ir.Function {
	f := ir.NewFunction("report", ir.I32, param("a", ir.I32), param("b", ir.I32))
	entry := f.NewBlock("entry")
	body := f.NewBlock("body")
	big := f.NewBlock("big")
	exit := f.NewBlock("exit")
	f.SetTerminator(entry, ir.Br(body))
	b := ir.NewBuilder(body)
	x := b.Add(f.Param(0), f.Param(1), "x")
	c := b.ICmp(ir.PredSGT, x, ir.Const(ir.I32, 10), "c")
	f.SetTerminator(body, ir.CondBr(c, big, exit))
	ir.NewBuilder(big).Call("emit", ir.Void, []ir.Value{x}, "")
	f.SetTerminator(big, ir.Br(exit))
	y := ir.NewBuilder(exit).Mul(x, ir.Const(ir.I32, 2), "y")
	f.SetTerminator(exit, ir.Ret(y))
	return f
}

// sumTo loops over stack slots, with one alloca outside the entry block:
//
//	func sumTo(n int64) int64 {
//		acc := 0
//		for i := 1; i <= n; i++ { tmp := i ^ 3; acc += tmp - 3 + (i & 1) }
//		return acc
//	}
func sumTo() *ir.Function {
	f := ir.NewFunction("sumTo", ir.I64, param("n", ir.I64))
	entry := f.NewBlock("entry")
	loop := f.NewBlock("loop")
	body := f.NewBlock("body")
	done := f.NewBlock("done")

	b := ir.NewBuilder(entry)
	i := b.Alloca(ir.I64, "i")
	acc := b.Alloca(ir.I64, "acc")
	b.Store(ir.Const(ir.I64, 1), i)
	b.Store(ir.Const(ir.I64, 0), acc)
	f.SetTerminator(entry, ir.Br(loop))

	b = ir.NewBuilder(loop)
	iv := b.Load(ir.I64, i, "iv")
	c := b.ICmp(ir.PredSLE, iv, f.Param(0), "c")
	f.SetTerminator(loop, ir.CondBr(c, body, done))

	b = ir.NewBuilder(body)
	tmp := b.Alloca(ir.I64, "tmp")
	iv2 := b.Load(ir.I64, i, "iv2")
	b.Store(b.Xor(iv2, ir.Const(ir.I64, 3), "x"), tmp)
	t := b.Load(ir.I64, tmp, "t")
	t = b.Sub(t, ir.Const(ir.I64, 3), "t2")
	t = b.Add(t, b.And(iv2, ir.Const(ir.I64, 1), "odd"), "t3")
	av := b.Load(ir.I64, acc, "av")
	b.Store(b.Add(av, t, "av2"), acc)
	b.Store(b.Add(iv2, ir.Const(ir.I64, 1), "next"), i)
	f.SetTerminator(body, ir.Br(loop))

	r := ir.NewBuilder(done).Load(ir.I64, acc, "r")
	f.SetTerminator(done, ir.Ret(r))
	return f
}

// pick merges two values with a phi.
func pick() *ir.Function {
	f := ir.NewFunction("pick", ir.I8, param("c", ir.I1), param("x", ir.I8))
	entry := f.NewBlock("entry")
	one := f.NewBlock("one")
	join := f.NewBlock("join")
	f.SetTerminator(entry, ir.CondBr(f.Param(0), one, join))
	y := ir.NewBuilder(one).Add(f.Param(1), ir.Const(ir.I8, 1), "y")
	f.SetTerminator(one, ir.Br(join))
	p := ir.NewBuilder(join).Phi(ir.I8, "p")
	f.AddIncoming(p.Instr, f.Param(1), entry)
	f.AddIncoming(p.Instr, y, one)
	f.SetTerminator(join, ir.Ret(p))
	return f
}

// countdown loops through a switch back to its own block, and uses a value
// from that block after leaving it:
//
//	func countdown(n int8) int8 {
//		for {
//			v := n
//			n--
//			switch v {
//			case 2, 3:
//				continue
//			case 7:
//				return 70
//			}
//			return n + 10
//		}
//	}
func countdown() *ir.Function {
	f := ir.NewFunction("countdown", ir.I8, param("n", ir.I8))
	entry := f.NewBlock("entry")
	head := f.NewBlock("head")
	seven := f.NewBlock("seven")
	tail := f.NewBlock("tail")

	b := ir.NewBuilder(entry)
	slot := b.Alloca(ir.I8, "n.addr")
	b.Store(f.Param(0), slot)
	f.SetTerminator(entry, ir.Br(head))

	b = ir.NewBuilder(head)
	v := b.Load(ir.I8, slot, "v")
	d := b.Sub(v, ir.Const(ir.I8, 1), "d")
	b.Store(d, slot)
	f.SetTerminator(head, ir.Switch(v, tail,
		ir.SwitchCase{Value: 3, Target: head},
		ir.SwitchCase{Value: 2, Target: head},
		ir.SwitchCase{Value: 7, Target: seven},
	))
	f.SetTerminator(seven, ir.Ret(ir.Const(ir.I8, 70)))
	r := ir.NewBuilder(tail).Add(d, ir.Const(ir.I8, 10), "r")
	f.SetTerminator(tail, ir.Ret(r))
	return f
}

// route switches on entry:
//
//	func route(x int32) int32 {
//		k := x & 3
//		switch k {
//		case 1:
//			return x + 100
//		case 2:
//			emit(x)
//		}
//		return k * 7
//	}
func route() *ir.Function {
	f := ir.NewFunction("route", ir.I32, param("x", ir.I32))
	entry := f.NewBlock("entry")
	one := f.NewBlock("one")
	two := f.NewBlock("two")
	def := f.NewBlock("def")

	k := ir.NewBuilder(entry).And(f.Param(0), ir.Const(ir.I32, 3), "k")
	f.SetTerminator(entry, ir.Switch(k, def,
		ir.SwitchCase{Value: 1, Target: one},
		ir.SwitchCase{Value: 2, Target: two},
	))
	y := ir.NewBuilder(one).Add(f.Param(0), ir.Const(ir.I32, 100), "y")
	f.SetTerminator(one, ir.Ret(y))
	ir.NewBuilder(two).Call("emit", ir.Void, []ir.Value{f.Param(0)}, "")
	f.SetTerminator(two, ir.Br(def))
	z := ir.NewBuilder(def).Mul(k, ir.Const(ir.I32, 7), "z")
	f.SetTerminator(def, ir.Ret(z))
	return f
}

type testCase struct {
	build  func() *ir.Function
	inputs [][]uint64
}

var testCases = []testCase{
	{clamp, [][]uint64{{0}, {100}, {101}, {1 << 31}, {1<<32 - 1}}},
	{maxOf, [][]uint64{{1, 2}, {2, 1}, {1<<64 - 1, 0}, {5, 5}}},
	{report, [][]uint64{{1, 2}, {10, 1}, {1 << 31, 1 << 31}, {1<<32 - 1, 12}}},
	{sumTo, [][]uint64{{0}, {1}, {7}, {50}, {1<<64 - 1}}},
	{countdown, [][]uint64{{0}, {1}, {2}, {3}, {5}, {7}, {0xff}}},
	{route, [][]uint64{{0}, {1}, {2}, {5}, {6}, {7}, {1<<32 - 1}}},
}

type outcome struct {
	Result uint64
	Err    string
	Trace  []interp.Event
}

func execute(t *testing.T, f *ir.Function, inputs [][]uint64) []outcome {
	t.Helper()
	m := ir.NewModule("test")
	qt.Assert(t, qt.IsNil(m.Add(ir.NewDeclaration("emit", ir.Void, ir.Param{Type: ir.I32}))))
	qt.Assert(t, qt.IsNil(m.Add(f)))
	var outs []outcome
	for _, args := range inputs {
		mach := interp.New(m)
		res, err := mach.Call(f.Name(), args...)
		out := outcome{Result: res, Trace: mach.Trace}
		if err != nil {
			out.Err = err.Error()
		}
		outs = append(outs, out)
	}
	return outs
}

// checkEquivalent runs transform on a fresh copy of every test function
// and compares what the function computes before and after.
func checkEquivalent(t *testing.T, transform func(f *ir.Function)) {
	t.Helper()
	for _, tc := range testCases {
		before := tc.build()
		after := tc.build()
		transform(after)
		qt.Assert(t, qt.IsNil(ir.Verify(after)), qt.Commentf("%s", after))

		want := execute(t, before, tc.inputs)
		got := execute(t, after, tc.inputs)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("%s changed behavior (-before +after):\n%s\n%s", before.Name(), diff, after)
		}
	}
}

func blockNames(f *ir.Function) []string {
	var names []string
	for _, b := range f.Blocks() {
		names = append(names, b.Name())
	}
	return names
}
