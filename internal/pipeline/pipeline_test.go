// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-quicktest/qt"
	"github.com/google/go-cmp/cmp"

	"mvdan.cc/irgarble/internal/interp"
	"mvdan.cc/irgarble/internal/ir"
)

func param(name string, typ ir.Type) ir.Param { return ir.Param{Name: name, Type: typ} }

func add() *ir.Function {
	f := ir.NewFunction("add", ir.I32, param("a", ir.I32), param("b", ir.I32))
	entry := f.NewBlock("entry")
	sum := ir.NewBuilder(entry).Add(f.Param(0), f.Param(1), "sum")
	f.SetTerminator(entry, ir.Ret(sum))
	return f
}

// clamp returns min(a, 100) and reports large inputs.
func clamp() *ir.Function {
	f := ir.NewFunction("clamp", ir.I32, param("a", ir.I32))
	entry := f.NewBlock("entry")
	check := f.NewBlock("check")
	big := f.NewBlock("big")
	small := f.NewBlock("small")
	f.SetTerminator(entry, ir.Br(check))
	c := ir.NewBuilder(check).ICmp(ir.PredSGT, f.Param(0), ir.Const(ir.I32, 100), "c")
	f.SetTerminator(check, ir.CondBr(c, big, small))
	ir.NewBuilder(big).Call("emit", ir.Void, []ir.Value{f.Param(0)}, "")
	f.SetTerminator(big, ir.Ret(ir.Const(ir.I32, 100)))
	f.SetTerminator(small, ir.Ret(f.Param(0)))
	return f
}

// mix loops n times over a stack slot, mixing in every operation the
// substituter knows, and calls clamp on the way out.
func mix() *ir.Function {
	f := ir.NewFunction("mix", ir.I32, param("n", ir.I32), param("seed", ir.I32))
	entry := f.NewBlock("entry")
	loop := f.NewBlock("loop")
	body := f.NewBlock("body")
	done := f.NewBlock("done")

	b := ir.NewBuilder(entry)
	i := b.Alloca(ir.I32, "i")
	acc := b.Alloca(ir.I32, "acc")
	b.Store(ir.Const(ir.I32, 0), i)
	b.Store(f.Param(1), acc)
	f.SetTerminator(entry, ir.Br(loop))

	b = ir.NewBuilder(loop)
	iv := b.Load(ir.I32, i, "iv")
	c := b.ICmp(ir.PredULT, iv, f.Param(0), "c")
	f.SetTerminator(loop, ir.CondBr(c, body, done))

	b = ir.NewBuilder(body)
	iv = b.Load(ir.I32, i, "iv2")
	av := b.Load(ir.I32, acc, "av")
	x := b.Xor(av, b.Shl(iv, ir.Const(ir.I32, 3), "sh"), "x")
	y := b.Sub(b.Or(x, ir.Const(ir.I32, 0x55), "o"), b.And(iv, av, "a"), "y")
	b.Store(b.Add(y, ir.Const(ir.I32, 0x1234567), "z"), acc)
	b.Store(b.Add(iv, ir.Const(ir.I32, 1), "next"), i)
	f.SetTerminator(body, ir.Br(loop))

	b = ir.NewBuilder(done)
	r := b.Load(ir.I32, acc, "r")
	r = b.Call("clamp", ir.I32, []ir.Value{r}, "clamped")
	f.SetTerminator(done, ir.Ret(r))
	return f
}

// pick merges two values with a phi, so it is never flattened.
func pick() *ir.Function {
	f := ir.NewFunction("pick", ir.I8, param("c", ir.I1), param("x", ir.I8))
	entry := f.NewBlock("entry")
	one := f.NewBlock("one")
	join := f.NewBlock("join")
	f.SetTerminator(entry, ir.CondBr(f.Param(0), one, join))
	y := ir.NewBuilder(one).Sub(f.Param(1), ir.Const(ir.I8, 1), "y")
	f.SetTerminator(one, ir.Br(join))
	p := ir.NewBuilder(join).Phi(ir.I8, "p")
	f.AddIncoming(p.Instr, f.Param(1), entry)
	f.AddIncoming(p.Instr, y, one)
	f.SetTerminator(join, ir.Ret(p))
	return f
}

func testModule(t *testing.T) *ir.Module {
	m := ir.NewModule("test")
	for _, f := range []*ir.Function{
		ir.NewDeclaration("emit", ir.Void, ir.Param{Type: ir.I32}),
		add(), clamp(), mix(), pick(),
	} {
		qt.Assert(t, qt.IsNil(m.Add(f)))
	}
	return m
}

type call struct {
	fn   string
	args []uint64
}

var calls = []call{
	{"add", []uint64{2, 1}},
	{"add", []uint64{1<<32 - 1, 1}},
	{"add", []uint64{1 << 31, 1 << 31}},
	{"clamp", []uint64{7}},
	{"clamp", []uint64{101}},
	{"clamp", []uint64{1<<32 - 5}},
	{"mix", []uint64{0, 9}},
	{"mix", []uint64{5, 1}},
	{"mix", []uint64{40, 0xdeadbeef}},
	{"pick", []uint64{0, 0}},
	{"pick", []uint64{1, 0}},
	{"pick", []uint64{1, 200}},
}

type outcome struct {
	Call   string
	Result uint64
	Err    string
	Trace  []interp.Event
}

func runCalls(m *ir.Module) []outcome {
	var outs []outcome
	for _, c := range calls {
		mach := interp.New(m)
		res, err := mach.Call(c.fn, c.args...)
		out := outcome{Call: fmt.Sprint(c.fn, c.args), Result: res, Trace: mach.Trace}
		if err != nil {
			out.Err = err.Error()
		}
		outs = append(outs, out)
	}
	return outs
}

func TestEquivalence(t *testing.T) {
	want := runCalls(testModule(t))
	for _, opts := range []Options{
		{Iterations: 0},
		{Iterations: 1, JunkJumps: 3},
		{Iterations: 1, Hardening: true, Trash: 4},
		{Iterations: 2, JunkJumps: 2, Hardening: true},
	} {
		for _, split := range []int{0, 50, 100} {
			opts := opts
			opts.SplitProbability = split
			t.Run(fmt.Sprintf("%+v", opts), func(t *testing.T) {
				m := testModule(t)
				p, err := New(Config{Options: opts, Seed: 1, Verify: true})
				qt.Assert(t, qt.IsNil(err))
				_, err = p.Run(m)
				qt.Assert(t, qt.IsNil(err))
				if diff := cmp.Diff(want, runCalls(m)); diff != "" {
					t.Fatalf("behavior changed (-before +after):\n%s\n%s", diff, m)
				}
			})
		}
	}
}

func TestAddScenario(t *testing.T) {
	m := testModule(t)
	p, err := New(Config{Options: Options{Iterations: 1}, Seed: 1})
	qt.Assert(t, qt.IsNil(err))
	reports, err := p.Run(m)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(reports[0], Report{Func: "add", Changed: true, Stages: []string{"substitute"}}))

	want := `func @add(%a i32, %b i32) i32 {
entry:
  %and_tmp = and i32 %a, %b
  %or_tmp = or i32 %a, %b
  %add_mba = add i32 %and_tmp, %or_tmp
  ret i32 %add_mba
}
`
	qt.Assert(t, qt.Equals(m.Func("add").String(), want))
	got, err := interp.New(m).Call("add", 2, 1)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, uint64(3)))
}

func TestReports(t *testing.T) {
	m := testModule(t)
	p, err := New(Config{
		Options:   DefaultOptions(),
		Seed:      1,
		Verify:    true,
		Overrides: map[string]Options{"add": {}},
	})
	qt.Assert(t, qt.IsNil(err))
	reports, err := p.Run(m)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.DeepEquals(reports, []Report{
		{Func: "add"},
		{Func: "clamp", Changed: true, Stages: []string{"flatten"}},
		{Func: "mix", Changed: true, Stages: []string{"flatten", "substitute"}},
		{Func: "pick", Changed: true, Stages: []string{"substitute"}},
	}))
	// Only changed functions are marked.
	qt.Assert(t, qt.IsFalse(m.Func("add").HasFlag(ir.FlagNoInline)))
	for _, name := range []string{"clamp", "mix", "pick"} {
		qt.Assert(t, qt.IsTrue(m.Func(name).HasFlag(ir.FlagNoInline)))
	}
	qt.Assert(t, qt.IsFalse(m.Func("pick").HasFlag(ir.FlagFlattened)))
}

func TestDeterministic(t *testing.T) {
	var prints []string
	for i := 0; i < 2; i++ {
		m := testModule(t)
		p, err := New(Config{
			Options: Options{Iterations: 1, SplitProbability: 50, JunkJumps: 4, Trash: 3},
			Seed:    99,
		})
		qt.Assert(t, qt.IsNil(err))
		_, err = p.Run(m)
		qt.Assert(t, qt.IsNil(err))
		prints = append(prints, m.String())
	}
	qt.Assert(t, qt.Equals(prints[0], prints[1]))
}

type breakFunc struct{}

func (breakFunc) Name() string { return "break" }
func (breakFunc) Run(f *ir.Function) bool {
	f.NewBlock("broken")
	return true
}

type panicFunc struct{}

func (panicFunc) Name() string { return "panic" }
func (panicFunc) Run(f *ir.Function) bool {
	f.Erase(f.Entry().Terminator().ID())
	return true
}

func TestFailedTransform(t *testing.T) {
	for _, tc := range []struct {
		stage Transform
		want  string
	}{
		{breakFunc{}, `clamp: break: transform failed: clamp: block broken is empty`},
		{panicFunc{}, `clamp: panic: transform failed: panic: ir: .*`},
	} {
		m := testModule(t)
		before := m.String()
		p, err := New(Config{
			Options:   DefaultOptions(),
			Verify:    true,
			Overrides: map[string]Options{"clamp": {}},
		})
		qt.Assert(t, qt.IsNil(err))
		// Only clamp is broken; the others are left alone.
		p.stages = func(opts Options) []Transform {
			if opts == (Options{}) {
				return []Transform{tc.stage}
			}
			return nil
		}

		reports, err := p.Run(m)
		qt.Assert(t, qt.ErrorMatches(err, tc.want))
		qt.Assert(t, qt.ErrorIs(err, ErrTransformFailed))
		qt.Assert(t, qt.Equals(m.String(), before))
		qt.Assert(t, qt.HasLen(reports, 4))
		for _, rep := range reports {
			if rep.Func == "clamp" {
				qt.Assert(t, qt.IsFalse(rep.Changed))
				qt.Assert(t, qt.IsTrue(errors.Is(rep.Err, ErrTransformFailed)))
			} else {
				qt.Assert(t, qt.IsNil(rep.Err))
			}
		}
	}
}

func TestNewRejectsOptions(t *testing.T) {
	_, err := New(Config{Options: Options{Iterations: 17}})
	qt.Assert(t, qt.ErrorMatches(err, `option "iterations" out of range: 17 \(want 0 to 16\)`))
	_, err = New(Config{Overrides: map[string]Options{"f": {SplitProbability: -1}}})
	qt.Assert(t, qt.ErrorMatches(err, `f: option "split_probability" out of range: -1 \(want 0 to 100\)`))
}
