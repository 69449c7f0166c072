// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package mba

import (
	mathrand "math/rand"
	"testing"

	"github.com/go-quicktest/qt"

	"mvdan.cc/irgarble/internal/interp"
	"mvdan.cc/irgarble/internal/ir"
)

var eligibleOps = []ir.Op{ir.OpAdd, ir.OpSub, ir.OpXor, ir.OpAnd, ir.OpOr}

// binaryFunc builds func name(a, b typ) typ { return a op b }.
func binaryFunc(name string, op ir.Op, typ ir.Type) *ir.Function {
	f := ir.NewFunction(name, typ, ir.Param{Name: "a", Type: typ}, ir.Param{Name: "b", Type: typ})
	entry := f.NewBlock("entry")
	r := ir.NewBuilder(entry).BinOp(op, f.Param(0), f.Param(1), "r")
	f.SetTerminator(entry, ir.Ret(r))
	return f
}

// reference computes a op b on the low bits of typ.
func reference(op ir.Op, typ ir.Type, a, b uint64) uint64 {
	var r uint64
	switch op {
	case ir.OpAdd:
		r = a + b
	case ir.OpSub:
		r = a - b
	case ir.OpXor:
		r = a ^ b
	case ir.OpAnd:
		r = a & b
	case ir.OpOr:
		r = a | b
	}
	return r & typ.Mask()
}

func substituted(t *testing.T, op ir.Op, typ ir.Type, iterations int) *interp.Machine {
	t.Helper()
	f := binaryFunc("f", op, typ)
	qt.Assert(t, qt.IsTrue(Substituter{Iterations: iterations}.Run(f)))
	qt.Assert(t, qt.IsNil(ir.Verify(f)))
	for _, in := range f.Entry().Instrs() {
		qt.Assert(t, qt.Not(qt.Equals(in.Name(), "r")))
	}
	m := ir.NewModule("test")
	qt.Assert(t, qt.IsNil(m.Add(f)))
	return interp.New(m)
}

func TestIdentitiesExhaustive(t *testing.T) {
	for _, op := range eligibleOps {
		t.Run(op.String(), func(t *testing.T) {
			mach := substituted(t, op, ir.I8, 1)
			for a := uint64(0); a < 256; a++ {
				for b := uint64(0); b < 256; b++ {
					got, err := mach.Call("f", a, b)
					if err != nil {
						t.Fatal(err)
					}
					if want := reference(op, ir.I8, a, b); got != want {
						t.Fatalf("%d %s %d: got %d, want %d", a, op, b, got, want)
					}
				}
			}
		})
	}
}

func TestIdentitiesBool(t *testing.T) {
	for _, op := range eligibleOps {
		for n := 1; n <= 3; n++ {
			mach := substituted(t, op, ir.I1, n)
			for a := uint64(0); a < 2; a++ {
				for b := uint64(0); b < 2; b++ {
					got, err := mach.Call("f", a, b)
					qt.Assert(t, qt.IsNil(err))
					qt.Assert(t, qt.Equals(got, reference(op, ir.I1, a, b)), qt.Commentf("%d %s %d after %d rounds", a, op, b, n))
				}
			}
		}
	}
}

func TestIdentitiesSampled(t *testing.T) {
	rand := mathrand.New(mathrand.NewSource(1))
	edges := []uint64{0, 1, 1<<31 - 1, 1 << 31, 1<<32 - 1, 1<<63 - 1, 1 << 63, 1<<64 - 1}
	for _, typ := range []ir.Type{ir.I32, ir.I64} {
		for _, op := range eligibleOps {
			mach := substituted(t, op, typ, 2)
			check := func(a, b uint64) {
				a, b = a&typ.Mask(), b&typ.Mask()
				got, err := mach.Call("f", a, b)
				qt.Assert(t, qt.IsNil(err))
				qt.Assert(t, qt.Equals(got, reference(op, typ, a, b)), qt.Commentf("%d %s %d on %s", a, op, b, typ))
			}
			for _, a := range edges {
				for _, b := range edges {
					check(a, b)
				}
			}
			for i := 0; i < 2000; i++ {
				check(rand.Uint64(), rand.Uint64())
			}
		}
	}
}

func TestAddOneRound(t *testing.T) {
	f := binaryFunc("add", ir.OpAdd, ir.I32)
	qt.Assert(t, qt.IsTrue(Substituter{Iterations: 1}.Run(f)))

	want := `func @add(%a i32, %b i32) i32 {
entry:
  %and_tmp = and i32 %a, %b
  %or_tmp = or i32 %a, %b
  %add_mba = add i32 %and_tmp, %or_tmp
  ret i32 %add_mba
}
`
	qt.Assert(t, qt.Equals(f.String(), want))

	m := ir.NewModule("test")
	qt.Assert(t, qt.IsNil(m.Add(f)))
	got, err := interp.New(m).Call("add", 2, 1)
	qt.Assert(t, qt.IsNil(err))
	qt.Assert(t, qt.Equals(got, uint64(3)))
}

func TestGrowth(t *testing.T) {
	f := binaryFunc("add", ir.OpAdd, ir.I64)
	qt.Assert(t, qt.IsTrue(Substituter{Iterations: 2}.Run(f)))
	qt.Assert(t, qt.IsNil(ir.Verify(f)))
	// and, or and add each expand again: 3 + 6 + 3 instructions.
	qt.Assert(t, qt.Equals(f.Entry().Len(), 12+1))
}

func TestSkipped(t *testing.T) {
	decl := ir.NewDeclaration("ext", ir.I32, ir.Param{Type: ir.I32})
	qt.Assert(t, qt.IsFalse(Substituter{Iterations: 3}.Run(decl)))

	mul := binaryFunc("mul", ir.OpMul, ir.I32)
	before := mul.String()
	qt.Assert(t, qt.IsFalse(Substituter{Iterations: 3}.Run(mul)))
	qt.Assert(t, qt.Equals(mul.String(), before))

	add := binaryFunc("add", ir.OpAdd, ir.I32)
	before = add.String()
	qt.Assert(t, qt.IsFalse(Substituter{Iterations: 0}.Run(add)))
	qt.Assert(t, qt.Equals(add.String(), before))

	qt.Assert(t, qt.PanicMatches(func() {
		Substitute(add.Param(0), add.Param(1), ir.OpMul, ir.NewBuilder(add.Entry()))
	}, `mba: no substitution for mul`))
}
