// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ir

import "fmt"

// Builder inserts new instructions at a fixed position. Operations are never
// folded, not even when every operand is a constant, so a rewrite keeps the
// exact shape it was built with.
type Builder struct {
	fn     *Function
	block  *Block
	before InstrID // NoInstr means at the end of block, ahead of its terminator
}

// NewBuilder returns a builder inserting at the end of b. Once b has a
// terminator, instructions go right before it.
func NewBuilder(b *Block) *Builder {
	return &Builder{fn: b.fn, block: b}
}

// NewBuilderBefore returns a builder inserting right before id.
func NewBuilderBefore(f *Function, id InstrID) *Builder {
	in := f.Instr(id)
	if in.erased {
		panic("ir: inserting before an erased instruction")
	}
	return &Builder{fn: f, block: f.blocks[in.block], before: id}
}

func (b *Builder) Func() *Function { return b.fn }
func (b *Builder) Block() *Block   { return b.block }

func (b *Builder) insert(in *Instr) Value {
	in.name = b.fn.uniqueName(in.name)
	var pos int
	switch {
	case b.before != NoInstr:
		pos = b.block.Index(b.before)
	case b.block.Terminator() != nil:
		pos = len(b.block.instrs) - 1
	default:
		pos = len(b.block.instrs)
	}
	// phis stay grouped at the head of the block
	phis := 0
	for phis < len(b.block.instrs) && b.fn.instrs[b.block.instrs[phis]].op == OpPhi {
		phis++
	}
	if in.op == OpPhi || pos < phis {
		pos = phis
	}
	id := b.fn.insertAt(in, b.block, pos)
	if in.typ == Void {
		return Value{}
	}
	return b.fn.instrs[id].Value()
}

// BinOp builds a binary operation. Shift counts may have a different
// integer type than the shifted value; other operands must match.
func (b *Builder) BinOp(op Op, x, y Value, name string) Value {
	if !op.IsBinary() {
		panic(fmt.Sprintf("ir: %s is not a binary operation", op))
	}
	if !x.Type.IsInt() || !y.Type.IsInt() {
		panic(fmt.Sprintf("ir: %s on %s and %s", op, x.Type, y.Type))
	}
	if x.Type != y.Type && !op.IsShift() {
		panic(fmt.Sprintf("ir: %s operands of types %s and %s", op, x.Type, y.Type))
	}
	return b.insert(&Instr{op: op, typ: x.Type, name: name, args: []Value{x, y}})
}

func (b *Builder) Add(x, y Value, name string) Value  { return b.BinOp(OpAdd, x, y, name) }
func (b *Builder) Sub(x, y Value, name string) Value  { return b.BinOp(OpSub, x, y, name) }
func (b *Builder) Mul(x, y Value, name string) Value  { return b.BinOp(OpMul, x, y, name) }
func (b *Builder) And(x, y Value, name string) Value  { return b.BinOp(OpAnd, x, y, name) }
func (b *Builder) Or(x, y Value, name string) Value   { return b.BinOp(OpOr, x, y, name) }
func (b *Builder) Xor(x, y Value, name string) Value  { return b.BinOp(OpXor, x, y, name) }
func (b *Builder) Shl(x, y Value, name string) Value  { return b.BinOp(OpShl, x, y, name) }
func (b *Builder) LShr(x, y Value, name string) Value { return b.BinOp(OpLShr, x, y, name) }
func (b *Builder) AShr(x, y Value, name string) Value { return b.BinOp(OpAShr, x, y, name) }

// Neg builds 0 - x.
func (b *Builder) Neg(x Value, name string) Value {
	return b.Sub(Const(x.Type, 0), x, name)
}

// Not builds x ^ -1.
func (b *Builder) Not(x Value, name string) Value {
	return b.Xor(x, AllOnes(x.Type), name)
}

func (b *Builder) ICmp(pred Predicate, x, y Value, name string) Value {
	if x.Type != y.Type || !x.Type.IsInt() {
		panic(fmt.Sprintf("ir: icmp of %s and %s", x.Type, y.Type))
	}
	return b.insert(&Instr{op: OpICmp, typ: I1, name: name, pred: pred, args: []Value{x, y}})
}

// Select builds cond ? t : f.
func (b *Builder) Select(cond, t, f Value, name string) Value {
	if cond.Type != I1 || t.Type != f.Type {
		panic(fmt.Sprintf("ir: select %s ? %s : %s", cond.Type, t.Type, f.Type))
	}
	return b.insert(&Instr{op: OpSelect, typ: t.Type, name: name, args: []Value{cond, t, f}})
}

// Cast builds a truncation or extension of x to type to.
func (b *Builder) Cast(op Op, x Value, to Type, name string) Value {
	from := x.Type
	switch {
	case !op.IsCast(), !from.IsInt(), !to.IsInt():
		panic(fmt.Sprintf("ir: %s from %s to %s", op, from, to))
	case op == OpTrunc && to.Bits() >= from.Bits(),
		op != OpTrunc && to.Bits() <= from.Bits():
		panic(fmt.Sprintf("ir: %s from %s to %s", op, from, to))
	}
	return b.insert(&Instr{op: op, typ: to, name: name, args: []Value{x}})
}

// Alloca builds a function-scoped stack slot holding a value of type elem.
func (b *Builder) Alloca(elem Type, name string) Value {
	if elem == Void {
		panic("ir: alloca of void")
	}
	return b.insert(&Instr{op: OpAlloca, typ: Ptr, name: name, elem: elem})
}

func (b *Builder) Load(t Type, ptr Value, name string) Value {
	if ptr.Type != Ptr {
		panic("ir: load from " + ptr.Type.String())
	}
	return b.insert(&Instr{op: OpLoad, typ: t, name: name, args: []Value{ptr}})
}

func (b *Builder) Store(v, ptr Value) {
	if ptr.Type != Ptr {
		panic("ir: store to " + ptr.Type.String())
	}
	b.insert(&Instr{op: OpStore, args: []Value{v, ptr}})
}

// Call builds a call to the named function. The result is invalid when
// result is Void.
func (b *Builder) Call(callee string, result Type, args []Value, name string) Value {
	return b.insert(&Instr{op: OpCall, typ: result, name: name, callee: callee, args: append([]Value(nil), args...)})
}

// Phi builds a phi with no incoming edges yet; see Function.AddIncoming.
func (b *Builder) Phi(t Type, name string) Value {
	return b.insert(&Instr{op: OpPhi, typ: t, name: name})
}
