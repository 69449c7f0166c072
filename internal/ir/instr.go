// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ir

import "fmt"

// Instr is a single instruction. Its fields are only changed through the
// editing methods of Function and Builder, which keep use lists in sync.
type Instr struct {
	op   Op
	typ  Type
	name string
	args []Value

	pred     Predicate // OpICmp
	elem     Type      // OpAlloca
	callee   string    // OpCall
	incoming []BlockID // OpPhi, parallel to args

	// For OpSwitch, targets[0] is the default destination
	// and targets[i+1] is the destination of cases[i].
	targets []BlockID
	cases   []uint64

	id     InstrID
	block  BlockID
	erased bool
}

func (in *Instr) ID() InstrID        { return in.id }
func (in *Instr) Op() Op             { return in.op }
func (in *Instr) Type() Type         { return in.typ }
func (in *Instr) Name() string       { return in.name }
func (in *Instr) Block() BlockID     { return in.block }
func (in *Instr) Pred() Predicate    { return in.pred }
func (in *Instr) Elem() Type         { return in.elem }
func (in *Instr) Callee() string     { return in.callee }
func (in *Instr) NumArgs() int       { return len(in.args) }
func (in *Instr) Arg(i int) Value    { return in.args[i] }
func (in *Instr) IsTerminator() bool { return in.op.IsTerminator() }

// Args returns the operands. The slice must not be modified.
func (in *Instr) Args() []Value { return in.args }

// Incoming returns the predecessor blocks of a phi, parallel to Args.
func (in *Instr) Incoming() []BlockID { return in.incoming }

// Targets returns the successor blocks of a terminator.
// For a switch, the default destination comes first.
func (in *Instr) Targets() []BlockID { return in.targets }

// Cases returns the case values of a switch, parallel to Targets()[1:].
func (in *Instr) Cases() []uint64 { return in.cases }

// Value returns the result of the instruction as an operand.
func (in *Instr) Value() Value {
	if in.typ == Void {
		panic(fmt.Sprintf("ir: %s produces no value", in.op))
	}
	return Value{Kind: InstrValue, Type: in.typ, Instr: in.id}
}

// Br returns an unconditional branch to target.
func Br(target *Block) *Instr {
	return &Instr{op: OpBr, targets: []BlockID{target.id}}
}

// CondBr returns a branch to t when cond is true and to f otherwise.
func CondBr(cond Value, t, f *Block) *Instr {
	if cond.Type != I1 {
		panic(fmt.Sprintf("ir: condbr condition of type %s", cond.Type))
	}
	return &Instr{op: OpCondBr, args: []Value{cond}, targets: []BlockID{t.id, f.id}}
}

type SwitchCase struct {
	Value  uint64
	Target *Block
}

// Switch returns a multi-way branch on sel.
func Switch(sel Value, def *Block, cases ...SwitchCase) *Instr {
	if !sel.Type.IsInt() {
		panic(fmt.Sprintf("ir: switch selector of type %s", sel.Type))
	}
	in := &Instr{op: OpSwitch, args: []Value{sel}, targets: []BlockID{def.id}}
	for _, c := range cases {
		in.targets = append(in.targets, c.Target.id)
		in.cases = append(in.cases, c.Value&sel.Type.Mask())
	}
	return in
}

// Ret returns a return of at most one value.
func Ret(results ...Value) *Instr {
	if len(results) > 1 {
		panic("ir: ret takes at most one value")
	}
	return &Instr{op: OpRet, args: results}
}

func Unreachable() *Instr { return &Instr{op: OpUnreachable} }
