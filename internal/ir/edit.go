// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ir

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// The editing primitives below assume a well-formed function. Breaking their
// preconditions is a programming error and panics.

// NewBlock appends an empty block to the end of the layout. The caller must
// give it a terminator before the transform completes.
func (f *Function) NewBlock(name string) *Block {
	if f.decl {
		panic("ir: adding a block to declaration " + f.name)
	}
	b := &Block{id: BlockID(len(f.blocks)), name: f.uniqueName(name), fn: f}
	f.blocks = append(f.blocks, b)
	f.layout = append(f.layout, b.id)
	return b
}

// CreateBlock returns an empty block placed right after the given block.
func (f *Function) CreateBlock(name string, after *Block) *Block {
	b := f.NewBlock(name)
	f.MoveBlockAfter(b, after)
	return b
}

// MoveBlockAfter moves b to follow after in the layout. Only the first block
// of the layout has meaning, so the entry block itself cannot move.
func (f *Function) MoveBlockAfter(b, after *Block) {
	f.checkBlock(b)
	f.checkBlock(after)
	if b == after {
		return
	}
	if f.layout[0] == b.id {
		panic("ir: moving the entry block of " + f.name)
	}
	i := slices.Index(f.layout, b.id)
	f.layout = slices.Delete(f.layout, i, i+1)
	j := slices.Index(f.layout, after.id)
	f.layout = slices.Insert(f.layout, j+1, b.id)
}

func (f *Function) checkBlock(b *Block) {
	if b.fn != f {
		panic(fmt.Sprintf("ir: block %s does not belong to %s", b.name, f.name))
	}
}

// register adds in to the arena and records the uses of its operands.
func (f *Function) register(in *Instr, b *Block) InstrID {
	if in.id != NoInstr {
		panic("ir: instruction inserted twice")
	}
	in.id = InstrID(len(f.instrs))
	in.block = b.id
	f.instrs = append(f.instrs, in)
	f.users = append(f.users, nil)
	for _, a := range in.args {
		f.addUse(a, in.id)
	}
	return in.id
}

func (f *Function) addUse(v Value, user InstrID) {
	if v.Kind != InstrValue {
		return
	}
	if !f.IsLive(v.Instr) {
		panic(fmt.Sprintf("ir: use of dead or foreign value %s in %s", v, f.name))
	}
	f.users[v.Instr] = append(f.users[v.Instr], user)
}

func (f *Function) removeUse(v Value, user InstrID) {
	if v.Kind != InstrValue {
		return
	}
	us := f.users[v.Instr]
	if i := slices.Index(us, user); i >= 0 {
		f.users[v.Instr] = slices.Delete(us, i, i+1)
	}
}

// insertAt places a detached non-terminator at position pos of b.
func (f *Function) insertAt(in *Instr, b *Block, pos int) InstrID {
	if in.op.IsTerminator() {
		panic("ir: terminators are installed with SetTerminator")
	}
	id := f.register(in, b)
	b.instrs = slices.Insert(b.instrs, pos, id)
	return id
}

// SetTerminator installs term as the terminator of b. An existing
// terminator is erased in the same edit, so b is never left without one.
func (f *Function) SetTerminator(b *Block, term *Instr) InstrID {
	f.checkBlock(b)
	if !term.op.IsTerminator() {
		panic(fmt.Sprintf("ir: %s is not a terminator", term.op))
	}
	for _, t := range term.targets {
		if t <= NoBlock || int(t) >= len(f.blocks) {
			panic(fmt.Sprintf("ir: branch to unknown block %d in %s", t, f.name))
		}
	}
	old := b.Terminator()
	id := f.register(term, b)
	if old != nil {
		for _, a := range old.args {
			f.removeUse(a, old.id)
		}
		old.erased = true
		b.instrs[len(b.instrs)-1] = id
	} else {
		b.instrs = append(b.instrs, id)
	}
	return id
}

// ReplaceAllUsesWith rewrites every operand referring to the result of old
// so that it refers to v instead. The instruction old itself is kept.
func (f *Function) ReplaceAllUsesWith(old InstrID, v Value) {
	in := f.Instr(old)
	if v.Type != in.typ {
		panic(fmt.Sprintf("ir: replacing %s value with %s value", in.typ, v.Type))
	}
	if v.Kind == InstrValue && v.Instr == old {
		return
	}
	oldVal := in.Value()
	users := f.users[old]
	f.users[old] = nil
	for _, u := range dedup(users) {
		user := f.instrs[u]
		for i, a := range user.args {
			if a == oldVal {
				user.args[i] = v
				f.addUse(v, u)
			}
		}
	}
}

// dedup drops repeated entries of a use list while keeping its order.
func dedup(us []InstrID) []InstrID {
	var out []InstrID
	for _, u := range us {
		if !slices.Contains(out, u) {
			out = append(out, u)
		}
	}
	return out
}

// Erase removes a non-terminator whose result has no remaining uses.
func (f *Function) Erase(id InstrID) {
	in := f.Instr(id)
	if in.erased {
		panic(fmt.Sprintf("ir: %%%d erased twice", id))
	}
	if in.op.IsTerminator() {
		panic("ir: terminators are replaced with SetTerminator, not erased")
	}
	if n := len(f.users[id]); n > 0 {
		panic(fmt.Sprintf("ir: erasing %%%d (%s) with %d remaining uses", id, in.op, n))
	}
	for _, a := range in.args {
		f.removeUse(a, id)
	}
	b := f.blocks[in.block]
	i := slices.Index(b.instrs, id)
	b.instrs = slices.Delete(b.instrs, i, i+1)
	in.erased = true
}

// ReplaceInstr redirects all uses of old to v and then erases old.
func (f *Function) ReplaceInstr(old InstrID, v Value) {
	f.ReplaceAllUsesWith(old, v)
	f.Erase(old)
}

// SetArg replaces the i-th operand of an instruction.
func (f *Function) SetArg(id InstrID, i int, v Value) {
	in := f.Instr(id)
	if in.erased {
		panic("ir: editing an erased instruction")
	}
	if in.args[i].Type != v.Type && !(in.op.IsShift() && i == 1) {
		panic(fmt.Sprintf("ir: operand %d of %s changes type from %s to %s", i, in.op, in.args[i].Type, v.Type))
	}
	f.removeUse(in.args[i], id)
	in.args[i] = v
	f.addUse(v, id)
}

// AddIncoming appends an incoming edge to a phi.
func (f *Function) AddIncoming(phi InstrID, v Value, from *Block) {
	in := f.Instr(phi)
	if in.op != OpPhi {
		panic("ir: AddIncoming on " + in.op.String())
	}
	if v.Type != in.typ {
		panic(fmt.Sprintf("ir: phi of %s given %s value", in.typ, v.Type))
	}
	in.args = append(in.args, v)
	in.incoming = append(in.incoming, from.id)
	f.addUse(v, phi)
}

// MoveBefore relocates a non-terminator to sit right before another
// instruction, possibly in another block.
func (f *Function) MoveBefore(id, before InstrID) {
	in, pos := f.Instr(id), f.Instr(before)
	if in.op.IsTerminator() || in.op == OpPhi {
		panic("ir: cannot move " + in.op.String())
	}
	if in.erased || pos.erased {
		panic("ir: moving around an erased instruction")
	}
	if id == before {
		return
	}
	from := f.blocks[in.block]
	i := slices.Index(from.instrs, id)
	from.instrs = slices.Delete(from.instrs, i, i+1)

	to := f.blocks[pos.block]
	j := slices.Index(to.instrs, before)
	to.instrs = slices.Insert(to.instrs, j, id)
	in.block = to.id
}

// SplitBlock moves at and every instruction after it into a new block placed
// right after b, and terminates b with a branch to the new block. Phis in the
// successors that flowed in from b now flow in from the new block.
func (f *Function) SplitBlock(b *Block, at InstrID, name string) *Block {
	f.checkBlock(b)
	i := b.Index(at)
	if i < 0 {
		panic(fmt.Sprintf("ir: %%%d is not in block %s", at, b.name))
	}
	if f.instrs[at].op == OpPhi {
		panic("ir: splitting a block before a phi")
	}
	if b.Terminator() == nil {
		panic("ir: splitting unterminated block " + b.name)
	}
	if name == "" {
		name = b.name + ".split"
	}
	nb := f.CreateBlock(name, b)
	nb.instrs = slices.Clone(b.instrs[i:])
	b.instrs = slices.Clone(b.instrs[:i])
	for _, id := range nb.instrs {
		f.instrs[id].block = nb.id
	}
	for _, succ := range nb.Succs() {
		for _, id := range succ.instrs {
			phi := f.instrs[id]
			if phi.op != OpPhi {
				break
			}
			for k, from := range phi.incoming {
				if from == b.id {
					phi.incoming[k] = nb.id
				}
			}
		}
	}
	f.SetTerminator(b, Br(nb))
	return nb
}

// SetTarget redirects the i-th successor edge of a terminator to b.
// Phis in either successor are left for the caller to update.
func (f *Function) SetTarget(term InstrID, i int, b *Block) {
	in := f.Instr(term)
	if !in.op.IsTerminator() || in.erased {
		panic(fmt.Sprintf("ir: %%%d is not a live terminator", term))
	}
	f.checkBlock(b)
	in.targets[i] = b.id
}
