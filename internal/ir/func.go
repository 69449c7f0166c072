// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ir

import (
	"fmt"
	"strconv"

	"golang.org/x/exp/slices"
)

// Module owns an ordered list of functions.
type Module struct {
	Name string

	funcs  []*Function
	byName map[string]*Function
}

func NewModule(name string) *Module {
	return &Module{Name: name, byName: make(map[string]*Function)}
}

// Add appends f to the module. Function names are unique within a module.
func (m *Module) Add(f *Function) error {
	if f.module != nil {
		return fmt.Errorf("function %s already belongs to module %q", f.name, f.module.Name)
	}
	if _, ok := m.byName[f.name]; ok {
		return fmt.Errorf("duplicate function %s", f.name)
	}
	f.module = m
	m.funcs = append(m.funcs, f)
	m.byName[f.name] = f
	return nil
}

// Replace swaps the function of the same name for f, keeping its position.
func (m *Module) Replace(f *Function) {
	old, ok := m.byName[f.name]
	if !ok {
		panic("ir: replacing unknown function " + f.name)
	}
	i := slices.Index(m.funcs, old)
	old.module = nil
	f.module = m
	m.funcs[i] = f
	m.byName[f.name] = f
}

// Func returns the named function, or nil.
func (m *Module) Func(name string) *Function { return m.byName[name] }

// Functions returns the functions in module order.
func (m *Module) Functions() []*Function { return slices.Clone(m.funcs) }

// Clone returns a deep copy of the module.
func (m *Module) Clone() *Module {
	m2 := NewModule(m.Name)
	for _, f := range m.funcs {
		if err := m2.Add(f.Clone()); err != nil {
			panic(err)
		}
	}
	return m2
}

type Param struct {
	Name string
	Type Type
}

type Flags uint8

const (
	// FlagNoInline asks the back-end not to inline the function.
	FlagNoInline Flags = 1 << iota
	// FlagFlattened marks a function whose control flow was already flattened.
	FlagFlattened
)

// Function is either a declaration, with no blocks, or a definition whose
// first block in layout order is the entry block.
type Function struct {
	name   string
	params []Param
	result Type
	decl   bool
	flags  Flags
	module *Module

	// instrs and blocks are arenas indexed by handle; index 0 is unused.
	instrs []*Instr
	blocks []*Block
	// users holds, per instruction, one entry per operand referring to it.
	users  [][]InstrID
	layout []BlockID

	names map[string]bool
}

// NewFunction returns a function definition with no blocks yet.
func NewFunction(name string, result Type, params ...Param) *Function {
	f := &Function{
		name:   name,
		params: params,
		result: result,
		instrs: []*Instr{nil},
		blocks: []*Block{nil},
		users:  [][]InstrID{nil},
		names:  make(map[string]bool),
	}
	for _, p := range params {
		if p.Name != "" {
			f.names[p.Name] = true
		}
	}
	return f
}

// NewDeclaration returns a function with no body.
func NewDeclaration(name string, result Type, params ...Param) *Function {
	f := NewFunction(name, result, params...)
	f.decl = true
	return f
}

func (f *Function) Name() string        { return f.name }
func (f *Function) Result() Type        { return f.result }
func (f *Function) Module() *Module     { return f.module }
func (f *Function) IsDeclaration() bool { return f.decl }
func (f *Function) NumBlocks() int      { return len(f.layout) }

func (f *Function) Params() []Param { return slices.Clone(f.params) }

// Param returns the i-th parameter as an operand.
func (f *Function) Param(i int) Value {
	return Value{Kind: ParamValue, Type: f.params[i].Type, Param: i}
}

func (f *Function) HasFlag(fl Flags) bool { return f.flags&fl != 0 }
func (f *Function) SetFlag(fl Flags)      { f.flags |= fl }

// Entry returns the entry block, or nil for a declaration or an empty body.
func (f *Function) Entry() *Block {
	if len(f.layout) == 0 {
		return nil
	}
	return f.blocks[f.layout[0]]
}

// Blocks returns a snapshot of the blocks in layout order.
func (f *Function) Blocks() []*Block {
	bs := make([]*Block, len(f.layout))
	for i, id := range f.layout {
		bs[i] = f.blocks[id]
	}
	return bs
}

// Block returns the block with the given handle.
func (f *Function) Block(id BlockID) *Block {
	if id <= NoBlock || int(id) >= len(f.blocks) {
		panic(fmt.Sprintf("ir: %s has no block %d", f.name, id))
	}
	return f.blocks[id]
}

// Instr returns the instruction with the given handle. Erased instructions
// are still returned; use IsLive to tell them apart.
func (f *Function) Instr(id InstrID) *Instr {
	if id <= NoInstr || int(id) >= len(f.instrs) {
		panic(fmt.Sprintf("ir: %s has no instruction %d", f.name, id))
	}
	return f.instrs[id]
}

// IsLive reports whether id names an instruction currently in a block.
func (f *Function) IsLive(id InstrID) bool {
	return id > NoInstr && int(id) < len(f.instrs) && !f.instrs[id].erased
}

// NumUses returns the number of operands referring to the result of id.
func (f *Function) NumUses(id InstrID) int { return len(f.users[id]) }

// Users returns the distinct instructions using the result of id, in the
// order their uses were created.
func (f *Function) Users(id InstrID) []InstrID { return dedup(f.users[id]) }

// HasPhi reports whether any block of f starts with a phi.
func (f *Function) HasPhi() bool {
	for _, id := range f.layout {
		for _, iid := range f.blocks[id].instrs {
			if f.instrs[iid].op == OpPhi {
				return true
			}
		}
	}
	return false
}

// uniqueName returns base, or base with a numeric suffix if another block
// or value of f already uses it. The empty name stays empty.
func (f *Function) uniqueName(base string) string {
	if base == "" {
		return ""
	}
	name := base
	for i := 1; f.names[name]; i++ {
		name = base + "." + strconv.Itoa(i)
	}
	f.names[name] = true
	return name
}

// Clone returns a deep copy of f that belongs to no module.
// Handles stay valid across the copy.
func (f *Function) Clone() *Function {
	f2 := &Function{
		name:   f.name,
		params: slices.Clone(f.params),
		result: f.result,
		decl:   f.decl,
		flags:  f.flags,
		instrs: make([]*Instr, len(f.instrs)),
		blocks: make([]*Block, len(f.blocks)),
		users:  make([][]InstrID, len(f.users)),
		layout: slices.Clone(f.layout),
		names:  make(map[string]bool, len(f.names)),
	}
	for i, in := range f.instrs {
		if in == nil {
			continue
		}
		in2 := *in
		in2.args = slices.Clone(in.args)
		in2.incoming = slices.Clone(in.incoming)
		in2.targets = slices.Clone(in.targets)
		in2.cases = slices.Clone(in.cases)
		f2.instrs[i] = &in2
	}
	for i, b := range f.blocks {
		if b == nil {
			continue
		}
		f2.blocks[i] = &Block{id: b.id, name: b.name, fn: f2, instrs: slices.Clone(b.instrs)}
	}
	for i, us := range f.users {
		f2.users[i] = slices.Clone(us)
	}
	for n := range f.names {
		f2.names[n] = true
	}
	return f2
}

// Block is a straight-line sequence of instructions ending in a terminator.
type Block struct {
	id     BlockID
	name   string
	fn     *Function
	instrs []InstrID
}

func (b *Block) ID() BlockID     { return b.id }
func (b *Block) Name() string    { return b.name }
func (b *Block) Func() *Function { return b.fn }
func (b *Block) Len() int        { return len(b.instrs) }

// Instrs returns a snapshot of the block's instructions.
func (b *Block) Instrs() []*Instr {
	out := make([]*Instr, len(b.instrs))
	for i, id := range b.instrs {
		out[i] = b.fn.instrs[id]
	}
	return out
}

// InstrAt returns the i-th instruction of the block.
func (b *Block) InstrAt(i int) *Instr { return b.fn.instrs[b.instrs[i]] }

// Index returns the position of id within the block, or -1.
func (b *Block) Index(id InstrID) int { return slices.Index(b.instrs, id) }

// Terminator returns the block's terminator, or nil while it has none.
func (b *Block) Terminator() *Instr {
	if len(b.instrs) == 0 {
		return nil
	}
	last := b.fn.instrs[b.instrs[len(b.instrs)-1]]
	if !last.op.IsTerminator() {
		return nil
	}
	return last
}

// Succs returns the successor blocks in terminator order, with duplicates.
func (b *Block) Succs() []*Block {
	term := b.Terminator()
	if term == nil {
		return nil
	}
	out := make([]*Block, len(term.targets))
	for i, id := range term.targets {
		out[i] = b.fn.blocks[id]
	}
	return out
}

// Preds returns the distinct blocks whose terminator targets b, in layout order.
func (b *Block) Preds() []*Block {
	var out []*Block
	for _, id := range b.fn.layout {
		p := b.fn.blocks[id]
		if term := p.Terminator(); term != nil && slices.Contains(term.targets, b.id) {
			out = append(out, p)
		}
	}
	return out
}

func (b *Block) String() string { return b.name }
