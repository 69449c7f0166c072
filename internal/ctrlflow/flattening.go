// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ctrlflow

import (
	"errors"
	"fmt"
	mathrand "math/rand"

	"go.uber.org/zap"

	"mvdan.cc/irgarble/internal/ir"
)

var (
	errDeclaration = errors.New("function is a declaration")
	errFlattened   = errors.New("function is already flattened")
	errPhi         = errors.New("function contains phi nodes")
	errEntryPreds  = errors.New("entry block has predecessors")
)

// Flattener replaces the control flow graph of a function with a single
// dispatcher. The entry block initializes a state slot and jumps to the
// dispatcher, which loads the slot and switches to the block it names;
// every block ending in a branch stores the identifier of its successor
// and jumps back to the dispatcher.
//
// Functions are flattened at most once. Running the flattener again on its
// own output does nothing and reports false.
type Flattener struct {
	// Rand, if set, draws the state identifiers as a random permutation of
	// 1..n. Otherwise blocks are numbered from 1 in layout order.
	Rand *mathrand.Rand

	// Hardening stores every state identifier xored with a key that is
	// only computed at run time, so stored constants never match the
	// identifiers they stand for.
	Hardening bool
}

func (Flattener) Name() string { return "flatten" }

// CanFlatten returns nil if f is eligible for flattening, or the reason it
// is not.
func CanFlatten(f *ir.Function) error {
	switch {
	case f.IsDeclaration():
		return errDeclaration
	case f.HasFlag(ir.FlagFlattened):
		return errFlattened
	case f.NumBlocks() < minFlattenBlocks:
		return fmt.Errorf("function has %d blocks, need at least %d", f.NumBlocks(), minFlattenBlocks)
	case f.HasPhi():
		return errPhi
	case len(f.Entry().Preds()) > 0:
		return errEntryPreds
	}
	return nil
}

func (fl Flattener) Run(f *ir.Function) bool {
	if err := CanFlatten(f); err != nil {
		Logger().Debug("skipping flattening", zap.String("func", f.Name()), zap.Error(err))
		return false
	}

	entry := f.Entry()
	if term := entry.Terminator(); len(term.Targets()) != 1 {
		f.SplitBlock(entry, term.ID(), "entry.split")
	}
	hoistAllocas(f)
	demoted := demoteCrossBlockValues(f)

	blocks := f.Blocks()[1:]
	ids := fl.stateIDs(len(blocks))
	idOf := make(map[ir.BlockID]uint64, len(blocks))
	for i, b := range blocks {
		idOf[b.ID()] = ids[i]
	}

	dispatcher := f.CreateBlock("dispatcher", entry)
	defaultCase := f.NewBlock("defaultCase")
	f.SetTerminator(defaultCase, ir.Unreachable())

	state := ir.NewBuilderBefore(f, entry.InstrAt(0).ID()).Alloca(ir.I32, "state")
	enc := fl.newEncoder(entry)

	// The entry block starts the dispatch loop at its only successor.
	first := entry.Terminator().Targets()[0]
	b := ir.NewBuilder(entry)
	b.Store(enc.unmask(b, enc.literal(idOf[first])), state)
	f.SetTerminator(entry, ir.Br(dispatcher))

	loaded := ir.NewBuilder(dispatcher).Load(ir.I32, state, "loadedState")
	cases := make([]ir.SwitchCase, len(blocks))
	for i, block := range blocks {
		cases[i] = ir.SwitchCase{Value: idOf[block.ID()], Target: block}
	}
	f.SetTerminator(dispatcher, ir.Switch(loaded, defaultCase, cases...))

	for _, block := range blocks {
		term := block.Terminator()
		b := ir.NewBuilder(block)
		switch term.Op() {
		case ir.OpBr:
			next := enc.literal(idOf[term.Targets()[0]])
			b.Store(enc.unmask(b, next), state)
		case ir.OpCondBr:
			t := enc.literal(idOf[term.Targets()[0]])
			e := enc.literal(idOf[term.Targets()[1]])
			next := b.Select(term.Arg(0), t, e, "nextState")
			b.Store(enc.unmask(b, next), state)
		default:
			// ret and unreachable leave the function, and a switch keeps
			// its direct edges.
			continue
		}
		f.SetTerminator(block, ir.Br(dispatcher))
	}

	f.SetFlag(ir.FlagFlattened)
	Logger().Debug("flattened",
		zap.String("func", f.Name()),
		zap.Int("states", len(blocks)),
		zap.Int("demoted", demoted),
		zap.Bool("hardened", fl.Hardening),
	)
	return true
}

func (fl Flattener) stateIDs(n int) []uint64 {
	ids := make([]uint64, n)
	if fl.Rand == nil {
		for i := range ids {
			ids[i] = uint64(i + 1)
		}
		return ids
	}
	for i, p := range fl.Rand.Perm(n) {
		ids[i] = uint64(p + 1)
	}
	return ids
}

// hoistAllocas moves every alloca outside the entry block right after the
// allocas leading the entry block, keeping their relative order.
func hoistAllocas(f *ir.Function) {
	entry := f.Entry()
	var allocas []ir.InstrID
	for _, b := range f.Blocks()[1:] {
		for _, in := range b.Instrs() {
			if in.Op() == ir.OpAlloca {
				allocas = append(allocas, in.ID())
			}
		}
	}
	if len(allocas) == 0 {
		return
	}
	pos := entry.InstrAt(leadingAllocas(entry)).ID()
	for _, id := range allocas {
		f.MoveBefore(id, pos)
	}
}
