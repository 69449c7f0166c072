// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ctrlflow

import (
	mathrand "math/rand"

	"go.uber.org/zap"

	"mvdan.cc/irgarble/internal/ir"
)

// Splitter cuts blocks in two at a random point. The head ends in a
// conditional branch on a constant, leading to the tail either directly or
// through a dummy block that only jumps to the tail, so both paths run the
// same instructions.
type Splitter struct {
	// Probability is the chance, in percent, that an eligible block is split.
	Probability int

	// Trash is the number of dead instructions placed in each dummy block.
	Trash int

	Rand *mathrand.Rand
}

func (Splitter) Name() string { return "split" }

// Run splits the blocks of f with at least three instructions and no phi.
// A function with any block split is marked as not to be inlined.
func (s Splitter) Run(f *ir.Function) bool {
	if f.IsDeclaration() {
		return false
	}
	rnd := randOrDefault(s.Rand)

	var worklist []*ir.Block
	for _, block := range f.Blocks() {
		if block.Len() >= minSplitInstrs && !hasPhi(block) {
			worklist = append(worklist, block)
		}
	}

	split := 0
	for _, block := range worklist {
		if rnd.Intn(100) >= s.Probability {
			continue
		}
		// Allocas stay at the head of the block, and the tail keeps at
		// least one instruction besides the terminator.
		lo, hi := max(1, leadingAllocas(block)), block.Len()-2
		if lo > hi {
			continue
		}
		at := block.InstrAt(lo + rnd.Intn(hi-lo+1))
		tail := f.SplitBlock(block, at.ID(), block.Name()+".split")
		dummy := f.CreateBlock(block.Name()+".dummy", block)
		if s.Trash > 0 {
			trash := newTrashGenerator(rnd)
			trash.Generate(ir.NewBuilder(dummy), s.Trash, availableValues(block))
		}
		f.SetTerminator(dummy, ir.Br(tail))
		f.SetTerminator(block, ir.CondBr(ir.Bool(rnd.Intn(2) == 0), tail, dummy))
		split++
	}

	if split > 0 {
		f.SetFlag(ir.FlagNoInline)
		Logger().Debug("split blocks",
			zap.String("func", f.Name()),
			zap.Int("candidates", len(worklist)),
			zap.Int("split", split),
		)
	}
	return split > 0
}
