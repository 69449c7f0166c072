// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ctrlflow

import (
	mathrand "math/rand"

	"go.uber.org/zap"

	"mvdan.cc/irgarble/internal/ir"
)

// JunkJumps inserts blocks that only jump onwards on random edges of the
// control flow graph. Junk blocks may be chained. On their own they change
// nothing, but once flattened each one becomes another dispatcher state.
type JunkJumps struct {
	Count int
	Rand  *mathrand.Rand
}

func (JunkJumps) Name() string { return "junk" }

func (j JunkJumps) Run(f *ir.Function) bool {
	if f.IsDeclaration() || j.Count == 0 {
		return false
	}
	rnd := randOrDefault(j.Rand)

	var candidates []*ir.Block
	for _, block := range f.Blocks() {
		if term := block.Terminator(); term != nil && len(term.Targets()) > 0 {
			candidates = append(candidates, block)
		}
	}
	if len(candidates) == 0 {
		return false
	}

	added := 0
	for i := 0; i < j.Count; i++ {
		block := candidates[rnd.Intn(len(candidates))]
		term := block.Terminator()
		idx := rnd.Intn(len(term.Targets()))
		succ := f.Block(term.Targets()[idx])
		// Phis name their incoming blocks, so edges into them stay direct.
		if hasPhi(succ) {
			continue
		}

		fake := f.NewBlock("fake")
		f.SetTerminator(fake, ir.Br(succ))
		f.SetTarget(term.ID(), idx, fake)
		candidates = append(candidates, fake)
		added++
	}
	if added > 0 {
		Logger().Debug("added junk jumps", zap.String("func", f.Name()), zap.Int("count", added))
	}
	return added > 0
}
