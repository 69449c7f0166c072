// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ctrlflow

import (
	"strconv"

	"mvdan.cc/irgarble/internal/ir"
)

// demoteCrossBlockValues moves every value defined outside the entry block
// and used in another block through a stack slot allocated in the entry
// block. The value is stored right after its definition and reloaded right
// before each use in another block.
//
// Once flattened, blocks only meet through the dispatcher, so a definition
// no longer dominates uses in other blocks. The entry block still dominates
// every block, which keeps the slots valid.
//
// Allocas are left alone, as they are hoisted into the entry block.
func demoteCrossBlockValues(f *ir.Function) int {
	entry := f.Entry()
	demoted := 0
	for _, b := range f.Blocks()[1:] {
		for _, in := range b.Instrs() {
			if in.Type() == ir.Void || in.Op() == ir.OpAlloca {
				continue
			}
			var outside []ir.InstrID
			for _, u := range f.Users(in.ID()) {
				if f.Instr(u).Block() != b.ID() {
					outside = append(outside, u)
				}
			}
			if len(outside) == 0 {
				continue
			}

			name := in.Name()
			if name == "" {
				name = "v" + strconv.Itoa(int(in.ID()))
			}
			val := in.Value()
			slot := ir.NewBuilderBefore(f, entry.InstrAt(0).ID()).Alloca(val.Type, name+".slot")
			next := b.InstrAt(b.Index(in.ID()) + 1)
			ir.NewBuilderBefore(f, next.ID()).Store(val, slot)

			for _, u := range outside {
				reload := ir.NewBuilderBefore(f, u).Load(val.Type, slot, name+".reload")
				user := f.Instr(u)
				for i := 0; i < user.NumArgs(); i++ {
					if user.Arg(i) == val {
						f.SetArg(u, i, reload)
					}
				}
			}
			demoted++
		}
	}
	return demoted
}
