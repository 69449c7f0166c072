// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ctrlflow

import (
	mathrand "math/rand"

	"mvdan.cc/irgarble/internal/ir"
)

// stateEncoder turns state identifiers into the values written to the
// state slot. Without hardening it is the identity.
//
// With hardening, the code only carries literals of the form id^k for a
// random nonzero k. The key k itself is rebuilt in the entry block from two
// constants, and every store xors the literal with it. The value stored is
// the plain identifier, but no literal equals the identifier it stands for.
type stateEncoder struct {
	key  ir.Value // invalid without hardening
	mask uint64
}

func (fl Flattener) newEncoder(entry *ir.Block) stateEncoder {
	if !fl.Hardening {
		return stateEncoder{}
	}
	rnd := randOrDefault(fl.Rand)
	mask := nonZeroKey(rnd)
	first := uint64(rnd.Uint32())
	key := ir.NewBuilder(entry).Xor(
		ir.ConstBits(ir.I32, first),
		ir.ConstBits(ir.I32, first^mask),
		"stateKey",
	)
	return stateEncoder{key: key, mask: mask}
}

// literal returns the constant standing for the identifier id.
func (e stateEncoder) literal(id uint64) ir.Value {
	return ir.ConstBits(ir.I32, id^e.mask)
}

// unmask turns a literal, or a value chosen among literals, into the
// identifier it stands for.
func (e stateEncoder) unmask(b *ir.Builder, v ir.Value) ir.Value {
	if !e.key.IsValid() {
		return v
	}
	return b.Xor(v, e.key, "state.next")
}

// nonZeroKey draws a random nonzero 31-bit key. A zero key would leave
// every identifier unchanged.
func nonZeroKey(rnd *mathrand.Rand) uint64 {
	for {
		if key := uint64(rnd.Int31()); key != 0 {
			return key
		}
	}
}
