// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

// Package ctrlflow obfuscates the control flow of IR functions.
//
// The main transform is flattening: every block of a function becomes a
// case of a single dispatcher, and blocks hand over control by storing the
// identifier of the next block in a state slot. Block splitting, junk
// jumps and trash instructions add more blocks and noise for the
// dispatcher to hide.
package ctrlflow

import (
	mathrand "math/rand"

	"mvdan.cc/irgarble/internal/ir"
)

const (
	// minFlattenBlocks is the smallest function worth flattening.
	minFlattenBlocks = 3

	// minSplitInstrs is the smallest block worth splitting:
	// 1 exit instruction + 2 any instructions
	minSplitInstrs = 3

	// fixedSeed drives transforms that were not given a random source.
	fixedSeed = 1
)

func randOrDefault(rnd *mathrand.Rand) *mathrand.Rand {
	if rnd != nil {
		return rnd
	}
	return mathrand.New(mathrand.NewSource(fixedSeed))
}

func hasPhi(b *ir.Block) bool {
	return b.Len() > 0 && b.InstrAt(0).Op() == ir.OpPhi
}

// leadingAllocas counts the allocas at the head of b.
func leadingAllocas(b *ir.Block) int {
	n := 0
	for n < b.Len() && b.InstrAt(n).Op() == ir.OpAlloca {
		n++
	}
	return n
}
