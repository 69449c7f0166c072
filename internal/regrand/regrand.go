// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

// Package regrand renames short-lived general purpose registers in decoded
// x86-64 code.
//
// A code block is treated as the body of a leaf function: a register the
// block never mentions, explicitly or implicitly, holds nothing the block
// must preserve, unless it is callee-saved.
package regrand

import (
	"fmt"
	mathrand "math/rand"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/arch/x86/x86asm"
)

// Decode decodes a block of 64-bit code.
func Decode(code []byte) ([]x86asm.Inst, error) {
	var insts []x86asm.Inst
	for off := 0; off < len(code); {
		inst, err := x86asm.Decode(code[off:], 64)
		if err != nil {
			return nil, fmt.Errorf("offset %d: %w", off, err)
		}
		// Prefixes without a valid opcode decode as an instruction of
		// their own.
		if inst.Op == 0 {
			return nil, fmt.Errorf("offset %d: %w", off, undecodable(code[off:]))
		}
		insts = append(insts, inst)
		off += inst.Len
	}
	return insts, nil
}

// maxInstLen is the longest x86 instruction, in bytes.
const maxInstLen = 15

// undecodable tells a truncated instruction from an invalid one: only the
// former decodes once more bytes follow it.
func undecodable(code []byte) error {
	padded := append(code[:len(code):len(code)], make([]byte, maxInstLen)...)
	if inst, err := x86asm.Decode(padded, 64); err == nil && inst.Op != 0 && inst.Len > len(code) {
		return x86asm.ErrTruncated
	}
	return x86asm.ErrUnrecognized
}

// Format prints insts in Intel syntax, one per line, each prefixed by its
// offset.
func Format(insts []x86asm.Inst) string {
	var sb strings.Builder
	pc := 0
	for _, inst := range insts {
		fmt.Fprintf(&sb, "%4x: %s\n", pc, x86asm.IntelSyntax(inst, uint64(pc), nil))
		pc += inst.Len
	}
	return sb.String()
}

// gprs lists the 64-bit general purpose registers in encoding order, which
// is the order x86asm declares each register width in.
var gprs = [16]x86asm.Reg{
	x86asm.RAX, x86asm.RCX, x86asm.RDX, x86asm.RBX,
	x86asm.RSP, x86asm.RBP, x86asm.RSI, x86asm.RDI,
	x86asm.R8, x86asm.R9, x86asm.R10, x86asm.R11,
	x86asm.R12, x86asm.R13, x86asm.R14, x86asm.R15,
}

// callerSaved are the only registers a live range may be moved to.
// Callee-saved registers along with RSP and RBP are never candidates.
var callerSaved = []x86asm.Reg{
	x86asm.RAX, x86asm.RCX, x86asm.RDX, x86asm.RSI, x86asm.RDI,
	x86asm.R8, x86asm.R9, x86asm.R10, x86asm.R11,
}

type width uint8

const (
	byteLow width = iota
	byteHigh
	word
	dword
	qword
)

// family returns the 64-bit register r is part of, and which part it is.
func family(r x86asm.Reg) (x86asm.Reg, width, bool) {
	switch {
	case r >= x86asm.AL && r <= x86asm.BL:
		return gprs[r-x86asm.AL], byteLow, true
	case r >= x86asm.AH && r <= x86asm.BH:
		return gprs[r-x86asm.AH], byteHigh, true
	case r >= x86asm.SPB && r <= x86asm.R15B:
		return gprs[4+r-x86asm.SPB], byteLow, true
	case r >= x86asm.AX && r <= x86asm.R15W:
		return gprs[r-x86asm.AX], word, true
	case r >= x86asm.EAX && r <= x86asm.R15L:
		return gprs[r-x86asm.EAX], dword, true
	case r >= x86asm.RAX && r <= x86asm.R15:
		return gprs[r-x86asm.RAX], qword, true
	}
	return 0, 0, false
}

// sized returns the part w of the 64-bit register fam.
func sized(fam x86asm.Reg, w width) x86asm.Reg {
	n := fam - x86asm.RAX
	switch w {
	case byteLow:
		if n < 4 {
			return x86asm.AL + n
		}
		return x86asm.SPB + n - 4
	case word:
		return x86asm.AX + n
	case dword:
		return x86asm.EAX + n
	}
	return fam
}

// argRegs calls fn for every general purpose register arg names, the base
// and index of memory operands included.
func argRegs(arg x86asm.Arg, fn func(r x86asm.Reg)) {
	switch arg := arg.(type) {
	case x86asm.Reg:
		fn(arg)
	case x86asm.Mem:
		if arg.Base != 0 {
			fn(arg.Base)
		}
		if arg.Index != 0 {
			fn(arg.Index)
		}
	}
}

func regs(inst x86asm.Inst, fn func(r x86asm.Reg)) {
	for _, arg := range inst.Args {
		argRegs(arg, fn)
	}
}

// mentions reports whether any operand of inst after the first names part
// of fam.
func mentions(inst x86asm.Inst, fam x86asm.Reg) bool {
	found := false
	for _, arg := range inst.Args[1:] {
		argRegs(arg, func(r x86asm.Reg) {
			if f, _, ok := family(r); ok && f == fam {
				found = true
			}
		})
	}
	return found
}

func hasHighByte(inst x86asm.Inst) bool {
	high := false
	regs(inst, func(r x86asm.Reg) {
		if _, w, ok := family(r); ok && w == byteHigh {
			high = true
		}
	})
	return high
}

// plain are the operations whose register effects are exactly their
// explicit operands. PUSH and POP also touch RSP, which is never renamed.
var plain = map[x86asm.Op]bool{
	x86asm.MOV: true, x86asm.MOVZX: true, x86asm.MOVSX: true, x86asm.MOVSXD: true,
	x86asm.LEA: true, x86asm.ADD: true, x86asm.ADC: true, x86asm.SUB: true,
	x86asm.SBB: true, x86asm.AND: true, x86asm.OR: true, x86asm.XOR: true,
	x86asm.CMP: true, x86asm.TEST: true, x86asm.INC: true, x86asm.DEC: true,
	x86asm.NEG: true, x86asm.NOT: true, x86asm.SHL: true, x86asm.SHR: true,
	x86asm.SAR: true, x86asm.ROL: true, x86asm.ROR: true, x86asm.BSWAP: true,
	x86asm.XCHG: true, x86asm.NOP: true, x86asm.PUSH: true, x86asm.POP: true,

	x86asm.CMOVA: true, x86asm.CMOVAE: true, x86asm.CMOVB: true, x86asm.CMOVBE: true,
	x86asm.CMOVE: true, x86asm.CMOVG: true, x86asm.CMOVGE: true, x86asm.CMOVL: true,
	x86asm.CMOVLE: true, x86asm.CMOVNE: true, x86asm.CMOVNO: true, x86asm.CMOVNP: true,
	x86asm.CMOVNS: true, x86asm.CMOVO: true, x86asm.CMOVP: true, x86asm.CMOVS: true,

	x86asm.SETA: true, x86asm.SETAE: true, x86asm.SETB: true, x86asm.SETBE: true,
	x86asm.SETE: true, x86asm.SETG: true, x86asm.SETGE: true, x86asm.SETL: true,
	x86asm.SETLE: true, x86asm.SETNE: true, x86asm.SETNO: true, x86asm.SETNP: true,
	x86asm.SETNS: true, x86asm.SETO: true, x86asm.SETP: true, x86asm.SETS: true,
}

var (
	callABI    = []x86asm.Reg{x86asm.RDI, x86asm.RSI, x86asm.RDX, x86asm.RCX, x86asm.R8, x86asm.R9, x86asm.R10, x86asm.RAX}
	syscallABI = []x86asm.Reg{x86asm.RAX, x86asm.RDI, x86asm.RSI, x86asm.RDX, x86asm.R10, x86asm.R8, x86asm.R9, x86asm.RCX, x86asm.R11}
	raxRDX     = []x86asm.Reg{x86asm.RAX, x86asm.RDX}
	rcxOnly    = []x86asm.Reg{x86asm.RCX}
	raxOnly    = []x86asm.Reg{x86asm.RAX}
)

// implicit returns the registers inst reads or writes without naming them.
// all is true when they are unknown.
func implicit(inst x86asm.Inst) (imp []x86asm.Reg, all bool) {
	switch inst.Op {
	case x86asm.CALL:
		return callABI, false
	case x86asm.RET:
		return raxRDX, false
	case x86asm.SYSCALL:
		return syscallABI, false
	case x86asm.MUL, x86asm.DIV, x86asm.IDIV, x86asm.CQO, x86asm.CDQ, x86asm.CWD:
		return raxRDX, false
	case x86asm.IMUL:
		if inst.Args[1] == nil {
			return raxRDX, false
		}
		return nil, false
	case x86asm.CDQE, x86asm.CWDE, x86asm.CBW:
		return raxOnly, false
	case x86asm.LOOP, x86asm.LOOPE, x86asm.LOOPNE, x86asm.JCXZ, x86asm.JECXZ, x86asm.JRCXZ:
		return rcxOnly, false
	}
	if plain[inst.Op] || relTarget(inst) {
		return nil, false
	}
	return nil, true
}

func relTarget(inst x86asm.Inst) bool {
	_, ok := inst.Args[0].(x86asm.Rel)
	return ok
}

// transfersControl reports whether inst may continue anywhere but the next
// instruction.
func transfersControl(inst x86asm.Inst) bool {
	if relTarget(inst) {
		return true
	}
	switch inst.Op {
	case x86asm.JMP, x86asm.LJMP, x86asm.CALL, x86asm.LCALL, x86asm.RET, x86asm.LRET,
		x86asm.IRET, x86asm.IRETD, x86asm.IRETQ, x86asm.SYSCALL, x86asm.SYSENTER,
		x86asm.SYSEXIT, x86asm.SYSRET, x86asm.INT, x86asm.INTO, x86asm.UD2, x86asm.HLT:
		return true
	}
	return false
}

// Randomizer moves live ranges to randomly chosen free registers.
type Randomizer struct {
	Rand *mathrand.Rand
}

func (Randomizer) Name() string { return "regrand" }

// liveRange is the span of a value defined by insts[def] and overwritten by
// insts[kill], with every instruction in between reading or updating it.
type liveRange struct {
	reg       x86asm.Reg
	def, kill int
}

// Run renames, in place, the destination of each MOV r64, imm and
// LEA r64, mem whose value is overwritten later in the same straight line
// of code. It reports whether any instruction changed.
func (r Randomizer) Run(insts []x86asm.Inst) bool {
	used := make(map[x86asm.Reg]bool)
	targets := make(map[int]bool)
	offsets := make([]int, len(insts))
	pc := 0
	for i, inst := range insts {
		offsets[i] = pc
		pc += inst.Len
		regs(inst, func(reg x86asm.Reg) {
			if fam, _, ok := family(reg); ok {
				used[fam] = true
			}
		})
		// Indirect jumps land here too, as their targets are unknown.
		imp, all := implicit(inst)
		if all {
			Logger().Debug("unknown register use",
				zap.Stringer("op", inst.Op),
				zap.Int("offset", offsets[i]),
			)
			return false
		}
		for _, reg := range imp {
			used[reg] = true
		}
		if rel, ok := inst.Args[0].(x86asm.Rel); ok {
			targets[pc+int(rel)] = true
		}
	}

	changed := false
	for i := range insts {
		lr, ok := findRange(insts, offsets, targets, i)
		if !ok {
			continue
		}
		// Every register the block touches is ruled out before drawing,
		// including the ones earlier renames moved to.
		var cands []x86asm.Reg
		for _, reg := range callerSaved {
			if !used[reg] && reg != lr.reg {
				cands = append(cands, reg)
			}
		}
		if len(cands) == 0 {
			continue
		}
		to := cands[r.Rand.Intn(len(cands))]
		for j := lr.def; j < lr.kill; j++ {
			rename(&insts[j], lr.reg, to)
		}
		used[to] = true
		changed = true
		Logger().Debug("renamed live range",
			zap.Stringer("from", lr.reg),
			zap.Stringer("to", to),
			zap.Int("def", offsets[lr.def]),
			zap.Int("kill", offsets[lr.kill]),
		)
	}
	return changed
}

// findRange returns the live range defined by insts[def], if it is one we
// can rename.
func findRange(insts []x86asm.Inst, offsets []int, targets map[int]bool, def int) (liveRange, bool) {
	inst := insts[def]
	if inst.Op != x86asm.MOV && inst.Op != x86asm.LEA {
		return liveRange{}, false
	}
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return liveRange{}, false
	}
	fam, w, ok := family(dst)
	if !ok || w != qword || fam == x86asm.RSP || fam == x86asm.RBP {
		return liveRange{}, false
	}
	switch inst.Args[1].(type) {
	case x86asm.Imm:
		if inst.Op != x86asm.MOV {
			return liveRange{}, false
		}
	case x86asm.Mem:
		if inst.Op != x86asm.LEA || mentions(inst, fam) {
			return liveRange{}, false
		}
	default:
		return liveRange{}, false
	}

	for j := def + 1; j < len(insts); j++ {
		next := insts[j]
		if kills(next, fam) {
			return liveRange{reg: fam, def: def, kill: j}, true
		}
		if transfersControl(next) || targets[offsets[j]] || hasHighByte(next) {
			return liveRange{}, false
		}
		imp, _ := implicit(next)
		for _, reg := range imp {
			if reg == fam {
				return liveRange{}, false
			}
		}
	}
	// Still live at the end of the block.
	return liveRange{}, false
}

// kills reports whether inst overwrites all of fam without reading it.
func kills(inst x86asm.Inst, fam x86asm.Reg) bool {
	switch inst.Op {
	case x86asm.MOV, x86asm.LEA, x86asm.MOVZX, x86asm.MOVSXD:
	default:
		return false
	}
	dst, ok := inst.Args[0].(x86asm.Reg)
	if !ok {
		return false
	}
	f, w, ok := family(dst)
	if !ok || f != fam || (w != qword && w != dword) {
		return false
	}
	return !mentions(inst, fam)
}

func rename(inst *x86asm.Inst, from, to x86asm.Reg) {
	swap := func(r x86asm.Reg) x86asm.Reg {
		if f, w, ok := family(r); ok && f == from {
			return sized(to, w)
		}
		return r
	}
	for i, arg := range inst.Args {
		switch arg := arg.(type) {
		case x86asm.Reg:
			inst.Args[i] = swap(arg)
		case x86asm.Mem:
			if arg.Base != 0 {
				arg.Base = swap(arg.Base)
			}
			if arg.Index != 0 {
				arg.Index = swap(arg.Index)
			}
			inst.Args[i] = arg
		}
	}
}
