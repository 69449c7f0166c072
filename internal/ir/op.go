// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ir

import "fmt"

type Op uint8

const (
	OpInvalid Op = iota

	OpAdd
	OpSub
	OpMul
	OpSDiv
	OpUDiv
	OpSRem
	OpURem
	OpAnd
	OpOr
	OpXor
	OpShl
	OpLShr
	OpAShr

	OpICmp
	OpSelect

	OpTrunc
	OpZExt
	OpSExt

	OpAlloca
	OpLoad
	OpStore

	OpCall
	OpPhi

	// Terminators must stay last.
	OpRet
	OpUnreachable
	OpBr
	OpCondBr
	OpSwitch
)

var opNames = [...]string{
	OpInvalid:     "invalid",
	OpAdd:         "add",
	OpSub:         "sub",
	OpMul:         "mul",
	OpSDiv:        "sdiv",
	OpUDiv:        "udiv",
	OpSRem:        "srem",
	OpURem:        "urem",
	OpAnd:         "and",
	OpOr:          "or",
	OpXor:         "xor",
	OpShl:         "shl",
	OpLShr:        "lshr",
	OpAShr:        "ashr",
	OpICmp:        "icmp",
	OpSelect:      "select",
	OpTrunc:       "trunc",
	OpZExt:        "zext",
	OpSExt:        "sext",
	OpAlloca:      "alloca",
	OpLoad:        "load",
	OpStore:       "store",
	OpCall:        "call",
	OpPhi:         "phi",
	OpRet:         "ret",
	OpUnreachable: "unreachable",
	OpBr:          "br",
	OpCondBr:      "condbr",
	OpSwitch:      "switch",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("op(%d)", uint8(op))
}

func (op Op) IsBinary() bool     { return op >= OpAdd && op <= OpAShr }
func (op Op) IsShift() bool      { return op >= OpShl && op <= OpAShr }
func (op Op) IsCast() bool       { return op >= OpTrunc && op <= OpSExt }
func (op Op) IsTerminator() bool { return op >= OpRet && op <= OpSwitch }

// Predicate is the comparison performed by an icmp instruction.
type Predicate uint8

const (
	PredInvalid Predicate = iota
	PredEQ
	PredNE
	PredSLT
	PredSLE
	PredSGT
	PredSGE
	PredULT
	PredULE
	PredUGT
	PredUGE
)

var predNames = [...]string{
	PredInvalid: "invalid",
	PredEQ:      "eq",
	PredNE:      "ne",
	PredSLT:     "slt",
	PredSLE:     "sle",
	PredSGT:     "sgt",
	PredSGE:     "sge",
	PredULT:     "ult",
	PredULE:     "ule",
	PredUGT:     "ugt",
	PredUGE:     "uge",
}

func (p Predicate) String() string {
	if int(p) < len(predNames) {
		return predNames[p]
	}
	return fmt.Sprintf("pred(%d)", uint8(p))
}
