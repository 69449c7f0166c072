// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ir

import "strconv"

// InstrID is a stable handle to an instruction within its function's arena.
type InstrID int32

// BlockID is a stable handle to a basic block within its function.
type BlockID int32

// Zero handles are never allocated.
const (
	NoInstr InstrID = 0
	NoBlock BlockID = 0
)

type ValueKind uint8

const (
	InvalidValue ValueKind = iota
	InstrValue
	ConstValue
	ParamValue
)

// Value is an operand: an instruction result, an integer constant or a
// function parameter. Values are comparable, so two operands refer to the
// same value exactly when they are equal.
type Value struct {
	Kind ValueKind
	Type Type

	// Instr is set for InstrValue.
	Instr InstrID
	// Param is the parameter index for ParamValue.
	Param int
	// Bits holds a constant, truncated to the width of Type.
	Bits uint64
}

// Const returns an integer constant of type t, wrapped to its width.
func Const(t Type, v int64) Value {
	return Value{Kind: ConstValue, Type: t, Bits: uint64(v) & t.Mask()}
}

// ConstBits returns a constant with the given raw bit pattern.
func ConstBits(t Type, bits uint64) Value {
	return Value{Kind: ConstValue, Type: t, Bits: bits & t.Mask()}
}

// Bool returns an i1 constant.
func Bool(b bool) Value {
	if b {
		return Const(I1, 1)
	}
	return Const(I1, 0)
}

// AllOnes returns the constant with every bit of t set, i.e. -1.
func AllOnes(t Type) Value { return ConstBits(t, ^uint64(0)) }

func (v Value) IsValid() bool { return v.Kind != InvalidValue }
func (v Value) IsConst() bool { return v.Kind == ConstValue }

// Int returns a constant's value sign-extended from its width.
func (v Value) Int() int64 { return v.Type.SignExtend(v.Bits) }

func (v Value) String() string {
	switch v.Kind {
	case ConstValue:
		if v.Type == I1 {
			return strconv.FormatBool(v.Bits != 0)
		}
		return strconv.FormatInt(v.Int(), 10)
	case ParamValue:
		return "%arg" + strconv.Itoa(v.Param)
	case InstrValue:
		return "%" + strconv.Itoa(int(v.Instr))
	}
	return "<invalid>"
}
