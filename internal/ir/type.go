// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ir

import "fmt"

// Type is the type of a value. Integer types wrap modulo 2^Bits.
type Type uint8

const (
	Void Type = iota
	I1
	I8
	I16
	I32
	I64
	Ptr
)

// IntType returns the integer type with the given width.
func IntType(bits int) Type {
	switch bits {
	case 1:
		return I1
	case 8:
		return I8
	case 16:
		return I16
	case 32:
		return I32
	case 64:
		return I64
	}
	panic(fmt.Sprintf("ir: no integer type with %d bits", bits))
}

// Bits returns the width of an integer type, 64 for pointers and 0 for Void.
func (t Type) Bits() int {
	switch t {
	case I1:
		return 1
	case I8:
		return 8
	case I16:
		return 16
	case I32:
		return 32
	case I64, Ptr:
		return 64
	}
	return 0
}

func (t Type) IsInt() bool { return t >= I1 && t <= I64 }

// Mask returns the bits a value of type t may have set.
func (t Type) Mask() uint64 {
	bits := t.Bits()
	if bits >= 64 {
		return ^uint64(0)
	}
	return 1<<bits - 1
}

// SignExtend interprets the low bits of v as a signed integer of type t.
func (t Type) SignExtend(v uint64) int64 {
	shift := 64 - t.Bits()
	if shift <= 0 || shift >= 64 {
		return int64(v)
	}
	return int64(v<<shift) >> shift
}

func (t Type) String() string {
	switch t {
	case Void:
		return "void"
	case Ptr:
		return "ptr"
	}
	if t.IsInt() {
		return fmt.Sprintf("i%d", t.Bits())
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}
