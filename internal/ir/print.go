// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ir

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Fprint writes a textual form of the module. The format is meant for
// diagnostics and tests, and there is no parser for it.
func (m *Module) Fprint(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, f := range m.funcs {
		if i > 0 {
			bw.WriteByte('\n')
		}
		f.print(bw)
	}
	return bw.Flush()
}

func (m *Module) String() string {
	var sb strings.Builder
	m.Fprint(&sb)
	return sb.String()
}

func (f *Function) Fprint(w io.Writer) error {
	bw := bufio.NewWriter(w)
	f.print(bw)
	return bw.Flush()
}

func (f *Function) String() string {
	var sb strings.Builder
	f.Fprint(&sb)
	return sb.String()
}

func (f *Function) print(w *bufio.Writer) {
	if f.decl {
		w.WriteString("declare ")
	}
	fmt.Fprintf(w, "func @%s(", f.name)
	for i, p := range f.params {
		if i > 0 {
			w.WriteString(", ")
		}
		fmt.Fprintf(w, "%s %s", f.valueName(f.Param(i)), p.Type)
	}
	fmt.Fprintf(w, ") %s", f.result)
	if f.decl {
		w.WriteByte('\n')
		return
	}
	w.WriteString(" {\n")
	for _, id := range f.layout {
		b := f.blocks[id]
		fmt.Fprintf(w, "%s:\n", b.name)
		for _, iid := range b.instrs {
			w.WriteString("  ")
			w.WriteString(f.FormatInstr(iid))
			w.WriteByte('\n')
		}
	}
	w.WriteString("}\n")
}

func (f *Function) valueName(v Value) string {
	switch v.Kind {
	case ParamValue:
		if name := f.params[v.Param].Name; name != "" {
			return "%" + name
		}
	case InstrValue:
		if name := f.instrs[v.Instr].name; name != "" {
			return "%" + name
		}
	}
	return v.String()
}

func (f *Function) operand(v Value) string {
	return v.Type.String() + " " + f.valueName(v)
}

func (f *Function) label(id BlockID) string {
	return "label %" + f.blocks[id].name
}

// FormatInstr returns the textual form of a single instruction.
func (f *Function) FormatInstr(id InstrID) string {
	in := f.Instr(id)
	var sb strings.Builder
	if in.typ != Void {
		sb.WriteString(f.valueName(in.Value()))
		sb.WriteString(" = ")
	}
	sb.WriteString(in.op.String())
	a := in.args
	switch op := in.op; {
	case op.IsBinary():
		fmt.Fprintf(&sb, " %s, %s", f.operand(a[0]), f.valueName(a[1]))
		if a[1].Type != a[0].Type {
			sb.WriteString(" (" + a[1].Type.String() + ")")
		}
	case op == OpICmp:
		fmt.Fprintf(&sb, " %s %s, %s", in.pred, f.operand(a[0]), f.valueName(a[1]))
	case op == OpSelect:
		fmt.Fprintf(&sb, " %s, %s, %s", f.operand(a[0]), f.operand(a[1]), f.operand(a[2]))
	case op.IsCast():
		fmt.Fprintf(&sb, " %s to %s", f.operand(a[0]), in.typ)
	case op == OpAlloca:
		fmt.Fprintf(&sb, " %s", in.elem)
	case op == OpLoad:
		fmt.Fprintf(&sb, " %s, %s", in.typ, f.operand(a[0]))
	case op == OpStore:
		fmt.Fprintf(&sb, " %s, %s", f.operand(a[0]), f.operand(a[1]))
	case op == OpCall:
		fmt.Fprintf(&sb, " %s @%s(", in.typ, in.callee)
		for i, arg := range a {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.operand(arg))
		}
		sb.WriteByte(')')
	case op == OpPhi:
		sb.WriteString(" " + in.typ.String())
		for i, arg := range a {
			if i > 0 {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, " [ %s, %%%s ]", f.valueName(arg), f.blocks[in.incoming[i]].name)
		}
	case op == OpRet:
		if len(a) == 0 {
			sb.WriteString(" void")
		} else {
			sb.WriteString(" " + f.operand(a[0]))
		}
	case op == OpBr:
		sb.WriteString(" " + f.label(in.targets[0]))
	case op == OpCondBr:
		fmt.Fprintf(&sb, " %s, %s, %s", f.operand(a[0]), f.label(in.targets[0]), f.label(in.targets[1]))
	case op == OpSwitch:
		fmt.Fprintf(&sb, " %s, %s [", f.operand(a[0]), f.label(in.targets[0]))
		for i, c := range in.cases {
			sb.WriteString(" " + strconv.FormatInt(a[0].Type.SignExtend(c), 10) + ": " + f.label(in.targets[i+1]))
			if i < len(in.cases)-1 {
				sb.WriteByte(',')
			}
		}
		sb.WriteString(" ]")
	}
	return sb.String()
}
