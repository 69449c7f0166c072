// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ir

import (
	"errors"
	"fmt"
)

// Verify checks that f is well-formed: every block ends in exactly one
// terminator, phis only appear at block heads, branches target blocks of f,
// operands refer to live instructions with matching types, and every use
// is dominated by its definition. All problems found are returned joined.
func Verify(f *Function) error {
	if f.decl {
		if len(f.layout) > 0 {
			return fmt.Errorf("%s: declaration with a body", f.name)
		}
		return nil
	}
	if len(f.layout) == 0 {
		return fmt.Errorf("%s: definition without blocks", f.name)
	}
	v := &verifier{f: f}
	v.structure()
	if len(v.errs) == 0 {
		v.dominance()
	}
	return errors.Join(v.errs...)
}

type verifier struct {
	f    *Function
	errs []error
}

func (v *verifier) errorf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf("%s: %s", v.f.name, fmt.Sprintf(format, args...)))
}

func (v *verifier) structure() {
	f := v.f
	inLayout := make(map[BlockID]bool, len(f.layout))
	for _, id := range f.layout {
		if inLayout[id] {
			v.errorf("block %s appears twice in the layout", f.blocks[id].name)
		}
		inLayout[id] = true
	}
	for _, id := range f.layout {
		b := f.blocks[id]
		if len(b.instrs) == 0 {
			v.errorf("block %s is empty", b.name)
			continue
		}
		headPhis := true
		for i, iid := range b.instrs {
			in := f.instrs[iid]
			if in.erased {
				v.errorf("block %s holds erased instruction %%%d", b.name, iid)
				continue
			}
			if in.block != b.id {
				v.errorf("%%%d is in block %s but records block %d", iid, b.name, in.block)
			}
			last := i == len(b.instrs)-1
			switch {
			case in.op.IsTerminator() && !last:
				v.errorf("block %s has %s before its end", b.name, in.op)
			case !in.op.IsTerminator() && last:
				v.errorf("block %s does not end in a terminator", b.name)
			}
			if in.op == OpPhi {
				if !headPhis {
					v.errorf("phi %%%d in block %s follows a non-phi", iid, b.name)
				}
			} else {
				headPhis = false
			}
			for _, t := range in.targets {
				if t <= NoBlock || int(t) >= len(f.blocks) || !inLayout[t] {
					v.errorf("%s in block %s targets unknown block %d", in.op, b.name, t)
				}
			}
			for _, p := range in.incoming {
				if p <= NoBlock || int(p) >= len(f.blocks) || !inLayout[p] {
					v.errorf("phi %%%d flows in from unknown block %d", iid, p)
				}
			}
			v.operands(in)
		}
	}
}

func (v *verifier) operands(in *Instr) {
	f := v.f
	for i, a := range in.args {
		switch a.Kind {
		case InstrValue:
			if !f.IsLive(a.Instr) {
				v.errorf("%%%d uses dead value %s", in.id, a)
				continue
			}
			if def := f.instrs[a.Instr]; def.typ != a.Type {
				v.errorf("%%%d uses %s as %s but it is %s", in.id, a, a.Type, def.typ)
			}
		case ParamValue:
			if a.Param < 0 || a.Param >= len(f.params) || f.params[a.Param].Type != a.Type {
				v.errorf("%%%d uses bad parameter %s", in.id, a)
			}
		case ConstValue:
		default:
			v.errorf("%%%d has invalid operand %d", in.id, i)
		}
	}
	want := func(n int) bool {
		if len(in.args) != n {
			v.errorf("%s %%%d has %d operands, want %d", in.op, in.id, len(in.args), n)
			return false
		}
		return true
	}
	switch op := in.op; {
	case op.IsBinary():
		if want(2) && in.args[0].Type != in.typ {
			v.errorf("%s %%%d of %s on %s", op, in.id, in.typ, in.args[0].Type)
		}
		if len(in.args) == 2 && !op.IsShift() && in.args[1].Type != in.typ {
			v.errorf("%s %%%d of %s on %s", op, in.id, in.typ, in.args[1].Type)
		}
	case op == OpICmp:
		if want(2) && in.args[0].Type != in.args[1].Type {
			v.errorf("icmp %%%d compares %s with %s", in.id, in.args[0].Type, in.args[1].Type)
		}
	case op == OpSelect:
		if want(3) && (in.args[0].Type != I1 || in.args[1].Type != in.typ || in.args[2].Type != in.typ) {
			v.errorf("select %%%d has mismatched operand types", in.id)
		}
	case op == OpLoad:
		if want(1) && in.args[0].Type != Ptr {
			v.errorf("load %%%d from %s", in.id, in.args[0].Type)
		}
	case op == OpStore:
		if want(2) && in.args[1].Type != Ptr {
			v.errorf("store %%%d to %s", in.id, in.args[1].Type)
		}
	case op == OpPhi:
		if len(in.args) != len(in.incoming) {
			v.errorf("phi %%%d has %d values for %d edges", in.id, len(in.args), len(in.incoming))
		}
	case op == OpRet:
		switch {
		case f.result == Void && len(in.args) != 0:
			v.errorf("ret with a value in void function")
		case f.result != Void && (len(in.args) != 1 || in.args[0].Type != f.result):
			v.errorf("ret does not return %s", f.result)
		}
	case op == OpCondBr:
		if want(1) && len(in.targets) != 2 {
			v.errorf("condbr %%%d has %d targets", in.id, len(in.targets))
		}
	case op == OpSwitch:
		if want(1) && len(in.targets) != len(in.cases)+1 {
			v.errorf("switch %%%d has %d targets for %d cases", in.id, len(in.targets), len(in.cases))
		}
		seen := make(map[uint64]bool, len(in.cases))
		for _, c := range in.cases {
			if seen[c] {
				v.errorf("switch %%%d repeats case %d", in.id, c)
			}
			seen[c] = true
		}
	}
}

func (v *verifier) dominance() {
	f := v.f
	dom := newDomTree(f)
	for _, id := range f.layout {
		b := f.blocks[id]
		if !dom.reachable(b.id) {
			continue
		}
		for i, iid := range b.instrs {
			in := f.instrs[iid]
			for k, a := range in.args {
				if a.Kind != InstrValue {
					continue
				}
				def := f.instrs[a.Instr]
				if in.op == OpPhi {
					from := in.incoming[k]
					if dom.reachable(from) && !dom.dominates(def.block, from) {
						v.errorf("phi %%%d: %s does not dominate the edge from %s", iid, a, f.blocks[from].name)
					}
					continue
				}
				switch {
				case def.block == b.id:
					if b.Index(a.Instr) >= i {
						v.errorf("%%%d uses %s before its definition", iid, a)
					}
				case !dom.dominates(def.block, b.id):
					v.errorf("%%%d in %s uses %s from %s, which does not dominate it", iid, b.name, a, f.blocks[def.block].name)
				}
			}
		}
	}
}
