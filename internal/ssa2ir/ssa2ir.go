// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

// Package ssa2ir lowers the integer subset of Go functions in SSA form into
// IR modules.
//
// Only booleans and sized integers are supported, with int, uint and
// uintptr taken to be 64 bits wide. Local variables become stack slots;
// print and println become calls to host declarations named after the
// builtin and the types of its arguments, such as "println.i32.i1", and a
// panic becomes a call to the host declaration "panic" followed by
// unreachable.
package ssa2ir

import (
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/tools/go/ssa"

	"mvdan.cc/irgarble/internal/ir"
)

var UnsupportedErr = errors.New("unsupported")

const directiveName = "//irgarble:obfuscate"

// Result is a package lowered into IR.
type Result struct {
	Module *ir.Module

	// Skipped holds the reason why a function could not be lowered.
	// Functions with an unsupported signature are left out of the module,
	// and functions with an unsupported body are kept as declarations.
	Skipped map[string]error

	// Directives holds the parameters following a //irgarble:obfuscate
	// comment on a function, such as "iterations=2 split_probability=50".
	Directives map[string]string
}

type signature struct {
	params []ir.Param
	result ir.Type
}

type converter struct {
	sigs map[*ssa.Function]signature
	host map[string]*ir.Function
}

// Convert lowers every package-level function of pkg, sorted by name. The
// host declarations the functions call come last.
func Convert(pkg *ssa.Package) (*Result, error) {
	res := &Result{
		Module:     ir.NewModule(pkg.Pkg.Path()),
		Skipped:    make(map[string]error),
		Directives: make(map[string]string),
	}

	var funcs []*ssa.Function
	for _, member := range pkg.Members {
		if fn, ok := member.(*ssa.Function); ok && fn.Synthetic == "" {
			funcs = append(funcs, fn)
		}
	}
	slices.SortFunc(funcs, func(a, b *ssa.Function) int {
		return strings.Compare(a.Name(), b.Name())
	})

	c := &converter{
		sigs: make(map[*ssa.Function]signature),
		host: make(map[string]*ir.Function),
	}
	for _, fn := range funcs {
		if params, ok := directive(fn); ok {
			res.Directives[fn.Name()] = params
		}
		sig, err := convertSignature(fn.Signature)
		if err != nil {
			res.Skipped[fn.Name()] = err
			continue
		}
		c.sigs[fn] = sig
	}

	for _, fn := range funcs {
		sig, ok := c.sigs[fn]
		if !ok {
			continue
		}
		f, err := c.convertFunc(fn, sig)
		if err != nil {
			res.Skipped[fn.Name()] = err
			f = ir.NewDeclaration(fn.Name(), sig.result, sig.params...)
		}
		if err := res.Module.Add(f); err != nil {
			return nil, err
		}
	}

	names := maps.Keys(c.host)
	slices.Sort(names)
	for _, name := range names {
		if err := res.Module.Add(c.host[name]); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// directive returns the parameters of the function's //irgarble:obfuscate
// comment, if it has one.
func directive(fn *ssa.Function) (string, bool) {
	decl, ok := fn.Syntax().(*ast.FuncDecl)
	if !ok || decl.Doc == nil {
		return "", false
	}
	for _, comment := range decl.Doc.List {
		params, ok := strings.CutPrefix(comment.Text, directiveName)
		if !ok {
			continue
		}
		if params != "" && params[0] != ' ' && params[0] != '\t' {
			continue
		}
		return strings.TrimSpace(params), true
	}
	return "", false
}

func convertType(typ types.Type) (ir.Type, error) {
	if basic, ok := typ.Underlying().(*types.Basic); ok {
		switch basic.Kind() {
		case types.Bool, types.UntypedBool:
			return ir.I1, nil
		case types.Int8, types.Uint8:
			return ir.I8, nil
		case types.Int16, types.Uint16:
			return ir.I16, nil
		case types.Int32, types.Uint32:
			return ir.I32, nil
		case types.Int, types.Int64, types.Uint, types.Uint64, types.Uintptr:
			return ir.I64, nil
		}
	}
	return ir.Void, fmt.Errorf("type %s: %w", typ, UnsupportedErr)
}

func isUnsigned(typ types.Type) bool {
	basic, ok := typ.Underlying().(*types.Basic)
	return ok && basic.Info()&types.IsUnsigned != 0
}

func convertSignature(sig *types.Signature) (signature, error) {
	switch {
	case sig.TypeParams() != nil:
		return signature{}, fmt.Errorf("generic function: %w", UnsupportedErr)
	case sig.Variadic():
		return signature{}, fmt.Errorf("variadic function: %w", UnsupportedErr)
	case sig.Results().Len() > 1:
		return signature{}, fmt.Errorf("%d results: %w", sig.Results().Len(), UnsupportedErr)
	}

	var out signature
	for i := 0; i < sig.Params().Len(); i++ {
		p := sig.Params().At(i)
		typ, err := convertType(p.Type())
		if err != nil {
			return signature{}, fmt.Errorf("parameter %s: %w", p.Name(), err)
		}
		name := p.Name()
		if name == "_" {
			name = ""
		}
		out.params = append(out.params, ir.Param{Name: name, Type: typ})
	}
	out.result = ir.Void
	if sig.Results().Len() == 1 {
		typ, err := convertType(sig.Results().At(0).Type())
		if err != nil {
			return signature{}, fmt.Errorf("result: %w", err)
		}
		out.result = typ
	}
	return out, nil
}

// hostDecl returns the name of the host declaration with the given
// signature, declaring it on first use.
func (c *converter) hostDecl(name string, params []ir.Type) string {
	if _, ok := c.host[name]; !ok {
		irParams := make([]ir.Param, len(params))
		for i, typ := range params {
			irParams[i] = ir.Param{Type: typ}
		}
		c.host[name] = ir.NewDeclaration(name, ir.Void, irParams...)
	}
	return name
}

type funcConverter struct {
	c      *converter
	f      *ir.Function
	blocks []*ir.Block
	vals   map[ssa.Value]ir.Value
	phis   []*ssa.Phi

	// ignored holds the defer stack bookkeeping of a function which
	// never defers a call.
	ignored map[ssa.Instruction]bool
}

// deferStack returns the instructions which set up and unwind the defer
// stack of fn. Naive form keeps them in every function, even those without
// a defer statement, where they have no effect.
func deferStack(fn *ssa.Function) (map[ssa.Instruction]bool, error) {
	ignored := make(map[ssa.Instruction]bool)
	for _, block := range fn.Blocks {
		for _, instr := range block.Instrs {
			switch instr := instr.(type) {
			case *ssa.Defer:
				return nil, fmt.Errorf("defer statement: %w", UnsupportedErr)
			case *ssa.RunDefers:
				ignored[instr] = true
			case *ssa.Call:
				builtin, ok := instr.Call.Value.(*ssa.Builtin)
				if !ok || builtin.Name() != "ssa:deferstack" {
					continue
				}
				ignored[instr] = true
				for _, ref := range *instr.Referrers() {
					store, ok := ref.(*ssa.Store)
					if !ok {
						continue
					}
					ignored[store] = true
					if alloc, ok := store.Addr.(*ssa.Alloc); ok {
						ignored[alloc] = true
					}
				}
			}
		}
	}
	return ignored, nil
}

func (c *converter) convertFunc(fn *ssa.Function, sig signature) (*ir.Function, error) {
	switch {
	case len(fn.Blocks) == 0:
		return nil, fmt.Errorf("function without body: %w", UnsupportedErr)
	case fn.Recover != nil:
		return nil, fmt.Errorf("recover block: %w", UnsupportedErr)
	}
	ignored, err := deferStack(fn)
	if err != nil {
		return nil, err
	}

	fc := &funcConverter{
		c:      c,
		f:      ir.NewFunction(fn.Name(), sig.result, sig.params...),
		blocks: make([]*ir.Block, len(fn.Blocks)),
		vals:   make(map[ssa.Value]ir.Value),

		ignored: ignored,
	}
	for i, p := range fn.Params {
		fc.vals[p] = fc.f.Param(i)
	}
	for _, block := range fn.Blocks {
		name := block.Comment
		if name == "" {
			name = "block"
		}
		fc.blocks[block.Index] = fc.f.NewBlock(name)
	}

	// Definitions dominate their uses, other than phi edges which are
	// filled in once every block is done.
	for _, block := range fn.DomPreorder() {
		if err := fc.convertBlock(block); err != nil {
			return nil, err
		}
	}
	for _, phi := range fc.phis {
		irPhi := fc.vals[phi]
		for i, edge := range phi.Edges {
			v, err := fc.value(edge)
			if err != nil {
				return nil, err
			}
			fc.f.AddIncoming(irPhi.Instr, v, fc.blocks[phi.Block().Preds[i].Index])
		}
	}
	if err := ir.Verify(fc.f); err != nil {
		return nil, err
	}
	return fc.f, nil
}

func (fc *funcConverter) value(v ssa.Value) (ir.Value, error) {
	if c, ok := v.(*ssa.Const); ok {
		typ, err := convertType(c.Type())
		switch {
		case err != nil:
			return ir.Value{}, fmt.Errorf("constant %s: %w", c, err)
		case c.Value == nil:
			return ir.Const(typ, 0), nil
		case c.Value.Kind() == constant.Bool:
			return ir.Bool(constant.BoolVal(c.Value)), nil
		case isUnsigned(c.Type()):
			return ir.ConstBits(typ, c.Uint64()), nil
		}
		return ir.Const(typ, c.Int64()), nil
	}
	if irVal, ok := fc.vals[v]; ok {
		return irVal, nil
	}
	return ir.Value{}, fmt.Errorf("value %s: %w", v.Name(), UnsupportedErr)
}

func (fc *funcConverter) convertBlock(block *ssa.BasicBlock) error {
	b := ir.NewBuilder(fc.blocks[block.Index])
	for _, instr := range block.Instrs[:len(block.Instrs)-1] {
		if fc.ignored[instr] {
			continue
		}
		if err := fc.convertInstr(b, instr); err != nil {
			return err
		}
	}
	return fc.convertExit(b, block)
}

func (fc *funcConverter) convertInstr(b *ir.Builder, instr ssa.Instruction) error {
	switch i := instr.(type) {
	case *ssa.DebugRef:
		// ignored
	case *ssa.Alloc:
		elem, err := convertType(i.Type().(*types.Pointer).Elem())
		if err != nil {
			return fmt.Errorf("local %s: %w", i.Comment, err)
		}
		// Go variables start out zeroed, and a slot is reused each time its
		// declaration runs.
		slot := b.Alloca(elem, i.Comment)
		b.Store(ir.Const(elem, 0), slot)
		fc.vals[i] = slot
	case *ssa.Store:
		ptr, err := fc.slot(i.Addr)
		if err != nil {
			return err
		}
		v, err := fc.value(i.Val)
		if err != nil {
			return err
		}
		b.Store(v, ptr)
	case *ssa.UnOp:
		return fc.convertUnOp(b, i)
	case *ssa.BinOp:
		return fc.convertBinOp(b, i)
	case *ssa.Convert:
		return fc.convertConversion(b, i, i.X)
	case *ssa.ChangeType:
		return fc.convertConversion(b, i, i.X)
	case *ssa.Phi:
		typ, err := convertType(i.Type())
		if err != nil {
			return err
		}
		fc.vals[i] = b.Phi(typ, i.Name())
		fc.phis = append(fc.phis, i)
	case *ssa.Call:
		return fc.convertCall(b, i)
	case *ssa.MakeInterface:
		// Only the boxing of a panic argument is allowed, since the
		// argument itself is dropped.
		for _, ref := range *i.Referrers() {
			if _, ok := ref.(*ssa.Panic); !ok {
				return fmt.Errorf("instruction %v: %w", instr, UnsupportedErr)
			}
		}
	default:
		return fmt.Errorf("instruction %v: %w", instr, UnsupportedErr)
	}
	return nil
}

func (fc *funcConverter) slot(addr ssa.Value) (ir.Value, error) {
	if _, ok := addr.(*ssa.Alloc); ok {
		if ptr, ok := fc.vals[addr]; ok {
			return ptr, nil
		}
	}
	return ir.Value{}, fmt.Errorf("address %s: %w", addr.Name(), UnsupportedErr)
}

func (fc *funcConverter) convertUnOp(b *ir.Builder, i *ssa.UnOp) error {
	if i.CommaOk {
		return fmt.Errorf("unary operator %s in %v: %w", i.Op, i, UnsupportedErr)
	}
	if i.Op == token.MUL {
		ptr, err := fc.slot(i.X)
		if err != nil {
			return err
		}
		typ, err := convertType(i.Type())
		if err != nil {
			return err
		}
		fc.vals[i] = b.Load(typ, ptr, i.Name())
		return nil
	}

	x, err := fc.value(i.X)
	if err != nil {
		return err
	}
	switch i.Op {
	case token.SUB:
		fc.vals[i] = b.Neg(x, i.Name())
	case token.XOR, token.NOT:
		fc.vals[i] = b.Not(x, i.Name())
	default:
		return fmt.Errorf("unary operator %s in %v: %w", i.Op, i, UnsupportedErr)
	}
	return nil
}

var binOps = map[token.Token]ir.Op{
	token.ADD: ir.OpAdd,
	token.SUB: ir.OpSub,
	token.MUL: ir.OpMul,
	token.AND: ir.OpAnd,
	token.OR:  ir.OpOr,
	token.XOR: ir.OpXor,
	token.SHL: ir.OpShl,
}

// predicate returns the comparison for a Go comparison operator.
func predicate(op token.Token, unsigned bool) (ir.Predicate, bool) {
	switch op {
	case token.EQL:
		return ir.PredEQ, true
	case token.NEQ:
		return ir.PredNE, true
	}
	if unsigned {
		switch op {
		case token.LSS:
			return ir.PredULT, true
		case token.LEQ:
			return ir.PredULE, true
		case token.GTR:
			return ir.PredUGT, true
		case token.GEQ:
			return ir.PredUGE, true
		}
	} else {
		switch op {
		case token.LSS:
			return ir.PredSLT, true
		case token.LEQ:
			return ir.PredSLE, true
		case token.GTR:
			return ir.PredSGT, true
		case token.GEQ:
			return ir.PredSGE, true
		}
	}
	return 0, false
}

func (fc *funcConverter) convertBinOp(b *ir.Builder, i *ssa.BinOp) error {
	x, err := fc.value(i.X)
	if err != nil {
		return err
	}
	y, err := fc.value(i.Y)
	if err != nil {
		return err
	}
	unsigned := isUnsigned(i.X.Type())

	if pred, ok := predicate(i.Op, unsigned); ok {
		fc.vals[i] = b.ICmp(pred, x, y, i.Name())
		return nil
	}
	if x.Type == ir.I1 {
		return fmt.Errorf("boolean operator %s in %v: %w", i.Op, i, UnsupportedErr)
	}

	op, ok := binOps[i.Op]
	switch {
	case ok:
	case i.Op == token.AND_NOT:
		fc.vals[i] = b.And(x, b.Not(y, ""), i.Name())
		return nil
	case i.Op == token.QUO && unsigned:
		op = ir.OpUDiv
	case i.Op == token.QUO:
		op = ir.OpSDiv
	case i.Op == token.REM && unsigned:
		op = ir.OpURem
	case i.Op == token.REM:
		op = ir.OpSRem
	case i.Op == token.SHR && unsigned:
		op = ir.OpLShr
	case i.Op == token.SHR:
		op = ir.OpAShr
	default:
		return fmt.Errorf("binary operator %s in %v: %w", i.Op, i, UnsupportedErr)
	}
	fc.vals[i] = b.BinOp(op, x, y, i.Name())
	return nil
}

func (fc *funcConverter) convertConversion(b *ir.Builder, i ssa.Value, x ssa.Value) error {
	v, err := fc.value(x)
	if err != nil {
		return err
	}
	to, err := convertType(i.Type())
	if err != nil {
		return err
	}
	switch {
	case v.Type == to:
	case to.Bits() < v.Type.Bits():
		v = b.Cast(ir.OpTrunc, v, to, i.Name())
	case isUnsigned(x.Type()):
		v = b.Cast(ir.OpZExt, v, to, i.Name())
	default:
		v = b.Cast(ir.OpSExt, v, to, i.Name())
	}
	fc.vals[i] = v
	return nil
}

func (fc *funcConverter) convertCall(b *ir.Builder, i *ssa.Call) error {
	common := i.Common()
	if common.IsInvoke() {
		return fmt.Errorf("interface method call %v: %w", i, UnsupportedErr)
	}
	var args []ir.Value
	for _, arg := range common.Args {
		v, err := fc.value(arg)
		if err != nil {
			return err
		}
		args = append(args, v)
	}

	switch callee := common.Value.(type) {
	case *ssa.Builtin:
		switch callee.Name() {
		case "print", "println":
		default:
			return fmt.Errorf("builtin %s: %w", callee.Name(), UnsupportedErr)
		}
		name := callee.Name()
		params := make([]ir.Type, len(args))
		for j, arg := range args {
			params[j] = arg.Type
			name += "." + arg.Type.String()
		}
		b.Call(fc.c.hostDecl(name, params), ir.Void, args, "")
	case *ssa.Function:
		sig, ok := fc.c.sigs[callee]
		if !ok {
			return fmt.Errorf("call to %s: %w", callee.Name(), UnsupportedErr)
		}
		v := b.Call(callee.Name(), sig.result, args, i.Name())
		if sig.result != ir.Void {
			fc.vals[i] = v
		}
	default:
		return fmt.Errorf("dynamic call %v: %w", i, UnsupportedErr)
	}
	return nil
}

func (fc *funcConverter) convertExit(b *ir.Builder, block *ssa.BasicBlock) error {
	irBlock := fc.blocks[block.Index]
	switch exit := block.Instrs[len(block.Instrs)-1].(type) {
	case *ssa.Jump:
		fc.f.SetTerminator(irBlock, ir.Br(fc.blocks[block.Succs[0].Index]))
	case *ssa.If:
		cond, err := fc.value(exit.Cond)
		if err != nil {
			return err
		}
		fc.f.SetTerminator(irBlock, ir.CondBr(cond,
			fc.blocks[block.Succs[0].Index],
			fc.blocks[block.Succs[1].Index],
		))
	case *ssa.Return:
		var results []ir.Value
		for _, result := range exit.Results {
			v, err := fc.value(result)
			if err != nil {
				return err
			}
			results = append(results, v)
		}
		fc.f.SetTerminator(irBlock, ir.Ret(results...))
	case *ssa.Panic:
		b.Call(fc.c.hostDecl("panic", nil), ir.Void, nil, "")
		fc.f.SetTerminator(irBlock, ir.Unreachable())
	default:
		return fmt.Errorf("exit instruction %v: %w", exit, UnsupportedErr)
	}
	return nil
}
