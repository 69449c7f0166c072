// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"

	"mvdan.cc/irgarble/internal/interp"
	"mvdan.cc/irgarble/internal/ir"
)

// evalResult is the observable behavior of one interpreted call.
// Error messages may name blocks, which obfuscation renames,
// so only the kind of error is compared.
type evalResult struct {
	Call   string
	Result uint64
	Err    string
	Trace  []interp.Event

	errText string
}

var evalErrs = []error{
	interp.ErrDivideByZero,
	interp.ErrUnreachable,
	interp.ErrStepLimit,
	interp.ErrUndefined,
	interp.ErrBadPointer,
}

func (r *evalResult) String() string {
	var sb strings.Builder
	if r.errText != "" {
		fmt.Fprintf(&sb, "%s failed: %s", r.Call, r.errText)
	} else {
		fmt.Fprintf(&sb, "%s = %d", r.Call, r.Result)
	}
	for _, ev := range r.Trace {
		fmt.Fprintf(&sb, "\n\tcalled %s%v", ev.Callee, ev.Args)
	}
	return sb.String()
}

func (r *evalResult) compare(after *evalResult) error {
	before := *r
	before.errText = after.errText
	if diff := cmp.Diff(before, *after, cmp.AllowUnexported(evalResult{})); diff != "" {
		return fmt.Errorf("obfuscation changed the behavior of %s (-before +after):\n%s", r.Call, diff)
	}
	return nil
}

// evalCall parses a call like "add 2 -1" and interprets it on m.
// Arguments may be negative, in which case their two's complement bits are
// passed along.
func evalCall(m *ir.Module, call string) (*evalResult, error) {
	fields := strings.Fields(call)
	if len(fields) == 0 {
		return nil, fmt.Errorf("-eval: empty call")
	}
	if f := m.Func(fields[0]); f == nil || f.IsDeclaration() {
		return nil, fmt.Errorf("-eval: no function %q", fields[0])
	}
	args := make([]uint64, len(fields)-1)
	for i, field := range fields[1:] {
		if strings.HasPrefix(field, "-") {
			n, err := strconv.ParseInt(field, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("-eval: %w", err)
			}
			args[i] = uint64(n)
			continue
		}
		n, err := strconv.ParseUint(field, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("-eval: %w", err)
		}
		args[i] = n
	}

	mach := interp.New(m)
	res, err := mach.Call(fields[0], args...)
	r := &evalResult{
		Call:   fmt.Sprintf("%s(%s)", fields[0], strings.Join(fields[1:], ", ")),
		Result: res,
		Trace:  mach.Trace,
	}
	if err != nil {
		r.errText = err.Error()
		r.Err = "unknown"
		for _, sentinel := range evalErrs {
			if errors.Is(err, sentinel) {
				r.Err = sentinel.Error()
				break
			}
		}
	}
	return r, nil
}
