// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"mvdan.cc/irgarble/internal/mba"
)

const (
	maxIterations       = 16
	maxSplitProbability = 100
	maxJunkJumps        = 256
	maxTrash            = 64
)

// Options configure the transforms applied to a function.
type Options struct {
	// Iterations is the number of arithmetic substitution rounds.
	// Code size grows exponentially with it.
	Iterations int

	// SplitProbability is the chance, in percent, that an eligible block
	// is split.
	SplitProbability int

	// JunkJumps is the number of jump-only blocks inserted before
	// flattening.
	JunkJumps int

	// Hardening masks the state identifiers of flattened functions.
	Hardening bool

	// Trash is the number of dead instructions put in each dummy block
	// created by splitting.
	Trash int
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{Iterations: mba.DefaultIterations}
}

type optionParams map[string]string

func (m optionParams) getInt(name string, def, max int) (int, error) {
	rawVal, ok := m[name]
	if !ok {
		return def, nil
	}
	if rawVal == "max" {
		return max, nil
	}

	val, err := strconv.Atoi(rawVal)
	if err != nil {
		return 0, fmt.Errorf("invalid option %q format: %v", name, err)
	}
	if val < 0 {
		return 0, fmt.Errorf("negative option %q value: %d", name, val)
	}
	if val > max {
		return 0, fmt.Errorf("too big option %q value: %d (max: %d)", name, val, max)
	}
	return val, nil
}

func (m optionParams) getBool(name string, def bool) (bool, error) {
	rawVal, ok := m[name]
	if !ok {
		return def, nil
	}
	if rawVal == "" {
		return true, nil
	}
	val, err := strconv.ParseBool(rawVal)
	if err != nil {
		return false, fmt.Errorf("invalid option %q format: %v", name, err)
	}
	return val, nil
}

var knownOptions = []string{
	"flatten_hardening",
	"iterations",
	"junk_jumps",
	"split_probability",
	"trash",
}

// ParseOptions parses space-separated parameters of the form "key=value"
// or "key", such as
//
//	iterations=2 split_probability=50 flatten_hardening
//
// Options not mentioned keep their value from base. Integer options accept
// "max" for their upper bound.
func ParseOptions(s string, base Options) (Options, error) {
	params := make(optionParams)
	for _, field := range strings.Fields(s) {
		key, value, _ := strings.Cut(field, "=")
		params[key] = value
	}
	keys := maps.Keys(params)
	slices.Sort(keys)
	for _, key := range keys {
		if !slices.Contains(knownOptions, key) {
			return Options{}, fmt.Errorf("unknown option %q", key)
		}
	}

	var opts Options
	var err error
	if opts.Iterations, err = params.getInt("iterations", base.Iterations, maxIterations); err != nil {
		return Options{}, err
	}
	if opts.SplitProbability, err = params.getInt("split_probability", base.SplitProbability, maxSplitProbability); err != nil {
		return Options{}, err
	}
	if opts.JunkJumps, err = params.getInt("junk_jumps", base.JunkJumps, maxJunkJumps); err != nil {
		return Options{}, err
	}
	if opts.Trash, err = params.getInt("trash", base.Trash, maxTrash); err != nil {
		return Options{}, err
	}
	if opts.Hardening, err = params.getBool("flatten_hardening", base.Hardening); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate reports whether every option is within its bounds.
func (o Options) Validate() error {
	for _, c := range []struct {
		name     string
		val, max int
	}{
		{"iterations", o.Iterations, maxIterations},
		{"split_probability", o.SplitProbability, maxSplitProbability},
		{"junk_jumps", o.JunkJumps, maxJunkJumps},
		{"trash", o.Trash, maxTrash},
	} {
		if c.val < 0 || c.val > c.max {
			return fmt.Errorf("option %q out of range: %d (want 0 to %d)", c.name, c.val, c.max)
		}
	}
	return nil
}
