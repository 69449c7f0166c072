// Copyright (c) 2026, The Garble Authors.
// See LICENSE for licensing information.

package ssa2ir

import (
	"errors"
	"fmt"
	"go/ast"
	"go/importer"
	"go/token"
	"go/types"

	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

// BuildFiles type-checks the files of a single package and builds its SSA
// form. Imports are resolved from export data.
func BuildFiles(fset *token.FileSet, files []*ast.File, mode ssa.BuilderMode) (*ssa.Package, error) {
	if len(files) == 0 {
		return nil, errors.New("no files to build")
	}
	pkg := types.NewPackage(files[0].Name.Name, "")
	ssaPkg, _, err := ssautil.BuildPackage(&types.Config{Importer: importer.Default()}, fset, pkg, files, mode)
	if err != nil {
		return nil, err
	}
	return ssaPkg, nil
}

// LoadPackages loads the packages matching patterns from source and builds
// their SSA form, in the order go/packages returns them.
func LoadPackages(dir string, patterns []string, mode ssa.BuilderMode) ([]*ssa.Package, error) {
	cfg := &packages.Config{
		Dir: dir,
		Mode: packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
			packages.NeedImports | packages.NeedTypes | packages.NeedTypesSizes |
			packages.NeedSyntax | packages.NeedTypesInfo,
	}
	pkgs, err := packages.Load(cfg, patterns...)
	if err != nil {
		return nil, err
	}
	var errs []error
	packages.Visit(pkgs, nil, func(pkg *packages.Package) {
		for _, err := range pkg.Errors {
			errs = append(errs, err)
		}
	})
	if len(errs) > 0 {
		return nil, fmt.Errorf("loading packages: %w", errors.Join(errs...))
	}

	_, ssaPkgs := ssautil.Packages(pkgs, mode)
	for i, ssaPkg := range ssaPkgs {
		if ssaPkg == nil {
			return nil, fmt.Errorf("%s: no SSA form", pkgs[i].PkgPath)
		}
		ssaPkg.Build()
	}
	return ssaPkgs, nil
}
