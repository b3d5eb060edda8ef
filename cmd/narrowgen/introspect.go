package main

import (
	"go/types"

	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/tools/go/packages"
)

// VerifyInterfaces loads the Go package in dir and checks that every interface the
// manifest binds is declared there as an interface type. Type errors in the package
// are tolerated, since the output file this run will write may not exist yet.
func VerifyInterfaces(dir string, manifest *Manifest) error {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedSyntax,
		Dir:  dir,
	}

	pkgs, err := packages.Load(cfg, ".")
	if err != nil {
		return cerrors.Wrapf(err, "loading the package in %s", dir)
	}
	if len(pkgs) == 0 {
		return cerrors.Newf("no Go package found in %s", dir)
	}

	pkg := pkgs[0]
	if pkg.Types == nil {
		return cerrors.Newf("type information is not available for the package in %s", dir)
	}

	scope := pkg.Types.Scope()
	for _, handle := range manifest.Handles {
		obj := scope.Lookup(handle.Interface)
		if obj == nil {
			return cerrors.Newf("handle %q binds interface %s, but package %s does not declare it", handle.Name, handle.Interface, pkg.Name)
		}
		if _, ok := obj.Type().Underlying().(*types.Interface); !ok {
			return cerrors.Newf("handle %q binds %s, but it is not an interface type", handle.Name, handle.Interface)
		}
	}

	return nil
}
