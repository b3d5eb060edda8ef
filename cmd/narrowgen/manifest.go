package main

import (
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	cerrors "github.com/cockroachdb/errors"
)

const (
	VariantManual = "manual"
	VariantGc     = "gc"
)

// Manifest describes the handle types narrowgen emits for one package.
type Manifest struct {
	// Package is the package name of the generated file.
	Package string `toml:"package"`
	// Output is the path of the generated file, relative to the manifest.
	Output string `toml:"output"`
	// Handles lists the handle types to emit, one per [[handle]] block.
	Handles []HandleSpec `toml:"handle"`
}

// HandleSpec binds one named handle type to one interface.
type HandleSpec struct {
	// Name is the emitted handle type's name.
	Name string `toml:"name"`
	// Interface is the name of the interface the handle dispatches through. It must
	// be declared in the generated file's package.
	Interface string `toml:"interface"`
	// Variant selects the memory discipline behind the handle: "manual" for
	// exclusively-owned storage released by Destroy, or "gc" for collector-managed
	// storage.
	Variant string `toml:"variant"`
}

// LoadManifest parses and validates a narrowgen.toml file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cerrors.Wrapf(err, "cannot read %s", path)
	}

	var manifest Manifest
	err = toml.Unmarshal(data, &manifest)
	if err != nil {
		return nil, cerrors.Wrapf(err, "parse error in %s", path)
	}

	err = manifest.Validate()
	if err != nil {
		return nil, cerrors.Wrapf(err, "invalid manifest %s", path)
	}

	return &manifest, nil
}

// Validate checks the rules the generator depends on: every handle is fully named,
// and every (interface, variant) pair takes exactly one handle name.
func (m *Manifest) Validate() error {
	if m.Package == "" {
		return cerrors.New("the manifest does not name a package")
	}
	if m.Output == "" {
		return cerrors.New("the manifest does not name an output file")
	}
	if len(m.Handles) == 0 {
		return cerrors.New("the manifest declares no handles")
	}

	names := make(map[string]bool, len(m.Handles))
	pairs := make(map[string]string, len(m.Handles))
	for handleIndex, handle := range m.Handles {
		if handle.Name == "" {
			return cerrors.Newf("handle %d does not name its type", handleIndex)
		}
		if handle.Interface == "" {
			return cerrors.Newf("handle %q does not name an interface", handle.Name)
		}
		if strings.Contains(handle.Interface, ".") {
			return cerrors.Newf("handle %q binds %q, but interfaces must be declared in the generated file's own package", handle.Name, handle.Interface)
		}
		if handle.Variant != VariantManual && handle.Variant != VariantGc {
			return cerrors.Newf("handle %q has variant %q, but it must be %q or %q", handle.Name, handle.Variant, VariantManual, VariantGc)
		}

		if names[handle.Name] {
			return cerrors.Newf("handle name %q is declared more than once", handle.Name)
		}
		names[handle.Name] = true

		pairKey := handle.Interface + "/" + handle.Variant
		if otherName, ok := pairs[pairKey]; ok {
			return cerrors.Newf("handles %q and %q both bind interface %s with the %s variant, but each interface takes exactly one handle name per variant", otherName, handle.Name, handle.Interface, handle.Variant)
		}
		pairs[pairKey] = handle.Name
	}

	return nil
}
