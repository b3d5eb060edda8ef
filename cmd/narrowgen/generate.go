package main

import (
	"fmt"
	"go/format"
	"strings"

	cerrors "github.com/cockroachdb/errors"
)

const modulePath = "github.com/jacob-hughes/natrob"

// Generate renders the Go source for every handle the manifest declares and
// returns it gofmt-formatted.
func Generate(manifest *Manifest) ([]byte, error) {
	var source strings.Builder

	source.WriteString("// Code generated by narrowgen. DO NOT EDIT.\n\n")
	fmt.Fprintf(&source, "package %s\n\n", manifest.Package)

	writeImports(&source, manifest)

	for _, handle := range manifest.Handles {
		switch handle.Variant {
		case VariantManual:
			writeManualHandle(&source, handle)
		case VariantGc:
			writeGcHandle(&source, handle)
		}
	}

	formatted, err := format.Source([]byte(source.String()))
	if err != nil {
		return nil, cerrors.Wrapf(err, "generated source for package %s does not parse", manifest.Package)
	}

	return formatted, nil
}

func writeImports(source *strings.Builder, manifest *Manifest) {
	usesManual := false
	usesGc := false
	for _, handle := range manifest.Handles {
		switch handle.Variant {
		case VariantManual:
			usesManual = true
		case VariantGc:
			usesGc = true
		}
	}

	source.WriteString("import (\n")
	if usesGc {
		source.WriteString("\t\"unsafe\"\n\n")
		fmt.Fprintf(source, "\t\"%s/gc\"\n", modulePath)
		fmt.Fprintf(source, "\t\"%s/memutils\"\n", modulePath)
		if usesManual {
			fmt.Fprintf(source, "\t\"%s/narrow\"\n", modulePath)
		}
		fmt.Fprintf(source, "\t\"%s/narrowgc\"\n", modulePath)
	} else {
		fmt.Fprintf(source, "\t\"%s/narrow\"\n", modulePath)
	}
	source.WriteString(")\n")
}

func writeManualHandle(source *strings.Builder, handle HandleSpec) {
	fmt.Fprintf(source, "\n// %s is a single-word handle to a %s.\n", handle.Name, handle.Interface)
	fmt.Fprintf(source, "type %s struct {\n", handle.Name)
	fmt.Fprintf(source, "\thandle narrow.Handle[%s]\n", handle.Interface)
	source.WriteString("}\n")

	fmt.Fprintf(source, "\n// New%s copies value into a freshly allocated block and returns a %s owning it.\n", handle.Name, handle.Name)
	fmt.Fprintf(source, "func New%s[U any](value U) %s {\n", handle.Name, handle.Name)
	fmt.Fprintf(source, "\treturn %s{handle: narrow.New[%s, U](value)}\n", handle.Name, handle.Interface)
	source.WriteString("}\n")

	fmt.Fprintf(source, "\n// Widen reconstructs the ordinary two-word %s value this handle abbreviates.\n", handle.Interface)
	fmt.Fprintf(source, "func (h %s) Widen() %s {\n", handle.Name, handle.Interface)
	source.WriteString("\treturn h.handle.Widen()\n")
	source.WriteString("}\n")

	fmt.Fprintf(source, "\n// Downcast%s returns a typed pointer to the value behind the handle when its\n", handle.Name)
	source.WriteString("// concrete type is exactly U.\n")
	fmt.Fprintf(source, "func Downcast%s[U any](h %s) (*U, bool) {\n", handle.Name, handle.Name)
	source.WriteString("\treturn narrow.Downcast[U](h.handle)\n")
	source.WriteString("}\n")

	source.WriteString("\n// Destroy finalizes the value behind the handle, when its type declares Finalize,\n")
	source.WriteString("// and releases the handle's block. The handle must not be used afterward.\n")
	fmt.Fprintf(source, "func (h %s) Destroy() {\n", handle.Name)
	source.WriteString("\th.handle.Destroy()\n")
	source.WriteString("}\n")
}

func writeGcHandle(source *strings.Builder, handle HandleSpec) {
	fmt.Fprintf(source, "\n// %s is a single-word collector-managed handle to a %s.\n", handle.Name, handle.Interface)
	fmt.Fprintf(source, "type %s struct {\n", handle.Name)
	fmt.Fprintf(source, "\thandle narrowgc.Handle[%s]\n", handle.Interface)
	source.WriteString("}\n")

	fmt.Fprintf(source, "\n// New%s copies value into a freshly allocated collector block and returns a %s\n", handle.Name, handle.Name)
	source.WriteString("// for it.\n")
	fmt.Fprintf(source, "func New%s[U any](c *gc.Collector, value U) %s {\n", handle.Name, handle.Name)
	fmt.Fprintf(source, "\treturn %s{handle: narrowgc.New[%s, U](c, value)}\n", handle.Name, handle.Interface)
	source.WriteString("}\n")

	fmt.Fprintf(source, "\n// New%sFromLayout allocates a block with room for trailing storage beyond U\n", handle.Name)
	source.WriteString("// itself and initializes the value region through init.\n")
	fmt.Fprintf(source, "func New%sFromLayout[U any](c *gc.Collector, layout memutils.Layout, init func(*U)) %s {\n", handle.Name, handle.Name)
	fmt.Fprintf(source, "\treturn %s{handle: narrowgc.NewFromLayout[%s, U](c, layout, init)}\n", handle.Name, handle.Interface)
	source.WriteString("}\n")

	fmt.Fprintf(source, "\n// Widen reconstructs the ordinary two-word %s value this handle abbreviates.\n", handle.Interface)
	fmt.Fprintf(source, "func (h %s) Widen() %s {\n", handle.Name, handle.Interface)
	source.WriteString("\treturn h.handle.Widen()\n")
	source.WriteString("}\n")

	fmt.Fprintf(source, "\n// Downcast%s returns a managed reference to the value behind the handle when its\n", handle.Name)
	source.WriteString("// concrete type is exactly U.\n")
	fmt.Fprintf(source, "func Downcast%s[U any](h %s) (gc.Ref[U], bool) {\n", handle.Name, handle.Name)
	source.WriteString("\treturn narrowgc.Downcast[U](h.handle)\n")
	source.WriteString("}\n")

	fmt.Fprintf(source, "\n// Recover%s rebuilds the handle a managed reference obtained from Downcast%s\n", handle.Name, handle.Name)
	source.WriteString("// came from.\n")
	fmt.Fprintf(source, "func Recover%s[U any](ref gc.Ref[U]) %s {\n", handle.Name, handle.Name)
	fmt.Fprintf(source, "\treturn %s{handle: narrowgc.Recover[%s, U](ref)}\n", handle.Name, handle.Interface)
	source.WriteString("}\n")

	source.WriteString("\n// Raw returns the address of the handle's block, suitable for pinning the handle\n")
	source.WriteString("// as a collection root.\n")
	fmt.Fprintf(source, "func (h %s) Raw() unsafe.Pointer {\n", handle.Name)
	source.WriteString("\treturn h.handle.Raw()\n")
	source.WriteString("}\n")
}
