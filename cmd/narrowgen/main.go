// Code generator for narrow handle bindings
// Reads a TOML manifest and emits a Go source file of named handle types, each
// wrapping a narrow or narrowgc handle for one interface.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	manifestPath := flag.String("manifest", "narrowgen.toml", "Path to the handle manifest")
	outputOverride := flag.String("o", "", "Write the generated file here instead of the manifest's output path")
	verify := flag.Bool("verify", false, "Check that every manifest interface is declared in the target package")
	flag.Parse()

	manifest, err := LoadManifest(*manifestPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "narrowgen: %v\n", err)
		os.Exit(1)
	}

	manifestDir := filepath.Dir(*manifestPath)

	if *verify {
		if err := VerifyInterfaces(manifestDir, manifest); err != nil {
			fmt.Fprintf(os.Stderr, "narrowgen: %v\n", err)
			os.Exit(1)
		}
	}

	source, err := Generate(manifest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "narrowgen: %v\n", err)
		os.Exit(1)
	}

	outputPath := *outputOverride
	if outputPath == "" {
		outputPath = manifest.Output
		if !filepath.IsAbs(outputPath) {
			outputPath = filepath.Join(manifestDir, outputPath)
		}
	}

	if err := os.WriteFile(outputPath, source, 0644); err != nil {
		fmt.Fprintf(os.Stderr, "narrowgen: writing %s: %v\n", outputPath, err)
		os.Exit(1)
	}

	fmt.Printf("Generated %d handle types into %s\n", len(manifest.Handles), outputPath)
}
