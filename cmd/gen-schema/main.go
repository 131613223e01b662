// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Command gen-schema generates the configuration and plugin manifest JSON
// Schema files.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/devmon/devmon/internal/config"
	"github.com/devmon/devmon/internal/plugin"
)

var schemas = []struct {
	file     string
	generate func() ([]byte, error)
}{
	{"config.schema.json", config.GenerateSchema},
	{"plugin.schema.json", plugin.GenerateSchema},
}

func main() {
	outDir := "schemas"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}

	if err := os.MkdirAll(outDir, 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	for _, s := range schemas {
		data, err := s.generate()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating %s: %v\n", s.file, err)
			os.Exit(1)
		}

		outPath := filepath.Join(outDir, s.file)
		if err := os.WriteFile(outPath, data, 0o600); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Generated %s\n", outPath)
	}
}
