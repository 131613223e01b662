// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devmon/devmon/internal/config"
	"github.com/devmon/devmon/internal/plugin"
)

var schemaGenerators = map[string]func() ([]byte, error){
	"config": config.GenerateSchema,
	"plugin": plugin.GenerateSchema,
}

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "schema {config|plugin}",
		Short:     "Print the JSON Schema of the configuration file or a plugin manifest",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"config", "plugin"},
		RunE: func(cmd *cobra.Command, args []string) error {
			generate, ok := schemaGenerators[args[0]]
			if !ok {
				return fmt.Errorf("unknown schema %q: must be 'config' or 'plugin'", args[0])
			}
			data, err := generate()
			if err != nil {
				return fmt.Errorf("failed to generate schema: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return err
		},
	}
}
