// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/devmon/devmon/internal/plugin"
	"github.com/devmon/devmon/internal/policy"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration, policy script and plugin manifests",
		Long: `Validate loads the configuration file, compiles the policy rules and
script, and checks every plugin manifest in the plugin directory without
starting any plugin.`,
		RunE: runValidate,
	}

	addDaemonFlags(cmd.Flags())

	return cmd
}

func runValidate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	cmd.Printf("configuration: ok (%d monitors, %d rules)\n", len(cfg.Monitors), len(cfg.Policy.Rules))

	if cfg.Policy.Script != "" {
		script, err := policy.LoadScript(cfg.Policy.Script)
		if err != nil {
			return fmt.Errorf("invalid policy script: %w", err)
		}
		cmd.Printf("policy script: ok (%s)\n", script.Name())
	}

	plugins, err := plugin.NewManager(cfg.Plugins.Dir).Discover(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to discover plugins: %w", err)
	}
	for _, dp := range plugins {
		if err := dp.Manifest.Compatible(cfg.Plugins.APIVersion); err != nil {
			return fmt.Errorf("plugin %s: %w", dp.Manifest.Name, err)
		}
	}
	cmd.Printf("plugins: ok (%d found in %s)\n", len(plugins), cfg.Plugins.Dir)
	return nil
}
