// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/devmon/devmon/internal/plugin"
)

// NewPluginsCmd creates the plugins subcommand.
func NewPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List backend plugins found in the plugin directory",
		RunE:  runPlugins,
	}

	addDaemonFlags(cmd.Flags())

	return cmd
}

func runPlugins(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	plugins, err := plugin.NewManager(cfg.Plugins.Dir).Discover(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to discover plugins: %w", err)
	}
	if len(plugins) == 0 {
		cmd.Printf("no plugins found in %s\n", cfg.Plugins.Dir)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tVERSION\tAPI\tCOMPATIBLE\tFACTORIES")
	for _, dp := range plugins {
		compatible := "yes"
		if dp.Manifest.Compatible(cfg.Plugins.APIVersion) != nil {
			compatible = "no"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			dp.Manifest.Name,
			dp.Manifest.Version,
			dp.Manifest.API,
			compatible,
			strings.Join(dp.Manifest.Factories, ","))
	}
	return w.Flush()
}
