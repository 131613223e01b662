// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/devmon/devmon/internal/config"
	"github.com/devmon/devmon/internal/xdg"
)

// NewRootCmd creates the root command for the devmond CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devmond",
		Short: "devmond - device monitor daemon",
		Long: `devmond watches hardware-enumeration plugins and exports the devices
and nodes they announce to the session host, customizing their properties
with policy rules and scripts.`,
		SilenceUsage: true,
	}

	// Global flag for config file path
	cmd.PersistentFlags().String("config", "", "config file path (default: XDG_CONFIG_HOME/devmon/devmon.yaml)")

	cmd.AddCommand(NewRunCmd())
	cmd.AddCommand(NewValidateCmd())
	cmd.AddCommand(NewPluginsCmd())
	cmd.AddCommand(NewSchemaCmd())

	return cmd
}

// loadConfig loads the configuration named by --config. Without --config
// the default file is used if it exists.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	optional := false
	if path == "" {
		optional = true
		if path, err = xdg.ConfigFile(); err != nil {
			path = ""
		}
	}
	return config.Load(path, cmd.Flags(), optional)
}

// addDaemonFlags adds the flags that override configuration keys.
func addDaemonFlags(fs *pflag.FlagSet) {
	def := config.Default()
	fs.String("log-format", def.Log.Format, "log format (json or text)")
	fs.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
	fs.String("metrics-addr", def.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	fs.String("plugins-dir", def.Plugins.Dir, "backend plugin directory")
	fs.String("policy-script", "", "Lua policy script")
}
