// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package main implements the scripted-monitor backend plugin.
//
// The plugin replays a YAML script of devices, nodes and hotplug events. It
// stands in for hardware enumeration when testing policy and deployments.
// The script is read from $DEVMON_SCRIPTED_MONITOR_SCRIPT, or from
// script.yaml next to the executable.
//
// Build with:
//
//	go build -o plugins/scripted-monitor/scripted-monitor ./plugins/scripted-monitor
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/devmon/devmon/pkg/spasdk"
)

// EnvScript overrides the script location.
const EnvScript = "DEVMON_SCRIPTED_MONITOR_SCRIPT"

// DefaultScriptFile is looked up next to the executable.
const DefaultScriptFile = "script.yaml"

func scriptPath() (string, error) {
	if path := os.Getenv(EnvScript); path != "" {
		return path, nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), DefaultScriptFile), nil
}

func main() {
	path, err := scriptPath()
	if err != nil {
		fmt.Fprintf(os.Stderr, "scripted-monitor: %v\n", err)
		os.Exit(1)
	}
	script, err := LoadScript(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scripted-monitor: %v\n", err)
		os.Exit(1)
	}

	spasdk.Serve(&spasdk.ServeConfig{
		Factories: Factories(script),
	})
}
