// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmon/devmon/internal/config"
	"github.com/devmon/devmon/internal/plugin"
)

// execute runs the root command with args in an isolated XDG environment.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func writeManifest(t *testing.T, dir, name, api string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, name, plugin.ManifestFile), "name: "+name+`
version: 1.0.0
api: "`+api+`"
executable: `+name+`
factories:
  - api.`+name+`.*
`)
}

func TestRootCommand_Subcommands(t *testing.T) {
	out, err := execute(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"run", "validate", "plugins", "schema"} {
		assert.Contains(t, out, sub)
	}
	assert.Contains(t, out, "--config")
}

func TestRunCommand_Flags(t *testing.T) {
	out, err := execute(t, "run", "--help")
	require.NoError(t, err)

	for _, flag := range []string{"--log-format", "--log-level", "--metrics-addr", "--plugins-dir", "--policy-script", "--config"} {
		assert.Contains(t, out, flag)
	}
}

func TestRunCommand_DefaultValues(t *testing.T) {
	cmd := NewRunCmd()

	logFormat, err := cmd.Flags().GetString("log-format")
	require.NoError(t, err)
	assert.Equal(t, "json", logFormat)

	metricsAddr, err := cmd.Flags().GetString("metrics-addr")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultMetricsAddr, metricsAddr)
}

func TestRunCommand_InvalidLogFormat(t *testing.T) {
	_, err := execute(t, "run", "--log-format=xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestRunCommand_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "run", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	pluginsDir := filepath.Join(dir, "plugins")
	writeManifest(t, pluginsDir, "alsa", "^1.0")

	script := filepath.Join(dir, "policy.lua")
	writeFile(t, script, "function setup_device_props(p) p['device.nick'] = 'x' end\n")

	cfgPath := filepath.Join(dir, "devmon.yaml")
	writeFile(t, cfgPath, `
plugins:
  dir: `+pluginsDir+`
monitors:
  - factory: api.alsa.enum
policy:
  script: `+script+`
`)

	out, err := execute(t, "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration: ok (1 monitors, 0 rules)")
	assert.Contains(t, out, "policy script: ok")
	assert.Contains(t, out, "plugins: ok (1 found in "+pluginsDir+")")
}

func TestValidateCommand_IncompatiblePlugin(t *testing.T) {
	pluginsDir := t.TempDir()
	writeManifest(t, pluginsDir, "future", "^2.0")

	_, err := execute(t, "validate", "--plugins-dir", pluginsDir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plugin future")
}

func TestValidateCommand_BadScript(t *testing.T) {
	script := filepath.Join(t.TempDir(), "policy.lua")
	writeFile(t, script, "function (")

	_, err := execute(t, "validate", "--policy-script", script)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid policy script")
}

func TestPluginsCommand(t *testing.T) {
	pluginsDir := t.TempDir()
	writeManifest(t, pluginsDir, "alsa", "^1.0")
	writeManifest(t, pluginsDir, "future", "^2.0")

	out, err := execute(t, "plugins", "--plugins-dir", pluginsDir)
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `alsa\s+1\.0\.0\s+\^1\.0\s+yes\s+api\.alsa\.\*`, out)
	assert.Regexp(t, `future\s+1\.0\.0\s+\^2\.0\s+no`, out)
}

func TestPluginsCommand_Empty(t *testing.T) {
	pluginsDir := t.TempDir()

	out, err := execute(t, "plugins", "--plugins-dir", pluginsDir)
	require.NoError(t, err)
	assert.Contains(t, out, "no plugins found in "+pluginsDir)
}

func TestSchemaCommand(t *testing.T) {
	tests := []struct {
		arg  string
		want string
	}{
		{arg: "config", want: config.SchemaID},
		{arg: "plugin", want: plugin.SchemaID},
	}

	for _, tt := range tests {
		t.Run(tt.arg, func(t *testing.T) {
			out, err := execute(t, "schema", tt.arg)
			require.NoError(t, err)

			var doc map[string]any
			require.NoError(t, json.Unmarshal([]byte(out), &doc))
			assert.Equal(t, tt.want, doc["$id"])
		})
	}
}

func TestSchemaCommand_Unknown(t *testing.T) {
	_, err := execute(t, "schema", "world")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown schema")
}
