// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package config loads the devmond configuration.
//
// Values are layered: built-in defaults, then the YAML file, then command
// line flags that were explicitly set. Daemon flags map to dotted keys, so --log-format sets
// log.format.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/devmon/devmon/internal/logging"
	"github.com/devmon/devmon/internal/monitor"
	"github.com/devmon/devmon/internal/policy"
	"github.com/devmon/devmon/internal/spa"
	"github.com/devmon/devmon/internal/xdg"
)

// Error codes.
const (
	CodeConfigInvalid  = "CONFIG_INVALID"
	CodeConfigNotFound = "CONFIG_NOT_FOUND"
)

// DefaultMetricsAddr is the default observability listen address.
const DefaultMetricsAddr = "127.0.0.1:9120"

// Config is the daemon configuration.
type Config struct {
	Log      LogConfig       `koanf:"log" json:"log,omitempty"`
	Metrics  MetricsConfig   `koanf:"metrics" json:"metrics,omitempty"`
	Plugins  PluginsConfig   `koanf:"plugins" json:"plugins,omitempty"`
	Monitors []MonitorConfig `koanf:"monitors" json:"monitors,omitempty"`
	Policy   PolicyConfig    `koanf:"policy" json:"policy,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// MetricsConfig configures the observability server. An empty address
// disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr,omitempty"`
}

// PluginsConfig configures backend plugin discovery.
type PluginsConfig struct {
	Dir        string `koanf:"dir" json:"dir,omitempty"`
	APIVersion string `koanf:"api_version" json:"api_version,omitempty" jsonschema:"description=Plugin API version offered to manifests"`
}

// MonitorConfig declares one monitor to run.
type MonitorConfig struct {
	Factory      string   `koanf:"factory" json:"factory" jsonschema:"minLength=1"`
	Flags        []string `koanf:"flags" json:"flags,omitempty" jsonschema:"description=Monitor flags: use-adapter or local-nodes,uniqueItems=true"`
	StartRetries int      `koanf:"start_retries" json:"start_retries,omitempty" jsonschema:"minimum=0,maximum=20"`
}

// PolicyConfig configures property customization.
type PolicyConfig struct {
	Script string        `koanf:"script" json:"script,omitempty" jsonschema:"description=Lua script defining setup_device_props and setup_node_props"`
	Rules  []policy.Rule `koanf:"rules" json:"rules,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{
		Log: LogConfig{
			Format: logging.FormatJSON,
			Level:  "info",
		},
		Metrics: MetricsConfig{Addr: DefaultMetricsAddr},
		Plugins: PluginsConfig{APIVersion: spa.APIVersion},
	}
	if dir, err := xdg.PluginsDir(); err == nil {
		cfg.Plugins.Dir = dir
	}
	return cfg
}

// Load reads the file at path, if non-empty, and applies the changed flags
// in fs, if non-nil. A missing file is an error unless optional is set.
func Load(path string, fs *pflag.FlagSet, optional bool) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && optional:
		case err != nil:
			return nil, oops.Code(CodeConfigNotFound).
				In("config").
				With("path", path).
				Hint("pass --config or create the default file").
				Wrapf(err, "failed to read config")
		default:
			if err := ValidateSchema(data); err != nil {
				return nil, oops.Code(CodeConfigInvalid).
					In("config").
					With("path", path).
					Wrap(err)
			}
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, oops.Code(CodeConfigInvalid).
					In("config").
					With("path", path).
					Wrapf(err, "failed to parse config")
			}
		}
	}

	if fs != nil {
		if err := k.Load(posflag.ProviderWithFlag(fs, ".", k, flagKey(fs)), nil); err != nil {
			return nil, oops.Code(CodeConfigInvalid).
				In("config").
				Wrapf(err, "failed to load flags")
		}
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code(CodeConfigInvalid).
			In("config").
			Wrapf(err, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// flagKeys maps daemon flags to configuration keys. Other flags, and flags
// left at their defaults, are ignored.
var flagKeys = map[string]string{
	"log-format":    "log.format",
	"log-level":     "log.level",
	"metrics-addr":  "metrics.addr",
	"plugins-dir":   "plugins.dir",
	"policy-script": "policy.script",
}

func flagKey(fs *pflag.FlagSet) func(*pflag.Flag) (string, any) {
	return func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !ok || !f.Changed {
			return "", nil
		}
		return key, posflag.FlagVal(fs, f)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		return invalid("log.format: %v", err)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return invalid("log.level: %v", err)
	}
	if c.Plugins.APIVersion == "" {
		return invalid("plugins.api_version is required")
	}

	seen := make(map[string]bool, len(c.Monitors))
	for i, m := range c.Monitors {
		if strings.TrimSpace(m.Factory) == "" {
			return invalid("monitors[%d].factory is required", i)
		}
		if seen[m.Factory] {
			return invalid("monitors[%d]: factory %q is configured twice", i, m.Factory)
		}
		seen[m.Factory] = true
		if _, err := monitor.ParseFlags(m.Flags); err != nil {
			return invalid("monitors[%d]: %v", i, err)
		}
		if m.StartRetries < 0 {
			return invalid("monitors[%d].start_retries cannot be negative", i)
		}
	}

	if _, err := policy.New(c.Policy.Rules); err != nil {
		return oops.Code(CodeConfigInvalid).In("config").Wrapf(err, "policy.rules")
	}
	return nil
}

func invalid(format string, args ...any) error {
	return oops.Code(CodeConfigInvalid).In("config").Errorf(format, args...)
}

// MonitorFlags returns the parsed flags of a validated monitor entry.
func (m MonitorConfig) MonitorFlags() monitor.Flags {
	f, err := monitor.ParseFlags(m.Flags)
	if err != nil {
		panic(fmt.Sprintf("config: monitor %s was not validated: %v", m.Factory, err))
	}
	return f
}
