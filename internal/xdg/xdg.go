// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

// Package xdg provides XDG Base Directory paths for devmon.
package xdg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const appName = "devmon"

// ErrNoHome is returned when neither the XDG variable nor HOME is set.
var ErrNoHome = errors.New("HOME is not set")

func base(env string, fallback ...string) (string, error) {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, appName), nil
	}
	home := os.Getenv("HOME")
	if home == "" {
		return "", fmt.Errorf("%s: %w", env, ErrNoHome)
	}
	return filepath.Join(append(append([]string{home}, fallback...), appName)...), nil
}

// ConfigDir returns the XDG config directory for devmon.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() (string, error) {
	return base("XDG_CONFIG_HOME", ".config")
}

// DataDir returns the XDG data directory for devmon.
// Checks XDG_DATA_HOME first, falls back to ~/.local/share.
func DataDir() (string, error) {
	return base("XDG_DATA_HOME", ".local", "share")
}

// ConfigFile returns the default configuration file path.
func ConfigFile() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "devmon.yaml"), nil
}

// PluginsDir returns the default backend plugin directory.
func PluginsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "plugins"), nil
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}
