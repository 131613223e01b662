// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package capability_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devmon/devmon/internal/plugin/capability"
)

func TestEnforcer_Check(t *testing.T) {
	tests := []struct {
		name    string
		grants  []string
		factory string
		want    bool
	}{
		{name: "exact match", grants: []string{"api.alsa.enum.udev"}, factory: "api.alsa.enum.udev", want: true},
		{name: "single segment wildcard", grants: []string{"api.alsa.*"}, factory: "api.alsa.enum", want: true},
		{name: "single segment does not cross dots", grants: []string{"api.alsa.*"}, factory: "api.alsa.pcm.device", want: false},
		{name: "super wildcard crosses dots", grants: []string{"api.alsa.**"}, factory: "api.alsa.pcm.device", want: true},
		{name: "root super wildcard", grants: []string{"**"}, factory: "api.v4l2.device", want: true},
		{name: "second grant matches", grants: []string{"api.bluez5.*", "api.test.*"}, factory: "api.test.enum", want: true},
		{name: "no match", grants: []string{"api.bluez5.*"}, factory: "api.alsa.enum", want: false},
		{name: "empty factory denied", grants: []string{"**"}, factory: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := capability.NewEnforcer()
			require.NoError(t, e.SetGrants("alsa", tt.grants))
			assert.Equal(t, tt.want, e.Check("alsa", tt.factory))
		})
	}
}

func TestEnforcer_UnknownPluginDenied(t *testing.T) {
	e := capability.NewEnforcer()
	assert.False(t, e.Check("missing", "api.test.enum"))
	assert.False(t, e.IsRegistered("missing"))
}

func TestEnforcer_ZeroValue(t *testing.T) {
	var e capability.Enforcer
	assert.False(t, e.Check("alsa", "api.alsa.enum"))
	require.NoError(t, e.SetGrants("alsa", []string{"api.alsa.*"}))
	assert.True(t, e.Check("alsa", "api.alsa.enum"))
}

func TestEnforcer_SetGrantsAtomic(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("alsa", []string{"api.alsa.*"}))

	err := e.SetGrants("alsa", []string{"api.alsa.**", ""})
	require.Error(t, err)
	assert.Equal(t, []string{"api.alsa.*"}, e.Grants("alsa"))

	err = e.SetGrants("alsa", []string{"api.[alsa"})
	require.Error(t, err)

	assert.Error(t, e.SetGrants("", []string{"**"}))
}

func TestEnforcer_GrantsIsCopy(t *testing.T) {
	e := capability.NewEnforcer()
	patterns := []string{"api.alsa.*"}
	require.NoError(t, e.SetGrants("alsa", patterns))
	patterns[0] = "**"

	got := e.Grants("alsa")
	assert.Equal(t, []string{"api.alsa.*"}, got)
	got[0] = "**"
	assert.False(t, e.Check("alsa", "api.v4l2.device"))
	assert.Nil(t, e.Grants("missing"))
}

func TestEnforcer_RemoveGrants(t *testing.T) {
	e := capability.NewEnforcer()
	require.NoError(t, e.SetGrants("alsa", []string{"**"}))
	e.RemoveGrants("alsa")
	e.RemoveGrants("never-registered")

	assert.False(t, e.IsRegistered("alsa"))
	assert.False(t, e.Check("alsa", "api.alsa.enum"))
}
