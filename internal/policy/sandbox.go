// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package policy

import (
	"context"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// Stack limits of a policy state. Policy functions only rewrite flat
// property tables.
const (
	sandboxCallStackSize = 64
	sandboxRegistrySize  = 4 * 1024
)

// sandboxLibraries are opened in every policy state. os, io, debug and
// package are never opened.
var sandboxLibraries = map[string]lua.LGFunction{
	lua.BaseLibName:   lua.OpenBase,
	lua.TabLibName:    lua.OpenTable,
	lua.StringLibName: lua.OpenString,
	lua.MathLibName:   lua.OpenMath,
}

// sandboxOrder fixes the opening order; base must come first.
var sandboxOrder = []string{lua.BaseLibName, lua.TabLibName, lua.StringLibName, lua.MathLibName}

// Base functions that reach the filesystem or compile code at runtime.
var sandboxRemoved = []string{"dofile", "loadfile", "loadstring", "load", "require", "collectgarbage"}

// newState creates a sandboxed state that stops running when ctx is done.
func newState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:  true,
		CallStackSize: sandboxCallStackSize,
		RegistrySize:  sandboxRegistrySize,
	})

	for _, name := range sandboxOrder {
		open := L.NewFunction(sandboxLibraries[name])
		if err := L.CallByParam(lua.P{Fn: open, Protect: true}, lua.LString(name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("open %s library: %w", name, err)
		}
	}
	for _, name := range sandboxRemoved {
		L.SetGlobal(name, lua.LNil)
	}

	L.SetContext(ctx)
	return L, nil
}
