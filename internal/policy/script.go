// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Devmon Contributors

package policy

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/samber/oops"
	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/devmon/devmon/internal/property"
)

// Script entry points. Either may be left undefined.
const (
	DeviceFunction = "setup_device_props"
	NodeFunction   = "setup_node_props"
)

// DefaultScriptTimeout bounds one script invocation.
const DefaultScriptTimeout = time.Second

// Script is a compiled Lua policy script. Every invocation runs in a fresh
// sandboxed state, so a script keeps no state between calls.
type Script struct {
	name    string
	proto   *lua.FunctionProto
	timeout time.Duration
}

// CompileScript compiles Lua source. name is used in error messages.
func CompileScript(name, source string) (*Script, error) {
	chunk, err := parse.Parse(strings.NewReader(source), name)
	if err != nil {
		return nil, oops.Code(CodeScriptInvalid).
			In("policy").
			With("script", name).
			Wrapf(err, "parse script")
	}
	proto, err := lua.Compile(chunk, name)
	if err != nil {
		return nil, oops.Code(CodeScriptInvalid).
			In("policy").
			With("script", name).
			Wrapf(err, "compile script")
	}
	return &Script{name: name, proto: proto, timeout: DefaultScriptTimeout}, nil
}

// LoadScript reads and compiles a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		return nil, oops.Code(CodeScriptInvalid).
			In("policy").
			With("script", path).
			Wrapf(err, "read script")
	}
	return CompileScript(path, string(data))
}

// Name returns the script name.
func (s *Script) Name() string {
	return s.name
}

// WithTimeout returns a copy of s using timeout per invocation.
func (s *Script) WithTimeout(timeout time.Duration) *Script {
	c := *s
	c.timeout = timeout
	return &c
}

// SetupDevice calls setup_device_props(props). It reports whether the
// function exists. props is only modified when the call succeeds.
func (s *Script) SetupDevice(ctx context.Context, props *property.Properties) (bool, error) {
	return s.invoke(ctx, DeviceFunction, nil, props)
}

// SetupNode calls setup_node_props(device, node). Changes to the device
// table are discarded.
func (s *Script) SetupNode(ctx context.Context, device property.ReadOnly, node *property.Properties) (bool, error) {
	return s.invoke(ctx, NodeFunction, device, node)
}

func (s *Script) invoke(ctx context.Context, fn string, device property.ReadOnly, target *property.Properties) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	L, err := newState(ctx)
	if err != nil {
		return false, oops.Code(CodeScriptFailed).In("policy").With("script", s.name).Wrap(err)
	}
	defer L.Close()

	L.Push(L.NewFunctionFromProto(s.proto))
	if err := L.PCall(0, 0, nil); err != nil {
		return false, oops.Code(CodeScriptFailed).
			In("policy").
			With("script", s.name).
			Wrapf(err, "run script")
	}

	f, ok := L.GetGlobal(fn).(*lua.LFunction)
	if !ok {
		return false, nil
	}

	arg := toTable(L, target)
	args := make([]lua.LValue, 0, 2)
	if device != nil {
		args = append(args, toTable(L, device))
	}
	args = append(args, arg)

	if err := L.CallByParam(lua.P{Fn: f, NRet: 1, Protect: true}, args...); err != nil {
		return true, oops.Code(CodeScriptFailed).
			In("policy").
			With("script", s.name).
			With("function", fn).
			Wrapf(err, "call %s", fn)
	}
	ret := L.Get(-1)
	L.Pop(1)

	result := arg
	if t, ok := ret.(*lua.LTable); ok {
		result = t
	}
	values, err := fromTable(result)
	if err != nil {
		return true, oops.Code(CodeScriptFailed).
			In("policy").
			With("script", s.name).
			With("function", fn).
			Wrap(err)
	}

	replace(target, values)
	return true, nil
}

func toTable(L *lua.LState, props property.ReadOnly) *lua.LTable {
	t := L.CreateTable(0, props.Len())
	for _, it := range props.Items() {
		t.RawSetString(it.Key, lua.LString(it.Value))
	}
	return t
}

func fromTable(t *lua.LTable) (map[string]string, error) {
	values := make(map[string]string)
	var err error
	t.ForEach(func(k, v lua.LValue) {
		if err != nil {
			return
		}
		key, ok := k.(lua.LString)
		if !ok {
			err = fmt.Errorf("property key %s is a %s, want string", k.String(), k.Type())
			return
		}
		switch val := v.(type) {
		case lua.LString:
			values[string(key)] = string(val)
		case lua.LNumber, lua.LBool:
			values[string(key)] = val.String()
		default:
			err = fmt.Errorf("property %s is a %s, want string", key, v.Type())
		}
	})
	return values, err
}

// replace makes target hold exactly values. Surviving keys keep their
// position and new keys are appended in sorted order.
func replace(target *property.Properties, values map[string]string) {
	for _, key := range target.Keys() {
		if v, ok := values[key]; ok {
			target.Set(key, v)
			delete(values, key)
			continue
		}
		target.Unset(key)
	}

	added := make([]string, 0, len(values))
	for key := range values {
		added = append(added, key)
	}
	sort.Strings(added)
	for _, key := range added {
		target.Set(key, values[key])
	}
}
