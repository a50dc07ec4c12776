// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package extension

import (
	"context"
	"log/slog"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/mapshell/mapshell/internal/expr"
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/store"
	"github.com/mapshell/mapshell/pkg/errutil"
)

// DefaultScriptTimeout bounds every call into a bundle.
const DefaultScriptTimeout = time.Second

// Script is a compiled bundle: one sandboxed Lua state holding the
// plugin table. Calls are serialized. A closed script turns every
// reducer into the identity and every processor into a no-op.
type Script struct {
	name    string
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	L      *lua.LState
	closed bool

	reducers map[string]store.Reducer
	epics    map[string]store.Epic
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.L.Close()
}

// Closed reports whether Close was called.
func (s *Script) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Name returns the plugin name of the script.
func (s *Script) Name() string { return s.name }

// call invokes fn with args converted to Lua and returns its first result
// converted back.
func (s *Script) call(ctx context.Context, function string, fn *lua.LFunction, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrNotInstalled(s.name)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	largs := make([]lua.LValue, len(args))
	for i, a := range args {
		largs[i] = toLua(s.L, a)
	}
	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, largs...); err != nil {
		return nil, ErrScriptFailed(s.name, function, err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return fromLua(ret), nil
}

// CompileOption configures Compile.
type CompileOption func(*Script)

// WithScriptTimeout bounds calls into the bundle.
func WithScriptTimeout(d time.Duration) CompileOption {
	return func(s *Script) { s.timeout = d }
}

// WithScriptLogger sets the logger for reducer failures.
func WithScriptLogger(l *slog.Logger) CompileOption {
	return func(s *Script) { s.logger = l }
}

// Compile runs source in a sandbox and reads the plugin table it returns
// (or assigns to the global "plugin"):
//
//	return {
//	  name = "Measure",
//	  component = "MeasureTool",
//	  containers = { Toolbar = { priority = 1, position = 3, impl = "MeasureButton" } },
//	  cfg = { units = "metric" },
//	  disablePluginIf = "{state.mapType == 'cesium'}",
//	  enabler = function(monitored) return monitored.mapType ~= nil end,
//	  reducers = { measurement = function(state, action) return state end },
//	  epics = { onReset = function(action, state) return { { type = "CLEAR" } } end },
//	}
func Compile(ctx context.Context, name, source string, opts ...CompileOption) (*plugin.Implementation, *Script, error) {
	s := &Script{name: plugin.SimpleName(name), timeout: DefaultScriptTimeout, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}

	L, err := newSandbox()
	if err != nil {
		return nil, nil, ErrBundleInvalid(s.name, "sandbox", err)
	}
	s.L = L

	table, err := s.run(ctx, source)
	if err != nil {
		L.Close()
		return nil, nil, err
	}
	impl, err := s.implementation(table)
	if err != nil {
		L.Close()
		return nil, nil, err
	}
	return impl, s, nil
}

func (s *Script) run(ctx context.Context, source string) (*lua.LTable, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.L.SetContext(ctx)
	defer s.L.RemoveContext()

	fn, err := s.L.LoadString(source)
	if err != nil {
		return nil, ErrBundleInvalid(s.name, "syntax error", err)
	}
	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}); err != nil {
		return nil, ErrBundleInvalid(s.name, "execution failed", err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	if ret.Type() == lua.LTNil {
		ret = s.L.GetGlobal("plugin")
	}
	table, ok := ret.(*lua.LTable)
	if !ok {
		return nil, ErrBundleInvalid(s.name, "bundle must return a plugin table, got "+ret.Type().String(), nil)
	}
	return table, nil
}

func (s *Script) implementation(t *lua.LTable) (*plugin.Implementation, error) {
	impl := &plugin.Implementation{Name: s.name}
	if n, ok := t.RawGetString("name").(lua.LString); ok && n != "" {
		impl.Name = plugin.SimpleName(string(n))
	}
	if c, ok := t.RawGetString("component").(lua.LString); ok && c != "" {
		impl.Component = plugin.NamedComponent(c)
	} else {
		impl.Component = plugin.NamedComponent(impl.Name)
	}

	if cfg, ok := fromLua(t.RawGetString("cfg")).(map[string]any); ok {
		impl.Cfg = cfg
	}
	impl.DisablePluginIf = condition(t.RawGetString("disablePluginIf"))
	impl.Hide = condition(t.RawGetString("hide"))

	if fn, ok := t.RawGetString("enabler").(*lua.LFunction); ok {
		impl.Enabler = s.enabler(fn)
	}

	containers, err := s.containers(t.RawGetString("containers"))
	if err != nil {
		return nil, err
	}
	impl.Containers = containers

	reducers, err := functions(s.name, "reducers", t.RawGetString("reducers"))
	if err != nil {
		return nil, err
	}
	if len(reducers) > 0 {
		impl.Reducers = make(map[string]store.Reducer, len(reducers))
		for key, fn := range reducers {
			impl.Reducers[key] = s.reducer(key, fn)
		}
	}
	s.reducers = impl.Reducers

	epics, err := functions(s.name, "epics", t.RawGetString("epics"))
	if err != nil {
		return nil, err
	}
	if len(epics) > 0 {
		impl.Epics = make(map[string]store.Epic, len(epics))
		for key, fn := range epics {
			impl.Epics[key] = s.epic(key, fn)
		}
	}
	s.epics = impl.Epics
	return impl, nil
}

// condition keeps booleans and expression strings; anything else is unset.
func condition(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	default:
		return nil
	}
}

func functions(name, field string, v lua.LValue) (map[string]*lua.LFunction, error) {
	if v.Type() == lua.LTNil {
		return nil, nil
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, ErrBundleInvalid(name, field+" must be a table", nil)
	}
	out := make(map[string]*lua.LFunction)
	var bad string
	t.ForEach(func(k, item lua.LValue) {
		fn, ok := item.(*lua.LFunction)
		if !ok {
			bad = k.String()
			return
		}
		out[k.String()] = fn
	})
	if bad != "" {
		return nil, ErrBundleInvalid(name, field+"."+bad+" must be a function", nil)
	}
	return out, nil
}

func (s *Script) containers(v lua.LValue) (map[string]plugin.ContainerSpec, error) {
	if v.Type() == lua.LTNil {
		return nil, nil
	}
	t, ok := v.(*lua.LTable)
	if !ok {
		return nil, ErrBundleInvalid(s.name, "containers must be a table", nil)
	}
	out := make(map[string]plugin.ContainerSpec)
	var bad string
	t.ForEach(func(k, item lua.LValue) {
		spec := plugin.ContainerSpec{}
		ct, ok := item.(*lua.LTable)
		if !ok {
			if item != lua.LTrue {
				bad = k.String()
				return
			}
			out[plugin.SimpleName(k.String())] = spec
			return
		}
		ct.ForEach(func(field, fv lua.LValue) {
			switch field.String() {
			case "priority":
				if n, ok := luaInt(fv); ok {
					spec.Priority = n
				}
			case "position":
				if n, ok := luaInt(fv); ok {
					spec.Position = &n
				}
			case "doNotHide":
				spec.DoNotHide = lua.LVAsBool(fv)
			case "impl":
				if str, ok := fv.(lua.LString); ok {
					spec.Impl = plugin.NamedComponent(str)
				}
			default:
				if spec.Props == nil {
					spec.Props = make(map[string]any)
				}
				spec.Props[field.String()] = fromLua(fv)
			}
		})
		out[plugin.SimpleName(k.String())] = spec
	})
	if bad != "" {
		return nil, ErrBundleInvalid(s.name, "containers."+bad+" must be a table or true", nil)
	}
	return out, nil
}

func (s *Script) reducer(key string, fn *lua.LFunction) store.Reducer {
	return func(state any, action store.Action) any {
		out, err := s.call(context.Background(), "reducers."+key, fn, state, actionTable(action))
		if err != nil {
			if errutil.Code(err) != CodeNotInstalled {
				errutil.LogWarn(context.Background(), s.logger, "extension reducer failed", err)
			}
			return state
		}
		return out
	}
}

func (s *Script) epic(key string, fn *lua.LFunction) store.Epic {
	return func(ctx context.Context, action store.Action, getState store.GetState) ([]store.Action, error) {
		out, err := s.call(ctx, "epics."+key, fn, actionTable(action), getState())
		if err != nil {
			if errutil.Code(err) == CodeNotInstalled {
				return nil, nil
			}
			return nil, err
		}
		return actions(out), nil
	}
}

func (s *Script) enabler(fn *lua.LFunction) plugin.Enabler {
	return func(monitored map[string]any) bool {
		out, err := s.call(context.Background(), "enabler", fn, monitored)
		if err != nil {
			errutil.LogWarn(context.Background(), s.logger, "extension enabler failed", err)
			return false
		}
		return expr.Truthy(out)
	}
}

func actionTable(a store.Action) map[string]any {
	t := map[string]any{"type": a.Type}
	if a.Payload != nil {
		t["payload"] = a.Payload
	}
	if len(a.Meta) > 0 {
		meta := make(map[string]any, len(a.Meta))
		for k, v := range a.Meta {
			meta[k] = v
		}
		t["meta"] = meta
	}
	return t
}

// actions reads a processor result: a single action table or a list.
func actions(v any) []store.Action {
	switch val := v.(type) {
	case map[string]any:
		if a, ok := action(val); ok {
			return []store.Action{a}
		}
	case []any:
		var out []store.Action
		for _, item := range val {
			if m, ok := item.(map[string]any); ok {
				if a, ok := action(m); ok {
					out = append(out, a)
				}
			}
		}
		return out
	}
	return nil
}

func action(m map[string]any) (store.Action, bool) {
	typ, _ := m["type"].(string)
	if typ == "" {
		return store.Action{}, false
	}
	a := store.Action{Type: typ, Payload: m["payload"]}
	if meta, ok := m["meta"].(map[string]any); ok {
		a.Meta = meta
	}
	return a, true
}
