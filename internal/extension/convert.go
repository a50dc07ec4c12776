// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package extension

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	lua "github.com/yuin/gopher-lua"
)

// maxConvertDepth bounds nested tables in either direction.
const maxConvertDepth = 32

// toLua converts a Go value into a Lua value. Maps and slices become
// tables; unknown types go through their JSON form.
func toLua(L *lua.LState, v any) lua.LValue {
	return toLuaDepth(L, v, 0)
}

func toLuaDepth(L *lua.LState, v any, depth int) lua.LValue {
	if depth > maxConvertDepth {
		return lua.LNil
	}
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return val
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case map[string]any:
		t := L.NewTable()
		for _, k := range sortedMapKeys(val) {
			t.RawSetString(k, toLuaDepth(L, val[k], depth+1))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, item := range val {
			t.Append(toLuaDepth(L, item, depth+1))
		}
		return t
	case []string:
		t := L.NewTable()
		for _, item := range val {
			t.Append(lua.LString(item))
		}
		return t
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return lua.LString(fmt.Sprint(val))
		}
		var generic any
		if err := json.Unmarshal(data, &generic); err != nil {
			return lua.LString(fmt.Sprint(val))
		}
		return toLuaDepth(L, generic, depth)
	}
}

// fromLua converts a Lua value into plain Go data. Tables with keys 1..n
// become []any, other tables map[string]any. Functions and userdata
// become nil.
func fromLua(v lua.LValue) any {
	return fromLuaDepth(v, 0)
}

func fromLuaDepth(v lua.LValue, depth int) any {
	if depth > maxConvertDepth {
		return nil
	}
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 && n == tableLen(val) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLuaDepth(val.RawGetInt(i), depth+1))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			if item.Type() == lua.LTFunction {
				return
			}
			out[k.String()] = fromLuaDepth(item, depth+1)
		})
		return out
	default:
		return nil
	}
}

func tableLen(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// luaInt reads an integral number.
func luaInt(v lua.LValue) (int, bool) {
	n, ok := v.(lua.LNumber)
	if !ok {
		return 0, false
	}
	f := float64(n)
	if f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func sortedMapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
