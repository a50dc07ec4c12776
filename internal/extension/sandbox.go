// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package extension

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

type safeLibrary struct {
	name string
	fn   lua.LGFunction
}

// safeLibraries are the libraries bundles may use.
// Blocked: os, io, debug, package, channel, coroutine.
var safeLibraries = []safeLibrary{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// unsafeBaseFunctions give filesystem or code-loading access.
var unsafeBaseFunctions = []string{"dofile", "loadfile", "loadstring", "load", "require", "collectgarbage"}

// newSandbox creates a Lua state with only safe libraries loaded.
func newSandbox() (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		IncludeGoStackTrace: false,
	})
	for _, lib := range safeLibraries {
		if err := L.CallByParam(lua.P{
			Fn:      L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open library %s: %w", lib.name, err)
		}
	}
	for _, fn := range unsafeBaseFunctions {
		L.SetGlobal(fn, lua.LNil)
	}
	return L, nil
}
