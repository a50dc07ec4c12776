// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mapshell/mapshell/internal/extension"
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/runtime"
	"github.com/mapshell/mapshell/internal/store"
	"github.com/mapshell/mapshell/internal/web"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func entries(names ...string) []plugin.ConfigEntry {
	out := make([]plugin.ConfigEntry, len(names))
	for i, n := range names {
		out[i] = plugin.ConfigEntry{Name: n}
	}
	return out
}

func toggle(state any, action store.Action) any {
	if action.Type == "TOGGLE_FLAG" {
		b, _ := state.(bool)
		return !b
	}
	return state
}

func newRuntime(t *testing.T, opts ...runtime.Option) *runtime.Runtime {
	t.Helper()
	plugins := map[string]*plugin.Implementation{
		"Map":     {Name: "Map", Component: plugin.NamedComponent("Map")},
		"Toolbar": {Name: "Toolbar", Component: plugin.NamedComponent("Toolbar"), Containers: map[string]plugin.ContainerSpec{"Map": {}}},
		"Legend":  {Name: "Legend", Component: plugin.NamedComponent("Legend"), Hide: "{state.flag}"},
	}
	rt, err := runtime.New(plugins, runtime.Config{
		Modes: map[string][]plugin.ConfigEntry{
			"desktop": entries("Map", "Toolbar", "Legend", "Ext"),
			"embedded": entries("Map"),
		},
		DefaultMode: "desktop",
		Monitor:     []plugin.MonitorRule{{Name: "flag", Path: "flag"}},
		State:       map[string]any{"flag": true},
		Reducers:    map[string]store.Reducer{"flag": toggle},
	}, append([]runtime.Option{runtime.WithLogger(quiet())}, opts...)...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	rt.Boot(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rt.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		rt.Close()
	})
	return rt
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp, out
}

func rootNames(view map[string]any) []string {
	var names []string
	root, _ := view["root"].([]any)
	for _, d := range root {
		names = append(names, d.(map[string]any)["name"].(string))
	}
	return names
}

func TestTree_ReturnsResolvedRoot(t *testing.T) {
	srv := httptest.NewServer(web.NewServer(newRuntime(t), web.WithLogger(quiet())))
	defer srv.Close()

	resp, body := do(t, srv, http.MethodGet, "/api/tree", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "desktop", body["mode"])
	assert.Equal(t, []string{"Map"}, rootNames(body))
	assert.Equal(t, true, body["ready"])
}

func TestActions_DispatchAndReResolve(t *testing.T) {
	srv := httptest.NewServer(web.NewServer(newRuntime(t), web.WithLogger(quiet())))
	defer srv.Close()

	resp, _ := do(t, srv, http.MethodPost, "/api/actions", `{"type":"TOGGLE_FLAG"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	assert.Eventually(t, func() bool {
		_, body := do(t, srv, http.MethodGet, "/api/tree", "")
		return assert.ObjectsAreEqual([]string{"Map", "Legend"}, rootNames(body))
	}, 2*time.Second, 10*time.Millisecond)

	_, state := do(t, srv, http.MethodGet, "/api/state", "")
	assert.Equal(t, false, state["flag"])
	_, monitored := do(t, srv, http.MethodGet, "/api/monitored", "")
	assert.Equal(t, false, monitored["flag"])
}

func TestActions_RejectsBadBodies(t *testing.T) {
	srv := httptest.NewServer(web.NewServer(newRuntime(t), web.WithLogger(quiet())))
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{type`},
		{"missing type", `{"payload": 1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := do(t, srv, http.MethodPost, "/api/actions", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, web.CodeBadRequest, body["code"])
		})
	}
}

func TestMode_SwitchAndReject(t *testing.T) {
	srv := httptest.NewServer(web.NewServer(newRuntime(t), web.WithLogger(quiet())))
	defer srv.Close()

	_, modes := do(t, srv, http.MethodGet, "/api/modes", "")
	assert.Equal(t, "desktop", modes["current"])
	assert.Equal(t, []any{"desktop", "embedded"}, modes["modes"])

	resp, body := do(t, srv, http.MethodPut, "/api/mode", `{"mode":"tablet"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, runtime.CodeUnknownMode, body["code"])

	resp, body = do(t, srv, http.MethodPut, "/api/mode", `{"mode":"embedded"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "embedded", body["mode"])
	assert.Equal(t, []string{"Map"}, rootNames(body))
}

func TestExtensions_DisabledIsNotFound(t *testing.T) {
	srv := httptest.NewServer(web.NewServer(newRuntime(t), web.WithLogger(quiet())))
	defer srv.Close()

	resp, body := do(t, srv, http.MethodGet, "/api/extensions", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, runtime.CodeNoExtensions, body["code"])
	assert.NotEmpty(t, body["hint"])
}

func extensionHost(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/extensions/extensions.json", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"Ext": {"bundle": "ext.lua", "translations": "ext/translations"}}`))
	})
	mux.HandleFunc("/extensions/ext.lua", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`return { containers = { Toolbar = true } }`))
	})
	host := httptest.NewServer(mux)
	t.Cleanup(host.Close)
	return host
}

func TestExtensions_ListReloadUninstall(t *testing.T) {
	host := extensionHost(t)
	rt := newRuntime(t, runtime.WithExtensions(extension.Config{BaseURL: host.URL + "/"}))
	srv := httptest.NewServer(web.NewServer(rt, web.WithLogger(quiet())))
	defer srv.Close()

	_, body := do(t, srv, http.MethodGet, "/api/extensions", "")
	assert.Equal(t, []any{"Ext"}, body["installed"])

	assert.Eventually(t, func() bool {
		return rt.Tree().Find("Ext") != nil
	}, 2*time.Second, 10*time.Millisecond)

	_, tr := do(t, srv, http.MethodGet, "/api/translations?locale=it", "")
	assert.Equal(t, "it-IT", tr["locale"])
	assert.Equal(t, []any{"translations/data.it-IT.json", "extensions/ext/translations/data.it-IT.json"}, tr["files"])

	resp, _ := do(t, srv, http.MethodDelete, "/api/extensions/Ext", "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Eventually(t, func() bool {
		return rt.Tree().Find("Ext") == nil
	}, 2*time.Second, 10*time.Millisecond)

	resp, body = do(t, srv, http.MethodDelete, "/api/extensions/Ext", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, extension.CodeNotInstalled, body["code"])

	resp, body = do(t, srv, http.MethodPost, "/api/extensions/reload", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []any{"Ext"}, body["installed"])
}

func TestTreeStream_SendsCurrentThenChanges(t *testing.T) {
	rt := newRuntime(t)
	srv := httptest.NewServer(web.NewServer(rt, web.WithLogger(quiet())))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/tree"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var first web.StreamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, web.MessageTree, first.Type)
	require.NotNil(t, first.Tree)
	require.Len(t, first.Tree.Root, 1)
	assert.Equal(t, "Map", first.Tree.Root[0].Name)

	rt.Dispatch(context.Background(), store.Action{Type: "TOGGLE_FLAG"})

	for {
		var msg web.StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type != web.MessageTree {
			continue
		}
		assert.NotEmpty(t, msg.EventID)
		if len(msg.Tree.Root) == 2 {
			assert.Equal(t, "Legend", msg.Tree.Root[1].Name)
			return
		}
	}
}
