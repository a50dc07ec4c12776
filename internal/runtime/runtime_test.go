// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package runtime_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/mapshell/mapshell/internal/events"
	"github.com/mapshell/mapshell/internal/extension"
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/runtime"
	"github.com/mapshell/mapshell/internal/store"
)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func entries(names ...string) []plugin.ConfigEntry {
	out := make([]plugin.ConfigEntry, len(names))
	for i, n := range names {
		out[i] = plugin.ConfigEntry{Name: n}
	}
	return out
}

func named(name string, containers map[string]plugin.ContainerSpec) *plugin.Implementation {
	return &plugin.Implementation{Name: name, Component: plugin.NamedComponent(name), Containers: containers}
}

func toggle(state any, action store.Action) any {
	if action.Type == "TOGGLE_FLAG" {
		b, _ := state.(bool)
		return !b
	}
	return state
}

func setMapType(state any, action store.Action) any {
	if action.Type == "SET_MAP_TYPE" {
		return map[string]any{"mapType": action.Payload}
	}
	return state
}

type lazyPlugin struct {
	loads atomic.Int32
	edits atomic.Int32
}

func (p *lazyPlugin) load(context.Context) (*plugin.Implementation, error) {
	p.loads.Add(1)
	return &plugin.Implementation{
		Component: plugin.NamedComponent("MeasureTool"),
		Reducers: map[string]store.Reducer{"measure": func(state any, _ store.Action) any {
			if state == nil {
				return "idle"
			}
			return state
		}},
		Epics: map[string]store.Epic{"onEdit": func(_ context.Context, a store.Action, _ store.GetState) ([]store.Action, error) {
			if a.Type == "EDIT" {
				p.edits.Add(1)
			}
			return nil, nil
		}},
	}, nil
}

var _ = Describe("Runtime", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
		rt     *runtime.Runtime
		lazy   *lazyPlugin
		done   chan struct{}
	)

	plugins := func() map[string]*plugin.Implementation {
		return map[string]*plugin.Implementation{
			"A":       named("A", nil),
			"B":       {Name: "B", Component: plugin.NamedComponent("B"), Hide: "{state.flag}"},
			"Map":     named("Map", nil),
			"Toolbar": named("Toolbar", map[string]plugin.ContainerSpec{"Map": {}}),
			"Zoom":    named("Zoom", map[string]plugin.ContainerSpec{"Toolbar": {Priority: 1}}),
			"MeasurePlugin": plugin.ModulePlugin("Measure", lazy.load,
				plugin.WithEnabler(func(m map[string]any) bool { return m["mapType"] == "openlayers" }),
				plugin.WithContainers(map[string]plugin.ContainerSpec{"Toolbar": {Priority: 5}})),
		}
	}

	start := func(cfg runtime.Config, opts ...runtime.Option) {
		var err error
		rt, err = runtime.New(plugins(), cfg, append([]runtime.Option{runtime.WithLogger(quiet())}, opts...)...)
		Expect(err).NotTo(HaveOccurred())
		rt.Boot(ctx)
		r, c, finished := rt, ctx, make(chan struct{})
		done = finished
		go func() {
			defer GinkgoRecover()
			defer close(finished)
			Expect(r.Run(c)).To(Succeed())
		}()
	}

	rootNames := func() []string { return rt.Tree().RootNames() }

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		lazy = &lazyPlugin{}
	})

	AfterEach(func() {
		cancel()
		if done != nil {
			Eventually(done).Should(BeClosed())
		}
		if rt != nil {
			rt.Close()
		}
		rt, done = nil, nil
	})

	Describe("conditional activation", func() {
		It("hides a plugin whose hide expression holds and shows it when state changes", func() {
			start(runtime.Config{
				Modes:       map[string][]plugin.ConfigEntry{"desktop": entries("A", "B")},
				DefaultMode: "desktop",
				Monitor:     []plugin.MonitorRule{{Name: "flag", Path: "flag"}},
				State:       map[string]any{"flag": true},
				Reducers:    map[string]store.Reducer{"flag": toggle},
			})

			Expect(rootNames()).To(Equal([]string{"A"}))

			rt.Dispatch(ctx, store.Action{Type: "TOGGLE_FLAG"})
			Eventually(rootNames).Should(Equal([]string{"A", "B"}))
		})

		It("resolves identical input to identical trees", func() {
			start(runtime.Config{
				Modes:       map[string][]plugin.ConfigEntry{"desktop": entries("Map", "Toolbar", "Zoom", "A")},
				DefaultMode: "desktop",
			})

			first := rt.Resolve(ctx)
			second := rt.Resolve(ctx)
			Expect(second).NotTo(BeIdenticalTo(first))
			Expect(second.Root).To(HaveLen(2))
			Expect(second.Root[0].String()).To(Equal(first.Root[0].String()))
			Expect(first.Root[0].String()).To(Equal("Map[Toolbar[Zoom]]"))
		})

		It("returns from Run once its context ends, before the runtime closes", func() {
			start(runtime.Config{
				Modes:       map[string][]plugin.ConfigEntry{"desktop": entries("A")},
				DefaultMode: "desktop",
			})
			rt.Invalidate()

			cancel()
			Eventually(done).Should(BeClosed())
			Expect(rootNames()).To(Equal([]string{"A"}))
		})
	})

	Describe("lazy modules", func() {
		It("loads an enabled module once and re-resolves with it", func() {
			hub := events.NewHub(quiet())
			sub := hub.Subscribe(events.TypeReducersLoaded)
			DeferCleanup(func() { hub.Unsubscribe(sub) })
			start(runtime.Config{
				Modes:       map[string][]plugin.ConfigEntry{"desktop": entries("Map", "Toolbar", "Zoom", "Measure")},
				DefaultMode: "desktop",
				State:       map[string]any{"maptype": map[string]any{"mapType": "openlayers"}},
			}, runtime.WithHub(hub))

			Eventually(func() string {
				return rt.Tree().Root[0].String()
			}).Should(Equal("Map[Toolbar[Measure Zoom]]"))
			Eventually(rt.Ready).Should(BeTrue())

			Expect(rt.State()).To(HaveKeyWithValue("measure", "idle"))
			Expect(lazy.loads.Load()).To(Equal(int32(1)))

			var e events.Event
			Eventually(sub).Should(Receive(&e))
			Expect(e.Type).To(Equal(events.TypeReducersLoaded))
			Expect(e.Names).To(ContainElement("measure"))

			rt.Resolve(ctx)
			rt.Wait()
			Expect(lazy.loads.Load()).To(Equal(int32(1)))
		})

		It("does not load a module whose enabler rejects the monitored state", func() {
			start(runtime.Config{
				Modes:       map[string][]plugin.ConfigEntry{"desktop": entries("Map", "Toolbar", "Measure")},
				DefaultMode: "desktop",
				State:       map[string]any{"maptype": map[string]any{"mapType": "cesium"}},
				Reducers:    map[string]store.Reducer{"maptype": setMapType},
			})

			Consistently(func() int32 { return lazy.loads.Load() }, 100*time.Millisecond).Should(BeZero())
			Expect(rt.Tree().Find("Measure")).To(BeNil())

			rt.Dispatch(ctx, store.Action{Type: "SET_MAP_TYPE", Payload: "openlayers"})
			Eventually(func() *plugin.Descriptor { return rt.Tree().Find("Measure") }).ShouldNot(BeNil())
		})

		It("mutes processors of modules the new mode does not use", func() {
			start(runtime.Config{
				Modes: map[string][]plugin.ConfigEntry{
					"desktop": entries("Map", "Toolbar", "Measure"),
					"mobile":  entries("Map"),
				},
				DefaultMode: "desktop",
				State:       map[string]any{"maptype": map[string]any{"mapType": "openlayers"}},
			})
			Eventually(func() []store.Registration { return rt.Store().Registrations() }).Should(
				ContainElement(store.Registration{Owner: "Measure", Name: "onEdit", Active: true}))

			_, err := rt.SetMode(ctx, "mobile")
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() []store.Registration { return rt.Store().Registrations() }).Should(
				ContainElement(store.Registration{Owner: "Measure", Name: "onEdit", Active: false}))

			rt.Dispatch(ctx, store.Action{Type: "EDIT"})
			rt.Wait()
			Expect(lazy.edits.Load()).To(BeZero())

			_, err = rt.SetMode(ctx, "desktop")
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() []store.Registration { return rt.Store().Registrations() }).Should(
				ContainElement(store.Registration{Owner: "Measure", Name: "onEdit", Active: true}))
			rt.Dispatch(ctx, store.Action{Type: "EDIT"})
			rt.Wait()
			Expect(lazy.edits.Load()).To(Equal(int32(1)))
			Expect(lazy.loads.Load()).To(Equal(int32(1)))
		})

		It("rejects unknown modes", func() {
			start(runtime.Config{Modes: map[string][]plugin.ConfigEntry{"desktop": entries("A")}, DefaultMode: "desktop"})
			_, err := rt.SetMode(ctx, "tablet")
			Expect(err).To(MatchError(ContainSubstring("unknown mode")))
			Expect(rt.Mode()).To(Equal("desktop"))
		})
	})

	Describe("removed plugins", func() {
		It("filters removed plugins and restores them", func() {
			start(runtime.Config{
				Modes:       map[string][]plugin.ConfigEntry{"desktop": entries("A", "Map")},
				DefaultMode: "desktop",
				Removed:     []string{"APlugin"},
			})
			Expect(rootNames()).To(Equal([]string{"Map"}))

			rt.Restore("A")
			Eventually(rootNames).Should(Equal([]string{"A", "Map"}))
		})
	})

	Describe("extensions", func() {
		var srv *httptest.Server

		BeforeEach(func() {
			mux := http.NewServeMux()
			mux.HandleFunc("/extensions/extensions.json", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`{"Ext": {"bundle": "ext.lua", "translations": "ext/translations"}, "Other": {"bundle": "other.lua"}}`))
			})
			mux.HandleFunc("/extensions/ext.lua", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`return {
					containers = { Toolbar = { priority = 3 } },
					reducers = { ext = function(state, action) return state or "ready" end },
				}`))
			})
			mux.HandleFunc("/extensions/other.lua", func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(`return { containers = { Toolbar = true } }`))
			})
			srv = httptest.NewServer(mux)
			DeferCleanup(srv.Close)
		})

		startWithExtensions := func() {
			start(runtime.Config{
				Modes:       map[string][]plugin.ConfigEntry{"desktop": entries("Map", "Toolbar", "Zoom", "Ext", "Other")},
				DefaultMode: "desktop",
			}, runtime.WithExtensions(extension.Config{
				BaseURL: srv.URL + "/",
				Folder:  "extensions/",
			}))
		}

		It("installs extensions from the manifest into their containers", func() {
			startWithExtensions()

			Eventually(func() string { return rt.Tree().Root[0].String() }).
				Should(Equal("Map[Toolbar[Ext Zoom Other]]"))
			Expect(rt.State()).To(HaveKeyWithValue("ext", "ready"))
			Expect(rt.Catalog().Paths()).To(ContainElement("extensions/ext/translations"))
		})

		It("uninstalls one extension on PLUGIN_UNINSTALLED without touching the others", func() {
			startWithExtensions()
			Eventually(func() *plugin.Descriptor { return rt.Tree().Find("Ext") }).ShouldNot(BeNil())

			rt.Dispatch(ctx, store.Action{
				Type:    extension.ActionPluginUninstalled,
				Payload: map[string]any{"plugin": "Ext"},
			})

			Eventually(func() *plugin.Descriptor { return rt.Tree().Find("Ext") }).Should(BeNil())
			Expect(rt.Tree().Find("Other")).NotTo(BeNil())
			Expect(rt.Removed()).To(ContainElement("ExtPlugin"))
			Expect(rt.Catalog().Paths()).NotTo(ContainElement("extensions/ext/translations"))

			m, err := rt.Extensions()
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Installed()).To(Equal([]string{"Other"}))
		})

		It("reinstalls on LOAD_EXTENSIONS", func() {
			startWithExtensions()
			m, err := rt.Extensions()
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() *plugin.Descriptor { return rt.Tree().Find("Ext") }).ShouldNot(BeNil())
			Expect(m.Uninstall(ctx, "Ext")).To(Succeed())
			Eventually(func() *plugin.Descriptor { return rt.Tree().Find("Ext") }).Should(BeNil())

			rt.Dispatch(ctx, store.Action{Type: extension.ActionLoadExtensions})
			Eventually(func() *plugin.Descriptor { return rt.Tree().Find("Ext") }).ShouldNot(BeNil())
			Expect(rt.Removed()).NotTo(ContainElement("ExtPlugin"))
		})

		It("reports extensions as disabled when not configured", func() {
			start(runtime.Config{Modes: map[string][]plugin.ConfigEntry{"desktop": entries("A")}, DefaultMode: "desktop"})
			_, err := rt.Extensions()
			Expect(err).To(MatchError(ContainSubstring("extensions are disabled")))
		})
	})
})
