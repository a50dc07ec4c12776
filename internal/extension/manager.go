// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package extension

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/mapshell/mapshell/internal/events"
	"github.com/mapshell/mapshell/internal/i18n"
	"github.com/mapshell/mapshell/internal/loader"
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/store"
	"github.com/mapshell/mapshell/pkg/errutil"
)

// Actions handled by Manager.Epic.
const (
	ActionLoadExtensions    = "LOAD_EXTENSIONS"
	ActionPluginUninstalled = "PLUGIN_UNINSTALLED"
)

// DefaultManifestURL and DefaultFolder locate the registry and its assets.
const (
	DefaultManifestURL = "extensions/extensions.json"
	DefaultFolder      = "extensions/"
)

// Config locates the manifest and its assets.
type Config struct {
	// BaseURL resolves relative manifest and bundle paths.
	BaseURL     string
	ManifestURL string
	// Folder prefixes bundle and translation paths from the manifest.
	// Empty means DefaultFolder.
	Folder string
	// HostVersion is checked against each entry's requires constraint.
	HostVersion string
}

// installed is one manifest entry that passed validation.
type installed struct {
	name         string
	entry        Entry
	bundleURL    string
	translations string
	script       *Script
}

// Manager keeps the installed extension set, loads their bundles on
// demand, and uninstalls them one at a time.
type Manager struct {
	cfg           Config
	host          *semver.Version
	fetcher       *Fetcher
	loader        *loader.Loader
	catalog       *i18n.Catalog
	hub           *events.Hub
	logger        *slog.Logger
	scriptTimeout time.Duration

	mu        sync.RWMutex
	installed map[string]*installed
}

// Option configures a Manager.
type Option func(*Manager)

// WithFetcher sets the HTTP fetcher.
func WithFetcher(f *Fetcher) Option {
	return func(m *Manager) { m.fetcher = f }
}

// WithLoader sets the loader extension bundles go through. It should be
// created with loader.WithSource("extension").
func WithLoader(l *loader.Loader) Option {
	return func(m *Manager) { m.loader = l }
}

// WithCatalog sets the translation catalog extension paths are added to.
func WithCatalog(c *i18n.Catalog) Option {
	return func(m *Manager) { m.catalog = c }
}

// WithHub sets the hub lifecycle events are published on.
func WithHub(h *events.Hub) Option {
	return func(m *Manager) { m.hub = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithBundleTimeout bounds every call into a bundle.
func WithBundleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.scriptTimeout = d }
}

// NewManager creates a manager. It fails only on an unparsable host
// version.
func NewManager(cfg Config, opts ...Option) (*Manager, error) {
	if cfg.ManifestURL == "" {
		cfg.ManifestURL = DefaultManifestURL
	}
	if cfg.Folder == "" {
		cfg.Folder = DefaultFolder
	}
	m := &Manager{
		cfg:           cfg,
		logger:        slog.Default(),
		scriptTimeout: DefaultScriptTimeout,
		installed:     make(map[string]*installed),
	}
	if cfg.HostVersion != "" {
		v, err := semver.NewVersion(cfg.HostVersion)
		if err != nil {
			return nil, ErrBadConfig("hostVersion", err)
		}
		m.host = v
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.fetcher == nil {
		m.fetcher = NewFetcher(WithFetchLogger(m.logger))
	}
	if m.loader == nil {
		m.loader = loader.New(loader.WithSource("extension"), loader.WithLogger(m.logger))
	}
	if m.catalog == nil {
		m.catalog = i18n.NewCatalog()
	}
	if m.hub == nil {
		m.hub = events.NewHub(m.logger)
	}
	return m, nil
}

// Loader returns the loader extension bundles go through.
func (m *Manager) Loader() *loader.Loader { return m.loader }

// Refresh fetches the manifest and installs its entries. Entries missing
// from the new manifest, or whose bundle changed, are uninstalled first.
// A failed fetch keeps the current set.
func (m *Manager) Refresh(ctx context.Context) error {
	target, err := ResolveURL(m.cfg.BaseURL, m.cfg.ManifestURL)
	if err != nil {
		return ErrBadConfig("manifestURL", err)
	}
	data, err := m.fetcher.Get(ctx, "manifest", target)
	if err != nil {
		return err
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return err
	}

	next := make(map[string]*installed, len(manifest))
	for _, name := range manifest.Names() {
		e := manifest[name]
		if err := e.Compatible(name, m.host); err != nil {
			errutil.LogWarn(ctx, m.logger, "extension skipped", err)
			continue
		}
		bundleURL, err := ResolveURL(m.cfg.BaseURL, joinFolder(m.cfg.Folder, e.Bundle))
		if err != nil {
			errutil.LogWarn(ctx, m.logger, "extension skipped", ErrManifestInvalid(name+": bundle", err))
			continue
		}
		rec := &installed{name: plugin.SimpleName(name), entry: e, bundleURL: bundleURL}
		if e.Translations != "" {
			rec.translations = joinFolder(m.cfg.Folder, e.Translations)
		}
		next[plugin.NormalizeName(name)] = rec
	}

	m.mu.RLock()
	var stale []string
	for key, cur := range m.installed {
		if n, ok := next[key]; !ok || n.bundleURL != cur.bundleURL || n.translations != cur.translations {
			stale = append(stale, cur.name)
		}
	}
	m.mu.RUnlock()
	slices.Sort(stale)
	for _, name := range stale {
		_ = m.Uninstall(ctx, name)
	}

	var added, paths []*installed
	m.mu.Lock()
	for key, rec := range next {
		if _, ok := m.installed[key]; ok {
			continue
		}
		m.installed[key] = rec
		added = append(added, rec)
		if rec.translations != "" && m.catalog.AddPath(rec.translations) {
			paths = append(paths, rec)
		}
	}
	installedGauge.Set(float64(len(m.installed)))
	names := m.namesLocked()
	m.mu.Unlock()

	for _, rec := range paths {
		m.hub.Publish(events.New(events.TypeTranslationsChanged, rec.name, rec.translations))
	}
	addedNames := make([]string, len(added))
	for i, rec := range added {
		addedNames[i] = rec.name
	}
	slices.Sort(addedNames)
	m.logger.InfoContext(ctx, "extensions refreshed",
		"manifest", target,
		"installed", names,
		"added", addedNames,
		"removed", stale)
	m.hub.Publish(events.New(events.TypeExtensionsReloaded, "", names...))
	return nil
}

// Uninstall removes one extension: from the active set, from the
// translation search paths, from the loaded scripts and from the module
// cache. Other extensions are untouched.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	key := plugin.NormalizeName(name)
	m.mu.Lock()
	rec, ok := m.installed[key]
	if ok {
		delete(m.installed, key)
	}
	installedGauge.Set(float64(len(m.installed)))
	m.mu.Unlock()
	if !ok {
		return ErrNotInstalled(plugin.SimpleName(name))
	}

	if rec.script != nil {
		rec.script.Close()
	}
	m.loader.Forget(rec.name)
	if rec.translations != "" && m.catalog.RemovePath(rec.translations) {
		m.hub.Publish(events.New(events.TypeTranslationsChanged, rec.name, rec.translations))
	}

	m.logger.InfoContext(ctx, "extension uninstalled", "plugin", rec.name)
	m.hub.Publish(events.New(events.TypePluginUninstalled, rec.name))
	return nil
}

// Installed returns the simple names of installed extensions, sorted.
func (m *Manager) Installed() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.namesLocked()
}

func (m *Manager) namesLocked() []string {
	names := make([]string, 0, len(m.installed))
	for _, rec := range m.installed {
		names = append(names, rec.name)
	}
	slices.Sort(names)
	return names
}

// Scripts returns the names of extensions whose bundle is loaded.
func (m *Manager) Scripts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var names []string
	for _, key := range slices.Sorted(maps.Keys(m.installed)) {
		if s := m.installed[key].script; s != nil && !s.Closed() {
			names = append(names, m.installed[key].name)
		}
	}
	return names
}

// Entries returns a loader entry per installed extension.
func (m *Manager) Entries() map[string]loader.Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]loader.Entry, len(m.installed))
	for key, rec := range m.installed {
		out[key] = loader.Entry{Load: m.loadFunc(key, rec.bundleURL)}
	}
	return out
}

// Request builds a loader request for the configured plugins.
func (m *Manager) Request(config []plugin.ConfigEntry, removed []string) loader.Request {
	return loader.Request{Entries: m.Entries(), Config: config, Removed: removed}
}

// Plugins returns a registry-shaped map of deferred stubs, one per
// installed extension, so configuration can reference extensions before
// their bundles are fetched.
func (m *Manager) Plugins() map[string]*plugin.Implementation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*plugin.Implementation, len(m.installed))
	for key, rec := range m.installed {
		out[key] = plugin.ModulePlugin(rec.name, m.loadFunc(key, rec.bundleURL))
	}
	return out
}

func (m *Manager) loadFunc(key, bundleURL string) plugin.LoadFunc {
	return func(ctx context.Context) (*plugin.Implementation, error) {
		data, err := m.fetcher.Get(ctx, "bundle", bundleURL)
		if err != nil {
			return nil, err
		}
		impl, script, err := Compile(ctx, key, string(data),
			WithScriptTimeout(m.scriptTimeout),
			WithScriptLogger(m.logger))
		if err != nil {
			return nil, err
		}

		m.mu.Lock()
		defer m.mu.Unlock()
		rec, ok := m.installed[key]
		if !ok || rec.bundleURL != bundleURL {
			script.Close()
			return nil, ErrNotInstalled(plugin.SimpleName(key))
		}
		if rec.script != nil {
			rec.script.Close()
		}
		rec.script = script
		return m.forward(key, impl), nil
	}
}

// forward rebinds the state functions of impl to whatever script is
// installed under key at call time. Functions injected into the store
// once keep working after the extension is uninstalled and installed
// again; while it is uninstalled they are inert.
func (m *Manager) forward(key string, impl *plugin.Implementation) *plugin.Implementation {
	out := *impl
	if len(impl.Reducers) > 0 {
		out.Reducers = make(map[string]store.Reducer, len(impl.Reducers))
		for name := range impl.Reducers {
			out.Reducers[name] = func(state any, action store.Action) any {
				s := m.script(key)
				if s == nil || s.reducers[name] == nil {
					return state
				}
				return s.reducers[name](state, action)
			}
		}
	}
	if len(impl.Epics) > 0 {
		out.Epics = make(map[string]store.Epic, len(impl.Epics))
		for name := range impl.Epics {
			out.Epics[name] = func(ctx context.Context, action store.Action, getState store.GetState) ([]store.Action, error) {
				s := m.script(key)
				if s == nil || s.epics[name] == nil {
					return nil, nil
				}
				return s.epics[name](ctx, action, getState)
			}
		}
	}
	return &out
}

func (m *Manager) script(key string) *Script {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.installed[key]; ok {
		return rec.script
	}
	return nil
}

// Epic reacts to LOAD_EXTENSIONS by refreshing the manifest and to
// PLUGIN_UNINSTALLED by uninstalling the extension named in the payload,
// either a string or {"plugin": name}.
func (m *Manager) Epic() store.Epic {
	return func(ctx context.Context, action store.Action, _ store.GetState) ([]store.Action, error) {
		switch action.Type {
		case ActionLoadExtensions:
			return nil, m.Refresh(ctx)
		case ActionPluginUninstalled:
			name := uninstallTarget(action.Payload)
			if name == "" {
				return nil, nil
			}
			if err := m.Uninstall(ctx, name); err != nil {
				errutil.LogWarn(ctx, m.logger, "uninstall ignored", err)
			}
		}
		return nil, nil
	}
}

func uninstallTarget(payload any) string {
	switch p := payload.(type) {
	case string:
		return p
	case map[string]any:
		name, _ := p["plugin"].(string)
		return name
	}
	return ""
}

// Close releases every loaded script.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.installed {
		if rec.script != nil {
			rec.script.Close()
		}
	}
}
