// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package runtime owns everything one application instance shares between
// resolution passes: the registry, the module cache, the loaders, the
// extension manager, the store and the current descriptor tree.
package runtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/mapshell/mapshell/internal/events"
	"github.com/mapshell/mapshell/internal/expr"
	"github.com/mapshell/mapshell/internal/extension"
	"github.com/mapshell/mapshell/internal/i18n"
	"github.com/mapshell/mapshell/internal/loader"
	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/store"
	"github.com/mapshell/mapshell/pkg/errutil"
)

// ExtensionsOwner owns the extension lifecycle processor in the store.
const ExtensionsOwner = "extensions"

// Config is the static setup of a runtime.
type Config struct {
	// Modes maps a mode name (desktop, mobile, ...) to its plugin list.
	Modes       map[string][]plugin.ConfigEntry
	DefaultMode string
	// Monitor adds rules to the default monitored paths.
	Monitor  []plugin.MonitorRule
	Requires map[string]any
	// Removed plugins are filtered out of every pass.
	Removed []string

	// State, Reducers and Epics build the application store.
	State    map[string]any
	Reducers map[string]store.Reducer
	Epics    map[string]store.Epic

	ReorderRequestsOnly bool
}

// Runtime is one application instance.
type Runtime struct {
	cfg      Config
	logger   *slog.Logger
	registry *plugin.Registry
	eval     *expr.Evaluator
	monitor  *plugin.Monitor
	resolver *plugin.Resolver

	cache    *loader.Cache
	injected *loader.InjectedSet
	lazy     *loader.Loader
	lazyEnt  map[string]loader.Entry
	ext      *extension.Manager
	extLoad  *loader.Loader

	slots   *store.Slots
	store   *store.Store
	unsub   func()
	hub     *events.Hub
	extSub  chan events.Event
	catalog *i18n.Catalog

	kick chan struct{}

	mu        sync.RWMutex
	mode      string
	request   map[string]any
	removed   map[string]bool
	requested map[string]bool
	tree      *plugin.Tree
	treeKey   string
}

// Option configures a Runtime.
type Option func(*options)

type options struct {
	logger     *slog.Logger
	hub        *events.Hub
	catalog    *i18n.Catalog
	slots      *store.Slots
	extensions *extension.Config
	extOpts    []extension.Option
	storeOpts  []store.Option
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHub sets the event hub.
func WithHub(h *events.Hub) Option {
	return func(o *options) { o.hub = h }
}

// WithCatalog sets the translation catalog.
func WithCatalog(c *i18n.Catalog) Option {
	return func(o *options) { o.catalog = c }
}

// WithSlots sets the store slot table the application store is created in.
func WithSlots(s *store.Slots) Option {
	return func(o *options) { o.slots = s }
}

// WithStoreOptions passes options to the application store.
func WithStoreOptions(opts ...store.Option) Option {
	return func(o *options) { o.storeOpts = append(o.storeOpts, opts...) }
}

// WithExtensions enables the extension manager.
func WithExtensions(cfg extension.Config, opts ...extension.Option) Option {
	return func(o *options) {
		o.extensions = &cfg
		o.extOpts = opts
	}
}

// New builds a runtime over the static plugins. Nothing is resolved until
// Boot or Resolve is called.
func New(plugins map[string]*plugin.Implementation, cfg Config, opts ...Option) (*Runtime, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.hub == nil {
		o.hub = events.NewHub(o.logger)
	}
	if o.catalog == nil {
		o.catalog = i18n.NewCatalog()
	}
	if o.slots == nil {
		o.slots = store.NewSlots(append([]store.Option{store.WithLogger(o.logger)}, o.storeOpts...)...)
	}

	r := &Runtime{
		cfg:       cfg,
		logger:    o.logger,
		registry:  plugin.NewRegistry(plugins),
		monitor:   plugin.NewMonitor(cfg.Monitor...),
		cache:     loader.NewCache(),
		injected:  loader.NewInjectedSet(),
		slots:     o.slots,
		hub:       o.hub,
		catalog:   o.catalog,
		kick:      make(chan struct{}, 1),
		mode:      cfg.DefaultMode,
		removed:   make(map[string]bool),
		requested: make(map[string]bool),
	}
	for _, name := range cfg.Removed {
		r.removed[plugin.NormalizeName(name)] = true
	}
	r.eval = expr.New(expr.WithLogger(r.logger))
	r.resolver = plugin.NewResolver(r.registry, r.eval,
		plugin.WithLogger(r.logger),
		plugin.WithRequester(r))

	st, err := r.slots.Create(store.DefaultSlot, store.Config{
		Reducers: cfg.Reducers,
		Epics:    cfg.Epics,
		State:    cfg.State,
		Middleware: []store.Middleware{
			store.LoggingMiddleware(r.logger),
			r.reducersLoaded,
		},
	})
	if err != nil {
		return nil, ErrStoreUnavailable(err)
	}
	r.store = st
	r.unsub = st.Subscribe(func(map[string]any) { r.Invalidate() })

	r.lazyEnt = make(map[string]loader.Entry)
	for key, impl := range r.registry.Plugins(plugin.KindAll) {
		if impl.Deferred() {
			r.lazyEnt[key] = loader.Entry{Load: impl.Load}
		}
	}
	r.lazy = loader.New(
		loader.WithSource("lazy"),
		loader.WithCache(r.cache),
		loader.WithInjectedSet(r.injected),
		loader.WithStore(st),
		loader.WithReorderRequestsOnly(cfg.ReorderRequestsOnly),
		loader.WithLogger(r.logger))

	if o.extensions != nil {
		r.extLoad = loader.New(
			loader.WithSource("extension"),
			loader.WithCache(r.cache),
			loader.WithInjectedSet(r.injected),
			loader.WithStore(st),
			loader.WithLogger(r.logger))
		extOpts := append(slices.Clone(o.extOpts),
			extension.WithLoader(r.extLoad),
			extension.WithCatalog(r.catalog),
			extension.WithHub(r.hub),
			extension.WithLogger(r.logger))
		m, err := extension.NewManager(*o.extensions, extOpts...)
		if err != nil {
			st.Close()
			return nil, err
		}
		r.ext = m
		st.AddEpics(ExtensionsOwner, map[string]store.Epic{"extensionLifecycle": m.Epic()})
		r.extSub = r.hub.Subscribe(events.TypePluginUninstalled, events.TypeExtensionsReloaded)
	}
	return r, nil
}

// reducersLoaded publishes every REDUCERS_LOADED action on the hub.
func (r *Runtime) reducersLoaded(next store.Dispatch) store.Dispatch {
	return func(ctx context.Context, action store.Action) {
		next(ctx, action)
		if action.Type != store.ActionReducersLoaded {
			return
		}
		names, _ := action.Payload.([]string)
		r.hub.Publish(events.New(events.TypeReducersLoaded, "", names...))
	}
}

// Boot fetches the extension manifest when extensions are enabled, then
// resolves the first tree. A manifest failure is logged; the application
// starts without extensions.
func (r *Runtime) Boot(ctx context.Context) *plugin.Tree {
	if r.ext != nil {
		if err := r.ext.Refresh(ctx); err != nil {
			errutil.LogWarn(ctx, r.logger, "extensions unavailable", err)
		}
		r.drainExtensionEvents()
	}
	return r.Resolve(ctx)
}

// Run re-resolves whenever the runtime is invalidated, until ctx ends.
func (r *Runtime) Run(ctx context.Context) error {
	extSub := r.extSub
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-extSub:
			if !ok {
				extSub = nil
				continue
			}
			r.applyExtensionEvent(e)
			r.Resolve(ctx)
		case <-r.kick:
			r.Resolve(ctx)
		}
	}
}

// Invalidate asks Run for another pass. It never blocks.
func (r *Runtime) Invalidate() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Runtime) drainExtensionEvents() {
	for {
		select {
		case e, ok := <-r.extSub:
			if !ok {
				return
			}
			r.applyExtensionEvent(e)
		default:
			return
		}
	}
}

// applyExtensionEvent keeps the removed list in step with the installed
// extensions.
func (r *Runtime) applyExtensionEvent(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch e.Type {
	case events.TypePluginUninstalled:
		r.removed[plugin.NormalizeName(e.Plugin)] = true
	case events.TypeExtensionsReloaded:
		for _, name := range e.Names {
			delete(r.removed, plugin.NormalizeName(name))
		}
	}
}

// RequestLoad implements plugin.Requester. Requests are collected during
// a pass and started as one batch when the pass ends.
func (r *Runtime) RequestLoad(name string) {
	r.mu.Lock()
	r.requested[plugin.NormalizeName(name)] = true
	r.mu.Unlock()
}

// Resolve runs one pass over the current mode and state, starts the loads
// the pass asked for, and publishes TypeTreeChanged when the tree differs
// from the previous one.
func (r *Runtime) Resolve(ctx context.Context) *plugin.Tree {
	monitored, err := r.monitor.Project(r.store.GetState())
	if err != nil {
		errutil.LogWarn(ctx, r.logger, "state projection failed", err)
	}

	loaded := r.cache.Loaded()
	if r.ext != nil {
		for key, stub := range r.ext.Plugins() {
			if _, ok := loaded[key]; !ok {
				loaded[key] = stub
			}
		}
	}

	r.mu.RLock()
	entries := r.cfg.Modes[r.mode]
	in := plugin.Input{
		Entries:   entries,
		Loaded:    loaded,
		Removed:   r.removedLocked(),
		Monitored: monitored,
		Requires:  r.cfg.Requires,
		Request:   r.request,
	}
	r.mu.RUnlock()

	tree := r.resolver.ResolveTree(ctx, in)
	r.syncLoads(ctx, entries, in.Removed)

	key := fingerprint(tree)
	r.mu.Lock()
	changed := key != r.treeKey || r.tree == nil
	r.tree = tree
	r.treeKey = key
	r.mu.Unlock()

	if changed {
		r.hub.Publish(events.New(events.TypeTreeChanged, "", tree.RootNames()...))
	}
	return tree
}

// syncLoads starts the lazy batch for plugins requested so far in this
// mode and the extension batch for configured extensions. Both loaders
// also mute processors of plugins the mode no longer uses.
func (r *Runtime) syncLoads(ctx context.Context, entries []plugin.ConfigEntry, removed []string) {
	r.mu.Lock()
	var lazyCfg []plugin.ConfigEntry
	for _, e := range entries {
		key := e.Key()
		if _, ok := r.lazyEnt[key]; !ok {
			continue
		}
		if r.requested[key] || r.cache.Settled(key) {
			lazyCfg = append(lazyCfg, e)
		}
	}
	r.mu.Unlock()

	r.lazy.Start(ctx, loader.Request{Entries: r.lazyEnt, Config: lazyCfg, Removed: removed}, r.loaded)
	if r.ext != nil {
		r.extLoad.Start(ctx, r.ext.Request(entries, removed), r.loaded)
	}
}

func (r *Runtime) loaded(res loader.Result) {
	r.logger.Debug("plugin batch loaded",
		"batch", res.BatchID,
		"loaded", res.Names(),
		"failed", res.Failed)
	r.Invalidate()
}

func (r *Runtime) removedLocked() []string {
	return slices.Sorted(maps.Keys(r.removed))
}

func fingerprint(t *plugin.Tree) string {
	data, err := json.Marshal(t)
	if err != nil {
		return ""
	}
	return string(data)
}

// Tree returns the tree of the last pass, or nil before the first.
func (r *Runtime) Tree() *plugin.Tree {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tree
}

// Mode returns the current mode.
func (r *Runtime) Mode() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mode
}

// Modes returns the configured mode names, sorted.
func (r *Runtime) Modes() []string {
	return slices.Sorted(maps.Keys(r.cfg.Modes))
}

// SetMode switches the plugin list and resolves. Lazy requests of the
// previous mode are forgotten; plugins it loaded stay cached with their
// processors muted.
func (r *Runtime) SetMode(ctx context.Context, mode string) (*plugin.Tree, error) {
	if _, ok := r.cfg.Modes[mode]; !ok {
		return nil, ErrUnknownMode(mode, r.Modes())
	}
	r.mu.Lock()
	r.mode = mode
	r.requested = make(map[string]bool)
	r.mu.Unlock()
	return r.Resolve(ctx), nil
}

// SetRequest sets the values the request.* expression root reads.
func (r *Runtime) SetRequest(values map[string]any) {
	r.mu.Lock()
	r.request = values
	r.mu.Unlock()
	r.Invalidate()
}

// Remove filters plugins out of every later pass.
func (r *Runtime) Remove(names ...string) {
	r.mu.Lock()
	for _, n := range names {
		r.removed[plugin.NormalizeName(n)] = true
	}
	r.mu.Unlock()
	r.Invalidate()
}

// Restore undoes Remove.
func (r *Runtime) Restore(names ...string) {
	r.mu.Lock()
	for _, n := range names {
		delete(r.removed, plugin.NormalizeName(n))
	}
	r.mu.Unlock()
	r.Invalidate()
}

// Removed returns the removed plugin names, normalized and sorted.
func (r *Runtime) Removed() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.removedLocked()
}

// Dispatch sends an action to the application store.
func (r *Runtime) Dispatch(ctx context.Context, action store.Action) {
	r.store.Dispatch(ctx, action)
}

// State returns the application state.
func (r *Runtime) State() map[string]any {
	return r.store.GetState()
}

// Monitored returns the current monitored projection.
func (r *Runtime) Monitored() map[string]any {
	m, _ := r.monitor.Project(r.store.GetState())
	return m
}

// Ready reports whether no module batch is pending.
func (r *Runtime) Ready() bool {
	if r.cache.Pending() || r.lazy.Pending() {
		return false
	}
	return r.extLoad == nil || !r.extLoad.Pending()
}

// Wait blocks until background loads and the processors they trigger are
// done.
func (r *Runtime) Wait() {
	r.lazy.Wait()
	if r.extLoad != nil {
		r.extLoad.Wait()
	}
	r.store.Wait()
}

// Extensions returns the extension manager, or ErrNoExtensions.
func (r *Runtime) Extensions() (*extension.Manager, error) {
	if r.ext == nil {
		return nil, ErrNoExtensions()
	}
	return r.ext, nil
}

// Registry returns the static registry.
func (r *Runtime) Registry() *plugin.Registry { return r.registry }

// Cache returns the module cache shared by both loaders.
func (r *Runtime) Cache() *loader.Cache { return r.cache }

// Store returns the application store.
func (r *Runtime) Store() *store.Store { return r.store }

// Hub returns the event hub.
func (r *Runtime) Hub() *events.Hub { return r.hub }

// Catalog returns the translation catalog.
func (r *Runtime) Catalog() *i18n.Catalog { return r.catalog }

// Monitor returns the monitored-state projection.
func (r *Runtime) Monitor() *plugin.Monitor { return r.monitor }

// Close waits for background work and releases the store and scripts.
func (r *Runtime) Close() {
	r.unsub()
	r.Wait()
	if r.ext != nil {
		r.ext.Close()
		r.hub.Unsubscribe(r.extSub)
	}
	r.slots.Close()
}
