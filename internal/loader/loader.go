// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package loader

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/store"
	"github.com/mapshell/mapshell/pkg/errutil"
)

// Entry is how to obtain one deferred plugin.
type Entry struct {
	Load plugin.LoadFunc
	// Priority orders batches, lowest first. A configuration entry's
	// loadPriority replaces it.
	Priority int
}

// Request is one load pass.
type Request struct {
	// Entries maps plugin names (either form) to loaders.
	Entries map[string]Entry
	// Config is the plugin configuration of the current context. Only
	// configured names are loaded.
	Config []plugin.ConfigEntry
	// Removed names are never loaded.
	Removed []string
}

// Result is the outcome of a pass. Plugins holds the requested plugins
// that are loaded, keyed by normalized name.
type Result struct {
	BatchID string                            `json:"batchId"`
	Plugins map[string]*plugin.Implementation `json:"-"`
	Failed  []string                          `json:"failed,omitempty"`
	Pending bool                              `json:"pending"`
}

// Names returns the simple names of the loaded plugins, sorted.
func (r Result) Names() []string {
	names := make([]string, 0, len(r.Plugins))
	for key := range r.Plugins {
		names = append(names, plugin.SimpleName(key))
	}
	slices.Sort(names)
	return names
}

// Augmenter is the part of the store the loader writes to. *store.Store
// implements it.
type Augmenter interface {
	Augment(ctx context.Context, cfg store.Config) []string
	MuteEpics(owner string)
	UnmuteEpics(owner string)
}

// Loader runs load passes.
type Loader struct {
	cache               *Cache
	injected            *InjectedSet
	store               Augmenter
	source              string
	reorderRequestsOnly bool
	logger              *slog.Logger
	tracer              trace.Tracer

	group singleflight.Group

	mu      sync.Mutex
	lastKey string
	last    *Result
	owned   map[string]struct{}

	inflight sync.WaitGroup
	pending  atomic.Int32
}

// Option configures a Loader.
type Option func(*Loader)

// WithCache shares a cache between loaders.
func WithCache(c *Cache) Option {
	return func(l *Loader) { l.cache = c }
}

// WithInjectedSet shares the injected reducer/processor registry.
func WithInjectedSet(s *InjectedSet) Option {
	return func(l *Loader) { l.injected = s }
}

// WithStore sets the store loaded reducers and processors are folded into.
func WithStore(s Augmenter) Option {
	return func(l *Loader) { l.store = s }
}

// WithSource labels metrics and logs ("lazy", "extension").
func WithSource(source string) Option {
	return func(l *Loader) { l.source = source }
}

// WithReorderRequestsOnly issues every batch at once, in priority order,
// instead of waiting for each priority to settle.
func WithReorderRequestsOnly(enabled bool) Option {
	return func(l *Loader) { l.reorderRequestsOnly = enabled }
}

// WithLogger sets the loader logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// New creates a loader.
func New(opts ...Option) *Loader {
	l := &Loader{
		source: "lazy",
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/mapshell/mapshell/internal/loader"),
		owned:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.cache == nil {
		l.cache = NewCache()
	}
	if l.injected == nil {
		l.injected = NewInjectedSet()
	}
	return l
}

// Cache returns the loader cache.
func (l *Loader) Cache() *Cache { return l.cache }

// Key is the normalized, joined key of a request. Passes with equal keys
// are not recomputed.
func Key(req Request) string {
	names := requested(req)
	keys := make([]string, len(names))
	for i, n := range names {
		keys[i] = plugin.NormalizeName(n)
	}
	slices.Sort(keys)
	removed := make([]string, len(req.Removed))
	for i, n := range req.Removed {
		removed[i] = plugin.NormalizeName(n)
	}
	slices.Sort(removed)
	return strings.Join(keys, ",") + "|" + strings.Join(removed, ",")
}

// requested lists configured names that have an entry and are not removed,
// in configuration order.
func requested(req Request) []string {
	entries := normalizeEntries(req.Entries)
	removed := make(map[string]bool, len(req.Removed))
	for _, n := range req.Removed {
		removed[plugin.NormalizeName(n)] = true
	}
	seen := make(map[string]bool)
	var names []string
	for _, e := range req.Config {
		key := e.Key()
		if _, ok := entries[key]; !ok || removed[key] || seen[key] {
			continue
		}
		seen[key] = true
		names = append(names, e.SimpleName())
	}
	return names
}

func normalizeEntries(entries map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(entries))
	for name, e := range entries {
		out[plugin.NormalizeName(name)] = e
	}
	return out
}

// Load runs a pass to completion. Plugins already in the cache are never
// loaded again; a failing loader only excludes its own plugin.
func (l *Loader) Load(ctx context.Context, req Request) Result {
	key := Key(req)
	l.mu.Lock()
	if l.last != nil && key == l.lastKey {
		r := *l.last
		l.mu.Unlock()
		return r
	}
	l.mu.Unlock()

	l.pending.Add(1)
	defer l.pending.Add(-1)

	batchID := ulid.Make().String()
	names := requested(req)
	ctx, span := l.tracer.Start(ctx, "loader.Load", trace.WithAttributes(
		attribute.String("batch.id", batchID),
		attribute.String("loader.source", l.source),
		attribute.Int("plugins.requested", len(names)),
	))
	defer span.End()

	l.loadBatches(ctx, batchID, names, req)

	result := Result{BatchID: batchID, Plugins: make(map[string]*plugin.Implementation)}
	for _, name := range names {
		e, _ := l.cache.Get(name)
		switch e.Status {
		case StatusLoaded:
			result.Plugins[plugin.NormalizeName(name)] = e.Impl
		case StatusError:
			result.Failed = append(result.Failed, name)
		}
	}

	l.inject(ctx, names, result.Plugins)
	l.activate(names, result.Plugins)

	l.logger.DebugContext(ctx, "plugin batch settled",
		"batch", batchID,
		"source", l.source,
		"loaded", len(result.Plugins),
		"failed", len(result.Failed))

	l.mu.Lock()
	l.lastKey = key
	l.last = &result
	l.mu.Unlock()
	return result
}

// Start returns immediately. When every requested plugin is already
// settled the result is final; otherwise it is pending and the pass runs
// in the background, calling done with the final result.
func (l *Loader) Start(ctx context.Context, req Request, done func(Result)) Result {
	names := requested(req)
	if !slices.ContainsFunc(names, func(n string) bool { return !l.cache.Settled(n) }) {
		return l.Load(ctx, req)
	}

	partial := Result{Pending: true, Plugins: make(map[string]*plugin.Implementation)}
	for _, name := range names {
		if e, ok := l.cache.Get(name); ok && e.Status == StatusLoaded {
			partial.Plugins[plugin.NormalizeName(name)] = e.Impl
		}
	}

	l.inflight.Add(1)
	go func() {
		defer l.inflight.Done()
		r := l.Load(context.WithoutCancel(ctx), req)
		if done != nil {
			done(r)
		}
	}()
	return partial
}

// Wait blocks until background passes finish.
func (l *Loader) Wait() {
	l.inflight.Wait()
}

// Pending reports whether a pass is running.
func (l *Loader) Pending() bool {
	return l.pending.Load() > 0
}

// Forget drops name from the cache and from the pass memo so that a later
// request loads it again.
func (l *Loader) Forget(name string) bool {
	l.mu.Lock()
	l.lastKey = ""
	l.last = nil
	delete(l.owned, plugin.NormalizeName(name))
	l.mu.Unlock()
	return l.cache.Uninstall(name)
}

func (l *Loader) loadBatches(ctx context.Context, batchID string, names []string, req Request) {
	entries := normalizeEntries(req.Entries)
	priorities := make(map[string]int, len(names))
	for _, e := range req.Config {
		if e.LoadPriority != nil {
			priorities[e.Key()] = *e.LoadPriority
		}
	}

	byPriority := make(map[int][]string)
	for _, name := range names {
		key := plugin.NormalizeName(name)
		if l.cache.Settled(name) {
			continue
		}
		p, ok := priorities[key]
		if !ok {
			p = entries[key].Priority
		}
		byPriority[p] = append(byPriority[p], name)
	}
	order := slices.Sorted(maps.Keys(byPriority))

	var g errgroup.Group
	for _, p := range order {
		for _, name := range byPriority[p] {
			entry := entries[plugin.NormalizeName(name)]
			g.Go(func() error {
				l.loadOne(ctx, batchID, name, entry)
				return nil
			})
		}
		if !l.reorderRequestsOnly {
			_ = g.Wait()
		}
	}
	_ = g.Wait()
}

// loadOne loads a single plugin. Identical names loading concurrently
// share one call.
func (l *Loader) loadOne(ctx context.Context, batchID, name string, entry Entry) {
	key := plugin.NormalizeName(name)
	_, _, _ = l.group.Do(key, func() (any, error) {
		if l.cache.Settled(name) {
			return nil, nil
		}
		l.cache.markPending(name)

		start := time.Now()
		impl, err := safeLoad(ctx, name, entry.Load)
		pluginLoadDuration.WithLabelValues(l.source).Observe(time.Since(start).Seconds())
		if err != nil {
			err = ErrLoadFailed(name, batchID, err)
			pluginLoads.WithLabelValues(l.source, string(StatusError)).Inc()
			errutil.LogWarn(ctx, l.logger, "plugin failed to load", err)
		} else {
			pluginLoads.WithLabelValues(l.source, string(StatusLoaded)).Inc()
		}
		l.cache.settle(name, impl, err)
		return nil, nil
	})
}

func safeLoad(ctx context.Context, name string, load plugin.LoadFunc) (impl *plugin.Implementation, err error) {
	defer func() {
		if r := recover(); r != nil {
			impl, err = nil, ErrLoadPanic(name, r)
		}
	}()
	if load == nil {
		return nil, ErrNilModule(name)
	}
	impl, err = load(ctx)
	if err != nil {
		return nil, err
	}
	if impl == nil {
		return nil, ErrNilModule(name)
	}
	if impl.Name == "" {
		named := *impl
		named.Name = plugin.SimpleName(name)
		impl = &named
	}
	return impl, nil
}

// inject folds reducers and processors of newly loaded plugins into the
// store. Names already injected by any loader sharing the set are skipped.
func (l *Loader) inject(ctx context.Context, names []string, loaded map[string]*plugin.Implementation) {
	if l.store == nil {
		return
	}
	for _, name := range names {
		impl := loaded[plugin.NormalizeName(name)]
		if impl == nil {
			continue
		}
		reducers, epics := l.injected.claim(impl)
		if len(reducers) == 0 && len(epics) == 0 {
			continue
		}
		injected := l.store.Augment(ctx, store.Config{Owner: name, Reducers: reducers, Epics: epics})
		l.logger.InfoContext(ctx, "plugin state injected",
			"plugin", name,
			"reducers", injected,
			"epics", slices.Sorted(maps.Keys(epics)))
	}
}

// activate unmutes processors of requested plugins and mutes those of
// plugins this loader loaded earlier that the current pass no longer asks
// for.
func (l *Loader) activate(names []string, loaded map[string]*plugin.Implementation) {
	if l.store == nil {
		return
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[plugin.NormalizeName(n)] = true
	}

	l.mu.Lock()
	for key := range loaded {
		l.owned[key] = struct{}{}
	}
	owned := slices.Sorted(maps.Keys(l.owned))
	l.mu.Unlock()

	for _, key := range owned {
		if want[key] {
			l.store.UnmuteEpics(plugin.SimpleName(key))
		} else {
			l.store.MuteEpics(plugin.SimpleName(key))
		}
	}
}
