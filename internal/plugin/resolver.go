// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package plugin

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mapshell/mapshell/internal/expr"
	"github.com/mapshell/mapshell/pkg/errutil"
)

// MaxTreeDepth bounds descriptor nesting.
const MaxTreeDepth = 64

// Requester triggers the asynchronous load of a deferred plugin. It must
// not block; the plugin appears on a later pass once loaded.
type Requester interface {
	RequestLoad(name string)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(name string)

// RequestLoad implements Requester.
func (f RequesterFunc) RequestLoad(name string) { f(name) }

// Input is everything one resolution pass reads.
type Input struct {
	Entries []ConfigEntry
	// Loaded holds implementations resolved asynchronously, keyed by
	// normalized name.
	Loaded map[string]*Implementation
	// Removed names are filtered out regardless of configuration.
	Removed   []string
	Monitored map[string]any
	Requires  map[string]any
	Request   map[string]any
}

func (in Input) scope() expr.Scope {
	return expr.Scope{State: StateFunc(in.Monitored), Requires: in.Requires, Request: in.Request}
}

// Resolver turns configuration lists into descriptor trees.
type Resolver struct {
	registry  *Registry
	eval      *expr.Evaluator
	logger    *slog.Logger
	requester Requester
	tracer    trace.Tracer
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the resolver logger.
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// WithRequester sets who is asked to load deferred plugins.
func WithRequester(req Requester) ResolverOption {
	return func(r *Resolver) { r.requester = req }
}

// NewResolver creates a resolver over registry. eval may be nil.
func NewResolver(registry *Registry, eval *expr.Evaluator, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		registry: registry,
		eval:     eval,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/mapshell/mapshell/internal/plugin"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.eval == nil {
		r.eval = expr.New(expr.WithLogger(r.logger))
	}
	return r
}

// active is a plugin that survived pruning in one pass.
type active struct {
	entry ConfigEntry
	impl  *Implementation
	cfg   map[string]any
	cand  *Candidate
}

// pass is the state of one resolution.
type pass struct {
	r        *Resolver
	ctx      context.Context
	actives  []*active
	byName   map[string]*active
	cands    []*Candidate
	rendered map[string]bool
}

// ResolveTree resolves the whole list. Configuration problems only ever
// remove the smallest affected unit.
func (r *Resolver) ResolveTree(ctx context.Context, in Input) *Tree {
	ctx, span := r.tracer.Start(ctx, "plugin.ResolveTree")
	defer span.End()
	start := time.Now()
	defer func() { resolveDuration.Observe(time.Since(start).Seconds()) }()

	p, requested := r.newPass(ctx, in)
	tree := &Tree{Requested: requested}
	for _, pl := range RootItems(p.cands) {
		if d := p.build(pl, nil); d != nil {
			tree.Root = append(tree.Root, d)
		}
	}

	for _, a := range p.actives {
		if p.rendered[a.cand.Name] {
			continue
		}
		tree.Unrendered = append(tree.Unrendered, a.cand.Name)
		droppedPlugins.WithLabelValues(DropUnrendered).Inc()
		errutil.LogWarn(ctx, r.logger, "plugin not rendered", ErrUnrendered(a.cand.Name))
	}

	span.SetAttributes(
		attribute.Int("plugins.active", len(p.actives)),
		attribute.Int("plugins.root", len(tree.Root)),
		attribute.Int("plugins.requested", len(requested)),
	)
	return tree
}

// Resolve resolves a single entry of the list, with the plugins placed in
// its containers as items. It returns nil when the entry is unknown,
// disabled, hidden or still loading. An entry missing from in.Entries is
// resolved as if appended to it.
func (r *Resolver) Resolve(ctx context.Context, in Input, entry ConfigEntry) *Descriptor {
	if !slices.ContainsFunc(in.Entries, func(e ConfigEntry) bool { return e.Key() == entry.Key() }) {
		in.Entries = append(slices.Clone(in.Entries), entry)
	}
	p, _ := r.newPass(ctx, in)
	a, ok := p.byName[entry.SimpleName()]
	if !ok {
		return nil
	}
	return p.build(Placement{Candidate: a.cand}, nil)
}

func (r *Resolver) newPass(ctx context.Context, in Input) (*pass, []string) {
	actives, requested := r.activate(ctx, in)
	p := &pass{
		r:        r,
		ctx:      ctx,
		actives:  actives,
		byName:   make(map[string]*active, len(actives)),
		cands:    make([]*Candidate, len(actives)),
		rendered: make(map[string]bool, len(actives)),
	}
	for i, a := range actives {
		p.byName[a.cand.Name] = a
		p.cands[i] = a.cand
	}
	return p, requested
}

// activate computes the active set. Pruned plugins never reach container
// placement, so they cannot take a slot or win a container.
func (r *Resolver) activate(ctx context.Context, in Input) ([]*active, []string) {
	entries := FoldDuplicates(in.Entries)
	scope := in.scope()

	removed := make(map[string]bool, len(in.Removed))
	for _, name := range in.Removed {
		removed[NormalizeName(name)] = true
	}
	configured := make(map[string]bool, len(entries))
	for _, e := range entries {
		configured[e.SimpleName()] = true
	}

	var actives []*active
	var requested []string
	for idx, e := range entries {
		name := e.SimpleName()
		if removed[e.Key()] {
			droppedPlugins.WithLabelValues(DropRemoved).Inc()
			r.logger.DebugContext(ctx, "skipping removed plugin", "plugin", name)
			continue
		}

		impl, ok := r.lookup(e.Key(), in.Loaded)
		if !ok {
			droppedPlugins.WithLabelValues(DropUnknown).Inc()
			errutil.LogWarn(ctx, r.logger, "skipping unknown plugin", ErrUnknownPlugin(name))
			continue
		}

		cfgOverride, containerOverride := splitOverride(e.Override, configured, impl)
		cfg := asConfigMap(r.eval.Config(scope, MergeConfig(impl.Cfg, e.Cfg, cfgOverride)))

		if r.disabled(scope, impl, cfg) {
			droppedPlugins.WithLabelValues(DropDisabled).Inc()
			r.logger.DebugContext(ctx, "plugin disabled", "plugin", name)
			continue
		}
		if r.eval.Bool(scope, impl.Hide) {
			droppedPlugins.WithLabelValues(DropHidden).Inc()
			r.logger.DebugContext(ctx, "plugin hidden", "plugin", name)
			continue
		}

		if impl.Deferred() {
			if !impl.Enabled(in.Monitored) {
				droppedPlugins.WithLabelValues(DropNotEnabled).Inc()
				continue
			}
			droppedPlugins.WithLabelValues(DropDeferred).Inc()
			requested = append(requested, name)
			if r.requester != nil {
				r.requester.RequestLoad(name)
			}
			r.logger.DebugContext(ctx, "deferred plugin requested", "plugin", name)
			continue
		}

		actives = append(actives, &active{
			entry: e,
			impl:  impl,
			cfg:   cfg,
			cand:  r.candidate(scope, e, idx, impl, containerOverride),
		})
	}
	return actives, requested
}

// lookup prefers the registry and binds a loaded implementation to a
// deferred stub. Plugins only known from loading (extensions) come from
// loaded directly.
func (r *Resolver) lookup(key string, loaded map[string]*Implementation) (*Implementation, bool) {
	if impl, ok := r.registry.Lookup(key); ok {
		if impl.Deferred() {
			if l := loaded[key]; l != nil {
				return impl.WithLoaded(l), true
			}
		}
		return impl, true
	}
	l, ok := loaded[key]
	return l, ok && l != nil
}

// disabled applies disablePluginIf: cfg wins over the implementation and
// cfg.skipAutoDisable turns the check off.
func (r *Resolver) disabled(scope expr.Scope, impl *Implementation, cfg map[string]any) bool {
	if expr.Truthy(cfg["skipAutoDisable"]) {
		return false
	}
	if v, ok := cfg["disablePluginIf"]; ok && v != nil {
		return expr.Truthy(v)
	}
	return r.eval.Bool(scope, impl.DisablePluginIf)
}

// splitOverride separates container property overrides (keys naming a
// configured plugin or a declared container) from cfg overrides.
func splitOverride(override map[string]any, configured map[string]bool, impl *Implementation) (map[string]any, map[string]map[string]any) {
	if len(override) == 0 {
		return nil, nil
	}
	cfg := make(map[string]any, len(override))
	containers := make(map[string]map[string]any)
	for k, v := range override {
		props, isMap := v.(map[string]any)
		_, declared := impl.Containers[k]
		if isMap && (configured[SimpleName(k)] || declared) {
			containers[SimpleName(k)] = props
			continue
		}
		cfg[k] = v
	}
	return cfg, containers
}

func asConfigMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func (r *Resolver) candidate(scope expr.Scope, e ConfigEntry, idx int, impl *Implementation, overrides map[string]map[string]any) *Candidate {
	containers := make(map[string]ContainerSpec, len(impl.Containers)+len(overrides))
	for name, spec := range impl.Containers {
		containers[SimpleName(name)] = spec
	}
	for name, props := range overrides {
		containers[name] = applyContainerOverride(containers[name], props)
	}
	return &Candidate{
		Name:       e.SimpleName(),
		ID:         e.Identity(),
		Index:      idx,
		IsDefault:  e.Default(),
		Containers: containers,
		ShowIn:     r.nameList(scope, e.ShowIn),
		HideFrom:   r.nameList(scope, e.HideFrom),
	}
}

func applyContainerOverride(spec ContainerSpec, props map[string]any) ContainerSpec {
	spec.Props = maps.Clone(spec.Props)
	for k, v := range props {
		switch k {
		case "priority":
			if n, ok := asInt(v); ok {
				spec.Priority = n
			}
		case "position":
			if n, ok := asInt(v); ok {
				spec.Position = &n
			}
		case "doNotHide":
			spec.DoNotHide = expr.Truthy(v)
		case "impl":
			if s, ok := v.(string); ok && s != "" {
				spec.Impl = NamedComponent(s)
			}
		default:
			if spec.Props == nil {
				spec.Props = map[string]any{}
			}
			spec.Props[k] = v
		}
	}
	return spec
}

// nameList evaluates showIn/hideFrom. Nil stays nil (not configured).
func (r *Resolver) nameList(scope expr.Scope, raw any) []string {
	if raw == nil {
		return nil
	}
	v := r.eval.Handle(scope, raw)
	out := []string{}
	switch list := v.(type) {
	case []string:
		out = append(out, list...)
	case []any:
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
	case string:
		out = append(out, list)
	}
	return out
}

// build creates the descriptor for a placement and recurses into the
// plugins placed in its containers.
func (p *pass) build(pl Placement, ancestors []string) *Descriptor {
	a := p.byName[pl.Candidate.Name]
	if len(ancestors) >= MaxTreeDepth {
		droppedPlugins.WithLabelValues(DropCycle).Inc()
		errutil.LogWarn(p.ctx, p.r.logger, "plugin tree too deep", ErrCycle(a.cand.Name, ancestors))
		return nil
	}
	p.rendered[a.cand.Name] = true

	d := &Descriptor{
		ID:        a.cand.ID,
		Name:      a.cand.Name,
		Component: a.impl.Component,
		Impl:      a.impl,
		Cfg:       a.cfg,
		Container: pl.Container,
		Priority:  pl.Spec.Priority,
		Position:  pl.Spec.Position,
		DoNotHide: pl.Spec.DoNotHide,
		Props:     pl.Spec.Props,
	}
	if pl.Spec.Impl != nil {
		d.Component = pl.Spec.Impl
	}

	path := append(slices.Clone(ancestors), a.cand.Name)
	for _, child := range GetItems(a.cand, p.cands) {
		if slices.Contains(path, child.Candidate.Name) {
			droppedPlugins.WithLabelValues(DropCycle).Inc()
			errutil.LogWarn(p.ctx, p.r.logger, "dropping container cycle",
				ErrCycle(child.Candidate.Name, path))
			continue
		}
		if item := p.build(child, path); item != nil {
			d.Items = append(d.Items, item)
		}
	}
	return d
}
