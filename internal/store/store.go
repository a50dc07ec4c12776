// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package store

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// ActionReplace is dispatched after Replace swaps the reducer set.
const ActionReplace = "@@mapshell/REPLACE"

// Config is the reducer and effect set a store is built or augmented from.
type Config struct {
	// Owner names the plugin (or "app") the epics belong to.
	Owner      string
	Reducers   map[string]Reducer
	Epics      map[string]Epic
	State      map[string]any
	Middleware []Middleware
}

// Store holds the root state map. Each dispatch produces a new root map;
// slices a reducer did not change keep their identity.
type Store struct {
	logger *slog.Logger

	mu     sync.RWMutex
	state  map[string]any
	slices *sliceSet

	bus      *effectBus
	dispatch Dispatch

	subsMu  sync.Mutex
	subs    map[uint64]func(map[string]any)
	nextSub uint64

	closed atomic.Bool
}

// Option configures a Store.
type Option func(*storeOptions)

type storeOptions struct {
	logger  *slog.Logger
	timeout time.Duration
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *storeOptions) { o.logger = l }
}

// WithEffectTimeout bounds each effect processor run.
func WithEffectTimeout(d time.Duration) Option {
	return func(o *storeOptions) { o.timeout = d }
}

// New creates a store and dispatches ActionInit.
func New(cfg Config, opts ...Option) *Store {
	o := storeOptions{logger: slog.Default(), timeout: DefaultEffectTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	state := maps.Clone(cfg.State)
	if state == nil {
		state = make(map[string]any)
	}
	s := &Store{
		logger: o.logger,
		state:  state,
		slices: newSliceSet(cfg.Reducers),
		bus:    newEffectBus(o.logger, o.timeout),
		subs:   make(map[uint64]func(map[string]any)),
	}

	var d Dispatch = s.reduce
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		d = cfg.Middleware[i](d)
	}
	s.dispatch = d

	s.bus.add(ownerOrApp(cfg.Owner), cfg.Epics)
	s.Dispatch(context.Background(), Action{Type: ActionInit})
	return s
}

func ownerOrApp(owner string) string {
	if owner == "" {
		return "app"
	}
	return owner
}

// Dispatch sends action through the middleware chain, reduces it, notifies
// subscribers and starts active effect processors. Dispatch on a closed
// store is a no-op.
func (s *Store) Dispatch(ctx context.Context, action Action) {
	if s.closed.Load() {
		s.logger.Debug("dispatch on closed store dropped", "action", action.Type)
		return
	}
	s.dispatch(ctx, action)
}

func (s *Store) reduce(ctx context.Context, action Action) {
	s.mu.Lock()
	next := s.slices.reduce(s.state, action)
	s.state = next
	s.mu.Unlock()

	s.notify(next)
	s.bus.emit(ctx, action, s.GetState, s.Dispatch)
}

// GetState returns the current root map. Callers must not mutate it.
func (s *Store) GetState() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Subscribe registers fn to receive every new root state. The returned
// function removes the subscription.
func (s *Store) Subscribe(fn func(state map[string]any)) func() {
	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subsMu.Unlock()

	return func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
}

func (s *Store) notify(state map[string]any) {
	s.subsMu.Lock()
	fns := make([]func(map[string]any), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// AddReducer registers a reducer for slice name. An already registered
// name is left untouched and AddReducer reports false.
func (s *Store) AddReducer(name string, r Reducer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slices.add(name, r)
}

// RemoveReducer unregisters a reducer. The slice is removed from the root
// state on the next dispatch.
func (s *Store) RemoveReducer(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slices.remove(name)
}

// HasReducer reports whether name has a reducer.
func (s *Store) HasReducer(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slices.has(name)
}

// Reducers returns the registered slice names in registration order.
func (s *Store) Reducers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slices.names()
}

// AddEpics registers effect processors for owner and returns the names
// that created a new processor. Names that already exist gain owner as an
// additional listener.
func (s *Store) AddEpics(owner string, epics map[string]Epic) []string {
	return s.bus.add(ownerOrApp(owner), epics)
}

// MuteEpics stops owner from listening on its processors. A processor is
// muted once none of its owners listen.
func (s *Store) MuteEpics(owner string) {
	s.bus.setListening(owner, false)
}

// UnmuteEpics makes owner listen on its processors again.
func (s *Store) UnmuteEpics(owner string) {
	s.bus.setListening(owner, true)
}

// Registrations lists every owner/processor pair in registration order.
func (s *Store) Registrations() []Registration {
	return s.bus.registrations()
}

// Replace swaps the complete reducer and processor set. Slices whose
// reducer disappears are removed; other state is kept.
func (s *Store) Replace(ctx context.Context, cfg Config) {
	next := newSliceSet(cfg.Reducers)
	s.mu.Lock()
	for _, name := range s.slices.names() {
		if !next.has(name) {
			next.dropped[name] = struct{}{}
		}
	}
	s.slices = next
	s.mu.Unlock()

	s.bus.reset()
	s.bus.add(ownerOrApp(cfg.Owner), cfg.Epics)
	s.Dispatch(ctx, Action{Type: ActionReplace})
}

// Augment adds reducers and processors without discarding state, then
// dispatches ActionReducersLoaded with the injected reducer names. Names
// that are already registered are skipped.
func (s *Store) Augment(ctx context.Context, cfg Config) []string {
	var injected []string
	s.mu.Lock()
	for _, name := range sortedKeys(cfg.Reducers) {
		if s.slices.add(name, cfg.Reducers[name]) {
			injected = append(injected, name)
		}
	}
	s.mu.Unlock()

	s.bus.add(ownerOrApp(cfg.Owner), cfg.Epics)
	s.Dispatch(ctx, Action{Type: ActionReducersLoaded, Payload: injected})
	return injected
}

// Wait blocks until every in-flight effect processor has finished,
// including the ones started by their follow-up actions.
func (s *Store) Wait() {
	s.bus.wait()
}

// Close stops accepting dispatches and waits for in-flight processors.
func (s *Store) Close() {
	s.closed.Store(true)
	s.bus.wait()
}

// LoggingMiddleware logs every action at debug level.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next Dispatch) Dispatch {
		return func(ctx context.Context, action Action) {
			logger.DebugContext(ctx, "dispatch", "action", action.Type)
			next(ctx, action)
		}
	}
}
