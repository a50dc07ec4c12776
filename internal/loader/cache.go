// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

// Package loader resolves deferred plugin implementations in prioritized
// batches, memoizes them in a cache owned by the runtime, and folds their
// reducers and effect processors into the running store exactly once.
package loader

import (
	"maps"
	"slices"
	"sync"

	"github.com/mapshell/mapshell/internal/plugin"
	"github.com/mapshell/mapshell/internal/store"
)

// Status is the state of a cache entry.
type Status string

// Cache entry states. An entry only ever moves from pending to loaded or
// error.
const (
	StatusPending Status = "pending"
	StatusLoaded  Status = "loaded"
	StatusError   Status = "error"
)

// CacheEntry is the memoized outcome of loading one plugin.
type CacheEntry struct {
	Name   string                 `json:"name"`
	Status Status                 `json:"status"`
	Impl   *plugin.Implementation `json:"-"`
	Err    error                  `json:"-"`
}

// Cache is keyed by normalized plugin name. Entries are never demoted and
// only Uninstall deletes them.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*CacheEntry
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*CacheEntry)}
}

// Get returns a copy of the entry for name.
func (c *Cache) Get(name string) (CacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[plugin.NormalizeName(name)]
	if !ok {
		return CacheEntry{}, false
	}
	return *e, true
}

// Settled reports whether name is loaded or failed.
func (c *Cache) Settled(name string) bool {
	e, ok := c.Get(name)
	return ok && e.Status != StatusPending
}

// markPending creates a pending entry. It reports false if any entry
// already exists.
func (c *Cache) markPending(name string) bool {
	key := plugin.NormalizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; exists {
		return false
	}
	c.entries[key] = &CacheEntry{Name: plugin.SimpleName(name), Status: StatusPending}
	return true
}

// settle moves a pending entry to loaded or error. Settled entries are left
// untouched so concurrent batches converge on the first result.
func (c *Cache) settle(name string, impl *plugin.Implementation, err error) {
	key := plugin.NormalizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		e = &CacheEntry{Name: plugin.SimpleName(name), Status: StatusPending}
		c.entries[key] = e
	}
	if e.Status != StatusPending {
		return
	}
	if err != nil {
		e.Status, e.Err = StatusError, err
		return
	}
	e.Status, e.Impl = StatusLoaded, impl
}

// Loaded returns every loaded implementation keyed by normalized name.
func (c *Cache) Loaded() map[string]*plugin.Implementation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]*plugin.Implementation, len(c.entries))
	for key, e := range c.entries {
		if e.Status == StatusLoaded {
			out[key] = e.Impl
		}
	}
	return out
}

// Entries returns a copy of every entry sorted by name.
func (c *Cache) Entries() []CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]CacheEntry, 0, len(c.entries))
	for _, key := range slices.Sorted(maps.Keys(c.entries)) {
		out = append(out, *c.entries[key])
	}
	return out
}

// Pending reports whether any entry is still loading.
func (c *Cache) Pending() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entries {
		if e.Status == StatusPending {
			return true
		}
	}
	return false
}

// Uninstall deletes the entry for name and reports whether one existed.
func (c *Cache) Uninstall(name string) bool {
	key := plugin.NormalizeName(name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// InjectedSet remembers which reducer and effect processor names were
// already folded into the store, across every loader sharing it.
type InjectedSet struct {
	mu       sync.Mutex
	reducers map[string]struct{}
	epics    map[string]struct{}
}

// NewInjectedSet creates an empty set.
func NewInjectedSet() *InjectedSet {
	return &InjectedSet{
		reducers: make(map[string]struct{}),
		epics:    make(map[string]struct{}),
	}
}

// claim returns the reducers and epics of impl not injected before and
// marks them injected.
func (s *InjectedSet) claim(impl *plugin.Implementation) (map[string]store.Reducer, map[string]store.Epic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reducers := make(map[string]store.Reducer)
	for name, r := range impl.Reducers {
		if _, done := s.reducers[name]; done {
			continue
		}
		s.reducers[name] = struct{}{}
		reducers[name] = r
	}
	epics := make(map[string]store.Epic)
	for name, e := range impl.Epics {
		if _, done := s.epics[name]; done {
			continue
		}
		s.epics[name] = struct{}{}
		epics[name] = e
	}
	return reducers, epics
}

// Reducers returns the injected reducer names, sorted.
func (s *InjectedSet) Reducers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.reducers))
}
