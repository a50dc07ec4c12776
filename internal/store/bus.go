// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 MapShell Contributors

package store

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/mapshell/mapshell/pkg/errutil"
)

// DefaultEffectTimeout bounds a single effect processor run.
const DefaultEffectTimeout = 5 * time.Second

// Registration describes one owner's claim on an effect processor.
// Active is false while the processor is muted.
type Registration struct {
	Owner  string `json:"owner"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

type processor struct {
	name string
	epic Epic
}

// effectBus runs effect processors for every dispatched action. A processor
// name is registered once; later owners of the same name only add a
// listener. A processor is muted while none of its owners listen.
type effectBus struct {
	logger  *slog.Logger
	timeout time.Duration

	mu        sync.RWMutex
	procs     []*processor
	owners    map[string]map[string]struct{} // processor name -> owners
	listening map[string]map[string]struct{} // processor name -> listening owners

	// inflight counts running processors. It may grow while wait blocks.
	inflightMu sync.Mutex
	idle       *sync.Cond
	inflight   int
}

func newEffectBus(logger *slog.Logger, timeout time.Duration) *effectBus {
	b := &effectBus{
		logger:    logger,
		timeout:   timeout,
		owners:    make(map[string]map[string]struct{}),
		listening: make(map[string]map[string]struct{}),
	}
	b.idle = sync.NewCond(&b.inflightMu)
	return b
}

// add registers epics for owner and returns the names that created a new
// processor.
func (b *effectBus) add(owner string, epics map[string]Epic) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var added []string
	for _, name := range sortedKeys(epics) {
		epic := epics[name]
		if epic == nil {
			continue
		}
		if _, exists := b.owners[name]; !exists {
			b.procs = append(b.procs, &processor{name: name, epic: epic})
			b.owners[name] = make(map[string]struct{})
			b.listening[name] = make(map[string]struct{})
			added = append(added, name)
		}
		b.owners[name][owner] = struct{}{}
		b.listening[name][owner] = struct{}{}
	}
	b.updateGaugeLocked()
	return added
}

// reset drops every processor. In-flight runs complete but their output is
// discarded.
func (b *effectBus) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.procs = nil
	clear(b.owners)
	clear(b.listening)
	b.updateGaugeLocked()
}

// setListening mutes (listen=false) or unmutes every processor owned by owner.
func (b *effectBus) setListening(owner string, listen bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, owners := range b.owners {
		if _, ok := owners[owner]; !ok {
			continue
		}
		if listen {
			b.listening[name][owner] = struct{}{}
		} else {
			delete(b.listening[name], owner)
		}
	}
	b.updateGaugeLocked()
}

func (b *effectBus) isActive(name string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listening[name]) > 0
}

func (b *effectBus) registrations() []Registration {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var regs []Registration
	for _, p := range b.procs {
		active := len(b.listening[p.name]) > 0
		for _, owner := range slices.Sorted(maps.Keys(b.owners[p.name])) {
			regs = append(regs, Registration{Owner: owner, Name: p.name, Active: active})
		}
	}
	return regs
}

func (b *effectBus) updateGaugeLocked() {
	var active, muted float64
	for _, p := range b.procs {
		if len(b.listening[p.name]) > 0 {
			active++
		} else {
			muted++
		}
	}
	effectProcessors.WithLabelValues("active").Set(active)
	effectProcessors.WithLabelValues("muted").Set(muted)
}

// emit starts every active processor for action.
func (b *effectBus) emit(ctx context.Context, action Action, getState GetState, dispatch Dispatch) {
	b.mu.RLock()
	var running []*processor
	for _, p := range b.procs {
		if len(b.listening[p.name]) > 0 {
			running = append(running, p)
		}
	}
	b.mu.RUnlock()

	for _, p := range running {
		b.run(ctx, p, action, getState, dispatch)
	}
}

func (b *effectBus) run(ctx context.Context, p *processor, action Action, getState GetState, dispatch Dispatch) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)

	b.begin()
	go func() {
		defer b.end()
		defer cancel()

		out, err := p.epic(runCtx, action, getState)
		if err != nil {
			effectErrors.WithLabelValues(p.name).Inc()
			switch {
			case errors.Is(err, context.DeadlineExceeded):
				b.logger.Warn("effect processor timed out",
					"processor", p.name,
					"action", action.Type,
					"timeout", b.timeout.String())
			case errors.Is(err, context.Canceled):
				b.logger.Debug("effect processor canceled",
					"processor", p.name,
					"action", action.Type)
			default:
				errutil.LogError(ctx, b.logger, "effect processor failed",
					ErrEffectFailed(p.name, action.Type, err))
			}
			return
		}

		// Output produced while muted is suppressed.
		if len(out) == 0 || !b.isActive(p.name) {
			return
		}
		for _, next := range out {
			meta := maps.Clone(next.Meta)
			if meta == nil {
				meta = make(map[string]any, 1)
			}
			meta["origin"] = p.name
			next.Meta = meta
			dispatch(ctx, next)
		}
	}()
}

func (b *effectBus) begin() {
	b.inflightMu.Lock()
	b.inflight++
	b.inflightMu.Unlock()
}

func (b *effectBus) end() {
	b.inflightMu.Lock()
	b.inflight--
	if b.inflight == 0 {
		b.idle.Broadcast()
	}
	b.inflightMu.Unlock()
}

// wait blocks until no processor is running. Dispatches from other
// goroutines may start processors concurrently; wait then also covers them.
func (b *effectBus) wait() {
	b.inflightMu.Lock()
	for b.inflight > 0 {
		b.idle.Wait()
	}
	b.inflightMu.Unlock()
}
